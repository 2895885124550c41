package bridge

import "slices"

// Filter reasons reported in Verdict.Reason and the filtered-messages metric.
const (
	ReasonSelf      = "self"
	ReasonOfficial  = "official"
	ReasonGroup     = "group"
	ReasonMute      = "mute"
	ReasonSoundOnly = "sound_only"
	ReasonNameOnly  = "name_only"
)

// Policy is a tenant's inbound filtering configuration.
type Policy struct {
	ReceiveSelf     bool
	ReceiveOfficial bool
	ReceiveGroups   bool
	Mutes           []string
	SoundOnly       []string
	NameOnly        map[string][]string
}

// DefaultPolicy receives groups and official accounts but not self messages.
func DefaultPolicy() Policy {
	return Policy{
		ReceiveGroups:   true,
		ReceiveOfficial: true,
		NameOnly:        map[string][]string{},
	}
}

// Envelope is the part of an inbound event the policy looks at.
type Envelope struct {
	SenderName string
	Self       bool
	Official   bool
	InGroup    bool
	Group      string
	Audio      bool
}

// Verdict is the outcome of Evaluate. Reason is empty when Relay is true.
type Verdict struct {
	Relay  bool
	Reason string
}

func drop(reason string) Verdict { return Verdict{Reason: reason} }

// Evaluate applies, in order: self, official, group, mute, sound-only and
// name-only checks. The first failing check decides.
func (p Policy) Evaluate(env Envelope) Verdict {
	if env.Self && !p.ReceiveSelf {
		return drop(ReasonSelf)
	}
	if env.Official && !p.ReceiveOfficial {
		return drop(ReasonOfficial)
	}
	if env.InGroup && !p.ReceiveGroups {
		return drop(ReasonGroup)
	}
	muteKey := env.SenderName
	if env.InGroup {
		muteKey = env.Group
	}
	if muteKey != "" && slices.Contains(p.Mutes, muteKey) {
		return drop(ReasonMute)
	}
	if env.InGroup && slices.Contains(p.SoundOnly, env.Group) && !env.Audio {
		return drop(ReasonSoundOnly)
	}
	if env.InGroup {
		if allowed := p.NameOnly[env.Group]; len(allowed) > 0 && !slices.Contains(allowed, env.SenderName) {
			return drop(ReasonNameOnly)
		}
	}
	return Verdict{Relay: true}
}

// addUnique appends value when absent and reports whether it was added.
func addUnique(list []string, value string) ([]string, bool) {
	if slices.Contains(list, value) {
		return list, false
	}
	return append(list, value), true
}

func cloneList(list []string) []string {
	return append([]string{}, list...)
}

func cloneNameOnly(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = cloneList(v)
	}
	return out
}
