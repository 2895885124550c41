package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPolicyEvaluateOrder(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		policy Policy
		env    Envelope
		want   Verdict
	}{
		{
			name:   "self dropped by default",
			policy: DefaultPolicy(),
			env:    Envelope{SenderName: "me", Self: true},
			want:   Verdict{Reason: ReasonSelf},
		},
		{
			name:   "self received when enabled",
			policy: Policy{ReceiveSelf: true},
			env:    Envelope{SenderName: "me", Self: true},
			want:   Verdict{Relay: true},
		},
		{
			name:   "official dropped",
			policy: Policy{ReceiveGroups: true},
			env:    Envelope{SenderName: "news", Official: true},
			want:   Verdict{Reason: ReasonOfficial},
		},
		{
			name:   "group dropped",
			policy: Policy{ReceiveOfficial: true},
			env:    Envelope{SenderName: "bob", InGroup: true, Group: "family"},
			want:   Verdict{Reason: ReasonGroup},
		},
		{
			name:   "direct message muted by sender",
			policy: Policy{Mutes: []string{"bob"}},
			env:    Envelope{SenderName: "bob"},
			want:   Verdict{Reason: ReasonMute},
		},
		{
			name: "mute wins over sound-only and name-only",
			policy: Policy{
				ReceiveGroups: true,
				Mutes:         []string{"family"},
				SoundOnly:     []string{"family"},
				NameOnly:      map[string][]string{"family": {"bob"}},
			},
			env:  Envelope{SenderName: "bob", InGroup: true, Group: "family", Audio: true},
			want: Verdict{Reason: ReasonMute},
		},
		{
			name:   "sound-only drops text",
			policy: Policy{ReceiveGroups: true, SoundOnly: []string{"family"}},
			env:    Envelope{SenderName: "bob", InGroup: true, Group: "family"},
			want:   Verdict{Reason: ReasonSoundOnly},
		},
		{
			name:   "sound-only keeps audio",
			policy: Policy{ReceiveGroups: true, SoundOnly: []string{"family"}},
			env:    Envelope{SenderName: "bob", InGroup: true, Group: "family", Audio: true},
			want:   Verdict{Relay: true},
		},
		{
			name:   "name-only drops others",
			policy: Policy{ReceiveGroups: true, NameOnly: map[string][]string{"family": {"alice"}}},
			env:    Envelope{SenderName: "bob", InGroup: true, Group: "family"},
			want:   Verdict{Reason: ReasonNameOnly},
		},
		{
			name:   "name-only keeps listed sender",
			policy: Policy{ReceiveGroups: true, NameOnly: map[string][]string{"family": {"alice"}}},
			env:    Envelope{SenderName: "alice", InGroup: true, Group: "family"},
			want:   Verdict{Relay: true},
		},
		{
			name:   "empty name-only set allows everyone",
			policy: Policy{ReceiveGroups: true, NameOnly: map[string][]string{"family": {}}},
			env:    Envelope{SenderName: "bob", InGroup: true, Group: "family"},
			want:   Verdict{Relay: true},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, tc.policy.Evaluate(tc.env))
		})
	}
}

func TestAddUnique(t *testing.T) {
	t.Parallel()

	list, added := addUnique(nil, "a")
	assert.True(t, added)
	list, added = addUnique(list, "a")
	assert.False(t, added)
	assert.Equal(t, []string{"a"}, list)
}
