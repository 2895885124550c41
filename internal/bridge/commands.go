package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/memohai/wxbridge/internal/channel"
	"github.com/memohai/wxbridge/internal/puppet"
	"github.com/memohai/wxbridge/internal/state"
)

// handleMessage is the session-side entry for every tenant message.
func (s *Session) handleMessage(ctx context.Context, msg channel.InboundMessage) {
	if msg.Callback != nil {
		s.handleCallback(ctx, msg)
		return
	}
	if name, args, ok := msg.Command(); ok {
		if s.handleCommand(ctx, name, args, msg) {
			return
		}
	}
	if !s.requireLogin(ctx) {
		return
	}
	s.relayOutbound(ctx, msg)
}

func (s *Session) requireLogin(ctx context.Context) bool {
	if s.authenticated() {
		return true
	}
	_, _ = s.reply(ctx, s.svc.catalog.NoSession)
	return false
}

func (s *Session) handleCallback(ctx context.Context, msg channel.InboundMessage) {
	if !s.requireLogin(ctx) {
		return
	}
	action, raw, _ := strings.Cut(msg.Callback.Data, ":")
	seq, err := strconv.Atoi(raw)
	if err != nil {
		s.logger.Debug("ignoring callback", slog.String("data", msg.Callback.Data))
		return
	}
	name := ""
	for key, pending := range s.pendingFriends {
		if pending.seq == seq {
			name = key
			break
		}
	}
	if name == "" {
		_, _ = s.reply(ctx, s.svc.catalog.NoPendingFriend)
		return
	}
	switch action {
	case "agree":
		s.cmdAgree(ctx, name)
	case "disagree":
		s.cmdDisagree(ctx, name)
	}
}

// handleCommand runs a bridge command and reports whether name was one.
func (s *Session) handleCommand(ctx context.Context, name, args string, msg channel.InboundMessage) bool {
	cat := s.svc.catalog
	switch name {
	case "start":
		_, _ = s.reply(ctx, cat.Welcome)
	case "help":
		_, _ = s.reply(ctx, cat.Help)
	case "login":
		s.login(ctx)
	case "logout":
		s.teardown(ctx, true, true, StateLoggedOut)
		_, _ = s.reply(ctx, cat.Bye)
	case "stop":
		s.teardown(ctx, false, false, StateStopped)
		_, _ = s.reply(ctx, cat.Stopped)
	case "uptime":
		s.cmdUptime(ctx)
	case "groupon", "groupoff", "officialon", "officialoff", "selfon", "selfoff":
		s.cmdToggle(ctx, name)
	default:
		if !s.knownCommand(name) {
			return false
		}
		if !s.requireLogin(ctx) {
			return true
		}
		s.handleLoggedInCommand(ctx, name, args, msg)
	}
	return true
}

func (s *Session) knownCommand(name string) bool {
	switch name {
	case "find", "lock", "unlock", "findandlock", "current", "agree", "disagree", "acceptroom",
		"forward", "mute", "unmute", "soundonly", "nameonly", "quitroom":
		return true
	}
	return false
}

func (s *Session) handleLoggedInCommand(ctx context.Context, name, args string, msg channel.InboundMessage) {
	switch name {
	case "find":
		s.cmdFind(ctx, args)
	case "lock":
		s.cmdLock(ctx, msg)
	case "unlock":
		s.cmdUnlock(ctx)
	case "findandlock":
		if _, ok := s.cmdFind(ctx, args); ok {
			s.lockCurrent(ctx)
		}
	case "current":
		s.cmdCurrent(ctx)
	case "agree":
		s.cmdAgree(ctx, args)
	case "disagree":
		s.cmdDisagree(ctx, args)
	case "acceptroom":
		s.cmdAcceptRoom(ctx)
	case "forward":
		s.cmdForward(ctx, args, msg)
	case "mute":
		s.cmdMute(ctx, msg)
	case "unmute":
		s.cmdUnmute(ctx, args)
	case "soundonly":
		s.cmdSoundOnly(ctx, msg)
	case "nameonly":
		s.cmdNameOnly(ctx, msg)
	case "quitroom":
		s.cmdQuitRoom(ctx, msg)
	}
}

func (s *Session) cmdToggle(ctx context.Context, name string) {
	switch name {
	case "groupon":
		s.policy.ReceiveGroups = true
	case "groupoff":
		s.policy.ReceiveGroups = false
	case "officialon":
		s.policy.ReceiveOfficial = true
	case "officialoff":
		s.policy.ReceiveOfficial = false
	case "selfon":
		s.policy.ReceiveSelf = true
	case "selfoff":
		s.policy.ReceiveSelf = false
	}
	_, _ = s.reply(ctx, s.svc.catalog.OK)
}

func (s *Session) cmdUptime(ctx context.Context) {
	started := s.svc.startedAt
	elapsed := strings.TrimSpace(humanize.RelTime(started, s.svc.now(), "", ""))
	text := fmt.Sprintf("<code>%s  [%s]</code>", started.Format(time.RFC3339), elapsed)
	_, _ = s.replyHTML(ctx, text, s.links.FirstID())
}

func (s *Session) cmdFind(ctx context.Context, pattern string) (puppet.Peer, bool) {
	cat := s.svc.catalog
	if strings.TrimSpace(pattern) == "" {
		_, _ = s.reply(ctx, cat.FindUsage)
		return puppet.Peer{}, false
	}
	peer, ok, err := s.resolver.Resolve(ctx, pattern)
	if err != nil {
		s.logger.Warn("contact lookup failed", slog.String("pattern", pattern), slog.Any("error", err))
	}
	if !ok {
		_, _ = s.reply(ctx, cat.ContactNotFound)
		return puppet.Peer{}, false
	}
	s.links.SetCurrent(peer)
	sent, err := s.reply(ctx, fmt.Sprintf(cat.ContactFound, peer.DisplayName())+s.lockedSuffix())
	if err == nil {
		s.record(ctx, sent.MessageID, peer, nil)
	}
	s.persistRecent()
	return peer, true
}

func (s *Session) cmdLock(ctx context.Context, msg channel.InboundMessage) {
	if msg.Reply != nil {
		if link, ok := s.links.Resolve(msg.Reply.MessageID); ok {
			s.links.SetCurrent(link.Peer)
		}
	}
	s.lockCurrent(ctx)
}

func (s *Session) lockCurrent(ctx context.Context) {
	cat := s.svc.catalog
	current := s.links.Current()
	if current.IsZero() {
		_, _ = s.reply(ctx, cat.NoCurrentContact)
		return
	}
	s.links.Lock()
	s.persistRecent()
	_, _ = s.reply(ctx, fmt.Sprintf(cat.ContactLocked, current.DisplayName()))
}

func (s *Session) cmdUnlock(ctx context.Context) {
	cat := s.svc.catalog
	current := s.links.Current()
	if current.IsZero() {
		_, _ = s.reply(ctx, cat.NoCurrentContact)
		return
	}
	s.links.Unlock()
	s.persistRecent()
	_, _ = s.reply(ctx, fmt.Sprintf(cat.ContactUnlocked, current.DisplayName()))
}

func (s *Session) cmdCurrent(ctx context.Context) {
	cat := s.svc.catalog
	current := s.links.Current()
	if current.IsZero() {
		_, _ = s.reply(ctx, cat.NoCurrentContact)
		return
	}
	sent, err := s.reply(ctx, fmt.Sprintf(cat.Current, current.DisplayName())+s.lockedSuffix())
	if err == nil {
		s.record(ctx, sent.MessageID, current, nil)
	}
}

// pendingFriend picks a buffered friend request by name. With no name and a
// single pending request, that request is picked.
func (s *Session) pendingFriend(ctx context.Context, name, usage string) (string, pendingFriend, bool) {
	cat := s.svc.catalog
	if len(s.pendingFriends) == 0 {
		_, _ = s.reply(ctx, cat.NoPendingFriend)
		return "", pendingFriend{}, false
	}
	key := friendKey(name)
	if key == "" {
		if len(s.pendingFriends) == 1 {
			for k, p := range s.pendingFriends {
				return k, p, true
			}
		}
		_, _ = s.reply(ctx, usage)
		return "", pendingFriend{}, false
	}
	p, ok := s.pendingFriends[key]
	if !ok {
		_, _ = s.reply(ctx, cat.ContactNotFound)
		return "", pendingFriend{}, false
	}
	return key, p, true
}

func (s *Session) cmdAgree(ctx context.Context, name string) {
	cat := s.svc.catalog
	key, p, ok := s.pendingFriend(ctx, name, cat.AgreeUsage)
	if !ok {
		return
	}
	if err := s.client.AcceptFriend(ctx, p.request.ID); err != nil {
		s.logger.Warn("accept friend failed", slog.Any("error", err))
		_, _ = s.reply(ctx, cat.SendingFailed)
		return
	}
	delete(s.pendingFriends, key)
	_, _ = s.reply(ctx, cat.OK)
}

func (s *Session) cmdDisagree(ctx context.Context, name string) {
	key, _, ok := s.pendingFriend(ctx, name, s.svc.catalog.DisagreeUsage)
	if !ok {
		return
	}
	delete(s.pendingFriends, key)
	_, _ = s.reply(ctx, s.svc.catalog.OK)
}

func (s *Session) cmdAcceptRoom(ctx context.Context) {
	cat := s.svc.catalog
	inv := s.lastInvitation
	if inv == nil {
		_, _ = s.reply(ctx, cat.NoRoomInvitation)
		return
	}
	if err := s.client.AcceptRoom(ctx, inv.ID); err != nil {
		s.logger.Warn("accept room invitation failed", slog.Any("error", err))
		_, _ = s.reply(ctx, cat.SendingFailed)
		return
	}
	s.lastInvitation = nil
	_, _ = s.reply(ctx, fmt.Sprintf(cat.RoomAccepted, inv.Topic))
}

func (s *Session) cmdForward(ctx context.Context, pattern string, msg channel.InboundMessage) {
	cat := s.svc.catalog
	if msg.Reply == nil {
		_, _ = s.reply(ctx, cat.NoQuoteMessage)
		return
	}
	link, ok := s.links.Resolve(msg.Reply.MessageID)
	if !ok || link.Source == nil {
		_, _ = s.reply(ctx, cat.NoQuoteMessage)
		return
	}
	target := s.links.Current()
	if strings.TrimSpace(pattern) != "" {
		peer, found, err := s.resolver.Resolve(ctx, pattern)
		if err != nil {
			s.logger.Warn("contact lookup failed", slog.String("pattern", pattern), slog.Any("error", err))
		}
		if !found {
			_, _ = s.reply(ctx, cat.ContactNotFound)
			return
		}
		target = peer
	}
	if target.IsZero() {
		_, _ = s.reply(ctx, cat.NoCurrentContact)
		return
	}
	if err := s.client.Forward(ctx, link.Source.ID, target); err != nil {
		s.logger.Warn("forward failed", slog.Any("error", err))
		_, _ = s.replyTo(ctx, cat.SendingFailed, msg.Reply.MessageID)
		return
	}
	_, _ = s.replyTo(ctx, fmt.Sprintf(cat.MsgForward, target.DisplayName()), msg.Reply.MessageID)
}

// policyTarget names the peer a mute-style command applies to: the replied
// message's peer, else the current contact.
func (s *Session) policyTarget(msg channel.InboundMessage) string {
	if msg.Reply != nil {
		if link, ok := s.links.Resolve(msg.Reply.MessageID); ok {
			return link.Peer.Name()
		}
	}
	return s.links.Current().Name()
}

func (s *Session) cmdMute(ctx context.Context, msg channel.InboundMessage) {
	cat := s.svc.catalog
	name := s.policyTarget(msg)
	if name == "" {
		_, _ = s.reply(ctx, cat.NoQuoteMessage)
		return
	}
	if list, added := addUnique(s.policy.Mutes, name); added {
		s.policy.Mutes = list
		s.persist(state.Patch{MuteList: cloneList(list)})
	}
	_, _ = s.reply(ctx, fmt.Sprintf(cat.MuteRoom, name))
}

func (s *Session) cmdUnmute(ctx context.Context, name string) {
	cat := s.svc.catalog
	name = strings.TrimSpace(name)
	if name == "" {
		removed := strings.Join(s.policy.Mutes, ", ")
		s.policy.Mutes = nil
		s.persist(state.Patch{MuteList: []string{}})
		_, _ = s.reply(ctx, fmt.Sprintf(cat.UnmuteRoom, removed))
		return
	}
	kept := make([]string, 0, len(s.policy.Mutes))
	for _, muted := range s.policy.Mutes {
		if muted != name {
			kept = append(kept, muted)
		}
	}
	if len(kept) == len(s.policy.Mutes) {
		_, _ = s.reply(ctx, cat.ContactNotFound)
		return
	}
	s.policy.Mutes = kept
	s.persist(state.Patch{MuteList: cloneList(kept)})
	_, _ = s.reply(ctx, fmt.Sprintf(cat.UnmuteRoom, name))
}

func (s *Session) cmdSoundOnly(ctx context.Context, msg channel.InboundMessage) {
	cat := s.svc.catalog
	name := s.policyTarget(msg)
	if name == "" {
		_, _ = s.reply(ctx, cat.NoQuoteMessage)
		return
	}
	if list, added := addUnique(s.policy.SoundOnly, name); added {
		s.policy.SoundOnly = list
		s.persist(state.Patch{SoundOnly: cloneList(list)})
	}
	_, _ = s.reply(ctx, fmt.Sprintf(cat.SoundOnlyRoom, name))
}

func (s *Session) cmdNameOnly(ctx context.Context, msg channel.InboundMessage) {
	cat := s.svc.catalog
	var src *puppet.Message
	if msg.Reply != nil {
		if link, ok := s.links.Resolve(msg.Reply.MessageID); ok {
			src = link.Source
		}
	}
	if src == nil || !src.InRoom() {
		_, _ = s.reply(ctx, cat.NoQuoteMessage)
		return
	}
	topic, sender := src.Room.Topic, src.Talker.Name
	if list, added := addUnique(s.policy.NameOnly[topic], sender); added {
		s.policy.NameOnly[topic] = list
		s.persist(state.Patch{NamesOnly: cloneNameOnly(s.policy.NameOnly)})
	}
	_, _ = s.reply(ctx, fmt.Sprintf(cat.NameOnly, sender))
}

func (s *Session) cmdQuitRoom(ctx context.Context, msg channel.InboundMessage) {
	cat := s.svc.catalog
	replyTo := 0
	if msg.Reply != nil {
		replyTo = msg.Reply.MessageID
	}
	target, _ := s.links.Target(replyTo)
	if !target.IsGroup() {
		_, _ = s.reply(ctx, cat.NotGroup)
		return
	}
	if err := s.client.QuitRoom(ctx, target.Room.ID); err != nil {
		s.logger.Warn("quit room failed", slog.Any("error", err))
		_, _ = s.reply(ctx, cat.SendingFailed)
		return
	}
	if s.links.Current().Same(target) {
		s.links.SetCurrent(puppet.Peer{})
		s.links.Unlock()
	}
	_, _ = s.reply(ctx, fmt.Sprintf(cat.QuitRoom, target.Room.Topic))
}

// record maps a controller message to a peer and deletes the controller
// messages that fell out of the retention window.
func (s *Session) record(ctx context.Context, messageID int, peer puppet.Peer, src *puppet.Message) {
	for _, evicted := range s.links.Record(messageID, peer, src) {
		s.unsend(ctx, evicted)
	}
}
