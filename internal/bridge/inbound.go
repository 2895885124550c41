package bridge

import (
	"context"
	"log/slog"
	"strings"

	"github.com/memohai/wxbridge/internal/channel"
	"github.com/memohai/wxbridge/internal/media"
	"github.com/memohai/wxbridge/internal/metrics"
	"github.com/memohai/wxbridge/internal/puppet"
	"github.com/memohai/wxbridge/internal/render"
)

func (s *Session) envelope(msg puppet.Message) Envelope {
	env := Envelope{
		SenderName: msg.Talker.Name,
		Self:       msg.Self || (s.identity != nil && msg.Talker.ID == s.identity.ID),
		Official:   msg.Talker.Official,
		InGroup:    msg.InRoom(),
		Audio:      msg.Type == puppet.MessageAudio,
	}
	if env.InGroup {
		env.Group = msg.Room.Topic
	}
	return env
}

// relayInbound filters, renders and delivers one content-source message to
// the tenant, then records the bridge link.
func (s *Session) relayInbound(ctx context.Context, msg puppet.Message) {
	verdict := s.policy.Evaluate(s.envelope(msg))
	if !verdict.Relay {
		metrics.MessagesFilteredTotal.WithLabelValues(verdict.Reason).Inc()
		return
	}

	peer := puppet.PersonPeer(msg.Talker)
	if msg.InRoom() {
		peer = puppet.GroupPeer(*msg.Room)
	}
	mark := ""
	if current := s.links.Current(); s.links.Locked() && !current.IsGroup() && current.Contact.ID == msg.Talker.ID {
		mark = s.svc.catalog.LockedMark
	}
	nickname := render.Nickname(msg, mark)

	out, ok := s.renderInbound(ctx, msg, nickname)
	if !ok {
		return
	}
	sent, err := s.send(ctx, out)
	if err != nil {
		return
	}
	metrics.MessagesRelayedTotal.WithLabelValues("inbound", string(msg.Type)).Inc()

	before := s.links.Current()
	s.record(ctx, sent.MessageID, peer, &msg)
	if !s.links.Locked() && !before.Same(s.links.Current()) {
		s.persistRecent()
	}
}

func (s *Session) renderInbound(ctx context.Context, msg puppet.Message, nickname string) (channel.Message, bool) {
	cat := s.svc.catalog
	if render.IsFriendRecommendation(nickname) {
		if apply, err := render.ParseFriendApply(msg.Text); err == nil {
			return s.cardMessage(apply.Avatar, render.FriendApplyCaption(cat, apply)), true
		}
	}

	switch msg.Type {
	case puppet.MessageText:
		return s.renderText(msg, nickname)
	case puppet.MessageAttachment, puppet.MessageURL:
		app, err := render.ParseAppMsg(msg.Text)
		if err != nil {
			s.logger.Debug("unparsable appmsg", slog.Any("error", err))
			return channel.Message{}, false
		}
		return htmlMessage(render.Message(nickname, render.RenderAppMsg(app, msg.Talker.Official))), true
	case puppet.MessageContact:
		card, err := render.ParseContactCard(msg.Text)
		if err != nil {
			s.logger.Debug("unparsable contact card", slog.Any("error", err))
			return channel.Message{}, false
		}
		return s.cardMessage(card.Avatar, render.ContactCardCaption(cat, card, nickname)), true
	case puppet.MessageAudio:
		return s.renderFile(ctx, msg, nickname, channel.AttachmentVoice)
	case puppet.MessageImage, puppet.MessageEmoticon:
		return s.renderFile(ctx, msg, nickname, channel.AttachmentImage)
	case puppet.MessageVideo:
		return s.renderFile(ctx, msg, nickname, channel.AttachmentVideo)
	default:
		if msg.InRoom() {
			return channel.Message{}, false
		}
		return htmlMessage(render.Message(nickname, render.Text(cat.NotSupportedMsg))), true
	}
}

func (s *Session) renderText(msg puppet.Message, nickname string) (channel.Message, bool) {
	raw := msg.Text
	if strings.TrimSpace(raw) == "" {
		return channel.Message{}, false
	}
	if render.IsXML(raw) {
		if card, err := render.ParseContactCard(raw); err == nil {
			return s.cardMessage(card.Avatar, render.ContactCardCaption(s.svc.catalog, card, nickname)), true
		}
	}
	plain := render.PlainText(raw)
	if msg.InRoom() {
		if render.IsBanNotification(plain) {
			return channel.Message{}, false
		}
		plain = render.TruncateChain(plain)
	}
	return htmlMessage(render.Message(nickname, render.Text(plain))), true
}

func (s *Session) renderFile(ctx context.Context, msg puppet.Message, nickname string, kind channel.AttachmentType) (channel.Message, bool) {
	file, err := s.client.MessageFile(ctx, msg.ID)
	if err != nil {
		s.logger.Warn("fetch message file failed", slog.String("message_id", msg.ID), slog.Any("error", err))
		return channel.Message{}, false
	}
	att := channel.Attachment{
		Type:    kind,
		Name:    file.Name,
		Mime:    file.Mime,
		Size:    int64(file.Size()),
		Data:    file.Data,
		Caption: nickname,
	}
	switch {
	case kind == channel.AttachmentVoice:
		att.DurationSec = media.VoiceDurationSeconds(file.Size())
	case kind == channel.AttachmentImage && (media.IsGIF(file.Name) || file.Mime == "image/gif"):
		att.Type = channel.AttachmentGIF
	}
	return channel.Message{Format: channel.MessageFormatPlain, Attachments: []channel.Attachment{att}}, true
}

// cardMessage sends a caption under the avatar when one is known.
func (s *Session) cardMessage(avatar, caption string) channel.Message {
	if strings.TrimSpace(avatar) == "" {
		return channel.Message{Format: channel.MessageFormatPlain, Text: caption}
	}
	return channel.Message{
		Format: channel.MessageFormatPlain,
		Attachments: []channel.Attachment{{
			Type:    channel.AttachmentImage,
			URL:     avatar,
			Caption: caption,
		}},
	}
}

func htmlMessage(text string) channel.Message {
	return channel.Message{Format: channel.MessageFormatHTML, Text: text}
}
