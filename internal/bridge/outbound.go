package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/memohai/wxbridge/internal/channel"
	"github.com/memohai/wxbridge/internal/media"
	"github.com/memohai/wxbridge/internal/metrics"
	"github.com/memohai/wxbridge/internal/puppet"
)

// target resolves where a tenant message goes: the peer of the replied
// bridged message, else the current contact.
func (s *Session) target(msg channel.InboundMessage) (puppet.Peer, error) {
	replyTo := 0
	if msg.Reply != nil {
		replyTo = msg.Reply.MessageID
	}
	peer, ok := s.links.Target(replyTo)
	if !ok {
		return puppet.Peer{}, ErrNoTarget
	}
	return peer, nil
}

func (s *Session) relayOutbound(ctx context.Context, msg channel.InboundMessage) {
	cat := s.svc.catalog
	target, err := s.target(msg)
	if err != nil {
		_, _ = s.reply(ctx, cat.NoCurrentContact)
		return
	}
	if len(msg.Attachments) > 0 {
		s.relayAttachment(ctx, msg, msg.Attachments[0], target)
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		return
	}
	if err := s.client.Say(ctx, target, puppet.Payload{Text: msg.Text}); err != nil {
		s.logger.Warn("say text failed", slog.String("to", target.DisplayName()), slog.Any("error", err))
		metrics.SendFailuresTotal.Inc()
		_, _ = s.replyTo(ctx, cat.SendingFailed, msg.MessageID)
		return
	}
	metrics.MessagesRelayedTotal.WithLabelValues("outbound", "text").Inc()
	s.touchCurrent(target)
}

func (s *Session) relayAttachment(ctx context.Context, msg channel.InboundMessage, att channel.Attachment, target puppet.Peer) {
	cat := s.svc.catalog
	if att.Size > s.svc.maxFileBytes() {
		_, _ = s.replyTo(ctx, cat.FileTooLarge, msg.MessageID)
		return
	}
	if att.Type == channel.AttachmentSticker && media.IsAnimatedSticker(att.Name) {
		_, _ = s.replyTo(ctx, cat.MsgNotSupported, msg.MessageID)
		return
	}

	var file *puppet.FileBox
	policy := RetryPolicy{
		Attempts: s.svc.opts.SendRetries,
		OnAttemptError: func(attempt int, err error) {
			metrics.SendRetriesTotal.Inc()
			s.logger.Warn("send file attempt failed", slog.Int("attempt", attempt), slog.Any("error", err))
		},
		OnFailure: func(err error) {
			metrics.SendFailuresTotal.Inc()
			s.logger.Error("send file failed", slog.String("to", target.DisplayName()), slog.Any("error", err))
		},
	}
	err := policy.Do(ctx, func(ctx context.Context) error {
		if file == nil {
			fetched, err := s.svc.fetchAttachment(ctx, att)
			if err != nil {
				if errors.Is(err, media.ErrAssetTooLarge) || errors.Is(err, media.ErrUnsupportedFormat) {
					return permanent(err)
				}
				return err
			}
			file = &fetched
		}
		return s.client.Say(ctx, target, puppet.Payload{File: file})
	})
	switch {
	case errors.Is(err, media.ErrAssetTooLarge):
		_, _ = s.replyTo(ctx, cat.FileTooLarge, msg.MessageID)
		return
	case errors.Is(err, media.ErrUnsupportedFormat):
		_, _ = s.replyTo(ctx, cat.MsgNotSupported, msg.MessageID)
		return
	case err != nil:
		_, _ = s.replyTo(ctx, cat.SendingFailed, msg.MessageID)
		return
	}

	if caption := strings.TrimSpace(att.Caption); caption != "" && !msg.ForwardedFromBot {
		if err := s.client.Say(ctx, target, puppet.Payload{Text: caption}); err != nil {
			s.logger.Warn("say caption failed", slog.Any("error", err))
		}
	}
	metrics.MessagesRelayedTotal.WithLabelValues("outbound", string(att.Type)).Inc()
	_, _ = s.replyTo(ctx, fmt.Sprintf(cat.SendingSucceed, target.DisplayName()), msg.MessageID)
	s.touchCurrent(target)
}

func (s *Session) touchCurrent(target puppet.Peer) {
	if !s.links.Locked() {
		s.links.SetCurrent(target)
	}
}

// fetchAttachment downloads a tenant attachment and converts it into a form
// the content source accepts.
func (svc *Service) fetchAttachment(ctx context.Context, att channel.Attachment) (puppet.FileBox, error) {
	payload, err := svc.controller.ResolveAttachment(ctx, att)
	if err != nil {
		return puppet.FileBox{}, fmt.Errorf("resolve attachment: %w", err)
	}
	defer func() { _ = payload.Reader.Close() }()

	mime := firstNonEmpty(payload.Mime, att.Mime)
	name := media.EnsureName(firstNonEmpty(att.Name, payload.Name), string(att.Type), mime)
	ext := filepath.Ext(name)
	data, err := svc.readPayload(payload.Reader, ext)
	if err != nil {
		return puppet.FileBox{}, err
	}

	base := strings.TrimSuffix(name, ext)
	switch att.Type {
	case channel.AttachmentSticker:
		png, err := media.StickerToPNG(data)
		if err != nil {
			return puppet.FileBox{}, fmt.Errorf("%w: %v", media.ErrUnsupportedFormat, err)
		}
		data, name, mime = png, base+".png", "image/png"
	case channel.AttachmentVoice:
		if !svc.transcoder.Available() {
			break
		}
		mp3, err := svc.transcoder.VoiceToMP3(ctx, data, ext)
		if err != nil {
			svc.logger.Warn("voice transcode failed, sending original", slog.Any("error", err))
			break
		}
		data, name, mime = mp3, base+".mp3", "audio/mpeg"
	}
	return puppet.FileBox{Name: name, Mime: mime, Data: data}, nil
}

func (svc *Service) readPayload(reader io.Reader, ext string) ([]byte, error) {
	limit := svc.maxFileBytes()
	if svc.cache == nil {
		return media.ReadAllWithLimit(reader, limit)
	}
	path, _, err := svc.cache.Spool(reader, limit, ext)
	if err != nil {
		return nil, err
	}
	defer svc.cache.Remove(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cached file: %w", err)
	}
	return data, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
