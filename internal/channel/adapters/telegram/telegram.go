package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/wxbridge/internal/channel"
	"github.com/memohai/wxbridge/internal/media"
)

const (
	telegramMaxMessageLength = 4096
	telegramMaxCaptionLength = 1024
)

// botAPI is the subset of *tgbotapi.BotAPI used by the adapter.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// TelegramAdapter implements channel.Sender, channel.MessageEditor,
// channel.AttachmentResolver, and channel.Receiver for a single bot token.
type TelegramAdapter struct {
	opts       Options
	logger     *slog.Logger
	httpClient *http.Client
	apiClient  *http.Client
	sleep      func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	bot    botAPI
	selfID int64
}

// NewTelegramAdapter creates a TelegramAdapter with the given options and logger.
func NewTelegramAdapter(opts Options, log *slog.Logger) (*TelegramAdapter, error) {
	if log == nil {
		log = slog.Default()
	}
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = media.MaxAssetBytes
	}
	transport, err := newTransport(opts.Proxy)
	if err != nil {
		return nil, err
	}
	adapter := &TelegramAdapter{
		opts:       opts,
		logger:     log.With(slog.String("adapter", "telegram")),
		httpClient: &http.Client{Timeout: 60 * time.Second, Transport: transport},
		apiClient:  &http.Client{Transport: transport},
		sleep:      sleepContext,
	}
	_ = tgbotapi.SetLogger(&slogBotLogger{log: adapter.logger})
	return adapter, nil
}

var getOrCreateBotForTest func(a *TelegramAdapter) (botAPI, int64, error)

func (a *TelegramAdapter) getOrCreateBot() (botAPI, int64, error) {
	if getOrCreateBotForTest != nil {
		return getOrCreateBotForTest(a)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bot != nil {
		return a.bot, a.selfID, nil
	}
	endpoint := a.opts.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(a.opts.Token, endpoint, a.apiClient)
	if err != nil {
		a.logger.Error("create bot failed", slog.Any("error", err))
		return nil, 0, err
	}
	a.logger.Info("bot authorized", slog.String("username", bot.Self.UserName))
	a.bot = bot
	a.selfID = bot.Self.ID
	return a.bot, a.selfID, nil
}

// Type returns the Telegram channel type.
func (a *TelegramAdapter) Type() channel.ChannelType {
	return Type
}

// Connect starts long-polling for Telegram updates and forwards messages and
// button presses to the handler in arrival order.
func (a *TelegramAdapter) Connect(ctx context.Context, handler channel.InboundHandler) (channel.Connection, error) {
	if handler == nil {
		return nil, fmt.Errorf("inbound handler is required")
	}
	bot, selfID, err := a.getOrCreateBot()
	if err != nil {
		return nil, err
	}
	a.logger.Info("start")
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = int(a.opts.PollTimeout / time.Second)
	updates := bot.GetUpdatesChan(updateConfig)
	connCtx, cancel := context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-connCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					a.logger.Info("updates channel closed")
					return
				}
				msg, ok := a.inboundFromUpdate(bot, update, selfID)
				if !ok {
					continue
				}
				a.logger.Debug(
					"inbound received",
					slog.Int64("chat_id", msg.ChatID),
					slog.Int("message_id", msg.MessageID),
					slog.String("user_id", msg.Sender.Attribute("user_id")),
				)
				if err := handler(connCtx, msg); err != nil {
					a.logger.Error("handle inbound failed", slog.Int64("chat_id", msg.ChatID), slog.Any("error", err))
				}
			}
		}
	}()

	stop := func(_ context.Context) error {
		a.logger.Info("stop")
		bot.StopReceivingUpdates()
		cancel()
		// Drain so the polling goroutine can exit and release the getUpdates session.
		for range updates {
		}
		return nil
	}
	return channel.NewConnection(Type, stop), nil
}

func (a *TelegramAdapter) inboundFromUpdate(bot botAPI, update tgbotapi.Update, selfID int64) (channel.InboundMessage, bool) {
	if cb := update.CallbackQuery; cb != nil {
		if _, err := bot.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			a.logger.Warn("answer callback failed", slog.Any("error", err))
		}
		return buildCallbackInbound(cb)
	}
	if update.Message == nil {
		return channel.InboundMessage{}, false
	}
	return buildInboundMessage(update.Message, selfID)
}

func buildCallbackInbound(cb *tgbotapi.CallbackQuery) (channel.InboundMessage, bool) {
	if cb == nil || cb.Message == nil || cb.Message.Chat == nil {
		return channel.InboundMessage{}, false
	}
	return channel.InboundMessage{
		Channel:    Type,
		ChatID:     cb.Message.Chat.ID,
		MessageID:  cb.Message.MessageID,
		Sender:     resolveTelegramSender(cb.From),
		Callback:   &channel.Callback{ID: cb.ID, Data: cb.Data},
		ReceivedAt: time.Now().UTC(),
	}, true
}

func buildInboundMessage(msg *tgbotapi.Message, selfID int64) (channel.InboundMessage, bool) {
	if msg == nil || msg.Chat == nil {
		return channel.InboundMessage{}, false
	}
	text := strings.TrimSpace(msg.Text)
	caption := strings.TrimSpace(msg.Caption)
	if text == "" && caption != "" {
		text = caption
	}
	attachments := collectTelegramAttachments(msg)
	if text == "" && len(attachments) == 0 {
		return channel.InboundMessage{}, false
	}
	return channel.InboundMessage{
		Channel:          Type,
		ChatID:           msg.Chat.ID,
		MessageID:        msg.MessageID,
		Text:             text,
		Sender:           resolveTelegramSender(msg.From),
		Reply:            buildTelegramReplyRef(msg, selfID),
		Attachments:      attachments,
		ForwardedFromBot: msg.ForwardFrom != nil && selfID != 0 && msg.ForwardFrom.ID == selfID,
		ReceivedAt:       time.Unix(int64(msg.Date), 0).UTC(),
	}, true
}

func resolveTelegramSender(user *tgbotapi.User) channel.Identity {
	if user == nil {
		return channel.Identity{Attributes: map[string]string{}}
	}
	userID := strconv.FormatInt(user.ID, 10)
	attrs := map[string]string{"user_id": userID}
	username := strings.TrimSpace(user.UserName)
	if username != "" {
		attrs["username"] = username
	}
	displayName := username
	if displayName == "" {
		displayName = strings.TrimSpace(user.FirstName + " " + user.LastName)
	}
	return channel.Identity{
		SubjectID:   userID,
		DisplayName: displayName,
		Attributes:  attrs,
	}
}

func buildTelegramReplyRef(msg *tgbotapi.Message, selfID int64) *channel.ReplyRef {
	if msg == nil || msg.ReplyToMessage == nil {
		return nil
	}
	reply := msg.ReplyToMessage
	text := reply.Text
	if text == "" {
		text = reply.Caption
	}
	return &channel.ReplyRef{
		MessageID: reply.MessageID,
		Text:      text,
		FromBot:   reply.From != nil && selfID != 0 && reply.From.ID == selfID,
	}
}

func collectTelegramAttachments(msg *tgbotapi.Message) []channel.Attachment {
	if msg == nil {
		return nil
	}
	attachments := make([]channel.Attachment, 0, 1)
	if len(msg.Photo) > 0 {
		photo := pickTelegramPhoto(msg.Photo)
		attachments = append(attachments, buildTelegramAttachment(channel.AttachmentImage, photo.FileID, "", "image/jpeg", int64(photo.FileSize)))
	}
	if msg.Document != nil {
		attachments = append(attachments, buildTelegramAttachment(channel.AttachmentFile, msg.Document.FileID, msg.Document.FileName, msg.Document.MimeType, int64(msg.Document.FileSize)))
	}
	if msg.Audio != nil {
		att := buildTelegramAttachment(channel.AttachmentAudio, msg.Audio.FileID, msg.Audio.FileName, msg.Audio.MimeType, int64(msg.Audio.FileSize))
		att.DurationSec = msg.Audio.Duration
		attachments = append(attachments, att)
	}
	if msg.Voice != nil {
		att := buildTelegramAttachment(channel.AttachmentVoice, msg.Voice.FileID, "", msg.Voice.MimeType, int64(msg.Voice.FileSize))
		att.DurationSec = msg.Voice.Duration
		attachments = append(attachments, att)
	}
	if msg.Video != nil {
		att := buildTelegramAttachment(channel.AttachmentVideo, msg.Video.FileID, msg.Video.FileName, msg.Video.MimeType, int64(msg.Video.FileSize))
		att.DurationSec = msg.Video.Duration
		attachments = append(attachments, att)
	}
	if msg.Animation != nil {
		att := buildTelegramAttachment(channel.AttachmentGIF, msg.Animation.FileID, msg.Animation.FileName, msg.Animation.MimeType, int64(msg.Animation.FileSize))
		att.DurationSec = msg.Animation.Duration
		attachments = append(attachments, att)
	}
	if msg.Sticker != nil {
		name, mime := "sticker.webp", "image/webp"
		if msg.Sticker.IsAnimated {
			name, mime = "sticker.tgs", "application/x-tgsticker"
		}
		attachments = append(attachments, buildTelegramAttachment(channel.AttachmentSticker, msg.Sticker.FileID, name, mime, int64(msg.Sticker.FileSize)))
	}
	caption := strings.TrimSpace(msg.Caption)
	if caption != "" {
		for i := range attachments {
			attachments[i].Caption = caption
		}
	}
	return attachments
}

func buildTelegramAttachment(attType channel.AttachmentType, fileID, name, mime string, size int64) channel.Attachment {
	return channel.Attachment{
		Type:        attType,
		PlatformKey: strings.TrimSpace(fileID),
		Name:        strings.TrimSpace(name),
		Mime:        strings.TrimSpace(mime),
		Size:        size,
	}
}

func pickTelegramPhoto(items []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	if len(items) == 0 {
		return tgbotapi.PhotoSize{}
	}
	best := items[0]
	for _, item := range items[1:] {
		if item.FileSize > best.FileSize {
			best = item
			continue
		}
		if item.Width*item.Height > best.Width*best.Height {
			best = item
		}
	}
	return best
}

// Send delivers an outbound message and returns the id of the last Telegram
// message it produced.
func (a *TelegramAdapter) Send(ctx context.Context, msg channel.OutboundMessage) (channel.SentMessage, error) {
	if msg.ChatID == 0 {
		return channel.SentMessage{}, fmt.Errorf("telegram chat id is required")
	}
	if msg.Message.IsEmpty() {
		return channel.SentMessage{}, fmt.Errorf("message is required")
	}
	bot, _, err := a.getOrCreateBot()
	if err != nil {
		return channel.SentMessage{}, err
	}
	text := sanitizeTelegramText(strings.TrimSpace(msg.Message.Text))
	parseMode := resolveTelegramParseMode(msg.Message.Format)
	markup := buildInlineKeyboard(msg.Message.Actions)
	replyTo := msg.Message.ReplyTo
	sent := channel.SentMessage{ChatID: msg.ChatID}

	if len(msg.Message.Attachments) > 0 {
		captionFits := utf8.RuneCountInString(text) <= telegramMaxCaptionLength
		for i, att := range msg.Message.Attachments {
			caption := ""
			if i == 0 && captionFits {
				caption = text
			}
			applyReply, applyMarkup := 0, any(nil)
			if i == 0 {
				applyReply = replyTo
				if captionFits {
					applyMarkup = markup
				}
			}
			chattable, err := buildTelegramAttachmentConfig(msg.ChatID, att, caption, parseMode, applyReply, applyMarkup)
			if err != nil {
				return sent, err
			}
			out, err := a.sendWithRetry(ctx, bot, chattable)
			if err != nil {
				a.logger.Error("send attachment failed", slog.Int64("chat_id", msg.ChatID), slog.Any("error", err))
				return sent, err
			}
			sent.MessageID = out.MessageID
		}
		if captionFits || text == "" {
			return sent, nil
		}
		replyTo = 0
	}

	chunks := channel.ChunkText(text, telegramMaxMessageLength)
	if parseMode == tgbotapi.ModeHTML {
		chunks = channel.ChunkHTML(text, telegramMaxMessageLength)
	}
	for i, chunk := range chunks {
		message := tgbotapi.NewMessage(msg.ChatID, truncateTelegramText(chunk))
		message.ParseMode = parseMode
		message.DisableWebPagePreview = true
		if i == 0 && replyTo > 0 {
			message.ReplyToMessageID = replyTo
			message.AllowSendingWithoutReply = true
		}
		if i == len(chunks)-1 && markup != nil {
			message.ReplyMarkup = markup
		}
		out, err := a.sendWithRetry(ctx, bot, message)
		if err != nil {
			a.logger.Error("send text failed", slog.Int64("chat_id", msg.ChatID), slog.Any("error", err))
			return sent, err
		}
		sent.MessageID = out.MessageID
	}
	return sent, nil
}

// sendWithRetry retries once when Telegram answers 429.
func (a *TelegramAdapter) sendWithRetry(ctx context.Context, bot botAPI, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	out, err := bot.Send(c)
	if err == nil || !isTelegramTooManyRequests(err) {
		return out, err
	}
	wait := getTelegramRetryAfter(err)
	if wait <= 0 {
		wait = time.Second
	}
	a.logger.Warn("rate limited, retrying", slog.Duration("retry_after", wait))
	if err := a.sleep(ctx, wait); err != nil {
		return tgbotapi.Message{}, err
	}
	return bot.Send(c)
}

// Unsend deletes a previously sent message.
func (a *TelegramAdapter) Unsend(ctx context.Context, chatID int64, messageID int) error {
	if chatID == 0 || messageID <= 0 {
		return nil
	}
	bot, _, err := a.getOrCreateBot()
	if err != nil {
		return err
	}
	if _, err := bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("delete telegram message %d: %w", messageID, err)
	}
	return nil
}

func buildInlineKeyboard(actions []channel.Action) any {
	if len(actions) == 0 {
		return nil
	}
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(actions))
	for _, action := range actions {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(action.Label, action.Value))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

func buildTelegramFile(att channel.Attachment) (tgbotapi.RequestFileData, error) {
	if len(att.Data) > 0 {
		name := strings.TrimSpace(att.Name)
		if name == "" {
			name = "file" + media.ExtensionFromMime(att.Mime)
		}
		return tgbotapi.FileBytes{Name: name, Bytes: att.Data}, nil
	}
	if key := strings.TrimSpace(att.PlatformKey); key != "" {
		return tgbotapi.FileID(key), nil
	}
	if url := strings.TrimSpace(att.URL); url != "" {
		return tgbotapi.FileURL(url), nil
	}
	return nil, fmt.Errorf("attachment reference is required")
}

func applyTelegramChat(chat *tgbotapi.BaseChat, replyTo int, markup any) {
	if replyTo > 0 {
		chat.ReplyToMessageID = replyTo
		chat.AllowSendingWithoutReply = true
	}
	if markup != nil {
		chat.ReplyMarkup = markup
	}
}

func buildTelegramAttachmentConfig(chatID int64, att channel.Attachment, caption, parseMode string, replyTo int, markup any) (tgbotapi.Chattable, error) {
	file, err := buildTelegramFile(att)
	if err != nil {
		return nil, err
	}
	if caption == "" {
		caption = strings.TrimSpace(att.Caption)
	}
	caption = truncateTelegramCaption(caption)
	switch att.Type {
	case channel.AttachmentImage:
		photo := tgbotapi.NewPhoto(chatID, file)
		photo.Caption, photo.ParseMode = caption, parseMode
		applyTelegramChat(&photo.BaseChat, replyTo, markup)
		return photo, nil
	case channel.AttachmentFile, "":
		document := tgbotapi.NewDocument(chatID, file)
		document.Caption, document.ParseMode = caption, parseMode
		applyTelegramChat(&document.BaseChat, replyTo, markup)
		return document, nil
	case channel.AttachmentAudio:
		audio := tgbotapi.NewAudio(chatID, file)
		audio.Caption, audio.ParseMode = caption, parseMode
		audio.Duration = att.DurationSec
		applyTelegramChat(&audio.BaseChat, replyTo, markup)
		return audio, nil
	case channel.AttachmentVoice:
		voice := tgbotapi.NewVoice(chatID, file)
		voice.Caption, voice.ParseMode = caption, parseMode
		voice.Duration = att.DurationSec
		applyTelegramChat(&voice.BaseChat, replyTo, markup)
		return voice, nil
	case channel.AttachmentVideo:
		video := tgbotapi.NewVideo(chatID, file)
		video.Caption, video.ParseMode = caption, parseMode
		video.Duration = att.DurationSec
		applyTelegramChat(&video.BaseChat, replyTo, markup)
		return video, nil
	case channel.AttachmentGIF:
		animation := tgbotapi.NewAnimation(chatID, file)
		animation.Caption, animation.ParseMode = caption, parseMode
		applyTelegramChat(&animation.BaseChat, replyTo, markup)
		return animation, nil
	case channel.AttachmentSticker:
		sticker := tgbotapi.NewSticker(chatID, file)
		applyTelegramChat(&sticker.BaseChat, replyTo, markup)
		return sticker, nil
	default:
		return nil, fmt.Errorf("unsupported attachment type: %s", att.Type)
	}
}

func resolveTelegramParseMode(format channel.MessageFormat) string {
	switch format {
	case channel.MessageFormatHTML:
		return tgbotapi.ModeHTML
	case channel.MessageFormatMarkdown:
		return tgbotapi.ModeMarkdown
	default:
		return ""
	}
}

func telegramAPIError(err error) (tgbotapi.Error, bool) {
	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	var value tgbotapi.Error
	if errors.As(err, &value) {
		return value, true
	}
	return tgbotapi.Error{}, false
}

func isTelegramTooManyRequests(err error) bool {
	apiErr, ok := telegramAPIError(err)
	return ok && apiErr.Code == http.StatusTooManyRequests
}

func getTelegramRetryAfter(err error) time.Duration {
	apiErr, ok := telegramAPIError(err)
	if ok && apiErr.RetryAfter > 0 {
		return time.Duration(apiErr.RetryAfter) * time.Second
	}
	return 0
}

// ResolveAttachment downloads a Telegram file by its file id.
func (a *TelegramAdapter) ResolveAttachment(ctx context.Context, attachment channel.Attachment) (channel.AttachmentPayload, error) {
	fileID := strings.TrimSpace(attachment.PlatformKey)
	if fileID == "" && strings.TrimSpace(attachment.URL) == "" {
		return channel.AttachmentPayload{}, fmt.Errorf("telegram attachment requires platform_key or url")
	}
	maxBytes := a.opts.MaxFileBytes
	if attachment.Size > maxBytes {
		return channel.AttachmentPayload{}, fmt.Errorf("%w: max %d bytes", media.ErrAssetTooLarge, maxBytes)
	}
	downloadURL := strings.TrimSpace(attachment.URL)
	if downloadURL == "" {
		bot, _, err := a.getOrCreateBot()
		if err != nil {
			return channel.AttachmentPayload{}, err
		}
		downloadURL, err = bot.GetFileDirectURL(fileID)
		if err != nil {
			return channel.AttachmentPayload{}, fmt.Errorf("resolve telegram file url: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return channel.AttachmentPayload{}, fmt.Errorf("build download request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return channel.AttachmentPayload{}, fmt.Errorf("download attachment: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() {
			_ = resp.Body.Close()
		}()
		_, _ = io.Copy(io.Discard, resp.Body)
		return channel.AttachmentPayload{}, fmt.Errorf("download attachment status: %d", resp.StatusCode)
	}
	if resp.ContentLength > maxBytes {
		defer func() {
			_ = resp.Body.Close()
		}()
		_, _ = io.Copy(io.Discard, resp.Body)
		return channel.AttachmentPayload{}, fmt.Errorf("%w: max %d bytes", media.ErrAssetTooLarge, maxBytes)
	}
	mime := strings.TrimSpace(attachment.Mime)
	if mime == "" {
		mime = strings.TrimSpace(resp.Header.Get("Content-Type"))
		if idx := strings.Index(mime, ";"); idx >= 0 {
			mime = strings.TrimSpace(mime[:idx])
		}
	}
	size := attachment.Size
	if size <= 0 && resp.ContentLength > 0 {
		size = resp.ContentLength
	}
	return channel.AttachmentPayload{
		Reader: resp.Body,
		Mime:   mime,
		Name:   strings.TrimSpace(attachment.Name),
		Size:   size,
	}, nil
}

// sanitizeTelegramText strips invalid UTF-8 sequences.
func sanitizeTelegramText(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "")
}

// truncateTelegramText truncates text to telegramMaxMessageLength characters,
// appending "..." when truncation occurs.
func truncateTelegramText(text string) string {
	return truncateRunes(text, telegramMaxMessageLength)
}

func truncateTelegramCaption(text string) string {
	return truncateRunes(text, telegramMaxCaptionLength)
}

func truncateRunes(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	const suffix = "..."
	runes := []rune(text)
	return string(runes[:limit-len(suffix)]) + suffix
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
