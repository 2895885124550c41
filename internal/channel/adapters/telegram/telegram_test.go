package telegram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/wxbridge/internal/channel"
	"github.com/memohai/wxbridge/internal/media"
)

type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	sendErrs []error
	nextID   int
	fileURL  string
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, c)
	if len(b.sendErrs) > 0 {
		err := b.sendErrs[0]
		b.sendErrs = b.sendErrs[1:]
		if err != nil {
			return tgbotapi.Message{}, err
		}
	}
	b.nextID++
	return tgbotapi.Message{MessageID: b.nextID}, nil
}

func (b *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) GetFileDirectURL(fileID string) (string, error) {
	if b.fileURL == "" {
		return "", errors.New("no file")
	}
	return b.fileURL + "/" + fileID, nil
}

func (b *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	ch := make(chan tgbotapi.Update)
	close(ch)
	return ch
}

func (b *fakeBot) StopReceivingUpdates() {}

func newTestAdapter(t *testing.T, bot *fakeBot) *TelegramAdapter {
	t.Helper()
	adapter, err := NewTelegramAdapter(Options{Token: "123:abc", MaxFileBytes: 16}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	adapter.bot = bot
	adapter.selfID = 42
	adapter.sleep = func(context.Context, time.Duration) error { return nil }
	return adapter
}

func TestNewTelegramAdapterRequiresToken(t *testing.T) {
	t.Parallel()

	if _, err := NewTelegramAdapter(Options{Token: " "}, nil); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestNewTelegramAdapterProxy(t *testing.T) {
	t.Parallel()

	adapter, err := NewTelegramAdapter(Options{Token: "123:abc", Proxy: "socks5://127.0.0.1:1080"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "https://api.telegram.org/bot123:abc/getMe", nil)
	for _, client := range []*http.Client{adapter.httpClient, adapter.apiClient} {
		transport, ok := client.Transport.(*http.Transport)
		if !ok {
			t.Fatalf("unexpected transport %T", client.Transport)
		}
		proxy, err := transport.Proxy(req)
		if err != nil || proxy == nil || proxy.String() != "socks5://127.0.0.1:1080" {
			t.Fatalf("unexpected proxy %v (%v)", proxy, err)
		}
	}

	for _, bad := range []string{"ftp://proxy:21", "socks5://", "://nope"} {
		if _, err := NewTelegramAdapter(Options{Token: "123:abc", Proxy: bad}, nil); err == nil {
			t.Fatalf("expected error for proxy %q", bad)
		}
	}
}

func TestBuildInboundMessage(t *testing.T) {
	t.Parallel()

	msg := &tgbotapi.Message{
		MessageID: 7,
		Date:      1700000000,
		Chat:      &tgbotapi.Chat{ID: 100},
		From:      &tgbotapi.User{ID: 5, UserName: "alice"},
		Text:      "hello",
		ReplyToMessage: &tgbotapi.Message{
			MessageID: 3,
			Text:      "<code>Bob</code>",
			From:      &tgbotapi.User{ID: 42},
		},
	}
	in, ok := buildInboundMessage(msg, 42)
	if !ok {
		t.Fatal("expected message")
	}
	if in.ChatID != 100 || in.MessageID != 7 || in.Text != "hello" {
		t.Fatalf("unexpected inbound: %#v", in)
	}
	if in.Reply == nil || in.Reply.MessageID != 3 || !in.Reply.FromBot {
		t.Fatalf("unexpected reply: %#v", in.Reply)
	}
	if in.Sender.Attribute("username") != "alice" || in.Sender.SubjectID != "5" {
		t.Fatalf("unexpected sender: %#v", in.Sender)
	}
	if in.ForwardedFromBot {
		t.Fatal("expected not forwarded")
	}

	msg.ForwardFrom = &tgbotapi.User{ID: 42}
	in, _ = buildInboundMessage(msg, 42)
	if !in.ForwardedFromBot {
		t.Fatal("expected forwarded from bot")
	}

	if _, ok := buildInboundMessage(&tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}}, 42); ok {
		t.Fatal("expected empty message to be dropped")
	}
}

func TestCollectTelegramAttachments(t *testing.T) {
	t.Parallel()

	msg := &tgbotapi.Message{
		Caption: "look",
		Photo: []tgbotapi.PhotoSize{
			{FileID: "small", Width: 10, Height: 10, FileSize: 100},
			{FileID: "big", Width: 100, Height: 100, FileSize: 1000},
		},
		Sticker: &tgbotapi.Sticker{FileID: "st", IsAnimated: true},
		Voice:   &tgbotapi.Voice{FileID: "v", Duration: 4, MimeType: "audio/ogg"},
	}
	atts := collectTelegramAttachments(msg)
	if len(atts) != 3 {
		t.Fatalf("expected 3 attachments, got %d", len(atts))
	}
	if atts[0].PlatformKey != "big" || atts[0].Type != channel.AttachmentImage || atts[0].Caption != "look" {
		t.Fatalf("unexpected photo: %#v", atts[0])
	}
	if atts[1].Type != channel.AttachmentVoice || atts[1].DurationSec != 4 {
		t.Fatalf("unexpected voice: %#v", atts[1])
	}
	if atts[2].Type != channel.AttachmentSticker || !media.IsAnimatedSticker(atts[2].Name) {
		t.Fatalf("unexpected sticker: %#v", atts[2])
	}
}

func TestInboundFromCallbackAnswersQuery(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{}
	adapter := newTestAdapter(t, bot)
	update := tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		Data:    "friend:1",
		From:    &tgbotapi.User{ID: 5},
		Message: &tgbotapi.Message{MessageID: 9, Chat: &tgbotapi.Chat{ID: 100}},
	}}
	in, ok := adapter.inboundFromUpdate(bot, update, 42)
	if !ok {
		t.Fatal("expected callback inbound")
	}
	if in.Callback == nil || in.Callback.Data != "friend:1" || in.ChatID != 100 {
		t.Fatalf("unexpected callback inbound: %#v", in)
	}
	if len(bot.requests) != 1 {
		t.Fatalf("expected callback answer, got %d requests", len(bot.requests))
	}
}

func TestSendChunksTextAndReturnsLastID(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{}
	adapter := newTestAdapter(t, bot)
	text := strings.Repeat("a", telegramMaxMessageLength) + "\n" + "tail"
	sent, err := adapter.Send(context.Background(), channel.OutboundMessage{
		ChatID: 100,
		Message: channel.Message{
			Format:  channel.MessageFormatHTML,
			Text:    text,
			ReplyTo: 11,
			Actions: []channel.Action{{Label: "Accept", Value: "friend:1"}},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bot.sent) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(bot.sent))
	}
	if sent.MessageID != 2 || sent.ChatID != 100 {
		t.Fatalf("unexpected sent: %#v", sent)
	}
	first := bot.sent[0].(tgbotapi.MessageConfig)
	last := bot.sent[1].(tgbotapi.MessageConfig)
	if first.ReplyToMessageID != 11 || last.ReplyToMessageID != 0 {
		t.Fatalf("reply should only apply to the first chunk")
	}
	if !first.AllowSendingWithoutReply {
		t.Fatalf("reply to a deleted message should still send")
	}
	if first.ParseMode != tgbotapi.ModeHTML {
		t.Fatalf("unexpected parse mode %q", first.ParseMode)
	}
	if first.ReplyMarkup != nil || last.ReplyMarkup == nil {
		t.Fatalf("keyboard should only apply to the last chunk")
	}
}

func TestSendRetriesOnceOnRateLimit(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{sendErrs: []error{&tgbotapi.Error{Code: 429, Message: "Too Many Requests"}}}
	adapter := newTestAdapter(t, bot)
	sent, err := adapter.Send(context.Background(), channel.OutboundMessage{ChatID: 1, Message: channel.Message{Text: "hi"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bot.sent) != 2 || sent.MessageID != 1 {
		t.Fatalf("expected one retry, got %d sends", len(bot.sent))
	}

	bot = &fakeBot{sendErrs: []error{errors.New("boom")}}
	adapter = newTestAdapter(t, bot)
	if _, err := adapter.Send(context.Background(), channel.OutboundMessage{ChatID: 1, Message: channel.Message{Text: "hi"}}); err == nil {
		t.Fatal("expected error")
	}
	if len(bot.sent) != 1 {
		t.Fatalf("non rate limit errors must not retry, got %d sends", len(bot.sent))
	}
}

func TestSendAttachmentUsesCaption(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{}
	adapter := newTestAdapter(t, bot)
	_, err := adapter.Send(context.Background(), channel.OutboundMessage{
		ChatID: 1,
		Message: channel.Message{
			Text: "caption",
			Attachments: []channel.Attachment{
				{Type: channel.AttachmentImage, Name: "a.png", Data: []byte("png")},
				{Type: channel.AttachmentFile, PlatformKey: "doc"},
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bot.sent) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(bot.sent))
	}
	photo, ok := bot.sent[0].(tgbotapi.PhotoConfig)
	if !ok || photo.Caption != "caption" {
		t.Fatalf("unexpected photo config: %#v", bot.sent[0])
	}
	doc, ok := bot.sent[1].(tgbotapi.DocumentConfig)
	if !ok || doc.Caption != "" {
		t.Fatalf("unexpected document config: %#v", bot.sent[1])
	}

	bot = &fakeBot{}
	adapter = newTestAdapter(t, bot)
	_, err = adapter.Send(context.Background(), channel.OutboundMessage{
		ChatID: 1,
		Message: channel.Message{
			Text:        strings.Repeat("x", telegramMaxCaptionLength+1),
			Attachments: []channel.Attachment{{Type: channel.AttachmentImage, PlatformKey: "p"}},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bot.sent) != 2 {
		t.Fatalf("long caption should be sent as separate text, got %d sends", len(bot.sent))
	}
}

func TestBuildTelegramFile(t *testing.T) {
	t.Parallel()

	if _, err := buildTelegramFile(channel.Attachment{}); err == nil {
		t.Fatal("expected error for empty reference")
	}
	file, err := buildTelegramFile(channel.Attachment{Mime: "image/png", Data: []byte("x")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fb, ok := file.(tgbotapi.FileBytes); !ok || fb.Name != "file.png" {
		t.Fatalf("unexpected file: %#v", file)
	}
	file, _ = buildTelegramFile(channel.Attachment{PlatformKey: "abc", URL: "http://x"})
	if _, ok := file.(tgbotapi.FileID); !ok {
		t.Fatalf("expected file id, got %#v", file)
	}
}

func TestUnsend(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{}
	adapter := newTestAdapter(t, bot)
	if err := adapter.Unsend(context.Background(), 1, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := adapter.Unsend(context.Background(), 1, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bot.requests) != 1 {
		t.Fatalf("expected one delete request, got %d", len(bot.requests))
	}
	del, ok := bot.requests[0].(tgbotapi.DeleteMessageConfig)
	if !ok || del.MessageID != 5 {
		t.Fatalf("unexpected request: %#v", bot.requests[0])
	}
}

func TestResolveAttachment(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/big") {
			_, _ = w.Write([]byte(strings.Repeat("x", 64)))
			return
		}
		w.Header().Set("Content-Type", "image/webp; charset=binary")
		_, _ = w.Write([]byte("webp"))
	}))
	defer srv.Close()

	bot := &fakeBot{fileURL: srv.URL}
	adapter := newTestAdapter(t, bot)
	payload, err := adapter.ResolveAttachment(context.Background(), channel.Attachment{PlatformKey: "small"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer payload.Reader.Close()
	data, _ := io.ReadAll(payload.Reader)
	if string(data) != "webp" || payload.Mime != "image/webp" {
		t.Fatalf("unexpected payload: %q %q", data, payload.Mime)
	}

	_, err = adapter.ResolveAttachment(context.Background(), channel.Attachment{PlatformKey: "big"})
	if !errors.Is(err, media.ErrAssetTooLarge) {
		t.Fatalf("expected ErrAssetTooLarge, got %v", err)
	}
	_, err = adapter.ResolveAttachment(context.Background(), channel.Attachment{PlatformKey: "x", Size: 1024})
	if !errors.Is(err, media.ErrAssetTooLarge) {
		t.Fatalf("expected ErrAssetTooLarge from declared size, got %v", err)
	}
}

func TestTruncateTelegramText(t *testing.T) {
	t.Parallel()

	short := "hello"
	if got := truncateTelegramText(short); got != short {
		t.Fatalf("unexpected truncation: %q", got)
	}
	long := strings.Repeat("中", telegramMaxMessageLength+10)
	got := truncateTelegramText(long)
	if utf8.RuneCountInString(got) != telegramMaxMessageLength || !strings.HasSuffix(got, "...") {
		t.Fatalf("unexpected truncated length %d", utf8.RuneCountInString(got))
	}
	if got := sanitizeTelegramText("ok\xff"); got != "ok" {
		t.Fatalf("unexpected sanitize result %q", got)
	}
}

func TestTelegramRateLimitHelpers(t *testing.T) {
	t.Parallel()

	err := &tgbotapi.Error{Code: 429, ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 3}}
	if !isTelegramTooManyRequests(err) {
		t.Fatal("expected 429 detection")
	}
	if got := getTelegramRetryAfter(err); got != 3*time.Second {
		t.Fatalf("unexpected retry after %v", got)
	}
	if isTelegramTooManyRequests(errors.New("x")) {
		t.Fatal("unexpected 429 detection")
	}
}
