package telegram

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/memohai/wxbridge/internal/channel"
)

// Type is the Telegram channel type.
const Type channel.ChannelType = "telegram"

const defaultPollTimeout = 30 * time.Second

// Options configures the Telegram adapter.
type Options struct {
	Token string
	// APIEndpoint overrides the Bot API endpoint, e.g. "http://localhost:8081/bot%s/%s".
	APIEndpoint  string
	PollTimeout  time.Duration
	MaxFileBytes int64
	// Proxy routes every Bot API and file download request, e.g.
	// "socks5://127.0.0.1:1080". Empty falls back to the proxy environment.
	Proxy string
}

func (o Options) normalize() (Options, error) {
	o.Token = strings.TrimSpace(o.Token)
	if o.Token == "" {
		return o, fmt.Errorf("telegram bot token is required")
	}
	o.APIEndpoint = strings.TrimSpace(o.APIEndpoint)
	if o.PollTimeout <= 0 {
		o.PollTimeout = defaultPollTimeout
	}
	o.Proxy = strings.TrimSpace(o.Proxy)
	return o, nil
}

// newTransport clones the default transport and points it at proxy.
func newTransport(proxy string) (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxy == "" {
		return transport, nil
	}
	u, err := url.Parse(proxy)
	if err != nil {
		return nil, fmt.Errorf("telegram proxy: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("telegram proxy: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("telegram proxy: missing host")
	}
	transport.Proxy = http.ProxyURL(u)
	return transport, nil
}

// slogBotLogger routes the Bot API library's logging into slog.
type slogBotLogger struct {
	log *slog.Logger
}

func (l *slogBotLogger) Println(v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l *slogBotLogger) Printf(format string, v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
