// Package channel defines the controller-side messaging contract: inbound
// commands and replies from the tenant chat, outbound rendered messages, and
// the adapter interfaces a controller platform implements.
package channel

import (
	"strings"
	"time"
)

// ChannelType identifies a controller platform.
type ChannelType string

// String returns the channel type as a plain string.
func (c ChannelType) String() string {
	return string(c)
}

// Identity represents a sender's identity on a channel.
type Identity struct {
	SubjectID   string
	DisplayName string
	Attributes  map[string]string
}

// Attribute returns the trimmed value for the given key, or empty string if absent.
func (i Identity) Attribute(key string) string {
	if i.Attributes == nil {
		return ""
	}
	return strings.TrimSpace(i.Attributes[key])
}

// InboundMessage is a message or button press received from the tenant chat.
type InboundMessage struct {
	Channel     ChannelType
	ChatID      int64
	MessageID   int
	Text        string
	Sender      Identity
	Reply       *ReplyRef
	Attachments []Attachment
	Callback    *Callback
	// ForwardedFromBot marks a message the tenant forwarded from this bot.
	ForwardedFromBot bool
	ReceivedAt       time.Time
}

// Command splits a "/cmd@bot args" text into its lower-case name and argument string.
// ok is false for non-command text.
func (m InboundMessage) Command() (name string, args string, ok bool) {
	text := strings.TrimSpace(m.Text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text, " ")
	head = strings.TrimPrefix(head, "/")
	if at := strings.Index(head, "@"); at >= 0 {
		head = head[:at]
	}
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

// Callback is an inline button press.
type Callback struct {
	ID   string
	Data string
}

// ReplyRef points to the message being replied to.
type ReplyRef struct {
	MessageID int
	Text      string
	// FromBot reports whether the replied message was sent by this bot.
	FromBot bool
}

// MessageFormat indicates how the message text should be rendered.
type MessageFormat string

const (
	MessageFormatPlain    MessageFormat = "plain"
	MessageFormatHTML     MessageFormat = "html"
	MessageFormatMarkdown MessageFormat = "markdown"
)

// AttachmentType classifies the kind of binary attachment.
type AttachmentType string

const (
	AttachmentImage   AttachmentType = "image"
	AttachmentAudio   AttachmentType = "audio"
	AttachmentVideo   AttachmentType = "video"
	AttachmentVoice   AttachmentType = "voice"
	AttachmentFile    AttachmentType = "file"
	AttachmentGIF     AttachmentType = "gif"
	AttachmentSticker AttachmentType = "sticker"
)

// Attachment is a file carried by a message. Inbound attachments carry a
// PlatformKey; outbound attachments carry Data.
type Attachment struct {
	Type        AttachmentType `json:"type"`
	PlatformKey string         `json:"platform_key,omitempty"`
	URL         string         `json:"url,omitempty"`
	Name        string         `json:"name,omitempty"`
	Mime        string         `json:"mime,omitempty"`
	Size        int64          `json:"size,omitempty"`
	DurationSec int            `json:"duration_sec,omitempty"`
	Caption     string         `json:"caption,omitempty"`
	Data        []byte         `json:"-"`
}

// Reference returns the strongest available attachment reference.
func (a Attachment) Reference() string {
	if strings.TrimSpace(a.PlatformKey) != "" {
		return strings.TrimSpace(a.PlatformKey)
	}
	return strings.TrimSpace(a.URL)
}

// Action describes an inline button. Value is delivered back as Callback.Data.
type Action struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Message is an outbound message to the tenant chat.
type Message struct {
	Format      MessageFormat `json:"format,omitempty"`
	Text        string        `json:"text,omitempty"`
	Attachments []Attachment  `json:"attachments,omitempty"`
	Actions     []Action      `json:"actions,omitempty"`
	ReplyTo     int           `json:"reply_to,omitempty"`
}

// IsEmpty reports whether the message carries no content.
func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Text) == "" && len(m.Attachments) == 0
}

// OutboundMessage pairs a tenant chat with the message content.
type OutboundMessage struct {
	ChatID  int64   `json:"chat_id"`
	Message Message `json:"message"`
}

// SentMessage identifies a delivered message for later replies and deletes.
type SentMessage struct {
	ChatID    int64
	MessageID int
}
