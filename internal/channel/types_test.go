package channel

import (
	"context"
	"errors"
	"testing"
)

func TestInboundCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		name string
		args string
		ok   bool
	}{
		{text: "/find Alice", name: "find", args: "Alice", ok: true},
		{text: "/LOCK", name: "lock", ok: true},
		{text: "/unmute@wxbridge_bot  Family  ", name: "unmute", args: "Family", ok: true},
		{text: "hello /find", ok: false},
		{text: "/", ok: false},
		{text: "", ok: false},
	}
	for _, tt := range tests {
		name, args, ok := InboundMessage{Text: tt.text}.Command()
		if ok != tt.ok || name != tt.name || args != tt.args {
			t.Fatalf("%q: expected (%q, %q, %v), got (%q, %q, %v)", tt.text, tt.name, tt.args, tt.ok, name, args, ok)
		}
	}
}

func TestMessageIsEmpty(t *testing.T) {
	t.Parallel()

	if !(Message{Text: "  "}).IsEmpty() {
		t.Fatalf("expected whitespace message to be empty")
	}
	if (Message{Attachments: []Attachment{{Type: AttachmentImage}}}).IsEmpty() {
		t.Fatalf("expected attachment message to be non-empty")
	}
}

func TestAttachmentReference(t *testing.T) {
	t.Parallel()

	att := Attachment{PlatformKey: " key ", URL: "https://example.com/a"}
	if att.Reference() != "key" {
		t.Fatalf("expected platform key preferred, got %q", att.Reference())
	}
	att.PlatformKey = ""
	if att.Reference() != "https://example.com/a" {
		t.Fatalf("expected url fallback, got %q", att.Reference())
	}
}

func TestBaseConnectionStop(t *testing.T) {
	t.Parallel()

	stopped := false
	conn := NewConnection(ChannelType("test"), func(context.Context) error {
		stopped = true
		return nil
	})
	if !conn.Running() {
		t.Fatalf("expected running connection")
	}
	if err := conn.Stop(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !stopped || conn.Running() {
		t.Fatalf("expected stopped connection")
	}
	if err := NewConnection("test", nil).Stop(context.Background()); !errors.Is(err, ErrStopNotSupported) {
		t.Fatalf("expected ErrStopNotSupported, got %v", err)
	}
}
