// Package puppet defines the content-source account contract: the directory of
// contacts and rooms, the messages they exchange and the session events a login
// handle emits.
package puppet

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a message, contact or room is unknown to the source.
var ErrNotFound = errors.New("puppet: not found")

// Contact is a person or official account in the directory.
type Contact struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Alias    string `json:"alias,omitempty"`
	Official bool   `json:"official,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// Room is a group conversation.
type Room struct {
	ID    string `json:"id"`
	Topic string `json:"topic"`
}

// MessageType classifies a content-source message payload.
type MessageType string

const (
	MessageText       MessageType = "text"
	MessageAttachment MessageType = "attachment"
	MessageAudio      MessageType = "audio"
	MessageContact    MessageType = "contact"
	MessageImage      MessageType = "image"
	MessageVideo      MessageType = "video"
	MessageEmoticon   MessageType = "emoticon"
	MessageURL        MessageType = "url"
	MessageUnknown    MessageType = "unknown"
)

// Message is one content-source message.
type Message struct {
	ID     string      `json:"id"`
	Type   MessageType `json:"type"`
	Text   string      `json:"text,omitempty"`
	Talker Contact     `json:"talker"`
	Room   *Room       `json:"room,omitempty"`
	Self   bool        `json:"self,omitempty"`
	Date   time.Time   `json:"date"`
}

// InRoom reports whether the message was posted in a group.
func (m Message) InRoom() bool {
	return m.Room != nil && m.Room.ID != ""
}

// FriendRequest is an incoming friendship request.
type FriendRequest struct {
	ID      string  `json:"id"`
	Contact Contact `json:"contact"`
	Hello   string  `json:"hello,omitempty"`
}

// RoomInvitation is an invitation to join a group.
type RoomInvitation struct {
	ID      string  `json:"id"`
	Inviter Contact `json:"inviter"`
	Topic   string  `json:"topic"`
}

// FileBox is a file payload travelling in either direction.
type FileBox struct {
	Name string `json:"name"`
	Mime string `json:"mime,omitempty"`
	Data []byte `json:"data"`
}

// Size returns the payload length in bytes.
func (f FileBox) Size() int { return len(f.Data) }

// Payload is what Say delivers: exactly one of Text or File.
type Payload struct {
	Text string
	File *FileBox
}

// EventType names a session event.
type EventType string

const (
	EventScan       EventType = "scan"
	EventLogin      EventType = "login"
	EventLogout     EventType = "logout"
	EventMessage    EventType = "message"
	EventFriendship EventType = "friendship"
	EventRoomInvite EventType = "room-invite"
	EventError      EventType = "error"
)

// Event is one session event. Only the field matching Type is set.
type Event struct {
	Type       EventType
	QRCode     string
	User       *Contact
	Message    *Message
	Friendship *FriendRequest
	Invitation *RoomInvitation
	Err        error
}

// Directory lists the addressable peers of a logged-in account.
type Directory interface {
	Contacts(ctx context.Context) ([]Contact, error)
	Rooms(ctx context.Context) ([]Room, error)
}

// Client is one login handle. Events are delivered in emission order; the
// channel is closed when the handle stops.
type Client interface {
	Directory
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Logout(ctx context.Context) error
	Events() <-chan Event
	Say(ctx context.Context, to Peer, payload Payload) error
	Forward(ctx context.Context, messageID string, to Peer) error
	MessageFile(ctx context.Context, messageID string) (FileBox, error)
	AcceptFriend(ctx context.Context, requestID string) error
	AcceptRoom(ctx context.Context, invitationID string) error
	QuitRoom(ctx context.Context, roomID string) error
}

// Connector opens a login handle for a session key. The handle is idle until Start.
type Connector interface {
	Connect(ctx context.Context, sessionKey string) (Client, error)
}
