package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/memohai/wxbridge/internal/puppet"
)

type request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// frame is any server-to-client message: a response carries ID, an event carries Event.
type frame struct {
	ID     string          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *frameError     `json:"error,omitempty"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type frameError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// RemoteError is an error reported by the gateway for one request.
type RemoteError struct {
	Method  string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway %s: %s (%s)", e.Method, e.Message, e.Code)
	}
	return fmt.Sprintf("gateway %s: %s", e.Method, e.Message)
}

func (e *RemoteError) Is(target error) bool {
	return target == puppet.ErrNotFound && e.Code == "not_found"
}

type peerRef struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

func toPeerRef(p puppet.Peer) peerRef {
	kind := "contact"
	if p.IsGroup() {
		kind = "room"
	}
	return peerRef{Kind: kind, ID: p.ID()}
}

type sayParams struct {
	To   peerRef         `json:"to"`
	Kind string          `json:"kind"`
	Text string          `json:"text,omitempty"`
	File *puppet.FileBox `json:"file,omitempty"`
}

type idParams struct {
	ID string `json:"id"`
}

type forwardParams struct {
	ID string  `json:"id"`
	To peerRef `json:"to"`
}

type scanData struct {
	QRCode string `json:"qrcode"`
}

type userData struct {
	User puppet.Contact `json:"user"`
}

type errorData struct {
	Message string `json:"message"`
}

func decodeEvent(f frame) (puppet.Event, error) {
	ev := puppet.Event{Type: puppet.EventType(f.Event)}
	var err error
	switch ev.Type {
	case puppet.EventScan:
		var d scanData
		err = json.Unmarshal(f.Data, &d)
		ev.QRCode = d.QRCode
	case puppet.EventLogin, puppet.EventLogout:
		var d userData
		err = json.Unmarshal(f.Data, &d)
		ev.User = &d.User
	case puppet.EventMessage:
		var m puppet.Message
		err = json.Unmarshal(f.Data, &m)
		ev.Message = &m
	case puppet.EventFriendship:
		var r puppet.FriendRequest
		err = json.Unmarshal(f.Data, &r)
		ev.Friendship = &r
	case puppet.EventRoomInvite:
		var inv puppet.RoomInvitation
		err = json.Unmarshal(f.Data, &inv)
		ev.Invitation = &inv
	case puppet.EventError:
		var d errorData
		err = json.Unmarshal(f.Data, &d)
		ev.Err = fmt.Errorf("gateway: %s", d.Message)
	default:
		return ev, fmt.Errorf("unknown event %q", f.Event)
	}
	if err != nil {
		return ev, fmt.Errorf("decode %s event: %w", f.Event, err)
	}
	return ev, nil
}
