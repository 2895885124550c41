package puppet

import "strings"

// PeerKind tags a Peer as a person or a group.
type PeerKind int

const (
	PeerNone PeerKind = iota
	PeerPerson
	PeerGroup
)

func (k PeerKind) String() string {
	switch k {
	case PeerPerson:
		return "person"
	case PeerGroup:
		return "group"
	default:
		return "none"
	}
}

// Peer is an addressable content-source entity. The zero Peer addresses nobody.
type Peer struct {
	Kind    PeerKind
	Contact Contact
	Room    Room
}

// PersonPeer wraps a contact.
func PersonPeer(c Contact) Peer { return Peer{Kind: PeerPerson, Contact: c} }

// GroupPeer wraps a room.
func GroupPeer(r Room) Peer { return Peer{Kind: PeerGroup, Room: r} }

// IsZero reports whether the peer addresses nobody.
func (p Peer) IsZero() bool { return p.Kind == PeerNone }

// IsGroup reports whether the peer is a room.
func (p Peer) IsGroup() bool { return p.Kind == PeerGroup }

// ID returns the source-side handle.
func (p Peer) ID() string {
	switch p.Kind {
	case PeerPerson:
		return p.Contact.ID
	case PeerGroup:
		return p.Room.ID
	default:
		return ""
	}
}

// Name returns the contact name or room topic.
func (p Peer) Name() string {
	switch p.Kind {
	case PeerPerson:
		return p.Contact.Name
	case PeerGroup:
		return p.Room.Topic
	default:
		return ""
	}
}

// DisplayName formats as "Name (Alias)" for aliased contacts, else the name or topic.
func (p Peer) DisplayName() string {
	if p.Kind == PeerPerson {
		return DisplayName(p.Contact)
	}
	return p.Name()
}

// StoreName is the key persisted for recovery: the alias when present.
func (p Peer) StoreName() string {
	if p.Kind == PeerPerson {
		if alias := strings.TrimSpace(p.Contact.Alias); alias != "" {
			return alias
		}
	}
	return p.Name()
}

// Same reports whether both peers address the same entity.
func (p Peer) Same(other Peer) bool {
	return p.Kind == other.Kind && p.ID() == other.ID()
}

// DisplayName formats a contact as "Name (Alias)" or "Name".
func DisplayName(c Contact) string {
	alias := strings.TrimSpace(c.Alias)
	if alias == "" {
		return c.Name
	}
	return c.Name + " (" + alias + ")"
}
