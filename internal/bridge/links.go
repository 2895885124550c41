package bridge

import (
	"slices"

	"github.com/memohai/wxbridge/internal/puppet"
)

// Link maps a controller message to the peer it relates to. Source is nil for
// controller-originated entries such as /find and /current replies.
type Link struct {
	Peer   puppet.Peer
	Source *puppet.Message
}

// MessageBridge is a tenant's reply-addressing table plus its current contact.
// Controller message ids are treated as a monotonic sequence per tenant.
type MessageBridge struct {
	keep    int
	links   map[int]Link
	maxID   int
	firstID int
	current puppet.Peer
	locked  bool
}

// NewMessageBridge creates a bridge retaining the latest keep message ids.
func NewMessageBridge(keep int) *MessageBridge {
	if keep <= 0 {
		keep = 200
	}
	return &MessageBridge{keep: keep, links: map[int]Link{}}
}

// Record maps id to peer, moves the current contact to peer unless locked and
// returns the ids evicted from the retention window, ascending.
func (b *MessageBridge) Record(id int, peer puppet.Peer, src *puppet.Message) []int {
	if id <= 0 || peer.IsZero() {
		return nil
	}
	b.links[id] = Link{Peer: peer, Source: src}
	if b.firstID == 0 || id < b.firstID {
		b.firstID = id
	}
	if id > b.maxID {
		b.maxID = id
	}
	if !b.locked {
		b.current = peer
	}
	threshold := b.maxID - b.keep
	if threshold <= 0 {
		return nil
	}
	var evicted []int
	for linkID := range b.links {
		if linkID <= threshold {
			evicted = append(evicted, linkID)
		}
	}
	if len(evicted) == 0 {
		return nil
	}
	for _, linkID := range evicted {
		delete(b.links, linkID)
	}
	if b.firstID <= threshold {
		b.firstID = 0
		for linkID := range b.links {
			if b.firstID == 0 || linkID < b.firstID {
				b.firstID = linkID
			}
		}
	}
	slices.Sort(evicted)
	return evicted
}

// Resolve returns the link recorded for a controller message id.
func (b *MessageBridge) Resolve(id int) (Link, bool) {
	link, ok := b.links[id]
	return link, ok
}

// Target returns the peer a controller message should go to: the peer of the
// replied message when bridged, else the current contact.
func (b *MessageBridge) Target(replyTo int) (puppet.Peer, bool) {
	if replyTo > 0 {
		if link, ok := b.links[replyTo]; ok {
			return link.Peer, true
		}
	}
	return b.current, !b.current.IsZero()
}

// Current returns the current contact, zero when unset.
func (b *MessageBridge) Current() puppet.Peer { return b.current }

// SetCurrent replaces the current contact regardless of the lock.
func (b *MessageBridge) SetCurrent(p puppet.Peer) { b.current = p }

// Locked reports whether the current contact is pinned.
func (b *MessageBridge) Locked() bool { return b.locked }

// Lock pins the current contact.
func (b *MessageBridge) Lock() { b.locked = true }

// Unlock releases the pin.
func (b *MessageBridge) Unlock() { b.locked = false }

// FirstID returns the earliest controller message id still retained.
func (b *MessageBridge) FirstID() int { return b.firstID }

// Len returns the number of retained links.
func (b *MessageBridge) Len() int { return len(b.links) }
