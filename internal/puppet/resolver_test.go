package puppet

import (
	"context"
	"errors"
	"testing"
)

type fakeDirectory struct {
	contacts    []Contact
	rooms       []Room
	contactsErr error
	roomCalls   int
}

func (d *fakeDirectory) Contacts(context.Context) ([]Contact, error) {
	return d.contacts, d.contactsErr
}

func (d *fakeDirectory) Rooms(context.Context) ([]Room, error) {
	d.roomCalls++
	return d.rooms, nil
}

func TestContactResolverOrder(t *testing.T) {
	t.Parallel()

	dir := &fakeDirectory{
		contacts: []Contact{
			{ID: "c1", Name: "Bob", Alias: "alice-work"},
			{ID: "c2", Name: "Alice", Alias: "ally"},
			{ID: "c3", Name: "Carol"},
		},
		rooms: []Room{{ID: "r1", Topic: "Alice fans"}, {ID: "r2", Topic: "Weekend hiking"}},
	}
	resolver := NewContactResolver(dir)

	cases := []struct {
		pattern string
		wantID  string
		kind    PeerKind
	}{
		{"ALICE", "c1", PeerPerson},
		{"ally", "c2", PeerPerson},
		{"carol", "c3", PeerPerson},
		{"hiking", "r2", PeerGroup},
		{"^wee", "r2", PeerGroup},
	}
	for _, tc := range cases {
		t.Run(tc.pattern, func(t *testing.T) {
			peer, ok, err := resolver.Resolve(context.Background(), tc.pattern)
			if err != nil || !ok {
				t.Fatalf("expected match, got ok=%v err=%v", ok, err)
			}
			if peer.ID() != tc.wantID || peer.Kind != tc.kind {
				t.Fatalf("expected %s/%s, got %s/%s", tc.wantID, tc.kind, peer.ID(), peer.Kind)
			}
		})
	}
}

func TestContactResolverNotFound(t *testing.T) {
	t.Parallel()

	dir := &fakeDirectory{contacts: []Contact{{ID: "c1", Name: "Bob"}}}
	peer, ok, err := NewContactResolver(dir).Resolve(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ok || !peer.IsZero() {
		t.Fatalf("expected not found, got %#v", peer)
	}
}

func TestContactResolverSkipsRoomsOnContactMatch(t *testing.T) {
	t.Parallel()

	dir := &fakeDirectory{contacts: []Contact{{ID: "c1", Name: "Bob"}}, rooms: []Room{{ID: "r1", Topic: "Bob"}}}
	peer, ok, _ := NewContactResolver(dir).Resolve(context.Background(), "bob")
	if !ok || peer.IsGroup() {
		t.Fatalf("expected contact match, got %#v", peer)
	}
	if dir.roomCalls != 0 {
		t.Fatalf("expected rooms not listed, got %d calls", dir.roomCalls)
	}
}

func TestContactResolverInvalidRegexIsLiteral(t *testing.T) {
	t.Parallel()

	dir := &fakeDirectory{contacts: []Contact{{ID: "c1", Name: "a(b"}}}
	peer, ok, err := NewContactResolver(dir).Resolve(context.Background(), "A(B")
	if err != nil || !ok || peer.ID() != "c1" {
		t.Fatalf("expected literal match, got ok=%v err=%v peer=%#v", ok, err, peer)
	}
}

func TestContactResolverDirectoryError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	_, ok, err := NewContactResolver(&fakeDirectory{contactsErr: boom}).Resolve(context.Background(), "x")
	if ok || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got ok=%v err=%v", ok, err)
	}
}

func TestPeerNames(t *testing.T) {
	t.Parallel()

	aliased := PersonPeer(Contact{ID: "c2", Name: "Alice", Alias: "ally"})
	if aliased.DisplayName() != "Alice (ally)" {
		t.Fatalf("unexpected display name: %q", aliased.DisplayName())
	}
	if aliased.StoreName() != "ally" {
		t.Fatalf("expected alias as store name, got %q", aliased.StoreName())
	}
	plain := PersonPeer(Contact{ID: "c3", Name: "Carol"})
	if plain.DisplayName() != "Carol" || plain.StoreName() != "Carol" {
		t.Fatalf("unexpected names: %q %q", plain.DisplayName(), plain.StoreName())
	}
	group := GroupPeer(Room{ID: "r1", Topic: "Family"})
	if group.DisplayName() != "Family" || group.StoreName() != "Family" || !group.IsGroup() {
		t.Fatalf("unexpected group peer: %#v", group)
	}
	if !aliased.Same(PersonPeer(Contact{ID: "c2"})) || aliased.Same(group) {
		t.Fatalf("unexpected Same result")
	}
	if !(Peer{}).IsZero() {
		t.Fatalf("expected zero peer")
	}
}
