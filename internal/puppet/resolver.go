package puppet

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// ContactResolver finds a peer by pattern: contact alias first, then contact
// name, then room topic. Matching is case-insensitive.
type ContactResolver struct {
	dir Directory
}

// NewContactResolver creates a resolver over a directory.
func NewContactResolver(dir Directory) ContactResolver {
	return ContactResolver{dir: dir}
}

// Resolve returns the first match. No match is (Peer{}, false, nil); only
// directory failures produce an error.
func (r ContactResolver) Resolve(ctx context.Context, pattern string) (Peer, bool, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || r.dir == nil {
		return Peer{}, false, nil
	}
	re := compilePattern(pattern)

	contacts, err := r.dir.Contacts(ctx)
	if err != nil {
		return Peer{}, false, fmt.Errorf("list contacts: %w", err)
	}
	for _, c := range contacts {
		if c.Alias != "" && re.MatchString(c.Alias) {
			return PersonPeer(c), true, nil
		}
	}
	for _, c := range contacts {
		if re.MatchString(c.Name) {
			return PersonPeer(c), true, nil
		}
	}

	rooms, err := r.dir.Rooms(ctx)
	if err != nil {
		return Peer{}, false, fmt.Errorf("list rooms: %w", err)
	}
	for _, room := range rooms {
		if re.MatchString(room.Topic) {
			return GroupPeer(room), true, nil
		}
	}
	return Peer{}, false, nil
}

// compilePattern treats the pattern as a regular expression and falls back to
// a literal match when it does not compile.
func compilePattern(pattern string) *regexp.Regexp {
	if re, err := regexp.Compile("(?i)" + pattern); err == nil {
		return re
	}
	return regexp.MustCompile("(?i)" + regexp.QuoteMeta(pattern))
}
