// Package state persists the per-tenant recovery record. Each tenant owns one
// JSON file named {botId}{chatId} in the state directory; its presence marks a
// tenant that has completed at least one login.
package state

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const botIDPrefix = "leavexchat_"

// BotID derives the file-name prefix shared by every tenant of one controller bot.
func BotID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return botIDPrefix + hex.EncodeToString(sum[:])[:4] + "."
}

// RecentContact is enough to re-resolve the current contact after a restart.
type RecentContact struct {
	Name   string `json:"name"`
	Locked bool   `json:"locked"`
}

// Record is the decoded content of a tenant file. Absent fields stay zero.
type Record struct {
	RecentContact *RecentContact      `json:"recentContact,omitempty"`
	MuteList      []string            `json:"muteList,omitempty"`
	SoundOnly     []string            `json:"soundOnly,omitempty"`
	NamesOnly     map[string][]string `json:"namesOnly,omitempty"`
}

// Patch is a partial update. A nil field leaves the stored key untouched; a
// non-nil empty slice or map overwrites it with an empty value.
type Patch struct {
	RecentContact *RecentContact
	MuteList      []string
	SoundOnly     []string
	NamesOnly     map[string][]string
}

func (p Patch) fields() (map[string]json.RawMessage, error) {
	out := map[string]json.RawMessage{}
	put := func(key string, v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out[key] = raw
		return nil
	}
	if p.RecentContact != nil {
		if err := put("recentContact", p.RecentContact); err != nil {
			return nil, err
		}
	}
	if p.MuteList != nil {
		if err := put("muteList", p.MuteList); err != nil {
			return nil, err
		}
	}
	if p.SoundOnly != nil {
		if err := put("soundOnly", p.SoundOnly); err != nil {
			return nil, err
		}
	}
	if p.NamesOnly != nil {
		if err := put("namesOnly", p.NamesOnly); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Store reads and merge-writes tenant files. Writes for one tenant are
// serialized; different tenants never share a file.
type Store struct {
	dir    string
	prefix string
	logger *slog.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewStore creates a Store rooted at dir for files named prefix+chatID.
func NewStore(dir, prefix string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		dir:    dir,
		prefix: prefix,
		logger: log.With(slog.String("component", "state")),
		locks:  map[int64]*sync.Mutex{},
	}
}

// Dir returns the directory holding tenant files.
func (s *Store) Dir() string { return s.dir }

// Prefix returns the bot id prefix of tenant files.
func (s *Store) Prefix() string { return s.prefix }

// Path returns the file path for a tenant.
func (s *Store) Path(chatID int64) string {
	return filepath.Join(s.dir, s.prefix+strconv.FormatInt(chatID, 10))
}

func (s *Store) lock(chatID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[chatID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[chatID] = l
	}
	return l
}

// Exists reports whether the tenant has a file.
func (s *Store) Exists(chatID int64) bool {
	_, err := os.Stat(s.Path(chatID))
	return err == nil
}

// Load decodes the tenant file. A missing or empty file is an empty Record
// and found=false.
func (s *Store) Load(chatID int64) (Record, bool, error) {
	var rec Record
	raw, found, err := s.readRaw(chatID)
	if err != nil || !found {
		return rec, found, err
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, fmt.Errorf("%w: %s: %v", ErrDecodeFailed, s.Path(chatID), err)
	}
	return rec, true, nil
}

func (s *Store) readRaw(chatID int64) ([]byte, bool, error) {
	path := s.Path(chatID)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read state %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, false, nil
	}
	return data, true, nil
}

// Merge shallow-merges the patch into the stored object and writes the result
// atomically. Keys absent from the patch keep their stored values. An empty
// patch still creates the file.
func (s *Store) Merge(chatID int64, patch Patch) error {
	l := s.lock(chatID)
	l.Lock()
	defer l.Unlock()

	current := map[string]json.RawMessage{}
	raw, found, err := s.readRaw(chatID)
	if err != nil {
		return err
	}
	if found {
		if err := json.Unmarshal(raw, &current); err != nil {
			s.logger.Warn("discarding unreadable state",
				slog.Int64("chat_id", chatID),
				slog.Any("error", err),
			)
			current = map[string]json.RawMessage{}
		}
	}
	update, err := patch.fields()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	for key, value := range update {
		current[key] = value
	}
	data, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	data = append(data, '\n')
	return writeAtomic(s.Path(chatID), data)
}

// Delete removes the tenant file. Deleting a missing file is not an error.
func (s *Store) Delete(chatID int64) error {
	l := s.lock(chatID)
	l.Lock()
	defer l.Unlock()

	if err := os.Remove(s.Path(chatID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

// List returns the chat ids of every tenant file, sorted ascending.
func (s *Store) List() ([]int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list state dir: %w", err)
	}
	ids := make([]int64, 0)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ok := s.parseName(entry.Name())
		if !ok {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) parseName(name string) (int64, bool) {
	rest, ok := strings.CutPrefix(name, s.prefix)
	if !ok || rest == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
