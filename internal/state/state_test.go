package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), BotID("123:token"), nil)
}

func TestBotID(t *testing.T) {
	t.Parallel()

	id := BotID("123:token")
	if !strings.HasPrefix(id, "leavexchat_") || !strings.HasSuffix(id, ".") {
		t.Fatalf("unexpected bot id: %q", id)
	}
	if len(id) != len("leavexchat_")+4+1 {
		t.Fatalf("expected 4 hex chars, got %q", id)
	}
	if BotID("123:token") != id {
		t.Fatalf("expected stable bot id")
	}
	if BotID("456:other") == id {
		t.Fatalf("expected different tokens to differ")
	}
}

func TestLoadMissingIsEmpty(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	rec, found, err := store.Load(42)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, Record{}, rec)
	assert.False(t, store.Exists(42))
}

func TestMergeKeepsEarlierFields(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, store.Merge(42, Patch{MuteList: []string{"A"}}))
	require.NoError(t, store.Merge(42, Patch{SoundOnly: []string{"B"}}))

	rec, found, err := store.Load(42)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"A"}, rec.MuteList)
	assert.Equal(t, []string{"B"}, rec.SoundOnly)
}

func TestMergeOverridesPresentKeys(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, store.Merge(7, Patch{
		RecentContact: &RecentContact{Name: "ally", Locked: false},
		MuteList:      []string{"A", "B"},
	}))
	require.NoError(t, store.Merge(7, Patch{
		RecentContact: &RecentContact{Name: "ally", Locked: true},
		MuteList:      []string{},
	}))

	raw, err := os.ReadFile(store.Path(7))
	require.NoError(t, err)
	var obj map[string]any
	require.NoError(t, json.Unmarshal(raw, &obj))
	assert.Equal(t, map[string]any{"name": "ally", "locked": true}, obj["recentContact"])
	assert.Equal(t, []any{}, obj["muteList"])
}

func TestMergeEmptyPatchCreatesFile(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, store.Merge(9, Patch{}))
	assert.True(t, store.Exists(9))

	rec, found, err := store.Load(9)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Nil(t, rec.RecentContact)
}

func TestMergePreservesUnknownKeys(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, os.WriteFile(store.Path(3), []byte(`{"legacy":1}`), 0o600))
	require.NoError(t, store.Merge(3, Patch{NamesOnly: map[string][]string{"room": {"bob"}}}))

	raw, err := os.ReadFile(store.Path(3))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"legacy"`)
	assert.Contains(t, string(raw), `"namesOnly"`)
}

func TestLoadCorruptFile(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, os.WriteFile(store.Path(5), []byte(`{not json`), 0o600))
	_, _, err := store.Load(5)
	require.ErrorIs(t, err, ErrDecodeFailed)
}

func TestDeleteAndList(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, store.Merge(20, Patch{}))
	require.NoError(t, store.Merge(-1001, Patch{}))
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "unrelated"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), store.Prefix()+"abc"), []byte("x"), 0o600))

	ids, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []int64{-1001, 20}, ids)

	require.NoError(t, store.Delete(20))
	require.NoError(t, store.Delete(20))
	ids, err = store.List()
	require.NoError(t, err)
	assert.Equal(t, []int64{-1001}, ids)
}

func TestListMissingDir(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), "nope"), "p.", nil)
	ids, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, ids)
}
