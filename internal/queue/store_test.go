package queue

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/thrillee/aegisbulk/internal/batch"
	"github.com/thrillee/aegisbulk/internal/compose"
	"github.com/thrillee/aegisbulk/internal/contact"
)

func newStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, ttl), mr
}

func TestRedisStore_SaveLoad(t *testing.T) {
	t.Parallel()

	store, mr := newStore(t, time.Hour)
	ctx := context.Background()

	batches := batch.Append([]contact.Contact{
		contact.New("Amina", "0701234567", "a@example.com"),
		contact.New("Bob", "0772000111", ""),
	}, nil, 100)
	tpl := "tpl-1"
	snap := Snapshot{
		SessionID: "sess-1",
		Batches:   batches,
		Selected:  []string{batches[0].ID},
		Mode:      "personalized",
		Message:   compose.MessageSpec{Segments: []string{"Hello "}, ActiveDraft: "{{name}}", TemplateID: &tpl},
		SavedAt:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if ttl := mr.TTL(keyPrefix + "sess-1"); ttl <= 0 {
		t.Fatalf("expected TTL to be set, got %v", ttl)
	}

	got, err := store.Load(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(got.Batches) != 1 || len(got.Batches[0].Contacts) != 2 {
		t.Fatalf("unexpected batches: %+v", got.Batches)
	}
	if got.Batches[0].Contacts[0].DisplayName != "Amina" || got.Batches[0].Contacts[0].Email == nil {
		t.Fatalf("contact not round-tripped: %+v", got.Batches[0].Contacts[0])
	}
	if got.Message.TemplateID == nil || *got.Message.TemplateID != tpl {
		t.Fatalf("template id lost: %+v", got.Message)
	}
	if got.Mode != "personalized" || !got.SavedAt.Equal(snap.SavedAt) {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
}

func TestRedisStore_MissingAndDelete(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t, time.Minute)
	ctx := context.Background()

	if _, err := store.Load(ctx, "nope"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}

	for _, id := range []string{"b", "a"} {
		if err := store.Save(ctx, Snapshot{SessionID: id}); err != nil {
			t.Fatalf("Save(%s) error: %v", id, err)
		}
	}
	ids, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("unexpected ids: %v", ids)
	}

	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := store.Load(ctx, "a"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("expected deleted snapshot to be gone, got %v", err)
	}
	if err := store.Save(ctx, Snapshot{}); err == nil {
		t.Fatal("expected error for snapshot without session id")
	}
}

func TestRedisStore_Expires(t *testing.T) {
	t.Parallel()

	store, mr := newStore(t, time.Minute)
	ctx := context.Background()

	if err := store.Save(ctx, Snapshot{SessionID: "x"}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if _, err := store.Load(ctx, "x"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("expected expired snapshot, got %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
}
