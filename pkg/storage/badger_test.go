package storage

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func newTestBadger(t *testing.T, ttl time.Duration) (*BadgerStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewBadgerStore(dir, ttl)
	if err != nil {
		t.Fatalf("NewBadgerStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, dir
}

func TestNewBadgerStore_InvalidArgs(t *testing.T) {
	if _, err := NewBadgerStore("", 0); err == nil {
		t.Error("expected error for empty directory")
	}
	if _, err := NewBadgerStore(t.TempDir(), -time.Second); err == nil {
		t.Error("expected error for negative ttl")
	}
}

func TestBadgerStore_RoundTrip(t *testing.T) {
	store, _ := newTestBadger(t, 0)
	ctx := context.Background()

	want := testSnapshot("rps")
	want.GeneratedAt = want.GeneratedAt.UTC().Truncate(time.Millisecond)
	if err := store.Put(ctx, want); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, found, err := store.GetLatest(ctx, "rps")
	if err != nil || !found {
		t.Fatalf("GetLatest() = found %v, err %v", found, err)
	}
	if !got.GeneratedAt.Equal(want.GeneratedAt) {
		t.Errorf("GeneratedAt = %v, want %v", got.GeneratedAt, want.GeneratedAt)
	}
	if !reflect.DeepEqual(got.Rows, want.Rows) {
		t.Errorf("Rows = %+v, want %+v", got.Rows, want.Rows)
	}
	if !reflect.DeepEqual(got.Info.Values, want.Info.Values) {
		t.Errorf("Info.Values = %v, want %v", got.Info.Values, want.Info.Values)
	}
}

func TestBadgerStore_NotFound(t *testing.T) {
	store, _ := newTestBadger(t, 0)

	_, found, err := store.GetLatest(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetLatest() error = %v", err)
	}
	if found {
		t.Error("found = true for missing cell")
	}
	if _, _, err := store.GetLatest(context.Background(), ""); err == nil {
		t.Error("expected error for empty cell name")
	}
}

func TestBadgerStore_InvalidCellName(t *testing.T) {
	store, _ := newTestBadger(t, 0)
	if err := store.Put(context.Background(), testSnapshot("bad name")); err == nil {
		t.Error("expected error for invalid cell name")
	}
}

func TestBadgerStore_Delete(t *testing.T) {
	store, _ := newTestBadger(t, 0)
	ctx := context.Background()

	if err := store.Put(ctx, testSnapshot("c")); err != nil {
		t.Fatal(err)
	}
	deleted, err := store.Delete(ctx, "c")
	if err != nil || !deleted {
		t.Errorf("Delete() = %v, %v; want true, nil", deleted, err)
	}
	deleted, err = store.Delete(ctx, "c")
	if err != nil || deleted {
		t.Errorf("second Delete() = %v, %v; want false, nil", deleted, err)
	}
}

func TestBadgerStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewBadgerStore(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, testSnapshot("persisted")); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	reopened, err := NewBadgerStore(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	if _, found, err := reopened.GetLatest(ctx, "persisted"); err != nil || !found {
		t.Errorf("GetLatest() after reopen = found %v, err %v", found, err)
	}
}

func TestBadgerStore_TTL(t *testing.T) {
	store, _ := newTestBadger(t, time.Second)
	ctx := context.Background()

	if err := store.Put(ctx, testSnapshot("short")); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := store.GetLatest(ctx, "short"); !found {
		t.Fatal("snapshot missing right after Put")
	}

	// Badger TTLs have second granularity.
	time.Sleep(2100 * time.Millisecond)

	if _, found, _ := store.GetLatest(ctx, "short"); found {
		t.Error("snapshot should have expired")
	}
}

func TestCodec_RejectsGarbage(t *testing.T) {
	c, err := newCodec()
	if err != nil {
		t.Fatal(err)
	}
	defer c.close()

	if _, err := c.decode([]byte("not zstd")); err == nil {
		t.Error("expected decode error")
	}

	data, err := c.encode(testSnapshot("c"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.decode(data)
	if err != nil {
		t.Fatalf("decode() error = %v", err)
	}
	if got.Cell != "c" || got.StoreSize != 2 {
		t.Errorf("decoded = %+v", got)
	}
}
