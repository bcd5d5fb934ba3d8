package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"biodb/internal/blob/core"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestStore_PutGetHeadListDelete(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	info, err := store.Put(ctx, "array_data/p_1_1.jsonl", bytes.NewReader([]byte("hello")), core.PutOptions{ContentType: "application/jsonl", Metadata: map[string]string{"patient_id": "p"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "array_data/p_1_1.jsonl" || info.Size != 5 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "array_data/p_1_1.jsonl", bytes.NewReader([]byte("x")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	h, err := store.Head(ctx, "array_data/p_1_1.jsonl")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	g, rc, err := store.Get(ctx, "array_data/p_1_1.jsonl")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if string(b) != "hello" || g.ETag != h.ETag || g.Metadata["patient_id"] != "p" {
		t.Fatalf("unexpected get result %+v %q", g, b)
	}
	ok, err := store.Delete(ctx, "array_data/p_1_1.jsonl")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), "array_data", "p_1_1.jsonl"+metaSuffix)); !os.IsNotExist(err) {
		t.Fatalf("sidecar must be removed with the artifact")
	}
	if _, _, err := store.Get(ctx, "array_data/p_1_1.jsonl"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_RejectsUnsafeKeys(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	for _, key := range []string{"", "  ", "../escape.txt", "a/../../b", "/etc/passwd", "x.jsonl.meta"} {
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte("x")), core.PutOptions{}); err == nil {
			t.Fatalf("expected rejection of key %q", key)
		}
	}
}

func TestStore_ListMissingDirectoryIsEmpty(t *testing.T) {
	store := newTempStore(t)
	infos, err := store.List(context.Background(), "never_written/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("expected no entries, got %v", infos)
	}
}

func TestStore_ListFiltersByPrefixAndSorts(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	for i := 3; i >= 1; i-- {
		key := "array_data/p_1_" + strconv.Itoa(i) + ".jsonl"
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	if _, err := store.Put(ctx, "array_data/__TEMP__ab_p_1_9.jsonl", bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
		t.Fatalf("put temp: %v", err)
	}
	if _, err := store.Put(ctx, "other/p.jsonl", bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
		t.Fatalf("put other: %v", err)
	}
	all, err := store.List(ctx, "array_data/")
	if err != nil || len(all) != 4 {
		t.Fatalf("list: %d %v", len(all), err)
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Key > all[i].Key {
			t.Fatalf("list not sorted: %v", all)
		}
	}
	temp, err := store.List(ctx, "array_data/__TEMP__")
	if err != nil || len(temp) != 1 {
		t.Fatalf("temp list: %v %v", temp, err)
	}
	root, err := store.List(ctx, "")
	if err != nil || len(root) != 5 {
		t.Fatalf("root list: %d %v", len(root), err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestStore_FailedPutLeavesNothing(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if _, err := store.Put(ctx, "array_data/broken.jsonl", failingReader{}, core.PutOptions{}); err == nil {
		t.Fatalf("expected copy failure")
	}
	entries, err := os.ReadDir(filepath.Join(store.Root(), "array_data"))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty directory, found %d entries", len(entries))
	}
}
