package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"biodb/internal/blob/core"
)

func TestStoreCopiesOnReadAndWrite(t *testing.T) {
	ctx := context.Background()
	s := New()
	md := map[string]string{"patient_id": "a"}
	if _, err := s.Put(ctx, "k", bytes.NewReader([]byte("abc")), core.PutOptions{Metadata: md}); err != nil {
		t.Fatalf("put: %v", err)
	}
	md["patient_id"] = "mutated"
	info, rc, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if info.Metadata["patient_id"] != "a" {
		t.Fatalf("metadata aliased caller map")
	}
	info.Metadata["patient_id"] = "changed"
	head, _ := s.Head(ctx, "k")
	if head.Metadata["patient_id"] != "a" {
		t.Fatalf("metadata aliased returned map")
	}
	b, _ := io.ReadAll(rc)
	if string(b) != "abc" {
		t.Fatalf("unexpected body %q", b)
	}
	if _, err := s.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Put(ctx, "", bytes.NewReader(nil), core.PutOptions{}); err == nil {
		t.Fatalf("expected empty key error")
	}
}

func TestStoreConcurrentPuts(t *testing.T) {
	ctx := context.Background()
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.Put(ctx, fmt.Sprintf("array_data/%02d.jsonl", i), bytes.NewReader([]byte("x")), core.PutOptions{})
		}(i)
	}
	wg.Wait()
	if s.Len() != 32 {
		t.Fatalf("expected 32 blobs, got %d", s.Len())
	}
	infos, err := s.List(ctx, "array_data/")
	if err != nil || len(infos) != 32 || infos[0].Key != "array_data/00.jsonl" {
		t.Fatalf("list: %v %v", len(infos), err)
	}
}
