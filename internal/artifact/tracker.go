package artifact

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/zeebo/errs"

	"biodb/internal/blob"
)

// Tracker records every artifact written during one ingestion call so that
// they can be deleted when the surrounding transaction does not commit.
type Tracker struct {
	store blob.Store
	log   zerolog.Logger

	mu   sync.Mutex
	keys []string
}

// NewTracker returns an empty tracker writing to store.
func NewTracker(store blob.Store, log zerolog.Logger) *Tracker {
	return &Tracker{store: store, log: log}
}

// Write encodes d, stores it under key and tracks the key. The key is
// tracked only after the store accepted it.
func (t *Tracker) Write(ctx context.Context, key string, schema Schema, d Data) (blob.Info, error) {
	b, err := Marshal(schema, d)
	if err != nil {
		return blob.Info{}, err
	}
	info, err := t.store.Put(ctx, key, bytes.NewReader(b), blob.PutOptions{
		ContentType: ContentType,
		Metadata:    map[string]string{"patient_id": d.PatientID, "schema": schema.Name},
	})
	if err != nil {
		return blob.Info{}, fmt.Errorf("write artifact %s: %w", key, err)
	}
	t.Track(key)
	return info, nil
}

// Track adds an externally written key to the pending-cleanup list.
func (t *Tracker) Track(key string) {
	t.mu.Lock()
	t.keys = append(t.keys, key)
	t.mu.Unlock()
}

// Keys returns the tracked keys in write order.
func (t *Tracker) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.keys...)
}

// Rollback deletes every tracked key in reverse write order and clears the
// list. All deletions are attempted; failures are combined.
func (t *Tracker) Rollback(ctx context.Context) (int, error) {
	return t.remove(ctx, func(string) bool { return true })
}

// CleanupTemp deletes tracked keys whose name carries TempPrefix.
func (t *Tracker) CleanupTemp(ctx context.Context) (int, error) {
	return t.remove(ctx, IsTemp)
}

func (t *Tracker) remove(ctx context.Context, match func(string) bool) (int, error) {
	t.mu.Lock()
	keys := t.keys
	t.keys = nil
	t.mu.Unlock()

	var (
		group   errs.Group
		kept    []string
		removed int
	)
	for i := len(keys) - 1; i >= 0; i-- {
		key := keys[i]
		if !match(key) {
			kept = append([]string{key}, kept...)
			continue
		}
		ok, err := t.store.Delete(ctx, key)
		if err != nil {
			t.log.Warn().Err(err).Str("key", key).Msg("artifact cleanup failed")
			group.Add(fmt.Errorf("delete %s: %w", key, err))
			continue
		}
		if ok {
			removed++
		}
	}
	t.mu.Lock()
	t.keys = append(kept, t.keys...)
	t.mu.Unlock()
	return removed, group.Err()
}
