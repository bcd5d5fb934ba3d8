package artifact

import (
	"context"
	"fmt"
	"sort"

	"biodb/internal/blob"
)

// Orphans returns the keys present under prefix that are not in referenced,
// sorted. A prefix with nothing stored under it (including a storage
// directory that does not exist) yields no orphans.
func Orphans(ctx context.Context, store blob.Store, prefix string, referenced map[string]struct{}) ([]string, error) {
	infos, err := store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	var orphans []string
	for _, info := range infos {
		if _, ok := referenced[info.Key]; !ok {
			orphans = append(orphans, info.Key)
		}
	}
	sort.Strings(orphans)
	return orphans, nil
}

// Load reads and decodes the artifact stored under key.
func Load(ctx context.Context, store blob.Store, key string, schema Schema) (Data, error) {
	_, rc, err := store.Get(ctx, key)
	if err != nil {
		return Data{}, fmt.Errorf("open artifact %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	d, err := Decode(rc, schema)
	if err != nil {
		return Data{}, fmt.Errorf("artifact %s: %w", key, err)
	}
	return d, nil
}
