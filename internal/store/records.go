package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/offsync/internal/record"
)

// RecordStore persists the Record Set snapshot under KeyRecords.
//
// It keeps no copy of what it wrote: every Save compares against the row
// as it is now, so writes by another process sharing the backend are seen.
type RecordStore struct {
	backend Backend
}

// NewRecordStore layers a RecordStore on backend.
func NewRecordStore(backend Backend) *RecordStore {
	return &RecordStore{backend: backend}
}

// Load reads the snapshot. found is false when nothing was ever saved.
func (rs *RecordStore) Load(ctx context.Context) (set record.Set, found bool, err error) {
	raw, err := rs.backend.Get(ctx, KeyRecords)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load records: %w", err)
	}

	set, err = record.ParseSet([]byte(raw))
	if err != nil {
		return nil, false, fmt.Errorf("load records: %w", err)
	}
	return set, true, nil
}

// Save writes the canonical encoding of set. When the stored bytes are
// already identical nothing is written and changed is false.
func (rs *RecordStore) Save(ctx context.Context, set record.Set) (changed bool, err error) {
	data, err := set.Canonical()
	if err != nil {
		return false, fmt.Errorf("save records: %w", err)
	}
	value := string(data)

	current, err := rs.backend.Get(ctx, KeyRecords)
	switch {
	case err == nil && current == value:
		return false, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return false, fmt.Errorf("save records: %w", err)
	}

	if err := rs.backend.Set(ctx, KeyRecords, value); err != nil {
		return false, fmt.Errorf("save records: %w", err)
	}
	return true, nil
}
