// Package storage defines the persisted CacheEntry shape and the
// dialect-agnostic ConnectionFactory contract the engine drives.
package storage

import (
	"fmt"

	"github.com/kvlite/kvlite/internal/kverrors"
)

// MaxParentKeys is the hard ceiling on parent references per entry; a
// sixth parent key is rejected.
const MaxParentKeys = 5

// Canonical column names, shared by every dialect's SQL generator so the
// schema is never duplicated as ad-hoc strings.
const (
	ColID         = "kvle_id"
	ColPartition  = "kvle_partition"
	ColKey        = "kvle_key"
	ColExpiry     = "kvle_expiry"
	ColInterval   = "kvle_interval"
	ColValue      = "kvle_value"
	ColCompressed = "kvle_compressed"
	ColCreation   = "kvle_creation"
)

// ColParent returns the column name for parent slot i (0..MaxParentKeys-1).
func ColParent(i int) string {
	const letters = "01234"
	return "kvle_parent_key" + string(letters[i])
}

// AllColumns is the full ordered column list, matching the order every
// dialect's CreateTableDDL and Upsert statement binds in.
func AllColumns() []string {
	cols := []string{ColID, ColPartition, ColKey, ColExpiry, ColInterval, ColValue, ColCompressed, ColCreation}
	for i := 0; i < MaxParentKeys; i++ {
		cols = append(cols, ColParent(i))
	}
	return cols
}

// CacheEntry is the sole persisted entity.
type CacheEntry struct {
	ID          string
	Partition   string
	Key         string
	UTCExpiry   int64
	Interval    int64
	Value       []byte
	Compressed  bool
	UTCCreation int64
	ParentKeys  [MaxParentKeys]string // "" means absent
}

// ParentKeyList returns the non-empty parent keys in slot order.
func (e *CacheEntry) ParentKeyList() []string {
	out := make([]string, 0, MaxParentKeys)
	for _, p := range e.ParentKeys {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SetParentKeys validates and assigns parentKeys (at most MaxParentKeys,
// none empty) into e.ParentKeys.
func (e *CacheEntry) SetParentKeys(parentKeys []string) error {
	if len(parentKeys) > MaxParentKeys {
		return kverrors.New(kverrors.InvalidArgument, "CacheEntry.SetParentKeys", fmt.Errorf("at most %d parent keys allowed, got %d", MaxParentKeys, len(parentKeys)))
	}
	var out [MaxParentKeys]string
	for i, p := range parentKeys {
		if p == "" {
			return kverrors.New(kverrors.InvalidArgument, "CacheEntry.SetParentKeys", fmt.Errorf("parent key at index %d is empty", i))
		}
		out[i] = p
	}
	e.ParentKeys = out
	return nil
}

// Expired reports whether the entry is expired as of nowUnix. Expiry is
// exclusive: a row whose utc_expiry equals now is already expired, so an
// entry is live only while utc_expiry > nowUnix.
func (e *CacheEntry) Expired(nowUnix int64) bool {
	return e.UTCExpiry <= nowUnix
}
