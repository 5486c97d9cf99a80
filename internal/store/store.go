// Package store persists account records. An account is an opaque fixed-layout
// blob plus its owning program; every state transition stages its writes in a
// WriteBatch that the backing store applies all-or-nothing.
package store

import (
	"context"

	"perpcore/internal/keys"
)

// Record is one stored account.
type Record struct {
	Address keys.Address
	Owner   keys.Address
	Data    []byte
}

// Clone deep-copies the record so callers can mutate the data freely.
func (r Record) Clone() Record {
	data := make([]byte, len(r.Data))
	copy(data, r.Data)
	return Record{Address: r.Address, Owner: r.Owner, Data: data}
}

// AccountStore is the persistence boundary for account records.
type AccountStore interface {
	// Get returns the record at address, or perperr.ErrNotInitialized.
	Get(ctx context.Context, address keys.Address) (Record, error)
	// Has reports whether a record exists at address.
	Has(ctx context.Context, address keys.Address) (bool, error)
	// Commit applies every write in the batch atomically: either all
	// records land or the store is unchanged.
	Commit(ctx context.Context, batch *WriteBatch) error
}

// WriteBatch stages account writes for a single atomic commit. The batch
// keeps last-write-wins semantics per address and preserves first-write
// ordering.
type WriteBatch struct {
	order   []keys.Address
	records map[keys.Address]Record
}

// NewWriteBatch returns an empty batch.
func NewWriteBatch() *WriteBatch {
	return &WriteBatch{records: make(map[keys.Address]Record)}
}

// Put stages a record. Staging the same address again replaces the earlier
// write in place.
func (b *WriteBatch) Put(r Record) {
	if _, ok := b.records[r.Address]; !ok {
		b.order = append(b.order, r.Address)
	}
	b.records[r.Address] = r.Clone()
}

// Len returns the number of distinct staged addresses.
func (b *WriteBatch) Len() int { return len(b.order) }

// Records returns the staged writes in first-write order.
func (b *WriteBatch) Records() []Record {
	out := make([]Record, 0, len(b.order))
	for _, addr := range b.order {
		out = append(out, b.records[addr])
	}
	return out
}
