package store

import (
	"context"
	"errors"
	"testing"

	"perpcore/internal/keys"
	"perpcore/internal/perperr"
)

func testAddr(b byte) keys.Address {
	var a keys.Address
	a[0] = b
	a[31] = 1
	return a
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), testAddr(1))
	if !errors.Is(err, perperr.ErrNotInitialized) {
		t.Fatalf("err = %v, want ErrNotInitialized", err)
	}
}

func TestMemoryStore_CommitAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	batch := NewWriteBatch()
	batch.Put(Record{Address: testAddr(1), Owner: testAddr(9), Data: []byte{1, 2, 3}})
	batch.Put(Record{Address: testAddr(2), Owner: testAddr(9), Data: []byte{4}})
	if err := s.Commit(ctx, batch); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := s.Get(ctx, testAddr(1))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Data) != "\x01\x02\x03" || got.Owner != testAddr(9) {
		t.Fatalf("unexpected record: %+v", got)
	}
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	batch := NewWriteBatch()
	batch.Put(Record{Address: testAddr(1), Data: []byte{7}})
	if err := s.Commit(ctx, batch); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, _ := s.Get(ctx, testAddr(1))
	got.Data[0] = 0xff

	again, _ := s.Get(ctx, testAddr(1))
	if again.Data[0] != 7 {
		t.Fatal("mutating a returned record leaked into the store")
	}
}

func TestWriteBatch_LastWriteWinsPerAddress(t *testing.T) {
	batch := NewWriteBatch()
	batch.Put(Record{Address: testAddr(1), Data: []byte{1}})
	batch.Put(Record{Address: testAddr(2), Data: []byte{2}})
	batch.Put(Record{Address: testAddr(1), Data: []byte{3}})

	if batch.Len() != 2 {
		t.Fatalf("Len = %d, want 2", batch.Len())
	}
	records := batch.Records()
	if records[0].Address != testAddr(1) || records[0].Data[0] != 3 {
		t.Fatalf("first record = %+v, want address 1 with rewritten data", records[0])
	}
	if records[1].Address != testAddr(2) {
		t.Fatalf("second record = %+v, want address 2", records[1])
	}
}

func TestWriteBatch_PutCopiesData(t *testing.T) {
	data := []byte{1, 2}
	batch := NewWriteBatch()
	batch.Put(Record{Address: testAddr(1), Data: data})
	data[0] = 0xff

	if batch.Records()[0].Data[0] != 1 {
		t.Fatal("batch shares caller's backing slice")
	}
}
