package audit

import (
	"encoding/binary"
	"encoding/json"

	"github.com/cockroachdb/pebble"

	"github.com/efreitasn/tokex/internal/domain"
)

// Journal is an append-only event log backed by pebble, keyed by the
// event's global sequence number. It is the durable record behind the
// at-least-once delivery guarantee: live subscribers may lag or drop,
// but every transition can be replayed from here.
type Journal struct {
	db *pebble.DB
}

// OpenJournal opens (or creates) a journal at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Journal{db: db}, nil
}

// Close closes the underlying store.
func (j *Journal) Close() error {
	return j.db.Close()
}

// seqKey is 8 bytes big-endian so that pebble's key order matches
// event order.
func seqKey(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}

// Append writes the event at its sequence number, synced.
func (j *Journal) Append(ev domain.Event) error {
	val, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return j.db.Set(seqKey(ev.Sequence), val, pebble.Sync)
}

// LastSequence returns the sequence number of the newest journal entry,
// or 0 if the journal is empty. Used to resume sequencing on restart.
func (j *Journal) LastSequence() (uint64, error) {
	iter, err := j.db.NewIter(nil)
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return binary.BigEndian.Uint64(iter.Key()), nil
}

// Replay invokes fn for every event with sequence ≥ from, in order.
// Iteration stops early if fn returns false.
func (j *Journal) Replay(from uint64, fn func(domain.Event) bool) error {
	iter, err := j.db.NewIter(&pebble.IterOptions{LowerBound: seqKey(from)})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var ev domain.Event
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			return err
		}
		if !fn(ev) {
			break
		}
	}
	return iter.Error()
}
