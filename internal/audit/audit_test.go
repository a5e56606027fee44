package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/efreitasn/tokex/internal/domain"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenJournal(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_AppendAndReplay(t *testing.T) {
	j := openTestJournal(t)

	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, j.Append(domain.Event{
			Sequence:     seq,
			Type:         domain.EventOrderAccepted,
			InstrumentID: "TOK-USD",
		}))
	}

	var got []uint64
	require.NoError(t, j.Replay(1, func(ev domain.Event) bool {
		got = append(got, ev.Sequence)
		return true
	}))
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, got)
}

func TestJournal_ReplayFromOffset(t *testing.T) {
	j := openTestJournal(t)
	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, j.Append(domain.Event{Sequence: seq, Type: domain.EventTradeExecuted}))
	}

	var got []uint64
	require.NoError(t, j.Replay(3, func(ev domain.Event) bool {
		got = append(got, ev.Sequence)
		return true
	}))
	assert.Equal(t, []uint64{3, 4, 5}, got)
}

func TestJournal_ReplayStopsEarly(t *testing.T) {
	j := openTestJournal(t)
	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, j.Append(domain.Event{Sequence: seq, Type: domain.EventTradeExecuted}))
	}

	var got []uint64
	require.NoError(t, j.Replay(1, func(ev domain.Event) bool {
		got = append(got, ev.Sequence)
		return len(got) < 2
	}))
	assert.Equal(t, []uint64{1, 2}, got)
}

func TestJournal_LastSequence(t *testing.T) {
	j := openTestJournal(t)

	last, err := j.LastSequence()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), last, "empty journal reads 0")

	require.NoError(t, j.Append(domain.Event{Sequence: 7}))
	require.NoError(t, j.Append(domain.Event{Sequence: 9}))

	last, err = j.LastSequence()
	require.NoError(t, err)
	assert.Equal(t, uint64(9), last)
}

func TestEmitter_AssignsMonotonicSequence(t *testing.T) {
	e := NewEmitter(nil, zap.NewNop())

	ch, cancel := e.Subscribe(8)
	defer cancel()

	e.Emit(domain.Event{Type: domain.EventOrderAccepted})
	e.Emit(domain.Event{Type: domain.EventOrderFilled})
	e.Emit(domain.Event{Type: domain.EventTradeExecuted})

	for want := uint64(1); want <= 3; want++ {
		ev := <-ch
		assert.Equal(t, want, ev.Sequence)
		assert.False(t, ev.Timestamp.IsZero())
	}
	assert.Equal(t, uint64(3), e.LastSequence())
}

func TestEmitter_ResumesSequenceFromJournal(t *testing.T) {
	dir := t.TempDir()

	j, err := OpenJournal(dir)
	require.NoError(t, err)
	e := NewEmitter(j, zap.NewNop())
	e.Emit(domain.Event{Type: domain.EventOrderAccepted})
	e.Emit(domain.Event{Type: domain.EventOrderFilled})
	e.Close()
	require.NoError(t, j.Close())

	// Restart: sequencing picks up where the journal left off.
	j2, err := OpenJournal(dir)
	require.NoError(t, err)
	defer j2.Close()
	e2 := NewEmitter(j2, zap.NewNop())
	defer e2.Close()

	ch, cancel := e2.Subscribe(1)
	defer cancel()
	e2.Emit(domain.Event{Type: domain.EventTradeExecuted})

	ev := <-ch
	assert.Equal(t, uint64(3), ev.Sequence)
}

func TestEmitter_SlowSubscriberDropsFromLiveFeedOnly(t *testing.T) {
	j := openTestJournal(t)
	e := NewEmitter(j, zap.NewNop())

	ch, cancel := e.Subscribe(1)
	defer cancel()

	// Buffer of 1: the second event is dropped from the live feed.
	e.Emit(domain.Event{Type: domain.EventOrderAccepted})
	e.Emit(domain.Event{Type: domain.EventOrderFilled})

	ev := <-ch
	assert.Equal(t, uint64(1), ev.Sequence)
	select {
	case unexpected := <-ch:
		t.Fatalf("expected drop, got %+v", unexpected)
	default:
	}

	// The journal still has both once the writer drains.
	e.Close()
	var seqs []uint64
	require.NoError(t, j.Replay(1, func(ev domain.Event) bool {
		seqs = append(seqs, ev.Sequence)
		return true
	}))
	assert.Equal(t, []uint64{1, 2}, seqs)
}

func TestEmitter_JournalWriterDrainsInOrder(t *testing.T) {
	j := openTestJournal(t)
	e := NewEmitter(j, zap.NewNop())

	const n = 200
	for i := 0; i < n; i++ {
		e.Emit(domain.Event{Type: domain.EventTradeExecuted, InstrumentID: "TOK-USD"})
	}
	e.Close()

	var seqs []uint64
	require.NoError(t, j.Replay(1, func(ev domain.Event) bool {
		seqs = append(seqs, ev.Sequence)
		return true
	}))
	require.Len(t, seqs, n)
	for i, seq := range seqs {
		assert.Equal(t, uint64(i+1), seq)
	}
}

func TestEmitter_CloseIsIdempotent(t *testing.T) {
	j := openTestJournal(t)
	e := NewEmitter(j, zap.NewNop())
	e.Emit(domain.Event{Type: domain.EventOrderAccepted})
	e.Close()
	e.Close()

	// An emitter without a journal closes cleanly too.
	e2 := NewEmitter(nil, zap.NewNop())
	e2.Emit(domain.Event{Type: domain.EventOrderAccepted})
	e2.Close()
}

func TestEmitter_CancelClosesChannel(t *testing.T) {
	e := NewEmitter(nil, zap.NewNop())
	ch, cancel := e.Subscribe(1)
	cancel()
	_, open := <-ch
	assert.False(t, open)
	// Double-cancel is safe.
	cancel()
}
