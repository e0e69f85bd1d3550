package journal

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/chalkline/chalkline/pkg/types"
)

func testEvent(interaction string) types.Event {
	gen := types.NewIDGenerator()
	id, _ := gen.Generate()
	now := time.Now().UTC().Truncate(time.Millisecond)
	return types.Event{
		ID:                 id,
		SessionHash:        "a1b2",
		InteractionType:    interaction,
		BehavioralCategory: "engagement",
		Indicators: map[string]types.Value{
			"engagement_level": types.String("high"),
		},
		OccurredAt: now,
		RecordedAt: now,
		Provenance: types.Provenance{Anonymized: true, AnonymizedAt: now, Level: "hashed_correlation_v1"},
		SyncState:  types.SyncPending,
	}
}

func TestAppendAndReadBack(t *testing.T) {
	dir := t.TempDir()
	j, err := New(dir, 64*1024*1024)
	assert.NoError(t, err)
	defer j.Close()

	ev := testEvent("lesson_start")
	seq, err := j.Append(ev)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	entries, err := ReadSegment(filepath.Join(dir, "journal_0000000000000000.seg"))
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, uint64(1), entries[0].Seq)
	assert.Equal(t, ev.ID, entries[0].Event.ID)
	assert.Equal(t, "lesson_start", entries[0].Event.InteractionType)
	assert.True(t, entries[0].Event.Provenance.Anonymized)
}

func TestAppendMany(t *testing.T) {
	dir := t.TempDir()
	j, err := New(dir, 64*1024*1024)
	assert.NoError(t, err)
	defer j.Close()

	for i := 0; i < 500; i++ {
		_, err := j.Append(testEvent("tap"))
		assert.NoError(t, err)
	}
	assert.Equal(t, uint64(500), j.CurrentSeq())

	entries, err := ReadSegment(filepath.Join(dir, "journal_0000000000000000.seg"))
	assert.NoError(t, err)
	assert.Len(t, entries, 500)
	for i, e := range entries {
		assert.Equal(t, uint64(i+1), e.Seq)
	}
}

func TestSegmentRotation(t *testing.T) {
	dir := t.TempDir()
	j, err := New(dir, 1024)
	assert.NoError(t, err)
	defer j.Close()

	for i := 0; i < 30; i++ {
		_, err := j.Append(testEvent("tap"))
		assert.NoError(t, err)
	}

	names, err := segmentNames(dir)
	assert.NoError(t, err)
	assert.Greater(t, len(names), 1, "expected rotation to create multiple segments")

	// Every entry survives, spread across segments, in order.
	var total int
	var lastSeq uint64
	for _, name := range names {
		entries, err := ReadSegment(name)
		assert.NoError(t, err)
		for _, e := range entries {
			assert.Greater(t, e.Seq, lastSeq)
			lastSeq = e.Seq
			total++
		}
	}
	assert.Equal(t, 30, total)
}

func TestSequenceSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	j, err := New(dir, 64*1024*1024)
	assert.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := j.Append(testEvent("tap"))
		assert.NoError(t, err)
	}
	assert.NoError(t, j.Close())

	j2, err := New(dir, 64*1024*1024)
	assert.NoError(t, err)
	defer j2.Close()

	seq, err := j2.Append(testEvent("tap"))
	assert.NoError(t, err)
	assert.Equal(t, uint64(6), seq, "sequence must continue after reopen")
}

func TestCorruptTailTolerated(t *testing.T) {
	dir := t.TempDir()
	j, err := New(dir, 64*1024*1024)
	assert.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := j.Append(testEvent("tap"))
		assert.NoError(t, err)
	}
	assert.NoError(t, j.Close())

	// Simulate a torn write: append a frame header promising more bytes
	// than exist.
	path := filepath.Join(dir, "journal_0000000000000000.seg")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	assert.NoError(t, err)
	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], 9999)
	binary.LittleEndian.PutUint32(header[4:8], 0xdeadbeef)
	_, err = f.Write(header[:])
	assert.NoError(t, err)
	_, err = f.Write([]byte("partial"))
	assert.NoError(t, err)
	assert.NoError(t, f.Close())

	entries, err := ReadSegment(path)
	assert.NoError(t, err)
	assert.Len(t, entries, 3, "intact prefix survives a torn tail")
}

func TestCorruptCRCStopsSegment(t *testing.T) {
	dir := t.TempDir()
	j, err := New(dir, 64*1024*1024)
	assert.NoError(t, err)

	_, err = j.Append(testEvent("first"))
	assert.NoError(t, err)
	offsetAfterFirst := j.offset
	_, err = j.Append(testEvent("second"))
	assert.NoError(t, err)
	assert.NoError(t, j.Close())

	// Flip a payload byte in the second frame.
	path := filepath.Join(dir, "journal_0000000000000000.seg")
	data, err := os.ReadFile(path)
	assert.NoError(t, err)
	data[offsetAfterFirst+10] ^= 0xff
	assert.NoError(t, os.WriteFile(path, data, 0644))

	entries, err := ReadSegment(path)
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "first", entries[0].Event.InteractionType)
}

func TestCheckpointPrunesAckedSegments(t *testing.T) {
	dir := t.TempDir()
	// Segment limit of 1 byte rotates after every append, one entry per
	// segment.
	j, err := New(dir, 1)
	assert.NoError(t, err)
	defer j.Close()

	for i := 0; i < 3; i++ {
		_, err := j.Append(testEvent("tap"))
		assert.NoError(t, err)
	}

	assert.NoError(t, j.Checkpoint(2))

	var remaining []uint64
	names, err := segmentNames(dir)
	assert.NoError(t, err)
	for _, name := range names {
		entries, err := ReadSegment(name)
		assert.NoError(t, err)
		for _, e := range entries {
			remaining = append(remaining, e.Seq)
		}
	}
	assert.Equal(t, []uint64{3}, remaining, "acked entries must be gone, unacked must survive")

	// A reopen after the checkpoint sees only the unacked entry and keeps
	// the sequence monotonic.
	assert.NoError(t, j.Close())
	j2, err := New(dir, 1)
	assert.NoError(t, err)
	defer j2.Close()

	seq, err := j2.Append(testEvent("tap"))
	assert.NoError(t, err)
	assert.Equal(t, uint64(4), seq)
}

func TestCheckpointAllRestartsActiveSegment(t *testing.T) {
	dir := t.TempDir()
	j, err := New(dir, 64*1024*1024)
	assert.NoError(t, err)
	defer j.Close()

	for i := 0; i < 3; i++ {
		_, err := j.Append(testEvent("tap"))
		assert.NoError(t, err)
	}

	assert.NoError(t, j.Checkpoint(j.CurrentSeq()))

	names, err := segmentNames(dir)
	assert.NoError(t, err)
	assert.Len(t, names, 1)
	entries, err := ReadSegment(names[0])
	assert.NoError(t, err)
	assert.Empty(t, entries, "fully acked journal restarts empty")

	seq, err := j.Append(testEvent("tap"))
	assert.NoError(t, err)
	assert.Equal(t, uint64(4), seq, "sequence stays monotonic across checkpoints")
}

func TestReset(t *testing.T) {
	dir := t.TempDir()
	j, err := New(dir, 1024)
	assert.NoError(t, err)
	defer j.Close()

	for i := 0; i < 30; i++ {
		_, err := j.Append(testEvent("tap"))
		assert.NoError(t, err)
	}

	assert.NoError(t, j.Reset())

	names, err := segmentNames(dir)
	assert.NoError(t, err)
	assert.Len(t, names, 1, "reset leaves exactly one fresh segment")

	entries, err := ReadSegment(names[0])
	assert.NoError(t, err)
	assert.Empty(t, entries)

	// Appends continue against the fresh segment.
	_, err = j.Append(testEvent("tap"))
	assert.NoError(t, err)
}
