// Package journal provides a durable capture journal. Events are framed and
// fsynced here before the store insert is acknowledged, so a crash between
// the two loses nothing: startup replays the journal into the store.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/snappy"

	"github.com/chalkline/chalkline/pkg/types"
)

// Journal appends sanitized events to segment files. Frame layout is
// [length:4 LE][crc32:4 LE][snappy(JSON payload)].
type Journal struct {
	dir        string
	segment    *os.File
	segmentID  uint64
	offset     int64
	maxSegSize int64
	currentSeq uint64
	segLastSeq map[uint64]uint64 // highest seq written to each segment
	mu         sync.Mutex
}

// Entry is a single journaled capture.
type Entry struct {
	Seq   uint64      `json:"seq"`
	Event types.Event `json:"event"`
}

// New opens a journal in dir, creating it if needed. Existing segments are
// kept; appends continue after the highest recorded sequence.
func New(dir string, maxSegSize int64) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	j := &Journal{
		dir:        dir,
		maxSegSize: maxSegSize,
		segLastSeq: make(map[uint64]uint64),
	}

	if err := j.findLastSegment(); err != nil {
		return nil, err
	}
	if err := j.openSegment(); err != nil {
		return nil, err
	}

	return j, nil
}

// findLastSegment locates the highest existing segment and restores the
// write offset and sequence counter from it.
func (j *Journal) findLastSegment() error {
	names, err := segmentNames(j.dir)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}

	last := names[len(names)-1]
	segmentID, err := parseSegmentID(last)
	if err != nil {
		return err
	}
	j.segmentID = segmentID

	// The sequence counter resumes from the highest seq across all
	// segments, not just the last: rotation may leave the newest segment
	// empty.
	for _, name := range names {
		id, err := parseSegmentID(name)
		if err != nil {
			return err
		}
		entries, err := ReadSegment(name)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Seq > j.currentSeq {
				j.currentSeq = e.Seq
			}
			if e.Seq > j.segLastSeq[id] {
				j.segLastSeq[id] = e.Seq
			}
		}
	}

	return nil
}

// parseSegmentID extracts the numeric id from a segment file name.
func parseSegmentID(path string) (uint64, error) {
	var id uint64
	if _, err := fmt.Sscanf(filepath.Base(path)[8:24], "%016x", &id); err != nil {
		return 0, fmt.Errorf("malformed segment name %s: %w", path, err)
	}
	return id, nil
}

// openSegment opens the current segment file for appending.
func (j *Journal) openSegment() error {
	path := filepath.Join(j.dir, fmt.Sprintf("journal_%016x.seg", j.segmentID))

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open segment file: %w", err)
	}

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to seek segment: %w", err)
	}

	j.segment = file
	j.offset = offset
	return nil
}

// Append journals an event and fsyncs before returning. The returned
// sequence number is strictly increasing across restarts.
func (j *Journal) Append(event types.Event) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.currentSeq++
	entry := Entry{Seq: j.currentSeq, Event: event}

	raw, err := json.Marshal(&entry)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize entry: %w", err)
	}
	payload := snappy.Encode(nil, raw)
	crc := crc32.ChecksumIEEE(payload)

	// Attributed before writeFrame: rotation happens after the write, so
	// the frame lands in the current segment.
	j.segLastSeq[j.segmentID] = j.currentSeq

	if err := j.writeFrame(uint32(len(payload)), crc, payload); err != nil {
		return 0, err
	}

	return j.currentSeq, nil
}

// writeFrame writes one frame to the segment and rotates if the segment has
// grown past the limit.
func (j *Journal) writeFrame(length, crc uint32, payload []byte) error {
	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], length)
	binary.LittleEndian.PutUint32(header[4:8], crc)

	if _, err := j.segment.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := j.segment.Write(payload); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	if err := j.segment.Sync(); err != nil {
		return fmt.Errorf("failed to fsync: %w", err)
	}

	j.offset += int64(8 + len(payload))

	if j.offset >= j.maxSegSize {
		if err := j.rotateSegment(); err != nil {
			return err
		}
	}
	return nil
}

// rotateSegment closes the current segment and opens the next.
func (j *Journal) rotateSegment() error {
	if j.segment != nil {
		if err := j.segment.Close(); err != nil {
			return fmt.Errorf("failed to close segment: %w", err)
		}
	}
	j.segmentID++
	return j.openSegment()
}

// CurrentSeq returns the last assigned sequence number.
func (j *Journal) CurrentSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.currentSeq
}

// Checkpoint discards journal entries the store has durably applied: closed
// segments whose highest sequence is at or below ackedSeq are removed, and
// when ackedSeq covers the whole journal the active segment restarts empty.
// Without checkpoints a restart would replay events the retention sweep had
// already deleted. Sequence numbers stay monotonic across checkpoints.
func (j *Journal) Checkpoint(ackedSeq uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	names, err := segmentNames(j.dir)
	if err != nil {
		return err
	}
	for _, name := range names {
		id, err := parseSegmentID(name)
		if err != nil {
			return err
		}
		if id == j.segmentID || j.segLastSeq[id] > ackedSeq {
			continue
		}
		if err := os.Remove(name); err != nil {
			return fmt.Errorf("failed to remove segment %s: %w", name, err)
		}
		delete(j.segLastSeq, id)
	}

	if ackedSeq >= j.currentSeq && j.offset > 0 {
		if err := j.segment.Truncate(0); err != nil {
			return fmt.Errorf("failed to truncate segment: %w", err)
		}
		if _, err := j.segment.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind segment: %w", err)
		}
		j.offset = 0
		delete(j.segLastSeq, j.segmentID)
	}

	return nil
}

// Reset removes all journal segments and starts a fresh one. Called after a
// consent purge, and by startup replay once the store has everything.
func (j *Journal) Reset() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.segment != nil {
		if err := j.segment.Close(); err != nil {
			return fmt.Errorf("failed to close segment: %w", err)
		}
		j.segment = nil
	}

	names, err := segmentNames(j.dir)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := os.Remove(name); err != nil {
			return fmt.Errorf("failed to remove segment %s: %w", name, err)
		}
	}

	j.segmentID = 0
	j.offset = 0
	j.segLastSeq = make(map[uint64]uint64)
	return j.openSegment()
}

// Close fsyncs and closes the current segment.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.segment != nil {
		if err := j.segment.Sync(); err != nil {
			return fmt.Errorf("failed to fsync on close: %w", err)
		}
		if err := j.segment.Close(); err != nil {
			return fmt.Errorf("failed to close segment: %w", err)
		}
		j.segment = nil
	}
	return nil
}

// ReadSegment reads all intact entries from a segment file. A truncated or
// corrupt tail ends the read without error: everything before it is
// returned, which is exactly the crash-recovery contract.
func ReadSegment(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment: %w", err)
	}
	defer file.Close()

	var entries []Entry
	for {
		var header [8]byte
		if _, err := io.ReadFull(file, header[:]); err != nil {
			if err == io.EOF {
				break
			}
			// Partial header: truncated tail.
			break
		}
		length := binary.LittleEndian.Uint32(header[0:4])
		crc := binary.LittleEndian.Uint32(header[4:8])

		payload := make([]byte, length)
		if _, err := io.ReadFull(file, payload); err != nil {
			// Truncated write, stop reading
			break
		}

		if crc32.ChecksumIEEE(payload) != crc {
			offset, _ := file.Seek(0, io.SeekCurrent)
			log.Printf("[WARN] journal: CRC mismatch at offset %d in %s, stopping replay of segment", offset-int64(length+8), path)
			break
		}

		raw, err := snappy.Decode(nil, payload)
		if err != nil {
			log.Printf("[WARN] journal: snappy decode failed in %s, stopping replay of segment", path)
			break
		}

		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// segmentNames lists journal segments in dir, sorted lexicographically,
// which is chronological under the fixed-width naming scheme.
func segmentNames(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal directory: %w", err)
	}

	var names []string
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		name := file.Name()
		if len(name) != 28 || name[:8] != "journal_" {
			continue
		}
		names = append(names, filepath.Join(dir, name))
	}
	return names, nil
}
