// Package wal provides the write-ahead log that makes every mutation
// durable before it reaches a data page.
//
// Records are framed with a CRC32C checksum and appended to segment files
// that rotate at a configurable size. LSNs are strictly increasing across
// segments. Durability is configurable:
//
//   - Sync: fsync on every commit (strongest, slowest)
//   - GroupCommit: batched fsync amortized across concurrent committers
//   - Async: no fsync on commit; the background checkpointer still syncs
//
// Replay applies only records of committed transactions, in LSN order. A
// torn tail in the newest segment is tolerated; corruption anywhere else is
// fatal.
package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	segmentMagic   = "QDBW"
	segmentVersion = 1

	// segmentHeaderSize: magic(4) + version(2) + reserved(2) + firstLSN(8).
	segmentHeaderSize = 16

	// maxRecordSize bounds a single record to guard replay against
	// garbage length prefixes.
	maxRecordSize = 64 << 20
)

var (
	// ErrCorrupt is returned when a record fails its checksum or is
	// structurally invalid outside the tolerated torn tail.
	ErrCorrupt = errors.New("wal: corrupt record")

	// ErrClosed is returned for operations on a closed WAL.
	ErrClosed = errors.New("wal: closed")
)

// DurabilityMode controls fsync behavior on commit.
type DurabilityMode int

const (
	// DurabilitySync fsyncs after every commit.
	DurabilitySync DurabilityMode = iota
	// DurabilityGroupCommit batches fsyncs across committers.
	DurabilityGroupCommit
	// DurabilityAsync never fsyncs on commit.
	DurabilityAsync
)

// Options configures the WAL.
type Options struct {
	// SegmentSize is the rotation threshold for segment files in bytes.
	SegmentSize int64

	// Durability selects the fsync policy for WaitDurable.
	Durability DurabilityMode

	// GroupCommitInterval is the maximum wait before a background fsync in
	// group commit mode.
	GroupCommitInterval time.Duration

	// GroupCommitMaxOps forces an immediate fsync once this many commits
	// are waiting.
	GroupCommitMaxOps int

	// CompressThreshold is the minimum payload size in bytes before a
	// record image is zstd-compressed. Zero disables compression.
	CompressThreshold int
}

// DefaultOptions are the defaults used by Open.
var DefaultOptions = Options{
	SegmentSize:         16 << 20,
	Durability:          DurabilityGroupCommit,
	GroupCommitInterval: 5 * time.Millisecond,
	GroupCommitMaxOps:   64,
	CompressThreshold:   512,
}

type segmentInfo struct {
	seq      uint64
	firstLSN uint64
	path     string
}

// WAL is the append-only journal. It is safe for concurrent use; appends
// are serialized internally.
type WAL struct {
	mu       sync.Mutex
	cond     *sync.Cond // signals durableLSN advances
	dir      string
	opts     Options
	segments []segmentInfo
	file     *os.File
	bw       *bufio.Writer

	activeSize int64
	lastLSN    uint64 // highest assigned LSN
	durableLSN uint64 // highest fsynced LSN
	maxTxID    uint64 // highest transaction id seen, committed or not
	pending    int    // commits waiting for group commit

	stopCh chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// Open opens or creates the WAL in dir, scanning existing segments to
// restore the LSN counter. A torn tail in the newest segment is discarded.
func Open(dir string, optFns ...func(o *Options)) (*WAL, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	w := &WAL{dir: dir, opts: opts}
	w.cond = sync.NewCond(&w.mu)

	if err := w.loadSegments(); err != nil {
		return nil, err
	}
	if err := w.openActive(); err != nil {
		return nil, err
	}

	if opts.Durability == DurabilityGroupCommit && opts.GroupCommitInterval > 0 {
		w.stopCh = make(chan struct{})
		w.wg.Add(1)
		go w.groupCommitLoop()
	}
	return w, nil
}

func (w *WAL) loadSegments() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to read WAL directory: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "wal-") || !strings.HasSuffix(name, ".log") {
			continue
		}
		var seq uint64
		if _, err := fmt.Sscanf(name, "wal-%08d.log", &seq); err != nil {
			continue
		}
		w.segments = append(w.segments, segmentInfo{seq: seq, path: filepath.Join(w.dir, name)})
	}
	sort.Slice(w.segments, func(i, j int) bool { return w.segments[i].seq < w.segments[j].seq })

	// Scan all segments to restore firstLSN headers and the LSN counter.
	for i := range w.segments {
		last := i == len(w.segments)-1
		firstLSN, maxLSN, err := w.scanSegment(w.segments[i].path, last)
		if err != nil {
			return err
		}
		w.segments[i].firstLSN = firstLSN
		if maxLSN > w.lastLSN {
			w.lastLSN = maxLSN
		}
	}
	// Everything found on disk at open time is durable by definition.
	w.durableLSN = w.lastLSN
	return nil
}

// scanSegment reads a segment's header and walks its records. Decode errors
// are tolerated in the final segment (torn tail) and fatal elsewhere.
func (w *WAL) scanSegment(path string, tolerateTail bool) (firstLSN, maxLSN uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open WAL segment: %w", err)
	}
	defer f.Close()

	firstLSN, err = readSegmentHeader(f)
	if err != nil {
		return 0, 0, fmt.Errorf("segment %s: %w", path, err)
	}

	br := bufio.NewReader(f)
	for {
		rec, rerr := readRecord(br)
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			if tolerateTail && (rerr == io.ErrUnexpectedEOF || errors.Is(rerr, ErrCorrupt)) {
				break
			}
			return 0, 0, fmt.Errorf("segment %s: %w", path, rerr)
		}
		if rec.LSN > maxLSN {
			maxLSN = rec.LSN
		}
		if rec.TxID > w.maxTxID {
			w.maxTxID = rec.TxID
		}
	}
	return firstLSN, maxLSN, nil
}

func readSegmentHeader(r io.Reader) (uint64, error) {
	var hdr [segmentHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, fmt.Errorf("%w: truncated segment header", ErrCorrupt)
	}
	if string(hdr[:4]) != segmentMagic {
		return 0, fmt.Errorf("%w: bad segment magic", ErrCorrupt)
	}
	if v := uint16(hdr[4]) | uint16(hdr[5])<<8; v != segmentVersion {
		return 0, fmt.Errorf("unsupported WAL segment version %d", v)
	}
	var firstLSN uint64
	for i := 0; i < 8; i++ {
		firstLSN |= uint64(hdr[8+i]) << (8 * i)
	}
	return firstLSN, nil
}

func writeSegmentHeader(f *os.File, firstLSN uint64) error {
	var hdr [segmentHeaderSize]byte
	copy(hdr[:4], segmentMagic)
	hdr[4] = segmentVersion
	for i := 0; i < 8; i++ {
		hdr[8+i] = byte(firstLSN >> (8 * i))
	}
	_, err := f.Write(hdr[:])
	return err
}

// openActive opens the newest segment for appending, creating the first
// segment if the log is empty.
func (w *WAL) openActive() error {
	if len(w.segments) == 0 {
		return w.rotateLocked()
	}
	active := w.segments[len(w.segments)-1]
	f, err := os.OpenFile(active.path, os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open WAL segment: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat WAL segment: %w", err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return fmt.Errorf("failed to seek WAL segment: %w", err)
	}
	w.file = f
	w.bw = bufio.NewWriter(f)
	w.activeSize = st.Size()
	return nil
}

// rotateLocked closes the active segment and starts a new one whose header
// records the next LSN to be assigned. Caller must hold w.mu (or be in
// single-threaded setup).
func (w *WAL) rotateLocked() error {
	if w.file != nil {
		if err := w.bw.Flush(); err != nil {
			return fmt.Errorf("failed to flush WAL segment: %w", err)
		}
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync WAL segment: %w", err)
		}
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("failed to close WAL segment: %w", err)
		}
		w.durableLSN = w.lastLSN
	}

	var seq uint64 = 1
	if n := len(w.segments); n > 0 {
		seq = w.segments[n-1].seq + 1
	}
	firstLSN := w.lastLSN + 1
	path := filepath.Join(w.dir, fmt.Sprintf("wal-%08d.log", seq))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create WAL segment: %w", err)
	}
	if err := writeSegmentHeader(f, firstLSN); err != nil {
		f.Close()
		return fmt.Errorf("failed to write WAL segment header: %w", err)
	}
	w.segments = append(w.segments, segmentInfo{seq: seq, firstLSN: firstLSN, path: path})
	w.file = f
	w.bw = bufio.NewWriter(f)
	w.activeSize = segmentHeaderSize
	return nil
}

// Append assigns the next LSN to rec and writes it to the active segment.
// It does not fsync; call WaitDurable or Sync for durability.
func (w *WAL) Append(rec *Record) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendLocked(rec)
}

// AppendBatch appends recs contiguously and returns the LSN of the last
// record. All records receive consecutive LSNs with no interleaving from
// other appenders.
func (w *WAL) AppendBatch(recs []*Record) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var last uint64
	for _, rec := range recs {
		lsn, err := w.appendLocked(rec)
		if err != nil {
			return 0, err
		}
		last = lsn
	}
	if err := w.bw.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush WAL: %w", err)
	}
	return last, nil
}

func (w *WAL) appendLocked(rec *Record) (uint64, error) {
	if w.closed {
		return 0, ErrClosed
	}
	if w.activeSize >= w.opts.SegmentSize {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}

	w.lastLSN++
	rec.LSN = w.lastLSN
	if rec.TxID > w.maxTxID {
		w.maxTxID = rec.TxID
	}

	buf := encodeRecord(nil, rec, w.opts.CompressThreshold)
	if _, err := w.bw.Write(buf); err != nil {
		return 0, fmt.Errorf("failed to append WAL record: %w", err)
	}
	w.activeSize += int64(len(buf))
	return rec.LSN, nil
}

// Sync flushes buffered records and fsyncs the active segment.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

func (w *WAL) syncLocked() error {
	if w.closed {
		return ErrClosed
	}
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL: %w", err)
	}
	w.durableLSN = w.lastLSN
	w.pending = 0
	w.cond.Broadcast()
	return nil
}

// WaitDurable blocks until the record at lsn is durable under the
// configured durability mode. In Async mode it returns immediately.
func (w *WAL) WaitDurable(lsn uint64) error {
	switch w.opts.Durability {
	case DurabilityAsync:
		return nil
	case DurabilitySync:
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.durableLSN >= lsn {
			return nil
		}
		return w.syncLocked()
	case DurabilityGroupCommit:
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.durableLSN >= lsn {
			return nil
		}
		w.pending++
		if w.opts.GroupCommitMaxOps > 0 && w.pending >= w.opts.GroupCommitMaxOps {
			return w.syncLocked()
		}
		for w.durableLSN < lsn && !w.closed {
			w.cond.Wait()
		}
		if w.closed && w.durableLSN < lsn {
			return ErrClosed
		}
		return nil
	default:
		return fmt.Errorf("unknown durability mode %d", w.opts.Durability)
	}
}

func (w *WAL) groupCommitLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.opts.GroupCommitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.mu.Lock()
			if !w.closed && w.durableLSN < w.lastLSN {
				_ = w.syncLocked()
			}
			w.mu.Unlock()
		}
	}
}

// LastLSN returns the highest assigned LSN.
func (w *WAL) LastLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastLSN
}

// LastTxID returns the highest transaction id observed in the journal,
// including transactions that never committed. Restored when the log is
// opened, so a fresh run seeding its id counter from it can never reuse
// the id of an orphaned write and retroactively commit it.
func (w *WAL) LastTxID() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.maxTxID
}

// DurableLSN returns the highest fsynced LSN. The buffer pool consults this
// before flushing a page: a page may not reach disk ahead of its journal.
func (w *WAL) DurableLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.durableLSN
}

// Size returns the total on-disk size of all live segments. Callers use it
// to trigger checkpoints once the journal outgrows its budget.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var total int64
	for _, seg := range w.segments {
		if info, err := os.Stat(seg.path); err == nil {
			total += info.Size()
		}
	}
	return total + int64(w.bw.Buffered())
}

// SyncTo ensures durability up to lsn regardless of durability mode. Used
// by the buffer pool to uphold the write-ahead invariant before flushing a
// dirty page.
func (w *WAL) SyncTo(lsn uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.durableLSN >= lsn {
		return nil
	}
	return w.syncLocked()
}

// Checkpoint appends a checkpoint marker in a fresh segment and returns
// the checkpoint LSN: the highest LSN whose effects the caller has already
// flushed to the page store. Nothing is deleted; every record stays
// replayable until TruncateThrough, so the caller can persist the
// checkpoint location first. A crash between the two just replays a little
// more.
func (w *WAL) Checkpoint() (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}

	checkpointLSN := w.lastLSN

	// Rotate so the marker opens a new segment; every older segment then
	// holds only records <= checkpointLSN.
	if err := w.rotateLocked(); err != nil {
		return 0, err
	}
	if _, err := w.appendLocked(&Record{Op: OpCheckpoint}); err != nil {
		return 0, err
	}
	return checkpointLSN, w.syncLocked()
}

// TruncateThrough removes every segment whose records all carry LSN <=
// lsn. Call only once a manifest naming lsn as its checkpoint is durable;
// before that the records are still needed to recover from the previous
// manifest.
func (w *WAL) TruncateThrough(lsn uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	keep := w.segments[:0:0]
	for i, seg := range w.segments {
		if i == len(w.segments)-1 {
			keep = append(keep, seg)
			continue
		}
		next := w.segments[i+1]
		if next.firstLSN <= lsn+1 {
			if err := os.Remove(seg.path); err != nil {
				return fmt.Errorf("failed to remove WAL segment: %w", err)
			}
			continue
		}
		keep = append(keep, seg)
	}
	w.segments = keep
	return nil
}

// Close flushes, fsyncs and closes the WAL.
func (w *WAL) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	if w.stopCh != nil {
		close(w.stopCh)
	}
	w.mu.Unlock()
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.syncLocked(); err != nil {
		return err
	}
	w.closed = true
	w.cond.Broadcast()
	return w.file.Close()
}
