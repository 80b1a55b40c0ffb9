package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// ReplayFunc receives one committed Put or Delete record during recovery.
// For OpDelete the After image is empty.
type ReplayFunc func(rec *Record) error

// ReplayCommitted replays every Put and Delete belonging to a committed
// transaction, in LSN order, skipping records with LSN <= fromLSN. Records
// of transactions without a Commit marker are ignored, so a crash mid-write
// never surfaces partial transactions.
//
// A torn tail in the newest segment is tolerated and treated as the end of
// the log. Corruption in any older segment is an error.
func (w *WAL) ReplayCommitted(fromLSN uint64, fn ReplayFunc) error {
	w.mu.Lock()
	if err := w.bw.Flush(); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("failed to flush WAL before replay: %w", err)
	}
	segments := make([]segmentInfo, len(w.segments))
	copy(segments, w.segments)
	w.mu.Unlock()

	// First pass: collect committed transaction ids.
	committed := make(map[uint64]struct{})
	for i, seg := range segments {
		last := i == len(segments)-1
		err := walkSegment(seg.path, last, func(rec *Record) error {
			if rec.Op == OpCommit {
				committed[rec.TxID] = struct{}{}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	// Second pass: emit committed mutations in LSN order. Segments are
	// already ordered by firstLSN and records within a segment by LSN.
	for i, seg := range segments {
		last := i == len(segments)-1
		err := walkSegment(seg.path, last, func(rec *Record) error {
			if rec.LSN <= fromLSN {
				return nil
			}
			if rec.Op != OpPut && rec.Op != OpDelete {
				return nil
			}
			if _, ok := committed[rec.TxID]; !ok {
				return nil
			}
			return fn(rec)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func walkSegment(path string, tolerateTail bool, fn ReplayFunc) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open WAL segment: %w", err)
	}
	defer f.Close()

	if _, err := readSegmentHeader(f); err != nil {
		return fmt.Errorf("segment %s: %w", path, err)
	}

	br := bufio.NewReader(f)
	for {
		rec, rerr := readRecord(br)
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			if tolerateTail && (rerr == io.ErrUnexpectedEOF || errors.Is(rerr, ErrCorrupt)) {
				return nil
			}
			return fmt.Errorf("segment %s: %w", path, rerr)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
