package vector

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/pierrec/lz4/v4"
)

const (
	snapshotMagic   = "QDBV"
	snapshotVersion = 1
)

// WriteSnapshot writes an lz4-framed dump of the live entries. Tombstoned
// positions are compacted away, so a loaded snapshot starts dense; tie
// breaking is preserved because live entries keep their relative order.
func (f *Flat) WriteSnapshot(w io.Writer) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	zw := lz4.NewWriter(w)
	bw := bufio.NewWriter(zw)

	var hdr [16]byte
	copy(hdr[:4], snapshotMagic)
	hdr[4] = snapshotVersion
	hdr[5] = byte(f.metric)
	binary.LittleEndian.PutUint32(hdr[8:], uint32(f.dim))
	binary.LittleEndian.PutUint32(hdr[12:], uint32(len(f.byID)))
	if _, err := bw.Write(hdr[:]); err != nil {
		return fmt.Errorf("failed to write snapshot header: %w", err)
	}

	for pos, id := range f.ids {
		if f.deleted.Contains(uint32(pos)) {
			continue
		}
		if err := binary.Write(bw, binary.LittleEndian, uint16(len(id))); err != nil {
			return err
		}
		if _, err := bw.WriteString(id); err != nil {
			return err
		}
		for _, x := range f.vecs[pos] {
			if err := binary.Write(bw, binary.LittleEndian, math.Float32bits(x)); err != nil {
				return err
			}
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish snapshot frame: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot written by WriteSnapshot into a fresh
// index.
func LoadSnapshot(r io.Reader) (*Flat, error) {
	br := bufio.NewReader(lz4.NewReader(r))

	var hdr [16]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return nil, fmt.Errorf("failed to read snapshot header: %w", err)
	}
	if string(hdr[:4]) != snapshotMagic {
		return nil, fmt.Errorf("not a vector snapshot: bad magic")
	}
	if hdr[4] != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", hdr[4])
	}
	metric := Metric(hdr[5])
	dim := int(binary.LittleEndian.Uint32(hdr[8:]))
	count := int(binary.LittleEndian.Uint32(hdr[12:]))

	f, err := NewFlat(dim, metric)
	if err != nil {
		return nil, err
	}
	for i := 0; i < count; i++ {
		var idLen uint16
		if err := binary.Read(br, binary.LittleEndian, &idLen); err != nil {
			return nil, fmt.Errorf("failed to read snapshot entry %d: %w", i, err)
		}
		idBuf := make([]byte, idLen)
		if _, err := io.ReadFull(br, idBuf); err != nil {
			return nil, fmt.Errorf("failed to read snapshot entry %d: %w", i, err)
		}
		vec := make([]float32, dim)
		for j := range vec {
			var bits uint32
			if err := binary.Read(br, binary.LittleEndian, &bits); err != nil {
				return nil, fmt.Errorf("failed to read snapshot entry %d: %w", i, err)
			}
			vec[j] = math.Float32frombits(bits)
		}
		if err := f.Insert(string(idBuf), vec); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// SaveSnapshotFile atomically writes the snapshot to path via a temp file
// rename.
func (f *Flat) SaveSnapshotFile(path string) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	if err := f.WriteSnapshot(file); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync snapshot file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to install snapshot file: %w", err)
	}
	return nil
}

// LoadSnapshotFile loads a snapshot from path.
func LoadSnapshotFile(path string) (*Flat, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return LoadSnapshot(file)
}
