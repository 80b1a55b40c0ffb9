package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

const (
	fileMagic = "QDB1"

	// fileHeaderSize: magic(4) + pageSize(4), stored in page slot 0.
	fileHeaderSize = 8
)

// Pager owns the page file. It hands out page ids, reads and writes
// checksummed pages and tracks free pages in a roaring bitmap.
//
// Free ids are split in two sets: free (reusable now) and pendingFree
// (freed since the last checkpoint). Pages move from pendingFree to free
// only at checkpoint time, which keeps every page reachable from the last
// durable root intact until a newer root is durable.
type Pager struct {
	mu          sync.Mutex
	file        *os.File
	pageSize    int
	nextPageID  PageID
	free        *roaring64.Bitmap
	pendingFree *roaring64.Bitmap
}

// OpenPager opens or creates the page file at path. For an existing file
// the page size is read from the file header and pageSize is ignored.
func OpenPager(path string, pageSize int) (*Pager, error) {
	if pageSize < MinPageSize {
		return nil, fmt.Errorf("page size %d below minimum %d", pageSize, MinPageSize)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open page file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat page file: %w", err)
	}

	p := &Pager{
		file:        f,
		pageSize:    pageSize,
		free:        roaring64.New(),
		pendingFree: roaring64.New(),
	}

	if st.Size() == 0 {
		if err := p.writeFileHeader(); err != nil {
			f.Close()
			return nil, err
		}
		p.nextPageID = 1
		return p, nil
	}

	if err := p.readFileHeader(); err != nil {
		f.Close()
		return nil, err
	}
	p.nextPageID = PageID(st.Size() / int64(p.pageSize))
	if p.nextPageID == 0 {
		p.nextPageID = 1
	}
	return p, nil
}

func (p *Pager) writeFileHeader() error {
	buf := make([]byte, p.pageSize)
	copy(buf, fileMagic)
	binary.LittleEndian.PutUint32(buf[4:], uint32(p.pageSize))
	if _, err := p.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("failed to write page file header: %w", err)
	}
	return nil
}

func (p *Pager) readFileHeader() error {
	var hdr [fileHeaderSize]byte
	if _, err := p.file.ReadAt(hdr[:], 0); err != nil {
		return fmt.Errorf("failed to read page file header: %w", err)
	}
	if string(hdr[:4]) != fileMagic {
		return fmt.Errorf("not a page file: bad magic")
	}
	size := int(binary.LittleEndian.Uint32(hdr[4:]))
	if size < MinPageSize {
		return fmt.Errorf("page file header claims page size %d", size)
	}
	p.pageSize = size
	return nil
}

// PageSize returns the fixed page size of the file.
func (p *Pager) PageSize() int { return p.pageSize }

// Allocate returns a page id, reusing a reclaimed id when one exists.
func (p *Pager) Allocate() PageID {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.free.IsEmpty() {
		id := p.free.Minimum()
		p.free.Remove(id)
		return PageID(id)
	}
	id := p.nextPageID
	p.nextPageID++
	return id
}

// Free marks id reclaimable after the next checkpoint.
func (p *Pager) Free(id PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingFree.Add(uint64(id))
}

// TakePendingFree detaches and returns the pages freed since the last
// checkpoint. The caller hands the set back through ReleaseFreed once the
// manifest that stopped referencing them is durable; frees that land after
// the take stay pending for the next checkpoint.
func (p *Pager) TakePendingFree() *roaring64.Bitmap {
	p.mu.Lock()
	defer p.mu.Unlock()
	taken := p.pendingFree
	p.pendingFree = roaring64.New()
	return taken
}

// ReleaseFreed moves a detached pending set into the reusable free set.
// Call only after the new root and free set are durable.
func (p *Pager) ReleaseFreed(set *roaring64.Bitmap) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free.Or(set)
}

// FreeSetBytes serializes the reusable free set for the manifest. The
// pending set is deliberately excluded: after a crash those pages must stay
// unreclaimed because the old root may still reference them.
func (p *Pager) FreeSetBytes() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, err := p.free.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize free set: %w", err)
	}
	return data, nil
}

// LoadFreeSet restores the reusable free set from manifest bytes.
func (p *Pager) LoadFreeSet(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	bm := roaring64.New()
	if err := bm.UnmarshalBinary(data); err != nil {
		return fmt.Errorf("failed to deserialize free set: %w", err)
	}
	p.free = bm
	return nil
}

// ReadPage reads and verifies one page from disk.
func (p *Pager) ReadPage(id PageID) (*Page, error) {
	if id == 0 {
		return nil, fmt.Errorf("page 0 is the file header")
	}
	buf := make([]byte, p.pageSize)
	if _, err := p.file.ReadAt(buf, int64(id)*int64(p.pageSize)); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("page %d is beyond the end of the file", id)
		}
		return nil, fmt.Errorf("failed to read page %d: %w", id, err)
	}
	return unmarshalPage(buf, id)
}

// WritePage writes one page to its slot. It does not sync.
func (p *Pager) WritePage(page *Page) error {
	if page.ID == 0 {
		return fmt.Errorf("page 0 is the file header")
	}
	buf, err := marshalPage(page, p.pageSize)
	if err != nil {
		return err
	}
	if _, err := p.file.WriteAt(buf, int64(page.ID)*int64(p.pageSize)); err != nil {
		return fmt.Errorf("failed to write page %d: %w", page.ID, err)
	}
	return nil
}

// Sync fsyncs the page file.
func (p *Pager) Sync() error {
	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync page file: %w", err)
	}
	return nil
}

// Close syncs and closes the page file.
func (p *Pager) Close() error {
	if err := p.Sync(); err != nil {
		return err
	}
	return p.file.Close()
}
