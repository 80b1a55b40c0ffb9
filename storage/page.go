// Package storage implements the on-disk page store and the in-memory
// buffer pool.
//
// Pages are fixed-size and checksummed. The file begins with a header page
// (page 0) carrying the magic and the page size; data pages start at id 1.
// Freed pages are tracked in a roaring bitmap and only become reusable
// after the next checkpoint, so pages reachable from the last durable tree
// root are never overwritten in place.
package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/wahyudedik/qubedb/internal/hash"
)

// PageID identifies a page by its slot in the page file.
type PageID uint64

// PageType tags the content of a page.
type PageType uint8

const (
	// PageTypeFree marks an unused page.
	PageTypeFree PageType = iota
	// PageTypeLeaf holds B+Tree leaf cells.
	PageTypeLeaf
	// PageTypeInternal holds B+Tree separator keys and child pointers.
	PageTypeInternal
	// PageTypeOverflow holds the spill of a value too large for its leaf.
	PageTypeOverflow
)

const (
	// DefaultPageSize is used when opening a fresh page file.
	DefaultPageSize = 8192

	// MinPageSize bounds the configurable page size from below.
	MinPageSize = 512

	// pageHeaderSize: id(8) + type(1) + reserved(3) + lsn(8).
	pageHeaderSize = 20

	// pageTrailerSize holds the CRC32C over header and body.
	pageTrailerSize = 4
)

// ErrChecksum is wrapped into read errors when a page fails verification.
var ErrChecksum = fmt.Errorf("page checksum mismatch")

// Page is an in-memory copy of one on-disk page. The LSN records the last
// journal position whose effects the page contains; the buffer pool will
// not flush a page ahead of its journal.
type Page struct {
	ID   PageID
	Type PageType
	LSN  uint64
	Data []byte // body only, excludes header and trailer
}

// BodySize returns the usable bytes per page for a given page size.
func BodySize(pageSize int) int {
	return pageSize - pageHeaderSize - pageTrailerSize
}

// marshalPage serializes p into a buffer of exactly pageSize bytes,
// computing the trailer checksum over header and body.
func marshalPage(p *Page, pageSize int) ([]byte, error) {
	if len(p.Data) > BodySize(pageSize) {
		return nil, fmt.Errorf("page %d body %d exceeds capacity %d", p.ID, len(p.Data), BodySize(pageSize))
	}
	buf := make([]byte, pageSize)
	binary.LittleEndian.PutUint64(buf[0:], uint64(p.ID))
	buf[8] = byte(p.Type)
	binary.LittleEndian.PutUint64(buf[12:], p.LSN)
	copy(buf[pageHeaderSize:], p.Data)

	crc := hash.Checksum(buf[:pageSize-pageTrailerSize])
	binary.LittleEndian.PutUint32(buf[pageSize-pageTrailerSize:], crc)
	return buf, nil
}

// unmarshalPage parses and verifies a raw page image.
func unmarshalPage(buf []byte, want PageID) (*Page, error) {
	pageSize := len(buf)
	crc := binary.LittleEndian.Uint32(buf[pageSize-pageTrailerSize:])
	if hash.Checksum(buf[:pageSize-pageTrailerSize]) != crc {
		return nil, fmt.Errorf("page %d: %w", want, ErrChecksum)
	}

	id := PageID(binary.LittleEndian.Uint64(buf[0:]))
	if id != want {
		return nil, fmt.Errorf("page %d: header claims id %d", want, id)
	}

	body := make([]byte, BodySize(pageSize))
	copy(body, buf[pageHeaderSize:pageSize-pageTrailerSize])
	return &Page{
		ID:   id,
		Type: PageType(buf[8]),
		LSN:  binary.LittleEndian.Uint64(buf[12:]),
		Data: body,
	}, nil
}
