package wal

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/wahyudedik/qubedb/internal/hash"
)

// Op is the operation kind of a WAL record.
type Op uint8

const (
	// OpBegin marks the start of a transaction's record group.
	OpBegin Op = iota + 1
	// OpPut records a key/value write with before and after images.
	OpPut
	// OpDelete records a key removal with its before image.
	OpDelete
	// OpCommit marks a transaction's records as durable; recovery applies
	// only operations of committed transactions.
	OpCommit
	// OpAbort marks a transaction as rolled back.
	OpAbort
	// OpCheckpoint marks a checkpoint boundary. Informational: the manifest
	// holds the authoritative checkpoint LSN.
	OpCheckpoint
)

func (o Op) String() string {
	switch o {
	case OpBegin:
		return "BEGIN"
	case OpPut:
		return "PUT"
	case OpDelete:
		return "DELETE"
	case OpCommit:
		return "COMMIT"
	case OpAbort:
		return "ABORT"
	case OpCheckpoint:
		return "CHECKPOINT"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// Record is a single journal entry. LSNs are assigned by Append in strictly
// increasing order across segments.
type Record struct {
	LSN    uint64
	TxID   uint64
	Op     Op
	Key    []byte
	Before []byte // pre-image, empty for inserts
	After  []byte // post-image, empty for deletes
}

const (
	flagBeforeCompressed = 1 << 0
	flagAfterCompressed  = 1 << 1

	// recordHeaderSize is the framing prefix: payload length + CRC32C.
	recordHeaderSize = 8
)

// Shared stateless zstd coders (EncodeAll/DecodeAll are safe for concurrent
// use on the same instance).
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// encodeRecord appends the framed binary encoding of rec to dst.
// Payloads at or above compressThreshold bytes are zstd-compressed.
func encodeRecord(dst []byte, rec *Record, compressThreshold int) []byte {
	before, after := rec.Before, rec.After
	var flags uint8
	if compressThreshold > 0 {
		if len(before) >= compressThreshold {
			before = zstdEncoder.EncodeAll(before, nil)
			flags |= flagBeforeCompressed
		}
		if len(after) >= compressThreshold {
			after = zstdEncoder.EncodeAll(after, nil)
			flags |= flagAfterCompressed
		}
	}

	payloadLen := 8 + 8 + 1 + 1 + 4 + len(rec.Key) + 4 + len(before) + 4 + len(after)

	start := len(dst)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(payloadLen))
	dst = binary.LittleEndian.AppendUint32(dst, 0) // CRC placeholder
	dst = binary.LittleEndian.AppendUint64(dst, rec.LSN)
	dst = binary.LittleEndian.AppendUint64(dst, rec.TxID)
	dst = append(dst, byte(rec.Op), flags)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(rec.Key)))
	dst = append(dst, rec.Key...)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(before)))
	dst = append(dst, before...)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(after)))
	dst = append(dst, after...)

	crc := hash.Checksum(dst[start+recordHeaderSize:])
	binary.LittleEndian.PutUint32(dst[start+4:], crc)
	return dst
}

// readRecord reads and verifies one record from r. It returns io.EOF at a
// clean end of stream and ErrCorrupt for a failed checksum or a malformed
// payload. A truncated frame surfaces as io.ErrUnexpectedEOF.
func readRecord(r io.Reader) (*Record, error) {
	var hdr [recordHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	payloadLen := binary.LittleEndian.Uint32(hdr[:4])
	crc := binary.LittleEndian.Uint32(hdr[4:])

	if payloadLen < 30 || payloadLen > maxRecordSize {
		return nil, fmt.Errorf("%w: implausible record size %d", ErrCorrupt, payloadLen)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if hash.Checksum(payload) != crc {
		return nil, fmt.Errorf("%w: record checksum mismatch", ErrCorrupt)
	}

	rec := &Record{
		LSN:  binary.LittleEndian.Uint64(payload[0:]),
		TxID: binary.LittleEndian.Uint64(payload[8:]),
		Op:   Op(payload[16]),
	}
	flags := payload[17]
	rest := payload[18:]

	var err error
	if rec.Key, rest, err = takeChunk(rest); err != nil {
		return nil, err
	}
	if rec.Before, rest, err = takeChunk(rest); err != nil {
		return nil, err
	}
	if rec.After, _, err = takeChunk(rest); err != nil {
		return nil, err
	}

	if flags&flagBeforeCompressed != 0 {
		if rec.Before, err = zstdDecoder.DecodeAll(rec.Before, nil); err != nil {
			return nil, fmt.Errorf("%w: failed to decompress before-image: %v", ErrCorrupt, err)
		}
	}
	if flags&flagAfterCompressed != 0 {
		if rec.After, err = zstdDecoder.DecodeAll(rec.After, nil); err != nil {
			return nil, fmt.Errorf("%w: failed to decompress after-image: %v", ErrCorrupt, err)
		}
	}
	return rec, nil
}

func takeChunk(b []byte) ([]byte, []byte, error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("%w: truncated record chunk", ErrCorrupt)
	}
	n := int(binary.LittleEndian.Uint32(b))
	if len(b) < 4+n {
		return nil, nil, fmt.Errorf("%w: record chunk overruns payload", ErrCorrupt)
	}
	if n == 0 {
		return nil, b[4:], nil
	}
	return b[4 : 4+n], b[4+n:], nil
}
