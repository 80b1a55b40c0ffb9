package qubedb

import (
	"time"

	"github.com/wahyudedik/qubedb/storage"
	"github.com/wahyudedik/qubedb/wal"
)

// Options configures an open database. Open starts from DefaultOptions and
// applies the caller's option functions on top.
type Options struct {
	// PageSize is the page store's page size in bytes. Only honored when
	// the data directory is created; existing directories keep the size
	// they were created with.
	PageSize int

	// BufferPoolBytes caps the buffer pool's memory.
	BufferPoolBytes int64

	// CheckpointInterval is the time between background checkpoints.
	CheckpointInterval time.Duration

	// CheckpointWALBytes triggers a checkpoint early once the journal
	// exceeds this size.
	CheckpointWALBytes int64

	// Durability selects the commit durability mode.
	Durability wal.DurabilityMode

	// GroupCommitInterval bounds commit latency under
	// DurabilityGroupCommit.
	GroupCommitInterval time.Duration

	// Logger receives operational log records.
	Logger *Logger
}

// DefaultOptions are the settings Open starts from.
var DefaultOptions = Options{
	PageSize:            storage.DefaultPageSize,
	BufferPoolBytes:     64 << 20,
	CheckpointInterval:  time.Minute,
	CheckpointWALBytes:  64 << 20,
	Durability:          wal.DurabilityGroupCommit,
	GroupCommitInterval: 5 * time.Millisecond,
}
