// Package hash provides checksum helpers shared by the page store and WAL.
package hash

import (
	"hash"
	"hash/crc32"
)

// Castagnoli polynomial, hardware accelerated on amd64 and arm64.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Checksum computes the CRC32-Castagnoli checksum of data.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// New returns a new CRC32-Castagnoli hash.Hash32.
func New() hash.Hash32 {
	return crc32.New(crc32cTable)
}
