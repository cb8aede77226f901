// Package crcfletcher implements the CRC used to validate PV label sectors
// and MDA headers (spec §6). It is the same table-driven CRC32 the on-disk
// format has always used: the standard IEEE polynomial, a non-zero seed, and
// no final XOR — so it cannot be produced by hash/crc32's Checksum helper
// directly, only by its IEEE table with a custom seed.
package crcfletcher

import "hash/crc32"

// InitialSeed is the non-standard starting value the on-disk format uses
// instead of crc32's usual all-ones seed. It has no special meaning beyond
// "what the format has always written"; changing it would invalidate every
// existing label/MDA checksum.
const InitialSeed uint32 = 0xf597a6cf

var table = crc32.MakeTable(crc32.IEEE)

// Sum computes the on-disk CRC over data, continuing from seed. Callers
// covering "everything after the CRC field" pass InitialSeed.
func Sum(seed uint32, data []byte) uint32 {
	crc := seed
	for _, b := range data {
		crc = table[byte(crc)^b] ^ (crc >> 8)
	}
	return crc
}

// Validate reports whether data's trailing-computed CRC equals want.
func Validate(data []byte, want uint32) bool {
	return Sum(InitialSeed, data) == want
}
