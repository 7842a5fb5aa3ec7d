// Package diffcodec implements a byte-level diff/patch format used to
// store a changed file as a small delta against its previous blob
// instead of a fresh full copy.
package diffcodec

import (
	"encoding/binary"
	"fmt"
)

// Instruction opcodes.
const (
	opCopy byte = iota
	opInsert
)

const blockSize = 16

// Diff produces a patch that, applied to old via Patch, reconstructs
// new. The format is a sequence of instructions:
//
//	opCopy   offset(varint) length(varint)
//	opInsert length(varint) raw-bytes
//
// It works by indexing blockSize-byte blocks of old and greedily
// extending matches found in new, falling back to literal inserts for
// unmatched runs.
func Diff(old, new []byte) []byte {
	index := indexBlocks(old)

	var out []byte
	var insertBuf []byte

	flushInsert := func() {
		if len(insertBuf) == 0 {
			return
		}
		out = append(out, opInsert)
		out = appendVarint(out, uint64(len(insertBuf)))
		out = append(out, insertBuf...)
		insertBuf = nil
	}

	i := 0
	for i < len(new) {
		if i+blockSize <= len(new) {
			key := string(new[i : i+blockSize])
			if candidates, ok := index[key]; ok {
				start, length := bestMatch(old, new, candidates, i)
				if length >= blockSize {
					flushInsert()
					out = append(out, opCopy)
					out = appendVarint(out, uint64(start))
					out = appendVarint(out, uint64(length))
					i += length
					continue
				}
			}
		}
		insertBuf = append(insertBuf, new[i])
		i++
	}
	flushInsert()

	return out
}

// Patch reconstructs the payload Diff(old, _) was built against, given
// old and the patch bytes.
func Patch(old, patch []byte) ([]byte, error) {
	var out []byte
	i := 0
	for i < len(patch) {
		op := patch[i]
		i++
		switch op {
		case opCopy:
			offset, n, err := readVarint(patch, i)
			if err != nil {
				return nil, err
			}
			i = n
			length, n, err := readVarint(patch, i)
			if err != nil {
				return nil, err
			}
			i = n
			if offset+length > uint64(len(old)) {
				return nil, fmt.Errorf("diffcodec: copy instruction out of range")
			}
			out = append(out, old[offset:offset+length]...)
		case opInsert:
			length, n, err := readVarint(patch, i)
			if err != nil {
				return nil, err
			}
			i = n
			if i+int(length) > len(patch) {
				return nil, fmt.Errorf("diffcodec: insert instruction out of range")
			}
			out = append(out, patch[i:i+int(length)]...)
			i += int(length)
		default:
			return nil, fmt.Errorf("diffcodec: unknown opcode %d", op)
		}
	}
	return out, nil
}

// IsWorthwhile reports whether a patch of patchLen bytes is worth
// storing in place of a full copy of newLen bytes, per the margin the
// caller requires (e.g. 0.6 means the patch must be no more than 60% of
// the full size).
func IsWorthwhile(patchLen, newLen int, margin float64) bool {
	if newLen == 0 {
		return false
	}
	return float64(patchLen) <= margin*float64(newLen)
}

func indexBlocks(data []byte) map[string][]int {
	index := make(map[string][]int)
	if len(data) < blockSize {
		return index
	}
	for i := 0; i+blockSize <= len(data); i++ {
		key := string(data[i : i+blockSize])
		index[key] = append(index[key], i)
	}
	return index
}

// bestMatch extends each candidate block match forward from its start,
// returning the longest run found.
func bestMatch(old, new []byte, candidates []int, newPos int) (start, length int) {
	bestLen := 0
	bestStart := 0
	for _, c := range candidates {
		l := matchLength(old, new, c, newPos)
		if l > bestLen {
			bestLen = l
			bestStart = c
		}
	}
	return bestStart, bestLen
}

func matchLength(old, new []byte, oldPos, newPos int) int {
	n := 0
	for oldPos+n < len(old) && newPos+n < len(new) && old[oldPos+n] == new[newPos+n] {
		n++
	}
	return n
}

func appendVarint(dst []byte, v uint64) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	return append(dst, buf[:n]...)
}

func readVarint(data []byte, pos int) (value uint64, newPos int, err error) {
	v, n := binary.Uvarint(data[pos:])
	if n <= 0 {
		return 0, pos, fmt.Errorf("diffcodec: malformed varint at offset %d", pos)
	}
	return v, pos + n, nil
}
