package wire

import (
	"crypto/rand"
	"fmt"
)

// ConnIDLen and OffsetLen are the fixed widths of the two prelude fields
// (see spec.md §4.1): a 4-byte opaque connection id and an 8-byte
// big-endian byte offset. No other framing exists on the wire; after the
// prelude, a socket carries raw stream bytes.
const (
	ConnIDLen = 4
	OffsetLen = 8
)

// connIDAlphabet matches raitcp.py's string.ascii_letters: 52 symbols,
// uppercase and lowercase ASCII letters.
const connIDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// ConnID is the 4-byte opaque tag that binds physical sockets into one
// logical Connection. Generated by LEFT, echoed by RIGHT.
type ConnID [ConnIDLen]byte

// NewConnID generates a ConnID uniformly at random over the 52-symbol
// ASCII letter alphabet, matching the original Python implementation.
func NewConnID() (ConnID, error) {
	var id ConnID
	// Bytes at or above limit are discarded so that every symbol is
	// equally likely.
	const limit = 256 - 256%len(connIDAlphabet)
	raw := make([]byte, ConnIDLen)
	for i := 0; i < ConnIDLen; {
		if _, err := rand.Read(raw); err != nil {
			return id, fmt.Errorf("wire: generate connection id: %w", err)
		}
		for _, b := range raw {
			if i < ConnIDLen && int(b) < limit {
				id[i] = connIDAlphabet[int(b)%len(connIDAlphabet)]
				i++
			}
		}
	}
	return id, nil
}

// ConnIDFromBytes interprets b (which must be exactly ConnIDLen bytes) as a
// ConnID, without validating that its bytes belong to the alphabet — cids
// received over the wire are opaque and are never regenerated locally.
func ConnIDFromBytes(b []byte) (ConnID, error) {
	var id ConnID
	if len(b) != ConnIDLen {
		return id, fmt.Errorf("wire: connection id must be %d bytes, got %d", ConnIDLen, len(b))
	}
	copy(id[:], b)
	return id, nil
}

func (c ConnID) String() string {
	return string(c[:])
}

// EncodeOffset renders off as 8 big-endian bytes.
func EncodeOffset(off uint64) []byte {
	b := make([]byte, OffsetLen)
	for i := 0; i < OffsetLen; i++ {
		b[i] = byte(off >> (8 * (OffsetLen - 1 - i)))
	}
	return b
}

// DecodeOffset parses exactly OffsetLen big-endian bytes into a uint64.
func DecodeOffset(b []byte) (uint64, error) {
	if len(b) != OffsetLen {
		return 0, fmt.Errorf("wire: offset must be %d bytes, got %d", OffsetLen, len(b))
	}
	var off uint64
	for i := 0; i < OffsetLen; i++ {
		off = off<<8 | uint64(b[i])
	}
	return off, nil
}

// EncodePrelude renders the full 12-byte handshake prelude: cid followed by
// the big-endian offset.
func EncodePrelude(cid ConnID, offset uint64) []byte {
	out := make([]byte, 0, ConnIDLen+OffsetLen)
	out = append(out, cid[:]...)
	out = append(out, EncodeOffset(offset)...)
	return out
}
