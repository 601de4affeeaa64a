package codec

import (
	"encoding/binary"

	"torrentnode.dev/indexer/xerr"
)

// Persisted KV records use an 8-byte little-endian length prefix; the
// sign-dump envelope uses big-endian for cross-version compatibility.
// Both forms are kept and chosen per call site.

func putLE(dst []byte, v []byte) []byte {
	dst = appendU64le(dst, uint64(len(v)))
	return append(dst, v...)
}

func getLE(b []byte, off *int) ([]byte, error) {
	n, err := readU64le(b, off)
	if err != nil {
		return nil, err
	}
	ln, err := intLen(n)
	if err != nil {
		return nil, err
	}
	return readBytes(b, off, ln)
}

func putBE(dst []byte, v []byte) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(len(v)))
	dst = append(dst, tmp[:]...)
	return append(dst, v...)
}

func getBE(b []byte, off *int) ([]byte, error) {
	if *off+8 > len(b) {
		return nil, xerr.New(xerr.Protocol, "truncated: be length")
	}
	n := binary.BigEndian.Uint64(b[*off : *off+8])
	*off += 8
	ln, err := intLen(n)
	if err != nil {
		return nil, err
	}
	return readBytes(b, off, ln)
}

// ReadBigEndianStrings splits b into the sequence of big-endian
// length-prefixed byte strings it's concatenated from, the format a
// multi-block dump response packs its entries in.
func ReadBigEndianStrings(b []byte) ([][]byte, error) {
	var out [][]byte
	off := 0
	for off < len(b) {
		s, err := getBE(b, &off)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// WriteBigEndianStrings concatenates parts as a sequence of big-endian
// length-prefixed byte strings, the inverse of ReadBigEndianStrings.
func WriteBigEndianStrings(parts [][]byte) []byte {
	out := make([]byte, 0, 8*len(parts))
	for _, p := range parts {
		out = putBE(out, p)
	}
	return out
}

func intLen(v uint64) (int, error) {
	maxInt := uint64(^uint(0) >> 1)
	if v > maxInt {
		return 0, xerr.New(xerr.Protocol, "length overflows int")
	}
	return int(v), nil
}
