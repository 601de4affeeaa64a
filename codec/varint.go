package codec

import (
	"encoding/binary"

	"torrentnode.dev/indexer/xerr"
)

// ReadVarint decodes the block/transaction-body variable-length integer
// format: one length byte, then 0/2/4/8 little-endian bytes
// depending on its value. It returns the decoded value and the number of
// bytes consumed.
func ReadVarint(b []byte, off *int) (uint64, int, error) {
	start := *off
	tag, err := readU8(b, off)
	if err != nil {
		return 0, 0, err
	}
	switch {
	case tag <= 249:
		return uint64(tag), *off - start, nil
	case tag == 250:
		v, err := readU16le(b, off)
		if err != nil {
			return 0, 0, err
		}
		return uint64(v), *off - start, nil
	case tag == 251:
		v, err := readU32le(b, off)
		if err != nil {
			return 0, 0, err
		}
		return uint64(v), *off - start, nil
	case tag == 252:
		v, err := readU64le(b, off)
		if err != nil {
			return 0, 0, err
		}
		return v, *off - start, nil
	default:
		return 0, 0, xerr.New(xerr.Protocol, "invalid varint tag")
	}
}

// EncodeVarint is the inverse of ReadVarint: it always picks the shortest
// form that fits v.
func EncodeVarint(v uint64) []byte {
	switch {
	case v <= 249:
		return []byte{byte(v)}
	case v <= 0xffff:
		out := make([]byte, 3)
		out[0] = 250
		binary.LittleEndian.PutUint16(out[1:], uint16(v))
		return out
	case v <= 0xffffffff:
		out := make([]byte, 5)
		out[0] = 251
		binary.LittleEndian.PutUint32(out[1:], uint32(v))
		return out
	default:
		out := make([]byte, 9)
		out[0] = 252
		binary.LittleEndian.PutUint64(out[1:], v)
		return out
	}
}

func readU8(b []byte, off *int) (byte, error) {
	if *off+1 > len(b) {
		return 0, xerr.New(xerr.Protocol, "truncated: u8")
	}
	v := b[*off]
	*off++
	return v, nil
}

func readU16le(b []byte, off *int) (uint16, error) {
	if *off+2 > len(b) {
		return 0, xerr.New(xerr.Protocol, "truncated: u16")
	}
	v := binary.LittleEndian.Uint16(b[*off : *off+2])
	*off += 2
	return v, nil
}

func readU32le(b []byte, off *int) (uint32, error) {
	if *off+4 > len(b) {
		return 0, xerr.New(xerr.Protocol, "truncated: u32")
	}
	v := binary.LittleEndian.Uint32(b[*off : *off+4])
	*off += 4
	return v, nil
}

func readU64le(b []byte, off *int) (uint64, error) {
	if *off+8 > len(b) {
		return 0, xerr.New(xerr.Protocol, "truncated: u64")
	}
	v := binary.LittleEndian.Uint64(b[*off : *off+8])
	*off += 8
	return v, nil
}

func readBytes(b []byte, off *int, n int) ([]byte, error) {
	if n < 0 || *off+n > len(b) {
		return nil, xerr.New(xerr.Protocol, "truncated: bytes")
	}
	out := b[*off : *off+n]
	*off += n
	return out, nil
}

func appendU64le(dst []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(dst, tmp[:]...)
}

func appendU32le(dst []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(dst, tmp[:]...)
}
