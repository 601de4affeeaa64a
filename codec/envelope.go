package codec

// SignedDumpEnvelope is the wire format a peer returns for a dump
// request made with isSign=true: the raw block bytes plus a signature
// over them, the signer's public key, and the address it claims to
// control. Fields after the block bytes are big-endian length-prefixed
// strings, distinct from the little-endian prefixes persisted records use.
type SignedDumpEnvelope struct {
	BlockBytes []byte
	Sign       []byte
	PubKey     []byte
	Address    []byte
}

// ParseSignedDumpEnvelope decodes the `[ u64_be block_size ][
// block_bytes ][ bigendian_string sign ][ bigendian_string pubkey ][
// bigendian_string address ]` layout a peer sends back for a signed
// dump request.
func ParseSignedDumpEnvelope(b []byte) (SignedDumpEnvelope, error) {
	off := 0
	blockSize, err := readU64be(b, &off)
	if err != nil {
		return SignedDumpEnvelope{}, err
	}
	ln, err := intLen(blockSize)
	if err != nil {
		return SignedDumpEnvelope{}, err
	}
	blockBytes, err := readBytes(b, &off, ln)
	if err != nil {
		return SignedDumpEnvelope{}, err
	}
	sign, err := getBE(b, &off)
	if err != nil {
		return SignedDumpEnvelope{}, err
	}
	pubKey, err := getBE(b, &off)
	if err != nil {
		return SignedDumpEnvelope{}, err
	}
	address, err := getBE(b, &off)
	if err != nil {
		return SignedDumpEnvelope{}, err
	}
	return SignedDumpEnvelope{BlockBytes: blockBytes, Sign: sign, PubKey: pubKey, Address: address}, nil
}

// Serialize encodes the envelope back into wire form; used by the query
// surface when answering an isSign=true dump request.
func (e SignedDumpEnvelope) Serialize() []byte {
	out := make([]byte, 0, 8+len(e.BlockBytes)+32+len(e.Sign)+len(e.PubKey)+len(e.Address))
	out = appendU64be(out, uint64(len(e.BlockBytes)))
	out = append(out, e.BlockBytes...)
	out = putBE(out, e.Sign)
	out = putBE(out, e.PubKey)
	out = putBE(out, e.Address)
	return out
}

func readU64be(b []byte, off *int) (uint64, error) {
	raw, err := readBytes(b, off, 8)
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, c := range raw {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

func appendU64be(dst []byte, v uint64) []byte {
	var tmp [8]byte
	for i := 7; i >= 0; i-- {
		tmp[i] = byte(v)
		v >>= 8
	}
	return append(dst, tmp[:]...)
}
