package codec

import "crypto/sha256"

// Hash256 is a double-SHA256 digest, used for block hashes, transaction
// hashes, and address checksums.
type Hash256 [32]byte

// DoubleSHA256 hashes b with SHA-256 twice, as every record identity
// hash (tx.Hash, header.Hash) in this system is computed.
func DoubleSHA256(b []byte) Hash256 {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second
}

// SingleSHA256 hashes b with SHA-256 once. This, not DoubleSHA256, is the
// digest an ECDSA signature is taken over: the secp256k1 verify routine
// hashes its input exactly once internally, so signing the
// already-double-hashed identity hash would check a value the signer
// never actually signed.
func SingleSHA256(b []byte) Hash256 {
	return sha256.Sum256(b)
}

// Zero reports whether h is the all-zero genesis sentinel hash.
func (h Hash256) Zero() bool {
	return h == Hash256{}
}

func (h Hash256) Bytes() []byte {
	out := make([]byte, 32)
	copy(out, h[:])
	return out
}
