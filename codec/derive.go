package codec

import (
	"crypto/sha256"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required hash for this address format
)

// DeriveAddressFromPubKey computes the 25-byte address for an uncompressed
// public key: version byte 0x00, RIPEMD160(SHA256(pubkey)), and a 4-byte
// double-SHA256 checksum over the first 21 bytes. Parsing a
// transaction's `from_address` out of its `pub_key` field and
// verifying a signature's claimed address both reduce to this.
func DeriveAddressFromPubKey(pubkey []byte) Address {
	shaPub := sha256.Sum256(pubkey)
	ripe := ripemd160.New()
	_, _ = ripe.Write(shaPub[:])
	ripeDigest := ripe.Sum(nil)

	versioned := make([]byte, 0, AddressSize)
	versioned = append(versioned, 0x00)
	versioned = append(versioned, ripeDigest...)

	checksum := DoubleSHA256(versioned)
	versioned = append(versioned, checksum[:4]...)

	return Address{bytes: versioned}
}
