package codec

import (
	"encoding/hex"
	"strings"

	"torrentnode.dev/indexer/xerr"
)

// AddressSize is the fixed length of a binary address: a version byte
// plus a 20-byte RIPEMD160(SHA256(pubkey)) plus a 4-byte checksum.
const AddressSize = 25

// ScriptVersionByte marks a script-address (byte[0] == 8).
const ScriptVersionByte = 8

// BlockedVersionByte stamps byte[0] == 1 on an address constructed with the
// "blocked" flag set.
const BlockedVersionByte = 1

// Address is a 25-byte binary identifier. The zero value (no bytes) is the
// "empty"/initial-wallet sentinel address.
type Address struct {
	bytes []byte // nil or len == AddressSize
}

// EmptyAddress is the initial-wallet sentinel: no bytes at all.
func EmptyAddress() Address { return Address{} }

// NewAddressFromBytes builds an Address from exactly AddressSize raw bytes.
// If blocked is true, byte[0] is stamped to BlockedVersionByte.
func NewAddressFromBytes(raw []byte, blocked bool) (Address, error) {
	if len(raw) != AddressSize {
		return Address{}, xerr.New(xerr.Protocol, "address: wrong byte length")
	}
	out := make([]byte, AddressSize)
	copy(out, raw)
	if blocked {
		out[0] = BlockedVersionByte
	}
	return Address{bytes: out}, nil
}

// NewAddressFromHex parses a "0x"-prefixed hex-encoded address.
func NewAddressFromHex(s string) (Address, error) {
	s = strings.TrimPrefix(s, "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, xerr.Wrap(xerr.Protocol, "address: invalid hex", err)
	}
	if len(raw) == 0 {
		return EmptyAddress(), nil
	}
	if len(raw) != AddressSize {
		return Address{}, xerr.New(xerr.Protocol, "address: wrong hex length")
	}
	return Address{bytes: raw}, nil
}

// IsEmpty reports whether a is the initial-wallet sentinel (no bytes).
func (a Address) IsEmpty() bool { return len(a.bytes) == 0 }

// IsScript reports whether a is a script-address (byte[0] == 8).
func (a Address) IsScript() bool {
	return len(a.bytes) == AddressSize && a.bytes[0] == ScriptVersionByte
}

// Bytes returns the raw 25 (or 0) bytes of the address. Callers must not
// mutate the returned slice.
func (a Address) Bytes() []byte { return a.bytes }

// Hex renders the address as "0x"-prefixed hex, "0x" for the empty address.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a.bytes)
}

// Equal compares two addresses by byte content.
func (a Address) Equal(b Address) bool {
	if len(a.bytes) != len(b.bytes) {
		return false
	}
	for i := range a.bytes {
		if a.bytes[i] != b.bytes[i] {
			return false
		}
	}
	return true
}
