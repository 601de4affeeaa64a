// Package sig verifies transaction and block signatures against the
// secp256k1 curve and derives the address a public key controls.
package sig

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"torrentnode.dev/indexer/codec"
	"torrentnode.dev/indexer/xerr"
)

// AddressFromPubKey derives the 25-byte address a public key controls.
func AddressFromPubKey(pubKey []byte) codec.Address {
	return codec.DeriveAddressFromPubKey(pubKey)
}

// VerifyHash checks a signature over hash for pubKey. An empty pubKey
// (the initial-wallet sentinel) never carries a signature and always
// verifies: the sender is unauthenticated by design for that one address.
func VerifyHash(hash codec.Hash256, sign, pubKey []byte) error {
	if len(pubKey) == 0 {
		return nil
	}
	pub, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return xerr.Wrap(xerr.Integrity, "sig: invalid public key", err)
	}
	parsed, err := parseSignature(sign)
	if err != nil {
		return err
	}
	if !parsed.Verify(hash.Bytes(), pub) {
		return xerr.New(xerr.Integrity, "sig: signature does not verify")
	}
	return nil
}

// VerifyTransaction checks a transaction's sign field against its
// sign_hash and pub_key, skipping verification for the initial-wallet
// sender. sign_hash, not the double-hashed tx identity hash, is what the
// sender's secp256k1 signature was actually taken over.
func VerifyTransaction(tx codec.TransactionInfo) error {
	return VerifyHash(tx.SignHash, tx.Sign, tx.PubKey)
}

// VerifyBlockSender checks a state/forging block's sender signature. The
// signed region covers block_type through the last transaction, matching
// what ParseBlock computed into h.SignHash.
func VerifyBlockSender(h codec.BlockHeader) error {
	if h.BlockType.Family() == codec.FamilySimple {
		return nil
	}
	return VerifyHash(h.SignHash, h.SenderSign, h.SenderPubKey)
}

// parseSignature accepts either strict low-S DER encoding or a raw 64-byte
// r||s encoding, normalizing a high-S raw signature to its low-S
// equivalent before returning it. DER-encoded signatures are rejected
// outright if they carry a high S; btcec's strict parser already enforces
// that.
func parseSignature(sign []byte) (*ecdsa.Signature, error) {
	if parsed, err := ecdsa.ParseDERSignature(sign); err == nil {
		return parsed, nil
	}
	if len(sign) != 64 {
		return nil, xerr.New(xerr.Protocol, "sig: unrecognized signature encoding")
	}

	var r, s btcec.ModNScalar
	if overflow := r.SetByteSlice(sign[:32]); overflow {
		return nil, xerr.New(xerr.Protocol, "sig: signature r overflows curve order")
	}
	if overflow := s.SetByteSlice(sign[32:]); overflow {
		return nil, xerr.New(xerr.Protocol, "sig: signature s overflows curve order")
	}
	if s.IsOverHalfOrder() {
		s.Negate()
	}
	return ecdsa.NewSignature(&r, &s), nil
}
