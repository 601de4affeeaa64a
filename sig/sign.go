package sig

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"torrentnode.dev/indexer/codec"
)

// Keypair is the node's own signing identity, used to answer the
// liveness-test protocol's sign-test-string request.
type Keypair struct {
	priv *btcec.PrivateKey
}

// GenerateKeypair creates a fresh secp256k1 keypair.
func GenerateKeypair() (Keypair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return Keypair{}, err
	}
	return Keypair{priv: priv}, nil
}

// KeypairFromBytes loads a keypair from a raw 32-byte private scalar.
func KeypairFromBytes(raw []byte) (Keypair, error) {
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return Keypair{priv: priv}, nil
}

// PubKeyBytes returns the uncompressed public key, the form from_address
// is derived from throughout this system.
func (k Keypair) PubKeyBytes() []byte {
	return k.priv.PubKey().SerializeUncompressed()
}

// Address returns the address this keypair controls.
func (k Keypair) Address() codec.Address {
	return AddressFromPubKey(k.PubKeyBytes())
}

// SignHash produces a low-S DER signature over hash, suitable for both
// transaction signing and the sign-test-string response.
func (k Keypair) SignHash(hash codec.Hash256) []byte {
	sig := ecdsa.Sign(k.priv, hash.Bytes())
	return sig.Serialize()
}

// SignString hashes s with a single SHA-256 and signs the result, the
// liveness-test protocol's sign-test-string contract.
func (k Keypair) SignString(s string) []byte {
	return k.SignHash(codec.SingleSHA256([]byte(s)))
}
