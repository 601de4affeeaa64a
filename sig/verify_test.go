package sig

import (
	"testing"

	"torrentnode.dev/indexer/codec"
	"torrentnode.dev/indexer/xerr"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	hash := codec.DoubleSHA256([]byte("message"))
	sig := kp.SignHash(hash)
	if err := VerifyHash(hash, sig, kp.PubKeyBytes()); err != nil {
		t.Fatalf("VerifyHash: %v", err)
	}
}

func TestVerifyHashRejectsWrongMessage(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	sig := kp.SignHash(codec.DoubleSHA256([]byte("message")))
	wrong := codec.DoubleSHA256([]byte("different message"))
	if err := VerifyHash(wrong, sig, kp.PubKeyBytes()); err == nil {
		t.Fatalf("expected verification failure for mismatched hash")
	} else if !xerr.Is(err, xerr.Integrity) {
		t.Fatalf("expected Integrity error, got %v", err)
	}
}

func TestVerifyHashEmptyPubKeySkipsCheck(t *testing.T) {
	hash := codec.DoubleSHA256([]byte("anything"))
	if err := VerifyHash(hash, nil, nil); err != nil {
		t.Fatalf("initial-wallet sender should always verify, got %v", err)
	}
}

func TestVerifyHashRejectsGarbageSignature(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	hash := codec.DoubleSHA256([]byte("message"))
	if err := VerifyHash(hash, []byte{1, 2, 3}, kp.PubKeyBytes()); err == nil {
		t.Fatalf("expected error for malformed signature")
	}
}

func TestAddressFromPubKeyMatchesKeypairAddress(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	if !AddressFromPubKey(kp.PubKeyBytes()).Equal(kp.Address()) {
		t.Fatalf("AddressFromPubKey and Keypair.Address disagree")
	}
}

func TestVerifyBlockSenderSkipsSimpleFamily(t *testing.T) {
	h := codec.BlockHeader{BlockType: codec.BlockTypeSimple}
	if err := VerifyBlockSender(h); err != nil {
		t.Fatalf("simple blocks carry no sender signature: %v", err)
	}
}

func TestSignStringDeterministicHash(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	sig := kp.SignString("ping")
	if err := VerifyHash(codec.SingleSHA256([]byte("ping")), sig, kp.PubKeyBytes()); err != nil {
		t.Fatalf("SignString/VerifyHash mismatch: %v", err)
	}
}

func TestVerifyTransactionUsesSignHashNotIdentityHash(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	tx := codec.TransactionInfo{
		Hash:     codec.DoubleSHA256([]byte("tx body")),
		SignHash: codec.SingleSHA256([]byte("tx body")),
		PubKey:   kp.PubKeyBytes(),
	}
	tx.Sign = kp.SignHash(tx.SignHash)
	if err := VerifyTransaction(tx); err != nil {
		t.Fatalf("VerifyTransaction: %v", err)
	}
}

func TestVerifyBlockSenderUsesSignHashNotIdentityHash(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	h := codec.BlockHeader{
		BlockType:    codec.BlockTypeForging0,
		Hash:         codec.DoubleSHA256([]byte("block body")),
		SignHash:     codec.SingleSHA256([]byte("block body")),
		SenderPubKey: kp.PubKeyBytes(),
	}
	h.SenderSign = kp.SignHash(h.SignHash)
	if err := VerifyBlockSender(h); err != nil {
		t.Fatalf("VerifyBlockSender: %v", err)
	}
}
