package codec

import "testing"

func TestAddressEmpty(t *testing.T) {
	a := EmptyAddress()
	if !a.IsEmpty() {
		t.Fatalf("EmptyAddress should be empty")
	}
	if a.Hex() != "0x" {
		t.Fatalf("EmptyAddress hex: got %q", a.Hex())
	}
}

func TestAddressFromBytesRoundTrip(t *testing.T) {
	raw := make([]byte, AddressSize)
	for i := range raw {
		raw[i] = byte(i)
	}
	a, err := NewAddressFromBytes(raw, false)
	if err != nil {
		t.Fatalf("NewAddressFromBytes: %v", err)
	}
	if len(a.Bytes()) != AddressSize {
		t.Fatalf("address length: got %d", len(a.Bytes()))
	}
	b, err := NewAddressFromHex(a.Hex())
	if err != nil {
		t.Fatalf("NewAddressFromHex: %v", err)
	}
	if !a.Equal(b) {
		t.Fatalf("hex round trip changed address")
	}
}

func TestAddressWrongLength(t *testing.T) {
	if _, err := NewAddressFromBytes(make([]byte, 10), false); err == nil {
		t.Fatalf("expected error for short address")
	}
}

func TestAddressBlockedFlag(t *testing.T) {
	raw := make([]byte, AddressSize)
	a, err := NewAddressFromBytes(raw, true)
	if err != nil {
		t.Fatalf("NewAddressFromBytes: %v", err)
	}
	if a.Bytes()[0] != BlockedVersionByte {
		t.Fatalf("blocked address: byte[0] = %d, want %d", a.Bytes()[0], BlockedVersionByte)
	}
}

func TestAddressIsScript(t *testing.T) {
	raw := make([]byte, AddressSize)
	raw[0] = ScriptVersionByte
	a, err := NewAddressFromBytes(raw, false)
	if err != nil {
		t.Fatalf("NewAddressFromBytes: %v", err)
	}
	if !a.IsScript() {
		t.Fatalf("expected script address")
	}
}

func TestDeriveAddressFromPubKeyDeterministic(t *testing.T) {
	pub := []byte{0x04, 0x01, 0x02, 0x03}
	a1 := DeriveAddressFromPubKey(pub)
	a2 := DeriveAddressFromPubKey(pub)
	if !a1.Equal(a2) {
		t.Fatalf("DeriveAddressFromPubKey not deterministic")
	}
	if a1.Bytes()[0] != 0x00 {
		t.Fatalf("derived address version byte: got %d", a1.Bytes()[0])
	}
}
