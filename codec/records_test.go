package codec

import "testing"

func TestFilePositionRoundTrip(t *testing.T) {
	p := FilePosition{FileName: "blk00001.dat", Offset: 123456}
	enc := p.Serialize()
	off := 0
	got, err := DeserializeFilePosition(enc, &off)
	if err != nil {
		t.Fatalf("DeserializeFilePosition: %v", err)
	}
	if got != p {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, p)
	}
	if off != len(enc) {
		t.Fatalf("offset %d, want %d", off, len(enc))
	}
}

func TestBlocksMetadataRoundTrip(t *testing.T) {
	m := BlocksMetadata{BlockHash: DoubleSHA256([]byte("a")), PrevBlockHash: DoubleSHA256([]byte("b")), BlockNumber: 7}
	enc := m.Serialize()
	off := 0
	got, err := DeserializeBlocksMetadata(enc, &off)
	if err != nil {
		t.Fatalf("DeserializeBlocksMetadata: %v", err)
	}
	if got != m {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, m)
	}
}

func TestBlocksMetadataWinsSmallerHash(t *testing.T) {
	small := BlocksMetadata{BlockHash: Hash256{0x01}}
	big := BlocksMetadata{BlockHash: Hash256{0x02}}
	if !small.Wins(big) {
		t.Fatalf("smaller hash should win")
	}
	if big.Wins(small) {
		t.Fatalf("larger hash should not win")
	}
}

func TestMainBlockInfoRoundTrip(t *testing.T) {
	m := MainBlockInfo{BlockNumber: 42, BlockHash: DoubleSHA256([]byte("x")), CountVal: 99}
	enc := m.Serialize()
	off := 0
	got, err := DeserializeMainBlockInfo(enc, &off)
	if err != nil {
		t.Fatalf("DeserializeMainBlockInfo: %v", err)
	}
	if got != m {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, m)
	}
}

func TestAllNodesRoundTrip(t *testing.T) {
	n := NewAllNodes()
	n.Set("10.0.0.1:8080", "node-a")
	n.Set("10.0.0.2:8080", "node-b")
	enc := n.Serialize()
	off := 0
	got, err := DeserializeAllNodes(enc, &off)
	if err != nil {
		t.Fatalf("DeserializeAllNodes: %v", err)
	}
	if len(got.Entries) != len(n.Entries) {
		t.Fatalf("entry count mismatch: got %d, want %d", len(got.Entries), len(n.Entries))
	}
	for host, name := range n.Entries {
		if got.Entries[host] != name {
			t.Fatalf("entry %q: got %q, want %q", host, got.Entries[host], name)
		}
	}
}

func TestAllNodesSetReportsChange(t *testing.T) {
	n := NewAllNodes()
	if !n.Set("h", "a") {
		t.Fatalf("first Set should report a change")
	}
	if n.Set("h", "a") {
		t.Fatalf("repeated Set with the same name should not report a change")
	}
	if !n.Set("h", "b") {
		t.Fatalf("Set with a new name should report a change")
	}
}
