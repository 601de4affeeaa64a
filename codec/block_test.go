package codec

import "testing"

func blockBody(blockType BlockType, timestamp uint64, prevHash, txsHash Hash256, txs [][]byte, trailer []byte) []byte {
	body := make([]byte, 0, 256)
	body = appendU64le(body, uint64(blockType))
	body = appendU64le(body, timestamp)
	body = append(body, prevHash[:]...)
	body = append(body, txsHash[:]...)
	for _, tx := range txs {
		body = append(body, tx...)
	}
	body = append(body, EncodeVarint(0)...) // tx-list terminator
	body = append(body, trailer...)
	return body
}

func wrapBlockSize(body []byte) []byte {
	out := appendU64le(nil, uint64(len(body)))
	return append(out, body...)
}

func TestParseBlockSimpleNoTxs(t *testing.T) {
	prev := DoubleSHA256([]byte("prev"))
	txsHash := DoubleSHA256([]byte("txs"))
	body := blockBody(BlockTypeSimple, 1700000000, prev, txsHash, nil, nil)
	raw := wrapBlockSize(body)

	off := 0
	h, err := ParseBlock(raw, &off, FilePosition{FileName: "blk1.dat", Offset: 0})
	if err != nil {
		t.Fatalf("ParseBlock: %v", err)
	}
	if off != len(raw) {
		t.Fatalf("offset %d, want %d", off, len(raw))
	}
	if h.BlockType != BlockTypeSimple || h.Timestamp != 1700000000 {
		t.Fatalf("unexpected header: %+v", h)
	}
	if h.PrevHash != prev || h.TxsHash != txsHash {
		t.Fatalf("hash fields mismatch")
	}
	if h.CountTxs != 0 {
		t.Fatalf("expected 0 txs, got %d", h.CountTxs)
	}
	if h.Hash.Zero() {
		t.Fatalf("block hash should not be zero")
	}
	if h.EndBlockPos.Offset != uint64(len(raw)) {
		t.Fatalf("end_block_pos offset %d, want %d", h.EndBlockPos.Offset, len(raw))
	}
}

func TestParseBlockWithTransactions(t *testing.T) {
	prev := DoubleSHA256([]byte("prev2"))
	txsHash := DoubleSHA256([]byte("txs2"))
	var to [AddressSize]byte
	to[0] = 0x01
	tx1 := txWireBytes(to, 5, 1, 0, []byte("a"), nil, nil, nil)
	tx2 := txWireBytes(to, 6, 1, 1, []byte("b"), nil, nil, nil)
	body := blockBody(BlockTypeSimple, 42, prev, txsHash, [][]byte{tx1, tx2}, nil)
	raw := wrapBlockSize(body)

	off := 0
	h, err := ParseBlock(raw, &off, FilePosition{FileName: "blk1.dat", Offset: 0})
	if err != nil {
		t.Fatalf("ParseBlock: %v", err)
	}
	if h.CountTxs != 2 {
		t.Fatalf("expected 2 txs, got %d", h.CountTxs)
	}
	if string(h.Txs[0].Data) != "a" || string(h.Txs[1].Data) != "b" {
		t.Fatalf("tx data mismatch: %+v", h.Txs)
	}
	if h.Txs[0].FilePos.Offset == 0 && h.Txs[1].FilePos.Offset == 0 {
		t.Fatalf("transaction file positions were not assigned")
	}
}

func TestParseBlockForgingFamilyTrailer(t *testing.T) {
	prev := DoubleSHA256([]byte("prev3"))
	txsHash := DoubleSHA256([]byte("txs3"))
	sign := []byte{1, 2, 3}
	pubKey := []byte{0x04, 0x05}
	trailer := make([]byte, 0, 32)
	trailer = append(trailer, EncodeVarint(uint64(len(sign)))...)
	trailer = append(trailer, sign...)
	trailer = append(trailer, EncodeVarint(uint64(len(pubKey)))...)
	trailer = append(trailer, pubKey...)
	trailer = append(trailer, EncodeVarint(1)...) // one block signature
	counterSig := []byte{9, 9}
	trailer = append(trailer, EncodeVarint(uint64(len(counterSig)))...)
	trailer = append(trailer, counterSig...)

	body := blockBody(BlockTypeForging0, 7, prev, txsHash, nil, trailer)
	raw := wrapBlockSize(body)

	off := 0
	h, err := ParseBlock(raw, &off, FilePosition{FileName: "blk1.dat", Offset: 0})
	if err != nil {
		t.Fatalf("ParseBlock: %v", err)
	}
	if h.BlockType.Family() != FamilyForging {
		t.Fatalf("expected forging family, got %v", h.BlockType.Family())
	}
	if string(h.SenderSign) != string(sign) {
		t.Fatalf("sender_sign mismatch")
	}
	if len(h.BlockSignatures) != 1 || string(h.BlockSignatures[0]) != string(counterSig) {
		t.Fatalf("block_signatures mismatch: %+v", h.BlockSignatures)
	}
	wantAddr := DeriveAddressFromPubKey(pubKey)
	if !h.SenderAddress.Equal(wantAddr) {
		t.Fatalf("sender_address not derived from sender_pubkey")
	}
}

func TestParseBlockLeavesTrailingBufferUntouched(t *testing.T) {
	prev := DoubleSHA256([]byte("p"))
	txsHash := DoubleSHA256([]byte("t"))
	body := blockBody(BlockTypeSimple, 1, prev, txsHash, nil, nil)
	raw := wrapBlockSize(body)
	raw = append(raw, 0x00) // next block in the archive, not part of this one

	off := 0
	if _, err := ParseBlock(raw, &off, FilePosition{FileName: "x", Offset: 0}); err != nil {
		t.Fatalf("ParseBlock: %v", err)
	}
	if off != len(raw)-1 {
		t.Fatalf("offset %d should stop before the trailing byte", off)
	}
}

func TestBlockHeaderSerializeRoundTrip(t *testing.T) {
	h := BlockHeader{
		Timestamp:   100,
		BlockSize:   55,
		BlockType:   BlockTypeState,
		Hash:        DoubleSHA256([]byte("h")),
		PrevHash:    DoubleSHA256([]byte("p")),
		TxsHash:     DoubleSHA256([]byte("t")),
		CountTxs:    3,
		FilePos:     FilePosition{FileName: "blk1.dat", Offset: 0},
		EndBlockPos: FilePosition{FileName: "blk1.dat", Offset: 63},
		BlockNumber: 10,
	}
	enc := h.Serialize()
	off := 0
	got, err := DeserializeBlockHeader(enc, &off)
	if err != nil {
		t.Fatalf("DeserializeBlockHeader: %v", err)
	}
	if got.Hash != h.Hash || got.PrevHash != h.PrevHash || got.BlockNumber != h.BlockNumber {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
	if got.Metadata() != h.Metadata() {
		t.Fatalf("metadata projection mismatch")
	}
}

func TestBlockHeaderSerializeFullRoundTrip(t *testing.T) {
	to, err := NewAddressFromBytes(make([]byte, AddressSize), false)
	if err != nil {
		t.Fatalf("NewAddressFromBytes: %v", err)
	}
	h := BlockHeader{
		Timestamp:   1,
		BlockType:   BlockTypeSimple,
		Hash:        DoubleSHA256([]byte("h")),
		PrevHash:    DoubleSHA256([]byte("p")),
		TxsHash:     DoubleSHA256([]byte("t")),
		BlockNumber: 5,
		Txs: []TransactionInfo{
			{Hash: DoubleSHA256([]byte("tx1")), ToAddress: to, Value: 1, SizeRawTx: 40},
			{Hash: DoubleSHA256([]byte("tx2")), ToAddress: to, Value: 2, SizeRawTx: 40},
		},
	}
	enc := h.SerializeFull()
	off := 0
	got, err := DeserializeBlockHeaderFull(enc, &off)
	if err != nil {
		t.Fatalf("DeserializeBlockHeaderFull: %v", err)
	}
	if len(got.Txs) != 2 {
		t.Fatalf("expected 2 txs, got %d", len(got.Txs))
	}
	if got.Txs[0].Hash != h.Txs[0].Hash || got.Txs[1].Value != h.Txs[1].Value {
		t.Fatalf("tx round trip mismatch: %+v", got.Txs)
	}
	if off != len(enc) {
		t.Fatalf("offset %d, want %d", off, len(enc))
	}
}
