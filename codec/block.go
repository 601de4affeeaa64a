package codec

import "torrentnode.dev/indexer/xerr"

// BlockType distinguishes the three wire families a block can belong to.
// Simple blocks carry ordinary transactions; state blocks carry a
// module's state snapshot; forging blocks carry collator sign-off
// transactions and a set of counter-signatures.
type BlockType uint64

const (
	BlockTypeSimple BlockType = 0
	BlockTypeForP2P BlockType = 1
	BlockTypeState  BlockType = 2

	BlockTypeForging0 BlockType = 100
	BlockTypeForging1 BlockType = 101
	BlockTypeForging2 BlockType = 102
	BlockTypeForging3 BlockType = 103
	BlockTypeForging4 BlockType = 104
)

// BlockFamily groups the block types above into the three wire shapes
// that actually differ on disk.
type BlockFamily int

const (
	FamilySimple BlockFamily = iota
	FamilyState
	FamilyForging
)

func (t BlockType) Family() BlockFamily {
	switch {
	case t == BlockTypeState:
		return FamilyState
	case t >= BlockTypeForging0 && t <= BlockTypeForging4:
		return FamilyForging
	default:
		return FamilySimple
	}
}

// BlockHeader is the fully-parsed form of one block.
type BlockHeader struct {
	Timestamp   uint64
	BlockSize   uint64
	BlockType   BlockType
	Hash        Hash256
	PrevHash    Hash256
	TxsHash     Hash256
	CountTxs    uint64
	FilePos     FilePosition
	EndBlockPos FilePosition
	BlockNumber uint64

	// SignHash is the single-SHA256 digest the block sender's signature
	// was actually taken over, distinct from Hash (the double-SHA256
	// record identity used for prev_hash linking and lookups).
	SignHash Hash256

	SenderSign    []byte
	SenderPubKey  []byte
	SenderAddress Address

	BlockSignatures [][]byte

	Txs []TransactionInfo
}

// ParseBlock reads one block record from b starting at *off. filePos
// identifies the archive position of the block_size field itself;
// EndBlockPos is derived from it and the bytes actually consumed.
func ParseBlock(b []byte, off *int, filePos FilePosition) (BlockHeader, error) {
	recordStart := *off

	blockSize, err := readU64le(b, off)
	if err != nil {
		return BlockHeader{}, err
	}
	hashStart := *off

	blockTypeRaw, err := readU64le(b, off)
	if err != nil {
		return BlockHeader{}, err
	}
	blockType := BlockType(blockTypeRaw)

	timestamp, err := readU64le(b, off)
	if err != nil {
		return BlockHeader{}, err
	}

	prevHashRaw, err := readBytes(b, off, 32)
	if err != nil {
		return BlockHeader{}, err
	}
	var prevHash Hash256
	copy(prevHash[:], prevHashRaw)

	txsHashRaw, err := readBytes(b, off, 32)
	if err != nil {
		return BlockHeader{}, err
	}
	var txsHash Hash256
	copy(txsHash[:], txsHashRaw)

	var txs []TransactionInfo
	var prevSignData []byte
	hashEnd := *off
	for {
		beforeTx := *off
		tx, end, err := ParseTransaction(b, off)
		if err != nil {
			return BlockHeader{}, err
		}
		if end {
			hashEnd = beforeTx
			break
		}
		tx.FilePos = FilePosition{FileName: filePos.FileName, Offset: filePos.Offset + uint64(beforeTx-recordStart)}
		tx.MarkSignBlockTx(len(txs) == 0, prevSignData)
		if tx.IsSignBlockTx {
			prevSignData = tx.Data
		}
		txs = append(txs, tx)
	}

	header := BlockHeader{
		Timestamp: timestamp,
		BlockSize: blockSize,
		BlockType: blockType,
		PrevHash:  prevHash,
		TxsHash:   txsHash,
		CountTxs:  uint64(len(txs)),
		FilePos:   filePos,
		Txs:       txs,
	}

	if blockType.Family() != FamilySimple {
		sign, err := readVarintPrefixed(b, off)
		if err != nil {
			return BlockHeader{}, err
		}
		pubKey, err := readVarintPrefixed(b, off)
		if err != nil {
			return BlockHeader{}, err
		}
		sigCount, _, err := ReadVarint(b, off)
		if err != nil {
			return BlockHeader{}, err
		}
		sigs := make([][]byte, 0, sigCount)
		for i := uint64(0); i < sigCount; i++ {
			s, err := readVarintPrefixed(b, off)
			if err != nil {
				return BlockHeader{}, err
			}
			sigs = append(sigs, s)
		}
		header.SenderSign = sign
		header.SenderPubKey = pubKey
		header.BlockSignatures = sigs
		if len(pubKey) > 0 {
			header.SenderAddress = DeriveAddressFromPubKey(pubKey)
		}
		hashEnd = *off
	}

	if uint64(*off-hashStart) != blockSize {
		return BlockHeader{}, xerr.New(xerr.Protocol, "block: consumed size does not match block_size")
	}

	header.Hash = DoubleSHA256(b[hashStart:hashEnd])
	header.SignHash = SingleSHA256(b[hashStart:hashEnd])
	header.EndBlockPos = FilePosition{
		FileName: filePos.FileName,
		Offset:   filePos.Offset + uint64(*off-recordStart),
	}

	return header, nil
}

// Serialize encodes the persisted KV record for a block header. Full
// transaction bodies are stored under their own keys and are not repeated
// here; only the header-level summary is kept.
func (h BlockHeader) Serialize() []byte {
	out := make([]byte, 0, 256)
	out = appendU64le(out, h.Timestamp)
	out = appendU64le(out, h.BlockSize)
	out = appendU64le(out, uint64(h.BlockType))
	out = append(out, h.Hash[:]...)
	out = append(out, h.SignHash[:]...)
	out = append(out, h.PrevHash[:]...)
	out = append(out, h.TxsHash[:]...)
	out = appendU64le(out, h.CountTxs)
	out = append(out, h.FilePos.Serialize()...)
	out = append(out, h.EndBlockPos.Serialize()...)
	out = appendU64le(out, h.BlockNumber)
	out = putLE(out, h.SenderSign)
	out = putLE(out, h.SenderPubKey)
	out = appendU64le(out, uint64(len(h.BlockSignatures)))
	for _, s := range h.BlockSignatures {
		out = putLE(out, s)
	}
	return out
}

// DeserializeBlockHeader is the inverse of Serialize. It does not restore
// Txs; callers that need transaction bodies read them from their own keys.
func DeserializeBlockHeader(b []byte, off *int) (BlockHeader, error) {
	var h BlockHeader
	var err error
	if h.Timestamp, err = readU64le(b, off); err != nil {
		return h, err
	}
	if h.BlockSize, err = readU64le(b, off); err != nil {
		return h, err
	}
	bt, err := readU64le(b, off)
	if err != nil {
		return h, err
	}
	h.BlockType = BlockType(bt)

	hashRaw, err := readBytes(b, off, 32)
	if err != nil {
		return h, err
	}
	copy(h.Hash[:], hashRaw)

	signHashRaw, err := readBytes(b, off, 32)
	if err != nil {
		return h, err
	}
	copy(h.SignHash[:], signHashRaw)

	prevRaw, err := readBytes(b, off, 32)
	if err != nil {
		return h, err
	}
	copy(h.PrevHash[:], prevRaw)

	txsRaw, err := readBytes(b, off, 32)
	if err != nil {
		return h, err
	}
	copy(h.TxsHash[:], txsRaw)

	if h.CountTxs, err = readU64le(b, off); err != nil {
		return h, err
	}
	if h.FilePos, err = DeserializeFilePosition(b, off); err != nil {
		return h, err
	}
	if h.EndBlockPos, err = DeserializeFilePosition(b, off); err != nil {
		return h, err
	}
	if h.BlockNumber, err = readU64le(b, off); err != nil {
		return h, err
	}
	if h.SenderSign, err = getLE(b, off); err != nil {
		return h, err
	}
	if h.SenderPubKey, err = getLE(b, off); err != nil {
		return h, err
	}
	sigCount, err := readU64le(b, off)
	if err != nil {
		return h, err
	}
	h.BlockSignatures = make([][]byte, 0, sigCount)
	for i := uint64(0); i < sigCount; i++ {
		s, err := getLE(b, off)
		if err != nil {
			return h, err
		}
		h.BlockSignatures = append(h.BlockSignatures, s)
	}
	if len(h.SenderPubKey) > 0 {
		h.SenderAddress = DeriveAddressFromPubKey(h.SenderPubKey)
	}
	return h, nil
}

// Metadata projects h to the fork-resolution record kept in the chain
// resolver's in-memory map.
func (h BlockHeader) Metadata() BlocksMetadata {
	return BlocksMetadata{
		BlockHash:     h.Hash,
		PrevBlockHash: h.PrevHash,
		BlockNumber:   h.BlockNumber,
	}
}

// SerializeFull encodes h together with every transaction it carries, the
// form kept in the KV store's block bucket so a full dump never has to
// re-read the archive.
func (h BlockHeader) SerializeFull() []byte {
	out := h.Serialize()
	out = appendU64le(out, uint64(len(h.Txs)))
	for _, tx := range h.Txs {
		out = append(out, tx.Serialize()...)
	}
	return out
}

// DeserializeBlockHeaderFull is the inverse of SerializeFull.
func DeserializeBlockHeaderFull(b []byte, off *int) (BlockHeader, error) {
	h, err := DeserializeBlockHeader(b, off)
	if err != nil {
		return h, err
	}
	count, err := readU64le(b, off)
	if err != nil {
		return h, err
	}
	h.Txs = make([]TransactionInfo, 0, count)
	for i := uint64(0); i < count; i++ {
		tx, err := DeserializeTransactionInfo(b, off)
		if err != nil {
			return h, err
		}
		h.Txs = append(h.Txs, tx)
	}
	return h, nil
}
