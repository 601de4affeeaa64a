package api

import (
	"encoding/hex"

	"torrentnode.dev/indexer/blocksource"
	"torrentnode.dev/indexer/codec"
)

// blockType names the header projections the query surface can return.
// Unrecognized values fall back to "simple".
const (
	typeSimple = "simple"
	typeForP2P = "forP2P"
	typeSmall  = "small"
	typeHashes = "hashes"
	typeFull   = "full"
)

// projectHeader builds the wire projection of h for the given type name.
// simple carries every scalar field; forP2P drops the block's own hash
// and timestamp (a peer recomputes both from the dump itself); small
// drops size and file-location fields; hashes carries only enough to
// walk the chain; full adds the transaction list to simple.
func projectHeader(h codec.BlockHeader, blockType string) blocksource.HeaderWire {
	switch blockType {
	case typeForP2P:
		return blocksource.HeaderWire{
			Number:    h.BlockNumber,
			PrevHash:  hex.EncodeToString(h.PrevHash.Bytes()),
			BlockSize: h.BlockSize,
			BlockType: uint64(h.BlockType),
			FileName:  h.FilePos.FileName,
			FileOff:   h.FilePos.Offset,
		}
	case typeSmall:
		return blocksource.HeaderWire{
			Number:    h.BlockNumber,
			Hash:      hex.EncodeToString(h.Hash.Bytes()),
			PrevHash:  hex.EncodeToString(h.PrevHash.Bytes()),
			Timestamp: h.Timestamp,
			BlockType: uint64(h.BlockType),
		}
	case typeHashes:
		return blocksource.HeaderWire{
			Number:   h.BlockNumber,
			Hash:     hex.EncodeToString(h.Hash.Bytes()),
			PrevHash: hex.EncodeToString(h.PrevHash.Bytes()),
		}
	case typeFull:
		w := projectHeader(h, typeSimple)
		w.Txs = make([]blocksource.TxWire, len(h.Txs))
		for i, tx := range h.Txs {
			w.Txs[i] = projectTx(tx)
		}
		return w
	default:
		return blocksource.HeaderWire{
			Number:    h.BlockNumber,
			Hash:      hex.EncodeToString(h.Hash.Bytes()),
			PrevHash:  hex.EncodeToString(h.PrevHash.Bytes()),
			Timestamp: h.Timestamp,
			BlockSize: h.BlockSize,
			BlockType: uint64(h.BlockType),
			FileName:  h.FilePos.FileName,
			FileOff:   h.FilePos.Offset,
		}
	}
}

func projectTx(tx codec.TransactionInfo) blocksource.TxWire {
	return blocksource.TxWire{
		Hash:        hex.EncodeToString(tx.Hash.Bytes()),
		FromAddress: tx.FromAddress.Hex(),
		ToAddress:   tx.ToAddress.Hex(),
		Value:       tx.Value,
		Fees:        tx.Fees,
		Nonce:       tx.Nonce,
		Data:        hex.EncodeToString(tx.Data),
	}
}
