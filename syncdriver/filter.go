package syncdriver

import "torrentnode.dev/indexer/codec"

// filterTransactionsToSave applies the persist-iff rule the users module
// adds on top of plain block/block_raw indexing: with the module off,
// every transaction in header is kept as-is. With it on, a transaction is
// kept only if its sender or recipient is in watched, or it is itself a
// sign-block transaction; every other transaction has its AllRawTx
// cleared, since nothing downstream needs the raw bytes of a transaction
// that was never persisted in full.
func filterTransactionsToSave(header *codec.BlockHeader, usersModuleOn bool, watched map[string]bool) {
	if !usersModuleOn {
		return
	}
	for i := range header.Txs {
		tx := &header.Txs[i]
		if tx.IsSignBlockTx || watched[tx.FromAddress.Hex()] || watched[tx.ToAddress.Hex()] {
			continue
		}
		tx.AllRawTx = nil
	}
}

// collectSignBlockTxs appends every sign-block transaction's data into
// header.BlockSignatures, additively alongside whatever ParseBlock already
// populated there for non-simple block families, so validate mode always
// has a complete set of candidate hashes to confirm the previous block
// against.
func collectSignBlockTxs(header *codec.BlockHeader) {
	for _, tx := range header.Txs {
		if tx.IsSignBlockTx {
			header.BlockSignatures = append(header.BlockSignatures, tx.Data)
		}
	}
}
