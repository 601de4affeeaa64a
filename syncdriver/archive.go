package syncdriver

import (
	"os"
	"path/filepath"
	"sync"

	"torrentnode.dev/indexer/codec"
	"torrentnode.dev/indexer/xerr"
)

// archiveFileSize is the rollover threshold: a new numbered archive file
// starts once the current one would cross this size, keeping individual
// files from growing without bound.
const archiveFileSize = 256 << 20

// archiveWriter appends blocks fetched from a peer into local *.blk
// files, the same on-disk format blocksource/filesrc reads back, so a
// node that ingested over the network can still serve and resume from
// its own archive.
type archiveWriter struct {
	mu   sync.Mutex
	dir  string
	file *os.File
	name string
	pos  int64
	seq  int
}

func newArchiveWriter(dir string) *archiveWriter {
	return &archiveWriter{dir: dir}
}

// write appends dump (the raw wire bytes for one block, already including
// its own u64_le size prefix) to the current archive file, rolling over
// to a new file first if needed, and returns the position it was written
// at.
func (w *archiveWriter) write(dump []byte) (codec.FilePosition, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil || w.pos+int64(len(dump)) > archiveFileSize {
		if err := w.rollover(); err != nil {
			return codec.FilePosition{}, err
		}
	}

	n, err := w.file.Write(dump)
	if err != nil {
		return codec.FilePosition{}, xerr.Wrap(xerr.Storage, "syncdriver: archive write", err)
	}
	pos := codec.FilePosition{FileName: w.name, Offset: uint64(w.pos)}
	w.pos += int64(n)
	return pos, nil
}

func (w *archiveWriter) rollover() error {
	if w.file != nil {
		_ = w.file.Close()
	}
	w.seq++
	w.name = filepath.Join(w.dir, archiveFileName(w.seq))
	f, err := os.OpenFile(w.name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerr.Wrap(xerr.Storage, "syncdriver: open archive file", err)
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return xerr.Wrap(xerr.Storage, "syncdriver: stat archive file", err)
	}
	w.file = f
	w.pos = stat.Size()
	return nil
}

func archiveFileName(seq int) string {
	const digits = "0000"
	s := digits
	for i, n := len(s)-1, seq; n > 0 && i >= 0; i, n = i-1, n/10 {
		s = s[:i] + string(rune('0'+n%10)) + s[i+1:]
	}
	return s + ".blk"
}

// rewriteFilePositions stamps every transaction's FilePos to point at
// where this block actually landed in the local archive, since they were
// parsed relative to wherever the peer's own archive stored the dump.
func rewriteFilePositions(header *codec.BlockHeader, blockPos codec.FilePosition) {
	delta := int64(blockPos.Offset) - int64(header.FilePos.Offset)
	header.FilePos = blockPos
	header.EndBlockPos.FileName = blockPos.FileName
	header.EndBlockPos.Offset = uint64(int64(header.EndBlockPos.Offset) + delta)
	for i := range header.Txs {
		header.Txs[i].FilePos.FileName = blockPos.FileName
		header.Txs[i].FilePos.Offset = uint64(int64(header.Txs[i].FilePos.Offset) + delta)
	}
}
