// Package filesrc implements blocksource.Source by sequentially reading
// the node's own archive of `*.blk` dump files, resuming from the byte
// offset persisted in the KV store.
package filesrc

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"torrentnode.dev/indexer/codec"
	"torrentnode.dev/indexer/kvstore"
	"torrentnode.dev/indexer/xerr"
)

// Source reads blocks out of a directory of sequentially-numbered dump
// files, in basename order, one block at a time.
type Source struct {
	store      *kvstore.Store
	folderPath string

	files   []string // basenames, in read order
	cursor  int       // index into files of the currently open one
	current *os.File
	pos     int64
}

// New builds a Source over every `*.blk` file in folderPath.
func New(store *kvstore.Store, folderPath string) *Source {
	return &Source{store: store, folderPath: folderPath}
}

// Initialize lists the archive directory once and orders it by basename;
// the actual resume position for each file is looked up lazily as Next
// reaches it. A file added to the directory after Initialize is not listed.
func (s *Source) Initialize(ctx context.Context) error {
	entries, err := os.ReadDir(s.folderPath)
	if err != nil {
		return xerr.Wrap(xerr.Storage, "filesrc: read dir", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".blk" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	s.files = names
	return nil
}

// DoProcess reports more work available whenever Initialize listed at
// least one archive file; the file source has no
// notion of "caught up" of its own — the sync driver stops pulling once
// Next returns ok == false.
func (s *Source) DoProcess(ctx context.Context, countBlocks uint64, lastHash codec.Hash256) (bool, uint64, error) {
	return len(s.files) > 0, s.KnownBlock(), nil
}

// KnownBlock reports how many archive files Initialize listed; the
// file source has no head concept beyond "there is more on disk".
func (s *Source) KnownBlock() uint64 {
	return uint64(len(s.files))
}

// Next reads the next block from the currently open file, advancing to
// the next file in order when the current one is exhausted.
func (s *Source) Next(ctx context.Context) (codec.BlockHeader, []byte, bool, error) {
	for {
		if s.current == nil {
			if s.cursor >= len(s.files) {
				return codec.BlockHeader{}, nil, false, nil
			}
			name := s.files[s.cursor]
			fullPath := filepath.Join(s.folderPath, name)
			info, ok, err := s.store.GetFileInfo(name)
			if err != nil {
				return codec.BlockHeader{}, nil, false, err
			}
			startPos := int64(0)
			if ok {
				startPos = int64(info.FilePos.Offset)
			}
			f, err := os.Open(fullPath)
			if err != nil {
				return codec.BlockHeader{}, nil, false, xerr.Wrap(xerr.Storage, "filesrc: open "+name, err)
			}
			if _, err := f.Seek(startPos, os.SEEK_SET); err != nil {
				_ = f.Close()
				return codec.BlockHeader{}, nil, false, xerr.Wrap(xerr.Storage, "filesrc: seek "+name, err)
			}
			s.current = f
			s.pos = startPos
		}

		name := s.files[s.cursor]
		header, dump, ok, err := s.readOneBlock(s.current, name, s.pos)
		if err != nil {
			_ = s.current.Close()
			s.current = nil
			return codec.BlockHeader{}, nil, false, err
		}
		if !ok {
			// File exhausted: close and move to the next one.
			_ = s.current.Close()
			s.current = nil
			s.cursor++
			continue
		}

		s.pos = int64(header.EndBlockPos.Offset)
		if err := s.store.PutFileInfo(name, codec.FileInfo{FilePos: header.EndBlockPos}); err != nil {
			return codec.BlockHeader{}, nil, false, err
		}
		return header, dump, true, nil
	}
}

// readOneBlock reads one block starting at pos in f, returning ok ==
// false (no error) once the remaining bytes don't contain a full block.
func (s *Source) readOneBlock(f *os.File, fileName string, pos int64) (codec.BlockHeader, []byte, bool, error) {
	stat, err := f.Stat()
	if err != nil {
		return codec.BlockHeader{}, nil, false, xerr.Wrap(xerr.Storage, "filesrc: stat "+fileName, err)
	}
	remaining := stat.Size() - pos
	if remaining <= 0 {
		return codec.BlockHeader{}, nil, false, nil
	}

	buf := make([]byte, remaining)
	if _, err := f.ReadAt(buf, pos); err != nil {
		return codec.BlockHeader{}, nil, false, xerr.Wrap(xerr.Storage, "filesrc: read "+fileName, err)
	}

	off := 0
	header, err := codec.ParseBlock(buf, &off, codec.FilePosition{FileName: fileName, Offset: uint64(pos)})
	if err != nil {
		return codec.BlockHeader{}, nil, false, nil
	}
	dump := append([]byte(nil), buf[:off]...)
	return header, dump, true, nil
}

// GetExistingBlock re-reads a single block at its recorded file
// position, independent of the sequential read cursor.
func (s *Source) GetExistingBlock(ctx context.Context, h codec.BlockHeader) (codec.BlockHeader, []byte, error) {
	if h.FilePos.FileName == "" {
		return codec.BlockHeader{}, nil, xerr.New(xerr.Protocol, "filesrc: block has no recorded file position")
	}
	f, err := os.Open(filepath.Join(s.folderPath, h.FilePos.FileName))
	if err != nil {
		return codec.BlockHeader{}, nil, xerr.Wrap(xerr.Storage, "filesrc: open "+h.FilePos.FileName, err)
	}
	defer f.Close()

	header, dump, ok, err := s.readOneBlock(f, h.FilePos.FileName, int64(h.FilePos.Offset))
	if err != nil {
		return codec.BlockHeader{}, nil, err
	}
	if !ok {
		return codec.BlockHeader{}, nil, xerr.New(xerr.Integrity, "filesrc: no block at recorded position")
	}
	header.BlockNumber = h.BlockNumber
	return header, dump, nil
}
