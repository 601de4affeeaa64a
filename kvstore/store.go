// Package kvstore is the embedded ordered key-value store adapter: a
// typed façade over bbolt with one bucket per record kind, mirroring the
// key-space prefixes the node has always used (b_, f_, block_meta, ms_,
// ns_, nsaa_, modules, version_db).
package kvstore

import (
	"encoding/binary"

	"go.etcd.io/bbolt"

	"torrentnode.dev/indexer/codec"
	"torrentnode.dev/indexer/xerr"
)

var (
	bucketBlocks    = []byte("b_")
	bucketFiles     = []byte("f_")
	bucketBlockMeta = []byte("block_meta")
	bucketMainState = []byte("ms_")
	bucketNodeState = []byte("ns_")
	bucketNodeDir   = []byte("nsaa_")
	bucketModules   = []byte("modules")
	bucketVersion   = []byte("version_db")
	modulesKey      = []byte("modules")
	versionKey      = []byte("version")
	allBuckets      = [][]byte{bucketBlocks, bucketFiles, bucketBlockMeta, bucketMainState, bucketNodeState, bucketNodeDir, bucketModules, bucketVersion}
)

// Store wraps a bbolt database with the record-kind-specific accessors
// the sync driver, workers, and query surface use.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt file at path and ensures
// every bucket this node needs exists.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, xerr.Wrap(xerr.Storage, "kvstore: open", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, xerr.Wrap(xerr.Storage, "kvstore: init buckets", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return xerr.Wrap(xerr.Storage, "kvstore: close", err)
	}
	return nil
}

// PutBlock stores a full block (header plus its transactions) keyed by
// block hash.
func (s *Store) PutBlock(h codec.BlockHeader) error {
	return s.update(bucketBlocks, func(b *bbolt.Bucket) error {
		return b.Put(h.Hash.Bytes(), h.SerializeFull())
	})
}

// GetBlockByHash fetches a full block by hash.
func (s *Store) GetBlockByHash(hash codec.Hash256) (codec.BlockHeader, error) {
	var out codec.BlockHeader
	err := s.view(bucketBlocks, func(b *bbolt.Bucket) error {
		raw := b.Get(hash.Bytes())
		if raw == nil {
			return xerr.New(xerr.NotFound, "kvstore: block not found")
		}
		off := 0
		h, err := codec.DeserializeBlockHeaderFull(raw, &off)
		if err != nil {
			return err
		}
		out = h
		return nil
	})
	return out, err
}

// PutBlockMeta records a candidate header at its block number, used to
// resolve forks: every header ever seen at a number stays here even
// after a different candidate becomes canonical.
func (s *Store) PutBlockMeta(m codec.BlocksMetadata) error {
	key := blockMetaKey(m.BlockNumber, m.BlockHash)
	return s.update(bucketBlockMeta, func(b *bbolt.Bucket) error {
		return b.Put(key, m.Serialize())
	})
}

// ListBlockMeta returns every candidate header recorded at blockNumber.
func (s *Store) ListBlockMeta(blockNumber uint64) ([]codec.BlocksMetadata, error) {
	var out []codec.BlocksMetadata
	prefix := appendU64be(nil, blockNumber)
	err := s.view(bucketBlockMeta, func(b *bbolt.Bucket) error {
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			off := 0
			m, err := codec.DeserializeBlocksMetadata(v, &off)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	return out, err
}

// PutMainBlockInfo stamps the canonical block at a block number.
func (s *Store) PutMainBlockInfo(m codec.MainBlockInfo) error {
	key := appendU64be(nil, m.BlockNumber)
	return s.update(bucketMainState, func(b *bbolt.Bucket) error {
		return b.Put(key, m.Serialize())
	})
}

// GetMainBlockInfo fetches the canonical block at a block number.
func (s *Store) GetMainBlockInfo(blockNumber uint64) (codec.MainBlockInfo, error) {
	var out codec.MainBlockInfo
	key := appendU64be(nil, blockNumber)
	err := s.view(bucketMainState, func(b *bbolt.Bucket) error {
		raw := b.Get(key)
		if raw == nil {
			return xerr.New(xerr.NotFound, "kvstore: main block info not found")
		}
		off := 0
		m, err := codec.DeserializeMainBlockInfo(raw, &off)
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

// LastMainBlockNumber returns the highest block number with a canonical
// pointer recorded, or ok == false if none exists yet.
func (s *Store) LastMainBlockNumber() (uint64, bool, error) {
	var (
		n  uint64
		ok bool
	)
	err := s.view(bucketMainState, func(b *bbolt.Bucket) error {
		k, _ := b.Cursor().Last()
		if k == nil {
			return nil
		}
		ok = true
		n = decodeU64be(k)
		return nil
	})
	return n, ok, err
}

// PutFileInfo records how far a sequential archive file has been read.
func (s *Store) PutFileInfo(fileName string, info codec.FileInfo) error {
	return s.update(bucketFiles, func(b *bbolt.Bucket) error {
		return b.Put([]byte(fileName), info.Serialize())
	})
}

// GetFileInfo fetches the resume offset for fileName, ok == false if
// never recorded.
func (s *Store) GetFileInfo(fileName string) (codec.FileInfo, bool, error) {
	var (
		out codec.FileInfo
		ok  bool
	)
	err := s.view(bucketFiles, func(b *bbolt.Bucket) error {
		raw := b.Get([]byte(fileName))
		if raw == nil {
			return nil
		}
		off := 0
		info, err := codec.DeserializeFileInfo(raw, &off)
		if err != nil {
			return err
		}
		out, ok = info, true
		return nil
	})
	return out, ok, err
}

// SetNodeName records the name host last self-reported.
func (s *Store) SetNodeName(host, name string) error {
	return s.update(bucketNodeDir, func(b *bbolt.Bucket) error {
		return b.Put([]byte(host), []byte(name))
	})
}

// AllNodes scans the node directory bucket into an in-memory snapshot.
func (s *Store) AllNodes() (codec.AllNodes, error) {
	out := codec.NewAllNodes()
	err := s.view(bucketNodeDir, func(b *bbolt.Bucket) error {
		return b.ForEach(func(k, v []byte) error {
			out.Entries[string(k)] = string(v)
			return nil
		})
	})
	return out, err
}

// PutState stores a small opaque value under the node-state bucket, used
// for checkpoints like the indexer's last-applied block number.
func (s *Store) PutState(key string, value []byte) error {
	return s.update(bucketNodeState, func(b *bbolt.Bucket) error {
		return b.Put([]byte(key), value)
	})
}

// GetState fetches a value stored with PutState; ok == false if absent.
func (s *Store) GetState(key string) ([]byte, bool, error) {
	var (
		out []byte
		ok  bool
	)
	err := s.view(bucketNodeState, func(b *bbolt.Bucket) error {
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}
		out = append([]byte(nil), raw...)
		ok = true
		return nil
	})
	return out, ok, err
}

// PutModules persists the active module bitset.
func (s *Store) PutModules(bits uint64) error {
	return s.update(bucketModules, func(b *bbolt.Bucket) error {
		return b.Put(modulesKey, appendU64be(nil, bits))
	})
}

// GetModules fetches the active module bitset, 0 if never set.
func (s *Store) GetModules() (uint64, error) {
	var bits uint64
	err := s.view(bucketModules, func(b *bbolt.Bucket) error {
		raw := b.Get(modulesKey)
		if raw == nil {
			return nil
		}
		bits = decodeU64be(raw)
		return nil
	})
	return bits, err
}

// GetDBVersion fetches the schema version stamped at first open, 0 if
// never stamped.
func (s *Store) GetDBVersion() (uint64, error) {
	var v uint64
	err := s.view(bucketVersion, func(b *bbolt.Bucket) error {
		raw := b.Get(versionKey)
		if raw == nil {
			return nil
		}
		v = decodeU64be(raw)
		return nil
	})
	return v, err
}

// SetDBVersion stamps the schema version.
func (s *Store) SetDBVersion(v uint64) error {
	return s.update(bucketVersion, func(b *bbolt.Bucket) error {
		return b.Put(versionKey, appendU64be(nil, v))
	})
}

func (s *Store) update(bucket []byte, fn func(*bbolt.Bucket) error) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return fn(tx.Bucket(bucket))
	})
	if err != nil {
		if xerr.Is(err, xerr.NotFound) {
			return err
		}
		return xerr.Wrap(xerr.Storage, "kvstore: write", err)
	}
	return nil
}

func (s *Store) view(bucket []byte, fn func(*bbolt.Bucket) error) error {
	err := s.db.View(func(tx *bbolt.Tx) error {
		return fn(tx.Bucket(bucket))
	})
	if err != nil {
		if xerr.Is(err, xerr.NotFound) {
			return err
		}
		return xerr.Wrap(xerr.Storage, "kvstore: read", err)
	}
	return nil
}

func blockMetaKey(blockNumber uint64, hash codec.Hash256) []byte {
	key := appendU64be(nil, blockNumber)
	return append(key, hash.Bytes()...)
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

func appendU64be(dst []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(dst, tmp[:]...)
}

func decodeU64be(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// ScanBlocks walks the block bucket in key order starting at keyFrom (or
// the first key, if nil) up to but excluding keyTo (or the end of the
// bucket, if nil), skipping the first skip matches and returning at most
// limit results. limit <= 0 means unbounded.
func (s *Store) ScanBlocks(keyFrom, keyTo []byte, skip, limit int) ([]codec.BlockHeader, error) {
	var out []codec.BlockHeader
	err := s.view(bucketBlocks, func(b *bbolt.Bucket) error {
		c := b.Cursor()
		var k, v []byte
		if keyFrom == nil {
			k, v = c.First()
		} else {
			k, v = c.Seek(keyFrom)
		}
		skipped := 0
		for ; k != nil; k, v = c.Next() {
			if keyTo != nil && bytesCompare(k, keyTo) >= 0 {
				break
			}
			if skipped < skip {
				skipped++
				continue
			}
			off := 0
			h, err := codec.DeserializeBlockHeaderFull(v, &off)
			if err != nil {
				return err
			}
			out = append(out, h)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func bytesCompare(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Batch groups several writes, possibly across different record kinds,
// into one atomic bbolt transaction.
type Batch struct {
	tx *bbolt.Tx
}

// WriteBatch runs fn against a single write transaction; either every
// operation inside fn commits together or none do.
func (s *Store) WriteBatch(fn func(*Batch) error) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return fn(&Batch{tx: tx})
	})
	if err != nil {
		if xerr.Is(err, xerr.NotFound) {
			return err
		}
		return xerr.Wrap(xerr.Storage, "kvstore: batch write", err)
	}
	return nil
}

func (batch *Batch) PutBlock(h codec.BlockHeader) error {
	return batch.tx.Bucket(bucketBlocks).Put(h.Hash.Bytes(), h.SerializeFull())
}

func (batch *Batch) PutBlockMeta(m codec.BlocksMetadata) error {
	return batch.tx.Bucket(bucketBlockMeta).Put(blockMetaKey(m.BlockNumber, m.BlockHash), m.Serialize())
}

func (batch *Batch) PutMainBlockInfo(m codec.MainBlockInfo) error {
	return batch.tx.Bucket(bucketMainState).Put(appendU64be(nil, m.BlockNumber), m.Serialize())
}

func (batch *Batch) PutFileInfo(fileName string, info codec.FileInfo) error {
	return batch.tx.Bucket(bucketFiles).Put([]byte(fileName), info.Serialize())
}

func (batch *Batch) PutState(key string, value []byte) error {
	return batch.tx.Bucket(bucketNodeState).Put([]byte(key), value)
}
