package codec

import "torrentnode.dev/indexer/xerr"

// BlocksMetadata tracks every known header at a given block number, used to
// resolve forks: the header with the numerically smaller hash wins.
type BlocksMetadata struct {
	BlockHash     Hash256
	PrevBlockHash Hash256
	BlockNumber   uint64
}

func (m BlocksMetadata) Serialize() []byte {
	out := make([]byte, 0, 72)
	out = append(out, m.BlockHash[:]...)
	out = append(out, m.PrevBlockHash[:]...)
	out = appendU64le(out, m.BlockNumber)
	return out
}

func DeserializeBlocksMetadata(b []byte, off *int) (BlocksMetadata, error) {
	var m BlocksMetadata
	hb, err := readBytes(b, off, 32)
	if err != nil {
		return m, err
	}
	copy(m.BlockHash[:], hb)
	pb, err := readBytes(b, off, 32)
	if err != nil {
		return m, err
	}
	copy(m.PrevBlockHash[:], pb)
	m.BlockNumber, err = readU64le(b, off)
	if err != nil {
		return m, err
	}
	return m, nil
}

// Wins reports whether m should replace other as the canonical header at
// their shared block number: the smaller hash, byte-for-byte, wins.
func (m BlocksMetadata) Wins(other BlocksMetadata) bool {
	for i := range m.BlockHash {
		if m.BlockHash[i] != other.BlockHash[i] {
			return m.BlockHash[i] < other.BlockHash[i]
		}
	}
	return false
}

// MainBlockInfo is the canonical-chain pointer persisted per block number.
type MainBlockInfo struct {
	BlockNumber uint64
	BlockHash   Hash256
	CountVal    uint64
}

func (m MainBlockInfo) Serialize() []byte {
	out := make([]byte, 0, 48)
	out = appendU64le(out, m.BlockNumber)
	out = append(out, m.BlockHash[:]...)
	out = appendU64le(out, m.CountVal)
	return out
}

func DeserializeMainBlockInfo(b []byte, off *int) (MainBlockInfo, error) {
	var m MainBlockInfo
	var err error
	m.BlockNumber, err = readU64le(b, off)
	if err != nil {
		return m, err
	}
	hb, err := readBytes(b, off, 32)
	if err != nil {
		return m, err
	}
	copy(m.BlockHash[:], hb)
	m.CountVal, err = readU64le(b, off)
	if err != nil {
		return m, err
	}
	return m, nil
}

// FileInfo tracks how far a sequential archive file has been consumed.
type FileInfo struct {
	FilePos FilePosition
}

func (f FileInfo) Serialize() []byte {
	return f.FilePos.Serialize()
}

func DeserializeFileInfo(b []byte, off *int) (FileInfo, error) {
	pos, err := DeserializeFilePosition(b, off)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{FilePos: pos}, nil
}

// AllNodes is the node directory backing the nsaa_ key space: a host
// address mapped to the human-readable name it last self-reported in a
// node-registration transaction.
type AllNodes struct {
	Entries map[string]string // host -> name
}

func NewAllNodes() AllNodes {
	return AllNodes{Entries: make(map[string]string)}
}

func (n AllNodes) Serialize() []byte {
	out := appendU64le(nil, uint64(len(n.Entries)))
	for host, name := range n.Entries {
		out = putLE(out, []byte(host))
		out = putLE(out, []byte(name))
	}
	return out
}

func DeserializeAllNodes(b []byte, off *int) (AllNodes, error) {
	n := NewAllNodes()
	count, err := readU64le(b, off)
	if err != nil {
		return n, err
	}
	for i := uint64(0); i < count; i++ {
		host, err := getLE(b, off)
		if err != nil {
			return n, err
		}
		name, err := getLE(b, off)
		if err != nil {
			return n, err
		}
		n.Entries[string(host)] = string(name)
	}
	return n, nil
}

// Set records or overwrites the name reported by host, returning whether
// the entry actually changed.
func (n AllNodes) Set(host, name string) bool {
	if existing, ok := n.Entries[host]; ok && existing == name {
		return false
	}
	n.Entries[host] = name
	return true
}

// ErrUnknownHost is returned by lookups against a host that never
// registered.
var ErrUnknownHost = xerr.New(xerr.NotFound, "node: unknown host")
