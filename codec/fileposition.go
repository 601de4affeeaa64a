package codec

// FilePosition identifies where a block or transaction lives in the
// append-only archive.
type FilePosition struct {
	FileName string
	Offset   uint64
}

// Serialize encodes a FilePosition as a persisted KV record (little-endian
// length-prefixed strings).
func (p FilePosition) Serialize() []byte {
	out := make([]byte, 0, 16+len(p.FileName))
	out = putLE(out, []byte(p.FileName))
	out = appendU64le(out, p.Offset)
	return out
}

// DeserializeFilePosition is the inverse of Serialize, consuming from b
// starting at *off.
func DeserializeFilePosition(b []byte, off *int) (FilePosition, error) {
	name, err := getLE(b, off)
	if err != nil {
		return FilePosition{}, err
	}
	offset, err := readU64le(b, off)
	if err != nil {
		return FilePosition{}, err
	}
	return FilePosition{FileName: string(name), Offset: offset}, nil
}
