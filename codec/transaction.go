package codec

import (
	"encoding/json"
	"strconv"

	"torrentnode.dev/indexer/xerr"
)

// IntStatus tags the outcome a worker assigned a transaction after
// validation. It travels outside the hash pre-image so assigning or
// revising it never changes a transaction's hash.
type IntStatus uint64

const (
	StatusApprove    IntStatus = 1
	StatusAccept     IntStatus = 20
	StatusWrongMoney IntStatus = 30
	StatusWrongData  IntStatus = 40
	StatusForging1   IntStatus = 100
	StatusForging2   IntStatus = 101
	StatusForging3   IntStatus = 102
	StatusForging4   IntStatus = 103
	StatusForging5   IntStatus = 104
	StatusState      IntStatus = 200
	StatusNodeTest   IntStatus = 0x1101
)

// DelegateInfo is the optional sub-record parsed out of a transaction's
// data when it carries a "delegate"/"undelegate" instruction.
type DelegateInfo struct {
	Value      uint64
	IsDelegate bool
}

// ScriptInfo is the optional sub-record carried by a transaction addressed
// to a script-address.
type ScriptInfo struct {
	TxRaw              []byte
	IsInitializeScript bool
}

// TransactionInfo is the fully-parsed form of one transaction, independent
// of which block carried it until BlockNumber and FilePos are filled in.
type TransactionInfo struct {
	Hash Hash256
	// SignHash is the single-SHA256 digest the sender's ECDSA signature
	// was actually taken over, distinct from Hash (the double-SHA256
	// record identity used for lookups and block linking).
	SignHash    Hash256
	FromAddress Address
	ToAddress   Address
	Value       uint64
	Fees        uint64
	Nonce       uint64
	BlockNumber uint64
	SizeRawTx   uint64
	RealFees    uint64

	Data     []byte
	Sign     []byte
	PubKey   []byte
	AllRawTx []byte

	FilePos FilePosition

	IntStatus *IntStatus

	IsSignBlockTx bool

	Delegate   *DelegateInfo
	ScriptInfo *ScriptInfo

	IsInitialized bool
}

// delegateTxRequest is the JSON shape a transaction's data carries for a
// delegate/undelegate instruction: {"method":"delegate","params":{"value":"123"}}.
type delegateTxRequest struct {
	Method string `json:"method"`
	Params struct {
		Value string `json:"value"`
	} `json:"params"`
}

// scriptTxRequest is the JSON shape a transaction's data carries when
// addressed to a script-address: {"method":"compile"} or {"method":"run"}.
type scriptTxRequest struct {
	Method string `json:"method"`
}

// parseDelegateInfo extracts a delegate/undelegate sub-record from a
// transaction's data field. Malformed or unrelated JSON is silently
// ignored, the same tolerance the data field gets everywhere else.
func parseDelegateInfo(data []byte) *DelegateInfo {
	if !looksLikeJSONObject(data) {
		return nil
	}
	var req delegateTxRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil
	}
	switch req.Method {
	case "delegate":
		value, err := strconv.ParseUint(req.Params.Value, 10, 64)
		if err != nil {
			return nil
		}
		return &DelegateInfo{Value: value, IsDelegate: true}
	case "undelegate":
		return &DelegateInfo{IsDelegate: false}
	default:
		return nil
	}
}

// parseScriptMethod reports whether data names an initializing ("compile")
// or running ("run") script method; any other shape leaves the script
// un-initialized, the default for a script-address transaction.
func parseScriptMethod(data []byte) (isInitialize bool) {
	if !looksLikeJSONObject(data) {
		return false
	}
	var req scriptTxRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return false
	}
	return req.Method == "compile"
}

func looksLikeJSONObject(data []byte) bool {
	return len(data) >= 2 && data[0] == '{' && data[len(data)-1] == '}'
}

// computeRealFees mirrors the node's fee-rebate rule: the first 255 bytes
// of raw transaction size are fee-free.
func computeRealFees(sizeRawTx uint64) uint64 {
	const freeBytes = 255
	if sizeRawTx <= freeBytes {
		return 0
	}
	return sizeRawTx - freeBytes
}

// ParseTransaction reads one transaction record from b starting at *off.
// A leading tx_size varint of 0 is the block's tx-list terminator; callers
// must check end before using tx.
func ParseTransaction(b []byte, off *int) (tx TransactionInfo, end bool, err error) {
	txSize, _, err := ReadVarint(b, off)
	if err != nil {
		return tx, false, err
	}
	if txSize == 0 {
		return tx, true, nil
	}

	txStart := *off
	txEnd := txStart + int(txSize)
	if txEnd > len(b) || txEnd < txStart {
		return tx, false, xerr.New(xerr.Protocol, "transaction: size exceeds buffer")
	}

	toRaw, err := readBytes(b, off, AddressSize)
	if err != nil {
		return tx, false, err
	}
	toAddr, err := NewAddressFromBytes(toRaw, false)
	if err != nil {
		return tx, false, err
	}

	value, _, err := ReadVarint(b, off)
	if err != nil {
		return tx, false, err
	}
	fees, _, err := ReadVarint(b, off)
	if err != nil {
		return tx, false, err
	}
	nonce, _, err := ReadVarint(b, off)
	if err != nil {
		return tx, false, err
	}

	data, err := readVarintPrefixed(b, off)
	if err != nil {
		return tx, false, err
	}
	clearEnd := *off

	delegate := parseDelegateInfo(data)
	var script *ScriptInfo
	if toAddr.IsScript() {
		script = &ScriptInfo{IsInitializeScript: parseScriptMethod(data)}
	}

	sign, err := readVarintPrefixed(b, off)
	if err != nil {
		return tx, false, err
	}
	pubKey, err := readVarintPrefixed(b, off)
	if err != nil {
		return tx, false, err
	}

	hashEnd := *off
	if hashEnd > txEnd {
		return tx, false, xerr.New(xerr.Protocol, "transaction: fields overrun tx_size")
	}

	if script != nil {
		script.TxRaw = append([]byte(nil), b[txStart:clearEnd]...)
	}

	var intStatus *IntStatus
	if *off < txEnd {
		raw, _, err := ReadVarint(b, off)
		if err != nil {
			return tx, false, err
		}
		s := IntStatus(raw)
		intStatus = &s
	}
	if *off != txEnd {
		return tx, false, xerr.New(xerr.Protocol, "transaction: trailing bytes within tx_size")
	}

	fromAddr := EmptyAddress()
	if len(pubKey) > 0 {
		fromAddr = DeriveAddressFromPubKey(pubKey)
	}

	hash := DoubleSHA256(b[txStart:hashEnd])
	signHash := SingleSHA256(b[txStart:hashEnd])

	allRaw := make([]byte, txEnd-txStart)
	copy(allRaw, b[txStart:txEnd])

	tx = TransactionInfo{
		Hash:          hash,
		SignHash:      signHash,
		FromAddress:   fromAddr,
		ToAddress:     toAddr,
		Value:         value,
		Fees:          fees,
		Nonce:         nonce,
		SizeRawTx:     txSize,
		RealFees:      computeRealFees(txSize),
		Data:          data,
		Sign:          sign,
		PubKey:        pubKey,
		AllRawTx:      allRaw,
		IntStatus:     intStatus,
		Delegate:      delegate,
		ScriptInfo:    script,
		IsInitialized: true,
	}
	return tx, false, nil
}

func readVarintPrefixed(b []byte, off *int) ([]byte, error) {
	n, _, err := ReadVarint(b, off)
	if err != nil {
		return nil, err
	}
	ln, err := intLen(n)
	if err != nil {
		return nil, err
	}
	raw, err := readBytes(b, off, ln)
	if err != nil {
		return nil, err
	}
	out := make([]byte, ln)
	copy(out, raw)
	return out, nil
}

// Serialize encodes the persisted KV record for a transaction: every
// field needed to reconstruct TransactionInfo without re-reading the
// archive, including fields outside the hash pre-image.
func (t TransactionInfo) Serialize() []byte {
	out := make([]byte, 0, 128+len(t.Data)+len(t.Sign)+len(t.PubKey))
	out = append(out, t.Hash[:]...)
	out = append(out, t.SignHash[:]...)
	out = append(out, t.ToAddress.padTo25()...)
	out = appendU64le(out, t.Value)
	out = appendU64le(out, t.Fees)
	out = appendU64le(out, t.Nonce)
	out = appendU64le(out, t.BlockNumber)
	out = appendU64le(out, t.SizeRawTx)
	out = appendU64le(out, t.RealFees)
	out = putLE(out, t.Data)
	out = putLE(out, t.Sign)
	out = putLE(out, t.PubKey)
	out = putLE(out, t.AllRawTx)
	out = append(out, t.FilePos.Serialize()...)
	if t.IntStatus != nil {
		out = append(out, 1)
		out = appendU64le(out, uint64(*t.IntStatus))
	} else {
		out = append(out, 0)
	}
	if t.Delegate != nil {
		out = append(out, 1)
		out = appendBool(out, t.Delegate.IsDelegate)
		out = appendU64le(out, t.Delegate.Value)
	} else {
		out = append(out, 0)
	}
	if t.ScriptInfo != nil {
		out = append(out, 1)
		out = appendBool(out, t.ScriptInfo.IsInitializeScript)
		out = putLE(out, t.ScriptInfo.TxRaw)
	} else {
		out = append(out, 0)
	}
	return out
}

func appendBool(out []byte, v bool) []byte {
	if v {
		return append(out, 1)
	}
	return append(out, 0)
}

// DeserializeTransactionInfo is the inverse of Serialize.
func DeserializeTransactionInfo(b []byte, off *int) (TransactionInfo, error) {
	var t TransactionInfo
	hb, err := readBytes(b, off, 32)
	if err != nil {
		return t, err
	}
	copy(t.Hash[:], hb)

	shb, err := readBytes(b, off, 32)
	if err != nil {
		return t, err
	}
	copy(t.SignHash[:], shb)

	toRaw, err := readBytes(b, off, AddressSize)
	if err != nil {
		return t, err
	}
	t.ToAddress, err = addressFromPadded(toRaw)
	if err != nil {
		return t, err
	}

	if t.Value, err = readU64le(b, off); err != nil {
		return t, err
	}
	if t.Fees, err = readU64le(b, off); err != nil {
		return t, err
	}
	if t.Nonce, err = readU64le(b, off); err != nil {
		return t, err
	}
	if t.BlockNumber, err = readU64le(b, off); err != nil {
		return t, err
	}
	if t.SizeRawTx, err = readU64le(b, off); err != nil {
		return t, err
	}
	if t.RealFees, err = readU64le(b, off); err != nil {
		return t, err
	}
	if t.Data, err = getLE(b, off); err != nil {
		return t, err
	}
	if t.Sign, err = getLE(b, off); err != nil {
		return t, err
	}
	if t.PubKey, err = getLE(b, off); err != nil {
		return t, err
	}
	if t.AllRawTx, err = getLE(b, off); err != nil {
		return t, err
	}
	if t.FilePos, err = DeserializeFilePosition(b, off); err != nil {
		return t, err
	}
	hasStatus, err := readU8(b, off)
	if err != nil {
		return t, err
	}
	if hasStatus == 1 {
		raw, err := readU64le(b, off)
		if err != nil {
			return t, err
		}
		s := IntStatus(raw)
		t.IntStatus = &s
	}

	hasDelegate, err := readU8(b, off)
	if err != nil {
		return t, err
	}
	if hasDelegate == 1 {
		isDelegate, err := readU8(b, off)
		if err != nil {
			return t, err
		}
		value, err := readU64le(b, off)
		if err != nil {
			return t, err
		}
		t.Delegate = &DelegateInfo{Value: value, IsDelegate: isDelegate == 1}
	}

	hasScript, err := readU8(b, off)
	if err != nil {
		return t, err
	}
	if hasScript == 1 {
		isInit, err := readU8(b, off)
		if err != nil {
			return t, err
		}
		txRaw, err := getLE(b, off)
		if err != nil {
			return t, err
		}
		t.ScriptInfo = &ScriptInfo{TxRaw: txRaw, IsInitializeScript: isInit == 1}
	}

	if len(t.PubKey) > 0 {
		t.FromAddress = DeriveAddressFromPubKey(t.PubKey)
	} else {
		t.FromAddress = EmptyAddress()
	}
	t.IsInitialized = true
	return t, nil
}

// padTo25 returns 25 zero bytes for the empty-address sentinel so fixed-
// width KV records stay fixed-width even for initial-wallet entries.
func (a Address) padTo25() []byte {
	if a.IsEmpty() {
		return make([]byte, AddressSize)
	}
	return a.bytes
}

func addressFromPadded(raw []byte) (Address, error) {
	allZero := true
	for _, c := range raw {
		if c != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return EmptyAddress(), nil
	}
	return NewAddressFromBytes(raw, false)
}

// MarkSignBlockTx sets IsSignBlockTx per the rule: a transaction sending
// zero value to itself, and either the first transaction of its block or
// carrying the same data as the block's previous sign transaction.
func (t *TransactionInfo) MarkSignBlockTx(isFirstInBlock bool, prevSignData []byte) {
	if !t.FromAddress.Equal(t.ToAddress) || t.Value != 0 {
		t.IsSignBlockTx = false
		return
	}
	if isFirstInBlock {
		t.IsSignBlockTx = true
		return
	}
	t.IsSignBlockTx = bytesEqual(t.Data, prevSignData)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
