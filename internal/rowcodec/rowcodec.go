// Package rowcodec defines the on-disk key/value encoding for the secondary
// index: the six row kinds described by the index schema, hash-prefix
// helpers, and the prefix builders the query engine scans against.
package rowcodec

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// HashPrefix is the first 8 bytes of a 32-byte hash, used as a compact key
// component. Any lookup keyed by a HashPrefix must be disambiguated by the
// caller against the full hash before being treated as an answer.
type HashPrefix [8]byte

// FullHash is a complete 32-byte hash, owned and copied.
type FullHash [32]byte

// Row kind tags. They share no prefix byte, so a single-byte comparison
// groups keys by kind under lexicographic ordering.
const (
	KindBlockHeader  byte = 'B'
	KindTxConfirmed  byte = 'T'
	KindTxInput      byte = 'I'
	KindTxOutput     byte = 'O'
	KindCashAccount  byte = 'C'
	KindLatestBlock  byte = 'L'
	KindFullyCompact byte = 'F'
)

// MempoolHeight is the sentinel height written into T rows (and implied by
// any row produced with this height) for unconfirmed transactions.
const MempoolHeight uint32 = 0x7FFF_FFFF

// VersionKey is the single-key marker holding the schema version string.
var VersionKey = []byte("VER")

// DatabaseVersion is bumped whenever the row encoding changes incompatibly.
const DatabaseVersion = "1"

// HashPrefixOf returns the first 8 bytes of h. h must be at least 8 bytes.
func HashPrefixOf(h []byte) HashPrefix {
	var p HashPrefix
	copy(p[:], h[:8])
	return p
}

// FullHashOf copies h (which must be 32 bytes) into an owned FullHash.
func FullHashOf(h []byte) FullHash {
	var f FullHash
	copy(f[:], h[:32])
	return f
}

// ComputeScriptHash returns the single-SHA256 digest of a raw output
// script. This is intentionally single, not double, SHA256: it matches the
// wallet-facing (Electrum) scripthash convention, not Bitcoin's txid/block
// hashing.
func ComputeScriptHash(script []byte) FullHash {
	return sha256.Sum256(script)
}

func putUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// --- B: block header row -------------------------------------------------

// BlockHeaderRow maps a full block hash to its 80-byte serialized header.
type BlockHeaderRow struct {
	Hash   FullHash
	Header []byte // 80-byte wire encoding
}

func (r BlockHeaderRow) Key() []byte {
	k := make([]byte, 0, 1+32)
	k = append(k, KindBlockHeader)
	k = append(k, r.Hash[:]...)
	return k
}

func (r BlockHeaderRow) Value() []byte { return r.Header }

// DecodeBlockHeaderRow parses a key/value pair back into a BlockHeaderRow.
func DecodeBlockHeaderRow(key, value []byte) (BlockHeaderRow, error) {
	if len(key) != 33 || key[0] != KindBlockHeader {
		return BlockHeaderRow{}, fmt.Errorf("rowcodec: malformed B key (len %d)", len(key))
	}
	return BlockHeaderRow{Hash: FullHashOf(key[1:]), Header: value}, nil
}

// BlockHeaderKey returns the scan prefix matching a specific block hash
// (i.e. the exact key — B rows are not range-scanned by prefix in practice,
// but the helper keeps call sites uniform).
func BlockHeaderKey(hash FullHash) []byte {
	return BlockHeaderRow{Hash: hash}.Key()
}

// --- T: confirmation height row ------------------------------------------

// TxConfirmedRow maps a full txid to its confirmation height.
type TxConfirmedRow struct {
	Txid   FullHash
	Height uint32
}

func (r TxConfirmedRow) Key() []byte {
	k := make([]byte, 0, 1+32)
	k = append(k, KindTxConfirmed)
	k = append(k, r.Txid[:]...)
	return k
}

func (r TxConfirmedRow) Value() []byte {
	v := make([]byte, 4)
	binary.LittleEndian.PutUint32(v, r.Height)
	return v
}

// DecodeTxConfirmedRow parses a key/value pair back into a TxConfirmedRow.
func DecodeTxConfirmedRow(key, value []byte) (TxConfirmedRow, error) {
	if len(key) != 33 || key[0] != KindTxConfirmed {
		return TxConfirmedRow{}, fmt.Errorf("rowcodec: malformed T key (len %d)", len(key))
	}
	if len(value) != 4 {
		return TxConfirmedRow{}, fmt.Errorf("rowcodec: malformed T value (len %d)", len(value))
	}
	return TxConfirmedRow{
		Txid:   FullHashOf(key[1:]),
		Height: binary.LittleEndian.Uint32(value),
	}, nil
}

// TxScanPrefix returns the scan prefix matching every T row whose txid
// starts with the given 8-byte prefix.
func TxScanPrefix(txidPrefix HashPrefix) []byte {
	k := make([]byte, 0, 9)
	k = append(k, KindTxConfirmed)
	return append(k, txidPrefix[:]...)
}

// --- I: spent-outpoint row ------------------------------------------------

// TxInputRow records that some transaction (SpenderTxidPrefix) spends the
// outpoint (PrevTxidPrefix, PrevVout). The row carries no value: its
// presence in the key space is the fact being recorded.
type TxInputRow struct {
	PrevTxidPrefix    HashPrefix
	PrevVout          uint32
	SpenderTxidPrefix HashPrefix
}

func (r TxInputRow) Key() []byte {
	k := make([]byte, 0, 1+8+binary.MaxVarintLen64+8)
	k = append(k, KindTxInput)
	k = append(k, r.PrevTxidPrefix[:]...)
	k = putUvarint(k, uint64(r.PrevVout))
	k = append(k, r.SpenderTxidPrefix[:]...)
	return k
}

func (TxInputRow) Value() []byte { return nil }

// DecodeTxInputRow parses a key back into a TxInputRow.
func DecodeTxInputRow(key []byte) (TxInputRow, error) {
	if len(key) < 1+8 || key[0] != KindTxInput {
		return TxInputRow{}, fmt.Errorf("rowcodec: malformed I key (len %d)", len(key))
	}
	prevPrefix := HashPrefixOf(key[1:9])
	vout, n := binary.Uvarint(key[9:])
	if n <= 0 {
		return TxInputRow{}, fmt.Errorf("rowcodec: malformed I key varint")
	}
	rest := key[9+n:]
	if len(rest) != 8 {
		return TxInputRow{}, fmt.Errorf("rowcodec: malformed I key spender suffix (len %d)", len(rest))
	}
	return TxInputRow{
		PrevTxidPrefix:    prevPrefix,
		PrevVout:          uint32(vout),
		SpenderTxidPrefix: HashPrefixOf(rest),
	}, nil
}

// InputScanPrefix returns the scan prefix matching every I row recording a
// spend of the exact outpoint (prevTxidPrefix, prevVout).
func InputScanPrefix(prevTxidPrefix HashPrefix, prevVout uint32) []byte {
	k := make([]byte, 0, 1+8+binary.MaxVarintLen64)
	k = append(k, KindTxInput)
	k = append(k, prevTxidPrefix[:]...)
	return putUvarint(k, uint64(prevVout))
}

// --- O: funding output row -------------------------------------------------

// TxOutputRow records a funding output paying ScriptHashPrefix. No value is
// stored; all information lives in the key so prefix scans need no value
// fetch.
type TxOutputRow struct {
	ScriptHashPrefix HashPrefix
	TxidPrefix       HashPrefix
	OutputIndex      uint32
	ValueSats        uint64
}

func (r TxOutputRow) Key() []byte {
	k := make([]byte, 0, 1+8+8+2*binary.MaxVarintLen64)
	k = append(k, KindTxOutput)
	k = append(k, r.ScriptHashPrefix[:]...)
	k = append(k, r.TxidPrefix[:]...)
	k = putUvarint(k, uint64(r.OutputIndex))
	k = putUvarint(k, r.ValueSats)
	return k
}

func (TxOutputRow) Value() []byte { return nil }

// DecodeTxOutputRow parses a key back into a TxOutputRow.
func DecodeTxOutputRow(key []byte) (TxOutputRow, error) {
	if len(key) < 1+8+8 || key[0] != KindTxOutput {
		return TxOutputRow{}, fmt.Errorf("rowcodec: malformed O key (len %d)", len(key))
	}
	shPrefix := HashPrefixOf(key[1:9])
	txidPrefix := HashPrefixOf(key[9:17])
	rest := key[17:]
	vout, n := binary.Uvarint(rest)
	if n <= 0 {
		return TxOutputRow{}, fmt.Errorf("rowcodec: malformed O key vout varint")
	}
	rest = rest[n:]
	value, n := binary.Uvarint(rest)
	if n <= 0 || n != len(rest) {
		return TxOutputRow{}, fmt.Errorf("rowcodec: malformed O key value varint")
	}
	return TxOutputRow{
		ScriptHashPrefix: shPrefix,
		TxidPrefix:       txidPrefix,
		OutputIndex:      uint32(vout),
		ValueSats:        value,
	}, nil
}

// OutputScanPrefix returns the scan prefix matching every O row funding the
// given script hash prefix.
func OutputScanPrefix(scriptHashPrefix HashPrefix) []byte {
	k := make([]byte, 0, 9)
	k = append(k, KindTxOutput)
	return append(k, scriptHashPrefix[:]...)
}

// --- C: cash-account row ---------------------------------------------------

// CashAccountRow maps a (name, height) registration hash prefix to the
// txid prefix of the registering transaction.
type CashAccountRow struct {
	NameHeightHashPrefix HashPrefix
	TxidPrefix           HashPrefix
}

func (r CashAccountRow) Key() []byte {
	k := make([]byte, 0, 1+8+8)
	k = append(k, KindCashAccount)
	k = append(k, r.NameHeightHashPrefix[:]...)
	k = append(k, r.TxidPrefix[:]...)
	return k
}

func (CashAccountRow) Value() []byte { return nil }

// DecodeCashAccountRow parses a key back into a CashAccountRow.
func DecodeCashAccountRow(key []byte) (CashAccountRow, error) {
	if len(key) != 1+8+8 || key[0] != KindCashAccount {
		return CashAccountRow{}, fmt.Errorf("rowcodec: malformed C key (len %d)", len(key))
	}
	return CashAccountRow{
		NameHeightHashPrefix: HashPrefixOf(key[1:9]),
		TxidPrefix:           HashPrefixOf(key[9:17]),
	}, nil
}

// CashAccountNameHeightHash computes the domain-separated digest used to
// key cash-account registrations: SHA256(accountname || height_be).
func CashAccountNameHeightHash(accountName []byte, height uint32) FullHash {
	h := sha256.New()
	h.Write(accountName)
	var hb [4]byte
	binary.BigEndian.PutUint32(hb[:], height)
	h.Write(hb[:])
	var out FullHash
	copy(out[:], h.Sum(nil))
	return out
}

// CashAccountScanPrefix returns the scan prefix for a given (name, height).
func CashAccountScanPrefix(accountName []byte, height uint32) []byte {
	h := CashAccountNameHeightHash(accountName, height)
	prefix := HashPrefixOf(h[:])
	k := make([]byte, 0, 9)
	k = append(k, KindCashAccount)
	return append(k, prefix[:]...)
}

// --- L / F / VER: single-key markers ---------------------------------------

// LatestBlockKey is the single key holding the latest-indexed block hash.
func LatestBlockKey() []byte { return []byte{KindLatestBlock} }

// FullyCompactedKey is the single key marking a store as fully compacted
// after bulk import.
func FullyCompactedKey() []byte { return []byte{KindFullyCompact} }
