package rowcodec

import (
	"bytes"
	"testing"
)

func mkHash(b byte) FullHash {
	var h FullHash
	for i := range h {
		h[i] = b
	}
	return h
}

func mkPrefix(b byte) HashPrefix {
	h := mkHash(b)
	return HashPrefixOf(h[:])
}

func TestBlockHeaderRowRoundTrip(t *testing.T) {
	row := BlockHeaderRow{Hash: mkHash(0xAB), Header: bytes.Repeat([]byte{0x01}, 80)}
	got, err := DecodeBlockHeaderRow(row.Key(), row.Value())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Hash != row.Hash || !bytes.Equal(got.Header, row.Header) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, row)
	}
}

func TestTxConfirmedRowRoundTrip(t *testing.T) {
	row := TxConfirmedRow{Txid: mkHash(0x11), Height: 650_000}
	got, err := DecodeTxConfirmedRow(row.Key(), row.Value())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != row {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, row)
	}
}

func TestTxInputRowRoundTrip(t *testing.T) {
	for _, vout := range []uint32{0, 1, 127, 128, 300, 1 << 20} {
		row := TxInputRow{
			PrevTxidPrefix:    mkPrefix(0x22),
			PrevVout:          vout,
			SpenderTxidPrefix: mkPrefix(0x33),
		}
		got, err := DecodeTxInputRow(row.Key())
		if err != nil {
			t.Fatalf("vout=%d decode: %v", vout, err)
		}
		if got != row {
			t.Fatalf("vout=%d round trip mismatch: got %+v want %+v", vout, got, row)
		}
	}
}

func TestTxOutputRowRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		vout  uint32
		value uint64
	}{
		{0, 0},
		{1, 546},
		{300, 21_000_000 * 100_000_000},
	} {
		row := TxOutputRow{
			ScriptHashPrefix: mkPrefix(0x44),
			TxidPrefix:       mkPrefix(0x55),
			OutputIndex:      tc.vout,
			ValueSats:        tc.value,
		}
		got, err := DecodeTxOutputRow(row.Key())
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != row {
			t.Fatalf("round trip mismatch: got %+v want %+v", got, row)
		}
	}
}

func TestCashAccountRowRoundTrip(t *testing.T) {
	row := CashAccountRow{
		NameHeightHashPrefix: mkPrefix(0x66),
		TxidPrefix:           mkPrefix(0x77),
	}
	got, err := DecodeCashAccountRow(row.Key())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != row {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, row)
	}
}

func TestKeysGroupByKind(t *testing.T) {
	keys := [][]byte{
		BlockHeaderRow{Hash: mkHash(1)}.Key(),
		TxConfirmedRow{Txid: mkHash(1)}.Key(),
		TxInputRow{PrevTxidPrefix: mkPrefix(1)}.Key(),
		TxOutputRow{ScriptHashPrefix: mkPrefix(1)}.Key(),
		CashAccountRow{NameHeightHashPrefix: mkPrefix(1)}.Key(),
		LatestBlockKey(),
		FullyCompactedKey(),
	}
	kinds := map[byte]bool{}
	for _, k := range keys {
		if kinds[k[0]] {
			t.Fatalf("duplicate leading byte %q across row kinds", k[0])
		}
		kinds[k[0]] = true
	}
}

func TestScanPrefixesMatchOwnKeys(t *testing.T) {
	shPrefix := mkPrefix(0x9A)
	row := TxOutputRow{ScriptHashPrefix: shPrefix, TxidPrefix: mkPrefix(0x9B), OutputIndex: 2, ValueSats: 1000}
	if !bytes.HasPrefix(row.Key(), OutputScanPrefix(shPrefix)) {
		t.Fatalf("output key does not match its own scan prefix")
	}

	prevPrefix := mkPrefix(0x9C)
	irow := TxInputRow{PrevTxidPrefix: prevPrefix, PrevVout: 5, SpenderTxidPrefix: mkPrefix(0x9D)}
	if !bytes.HasPrefix(irow.Key(), InputScanPrefix(prevPrefix, 5)) {
		t.Fatalf("input key does not match its own scan prefix")
	}

	txidPrefix := mkPrefix(0x9E)
	trow := TxConfirmedRow{Txid: mkHash(0x9E), Height: 100}
	if !bytes.HasPrefix(trow.Key(), TxScanPrefix(txidPrefix)) {
		t.Fatalf("tx key does not match its own scan prefix")
	}
}

func TestComputeScriptHashIsSingleSHA256(t *testing.T) {
	// single SHA256("") == e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855
	h := ComputeScriptHash(nil)
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	got := hexEncode(h[:])
	if got != want {
		t.Fatalf("ComputeScriptHash(nil) = %s, want %s", got, want)
	}
}

func hexEncode(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0xF]
	}
	return string(out)
}
