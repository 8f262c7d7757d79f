package cashaccount

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/txscript"
)

func buildScript(t *testing.T, pushes ...[]byte) []byte {
	t.Helper()
	b := txscript.NewScriptBuilder().AddOp(txscript.OP_RETURN)
	for _, p := range pushes {
		b.AddData(p)
	}
	script, err := b.Script()
	if err != nil {
		t.Fatalf("build script: %v", err)
	}
	return script
}

func TestParseValidRegistration(t *testing.T) {
	script := buildScript(t, ProtocolPrefix, []byte("satoshi"), append([]byte{0x01}, []byte("payloaddata")...))
	reg, err := ParseTransactionOutputs([][]byte{script})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if reg.Name != "satoshi" {
		t.Fatalf("name = %q, want satoshi", reg.Name)
	}
	if len(reg.Payloads) != 1 || reg.Payloads[0].Type != 0x01 {
		t.Fatalf("unexpected payloads: %+v", reg.Payloads)
	}
	if !bytes.Equal(reg.Payloads[0].Data, []byte("payloaddata")) {
		t.Fatalf("unexpected payload data: %q", reg.Payloads[0].Data)
	}
}

func TestParseRejectsMultipleOpReturns(t *testing.T) {
	script := buildScript(t, ProtocolPrefix, []byte("name"), []byte{0x01, 0xAA})
	_, err := ParseTransactionOutputs([][]byte{script, script})
	if err != ErrAmbiguousOpReturn {
		t.Fatalf("err = %v, want ErrAmbiguousOpReturn", err)
	}
}

func TestParseRejectsWrongPrefix(t *testing.T) {
	script := buildScript(t, []byte{0x02, 0x02, 0x02, 0x02}, []byte("name"), []byte{0x01, 0xAA})
	_, err := ParseTransactionOutputs([][]byte{script})
	if err != ErrNotCashAccount {
		t.Fatalf("err = %v, want ErrNotCashAccount", err)
	}
}

func TestParseRejectsOversizedName(t *testing.T) {
	longName := bytes.Repeat([]byte{'a'}, 100)
	script := buildScript(t, ProtocolPrefix, longName, []byte{0x01, 0xAA})
	_, err := ParseTransactionOutputs([][]byte{script})
	if err != ErrNotCashAccount {
		t.Fatalf("err = %v, want ErrNotCashAccount for oversized name", err)
	}
}

func TestParseRejectsMissingPayload(t *testing.T) {
	script := buildScript(t, ProtocolPrefix, []byte("name"))
	_, err := ParseTransactionOutputs([][]byte{script})
	if err != ErrNotCashAccount {
		t.Fatalf("err = %v, want ErrNotCashAccount when no payload present", err)
	}
}

func TestParseNotCashAccountWhenNoOpReturn(t *testing.T) {
	_, err := ParseTransactionOutputs([][]byte{{0x76, 0xa9}})
	if err != ErrNotCashAccount {
		t.Fatalf("err = %v, want ErrNotCashAccount", err)
	}
}

func TestIsValidCashAccountHeight(t *testing.T) {
	cases := []struct {
		name             string
		activationHeight int
		height           int
		want             bool
	}{
		{"disabled index", 0, 600_000, false},
		{"before activation", 500_000, 499_999, false},
		{"at activation", 500_000, 500_000, true},
		{"after activation", 500_000, 600_000, true},
		{"mempool sentinel", 500_000, MempoolHeight, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := IsValidCashAccountHeight(tc.activationHeight, tc.height)
			if got != tc.want {
				t.Fatalf("IsValidCashAccountHeight(%d,%d) = %v, want %v", tc.activationHeight, tc.height, got, tc.want)
			}
		})
	}
}
