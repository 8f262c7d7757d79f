// Package cashaccount implements a native (non-FFI) parser for CashAccount
// registration transactions: an OP_RETURN convention that binds a
// human-readable name to one or more typed payloads at a specific block
// height. This is a from-scratch reimplementation of the wire format; it
// does not call out to any external cashaccount library.
package cashaccount

import (
	"bytes"
	"errors"

	"github.com/btcsuite/btcd/txscript"
)

// ProtocolPrefix identifies a CashAccount registration OP_RETURN payload.
var ProtocolPrefix = []byte{0x01, 0x01, 0x01, 0x01}

const (
	minNameLen = 1
	maxNameLen = 99

	// MempoolHeight is the sentinel height used for not-yet-confirmed
	// registrations (shared with the row codec's mempool sentinel).
	MempoolHeight = 0x7FFFFFFF

	// IndexDisabled marks a configured activation height of 0, meaning
	// the cashaccount index is turned off entirely.
	IndexDisabled = 0
)

// ErrNotCashAccount is returned when a script is not a CashAccount
// OP_RETURN payload.
var ErrNotCashAccount = errors.New("cashaccount: not a cashaccount output")

// ErrAmbiguousOpReturn is returned when a transaction carries more than
// one OP_RETURN output: the registration is then unparseable, since there
// is no way to tell which OP_RETURN was meant to carry it.
var ErrAmbiguousOpReturn = errors.New("cashaccount: transaction has multiple OP_RETURN outputs")

// Payload is one typed data push following the account name.
type Payload struct {
	Type byte
	Data []byte
}

// Registration is a parsed CashAccount name registration.
type Registration struct {
	Name     string
	Payloads []Payload
}

// ParseTransactionOutputs scans every output script of a transaction for a
// CashAccount registration. Per the protocol, a transaction carrying two
// or more OP_RETURN outputs cannot register a name: the registration is
// rejected outright rather than guessing which one was intended.
func ParseTransactionOutputs(scripts [][]byte) (*Registration, error) {
	var opReturn []byte
	count := 0
	for _, s := range scripts {
		if isOpReturn(s) {
			count++
			opReturn = s
		}
	}
	if count == 0 {
		return nil, ErrNotCashAccount
	}
	if count > 1 {
		return nil, ErrAmbiguousOpReturn
	}
	return parseOpReturn(opReturn)
}

func isOpReturn(script []byte) bool {
	return len(script) > 0 && script[0] == txscript.OP_RETURN
}

// parseOpReturn tokenizes an OP_RETURN script and extracts the protocol
// prefix, name, and payload pushes. The script must be:
//
//	OP_RETURN <4-byte protocol prefix> <1-99 byte name> <payload push>...
func parseOpReturn(script []byte) (*Registration, error) {
	tok := txscript.MakeScriptTokenizer(0, script)

	if !tok.Next() || tok.Opcode() != txscript.OP_RETURN {
		return nil, ErrNotCashAccount
	}

	if !tok.Next() || !bytes.Equal(tok.Data(), ProtocolPrefix) {
		return nil, ErrNotCashAccount
	}

	if !tok.Next() {
		return nil, ErrNotCashAccount
	}
	name := tok.Data()
	if len(name) < minNameLen || len(name) > maxNameLen {
		return nil, ErrNotCashAccount
	}

	var payloads []Payload
	for tok.Next() {
		data := tok.Data()
		if len(data) < 1 {
			continue
		}
		payloads = append(payloads, Payload{Type: data[0], Data: append([]byte(nil), data[1:]...)})
	}
	if err := tok.Err(); err != nil {
		return nil, err
	}
	if len(payloads) == 0 {
		return nil, ErrNotCashAccount
	}

	return &Registration{Name: string(name), Payloads: payloads}, nil
}

// IsValidCashAccountHeight reports whether height is eligible to carry a
// cashaccount registration under the given activation height: the index
// must be enabled, the activation height must already have passed, and
// the height must not be the mempool sentinel (unconfirmed registrations
// are not yet eligible for the name index).
func IsValidCashAccountHeight(activationHeight, height int) bool {
	if activationHeight == IndexDisabled {
		return false
	}
	if height == MempoolHeight {
		return false
	}
	return height >= activationHeight
}
