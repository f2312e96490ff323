// Package txcodec serializes, parses and hashes the two typed transactions the
// tool signs: the sender-paid dynamic-fee transaction (0x02) and its
// fee-delegated variant (0x16) that carries a second signature from a fee
// payer.
package txcodec

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxType is the one-byte discriminator that prefixes the wire bytes.
type TxType byte

const (
	DynamicFeeTxType             TxType = 0x02
	FeeDelegatedDynamicFeeTxType TxType = 0x16
)

func (t TxType) String() string {
	switch t {
	case DynamicFeeTxType:
		return "dynamic-fee"
	case FeeDelegatedDynamicFeeTxType:
		return "fee-delegated-dynamic-fee"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// State is the signing progress of a transaction. A dynamic-fee transaction
// goes straight from Unsigned to FullySigned.
type State int

const (
	Unsigned State = iota
	SenderSigned
	FullySigned
)

func (s State) String() string {
	switch s {
	case Unsigned:
		return "unsigned"
	case SenderSigned:
		return "sender-signed"
	case FullySigned:
		return "fully-signed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Signature is an (v, r, s) triple with v the recovery id (0 or 1).
type Signature struct {
	V *big.Int
	R *big.Int
	S *big.Int
}

// SignatureFromBytes splits a 65-byte [R || S || V] signature.
func SignatureFromBytes(sig []byte) (*Signature, error) {
	if len(sig) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	return &Signature{
		R: new(big.Int).SetBytes(sig[:32]),
		S: new(big.Int).SetBytes(sig[32:64]),
		V: new(big.Int).SetUint64(uint64(sig[64])),
	}, nil
}

// Bytes returns the 65-byte [R || S || V] form used for public key recovery.
func (s *Signature) Bytes() ([]byte, error) {
	if s == nil || s.R == nil || s.S == nil || s.V == nil {
		return nil, fmt.Errorf("incomplete signature")
	}
	if s.R.BitLen() > 256 || s.S.BitLen() > 256 || !s.V.IsUint64() || s.V.Uint64() > 1 {
		return nil, fmt.Errorf("signature values out of range")
	}
	out := make([]byte, 65)
	s.R.FillBytes(out[:32])
	s.S.FillBytes(out[32:64])
	out[64] = byte(s.V.Uint64())
	return out, nil
}

// IsZero reports whether all three values are absent or zero, which is how an
// unsigned fee-delegated transaction carries its sender signature slot.
func (s *Signature) IsZero() bool {
	return s == nil || (isZero(s.V) && isZero(s.R) && isZero(s.S))
}

func isZero(v *big.Int) bool { return v == nil || v.Sign() == 0 }

// Fields are the dynamic-fee fields shared by both transaction types.
type Fields struct {
	ChainID    *big.Int
	Nonce      uint64
	GasTipCap  *big.Int // maxPriorityFeePerGas
	GasFeeCap  *big.Int // maxFeePerGas
	Gas        uint64
	To         *common.Address // nil means contract creation
	Value      *big.Int
	Data       []byte
	AccessList types.AccessList
}

// Transaction is a tagged union over the two transaction types. FeePayer and
// FeePayerSignature are only meaningful for FeeDelegatedDynamicFeeTxType.
type Transaction struct {
	Type TxType
	Fields

	Signature *Signature

	FeePayer          common.Address
	FeePayerSignature *Signature
}

// NewDynamicFeeTx returns an unsigned sender-paid transaction.
func NewDynamicFeeTx(fields Fields) *Transaction {
	return &Transaction{Type: DynamicFeeTxType, Fields: fields}
}

// NewFeeDelegatedTx returns an unsigned fee-delegated transaction whose gas is
// paid by feePayer.
func NewFeeDelegatedTx(fields Fields, feePayer common.Address) *Transaction {
	return &Transaction{Type: FeeDelegatedDynamicFeeTxType, Fields: fields, FeePayer: feePayer}
}

// State derives the signing state from the signatures present.
func (tx *Transaction) State() State {
	if tx.Signature.IsZero() {
		return Unsigned
	}
	if tx.Type == DynamicFeeTxType || !tx.FeePayerSignature.IsZero() {
		return FullySigned
	}
	return SenderSigned
}

// IsDelegated reports whether a fee payer covers the gas.
func (tx *Transaction) IsDelegated() bool {
	return tx.Type == FeeDelegatedDynamicFeeTxType
}

// Copy returns a deep copy.
func (tx *Transaction) Copy() *Transaction {
	cpy := &Transaction{
		Type:     tx.Type,
		FeePayer: tx.FeePayer,
		Fields: Fields{
			ChainID:   copyBig(tx.ChainID),
			Nonce:     tx.Nonce,
			GasTipCap: copyBig(tx.GasTipCap),
			GasFeeCap: copyBig(tx.GasFeeCap),
			Gas:       tx.Gas,
			Value:     copyBig(tx.Value),
			Data:      common.CopyBytes(tx.Data),
		},
		Signature:         copySig(tx.Signature),
		FeePayerSignature: copySig(tx.FeePayerSignature),
	}
	if tx.To != nil {
		to := *tx.To
		cpy.To = &to
	}
	if tx.AccessList != nil {
		cpy.AccessList = make(types.AccessList, len(tx.AccessList))
		for i, tuple := range tx.AccessList {
			cpy.AccessList[i] = types.AccessTuple{
				Address:     tuple.Address,
				StorageKeys: append([]common.Hash(nil), tuple.StorageKeys...),
			}
		}
	}
	return cpy
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func copySig(s *Signature) *Signature {
	if s == nil {
		return nil
	}
	return &Signature{V: copyBig(s.V), R: copyBig(s.R), S: copyBig(s.S)}
}
