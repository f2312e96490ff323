package txcodec

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
)

var (
	ErrUnknownTransactionType = errors.New("unknown transaction type")
	ErrMalformedWireBytes     = errors.New("malformed transaction bytes")
	ErrInvalidState           = errors.New("invalid transaction state")
)

// List shapes on the wire. Field order is consensus critical.

type dynamicFeeUnsigned struct {
	ChainID    *big.Int
	Nonce      uint64
	GasTipCap  *big.Int
	GasFeeCap  *big.Int
	Gas        uint64
	To         *common.Address `rlp:"nil"`
	Value      *big.Int
	Data       []byte
	AccessList types.AccessList
}

type dynamicFeeSigned struct {
	ChainID    *big.Int
	Nonce      uint64
	GasTipCap  *big.Int
	GasFeeCap  *big.Int
	Gas        uint64
	To         *common.Address `rlp:"nil"`
	Value      *big.Int
	Data       []byte
	AccessList types.AccessList
	V, R, S    *big.Int
}

type feeDelegated struct {
	Inner    dynamicFeeSigned
	FeePayer common.Address
}

type feeDelegatedSigned struct {
	Inner      dynamicFeeSigned
	FeePayer   common.Address
	FV, FR, FS *big.Int
}

const (
	dynamicFeeUnsignedLen = 9
	dynamicFeeSignedLen   = 12
	feeDelegatedLen       = 2
	feeDelegatedSignedLen = 5
)

const maxSignatureComponentBits = 256

// Encode returns the discriminator-prefixed wire bytes of tx in its current
// state.
func Encode(tx *Transaction) ([]byte, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: nil transaction", ErrInvalidState)
	}
	return encodeAs(tx, tx.State())
}

func encodeAs(tx *Transaction, state State) ([]byte, error) {
	var payload interface{}
	switch tx.Type {
	case DynamicFeeTxType:
		if !tx.FeePayerSignature.IsZero() {
			return nil, fmt.Errorf("%w: dynamic-fee transaction cannot carry a fee payer signature", ErrInvalidState)
		}
		switch state {
		case Unsigned:
			payload = unsignedFields(tx)
		case SenderSigned, FullySigned:
			if tx.Signature.IsZero() {
				return nil, fmt.Errorf("%w: missing sender signature", ErrInvalidState)
			}
			payload = signedFields(tx, tx.Signature)
		default:
			return nil, fmt.Errorf("%w: %s", ErrInvalidState, state)
		}
	case FeeDelegatedDynamicFeeTxType:
		switch state {
		case Unsigned:
			payload = &feeDelegated{Inner: *signedFields(tx, nil), FeePayer: tx.FeePayer}
		case SenderSigned:
			if tx.Signature.IsZero() {
				return nil, fmt.Errorf("%w: missing sender signature", ErrInvalidState)
			}
			payload = &feeDelegated{Inner: *signedFields(tx, tx.Signature), FeePayer: tx.FeePayer}
		case FullySigned:
			if tx.Signature.IsZero() {
				return nil, fmt.Errorf("%w: missing sender signature", ErrInvalidState)
			}
			if tx.FeePayerSignature.IsZero() {
				return nil, fmt.Errorf("%w: missing fee payer signature", ErrInvalidState)
			}
			payload = &feeDelegatedSigned{
				Inner:    *signedFields(tx, tx.Signature),
				FeePayer: tx.FeePayer,
				FV:       tx.FeePayerSignature.V,
				FR:       tx.FeePayerSignature.R,
				FS:       tx.FeePayerSignature.S,
			}
		default:
			return nil, fmt.Errorf("%w: %s", ErrInvalidState, state)
		}
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownTransactionType, byte(tx.Type))
	}

	body, err := rlp.EncodeToBytes(payload)
	if err != nil {
		return nil, fmt.Errorf("fail to rlp encode %s transaction, err: %w", tx.Type, err)
	}
	return append([]byte{byte(tx.Type)}, body...), nil
}

func unsignedFields(tx *Transaction) *dynamicFeeUnsigned {
	return &dynamicFeeUnsigned{
		ChainID:    tx.ChainID,
		Nonce:      tx.Nonce,
		GasTipCap:  tx.GasTipCap,
		GasFeeCap:  tx.GasFeeCap,
		Gas:        tx.Gas,
		To:         tx.To,
		Value:      tx.Value,
		Data:       tx.Data,
		AccessList: accessListOrEmpty(tx.AccessList),
	}
}

// signedFields fills v, r, s from sig, or zeros when sig is nil.
func signedFields(tx *Transaction, sig *Signature) *dynamicFeeSigned {
	out := &dynamicFeeSigned{
		ChainID:    tx.ChainID,
		Nonce:      tx.Nonce,
		GasTipCap:  tx.GasTipCap,
		GasFeeCap:  tx.GasFeeCap,
		Gas:        tx.Gas,
		To:         tx.To,
		Value:      tx.Value,
		Data:       tx.Data,
		AccessList: accessListOrEmpty(tx.AccessList),
		V:          new(big.Int),
		R:          new(big.Int),
		S:          new(big.Int),
	}
	if sig != nil {
		out.V, out.R, out.S = orZero(sig.V), orZero(sig.R), orZero(sig.S)
	}
	return out
}

func accessListOrEmpty(al types.AccessList) types.AccessList {
	if al == nil {
		return types.AccessList{}
	}
	return al
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// Decode parses wire bytes and infers the signing state from the list shape.
// A fee-delegated transaction whose sender signature slot is all zero is
// treated as Unsigned.
func Decode(b []byte) (*Transaction, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedWireBytes)
	}
	switch TxType(b[0]) {
	case DynamicFeeTxType:
		return decodeDynamicFee(b[1:])
	case FeeDelegatedDynamicFeeTxType:
		return decodeFeeDelegated(b[1:])
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownTransactionType, b[0])
	}
}

// DecodeAs parses wire bytes and fails unless they hold a transaction in the
// expected state. For the dynamic-fee type SenderSigned and FullySigned are
// the same shape.
func DecodeAs(b []byte, expected State) (*Transaction, error) {
	tx, err := Decode(b)
	if err != nil {
		return nil, err
	}
	got := tx.State()
	if tx.Type == DynamicFeeTxType && expected == SenderSigned {
		expected = FullySigned
	}
	if got != expected {
		return nil, fmt.Errorf("%w: expected %s %s transaction, got %s", ErrMalformedWireBytes, expected, tx.Type, got)
	}
	return tx, nil
}

func listLen(payload []byte) (int, error) {
	content, rest, err := rlp.SplitList(payload)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedWireBytes, err)
	}
	if len(rest) != 0 {
		return 0, fmt.Errorf("%w: %d trailing bytes", ErrMalformedWireBytes, len(rest))
	}
	n, err := rlp.CountValues(content)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedWireBytes, err)
	}
	return n, nil
}

func decodeDynamicFee(payload []byte) (*Transaction, error) {
	n, err := listLen(payload)
	if err != nil {
		return nil, err
	}
	switch n {
	case dynamicFeeUnsignedLen:
		var body dynamicFeeUnsigned
		if err := rlp.DecodeBytes(payload, &body); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedWireBytes, err)
		}
		return &Transaction{
			Type: DynamicFeeTxType,
			Fields: normalize(Fields{
				ChainID:    body.ChainID,
				Nonce:      body.Nonce,
				GasTipCap:  body.GasTipCap,
				GasFeeCap:  body.GasFeeCap,
				Gas:        body.Gas,
				To:         body.To,
				Value:      body.Value,
				Data:       body.Data,
				AccessList: body.AccessList,
			}),
		}, nil
	case dynamicFeeSignedLen:
		var body dynamicFeeSigned
		if err := rlp.DecodeBytes(payload, &body); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedWireBytes, err)
		}
		if err := checkSignature(body.V, body.R, body.S); err != nil {
			return nil, err
		}
		if (&Signature{V: body.V, R: body.R, S: body.S}).IsZero() {
			return nil, fmt.Errorf("%w: signed dynamic-fee transaction with empty signature", ErrMalformedWireBytes)
		}
		return &Transaction{
			Type:      DynamicFeeTxType,
			Fields:    fieldsOf(&body),
			Signature: &Signature{V: body.V, R: body.R, S: body.S},
		}, nil
	default:
		return nil, fmt.Errorf("%w: dynamic-fee list has %d elements", ErrMalformedWireBytes, n)
	}
}

func decodeFeeDelegated(payload []byte) (*Transaction, error) {
	n, err := listLen(payload)
	if err != nil {
		return nil, err
	}
	tx := &Transaction{Type: FeeDelegatedDynamicFeeTxType}
	var inner dynamicFeeSigned
	switch n {
	case feeDelegatedLen:
		var body feeDelegated
		if err := rlp.DecodeBytes(payload, &body); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedWireBytes, err)
		}
		inner, tx.FeePayer = body.Inner, body.FeePayer
	case feeDelegatedSignedLen:
		var body feeDelegatedSigned
		if err := rlp.DecodeBytes(payload, &body); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedWireBytes, err)
		}
		if err := checkSignature(body.FV, body.FR, body.FS); err != nil {
			return nil, err
		}
		feePayerSig := &Signature{V: body.FV, R: body.FR, S: body.FS}
		if feePayerSig.IsZero() {
			return nil, fmt.Errorf("%w: fee-delegated transaction with empty fee payer signature", ErrMalformedWireBytes)
		}
		inner, tx.FeePayer = body.Inner, body.FeePayer
		tx.FeePayerSignature = feePayerSig
	default:
		return nil, fmt.Errorf("%w: fee-delegated list has %d elements", ErrMalformedWireBytes, n)
	}

	tx.Fields = fieldsOf(&inner)
	sig := &Signature{V: inner.V, R: inner.R, S: inner.S}
	if !sig.IsZero() {
		if err := checkSignature(inner.V, inner.R, inner.S); err != nil {
			return nil, err
		}
		tx.Signature = sig
	} else if tx.FeePayerSignature != nil {
		return nil, fmt.Errorf("%w: fee payer signature without sender signature", ErrMalformedWireBytes)
	}
	return tx, nil
}

func fieldsOf(body *dynamicFeeSigned) Fields {
	return normalize(Fields{
		ChainID:    body.ChainID,
		Nonce:      body.Nonce,
		GasTipCap:  body.GasTipCap,
		GasFeeCap:  body.GasFeeCap,
		Gas:        body.Gas,
		To:         body.To,
		Value:      body.Value,
		Data:       body.Data,
		AccessList: body.AccessList,
	})
}

// normalize maps empty decoded slices to nil so decoded and freshly built
// transactions compare equal.
func normalize(f Fields) Fields {
	if len(f.Data) == 0 {
		f.Data = nil
	}
	if len(f.AccessList) == 0 {
		f.AccessList = nil
	}
	return f
}

func checkSignature(v, r, s *big.Int) error {
	if r.BitLen() > maxSignatureComponentBits || s.BitLen() > maxSignatureComponentBits {
		return fmt.Errorf("%w: signature component exceeds 256 bits", ErrMalformedWireBytes)
	}
	if !v.IsUint64() {
		return fmt.Errorf("%w: signature v out of range", ErrMalformedWireBytes)
	}
	return nil
}
