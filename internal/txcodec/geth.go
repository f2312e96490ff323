package txcodec

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
)

// ToGeth converts a dynamic-fee transaction into go-ethereum's representation
// so it can be submitted through ethclient.
func ToGeth(tx *Transaction) (*types.Transaction, error) {
	if tx.Type != DynamicFeeTxType {
		return nil, fmt.Errorf("%w: %s transactions have no go-ethereum type", ErrInvalidState, tx.Type)
	}
	inner := &types.DynamicFeeTx{
		ChainID:    orZero(tx.ChainID),
		Nonce:      tx.Nonce,
		GasTipCap:  orZero(tx.GasTipCap),
		GasFeeCap:  orZero(tx.GasFeeCap),
		Gas:        tx.Gas,
		To:         tx.To,
		Value:      orZero(tx.Value),
		Data:       tx.Data,
		AccessList: tx.AccessList,
	}
	if !tx.Signature.IsZero() {
		inner.V = orZero(tx.Signature.V)
		inner.R = orZero(tx.Signature.R)
		inner.S = orZero(tx.Signature.S)
	}
	return types.NewTx(inner), nil
}
