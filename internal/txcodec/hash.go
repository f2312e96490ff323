package txcodec

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Hash is Keccak-256 over discriminator-prefixed wire bytes.
func Hash(wire []byte) common.Hash {
	return crypto.Keccak256Hash(wire)
}

// SigningHash is the digest the sender signs: the hash of the Unsigned
// encoding, whatever state tx is currently in.
func SigningHash(tx *Transaction) (common.Hash, error) {
	wire, err := encodeAs(tx, Unsigned)
	if err != nil {
		return common.Hash{}, err
	}
	return Hash(wire), nil
}

// FeePayerSigningHash is the digest the fee payer signs: the hash of the
// SenderSigned encoding of a fee-delegated transaction.
func FeePayerSigningHash(tx *Transaction) (common.Hash, error) {
	if tx.Type != FeeDelegatedDynamicFeeTxType {
		return common.Hash{}, fmt.Errorf("%w: %s transaction has no fee payer", ErrInvalidState, tx.Type)
	}
	wire, err := encodeAs(tx, SenderSigned)
	if err != nil {
		return common.Hash{}, err
	}
	return Hash(wire), nil
}

// TxHash is the identity hash of a fully signed transaction, as reported by
// the network once it is broadcast.
func TxHash(tx *Transaction) (common.Hash, error) {
	if state := tx.State(); state != FullySigned {
		return common.Hash{}, fmt.Errorf("%w: transaction is %s", ErrInvalidState, state)
	}
	wire, err := encodeAs(tx, FullySigned)
	if err != nil {
		return common.Hash{}, err
	}
	return Hash(wire), nil
}
