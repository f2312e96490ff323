// Package txbuilder assembles transactions and moves them through the
// signing states.
package txbuilder

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/sharekeeper/config"
	"github.com/vultisig/sharekeeper/internal/txcodec"
	"github.com/vultisig/sharekeeper/internal/wallet"
)

var (
	ErrInvalidRequest   = errors.New("invalid transaction request")
	ErrFeePayerMismatch = errors.New("key does not belong to the fee payer")
	ErrChainMismatch    = errors.New("transaction is for another chain")
)

// Request holds what a caller decides about a transaction. Delegated selects
// the fee-delegated type with the builder's fee payer.
type Request struct {
	To         *common.Address
	Value      *big.Int
	Data       []byte
	Nonce      uint64
	Gas        uint64
	GasTipCap  *big.Int
	GasFeeCap  *big.Int
	AccessList types.AccessList
	Delegated  bool
}

type Builder struct {
	chainID  *big.Int
	feePayer common.Address
	signer   wallet.Service
	logger   *logrus.Entry
}

// New returns a builder for chainID. feePayer may be zero when only
// sender-paid transactions are built.
func New(chainID *big.Int, feePayer common.Address, signer wallet.Service) *Builder {
	return &Builder{
		chainID:  new(big.Int).Set(chainID),
		feePayer: feePayer,
		signer:   signer,
		logger:   logrus.WithField("service", "txbuilder"),
	}
}

func NewFromConfig(cfg config.Config, signer wallet.Service) (*Builder, error) {
	var feePayer common.Address
	if cfg.Roles.FeePayer != "" {
		if !common.IsHexAddress(cfg.Roles.FeePayer) {
			return nil, fmt.Errorf("invalid fee payer address %q", cfg.Roles.FeePayer)
		}
		feePayer = common.HexToAddress(cfg.Roles.FeePayer)
	}
	if cfg.Chain.ChainID <= 0 {
		return nil, fmt.Errorf("invalid chain id %d", cfg.Chain.ChainID)
	}
	return New(big.NewInt(cfg.Chain.ChainID), feePayer, signer), nil
}

func (b *Builder) ChainID() *big.Int {
	return new(big.Int).Set(b.chainID)
}

func (b *Builder) FeePayer() common.Address {
	return b.feePayer
}

// Build returns an unsigned transaction for req.
func (b *Builder) Build(req Request) (*txcodec.Transaction, error) {
	if req.Gas == 0 {
		return nil, fmt.Errorf("%w: gas limit is zero", ErrInvalidRequest)
	}
	if req.GasTipCap == nil || req.GasFeeCap == nil {
		return nil, fmt.Errorf("%w: fee caps are required", ErrInvalidRequest)
	}
	if req.GasTipCap.Sign() < 0 || req.GasFeeCap.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative fee cap", ErrInvalidRequest)
	}
	if req.GasTipCap.Cmp(req.GasFeeCap) > 0 {
		return nil, fmt.Errorf("%w: priority fee %s above fee cap %s", ErrInvalidRequest, req.GasTipCap, req.GasFeeCap)
	}
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative value", ErrInvalidRequest)
	}
	if req.To == nil && len(req.Data) == 0 {
		return nil, fmt.Errorf("%w: contract creation without code", ErrInvalidRequest)
	}

	fields := txcodec.Fields{
		ChainID:    b.ChainID(),
		Nonce:      req.Nonce,
		GasTipCap:  new(big.Int).Set(req.GasTipCap),
		GasFeeCap:  new(big.Int).Set(req.GasFeeCap),
		Gas:        req.Gas,
		To:         req.To,
		Value:      new(big.Int).Set(value),
		Data:       common.CopyBytes(req.Data),
		AccessList: req.AccessList,
	}
	if len(fields.Data) == 0 {
		fields.Data = nil
	}
	if !req.Delegated {
		return txcodec.NewDynamicFeeTx(fields), nil
	}
	if b.feePayer == (common.Address{}) {
		return nil, fmt.Errorf("%w: no fee payer configured", ErrInvalidRequest)
	}
	return txcodec.NewFeeDelegatedTx(fields, b.feePayer), nil
}

// SignAsSender returns a copy of an unsigned tx carrying the sender's
// signature.
func (b *Builder) SignAsSender(ctx context.Context, tx *txcodec.Transaction, key *ecdsa.PrivateKey) (*txcodec.Transaction, error) {
	if state := tx.State(); state != txcodec.Unsigned {
		return nil, fmt.Errorf("%w: sender signs an unsigned transaction, got %s", txcodec.ErrInvalidState, state)
	}
	if err := b.checkChain(tx); err != nil {
		return nil, err
	}
	hash, err := txcodec.SigningHash(tx)
	if err != nil {
		return nil, err
	}
	sig, err := b.signer.Sign(ctx, key, hash)
	if err != nil {
		return nil, fmt.Errorf("fail to sign as sender, err: %w", err)
	}
	out := tx.Copy()
	out.Signature = sig
	b.logger.WithFields(logrus.Fields{
		"type":   tx.Type.String(),
		"sender": crypto.PubkeyToAddress(key.PublicKey).Hex(),
		"hash":   hash.Hex(),
	}).Info("signed as sender")
	return out, nil
}

// SignAsFeePayer returns a copy of a sender-signed fee-delegated tx carrying
// the fee payer's signature. key must belong to the tx's fee payer.
func (b *Builder) SignAsFeePayer(ctx context.Context, tx *txcodec.Transaction, key *ecdsa.PrivateKey) (*txcodec.Transaction, error) {
	if !tx.IsDelegated() {
		return nil, fmt.Errorf("%w: %s transaction has no fee payer", txcodec.ErrInvalidState, tx.Type)
	}
	if state := tx.State(); state != txcodec.SenderSigned {
		return nil, fmt.Errorf("%w: fee payer signs a sender-signed transaction, got %s", txcodec.ErrInvalidState, state)
	}
	if err := b.checkChain(tx); err != nil {
		return nil, err
	}
	if addr := crypto.PubkeyToAddress(key.PublicKey); addr != tx.FeePayer {
		return nil, fmt.Errorf("%w: key is %s, fee payer is %s", ErrFeePayerMismatch, addr.Hex(), tx.FeePayer.Hex())
	}
	hash, err := txcodec.FeePayerSigningHash(tx)
	if err != nil {
		return nil, err
	}
	sig, err := b.signer.Sign(ctx, key, hash)
	if err != nil {
		return nil, fmt.Errorf("fail to sign as fee payer, err: %w", err)
	}
	out := tx.Copy()
	out.FeePayerSignature = sig
	b.logger.WithFields(logrus.Fields{
		"fee_payer": tx.FeePayer.Hex(),
		"hash":      hash.Hex(),
	}).Info("signed as fee payer")
	return out, nil
}

func (b *Builder) checkChain(tx *txcodec.Transaction) error {
	if tx.ChainID == nil || tx.ChainID.Cmp(b.chainID) != 0 {
		return fmt.Errorf("%w: transaction chain %v, builder chain %s", ErrChainMismatch, tx.ChainID, b.chainID)
	}
	return nil
}

// RecoverSender returns the address that produced the sender signature.
func RecoverSender(tx *txcodec.Transaction) (common.Address, error) {
	if tx.Signature.IsZero() {
		return common.Address{}, fmt.Errorf("%w: no sender signature", txcodec.ErrInvalidState)
	}
	hash, err := txcodec.SigningHash(tx)
	if err != nil {
		return common.Address{}, err
	}
	return wallet.Recover(hash, tx.Signature)
}

// RecoverFeePayer returns the address that produced the fee payer signature.
func RecoverFeePayer(tx *txcodec.Transaction) (common.Address, error) {
	if tx.FeePayerSignature.IsZero() {
		return common.Address{}, fmt.Errorf("%w: no fee payer signature", txcodec.ErrInvalidState)
	}
	hash, err := txcodec.FeePayerSigningHash(tx)
	if err != nil {
		return common.Address{}, err
	}
	return wallet.Recover(hash, tx.FeePayerSignature)
}
