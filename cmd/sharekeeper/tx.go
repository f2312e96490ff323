package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"

	"github.com/vultisig/sharekeeper/internal/chain"
	"github.com/vultisig/sharekeeper/internal/txbuilder"
	"github.com/vultisig/sharekeeper/internal/txcodec"
	"github.com/vultisig/sharekeeper/internal/wallet"
	"github.com/vultisig/sharekeeper/service"
)

func newTxCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tx",
		Short: "Build, sign, inspect and send transactions",
	}
	cmd.AddCommand(
		newTxBuildCmd(a),
		newTxSignCmd(a),
		newTxFeePayCmd(a),
		newTxDecodeCmd(a),
		newTxSendCmd(a),
	)
	return cmd
}

func (a *app) builder() (*txbuilder.Builder, error) {
	return txbuilder.NewFromConfig(*a.cfg, wallet.NewGethService(a.cfg.Keystore.LightKDF))
}

// readWire takes hex wire bytes from the argument, or from all of stdin when
// the argument is "-" or missing.
func (a *app) readWire(args []string) ([]byte, error) {
	var s string
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(a.prompter.reader)
		if err != nil {
			return nil, fmt.Errorf("fail to read transaction, err: %w", err)
		}
		s = string(data)
	} else {
		s = args[0]
	}
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("transaction is not hex, err: %w", err)
	}
	return b, nil
}

func (a *app) printWire(tx *txcodec.Transaction) error {
	wire, err := txcodec.Encode(tx)
	if err != nil {
		return err
	}
	a.printf("%s\n", hexutil.Encode(wire))
	return nil
}

type buildFlags struct {
	to        string
	value     string
	data      string
	nonce     uint64
	gas       uint64
	tip       string
	feeCap    string
	delegated bool
}

func parseBig(name, s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("--%s %q is not a number", name, s)
	}
	return v, nil
}

func (f *buildFlags) request() (txbuilder.Request, error) {
	req := txbuilder.Request{Nonce: f.nonce, Gas: f.gas, Delegated: f.delegated}
	if f.to != "" {
		if !common.IsHexAddress(f.to) {
			return req, fmt.Errorf("--to %q is not an address", f.to)
		}
		to := common.HexToAddress(f.to)
		req.To = &to
	}
	var err error
	if req.Value, err = parseBig("value", f.value); err != nil {
		return req, err
	}
	if req.GasTipCap, err = parseBig("tip", f.tip); err != nil {
		return req, err
	}
	if req.GasFeeCap, err = parseBig("fee-cap", f.feeCap); err != nil {
		return req, err
	}
	if f.data != "" {
		if req.Data, err = hexutil.Decode(f.data); err != nil {
			return req, fmt.Errorf("--data is not hex, err: %w", err)
		}
	}
	return req, nil
}

func newTxBuildCmd(a *app) *cobra.Command {
	var f buildFlags
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Print an unsigned transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request()
			if err != nil {
				return err
			}
			b, err := a.builder()
			if err != nil {
				return err
			}
			tx, err := b.Build(req)
			if err != nil {
				return err
			}
			return a.printWire(tx)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.to, "to", "", "recipient; empty creates a contract")
	flags.StringVar(&f.value, "value", "0", "value in wei")
	flags.StringVar(&f.data, "data", "", "call data as 0x hex")
	flags.Uint64Var(&f.nonce, "nonce", 0, "sender nonce")
	flags.Uint64Var(&f.gas, "gas", 21000, "gas limit")
	flags.StringVar(&f.tip, "tip", "", "max priority fee per gas in wei")
	flags.StringVar(&f.feeCap, "fee-cap", "", "max fee per gas in wei")
	flags.BoolVar(&f.delegated, "delegated", false, "let the configured fee payer pay for gas")
	return cmd
}

func newTxSignCmd(a *app) *cobra.Command {
	var rf recordFlags
	cmd := &cobra.Command{
		Use:   "sign [raw-tx|-]",
		Short: "Sign an unsigned transaction as its sender",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			wire, err := a.readWire(args)
			if err != nil {
				return err
			}
			tx, err := txcodec.DecodeAs(wire, txcodec.Unsigned)
			if err != nil {
				return err
			}
			b, err := a.builder()
			if err != nil {
				return err
			}
			key, err := a.unlockKey(ctx, &rf)
			if err != nil {
				return err
			}
			signed, err := b.SignAsSender(ctx, tx, key)
			if err != nil {
				return err
			}
			return a.printWire(signed)
		},
	}
	rf.register(cmd)
	return cmd
}

func newTxFeePayCmd(a *app) *cobra.Command {
	var rf recordFlags
	cmd := &cobra.Command{
		Use:   "fee-pay [raw-tx|-]",
		Short: "Add the fee payer signature to a sender-signed transaction",
		Long: "Add the fee payer signature to a sender-signed transaction. Without " +
			"--address or --record the fee payer keystore and credentials come from the config.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			wire, err := a.readWire(args)
			if err != nil {
				return err
			}
			tx, err := txcodec.DecodeAs(wire, txcodec.SenderSigned)
			if err != nil {
				return err
			}
			b, err := a.builder()
			if err != nil {
				return err
			}
			feePayerKey, err := a.feePayerKey(ctx, &rf)
			if err != nil {
				return err
			}
			signed, err := b.SignAsFeePayer(ctx, tx, feePayerKey)
			if err != nil {
				return err
			}
			return a.printWire(signed)
		},
	}
	rf.register(cmd)
	return cmd
}

func newTxDecodeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "decode [raw-tx|-]",
		Short: "Print a transaction as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wire, err := a.readWire(args)
			if err != nil {
				return err
			}
			tx, err := txcodec.Decode(wire)
			if err != nil {
				return err
			}
			view, err := describe(tx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			return enc.Encode(view)
		},
	}
}

func newTxSendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send [raw-tx|-]",
		Short: "Broadcast a fully signed transaction",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			wire, err := a.readWire(args)
			if err != nil {
				return err
			}
			tx, err := txcodec.DecodeAs(wire, txcodec.FullySigned)
			if err != nil {
				return err
			}
			if a.cfg.Chain.RPCURL == "" {
				return fmt.Errorf("chain.rpc_url is not configured")
			}
			b, err := chain.Dial(ctx, a.cfg.Chain.RPCURL)
			if err != nil {
				return err
			}
			defer b.Close()
			hash, err := b.Send(ctx, tx)
			if err != nil {
				return err
			}
			a.printf("%s\n", hash.Hex())
			return nil
		},
	}
}

// txView is the JSON form printed by tx decode.
type txView struct {
	Type              string            `json:"type"`
	State             string            `json:"state"`
	ChainID           *hexutil.Big      `json:"chainId"`
	Nonce             hexutil.Uint64    `json:"nonce"`
	GasTipCap         *hexutil.Big      `json:"maxPriorityFeePerGas"`
	GasFeeCap         *hexutil.Big      `json:"maxFeePerGas"`
	Gas               hexutil.Uint64    `json:"gas"`
	To                *common.Address   `json:"to"`
	Value             *hexutil.Big      `json:"value"`
	Data              hexutil.Bytes     `json:"input"`
	AccessList        types.AccessList  `json:"accessList"`
	Sender            *common.Address   `json:"sender,omitempty"`
	FeePayer          *common.Address   `json:"feePayer,omitempty"`
	FeePayerRecovered *common.Address   `json:"feePayerRecovered,omitempty"`
	SigningHash       common.Hash       `json:"signingHash"`
	FeePayerHash      *common.Hash      `json:"feePayerSigningHash,omitempty"`
	Hash              *common.Hash      `json:"hash,omitempty"`
	Signatures        map[string]string `json:"signatures,omitempty"`
}

func describe(tx *txcodec.Transaction) (*txView, error) {
	v := &txView{
		Type:       tx.Type.String(),
		State:      tx.State().String(),
		ChainID:    (*hexutil.Big)(tx.ChainID),
		Nonce:      hexutil.Uint64(tx.Nonce),
		GasTipCap:  (*hexutil.Big)(tx.GasTipCap),
		GasFeeCap:  (*hexutil.Big)(tx.GasFeeCap),
		Gas:        hexutil.Uint64(tx.Gas),
		To:         tx.To,
		Value:      (*hexutil.Big)(tx.Value),
		Data:       tx.Data,
		AccessList: tx.AccessList,
	}
	var err error
	if v.SigningHash, err = txcodec.SigningHash(tx); err != nil {
		return nil, err
	}
	if !tx.Signature.IsZero() {
		sender, err := txbuilder.RecoverSender(tx)
		if err != nil {
			return nil, err
		}
		v.Sender = &sender
	}
	if tx.IsDelegated() {
		feePayer := tx.FeePayer
		v.FeePayer = &feePayer
		if tx.State() != txcodec.Unsigned {
			h, err := txcodec.FeePayerSigningHash(tx)
			if err != nil {
				return nil, err
			}
			v.FeePayerHash = &h
		}
		if !tx.FeePayerSignature.IsZero() {
			recovered, err := txbuilder.RecoverFeePayer(tx)
			if err != nil {
				return nil, err
			}
			v.FeePayerRecovered = &recovered
		}
	}
	if tx.State() == txcodec.FullySigned {
		h, err := txcodec.TxHash(tx)
		if err != nil {
			return nil, err
		}
		v.Hash = &h
	}
	return v, nil
}

// feePayerKey unlocks the selected record interactively, or the configured
// fee payer keystore when no record is selected.
func (a *app) feePayerKey(ctx context.Context, rf *recordFlags) (*ecdsa.PrivateKey, error) {
	if rf.address != "" || rf.record != "" {
		return a.unlockKey(ctx, rf)
	}
	return service.LoadFeePayerKey(ctx, *a.cfg, a.manager())
}
