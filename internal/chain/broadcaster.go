// Package chain submits signed transactions to a node.
package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/sharekeeper/internal/txcodec"
)

type Broadcaster struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
	logger    *logrus.Entry
}

func Dial(ctx context.Context, rpcURL string) (*Broadcaster, error) {
	client, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("fail to dial %s, err: %w", rpcURL, err)
	}
	return NewBroadcaster(client), nil
}

func NewBroadcaster(client *rpc.Client) *Broadcaster {
	return &Broadcaster{
		rpcClient: client,
		ethClient: ethclient.NewClient(client),
		logger:    logrus.WithField("service", "broadcaster"),
	}
}

// SendRawTransaction submits wire bytes as they are and returns the hash the
// node reports.
func (b *Broadcaster) SendRawTransaction(ctx context.Context, wire []byte) (common.Hash, error) {
	var hash common.Hash
	if err := b.rpcClient.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Encode(wire)); err != nil {
		return common.Hash{}, fmt.Errorf("fail to send raw transaction, err: %w", err)
	}
	return hash, nil
}

// Send submits a fully signed transaction. Dynamic-fee transactions go
// through go-ethereum's client; the fee-delegated type, which it cannot
// represent, is sent raw.
func (b *Broadcaster) Send(ctx context.Context, tx *txcodec.Transaction) (common.Hash, error) {
	hash, err := txcodec.TxHash(tx)
	if err != nil {
		return common.Hash{}, err
	}
	logger := b.logger.WithFields(logrus.Fields{
		"type": tx.Type.String(),
		"hash": hash.Hex(),
	})

	if tx.Type == txcodec.DynamicFeeTxType {
		gethTx, err := txcodec.ToGeth(tx)
		if err != nil {
			return common.Hash{}, err
		}
		if err := b.ethClient.SendTransaction(ctx, gethTx); err != nil {
			return common.Hash{}, fmt.Errorf("fail to send transaction, err: %w", err)
		}
		logger.Info("transaction sent")
		return hash, nil
	}

	wire, err := txcodec.Encode(tx)
	if err != nil {
		return common.Hash{}, err
	}
	nodeHash, err := b.SendRawTransaction(ctx, wire)
	if err != nil {
		return common.Hash{}, err
	}
	if nodeHash != hash {
		logger.WithField("node_hash", nodeHash.Hex()).Warn("node reported a different transaction hash")
	}
	logger.Info("transaction sent")
	return hash, nil
}

func (b *Broadcaster) Close() {
	b.rpcClient.Close()
}
