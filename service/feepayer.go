package service

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/sharekeeper/config"
	"github.com/vultisig/sharekeeper/internal/keystore"
)

// FeePayerCredential builds the unlock credential configured for the fee
// payer account.
func FeePayerCredential(cfg config.Config) keystore.Credential {
	cred := keystore.Credential{Password: cfg.FeePayer.Password}
	for _, s := range cfg.FeePayer.Shares {
		cred.Shares = append(cred.Shares, keystore.ShareCredential{Location: s.Location, Password: s.Password})
	}
	return cred
}

// LoadFeePayerKey unlocks the fee payer keystore named by the config and
// checks it matches the configured fee payer role.
func LoadFeePayerKey(ctx context.Context, cfg config.Config, m *keystore.Manager) (*ecdsa.PrivateKey, error) {
	if cfg.FeePayer.Record == "" {
		return nil, fmt.Errorf("fee_payer.record is not configured")
	}
	rec, err := m.LoadRecord(ctx, cfg.FeePayer.Record)
	if err != nil {
		return nil, fmt.Errorf("fail to load fee payer record, err: %w", err)
	}
	if cfg.Roles.FeePayer != "" && !equalHexAddress(cfg.Roles.FeePayer, rec.Address.Hex()) {
		return nil, fmt.Errorf("fee payer record holds %s, roles.fee_payer is %s", rec.Address.Hex(), cfg.Roles.FeePayer)
	}
	key, err := m.Unlock(ctx, rec, FeePayerCredential(cfg))
	if err != nil {
		return nil, fmt.Errorf("fail to unlock fee payer, err: %w", err)
	}
	logrus.WithField("fee_payer", keyAddress(key).Hex()).Info("fee payer unlocked")
	return key, nil
}

func keyAddress(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

func equalHexAddress(a, b string) bool {
	return common.IsHexAddress(a) && common.IsHexAddress(b) && common.HexToAddress(a) == common.HexToAddress(b)
}
