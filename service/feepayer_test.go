package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/sharekeeper/config"
	"github.com/vultisig/sharekeeper/internal/keystore"
	"github.com/vultisig/sharekeeper/internal/wallet"
	"github.com/vultisig/sharekeeper/storage"
)

func TestLoadFeePayerKey(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m := keystore.NewManager(storage.NewFileStorage(), wallet.NewGethService(true), filepath.Join(dir, "records"))
	locations := []string{filepath.Join(dir, "a"), filepath.Join(dir, "b"), filepath.Join(dir, "c")}
	rec, err := m.Generate(ctx, keystore.Policy{
		SplitCount: 3,
		Threshold:  2,
		Passwords:  []string{"p1", "p2", "p3"},
		Locations:  locations,
	})
	require.NoError(t, err)

	var cfg config.Config
	cfg.Roles.FeePayer = rec.Address.Hex()
	cfg.FeePayer.Record = m.RecordLocation(rec.Address)
	cfg.FeePayer.Shares = []config.ShareSecret{
		{Location: locations[2], Password: "p3"},
		{Location: locations[0], Password: "p1"},
	}

	key, err := LoadFeePayerKey(ctx, cfg, m)
	require.NoError(t, err)
	assert.Equal(t, rec.Address, keyAddress(key))

	cfg.FeePayer.Shares[0].Password = "wrong"
	_, err = LoadFeePayerKey(ctx, cfg, m)
	assert.ErrorIs(t, err, keystore.ErrWalletDecryptFailed)

	cfg.Roles.FeePayer = "0x00000000000000000000000000000000000000fe"
	_, err = LoadFeePayerKey(ctx, cfg, m)
	assert.Error(t, err)

	cfg.FeePayer.Record = ""
	_, err = LoadFeePayerKey(ctx, cfg, m)
	assert.Error(t, err)
}
