package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/sharekeeper/config"
)

func TestRootCmdLoadsConfigFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.yaml")
	yaml := "roles:\n  fee_payer: \"0x00000000000000000000000000000000000000fe\"\nfee_payer:\n  record: keystore/fee-payer.json\nchain:\n  chain_id: 1112\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	var got *config.Config
	cmd := newRootCmd(func(_ context.Context, cfg *config.Config) error {
		got = cfg
		return nil
	})
	cmd.SetArgs([]string{"--config", path})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	require.NotNil(t, got)
	assert.Equal(t, "0x00000000000000000000000000000000000000fe", got.Roles.FeePayer)
	assert.Equal(t, "keystore/fee-payer.json", got.FeePayer.Record)
	assert.Equal(t, int64(1112), got.Chain.ChainID)
	assert.Equal(t, "info", got.LogLevel)
}

func TestRootCmdRejectsMissingConfig(t *testing.T) {
	called := false
	cmd := newRootCmd(func(context.Context, *config.Config) error {
		called = true
		return nil
	})
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	cmd.SetErr(io.Discard)
	assert.Error(t, cmd.ExecuteContext(context.Background()))
	assert.False(t, called)
}
