package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/vultisig/sharekeeper/internal/keystore"
)

func newKeystoreCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keystore",
		Short: "Create and manage keystores",
	}
	cmd.AddCommand(
		newGenerateCmd(a),
		newUnlockCmd(a),
		newUpdateCmd(a),
		newListCmd(a),
		newExportCmd(a),
		newImportCmd(a),
	)
	return cmd
}

// recordFlags selects a keystore record by address or by file.
type recordFlags struct {
	address string
	record  string
}

func (f *recordFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.address, "address", "", "account address")
	cmd.Flags().StringVar(&f.record, "record", "", "keystore record file")
}

func (f *recordFlags) load(ctx context.Context, m *keystore.Manager) (*keystore.Record, error) {
	switch {
	case f.record != "":
		return m.LoadRecord(ctx, f.record)
	case common.IsHexAddress(f.address):
		return m.LoadRecordByAddress(ctx, common.HexToAddress(f.address))
	case f.address != "":
		return nil, fmt.Errorf("%q is not an address", f.address)
	default:
		return nil, fmt.Errorf("--address or --record is required")
	}
}

type policyFlags struct {
	shares    int
	threshold int
	locations []string
}

func (f *policyFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.shares, "shares", 1, "number of shares; 1 keeps a single password")
	cmd.Flags().IntVar(&f.threshold, "threshold", 0, "shares needed to unlock")
	cmd.Flags().StringSliceVar(&f.locations, "location", nil, "share location, repeated once per share")
}

// policy prompts for what the flags leave open: share locations and every
// password.
func (f *policyFlags) policy(ctx context.Context, a *app) (keystore.Policy, error) {
	if f.shares <= 1 {
		pw, err := a.prompter.NewPassword(ctx, "new password")
		if err != nil {
			return keystore.Policy{}, err
		}
		return keystore.Policy{SplitCount: 1, Threshold: 1, Passwords: []string{pw}}, nil
	}
	if len(f.locations) > f.shares {
		return keystore.Policy{}, fmt.Errorf("%d locations for %d shares", len(f.locations), f.shares)
	}
	p := keystore.Policy{SplitCount: f.shares, Threshold: f.threshold}
	for i := 0; i < f.shares; i++ {
		var location string
		if i < len(f.locations) {
			location = f.locations[i]
		} else {
			var err error
			location, err = a.prompter.Location(ctx, fmt.Sprintf("location of share %d of %d", i+1, f.shares))
			if err != nil {
				return keystore.Policy{}, err
			}
		}
		pw, err := a.prompter.NewPassword(ctx, fmt.Sprintf("password for share %d", i+1))
		if err != nil {
			return keystore.Policy{}, err
		}
		p.Locations = append(p.Locations, location)
		p.Passwords = append(p.Passwords, pw)
	}
	return p, nil
}

func newGenerateCmd(a *app) *cobra.Command {
	var pf policyFlags
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Create an account protected by a password or by shares",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if pf.shares > 1 && pf.threshold == 0 {
				return fmt.Errorf("--threshold is required with --shares %d", pf.shares)
			}
			policy, err := pf.policy(ctx, a)
			if err != nil {
				return err
			}
			m := a.manager()
			rec, err := m.Generate(ctx, policy)
			if err != nil {
				return err
			}
			a.printRecord(m, rec)
			return nil
		},
	}
	pf.register(cmd)
	return cmd
}

func newUnlockCmd(a *app) *cobra.Command {
	var rf recordFlags
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Check that a keystore can be unlocked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m := a.manager()
			rec, err := rf.load(ctx, m)
			if err != nil {
				return err
			}
			if _, err := m.UnlockInteractive(ctx, rec, a.prompter); err != nil {
				return err
			}
			a.printf("unlocked %s\n", rec.Address.Hex())
			return nil
		},
	}
	rf.register(cmd)
	return cmd
}

func newUpdateCmd(a *app) *cobra.Command {
	var rf recordFlags
	var pf policyFlags
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Change a keystore's passwords or share policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if pf.shares > 1 && pf.threshold == 0 {
				return fmt.Errorf("--threshold is required with --shares %d", pf.shares)
			}
			m := a.manager()
			rec, err := rf.load(ctx, m)
			if err != nil {
				return err
			}
			key, err := m.UnlockInteractive(ctx, rec, a.prompter)
			if err != nil {
				return err
			}
			policy, err := pf.policy(ctx, a)
			if err != nil {
				return err
			}
			updated, err := m.Reprotect(ctx, rec, key, policy)
			if err != nil {
				return err
			}
			a.printRecord(m, updated)
			return nil
		},
	}
	rf.register(cmd)
	pf.register(cmd)
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List keystore records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := a.manager().ListRecords(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ADDRESS\tPOLICY\tSHARES")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\n", rec.Address.Hex(), policyString(rec), shareLocations(rec))
			}
			return w.Flush()
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	var rf recordFlags
	var out string
	var withShares bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write an encrypted backup of a keystore",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if out == "" {
				out = a.cfg.Keystore.BackupPath
			}
			if out == "" {
				return fmt.Errorf("--out is required")
			}
			m := a.manager()
			rec, err := rf.load(ctx, m)
			if err != nil {
				return err
			}
			pw, err := a.prompter.NewPassword(ctx, "backup password")
			if err != nil {
				return err
			}
			data, err := m.Export(ctx, rec, withShares, pw)
			if err != nil {
				return err
			}
			if info, err := os.Stat(out); err == nil && info.IsDir() {
				out = filepath.Join(out, strings.ToLower(rec.Address.Hex())+".bak")
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return fmt.Errorf("fail to write backup, err: %w", err)
			}
			a.printf("exported %s to %s\n", rec.Address.Hex(), out)
			return nil
		},
	}
	rf.register(cmd)
	cmd.Flags().StringVar(&out, "out", "", "backup file or directory (default keystore.backup_path)")
	cmd.Flags().BoolVar(&withShares, "with-shares", false, "include the share files")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <backup-file>",
		Short: "Restore a keystore from a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("fail to read backup, err: %w", err)
			}
			pw, err := a.prompter.Password(ctx, "backup password")
			if err != nil {
				return err
			}
			m := a.manager()
			rec, err := m.Import(ctx, data, pw)
			if err != nil {
				return err
			}
			a.printRecord(m, rec)
			return nil
		},
	}
}

// unlockKey loads the selected record and unlocks it through the prompter.
func (a *app) unlockKey(ctx context.Context, rf *recordFlags) (*ecdsa.PrivateKey, error) {
	m := a.manager()
	rec, err := rf.load(ctx, m)
	if err != nil {
		return nil, err
	}
	return m.UnlockInteractive(ctx, rec, a.prompter)
}

func (a *app) printRecord(m *keystore.Manager, rec *keystore.Record) {
	a.printf("address: %s\n", rec.Address.Hex())
	a.printf("record:  %s\n", m.LocationOf(rec))
	a.printf("policy:  %s\n", policyString(rec))
	for _, ref := range rec.Shares {
		a.printf("share %d: %s\n", ref.Index, ref.Location)
	}
}

func policyString(rec *keystore.Record) string {
	if !rec.IsSplit() {
		return "password"
	}
	return fmt.Sprintf("%d-of-%d", rec.Threshold, rec.Total)
}

func shareLocations(rec *keystore.Record) string {
	locations := make([]string, len(rec.Shares))
	for i, ref := range rec.Shares {
		locations[i] = ref.Location
	}
	return strings.Join(locations, ",")
}
