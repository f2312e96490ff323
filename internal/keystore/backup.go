package keystore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/vultisig/sharekeeper/common"
)

const backupVersion = 1

// backup is the plaintext bundle inside an exported file. Share objects are
// still encrypted under their own passwords.
type backup struct {
	Version int               `json:"version"`
	Record  json.RawMessage   `json:"record"`
	Shares  map[string][]byte `json:"shares,omitempty"`
}

// Export bundles rec, and the share files it references when withShares is
// set, into an xz-compressed file encrypted under password.
func (m *Manager) Export(ctx context.Context, rec *Record, withShares bool, password string) ([]byte, error) {
	if password == "" {
		return nil, fmt.Errorf("backup password cannot be empty")
	}
	recordData, err := encodeRecord(rec)
	if err != nil {
		return nil, err
	}
	b := backup{Version: backupVersion, Record: recordData}
	if withShares {
		b.Shares = make(map[string][]byte, len(rec.Shares))
		for _, ref := range rec.Shares {
			data, err := m.store.Read(ctx, ref.Location)
			if err != nil {
				return nil, &ShareError{Index: ref.Index, Location: ref.Location, Err: err}
			}
			b.Shares[ref.Location] = data
		}
	}
	plain, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("fail to encode backup, err: %w", err)
	}
	compressed, err := common.CompressData(plain)
	if err != nil {
		return nil, err
	}
	sealed, err := common.Encrypt(password, compressed)
	if err != nil {
		return nil, fmt.Errorf("fail to encrypt backup, err: %w", err)
	}
	m.logger.WithFields(logrus.Fields{
		"address": rec.Address.Hex(),
		"shares":  len(b.Shares),
	}).Info("keystore exported")
	return []byte(sealed), nil
}

// Import restores a bundle written by Export. The record and any bundled
// shares are committed together, replacing what is at their locations.
func (m *Manager) Import(ctx context.Context, data []byte, password string) (*Record, error) {
	compressed, err := common.Decrypt(password, string(data))
	if err != nil {
		return nil, fmt.Errorf("fail to decrypt backup, err: %w", err)
	}
	plain, err := common.DecompressData(compressed)
	if err != nil {
		return nil, err
	}
	var b backup
	if err := json.Unmarshal(plain, &b); err != nil {
		return nil, fmt.Errorf("fail to decode backup, err: %w", err)
	}
	if b.Version != backupVersion {
		return nil, fmt.Errorf("unsupported backup version %d", b.Version)
	}
	rec, err := DecodeRecord(b.Record)
	if err != nil {
		return nil, err
	}

	location := m.RecordLocation(rec.Address)
	if err := m.recoverCommit(ctx, location); err != nil {
		return nil, err
	}
	cs := newCommitSet(m.store, location, m.logger.WithField("address", rec.Address.Hex()))
	for _, ref := range rec.Shares {
		share, ok := b.Shares[ref.Location]
		if !ok {
			continue
		}
		if err := cs.Stage(ctx, ref.Location, share); err != nil {
			cs.Abort(ctx)
			return nil, &ShareError{Index: ref.Index, Location: ref.Location, Err: err}
		}
	}
	if err := cs.Stage(ctx, location, b.Record); err != nil {
		cs.Abort(ctx)
		return nil, err
	}
	if err := cs.Commit(ctx); err != nil {
		return nil, fmt.Errorf("fail to commit imported keystore, err: %w", err)
	}
	rec.location = location
	m.logger.WithFields(logrus.Fields{
		"address": rec.Address.Hex(),
		"shares":  len(b.Shares),
	}).Info("keystore imported")
	return rec, nil
}
