package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vultisig/sharekeeper/storage"
)

const (
	RecordVersion = 1

	// ShareObjectName is where a share lives inside its location.
	ShareObjectName = "passphrase/share.sss"

	recordExt = ".json"
)

// Record is the persisted description of a keystore. Wallet is the
// go-ethereum keystore JSON; for a split keystore it is encrypted under the
// recovered passphrase.
type Record struct {
	Version   int             `json:"version"`
	Address   common.Address  `json:"address"`
	Threshold int             `json:"threshold"`
	Total     int             `json:"total"`
	Shares    []ShareRef      `json:"shares,omitempty"`
	Wallet    json.RawMessage `json:"wallet"`

	// location is where the record was loaded from or last written to.
	location string
}

type ShareRef struct {
	Index    int    `json:"index"`
	Location string `json:"location"`
}

func (r *Record) IsSplit() bool {
	return r.Total > 1
}

func (r *Record) Validate() error {
	if r.Version != RecordVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrMalformedRecord, r.Version)
	}
	if r.Address == (common.Address{}) {
		return fmt.Errorf("%w: missing address", ErrMalformedRecord)
	}
	if len(r.Wallet) == 0 {
		return fmt.Errorf("%w: missing wallet", ErrMalformedRecord)
	}
	if r.Threshold < 1 || r.Threshold > r.Total {
		return fmt.Errorf("%w: threshold %d of %d", ErrMalformedRecord, r.Threshold, r.Total)
	}
	if r.IsSplit() && len(r.Shares) != r.Total {
		return fmt.Errorf("%w: %d share references for %d shares", ErrMalformedRecord, len(r.Shares), r.Total)
	}
	return nil
}

// EncryptedShare is the persisted share file. Share is base64 in JSON.
// Address is absent in files written by older tools.
type EncryptedShare struct {
	Index   int    `json:"Index"`
	Share   []byte `json:"Share"`
	Address string `json:"Address,omitempty"`
}

// RecordLocation is where the record for addr lives under dir.
func RecordLocation(dir string, addr common.Address) string {
	return storage.Join(dir, strings.ToLower(addr.Hex())+recordExt)
}

func (m *Manager) RecordLocation(addr common.Address) string {
	return RecordLocation(m.recordDir, addr)
}

// LocationOf returns where rec lives: the location it was loaded from or
// written to, else its default place in the record directory.
func (m *Manager) LocationOf(rec *Record) string {
	if rec.location != "" {
		return rec.location
	}
	return m.RecordLocation(rec.Address)
}

func encodeRecord(rec *Record) ([]byte, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("fail to encode keystore record, err: %w", err)
	}
	return data, nil
}

func DecodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (m *Manager) SaveRecord(ctx context.Context, rec *Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return m.store.Write(ctx, m.LocationOf(rec), data)
}

// LoadRecord reads a record from an explicit location. A commit to it that
// was cut short is rolled back first.
func (m *Manager) LoadRecord(ctx context.Context, location string) (*Record, error) {
	if err := m.recoverCommit(ctx, location); err != nil {
		return nil, err
	}
	data, err := m.store.Read(ctx, location)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrStorageNotFound, location)
		}
		return nil, err
	}
	rec, err := DecodeRecord(data)
	if err != nil {
		return nil, err
	}
	rec.location = location
	return rec, nil
}

func (m *Manager) LoadRecordByAddress(ctx context.Context, addr common.Address) (*Record, error) {
	return m.LoadRecord(ctx, m.RecordLocation(addr))
}

// ListRecords returns the records in the record directory, sorted by
// address. Files that do not parse are skipped.
func (m *Manager) ListRecords(ctx context.Context) ([]*Record, error) {
	entries, err := os.ReadDir(m.recordDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("fail to list %s, err: %w", m.recordDir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != journalExt {
			continue
		}
		location := strings.TrimSuffix(filepath.Join(m.recordDir, entry.Name()), journalExt)
		if err := m.recoverCommit(ctx, location); err != nil {
			m.logger.WithField("location", location).WithError(err).Warn("fail to roll back unfinished keystore commit")
		}
	}
	var records []*Record
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != recordExt {
			continue
		}
		location := filepath.Join(m.recordDir, entry.Name())
		rec, err := m.LoadRecord(ctx, location)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.logger.WithField("location", location).WithError(err).Warn("skip unreadable keystore record")
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Address.Hex() < records[j].Address.Hex()
	})
	return records, nil
}
