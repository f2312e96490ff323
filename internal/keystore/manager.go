// Package keystore manages account keystores protected either by a single
// password or by a random passphrase split into password-encrypted shares.
package keystore

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/sharekeeper/contexthelper"
	"github.com/vultisig/sharekeeper/internal/sharecipher"
	"github.com/vultisig/sharekeeper/internal/sss"
	"github.com/vultisig/sharekeeper/internal/wallet"
	"github.com/vultisig/sharekeeper/storage"
)

// passphraseBytes is the entropy of a generated passphrase. The passphrase
// itself is its hex encoding.
const passphraseBytes = 32

type Manager struct {
	store     storage.Store
	wallet    wallet.Service
	recordDir string
	random    io.Reader
	logger    *logrus.Entry
}

type Option func(*Manager)

// WithRandom sets the source for passphrases and share polynomials.
func WithRandom(r io.Reader) Option {
	return func(m *Manager) {
		m.random = r
	}
}

// NewManager returns a manager that keeps records under recordDir and reads
// and writes shares through store.
func NewManager(store storage.Store, w wallet.Service, recordDir string, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		wallet:    w,
		recordDir: recordDir,
		random:    rand.Reader,
		logger:    logrus.WithField("service", "keystore"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Generate creates a new account and persists its keystore under policy.
func (m *Manager) Generate(ctx context.Context, policy Policy) (*Record, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	key, err := m.wallet.CreateAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("fail to create account, err: %w", err)
	}
	rec, err := m.persist(ctx, key, policy, m.RecordLocation(crypto.PubkeyToAddress(key.PublicKey)))
	if err != nil {
		return nil, err
	}
	m.logger.WithFields(logrus.Fields{
		"address":   rec.Address.Hex(),
		"threshold": rec.Threshold,
		"total":     rec.Total,
	}).Info("keystore generated")
	return rec, nil
}

// Update re-protects the keystore's key under newPolicy. The old keystore
// stays loadable unless every new object is written.
func (m *Manager) Update(ctx context.Context, rec *Record, old Credential, newPolicy Policy) (*Record, error) {
	if err := newPolicy.Validate(); err != nil {
		return nil, err
	}
	key, err := m.Unlock(ctx, rec, old)
	if err != nil {
		return nil, err
	}
	return m.Reprotect(ctx, rec, key, newPolicy)
}

// Reprotect stores an already unlocked key under newPolicy, replacing rec at
// the location it was loaded from. Shares rec no longer needs are removed
// after the commit.
func (m *Manager) Reprotect(ctx context.Context, rec *Record, key *ecdsa.PrivateKey, newPolicy Policy) (*Record, error) {
	if err := newPolicy.Validate(); err != nil {
		return nil, err
	}
	if addr := crypto.PubkeyToAddress(key.PublicKey); addr != rec.Address {
		return nil, fmt.Errorf("%w: key is %s, record names %s", ErrAddressMismatch, addr.Hex(), rec.Address.Hex())
	}
	updated, err := m.persist(ctx, key, newPolicy, m.LocationOf(rec))
	if err != nil {
		return nil, err
	}

	kept := make(map[string]bool, len(updated.Shares))
	for _, ref := range updated.Shares {
		kept[ref.Location] = true
	}
	for _, ref := range rec.Shares {
		if kept[ref.Location] {
			continue
		}
		if err := m.store.Delete(ctx, ref.Location); err != nil {
			m.logger.WithFields(logrus.Fields{
				"index":    ref.Index,
				"location": ref.Location,
			}).WithError(err).Warn("fail to remove retired share")
		}
	}
	m.logger.WithFields(logrus.Fields{
		"address":   updated.Address.Hex(),
		"threshold": updated.Threshold,
		"total":     updated.Total,
	}).Info("keystore updated")
	return updated, nil
}

// persist encrypts key under policy and commits the shares and the record at
// recordLocation together.
func (m *Manager) persist(ctx context.Context, key *ecdsa.PrivateKey, policy Policy, recordLocation string) (*Record, error) {
	addr := crypto.PubkeyToAddress(key.PublicKey)
	rec := &Record{
		Version:   RecordVersion,
		Address:   addr,
		Threshold: policy.Threshold,
		Total:     policy.SplitCount,
		location:  recordLocation,
	}
	if err := m.recoverCommit(ctx, recordLocation); err != nil {
		return nil, err
	}
	cs := newCommitSet(m.store, recordLocation, m.logger.WithField("address", addr.Hex()))

	var blob []byte
	if !policy.IsSplit() {
		var err error
		blob, err = m.wallet.EncryptAccount(ctx, key, policy.Passwords[0])
		if err != nil {
			return nil, fmt.Errorf("fail to encrypt account, err: %w", err)
		}
	} else {
		passphrase, err := m.randomPassphrase()
		if err != nil {
			return nil, err
		}
		shares, err := sss.Split(passphrase, policy.SplitCount, policy.Threshold, m.random)
		if err != nil {
			wipe(passphrase)
			return nil, fmt.Errorf("fail to split passphrase, err: %w", err)
		}
		defer func() {
			for _, share := range shares {
				wipe(share)
			}
		}()
		for i := 0; i < policy.SplitCount; i++ {
			index := i + 1
			location := storage.Join(policy.Locations[i], ShareObjectName)
			data, err := encodeShare(index, shares[byte(index)], policy.Passwords[i], addr)
			if err == nil {
				err = cs.Stage(ctx, location, data)
			}
			if err != nil {
				wipe(passphrase)
				cs.Abort(ctx)
				return nil, &ShareError{Index: index, Location: location, Err: err}
			}
			rec.Shares = append(rec.Shares, ShareRef{Index: index, Location: location})
		}
		// The wallet service takes a string; that copy cannot be wiped and
		// lives until it is collected.
		blob, err = m.wallet.EncryptAccount(ctx, key, string(passphrase))
		wipe(passphrase)
		if err != nil {
			cs.Abort(ctx)
			return nil, fmt.Errorf("fail to encrypt account, err: %w", err)
		}
	}
	rec.Wallet = blob

	data, err := encodeRecord(rec)
	if err == nil {
		err = cs.Stage(ctx, recordLocation, data)
	}
	if err != nil {
		cs.Abort(ctx)
		return nil, err
	}
	if err := cs.Commit(ctx); err != nil {
		return nil, fmt.Errorf("fail to commit keystore, err: %w", err)
	}
	return rec, nil
}

func (m *Manager) randomPassphrase() ([]byte, error) {
	raw := make([]byte, passphraseBytes)
	if _, err := io.ReadFull(m.random, raw); err != nil {
		return nil, fmt.Errorf("fail to generate passphrase, err: %w", err)
	}
	out := make([]byte, hex.EncodedLen(len(raw)))
	hex.Encode(out, raw)
	wipe(raw)
	return out, nil
}

// Unlock recovers the signing key. A split keystore needs at least
// Threshold share credentials; only the first Threshold are used.
func (m *Manager) Unlock(ctx context.Context, rec *Record, cred Credential) (*ecdsa.PrivateKey, error) {
	if !rec.IsSplit() {
		return m.decryptWallet(ctx, rec, cred.Password)
	}
	if len(cred.Shares) < rec.Threshold {
		return nil, fmt.Errorf("%w: need %d, got %d", ErrInsufficientShares, rec.Threshold, len(cred.Shares))
	}
	loaded := make([]*LoadedShare, 0, rec.Threshold)
	for _, sc := range cred.Shares {
		if len(loaded) == rec.Threshold {
			break
		}
		share, err := m.LoadShare(ctx, rec, sc.Location)
		if err != nil {
			return nil, err
		}
		if err := checkDuplicate(loaded, share); err != nil {
			return nil, err
		}
		share.password = sc.Password
		loaded = append(loaded, share)
	}
	return m.unlockShares(ctx, rec, loaded)
}

// LoadedShare is a share file that has been read and checked against its
// record but not yet decrypted.
type LoadedShare struct {
	Index    int
	Location string

	ciphertext []byte
	password   string
}

// ShareLocation resolves what a user supplied for a share: the location of a
// share the record lists, or a directory holding a share file.
func (m *Manager) ShareLocation(rec *Record, supplied string) string {
	for _, ref := range rec.Shares {
		if ref.Location == supplied {
			return supplied
		}
	}
	return storage.Join(supplied, ShareObjectName)
}

// LoadShare reads the share at the supplied location and checks that it
// belongs to rec. Failures are *ShareError.
func (m *Manager) LoadShare(ctx context.Context, rec *Record, supplied string) (*LoadedShare, error) {
	location := m.ShareLocation(rec, supplied)
	data, err := m.store.Read(ctx, location)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, storage.ErrNotFound) {
			err = ErrStorageNotFound
		}
		return nil, &ShareError{Location: location, Err: err}
	}
	var share EncryptedShare
	if err := json.Unmarshal(data, &share); err != nil {
		return nil, &ShareError{Location: location, Err: fmt.Errorf("%w: %v", ErrMalformedShare, err)}
	}
	if share.Index < 1 || share.Index > rec.Total {
		return nil, &ShareError{Index: share.Index, Location: location, Err: fmt.Errorf("%w: index out of range", ErrMalformedShare)}
	}
	if len(share.Share) == 0 {
		return nil, &ShareError{Index: share.Index, Location: location, Err: fmt.Errorf("%w: empty share", ErrMalformedShare)}
	}
	if share.Address != "" {
		if !common.IsHexAddress(share.Address) || common.HexToAddress(share.Address) != rec.Address {
			return nil, &ShareError{Index: share.Index, Location: location, Err: ErrAddressMismatch}
		}
	}
	return &LoadedShare{Index: share.Index, Location: location, ciphertext: share.Share}, nil
}

func encodeShare(index int, plain []byte, password string, addr common.Address) ([]byte, error) {
	ciphertext, err := sharecipher.Encrypt(plain, password)
	if err != nil {
		return nil, fmt.Errorf("fail to encrypt share, err: %w", err)
	}
	data, err := json.Marshal(EncryptedShare{Index: index, Share: ciphertext, Address: addr.Hex()})
	if err != nil {
		return nil, fmt.Errorf("fail to encode share, err: %w", err)
	}
	return data, nil
}

func checkDuplicate(loaded []*LoadedShare, share *LoadedShare) error {
	for _, prev := range loaded {
		if prev.Index == share.Index {
			return &ShareError{Index: share.Index, Location: share.Location, Err: ErrDuplicateShare}
		}
	}
	return nil
}

func (m *Manager) unlockShares(ctx context.Context, rec *Record, loaded []*LoadedShare) (*ecdsa.PrivateKey, error) {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return nil, err
	}
	set := make(sss.ShareSet, len(loaded))
	defer func() {
		for _, plain := range set {
			wipe(plain)
		}
	}()
	for _, share := range loaded {
		plain, err := sharecipher.Decrypt(share.ciphertext, share.password)
		if err != nil {
			return nil, &ShareError{Index: share.Index, Location: share.Location, Err: err}
		}
		set[byte(share.Index)] = plain
	}
	passphrase, err := sss.Join(set, rec.Threshold)
	if err != nil {
		return nil, err
	}
	defer wipe(passphrase)
	// Only the byte slice is wiped; the string handed to the wallet service
	// stays in memory until it is collected.
	return m.decryptWallet(ctx, rec, string(passphrase))
}

func (m *Manager) decryptWallet(ctx context.Context, rec *Record, passphrase string) (*ecdsa.PrivateKey, error) {
	key, err := m.wallet.DecryptAccount(ctx, rec.Wallet, passphrase)
	if err != nil {
		if errors.Is(err, wallet.ErrPasswordMismatch) {
			return nil, ErrWalletDecryptFailed
		}
		return nil, fmt.Errorf("fail to decrypt wallet, err: %w", err)
	}
	if addr := crypto.PubkeyToAddress(key.PublicKey); addr != rec.Address {
		return nil, fmt.Errorf("%w: wallet holds %s, record names %s", ErrAddressMismatch, addr.Hex(), rec.Address.Hex())
	}
	m.logger.WithField("address", rec.Address.Hex()).Info("keystore unlocked")
	return key, nil
}

// wipe zeroes b. Copies made from b, such as strings, are not affected.
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
