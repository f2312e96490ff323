package keystore

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// MaxAttempts bounds how often one input is re-prompted after a failure.
const MaxAttempts = 3

// Prompter collects credentials from a user. Implementations return
// ctx.Err() when the user aborts.
type Prompter interface {
	Password(ctx context.Context, label string) (string, error)
	Location(ctx context.Context, label string) (string, error)
}

// UnlockInteractive gathers credentials through p and unlocks rec. A share
// that cannot be read is asked for again on its own; a passphrase the wallet
// rejects sends the user back over the share passwords.
func (m *Manager) UnlockInteractive(ctx context.Context, rec *Record, p Prompter) (*ecdsa.PrivateKey, error) {
	if !rec.IsSplit() {
		return m.unlockPasswordInteractive(ctx, rec, p)
	}

	loaded := make([]*LoadedShare, 0, rec.Threshold)
	for len(loaded) < rec.Threshold {
		share, err := m.promptShare(ctx, rec, p, len(loaded)+1, loaded)
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, share)
	}

	for attempt := 1; ; attempt++ {
		key, err := m.unlockShares(ctx, rec, loaded)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, ErrWalletDecryptFailed) || attempt == MaxAttempts {
			return nil, err
		}
		m.logger.WithField("address", rec.Address.Hex()).Warn("recovered passphrase rejected, re-enter share passwords")
		for i, share := range loaded {
			pw, err := p.Password(ctx, fmt.Sprintf("password for share %d (%s)", share.Index, share.Location))
			if err != nil {
				return nil, err
			}
			loaded[i].password = pw
		}
	}
}

func (m *Manager) unlockPasswordInteractive(ctx context.Context, rec *Record, p Prompter) (*ecdsa.PrivateKey, error) {
	for attempt := 1; ; attempt++ {
		pw, err := p.Password(ctx, fmt.Sprintf("password for %s", rec.Address.Hex()))
		if err != nil {
			return nil, err
		}
		key, err := m.decryptWallet(ctx, rec, pw)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, ErrWalletDecryptFailed) || attempt == MaxAttempts {
			return nil, err
		}
		m.logger.WithField("address", rec.Address.Hex()).Warn("wrong password")
	}
}

// promptShare asks for the n-th share until one loads or attempts run out.
func (m *Manager) promptShare(ctx context.Context, rec *Record, p Prompter, n int, loaded []*LoadedShare) (*LoadedShare, error) {
	for attempt := 1; ; attempt++ {
		location, err := p.Location(ctx, fmt.Sprintf("location of share %d of %d", n, rec.Threshold))
		if err != nil {
			return nil, err
		}
		share, err := m.LoadShare(ctx, rec, location)
		if err == nil {
			err = checkDuplicate(loaded, share)
		}
		if err != nil {
			var shareErr *ShareError
			if !errors.As(err, &shareErr) || attempt == MaxAttempts {
				return nil, err
			}
			m.logger.WithFields(logrus.Fields{
				"index":    shareErr.Index,
				"location": shareErr.Location,
			}).WithError(shareErr.Err).Warn("share rejected, try again")
			continue
		}
		pw, err := p.Password(ctx, fmt.Sprintf("password for share %d (%s)", share.Index, share.Location))
		if err != nil {
			return nil, err
		}
		share.password = pw
		return share, nil
	}
}
