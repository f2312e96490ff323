package keystore

import (
	"fmt"

	"github.com/vultisig/sharekeeper/internal/sss"
)

// Policy describes how a keystore is protected. With SplitCount 1 the wallet
// blob is encrypted under Passwords[0]. Otherwise a random passphrase is split
// into SplitCount shares, Threshold of which recover it; share i is encrypted
// under Passwords[i] and stored under Locations[i].
type Policy struct {
	SplitCount int
	Threshold  int
	Passwords  []string
	Locations  []string
}

func (p Policy) IsSplit() bool {
	return p.SplitCount > 1
}

func (p Policy) Validate() error {
	if err := sss.ValidatePolicy(p.SplitCount, p.Threshold); err != nil {
		return err
	}
	if !p.IsSplit() {
		if len(p.Passwords) != 1 || p.Passwords[0] == "" {
			return fmt.Errorf("%w: single-password keystore needs exactly one password", ErrInvalidPolicy)
		}
		return nil
	}
	if len(p.Passwords) != p.SplitCount {
		return fmt.Errorf("%w: %d passwords for %d shares", ErrInvalidPolicy, len(p.Passwords), p.SplitCount)
	}
	if len(p.Locations) != p.SplitCount {
		return fmt.Errorf("%w: %d locations for %d shares", ErrInvalidPolicy, len(p.Locations), p.SplitCount)
	}
	seen := make(map[string]int, len(p.Locations))
	for i, loc := range p.Locations {
		if p.Passwords[i] == "" {
			return fmt.Errorf("%w: share %d has an empty password", ErrInvalidPolicy, i+1)
		}
		if loc == "" {
			return fmt.Errorf("%w: share %d has no location", ErrInvalidPolicy, i+1)
		}
		if prev, ok := seen[loc]; ok {
			return fmt.Errorf("%w: shares %d and %d share location %s", ErrInvalidPolicy, prev, i+1, loc)
		}
		seen[loc] = i + 1
	}
	return nil
}

// Credential unlocks a keystore: Password for a single-password keystore,
// or at least Threshold Shares for a split one.
type Credential struct {
	Password string
	Shares   []ShareCredential
}

// ShareCredential names one share by location (the share file itself or the
// directory holding it) and the password it was encrypted with.
type ShareCredential struct {
	Location string
	Password string
}
