package keystore

import (
	"errors"
	"fmt"

	"github.com/vultisig/sharekeeper/internal/sss"
)

var (
	ErrInvalidPolicy           = sss.ErrInvalidPolicy
	ErrInsufficientShares      = sss.ErrInsufficientShares
	ErrInconsistentShareLength = sss.ErrInconsistentShareLength

	ErrStorageNotFound     = errors.New("keystore storage not found")
	ErrWalletDecryptFailed = errors.New("wallet decrypt failed")
	ErrAddressMismatch     = errors.New("share address does not match keystore")
	ErrDuplicateShare      = errors.New("share supplied twice")
	ErrMalformedShare      = errors.New("malformed share file")
	ErrMalformedRecord     = errors.New("malformed keystore record")
)

// ShareError reports which share input failed so the caller can retry just
// that one. Index is zero when the share file could not be read.
type ShareError struct {
	Index    int
	Location string
	Err      error
}

func (e *ShareError) Error() string {
	if e.Index == 0 {
		return fmt.Sprintf("share at %s: %v", e.Location, e.Err)
	}
	return fmt.Sprintf("share %d at %s: %v", e.Index, e.Location, e.Err)
}

func (e *ShareError) Unwrap() error {
	return e.Err
}
