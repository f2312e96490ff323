// Package wallet holds account key material: generation, the encrypted
// keystore blob and transaction-hash signing.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/sharekeeper/contexthelper"
	"github.com/vultisig/sharekeeper/internal/txcodec"
)

var (
	// ErrPasswordMismatch is returned when a blob does not decrypt under the
	// given passphrase.
	ErrPasswordMismatch = errors.New("wallet passphrase mismatch")
	ErrMalformedBlob    = errors.New("malformed wallet blob")
)

type Service interface {
	CreateAccount(ctx context.Context) (*ecdsa.PrivateKey, error)
	EncryptAccount(ctx context.Context, key *ecdsa.PrivateKey, passphrase string) ([]byte, error)
	DecryptAccount(ctx context.Context, blob []byte, passphrase string) (*ecdsa.PrivateKey, error)
	Sign(ctx context.Context, key *ecdsa.PrivateKey, hash common.Hash) (*txcodec.Signature, error)
}

// GethService stores keys in the go-ethereum v3 keystore format.
type GethService struct {
	scryptN int
	scryptP int
	logger  *logrus.Entry
}

// NewGethService returns a service using the standard scrypt cost, or the
// light cost when light is set.
func NewGethService(light bool) *GethService {
	s := &GethService{
		scryptN: keystore.StandardScryptN,
		scryptP: keystore.StandardScryptP,
		logger:  logrus.WithField("service", "wallet"),
	}
	if light {
		s.scryptN = keystore.LightScryptN
		s.scryptP = keystore.LightScryptP
	}
	return s
}

func (s *GethService) CreateAccount(ctx context.Context) (*ecdsa.PrivateKey, error) {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return nil, err
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("fail to generate account key, err: %w", err)
	}
	s.logger.WithField("address", crypto.PubkeyToAddress(key.PublicKey).Hex()).Info("account created")
	return key, nil
}

func (s *GethService) EncryptAccount(ctx context.Context, key *ecdsa.PrivateKey, passphrase string) ([]byte, error) {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return nil, err
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("fail to generate key id, err: %w", err)
	}
	blob, err := keystore.EncryptKey(&keystore.Key{
		Id:         id,
		Address:    crypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: key,
	}, passphrase, s.scryptN, s.scryptP)
	if err != nil {
		return nil, fmt.Errorf("fail to encrypt account, err: %w", err)
	}
	return blob, nil
}

func (s *GethService) DecryptAccount(ctx context.Context, blob []byte, passphrase string) (*ecdsa.PrivateKey, error) {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return nil, err
	}
	key, err := keystore.DecryptKey(blob, passphrase)
	if err != nil {
		if errors.Is(err, keystore.ErrDecrypt) {
			return nil, ErrPasswordMismatch
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedBlob, err)
	}
	return key.PrivateKey, nil
}

func (s *GethService) Sign(ctx context.Context, key *ecdsa.PrivateKey, hash common.Hash) (*txcodec.Signature, error) {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return nil, err
	}
	raw, err := crypto.Sign(hash.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("fail to sign hash, err: %w", err)
	}
	return txcodec.SignatureFromBytes(raw)
}

// Recover returns the address whose key produced sig over hash.
func Recover(hash common.Hash, sig *txcodec.Signature) (common.Address, error) {
	raw, err := sig.Bytes()
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(hash.Bytes(), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("fail to recover public key, err: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// BlobAddress reads the address recorded in a keystore blob without
// decrypting it.
func BlobAddress(blob []byte) (common.Address, error) {
	var header struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(blob, &header); err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrMalformedBlob, err)
	}
	if !common.IsHexAddress(header.Address) {
		return common.Address{}, fmt.Errorf("%w: missing address", ErrMalformedBlob)
	}
	return common.HexToAddress(header.Address), nil
}
