// Package sharecipher encrypts individual key shares under a user password.
//
// The cipher is AES-128 in CTR mode keyed by the first 16 bytes of
// Keccak-256(password), with the counter starting at 1. This is the layout
// share files written by the JavaScript keystore tool use. There is no
// authentication tag: decrypting with the wrong password returns garbage of
// the same length and never fails. Callers detect a bad password further up,
// when the reconstructed secret does not open the wallet.
package sharecipher

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// KeySize is the AES-128 key length produced by DeriveKey.
const KeySize = 16

// initialCounter is the fixed CTR starting block (big-endian 1).
var initialCounter = [aes.BlockSize]byte{15: 1}

// DeriveKey hashes password into a KeySize key.
func DeriveKey(password string) []byte {
	return crypto.Keccak256([]byte(password))[:KeySize]
}

// Encrypt returns plaintext XORed with the keystream for password.
func Encrypt(plaintext []byte, password string) ([]byte, error) {
	return xorKeyStream(plaintext, password)
}

// Decrypt is the inverse of Encrypt. A wrong password is not reported.
func Decrypt(ciphertext []byte, password string) ([]byte, error) {
	return xorKeyStream(ciphertext, password)
}

func xorKeyStream(in []byte, password string) ([]byte, error) {
	key := DeriveKey(password)
	defer func() {
		for i := range key {
			key[i] = 0
		}
	}()
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("fail to create cipher, err: %w", err)
	}
	iv := initialCounter
	out := make([]byte, len(in))
	cipher.NewCTR(block, iv[:]).XORKeyStream(out, in)
	return out, nil
}
