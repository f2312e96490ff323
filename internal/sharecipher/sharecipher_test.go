package sharecipher

import (
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey(t *testing.T) {
	key := DeriveKey("password")
	require.Len(t, key, KeySize)
	assert.Equal(t, crypto.Keccak256([]byte("password"))[:KeySize], key)
	assert.NotEqual(t, key, DeriveKey("Password"))
}

func TestEncryptDecrypt(t *testing.T) {
	sizes := []int{0, 1, 15, 16, 17, 64, 1000}
	passwords := []string{"", "pw", "correct horse battery staple", "비밀번호"}
	for _, size := range sizes {
		plaintext := make([]byte, size)
		_, err := rand.Read(plaintext)
		require.NoError(t, err)
		for _, pw := range passwords {
			ciphertext, err := Encrypt(plaintext, pw)
			require.NoError(t, err)
			require.Len(t, ciphertext, size)
			if size > 0 {
				assert.NotEqual(t, plaintext, ciphertext)
			}

			decrypted, err := Decrypt(ciphertext, pw)
			require.NoError(t, err)
			assert.Equal(t, plaintext, decrypted)
		}
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	share := []byte("3f1b9c7e0a5d2468ace13579bdf02468ace13579bdf02468ace13579bdf024")
	ciphertext, err := Encrypt(share, "first")
	require.NoError(t, err)

	garbage, err := Decrypt(ciphertext, "second")
	require.NoError(t, err, "wrong password must not be detected by the cipher")
	assert.Len(t, garbage, len(share))
	assert.NotEqual(t, share, garbage)
}

func TestEncryptIsDeterministic(t *testing.T) {
	a, err := Encrypt([]byte("share"), "pw")
	require.NoError(t, err)
	b, err := Encrypt([]byte("share"), "pw")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

// Share files written by the JavaScript keystore tool: key is
// Keccak-256(password)[:16], AES-128-CTR, counter 1.
func TestDecryptJavaScriptShare(t *testing.T) {
	ciphertext, err := hex.DecodeString("0bf6baf97d3c494f60ca8dd4bbd5260c30ac6614")
	require.NoError(t, err)

	plain, err := Decrypt(ciphertext, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef0123", string(plain))

	again, err := Encrypt(plain, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, ciphertext, again)
}
