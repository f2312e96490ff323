package common

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize         = 8
	pbkdf2Iterations = 4096
	keySize          = 32
)

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	padtext := bytes.Repeat([]byte{byte(padding)}, padding)
	return append(data, padtext...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	length := len(data)
	if length == 0 {
		return nil, fmt.Errorf("input data length must be greater than zero")
	}
	padding := int(data[length-1])
	if padding == 0 || padding > blockSize || padding > length {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[length-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:length-padding], nil
}

// Encrypt seals src under a key derived from password with PBKDF2. The salt
// is carried in the first bytes of the IV.
func Encrypt(password string, src []byte) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("fail to generate salt: %w", err)
	}
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("fail to create cipher: %w", err)
	}
	srcBytes := pkcs7Pad(append([]byte(nil), src...), block.BlockSize())
	ciphertext := make([]byte, aes.BlockSize+len(srcBytes))
	iv := ciphertext[:aes.BlockSize]
	copy(iv, salt)
	if _, err := io.ReadFull(rand.Reader, iv[len(salt):]); err != nil {
		return "", fmt.Errorf("fail to generate random iv: %w", err)
	}
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ciphertext[aes.BlockSize:], srcBytes)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func Decrypt(password string, src string) ([]byte, error) {
	ciphertextDec, err := base64.StdEncoding.DecodeString(src)
	if err != nil {
		return nil, err
	}

	if len(ciphertextDec) < aes.BlockSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	iv := ciphertextDec[:aes.BlockSize]
	salt := iv[:saltSize]
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("fail to create cipher: %w", err)
	}
	ciphertextDec = ciphertextDec[aes.BlockSize:]
	if len(ciphertextDec) == 0 || len(ciphertextDec)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext is not a multiple of the block size")
	}

	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(ciphertextDec, ciphertextDec)

	plaintext, err := pkcs7Unpad(ciphertextDec, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("fail to unpad plaintext: %w", err)
	}
	return plaintext, nil
}

func CompressData(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("fail to create xz writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("fail to compress data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("fail to close xz writer: %w", err)
	}
	return buf.Bytes(), nil
}

func DecompressData(data []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("fail to create xz reader: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("fail to decompress data: %w", err)
	}
	return out, nil
}
