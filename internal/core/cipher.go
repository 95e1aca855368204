package core

// cipher.go implements the payload encryption shared by export and import:
// AES-256-CBC with PKCS7 padding, a random 16-byte IV, and a key derived as
// sha256(passphrase). Ciphertext and IV travel as standard base64.

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

var errBadPadding = errors.New("invalid PKCS7 padding")

func deriveKey(passphrase string) []byte {
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:]
}

// EncryptPayload encrypts plaintext and returns base64 ciphertext and IV.
func EncryptPayload(plaintext, passphrase string) (ciphertext, iv string, err error) {
	ivBytes := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, ivBytes); err != nil {
		return "", "", fmt.Errorf("generate iv: %w", err)
	}
	return encryptWithIV([]byte(plaintext), passphrase, ivBytes)
}

func encryptWithIV(plaintext []byte, passphrase string, iv []byte) (string, string, error) {
	block, err := aes.NewCipher(deriveKey(passphrase))
	if err != nil {
		return "", "", fmt.Errorf("create cipher: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return base64.StdEncoding.EncodeToString(out), base64.StdEncoding.EncodeToString(iv), nil
}

// DecryptPayload reverses EncryptPayload. Any failure wraps ErrDecryptionFailed.
func DecryptPayload(ciphertext, iv, passphrase string) (string, error) {
	ivBytes, err := decodeBase64(iv)
	if err != nil {
		return "", fmt.Errorf("%w: decode iv: %v", ErrDecryptionFailed, err)
	}
	if len(ivBytes) != aes.BlockSize {
		return "", fmt.Errorf("%w: iv must be %d bytes, got %d", ErrDecryptionFailed, aes.BlockSize, len(ivBytes))
	}

	data, err := decodeBase64(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decode ciphertext: %v", ErrDecryptionFailed, err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d is not a multiple of the block size", ErrDecryptionFailed, len(data))
	}

	block, err := aes.NewCipher(deriveKey(passphrase))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, ivBytes).CryptBlocks(out, data)

	plain, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plain), nil
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, errBadPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, errBadPadding
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errBadPadding
		}
	}
	return b[:len(b)-n], nil
}

// decodeBase64 accepts standard or URL-safe base64, padded or not, and
// ignores embedded whitespace from line-wrapped blocks.
func decodeBase64(s string) ([]byte, error) {
	s = stripWhitespace(s)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("invalid base64")
}

func stripWhitespace(s string) string {
	var b bytes.Buffer
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
