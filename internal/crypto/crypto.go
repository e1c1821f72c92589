// Package crypto obscures Host secrets (password, passphrase) at rest.
// This is not meant to be secure encryption, only obscuration — the same
// contract rclone's own config file keeps for remote passwords.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// EncryptionAdapter obscures and reveals Host secrets before they touch
// disk via internal/store. A future implementation could back this with
// an OS keyring; IsAvailable lets callers detect that at runtime instead
// of failing deep inside a store write.
type EncryptionAdapter interface {
	Obscure(plaintext string) (string, error)
	Reveal(obscured string) (string, error)
	IsAvailable() bool
}

// obscureKey is rclone's published obscure key, kept for wire
// compatibility with the object-store driver's own .conf files.
var obscureKey = []byte{
	0x9c, 0x93, 0x5b, 0x48, 0x73, 0x0a, 0x55, 0x4d,
	0x6b, 0xfd, 0x7c, 0x63, 0xc8, 0x86, 0xa9, 0x2b,
	0xd3, 0x90, 0x19, 0x8e, 0xb8, 0x12, 0x8a, 0xfb,
	0xf4, 0xde, 0x16, 0x2b, 0x8b, 0x95, 0xf6, 0x38,
}

// AESGCMAdapter is the default EncryptionAdapter, compatible with rclone's
// own password obscuring scheme.
type AESGCMAdapter struct{}

// NewAESGCMAdapter returns the default EncryptionAdapter.
func NewAESGCMAdapter() *AESGCMAdapter { return &AESGCMAdapter{} }

func (a *AESGCMAdapter) IsAvailable() bool { return true }

func (a *AESGCMAdapter) Obscure(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(obscureKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(ciphertext), nil
}

func (a *AESGCMAdapter) Reveal(obscured string) (string, error) {
	if obscured == "" {
		return "", nil
	}

	ciphertext, err := base64.RawURLEncoding.DecodeString(obscured)
	if err != nil {
		return "", fmt.Errorf("decode obscured value: %w", err)
	}

	block, err := aes.NewCipher(obscureKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("obscured value too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("reveal obscured value: %w", err)
	}

	return string(plaintext), nil
}
