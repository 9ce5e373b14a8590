// Package vault seals secret values at rest with AES-256-GCM under a
// passphrase-derived key.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for key derivation.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4

	keyLen  = 32
	saltLen = 16
)

type Vault struct {
	key [keyLen]byte
}

// New derives the vault key from the passphrase. The same passphrase
// always yields the same key, so secrets sealed before a restart stay
// readable after it.
func New(passphrase string) *Vault {
	v := &Vault{}
	copy(v.key[:], deriveKey(passphrase))
	return v
}

// deriveKey stretches the passphrase with Argon2id. The salt is the
// truncated SHA-256 of the passphrase itself to keep derivation
// deterministic without storing anything alongside the key.
func deriveKey(passphrase string) []byte {
	salt := sha256.Sum256([]byte(passphrase))
	return argon2.IDKey([]byte(passphrase), salt[:saltLen], argonTime, argonMemory, argonThreads, keyLen)
}

func (v *Vault) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext under a fresh random nonce. The nonce must be
// stored with the ciphertext and handed back to Decrypt.
func (v *Vault) Encrypt(plaintext []byte) (ciphertext, nonce []byte, err error) {
	gcm, err := v.aead()
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	return gcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// Decrypt opens a ciphertext produced by Encrypt. A wrong passphrase or
// a tampered ciphertext fails GCM authentication.
func (v *Vault) Decrypt(ciphertext, nonce []byte) ([]byte, error) {
	gcm, err := v.aead()
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
