package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/pbkdf2"
)

// Sealed object framing: 16-byte salt, 12-byte nonce, then the GCM
// ciphertext. The key is derived from the passphrase with PBKDF2-SHA256.
const (
	saltSize   = 16
	nonceSize  = 12
	pbkdf2Iter = 100_000
	keySize    = 32
)

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iter, keySize, sha256.New)
}

func seal(plaintext []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, saltSize+nonceSize+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

func open(sealed []byte, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("sealed object but no passphrase configured")
	}
	if len(sealed) < saltSize+nonceSize {
		return nil, errors.New("sealed object too short")
	}
	salt := sealed[:saltSize]
	nonce := sealed[saltSize : saltSize+nonceSize]
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, sealed[saltSize+nonceSize:], nil)
}
