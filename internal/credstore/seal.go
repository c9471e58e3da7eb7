package credstore

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Sealing parameters.
const (
	keyLen  = 32
	saltLen = 16

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
)

// box seals/opens the serialized slot payload with a passphrase-derived key.
// File layout: salt || nonce || ciphertext.
type box struct {
	passphrase []byte
}

func newBox(passphrase []byte) *box {
	return &box{passphrase: append([]byte(nil), passphrase...)}
}

func (b *box) key(salt []byte) []byte {
	return argon2.IDKey(b.passphrase, salt, argonTime, argonMemory, argonThreads, keyLen)
}

func (b *box) seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(b.key(salt))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, saltLen+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plaintext, nil)...)
	return out, nil
}

func (b *box) open(sealed []byte) ([]byte, error) {
	if len(sealed) < saltLen+chacha20poly1305.NonceSizeX {
		return nil, errors.New("sealed payload too short")
	}
	salt := sealed[:saltLen]
	nonce := sealed[saltLen : saltLen+chacha20poly1305.NonceSizeX]
	ct := sealed[saltLen+chacha20poly1305.NonceSizeX:]
	aead, err := chacha20poly1305.NewX(b.key(salt))
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ct, nil)
}
