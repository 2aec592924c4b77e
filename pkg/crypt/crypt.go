package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"io"
	"math/big"

	"github.com/pkg/errors"
)

// DecodeKey decodes a base64 AES key as it appears in the configuration.
func DecodeKey(encKey string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encKey)
	if err != nil {
		return nil, errors.Wrap(err, "error decoding encryption key")
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	}
	return nil, errors.Errorf("encryption key must be 16, 24 or 32 bytes, got %d", len(key))
}

// Encrypt seals message with AES-GCM and returns nonce|ciphertext URL-safe base64 encoded.
func Encrypt(key []byte, message string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(message), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Tampered values fail.
func Decrypt(key []byte, securemess string) (string, error) {
	cipherText, err := base64.URLEncoding.DecodeString(securemess)
	if err != nil {
		return "", err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	if len(cipherText) < gcm.NonceSize()+gcm.Overhead() {
		return "", errors.New("ciphertext is too short")
	}
	nonce, sealed := cipherText[:gcm.NonceSize()], cipherText[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errors.Wrap(err, "error decrypting")
	}
	return string(plain), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// MD5 hashes the concatenation of parts and returns it hex encoded.
func MD5(parts ...string) string {
	h := md5.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func RandomString(length int, useLetters, useDigits bool) (string, error) {
	var runes string
	if useLetters {
		runes += "abcdefghijklmnopqrstuvwxyz"
	}
	if useDigits {
		runes += "0123456789"
	}

	if runes == "" {
		return "", errors.New("at least letters or numbers should be specified")
	}
	ret := make([]byte, length)
	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(runes))))
		if err != nil {
			return "", err
		}
		ret[i] = runes[num.Int64()]
	}
	return string(ret), nil
}
