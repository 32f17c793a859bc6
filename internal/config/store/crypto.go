package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	keySize     = 32 // AES-256
	keyFileName = ".devices.key"
	// encPrefix marks encrypted values in the database.
	encPrefix = "enc:v1:"
)

func keyPath(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), keyFileName)
}

// loadOrCreateKey reads the encryption key next to the database,
// generating a fresh one on first use. The key file is mode 0600.
func loadOrCreateKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != keySize {
			return nil, fmt.Errorf("store: key at %s has size %d, expected %d", path, len(data), keySize)
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("store: read encryption key: %w", err)
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("store: generate encryption key: %w", err)
	}

	// Write-then-link so concurrent first opens agree on one key:
	// os.Link fails with EEXIST when another process won the race.
	tmp, err := os.CreateTemp(filepath.Dir(path), keyFileName+".tmp.*")
	if err != nil {
		return nil, fmt.Errorf("store: create key temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(key); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("store: write key temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("store: chmod key temp file: %w", err)
	}
	tmp.Close()

	if err := os.Link(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		if os.IsExist(err) {
			return loadOrCreateKey(path)
		}
		return nil, fmt.Errorf("store: link encryption key: %w", err)
	}
	os.Remove(tmpPath)
	return key, nil
}

// encryptValue seals a plaintext with AES-256-GCM and tags it with the
// storage prefix.
func encryptValue(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// decryptValue reverses encryptValue. Values without the storage prefix
// are rejected.
func decryptValue(key []byte, stored string) (string, error) {
	if !strings.HasPrefix(stored, encPrefix) {
		return "", fmt.Errorf("store: value is not encrypted (missing %s prefix)", encPrefix)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, encPrefix))
	if err != nil {
		return "", fmt.Errorf("store: decode encrypted value: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("store: encrypted value too short")
	}
	plaintext, err := gcm.Open(nil, data[:gcm.NonceSize()], data[gcm.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("store: decrypt value: %w", err)
	}
	return string(plaintext), nil
}
