// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// GenerateKey returns a new random signing key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("identity: generating key: %w", err)
	}
	return key, nil
}

// LoadKey reads a signing key file.
func LoadKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: reading key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("identity: key file %s has %d bytes, want %d", path, len(key), KeySize)
	}
	return key, nil
}

// LoadOrGenerateKey loads the key at path, or generates one and writes
// it with 0600 permissions if the file does not exist. A file that
// exists but cannot be used is an error, never silently replaced.
// Reports whether the key was newly generated.
func LoadOrGenerateKey(path string) ([]byte, bool, error) {
	key, err := LoadKey(path)
	if err == nil {
		return key, false, nil
	}
	if _, statErr := os.Stat(path); !errors.Is(statErr, fs.ErrNotExist) {
		return nil, false, err
	}

	key, err = GenerateKey()
	if err != nil {
		return nil, false, err
	}
	// O_EXCL: two processes starting together must not both win.
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, false, fmt.Errorf("identity: creating key file: %w", err)
	}
	if _, err := file.Write(key); err != nil {
		file.Close()
		return nil, false, fmt.Errorf("identity: writing key file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, false, fmt.Errorf("identity: closing key file: %w", err)
	}
	return key, true, nil
}
