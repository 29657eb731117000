/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package transport

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrNoClusterKey is returned when FlagEncrypted is requested but no
// cluster key was configured.
var ErrNoClusterKey = errors.New("transport: cluster_key not configured")

// FrameCipher seals and opens frame payloads with a cluster-wide
// pre-shared key (raft.cluster_key), so that a peer on an untrusted
// network cannot forge or read AppendEntries/RequestVote traffic.
type FrameCipher struct {
	aead cipher.AEAD
}

// NewFrameCipher derives a cipher from a hex-encoded 32-byte key.
func NewFrameCipher(hexKey string) (*FrameCipher, error) {
	if hexKey == "" {
		return nil, ErrNoClusterKey
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("transport: cluster_key is not valid hex: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("transport: cluster_key must decode to %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &FrameCipher{aead: aead}, nil
}

// Seal encrypts plaintext, prepending a freshly generated nonce.
func (c *FrameCipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a payload produced by Seal.
func (c *FrameCipher) Open(sealed []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(sealed) < ns {
		return nil, errors.New("transport: encrypted payload shorter than nonce")
	}
	nonce, ciphertext := sealed[:ns], sealed[ns:]
	return c.aead.Open(nil, nonce, ciphertext, nil)
}
