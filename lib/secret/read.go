// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// TokenBytes is the entropy of a session token minted by NewToken.
const TokenBytes = 32

// NewToken mints a random session token, hex-encoded so it travels as
// one line of text.
func NewToken() (*Buffer, error) {
	raw := make([]byte, TokenBytes)
	defer Zero(raw)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generating session token: %w", err)
	}
	encoded := make([]byte, hex.EncodedLen(len(raw)))
	hex.Encode(encoded, raw)
	return NewFromBytes(encoded)
}

// Read reads one line from reader as a secret. Surrounding whitespace
// is trimmed; an empty line is an error.
func Read(reader io.Reader) (*Buffer, error) {
	scanner := bufio.NewScanner(reader)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading secret: %w", err)
		}
		return nil, fmt.Errorf("secret is empty")
	}
	return fromLine(scanner.Bytes())
}

// ReadFromPath reads a secret from the file at path, or one line from
// stdin if path is "-".
func ReadFromPath(path string) (*Buffer, error) {
	if path == "-" {
		return Read(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return fromLine(data)
}

func fromLine(data []byte) (*Buffer, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		Zero(data)
		return nil, fmt.Errorf("secret is empty")
	}
	buffer, err := NewFromBytes(trimmed)
	Zero(data)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}
