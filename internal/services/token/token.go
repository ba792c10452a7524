// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package token issues the opaque one-time tokens used for email
// verification and password resets.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Length is the number of random bytes in a token (256 bits).
const Length = 32

// New generates a token. It returns the plaintext that is mailed to the user
// and the SHA-256 digest that is stored.
func New() (plaintext, digest string, err error) {
	b := make([]byte, Length)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	plaintext = hex.EncodeToString(b)
	return plaintext, Digest(plaintext), nil
}

// Digest computes the SHA-256 hash of a token.
func Digest(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Valid reports whether s has the shape of a token produced by New.
func Valid(s string) bool {
	if len(s) != hex.EncodedLen(Length) {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
