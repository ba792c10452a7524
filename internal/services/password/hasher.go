// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package password

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// ErrEmptyPassword is returned when an empty plaintext is handed to Hash.
var ErrEmptyPassword = errors.New("password is empty")

// dummyHash is compared against when no user exists so that misses cost the
// same as wrong passwords.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), bcrypt.DefaultCost)

// Observer receives the duration of every hash or compare call.
type Observer func(op string, d time.Duration)

// Hasher wraps bcrypt and bounds how many hash operations run at once.
type Hasher struct {
	sem     *semaphore.Weighted
	observe Observer
	cost    int
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithObserver reports hash timings, e.g. to a metrics histogram.
func WithObserver(o Observer) Option {
	return func(h *Hasher) {
		h.observe = o
	}
}

// NewHasher creates a hasher with the given bcrypt cost and worker bound.
// Invalid values fall back to bcrypt.DefaultCost and runtime.NumCPU().
func NewHasher(cost, workers int, opts ...Option) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	h := &Hasher{
		cost: cost,
		sem:  semaphore.NewWeighted(int64(workers)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Cost returns the configured bcrypt work factor.
func (h *Hasher) Cost() int {
	return h.cost
}

// Hash returns the bcrypt digest of plain.
func (h *Hasher) Hash(ctx context.Context, plain string) (string, error) {
	if plain == "" {
		return "", ErrEmptyPassword
	}

	var digest []byte
	err := h.run(ctx, "hash", func() error {
		var err error
		digest, err = bcrypt.GenerateFromPassword([]byte(plain), h.cost)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	return string(digest), nil
}

// Compare reports whether plain matches hash. A cancelled context counts as
// a mismatch.
func (h *Hasher) Compare(ctx context.Context, hash, plain string) bool {
	err := h.run(ctx, "compare", func() error {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
	})
	return err == nil
}

// CompareDummy burns one comparison against a fixed digest.
func (h *Hasher) CompareDummy(ctx context.Context, plain string) {
	_ = h.run(ctx, "compare", func() error {
		return bcrypt.CompareHashAndPassword(dummyHash, []byte(plain))
	})
}

func (h *Hasher) run(ctx context.Context, op string, fn func() error) error {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer h.sem.Release(1)

	start := time.Now()
	err := fn()
	if h.observe != nil {
		h.observe(op, time.Since(start))
	}
	return err
}
