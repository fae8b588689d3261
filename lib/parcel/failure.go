// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package parcel

import (
	"errors"
	"fmt"
	"sync"

	"github.com/strata-fs/strata/lib/provider"
)

// ErrAlreadySet is returned by Failure.Set after a failure was
// recorded.
var ErrAlreadySet = errors.New("parcel: failure already set")

// Failure is the write-once error half of a reply. The zero value
// holds no error.
type Failure struct {
	Present bool          `cbor:"present"`
	Kind    provider.Kind `cbor:"kind"`
	Op      string        `cbor:"op,omitempty"`
	Path    string        `cbor:"path,omitempty"`
	Other   string        `cbor:"other,omitempty"`
	Message string        `cbor:"message,omitempty"`

	mu sync.Mutex
}

// Set records err. A nil err records nothing. Fails with ErrAlreadySet
// if a failure is already recorded; the first one is kept.
func (f *Failure) Set(err error) error {
	if err == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Present {
		return ErrAlreadySet
	}

	f.Present = true
	f.Kind = provider.KindOf(err)
	var providerError *provider.Error
	if errors.As(err, &providerError) {
		f.Op = providerError.Op
		f.Path = providerError.Path
		f.Other = providerError.Other
		if providerError.Err != nil {
			f.Message = providerError.Err.Error()
		}
		return nil
	}
	f.Message = err.Error()
	return nil
}

// IsSet reports whether a failure is recorded.
func (f *Failure) IsSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Present
}

// Err returns nil if no failure is recorded, or a *provider.Error
// rebuilt from the recorded one.
func (f *Failure) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Present {
		return nil
	}
	rebuilt := &provider.Error{Op: f.Op, Path: f.Path, Other: f.Other, Kind: f.Kind}
	switch {
	case f.Message != "":
		rebuilt.Err = errors.New(f.Message)
	case f.Kind.Sentinel() != nil:
		rebuilt.Err = f.Kind.Sentinel()
	}
	if rebuilt.Op == "" {
		rebuilt.Op = "remote"
	}
	return rebuilt
}

func (f *Failure) String() string {
	if err := f.Err(); err != nil {
		return err.Error()
	}
	return "no failure"
}

// Reply is the payload of every forwarded provider action: a result,
// or a failure.
type Reply[T any] struct {
	Result  *Value[T] `cbor:"result,omitempty"`
	Failure *Failure  `cbor:"failure,omitempty"`
}

// Pack builds the reply for a handler's return values. A non-nil err
// wins over result.
func Pack[T any](result T, err error) (*Reply[T], error) {
	if err != nil {
		failure := &Failure{}
		failure.Set(err)
		return &Reply[T]{Failure: failure}, nil
	}
	value, err := NewValue(result)
	if err != nil {
		return nil, fmt.Errorf("packing reply: %w", err)
	}
	return &Reply[T]{Result: value}, nil
}

// Unpack rethrows the failure, if any, and otherwise takes the result.
func (r *Reply[T]) Unpack() (T, error) {
	var zero T
	if r.Failure != nil {
		if err := r.Failure.Err(); err != nil {
			return zero, err
		}
	}
	if r.Result == nil {
		return zero, nil
	}
	return r.Result.Take()
}
