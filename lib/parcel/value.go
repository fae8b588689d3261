// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package parcel

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/strata-fs/strata/lib/codec"
)

// ErrConsumed is returned by Value.Take after the value was taken.
var ErrConsumed = errors.New("parcel: value already taken")

// Value is a CBOR-encoded payload of type T that can be taken once.
// The zero value holds no payload; taking it yields the zero T.
type Value[T any] struct {
	Payload codec.RawMessage `cbor:"payload,omitempty"`

	taken atomic.Bool
}

// NewValue encodes v.
func NewValue[T any](v T) (*Value[T], error) {
	payload, err := codec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", v, err)
	}
	return &Value[T]{Payload: payload}, nil
}

// Take decodes the payload. The second and later calls fail with
// ErrConsumed.
func (v *Value[T]) Take() (T, error) {
	var result T
	if !v.taken.CompareAndSwap(false, true) {
		return result, ErrConsumed
	}
	if len(v.Payload) == 0 {
		return result, nil
	}
	if err := codec.Unmarshal(v.Payload, &result); err != nil {
		return result, fmt.Errorf("decoding %T: %w", result, err)
	}
	return result, nil
}

// Taken reports whether Take has been called.
func (v *Value[T]) Taken() bool {
	return v.taken.Load()
}
