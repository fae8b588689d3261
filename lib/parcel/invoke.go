// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package parcel

import (
	"context"
	"fmt"

	"github.com/strata-fs/strata/lib/codec"
)

// Invoker performs one round trip to the process owning a handle. It
// returns the CBOR encoding of a Reply. Transport failures are returned
// as errors; failures of the operation itself travel inside the reply.
type Invoker interface {
	Invoke(ctx context.Context, action string, fields map[string]any) (codec.RawMessage, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, action string, fields map[string]any) (codec.RawMessage, error)

func (f InvokerFunc) Invoke(ctx context.Context, action string, fields map[string]any) (codec.RawMessage, error) {
	return f(ctx, action, fields)
}

// Call invokes action and unpacks the reply as a T.
func Call[T any](ctx context.Context, invoker Invoker, action string, fields map[string]any) (T, error) {
	var zero T
	raw, err := invoker.Invoke(ctx, action, fields)
	if err != nil {
		return zero, err
	}
	var reply Reply[T]
	if err := codec.Unmarshal(raw, &reply); err != nil {
		return zero, fmt.Errorf("decoding %s reply: %w", action, err)
	}
	return reply.Unpack()
}
