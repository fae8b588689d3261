// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/strata-fs/strata/lib/fspath"
)

// Router maps schemes to providers. It is the provider dispatch step
// between a path and the backend serving it. A Router is an explicit
// object: each composition root (and each test) builds its own.
type Router struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRouter returns a router serving the given providers.
func NewRouter(providers ...Provider) (*Router, error) {
	router := &Router{providers: make(map[string]Provider)}
	for _, provider := range providers {
		if err := router.Register(provider); err != nil {
			return nil, err
		}
	}
	return router, nil
}

// Register adds a provider. Fails if its scheme is already served.
func (r *Router) Register(provider Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	scheme := provider.Scheme()
	if _, exists := r.providers[scheme]; exists {
		return fmt.Errorf("registering provider: scheme %q already registered", scheme)
	}
	r.providers[scheme] = provider
	return nil
}

// Lookup returns the provider for scheme, failing with ErrUnsupported
// if none is registered.
func (r *Router) Lookup(scheme string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.providers[scheme]
	if !ok {
		return nil, &Error{Op: "lookup", Path: scheme, Kind: KindUnsupported, Err: fmt.Errorf("no provider for scheme %q", scheme)}
	}
	return provider, nil
}

// For returns the provider serving path's scheme.
func (r *Router) For(path fspath.Path) (Provider, error) {
	return r.Lookup(path.Key().Scheme)
}

// Schemes returns the registered schemes in sorted order.
func (r *Router) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemes := make([]string, 0, len(r.providers))
	for scheme := range r.providers {
		schemes = append(schemes, scheme)
	}
	sort.Strings(schemes)
	return schemes
}

// OpenChannel opens path for reading through its provider.
func (r *Router) OpenChannel(ctx context.Context, path fspath.Path) (Channel, error) {
	provider, err := r.For(path)
	if err != nil {
		return nil, err
	}
	return provider.OpenChannel(ctx, path, OpenRead)
}

// Copy copies source to target. Within one scheme the provider's own
// Copy runs; across schemes the bytes are streamed from one provider to
// the other.
func (r *Router) Copy(ctx context.Context, source, target fspath.Path, options CopyOptions) error {
	from, err := r.For(source)
	if err != nil {
		return err
	}
	to, err := r.For(target)
	if err != nil {
		return err
	}
	if from == to {
		return from.Copy(ctx, source, target, options)
	}
	return CopyAcross(ctx, from, source, to, target, options)
}

// Move moves source to target. Across schemes it is a copy followed by
// deleting source; a failed copy leaves source in place.
func (r *Router) Move(ctx context.Context, source, target fspath.Path, options CopyOptions) error {
	from, err := r.For(source)
	if err != nil {
		return err
	}
	to, err := r.For(target)
	if err != nil {
		return err
	}
	if from == to {
		return from.Move(ctx, source, target, options)
	}
	if err := CopyAcross(ctx, from, source, to, target, options); err != nil {
		return err
	}
	return from.Delete(ctx, source)
}

// CopyAcross copies one entry between providers using only the
// contract: directories become empty directories, symbolic links are
// recreated when options.Link is NoFollowLinks, and everything else is
// streamed.
func CopyAcross(ctx context.Context, from Provider, source fspath.Path, to Provider, target fspath.Path, options CopyOptions) error {
	attributes, err := from.ReadAttributes(ctx, source, options.Link)
	if err != nil {
		return err
	}

	if options.ReplaceExisting {
		if err := to.Delete(ctx, target); err != nil && !errors.Is(err, ErrNotFound) {
			return NewLinkError("copy", source, target, err)
		}
	}

	switch attributes.Type {
	case TypeDirectory:
		if err := to.CreateDirectory(ctx, target, attributes.Mode.Perm()|0o700); err != nil {
			return err
		}
	case TypeSymlink:
		linkTarget, err := from.ReadSymlinkTarget(ctx, source)
		if err != nil {
			return err
		}
		if err := to.CreateSymlink(ctx, target, linkTarget); err != nil {
			return err
		}
	default:
		if err := copyContents(ctx, from, source, to, target); err != nil {
			return err
		}
	}

	if options.CopyAttributes {
		update := AttributeUpdate{ModTime: &attributes.ModTime, Link: NoFollowLinks}
		if attributes.HasMode && attributes.Type != TypeSymlink {
			mode := attributes.Mode.Perm()
			update.Mode = &mode
		}
		if err := to.WriteAttributes(ctx, target, update); err != nil && !errors.Is(err, ErrUnsupported) {
			return err
		}
	}
	return nil
}

func copyContents(ctx context.Context, from Provider, source fspath.Path, to Provider, target fspath.Path) error {
	reader, err := from.OpenByteStream(ctx, source, OpenRead)
	if err != nil {
		return err
	}
	defer reader.Close()

	writer, err := to.OpenByteStream(ctx, target, OpenWrite|OpenCreateNew)
	if err != nil {
		return err
	}
	if _, err := CopyContext(ctx, writer, reader); err != nil {
		writer.Close()
		return NewLinkError("copy", source, target, err)
	}
	return writer.Close()
}

// CopyBufferSize is the chunk size of CopyContext.
const CopyBufferSize = 128 * 1024

// CopyContext copies from src to dst until EOF, checking ctx between
// chunks. On cancellation it returns ctx.Err() and leaves the bytes
// already written in dst.
func CopyContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	return CopyContextBuffer(ctx, dst, src, make([]byte, CopyBufferSize))
}

// CopyContextBuffer is CopyContext with a caller-supplied buffer, whose
// length sets the chunk size.
func CopyContextBuffer(ctx context.Context, dst io.Writer, src io.Reader, buffer []byte) (int64, error) {
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		count, readErr := src.Read(buffer)
		if count > 0 {
			wrote, writeErr := dst.Write(buffer[:count])
			written += int64(wrote)
			if writeErr != nil {
				return written, writeErr
			}
			if wrote != count {
				return written, io.ErrShortWrite
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}
