// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// Sentinel errors. Where io/fs, errors, or context already define a
// sentinel for the same condition, the provider sentinel is that value.
var (
	ErrNotFound          = fs.ErrNotExist
	ErrAlreadyExists     = fs.ErrExist
	ErrAccessDenied      = fs.ErrPermission
	ErrClosed            = fs.ErrClosed
	ErrUnsupported       = errors.ErrUnsupported
	ErrCanceled          = context.Canceled
	ErrTimeout           = context.DeadlineExceeded
	ErrNotADirectory     = errors.New("not a directory")
	ErrIsDirectory       = errors.New("is a directory")
	ErrNotEmpty          = errors.New("directory not empty")
	ErrNotSymlink        = errors.New("not a symbolic link")
	ErrReadOnly          = errors.New("read-only filesystem")
	ErrRemoteUnavailable = errors.New("remote helper unavailable")
	ErrMalformedArchive  = errors.New("malformed archive")
)

// Kind classifies an error. Kind values travel over the helper socket
// and are protocol constants: append new kinds, never renumber.
type Kind uint8

const (
	// KindIO is any failure outside the taxonomy.
	KindIO Kind = iota
	KindNotFound
	KindNotADirectory
	KindIsDirectory
	KindAlreadyExists
	KindNotEmpty
	KindAccessDenied
	KindReadOnly
	KindClosed
	KindUnsupported
	KindNotSymlink
	KindRemoteUnavailable
	KindMalformedArchive
	KindCanceled
	KindTimeout
)

var kindNames = [...]string{
	KindIO:                "io",
	KindNotFound:          "not_found",
	KindNotADirectory:     "not_a_directory",
	KindIsDirectory:       "is_directory",
	KindAlreadyExists:     "already_exists",
	KindNotEmpty:          "not_empty",
	KindAccessDenied:      "access_denied",
	KindReadOnly:          "read_only",
	KindClosed:            "closed",
	KindUnsupported:       "unsupported",
	KindNotSymlink:        "not_symlink",
	KindRemoteUnavailable: "remote_unavailable",
	KindMalformedArchive:  "malformed_archive",
	KindCanceled:          "canceled",
	KindTimeout:           "timeout",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Sentinel returns the sentinel error of the kind, or nil for KindIO
// and unknown kinds.
func (k Kind) Sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindNotADirectory:
		return ErrNotADirectory
	case KindIsDirectory:
		return ErrIsDirectory
	case KindAlreadyExists:
		return ErrAlreadyExists
	case KindNotEmpty:
		return ErrNotEmpty
	case KindAccessDenied:
		return ErrAccessDenied
	case KindReadOnly:
		return ErrReadOnly
	case KindClosed:
		return ErrClosed
	case KindUnsupported:
		return ErrUnsupported
	case KindNotSymlink:
		return ErrNotSymlink
	case KindRemoteUnavailable:
		return ErrRemoteUnavailable
	case KindMalformedArchive:
		return ErrMalformedArchive
	case KindCanceled:
		return ErrCanceled
	case KindTimeout:
		return ErrTimeout
	}
	return nil
}

// errnoKinds maps the errno values that io/fs does not already
// classify. ENOENT, EEXIST, EACCES, and EPERM are matched through
// syscall.Errno.Is against the fs sentinels.
var errnoKinds = map[syscall.Errno]Kind{
	syscall.ENOTDIR:   KindNotADirectory,
	syscall.EISDIR:    KindIsDirectory,
	syscall.ENOTEMPTY: KindNotEmpty,
	syscall.EROFS:     KindReadOnly,
	syscall.ENOTSUP:   KindUnsupported,
	syscall.ENOSYS:    KindUnsupported,
	syscall.EXDEV:     KindUnsupported,
}

// KindOf classifies err. An [*Error] anywhere in the chain reports its
// own kind; otherwise the chain is matched against the sentinels and
// against syscall.Errno values. Returns KindIO for anything else,
// including nil.
func KindOf(err error) Kind {
	if err == nil {
		return KindIO
	}
	var providerError *Error
	if errors.As(err, &providerError) && providerError.Kind != KindIO {
		return providerError.Kind
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if kind, ok := errnoKinds[errno]; ok {
			return kind
		}
	}
	for kind := KindNotFound; int(kind) < len(kindNames); kind++ {
		if errors.Is(err, kind.Sentinel()) {
			return kind
		}
	}
	return KindIO
}

// Error records a failed provider operation and the path it failed on.
// It plays the role fs.PathError plays for the os package, with a Kind
// that survives the process boundary.
type Error struct {
	// Op is the operation name, e.g. "list_children".
	Op string

	// Path is the operation's primary path in its String form.
	Path string

	// Other is the second path of two-path operations (copy, move,
	// link), or empty.
	Other string

	// Kind classifies Err. Set by NewError from KindOf(Err).
	Kind Kind

	// Err is the underlying error.
	Err error
}

// NewError wraps err as an *Error for op on path. Returns nil if err is
// nil. An err that is already an *Error for the same op and path is
// returned unchanged.
func NewError(op string, path fmt.Stringer, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) && existing.Op == op && existing.Path == path.String() {
		return err
	}
	return &Error{Op: op, Path: path.String(), Kind: KindOf(err), Err: err}
}

// NewLinkError is NewError for operations with a source and a target.
func NewLinkError(op string, path, other fmt.Stringer, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Path: path.String(), Other: other.String(), Kind: KindOf(err), Err: err}
}

func (e *Error) Error() string {
	message := e.Op + " " + e.Path
	if e.Other != "" {
		message += " -> " + e.Other
	}
	if e.Err == nil {
		return message + ": " + e.Kind.String()
	}
	return message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind, so a reconstructed
// error whose Err is only a message still satisfies errors.Is against
// the sentinel the original matched.
func (e *Error) Is(target error) bool {
	sentinel := e.Kind.Sentinel()
	return sentinel != nil && target == sentinel
}
