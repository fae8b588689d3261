// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package mount

import (
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/strata-fs/strata/lib/provider"
)

// blockSize is the preferred I/O size reported to the kernel. It
// matches the largest chunk one forwarded read moves.
const blockSize = 256 * 1024

// Errno maps a provider error to the errno the kernel reports.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	switch provider.KindOf(err) {
	case provider.KindNotFound:
		return syscall.ENOENT
	case provider.KindNotADirectory:
		return syscall.ENOTDIR
	case provider.KindIsDirectory:
		return syscall.EISDIR
	case provider.KindAlreadyExists:
		return syscall.EEXIST
	case provider.KindNotEmpty:
		return syscall.ENOTEMPTY
	case provider.KindAccessDenied:
		return syscall.EACCES
	case provider.KindReadOnly:
		return syscall.EROFS
	case provider.KindClosed:
		return syscall.EBADF
	case provider.KindUnsupported:
		return syscall.ENOTSUP
	case provider.KindNotSymlink:
		return syscall.EINVAL
	case provider.KindRemoteUnavailable:
		return syscall.ENOTCONN
	case provider.KindCanceled:
		return syscall.EINTR
	case provider.KindTimeout:
		return syscall.ETIMEDOUT
	default:
		return syscall.EIO
	}
}

func typeBits(fileType provider.FileType) uint32 {
	switch fileType {
	case provider.TypeDirectory:
		return syscall.S_IFDIR
	case provider.TypeSymlink:
		return syscall.S_IFLNK
	default:
		return syscall.S_IFREG
	}
}

// fillAttr converts provider attributes. Write bits are cleared since
// the mount is read-only; entries without a mode get 0555 or 0444.
func fillAttr(out *fuse.Attr, attributes provider.Attributes) {
	permissions := uint32(0o444)
	if attributes.Type == provider.TypeDirectory {
		permissions = 0o555
	}
	if attributes.HasMode {
		permissions = uint32(attributes.Mode.Perm()) &^ 0o222
	}
	if attributes.Type == provider.TypeSymlink {
		permissions = 0o777
	}
	out.Mode = typeBits(attributes.Type) | permissions

	if attributes.Size > 0 {
		out.Size = uint64(attributes.Size)
	}
	out.Blocks = (out.Size + 511) / 512
	out.Blksize = blockSize
	out.Nlink = 1

	if attributes.Owner != nil {
		out.Uid = attributes.Owner.ID
	}
	if attributes.Group != nil {
		out.Gid = attributes.Group.ID
	}

	modified := attributes.ModTime
	accessed := attributes.AccessTime
	if accessed.IsZero() {
		accessed = modified
	}
	out.SetTimes(&accessed, &modified, &modified)
}
