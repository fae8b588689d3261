// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/strata-fs/strata/lib/fspath"
	"github.com/strata-fs/strata/lib/provider"
)

// Copy copies one entry. A directory is copied as an empty directory,
// as with cp without -r. A canceled copy leaves the partial target.
func (p *Provider) Copy(ctx context.Context, source, target fspath.Path, options provider.CopyOptions) error {
	sourceHost, err := hostPath("copy", source)
	if err != nil {
		return err
	}
	targetHost, err := hostPath("copy", target)
	if err != nil {
		return err
	}
	if err := prepareTarget(targetHost, options.ReplaceExisting); err != nil {
		return linkFailure("copy", source, target, err)
	}
	if err := copyEntry(ctx, sourceHost, targetHost, options, false); err != nil {
		return linkFailure("copy", source, target, err)
	}
	p.logger.Debug("copied", "source", sourceHost, "target", targetHost)
	return nil
}

// Move renames source to target. Across devices it falls back to a
// recursive copy that preserves attributes followed by removing source.
func (p *Provider) Move(ctx context.Context, source, target fspath.Path, options provider.CopyOptions) error {
	sourceHost, err := hostPath("move", source)
	if err != nil {
		return err
	}
	targetHost, err := hostPath("move", target)
	if err != nil {
		return err
	}
	if !options.ReplaceExisting {
		if err := prepareTarget(targetHost, false); err != nil {
			return linkFailure("move", source, target, err)
		}
	}

	err = os.Rename(sourceHost, targetHost)
	if !errors.Is(err, unix.EXDEV) {
		return linkFailure("move", source, target, err)
	}

	p.logger.Debug("rename crosses devices, copying", "source", sourceHost, "target", targetHost)
	if options.ReplaceExisting {
		if err := prepareTarget(targetHost, true); err != nil {
			return linkFailure("move", source, target, err)
		}
	}
	preserve := provider.CopyOptions{CopyAttributes: true, Link: provider.NoFollowLinks}
	if err := copyEntry(ctx, sourceHost, targetHost, preserve, true); err != nil {
		return linkFailure("move", source, target, err)
	}
	return linkFailure("move", source, target, os.RemoveAll(sourceHost))
}

// prepareTarget fails with fs.ErrExist if target exists, unless replace
// is set, in which case an existing file or empty directory is removed.
func prepareTarget(target string, replace bool) error {
	if _, err := os.Lstat(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if !replace {
		return fs.ErrExist
	}
	return os.Remove(target)
}

// copyEntry copies source to target, descending into directories when
// recursive is set.
func copyEntry(ctx context.Context, source, target string, options provider.CopyOptions, recursive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := statFor(source, options.Link)
	if err != nil {
		return err
	}

	switch {
	case info.IsDir():
		if err := os.Mkdir(target, info.Mode().Perm()|0o700); err != nil {
			return err
		}
		if recursive {
			entries, err := os.ReadDir(source)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				if err := copyEntry(ctx, filepath.Join(source, entry.Name()), filepath.Join(target, entry.Name()), options, true); err != nil {
					return err
				}
			}
		}
	case info.Mode()&fs.ModeSymlink != 0:
		linkTarget, err := os.Readlink(source)
		if err != nil {
			return err
		}
		if err := os.Symlink(linkTarget, target); err != nil {
			return err
		}
	case info.Mode().IsRegular():
		if err := copyFile(ctx, source, target, info.Mode().Perm()); err != nil {
			return err
		}
	default:
		return fmt.Errorf("copying %s: %w", info.Mode().Type(), provider.ErrUnsupported)
	}

	if options.CopyAttributes {
		return copyAttributes(target, info)
	}
	return nil
}

func statFor(path string, link provider.LinkOption) (fs.FileInfo, error) {
	if link == provider.NoFollowLinks {
		return os.Lstat(path)
	}
	return os.Stat(path)
}

func copyFile(ctx context.Context, source, target string, perm fs.FileMode) error {
	reader, err := os.Open(source)
	if err != nil {
		return err
	}
	defer reader.Close()

	writer, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := provider.CopyContext(ctx, writer, reader); err != nil {
		writer.Close()
		return err
	}
	return writer.Close()
}

// copyAttributes applies the source's times, and its mode unless the
// entry is a symbolic link.
func copyAttributes(target string, info fs.FileInfo) error {
	modTime := info.ModTime()
	accessTime := modTime
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		accessTime = time.Unix(stat.Atim.Unix())
	}
	times := []unix.Timespec{
		unix.NsecToTimespec(accessTime.UnixNano()),
		unix.NsecToTimespec(modTime.UnixNano()),
	}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, target, times, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return nil
	}
	return os.Chmod(target, info.Mode().Perm()|info.Mode()&(fs.ModeSetuid|fs.ModeSetgid|fs.ModeSticky))
}
