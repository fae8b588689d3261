// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package localfs

import (
	"context"
	"fmt"
	"io/fs"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"

	"github.com/strata-fs/strata/lib/fspath"
	"github.com/strata-fs/strata/lib/provider"
)

var errInvalid = unix.EINVAL

// statx reads the metadata of host, including the birth time when the
// filesystem records one.
func statx(host string, link provider.LinkOption) (unix.Statx_t, error) {
	flags := unix.AT_STATX_SYNC_AS_STAT
	if link == provider.NoFollowLinks {
		flags |= unix.AT_SYMLINK_NOFOLLOW
	}
	var stat unix.Statx_t
	err := unix.Statx(unix.AT_FDCWD, host, flags, unix.STATX_BASIC_STATS|unix.STATX_BTIME, &stat)
	return stat, err
}

func timestamp(value unix.StatxTimestamp) time.Time {
	return time.Unix(value.Sec, int64(value.Nsec))
}

// fileMode converts st_mode bits into an fs.FileMode.
func fileMode(raw uint32) fs.FileMode {
	mode := fs.FileMode(raw & 0o777)
	switch raw & unix.S_IFMT {
	case unix.S_IFDIR:
		mode |= fs.ModeDir
	case unix.S_IFLNK:
		mode |= fs.ModeSymlink
	case unix.S_IFIFO:
		mode |= fs.ModeNamedPipe
	case unix.S_IFSOCK:
		mode |= fs.ModeSocket
	case unix.S_IFCHR:
		mode |= fs.ModeDevice | fs.ModeCharDevice
	case unix.S_IFBLK:
		mode |= fs.ModeDevice
	}
	if raw&unix.S_ISUID != 0 {
		mode |= fs.ModeSetuid
	}
	if raw&unix.S_ISGID != 0 {
		mode |= fs.ModeSetgid
	}
	if raw&unix.S_ISVTX != 0 {
		mode |= fs.ModeSticky
	}
	return mode
}

// fileKey identifies the inode: device and inode number.
func fileKey(stat unix.Statx_t) string {
	return fmt.Sprintf("%x:%x:%x", stat.Dev_major, stat.Dev_minor, stat.Ino)
}

func (p *Provider) attributes(stat unix.Statx_t) provider.Attributes {
	mode := fileMode(uint32(stat.Mode))
	attributes := provider.Attributes{
		Type:       provider.FileTypeOf(mode),
		Size:       int64(stat.Size),
		ModTime:    timestamp(stat.Mtime),
		AccessTime: timestamp(stat.Atime),
		Mode:       mode,
		HasMode:    true,
		Owner:      p.owners.user(stat.Uid),
		Group:      p.owners.group(stat.Gid),
		FileKey:    fileKey(stat),
	}
	if stat.Mask&unix.STATX_BTIME != 0 {
		attributes.CreationTime = timestamp(stat.Btime)
	}
	return attributes
}

func (p *Provider) ReadAttributes(ctx context.Context, path fspath.Path, link provider.LinkOption) (provider.Attributes, error) {
	host, err := hostPath("read_attributes", path)
	if err != nil {
		return provider.Attributes{}, err
	}
	stat, err := statx(host, link)
	if err != nil {
		return provider.Attributes{}, failure("read_attributes", path, err)
	}
	return p.attributes(stat), nil
}

// WriteAttributes applies times, mode, and ownership in that order,
// stopping at the first failure. Birth times cannot be set on Linux.
func (p *Provider) WriteAttributes(ctx context.Context, path fspath.Path, update provider.AttributeUpdate) error {
	host, err := hostPath("write_attributes", path)
	if err != nil {
		return err
	}
	if update.CreationTime != nil {
		return provider.NewError("write_attributes", path, provider.ErrUnsupported)
	}
	flags := 0
	if update.Link == provider.NoFollowLinks {
		flags = unix.AT_SYMLINK_NOFOLLOW
	}

	if update.ModTime != nil || update.AccessTime != nil {
		times := []unix.Timespec{{Nsec: unix.UTIME_OMIT}, {Nsec: unix.UTIME_OMIT}}
		if update.AccessTime != nil {
			times[0] = unix.NsecToTimespec(update.AccessTime.UnixNano())
		}
		if update.ModTime != nil {
			times[1] = unix.NsecToTimespec(update.ModTime.UnixNano())
		}
		if err := unix.UtimesNanoAt(unix.AT_FDCWD, host, times, flags); err != nil {
			return failure("write_attributes", path, err)
		}
	}

	if update.Mode != nil {
		// Linux cannot change the mode of a link itself; a NoFollowLinks
		// update of anything else is an ordinary chmod.
		if update.Link == provider.NoFollowLinks {
			stat, err := statx(host, provider.NoFollowLinks)
			if err != nil {
				return failure("write_attributes", path, err)
			}
			if stat.Mode&unix.S_IFMT == unix.S_IFLNK {
				return provider.NewError("write_attributes", path, provider.ErrUnsupported)
			}
		}
		if err := unix.Fchmodat(unix.AT_FDCWD, host, uint32(*update.Mode&fs.ModePerm)|specialBits(*update.Mode), 0); err != nil {
			return failure("write_attributes", path, err)
		}
	}

	if update.OwnerID != nil || update.GroupID != nil {
		owner, group := -1, -1
		if update.OwnerID != nil {
			owner = int(*update.OwnerID)
		}
		if update.GroupID != nil {
			group = int(*update.GroupID)
		}
		if err := unix.Fchownat(unix.AT_FDCWD, host, owner, group, flags); err != nil {
			return failure("write_attributes", path, err)
		}
	}
	return nil
}

func specialBits(mode fs.FileMode) uint32 {
	var bits uint32
	if mode&fs.ModeSetuid != 0 {
		bits |= unix.S_ISUID
	}
	if mode&fs.ModeSetgid != 0 {
		bits |= unix.S_ISGID
	}
	if mode&fs.ModeSticky != 0 {
		bits |= unix.S_ISVTX
	}
	return bits
}

func (p *Provider) CheckAccess(ctx context.Context, path fspath.Path, modes provider.AccessMode) error {
	host, err := hostPath("check_access", path)
	if err != nil {
		return err
	}
	var mask uint32 = unix.F_OK
	if modes&provider.AccessRead != 0 {
		mask |= unix.R_OK
	}
	if modes&provider.AccessWrite != 0 {
		mask |= unix.W_OK
	}
	if modes&provider.AccessExecute != 0 {
		mask |= unix.X_OK
	}
	return failure("check_access", path, unix.Faccessat(unix.AT_FDCWD, host, mask, 0))
}

func (p *Provider) IsSameFile(ctx context.Context, a, b fspath.Path) (bool, error) {
	if a.Equal(b) {
		return true, nil
	}
	if a.Key() != b.Key() {
		return false, nil
	}
	first, err := hostPath("is_same_file", a)
	if err != nil {
		return false, err
	}
	second, err := hostPath("is_same_file", b)
	if err != nil {
		return false, err
	}
	firstStat, err := statx(first, provider.FollowLinks)
	if err != nil {
		return false, failure("is_same_file", a, err)
	}
	secondStat, err := statx(second, provider.FollowLinks)
	if err != nil {
		return false, failure("is_same_file", b, err)
	}
	return fileKey(firstStat) == fileKey(secondStat), nil
}

// GetFileStore describes the mount containing path. Name and type come
// from /proc/self/mountinfo; the sizes come from statfs(2).
func (p *Provider) GetFileStore(ctx context.Context, path fspath.Path) (provider.FileStore, error) {
	host, err := hostPath("get_file_store", path)
	if err != nil {
		return provider.FileStore{}, err
	}
	var stat unix.Statfs_t
	if err := unix.Statfs(host, &stat); err != nil {
		return provider.FileStore{}, failure("get_file_store", path, err)
	}
	blockSize := int64(stat.Bsize)
	store := provider.FileStore{
		Type:        filesystemType(int64(stat.Type)),
		ReadOnly:    stat.Flags&unix.ST_RDONLY != 0,
		TotalSpace:  int64(stat.Blocks) * blockSize,
		FreeSpace:   int64(stat.Bfree) * blockSize,
		UsableSpace: int64(stat.Bavail) * blockSize,
	}

	resolved, err := filepath.EvalSymlinks(host)
	if err != nil {
		resolved = host
	}
	mount, err := mountContaining(resolved)
	if err != nil {
		p.logger.Debug("reading mountinfo failed", "path", host, "error", err)
		return store, nil
	}
	store.Name = mount.Source
	store.Type = mount.FSType
	return store, nil
}

// mountContaining returns the mount with the longest mount point that
// is a prefix of host.
func mountContaining(host string) (*procfs.MountInfo, error) {
	mounts, err := procfs.GetMounts()
	if err != nil {
		return nil, fmt.Errorf("reading mountinfo: %w", err)
	}
	var best *procfs.MountInfo
	for _, mount := range mounts {
		if !withinMount(host, mount.MountPoint) {
			continue
		}
		if best == nil || len(mount.MountPoint) >= len(best.MountPoint) {
			best = mount
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no mount contains %s", host)
	}
	return best, nil
}

func withinMount(host, mountPoint string) bool {
	if mountPoint == "/" {
		return true
	}
	return host == mountPoint || strings.HasPrefix(host, mountPoint+"/")
}

// filesystemType names the common statfs magic numbers, for when
// mountinfo is unavailable.
func filesystemType(magic int64) string {
	switch magic {
	case unix.EXT4_SUPER_MAGIC:
		return "ext4"
	case unix.TMPFS_MAGIC:
		return "tmpfs"
	case unix.BTRFS_SUPER_MAGIC:
		return "btrfs"
	case unix.XFS_SUPER_MAGIC:
		return "xfs"
	case unix.OVERLAYFS_SUPER_MAGIC:
		return "overlay"
	case unix.NFS_SUPER_MAGIC:
		return "nfs"
	case unix.FUSE_SUPER_MAGIC:
		return "fuse"
	default:
		return "0x" + strconv.FormatInt(magic, 16)
	}
}

// principalCache memoizes uid and gid name lookups, which may hit NSS.
type principalCache struct {
	users  sync.Map
	groups sync.Map
}

func (c *principalCache) user(id uint32) *provider.Principal {
	if cached, ok := c.users.Load(id); ok {
		principal := cached.(provider.Principal)
		return &principal
	}
	principal := provider.Principal{ID: id}
	if found, err := user.LookupId(strconv.FormatUint(uint64(id), 10)); err == nil {
		principal.Name = found.Username
	}
	c.users.Store(id, principal)
	return &principal
}

func (c *principalCache) group(id uint32) *provider.Principal {
	if cached, ok := c.groups.Load(id); ok {
		principal := cached.(provider.Principal)
		return &principal
	}
	principal := provider.Principal{ID: id}
	if found, err := user.LookupGroupId(strconv.FormatUint(uint64(id), 10)); err == nil {
		principal.Name = found.Name
	}
	c.groups.Store(id, principal)
	return &principal
}
