// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/strata-fs/strata/lib/clock"
	"github.com/strata-fs/strata/lib/fspath"
	"github.com/strata-fs/strata/lib/metrics"
	"github.com/strata-fs/strata/lib/provider"
)

// DefaultMaxSymlinkDepth bounds symbolic link resolution inside an
// archive, matching the Linux MAXSYMLINKS limit.
const DefaultMaxSymlinkDepth = 40

// Freshness is the state of a filesystem's index.
type Freshness int32

const (
	// Stale means the index must be (re)built before the next read.
	// Every filesystem starts Stale.
	Stale Freshness = iota

	// Rebuilding means a build is in progress. A MarkStale during a
	// build moves the state back to Stale, so the finished build is
	// used by the reads already waiting on it but the next read
	// builds again.
	Rebuilding

	// Fresh means the current index reflects the archive.
	Fresh
)

func (f Freshness) String() string {
	switch f {
	case Stale:
		return "stale"
	case Rebuilding:
		return "rebuilding"
	case Fresh:
		return "fresh"
	default:
		return fmt.Sprintf("freshness(%d)", int32(f))
	}
}

// Options configures filesystems and registries. The zero value is
// usable.
type Options struct {
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
	Clock           clock.Clock
	MaxSymlinkDepth int
}

func (options Options) withDefaults() Options {
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.MaxSymlinkDepth <= 0 {
		options.MaxSymlinkDepth = DefaultMaxSymlinkDepth
	}
	return options
}

// FileSystem is the read-only view of one archive file. Its index is
// built on first access and rebuilt after MarkStale.
//
// Reads take the current index snapshot without locking; a single
// mutex serializes builds. Concurrent readers see either the index from
// before a rebuild or the one after, never a partial one.
type FileSystem struct {
	key     fspath.Key
	archive fspath.Path
	source  Source
	options Options
	logger  *slog.Logger

	freshness atomic.Int32
	closed    atomic.Bool
	index     atomic.Pointer[Index]
	builds    atomic.Int64

	buildMutex sync.Mutex

	// registry and references are guarded by registry.mu.
	registry   *Registry
	references int
}

// NewFileSystem returns a filesystem for the archive named by key. No
// I/O happens until the first read.
func NewFileSystem(key fspath.Key, source Source, options Options) (*FileSystem, error) {
	archive, err := key.ArchivePath()
	if err != nil {
		return nil, fmt.Errorf("creating archive filesystem: %w", err)
	}
	options = options.withDefaults()
	return &FileSystem{
		key:     key,
		archive: archive,
		source:  source,
		options: options,
		logger:  options.Logger.With("archive", archive.URI()),
	}, nil
}

// Key returns the filesystem's identity.
func (f *FileSystem) Key() fspath.Key { return f.key }

// ArchivePath returns the path of the backing archive file.
func (f *FileSystem) ArchivePath() fspath.Path { return f.archive }

// Root returns the root path of the archive.
func (f *FileSystem) Root() fspath.Path { return fspath.Root(f.key) }

// Equal reports whether other views the same archive.
func (f *FileSystem) Equal(other *FileSystem) bool {
	return other != nil && f.key == other.key
}

// Freshness returns the current index state.
func (f *FileSystem) Freshness() Freshness {
	return Freshness(f.freshness.Load())
}

// MarkStale forces the next read to rebuild the index. It never blocks
// and may be called from any goroutine.
func (f *FileSystem) MarkStale() {
	f.freshness.Store(int32(Stale))
}

// IsClosed reports whether Close has been called.
func (f *FileSystem) IsClosed() bool { return f.closed.Load() }

// Close drops the index and unregisters the filesystem. Every later
// operation fails with provider.ErrClosed. Closing twice is harmless.
func (f *FileSystem) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	f.index.Store(nil)
	f.freshness.Store(int32(Stale))
	if f.registry != nil {
		f.registry.Remove(f.key, f)
	}
	f.logger.Debug("archive filesystem closed")
	return nil
}

// Stats describes a filesystem's index.
type Stats struct {
	Freshness Freshness
	Entries   int
	Builds    int64
	Format    Format
}

// Stats returns the index statistics without triggering a build.
func (f *FileSystem) Stats() Stats {
	stats := Stats{Freshness: f.Freshness(), Builds: f.builds.Load()}
	if index := f.index.Load(); index != nil {
		stats.Entries = index.Len()
		stats.Format = index.Format()
	}
	return stats
}

// Index returns the current index, building it first if the filesystem
// is stale. A failed build leaves no index behind and the filesystem
// stale, so the next call tries again.
func (f *FileSystem) Index(ctx context.Context) (*Index, error) {
	if f.closed.Load() {
		return nil, provider.NewError("index", f.archive, provider.ErrClosed)
	}
	if f.Freshness() == Fresh {
		if index := f.index.Load(); index != nil {
			return index, nil
		}
	}

	f.buildMutex.Lock()
	defer f.buildMutex.Unlock()

	if f.closed.Load() {
		return nil, provider.NewError("index", f.archive, provider.ErrClosed)
	}
	if f.Freshness() == Fresh {
		if index := f.index.Load(); index != nil {
			return index, nil
		}
	}

	f.freshness.Store(int32(Rebuilding))
	start := f.options.Clock.Now()
	index, err := f.build(ctx)
	duration := f.options.Clock.Now().Sub(start)
	f.builds.Add(1)

	if err != nil {
		f.index.Store(nil)
		f.freshness.CompareAndSwap(int32(Rebuilding), int32(Stale))
		f.options.Metrics.ObserveIndexBuild(duration, 0, err)
		f.logger.Warn("archive index build failed", "error", err)
		return nil, err
	}

	f.index.Store(index)
	f.freshness.CompareAndSwap(int32(Rebuilding), int32(Fresh))
	f.options.Metrics.ObserveIndexBuild(duration, index.Len(), nil)
	f.logger.Debug("archive index built",
		"format", index.Format().String(),
		"entries", index.Len(),
		"duration", duration,
	)
	return index, nil
}

// build enumerates the archive. Failures to reach the backing file keep
// their own kind; everything that goes wrong while decoding is
// MalformedArchive.
func (f *FileSystem) build(ctx context.Context) (*Index, error) {
	channel, err := f.source.OpenChannel(ctx, f.archive)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer channel.Close()

	head := make([]byte, sniffLength)
	count, err := io.ReadFull(channel, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading archive header: %w", err)
	}
	if _, err := channel.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding archive: %w", err)
	}

	format, err := DetectFormat(head[:count], f.archive.Name())
	if err != nil {
		return nil, f.malformed(err)
	}

	var members []Entry
	if format == FormatZip {
		size, sizeErr := channel.Size()
		if sizeErr != nil {
			return nil, fmt.Errorf("sizing archive: %w", sizeErr)
		}
		members, err = readZipMembers(ctx, readerAt(channel), size)
	} else {
		members, err = readTarMembers(ctx, format, channel)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, provider.NewError("index", f.archive, ctxErr)
		}
		return nil, f.malformed(fmt.Errorf("reading %s archive: %w", format, err))
	}
	return BuildIndex(f.key, format, members), nil
}

func (f *FileSystem) malformed(err error) error {
	return &provider.Error{Op: "index", Path: f.archive.String(), Kind: provider.KindMalformedArchive, Err: err}
}

// ResolveEntry returns the entry at path. With provider.FollowLinks a
// trailing symbolic link is followed, through up to MaxSymlinkDepth
// links; link targets are resolved inside the archive, with absolute
// targets taken from the archive root.
func (f *FileSystem) ResolveEntry(ctx context.Context, path fspath.Path, link provider.LinkOption) (Entry, error) {
	index, err := f.Index(ctx)
	if err != nil {
		return Entry{}, err
	}
	return f.resolve(index, "resolve", path, link)
}

func (f *FileSystem) resolve(index *Index, op string, path fspath.Path, link provider.LinkOption) (Entry, error) {
	current := path
	for depth := 0; ; depth++ {
		entry, ok := index.Entry(current)
		if !ok {
			return Entry{}, provider.NewError(op, path, provider.ErrNotFound)
		}
		if link == provider.NoFollowLinks || !entry.IsSymlink() {
			return entry, nil
		}
		if depth >= f.options.MaxSymlinkDepth {
			return Entry{}, provider.NewError(op, path, syscall.ELOOP)
		}
		base, _ := entry.Path.Parent()
		if strings.HasPrefix(entry.LinkTarget, fspath.Separator) {
			base = f.Root()
		}
		current = base.ResolveString(entry.LinkTarget).Normalize()
	}
}

// ListChildren returns the children of directory, reparented under
// directory as given (so listing a link to a directory yields paths
// through the link).
func (f *FileSystem) ListChildren(ctx context.Context, directory fspath.Path) ([]fspath.Path, error) {
	index, err := f.Index(ctx)
	if err != nil {
		return nil, err
	}
	entry, err := f.resolve(index, "list_children", directory, provider.FollowLinks)
	if err != nil {
		return nil, err
	}
	if !entry.IsDirectory() {
		return nil, provider.NewError("list_children", directory, provider.ErrNotADirectory)
	}
	children, _ := index.Children(entry.Path)
	listed := make([]fspath.Path, len(children))
	for i, child := range children {
		listed[i] = directory.Child(child.Name())
	}
	return listed, nil
}

// OpenByteStream opens the decompressed content of the file at path.
func (f *FileSystem) OpenByteStream(ctx context.Context, path fspath.Path) (provider.ByteStream, error) {
	return f.OpenChannel(ctx, path)
}

// OpenChannel opens the file at path as a seekable, read-only channel.
func (f *FileSystem) OpenChannel(ctx context.Context, path fspath.Path) (provider.Channel, error) {
	index, err := f.Index(ctx)
	if err != nil {
		return nil, err
	}
	entry, err := f.resolve(index, "open", path, provider.FollowLinks)
	if err != nil {
		return nil, err
	}
	switch {
	case entry.IsDirectory():
		return nil, provider.NewError("open", path, provider.ErrIsDirectory)
	case entry.Type != provider.TypeRegular:
		return nil, provider.NewError("open", path, provider.ErrUnsupported)
	case entry.ordinal < 0:
		// A hard link whose target is missing from the archive.
		return nil, provider.NewError("open", path, provider.ErrNotFound)
	}

	open := func(ctx context.Context) (io.ReadCloser, error) {
		return f.openMember(ctx, index.Format(), entry.ordinal)
	}
	channel, err := newMemberChannel(ctx, open, entry.Size)
	if err != nil {
		return nil, provider.NewError("open", path, err)
	}
	return channel, nil
}

// openMember opens the backing archive again and positions a reader on
// the member's content. Closing the reader closes the archive.
func (f *FileSystem) openMember(ctx context.Context, format Format, ordinal int) (io.ReadCloser, error) {
	channel, err := f.source.OpenChannel(ctx, f.archive)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	var member io.ReadCloser
	if format == FormatZip {
		size, sizeErr := channel.Size()
		if sizeErr != nil {
			channel.Close()
			return nil, fmt.Errorf("sizing archive: %w", sizeErr)
		}
		member, err = openZipMember(readerAt(channel), size, ordinal)
	} else {
		member, err = openTarMember(format, channel, ordinal)
	}
	if err != nil {
		channel.Close()
		return nil, f.malformed(err)
	}
	return &memberReader{ReadCloser: member, archive: channel}, nil
}

// memberReader closes the archive channel along with the member.
type memberReader struct {
	io.ReadCloser
	archive io.Closer
}

func (r *memberReader) Close() error {
	return errors.Join(r.ReadCloser.Close(), r.archive.Close())
}

// ReadSymlinkTarget returns the raw target of the symbolic link at
// path, failing with provider.ErrNotSymlink for any other entry type.
func (f *FileSystem) ReadSymlinkTarget(ctx context.Context, path fspath.Path) (string, error) {
	index, err := f.Index(ctx)
	if err != nil {
		return "", err
	}
	entry, err := f.resolve(index, "read_symlink", path, provider.NoFollowLinks)
	if err != nil {
		return "", err
	}
	if !entry.IsSymlink() {
		return "", provider.NewError("read_symlink", path, provider.ErrNotSymlink)
	}
	return entry.LinkTarget, nil
}

// Walk visits the entries below directory depth-first, parents before
// children, stopping when visit returns false or ctx is done.
func (f *FileSystem) Walk(ctx context.Context, directory fspath.Path, visit func(Entry) bool) error {
	index, err := f.Index(ctx)
	if err != nil {
		return err
	}
	start, err := f.resolve(index, "walk", directory, provider.FollowLinks)
	if err != nil {
		return err
	}
	if !start.IsDirectory() {
		return provider.NewError("walk", directory, provider.ErrNotADirectory)
	}

	children, _ := index.Children(start.Path)
	pending := make([]fspath.Path, 0, len(children))
	for i := len(children) - 1; i >= 0; i-- {
		pending = append(pending, children[i])
	}
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return provider.NewError("walk", directory, err)
		}
		next := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		entry, ok := index.Entry(next)
		if !ok {
			continue
		}
		if !visit(entry) {
			return nil
		}
		if entry.IsDirectory() {
			children, _ := index.Children(entry.Path)
			for i := len(children) - 1; i >= 0; i-- {
				pending = append(pending, children[i])
			}
		}
	}
	return nil
}
