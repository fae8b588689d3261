// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"io/fs"
	"log/slog"
	"time"

	"github.com/strata-fs/strata/lib/fspath"
	"github.com/strata-fs/strata/lib/parcel"
	"github.com/strata-fs/strata/lib/provider"
)

// cancelTimeout bounds the task.cancel sent after the caller's context
// ended.
const cancelTimeout = 5 * time.Second

// Forwarder serves provider.RemoteScheme(scheme) by forwarding every
// operation to the helper behind a Connection, where the helper's own
// provider for scheme runs it.
type Forwarder struct {
	scheme     string
	connection *Connection
	logger     *slog.Logger
}

var _ provider.Provider = (*Forwarder)(nil)

// NewForwarder returns a forwarder for the helper's scheme. Several
// forwarders may share one connection.
func NewForwarder(scheme string, connection *Connection, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Forwarder{scheme: scheme, connection: connection, logger: logger}
}

func (f *Forwarder) Scheme() string { return provider.RemoteScheme(f.scheme) }

// Connection returns the connection the forwarder calls through.
func (f *Forwarder) Connection() *Connection { return f.connection }

// toPeer maps a forwarded path onto the helper's scheme.
func (f *Forwarder) toPeer(op string, paths ...fspath.Path) ([]fspath.Path, error) {
	if err := provider.CheckScheme(op, f.Scheme(), paths...); err != nil {
		return nil, err
	}
	mapped := make([]fspath.Path, len(paths))
	for i, path := range paths {
		mapped[i] = path.WithKey(path.Key().WithScheme(f.scheme))
	}
	return mapped, nil
}

// fromPeer maps a helper path back into the forwarded namespace.
func fromPeer(path fspath.Path) fspath.Path {
	key := path.Key()
	return path.WithKey(key.WithScheme(provider.RemoteScheme(key.Scheme)))
}

// call forwards action and returns the peer it ran on, for results
// that are handles in that peer's session.
func call[T any](ctx context.Context, f *Forwarder, action string, fields map[string]any) (T, *Peer, error) {
	var zero T
	peer, err := f.connection.Get(ctx)
	if err != nil {
		return zero, nil, err
	}
	result, err := parcel.Call[T](ctx, peer, action, fields)
	return result, peer, err
}

// onPath forwards a single-path action.
func onPath[T any](ctx context.Context, f *Forwarder, action, op string, path fspath.Path, fields map[string]any) (T, *Peer, error) {
	var zero T
	mapped, err := f.toPeer(op, path)
	if err != nil {
		return zero, nil, err
	}
	if fields == nil {
		fields = make(map[string]any, 1)
	}
	fields["path"] = mapped[0]
	return call[T](ctx, f, action, fields)
}

// Available checks that the helper serves the forwarded scheme.
func (f *Forwarder) Available(ctx context.Context) error {
	_, _, err := call[struct{}](ctx, f, ActionLookup, map[string]any{"scheme": f.scheme})
	return err
}

func (f *Forwarder) ToRealPath(ctx context.Context, path fspath.Path) (fspath.Path, error) {
	resolved, _, err := onPath[fspath.Path](ctx, f, ActionToRealPath, "to_real_path", path, nil)
	if err != nil {
		return fspath.Path{}, err
	}
	return fromPeer(resolved), nil
}

// ListChildren is materialized on the helper and returned whole.
func (f *Forwarder) ListChildren(ctx context.Context, directory fspath.Path) ([]fspath.Path, error) {
	children, _, err := onPath[[]fspath.Path](ctx, f, ActionListChildren, "list_children", directory, nil)
	if err != nil {
		return nil, err
	}
	for i := range children {
		children[i] = fromPeer(children[i])
	}
	return children, nil
}

func (f *Forwarder) OpenByteStream(ctx context.Context, path fspath.Path, mode provider.OpenMode) (provider.ByteStream, error) {
	handle, peer, err := onPath[string](ctx, f, ActionOpenByteStream, "open", path, map[string]any{"mode": mode})
	if err != nil {
		return nil, err
	}
	return parcel.NewStreamProxy(peer, handle), nil
}

func (f *Forwarder) OpenChannel(ctx context.Context, path fspath.Path, mode provider.OpenMode) (provider.Channel, error) {
	handle, peer, err := onPath[string](ctx, f, ActionOpenChannel, "open", path, map[string]any{"mode": mode})
	if err != nil {
		return nil, err
	}
	return parcel.NewChannelProxy(peer, handle), nil
}

func (f *Forwarder) CreateDirectory(ctx context.Context, path fspath.Path, perm fs.FileMode) error {
	_, _, err := onPath[struct{}](ctx, f, ActionCreateDirectory, "create_directory", path, map[string]any{"perm": perm})
	return err
}

func (f *Forwarder) CreateFile(ctx context.Context, path fspath.Path, perm fs.FileMode) error {
	_, _, err := onPath[struct{}](ctx, f, ActionCreateFile, "create_file", path, map[string]any{"perm": perm})
	return err
}

func (f *Forwarder) CreateSymlink(ctx context.Context, link fspath.Path, target string) error {
	_, _, err := onPath[struct{}](ctx, f, ActionCreateSymlink, "create_symlink", link, map[string]any{"target": target})
	return err
}

func (f *Forwarder) CreateLink(ctx context.Context, link, existing fspath.Path) error {
	mapped, err := f.toPeer("create_link", link, existing)
	if err != nil {
		return err
	}
	_, _, err = call[struct{}](ctx, f, ActionCreateLink, map[string]any{"path": mapped[0], "other": mapped[1]})
	return err
}

func (f *Forwarder) Delete(ctx context.Context, path fspath.Path) error {
	_, _, err := onPath[struct{}](ctx, f, ActionDelete, "delete", path, nil)
	return err
}

// Copy runs the copy on the helper and waits for it. Canceling ctx
// cancels the helper-side copy.
func (f *Forwarder) Copy(ctx context.Context, source, target fspath.Path, options provider.CopyOptions) error {
	task, err := f.StartCopy(ctx, source, target, options)
	if err != nil {
		return err
	}
	return task.Wait(ctx)
}

func (f *Forwarder) Move(ctx context.Context, source, target fspath.Path, options provider.CopyOptions) error {
	task, err := f.StartMove(ctx, source, target, options)
	if err != nil {
		return err
	}
	return task.Wait(ctx)
}

// StartCopy starts a copy on the helper and returns without waiting.
func (f *Forwarder) StartCopy(ctx context.Context, source, target fspath.Path, options provider.CopyOptions) (*Task, error) {
	return f.startTask(ctx, ActionCopy, "copy", source, target, options)
}

// StartMove starts a move on the helper and returns without waiting.
func (f *Forwarder) StartMove(ctx context.Context, source, target fspath.Path, options provider.CopyOptions) (*Task, error) {
	return f.startTask(ctx, ActionMove, "move", source, target, options)
}

func (f *Forwarder) startTask(ctx context.Context, action, op string, source, target fspath.Path, options provider.CopyOptions) (*Task, error) {
	mapped, err := f.toPeer(op, source, target)
	if err != nil {
		return nil, err
	}
	handle, peer, err := call[string](ctx, f, action, map[string]any{
		"path":    mapped[0],
		"other":   mapped[1],
		"options": options,
	})
	if err != nil {
		return nil, err
	}
	return &Task{peer: peer, handle: handle, op: op, source: source, target: target}, nil
}

func (f *Forwarder) ReadSymlinkTarget(ctx context.Context, path fspath.Path) (string, error) {
	target, _, err := onPath[string](ctx, f, ActionReadSymlinkTarget, "read_symlink_target", path, nil)
	return target, err
}

func (f *Forwarder) CheckAccess(ctx context.Context, path fspath.Path, modes provider.AccessMode) error {
	_, _, err := onPath[struct{}](ctx, f, ActionCheckAccess, "check_access", path, map[string]any{"access": modes})
	return err
}

func (f *Forwarder) ReadAttributes(ctx context.Context, path fspath.Path, link provider.LinkOption) (provider.Attributes, error) {
	attributes, _, err := onPath[provider.Attributes](ctx, f, ActionReadAttributes, "read_attributes", path, map[string]any{"link": link})
	return attributes, err
}

func (f *Forwarder) WriteAttributes(ctx context.Context, path fspath.Path, update provider.AttributeUpdate) error {
	_, _, err := onPath[struct{}](ctx, f, ActionWriteAttributes, "write_attributes", path, map[string]any{"update": update})
	return err
}

func (f *Forwarder) GetFileStore(ctx context.Context, path fspath.Path) (provider.FileStore, error) {
	store, _, err := onPath[provider.FileStore](ctx, f, ActionGetFileStore, "get_file_store", path, nil)
	return store, err
}

func (f *Forwarder) IsSameFile(ctx context.Context, a, b fspath.Path) (bool, error) {
	mapped, err := f.toPeer("is_same_file", a, b)
	if err != nil {
		return false, err
	}
	same, _, err := call[bool](ctx, f, ActionIsSameFile, map[string]any{"path": mapped[0], "other": mapped[1]})
	return same, err
}

func (f *Forwarder) IsHidden(ctx context.Context, path fspath.Path) (bool, error) {
	hidden, _, err := onPath[bool](ctx, f, ActionIsHidden, "is_hidden", path, nil)
	return hidden, err
}

// Search runs the whole search on the helper and delivers every result
// in a single batch. pollInterval is not used.
func (f *Forwarder) Search(ctx context.Context, directory fspath.Path, query string, results provider.SearchFunc, pollInterval time.Duration) error {
	found, _, err := onPath[[]fspath.Path](ctx, f, ActionSearch, "search", directory, map[string]any{"query": query})
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return nil
	}
	for i := range found {
		found[i] = fromPeer(found[i])
	}
	results(found)
	return nil
}

func (f *Forwarder) Watch(ctx context.Context, directory fspath.Path) (provider.Watcher, error) {
	handle, peer, err := onPath[string](ctx, f, ActionWatch, "watch", directory, nil)
	if err != nil {
		return nil, err
	}
	return &forwardedWatcher{proxy: parcel.NewWatcherProxy(peer, handle)}, nil
}

// forwardedWatcher maps event paths back into the forwarded namespace.
type forwardedWatcher struct {
	proxy *parcel.WatcherProxy
}

func (w *forwardedWatcher) Next(ctx context.Context) ([]provider.ChangeEvent, error) {
	events, err := w.proxy.Next(ctx)
	for i := range events {
		events[i].Path = fromPeer(events[i].Path)
	}
	return events, err
}

func (w *forwardedWatcher) Close() error { return w.proxy.Close() }

// OpenFileSystem pins the helper's archive filesystem for key, keeping
// its index built until the returned handle is closed.
func (f *Forwarder) OpenFileSystem(ctx context.Context, key fspath.Key) (*FileSystemHandle, error) {
	root := fspath.Root(key)
	handle, peer, err := onPath[string](ctx, f, ActionFileSystemOpen, "open_filesystem", root, nil)
	if err != nil {
		return nil, err
	}
	return &FileSystemHandle{peer: peer, handle: handle, root: root}, nil
}

// RefreshArchive marks the helper's archive filesystem for key stale,
// together with archives nested in it. Returns the number marked.
func (f *Forwarder) RefreshArchive(ctx context.Context, key fspath.Key) (int, error) {
	marked, _, err := onPath[int](ctx, f, ActionFileSystemRefresh, "refresh_archive", fspath.Root(key), nil)
	return marked, err
}

// AttributeView returns the helper's attribute view of path.
func (f *Forwarder) AttributeView(ctx context.Context, path fspath.Path, link provider.LinkOption) (*AttributeView, error) {
	info, _, err := onPath[AttributeViewInfo](ctx, f, ActionAttributesView, "attribute_view", path, map[string]any{"link": link})
	if err != nil {
		return nil, err
	}
	return &AttributeView{forwarder: f, path: path, link: link, Info: info}, nil
}

// AttributeView reads and writes one path's attributes on the helper.
type AttributeView struct {
	forwarder *Forwarder
	path      fspath.Path
	link      provider.LinkOption
	Info      AttributeViewInfo

	// prepare, if set, runs before every Read and Write.
	prepare func(context.Context) error
}

func (v *AttributeView) Read(ctx context.Context) (provider.Attributes, error) {
	if v.prepare != nil {
		if err := v.prepare(ctx); err != nil {
			return provider.Attributes{}, err
		}
	}
	attributes, _, err := onPath[provider.Attributes](ctx, v.forwarder, ActionAttributesRead, "read_attributes", v.path, map[string]any{"link": v.link})
	return attributes, err
}

func (v *AttributeView) Write(ctx context.Context, update provider.AttributeUpdate) error {
	if v.Info.ReadOnly {
		return provider.NewError("write_attributes", v.path, provider.ErrReadOnly)
	}
	if v.prepare != nil {
		if err := v.prepare(ctx); err != nil {
			return err
		}
	}
	update.Link = v.link
	_, _, err := onPath[struct{}](ctx, v.forwarder, ActionAttributesWrite, "write_attributes", v.path, map[string]any{"update": update})
	return err
}

// FileSystemHandle is a helper-side archive filesystem held open by
// this session.
type FileSystemHandle struct {
	peer   *Peer
	handle string
	root   fspath.Path
}

// Close releases the filesystem. Closing a handle the helper already
// dropped succeeds.
func (h *FileSystemHandle) Close(ctx context.Context) error {
	_, err := parcel.Call[struct{}](ctx, h.peer, ActionFileSystemClose, map[string]any{"handle": h.handle})
	if err != nil && provider.KindOf(err) != provider.KindClosed {
		return err
	}
	return nil
}

// Task is a copy or move running on the helper.
type Task struct {
	peer           *Peer
	handle         string
	op             string
	source, target fspath.Path
}

// Wait blocks until the task finishes. If ctx ends first the task is
// canceled on the helper and Wait returns the context's error; the
// target is left as far as the copy got.
func (t *Task) Wait(ctx context.Context) error {
	for {
		status, err := parcel.Call[TaskStatus](ctx, t.peer, ActionTaskWait, map[string]any{"handle": t.handle})
		if ctxErr := ctx.Err(); ctxErr != nil {
			cancelContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
			t.Cancel(cancelContext)
			cancel()
			return provider.NewLinkError(t.op, t.source, t.target, ctxErr)
		}
		if err != nil {
			return err
		}
		if status.Done {
			return nil
		}
	}
}

// Cancel asks the helper to stop the task. It is best-effort: the task
// may already have finished.
func (t *Task) Cancel(ctx context.Context) error {
	_, err := parcel.Call[struct{}](ctx, t.peer, ActionTaskCancel, map[string]any{"handle": t.handle})
	if err != nil && provider.KindOf(err) != provider.KindClosed {
		return err
	}
	return nil
}
