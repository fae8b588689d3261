// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Op classifies a change to a directory entry.
type Op uint8

const (
	// Created covers new entries and entries renamed into the directory.
	Created Op = iota + 1
	// Removed covers deleted entries and entries renamed away.
	Removed
	// Modified covers content writes and attribute changes.
	Modified
	// Overflow means events were dropped. Name is empty.
	Overflow
)

func (op Op) String() string {
	switch op {
	case Created:
		return "created"
	case Removed:
		return "removed"
	case Modified:
		return "modified"
	case Overflow:
		return "overflow"
	default:
		return fmt.Sprintf("op(%d)", uint8(op))
	}
}

// Event is one change inside the watched directory. Name is the entry
// name relative to the directory; it is empty for Overflow and for
// events about the directory itself.
type Event struct {
	Op   Op
	Name string
}

// ErrClosed is returned by Next after Close, and after the watched
// directory itself was removed or moved.
var ErrClosed = errors.New("watcher closed")

const watchMask = unix.IN_CREATE | unix.IN_MOVED_TO |
	unix.IN_DELETE | unix.IN_MOVED_FROM |
	unix.IN_MODIFY | unix.IN_CLOSE_WRITE | unix.IN_ATTRIB |
	unix.IN_DELETE_SELF | unix.IN_MOVE_SELF

// pollTimeoutMilliseconds bounds how long the read loop sleeps in
// poll(2) before rechecking the stop channel.
const pollTimeoutMilliseconds = 100

// Watcher delivers change batches for one directory.
type Watcher struct {
	directory string
	batches   chan []Event
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// Directory starts watching directory. Close must be called to release
// the inotify descriptor.
func Directory(directory string) (*Watcher, error) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("inotify_init1: %w", err)
	}
	if _, err := unix.InotifyAddWatch(fd, directory, watchMask); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("inotify_add_watch on %s: %w", directory, err)
	}

	watcher := &Watcher{
		directory: directory,
		batches:   make(chan []Event, 16),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go watcher.readLoop(fd)
	return watcher, nil
}

// Path returns the watched directory.
func (w *Watcher) Path() string { return w.directory }

// Next blocks until at least one event is available and returns every
// pending event. Consecutive batches from the kernel are merged.
func (w *Watcher) Next(ctx context.Context) ([]Event, error) {
	var batch []Event
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case received, ok := <-w.batches:
		if !ok {
			return nil, w.closeError()
		}
		batch = received
	}
	for {
		select {
		case received, ok := <-w.batches:
			if !ok {
				return batch, nil
			}
			batch = append(batch, received...)
		default:
			return batch, nil
		}
	}
}

// Close stops the watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() { close(w.stop) })
	<-w.done
	return nil
}

func (w *Watcher) closeError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	return ErrClosed
}

func (w *Watcher) fail(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
}

// readLoop polls the inotify descriptor and forwards decoded batches.
// It owns fd and the batches channel: both are closed when it exits.
func (w *Watcher) readLoop(fd int) {
	defer close(w.done)
	defer close(w.batches)
	defer unix.Close(fd)

	buffer := make([]byte, 64*(unix.SizeofInotifyEvent+256))
	for {
		select {
		case <-w.stop:
			return
		default:
		}

		descriptors := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		count, err := unix.Poll(descriptors, pollTimeoutMilliseconds)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			w.fail(fmt.Errorf("polling inotify for %s: %w", w.directory, err))
			return
		}
		if count == 0 {
			continue
		}

		read, err := unix.Read(fd, buffer)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			w.fail(fmt.Errorf("reading inotify for %s: %w", w.directory, err))
			return
		}

		batch, gone := decodeEvents(buffer[:read])
		if len(batch) > 0 {
			select {
			case w.batches <- batch:
			case <-w.stop:
				return
			}
		}
		if gone {
			return
		}
	}
}

// decodeEvents parses raw inotify records. gone reports that the
// watched directory itself was removed or moved, after which the kernel
// sends nothing more.
//
// Record layout (inotify(7)):
//
//	struct inotify_event {
//	    int32_t  wd;     // offset 0
//	    uint32_t mask;   // offset 4
//	    uint32_t cookie; // offset 8
//	    uint32_t len;    // offset 12
//	    char     name[]; // offset 16, null padded
//	};
func decodeEvents(buffer []byte) (events []Event, gone bool) {
	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buffer) {
		mask := binary.NativeEndian.Uint32(buffer[offset+4 : offset+8])
		nameLength := int(binary.NativeEndian.Uint32(buffer[offset+12 : offset+16]))
		size := unix.SizeofInotifyEvent + nameLength
		if offset+size > len(buffer) {
			break
		}
		name := nullTerminatedString(buffer[offset+unix.SizeofInotifyEvent : offset+size])
		offset += size

		switch {
		case mask&unix.IN_Q_OVERFLOW != 0:
			events = append(events, Event{Op: Overflow})
		case mask&(unix.IN_DELETE_SELF|unix.IN_MOVE_SELF) != 0:
			events = append(events, Event{Op: Removed})
			gone = true
		case mask&unix.IN_IGNORED != 0:
			gone = true
		case mask&(unix.IN_CREATE|unix.IN_MOVED_TO) != 0:
			events = append(events, Event{Op: Created, Name: name})
		case mask&(unix.IN_DELETE|unix.IN_MOVED_FROM) != 0:
			events = append(events, Event{Op: Removed, Name: name})
		case mask&(unix.IN_MODIFY|unix.IN_CLOSE_WRITE|unix.IN_ATTRIB) != 0:
			events = append(events, Event{Op: Modified, Name: name})
		}
	}
	return events, gone
}

func nullTerminatedString(data []byte) string {
	for i, b := range data {
		if b == 0 {
			return string(data[:i])
		}
	}
	return string(data)
}
