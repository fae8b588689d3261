// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/strata-fs/strata/lib/fspath"
	"github.com/strata-fs/strata/lib/localfs"
	"github.com/strata-fs/strata/lib/provider"
)

// archiveSeparator splits "backing.tar!/inner/path" arguments.
const archiveSeparator = "!/"

// route selects which process serves a command's paths.
type route string

const (
	routeLocal  route = "local"
	routeRemote route = "remote"
	routeRoot   route = "root"
)

func parseRoute(value string) (route, error) {
	switch r := route(value); r {
	case routeLocal, routeRemote, routeRoot:
		return r, nil
	default:
		return "", fmt.Errorf("--via must be local, remote, or root, got %q", value)
	}
}

// parsePath turns a command-line argument into a provider path. An
// argument with a scheme is a path URI. Anything else is a host path,
// optionally followed by "!/" and a path inside that archive; archives
// nest ("outer.zip!/inner.tar!/file").
func parsePath(argument string) (fspath.Path, error) {
	if strings.Contains(argument, ":") && !strings.Contains(argument, archiveSeparator) {
		if path, err := fspath.ParseURI(argument); err == nil && path.IsAbsolute() {
			return path, nil
		}
	}

	parts := strings.Split(argument, archiveSeparator)
	host, err := filepath.Abs(parts[0])
	if err != nil {
		return fspath.Path{}, fmt.Errorf("resolving %s: %w", parts[0], err)
	}
	path := localfs.Path(host)
	for _, inner := range parts[1:] {
		key, err := fspath.ArchiveKey(path)
		if err != nil {
			return fspath.Path{}, err
		}
		path = fspath.Root(key).Resolve(fspath.Parse(key, inner))
	}
	return path, nil
}

// forwarded rewrites a local-scheme path into the scheme of the helper
// that serves it. Archive keys keep their backing URI; the helper opens
// the backing file itself.
func forwarded(path fspath.Path, via route) fspath.Path {
	if via == routeLocal {
		return path
	}
	if _, already := provider.LocalScheme(path.Key().Scheme); already {
		return path
	}
	return path.WithKey(path.Key().WithScheme(provider.RemoteScheme(path.Key().Scheme)))
}

// display renders a path for output: host paths plainly, everything
// else as a URI.
func display(path fspath.Path) string {
	if path.Key() == fspath.FileKey {
		return path.String()
	}
	return path.URI()
}
