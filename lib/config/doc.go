// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the strata CLI and
// the strata-helper process.
//
// Configuration is loaded from a single file specified by either the
// STRATA_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no ~/.config discovery and no automatic
// file search. A binary that is given neither runs on [Default].
//
// Files ending in .json or .jsonc are read as JSON with comments and
// trailing commas (stripped by tidwall/jsonc); everything else is YAML.
// Both decode into the same yaml-tagged structs, so durations are
// written as "10s" in either form.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${XDG_RUNTIME_DIR}, ${STRATA_RUNTIME}, and ${VAR:-default}
// patterns are expanded. No environment variable overrides a value
// directly.
//
// Key exports:
//
//   - [Config] -- master struct with Helper, Archive, Search, Metrics, Log
//   - [Default] -- returns a Config with every default applied
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Config.Validate] -- explicit validation, all errors joined
package config
