// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the tandem server.
//
// Configuration is loaded from a single file specified by either the
// TANDEM_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks and no automatic file
// search. YAML is the native format; files ending in .json or .jsonc
// are accepted as JSON with comments and trailing commas.
//
// The file may contain environment-specific sections (development,
// production) that override base values when [Config].Environment
// matches. Without a production section, production switches logging
// to JSON.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${TANDEM_ROOT}, and ${VAR:-default} patterns are expanded.
// The default database and signing key paths live under
// ${TANDEM_ROOT}, so setting paths.root moves all of them.
//
// This package depends on no other tandem packages.
package config
