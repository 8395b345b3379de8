// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
)

// Set via -ldflags. When GitCommit is left unset, Current falls back
// to the VCS stamp the go command embeds in module builds.
var (
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"

	// Version is bumped by hand for releases.
	Version = "0.1.0-dev"
)

// Build describes the running binary.
type Build struct {
	Version   string
	Commit    string
	Dirty     bool
	BuildTime string
	Go        string
	Platform  string
}

// Current returns the build record of this binary.
func Current() Build {
	build := Build{
		Version:   Version,
		Commit:    GitCommit,
		Dirty:     GitDirty == "true",
		BuildTime: BuildTime,
		Go:        runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if build.Commit == "unknown" {
		if info, ok := debug.ReadBuildInfo(); ok {
			build.fromSettings(info.Settings)
		}
	}
	return build
}

func (b *Build) fromSettings(settings []debug.BuildSetting) {
	for _, setting := range settings {
		switch setting.Key {
		case "vcs.revision":
			if len(setting.Value) > 12 {
				setting.Value = setting.Value[:12]
			}
			b.Commit = setting.Value
		case "vcs.modified":
			b.Dirty = setting.Value == "true"
		case "vcs.time":
			if b.BuildTime == "unknown" {
				b.BuildTime = setting.Value
			}
		}
	}
}

// String is the line printed by --version.
func (b Build) String() string {
	dirty := ""
	if b.Dirty {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", b.Version, b.Commit, dirty, b.BuildTime)
}

// LogValue groups the build fields under one log attribute.
func (b Build) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("version", b.Version),
		slog.String("commit", b.Commit),
		slog.Bool("dirty", b.Dirty),
		slog.String("build_time", b.BuildTime),
		slog.String("go", b.Go),
		slog.String("platform", b.Platform),
	)
}
