// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// These variables are set via -ldflags at build time, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/edv/lib/version.GitCommit=$(git rev-parse --short HEAD)"
var (
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"

	// Version is set manually for releases.
	Version = "0.1.0-dev"
)

type buildSettings struct {
	revision string
	modified bool
	time     string
}

var embedded = sync.OnceValue(func() buildSettings {
	var settings buildSettings
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return settings
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			settings.revision = setting.Value
		case "vcs.modified":
			settings.modified = setting.Value == "true"
		case "vcs.time":
			settings.time = setting.Value
		}
	}
	return settings
})

// Commit returns the short git SHA of the build.
func Commit() string {
	if GitCommit != "unknown" {
		return GitCommit
	}
	if revision := embedded().revision; revision != "" {
		if len(revision) > 7 {
			revision = revision[:7]
		}
		return revision
	}
	return GitCommit
}

func dirty() bool {
	if GitCommit != "unknown" {
		return GitDirty == "true"
	}
	return embedded().modified
}

func buildTime() string {
	if BuildTime != "unknown" {
		return BuildTime
	}
	if vcsTime := embedded().time; vcsTime != "" {
		return vcsTime
	}
	return BuildTime
}

// Info returns "0.1.0-dev (abc1234-dirty, 2026-...)".
func Info() string {
	suffix := ""
	if dirty() {
		suffix = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, Commit(), suffix, buildTime())
}

// Full returns Info plus the Go version and platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short returns just the version number.
func Short() string {
	return Version
}

// Banner returns the --version line for binary.
func Banner(binary string) string {
	return binary + " " + Info()
}
