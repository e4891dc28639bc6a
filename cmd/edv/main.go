// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"os"

	"github.com/bureau-foundation/edv/cmd/edv/cli"
	"github.com/bureau-foundation/edv/lib/process"
)

func main() {
	if err := run(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		process.Fatal(err)
	}
}

func run() error {
	application := &app{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	return application.root().Execute(os.Args[1:])
}
