// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework behind the edv binary.
//
// A [Command] tree dispatches on the first positional argument, parses
// pflag flags lazily, and prints structured help with typo
// suggestions for unknown commands and flags. Parameter structs bind
// to flags through struct tags with [FlagsFromParams]:
//
//	type getParams struct {
//	    Config string `flag:"config,c" desc:"path to edv.yaml"`
//	}
//
// Output helpers keep stdout machine-readable: [WriteJSON] emits one
// JSON value (indented when stdout is a terminal) and
// [NewCommandLogger] sends diagnostics to stderr. Input documents are
// read with [ReadJSONC], which accepts comments and trailing commas.
package cli
