// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError asks main to exit with Code without printing anything more.
// Commands return it when a non-zero status is an answer rather than a
// failure, such as "doc get" for a document that does not exist.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns the exit code. main checks for this method on
// returned errors.
func (e *ExitError) ExitCode() int {
	return e.Code
}
