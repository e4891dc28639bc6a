// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// maxKeyFileSize bounds key file reads. Every key format this module
// stores (age identities, hex HMAC keys, Ed25519 seeds) is far smaller.
const maxKeyFileSize = 64 << 10

// ReadFromPath reads a secret from a file, or from stdin when path is
// "-". Surrounding whitespace is trimmed. The caller must close the
// returned buffer.
func ReadFromPath(path string) (*Buffer, error) {
	var source io.Reader
	if path == "-" {
		source = os.Stdin
	} else {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("secret: %w", err)
		}
		defer file.Close()
		source = file
	}

	data, err := io.ReadAll(io.LimitReader(source, maxKeyFileSize+1))
	if err != nil {
		Zero(data)
		return nil, fmt.Errorf("secret: reading %s: %w", path, err)
	}
	defer Zero(data)
	if len(data) > maxKeyFileSize {
		return nil, fmt.Errorf("secret: %s exceeds %d bytes", path, maxKeyFileSize)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("secret: %s is empty", path)
	}
	return NewFromBytes(trimmed)
}
