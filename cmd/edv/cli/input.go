// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/tidwall/jsonc"
)

// maxInputSize bounds documents read from files or stdin.
const maxInputSize = 16 << 20

// ReadJSONC reads path ("-" for stdin) and returns it as strict JSON.
// Comments and trailing commas are stripped.
func ReadJSONC(path string, stdin io.Reader) ([]byte, error) {
	var reader io.Reader
	if path == "-" {
		reader = stdin
	} else {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		reader = file
	}

	data, err := io.ReadAll(io.LimitReader(reader, maxInputSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(data) > maxInputSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", path, maxInputSize)
	}
	return jsonc.ToJSON(data), nil
}

// DecodeJSONC reads path with ReadJSONC and decodes it into value.
// Numbers decode as json.Number so integers survive unchanged, and
// trailing data after the first value is rejected.
func DecodeJSONC(path string, stdin io.Reader, value any) error {
	data, err := ReadJSONC(path, stdin)
	if err != nil {
		return err
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(value); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if decoder.More() {
		return fmt.Errorf("parsing %s: unexpected data after the first JSON value", path)
	}
	return nil
}
