// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package edv

import (
	"crypto/rand"

	"github.com/mr-tron/base58"
)

// GenerateID returns a random document or vault identifier: 128
// random bits behind an identity multihash header (0x00, length 0x10),
// base58btc-encoded with the multibase prefix "z".
func GenerateID() string {
	buffer := make([]byte, 2+16)
	buffer[0] = 0x00
	buffer[1] = 0x10
	rand.Read(buffer[2:])
	return "z" + base58.Encode(buffer)
}
