// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/edv/cmd/edv/cli"
	"github.com/bureau-foundation/edv/lib/blindindex"
	"github.com/bureau-foundation/edv/lib/sealed"
	"github.com/bureau-foundation/edv/lib/zcap"
)

// Key file names written by keygen.
const (
	keyAgreementFile = "kak.age"
	hmacFile         = "hmac.key"
	invokerFile      = "invoker.key"
)

type keygenParams struct {
	Directory string `flag:"dir,d" desc:"directory to write key files into" default:"."`
	HMACID    string `flag:"hmac-id" desc:"id recorded for the blinding key" default:"urn:edv:hmac:primary"`
	Force     bool   `flag:"force" desc:"overwrite existing key files"`
}

// keygenResult describes the written keys. It never includes secret
// material.
type keygenResult struct {
	KeyAgreement struct {
		ID        string `json:"id"`
		PublicKey string `json:"publicKey"`
		Path      string `json:"path"`
	} `json:"keyAgreement"`
	HMAC struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Path string `json:"path"`
	} `json:"hmac"`
	Invoker struct {
		DID  string `json:"did"`
		Path string `json:"path"`
	} `json:"invoker"`
}

func (a *app) keygenCommand() *cli.Command {
	var params keygenParams
	return &cli.Command{
		Name:    "keygen",
		Summary: "Generate a key agreement key, blinding key and invoker key",
		Description: `Generate the three keys a vault client needs and write them to
--dir with mode 0600:

  kak.age       age X25519 identity; documents are encrypted to it
  hmac.key      HMAC-SHA256 blinding key for the index
  invoker.key   Ed25519 seed that signs requests (DID in invoker.key.pub)

Existing files are left alone unless --force is given.`,
		Usage: "edv keygen [flags]",
		Examples: []cli.Example{
			{Description: "Create keys for a new vault", Command: "edv keygen --dir ~/.edv"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("keygen", &params)
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			result, err := generateKeys(params)
			if err != nil {
				return err
			}
			return cli.WriteJSON(a.stdout, result)
		},
	}
}

func generateKeys(params keygenParams) (*keygenResult, error) {
	if err := os.MkdirAll(params.Directory, 0o700); err != nil {
		return nil, err
	}
	paths := map[string]string{}
	for _, name := range []string{keyAgreementFile, hmacFile, invokerFile} {
		path, err := filepath.Abs(filepath.Join(params.Directory, name))
		if err != nil {
			return nil, err
		}
		if !params.Force {
			if _, err := os.Stat(path); err == nil {
				return nil, fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
		paths[name] = path
	}

	var result keygenResult

	key, err := sealed.GenerateKeyAgreementKey("")
	if err != nil {
		return nil, err
	}
	defer key.Close()
	if err := sealed.SaveKeyAgreementKey(paths[keyAgreementFile], key); err != nil {
		return nil, err
	}
	result.KeyAgreement.ID = key.ID()
	result.KeyAgreement.PublicKey = key.PublicKey()
	result.KeyAgreement.Path = paths[keyAgreementFile]

	secretKey, err := blindindex.GenerateKey()
	if err != nil {
		return nil, err
	}
	defer secretKey.Close()
	if err := blindindex.SaveKey(paths[hmacFile], secretKey); err != nil {
		return nil, err
	}
	result.HMAC.ID = params.HMACID
	result.HMAC.Type = blindindex.TypeHMAC
	result.HMAC.Path = paths[hmacFile]

	invoker, err := zcap.GenerateEd25519Invoker()
	if err != nil {
		return nil, err
	}
	defer invoker.Close()
	if err := zcap.SaveEd25519Invoker(paths[invokerFile], invoker); err != nil {
		return nil, err
	}
	result.Invoker.DID = invoker.DID()
	result.Invoker.Path = paths[invokerFile]

	return &result, nil
}
