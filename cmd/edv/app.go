// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/edv/cmd/edv/cli"
	"github.com/bureau-foundation/edv/lib/blindindex"
	"github.com/bureau-foundation/edv/lib/config"
	"github.com/bureau-foundation/edv/lib/edv"
	"github.com/bureau-foundation/edv/lib/envelope"
	"github.com/bureau-foundation/edv/lib/sealed"
	"github.com/bureau-foundation/edv/lib/version"
	"github.com/bureau-foundation/edv/lib/zcap"
)

// app holds the process streams so commands can run against buffers in
// tests.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// transport overrides the HTTP transport, for tests.
	transport http.RoundTripper
}

func (a *app) root() *cli.Command {
	var showVersion bool
	root := &cli.Command{
		Name:        "edv",
		Description: "Client for encrypted data vaults.",
		HelpOutput:  a.stderr,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("edv", pflag.ContinueOnError)
			flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
			return flagSet
		},
		Subcommands: []*cli.Command{
			a.keygenCommand(),
			a.vaultCommand(),
			a.documentCommand(),
			a.capabilityCommand(),
			a.versionCommand(),
		},
	}
	root.Run = func(args []string) error {
		if showVersion {
			fmt.Fprintln(a.stdout, version.Banner("edv"))
			return nil
		}
		root.PrintHelp(a.stderr)
		if len(args) > 0 {
			return fmt.Errorf("unknown command %q", args[0])
		}
		return fmt.Errorf("subcommand required")
	}
	return root
}

func (a *app) versionCommand() *cli.Command {
	var full bool
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("version", pflag.ContinueOnError)
			flagSet.BoolVar(&full, "full", false, "include Go version and platform")
			return flagSet
		},
		Run: func(args []string) error {
			if full {
				fmt.Fprintln(a.stdout, "edv "+version.Full())
				return nil
			}
			fmt.Fprintln(a.stdout, version.Banner("edv"))
			return nil
		},
	}
}

// sessionParams are the flags shared by every command that talks to a
// vault.
type sessionParams struct {
	Config  string `flag:"config,c" desc:"path to edv.yaml (default: $EDV_CONFIG)"`
	Verbose bool   `flag:"verbose,v" desc:"log each vault request"`
}

// session is a configured client plus the key material it holds.
type session struct {
	config  *config.Config
	client  *edv.Client
	logger  *slog.Logger
	invoker *zcap.Ed25519Invoker
	key     *sealed.KeyAgreementKey
	hmac    *blindindex.HMACKey
}

func (a *app) openSession(params sessionParams) (*session, error) {
	var cfg *config.Config
	var err error
	if params.Config != "" {
		cfg, err = config.LoadFile(params.Config)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &session{
		config: cfg,
		logger: cli.NewCommandLogger(a.stderr, params.Verbose),
	}
	if err := s.loadKeys(); err != nil {
		s.Close()
		return nil, err
	}

	compression, err := sealed.ParseCompression(cfg.Compression)
	if err != nil {
		s.Close()
		return nil, err
	}
	clientConfig := edv.ClientConfig{
		VaultID:    cfg.Vault,
		ServerURL:  cfg.Server,
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout(), Transport: a.transport},
		Logger:     s.logger,
		Cipher:     sealed.NewCipher(compression),
	}
	// Assigning a typed nil pointer would make the interface non-nil.
	if s.key != nil {
		clientConfig.KeyAgreementKey = s.key
	}
	if s.hmac != nil {
		clientConfig.HMAC = s.hmac
	}
	if s.invoker != nil {
		clientConfig.Invoker = s.invoker
	}

	s.client, err = edv.NewClient(clientConfig)
	if err != nil {
		s.Close()
		return nil, err
	}
	for _, attribute := range cfg.Index {
		s.client.EnsureIndex(blindindex.Single(attribute.Attribute), attribute.Unique)
	}
	return s, nil
}

func (s *session) loadKeys() error {
	keys := s.config.Keys
	var err error
	if keys.KeyAgreement != "" {
		if s.key, err = sealed.LoadKeyAgreementKey(keys.KeyAgreementID, keys.KeyAgreement); err != nil {
			return err
		}
	}
	if keys.HMAC != "" {
		secretKey, err := blindindex.LoadKey(keys.HMAC)
		if err != nil {
			return err
		}
		if s.hmac, err = blindindex.NewHMACKey(keys.HMACID, secretKey); err != nil {
			secretKey.Close()
			return err
		}
	}
	if keys.Invoker != "" {
		if s.invoker, err = zcap.LoadEd25519Invoker(keys.Invoker); err != nil {
			return err
		}
	}
	return nil
}

// requireInvoker returns the configured invoker or an error naming the
// missing config key.
func (s *session) requireInvoker() (*zcap.Ed25519Invoker, error) {
	if s.invoker == nil {
		return nil, errors.New("keys.invoker is not configured")
	}
	return s.invoker, nil
}

// Close releases key material.
func (s *session) Close() {
	if s.key != nil {
		s.key.Close()
	}
	if s.hmac != nil {
		s.hmac.Close()
	}
	if s.invoker != nil {
		s.invoker.Close()
	}
}

// recipientHeaders turns --recipient values (age public keys) into
// envelope recipients.
func recipientHeaders(recipients []string) []envelope.RecipientHeader {
	headers := make([]envelope.RecipientHeader, 0, len(recipients))
	for _, recipient := range recipients {
		headers = append(headers, envelope.RecipientHeader{KeyID: recipient, Algorithm: sealed.Algorithm})
	}
	return headers
}
