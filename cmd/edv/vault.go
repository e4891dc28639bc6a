// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/edv/cmd/edv/cli"
	"github.com/bureau-foundation/edv/lib/edv"
	"github.com/bureau-foundation/edv/lib/sealed"
)

func (a *app) vaultCommand() *cli.Command {
	return &cli.Command{
		Name:    "vault",
		Summary: "Create, inspect and retire vault configurations",
		Subcommands: []*cli.Command{
			a.vaultCreateCommand(),
			a.vaultGetCommand(),
			a.vaultFindCommand(),
			a.vaultPatchCommand(),
			a.vaultStatusCommand(),
		},
	}
}

type vaultCreateParams struct {
	sessionParams
	ReferenceID string `flag:"reference-id" desc:"controller-scoped name for the vault"`
}

func (a *app) vaultCreateCommand() *cli.Command {
	var params vaultCreateParams
	return &cli.Command{
		Name:    "create",
		Summary: "Create a vault controlled by the configured invoker",
		Description: `Create a vault on the configured server. The invoker key's DID becomes
the vault controller; the key agreement and blinding keys, when
configured, are recorded as references in the configuration.

Prints the stored configuration, including the server-assigned id to
put in the "vault" field of edv.yaml.`,
		Usage: "edv vault create [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("create", &params)
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			s, err := a.openSession(params.sessionParams)
			if err != nil {
				return err
			}
			defer s.Close()

			invoker, err := s.requireInvoker()
			if err != nil {
				return err
			}
			request := edv.VaultConfig{
				Controller:  invoker.DID(),
				ReferenceID: params.ReferenceID,
			}
			if s.key != nil {
				request.KeyAgreementKey = &edv.KeyReference{ID: s.key.ID(), Type: sealed.Algorithm}
			}
			if s.hmac != nil {
				request.HMAC = &edv.KeyReference{ID: s.hmac.ID(), Type: s.hmac.Type()}
			}

			created, err := s.client.CreateVault(context.Background(), request)
			if err != nil {
				return err
			}
			s.logger.Info("vault created", "vault", created.ID)
			return cli.WriteJSON(a.stdout, created)
		},
	}
}

func (a *app) vaultGetCommand() *cli.Command {
	var params sessionParams
	return &cli.Command{
		Name:    "get",
		Summary: "Print a vault configuration",
		Usage:   "edv vault get [flags] [vault-url]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("get", &params)
		},
		Run: func(args []string) error {
			s, err := a.openSession(params)
			if err != nil {
				return err
			}
			defer s.Close()

			id, err := vaultArgument(s, args)
			if err != nil {
				return err
			}
			config, err := s.client.GetConfig(context.Background(), id)
			if err != nil {
				return err
			}
			return cli.WriteJSON(a.stdout, config)
		},
	}
}

type vaultFindParams struct {
	sessionParams
	ReferenceID string `flag:"reference-id" desc:"only the vault with this reference id"`
	After       string `flag:"after" desc:"id of the last vault of the previous page"`
	Limit       int    `flag:"limit" desc:"maximum number of vaults to return"`
	Controller  string `flag:"controller" desc:"controller DID (default: the configured invoker)"`
}

func (a *app) vaultFindCommand() *cli.Command {
	var params vaultFindParams
	return &cli.Command{
		Name:    "find",
		Summary: "List the vaults of a controller",
		Usage:   "edv vault find [flags]",
		Examples: []cli.Example{
			{Description: "Look up a vault by reference id", Command: "edv vault find --reference-id primary"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("find", &params)
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			s, err := a.openSession(params.sessionParams)
			if err != nil {
				return err
			}
			defer s.Close()

			controller := params.Controller
			if controller == "" {
				invoker, err := s.requireInvoker()
				if err != nil {
					return fmt.Errorf("--controller not given and %w", err)
				}
				controller = invoker.DID()
			}
			configs, err := s.client.FindConfigs(context.Background(), edv.ConfigQuery{
				Controller:  controller,
				ReferenceID: params.ReferenceID,
				After:       params.After,
				Limit:       params.Limit,
			})
			if err != nil {
				return err
			}
			return cli.WriteJSON(a.stdout, configs)
		},
	}
}

type vaultPatchParams struct {
	sessionParams
	Vault    string `flag:"vault" desc:"vault URL (default: vault from edv.yaml)"`
	Sequence uint64 `flag:"sequence" desc:"sequence to submit (default: current sequence + 1)"`
}

func (a *app) vaultPatchCommand() *cli.Command {
	var params vaultPatchParams
	return &cli.Command{
		Name:    "patch",
		Summary: "Apply a JSON Patch to a vault configuration",
		Description: `Apply an RFC 6902 JSON Patch to a vault configuration. The patch file
holds the array of operations (JSONC accepted; "-" reads stdin). The
vault rejects the patch if the configuration changed since it was read,
or if the result drops the controller or changes the id.`,
		Usage: "edv vault patch [flags] <patch-file>",
		Examples: []cli.Example{
			{
				Description: "Rename a vault",
				Command:     `echo '[{"op":"replace","path":"/referenceId","value":"archive"}]' | edv vault patch -`,
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("patch", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected a patch file argument")
			}
			var operations []edv.PatchOperation
			if err := cli.DecodeJSONC(args[0], a.stdin, &operations); err != nil {
				return err
			}

			s, err := a.openSession(params.sessionParams)
			if err != nil {
				return err
			}
			defer s.Close()

			id := params.Vault
			if id == "" {
				if id, err = vaultArgument(s, nil); err != nil {
					return err
				}
			}
			ctx := context.Background()
			sequence := params.Sequence
			if sequence == 0 {
				current, err := s.client.GetConfig(ctx, id)
				if err != nil {
					return err
				}
				sequence = current.Sequence + 1
			}
			if err := s.client.UpdateConfig(ctx, id, sequence, operations); err != nil {
				return err
			}
			updated, err := s.client.GetConfig(ctx, id)
			if err != nil {
				return err
			}
			return cli.WriteJSON(a.stdout, updated)
		},
	}
}

type vaultStatusParams struct {
	sessionParams
	Vault string `flag:"vault" desc:"vault URL (default: vault from edv.yaml)"`
}

func (a *app) vaultStatusCommand() *cli.Command {
	var params vaultStatusParams
	return &cli.Command{
		Name:    "status",
		Summary: "Mark a vault active or deleted",
		Description: `Set the lifecycle status of a vault. A deleted vault keeps its
configuration but rejects every document operation.`,
		Usage: "edv vault status [flags] <active|deleted>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("status", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected a status argument (active or deleted)")
			}
			status := edv.VaultStatus(args[0])

			s, err := a.openSession(params.sessionParams)
			if err != nil {
				return err
			}
			defer s.Close()

			id := params.Vault
			if id == "" {
				if id, err = vaultArgument(s, nil); err != nil {
					return err
				}
			}
			if err := s.client.SetStatus(context.Background(), id, status); err != nil {
				return err
			}
			s.logger.Info("vault status changed", "vault", id, "status", status)
			return cli.WriteJSON(a.stdout, map[string]string{"id": id, "status": string(status)})
		},
	}
}

// vaultArgument returns the single positional vault URL, or the
// configured vault when there is none.
func vaultArgument(s *session, args []string) (string, error) {
	switch {
	case len(args) > 1:
		return "", fmt.Errorf("expected at most one vault URL, got %d arguments", len(args))
	case len(args) == 1:
		return args[0], nil
	case s.config.Vault != "":
		return s.config.Vault, nil
	default:
		return "", fmt.Errorf("no vault URL given and \"vault\" is not set in the config")
	}
}
