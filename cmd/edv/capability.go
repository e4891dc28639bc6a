// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/edv/cmd/edv/cli"
	"github.com/bureau-foundation/edv/lib/edv"
	"github.com/bureau-foundation/edv/lib/zcap"
)

func (a *app) capabilityCommand() *cli.Command {
	return &cli.Command{
		Name:    "zcap",
		Summary: "Delegate, enable and revoke authorization capabilities",
		Description: `Share access to a vault with another key. The vault controller (or the
holder of a delegated capability) signs a capability for the
delegatee's DID with "zcap delegate"; the vault controller then
registers it with "zcap enable". The delegatee passes the capability
file to document commands with --capability.`,
		Subcommands: []*cli.Command{
			a.capabilityDelegateCommand(),
			a.capabilityEnableCommand(),
			a.capabilityDisableCommand(),
		},
	}
}

type delegateParams struct {
	sessionParams
	To      string        `flag:"to" desc:"DID of the delegatee (required)"`
	Root    string        `flag:"root" desc:"vault path whose root capability is delegated" default:"documents"`
	Target  string        `flag:"target" desc:"narrower invocation target URL (default: the delegated path)"`
	Action  string        `flag:"action" desc:"restrict to one action: read or write"`
	Expires time.Duration `flag:"expires" desc:"lifetime of the capability (0: no expiry)" default:"24h"`
	Parent  string        `flag:"parent" desc:"delegated capability file to delegate from instead of a root capability"`
}

func (a *app) capabilityDelegateCommand() *cli.Command {
	var params delegateParams
	return &cli.Command{
		Name:    "delegate",
		Summary: "Sign a capability for another key",
		Usage:   "edv zcap delegate [flags] --to <did>",
		Examples: []cli.Example{
			{
				Description: "Let a colleague read one document for a week",
				Command:     "edv zcap delegate --to did:key:z6Mk... --target https://vault.example/edvs/z1/documents/z19x --action read --expires 168h > read.json",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("delegate", &params)
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			if params.To == "" {
				return fmt.Errorf("--to is required")
			}
			switch params.Action {
			case "", zcap.ActionRead, zcap.ActionWrite:
			default:
				return fmt.Errorf("--action must be %q or %q, got %q", zcap.ActionRead, zcap.ActionWrite, params.Action)
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

			var parent *zcap.Capability
			if params.Parent != "" {
				if parent, err = a.readCapability(params.Parent); err != nil {
					return err
				}
			} else {
				vault, err := vaultArgument(s, nil)
				if err != nil {
					return err
				}
				path := strings.Trim(params.Root, "/")
				if path == "" {
					return fmt.Errorf("--root must name a path inside the vault")
				}
				parent = zcap.Root(vault+"/zcaps/"+path, vault+"/"+path)
			}

			options := zcap.DelegateOptions{
				Parent:           parent,
				Delegator:        invoker,
				Invoker:          params.To,
				InvocationTarget: params.Target,
				AllowedAction:    params.Action,
			}
			if params.Expires > 0 {
				options.Expires = time.Now().Add(params.Expires)
			}
			capability, err := zcap.Delegate(context.Background(), options)
			if err != nil {
				return err
			}
			return cli.WriteJSON(a.stdout, capability)
		},
	}
}

func (a *app) capabilityEnableCommand() *cli.Command {
	var params sessionParams
	return &cli.Command{
		Name:    "enable",
		Summary: "Register a delegated capability with the vault",
		Usage:   "edv zcap enable [flags] <capability-file>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("enable", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected a capability file argument")
			}
			capability, err := a.readCapability(args[0])
			if err != nil {
				return err
			}
			s, err := a.openSession(params)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.client.EnableCapability(context.Background(), capability, edv.CallOptions{}); err != nil {
				return err
			}
			s.logger.Info("capability enabled", "capability", capability.ID, "invoker", capability.Invoker)
			return cli.WriteJSON(a.stdout, map[string]any{"id": capability.ID, "enabled": true})
		},
	}
}

func (a *app) capabilityDisableCommand() *cli.Command {
	var params sessionParams
	return &cli.Command{
		Name:    "disable",
		Summary: "Revoke a delegated capability",
		Description: `Remove a capability from the vault's registry. Invocations of it, and of
capabilities delegated from it, are rejected afterwards. Exits with
status 1 when the capability was not enabled.`,
		Usage: "edv zcap disable [flags] <capability-id>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("disable", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected a capability id argument")
			}
			s, err := a.openSession(params)
			if err != nil {
				return err
			}
			defer s.Close()

			disabled, err := s.client.DisableCapability(context.Background(), args[0], edv.CallOptions{})
			if err != nil {
				return err
			}
			if err := cli.WriteJSON(a.stdout, map[string]any{"id": args[0], "disabled": disabled}); err != nil {
				return err
			}
			if !disabled {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}
