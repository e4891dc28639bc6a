// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/edv/cmd/edv/cli"
	"github.com/bureau-foundation/edv/lib/blindindex"
	"github.com/bureau-foundation/edv/lib/edv"
	"github.com/bureau-foundation/edv/lib/zcap"
)

func (a *app) documentCommand() *cli.Command {
	return &cli.Command{
		Name:    "doc",
		Summary: "Read and write encrypted documents",
		Subcommands: []*cli.Command{
			a.documentInsertCommand(),
			a.documentUpdateCommand(),
			a.documentGetCommand(),
			a.documentDeleteCommand(),
			a.documentFindCommand(),
			a.documentReindexCommand(),
		},
	}
}

// documentParams are the flags of every document command.
type documentParams struct {
	sessionParams
	Capability string `flag:"capability" desc:"delegated capability file authorizing the call"`
}

// callOptions builds per-call options from the flags.
func (a *app) callOptions(params documentParams) (edv.CallOptions, error) {
	var options edv.CallOptions
	if params.Capability != "" {
		capability, err := a.readCapability(params.Capability)
		if err != nil {
			return options, err
		}
		options.Capability = capability
	}
	return options, nil
}

func (a *app) readCapability(path string) (*zcap.Capability, error) {
	var capability zcap.Capability
	if err := cli.DecodeJSONC(path, a.stdin, &capability); err != nil {
		return nil, err
	}
	return &capability, nil
}

// documentInput is the file format of insert and update.
type documentInput struct {
	ID      string         `json:"id"`
	Content map[string]any `json:"content"`
	Meta    map[string]any `json:"meta"`
}

// documentOutput is what document commands print: the plaintext view
// without the envelope.
type documentOutput struct {
	ID       string         `json:"id"`
	Sequence uint64         `json:"sequence"`
	Content  map[string]any `json:"content"`
	Meta     map[string]any `json:"meta,omitempty"`
}

func newDocumentOutput(doc *edv.Document) documentOutput {
	return documentOutput{ID: doc.ID, Sequence: doc.Sequence, Content: doc.Content, Meta: doc.Meta}
}

type insertParams struct {
	documentParams
	ID         string   `flag:"id" desc:"document id (default: id in the file, else generated)"`
	Recipients []string `flag:"recipient" desc:"additional age recipient public key (repeatable)"`
}

func (a *app) documentInsertCommand() *cli.Command {
	var params insertParams
	return &cli.Command{
		Name:    "insert",
		Summary: "Encrypt and store a new document",
		Description: `Encrypt a document and store it in the vault. The file holds
{"id": ..., "content": {...}, "meta": {...}}; id and meta are optional.
JSONC is accepted and "-" reads stdin.

Attributes listed under "index" in edv.yaml are blinded with the HMAC
key and stored alongside the ciphertext.`,
		Usage: "edv doc insert [flags] <file>",
		Examples: []cli.Example{
			{Description: "Insert a contact", Command: "edv doc insert contact.jsonc"},
			{
				Description: "Insert from stdin, readable by a second key",
				Command:     `echo '{"content":{"note":"hi"}}' | edv doc insert --recipient age1... -`,
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("insert", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected a document file argument")
			}
			var input documentInput
			if err := cli.DecodeJSONC(args[0], a.stdin, &input); err != nil {
				return err
			}
			id := params.ID
			if id == "" {
				id = input.ID
			}
			if id == "" {
				id = edv.GenerateID()
			}

			options, err := a.callOptions(params.documentParams)
			if err != nil {
				return err
			}
			options.Recipients = recipientHeaders(params.Recipients)

			s, err := a.openSession(params.sessionParams)
			if err != nil {
				return err
			}
			defer s.Close()

			doc, err := s.client.Insert(context.Background(),
				edv.Document{ID: id, Content: input.Content, Meta: input.Meta}, options)
			if err != nil {
				return err
			}
			return cli.WriteJSON(a.stdout, newDocumentOutput(doc))
		},
	}
}

type updateParams struct {
	documentParams
	Sequence   int      `flag:"sequence" desc:"fail unless the stored document is at this sequence (-1: any)" default:"-1"`
	Recipients []string `flag:"recipient" desc:"additional age recipient public key (repeatable)"`
}

func (a *app) documentUpdateCommand() *cli.Command {
	var params updateParams
	return &cli.Command{
		Name:    "update",
		Summary: "Replace the content of a stored document",
		Description: `Read the current document, replace its content and meta with the file's,
and write it back at the next sequence. Existing recipients are kept;
--recipient adds more. If another writer updates the document in
between, the vault rejects the write and nothing changes.`,
		Usage: "edv doc update [flags] <id> <file>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("update", &params)
		},
		Run: func(args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("expected a document id and a file argument")
			}
			var input documentInput
			if err := cli.DecodeJSONC(args[1], a.stdin, &input); err != nil {
				return err
			}
			if input.ID != "" && input.ID != args[0] {
				return fmt.Errorf("file id %q does not match %q", input.ID, args[0])
			}

			options, err := a.callOptions(params.documentParams)
			if err != nil {
				return err
			}

			s, err := a.openSession(params.sessionParams)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := context.Background()
			current, err := s.client.Get(ctx, args[0], options)
			if err != nil {
				return err
			}
			if params.Sequence >= 0 && current.Sequence != uint64(params.Sequence) {
				return fmt.Errorf("%w: document %q is at sequence %d, not %d",
					edv.ErrInvalidState, current.ID, current.Sequence, params.Sequence)
			}

			current.Content = input.Content
			current.Meta = input.Meta
			options.Recipients = recipientHeaders(params.Recipients)
			updated, err := s.client.Update(ctx, *current, options)
			if err != nil {
				return err
			}
			return cli.WriteJSON(a.stdout, newDocumentOutput(updated))
		},
	}
}

func (a *app) documentGetCommand() *cli.Command {
	var params documentParams
	return &cli.Command{
		Name:    "get",
		Summary: "Fetch and decrypt a document",
		Usage:   "edv doc get [flags] <id>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("get", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected a document id argument")
			}
			options, err := a.callOptions(params)
			if err != nil {
				return err
			}
			s, err := a.openSession(params.sessionParams)
			if err != nil {
				return err
			}
			defer s.Close()

			doc, err := s.client.Get(context.Background(), args[0], options)
			if err != nil {
				return err
			}
			return cli.WriteJSON(a.stdout, newDocumentOutput(doc))
		},
	}
}

func (a *app) documentDeleteCommand() *cli.Command {
	var params documentParams
	return &cli.Command{
		Name:    "delete",
		Summary: "Delete a document",
		Description: `Delete a document. Prints {"id": ..., "deleted": true|false} and exits
with status 1 when the vault had no such document.`,
		Usage: "edv doc delete [flags] <id>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("delete", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected a document id argument")
			}
			options, err := a.callOptions(params)
			if err != nil {
				return err
			}
			s, err := a.openSession(params.sessionParams)
			if err != nil {
				return err
			}
			defer s.Close()

			deleted, err := s.client.Delete(context.Background(), args[0], options)
			if err != nil {
				return err
			}
			if err := cli.WriteJSON(a.stdout, map[string]any{"id": args[0], "deleted": deleted}); err != nil {
				return err
			}
			if !deleted {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

type findParams struct {
	documentParams
	Equals []string `flag:"equals" desc:"attribute=value that must match (repeatable)"`
	Any    bool     `flag:"any" desc:"match documents satisfying any --equals instead of all"`
	Has    []string `flag:"has" desc:"attribute the document must have (repeatable)"`
}

func (a *app) documentFindCommand() *cli.Command {
	var params findParams
	return &cli.Command{
		Name:    "find",
		Summary: "Query documents by indexed attributes",
		Description: `Find documents by blinded attributes. Give either --equals or --has.
Each --equals value is parsed as JSON when it can be (numbers, booleans,
quoted strings) and taken as a plain string otherwise; quote values
like '"42"' to match the string rather than the number.

Only attributes indexed when the documents were written can match.`,
		Usage: "edv doc find [flags]",
		Examples: []cli.Example{
			{Description: "Match on two attributes", Command: "edv doc find --equals content.email=alice@example.com --equals content.active=true"},
			{Description: "Match either address", Command: "edv doc find --any --equals content.email=a@x --equals content.email=b@x"},
			{Description: "Documents tagged at all", Command: "edv doc find --has content.tags"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("find", &params)
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			query, err := buildFindQuery(params)
			if err != nil {
				return err
			}
			options, err := a.callOptions(params.documentParams)
			if err != nil {
				return err
			}
			s, err := a.openSession(params.sessionParams)
			if err != nil {
				return err
			}
			defer s.Close()

			docs, err := s.client.Find(context.Background(), query, options)
			if err != nil {
				return err
			}
			outputs := make([]documentOutput, len(docs))
			for i := range docs {
				outputs[i] = newDocumentOutput(&docs[i])
			}
			return cli.WriteJSON(a.stdout, outputs)
		},
	}
}

func buildFindQuery(params findParams) (edv.FindQuery, error) {
	var query edv.FindQuery
	if len(params.Equals) > 0 && len(params.Has) > 0 {
		return query, errors.New("--equals and --has cannot be combined")
	}
	if len(params.Has) > 0 {
		query.Has = blindindex.Multiple(params.Has)
		return query, nil
	}
	if len(params.Equals) == 0 {
		return query, errors.New("one of --equals or --has is required")
	}

	conjunction := blindindex.Conjunction{}
	var disjunction blindindex.Disjunction
	for _, pair := range params.Equals {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return query, fmt.Errorf("--equals %q: want attribute=value", pair)
		}
		value := parseQueryValue(raw)
		if params.Any {
			disjunction = append(disjunction, map[string]any{name: value})
		} else {
			conjunction[name] = value
		}
	}
	if params.Any {
		query.Equals = disjunction
	} else {
		query.Equals = conjunction
	}
	return query, nil
}

// parseQueryValue decodes raw as a single JSON value, falling back to
// the literal string.
func parseQueryValue(raw string) any {
	decoder := json.NewDecoder(bytes.NewReader([]byte(raw)))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil || decoder.More() {
		return raw
	}
	if _, err := decoder.Token(); err == nil {
		return raw
	}
	return value
}

func (a *app) documentReindexCommand() *cli.Command {
	var params documentParams
	return &cli.Command{
		Name:    "reindex",
		Summary: "Rebuild a document's index entry with the current declarations",
		Description: `Fetch a document and rewrite its blinded index entry for the configured
HMAC key, without re-encrypting it. Use after adding attributes to
"index" in edv.yaml.`,
		Usage: "edv doc reindex [flags] <id>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("reindex", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected a document id argument")
			}
			options, err := a.callOptions(params)
			if err != nil {
				return err
			}
			s, err := a.openSession(params.sessionParams)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := context.Background()
			doc, err := s.client.Get(ctx, args[0], options)
			if err != nil {
				return err
			}
			if err := s.client.UpdateIndex(ctx, *doc, options); err != nil {
				return err
			}
			return cli.WriteJSON(a.stdout, map[string]any{"id": doc.ID, "sequence": doc.Sequence})
		},
	}
}
