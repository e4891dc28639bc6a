// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vaultserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/edv/lib/blindindex"
	"github.com/bureau-foundation/edv/lib/codec"
	"github.com/bureau-foundation/edv/lib/edv"
	"github.com/bureau-foundation/edv/lib/sqlitepool"
	"github.com/bureau-foundation/edv/lib/zcap"
)

var (
	// ErrNotFound is returned for a missing vault, document or
	// capability.
	ErrNotFound = errors.New("vaultserver: not found")

	// ErrConflict is returned for a duplicate record, a stale
	// sequence, or a unique attribute already in use.
	ErrConflict = errors.New("vaultserver: conflict")

	// ErrInvalid is returned for a write the store cannot apply.
	ErrInvalid = errors.New("vaultserver: invalid")
)

const (
	defaultFindLimit = 100
	maxFindLimit     = 1000
)

const schema = `
CREATE TABLE IF NOT EXISTS vaults (
	id           TEXT PRIMARY KEY,
	controller   TEXT NOT NULL,
	reference_id TEXT,
	config       BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS vaults_controller ON vaults (controller, reference_id);

CREATE TABLE IF NOT EXISTS documents (
	vault    TEXT NOT NULL,
	id       TEXT NOT NULL,
	sequence INTEGER NOT NULL,
	record   BLOB NOT NULL,
	PRIMARY KEY (vault, id)
);

CREATE TABLE IF NOT EXISTS index_tokens (
	vault     TEXT NOT NULL,
	document  TEXT NOT NULL,
	hmac      TEXT NOT NULL,
	name      TEXT NOT NULL,
	value     TEXT NOT NULL,
	is_unique INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS index_tokens_lookup ON index_tokens (vault, hmac, name, value);
CREATE INDEX IF NOT EXISTS index_tokens_document ON index_tokens (vault, document);

CREATE TABLE IF NOT EXISTS authorizations (
	vault      TEXT NOT NULL,
	id         TEXT NOT NULL,
	capability BLOB NOT NULL,
	PRIMARY KEY (vault, id)
);
`

// StoreConfig holds the parameters for opening a Store.
type StoreConfig struct {
	// Path is the SQLite database file. Required.
	Path string

	// PoolSize is the number of connections. Defaults to 4.
	PoolSize int

	// Logger receives pool lifecycle messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// Store persists vaults in SQLite. Records are stored as deterministic
// CBOR; blinded attributes are also kept in a token table so queries
// and uniqueness checks run in SQL. Safe for concurrent use.
type Store struct {
	pool *sqlitepool.Pool
}

// OpenStore opens or creates the database at config.Path.
func OpenStore(config StoreConfig) (*Store, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     config.Path,
		PoolSize: config.PoolSize,
		Schema:   schema,
		Logger:   config.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("vault store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

func (s *Store) read(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	return s.pool.Read(ctx, fn)
}

// write runs fn with the database write lock held so concurrent
// sequence checks serialize.
func (s *Store) write(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	return s.pool.Write(ctx, fn)
}

// Vaults.

// CreateVault stores a new vault configuration under id.
func (s *Store) CreateVault(ctx context.Context, id string, config edv.VaultConfig) error {
	return s.write(ctx, func(conn *sqlite.Conn) error {
		if config.ReferenceID != "" {
			taken, err := exists(conn, "SELECT 1 FROM vaults WHERE controller = ? AND reference_id = ?",
				config.Controller, config.ReferenceID)
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("%w: reference id %q is in use", ErrConflict, config.ReferenceID)
			}
		}
		record, err := codec.Marshal(config)
		if err != nil {
			return fmt.Errorf("vault store: encoding vault config: %w", err)
		}
		return sqlitex.Execute(conn,
			"INSERT INTO vaults (id, controller, reference_id, config) VALUES (?, ?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{id, config.Controller, nullable(config.ReferenceID), record}})
	})
}

// Vault returns the configuration of vault id.
func (s *Store) Vault(ctx context.Context, id string) (edv.VaultConfig, error) {
	var config edv.VaultConfig
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		var err error
		config, err = loadVault(conn, id)
		return err
	})
	return config, err
}

// FindVaults lists the vaults of controller in creation order. after
// is the id of the last vault of the previous page, or empty.
func (s *Store) FindVaults(ctx context.Context, controller, referenceID, after string, limit int) ([]edv.VaultConfig, error) {
	if limit <= 0 {
		limit = defaultFindLimit
	}
	limit = min(limit, maxFindLimit)

	query := "SELECT config FROM vaults WHERE controller = ?"
	args := []any{controller}
	if referenceID != "" {
		query += " AND reference_id = ?"
		args = append(args, referenceID)
	}
	if after != "" {
		query += " AND rowid > (SELECT rowid FROM vaults WHERE id = ?)"
		args = append(args, after)
	}
	query += " ORDER BY rowid LIMIT ?"
	args = append(args, limit)

	configs := []edv.VaultConfig{}
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var config edv.VaultConfig
				if err := codec.Unmarshal(columnBlob(stmt, 0), &config); err != nil {
					return fmt.Errorf("vault store: decoding vault config: %w", err)
				}
				configs = append(configs, config)
				return nil
			},
		})
	})
	return configs, err
}

// PatchVault applies a JSON Patch to the configuration of vault id.
// sequence must be one more than the stored sequence. The id of the
// configuration cannot be patched.
func (s *Store) PatchVault(ctx context.Context, id string, sequence uint64, patch []byte) (edv.VaultConfig, error) {
	var next edv.VaultConfig
	err := s.write(ctx, func(conn *sqlite.Conn) error {
		current, err := loadVault(conn, id)
		if err != nil {
			return err
		}
		if sequence != current.Sequence+1 {
			return fmt.Errorf("%w: vault is at sequence %d, got %d", ErrConflict, current.Sequence, sequence)
		}

		operations, err := jsonpatch.DecodePatch(patch)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		document, err := json.Marshal(current)
		if err != nil {
			return fmt.Errorf("vault store: encoding vault config: %w", err)
		}
		patched, err := operations.Apply(document)
		if err != nil {
			return fmt.Errorf("%w: applying patch: %v", ErrInvalid, err)
		}
		next = edv.VaultConfig{}
		if err := json.Unmarshal(patched, &next); err != nil {
			return fmt.Errorf("%w: patched config: %v", ErrInvalid, err)
		}
		if next.ID != current.ID {
			return fmt.Errorf("%w: vault id cannot change", ErrInvalid)
		}
		if next.Controller == "" {
			return fmt.Errorf("%w: vault controller is required", ErrInvalid)
		}
		if next.Status != edv.StatusActive && next.Status != edv.StatusDeleted {
			return fmt.Errorf("%w: unknown status %q", ErrInvalid, next.Status)
		}
		next.Sequence = sequence

		if next.ReferenceID != "" {
			taken, err := exists(conn, "SELECT 1 FROM vaults WHERE controller = ? AND reference_id = ? AND id != ?",
				next.Controller, next.ReferenceID, id)
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("%w: reference id %q is in use", ErrConflict, next.ReferenceID)
			}
		}
		return saveVault(conn, id, next)
	})
	return next, err
}

// SetVaultStatus changes the status of vault id.
func (s *Store) SetVaultStatus(ctx context.Context, id string, status edv.VaultStatus) error {
	return s.write(ctx, func(conn *sqlite.Conn) error {
		config, err := loadVault(conn, id)
		if err != nil {
			return err
		}
		config.Status = status
		return saveVault(conn, id, config)
	})
}

func loadVault(conn *sqlite.Conn, id string) (edv.VaultConfig, error) {
	var record []byte
	err := sqlitex.Execute(conn, "SELECT config FROM vaults WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			record = columnBlob(stmt, 0)
			return nil
		},
	})
	if err != nil {
		return edv.VaultConfig{}, fmt.Errorf("vault store: loading vault: %w", err)
	}
	if record == nil {
		return edv.VaultConfig{}, fmt.Errorf("%w: vault %q", ErrNotFound, id)
	}
	var config edv.VaultConfig
	if err := codec.Unmarshal(record, &config); err != nil {
		return edv.VaultConfig{}, fmt.Errorf("vault store: decoding vault config: %w", err)
	}
	return config, nil
}

func saveVault(conn *sqlite.Conn, id string, config edv.VaultConfig) error {
	record, err := codec.Marshal(config)
	if err != nil {
		return fmt.Errorf("vault store: encoding vault config: %w", err)
	}
	return sqlitex.Execute(conn,
		"UPDATE vaults SET controller = ?, reference_id = ?, config = ? WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{config.Controller, nullable(config.ReferenceID), record, id}})
}

// Documents.

// InsertDocument stores a new document. An existing id or a taken
// unique attribute is ErrConflict.
func (s *Store) InsertDocument(ctx context.Context, vault string, doc edv.EncryptedDocument) error {
	return s.write(ctx, func(conn *sqlite.Conn) error {
		_, found, err := documentSequence(conn, vault, doc.ID)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("%w: document %q exists", ErrConflict, doc.ID)
		}
		return insertDocument(conn, vault, doc)
	})
}

// UpdateDocument replaces a document whose stored sequence is one less
// than doc.Sequence, or creates it when absent.
func (s *Store) UpdateDocument(ctx context.Context, vault string, doc edv.EncryptedDocument) error {
	return s.write(ctx, func(conn *sqlite.Conn) error {
		stored, found, err := documentSequence(conn, vault, doc.ID)
		if err != nil {
			return err
		}
		if !found {
			return insertDocument(conn, vault, doc)
		}
		if doc.Sequence != stored+1 {
			return fmt.Errorf("%w: document %q is at sequence %d, got %d", ErrConflict, doc.ID, stored, doc.Sequence)
		}
		if err := checkUnique(conn, vault, doc.ID, doc.Indexed); err != nil {
			return err
		}
		record, err := codec.Marshal(doc)
		if err != nil {
			return fmt.Errorf("vault store: encoding document: %w", err)
		}
		err = sqlitex.Execute(conn, "UPDATE documents SET sequence = ?, record = ? WHERE vault = ? AND id = ?",
			&sqlitex.ExecOptions{Args: []any{int64(doc.Sequence), record, vault, doc.ID}})
		if err != nil {
			return fmt.Errorf("vault store: updating document: %w", err)
		}
		return replaceTokens(conn, vault, doc.ID, "", doc.Indexed)
	})
}

// Document returns the stored record of document id.
func (s *Store) Document(ctx context.Context, vault, id string) (edv.EncryptedDocument, error) {
	var doc edv.EncryptedDocument
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		var err error
		doc, err = loadDocument(conn, vault, id)
		return err
	})
	return doc, err
}

// DeleteDocument removes document id and reports whether it existed.
func (s *Store) DeleteDocument(ctx context.Context, vault, id string) (bool, error) {
	var deleted bool
	err := s.write(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, "DELETE FROM documents WHERE vault = ? AND id = ?",
			&sqlitex.ExecOptions{Args: []any{vault, id}})
		if err != nil {
			return fmt.Errorf("vault store: deleting document: %w", err)
		}
		deleted = conn.Changes() > 0
		return replaceTokens(conn, vault, id, "", nil)
	})
	return deleted, err
}

// UpdateIndex replaces the index entry of document id for the entry's
// HMAC key. entry.Sequence must equal the stored document sequence.
func (s *Store) UpdateIndex(ctx context.Context, vault, id string, entry blindindex.Entry) error {
	return s.write(ctx, func(conn *sqlite.Conn) error {
		doc, err := loadDocument(conn, vault, id)
		if err != nil {
			return err
		}
		if entry.Sequence != doc.Sequence {
			return fmt.Errorf("%w: document %q is at sequence %d, index entry has %d", ErrConflict, id, doc.Sequence, entry.Sequence)
		}
		if err := checkUnique(conn, vault, id, []blindindex.Entry{entry}); err != nil {
			return err
		}

		replaced := false
		for index := range doc.Indexed {
			if doc.Indexed[index].HMAC == entry.HMAC {
				doc.Indexed[index] = entry
				replaced = true
			}
		}
		if !replaced {
			doc.Indexed = append(doc.Indexed, entry)
		}
		record, err := codec.Marshal(doc)
		if err != nil {
			return fmt.Errorf("vault store: encoding document: %w", err)
		}
		err = sqlitex.Execute(conn, "UPDATE documents SET record = ? WHERE vault = ? AND id = ?",
			&sqlitex.ExecOptions{Args: []any{record, vault, id}})
		if err != nil {
			return fmt.Errorf("vault store: updating document: %w", err)
		}
		return replaceTokens(conn, vault, id, entry.HMAC.ID, []blindindex.Entry{entry})
	})
}

// Query returns the documents matching query in insertion order.
func (s *Store) Query(ctx context.Context, vault string, query blindindex.Query) ([]edv.EncryptedDocument, error) {
	results := []edv.EncryptedDocument{}
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		var matched map[string]bool
		if len(query.Has) > 0 {
			for _, name := range query.Has {
				documents, err := tokenDocuments(conn, vault, query.Index, name, nil)
				if err != nil {
					return err
				}
				matched = intersect(matched, documents)
			}
		} else {
			matched = make(map[string]bool)
			for _, predicate := range query.Equals {
				var conjunction map[string]bool
				for name, value := range predicate {
					documents, err := tokenDocuments(conn, vault, query.Index, name, &value)
					if err != nil {
						return err
					}
					conjunction = intersect(conjunction, documents)
				}
				for id := range conjunction {
					matched[id] = true
				}
			}
		}
		if len(matched) == 0 {
			return nil
		}

		return sqlitex.Execute(conn, "SELECT id, record FROM documents WHERE vault = ? ORDER BY rowid", &sqlitex.ExecOptions{
			Args: []any{vault},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				if !matched[stmt.ColumnText(0)] {
					return nil
				}
				var doc edv.EncryptedDocument
				if err := codec.Unmarshal(columnBlob(stmt, 1), &doc); err != nil {
					return fmt.Errorf("vault store: decoding document: %w", err)
				}
				results = append(results, doc)
				return nil
			},
		})
	})
	return results, err
}

func insertDocument(conn *sqlite.Conn, vault string, doc edv.EncryptedDocument) error {
	if err := checkUnique(conn, vault, doc.ID, doc.Indexed); err != nil {
		return err
	}
	record, err := codec.Marshal(doc)
	if err != nil {
		return fmt.Errorf("vault store: encoding document: %w", err)
	}
	err = sqlitex.Execute(conn, "INSERT INTO documents (vault, id, sequence, record) VALUES (?, ?, ?, ?)",
		&sqlitex.ExecOptions{Args: []any{vault, doc.ID, int64(doc.Sequence), record}})
	if err != nil {
		return fmt.Errorf("vault store: inserting document: %w", err)
	}
	return replaceTokens(conn, vault, doc.ID, "", doc.Indexed)
}

func documentSequence(conn *sqlite.Conn, vault, id string) (uint64, bool, error) {
	var sequence int64
	found := false
	err := sqlitex.Execute(conn, "SELECT sequence FROM documents WHERE vault = ? AND id = ?", &sqlitex.ExecOptions{
		Args: []any{vault, id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			sequence = stmt.ColumnInt64(0)
			found = true
			return nil
		},
	})
	if err != nil {
		return 0, false, fmt.Errorf("vault store: loading document sequence: %w", err)
	}
	return uint64(sequence), found, nil
}

func loadDocument(conn *sqlite.Conn, vault, id string) (edv.EncryptedDocument, error) {
	var record []byte
	err := sqlitex.Execute(conn, "SELECT record FROM documents WHERE vault = ? AND id = ?", &sqlitex.ExecOptions{
		Args: []any{vault, id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			record = columnBlob(stmt, 0)
			return nil
		},
	})
	if err != nil {
		return edv.EncryptedDocument{}, fmt.Errorf("vault store: loading document: %w", err)
	}
	if record == nil {
		return edv.EncryptedDocument{}, fmt.Errorf("%w: document %q", ErrNotFound, id)
	}
	var doc edv.EncryptedDocument
	if err := codec.Unmarshal(record, &doc); err != nil {
		return edv.EncryptedDocument{}, fmt.Errorf("vault store: decoding document: %w", err)
	}
	return doc, nil
}

// checkUnique rejects entries whose attribute is held by another
// document under the same HMAC key when either side is unique.
func checkUnique(conn *sqlite.Conn, vault, id string, entries []blindindex.Entry) error {
	for _, entry := range entries {
		for _, attribute := range entry.Attributes {
			taken, err := exists(conn, `SELECT 1 FROM index_tokens
				WHERE vault = ? AND hmac = ? AND name = ? AND value = ? AND document != ?
				AND (is_unique = 1 OR ? = 1) LIMIT 1`,
				vault, entry.HMAC.ID, attribute.Name, attribute.Value, id, flag(attribute.Unique))
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("%w: unique attribute already in use", ErrConflict)
			}
		}
	}
	return nil
}

// replaceTokens rewrites the token rows of document id: all of them
// when hmac is empty, otherwise those of that HMAC key.
func replaceTokens(conn *sqlite.Conn, vault, id, hmac string, entries []blindindex.Entry) error {
	query := "DELETE FROM index_tokens WHERE vault = ? AND document = ?"
	args := []any{vault, id}
	if hmac != "" {
		query += " AND hmac = ?"
		args = append(args, hmac)
	}
	if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
		return fmt.Errorf("vault store: clearing index tokens: %w", err)
	}
	for _, entry := range entries {
		for _, attribute := range entry.Attributes {
			err := sqlitex.Execute(conn,
				"INSERT INTO index_tokens (vault, document, hmac, name, value, is_unique) VALUES (?, ?, ?, ?, ?, ?)",
				&sqlitex.ExecOptions{Args: []any{vault, id, entry.HMAC.ID, attribute.Name, attribute.Value, flag(attribute.Unique)}})
			if err != nil {
				return fmt.Errorf("vault store: writing index token: %w", err)
			}
		}
	}
	return nil
}

// tokenDocuments returns the documents holding blinded attribute name
// under hmac, restricted to value when it is non-nil.
func tokenDocuments(conn *sqlite.Conn, vault, hmac, name string, value *string) (map[string]bool, error) {
	query := "SELECT DISTINCT document FROM index_tokens WHERE vault = ? AND hmac = ? AND name = ?"
	args := []any{vault, hmac, name}
	if value != nil {
		query += " AND value = ?"
		args = append(args, *value)
	}
	documents := make(map[string]bool)
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			documents[stmt.ColumnText(0)] = true
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vault store: querying index tokens: %w", err)
	}
	return documents, nil
}

// intersect returns the intersection of accumulated and next. A nil
// accumulated set stands for "no constraint yet".
func intersect(accumulated, next map[string]bool) map[string]bool {
	if accumulated == nil {
		return next
	}
	for id := range accumulated {
		if !next[id] {
			delete(accumulated, id)
		}
	}
	return accumulated
}

// Capabilities.

// EnableCapability stores a delegated capability. An id already
// enabled is ErrConflict.
func (s *Store) EnableCapability(ctx context.Context, vault string, capability *zcap.Capability) error {
	return s.write(ctx, func(conn *sqlite.Conn) error {
		taken, err := exists(conn, "SELECT 1 FROM authorizations WHERE vault = ? AND id = ?", vault, capability.ID)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: capability %q is enabled", ErrConflict, capability.ID)
		}
		record, err := codec.Marshal(capability)
		if err != nil {
			return fmt.Errorf("vault store: encoding capability: %w", err)
		}
		return sqlitex.Execute(conn, "INSERT INTO authorizations (vault, id, capability) VALUES (?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{vault, capability.ID, record}})
	})
}

// Capability returns the enabled capability id.
func (s *Store) Capability(ctx context.Context, vault, id string) (*zcap.Capability, error) {
	var record []byte
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT capability FROM authorizations WHERE vault = ? AND id = ?", &sqlitex.ExecOptions{
			Args: []any{vault, id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				record = columnBlob(stmt, 0)
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("vault store: loading capability: %w", err)
	}
	if record == nil {
		return nil, fmt.Errorf("%w: capability %q", ErrNotFound, id)
	}
	var capability zcap.Capability
	if err := codec.Unmarshal(record, &capability); err != nil {
		return nil, fmt.Errorf("vault store: decoding capability: %w", err)
	}
	return &capability, nil
}

// DisableCapability removes capability id and reports whether it was
// enabled.
func (s *Store) DisableCapability(ctx context.Context, vault, id string) (bool, error) {
	var deleted bool
	err := s.write(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, "DELETE FROM authorizations WHERE vault = ? AND id = ?",
			&sqlitex.ExecOptions{Args: []any{vault, id}})
		deleted = conn.Changes() > 0
		return err
	})
	return deleted, err
}

func exists(conn *sqlite.Conn, query string, args ...any) (bool, error) {
	found := false
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(*sqlite.Stmt) error {
			found = true
			return nil
		},
	})
	if err != nil {
		return false, fmt.Errorf("vault store: %w", err)
	}
	return found, nil
}

// columnBlob copies a BLOB column. The result is never nil, so a
// caller can tell a matched row from no row.
func columnBlob(stmt *sqlite.Stmt, column int) []byte {
	blob := make([]byte, stmt.ColumnLen(column))
	stmt.ColumnBytes(column, blob)
	return blob
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func flag(value bool) int64 {
	if value {
		return 1
	}
	return 0
}
