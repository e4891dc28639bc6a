// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vaultserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/bureau-foundation/edv/lib/blindindex"
	"github.com/bureau-foundation/edv/lib/clock"
	"github.com/bureau-foundation/edv/lib/edv"
	"github.com/bureau-foundation/edv/lib/netutil"
	"github.com/bureau-foundation/edv/lib/zcap"
)

// Config holds the parameters for creating a Server.
type Config struct {
	// Store persists vaults. Required.
	Store *Store

	// BaseURL is the public URL of the service, e.g.
	// "https://vault.example". Vault ids and capability targets are
	// built from it. If empty, it is derived from each request's
	// scheme and Host.
	BaseURL string

	// Clock checks signature and capability expiry. Defaults to
	// clock.Real().
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Server is the vault HTTP service.
type Server struct {
	store   *Store
	baseURL string
	clock   clock.Clock
	logger  *slog.Logger
	mux     *http.ServeMux
}

// New creates a Server.
func New(config Config) (*Server, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("vaultserver: Store is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	server := &Server{
		store:   config.Store,
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		clock:   config.Clock,
		logger:  config.Logger,
		mux:     http.NewServeMux(),
	}
	server.mux.HandleFunc("POST /edvs", server.handleCreateVault)
	server.mux.HandleFunc("GET /edvs", server.handleFindVaults)
	server.mux.HandleFunc("GET /edvs/{vault}", server.handleGetVault)
	server.mux.HandleFunc("PATCH /edvs/{vault}", server.handlePatchVault)
	server.mux.HandleFunc("POST /edvs/{vault}/status", server.handleSetStatus)
	server.mux.HandleFunc("POST /edvs/{vault}/documents", server.handleInsert)
	server.mux.HandleFunc("GET /edvs/{vault}/documents/{document}", server.handleGet)
	server.mux.HandleFunc("POST /edvs/{vault}/documents/{document}", server.handleUpdate)
	server.mux.HandleFunc("DELETE /edvs/{vault}/documents/{document}", server.handleDelete)
	server.mux.HandleFunc("POST /edvs/{vault}/documents/{document}/index", server.handleUpdateIndex)
	server.mux.HandleFunc("POST /edvs/{vault}/query", server.handleQuery)
	server.mux.HandleFunc("POST /edvs/{vault}/authorizations", server.handleEnableCapability)
	server.mux.HandleFunc("DELETE /edvs/{vault}/authorizations", server.handleDisableCapability)
	return server, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	s.mux.ServeHTTP(writer, request)
}

// Vault configuration.

func (s *Server) handleCreateVault(writer http.ResponseWriter, request *http.Request) {
	var config edv.VaultConfig
	if err := netutil.DecodeRequest(request, &config); err != nil {
		s.sendError(writer, http.StatusBadRequest, "invalid vault config: %v", err)
		return
	}
	if config.Controller == "" {
		s.sendError(writer, http.StatusBadRequest, "vault controller is required")
		return
	}
	if config.Sequence != 0 {
		s.sendError(writer, http.StatusBadRequest, "sequence of a new vault must be 0")
		return
	}
	if config.Status == "" {
		config.Status = edv.StatusActive
	}

	id := edv.GenerateID()
	config.ID = s.publicURL(request) + "/edvs/" + id
	if err := s.store.CreateVault(request.Context(), id, config); err != nil {
		s.sendStoreError(writer, err)
		return
	}
	s.logger.Info("vault created",
		"vault", config.ID,
		"controller", config.Controller,
	)
	writer.Header().Set("Location", config.ID)
	s.writeJSON(writer, http.StatusCreated, config)
}

func (s *Server) handleFindVaults(writer http.ResponseWriter, request *http.Request) {
	query := request.URL.Query()
	controller := query.Get("controller")
	if controller == "" {
		s.sendError(writer, http.StatusBadRequest, "controller is required")
		return
	}
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.sendError(writer, http.StatusBadRequest, "invalid limit %q", raw)
			return
		}
		limit = parsed
	}
	after := query.Get("after")
	if after != "" {
		after = path.Base(after)
	}

	configs, err := s.store.FindVaults(request.Context(), controller, query.Get("referenceId"), after, limit)
	if err != nil {
		s.sendStoreError(writer, err)
		return
	}
	s.writeJSON(writer, http.StatusOK, configs)
}

func (s *Server) handleGetVault(writer http.ResponseWriter, request *http.Request) {
	config, err := s.store.Vault(request.Context(), request.PathValue("vault"))
	if err != nil {
		s.sendStoreError(writer, err)
		return
	}
	s.writeJSON(writer, http.StatusOK, config)
}

func (s *Server) handlePatchVault(writer http.ResponseWriter, request *http.Request) {
	call, ok := s.authorizeController(writer, request)
	if !ok {
		return
	}
	var body struct {
		Sequence uint64          `json:"sequence"`
		Patch    json.RawMessage `json:"patch"`
	}
	if err := json.Unmarshal(call.body, &body); err != nil {
		s.sendError(writer, http.StatusBadRequest, "invalid patch request: %v", err)
		return
	}
	if len(body.Patch) == 0 {
		s.sendError(writer, http.StatusBadRequest, "patch is required")
		return
	}
	config, err := s.store.PatchVault(request.Context(), call.vault, body.Sequence, body.Patch)
	if err != nil {
		s.sendStoreError(writer, err)
		return
	}
	s.logger.Info("vault config updated", "vault", config.ID, "sequence", config.Sequence)
	writer.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetStatus(writer http.ResponseWriter, request *http.Request) {
	call, ok := s.authorizeController(writer, request)
	if !ok {
		return
	}
	var change edv.StatusChange
	if err := json.Unmarshal(call.body, &change); err != nil {
		s.sendError(writer, http.StatusBadRequest, "invalid status request: %v", err)
		return
	}
	if change.Status != edv.StatusActive && change.Status != edv.StatusDeleted {
		s.sendError(writer, http.StatusBadRequest, "unknown status %q", change.Status)
		return
	}
	vault := call.vault
	if err := s.store.SetVaultStatus(request.Context(), vault, change.Status); err != nil {
		s.sendStoreError(writer, err)
		return
	}
	s.logger.Info("vault status changed", "vault", vault, "status", change.Status)
	writer.WriteHeader(http.StatusNoContent)
}

// Documents.

func (s *Server) handleInsert(writer http.ResponseWriter, request *http.Request) {
	call, ok := s.authorize(writer, request, zcap.ActionWrite)
	if !ok {
		return
	}
	doc, ok := s.decodeDocument(writer, call.body)
	if !ok {
		return
	}
	if doc.Sequence != 0 {
		s.sendError(writer, http.StatusBadRequest, "sequence of a new document must be 0")
		return
	}
	if err := s.store.InsertDocument(request.Context(), call.vault, doc); err != nil {
		s.sendStoreError(writer, err)
		return
	}
	s.logger.Debug("document inserted", "vault", call.config.ID, "document", doc.ID)
	writer.Header().Set("Location", call.config.ID+"/documents/"+url.PathEscape(doc.ID))
	writer.WriteHeader(http.StatusCreated)
}

func (s *Server) handleUpdate(writer http.ResponseWriter, request *http.Request) {
	call, ok := s.authorize(writer, request, zcap.ActionWrite)
	if !ok {
		return
	}
	doc, ok := s.decodeDocument(writer, call.body)
	if !ok {
		return
	}
	if doc.ID != request.PathValue("document") {
		s.sendError(writer, http.StatusBadRequest, "document id does not match the URL")
		return
	}
	if err := s.store.UpdateDocument(request.Context(), call.vault, doc); err != nil {
		s.sendStoreError(writer, err)
		return
	}
	s.logger.Debug("document updated", "vault", call.config.ID, "document", doc.ID, "sequence", doc.Sequence)
	writer.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGet(writer http.ResponseWriter, request *http.Request) {
	call, ok := s.authorize(writer, request, zcap.ActionRead)
	if !ok {
		return
	}
	doc, err := s.store.Document(request.Context(), call.vault, request.PathValue("document"))
	if err != nil {
		s.sendStoreError(writer, err)
		return
	}
	s.writeJSON(writer, http.StatusOK, doc)
}

func (s *Server) handleDelete(writer http.ResponseWriter, request *http.Request) {
	call, ok := s.authorize(writer, request, zcap.ActionWrite)
	if !ok {
		return
	}
	id := request.PathValue("document")
	deleted, err := s.store.DeleteDocument(request.Context(), call.vault, id)
	if err != nil {
		s.sendStoreError(writer, err)
		return
	}
	if !deleted {
		s.sendError(writer, http.StatusNotFound, "document %q not found", id)
		return
	}
	s.logger.Debug("document deleted", "vault", call.config.ID, "document", id)
	writer.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateIndex(writer http.ResponseWriter, request *http.Request) {
	call, ok := s.authorize(writer, request, zcap.ActionWrite)
	if !ok {
		return
	}
	var entry blindindex.Entry
	if err := json.Unmarshal(call.body, &entry); err != nil {
		s.sendError(writer, http.StatusBadRequest, "invalid index entry: %v", err)
		return
	}
	if entry.HMAC.ID == "" {
		s.sendError(writer, http.StatusBadRequest, "index entry has no hmac id")
		return
	}
	if err := s.store.UpdateIndex(request.Context(), call.vault, request.PathValue("document"), entry); err != nil {
		s.sendStoreError(writer, err)
		return
	}
	writer.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQuery(writer http.ResponseWriter, request *http.Request) {
	call, ok := s.authorize(writer, request, zcap.ActionRead)
	if !ok {
		return
	}
	var query blindindex.Query
	if err := json.Unmarshal(call.body, &query); err != nil {
		s.sendError(writer, http.StatusBadRequest, "invalid query: %v", err)
		return
	}
	if query.Index == "" {
		s.sendError(writer, http.StatusBadRequest, "query index is required")
		return
	}
	if (len(query.Equals) == 0) == (len(query.Has) == 0) {
		s.sendError(writer, http.StatusBadRequest, "query needs exactly one of equals or has")
		return
	}
	results, err := s.store.Query(request.Context(), call.vault, query)
	if err != nil {
		s.sendStoreError(writer, err)
		return
	}
	s.writeJSON(writer, http.StatusOK, results)
}

// Capabilities.

func (s *Server) handleEnableCapability(writer http.ResponseWriter, request *http.Request) {
	call, ok := s.authorize(writer, request, zcap.ActionWrite)
	if !ok {
		return
	}
	var capability zcap.Capability
	if err := json.Unmarshal(call.body, &capability); err != nil {
		s.sendError(writer, http.StatusBadRequest, "invalid capability: %v", err)
		return
	}
	if capability.ID == "" || capability.IsRoot() {
		s.sendError(writer, http.StatusBadRequest, "only delegated capabilities can be enabled")
		return
	}
	if err := zcap.VerifyDelegation(&capability, s.clock.Now()); err != nil {
		s.sendError(writer, http.StatusBadRequest, "capability %s: %v", capability.ID, err)
		return
	}
	if err := s.authorizeDelegation(request, call, &capability, 0); err != nil {
		s.sendError(writer, http.StatusForbidden, "capability %s: %v", capability.ID, err)
		return
	}
	if err := s.store.EnableCapability(request.Context(), call.vault, &capability); err != nil {
		s.sendStoreError(writer, err)
		return
	}
	s.logger.Info("capability enabled",
		"vault", call.config.ID,
		"capability", capability.ID,
		"invoker", capability.Invoker,
	)
	writer.WriteHeader(http.StatusCreated)
}

func (s *Server) handleDisableCapability(writer http.ResponseWriter, request *http.Request) {
	call, ok := s.authorize(writer, request, zcap.ActionWrite)
	if !ok {
		return
	}
	id := request.URL.Query().Get("id")
	if id == "" {
		s.sendError(writer, http.StatusBadRequest, "capability id is required")
		return
	}
	deleted, err := s.store.DisableCapability(request.Context(), call.vault, id)
	if err != nil {
		s.sendStoreError(writer, err)
		return
	}
	if !deleted {
		s.sendError(writer, http.StatusNotFound, "capability %q is not enabled", id)
		return
	}
	s.logger.Info("capability disabled", "vault", call.config.ID, "capability", id)
	writer.WriteHeader(http.StatusNoContent)
}

func (s *Server) decodeDocument(writer http.ResponseWriter, body []byte) (edv.EncryptedDocument, bool) {
	var doc edv.EncryptedDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		s.sendError(writer, http.StatusBadRequest, "invalid document: %v", err)
		return doc, false
	}
	if doc.ID == "" {
		s.sendError(writer, http.StatusBadRequest, "document id is required")
		return doc, false
	}
	if doc.JWE == nil || len(doc.JWE.Recipients) == 0 || doc.JWE.Ciphertext == "" {
		s.sendError(writer, http.StatusBadRequest, "document %q has no encrypted payload", doc.ID)
		return doc, false
	}
	return doc, true
}

// publicURL returns the base URL clients use to reach the service.
func (s *Server) publicURL(request *http.Request) string {
	if s.baseURL != "" {
		return s.baseURL
	}
	scheme := "http"
	if request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + request.Host
}

func (s *Server) sendStoreError(writer http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		s.sendError(writer, http.StatusNotFound, "%v", err)
	case errors.Is(err, ErrConflict):
		s.sendError(writer, http.StatusConflict, "%v", err)
	case errors.Is(err, ErrInvalid):
		s.sendError(writer, http.StatusBadRequest, "%v", err)
	default:
		s.logger.Error("vault store failure", "error", err)
		s.sendError(writer, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) sendError(writer http.ResponseWriter, status int, format string, args ...any) {
	s.writeJSON(writer, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

// writeJSON writes value as a JSON response. Encoding failures are
// typically a disconnected client and are only logged.
func (s *Server) writeJSON(writer http.ResponseWriter, status int, value any) {
	if err := netutil.WriteJSON(writer, status, value); err != nil {
		s.logger.Warn("writing JSON response", "error", err, "status", status)
	}
}
