// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vaultserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bureau-foundation/edv/lib/blindindex"
	"github.com/bureau-foundation/edv/lib/edv"
	"github.com/bureau-foundation/edv/lib/envelope"
	"github.com/bureau-foundation/edv/lib/zcap"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	server, err := New(Config{
		Store:  newStore(t),
		Logger: slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	httpServer := httptest.NewServer(server)
	t.Cleanup(httpServer.Close)
	return httpServer
}

func newInvoker(t *testing.T) *zcap.Ed25519Invoker {
	t.Helper()
	invoker, err := zcap.GenerateEd25519Invoker()
	if err != nil {
		t.Fatalf("GenerateEd25519Invoker: %v", err)
	}
	t.Cleanup(func() { invoker.Close() })
	return invoker
}

// do sends an unsigned request and returns the status and body.
func do(t *testing.T, method, url string, body any) (int, []byte) {
	t.Helper()
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		payload = bytes.NewReader(data)
	}
	request, err := http.NewRequest(method, url, payload)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	return send(t, request)
}

// invoke sends a request signed by invoker under capability.
func invoke(t *testing.T, method, url string, body any, capability *zcap.Capability, action string, invoker zcap.Invoker) (int, []byte) {
	t.Helper()
	var payload []byte
	header := http.Header{}
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		header.Set("Content-Type", "application/json")
	}
	signed, err := zcap.NewHTTPSigner(zcap.SignerConfig{}).Sign(context.Background(), zcap.Invocation{
		Method:     method,
		URL:        url,
		Header:     header,
		Body:       payload,
		Capability: capability,
		Action:     action,
		Invoker:    invoker,
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	request, err := http.NewRequest(method, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	request.Header = signed
	return send(t, request)
}

func send(t *testing.T, request *http.Request) (int, []byte) {
	t.Helper()
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("%s %s: %v", request.Method, request.URL, err)
	}
	defer response.Body.Close()
	data, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	return response.StatusCode, data
}

func createVault(t *testing.T, serverURL, controller string) edv.VaultConfig {
	t.Helper()
	status, body := do(t, http.MethodPost, serverURL+"/edvs", edv.VaultConfig{Controller: controller})
	if status != http.StatusCreated {
		t.Fatalf("create vault: status %d: %s", status, body)
	}
	var config edv.VaultConfig
	if err := json.Unmarshal(body, &config); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return config
}

func encryptedDocument(id string, sequence uint64) edv.EncryptedDocument {
	return edv.EncryptedDocument{
		ID:       id,
		Sequence: sequence,
		Indexed:  []blindindex.Entry{},
		JWE: &envelope.Envelope{
			Protected:  "e30",
			Recipients: []envelope.Recipient{{Header: envelope.RecipientHeader{KeyID: "urn:kak:1", Algorithm: "X25519"}, EncryptedKey: "k"}},
			IV:         "iv",
			Ciphertext: "ciphertext",
			Tag:        "tag",
		},
	}
}

func TestVaultConfigRoutes(t *testing.T) {
	server := newTestServer(t)
	alice := newInvoker(t)

	status, _ := do(t, http.MethodPost, server.URL+"/edvs", edv.VaultConfig{})
	if status != http.StatusBadRequest {
		t.Errorf("create without controller: status = %d, want 400", status)
	}
	status, _ = do(t, http.MethodPost, server.URL+"/edvs", edv.VaultConfig{Controller: alice.DID(), Sequence: 2})
	if status != http.StatusBadRequest {
		t.Errorf("create at sequence 2: status = %d, want 400", status)
	}

	config := createVault(t, server.URL, alice.DID())
	if !strings.HasPrefix(config.ID, server.URL+"/edvs/z") {
		t.Errorf("vault id = %q, want prefix %s/edvs/z", config.ID, server.URL)
	}
	if config.Status != edv.StatusActive {
		t.Errorf("Status = %q, want active", config.Status)
	}

	status, body := do(t, http.MethodGet, config.ID, nil)
	if status != http.StatusOK {
		t.Fatalf("get config: status %d: %s", status, body)
	}
	var fetched edv.VaultConfig
	if err := json.Unmarshal(body, &fetched); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if fetched != config {
		t.Errorf("get config = %+v, want %+v", fetched, config)
	}

	status, body = do(t, http.MethodGet, server.URL+"/edvs?controller="+alice.DID(), nil)
	if status != http.StatusOK {
		t.Fatalf("find configs: status %d: %s", status, body)
	}
	var found []edv.VaultConfig
	if err := json.Unmarshal(body, &found); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(found) != 1 || found[0].ID != config.ID {
		t.Errorf("find configs = %+v, want [%s]", found, config.ID)
	}

	missing := server.URL + "/edvs/zmissing"
	tests := []struct {
		name   string
		method string
		url    string
		body   any
		signed bool
		want   int
	}{
		{name: "find without controller", method: http.MethodGet, url: server.URL + "/edvs", want: http.StatusBadRequest},
		{name: "missing vault", method: http.MethodGet, url: missing, want: http.StatusNotFound},
		{name: "patch", method: http.MethodPatch, url: config.ID, signed: true, body: map[string]any{
			"sequence": 1,
			"patch":    []map[string]any{{"op": "add", "path": "/referenceId", "value": "primary"}},
		}, want: http.StatusNoContent},
		{name: "stale patch", method: http.MethodPatch, url: config.ID, signed: true, body: map[string]any{
			"sequence": 1,
			"patch":    []map[string]any{{"op": "add", "path": "/referenceId", "value": "other"}},
		}, want: http.StatusConflict},
		{name: "patch without operations", method: http.MethodPatch, url: config.ID, signed: true, body: map[string]any{"sequence": 2}, want: http.StatusBadRequest},
		{name: "unknown status", method: http.MethodPost, url: config.ID + "/status", signed: true, body: edv.StatusChange{Status: "paused"}, want: http.StatusBadRequest},
		{name: "status of missing vault", method: http.MethodPost, url: missing + "/status", signed: true, body: edv.StatusChange{Status: edv.StatusDeleted}, want: http.StatusNotFound},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var status int
			var body []byte
			if test.signed {
				vault := strings.TrimSuffix(test.url, "/status")
				status, body = invoke(t, test.method, test.url, test.body, zcap.Root(vault, vault), zcap.ActionWrite, alice)
			} else {
				status, body = do(t, test.method, test.url, test.body)
			}
			if status != test.want {
				t.Errorf("status = %d, want %d (body %s)", status, test.want, body)
			}
		})
	}
}

func TestConfigChangesRequireController(t *testing.T) {
	server := newTestServer(t)
	alice := newInvoker(t)
	mallory := newInvoker(t)
	config := createVault(t, server.URL, alice.DID())
	vaultRoot := zcap.Root(config.ID, config.ID)

	takeover := map[string]any{
		"sequence": 1,
		"patch":    []map[string]any{{"op": "replace", "path": "/controller", "value": mallory.DID()}},
	}
	deleteVault := edv.StatusChange{Status: edv.StatusDeleted}
	statusURL := config.ID + "/status"

	t.Run("unsigned patch", func(t *testing.T) {
		if status, body := do(t, http.MethodPatch, config.ID, takeover); status != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401 (body %s)", status, body)
		}
	})
	t.Run("unsigned status", func(t *testing.T) {
		if status, body := do(t, http.MethodPost, statusURL, deleteVault); status != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401 (body %s)", status, body)
		}
	})
	t.Run("patch by another invoker", func(t *testing.T) {
		status, body := invoke(t, http.MethodPatch, config.ID, takeover, vaultRoot, zcap.ActionWrite, mallory)
		if status != http.StatusForbidden {
			t.Errorf("status = %d, want 403 (body %s)", status, body)
		}
	})
	t.Run("status by another invoker", func(t *testing.T) {
		status, body := invoke(t, http.MethodPost, statusURL, deleteVault, vaultRoot, zcap.ActionWrite, mallory)
		if status != http.StatusForbidden {
			t.Errorf("status = %d, want 403 (body %s)", status, body)
		}
	})
	t.Run("document capability", func(t *testing.T) {
		documents := zcap.Root(config.ID+"/zcaps/documents", config.ID+"/documents")
		status, body := invoke(t, http.MethodPatch, config.ID, takeover, documents, zcap.ActionWrite, alice)
		if status != http.StatusForbidden {
			t.Errorf("status = %d, want 403 (body %s)", status, body)
		}
	})
	t.Run("read action", func(t *testing.T) {
		status, body := invoke(t, http.MethodPost, statusURL, deleteVault, vaultRoot, zcap.ActionRead, alice)
		if status != http.StatusForbidden {
			t.Errorf("status = %d, want 403 (body %s)", status, body)
		}
	})

	status, body := do(t, http.MethodGet, config.ID, nil)
	if status != http.StatusOK {
		t.Fatalf("get config: status %d: %s", status, body)
	}
	var current edv.VaultConfig
	if err := json.Unmarshal(body, &current); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if current != config {
		t.Errorf("config after rejected changes = %+v, want %+v", current, config)
	}

	// The controller can delete the vault and restore it.
	for _, change := range []edv.VaultStatus{edv.StatusDeleted, edv.StatusActive} {
		status, body := invoke(t, http.MethodPost, statusURL, edv.StatusChange{Status: change}, vaultRoot, zcap.ActionWrite, alice)
		if status != http.StatusNoContent {
			t.Fatalf("set status %s: status %d: %s", change, status, body)
		}
	}
}

func TestDocumentAuthorization(t *testing.T) {
	server := newTestServer(t)
	alice := newInvoker(t)
	mallory := newInvoker(t)
	config := createVault(t, server.URL, alice.DID())
	other := createVault(t, server.URL, alice.DID())

	documents := config.ID + "/documents"
	rootDocuments := zcap.Root(config.ID+"/zcaps/documents", documents)
	doc := encryptedDocument("doc1", 0)

	status, _ := do(t, http.MethodPost, documents, doc)
	if status != http.StatusUnauthorized {
		t.Errorf("unsigned insert: status = %d, want 401", status)
	}

	tests := []struct {
		name       string
		capability *zcap.Capability
		action     string
		invoker    zcap.Invoker
		want       int
	}{
		{name: "not the controller", capability: rootDocuments, action: zcap.ActionWrite, invoker: mallory, want: http.StatusForbidden},
		{name: "read action", capability: rootDocuments, action: zcap.ActionRead, invoker: alice, want: http.StatusForbidden},
		{name: "root of another vault", capability: zcap.Root(other.ID+"/zcaps/documents", documents), action: zcap.ActionWrite, invoker: alice, want: http.StatusForbidden},
		{name: "root not covering documents", capability: zcap.Root(config.ID+"/zcaps/query", documents), action: zcap.ActionWrite, invoker: alice, want: http.StatusForbidden},
		{name: "controller", capability: rootDocuments, action: zcap.ActionWrite, invoker: alice, want: http.StatusCreated},
		{name: "duplicate", capability: rootDocuments, action: zcap.ActionWrite, invoker: alice, want: http.StatusConflict},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			status, body := invoke(t, http.MethodPost, documents, doc, test.capability, test.action, test.invoker)
			if status != test.want {
				t.Errorf("status = %d, want %d (body %s)", status, test.want, body)
			}
		})
	}

	docURL := documents + "/doc1"
	rootDoc := zcap.Root(config.ID+"/zcaps/documents/doc1", docURL)
	status, body := invoke(t, http.MethodGet, docURL, nil, rootDoc, zcap.ActionRead, alice)
	if status != http.StatusOK {
		t.Fatalf("get: status %d: %s", status, body)
	}
	var fetched edv.EncryptedDocument
	if err := json.Unmarshal(body, &fetched); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if fetched.ID != "doc1" || fetched.JWE == nil || fetched.JWE.Ciphertext != "ciphertext" {
		t.Errorf("get = %+v, want doc1 with its ciphertext", fetched)
	}

	status, _ = invoke(t, http.MethodPost, documents+"/doc2", encryptedDocument("doc1", 1), zcap.Root(config.ID+"/zcaps/documents/doc2", documents+"/doc2"), zcap.ActionWrite, alice)
	if status != http.StatusBadRequest {
		t.Errorf("update with mismatched id: status = %d, want 400", status)
	}
	status, _ = invoke(t, http.MethodPost, docURL, encryptedDocument("doc1", 5), rootDoc, zcap.ActionWrite, alice)
	if status != http.StatusConflict {
		t.Errorf("update at sequence 5: status = %d, want 409", status)
	}
	status, _ = invoke(t, http.MethodPost, docURL, encryptedDocument("doc1", 1), rootDoc, zcap.ActionWrite, alice)
	if status != http.StatusNoContent {
		t.Errorf("update at sequence 1: status = %d, want 204", status)
	}
	status, _ = invoke(t, http.MethodDelete, docURL, nil, rootDoc, zcap.ActionWrite, alice)
	if status != http.StatusNoContent {
		t.Errorf("delete: status = %d, want 204", status)
	}
	status, _ = invoke(t, http.MethodDelete, docURL, nil, rootDoc, zcap.ActionWrite, alice)
	if status != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", status)
	}
}

func TestQueryValidation(t *testing.T) {
	server := newTestServer(t)
	alice := newInvoker(t)
	config := createVault(t, server.URL, alice.DID())
	queryURL := config.ID + "/query"
	root := zcap.Root(config.ID+"/zcaps/query", queryURL)

	tests := []struct {
		name  string
		query map[string]any
		want  int
	}{
		{name: "no index", query: map[string]any{"has": []string{"a"}}, want: http.StatusBadRequest},
		{name: "no filter", query: map[string]any{"index": "h1"}, want: http.StatusBadRequest},
		{name: "both filters", query: map[string]any{"index": "h1", "has": []string{"a"}, "equals": []map[string]string{{"a": "b"}}}, want: http.StatusBadRequest},
		{name: "has", query: map[string]any{"index": "h1", "has": []string{"a"}}, want: http.StatusOK},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			status, body := invoke(t, http.MethodPost, queryURL, test.query, root, zcap.ActionRead, alice)
			if status != test.want {
				t.Errorf("status = %d, want %d (body %s)", status, test.want, body)
			}
		})
	}
}

func TestDeletedVaultRejectsDocuments(t *testing.T) {
	server := newTestServer(t)
	alice := newInvoker(t)
	config := createVault(t, server.URL, alice.DID())

	status, body := invoke(t, http.MethodPost, config.ID+"/status", edv.StatusChange{Status: edv.StatusDeleted},
		zcap.Root(config.ID, config.ID), zcap.ActionWrite, alice)
	if status != http.StatusNoContent {
		t.Fatalf("set status: status %d: %s", status, body)
	}
	documents := config.ID + "/documents"
	status, _ = invoke(t, http.MethodPost, documents, encryptedDocument("doc1", 0),
		zcap.Root(config.ID+"/zcaps/documents", documents), zcap.ActionWrite, alice)
	if status != http.StatusNotFound {
		t.Errorf("insert into deleted vault: status = %d, want 404", status)
	}
}

func TestDelegatedCapability(t *testing.T) {
	server := newTestServer(t)
	alice := newInvoker(t)
	bob := newInvoker(t)
	config := createVault(t, server.URL, alice.DID())

	documents := config.ID + "/documents"
	docURL := documents + "/doc1"
	status, body := invoke(t, http.MethodPost, documents, encryptedDocument("doc1", 0),
		zcap.Root(config.ID+"/zcaps/documents", documents), zcap.ActionWrite, alice)
	if status != http.StatusCreated {
		t.Fatalf("insert: status %d: %s", status, body)
	}

	capability, err := zcap.Delegate(context.Background(), zcap.DelegateOptions{
		Parent:           zcap.Root(config.ID+"/zcaps/documents", documents),
		Delegator:        alice,
		Invoker:          bob.DID(),
		InvocationTarget: docURL,
		AllowedAction:    zcap.ActionRead,
	})
	if err != nil {
		t.Fatalf("Delegate: %v", err)
	}

	authorizations := config.ID + "/authorizations"
	rootAuthorizations := zcap.Root(config.ID+"/zcaps/authorizations", authorizations)

	status, _ = invoke(t, http.MethodGet, docURL, nil, capability, zcap.ActionRead, bob)
	if status != http.StatusForbidden {
		t.Errorf("get before enabling: status = %d, want 403", status)
	}

	// Only the controller may enable capabilities through the root.
	status, _ = invoke(t, http.MethodPost, authorizations, capability, rootAuthorizations, zcap.ActionWrite, bob)
	if status != http.StatusForbidden {
		t.Errorf("enable by delegatee: status = %d, want 403", status)
	}
	status, body = invoke(t, http.MethodPost, authorizations, capability, rootAuthorizations, zcap.ActionWrite, alice)
	if status != http.StatusCreated {
		t.Fatalf("enable: status %d: %s", status, body)
	}
	status, _ = invoke(t, http.MethodPost, authorizations, capability, rootAuthorizations, zcap.ActionWrite, alice)
	if status != http.StatusConflict {
		t.Errorf("second enable: status = %d, want 409", status)
	}

	tests := []struct {
		name    string
		method  string
		url     string
		action  string
		invoker zcap.Invoker
		want    int
	}{
		{name: "delegatee reads", method: http.MethodGet, url: docURL, action: zcap.ActionRead, invoker: bob, want: http.StatusOK},
		{name: "controller cannot use it", method: http.MethodGet, url: docURL, action: zcap.ActionRead, invoker: alice, want: http.StatusForbidden},
		{name: "outside target", method: http.MethodGet, url: documents + "/doc2", action: zcap.ActionRead, invoker: bob, want: http.StatusForbidden},
		{name: "write not allowed", method: http.MethodDelete, url: docURL, action: zcap.ActionWrite, invoker: bob, want: http.StatusForbidden},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			status, body := invoke(t, test.method, test.url, nil, capability, test.action, test.invoker)
			if status != test.want {
				t.Errorf("status = %d, want %d (body %s)", status, test.want, body)
			}
		})
	}

	disableURL := authorizations + "?id=" + capability.ID
	status, body = invoke(t, http.MethodDelete, disableURL, nil, rootAuthorizations, zcap.ActionWrite, alice)
	if status != http.StatusNoContent {
		t.Fatalf("disable: status %d: %s", status, body)
	}
	status, _ = invoke(t, http.MethodGet, docURL, nil, capability, zcap.ActionRead, bob)
	if status != http.StatusForbidden {
		t.Errorf("get after disabling: status = %d, want 403", status)
	}
	status, _ = invoke(t, http.MethodDelete, disableURL, nil, rootAuthorizations, zcap.ActionWrite, alice)
	if status != http.StatusNotFound {
		t.Errorf("second disable: status = %d, want 404", status)
	}
}

func TestDelegationChain(t *testing.T) {
	server := newTestServer(t)
	alice := newInvoker(t)
	bob := newInvoker(t)
	carol := newInvoker(t)
	config := createVault(t, server.URL, alice.DID())

	documents := config.ID + "/documents"
	docURL := documents + "/doc1"
	authorizations := config.ID + "/authorizations"
	rootAuthorizations := zcap.Root(config.ID+"/zcaps/authorizations", authorizations)

	status, body := invoke(t, http.MethodPost, documents, encryptedDocument("doc1", 0),
		zcap.Root(config.ID+"/zcaps/documents", documents), zcap.ActionWrite, alice)
	if status != http.StatusCreated {
		t.Fatalf("insert: status %d: %s", status, body)
	}

	toBob, err := zcap.Delegate(context.Background(), zcap.DelegateOptions{
		Parent:    zcap.Root(config.ID+"/zcaps/documents", documents),
		Delegator: alice,
		Invoker:   bob.DID(),
	})
	if err != nil {
		t.Fatalf("Delegate(bob): %v", err)
	}
	toCarol, err := zcap.Delegate(context.Background(), zcap.DelegateOptions{
		Parent:           toBob,
		Delegator:        bob,
		Invoker:          carol.DID(),
		InvocationTarget: docURL,
		AllowedAction:    zcap.ActionRead,
	})
	if err != nil {
		t.Fatalf("Delegate(carol): %v", err)
	}

	// The second link cannot be enabled while its parent is not.
	status, _ = invoke(t, http.MethodPost, authorizations, toCarol, rootAuthorizations, zcap.ActionWrite, alice)
	if status != http.StatusForbidden {
		t.Errorf("enable before parent: status = %d, want 403", status)
	}
	for _, capability := range []*zcap.Capability{toBob, toCarol} {
		status, body := invoke(t, http.MethodPost, authorizations, capability, rootAuthorizations, zcap.ActionWrite, alice)
		if status != http.StatusCreated {
			t.Fatalf("enable %s: status %d: %s", capability.ID, status, body)
		}
	}

	status, body = invoke(t, http.MethodGet, docURL, nil, toCarol, zcap.ActionRead, carol)
	if status != http.StatusOK {
		t.Errorf("get through chain: status = %d, want 200 (body %s)", status, body)
	}

	status, body = invoke(t, http.MethodDelete, authorizations+"?id="+toBob.ID, nil, rootAuthorizations, zcap.ActionWrite, alice)
	if status != http.StatusNoContent {
		t.Fatalf("disable parent: status %d: %s", status, body)
	}
	status, _ = invoke(t, http.MethodGet, docURL, nil, toCarol, zcap.ActionRead, carol)
	if status != http.StatusForbidden {
		t.Errorf("get after disabling parent: status = %d, want 403", status)
	}
}
