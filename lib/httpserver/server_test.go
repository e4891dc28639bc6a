// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/bureau-foundation/edv/lib/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// start runs Serve in a goroutine and waits for Ready. The returned
// channel receives Serve's result.
func start(t *testing.T, ctx context.Context, server *Server) <-chan error {
	t.Helper()
	served := make(chan error, 1)
	go func() {
		served <- server.Serve(ctx)
	}()
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "server ready")
	return served
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	response, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return response.StatusCode, string(body)
}

func TestNewValidation(t *testing.T) {
	handler := http.NotFoundHandler()
	tests := []struct {
		name   string
		config Config
	}{
		{"missing handler", Config{Address: "127.0.0.1:0"}},
		{"missing address", Config{Handler: handler}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := New(test.config); err == nil {
				t.Errorf("New(%+v) succeeded, want error", test.config)
			}
		})
	}

	server, err := New(Config{Address: "127.0.0.1:0", Handler: handler})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if server.shutdownTimeout != DefaultShutdownTimeout {
		t.Errorf("shutdownTimeout = %v, want %v", server.shutdownTimeout, DefaultShutdownTimeout)
	}
}

func TestServeAndShutdown(t *testing.T) {
	server, err := New(Config{
		Address: "127.0.0.1:0",
		Handler: http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			io.WriteString(writer, "vault")
		}),
		Logger: quietLogger(),
	})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := start(t, ctx, server)

	status, body := get(t, "http://"+server.Addr().String()+"/")
	if status != http.StatusOK || body != "vault" {
		t.Errorf("GET = %d %q, want 200 %q", status, body, "vault")
	}

	cancel()
	if err := testutil.RequireReceive(t, served, 5*time.Second, "serve result"); err != nil {
		t.Errorf("Serve() = %v, want nil", err)
	}

	if _, err := net.DialTimeout("tcp", server.Addr().String(), time.Second); err == nil {
		t.Error("listener still accepting after shutdown")
	}
}

func TestServeAdoptsListener(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server, err := New(Config{
		Listener: listener,
		Handler:  http.NotFoundHandler(),
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := start(t, ctx, server)

	if server.Addr().String() != listener.Addr().String() {
		t.Errorf("Addr() = %v, want %v", server.Addr(), listener.Addr())
	}
	if status, _ := get(t, "http://"+server.Addr().String()+"/missing"); status != http.StatusNotFound {
		t.Errorf("GET status = %d, want 404", status)
	}

	cancel()
	if err := testutil.RequireReceive(t, served, 5*time.Second, "serve result"); err != nil {
		t.Errorf("Serve() = %v, want nil", err)
	}
}

func TestShutdownDrainsInFlightRequests(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	server, err := New(Config{
		Address: "127.0.0.1:0",
		Handler: http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			close(entered)
			<-release
			io.WriteString(writer, "done")
		}),
		Logger: quietLogger(),
	})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := start(t, ctx, server)

	type result struct {
		status int
		body   string
	}
	responses := make(chan result, 1)
	go func() {
		response, err := http.Get("http://" + server.Addr().String() + "/")
		if err != nil {
			responses <- result{}
			return
		}
		defer response.Body.Close()
		body, _ := io.ReadAll(response.Body)
		responses <- result{response.StatusCode, string(body)}
	}()

	testutil.RequireClosed(t, entered, 5*time.Second, "handler entered")
	cancel()

	select {
	case err := <-served:
		t.Fatalf("Serve() returned %v while a request was in flight", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	response := testutil.RequireReceive(t, responses, 5*time.Second, "in-flight response")
	if response.status != http.StatusOK || response.body != "done" {
		t.Errorf("in-flight response = %d %q, want 200 %q", response.status, response.body, "done")
	}
	if err := testutil.RequireReceive(t, served, 5*time.Second, "serve result"); err != nil {
		t.Errorf("Serve() = %v, want nil", err)
	}
}

func TestShutdownTimeout(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	server, err := New(Config{
		Address: "127.0.0.1:0",
		Handler: http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			close(entered)
			<-release
		}),
		ShutdownTimeout: 50 * time.Millisecond,
		Logger:          quietLogger(),
	})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := start(t, ctx, server)

	go func() {
		response, err := http.Get("http://" + server.Addr().String() + "/")
		if err == nil {
			response.Body.Close()
		}
	}()
	testutil.RequireClosed(t, entered, 5*time.Second, "handler entered")
	cancel()

	if err := testutil.RequireReceive(t, served, 5*time.Second, "serve result"); err == nil {
		t.Error("Serve() = nil, want shutdown timeout error")
	}
}

func TestListenError(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer occupied.Close()

	server, err := New(Config{
		Address: occupied.Addr().String(),
		Handler: http.NotFoundHandler(),
		Logger:  quietLogger(),
	})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if err := server.Serve(context.Background()); err == nil {
		t.Error("Serve() on an occupied address succeeded, want error")
	}
}
