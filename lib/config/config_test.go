// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "edv.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return configPath
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Compression != "none" {
		t.Errorf("expected compression=none, got %s", cfg.Compression)
	}
	if cfg.RequestTimeout() != 30*time.Second {
		t.Errorf("RequestTimeout() = %v, want 30s", cfg.RequestTimeout())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestLoadWithoutEnvironmentVariable(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	if _, err := Load(); err == nil {
		t.Fatal("Load() should fail when EDV_CONFIG is unset")
	}
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, "vault: https://vault.example/edvs/z1\n")
	t.Setenv(EnvironmentVariable, configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Vault != "https://vault.example/edvs/z1" {
		t.Errorf("expected vault from file, got %s", cfg.Vault)
	}
}

func TestLoadFile(t *testing.T) {
	configPath := writeConfig(t, `
vault: https://vault.example/edvs/z1
server: https://vault.example
keys:
  key_agreement: /keys/kak.age
  key_agreement_id: urn:edv:kak:primary
  hmac: /keys/hmac.key
  hmac_id: urn:edv:hmac:primary
  invoker: /keys/invoker.key
index:
  - attribute: content.email
    unique: true
  - attribute: content.tags
compression: zstd
timeout: 5s
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server != "https://vault.example" {
		t.Errorf("expected server=https://vault.example, got %s", cfg.Server)
	}
	if cfg.Keys.KeyAgreementID != "urn:edv:kak:primary" {
		t.Errorf("expected key_agreement_id=urn:edv:kak:primary, got %s", cfg.Keys.KeyAgreementID)
	}
	if cfg.Keys.HMAC != "/keys/hmac.key" || cfg.Keys.HMACID != "urn:edv:hmac:primary" {
		t.Errorf("unexpected hmac keys: %+v", cfg.Keys)
	}
	if cfg.Keys.Invoker != "/keys/invoker.key" {
		t.Errorf("expected invoker=/keys/invoker.key, got %s", cfg.Keys.Invoker)
	}
	if len(cfg.Index) != 2 {
		t.Fatalf("expected 2 index attributes, got %d", len(cfg.Index))
	}
	if cfg.Index[0].Attribute != "content.email" || !cfg.Index[0].Unique {
		t.Errorf("Index[0] = %+v, want unique content.email", cfg.Index[0])
	}
	if cfg.Index[1].Unique {
		t.Error("Index[1] should not be unique")
	}
	if cfg.Compression != "zstd" {
		t.Errorf("expected compression=zstd, got %s", cfg.Compression)
	}
	if cfg.RequestTimeout() != 5*time.Second {
		t.Errorf("RequestTimeout() = %v, want 5s", cfg.RequestTimeout())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadFileKeepsDefaults(t *testing.T) {
	configPath := writeConfig(t, "vault: https://vault.example/edvs/z1\n")

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Compression != "none" || cfg.Timeout != "30s" {
		t.Errorf("defaults lost: compression=%s timeout=%s", cfg.Compression, cfg.Timeout)
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFile should fail for a missing file")
	}

	configPath := writeConfig(t, "vault: [unterminated\n")
	_, err := LoadFile(configPath)
	if err == nil {
		t.Fatal("LoadFile should fail for malformed YAML")
	}
	if !strings.Contains(err.Error(), configPath) {
		t.Errorf("error %q should name the file", err)
	}
}

func TestLoadFileExpandsPaths(t *testing.T) {
	t.Setenv("HOME", "/home/operator")
	t.Setenv("EDV_TEST_HOST", "vault.internal")

	configPath := writeConfig(t, `
server: https://${EDV_TEST_HOST}
keys:
  key_agreement: ${HOME}/.edv/kak.age
  invoker: ${EDV_TEST_UNSET:-/etc/edv}/invoker.key
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Server != "https://vault.internal" {
		t.Errorf("expected server=https://vault.internal, got %s", cfg.Server)
	}
	if cfg.Keys.KeyAgreement != "/home/operator/.edv/kak.age" {
		t.Errorf("expected expanded key_agreement, got %s", cfg.Keys.KeyAgreement)
	}
	if cfg.Keys.Invoker != "/etc/edv/invoker.key" {
		t.Errorf("expected default invoker path, got %s", cfg.Keys.Invoker)
	}
}

func TestExpandVars(t *testing.T) {
	tests := []struct {
		input    string
		vars     map[string]string
		expected string
	}{
		{
			input:    "${HOME}/edv",
			vars:     map[string]string{"HOME": "/home/user"},
			expected: "/home/user/edv",
		},
		{
			input:    "${EDV_TEST_MISSING:-default}",
			vars:     map[string]string{},
			expected: "default",
		},
		{
			input:    "${PRESENT:-default}",
			vars:     map[string]string{"PRESENT": "value"},
			expected: "value",
		},
		{
			input:    "${A}/${B}",
			vars:     map[string]string{"A": "first", "B": "second"},
			expected: "first/second",
		},
		{
			input:    "no variables here",
			vars:     map[string]string{},
			expected: "no variables here",
		},
	}

	for _, tt := range tests {
		result := expandVars(tt.input, tt.vars)
		if result != tt.expected {
			t.Errorf("expandVars(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "relative vault URL",
			modify: func(c *Config) {
				c.Vault = "/edvs/z1"
			},
			wantErr: true,
		},
		{
			name: "server without host",
			modify: func(c *Config) {
				c.Server = "https://"
			},
			wantErr: true,
		},
		{
			name: "hmac without id",
			modify: func(c *Config) {
				c.Keys.HMAC = "/keys/hmac.key"
			},
			wantErr: true,
		},
		{
			name: "index attribute without name",
			modify: func(c *Config) {
				c.Index = []IndexAttribute{{Unique: true}}
			},
			wantErr: true,
		},
		{
			name: "unknown compression",
			modify: func(c *Config) {
				c.Compression = "gzip"
			},
			wantErr: true,
		},
		{
			name: "malformed timeout",
			modify: func(c *Config) {
				c.Timeout = "soon"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateReportsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Compression = "gzip"
	cfg.Timeout = "soon"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should fail")
	}
	for _, want := range []string{"compression", "timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err, want)
		}
	}
}
