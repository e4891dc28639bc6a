// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file for [Load].
const EnvironmentVariable = "EDV_CONFIG"

// Config is the edv client configuration.
type Config struct {
	// Vault is the URL of the vault documents are read from and
	// written to.
	Vault string `yaml:"vault"`

	// Server is the base URL of the vault service, used to create and
	// find vaults.
	Server string `yaml:"server"`

	// Keys locates key material.
	Keys KeysConfig `yaml:"keys"`

	// Index declares the attributes blinded on every write.
	Index []IndexAttribute `yaml:"index"`

	// Compression applied to document payloads before encryption:
	// none, zstd, or lz4.
	// Default: none
	Compression string `yaml:"compression"`

	// Timeout bounds each HTTP request, as a Go duration string.
	// Default: 30s
	Timeout string `yaml:"timeout"`
}

// KeysConfig holds key file paths. Each key is optional; commands
// that need a missing key fail when they run.
type KeysConfig struct {
	// KeyAgreement is an age identity file used to decrypt documents
	// and as the default recipient.
	KeyAgreement string `yaml:"key_agreement"`

	// KeyAgreementID is the recipient key id recorded in envelopes.
	// Default: the age public key of KeyAgreement.
	KeyAgreementID string `yaml:"key_agreement_id"`

	// HMAC is a blinding key file. Indexing is disabled without it.
	HMAC string `yaml:"hmac"`

	// HMACID identifies the blinding key in index entries and queries.
	// Required when HMAC is set.
	HMACID string `yaml:"hmac_id"`

	// Invoker is an Ed25519 private key file that signs capability
	// invocations.
	Invoker string `yaml:"invoker"`
}

// IndexAttribute declares one indexed attribute.
type IndexAttribute struct {
	// Attribute is a dotted path such as "content.email".
	Attribute string `yaml:"attribute"`
	Unique    bool   `yaml:"unique"`
}

// Default returns the default configuration. The defaults only fill
// fields that have a sensible value without a file; the file itself
// is required.
func Default() *Config {
	return &Config{
		Compression: "none",
		Timeout:     "30s",
	}
}

// Load loads configuration from the file named by EDV_CONFIG. There
// is no fallback when the variable is unset.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your edv.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path and expands variables in its
// URL and path fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Vault = expandVars(c.Vault, vars)
	c.Server = expandVars(c.Server, vars)
	c.Keys.KeyAgreement = expandVars(c.Keys.KeyAgreement, vars)
	c.Keys.HMAC = expandVars(c.Keys.HMAC, vars)
	c.Keys.Invoker = expandVars(c.Keys.Invoker, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	for _, field := range []struct{ name, value string }{
		{"vault", c.Vault},
		{"server", c.Server},
	} {
		if field.value == "" {
			continue
		}
		parsed, err := url.Parse(field.value)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL, got %q", field.name, field.value))
		}
	}

	if c.Keys.HMAC != "" && c.Keys.HMACID == "" {
		errs = append(errs, fmt.Errorf("keys.hmac_id is required when keys.hmac is set"))
	}

	for index, attribute := range c.Index {
		if attribute.Attribute == "" {
			errs = append(errs, fmt.Errorf("index[%d].attribute is required", index))
		}
	}

	compressionValues := []string{"none", "zstd", "lz4"}
	if !contains(compressionValues, c.Compression) {
		errs = append(errs, fmt.Errorf("compression must be one of: %v", compressionValues))
	}

	if _, err := time.ParseDuration(c.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("timeout: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// RequestTimeout returns Timeout as a duration. Call Validate first;
// an unparseable value yields zero, meaning no timeout.
func (c *Config) RequestTimeout() time.Duration {
	timeout, _ := time.ParseDuration(c.Timeout)
	return timeout
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
