// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// edv-devserver runs the reference vault service on a local TCP
// address, persisting vaults in a SQLite file. It is intended for
// development and for exercising the edv command against a real HTTP
// endpoint:
//
//	edv-devserver --listen 127.0.0.1:8080 --db /tmp/vaults.db
//
// The server shuts down gracefully on SIGINT or SIGTERM. Vault ids are
// built from --base-url when set, otherwise from each request's Host.
package main
