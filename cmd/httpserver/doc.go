// Package main (cmd/httpserver) implements the OTP validation server.
//
// The server exposes the validation protocol over HTTP: the verify
// endpoint for API clients, a sync endpoint for replay-state exchange
// between redundant validators, and a decrypt endpoint that offers the
// Key Storage Module as a thin RPC.
//
// Storage is selected per concern through location URIs: the device key
// store (memory, file, Vault KV v2, S3, or master-key derivation), the
// replay state store (memory, file, or Redis for multi-validator
// deployments), and the request nonce ledger (memory or Redis). API
// client credentials are loaded from a JSON file written by
// yubistack-provision.
//
// The server implements graceful shutdown on receiving termination
// signals (SIGINT/SIGTERM) and supports health checks, drain/undrain for
// load-balancer rotation, metrics collection, and optional profiling
// endpoints.
//
// Example usage:
//
//	yubistack-server --listen-addr=0.0.0.0:8080 \
//	    --key-store=file:///var/lib/yubistack/keys \
//	    --replay-store=redis://localhost:6379/0 \
//	    --nonce-store=redis://localhost:6379/1 \
//	    --clients-file=/etc/yubistack/clients.json \
//	    --sync-peer=https://val2.example.com:8080
package main
