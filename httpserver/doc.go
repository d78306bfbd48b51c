// Package httpserver provides the HTTP surface of the validation service:
// the client-facing verify endpoint, the peer sync endpoint, the KSM
// decrypt RPC, and operational endpoints for health checks, draining and
// profiling. The API listener and the Prometheus metrics listener run on
// separate addresses.
package httpserver
