// Package server composes and runs the auth process boundary.
//
// It hosts the gRPC health endpoint and wires the ceremony, artifact,
// consent, and token components over one SQLite store so credential and
// session decisions are made from a single source of truth.
package server
