// Package sqlite implements the auth storage contracts over a single SQLite
// database with embedded migrations.
package sqlite
