// Package server implements the Control API: an HTTP surface over a
// Coordinator exposing run start/inspect/stop and a replay-then-live
// server-sent event stream, built on github.com/go-chi/chi/v5.
package server
