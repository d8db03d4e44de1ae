// Package server exposes a Node over HTTP.
//
// The REST routes, built with chi, open and close channels, query the
// device and send FE-C commands. GET /stream upgrades to a websocket that
// carries every message and failure reported by the Node as JSON events,
// fanned out to subscribers through a Broker.
package server
