// Package api implements pyde1-core's HTTP request surface (spec §6).
//
// This package provides:
//   - REST endpoints for DE1 state, control-mode configuration, profile
//     upload/selection, device availability and scanning, and log retrieval
//   - a WebSocket hub that mirrors every bus event to connected clients
//   - the ambient middleware stack (request ID, logging, recovery, CORS,
//     body size limit)
//
// # Architecture
//
// The server sits downstream of the event bus, the managed-device handles,
// the profile registry and the flow sequencer. Handlers never touch BLE or
// storage directly: they call into those components' already-synchronised
// public methods and translate the result to JSON.
//
// # Errors
//
// Handlers report failures as *apierror.Error, mapped to the fixed HTTP
// status codes spec §6/§7 specify, with a plain-text body naming the error
// kind and message.
package api
