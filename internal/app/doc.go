// Package app wires the SAKA QMS server together.
//
// # Initialization Flow
//
//	1. The caller loads configuration and initializes logging
//	2. NewApplication creates the Prometheus registry and OpenTelemetry providers
//	3. The license manager is built from the hardware collector, the file
//	   store and the embedded public key
//	4. The router is assembled: request middleware, the license gate, the
//	   license API, health and metrics
//	5. Serve or Run accepts connections until the context is cancelled
//
// # Graceful Shutdown
//
// Cancelling the context stops accepting connections, lets active requests
// finish within Server.ShutdownTimeout and flushes telemetry.
//
// The app does not call os.Exit; all errors are returned to main.
package app
