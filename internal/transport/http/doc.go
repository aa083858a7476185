// Package http implements the HTTP handlers of the SAKA QMS license API.
// Handlers stay thin: they decode and validate the request, call the
// license service and render the result. Failures are rendered as RFC 7807
// problem documents through internal/errors.
//
// # Endpoints
//
//	GET  /api/license/status       current licensing state and hwid
//	GET  /api/license/hwid         fingerprint to send to the vendor
//	POST /api/license/activate     verify and store a license key
//	POST /api/license/verify       verify a key without storing it
//	GET  /api/license/diagnostics  per-source probe report
//	GET  /health, /api/health      liveness
//	GET  /metrics                  Prometheus exposition
//
// # Testing
//
// Handlers are tested with httptest and a testify mock of LicenseService.
package http
