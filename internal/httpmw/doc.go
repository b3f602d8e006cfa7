// Package httpmw holds the HTTP middleware shared by the public API: client
// address resolution, request ids, access logging and a per-address limiter
// for observer connection attempts.
package httpmw
