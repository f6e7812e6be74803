// Package httpapi exposes the entitlement engine as a JSON HTTP surface.
//
// The package is deliberately thin: handlers decode requests, call the
// domain services and translate sentinel errors onto HTTP statuses
// (validation 422, state conflicts 409, quota exhaustion 429, denied
// features 403, missing resources 404). No business rule lives here.
package httpapi
