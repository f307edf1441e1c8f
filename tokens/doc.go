// Package tokens provides an in-memory token service for testing and
// single-node deployments. A production deployment replaces this with a
// client for the actual token management system; the container core only
// depends on interfaces.TokenService.
package tokens
