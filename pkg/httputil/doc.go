// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// This package offers helper functions for JSON encoding/decoding, error responses,
// parameter parsing, and common HTTP middleware patterns.
//
// # Response Helpers
//
// JSON responses:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteSuccess(w, associations)
//	httputil.WriteNoContent(w)
//
// Error responses:
//
//	httputil.WriteError(w, http.StatusBadRequest, err)
//	httputil.WriteBadRequest(w, "Invalid input")
//	httputil.WriteUnauthorized(w, "login required")
//	httputil.WriteNotFoundError(w, "association not found")
//
// # Request Parsing
//
// JSON parsing:
//
//	var req DisconnectRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// Path parameters:
//
//	provider, err := httputil.ParsePathString(r, "provider")
//
// Query parameters:
//
//	next := httputil.ParseQueryString(r, "next", "/")
//	force, err := httputil.ParseQueryBool(r, "force", false)
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware,
//		httputil.RecoveryMiddleware,
//		httputil.MaxBytesMiddleware(1024*1024), // 1MB
//	)
//
// # Related Packages
//
//   - pkg/social: Authentication handlers built on these helpers
//   - pkg/observability: Metrics middleware for the same handler chain
package httputil
