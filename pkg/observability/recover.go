package observability

import "runtime/debug"

// RecoverPanic logs a panic with its stack and swallows it. Deferred in
// background jobs so a bad sweep does not take the daemon down; the
// HTTP path has its own recovery middleware.
func RecoverPanic(logger *Logger, job string) {
	if r := recover(); r != nil {
		logger.WithFields(map[string]interface{}{
			"panic": r,
			"job":   job,
			"stack": string(debug.Stack()),
		}).Error("Recovered panic in background job")
	}
}
