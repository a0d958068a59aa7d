// Package httpserver builds the API server with project-wide timeouts.
package httpserver

import (
	"net/http"
	"time"
)

// New returns the configured http.Server. Timeouts are generous because
// guarded writes run their audit append in the request transaction.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
