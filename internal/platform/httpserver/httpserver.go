package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server for the gateway. The write timeout leaves room
// for the slowest upstream call (card downloads) plus response encoding.
func New(addr string, handler http.Handler, upstreamTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      upstreamTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
