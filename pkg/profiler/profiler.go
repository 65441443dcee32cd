// Package profiler serves pprof on its own listener, kept away from the
// status server so it can stay bound to loopback.
package profiler

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"time"
)

const (
	readTimeout = 10 * time.Second
	// profile and trace hold the connection open for their sampling window
	writeTimeout = 60 * time.Second
)

func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// Start listens on address and serves pprof in the background. The caller
// owns the returned server and shuts it down.
func Start(address string, log *slog.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}

	server := &http.Server{
		Handler:      Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Profiler stopped", "error", err)
		}
	}()

	log.Info("Profiler listening", "bind", ln.Addr().String())
	return server, nil
}
