package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime/trace"
	"time"
)

// profiler serves pprof endpoints and records an execution trace for the
// duration of one command. Each part is off unless its address or path is set.
type profiler struct {
	addr      string
	tracePath string
	logger    *slog.Logger

	server    *http.Server
	listener  net.Listener
	traceFile *os.File
}

// start brings up whatever the configuration asks for. A failure leaves the
// profiler stopped; the command itself can still run.
func (p *profiler) start() error {
	if p.addr != "" {
		ln, err := net.Listen("tcp", p.addr)
		if err != nil {
			return fmt.Errorf("listen for pprof on %s: %w", p.addr, err)
		}
		mux := http.NewServeMux()
		// Registered explicitly so the default mux stays untouched.
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

		p.listener = ln
		p.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := p.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				p.logger.Error("pprof server", slog.Any("err", err))
			}
		}()
		p.logger.Info("pprof server started",
			slog.String("addr", ln.Addr().String()),
			slog.String("heap", fmt.Sprintf("http://%s/debug/pprof/heap", ln.Addr())))
	}

	if p.tracePath != "" {
		f, err := os.Create(p.tracePath)
		if err != nil {
			p.stop()
			return fmt.Errorf("create trace file: %w", err)
		}
		if err := trace.Start(f); err != nil {
			f.Close()
			p.stop()
			return fmt.Errorf("start trace: %w", err)
		}
		p.traceFile = f
	}
	return nil
}

// stop shuts everything down. It is safe to call on a profiler that never
// started.
func (p *profiler) stop() {
	if p.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.server.Shutdown(ctx); err != nil {
			p.logger.Warn("pprof server shutdown", slog.Any("err", err))
		}
		p.server, p.listener = nil, nil
	}
	if p.traceFile != nil {
		trace.Stop()
		if err := p.traceFile.Close(); err != nil {
			p.logger.Warn("close trace file", slog.Any("err", err))
		}
		p.traceFile = nil
	}
}
