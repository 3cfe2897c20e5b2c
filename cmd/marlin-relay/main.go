// Command marlin-relay hosts the server side of the Marlin event bus: an
// EventDriver serving WebSocket, SSE, and long-polling attachments, plus
// a demo status page and a POST endpoint for publishing events onto a
// channel from outside the process.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"marlin-events/internal/config"
	"marlin-events/internal/event"
	"marlin-events/internal/httpx"
	"marlin-events/internal/obslog"
	"marlin-events/internal/pool"
	"marlin-events/internal/serverdriver"
)

func main() {
	obslog.Init("marlin-relay")

	tunables := config.Get()
	driver := serverdriver.New(tunables)

	workerPool, err := pool.NewAntsPool(64)
	if err != nil {
		slog.Error("failed to create worker pool", "error", err)
		os.Exit(1)
	}
	defer workerPool.Release()

	monitor := serverdriver.NewMonitor(driver, workerPool)
	monitor.Start()
	defer monitor.Stop()

	bootstrapDemoChannel(driver)

	mux := http.NewServeMux()
	driver.RegisterRoutes(mux)
	mux.HandleFunc("/status", securityHeaders(statusHandler(driver)))
	mux.HandleFunc("/publish/", securityHeaders(publishHandler(driver)))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8089"
	}

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           obslog.RequestLoggingMiddleware(mux),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second, // generous for long-poll and SSE
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		sigterm := make(chan os.Signal, 1)
		signal.Notify(sigterm, syscall.SIGTERM, syscall.SIGINT)
		<-sigterm
		slog.Info("shutdown signal received, cleaning up")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		slog.Info("cleanup complete")
	}()

	slog.Info("starting marlin-relay", "port", port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// bootstrapDemoChannel registers one open channel ("demo") so the
// binary is immediately useful without any prior provisioning step.
func bootstrapDemoChannel(d *serverdriver.EventDriver) {
	d.CreateChannel("demo", "", "", event.SureDelivery)
}

// securityHeaders mirrors the ambient hardening headers every response
// from the event bus carries, grounded on the teacher's securityHeaders
// middleware, with panic recovery so a misbehaving handler never takes
// the process down.
func securityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic recovered", "error", err, "method", r.Method, "path", r.URL.Path)
				httpx.RespondInternalError(w, "internal server error")
			}
		}()

		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next(w, r)
	}
}

// sanitizer strips any HTML from channel names before /status echoes
// them in its JSON response.
var sanitizer = bluemonday.StrictPolicy()

type statusChannel struct {
	Name        string `json:"name"`
	QueueDepth  int    `json:"queue_depth"`
	Attachments int    `json:"attachments"`
}

// statusHandler reports queue depth and attachment count per channel,
// the read-only introspection surface the original's GetQueueCount /
// GetClientCount exposed.
func statusHandler(d *serverdriver.EventDriver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names := d.ChannelNames()
		out := make([]statusChannel, 0, len(names))
		for _, name := range names {
			ch, ok := d.Lookup(name)
			if !ok {
				continue
			}
			out = append(out, statusChannel{
				Name:        sanitizer.Sanitize(name),
				QueueDepth:  ch.QueueDepth(),
				Attachments: ch.AttachmentCount(),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

// publishHandler lets an external process POST a message onto a
// channel's outbound queue: POST /publish/<channel>?to=<fp>
func publishHandler(d *serverdriver.EventDriver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httpx.RespondBadRequest(w, "POST required")
			return
		}
		name := r.URL.Path[len("/publish/"):]
		if name == "" {
			httpx.RespondBadRequest(w, "missing channel name")
			return
		}

		var addressee uint32
		if v := r.URL.Query().Get("to"); v != "" {
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				httpx.RespondBadRequest(w, "invalid 'to' fingerprint")
				return
			}
			addressee = uint32(n)
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
		if err != nil {
			httpx.RespondBadRequest(w, "failed to read body")
			return
		}

		n, err := d.PostEvent(name, body, addressee, event.Message, "", true)
		if err != nil {
			httpx.RespondNotFound(w, fmt.Sprintf("channel %q not found", name))
			return
		}
		fmt.Fprintf(w, "%d\n", n)
	}
}
