package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ValentinKolb/dPersist/rpc/common"
	"github.com/ValentinKolb/dPersist/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport/rpc")

// maxRequestSize limits the size of a request body
const maxRequestSize = 64 << 20

func NewHttpServerTransport() *HttpServerTransport {
	return &HttpServerTransport{}
}

var _ transport.IRPCServerTransport = (*HttpServerTransport)(nil)

// HttpServerTransport serves rpc requests over HTTP
type HttpServerTransport struct {
	handler transport.ServerHandleFunc

	mu     sync.Mutex
	server *http.Server
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *HttpServerTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *HttpServerTransport) Listen(config common.ServerConfig) error {
	var handler http.Handler = t.Handler()
	if config.LogLevel == "debug" {
		handler = loggerMiddleware(handler)
	}

	t.mu.Lock()
	t.server = &http.Server{
		Addr:              config.Endpoint,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := t.server
	t.mu.Unlock()

	Logger.Infof("starting HTTP server on %s", config.Endpoint)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (t *HttpServerTransport) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	server := t.server
	t.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// Handler returns the http handler of the transport, e.g. to mount it in a
// test server
func (t *HttpServerTransport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /db/{database}", t.handleRequest)
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	return mux
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleRequest handles incoming HTTP requests and writes the response to the writer
func (t *HttpServerTransport) handleRequest(w http.ResponseWriter, r *http.Request) {
	database := r.PathValue("database")
	if database == "" {
		http.Error(w, "missing database", http.StatusBadRequest)
		return
	}
	if t.handler == nil {
		http.Error(w, "no handler registered", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestSize))
	defer r.Body.Close()
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	resp := t.handler(r.Context(), database, body)

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err = w.Write(resp); err != nil {
		Logger.Warningf("failed to write response: %v", err)
	}
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter is a custom ResponseWriter that captures status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggerMiddleware is a middleware that logs HTTP requests
func loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		Logger.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
