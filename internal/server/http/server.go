package httpserver

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/juju/errors"

	"github.com/rzbill/logfan/internal/server/http/controllers"
	logpkg "github.com/rzbill/logfan/pkg/log"
)

type Server struct {
	srv    *http.Server
	lis    net.Listener
	hub    *controllers.Hub
	logger logpkg.Logger
}

// New builds the gateway. deps.Hub must be the same Hub the fan-out
// deliverer pushes through.
func New(deps controllers.Deps, logger logpkg.Logger) *Server {
	if logger == nil {
		logger = logpkg.Nop()
	}
	logger = logger.WithComponent("http")
	router := mux.NewRouter()
	router.Use(requestID, accessLog(logger))
	controllers.NewControllerRegistry(deps, logger).RegisterAllRoutes(router)

	return &Server{
		srv:    &http.Server{Handler: cors(deps.Gateway.AllowedOrigins, router), ReadHeaderTimeout: 10 * time.Second},
		hub:    deps.Hub,
		logger: logger,
	}
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Annotatef(err, "listen %s", addr)
	}
	s.lis = l
	s.logger.Info("http gateway listening", logpkg.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		// Shutdown does not touch hijacked connections.
		if s.hub != nil {
			s.hub.CloseAll()
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
	if s.hub != nil {
		s.hub.CloseAll()
	}
}

func cors(allowed []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case len(allowed) == 0:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && controllers.OriginAllowed(allowed, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestID keeps a well-formed incoming X-Request-ID and assigns one
// otherwise. The id is echoed on the response.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get(controllers.RequestIDHeader))
		if _, err := uuid.Parse(rid); err != nil {
			rid = uuid.NewString()
			r.Header.Set(controllers.RequestIDHeader, rid)
		}
		w.Header().Set(controllers.RequestIDHeader, rid)
		next.ServeHTTP(w, r.WithContext(logpkg.ContextWithRequestID(r.Context(), rid)))
	})
}

func accessLog(logger logpkg.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.WithContext(r.Context()).Debug("http request",
				logpkg.Str("method", r.Method),
				logpkg.Str("path", r.URL.Path),
				logpkg.Int("status", rec.status),
				logpkg.Dur("elapsed", time.Since(start)),
			)
		})
	}
}

// statusRecorder captures the response status. It passes Hijack through so
// websocket upgrades keep working behind it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.NotSupportedf("hijack")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
