package web

import (
	"context"
	_ "embed"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"wabotctl/internal/metrics"
	"wabotctl/util"
)

//go:embed index.html
var indexHTML []byte

const writeTimeout = 5 * time.Second

// Server is the local web console.
type Server struct {
	hub       *Hub
	presenter *Presenter
	metrics   *metrics.Collector
	logger    *util.Logger
	router    chi.Router
	http      *http.Server
}

// NewServer wires the console routes around presenter.
func NewServer(presenter *Presenter, m *metrics.Collector, logger *util.Logger) *Server {
	if logger == nil {
		logger = util.Discard()
	}
	s := &Server{
		hub:       presenter.hub,
		presenter: presenter,
		metrics:   m,
		logger:    logger.With("web"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/", s.handleIndex)
	r.Get("/ws", s.handleWS)
	r.Get("/metrics", s.handleMetrics)
	s.router = r
	return s
}

// Handler returns the console's HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on addr and serves in the background.  It returns the
// bound address.
func (s *Server) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	s.http = &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve: %v", err)
		}
	}()
	s.logger.Info("web console on http://%s", ln.Addr())
	return ln.Addr().String(), nil
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML) //nolint:errcheck
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(s.metrics.JSON())) //nolint:errcheck
}

// wsWriter adapts a websocket connection to the hub's Writer.
type wsWriter struct {
	conn *websocket.Conn
}

func (w *wsWriter) Write(message []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return w.conn.Write(ctx, websocket.MessageText, message)
}

func (w *wsWriter) Close() error {
	return w.conn.Close(websocket.StatusGoingAway, "write failed")
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Verbose("websocket accept: %v", err)
		return
	}
	defer conn.CloseNow()

	ww := &wsWriter{conn: conn}
	for _, msg := range s.presenter.Replay() {
		if err := ww.Write(msg); err != nil {
			return
		}
	}
	s.hub.Register(ww)
	defer s.hub.Unregister(ww)
	if err := ww.Write([]byte(`{"type":"ready"}`)); err != nil {
		return
	}
	s.logger.Verbose("browser connected from %s", r.RemoteAddr)

	// The page never sends; reading only detects the close.
	ctx := conn.CloseRead(r.Context())
	<-ctx.Done()
	s.logger.Verbose("browser %s disconnected", r.RemoteAddr)
}
