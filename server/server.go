package server

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/pingcap/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/soheilhy/cmux"
	"go.uber.org/zap"

	"github.com/pingcap/tunadb/engine"
	"github.com/pingcap/tunadb/logutil"
)

// Server is the network boundary in front of one engine.Engine: one TCP
// listener demultiplexed by github.com/soheilhy/cmux into the framed wire
// protocol and an HTTP debug mux
// (github.com/gorilla/mux), the latter exposing Prometheus metrics and a
// read-only JSON view of the same configuration/table listing the wire
// protocol's dot-commands serve. Accepting connections and dispatching
// messages are kept as separate loops.
type Server struct {
	engine  *engine.Engine
	metrics *metrics

	mu       sync.Mutex
	listener net.Listener
	cm       cmux.CMux
}

// New returns a Server driving e. Call ListenAndServe to start accepting
// connections.
func New(e *engine.Engine) *Server {
	return &Server{engine: e, metrics: newMetrics(e)}
}

// ListenAndServe binds addr and serves both the wire protocol and the
// debug HTTP mux off the single listener until Close is called or a fatal
// accept error occurs.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Annotatef(err, "server: listening on %s", addr)
	}

	cm := cmux.New(l)
	s.mu.Lock()
	s.listener = l
	s.cm = cm
	s.mu.Unlock()

	httpL := cm.Match(cmux.HTTP1Fast())
	wireL := cm.Match(cmux.Any())

	go s.serveHTTP(httpL)
	go s.serveWire(wireL)

	logutil.L().Info("server listening", zap.String("addr", addr))
	if err := cm.Serve(); err != nil && !isUseOfClosedConn(err) {
		return errors.Annotate(err, "server: cmux")
	}
	return nil
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cm != nil {
		s.cm.Close()
	}
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) serveWire(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		s.metrics.activeConns.Inc()
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	defer s.metrics.activeConns.Dec()

	for {
		text, err := readRequest(conn)
		if err != nil {
			writeFrame(conn, RespConnectionClosed, nil)
			return
		}

		typ, body := handle(s.engine, text)
		s.metrics.observeRequest(commandLabel(text), typ)
		if err := writeFrame(conn, typ, body); err != nil {
			logutil.L().Warn("server: writing response", zap.Error(err))
			return
		}

		if strings.TrimSpace(text) == ".stop" {
			go func() {
				s.engine.Stop()
				s.Close()
			}()
			return
		}
	}
}

// commandLabel reduces a request to a low-cardinality metric label: the
// dot-command keyword, or "query" for anything else.
func commandLabel(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, ".") {
		return "query"
	}
	if i := strings.IndexByte(text, ' '); i >= 0 {
		return text[:i]
	}
	return text
}

func (s *Server) serveHTTP(l net.Listener) {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	r.HandleFunc("/config", s.handleHTTPConfig).Methods(http.MethodGet)
	r.HandleFunc("/tables", s.handleHTTPTables).Methods(http.MethodGet)
	http.Serve(l, r)
}

func (s *Server) handleHTTPConfig(w http.ResponseWriter, _ *http.Request) {
	_, body := handleConfig(s.engine)
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func (s *Server) handleHTTPTables(w http.ResponseWriter, _ *http.Request) {
	names := s.engine.DB.Names()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(names)
}

func isUseOfClosedConn(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") || strings.Contains(msg, "listener closed")
}
