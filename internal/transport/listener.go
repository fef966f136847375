package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ulala-x/playhouse-go/internal/packet"
)

// Accepter is what the dispatcher supplies to wire a freshly-accepted
// Session into the rest of the system: a unique session id and the
// message/close callbacks to attach before the session's goroutines start.
type Accepter interface {
	NextSID() int64
	OnAccept(s *Session)
	OnMessage(s *Session, p packet.Packet)
}

// TCPServer runs the accept loop for the length-prefixed TCP boundary
// (spec.md §4.J), grounded on the teacher's Server.Run/Serve/acceptLoop:
// one goroutine blocked in Accept, one goroutine per connection, and a
// context-driven graceful shutdown that closes the listener to unblock
// Accept.
type TCPServer struct {
	Addr     string
	Options  Options
	Accepter Accepter
	Logger   *slog.Logger
	// TLSConfig, if non-nil, wraps every accepted connection in a TLS
	// handshake before handing it to a Session — the useSsl/certificate
	// deployment option of spec.md §6.
	TLSConfig *tls.Config

	mu       sync.Mutex
	listener net.Listener
}

func (srv *TCPServer) logger() *slog.Logger {
	if srv.Logger != nil {
		return srv.Logger
	}
	return slog.Default()
}

// Run listens on Addr and serves until ctx is cancelled.
func (srv *TCPServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	if srv.TLSConfig != nil {
		ln = tls.NewListener(ln, srv.TLSConfig)
	}
	srv.mu.Lock()
	srv.listener = ln
	srv.mu.Unlock()
	return srv.Serve(ctx, ln)
}

// Serve accepts connections off ln until ctx is cancelled or ln errors.
func (srv *TCPServer) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	logger := srv.logger()
	logger.Info("transport: tcp server started", "address", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			logger.Error("transport: accept failed", "error", err)
			continue
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetKeepAlive(true)
			_ = tcpConn.SetKeepAlivePeriod(30 * time.Second)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv.handle(conn)
		}()
	}
	wg.Wait()
	return nil
}

func (srv *TCPServer) handle(conn net.Conn) {
	sid := srv.Accepter.NextSID()
	s := NewSession(sid, conn, srv.Options, srv.logger())
	srv.Accepter.OnAccept(s)
	go s.WritePump()
	s.ReadLoop(srv.Accepter.OnMessage)
}

// Close closes the listener, unblocking Serve's Accept loop.
func (srv *TCPServer) Close() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.listener != nil {
		return srv.listener.Close()
	}
	return nil
}

// WSServer runs the WebSocket client boundary as a single net/http handler
// upgraded per-request with gorilla/websocket — the natural way to
// generalize the teacher's one-session-per-accepted-connection model onto
// a protocol that rides on top of HTTP's own listener.
type WSServer struct {
	Addr     string
	Path     string
	Options  Options
	Accepter Accepter
	Logger   *slog.Logger
	// CertFile/KeyFile, if both set, serve this listener over TLS — the
	// useSsl/certificate deployment option of spec.md §6.
	CertFile string
	KeyFile  string

	upgrader websocket.Upgrader
	server   http.Server
	once     sync.Once
}

func (srv *WSServer) logger() *slog.Logger {
	if srv.Logger != nil {
		return srv.Logger
	}
	return slog.Default()
}

// Run starts the HTTP server and serves WebSocket upgrades on Path until
// ctx is cancelled.
func (srv *WSServer) Run(ctx context.Context) error {
	path := srv.Path
	if path == "" {
		path = "/ws"
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, srv.handleUpgrade)
	srv.server = http.Server{Addr: srv.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if srv.CertFile != "" && srv.KeyFile != "" {
			errCh <- srv.server.ListenAndServeTLS(srv.CertFile, srv.KeyFile)
			return
		}
		errCh <- srv.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (srv *WSServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.logger().Warn("transport: websocket upgrade failed", "error", err)
		return
	}
	sid := srv.Accepter.NextSID()
	s := NewWSSession(sid, conn, srv.Options, srv.logger())
	srv.Accepter.OnAccept(s)
	go s.WritePump()
	s.ReadLoop(srv.Accepter.OnMessage)
}
