package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/network"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/profile"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Server manages the gRPC server lifecycle for a profile daemon.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer creates a gRPC server bound to the profile's Unix domain socket.
func NewServer(p Params, logger *zap.Logger, chatSvc *api.ChatService) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = profile.SocketPath(p.ProfileName)
	}

	// The profile lock is held, so any socket left here is stale.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	srv := grpc.NewServer()
	api.RegisterChatServer(srv, chatSvc)

	return &Server{
		grpcServer: srv,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Start begins serving gRPC requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("gRPC server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(_ context.Context) {
	s.logger.Info("gRPC server stopping")
	s.grpcServer.GracefulStop()
	_ = os.Remove(s.socketPath)
}

// OpsServer serves /metrics and /healthz over TCP. It is inert when no
// address is configured.
type OpsServer struct {
	addr     string
	srv      *http.Server
	listener net.Listener
	logger   *zap.Logger
}

type health struct {
	Status     string `json:"status"`
	Network    string `json:"network"`
	QueueDepth int    `json:"queueDepth"`
}

func NewOpsServer(cfg *config.Config, reg *prometheus.Registry, mon *network.Monitor, q *outbox.Queue, logger *zap.Logger) *OpsServer {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(reg))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(health{
			Status:     "ok",
			Network:    mon.Status(),
			QueueDepth: q.GetPendingCount(),
		})
	})

	return &OpsServer{
		addr:   cfg.Metrics.Addr,
		srv:    &http.Server{Handler: r},
		logger: logger,
	}
}

// Listen binds the configured address. Binding failures abort startup.
func (o *OpsServer) Listen() error {
	if o.addr == "" {
		return nil
	}
	l, err := net.Listen("tcp", o.addr)
	if err != nil {
		return fmt.Errorf("listen ops %s: %w", o.addr, err)
	}
	o.listener = l
	return nil
}

// Addr returns the bound address, or "" when not listening.
func (o *OpsServer) Addr() string {
	if o.listener == nil {
		return ""
	}
	return o.listener.Addr().String()
}

func (o *OpsServer) Serve() {
	if o.listener == nil {
		return
	}
	o.logger.Info("ops server starting", zap.String("addr", o.Addr()))
	go func() {
		if err := o.srv.Serve(o.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			o.logger.Error("ops server error", zap.Error(err))
		}
	}()
}

func (o *OpsServer) Stop(ctx context.Context) {
	if o.listener == nil {
		return
	}
	if err := o.srv.Shutdown(ctx); err != nil {
		o.logger.Warn("ops server shutdown", zap.Error(err))
	}
}
