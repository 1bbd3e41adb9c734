package daemon

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/qbanklabs/qbank-go/internal/application/common"
	"github.com/qbanklabs/qbank-go/internal/infrastructure/config"
)

// Server hosts the pipeline daemon: the unix-socket gRPC endpoint the
// CLI talks to plus the per-stage runners that drain the queue.
type Server struct {
	service *daemonService
	runners []*StageRunner

	socketPath string
	listener   net.Listener
	tcpConn    net.Listener

	shutdownTimeout time.Duration

	// Shutdown coordination
	shutdownChan chan os.Signal
	done         chan struct{}
}

// NewServer binds the unix socket (and the optional TCP address) and
// prepares the daemon for Start. Runners are owned by the server and
// stopped on shutdown.
func NewServer(
	mediator common.Mediator,
	cfg *config.DaemonConfig,
	version string,
	runners []*StageRunner,
) (*Server, error) {
	// Remove existing socket file if present
	if err := os.RemoveAll(cfg.SocketPath); err != nil {
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create unix socket listener: %w", err)
	}

	// Socket permissions: owner only
	if err := os.Chmod(cfg.SocketPath, 0600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}

	var tcpConn net.Listener
	if cfg.Address != "" {
		tcpConn, err = net.Listen("tcp", cfg.Address)
		if err != nil {
			listener.Close()
			return nil, fmt.Errorf("failed to create tcp listener on %s: %w", cfg.Address, err)
		}
	}

	server := &Server{
		service:         newDaemonService(mediator, version),
		runners:         runners,
		socketPath:      cfg.SocketPath,
		listener:        listener,
		tcpConn:         tcpConn,
		shutdownTimeout: cfg.ShutdownTimeout,
		shutdownChan:    make(chan os.Signal, 1),
		done:            make(chan struct{}),
	}

	signal.Notify(server.shutdownChan, os.Interrupt, syscall.SIGTERM)

	return server, nil
}

// Start begins serving gRPC requests and launches the stage runners.
// It blocks until a shutdown signal arrives or the server fails.
func (s *Server) Start() error {
	fmt.Printf("Daemon listening on unix socket: %s\n", s.listener.Addr().String())
	if s.tcpConn != nil {
		fmt.Printf("Daemon listening on tcp: %s\n", s.tcpConn.Addr().String())
	}

	for _, runner := range s.runners {
		runner.Start()
	}

	go s.handleShutdown()

	grpcServer := grpc.NewServer(grpc.ForceServerCodec(msgpackCodec{}))
	grpcServer.RegisterService(&serviceDesc, s.service)

	errChan := make(chan error, len(s.runners)+2)
	go func() {
		if err := grpcServer.Serve(s.listener); err != nil {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	if s.tcpConn != nil {
		go func() {
			if err := grpcServer.Serve(s.tcpConn); err != nil {
				errChan <- fmt.Errorf("gRPC tcp server error: %w", err)
			}
		}()
	}

	select {
	case err := <-errChan:
		s.stopAllRunners()
		return err
	case <-s.done:
		fmt.Println("Initiating graceful shutdown of gRPC server...")
		grpcServer.GracefulStop()
		return nil
	}
}

// Shutdown triggers the same path a SIGTERM would. Used by tests and
// by the pidfile takeover sequence.
func (s *Server) Shutdown() {
	select {
	case s.shutdownChan <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) handleShutdown() {
	<-s.shutdownChan
	fmt.Println("\nShutdown signal received, stopping daemon...")

	// Runners first so in-flight attempts settle before the socket
	// closes under the CLI.
	s.stopAllRunners()

	if s.listener != nil {
		s.listener.Close()
	}
	if s.tcpConn != nil {
		s.tcpConn.Close()
	}
	os.RemoveAll(s.socketPath)

	close(s.done)
}

func (s *Server) stopAllRunners() {
	var wg sync.WaitGroup
	for _, runner := range s.runners {
		wg.Add(1)
		go func(r *StageRunner) {
			defer wg.Done()
			r.Stop()
		}(runner)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timeout := s.shutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	select {
	case <-done:
		fmt.Println("All stage runners stopped gracefully")
	case <-time.After(timeout):
		fmt.Println("Warning: some stage runners did not stop within timeout")
	}
}
