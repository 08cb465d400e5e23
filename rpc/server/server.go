package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ValentinKolb/dProxy/lib/protocol"
	"github.com/ValentinKolb/dProxy/rpc/cluster"
	"github.com/ValentinKolb/dProxy/rpc/common"
	"github.com/ValentinKolb/dProxy/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("server")

// ProxyServer accepts memcached clients and forwards their requests to a cluster
type ProxyServer struct {
	config       common.ProxyConfig
	transport    transport.IProxyServerTransport
	proto        protocol.IProtocol
	newTransport cluster.TransportFactory

	cluster *cluster.Cluster
	clients *xsync.MapOf[uint64, *clientConn]
	nextID  atomic.Uint64

	metricsSrv *http.Server
	ctx        context.Context // canceled by Close
	cancel     context.CancelFunc
	closeOnce  sync.Once

	requests *metrics.Counter
	errors   *metrics.Counter
	timeouts *metrics.Counter
	duration *metrics.Histogram
}

// NewProxyServer creates a new proxy server
//
// Usage:
//
//	s := server.NewProxyServer(
//		*config,
//		tcp.NewTCPServerTransport(),
//		mc.NewProtocol(),
//		tcp.NewTCPBackendTransport,
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewProxyServer(
	config common.ProxyConfig,
	transport transport.IProxyServerTransport,
	proto protocol.IProtocol,
	newTransport cluster.TransportFactory,
) *ProxyServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &ProxyServer{
		config:       config,
		transport:    transport,
		proto:        proto,
		newTransport: newTransport,
		clients:      xsync.NewMapOf[uint64, *clientConn](),
		ctx:          ctx,
		cancel:       cancel,
		requests:     metrics.GetOrCreateCounter(clusterMetric("dproxy_requests_total", config.Name)),
		errors:       metrics.GetOrCreateCounter(clusterMetric("dproxy_request_errors_total", config.Name)),
		timeouts:     metrics.GetOrCreateCounter(clusterMetric("dproxy_request_timeouts_total", config.Name)),
		duration:     metrics.GetOrCreateHistogram(clusterMetric("dproxy_request_duration_seconds", config.Name)),
	}
	metrics.GetOrCreateGauge(clusterMetric("dproxy_client_connections", config.Name), func() float64 {
		return float64(s.clients.Size())
	})
	return s
}

// Start connects the cluster and starts accepting clients. It returns once
// the listener is bound.
func (s *ProxyServer) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := common.InitLoggers(s.config); err != nil {
		return err
	}

	Logger.Infof("Starting %s proxy %s", s.proto.Name(), s.config.Name)
	Logger.Infof(s.config.String())

	c, err := cluster.New(s.config, s.proto, s.newTransport)
	if err != nil {
		return fmt.Errorf("failed to create cluster: %w", err)
	}
	s.cluster = c

	s.transport.RegisterHandler(s.handleConn)
	if err := s.transport.Listen(s.config); err != nil {
		c.Close()
		return err
	}

	if s.config.MetricsEndpoint != "" {
		if err := s.serveMetrics(); err != nil {
			s.transport.Close()
			c.Close()
			return err
		}
	}
	return nil
}

// Serve starts the proxy and blocks until it receives SIGINT/SIGTERM or Close is called
func (s *ProxyServer) Serve() error {
	if err := s.Start(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case received := <-sig:
		Logger.Infof("Received %s, shutting down", received)
	case <-s.ctx.Done():
	}
	return s.Close()
}

// Addr returns the address clients connect to, nil before Start
func (s *ProxyServer) Addr() net.Addr {
	return s.transport.Addr()
}

// Close stops accepting clients, waits for open connections to finish and
// closes the cluster
func (s *ProxyServer) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()

		err = s.transport.Close()
		if s.cluster != nil {
			s.cluster.Close()
		}
		if s.metricsSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = s.metricsSrv.Shutdown(ctx)
		}
		Logger.Infof("Proxy %s stopped", s.config.Name)
	})
	return err
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// serveMetrics exposes all VictoriaMetrics metrics in Prometheus format
func (s *ProxyServer) serveMetrics() error {
	listener, err := net.Listen("tcp", s.config.MetricsEndpoint)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	s.metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.metricsSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("Metrics server failed: %v", err)
		}
	}()
	Logger.Infof("Serving metrics on http://%s/metrics", listener.Addr())
	return nil
}

func clusterMetric(name, cluster string) string {
	return fmt.Sprintf(`%s{cluster=%q}`, name, cluster)
}
