package cluster

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dProxy/lib/protocol"
	"github.com/ValentinKolb/dProxy/rpc/common"
	"github.com/ValentinKolb/dProxy/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
)

var Logger = logger.GetLogger("cluster")

const (
	baseBackoff = 5 * time.Millisecond
	maxBackoff  = 200 * time.Millisecond
)

// TransportFactory creates the transport for one backend
type TransportFactory func(proto protocol.IProtocol) transport.IBackendTransport

// --------------------------------------------------------------------------
// Backend
// --------------------------------------------------------------------------

// backend is one memcached server of the cluster
type backend struct {
	addr string
	tr   transport.IBackendTransport

	down  atomic.Bool
	fails atomic.Int32 // consecutive failed pings

	requests *metrics.Counter
	errors   *metrics.Counter
	latency  gometrics.Timer
	errMeter gometrics.Meter
}

// --------------------------------------------------------------------------
// Cluster
// --------------------------------------------------------------------------

// Cluster routes dispatchable units to the backends of one memcached pool
type Cluster struct {
	config   common.ProxyConfig
	proto    protocol.IProtocol
	hashTag  []byte
	hasher   protocol.HashFunc
	ring     *ring
	backends *xsync.MapOf[string, *backend]
	registry gometrics.Registry

	closed atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New connects to all backends of the config and starts the health checks
// and the stats reporter. A backend that cannot be reached is not an error:
// it is dialed again on demand.
func New(config common.ProxyConfig, proto protocol.IProtocol, newTransport TransportFactory) (*Cluster, error) {
	hasher, err := protocol.GetHashFunc(config.HashMethod)
	if err != nil {
		return nil, err
	}
	if len(config.Backends) == 0 {
		return nil, fmt.Errorf("cluster %s has no backends", config.Name)
	}

	c := &Cluster{
		config:   config,
		proto:    proto,
		hasher:   hasher,
		backends: xsync.NewMapOf[string, *backend](),
		registry: gometrics.NewRegistry(),
		stopCh:   make(chan struct{}),
	}
	if config.HashTag != "" {
		c.hashTag = []byte(config.HashTag)
	}

	weights := make(map[string]int, len(config.Backends))
	for _, conf := range config.Backends {
		weights[conf.Addr] = conf.Weight

		be := &backend{
			addr:     conf.Addr,
			tr:       newTransport(proto),
			requests: metrics.GetOrCreateCounter(c.metricName("dproxy_backend_requests_total", conf.Addr)),
			errors:   metrics.GetOrCreateCounter(c.metricName("dproxy_backend_errors_total", conf.Addr)),
			latency:  gometrics.GetOrRegisterTimer("backend."+conf.Addr+".latency", c.registry),
			errMeter: gometrics.GetOrRegisterMeter("backend."+conf.Addr+".errors", c.registry),
		}
		c.gauge(c.metricName("dproxy_backend_up", conf.Addr), func() float64 {
			if be.down.Load() {
				return 0
			}
			return 1
		})

		if err := be.tr.Connect(conf.Addr, config); err != nil {
			Logger.Warningf("Backend %s is not reachable: %v", conf.Addr, err)
			// without health checks nothing would bring it back up
			if config.PingIntervalSecond > 0 {
				be.down.Store(true)
			}
		}
		c.backends.Store(conf.Addr, be)
	}
	c.ring = newRing(weights, hasher)

	b, factors := newBalance(c.ring, weights)
	for addr, f := range factors {
		c.gauge(c.metricName("dproxy_ring_load_factor", addr), func() float64 { return f })
	}
	Logger.Infof("Ring of cluster %s: quality %.3f, load factor min %.3f max %.3f",
		config.Name, b.Quality, b.Min, b.Max)

	if config.PingIntervalSecond > 0 {
		c.wg.Add(1)
		go c.healthLoop(time.Duration(config.PingIntervalSecond) * time.Second)
	}
	if config.StatsIntervalSecond > 0 {
		c.wg.Add(1)
		go c.statsLoop(time.Duration(config.StatsIntervalSecond) * time.Second)
	}

	Logger.Infof("Cluster %s ready with %d backends (%s hashing)", config.Name, len(config.Backends), config.HashMethod)
	return c, nil
}

// Dispatch sends every dispatchable unit of req to its backend. Split
// requests dispatch one clone per sub, others a clone of req itself.
// Dispatch never blocks on the network; completion is signalled through the
// request's notifier once every clone is released.
func (c *Cluster) Dispatch(req protocol.IRequest) {
	if subs := req.Subs(); subs != nil {
		for _, sub := range subs {
			c.dispatchUnit(sub, 0)
		}
		return
	}
	c.dispatchUnit(req.Clone(), 0)
}

// Backend returns the address of the backend owning the routing key of unit
func (c *Cluster) Backend(unit protocol.IRequest) string {
	return c.ring.lookup(unit.KeyHash(c.hashTag, c.hasher))
}

// IsUp reports whether the backend is considered healthy
func (c *Cluster) IsUp(addr string) bool {
	be, ok := c.backends.Load(addr)
	return ok && !be.down.Load()
}

// Close stops the background loops and closes all backend transports.
// Requests still in flight fail.
func (c *Cluster) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.stopCh)
	c.wg.Wait()

	c.backends.Range(func(_ string, be *backend) bool {
		be.tr.Close()
		return true
	})
	c.dropGauges()
	Logger.Infof("Cluster %s closed", c.config.Name)
	return nil
}

// --------------------------------------------------------------------------
// Dispatch helper
// --------------------------------------------------------------------------

// dispatchUnit sends one unit. It owns unit and releases it on every path.
func (c *Cluster) dispatchUnit(unit protocol.IRequest, attempt int) {
	// completed elsewhere, e.g. failed by the client timeout
	if unit.IsDone() {
		unit.Release()
		return
	}
	if !unit.Valid() {
		unit.SetError(protocol.ErrInvalidKey)
		unit.Release()
		return
	}
	if c.closed.Load() {
		unit.SetError(fmt.Errorf("%w: cluster %s is closed", protocol.ErrBackendDown, c.config.Name))
		unit.Release()
		return
	}

	addr := c.Backend(unit)
	be, ok := c.backends.Load(addr)
	if !ok {
		unit.SetError(fmt.Errorf("%w: no backend for key", protocol.ErrBackendDown))
		unit.Release()
		return
	}
	if be.down.Load() {
		c.retry(unit, be, attempt, fmt.Errorf("%w: %s", protocol.ErrBackendDown, addr))
		return
	}

	be.requests.Inc()
	start := time.Now()
	err := be.tr.Send(unit, func(req protocol.IRequest, err error) {
		if err != nil {
			c.retry(req, be, attempt, err)
			return
		}
		be.latency.UpdateSince(start)
		req.Release()
	})
	if err != nil {
		c.retry(unit, be, attempt, err)
	}
}

// retry counts a failed attempt and schedules the next one, or fails the
// unit once the retry budget is used up. It never blocks the caller, which
// may be a backend reader.
func (c *Cluster) retry(unit protocol.IRequest, be *backend, attempt int, err error) {
	be.errors.Inc()
	be.errMeter.Mark(1)

	if unit.IsDone() {
		unit.Release()
		return
	}

	unit.AddCycle()
	if !unit.CanCycle() {
		Logger.Debugf("Giving up after %d attempts: %v", attempt+1, err)
		unit.SetError(fmt.Errorf("%w: %v", protocol.ErrRetryExhausted, err))
		unit.Release()
		return
	}

	delay := backoff(attempt)
	Logger.Debugf("Attempt %d to %s failed, retrying in %s: %v", attempt+1, be.addr, delay, err)
	time.AfterFunc(delay, func() {
		c.dispatchUnit(unit, attempt+1)
	})
}

// backoff returns the exponential backoff for an attempt with a small
// random jitter (+-10%)
func backoff(attempt int) time.Duration {
	d := baseBackoff << uint(attempt)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	jitter := float64(d) * (0.9 + 0.2*rand.Float64())
	return time.Duration(jitter)
}

func (c *Cluster) metricName(name, addr string) string {
	return fmt.Sprintf(`%s{cluster=%q,backend=%q}`, name, c.config.Name, addr)
}
