package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dProxy/lib/protocol"
)

// --------------------------------------------------------------------------
// Proxy configuration struct
// --------------------------------------------------------------------------

type TransportType string

const (
	TransportTCP  TransportType = "tcp"
	TransportUnix TransportType = "unix"
)

// BackendConf describes one memcached server of the cluster
type BackendConf struct {
	// Addr is the address of the backend (host:port or socket path)
	Addr string
	// Weight scales the number of ring points of the backend
	Weight int
}

// SocketConf holds the buffer sizes used for every connection
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds tcp specific socket options
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// ProxyConfig holds all configuration parameters of one proxy cluster
type ProxyConfig struct {
	// Name of the cluster (used in logs and metric labels)
	Name string

	// client facing listener
	Endpoint  string
	Transport TransportType

	// socket options (client and backend connections)
	SocketConf SocketConf
	TCPConf    TCPConf

	// backend cluster
	Backends         []BackendConf
	BackendTransport TransportType
	HashTag          string
	HashMethod       string
	ConnsPerBackend  int

	// request handling
	TimeoutMillisecond int64
	RateLimit          float64
	RateBurst          int

	// health checks
	PingIntervalSecond int
	PingFailLimit      int

	// observability
	MetricsEndpoint     string
	StatsIntervalSecond int

	// Logging configuration
	LogLevel string
}

// DefaultProxyConfig returns a config with every optional field set
func DefaultProxyConfig() ProxyConfig {
	return ProxyConfig{
		Name:      "dproxy",
		Endpoint:  ":11211",
		Transport: TransportTCP,
		SocketConf: SocketConf{
			WriteBufferSize: 512 * 1024,
			ReadBufferSize:  512 * 1024,
		},
		TCPConf: TCPConf{
			TCPNoDelay:      true,
			TCPKeepAliveSec: 30,
			TCPLingerSec:    -1,
		},
		BackendTransport:    TransportTCP,
		HashMethod:          protocol.HashFNV1a64,
		ConnsPerBackend:     1,
		TimeoutMillisecond:  1000,
		RateBurst:           100,
		PingIntervalSecond:  10,
		PingFailLimit:       3,
		StatsIntervalSecond: 60,
		LogLevel:            "info",
	}
}

// Validate checks that the config can be used to start a proxy
func (c *ProxyConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("cluster name must not be empty")
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint must not be empty")
	}
	if c.Transport != TransportTCP && c.Transport != TransportUnix {
		return fmt.Errorf("invalid transport %q. must be one of tcp, unix", c.Transport)
	}
	if c.BackendTransport != TransportTCP && c.BackendTransport != TransportUnix {
		return fmt.Errorf("invalid backend transport %q. must be one of tcp, unix", c.BackendTransport)
	}
	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend is required")
	}

	seen := make(map[string]struct{}, len(c.Backends))
	for _, b := range c.Backends {
		if b.Addr == "" {
			return fmt.Errorf("backend address must not be empty")
		}
		if b.Weight <= 0 {
			return fmt.Errorf("backend %s: weight must be positive, got %d", b.Addr, b.Weight)
		}
		if _, ok := seen[b.Addr]; ok {
			return fmt.Errorf("duplicate backend %s", b.Addr)
		}
		seen[b.Addr] = struct{}{}
	}

	if c.HashTag != "" && len(c.HashTag) != 2 {
		return fmt.Errorf("hash tag must be exactly two characters, got %q", c.HashTag)
	}
	if _, err := protocol.GetHashFunc(c.HashMethod); err != nil {
		return err
	}
	if c.ConnsPerBackend < 1 {
		return fmt.Errorf("conns per backend must be at least 1")
	}
	if c.TimeoutMillisecond <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.PingIntervalSecond < 0 || c.PingFailLimit < 0 {
		return fmt.Errorf("ping interval and fail limit must not be negative")
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return fmt.Errorf("rate burst must be at least 1 when a rate limit is set")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseBackends parses a list of "addr" or "addr=weight" entries.
// Entries without weight get weight 1.
func ParseBackends(specs []string) ([]BackendConf, error) {
	var backends []BackendConf
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}

		addr, weightStr, hasWeight := strings.Cut(spec, "=")
		weight := 1
		if hasWeight {
			w, err := strconv.Atoi(strings.TrimSpace(weightStr))
			if err != nil || w <= 0 {
				return nil, fmt.Errorf("invalid weight in backend %q", spec)
			}
			weight = w
		}
		backends = append(backends, BackendConf{Addr: strings.TrimSpace(addr), Weight: weight})
	}
	return backends, nil
}

// String returns a formatted string representation of the configuration
func (c *ProxyConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Proxy")
	addField("Cluster", c.Name)
	addField("Endpoint", c.Endpoint)
	addField("Transport", string(c.Transport))
	addField("Timeout", fmt.Sprintf("%d ms", c.TimeoutMillisecond))
	if c.RateLimit > 0 {
		addField("Rate Limit", fmt.Sprintf("%.1f/s (burst %d)", c.RateLimit, c.RateBurst))
	} else {
		addField("Rate Limit", "off")
	}

	addSection("Sockets")
	addField("Read Buffer", strconv.Itoa(c.SocketConf.ReadBufferSize))
	addField("Write Buffer", strconv.Itoa(c.SocketConf.WriteBufferSize))
	if c.Transport == TransportTCP {
		addField("TCP No Delay", strconv.FormatBool(c.TCPConf.TCPNoDelay))
		addField("TCP Keep Alive", fmt.Sprintf("%d sec", c.TCPConf.TCPKeepAliveSec))
		addField("TCP Linger", fmt.Sprintf("%d sec", c.TCPConf.TCPLingerSec))
	}

	addSection("Cluster")
	addField("Backend Transport", string(c.BackendTransport))
	addField("Hash Method", c.HashMethod)
	if c.HashTag != "" {
		addField("Hash Tag", c.HashTag)
	}
	addField("Conns Per Backend", strconv.Itoa(c.ConnsPerBackend))
	addField("Ping Interval", fmt.Sprintf("%d sec", c.PingIntervalSecond))
	addField("Ping Fail Limit", strconv.Itoa(c.PingFailLimit))

	// Sort backends for consistent output
	backends := append([]BackendConf(nil), c.Backends...)
	sort.Slice(backends, func(i, j int) bool { return backends[i].Addr < backends[j].Addr })

	addSection("Backends")
	for _, b := range backends {
		addField(b.Addr, fmt.Sprintf("weight %d", b.Weight))
	}

	addSection("Observability")
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	}
	addField("Stats Interval", fmt.Sprintf("%d sec", c.StatsIntervalSecond))
	addField("Log Level", c.LogLevel)

	return sb.String()
}
