package serve

import (
	"fmt"
	"strings"

	cmdUtil "github.com/ValentinKolb/dProxy/cmd/util"
	"github.com/ValentinKolb/dProxy/lib/protocol/mc"
	"github.com/ValentinKolb/dProxy/rpc/common"
	"github.com/ValentinKolb/dProxy/rpc/server"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = common.DefaultProxyConfig()
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the proxy",
		Long:    `Start the proxy with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DPROXY_<flag> (e.g. DPROXY_BACKENDS=10.0.0.1:11211,10.0.0.2:11211=2)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	d := common.DefaultProxyConfig()
	flags := ServeCmd.PersistentFlags()

	// add flags
	key := "config"
	flags.String(key, "", cmdUtil.WrapString("Path to a config file (yaml, json, toml) with the same keys as the flags. Flags and environment variables take precedence"))

	key = "name"
	flags.String(key, d.Name, cmdUtil.WrapString("Name of the cluster, used in logs and as metric label"))

	key = "endpoint"
	flags.String(key, d.Endpoint, cmdUtil.WrapString("The address on which the proxy listens for clients (e.g. 0.0.0.0:11211, /tmp/dproxy.sock, ...)"))

	key = "transport"
	flags.String(key, string(d.Transport), cmdUtil.WrapString("Transport for client connections (tcp, unix)"))

	key = "backends"
	flags.String(key, "", cmdUtil.WrapString("Comma-separated list of memcached servers. Format: ADDR or ADDR=WEIGHT (e.g. 10.0.0.1:11211,10.0.0.2:11211=2)"))

	key = "backend-transport"
	flags.String(key, string(d.BackendTransport), cmdUtil.WrapString("Transport for backend connections (tcp, unix)"))

	key = "hash-tag"
	flags.String(key, "", cmdUtil.WrapString("Two characters delimiting the part of the key that is hashed (e.g. {}). Keys sharing a tag map to the same backend"))

	key = "hash-method"
	flags.String(key, d.HashMethod, cmdUtil.WrapString("Hash function of the ring (fnv1a_64, crc32, xxhash)"))

	key = "conns-per-backend"
	flags.Int(key, d.ConnsPerBackend, cmdUtil.WrapString("Number of pipelined connections to each backend"))

	key = "timeout"
	flags.Int64(key, d.TimeoutMillisecond, cmdUtil.WrapString("Timeout in milliseconds after which a request is answered with an error"))

	key = "rate-limit"
	flags.Float64(key, 0, cmdUtil.WrapString("Maximum requests per second of a single client connection (0 disables the limit)"))

	key = "rate-burst"
	flags.Int(key, d.RateBurst, cmdUtil.WrapString("Number of requests a client may send at once before the rate limit applies"))

	key = "ping-interval"
	flags.Int(key, d.PingIntervalSecond, cmdUtil.WrapString("Interval in seconds of the backend health checks (0 disables them)"))

	key = "ping-fail-limit"
	flags.Int(key, d.PingFailLimit, cmdUtil.WrapString("Consecutive failed health checks after which a backend is marked down"))

	key = "metrics-endpoint"
	flags.String(key, "", cmdUtil.WrapString("Address of the Prometheus /metrics endpoint (e.g. 0.0.0.0:9100). Disabled if empty"))

	key = "stats-interval"
	flags.Int(key, d.StatsIntervalSecond, cmdUtil.WrapString("Interval in seconds at which backend statistics are logged (0 disables them)"))

	key = "write-buffer"
	flags.Int(key, d.SocketConf.WriteBufferSize/1024, cmdUtil.WrapString("The size of the socket write buffer (in KB)"))

	key = "read-buffer"
	flags.Int(key, d.SocketConf.ReadBufferSize/1024, cmdUtil.WrapString("The size of the socket read buffer (in KB)"))

	key = "tcp-nodelay"
	flags.Bool(key, d.TCPConf.TCPNoDelay, cmdUtil.WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "tcp-keepalive"
	flags.Int(key, d.TCPConf.TCPKeepAliveSec, cmdUtil.WrapString("The keepalive interval (in seconds, only for tcp)"))

	key = "tcp-linger"
	flags.Int(key, d.TCPConf.TCPLingerSec, cmdUtil.WrapString("The linger time (in seconds, only for tcp). Negative values keep the OS default"))

	key = "log-level"
	flags.String(key, d.LogLevel, cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the proxy configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// read the optional config file
	if file := viper.GetString("config"); file != "" {
		viper.SetConfigFile(file)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	// backends are a comma-separated string (flag, env) or a list (config file)
	var specs []string
	for _, spec := range viper.GetStringSlice("backends") {
		specs = append(specs, strings.Split(spec, ",")...)
	}
	backends, err := common.ParseBackends(specs)
	if err != nil {
		return err
	}
	if len(backends) == 0 {
		return fmt.Errorf("no backends configured (use --backends or DPROXY_BACKENDS)")
	}
	serveCmdConfig.Backends = backends

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.Name = viper.GetString("name")
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.Transport = common.TransportType(viper.GetString("transport"))
	serveCmdConfig.BackendTransport = common.TransportType(viper.GetString("backend-transport"))
	serveCmdConfig.HashTag = viper.GetString("hash-tag")
	serveCmdConfig.HashMethod = viper.GetString("hash-method")
	serveCmdConfig.ConnsPerBackend = viper.GetInt("conns-per-backend")
	serveCmdConfig.TimeoutMillisecond = viper.GetInt64("timeout")
	serveCmdConfig.RateLimit = viper.GetFloat64("rate-limit")
	serveCmdConfig.RateBurst = viper.GetInt("rate-burst")
	serveCmdConfig.PingIntervalSecond = viper.GetInt("ping-interval")
	serveCmdConfig.PingFailLimit = viper.GetInt("ping-fail-limit")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.StatsIntervalSecond = viper.GetInt("stats-interval")
	serveCmdConfig.SocketConf = common.SocketConf{
		WriteBufferSize: viper.GetInt("write-buffer") * 1024,
		ReadBufferSize:  viper.GetInt("read-buffer") * 1024,
	}
	serveCmdConfig.TCPConf = common.TCPConf{
		TCPNoDelay:      viper.GetBool("tcp-nodelay"),
		TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
		TCPLingerSec:    viper.GetInt("tcp-linger"),
	}
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	return serveCmdConfig.Validate()
}

// run starts the proxy
func run(_ *cobra.Command, _ []string) error {
	t, err := cmdUtil.GetServerTransport(serveCmdConfig)
	if err != nil {
		return err
	}
	newBackend, err := cmdUtil.GetBackendTransport(serveCmdConfig)
	if err != nil {
		return err
	}

	s := server.NewProxyServer(
		serveCmdConfig,
		t,
		mc.NewProtocol(),
		newBackend,
	)

	return s.Serve()
}

// initConfig reads in ENV variables and .env files if set.
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dproxy")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}
