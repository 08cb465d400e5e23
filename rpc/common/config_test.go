package common

import (
	"reflect"
	"strings"
	"testing"

	"github.com/lni/dragonboat/v4/logger"
)

func validConfig() ProxyConfig {
	config := DefaultProxyConfig()
	config.Backends = []BackendConf{{Addr: "127.0.0.1:11211", Weight: 1}}
	return config
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*ProxyConfig)
		wantErr string
	}{
		{"valid", func(*ProxyConfig) {}, ""},
		{"unix", func(c *ProxyConfig) { c.Transport = TransportUnix; c.Endpoint = "/tmp/dproxy.sock" }, ""},
		{"no name", func(c *ProxyConfig) { c.Name = "" }, "name"},
		{"no endpoint", func(c *ProxyConfig) { c.Endpoint = "" }, "endpoint"},
		{"bad transport", func(c *ProxyConfig) { c.Transport = "http" }, "transport"},
		{"bad backend transport", func(c *ProxyConfig) { c.BackendTransport = "udp" }, "backend transport"},
		{"no backends", func(c *ProxyConfig) { c.Backends = nil }, "backend"},
		{"zero weight", func(c *ProxyConfig) { c.Backends[0].Weight = 0 }, "weight"},
		{"duplicate backend", func(c *ProxyConfig) { c.Backends = append(c.Backends, c.Backends[0]) }, "duplicate"},
		{"long hash tag", func(c *ProxyConfig) { c.HashTag = "{{}" }, "hash tag"},
		{"bad hash method", func(c *ProxyConfig) { c.HashMethod = "md5" }, "md5"},
		{"no conns", func(c *ProxyConfig) { c.ConnsPerBackend = 0 }, "conns"},
		{"no timeout", func(c *ProxyConfig) { c.TimeoutMillisecond = 0 }, "timeout"},
		{"negative ping", func(c *ProxyConfig) { c.PingIntervalSecond = -1 }, "ping"},
		{"rate without burst", func(c *ProxyConfig) { c.RateLimit = 10; c.RateBurst = 0 }, "burst"},
		{"bad log level", func(c *ProxyConfig) { c.LogLevel = "loud" }, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.modify(&config)

			err := config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseBackends(t *testing.T) {
	tests := []struct {
		name    string
		specs   []string
		want    []BackendConf
		wantErr bool
	}{
		{"plain", []string{"a:1", "b:2"}, []BackendConf{{"a:1", 1}, {"b:2", 1}}, false},
		{"weighted", []string{"a:1=3", " b:2 = 2"}, []BackendConf{{"a:1", 3}, {"b:2", 2}}, false},
		{"socket path", []string{"/tmp/mc.sock=2"}, []BackendConf{{"/tmp/mc.sock", 2}}, false},
		{"empty entries", []string{"", " ", "a:1"}, []BackendConf{{"a:1", 1}}, false},
		{"bad weight", []string{"a:1=x"}, nil, true},
		{"zero weight", []string{"a:1=0"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBackends(tt.specs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBackends() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseBackends() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logger.LogLevel
		wantErr bool
	}{
		{"debug", logger.DEBUG, false},
		{"", logger.INFO, false},
		{"INFO", logger.INFO, false},
		{"warn", logger.WARNING, false},
		{"warning", logger.WARNING, false},
		{"error", logger.ERROR, false},
		{"trace", logger.INFO, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseLogLevel(%q) = (%v, %v), want (%v, err=%v)", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestConfigString(t *testing.T) {
	config := validConfig()
	config.Backends = append(config.Backends, BackendConf{Addr: "127.0.0.1:11212", Weight: 3})
	config.HashTag = "{}"

	out := config.String()
	for _, want := range []string{"127.0.0.1:11211", "weight 3", "Hash Tag", "{}", "fnv1a_64"} {
		if !strings.Contains(out, want) {
			t.Errorf("String() misses %q:\n%s", want, out)
		}
	}
}
