package util

import (
	"strings"
	"testing"

	"github.com/ValentinKolb/dProxy/rpc/common"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 40)
	for _, line := range strings.Split(WrapString(text), "\n") {
		if len(line) > Wrap {
			t.Errorf("line %q is longer than %d", line, Wrap)
		}
	}
	if got := WrapString("  short   text "); got != "short text" {
		t.Errorf("WrapString() = %q, want %q", got, "short text")
	}
}

func TestGetTransports(t *testing.T) {
	for _, tt := range []common.TransportType{common.TransportTCP, common.TransportUnix} {
		config := common.DefaultProxyConfig()
		config.Transport = tt
		config.BackendTransport = tt

		if tr, err := GetServerTransport(config); err != nil || tr == nil {
			t.Errorf("GetServerTransport(%s) = (%v, %v)", tt, tr, err)
		}
		if f, err := GetBackendTransport(config); err != nil || f == nil {
			t.Errorf("GetBackendTransport(%s) error: %v", tt, err)
		}
	}

	config := common.DefaultProxyConfig()
	config.Transport = "http"
	config.BackendTransport = "http"
	if _, err := GetServerTransport(config); err == nil {
		t.Error("GetServerTransport(http) succeeded")
	}
	if _, err := GetBackendTransport(config); err == nil {
		t.Error("GetBackendTransport(http) succeeded")
	}
}
