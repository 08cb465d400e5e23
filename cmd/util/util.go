package util

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/dProxy/rpc/cluster"
	"github.com/ValentinKolb/dProxy/rpc/common"
	"github.com/ValentinKolb/dProxy/rpc/transport"
	"github.com/ValentinKolb/dProxy/rpc/transport/tcp"
	"github.com/ValentinKolb/dProxy/rpc/transport/unix"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		if lineWidth > 0 && lineWidth+1+len(word) > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}
		currentLine.WriteString(word)
		lineWidth += len(word)
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}
	return strings.Join(wrappedLines, "\n")
}

// GetServerTransport creates the client facing transport of the config
func GetServerTransport(config common.ProxyConfig) (transport.IProxyServerTransport, error) {
	switch config.Transport {
	case common.TransportTCP:
		return tcp.NewTCPServerTransport(), nil
	case common.TransportUnix:
		return unix.NewUnixServerTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", config.Transport)
	}
}

// GetBackendTransport returns the factory for the backend connections of the config
func GetBackendTransport(config common.ProxyConfig) (cluster.TransportFactory, error) {
	switch config.BackendTransport {
	case common.TransportTCP:
		return tcp.NewTCPBackendTransport, nil
	case common.TransportUnix:
		return unix.NewUnixBackendTransport, nil
	default:
		return nil, fmt.Errorf("invalid backend transport %s", config.BackendTransport)
	}
}
