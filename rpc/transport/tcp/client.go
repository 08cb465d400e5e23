package tcp

import (
	"net"
	"time"

	"github.com/ValentinKolb/dProxy/lib/protocol"
	"github.com/ValentinKolb/dProxy/rpc/common"
	"github.com/ValentinKolb/dProxy/rpc/transport"
	"github.com/ValentinKolb/dProxy/rpc/transport/base"
)

// clientConnector implements the IClientConnector interface for TCP sockets
type clientConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "tcp"
}

func (c *clientConnector) Connect(endpoint string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", endpoint, timeout)
}

func (c *clientConnector) UpgradeConnection(conn net.Conn, config common.ProxyConfig) error {
	return upgradeConnection(conn, config)
}

// --------------------------------------------------------------------------
// Backend Transport Factory Method
// --------------------------------------------------------------------------

// NewTCPBackendTransport creates a new TCP transport to one backend
func NewTCPBackendTransport(proto protocol.IProtocol) transport.IBackendTransport {
	return base.NewBaseBackendTransport(&clientConnector{}, proto)
}
