package unix

import (
	"net"
	"time"

	"github.com/ValentinKolb/dProxy/lib/protocol"
	"github.com/ValentinKolb/dProxy/rpc/common"
	"github.com/ValentinKolb/dProxy/rpc/transport"
	"github.com/ValentinKolb/dProxy/rpc/transport/base"
)

// clientConnector implements the IClientConnector interface for Unix sockets
type clientConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "unix"
}

func (c *clientConnector) Connect(endpoint string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("unix", endpoint, timeout)
}

func (c *clientConnector) UpgradeConnection(net.Conn, common.ProxyConfig) error {
	return nil
}

// --------------------------------------------------------------------------
// Backend Transport Factory Method
// --------------------------------------------------------------------------

// NewUnixBackendTransport creates a new Unix socket transport to one backend
func NewUnixBackendTransport(proto protocol.IProtocol) transport.IBackendTransport {
	return base.NewBaseBackendTransport(&clientConnector{}, proto)
}
