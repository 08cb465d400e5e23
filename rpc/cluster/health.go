package cluster

import (
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/dProxy/lib/protocol"
)

// --------------------------------------------------------------------------
// Health checks
// --------------------------------------------------------------------------

// healthLoop pings every backend once per interval until the cluster is closed
func (c *Cluster) healthLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.checkBackends()
		}
	}
}

// checkBackends pings all backends concurrently and waits for the results
func (c *Cluster) checkBackends() {
	var wg sync.WaitGroup
	c.backends.Range(func(_ string, be *backend) bool {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.checkBackend(be)
		}()
		return true
	})
	wg.Wait()
}

// checkBackend updates the health state of one backend. A backend is marked
// down after PingFailLimit consecutive failures and up again after the first
// successful ping.
func (c *Cluster) checkBackend(be *backend) {
	err := c.ping(be)
	if err == nil {
		be.fails.Store(0)
		if be.down.CompareAndSwap(true, false) {
			Logger.Infof("Backend %s is up again", be.addr)
		}
		return
	}

	fails := be.fails.Add(1)
	Logger.Debugf("Ping %d to %s failed: %v", fails, be.addr, err)

	limit := int32(c.config.PingFailLimit)
	if limit > 0 && fails >= limit && be.down.CompareAndSwap(false, true) {
		Logger.Warningf("Backend %s marked down after %d failed pings: %v", be.addr, fails, err)
		// drop the connections, they are redialed by the next ping
		be.tr.Reconnect()
	}
}

// ping sends the protocol's health-check request and waits for the reply
func (c *Cluster) ping(be *backend) error {
	req := c.proto.PingRequest()
	result := make(chan error, 1)

	err := be.tr.Send(req, func(req protocol.IRequest, err error) {
		if err == nil && req.IsError() {
			err = fmt.Errorf("%w: error reply to ping", protocol.ErrBadReply)
		}
		req.Release()
		result <- err
	})
	if err != nil {
		req.Release()
		return err
	}

	timeout := time.NewTimer(time.Duration(c.config.TimeoutMillisecond) * time.Millisecond)
	defer timeout.Stop()

	select {
	case err := <-result:
		return err
	case <-timeout.C:
		return protocol.ErrTimeout
	case <-c.stopCh:
		return nil
	}
}
