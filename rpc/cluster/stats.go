package cluster

import (
	"time"

	"github.com/ValentinKolb/dProxy/rpc/common"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
)

var statsLogger = logger.GetLogger("stats")

// --------------------------------------------------------------------------
// Gauges
// --------------------------------------------------------------------------

// gaugeSource is the value behind a gauge, owned by one cluster
type gaugeSource struct {
	owner *Cluster
	value func() float64
}

// gaugeSources maps a gauge name to its current source. A VictoriaMetrics
// gauge keeps its first callback forever, so the callback reads from here
// and a newer cluster with the same name replaces the source.
var gaugeSources = xsync.NewMapOf[string, *gaugeSource]()

// gauge registers a gauge whose value is read from the cluster while it is open
func (c *Cluster) gauge(name string, value func() float64) {
	gaugeSources.Store(name, &gaugeSource{owner: c, value: value})
	metrics.GetOrCreateGauge(name, func() float64 {
		if src, ok := gaugeSources.Load(name); ok {
			return src.value()
		}
		return 0
	})
}

// dropGauges removes the sources still owned by the cluster, its gauges read 0 afterwards
func (c *Cluster) dropGauges() {
	gaugeSources.Range(func(name string, _ *gaugeSource) bool {
		gaugeSources.Compute(name, func(src *gaugeSource, loaded bool) (*gaugeSource, bool) {
			return src, !loaded || src.owner == c
		})
		return true
	})
}

// statsLoop logs the per-backend latency timers and error meters once per
// interval until the cluster is closed
func (c *Cluster) statsLoop(interval time.Duration) {
	defer c.wg.Done()

	cue := make(chan interface{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		gometrics.LogScaledOnCue(c.registry, cue, time.Millisecond, common.PrintfLogger{Logger: statsLogger})
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			close(cue)
			<-done
			return
		case <-ticker.C:
			statsLogger.Infof("cluster %s:", c.config.Name)
			cue <- struct{}{}
		}
	}
}
