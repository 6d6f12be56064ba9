// Package stats implements the Stats Aggregator: per-instance
// upload/download/saved byte counters, a 1 Hz ticker that emits a
// traffic event and resets the counters, and a global Prometheus
// export mirroring the per-instance totals.
package stats

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/synthbox/capture-proxy/internal/events"
)

var (
	uploadBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "synthbox_upload_bytes_total",
		Help: "Raw bytes sent upstream, per instance.",
	}, []string{"instance"})
	uploadSavedBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "synthbox_upload_saved_bytes_total",
		Help: "Upload bytes avoided via cache hits, per instance.",
	}, []string{"instance"})
	downloadBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "synthbox_download_bytes_total",
		Help: "Raw bytes received from upstream, per instance.",
	}, []string{"instance"})
	downloadSavedBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "synthbox_download_saved_bytes_total",
		Help: "Download bytes avoided via cache hits, per instance.",
	}, []string{"instance"})
)

func init() {
	prometheus.MustRegister(uploadBytesTotal, uploadSavedBytesTotal, downloadBytesTotal, downloadSavedBytesTotal)
}

// Counters holds one instance's live byte tallies. All updates are
// atomic; the 1 Hz ticker both reads and resets them.
type Counters struct {
	instanceID    string
	uploadBytes   uint64
	uploadSaved   uint64
	downloadBytes uint64
	downloadSaved uint64
}

func NewCounters(instanceID string) *Counters {
	return &Counters{instanceID: instanceID}
}

func (c *Counters) CreditUpload(n uint64)       { atomic.AddUint64(&c.uploadBytes, n) }
func (c *Counters) CreditUploadSaved(n uint64)   { atomic.AddUint64(&c.uploadSaved, n) }
func (c *Counters) CreditDownload(n uint64)      { atomic.AddUint64(&c.downloadBytes, n) }
func (c *Counters) CreditDownloadSaved(n uint64) { atomic.AddUint64(&c.downloadSaved, n) }

// drain atomically reads and resets all four counters.
func (c *Counters) drain() (upload, uploadSaved, download, downloadSaved uint64) {
	upload = atomic.SwapUint64(&c.uploadBytes, 0)
	uploadSaved = atomic.SwapUint64(&c.uploadSaved, 0)
	download = atomic.SwapUint64(&c.downloadBytes, 0)
	downloadSaved = atomic.SwapUint64(&c.downloadSaved, 0)
	return
}

// Ticker runs the 1 Hz drain-and-emit loop for one instance until ctx
// is canceled, matching proxy.py's ticker() coroutine.
func Ticker(ctx context.Context, counters *Counters, emit func(events.Event)) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			up, upSaved, down, downSaved := counters.drain()
			uploadBytesTotal.WithLabelValues(counters.instanceID).Add(float64(up))
			uploadSavedBytesTotal.WithLabelValues(counters.instanceID).Add(float64(upSaved))
			downloadBytesTotal.WithLabelValues(counters.instanceID).Add(float64(down))
			downloadSavedBytesTotal.WithLabelValues(counters.instanceID).Add(float64(downSaved))
			emit(events.TrafficUpdate(counters.instanceID, up, upSaved, down, downSaved))
		}
	}
}

// Global accumulates traffic events from every instance into a grand
// total, used by any consumer rendering "used(saved)".
type Global struct {
	mu                                               sync.Mutex
	uploadBytes, uploadSaved, downloadBytes, downloadSaved uint64
}

func NewGlobal() *Global { return &Global{} }

func (g *Global) Observe(ev events.Event) {
	if ev.Kind != events.KindTrafficUpdate {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.uploadBytes += ev.Traffic.UploadBytes
	g.uploadSaved += ev.Traffic.UploadSaved
	g.downloadBytes += ev.Traffic.DownloadBytes
	g.downloadSaved += ev.Traffic.DownloadSaved
}

func (g *Global) Totals() (uploadBytes, uploadSaved, downloadBytes, downloadSaved uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.uploadBytes, g.uploadSaved, g.downloadBytes, g.downloadSaved
}

// FormatBytes renders a byte count in the largest whole unit, used
// only in log lines (never in a wire format). Grounded on
// proxy.py:traffic_conversion's recursive byte-unit formatter.
func FormatBytes(n uint64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	value := float64(n)
	unit := 0
	for value >= 1024 && unit < len(units)-1 {
		value /= 1024
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%dB", n)
	}
	return fmt.Sprintf("%.2f%s", value, units[unit])
}
