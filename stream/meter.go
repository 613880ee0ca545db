package stream

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/rotblauer/treetiles/common"
)

// TickMeter counts items and bytes flowing through a stage,
// logging rates on an interval until stopped.
type TickMeter struct {
	name       string
	interval   time.Duration
	started    time.Time
	ticker     *time.Ticker
	done       chan struct{}
	nn         atomic.Uint64
	reg        metrics.Registry
	countMeter metrics.Meter
	sizeMeter  metrics.Meter
}

func NewTickMeter(name string, interval time.Duration) *TickMeter {
	metrics.Enabled = true
	reg := metrics.NewRegistry()
	m := &TickMeter{
		name:       name,
		reg:        reg,
		interval:   interval,
		started:    time.Now(),
		done:       make(chan struct{}),
		countMeter: metrics.NewMeter(),
		sizeMeter:  metrics.NewMeter(),
	}
	if err := reg.Register(name+".count.meter", m.countMeter); err != nil {
		panic(err)
	}
	if err := reg.Register(name+".size.meter", m.sizeMeter); err != nil {
		panic(err)
	}
	m.ticker = time.NewTicker(interval)
	go m.run()
	return m
}

// Mark records one item of size bytes.
func (m *TickMeter) Mark(size int) {
	m.nn.Add(1)
	m.countMeter.Mark(1)
	m.sizeMeter.Mark(int64(size))
}

// Count returns the number of items marked.
func (m *TickMeter) Count() uint64 {
	return m.nn.Load()
}

func (m *TickMeter) run() {
	for {
		select {
		case <-m.done:
			return
		case <-m.ticker.C:
			m.log()
		}
	}
}

func (m *TickMeter) log() {
	countSnap := m.countMeter.Snapshot()
	sizeSnap := m.sizeMeter.Snapshot()
	slog.Info("Progress", "stage", m.name,
		"n", humanize.Comma(countSnap.Count()),
		"ips", common.DecimalToFixed(countSnap.Rate1(), 0),
		"bps", humanize.Bytes(uint64(sizeSnap.Rate1())),
		"total.bytes", humanize.Bytes(uint64(sizeSnap.Count())),
		"running", time.Since(m.started).Round(time.Second))
}

// Stop halts the ticker and logs a final line.
func (m *TickMeter) Stop() {
	if m == nil || m.ticker == nil {
		return
	}
	m.ticker.Stop()
	close(m.done)
	m.countMeter.Stop()
	m.sizeMeter.Stop()
	slog.Debug("Meter stopped", "stage", m.name, "n", humanize.Comma(int64(m.nn.Load())),
		"running", time.Since(m.started).Round(time.Millisecond))
}
