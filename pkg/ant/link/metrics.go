package link

import (
	"fmt"
	"sync/atomic"
)

type Metrics struct {
	FramesIn            uint64
	FramesOut           uint64
	BytesIn             uint64
	BytesOut            uint64
	FramingErrors       uint64
	ReadErrors          uint64
	WriteErrors         uint64
	DuplicateBroadcasts uint64
	BurstsAssembled     uint64
	Drains              uint64
	DrainedFrames       uint64
	Queued              int64
}

func (m *Metrics) String() string {
	return fmt.Sprintf("Metrics(in %d frames %d bytes)(out %d frames %d bytes)(errors framing %d read %d write %d)(dup %d bursts %d drains %d drained %d queued %d)",
		m.FramesIn, m.BytesIn, m.FramesOut, m.BytesOut,
		m.FramingErrors, m.ReadErrors, m.WriteErrors,
		m.DuplicateBroadcasts, m.BurstsAssembled, m.Drains, m.DrainedFrames, m.Queued)
}

func (e *Engine) Metrics() *Metrics {
	return &Metrics{
		FramesIn:            atomic.LoadUint64(&e.metricFramesIn),
		FramesOut:           atomic.LoadUint64(&e.metricFramesOut),
		BytesIn:             atomic.LoadUint64(&e.metricBytesIn),
		BytesOut:            atomic.LoadUint64(&e.metricBytesOut),
		FramingErrors:       atomic.LoadUint64(&e.metricFramingErrors),
		ReadErrors:          atomic.LoadUint64(&e.metricReadErrors),
		WriteErrors:         atomic.LoadUint64(&e.metricWriteErrors),
		DuplicateBroadcasts: atomic.LoadUint64(&e.metricDuplicateBroadcasts),
		BurstsAssembled:     atomic.LoadUint64(&e.metricBurstsAssembled),
		Drains:              atomic.LoadUint64(&e.metricDrains),
		DrainedFrames:       atomic.LoadUint64(&e.metricDrainedFrames),
		Queued:              atomic.LoadInt64(&e.metricQueued),
	}
}
