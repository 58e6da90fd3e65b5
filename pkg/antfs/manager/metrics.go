package manager

import (
	"fmt"
	"sync/atomic"
)

type Metrics struct {
	Sessions  uint64
	Commands  uint64
	Downloads uint64
	Uploads   uint64
	BytesDown uint64
	BytesUp   uint64
	Retries   uint64
	// State is the client state of the current session, or -1 before the first link.
	State int64
}

func (m *Metrics) String() string {
	return fmt.Sprintf("Metrics(sessions %d commands %d)(downloads %d %d bytes)(uploads %d %d bytes)(retries %d state %d)",
		m.Sessions, m.Commands, m.Downloads, m.BytesDown, m.Uploads, m.BytesUp, m.Retries, m.State)
}

func (m *Manager) Metrics() *Metrics {
	return &Metrics{
		Sessions:  atomic.LoadUint64(&m.metricSessions),
		Commands:  atomic.LoadUint64(&m.metricCommands),
		Downloads: atomic.LoadUint64(&m.metricDownloads),
		Uploads:   atomic.LoadUint64(&m.metricUploads),
		BytesDown: atomic.LoadUint64(&m.metricBytesDown),
		BytesUp:   atomic.LoadUint64(&m.metricBytesUp),
		Retries:   atomic.LoadUint64(&m.metricRetries),
		State:     atomic.LoadInt64(&m.metricState),
	}
}
