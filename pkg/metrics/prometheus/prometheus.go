package prometheus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/loopholelabs/antfs/pkg/ant/link"
	"github.com/loopholelabs/antfs/pkg/antfs/manager"
	"github.com/prometheus/client_golang/prometheus"
)

type MetricsConfig struct {
	Namespace   string
	SubEngine   string
	SubManager  string
	TickEngine  time.Duration
	TickManager time.Duration
}

func DefaultConfig() *MetricsConfig {
	return &MetricsConfig{
		Namespace:   "antfs",
		SubEngine:   "engine",
		SubManager:  "manager",
		TickEngine:  100 * time.Millisecond,
		TickManager: 100 * time.Millisecond,
	}
}

type Metrics struct {
	reg    prometheus.Registerer
	lock   sync.Mutex
	config *MetricsConfig

	// engine
	engineFramesIn            *prometheus.GaugeVec
	engineFramesOut           *prometheus.GaugeVec
	engineBytesIn             *prometheus.GaugeVec
	engineBytesOut            *prometheus.GaugeVec
	engineFramingErrors       *prometheus.GaugeVec
	engineReadErrors          *prometheus.GaugeVec
	engineWriteErrors         *prometheus.GaugeVec
	engineDuplicateBroadcasts *prometheus.GaugeVec
	engineBurstsAssembled     *prometheus.GaugeVec
	engineDrains              *prometheus.GaugeVec
	engineDrainedFrames       *prometheus.GaugeVec
	engineQueued              *prometheus.GaugeVec

	// manager
	managerSessions  *prometheus.GaugeVec
	managerCommands  *prometheus.GaugeVec
	managerDownloads *prometheus.GaugeVec
	managerUploads   *prometheus.GaugeVec
	managerBytesDown *prometheus.GaugeVec
	managerBytesUp   *prometheus.GaugeVec
	managerRetries   *prometheus.GaugeVec
	managerState     *prometheus.GaugeVec

	cancelfns map[string]context.CancelFunc
}

func New(reg prometheus.Registerer, config *MetricsConfig) *Metrics {
	labels := []string{"id", "name"}
	gauge := func(subsystem string, name string, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: config.Namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
	}

	met := &Metrics{
		config: config,
		reg:    reg,

		engineFramesIn:            gauge(config.SubEngine, "frames_in", "Frames in"),
		engineFramesOut:           gauge(config.SubEngine, "frames_out", "Frames out"),
		engineBytesIn:             gauge(config.SubEngine, "bytes_in", "Bytes in"),
		engineBytesOut:            gauge(config.SubEngine, "bytes_out", "Bytes out"),
		engineFramingErrors:       gauge(config.SubEngine, "framing_errors", "Framing errors"),
		engineReadErrors:          gauge(config.SubEngine, "read_errors", "Transport read errors"),
		engineWriteErrors:         gauge(config.SubEngine, "write_errors", "Transport write errors"),
		engineDuplicateBroadcasts: gauge(config.SubEngine, "duplicate_broadcasts", "Repeated broadcasts dropped"),
		engineBurstsAssembled:     gauge(config.SubEngine, "bursts_assembled", "Bursts assembled"),
		engineDrains:              gauge(config.SubEngine, "drains", "Timeslot drains"),
		engineDrainedFrames:       gauge(config.SubEngine, "drained_frames", "Frames sent in timeslots"),
		engineQueued:              gauge(config.SubEngine, "queued", "Frames waiting for a timeslot"),

		managerSessions:  gauge(config.SubManager, "sessions", "Sessions"),
		managerCommands:  gauge(config.SubManager, "commands", "Commands sent"),
		managerDownloads: gauge(config.SubManager, "downloads", "Downloads"),
		managerUploads:   gauge(config.SubManager, "uploads", "Uploads"),
		managerBytesDown: gauge(config.SubManager, "bytes_down", "Bytes downloaded"),
		managerBytesUp:   gauge(config.SubManager, "bytes_up", "Bytes uploaded"),
		managerRetries:   gauge(config.SubManager, "retries", "Download retries"),
		managerState:     gauge(config.SubManager, "state", "Client state"),

		cancelfns: make(map[string]context.CancelFunc),
	}

	reg.MustRegister(met.engineFramesIn, met.engineFramesOut, met.engineBytesIn, met.engineBytesOut,
		met.engineFramingErrors, met.engineReadErrors, met.engineWriteErrors, met.engineDuplicateBroadcasts,
		met.engineBurstsAssembled, met.engineDrains, met.engineDrainedFrames, met.engineQueued)

	reg.MustRegister(met.managerSessions, met.managerCommands, met.managerDownloads, met.managerUploads,
		met.managerBytesDown, met.managerBytesUp, met.managerRetries, met.managerState)

	return met
}

func key(subsystem string, id string, name string) string {
	return fmt.Sprintf("%s_%s_%s", id, subsystem, name)
}

func (m *Metrics) remove(subsystem string, id string, name string) {
	m.lock.Lock()
	cancelfn, ok := m.cancelfns[key(subsystem, id, name)]
	if ok {
		cancelfn()
		delete(m.cancelfns, key(subsystem, id, name))
	}
	m.lock.Unlock()
}

func (m *Metrics) add(subsystem string, id string, name string, interval time.Duration, tickfn func()) {
	ctx, cancelfn := context.WithCancel(context.TODO())
	m.lock.Lock()
	if old, ok := m.cancelfns[key(subsystem, id, name)]; ok {
		old()
	}
	m.cancelfns[key(subsystem, id, name)] = cancelfn
	m.lock.Unlock()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickfn()
			}
		}
	}()
}

// Shutdown everything
func (m *Metrics) Shutdown() {
	m.lock.Lock()
	for _, cancelfn := range m.cancelfns {
		cancelfn()
	}
	m.cancelfns = make(map[string]context.CancelFunc)
	m.lock.Unlock()
}

func (m *Metrics) RemoveAllID(id string) {
	m.lock.Lock()
	for k, cancelfn := range m.cancelfns {
		if strings.HasPrefix(k, id+"_") {
			cancelfn()
			delete(m.cancelfns, k)
		}
	}
	m.lock.Unlock()
}

func (m *Metrics) AddEngine(id string, name string, e *link.Engine) {
	m.add(m.config.SubEngine, id, name, m.config.TickEngine, func() {
		met := e.Metrics()
		m.engineFramesIn.WithLabelValues(id, name).Set(float64(met.FramesIn))
		m.engineFramesOut.WithLabelValues(id, name).Set(float64(met.FramesOut))
		m.engineBytesIn.WithLabelValues(id, name).Set(float64(met.BytesIn))
		m.engineBytesOut.WithLabelValues(id, name).Set(float64(met.BytesOut))
		m.engineFramingErrors.WithLabelValues(id, name).Set(float64(met.FramingErrors))
		m.engineReadErrors.WithLabelValues(id, name).Set(float64(met.ReadErrors))
		m.engineWriteErrors.WithLabelValues(id, name).Set(float64(met.WriteErrors))
		m.engineDuplicateBroadcasts.WithLabelValues(id, name).Set(float64(met.DuplicateBroadcasts))
		m.engineBurstsAssembled.WithLabelValues(id, name).Set(float64(met.BurstsAssembled))
		m.engineDrains.WithLabelValues(id, name).Set(float64(met.Drains))
		m.engineDrainedFrames.WithLabelValues(id, name).Set(float64(met.DrainedFrames))
		m.engineQueued.WithLabelValues(id, name).Set(float64(met.Queued))
	})
}

func (m *Metrics) RemoveEngine(id string, name string) {
	m.remove(m.config.SubEngine, id, name)
}

func (m *Metrics) AddManager(id string, name string, mgr *manager.Manager) {
	m.add(m.config.SubManager, id, name, m.config.TickManager, func() {
		met := mgr.Metrics()
		m.managerSessions.WithLabelValues(id, name).Set(float64(met.Sessions))
		m.managerCommands.WithLabelValues(id, name).Set(float64(met.Commands))
		m.managerDownloads.WithLabelValues(id, name).Set(float64(met.Downloads))
		m.managerUploads.WithLabelValues(id, name).Set(float64(met.Uploads))
		m.managerBytesDown.WithLabelValues(id, name).Set(float64(met.BytesDown))
		m.managerBytesUp.WithLabelValues(id, name).Set(float64(met.BytesUp))
		m.managerRetries.WithLabelValues(id, name).Set(float64(met.Retries))
		m.managerState.WithLabelValues(id, name).Set(float64(met.State))
	})
}

func (m *Metrics) RemoveManager(id string, name string) {
	m.remove(m.config.SubManager, id, name)
}
