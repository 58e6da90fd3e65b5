package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/loopholelabs/antfs/internal/simulator"
	"github.com/loopholelabs/antfs/pkg/ant/node"
	"github.com/loopholelabs/antfs/pkg/antfs"
	"github.com/loopholelabs/antfs/pkg/antfs/manager"
	"github.com/loopholelabs/antfs/pkg/config"
	"github.com/loopholelabs/antfs/pkg/metrics"
	antprom "github.com/loopholelabs/antfs/pkg/metrics/prometheus"
	"github.com/loopholelabs/antfs/pkg/store"
	"github.com/loopholelabs/antfs/pkg/transport"
	"github.com/loopholelabs/logging"
	"github.com/loopholelabs/logging/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"gopkg.in/natefinch/lumberjack.v2"
)

const defaultStore = "antfs-data"

// session is everything a command needs to talk to one device.
type session struct {
	log     types.RootLogger
	logFile io.Closer
	schema  *config.AntSchema

	sim     *simulator.Simulator
	node    *node.Node
	manager *manager.Manager
	store   store.Store

	metrics    metrics.AntMetrics
	metricsID  string
	httpServer *http.Server

	progress *mpb.Progress
	barsLock sync.Mutex
	bars     []*mpb.Bar
}

func newLogger() (types.RootLogger, io.Closer) {
	var w io.Writer = os.Stderr
	var closer io.Closer
	if rootLogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   rootLogFile,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		}
		w = lj
		closer = lj
	}
	log := logging.New(logging.Zerolog, "antfs", w)
	if rootDebug {
		log.SetLevel(types.TraceLevel)
	}
	return log, closer
}

func readSchema() (*config.AntSchema, error) {
	if rootConf == "" {
		return new(config.AntSchema), nil
	}
	return config.ReadSchema(rootConf)
}

func openStore(ctx context.Context, schema *config.StoreSchema, log types.Logger) (store.Store, error) {
	switch {
	case schema != nil && schema.S3 != nil:
		return store.NewS3(ctx, &store.S3Config{
			Endpoint:  schema.S3.Endpoint,
			AccessKey: schema.S3.AccessKey,
			SecretKey: schema.S3.SecretKey,
			Bucket:    schema.S3.Bucket,
			Prefix:    schema.S3.Prefix,
			Secure:    schema.S3.Secure,
		}, log)
	case schema != nil && schema.Local != nil:
		return store.NewLocal(schema.Local.Path, log)
	case rootSimulate:
		return store.NewMemory(), nil
	}
	return store.NewLocal(defaultStore, log)
}

func openTransport(s *session) (transport.Transport, error) {
	if rootSimulate {
		host, device := transport.NewLoopback()
		s.sim = simulator.New(device, s.log, simulator.DefaultConfig())
		seedSimulator(s.sim)
		err := s.sim.Start()
		if err != nil {
			return nil, err
		}
		s.metricsID = "simulator"
		return host, nil
	}

	if s.schema.Transport == nil {
		return nil, errors.New("no transport configured, use --conf or --simulate")
	}
	timeout, err := s.schema.Transport.Timeout()
	if err != nil {
		return nil, err
	}
	s.metricsID = s.schema.Transport.Port
	return transport.NewSerial(s.schema.Transport.Port, s.schema.Transport.BaudRate(), timeout), nil
}

func (s *session) serveMetrics() {
	reg := prometheus.NewRegistry()
	s.metrics = antprom.New(reg, antprom.DefaultConfig())

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		reg,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			Registry:          reg,
		},
	))
	s.httpServer = &http.Server{Addr: rootMetrics, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Str("addr", rootMetrics).Msg("metrics server failed")
		}
	}()
}

func newSession(ctx context.Context) (*session, error) {
	s := &session{}
	s.log, s.logFile = newLogger()

	var err error
	s.schema, err = readSchema()
	if err != nil {
		s.close()
		return nil, err
	}

	nconf, err := s.schema.Session.Config()
	if err != nil {
		s.close()
		return nil, err
	}
	mconf, err := s.schema.Antfs.Config()
	if err != nil {
		s.close()
		return nil, err
	}

	s.store, err = openStore(ctx, s.schema.Store, s.log)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("could not open store: %w", err)
	}

	t, err := openTransport(s)
	if err != nil {
		s.close()
		return nil, err
	}

	s.node = node.New(t, s.log, nconf)
	err = s.node.Start(ctx)
	if err != nil {
		s.node = nil
		s.close()
		return nil, err
	}
	s.manager = manager.New(s.node, s.log, mconf)

	if rootMetrics != "" {
		s.serveMetrics()
		s.metrics.AddEngine(s.metricsID, "stick", s.node.Engine())
		s.metrics.AddManager(s.metricsID, "antfs", s.manager)
	}

	if rootProgress {
		s.progress = mpb.New(
			mpb.WithOutput(color.Output),
			mpb.WithAutoRefresh(),
		)
	}
	return s, nil
}

func (s *session) close() {
	if s.progress != nil {
		s.barsLock.Lock()
		for _, bar := range s.bars {
			if !bar.Completed() {
				bar.Abort(false)
			}
		}
		s.barsLock.Unlock()
		s.progress.Wait()
	}
	if s.metrics != nil {
		s.metrics.RemoveAllID(s.metricsID)
		s.metrics.Shutdown()
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	if s.manager != nil {
		s.log.Info().Str("metrics", s.manager.Metrics().String()).Msg("manager")
	}
	if s.node != nil {
		s.log.Info().Str("metrics", s.node.Engine().Metrics().String()).Msg("engine")
		err := s.node.Stop()
		if err != nil {
			s.log.Warn().Err(err).Msg("could not stop node")
		}
	}
	if s.sim != nil {
		_ = s.sim.Stop()
	}
	if s.logFile != nil {
		_ = s.logFile.Close()
	}
}

// bar returns a progress callback drawing one bar, or nil when progress is off.
func (s *session) bar(name string) manager.ProgressFunc {
	if s.progress == nil {
		return nil
	}
	var bar *mpb.Bar
	return func(done int64, total int64) {
		if bar == nil {
			bar = s.progress.AddBar(total,
				mpb.PrependDecorators(
					decor.Name(name, decor.WCSyncSpaceR),
					decor.CountersKiloByte("%d/%d", decor.WCSyncWidth),
				),
				mpb.AppendDecorators(
					decor.OnComplete(decor.Percentage(decor.WC{W: 5}), "done"),
				),
			)
			s.barsLock.Lock()
			s.bars = append(s.bars, bar)
			s.barsLock.Unlock()
		}
		bar.SetCurrent(done)
	}
}

// withDevice runs fn once a device is in transport, authenticating with stored passkeys.
func withDevice(ctx context.Context, fn func(ctx context.Context, s *session, m *manager.Manager) error) error {
	s, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	auth := &manager.Authenticator{Passkeys: &store.Passkeys{Store: s.store}}
	return s.manager.Run(ctx, &manager.Hooks{
		Authentication: auth.OnAuthentication,
		Transport: func(ctx context.Context, m *manager.Manager, _ *antfs.Beacon) error {
			return fn(ctx, s, m)
		},
	})
}
