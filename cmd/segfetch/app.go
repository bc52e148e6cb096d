package main

import (
	"context"

	"github.com/vertextoedge/segfetch/internal/adapter/filesystem"
	"github.com/vertextoedge/segfetch/internal/adapter/httpclient"
	"github.com/vertextoedge/segfetch/internal/config"
	"github.com/vertextoedge/segfetch/internal/domain/event"
	"github.com/vertextoedge/segfetch/internal/port"
	"github.com/vertextoedge/segfetch/internal/service/engine"
	"github.com/vertextoedge/segfetch/internal/service/manager"
	"github.com/vertextoedge/segfetch/internal/service/queue"
	"github.com/vertextoedge/segfetch/internal/service/resolver"
	"go.uber.org/zap"
)

// app holds the components shared by serve and get
type app struct {
	fs         *filesystem.Manager
	dispatcher *event.OrderedDispatcher
	metrics    *event.MetricsHandler
	engine     *engine.Engine
	queue      *queue.Queue
	manager    *manager.Manager
}

// newApp wires the download pipeline from cfg. store may be nil.
func newApp(cfg *config.Config, store port.Store, logger *zap.Logger) *app {
	d := cfg.Downloads

	userAgent := d.UserAgent
	if userAgent == "" {
		userAgent = httpclient.DefaultUserAgent
	}

	client := httpclient.New(httpclient.Config{
		UserAgent:          userAgent,
		Timeout:            d.GetTimeout(),
		InsecureSkipVerify: d.InsecureSkipVerify,
		BufferSize:         d.GetBufferSize(),
	})

	fs := filesystem.NewManagerWithBufferSize(d.GetBufferSize())
	space := filesystem.NewSpaceManager(fs, d.GetReserveBytes(), float64(d.MaxDiskUsagePercent))

	dispatcher := event.NewOrderedDispatcher()
	metrics := event.NewMetricsHandler()
	dispatcher.Subscribe(event.NewLoggingHandler(logger.Named("events")))
	dispatcher.Subscribe(metrics)

	res := resolver.New(&resolver.Config{UserAgent: userAgent}, client, logger.Named("resolver"))

	engineCfg := engine.DefaultConfig()
	engineCfg.MaxSegments = d.MaxSegments
	engineCfg.MinSegmentSize = d.MinSegmentSize
	engineCfg.RetryAttempts = d.RetryAttempts
	engineCfg.RetryDelay = d.GetRetryDelay()
	engineCfg.IdleTimeout = d.GetTimeout()
	engineCfg.UserAgent = userAgent
	engineCfg.BufferSize = d.GetBufferSize()
	engineCfg.BandwidthLimit = d.BandwidthLimit
	eng := engine.New(engineCfg, client, res, fs, space, dispatcher, logger.Named("engine"))

	q := queue.New(d.MaxConcurrent, dispatcher, logger.Named("queue"))
	mgr := manager.New(&manager.Config{DownloadDir: d.Dir}, eng, q, store, fs, dispatcher, logger.Named("manager"))

	return &app{
		fs:         fs,
		dispatcher: dispatcher,
		metrics:    metrics,
		engine:     eng,
		queue:      q,
		manager:    mgr,
	}
}

// close stops transfers, saves state and drains pending events
func (a *app) close(ctx context.Context) error {
	err := a.manager.Close(ctx)
	a.dispatcher.Close()
	return err
}
