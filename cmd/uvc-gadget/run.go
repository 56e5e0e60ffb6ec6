package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diylxy/uvc-gadget-multi-planar/internal/collectors"
	"github.com/diylxy/uvc-gadget-multi-planar/internal/config"
	"github.com/diylxy/uvc-gadget-multi-planar/internal/health"
	"github.com/diylxy/uvc-gadget-multi-planar/internal/jpegenc"
	"github.com/diylxy/uvc-gadget-multi-planar/internal/logging"
	"github.com/diylxy/uvc-gadget-multi-planar/internal/mjpeg"
	"github.com/diylxy/uvc-gadget-multi-planar/internal/sink"
	"github.com/diylxy/uvc-gadget-multi-planar/internal/source"
)

var log = logging.L("main")

const shutdownTimeout = 5 * time.Second

func encoderConfig(cfg *config.Config, mon *health.Monitor) mjpeg.Config {
	// mjpeg treats a zero timeout as unset; negative is its fail-fast value.
	enqueueTimeout := time.Duration(cfg.EnqueueTimeoutMs) * time.Millisecond
	if cfg.EnqueueTimeoutMs == 0 {
		enqueueTimeout = -1
	}
	return mjpeg.Config{
		Workers:        cfg.EncoderWorkers,
		QueueCapacity:  cfg.QueueCapacity,
		Quality:        cfg.JPEGQuality,
		WaitInterval:   time.Duration(cfg.WaitIntervalMs) * time.Millisecond,
		EnqueueTimeout: enqueueTimeout,
		Ordered:        cfg.OrderedDelivery,
		Health:         mon,
	}
}

func runGadget() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logFile, err := initLogging(cfg)
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
	}

	pixFmt, err := source.ParsePixelFormat(cfg.PixelFormat)
	if err != nil {
		return err
	}
	log.Info("starting uvc-gadget", "version", version, "format", pixFmt.String(),
		"width", cfg.Width, "height", cfg.Height, "fps", cfg.FPS)

	mon := health.NewMonitor()
	sim := source.NewSimulator(cfg.CaptureBuffers)
	defer sim.Close()
	if err := sim.SetFrameRate(cfg.FPS); err != nil {
		return err
	}

	src := source.New(sim, encoderConfig(cfg, mon))
	format := source.Format{PixelFormat: pixFmt, Width: cfg.Width, Height: cfg.Height}
	if err := src.SetFormat(&format); err != nil {
		return fmt.Errorf("set format: %w", err)
	}

	var pubs []sink.Publisher
	var hub *sink.Hub
	if cfg.PreviewAddr != "" {
		hub = sink.NewHub()
		pubs = append(pubs, hub)
	}
	if cfg.SnapshotDir != "" {
		w, err := sink.NewDirWriter(cfg.SnapshotDir, cfg.SnapshotEvery)
		if err != nil {
			return err
		}
		pubs = append(pubs, w)
	}
	if len(pubs) > 0 && pixFmt != source.PixFmtMJPEG {
		log.Warn("preview and snapshots carry raw frames in passthrough mode", "format", pixFmt.String())
	}

	gadget, err := sink.NewGadget(src, cfg.SinkBuffers, jpegenc.DestinationSize(format.Width, format.Height), pubs...)
	if err != nil {
		return err
	}
	defer gadget.Close()
	if err := gadget.Attach(); err != nil {
		return err
	}

	var srv *http.Server
	if hub != nil {
		srv = startPreview(cfg.PreviewAddr, hub, mon)
	}

	if err := src.StreamOn(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	simDone := make(chan struct{})
	go func() {
		defer close(simDone)
		sim.Run(ctx, src.ProcessFrame)
	}()
	go watchHangup(ctx, logFile)
	if cfg.StatsIntervalSeconds > 0 {
		go reportStats(ctx, time.Duration(cfg.StatsIntervalSeconds)*time.Second, src, gadget, mon)
	}

	<-ctx.Done()
	log.Info("shutting down")
	<-simDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	if err := src.StreamOff(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if srv != nil {
		hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("preview server: %w", err))
		}
	}
	log.Info("stopped", "frames", gadget.Frames(), "bytes", gadget.Bytes(), "overall", string(mon.Overall()))
	return errors.Join(errs...)
}

func startPreview(addr string, hub *sink.Hub, mon *health.Monitor) *http.Server {
	srv := &http.Server{Addr: addr, Handler: sink.NewPreviewRouter(hub, mon), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("preview server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("preview server failed", logging.KeyError, err)
		}
	}()
	return srv
}

// watchHangup reopens the log file on SIGHUP so external rotation works.
func watchHangup(ctx context.Context, rw *logging.RotatingWriter) {
	if rw == nil {
		return
	}
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := rw.Reopen(); err != nil {
				log.Warn("log reopen failed", logging.KeyError, err)
			}
		}
	}
}

func reportStats(ctx context.Context, every time.Duration, src *source.VideoSource, g *sink.Gadget, mon *health.Monitor) {
	proc, err := collectors.NewProcessCollector()
	if err != nil {
		log.Warn("process metrics unavailable", logging.KeyError, err)
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		args := []any{"consumed", g.Frames(), "health", string(mon.Overall())}
		if enc := src.Encoder(); enc != nil {
			s := enc.Stats()
			d := enc.Pending()
			args = append(args,
				"encoded", s.FramesEncoded,
				"failed", s.FramesFailed,
				"overruns", s.Overruns,
				"encodeMs", s.EncodeMs,
				"frameBytes", s.LastFrameSize,
				"fps", s.FPS,
				"kbps", s.BandwidthKBps,
				"pendingCaptures", d.Captures,
				"pendingSlots", d.Destinations)
		}
		if proc != nil {
			if m, err := proc.Collect(); err == nil {
				args = append(args, m.LogArgs()...)
			}
		}
		log.Info("pipeline stats", args...)
	}
}
