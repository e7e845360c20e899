package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"example.com/ch10stream/internal/common"
	"example.com/ch10stream/internal/config"
	"example.com/ch10stream/internal/netstream"
	"example.com/ch10stream/internal/recorder"
	"example.com/ch10stream/internal/server"
)

// loadConfig reads path, falling back to defaults when the file is missing
// and was not asked for explicitly.
func loadConfig(path string, explicit bool) (config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return config.Default(), nil
	}
	return cfg, err
}

func setupLogging(cfg config.Config) error {
	if err := os.MkdirAll(cfg.Log.Directory, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	logFile := filepath.Join(cfg.Log.Directory, "ch10d.log")
	rotator := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxAge:     cfg.Log.MaxAgeDays,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   cfg.Log.Compress,
	}
	common.SetLogOutput(io.MultiWriter(os.Stdout, rotator))
	return common.SetLogLevel(cfg.Log.Level)
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	addr := flag.String("addr", "", "UDP listen address (overrides config)")
	outDir := flag.String("out", "", "recording directory (overrides config)")
	statusAddr := flag.String("status", "", "HTTP status address (overrides config)")
	statsEvery := flag.Duration("stats", time.Minute, "interval between statistics log lines (0 disables)")
	flag.Parse()

	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	cfg, err := loadConfig(*configPath, explicit)
	if err != nil {
		common.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.Listen.Address = *addr
	}
	if *outDir != "" {
		cfg.Output.Directory = *outDir
	}
	if *statusAddr != "" {
		cfg.Status.Address = *statusAddr
	}
	if err := setupLogging(cfg); err != nil {
		common.Fatalf("setup logging: %v", err)
	}

	rec, err := recorder.New(cfg)
	if err != nil {
		common.Fatalf("recorder init: %v", err)
	}
	defer rec.Close()
	rcv, err := netstream.Listen(cfg.Listen.Address)
	if err != nil {
		common.Fatalf("listen: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *statsEvery > 0 {
		go logStats(ctx, rec.Metrics(), *statsEvery)
	}
	if cfg.Status.Address != "" {
		go func() {
			if err := server.ListenAndServe(ctx, cfg.Status.Address, server.NewServer(rec)); err != nil {
				common.Errorf("status server: %v", err)
			}
		}()
	}

	common.Infof("ch10d listening on %s", rcv.LocalAddr())
	if err := rec.Run(ctx, rcv); err != nil {
		common.Errorf("record: %v", err)
	}
	snap := rec.Metrics().Snapshot()
	common.Infof("ch10d stopped: %d packets, %s, %d files, %d resyncs, %d sequence gaps, %d dropped",
		snap.Packets, common.FormatBytes(snap.Bytes), len(rec.Files()), snap.Resyncs, snap.SequenceGaps, snap.Dropped)
}

func logStats(ctx context.Context, m *common.Metrics, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := m.Snapshot()
			common.Infof("stats: packets=%d datagrams=%d bytes=%s rate=%.2f MB/s resyncs=%d gaps=%d dropped=%d",
				snap.Packets, snap.Datagrams, common.FormatBytes(snap.Bytes),
				snap.ThroughputBytesPerSecond()/1_000_000, snap.Resyncs, snap.SequenceGaps, snap.Dropped)
		}
	}
}
