// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Thermoquad/sertag/internal/config"
	"github.com/Thermoquad/sertag/pkg/dsmser"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Reopen backoff bounds
var (
	minBackoff = 1 * time.Second
	maxBackoff = 30 * time.Second
)

var runCmd = &cobra.Command{
	Use:   "run <config.yaml>",
	Short: "Run every port of a configuration file",
	Long: `Frame and time tag records from several ports at once.

The YAML configuration lists the ports, each with a serial device or a
WebSocket URL, its line settings, record framing and an optional prompt.
Records of all ports are written to one output, tagged with the port name.
Each port's status is logged periodically and when it closes.

A port whose connection drops is reopened with exponential backoff. A port
that cannot be opened at startup stops the run.

Example:

  sertag:
    format: text
    status_interval_s: 60
    ports:
      - name: gps
        device: /dev/ttyS1
        line: {baud: 4800}
        record: {separator: "\n"}
      - name: sonic
        device: /dev/ttyS2
        line: {baud: 9600, parity: even, data_bits: 7}
        record: {separator: "\r\n"}
        prompt: {text: "?\r", rate_ms: 100}`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// loadConfig reads, validates and normalizes a configuration file
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	config.Normalize(cfg)
	return cfg, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, closeOut, err := openOutput(cfg.Sertag.Output)
	if err != nil {
		return err
	}
	defer closeOut()

	sw, err := newSampleWriter(out, cfg.Sertag.Format)
	if err != nil {
		return err
	}

	logger.Info("starting",
		zap.String("config", args[0]),
		zap.Int("ports", len(cfg.Sertag.Ports)),
		zap.String("format", cfg.Sertag.Format))

	return runPorts(ctx, cfg.Sertag, &lockedSampleWriter{sw: sw}, openPortConnection, logger)
}

// lockedSampleWriter serializes writes from the port runners
type lockedSampleWriter struct {
	mu sync.Mutex
	sw *sampleWriter
}

func (w *lockedSampleWriter) Write(port string, s dsmser.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sw.Write(port, s)
}

// connOpener opens the connection of a configured port
type connOpener func(p config.PortConfig) (Connection, string, error)

// openPortConnection opens the serial device or WebSocket of a port.
// WebSocket passwords come from the environment only.
func openPortConnection(p config.PortConfig) (Connection, string, error) {
	if p.URL != "" {
		var username, password string
		var skipVerify bool
		if p.Auth != nil {
			username = p.Auth.Username
			skipVerify = p.Auth.NoSSLVerify
			if username != "" {
				password = os.Getenv(p.Auth.PasswordEnv)
				if password == "" {
					return nil, "", fmt.Errorf("port %q: password variable %q is not set", p.Name, p.Auth.PasswordEnv)
				}
			}
		}
		conn, err := OpenWebSocketConnection(p.URL, username, password, skipVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", p.URL), nil
	}

	line := p.LineMode()
	conn, err := OpenSerialConnection(p.Device, line, p.Line.Parity)
	if err != nil {
		return nil, "", err
	}
	return conn, fmt.Sprintf("Serial: %s @ %s", p.Device, formatLineMode(line, p.Line.Parity)), nil
}

// runPorts runs every configured port until ctx is cancelled or one of
// them fails
func runPorts(ctx context.Context, cfg config.SertagConfig, w *lockedSampleWriter, open connOpener, log *zap.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	interval := time.Duration(cfg.StatusIntervalSec) * time.Second

	for _, p := range cfg.Ports {
		p := p
		g.Go(func() error {
			return runPort(gctx, p, w, open, interval, log.With(zap.String("port", p.Name)))
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runPort opens a port and keeps it open, reconnecting with exponential
// backoff when the connection drops. Only the first open may fail the run.
func runPort(ctx context.Context, p config.PortConfig, w *lockedSampleWriter, open connOpener, interval time.Duration, log *zap.Logger) error {
	backoff := minBackoff
	for attempt := 0; ; attempt++ {
		s, err := openPortSession(ctx, p, open, log)
		if err != nil {
			if attempt == 0 {
				return fmt.Errorf("port %q: %w", p.Name, err)
			}
			log.Warn("reopen failed", zap.Error(err), zap.Duration("retry_in", backoff))
		} else {
			log.Info("port open", zap.String("connection", s.info), zap.Stringer("framing", s.port.RecordSeparator()))
			if err := runSession(s, w, interval, log); err != nil {
				return fmt.Errorf("port %q: %w", p.Name, err)
			}
			backoff = minBackoff
			if ctx.Err() == nil {
				log.Warn("connection lost, reopening", zap.Duration("retry_in", backoff))
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		if err != nil {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// openPortSession opens the connection and engine of a configured port
func openPortSession(ctx context.Context, p config.PortConfig, open connOpener, log *zap.Logger) (*session, error) {
	conn, info, err := open(p)
	if err != nil {
		return nil, err
	}
	s, err := startSession(ctx, conn, info, portConfigFromFile(p, log), p.LatencyChars)
	if err != nil {
		return nil, err
	}
	if pr, ok := p.PromptSettings(); ok {
		if err := startPrompt(s.port, pr); err != nil {
			s.Close()
			return nil, fmt.Errorf("prompt: %w", err)
		}
	}
	return s, nil
}

// runSession writes the session's records until its port closes, logging
// status every interval. It returns an error only if a record could not be
// written.
func runSession(s *session, w *lockedSampleWriter, interval time.Duration, log *zap.Logger) error {
	name := s.port.Name()
	stopStatus := make(chan struct{})
	statusDone := make(chan struct{})
	go func() {
		defer close(statusDone)
		if interval <= 0 {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopStatus:
				return
			case <-ticker.C:
				log.Info("status", statusFields(s.port.Status())...)
			}
		}
	}()

	err := readSamples(s.port, func(sample dsmser.Sample) error {
		if err := w.Write(name, sample); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		return nil
	})
	close(stopStatus)
	<-statusDone

	st := s.Close()
	log.Info("port closed", statusFields(st)...)
	// A record cut short by the close is already counted as lost
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return nil
	}
	return err
}

// statusFields converts a status snapshot to log fields
func statusFields(st dsmser.Status) []zap.Field {
	return []zap.Field{
		zap.Uint64("records", st.RecordsDelivered),
		zap.Uint64("bytes", st.BytesDelivered),
		zap.Uint64("line_errors", st.Errors()),
		zap.Uint64("input_lost", st.InputBytesLost),
		zap.Uint64("output_lost", st.OutputBytesLost),
		zap.Uint64("xmit_lost", st.XmitBytesLost),
		zap.Uint64("record_overflows", st.RecordOverflows),
		zap.Uint64("scan_overflows", st.ScanOverflows),
		zap.Int("fifo_min", st.MinFifoUsage),
		zap.Int("fifo_max", st.MaxFifoUsage),
	}
}
