// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Thermoquad/sertag/internal/config"
	"github.com/Thermoquad/sertag/pkg/dsmser"
	"go.uber.org/zap"
)

// flagLineMode returns the line mode given by the serial flags
func flagLineMode() dsmser.LineMode {
	return dsmser.LineMode{
		Baud:     baudRate,
		DataBits: dataBits,
		Parity:   strings.ToLower(parity) == "even" || strings.ToLower(parity) == "odd",
		StopBits: stopBits,
	}
}

// formatLineMode formats a line mode as "9600 baud 8N1"
func formatLineMode(m dsmser.LineMode, parityName string) string {
	p := "N"
	if m.Parity && parityName != "" {
		p = strings.ToUpper(parityName[:1])
	}
	return fmt.Sprintf("%d baud %d%s%d", m.Baud, m.DataBits, p, m.StopBits)
}

// flagSeparator returns the framing configuration given by the flags
func flagSeparator() (dsmser.SeparatorConfig, error) {
	sep, err := config.ParseEscapes(separator)
	if err != nil {
		return dsmser.SeparatorConfig{}, fmt.Errorf("--sep: %w", err)
	}
	if recordLen < 0 || recordLen > dsmser.MaxRecordSize {
		return dsmser.SeparatorConfig{}, fmt.Errorf("--record-len %d out of range", recordLen)
	}

	cfg := dsmser.SeparatorConfig{
		Separator: sep,
		Anchor:    dsmser.EndOfMessage,
		RecordLen: uint16(recordLen),
		AddNull:   addNull,
	}
	if bomAnchor {
		cfg.Anchor = dsmser.BeginOfMessage
	}
	if err := cfg.Validate(); err != nil {
		return dsmser.SeparatorConfig{}, err
	}
	return cfg, nil
}

// flagPortConfig returns the engine configuration given by the flags
func flagPortConfig(name string) (dsmser.PortConfig, error) {
	sep, err := flagSeparator()
	if err != nil {
		return dsmser.PortConfig{}, err
	}
	if clockRes < 1 {
		return dsmser.PortConfig{}, fmt.Errorf("--clock-res must be at least 1")
	}
	return dsmser.PortConfig{
		Name:      name,
		Clock:     dsmser.NewSystemClock(dsmser.Millis(clockRes)),
		Logger:    logger,
		LineMode:  flagLineMode(),
		Separator: &sep,
		Latency:   time.Duration(readLatency) * time.Millisecond,
	}, nil
}

// portConfigFromFile returns the engine configuration of a normalized
// configuration file port
func portConfigFromFile(p config.PortConfig, log *zap.Logger) dsmser.PortConfig {
	sep := p.Separator()
	return dsmser.PortConfig{
		Name:      p.Name,
		Clock:     dsmser.NewSystemClock(dsmser.Millis(p.ClockResMs)),
		Logger:    log,
		LineMode:  p.LineMode(),
		Separator: &sep,
		Latency:   p.ReadLatency(),
	}
}

// session is an open connection feeding an engine port
type session struct {
	conn Connection
	port *dsmser.Port
	info string
	log  *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// startSession opens the engine port on conn and starts the receive pump
func startSession(ctx context.Context, conn Connection, info string, cfg dsmser.PortConfig, latencyChars int) (*session, error) {
	cfg.Device = conn
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	port, err := dsmser.Open(cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &session{
		conn:   conn,
		port:   port,
		info:   info,
		log:    cfg.Logger.With(zap.String("port", cfg.Name)),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		if err := pump(ctx, conn, port, latencyChars, s.log); err != nil {
			s.log.Warn("receive stopped", zap.Error(err))
			waitDrained(ctx, port, drainGrace)
		}
		// Readers see end of stream once the source is gone
		port.Close()
	}()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	return s, nil
}

// drainGrace bounds how long a port whose source ended stays open for
// readers to collect what is queued
const drainGrace = time.Second

// waitDrained waits until the port has nothing queued, ctx is done or grace
// passes
func waitDrained(ctx context.Context, port *dsmser.Port, grace time.Duration) {
	deadline := time.Now().Add(grace)
	for port.Pending() > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// openFlagSession opens the connection and engine given by the flags
func openFlagSession(ctx context.Context) (*session, error) {
	cfg, err := flagPortConfig(portName)
	if err != nil {
		return nil, err
	}
	pr, prompting, err := flagPrompt()
	if err != nil {
		return nil, fmt.Errorf("--prompt: %w", err)
	}
	conn, info, err := OpenConnection()
	if err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = wsURL
	}
	s, err := startSession(ctx, conn, info, cfg, latencyChars)
	if err != nil {
		return nil, err
	}
	if prompting {
		if err := startPrompt(s.port, pr); err != nil {
			s.Close()
			return nil, fmt.Errorf("--prompt: %w", err)
		}
	}
	return s, nil
}

// flagPrompt returns the prompt given by the flags, if any
func flagPrompt() (dsmser.Prompt, bool, error) {
	if promptText == "" {
		return dsmser.Prompt{}, false, nil
	}
	text, err := config.ParseEscapes(promptText)
	if err != nil {
		return dsmser.Prompt{}, false, err
	}
	return dsmser.Prompt{Text: text, Rate: time.Duration(promptRateMs) * time.Millisecond}, true, nil
}

// startPrompt installs pr on port and starts the prompter
func startPrompt(port *dsmser.Port, pr dsmser.Prompt) error {
	if err := port.SetPrompt(pr); err != nil {
		return err
	}
	return port.StartPrompter()
}

// Close stops the pump, closes the connection and returns the final status
func (s *session) Close() dsmser.Status {
	s.cancel()
	<-s.done
	return s.port.Close()
}

// pump is the producer: it drains the connection in scan sized chunks into
// the engine port. It returns nil when the context is cancelled or the
// port is closed.
func pump(ctx context.Context, conn io.Reader, port *dsmser.Port, latencyChars int, log *zap.Logger) error {
	buf := make([]byte, dsmser.ScanSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if rerr := port.Receive(buf[:n], latencyChars); rerr != nil {
				return nil
			}
		}
		if err == nil {
			continue
		}

		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, io.EOF) || errors.Is(err, ErrConnectionClosed) {
			return err
		}
		// Serial read errors are usually transient, keep reading
		log.Warn("read error", zap.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(100 * time.Millisecond):
		}
	}
}
