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
	"syscall"
	"time"

	"github.com/Thermoquad/sertag/pkg/dsmser"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Monitor framing statistics and data loss",
	Long: `Track records, line errors and data loss on a port with statistics.

This command frames the incoming stream and watches the engine counters:
  - Line errors (parity, overrun, framing)
  - Input bytes lost (raw scan queue full, oversized scans, discarded partial records)
  - Output bytes lost (records dropped with the output queue full)
  - Records forced out at the maximum record size
  - Receive FIFO usage, queue space, record and byte rates

By default, only loss events are displayed. Use --show-all to display records too.

Statistics are shown in a terminal UI, or printed at a configurable interval
with --tui=false.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all records (not just loss events)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if statsInterval < 1 {
		return fmt.Errorf("--stats-interval must be at least 1")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openFlagSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if useTUI {
		return runTUIMode(s)
	}
	return runTextMode(ctx, s)
}

// readSamples feeds every record of the port to fn until the port closes
// or fn fails
func readSamples(port *dsmser.Port, fn func(dsmser.Sample) error) error {
	sr := dsmser.NewSampleReader(port.Stream())
	for {
		sample, err := sr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(sample); err != nil {
			return err
		}
	}
}

// printLossEvents prints the counters that moved since the previous status
func printLossEvents(prev, cur dsmser.Status) {
	timestamp := time.Now().Format("15:04:05.000")
	if d := cur.Errors() - prev.Errors(); d > 0 {
		fmt.Printf("[%s] \033[1;31mLINE ERRORS:\033[0m %d (parity %d, overrun %d, framing %d)\n", timestamp, d,
			cur.ParityErrors-prev.ParityErrors, cur.OverrunErrors-prev.OverrunErrors, cur.FramingErrors-prev.FramingErrors)
	}
	if d := cur.InputBytesLost - prev.InputBytesLost; d > 0 {
		fmt.Printf("[%s] \033[1;31mINPUT LOST:\033[0m %d bytes\n", timestamp, d)
	}
	if d := cur.OutputBytesLost - prev.OutputBytesLost; d > 0 {
		fmt.Printf("[%s] \033[1;31mOUTPUT LOST:\033[0m %d bytes\n", timestamp, d)
	}
	if d := cur.RecordOverflows - prev.RecordOverflows; d > 0 {
		fmt.Printf("[%s] \033[1;33mRECORD OVERFLOW:\033[0m %d records forced at %d bytes\n", timestamp, d, dsmser.MaxRecordSize)
	}
	if d := cur.ScanOverflows - prev.ScanOverflows; d > 0 {
		fmt.Printf("[%s] \033[1;33mSCAN OVERFLOW:\033[0m %d scans truncated\n", timestamp, d)
	}
}

// runTUIMode runs the monitor in TUI mode
func runTUIMode(s *session) error {
	m := initialModel(s.info, s.port, showAll)
	p := tea.NewProgram(m)

	// Record reader goroutine
	go func() {
		err := readSamples(s.port, func(sample dsmser.Sample) error {
			p.Send(recordMsg{sample: sample})
			return nil
		})
		p.Send(closedMsg{err: err})
	}()

	// Run TUI
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	return nil
}

// runTextMode runs the monitor in text mode
func runTextMode(ctx context.Context, s *session) error {
	fmt.Printf("Sertag - Monitor\n")
	fmt.Printf("Connection: %s\n", s.info)
	fmt.Printf("Framing: %s\n", s.port.RecordSeparator())
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All records\n")
	} else {
		fmt.Printf("Mode: Loss events only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	records := make(chan dsmser.Sample, 64)
	readErr := make(chan error, 1)
	go func() {
		readErr <- readSamples(s.port, func(sample dsmser.Sample) error {
			select {
			case records <- sample:
			default:
				// Display can't keep up; the engine counters are unaffected
			}
			return nil
		})
	}()

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()
	eventTicker := time.NewTicker(time.Second)
	defer eventTicker.Stop()

	var prev dsmser.Status
	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			fmt.Print(s.Close().String())
			return nil

		case err := <-readErr:
			fmt.Println()
			fmt.Print(s.Close().String())
			return err

		case sample := <-records:
			if showAll {
				fmt.Print(dsmser.FormatSample(sample))
			}

		case <-eventTicker.C:
			cur := s.port.Status()
			printLossEvents(prev, cur)
			prev = cur

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(s.port.Status().String())
			fmt.Println()
		}
	}
}
