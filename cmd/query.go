// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/sertag/internal/config"
	"github.com/Thermoquad/sertag/pkg/dsmser"
	"github.com/spf13/cobra"
)

var (
	queryText    string
	queryTimeout int
	queryCount   int
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Send a command to the instrument and time its reply",
	Long: `Send a command to a polled instrument and wait for the reply record.

Each query discards records already queued, sends --text, and waits for the
next record. The round trip time and the record's time tag are shown, which
helps when choosing a prompt rate and checking the time tag latency
settings.

This is useful for verifying:
  - The instrument answers on this line mode
  - Commands and the record separator match
  - The transmit path (serial or WebSocket bridge) works

Exit codes:
  0 - All queries answered
  1 - One or more queries failed/timed out
  2 - Connection error`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVar(&queryText, "text", "", "Command to send, Go escapes allowed (e.g. '?\\r')")
	queryCmd.Flags().IntVar(&queryTimeout, "timeout", 5, "Timeout in seconds for each reply")
	queryCmd.Flags().IntVar(&queryCount, "count", 3, "Number of queries to send")
	_ = queryCmd.MarkFlagRequired("text")
}

func runQuery(cmd *cobra.Command, args []string) error {
	text, err := config.ParseEscapes(queryText)
	if err != nil {
		return fmt.Errorf("--text: %w", err)
	}
	if len(text) == 0 {
		return fmt.Errorf("--text must not be empty")
	}
	if queryCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	// Open connection (serial or WebSocket)
	s, err := openFlagSession(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer s.Close()

	fmt.Printf("Sertag - Query\n")
	fmt.Printf("Connection: %s\n", s.info)
	fmt.Printf("Framing: %s\n", s.port.RecordSeparator())
	fmt.Printf("Command: %q\n", text)
	fmt.Printf("Timeout: %d seconds per query\n", queryTimeout)
	fmt.Printf("Count: %d queries\n\n", queryCount)

	timeout := time.Duration(queryTimeout) * time.Second
	successCount := 0
	failCount := 0

	for i := 1; i <= queryCount; i++ {
		fmt.Printf("Query %d/%d: ", i, queryCount)

		sample, rtt, err := query(s.port, text, timeout)
		switch {
		case err == nil:
			fmt.Printf("REPLY len=%d tag=%s rtt=%v %s\n",
				len(sample.Data), dsmser.FormatTimetag(sample.Timetag), rtt.Round(time.Millisecond), dsmser.Escape(sample.Data))
			successCount++

		case errors.Is(err, dsmser.ErrTimeout):
			fmt.Printf("TIMEOUT (no reply in %ds)\n", queryTimeout)
			failCount++

		case errors.Is(err, dsmser.ErrCancelled):
			fmt.Printf("CONNECTION CLOSED\n")
			failCount += queryCount - i + 1
			i = queryCount

		default:
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		}

		// Small delay between queries
		if i < queryCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	// Summary
	fmt.Printf("\n--- Query statistics ---\n")
	fmt.Printf("%d queries sent, %d replies received, %.0f%% loss\n",
		queryCount, successCount, float64(failCount)/float64(queryCount)*100)

	if failCount > 0 {
		s.Close()
		os.Exit(1)
	}
	return nil
}

// query discards queued records, sends text and waits for the next record.
// It returns the record and the time from send to its arrival.
func query(port *dsmser.Port, text []byte, timeout time.Duration) (dsmser.Sample, time.Duration, error) {
	sr := dsmser.NewSampleReader(readerFunc(port.TryRead))
	if err := drainSamples(sr, func(dsmser.Sample) error { return nil }); err != nil {
		return dsmser.Sample{}, 0, err
	}

	start := time.Now()
	n, err := port.Write(text)
	if err != nil {
		return dsmser.Sample{}, 0, fmt.Errorf("send: %w", err)
	}
	if n < len(text) {
		return dsmser.Sample{}, 0, fmt.Errorf("send: transmit queue full, %d of %d bytes queued", n, len(text))
	}

	sample, err := readSample(port, start.Add(timeout))
	if err != nil {
		return dsmser.Sample{}, 0, err
	}
	return sample, time.Since(start), nil
}
