// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	captureDuration int
	captureOutput   string
	captureQuiet    bool
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Record the raw byte stream of a connection",
	Long: `Record raw bytes from a connection without framing, for later replay.

This command connects and logs each chunk of data as it arrives, with a
heartbeat while the line is idle. The chunk sizes show how the serial
driver or WebSocket bridge batches bytes, a good --scan-size for replay.
With --output the bytes are also saved to a file that 'sertag replay' reads.

It is also a connection stability test: a connection error before the
duration ends fails the capture.

Exit codes:
  0 - Capture completed normally
  1 - Connection failed during the capture
  2 - Connection error`,
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)
	captureCmd.Flags().IntVar(&captureDuration, "duration", 30, "Capture duration in seconds")
	captureCmd.Flags().StringVarP(&captureOutput, "output", "o", "", "Save raw bytes to file")
	captureCmd.Flags().BoolVarP(&captureQuiet, "quiet", "q", false, "Do not print each chunk")
}

// captureStats counts what a capture received
type captureStats struct {
	chunks   int
	bytes    int
	minChunk int
	maxChunk int
}

func (c *captureStats) add(n int) {
	if c.chunks == 0 || n < c.minChunk {
		c.minChunk = n
	}
	if n > c.maxChunk {
		c.maxChunk = n
	}
	c.chunks++
	c.bytes += n
}

func (c *captureStats) print(elapsed time.Duration) {
	fmt.Printf("\n--- Capture Results ---\n")
	fmt.Printf("Duration: %v\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Chunks received: %d\n", c.chunks)
	fmt.Printf("Bytes received: %d\n", c.bytes)
	if c.chunks > 0 {
		fmt.Printf("Chunk size: %d - %d bytes (mean %.1f)\n", c.minChunk, c.maxChunk, float64(c.bytes)/float64(c.chunks))
	}
}

func runCapture(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	var save io.Writer = io.Discard
	if captureOutput != "" {
		f, err := os.Create(captureOutput)
		if err != nil {
			return fmt.Errorf("failed to create capture file: %w", err)
		}
		defer f.Close()
		save = f
	}

	fmt.Printf("Sertag - Capture\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Duration: %d seconds\n", captureDuration)
	if captureOutput != "" {
		fmt.Printf("Output: %s\n", captureOutput)
	}
	fmt.Println()

	// Start a goroutine to read from the connection
	readChan := make(chan []byte, 100)
	errChan := make(chan error, 1)

	go func() {
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				readChan <- data
			}
		}
	}()

	// Run for the specified duration
	start := time.Now()
	endTime := start.Add(time.Duration(captureDuration) * time.Second)
	var stats captureStats

	fmt.Printf("Listening for data...\n\n")

	for time.Now().Before(endTime) {
		select {
		case data := <-readChan:
			stats.add(len(data))
			if _, err := save.Write(data); err != nil {
				return fmt.Errorf("failed to write capture: %w", err)
			}
			if !captureQuiet {
				fmt.Printf("[%s] Received %d bytes: %x\n",
					time.Now().Format("15:04:05.000"), len(data), data)
			}

		case err := <-errChan:
			fmt.Printf("\n[%s] Connection error: %v\n",
				time.Now().Format("15:04:05.000"), err)
			stats.print(time.Since(start))
			fmt.Printf("Result: FAILED (connection error)\n")
			os.Exit(1)

		case <-time.After(1 * time.Second):
			// Just a heartbeat to show the capture is running
			remaining := time.Until(endTime).Seconds()
			fmt.Printf("[%s] Still connected... (%.0fs remaining)\n",
				time.Now().Format("15:04:05.000"), remaining)
		}
	}

	stats.print(time.Since(start))
	fmt.Printf("Result: PASSED (connection stable)\n")

	return nil
}
