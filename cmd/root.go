// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Serial connection flags
	portName string
	baudRate int
	dataBits int
	parity   string
	stopBits int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Record framing flags
	separator    string
	bomAnchor    bool
	recordLen    int
	addNull      bool
	readLatency  int
	clockRes     int
	latencyChars int

	// Prompter flags
	promptText   string
	promptRateMs int

	// Logging flags
	logLevel string
	logJSON  bool

	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "sertag",
	Short: "Serial instrument record framer and time tagger",
	Long: `Sertag - A CLI tool for framing and time tagging records from serial instruments.

Bytes read from a serial port or WebSocket bridge are split into records by a
separator (at the beginning or end of each record) or by a fixed length, and
each record is tagged with the estimated receipt time of its first byte.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 38400 --data-bits 8 --parity none --stop-bits 1]
  WebSocket: --url ws://host/path [--username user]

Record framing:
  --sep '\r\n'              end of message separator (default '\n')
  --sep '\x02' --bom        beginning of message separator
  --sep '' --record-len 24  fixed length records

For WebSocket authentication, the password is read from the SERTAG_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version: "1.0.0",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := newLogger(logLevel, logJSON)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
	SilenceUsage: true,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 38400, "Baud rate")
	rootCmd.PersistentFlags().IntVar(&dataBits, "data-bits", 8, "Data bits (5-8)")
	rootCmd.PersistentFlags().StringVar(&parity, "parity", "none", "Parity: none, even, odd")
	rootCmd.PersistentFlags().IntVar(&stopBits, "stop-bits", 1, "Stop bits (1 or 2)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Record framing flags
	rootCmd.PersistentFlags().StringVar(&separator, "sep", `\n`, "Record separator, Go escapes allowed")
	rootCmd.PersistentFlags().BoolVar(&bomAnchor, "bom", false, "Separator begins each record (default: ends it)")
	rootCmd.PersistentFlags().IntVar(&recordLen, "record-len", 0, "Fixed record length, or bytes taken before looking for the separator")
	rootCmd.PersistentFlags().BoolVar(&addNull, "add-null", false, "Append a NUL to each separator-terminated record")
	rootCmd.PersistentFlags().IntVar(&readLatency, "latency", 100, "Read latency in milliseconds")
	rootCmd.PersistentFlags().IntVar(&clockRes, "clock-res", 1, "Clock resolution in milliseconds")
	rootCmd.PersistentFlags().IntVar(&latencyChars, "latency-chars", 4, "Receive FIFO delay estimate, in characters")

	// Prompter flags
	rootCmd.PersistentFlags().StringVar(&promptText, "prompt", "", "Prompt sent to the instrument, Go escapes allowed")
	rootCmd.PersistentFlags().IntVar(&promptRateMs, "prompt-rate", 1000, "Prompt interval in milliseconds")

	// Logging flags
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log as JSON")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
