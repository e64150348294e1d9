// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	Long: `List the serial ports of this machine, with USB identifiers where known.

Use the names shown with --port, or as device in a run configuration.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := enumerator.GetDetailedPortsList()
		if err != nil {
			return fmt.Errorf("failed to list serial ports: %w", err)
		}
		printPorts(os.Stdout, ports)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

// printPorts writes one line per port
func printPorts(w io.Writer, ports []*enumerator.PortDetails) {
	if len(ports) == 0 {
		fmt.Fprintln(w, "No serial ports found")
		return
	}
	for _, p := range ports {
		if !p.IsUSB {
			fmt.Fprintf(w, "%s\n", p.Name)
			continue
		}
		fmt.Fprintf(w, "%s  USB %s:%s", p.Name, p.VID, p.PID)
		if p.Product != "" {
			fmt.Fprintf(w, "  %s", p.Product)
		}
		if p.SerialNumber != "" {
			fmt.Fprintf(w, "  serial %s", p.SerialNumber)
		}
		fmt.Fprintln(w)
	}
}
