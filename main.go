// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Sertag - Serial instrument record framer and time tagger
//
// A CLI tool for splitting serial instrument byte streams into records and
// tagging each record with the receipt time of its first byte.

package main

import (
	"os"

	"github.com/Thermoquad/sertag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
