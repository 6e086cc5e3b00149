/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/facebook/ptpd/ptp/port"
	ptp "github.com/facebook/ptpd/ptp/protocol"
	"github.com/facebook/ptpd/ptp/stats"
	"github.com/facebook/ptpd/servo"
)

// flags
var (
	statusAddressFlag   string
	statusPortStatsFlag bool
)

func init() {
	RootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&statusAddressFlag, "address", "a", "http://localhost:4270", "Monitoring address of the daemon")
	statusCmd.Flags().BoolVarP(&statusPortStatsFlag, "portstats", "p", false, "Also print per message TX/RX counters")
}

func colorState(s ptp.PortState) string {
	switch s {
	case ptp.PortStateSlave, ptp.PortStateMaster:
		return color.GreenString(s.String())
	case ptp.PortStateFaulty, ptp.PortStateDisabled:
		return color.RedString(s.String())
	default:
		return color.YellowString(s.String())
	}
}

func colorServo(s servo.Status) string {
	switch s {
	case servo.StatusLocked:
		return color.GreenString(s.String())
	case servo.StatusFreerun:
		return color.RedString(s.String())
	default:
		return color.YellowString(s.String())
	}
}

// statusRows turns the daemon counters into name/value rows
func statusRows(c stats.Counters) [][]string {
	return [][]string{
		{"port state", colorState(ptp.PortState(c[port.KeyState]))},
		{"servo", colorServo(servo.Status(c[port.KeyClockStatus]))},
		{"offset", time.Duration(c[port.KeyOffset]).String()},
		{"path delay", time.Duration(c[port.KeyPathDelay]).String()},
		{"frequency", fmt.Sprintf("%+d ppb", c[port.KeyFreq])},
		{"adev", fmt.Sprintf("%d ppt", c[port.KeyClockAdev])},
		{"steps", fmt.Sprintf("%d", c[port.KeySteps])},
		{"state changes", fmt.Sprintf("%d", c[port.KeyStateChanges])},
		{"faults", fmt.Sprintf("%d", c[port.KeyFaults])},
		{"foreign masters", fmt.Sprintf("%d", c[port.KeyForeign])},
		{"grants", fmt.Sprintf("%d granted, %d denied", c[port.KeyGrants], c[port.KeyGrantsDenied])},
	}
}

// portStatsRows returns one row per message type: name, tx, rx
func portStatsRows(c stats.Counters) [][]string {
	tx, rx := c.PortStats()
	names := map[string]bool{}
	for k := range tx {
		names[k] = true
	}
	for k := range rx {
		names[k] = true
	}
	sorted := make([]string, 0, len(names))
	for k := range names {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)
	rows := make([][]string, 0, len(sorted))
	for _, k := range sorted {
		rows = append(rows, []string{k, fmt.Sprintf("%d", tx[k]), fmt.Sprintf("%d", rx[k])})
	}
	return rows
}

func renderTable(w io.Writer, header []string, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	cols := make([]any, len(header))
	for i, h := range header {
		cols[i] = h
	}
	table.Header(cols...)
	for _, r := range rows {
		if err := table.Append(r); err != nil {
			return err
		}
	}
	return table.Render()
}

func printStatus(w io.Writer, c stats.Counters, portStats bool) error {
	if err := renderTable(w, []string{"metric", "value"}, statusRows(c)); err != nil {
		return err
	}
	if !portStats {
		return nil
	}
	return renderTable(w, []string{"message", "tx", "rx"}, portStatsRows(c))
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the state of a running daemon",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			color.NoColor = true
		}

		c, err := stats.FetchCounters(statusAddressFlag)
		if err != nil {
			log.Fatalf("fetching counters from %s: %v", statusAddressFlag, err)
		}
		if err := printStatus(os.Stdout, c, statusPortStatsFlag); err != nil {
			log.Fatal(err)
		}
	},
}
