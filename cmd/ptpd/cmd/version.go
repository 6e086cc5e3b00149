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

	"github.com/spf13/cobra"

	"github.com/facebook/ptpd/ptp/port"
	ptp "github.com/facebook/ptpd/ptp/protocol"
)

func init() {
	RootCmd.AddCommand(versionCmd)
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "PTP version: %s\n", ptp.NewVersionField(ptp.MajorVersion, ptp.MinorVersion))
	fmt.Fprintf(w, "Accepted versions: %s\n", port.SupportedVersions)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the PTP protocol versions spoken",
	Run: func(_ *cobra.Command, _ []string) {
		printVersion(os.Stdout)
	},
}
