package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scan2doc/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("scan2doc %s (commit %s, built %s, %s)\n",
			version.GitRelease, version.GitCommit, version.GitCommitDate, version.GoInfo)
		return nil
	},
}
