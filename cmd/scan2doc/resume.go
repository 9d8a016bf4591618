package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Run the boot-resume pass against the local store and exit",
	Long: `resume folds pages left mid-pipeline by a prior process back to a
pending predecessor status and re-admits them onto the appropriate queue,
without starting the HTTP surface. Useful to recover a store after a crash
before running "scan2doc serve".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := newLogger()

		h, cfgMgr, err := loadHomeAndConfig(log)
		if err != nil {
			return err
		}

		// buildApp runs the Resume Controller as part of wiring (spec §5);
		// a standalone resume is just that wiring without serving HTTP.
		_, cleanup, err := buildApp(ctx, h, cfgMgr, log)
		if err != nil {
			return fmt.Errorf("build app: %w", err)
		}
		cleanup()

		fmt.Println("resume pass complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}
