package main

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the job store schema and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		// the queue is not needed here
		d := &deps{cfg: cfg, log: log}
		defer d.Close()
		if err := d.openStore(cmd.Context()); err != nil {
			return err
		}
		return migrateStore(cmd.Context(), d)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
