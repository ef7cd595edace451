package main

import (
	"github.com/spf13/cobra"

	"github.com/flaresense/detection-server/internal/eventlog"
	"github.com/flaresense/detection-server/internal/logger"
)

func initDBCommand(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "initdb",
		Short: "Create the event log database and table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg := eventlogConfig(s.cfg)
			if err := eventlog.CreateDatabase(cfg); err != nil {
				return err
			}

			store, err := eventlog.Open(cfg, nil)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := store.Close(); cerr != nil && err == nil {
					err = cerr
				}
			}()

			if err := store.Migrate(); err != nil {
				return err
			}
			logger.Info("Main", "Event log ready (%s)", store.Driver())
			return nil
		},
	}
}
