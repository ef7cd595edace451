package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/flaresense/detection-server/internal/config"
	"github.com/flaresense/detection-server/internal/logger"
)

// settings is filled by the root PersistentPreRunE before any subcommand runs.
type settings struct {
	configFile string
	envFile    string
	cfg        *config.Config
}

func rootCommand() *cobra.Command {
	s := &settings{}

	root := &cobra.Command{
		Use:           "flaresense",
		Short:         "FlareSense fire detection server",
		Long:          "Reads a camera, confirms detector fire boxes with optical-flow liveness and raises cooldown-gated alerts.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	setupFlags(root.PersistentFlags(), s)

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.LoadOptions{
			ConfigFile: s.configFile,
			EnvFile:    s.envFile,
			Flags:      cmd.Flags(),
		})
		if err != nil {
			return err
		}
		s.cfg = cfg
		return initLogger(cfg.Log)
	}
	root.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		_ = logger.Close()
	}

	serve := serveCommand(s)
	root.AddCommand(serve, initDBCommand(s))
	// Running the bare binary serves.
	root.RunE = serve.RunE

	return root
}

func setupFlags(fs *pflag.FlagSet, s *settings) {
	d := config.DefaultConfig()

	fs.StringVar(&s.configFile, "config", "", "YAML config file (default ./config.yaml if present)")
	fs.StringVar(&s.envFile, "env-file", ".env", "dotenv file with credentials")

	fs.String("http", d.HTTP.Addr, "HTTP server address")
	fs.String("log-level", d.Log.Level, "Log level (debug, info, warn, error, silent)")
	fs.Bool("log-color", d.Log.Color, "Enable colored log output")
	fs.String("log-file", d.Log.File, "Rotating JSON log file, empty disables it")
	fs.String("input", d.Capture.Input, "Camera device or stream URL passed to ffmpeg")
	fs.String("input-format", d.Capture.Format, "ffmpeg input format, empty lets ffmpeg probe")
	fs.String("detector-url", d.Detector.URL, "Object detector endpoint")
	fs.Float64("min-confidence", d.Detector.MinConfidence, "Drop detector boxes at or below this confidence")
	fs.Duration("cooldown", d.Alert.Cooldown, "Minimum time between alerts")
	fs.String("evidence-dir", d.Evidence.Dir, "Directory for evidence snapshots")
	fs.String("db-driver", d.Database.Driver, "Event log database (mysql, sqlite)")
	fs.String("db-path", d.Database.Path, "sqlite database file")
	fs.Bool("require-prior-frame", d.Confirm.RequirePriorFrame, "Reject boxes on the first frame of a session")
	fs.Int("max-clients", d.WebRTC.MaxClients, "Maximum WebRTC alert peers")
}

func initLogger(lc config.LogConfig) error {
	level, err := logger.ParseLevel(lc.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger.InitWithFile(level, os.Stderr, lc.Color, logger.FileConfig{
		Path:       lc.File,
		MaxSizeMB:  lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		MaxAgeDays: lc.MaxAgeDays,
	})
	logger.Info("Main", "Log level: %s", level)
	return nil
}
