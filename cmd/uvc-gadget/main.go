package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/diylxy/uvc-gadget-multi-planar/internal/config"
	"github.com/diylxy/uvc-gadget-multi-planar/internal/logging"
)

var (
	version = "0.1.0"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "uvc-gadget",
	Short: "UVC gadget MJPEG encoding pipeline",
	Long: `uvc-gadget - feeds a UVC gadget from a raw capture device, compressing
planar YUV 4:2:0 frames to MJPEG on a pool of encoder workers.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Stream the simulated capture device through the encoder",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGadget()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("uvc-gadget v%s\n", version)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := cfg.Marshal()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/uvc-gadget/uvc-gadget.yaml)")

	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(encodeCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration. Fatal problems are
// returned as one error; clamped values are logged by the validator.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		for _, e := range result.Fatals {
			fmt.Fprintf(os.Stderr, "config: %v\n", e)
		}
		return nil, fmt.Errorf("invalid configuration (%d errors)", len(result.Fatals))
	}
	return cfg, nil
}

// initLogging points the root logger at stderr, tee'd into a rotating file
// when log_file is set. The returned writer is nil without a log file.
func initLogging(cfg *config.Config) (*logging.RotatingWriter, error) {
	var out io.Writer = os.Stderr
	var rw *logging.RotatingWriter
	if cfg.LogFile != "" {
		var err error
		rw, err = logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = logging.TeeWriter(os.Stderr, rw)
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, out)
	return rw, nil
}
