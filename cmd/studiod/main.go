package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"studiomic/internal/bootstrap"
	"studiomic/internal/config"
	"studiomic/internal/logging"
)

var (
	version = "0.1.0"
	envFile string
	addr    string
)

var log = logging.L("studiod")

var rootCmd = &cobra.Command{
	Use:   "studiod",
	Short: "studiomic backend daemon",
	Long:  `studiod serves the studiomic desktop app: chat, speech-to-text, hum-to-MIDI, music generation and DAW control.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the backend server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "studiod v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file to load (default .env)")
	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides STUDIOD_ADDR)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logging.Init(cfg.Log.Format, cfg.Log.Level, nil)
	if addr != "" {
		cfg.Backend.Addr = addr
	}

	server, err := bootstrap.BuildBackend(cfg)
	if err != nil {
		return fmt.Errorf("failed to build backend: %w", err)
	}

	log.Info("starting studiod", "version", version, "addr", cfg.Backend.Addr, "stt", cfg.STT.Provider)
	if err := server.ListenAndServe(ctx); err != nil {
		return err
	}
	log.Info("studiod stopped")
	return nil
}
