package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pario-ai/switchboard/pkg/config"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "switchboard",
		Short:         "Switchboard: cost-aware broker for AI completion backends",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("SWITCHBOARD_CONFIG"), "path to config file (defaults apply when empty)")

	root.AddCommand(
		newAskCmd(&configPath),
		newBatchCmd(&configPath),
		newBillingCmd(&configPath),
		newCacheCmd(&configPath),
		newRouteCmd(&configPath),
		newLogCmd(&configPath),
		newBudgetCmd(&configPath),
		newServeCmd(&configPath),
		newMCPCmd(&configPath),
		newInitCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// initLogger builds the process logger. Output goes to stderr so stdout
// stays clean for reports and the MCP stream.
func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var enc zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		enc = zap.NewDevelopmentEncoderConfig()
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		enc = zap.NewProductionEncoderConfig()
		enc.TimeKey = "timestamp"
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zc := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    enc,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
