// Command kokoro runs the conversational decision core.
//
// Usage:
//
//	kokoro serve --config kokoro.yaml
//	kokoro serve                       (zero-config development mode)
//	kokoro validate --config kokoro.yaml
//	kokoro schema > config-schema.json
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/kokoro-ai/kokoro/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate the JSON Schema for the configuration."`

	Config    string `short:"c" help:"Path to config file (empty = zero-config mode)." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or json)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("kokoro version %s\n", version)
	return nil
}

func main() {
	// Local development keys live in .env; absence is not an error.
	_ = godotenv.Load()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("kokoro"),
		kong.Description("Multi-tenant conversational decision core."),
		kong.UsageOnError(),
	)

	if err := setupLogging(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "kokoro: %v\n", err)
		os.Exit(1)
	}

	if err := kctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "kokoro: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(cli *CLI) error {
	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		return err
	}

	output := os.Stderr
	if cli.LogFile != "" {
		file, _, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		// The file stays open for the process lifetime.
		output = file
	}

	logger.Init(level, output, cli.LogFormat)
	return nil
}
