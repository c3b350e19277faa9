package main

import (
	"fmt"

	"github.com/kokoro-ai/kokoro/pkg/config"
)

// ValidateCmd checks a configuration file without starting the server.
type ValidateCmd struct {
	Quiet bool `short:"q" help:"Print nothing on success."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("--config is required for validate")
	}

	loader := config.NewLoader(config.LoaderOptions{Path: cli.Config})
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	if !c.Quiet {
		fmt.Printf("%s is valid\n", cli.Config)
		fmt.Printf("  capabilities: %d\n", len(cfg.Capabilities))
		fmt.Printf("  llm providers: %d\n", len(cfg.LLMs))
		fmt.Printf("  database: %s\n", cfg.Database.Driver)
		fmt.Printf("  vector store: %s\n", cfg.Vector.Type)
	}
	return nil
}
