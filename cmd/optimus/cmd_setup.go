package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("OPTIMUS Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.LLM.Provider = prompt(scanner, "Model provider (ollama or openai)", cfg.LLM.Provider)
		cfg.LLM.BaseURL = prompt(scanner, "Model service URL", cfg.LLM.BaseURL)
		if cfg.LLM.Provider == "openai" {
			cfg.LLM.APIKey = prompt(scanner, "API key", cfg.LLM.APIKey)
		}
		cfg.LLM.Model = prompt(scanner, "Default model", cfg.LLM.Model)
		cfg.MCP.URL = prompt(scanner, "Tool server URL", cfg.MCP.URL)

		cfg.Database.Driver = prompt(scanner, "Database driver (sqlserver or sqlite)", cfg.Database.Driver)
		cfg.Database.Default = prompt(scanner, "Default database", cfg.Database.Default)
		if cfg.Database.DSNs == nil {
			cfg.Database.DSNs = map[string]string{}
		}
		dsn := prompt(scanner, "Connection string for "+cfg.Database.Default, cfg.Database.DSNs[cfg.Database.Default])
		if dsn != "" {
			cfg.Database.DSNs[cfg.Database.Default] = dsn
		}
		cfg.ToolServer.IndexPath = prompt(scanner, "SQL file tree to index (optional)", cfg.ToolServer.IndexPath)
		cfg.Telegram.Token = prompt(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)

		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		fmt.Println("Add more databases with: optimus config set database.dsns.<name> <dsn>")
		return nil
	},
}

// prompt shows label with its default and returns the entered line, or the
// default when the line is empty.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		if input := strings.TrimSpace(scanner.Text()); input != "" {
			return input
		}
	}
	return defaultVal
}
