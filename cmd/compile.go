// File: cmd/compile.go
package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/intentc/api/schemas"
	"github.com/xkilldash9x/intentc/internal/compiler"
	"github.com/xkilldash9x/intentc/internal/llmclient"
	"github.com/xkilldash9x/intentc/internal/observability"
	"github.com/xkilldash9x/intentc/internal/store"
)

// newCompileCmd creates the `compile` command: a one-shot run of the
// intent compiler against an in-memory store, printing the compiled
// intent as JSON.
func newCompileCmd() *cobra.Command {
	var botID string
	var sessionID string

	compileCmd := &cobra.Command{
		Use:   "compile [intent...]",
		Short: "Compile a single free-text intent and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFrom(ctx)
			if err != nil {
				return err
			}

			llmClient, err := llmclient.NewClient(cfg.LLM(), logger)
			if err != nil {
				return fmt.Errorf("failed to initialize LLM client: %w", err)
			}

			servers := make([]string, 0, len(cfg.MCP().Servers))
			for name := range cfg.MCP().Servers {
				servers = append(servers, name)
			}
			catalog := schemas.CapabilityCatalog{
				Keywords:   schemas.DefaultKeywords(),
				MCPServers: servers,
			}

			intentCompiler, err := compiler.New(llmClient, store.NewMemory(), catalog, cfg.Compiler(), logger)
			if err != nil {
				return fmt.Errorf("failed to initialize compiler: %w", err)
			}

			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			intent := strings.Join(args, " ")
			logger.Info("Compiling intent",
				zap.String("bot_id", botID), zap.String("session_id", sessionID))

			ci, err := intentCompiler.Compile(ctx, intent, schemas.Session{ID: sessionID, BotID: botID, Actor: "cli"})
			if err != nil {
				return fmt.Errorf("compilation failed: %w", err)
			}

			output, err := json.MarshalIndent(ci, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to render compiled intent: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(output))
			return nil
		},
	}

	compileCmd.Flags().StringVar(&botID, "bot", "cli", "bot identifier recorded on the compiled intent")
	compileCmd.Flags().StringVar(&sessionID, "session", "", "session identifier (random when omitted)")

	return compileCmd
}
