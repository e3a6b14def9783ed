package cli

import (
	"fmt"
	"strings"

	"github.com/harun/mcpgate/internal/daemon"
	"github.com/harun/mcpgate/pkg/agent"
	"github.com/harun/mcpgate/pkg/conversation"
	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Ask the agent one question locally",
	Long: `Run one agent loop against the configured model and tools without starting
the server, and print the answer.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	ctx := cmd.Context()
	catalog, err := daemon.BuildRegistry(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer catalog.Close()

	model, err := agent.NewGateway(ctx, daemon.GatewayConfig(cfg, log))
	if err != nil {
		return err
	}
	defer model.Close()

	loop, err := agent.NewLoop(agent.Config{
		Gateway:       model,
		Tools:         catalog.Registry,
		MaxIterations: cfg.Agent.MaxIterations,
		Logger:        log.Zerolog(),
	})
	if err != nil {
		return err
	}

	store := conversation.NewStore(conversation.Config{
		Greeting:      cfg.Session.Greeting,
		ResetGreeting: cfg.Session.ResetGreeting,
	})
	res := loop.Run(ctx, store, strings.Join(args, " "))

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, res.Text)
	if res.Action != nil {
		fmt.Fprintf(out, "[%s] %s\n", res.Action.Kind, res.Action.URL)
	}
	if res.Err != nil {
		log.Debug().Err(res.Err).Str("reason", string(res.Reason)).Msg("Agent run ended early")
	}
	return nil
}
