package cli

import (
	"fmt"

	"github.com/harun/mcpgate/internal/daemon"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Run the mcpgate server",
	Long: `Run the mcpgate server in the foreground until SIGINT or SIGTERM.
On shutdown every open session is closed and in-flight requests are drained.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "mcpgate listening on http://%s%s\n", d.Status().Addr, cfg.Server.Endpoint)
	d.Wait()
	return nil
}
