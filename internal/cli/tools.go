package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/mcpgate/internal/daemon"
	"github.com/spf13/cobra"
)

var toolsJSON bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Print the tool catalog",
	Long: `Print every tool the model may call: the built-in tools plus the tools of
each configured upstream MCP server.`,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "print the catalog as JSON input schemas")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	catalog, err := daemon.BuildRegistry(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer catalog.Close()

	specs := catalog.Registry.List()
	out := cmd.OutOrStdout()

	if toolsJSON {
		type entry struct {
			Name        string                 `json:"name"`
			Description string                 `json:"description"`
			InputSchema map[string]interface{} `json:"inputSchema"`
		}
		entries := make([]entry, 0, len(specs))
		for _, spec := range specs {
			entries = append(entries, entry{Name: spec.Name, Description: spec.Description, InputSchema: spec.InputSchema()})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(specs) == 0 {
		fmt.Fprintln(out, "No tools registered")
		return nil
	}
	for _, spec := range specs {
		fmt.Fprintf(out, "%s - %s\n", spec.Name, spec.Description)
		for _, p := range spec.Parameters {
			req := ""
			if p.Required {
				req = ", required"
			}
			line := fmt.Sprintf("    %s (%s%s)", p.Name, p.Type, req)
			if p.Description != "" {
				line += ": " + strings.TrimSpace(p.Description)
			}
			fmt.Fprintln(out, line)
		}
	}
	return nil
}
