package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nstogner/padawan/pkg/domain"
	"github.com/nstogner/padawan/pkg/store"
	"github.com/nstogner/padawan/pkg/store/postgres"
	"github.com/nstogner/padawan/pkg/tools"
)

// withStore loads the configuration and opens the configured store for the
// duration of fn.
func withStore(cmd *cobra.Command, load loader, fn func(st store.Store) error) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log, os.Stderr)
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()
	return fn(st)
}

func stopCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <mission-id>",
		Short: "Ask a running mission to stop after its current step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, load, func(st store.Store) error {
				ctx := cmd.Context()
				id := args[0]
				latest, err := st.LatestEvent(ctx, id)
				if err != nil && !errors.Is(err, store.ErrNotFound) {
					return err
				}
				if latest != nil && latest.Status.Terminal() {
					return fmt.Errorf("mission %s already %s", id, latest.Status)
				}
				ev := &domain.MissionEvent{MissionID: id, Status: domain.StatusStop}
				if err := st.AppendEvent(ctx, ev); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stop requested for mission %s\n", id)
				return nil
			})
		},
	}
}

func migrateCmd(load loader) *cobra.Command {
	var (
		direction string
		steps     int
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if direction != "up" && direction != "down" {
				return fmt.Errorf("invalid direction %q (want up or down)", direction)
			}
			if err := postgres.Migrate(cfg.Store.Postgres.DSN(), direction, steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrations applied (%s)\n", direction)
			return nil
		},
	}
	cmd.Flags().StringVar(&direction, "direction", "up", "migration direction: up or down")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply (0 for all)")
	return cmd
}

func toolsCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Manage the tool catalog",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List catalog tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, load, func(st store.Store) error {
				ts, err := st.ListTools(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tMETHOD\tAPI")
				for _, t := range ts {
					fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name, t.Method, t.API)
				}
				return w.Flush()
			})
		},
	}

	var builtin bool
	imp := &cobra.Command{
		Use:   "import [file.json]",
		Short: "Add or replace catalog tools from a JSON file",
		Long: `Reads either a JSON array of tools or an object of the form {"tools": [...]}.
With --builtin, the built-in workspace tools are registered as well.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !builtin {
				return errors.New("a file or --builtin is required")
			}
			var defs []domain.Tool
			if len(args) == 1 {
				var err error
				if defs, err = readToolFile(args[0]); err != nil {
					return err
				}
			}
			return withStore(cmd, load, func(st store.Store) error {
				if builtin {
					if err := registerBuiltinTools(cmd.Context(), st, tools.DefaultRegistry()); err != nil {
						return err
					}
				}
				for _, t := range defs {
					if err := st.PutTool(cmd.Context(), &t); err != nil {
						return fmt.Errorf("importing %s: %w", t.Name, err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d tools\n", len(defs))
				return nil
			})
		},
	}
	imp.Flags().BoolVar(&builtin, "builtin", false, "also register the built-in workspace tools")

	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a tool from the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, load, func(st store.Store) error {
				return st.DeleteTool(cmd.Context(), args[0])
			})
		},
	}

	cmd.AddCommand(list, imp, del)
	return cmd
}

func readToolFile(path string) ([]domain.Tool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var defs []domain.Tool
	if err := json.Unmarshal(data, &defs); err != nil {
		var wrapped struct {
			Tools []domain.Tool `json:"tools"`
		}
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		defs = wrapped.Tools
	}
	for _, t := range defs {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("tool %q: %w", t.Name, err)
		}
	}
	return defs, nil
}

func tokensCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Manage bearer tokens for tool API domains",
	}
	set := &cobra.Command{
		Use:   "set <domain> <token>",
		Short: "Store the bearer token sent to tools on <domain>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			setupLogging(cfg.Log, os.Stderr)
			ctx := cmd.Context()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer st.Close()
			tokens, closeTokens, err := openTokens(ctx, cfg, st)
			if err != nil {
				return err
			}
			defer closeTokens()
			return tokens.PutToken(ctx, args[0], args[1])
		},
	}
	cmd.AddCommand(set)
	return cmd
}
