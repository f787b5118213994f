package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mpataki/collab/internal/models"
	"github.com/mpataki/collab/internal/state"
	"github.com/mpataki/collab/internal/storage"
	"github.com/mpataki/collab/internal/tui"
)

func isTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

func phaseText(p models.Phase, color bool) string {
	if color {
		return tui.PhaseLabel(p)
	}
	return string(p)
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <state-file|run-id>",
		Short: "Show a run's state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			st, path, err := findRun(cfg.StateDir, args[0])
			if err != nil {
				return err
			}

			color := isTerminal()
			fmt.Printf("Run %s  %s\n", st.RunID, phaseText(st.Phase, color))
			fmt.Printf("State: %s\n\n", path)

			out, err := yaml.Marshal(st)
			if err != nil {
				return fmt.Errorf("render state: %w", err)
			}
			fmt.Print(string(out))

			db, err := storage.New(cfg.LedgerPath)
			if err != nil {
				return nil
			}
			defer db.Close()

			invs, err := db.InvocationsForRun(st.RunID)
			if err != nil || len(invs) == 0 {
				return nil
			}
			fmt.Println("\nWorker calls:")
			for _, inv := range invs {
				line := fmt.Sprintf("  %-20s %-9s %s", inv.Label, inv.Outcome, inv.Duration.Round(time.Second))
				if inv.Error != "" {
					line += "  " + truncate(inv.Error, 60)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

// findRun accepts either a state file path or a run id.
func findRun(stateDir, arg string) (models.RunState, string, error) {
	if _, err := os.Stat(arg); err == nil {
		st, err := state.New(stateDir).Load(arg)
		return st, arg, err
	} else if !errors.Is(err, fs.ErrNotExist) {
		return models.RunState{}, "", err
	}

	store := state.New(stateDir)
	path := store.PathForRun(arg)
	st, err := store.Load(path)
	return st, path, err
}

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			db, err := storage.New(cfg.LedgerPath)
			if err != nil {
				return fmt.Errorf("open run ledger: %w", err)
			}
			defer db.Close()

			runs, err := db.ListRuns(limit)
			if err != nil {
				return err
			}

			if len(runs) == 0 {
				fmt.Println("No runs found.")
				return nil
			}

			color := isTerminal()
			for _, run := range runs {
				fmt.Printf("%s  %-9s  %-9s  %-28s  %s\n",
					run.RunID,
					phaseText(run.Phase, color),
					storage.FormatTimeAgo(run.UpdatedAt),
					run.ChannelName,
					truncate(run.Task, 50))
			}
			return nil
		},
	}

	cmd.Flags().IntP("limit", "n", 20, "number of runs to show")
	return cmd
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch runs live",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isTerminal() {
				return errors.New("watch needs a terminal; use collab list instead")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			db, err := storage.New(cfg.LedgerPath)
			if err != nil {
				return fmt.Errorf("open run ledger: %w", err)
			}
			defer db.Close()

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("watch state directory: %w", err)
			}
			defer watcher.Close()
			if err := watcher.Add(cfg.StateDir); err != nil {
				return fmt.Errorf("watch %s: %w", cfg.StateDir, err)
			}

			app := tui.NewApp(db, state.New(cfg.StateDir), watcher)
			p := tea.NewProgram(app, tea.WithAltScreen())

			_, err = p.Run()
			return err
		},
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
