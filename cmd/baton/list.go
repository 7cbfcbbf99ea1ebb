package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/flemzord/baton/internal/artifact"
	"github.com/flemzord/baton/internal/config"
	"github.com/flemzord/baton/internal/history"
	"github.com/flemzord/baton/internal/run"
	"github.com/flemzord/baton/internal/security"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List configured jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(configFlags(cmd))
			if err != nil {
				return err
			}

			names := config.JobNames(cfg)
			if len(names) == 0 {
				fmt.Println("No jobs configured.")
				return nil
			}

			for _, name := range names {
				j := cfg.Jobs[name]
				sched := j.Schedule
				if j.ManualOnly {
					sched = "manual only"
				}
				header := fmt.Sprintf("%s  %s", boldStyle.Sprint(name), sched)
				if j.Disabled {
					header += "  " + warnStyle.Sprint("(disabled)")
				}
				fmt.Println(header)

				fmt.Printf("  session: %s (%q, kept %dd)\n",
					j.Session.Artifact, j.Session.Files, j.Session.RetentionDays)
				if len(j.Credentials) > 0 {
					fmt.Printf("  credentials: %s\n", strings.Join(j.Credentials, ", "))
				}
				fmt.Println()
			}
			return nil
		},
	}
	addConfigFlags(cmd)
	return cmd
}

func runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [job]",
		Short: "Show recent runs from history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(configFlags(cmd))
			if err != nil {
				return err
			}

			hist, err := history.Open(cfg.History.Path)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer hist.Close()

			ctx := context.Background()
			var recs []*run.Run
			if len(args) == 1 {
				recs, err = hist.ListByJob(ctx, args[0], limit)
			} else {
				recs, err = hist.List(ctx, limit)
			}
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}

			for _, r := range recs {
				printRunLine(r)
			}
			return nil
		},
	}
	addConfigFlags(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show")
	return cmd
}

func printRunLine(r *run.Run) {
	fmt.Printf("%s  %s  %-16s %-9s %s  %s\n",
		faintStyle.Sprint(r.StartedAt.Local().Format("2006-01-02 15:04:05")),
		shortID(r.ID),
		r.Job,
		r.Reason,
		outcomeStyle(r.Outcome).Sprintf("%-9s", string(r.Outcome)),
		r.Duration().Round(time.Millisecond),
	)
	if r.Error != "" {
		fmt.Printf("    %s\n", failStyle.Sprint(r.Error))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func artifactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifacts",
		Short: "Inspect and manage stored session artifacts",
	}
	cmd.AddCommand(artifactsListCmd(), artifactsDeleteCmd())
	return cmd
}

func artifactsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored session artifacts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(configFlags(cmd))
			if err != nil {
				return err
			}

			store, closeStore, err := openArtifactStore(cfg.Store)
			if err != nil {
				return fmt.Errorf("open artifact store: %w", err)
			}
			defer closeStore()

			infos, err := store.List(context.Background())
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Println("No stored artifacts.")
				return nil
			}

			for _, info := range infos {
				fmt.Printf("%s  %s\n",
					boldStyle.Sprint(info.Name),
					faintStyle.Sprintf("(%d files, %s)", info.Files, formatBytes(info.Bytes)),
				)
				fmt.Printf("  saved:   %s\n", info.SavedAt.Local().Format("2006-01-02 15:04:05"))
				if info.ExpiresAt.IsZero() {
					fmt.Println("  expires: never")
				} else {
					fmt.Printf("  expires: %s\n", info.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
				}
				fmt.Println()
			}
			return nil
		},
	}
	addConfigFlags(cmd)
	return cmd
}

func artifactsDeleteCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a stored session artifact",
		Long: `Delete drops a session artifact slot, forcing the job's next run to
start cold and log in from scratch. This is the fix for a corrupted or
invalidated session.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := security.ValidateName(name); err != nil {
				return err
			}

			if !force {
				confirmed, err := confirmDelete(name)
				if err != nil {
					return err
				}
				if !confirmed {
					fmt.Println("Canceled.")
					return nil
				}
			}

			cfg, _, err := loadConfig(configFlags(cmd))
			if err != nil {
				return err
			}

			store, closeStore, err := openArtifactStore(cfg.Store)
			if err != nil {
				return fmt.Errorf("open artifact store: %w", err)
			}
			defer closeStore()

			if err := store.Delete(context.Background(), name); err != nil {
				if errors.Is(err, artifact.ErrNotFound) {
					return fmt.Errorf("no artifact named %q", name)
				}
				return err
			}
			auditDelete(cfg.DataDir, name)

			fmt.Printf("Deleted artifact %s. The next run will start cold.\n", boldStyle.Sprint(name))
			return nil
		},
	}
	addConfigFlags(cmd)
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation prompt")
	return cmd
}

func confirmDelete(name string) (bool, error) {
	var confirm bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Delete session artifact '%s'?", name)).
				Description("The job's next run will have to log in from scratch.").
				Affirmative("Yes, delete").
				Negative("No, cancel").
				Value(&confirm),
		),
	)
	if err := form.Run(); err != nil {
		return false, err
	}
	return confirm, nil
}

// auditDelete appends the deletion to the daemon audit log so operator
// actions show up in the same trail as API ones. Best effort: a missing
// data dir must not block the delete that already happened.
func auditDelete(dataDir, name string) {
	f, err := os.OpenFile(filepath.Join(dataDir, "audit.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	security.NewAuditLogger(security.AuditLoggerConfig{Writer: f}).Log(security.AuditEvent{
		Type:   security.EventArtifactDeleted,
		Detail: name,
		Reason: "cli",
	})
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
