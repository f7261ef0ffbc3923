package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/slot-scheduling/internal/app"
	"github.com/hackgods/slot-scheduling/internal/appointment"
	"github.com/hackgods/slot-scheduling/internal/config"
	"github.com/hackgods/slot-scheduling/internal/db"
	"github.com/hackgods/slot-scheduling/internal/logging"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "schedctl",
		Short:        "Administration tool for the slot scheduling service",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(generateSlotsCmd())
	rootCmd.AddCommand(sweepNoShowsCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) zerolog.Logger {
	return logging.New("schedctl", cfg.LogLevel, cfg.LogFormat)
}

func openMigrator(ctx context.Context, dir string) (*db.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 2)
	if err != nil {
		return nil, nil, err
	}

	var fsys fs.FS = db.Migrations()
	if dir != "" {
		fsys = os.DirFS(dir)
	}
	return db.NewMigrator(pool, fsys), pool.Close, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			migrator, closeFn, err := openMigrator(cmd.Context(), dir)
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := migrator.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			migrator, closeFn, err := openMigrator(cmd.Context(), dir)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := migrator.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format(time.DateTime)
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	a, err := app.Open(ctx, cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		a.Close(closeCtx)
	}()

	return fn(a)
}

func generateSlotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate-slots",
		Short: "Register a doctor's shift and generate its free slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			rawDoctor, _ := cmd.Flags().GetString("doctor")
			rawStart, _ := cmd.Flags().GetString("start")
			rawEnd, _ := cmd.Flags().GetString("end")
			slotLen, _ := cmd.Flags().GetDuration("slot")

			doctorID, err := uuid.Parse(rawDoctor)
			if err != nil {
				return fmt.Errorf("--doctor: %w", err)
			}
			start, err := time.Parse(time.RFC3339, rawStart)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			end, err := time.Parse(time.RFC3339, rawEnd)
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}

			return withApp(cmd.Context(), func(a *app.App) error {
				slots, err := a.Service.GenerateSlots(cmd.Context(), appointment.Shift{
					DoctorID:     doctorID,
					Start:        start,
					End:          end,
					SlotDuration: slotLen,
				})
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				for _, s := range slots {
					fmt.Fprintf(out, "%s  %s - %s\n", s.ID,
						s.StartTime.In(a.Config.Location).Format(time.DateTime),
						s.EndTime.In(a.Config.Location).Format(time.TimeOnly))
				}
				fmt.Fprintf(out, "Generated %d slot(s).\n", len(slots))
				return nil
			})
		},
	}
	cmd.Flags().String("doctor", "", "Doctor UUID")
	cmd.Flags().String("start", "", "Shift start (RFC 3339)")
	cmd.Flags().String("end", "", "Shift end (RFC 3339)")
	cmd.Flags().Duration("slot", 0, "Slot length; 0 uses SLOT_DURATION")
	_ = cmd.MarkFlagRequired("doctor")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func sweepNoShowsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-no-shows",
		Short: "Mark overdue confirmed appointments as no-shows once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				marked, err := a.Service.SweepNoShows(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Marked %d appointment(s) as no-show.\n", marked)
				return nil
			})
		},
	}
}
