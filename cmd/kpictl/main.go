package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"kpiboard/internal/client"
	"kpiboard/internal/domain/kpi"
	"kpiboard/internal/domain/review"
)

func main() {
	cmd := &cli.Command{
		Name:  "kpictl",
		Usage: "Submit KPI progress updates and review submissions from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Sources: cli.EnvVars("KPICTL_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "server",
				Usage:   "Server base URL, overrides the config file",
				Sources: cli.EnvVars("KPICTL_SERVER_URL"),
			},
		},
		Commands: []*cli.Command{
			loginCommand(),
			dashboardCommand(),
			historyCommand(),
			submitCommand(),
			reviewCommand(),
			exportCommand(),
			logoutCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// buildClient resolves config, flags and the session path into a
// ready client.
func buildClient(cmd *cli.Command) (*client.Client, error) {
	configPath := cmd.String("config")
	if configPath == "" {
		var err error
		configPath, err = client.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}
	cfg, err := client.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if server := cmd.String("server"); server != "" {
		cfg.ServerURL = server
	}

	sessionPath := cfg.SessionPath
	if sessionPath == "" {
		sessionPath, err = client.DefaultSessionPath()
		if err != nil {
			return nil, err
		}
	}
	return client.New(cfg.ServerURL, client.NewSessionFile(sessionPath), slog.Default()), nil
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Exchange an auth key for a session",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "key",
				Usage:    "Auth key",
				Sources:  cli.EnvVars("KPICTL_AUTH_KEY"),
				Required: true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, err := buildClient(cmd)
			if err != nil {
				return err
			}
			snap, err := c.Login(ctx, cmd.String("key"))
			if err != nil {
				return err
			}
			fmt.Printf("Logged in as %s (%s)\n", snap.UserInfo.Name, snap.UserInfo.Role)
			return nil
		},
	}
}

func dashboardCommand() *cli.Command {
	return &cli.Command{
		Name:  "dashboard",
		Usage: "Show your KPIs grouped by cadence",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, err := buildClient(cmd)
			if err != nil {
				return err
			}
			snap, err := c.Resume(ctx)
			if err != nil {
				return err
			}
			printDashboard(snap)
			return nil
		},
	}
}

func printDashboard(snap kpi.Snapshot) {
	grouped := kpi.GroupByFrequency(snap.KPIs)
	now := time.Now()

	fmt.Printf("%s (%s), %d KPIs, %d pending tasks\n\n",
		snap.UserInfo.Name, snap.UserInfo.Role, grouped.Total(), kpi.PendingTaskCount(snap.KPIs))

	sections := []struct {
		label string
		kpis  []kpi.KPI
	}{
		{"Daily", grouped.Daily},
		{"Weekly", grouped.Weekly},
		{"Monthly", grouped.Monthly},
		{"Other", grouped.Other},
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, section := range sections {
		if len(section.kpis) == 0 {
			continue
		}
		fmt.Fprintf(tw, "%s\t\t\t\t\n", section.label)
		for _, k := range section.kpis {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%.0f%%\t%s\n",
				k.ID, k.Name, tintOwner(k.AssignedUser), k.CompletionPercent, dueLabel(k, now))
		}
	}
	tw.Flush()
}

// ansiPalette spans the 256-color wheel in hue order, so tintOwner can
// map a hue to a nearby terminal color.
var ansiPalette = []int{196, 208, 220, 190, 46, 48, 51, 39, 21, 93, 201, 198}

// tintOwner colors a name with its stable per-owner hue. Honors the
// NO_COLOR convention.
func tintOwner(name string) string {
	if name == "" || os.Getenv("NO_COLOR") != "" {
		return name
	}
	idx := kpi.OwnerHue(name) * len(ansiPalette) / 360
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", ansiPalette[idx], name)
}

func dueLabel(k kpi.KPI, now time.Time) string {
	if kpi.IsOverdue(k, now) {
		return "OVERDUE"
	}
	if days, ok := kpi.DaysUntilDue(k, now); ok {
		return fmt.Sprintf("due in %dd", days)
	}
	return ""
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List submission history, optionally filtered",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "month", Usage: "Filter by month (YYYY-MM)"},
			&cli.StringFlag{Name: "kpi", Usage: "Filter by KPI ID"},
			&cli.StringFlag{Name: "decision", Usage: "Filter by decision (Approved, Rejected, Pending)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, err := buildClient(cmd)
			if err != nil {
				return err
			}
			if _, err := c.Resume(ctx); err != nil {
				return err
			}
			filtered := kpi.FilterHistory(c.History(), kpi.HistoryFilter{
				Month:    cmd.String("month"),
				KPIID:    cmd.String("kpi"),
				Decision: cmd.String("decision"),
			})
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ROW\tKPI\tWHEN\tSTATUS\tPROGRESS\tDECISION")
			for _, s := range filtered {
				decision := s.ManagerDecision
				if s.PendingReview() {
					decision = "pending"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.0f%%\t%s\n",
					s.RowID, s.KPIID, s.Timestamp.Format("2006-01-02 15:04"), s.TaskStatus, s.ProgressPercent, decision)
			}
			return tw.Flush()
		},
	}
}

func submitCommand() *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "Submit a progress update for one of your KPIs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "kpi", Usage: "KPI ID", Required: true},
			&cli.StringFlag{Name: "status", Usage: "Task status (In Progress or Done)", Value: kpi.TaskStatusInProgress},
			&cli.FloatFlag{Name: "progress", Usage: "Progress percent (0-100)"},
			&cli.StringFlag{Name: "focus", Usage: "What you are focusing on today"},
			&cli.StringFlag{Name: "blockers", Usage: "Current blockers"},
			&cli.StringFlag{Name: "tomorrow", Usage: "Focus for tomorrow"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, err := buildClient(cmd)
			if err != nil {
				return err
			}
			if _, err := c.Resume(ctx); err != nil {
				return err
			}
			sub, err := c.SubmitUpdate(ctx, review.UpdateRequest{
				KPIID:           cmd.String("kpi"),
				TaskStatus:      cmd.String("status"),
				ProgressPercent: cmd.Float("progress"),
				FocusToday:      cmd.String("focus"),
				Blockers:        cmd.String("blockers"),
				FocusTomorrow:   cmd.String("tomorrow"),
			})
			if err != nil {
				return err
			}
			fmt.Printf("Submitted %s at %.0f%%, row %s\n", sub.KPIID, sub.ProgressPercent, sub.RowID)
			return nil
		},
	}
}

func reviewCommand() *cli.Command {
	return &cli.Command{
		Name:  "review",
		Usage: "Approve or reject a pending submission (admin only)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "row", Usage: "Submission row ID", Required: true},
			&cli.StringFlag{Name: "decision", Usage: "Approved or Rejected", Required: true},
			&cli.FloatFlag{Name: "adjust", Usage: "Adjusted progress percent", Value: -1},
			&cli.StringFlag{Name: "feedback", Usage: "Feedback for the submitter"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, err := buildClient(cmd)
			if err != nil {
				return err
			}
			if _, err := c.Resume(ctx); err != nil {
				return err
			}
			req := review.DecisionRequest{
				RowID:    cmd.String("row"),
				Decision: cmd.String("decision"),
				Feedback: cmd.String("feedback"),
			}
			if adjust := cmd.Float("adjust"); adjust >= 0 {
				req.AdjustedProgress = &adjust
			}
			if err := c.SubmitDecision(ctx, req); err != nil {
				return err
			}
			fmt.Printf("Recorded %s for row %s\n", req.Decision, req.RowID)
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Download the summary report PDF (admin only)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Usage: "Output file", Value: "kpi-summary.pdf"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, err := buildClient(cmd)
			if err != nil {
				return err
			}
			if _, err := c.Resume(ctx); err != nil {
				return err
			}
			pdf, err := c.ExportSummary(ctx)
			if err != nil {
				return err
			}
			out := cmd.String("out")
			if err := os.WriteFile(out, pdf, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Printf("Wrote %s (%d bytes)\n", out, len(pdf))
			return nil
		},
	}
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "End the session and remove local state",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, err := buildClient(cmd)
			if err != nil {
				return err
			}
			if err := c.Logout(ctx); err != nil {
				return err
			}
			fmt.Println("Logged out")
			return nil
		},
	}
}
