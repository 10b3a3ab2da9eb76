package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/courtside/internal/analytics"
	"github.com/MarcoPoloResearchLab/courtside/internal/app"
	"github.com/MarcoPoloResearchLab/courtside/internal/games"
	"github.com/MarcoPoloResearchLab/courtside/internal/goals"
	"github.com/MarcoPoloResearchLab/courtside/internal/practice"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
)

const dateLayout = "2006-01-02"

var dateParser = newDateParser()

func newDateParser() *when.Parser {
	parser := when.New(nil)
	parser.Add(en.All...)
	parser.Add(common.All...)
	return parser
}

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push pending changes, then pull remote rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, application *app.App) error {
				result, err := application.Sync.SyncNow(ctx)
				if printErr := printJSON(cmd.OutOrStdout(), result); printErr != nil {
					return printErr
				}
				return err
			})
		},
	}
}

func newBootstrapCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Hydrate the local mirror from the remote service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, application *app.App) error {
				result, err := application.Sync.Bootstrap(ctx)
				if printErr := printJSON(cmd.OutOrStdout(), result); printErr != nil {
					return printErr
				}
				return err
			})
		},
	}
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the client and sync in the background until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return withApp(signalCtx, func(ctx context.Context, application *app.App) error {
				if err := application.Start(ctx); err != nil {
					return err
				}
				<-ctx.Done()
				return printJSON(cmd.OutOrStdout(), application.Sync.Status())
			})
		},
	}
}

func newNormalizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize",
		Short: "Repair legacy values in the local mirror",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, application *app.App) error {
				report := application.Normalize(ctx)
				failures := make(map[string]string, len(report.Failures))
				for rule, err := range report.Failures {
					failures[rule] = err.Error()
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"changed":  report.Changed,
					"total":    report.Total(),
					"failures": failures,
				})
			})
		},
	}
}

func newStatsCommand() *cobra.Command {
	var (
		mode      string
		days      int
		shotType  string
		zoneID    string
		contested string
		from      string
		to        string
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-zone performance and trends",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, application *app.App) error {
				options := analytics.Options{ShotType: shotType, ZoneID: zoneID}
				if days > 0 {
					options.Days = &days
				}
				switch contested {
				case "":
				case "yes":
					value := true
					options.Contested = &value
				case "no":
					value := false
					options.Contested = &value
				default:
					return fmt.Errorf("--contested must be yes or no, got %q", contested)
				}
				fromDate, err := parseDate(from)
				if err != nil {
					return err
				}
				if !fromDate.IsZero() {
					options.From = &fromDate
				}
				toDate, err := parseDate(to)
				if err != nil {
					return err
				}
				if !toDate.IsZero() {
					through := toDate.AddDate(0, 0, 1).Add(-time.Nanosecond)
					options.To = &through
				}

				performance, err := application.Analytics.ComputeSessionPerformance(ctx, analytics.Mode(mode), options)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), performance)
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(analytics.ModePractice), "practice or game")
	cmd.Flags().IntVar(&days, "days", 0, "Only sessions from the last N days (0 for all)")
	cmd.Flags().StringVar(&shotType, "shot-type", "", "Filter field goals by shot type")
	cmd.Flags().StringVar(&zoneID, "zone", "", "Filter field goals by zone")
	cmd.Flags().StringVar(&contested, "contested", "", "Filter field goals by contest (yes or no)")
	cmd.Flags().StringVar(&from, "from", "", "First session date (YYYY-MM-DD or e.g. \"last monday\")")
	cmd.Flags().StringVar(&to, "to", "", "Last session date (YYYY-MM-DD or e.g. \"yesterday\")")
	return cmd
}

func newGameCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "game",
		Short: "Record games",
	}

	var opponent, location string
	start := &cobra.Command{
		Use:   "start",
		Short: "Start a game",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, application *app.App) error {
				session, err := application.Games.StartSession(ctx, games.StartOptions{Opponent: opponent, Location: location})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), session)
			})
		},
	}
	start.Flags().StringVar(&opponent, "opponent", "", "Opponent name")
	start.Flags().StringVar(&location, "location", "", "Venue")

	end := &cobra.Command{
		Use:   "end <game-id>",
		Short: "End a game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, application *app.App) error {
				session, err := application.Games.EndSession(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), session)
			})
		},
	}

	var shot games.Shot
	shotCmd := &cobra.Command{
		Use:   "shot <game-id>",
		Short: "Log a field-goal attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, application *app.App) error {
				event, err := application.Games.LogShot(ctx, args[0], shot)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), event)
			})
		},
	}
	shotCmd.Flags().StringVar(&shot.ZoneID, "zone", "", "Court zone")
	shotCmd.Flags().BoolVar(&shot.IsThree, "three", false, "Three-point attempt")
	shotCmd.Flags().StringVar(&shot.ShotType, "type", "", "Shot type")
	shotCmd.Flags().BoolVar(&shot.Contested, "contested", false, "Contested attempt")
	shotCmd.Flags().BoolVar(&shot.Made, "made", false, "Attempt was made")

	var freeThrowMade bool
	freeThrow := &cobra.Command{
		Use:   "ft <game-id>",
		Short: "Log a free throw",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, application *app.App) error {
				event, err := application.Games.LogFreeThrow(ctx, args[0], freeThrowMade)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), event)
			})
		},
	}
	freeThrow.Flags().BoolVar(&freeThrowMade, "made", false, "Free throw was made")

	stat := &cobra.Command{
		Use:   "stat <game-id> <assist|rebound|steal|forced_turnover>",
		Short: "Log a counting stat",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eventType := games.EventType(args[1])
			if !eventType.IsCounter() {
				return fmt.Errorf("%w: %q", games.ErrInvalidEventType, args[1])
			}
			return withApp(cmd.Context(), func(ctx context.Context, application *app.App) error {
				event, err := application.Games.LogCounter(ctx, args[0], eventType)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), event)
			})
		},
	}

	cmd.AddCommand(start, end, shotCmd, freeThrow, stat)
	return cmd
}

func newPracticeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "practice",
		Short: "Record practice sessions",
	}

	var focus string
	start := &cobra.Command{
		Use:   "start",
		Short: "Start a practice session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, application *app.App) error {
				session, err := application.Practice.StartSession(ctx, focus, time.Time{})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), session)
			})
		},
	}
	start.Flags().StringVar(&focus, "focus", "", "What the session works on")

	end := &cobra.Command{
		Use:   "end <session-id>",
		Short: "End a practice session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, application *app.App) error {
				session, err := application.Practice.EndSession(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), session)
			})
		},
	}

	var input practice.EntryInput
	logCmd := &cobra.Command{
		Use:   "log <session-id>",
		Short: "Log attempts from one spot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, application *app.App) error {
				entry, err := application.Practice.AddEntry(ctx, args[0], input)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), entry)
			})
		},
	}
	logCmd.Flags().StringVar(&input.ZoneID, "zone", "", "Court zone")
	logCmd.Flags().BoolVar(&input.IsThree, "three", false, "Three-point attempts")
	logCmd.Flags().StringVar(&input.ShotType, "type", "", "Shot type")
	logCmd.Flags().BoolVar(&input.Contested, "contested", false, "Contested attempts")
	logCmd.Flags().BoolVar(&input.FreeThrow, "free-throw", false, "Free throws")
	logCmd.Flags().IntVar(&input.Attempts, "attempts", 0, "Attempts")
	logCmd.Flags().IntVar(&input.Makes, "makes", 0, "Makes")

	cmd.AddCommand(start, end, logCmd)
	return cmd
}

func newGoalsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goals",
		Short: "Manage goal sets and track progress",
	}

	var name, setType, startDate, dueDate string
	createSet := &cobra.Command{
		Use:   "create-set",
		Short: "Create a goal set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseDate(startDate)
			if err != nil {
				return err
			}
			due, err := parseDate(dueDate)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, application *app.App) error {
				set, err := application.Goals.CreateSet(ctx, goals.SetInput{
					Name:      name,
					Type:      goals.SetType(setType),
					StartDate: start,
					DueDate:   due,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), set)
			})
		},
	}
	createSet.Flags().StringVar(&name, "name", "", "Goal set name")
	createSet.Flags().StringVar(&setType, "type", string(goals.SetTypePractice), "practice or game")
	createSet.Flags().StringVar(&startDate, "start", "", "Start date (YYYY-MM-DD)")
	createSet.Flags().StringVar(&dueDate, "due", "", "Due date (YYYY-MM-DD)")

	var (
		metric     string
		target     float64
		targetType string
		zoneID     string
		endDate    string
	)
	add := &cobra.Command{
		Use:   "add <set-id>",
		Short: "Add a goal to a set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			end, err := parseDate(endDate)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, application *app.App) error {
				goal, err := application.Goals.AddGoal(ctx, args[0], goals.GoalInput{
					Metric:        goals.Metric(metric),
					TargetValue:   target,
					TargetType:    goals.TargetType(targetType),
					TargetEndDate: end,
					ZoneID:        zoneID,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), goal)
			})
		},
	}
	add.Flags().StringVar(&metric, "metric", string(goals.MetricFGPct), "Tracked statistic")
	add.Flags().Float64Var(&target, "target", 0, "Target value")
	add.Flags().StringVar(&targetType, "target-type", "", "percent or total (defaults from the metric)")
	add.Flags().StringVar(&zoneID, "zone", "", "Zone for zone-bound metrics")
	add.Flags().StringVar(&endDate, "end", "", "Target end date (YYYY-MM-DD, defaults to the set due date)")

	var includeArchived bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List goal sets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, application *app.App) error {
				sets, err := application.Goals.ListSets(ctx, includeArchived)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sets)
			})
		},
	}
	list.Flags().BoolVar(&includeArchived, "archived", false, "Include archived sets")

	progress := &cobra.Command{
		Use:   "progress <set-id>",
		Short: "Evaluate every goal in a set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, application *app.App) error {
				setGoals, err := application.Goals.ListGoals(ctx, args[0])
				if err != nil {
					return err
				}
				results := make([]goals.Progress, 0, len(setGoals))
				for _, goal := range setGoals {
					result, err := application.Goals.Evaluate(ctx, goal.ID)
					if err != nil {
						return err
					}
					results = append(results, result)
				}
				return printJSON(cmd.OutOrStdout(), results)
			})
		},
	}

	cmd.AddCommand(createSet, add, list, progress)
	return cmd
}

func newOutboxCommand() *cobra.Command {
	var conflicts int
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Show pending changes and recent sync conflicts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, application *app.App) error {
				userID, err := application.Session.UserID()
				if err != nil {
					return err
				}
				entries, err := application.Store.PendingEntries(ctx, userID, application.Store.Now(), true)
				if err != nil {
					return err
				}
				recent, err := application.Store.ListConflicts(ctx, userID, conflicts)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"pending":   entries,
					"conflicts": recent,
					"sync":      application.Sync.Status(),
				})
			})
		},
	}
	cmd.Flags().IntVar(&conflicts, "conflicts", 20, "How many recent conflicts to show")
	return cmd
}

func parseDate(value string) (time.Time, error) {
	return parseDateAt(value, time.Now())
}

// parseDateAt accepts YYYY-MM-DD or a casual English date relative to base
// ("yesterday", "last monday", "in 2 weeks") and returns UTC midnight of that day.
func parseDateAt(value string, base time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if parsed, err := time.Parse(dateLayout, value); err == nil {
		return parsed, nil
	}
	result, err := dateParser.Parse(value, base)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", value, err)
	}
	if result == nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or a relative date", value)
	}
	year, month, day := result.Time.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), nil
}
