package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/wolfman30/polyclinic-scheduler/internal/app/bootstrap"
	appconfig "github.com/wolfman30/polyclinic-scheduler/internal/config"
	"github.com/wolfman30/polyclinic-scheduler/internal/identity"
	"github.com/wolfman30/polyclinic-scheduler/internal/slotload"
	"github.com/wolfman30/polyclinic-scheduler/internal/timegrid"
	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

type cli struct {
	cfg    *appconfig.Config
	out    io.Writer
	logger *logging.Logger
	engine func(ctx context.Context) (*bootstrap.Engine, error)
}

func newRootCmd(a *cli) *cobra.Command {
	root := &cobra.Command{
		Use:          "clinicctl",
		Short:        "Operate the polyclinic scheduler",
		SilenceUsage: true,
	}
	root.SetOut(a.out)
	root.AddCommand(a.resolveCmd(), a.crowdCmd(), a.slotsCmd(), a.sweepCmd(), a.tokenCmd())
	return root
}

// withEngine builds the engine for one command and always closes it.
func (a *cli) withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *bootstrap.Engine) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := a.engine(ctx)
	if err != nil {
		return err
	}
	defer e.Close(context.Background())
	return fn(ctx, e)
}

func (a *cli) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseSlot(dateStr, timeStr string) (timegrid.Date, timegrid.Clock, error) {
	date, err := timegrid.ParseDate(dateStr)
	if err != nil {
		return timegrid.Date{}, 0, err
	}
	at, err := timegrid.ParseClock(timeStr)
	if err != nil {
		return timegrid.Date{}, 0, err
	}
	return date, at, nil
}

func (a *cli) resolveCmd() *cobra.Command {
	var doctor, date, at string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show whether a doctor works at a date and time",
		RunE: func(cmd *cobra.Command, _ []string) error {
			doctorID, err := uuid.Parse(doctor)
			if err != nil {
				return fmt.Errorf("invalid --doctor: %w", err)
			}
			d, t, err := parseSlot(date, at)
			if err != nil {
				return err
			}
			return a.withEngine(cmd, func(ctx context.Context, e *bootstrap.Engine) error {
				verdict, err := e.Resolver.Resolve(ctx, doctorID, d, t)
				if err != nil {
					return err
				}
				return a.print(verdict)
			})
		},
	}
	cmd.Flags().StringVar(&doctor, "doctor", "", "doctor id")
	cmd.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&at, "time", "", "time of day (HH:MM)")
	_ = cmd.MarkFlagRequired("doctor")
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("time")
	return cmd
}

func (a *cli) crowdCmd() *cobra.Command {
	var date, at string
	cmd := &cobra.Command{
		Use:   "crowd",
		Short: "Assess whether a slot is crowded relative to its day",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, t, err := parseSlot(date, at)
			if err != nil {
				return err
			}
			return a.withEngine(cmd, func(ctx context.Context, e *bootstrap.Engine) error {
				assessment, err := e.Detector.Evaluate(ctx, d, t)
				if err != nil {
					return err
				}
				return a.print(assessment)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&at, "time", "", "time of day (HH:MM)")
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("time")
	return cmd
}

func (a *cli) slotsCmd() *cobra.Command {
	var date string
	var all bool
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List a day's slot loads",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := timegrid.ParseDate(date)
			if err != nil {
				return err
			}
			return a.withEngine(cmd, func(ctx context.Context, e *bootstrap.Engine) error {
				loads, err := e.Loads.Day(ctx, d)
				if err != nil {
					return err
				}
				if !all {
					loads = slotload.WithRoom(loads)
				}
				return a.print(loads)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&all, "all", false, "include full slots")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func (a *cli) sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a background job once",
	}
	run := func(name string) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd, func(ctx context.Context, e *bootstrap.Engine) error {
				for _, j := range e.Jobs {
					if j.Name() != name {
						continue
					}
					n, err := j.RunOnce(ctx)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintf(a.out, "%s: %d processed\n", name, n)
					return err
				}
				return fmt.Errorf("no job named %q", name)
			})
		}
	}
	cmd.AddCommand(
		&cobra.Command{Use: "reminders", Short: "Send due visit reminders", RunE: run("reminders")},
		&cobra.Command{Use: "otps", Short: "Delete expired one-time codes", RunE: run("otp_sweep")},
	)
	return cmd
}

func (a *cli) tokenCmd() *cobra.Command {
	var kind, id, email string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tokens := identity.NewTokens(a.cfg.JWTSecret)
			if !tokens.Enabled() {
				return errors.New("JWT_SECRET is not set")
			}
			k, err := identity.ParseKind(kind)
			if err != nil {
				return err
			}
			var raw string
			if k == identity.KindGuest {
				raw, err = tokens.IssueGuest(email, ttl)
			} else {
				userID, perr := uuid.Parse(id)
				if perr != nil {
					return fmt.Errorf("invalid --id: %w", perr)
				}
				raw, err = tokens.IssueUser(identity.User{ID: userID, Kind: k, Email: email}, ttl)
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, raw)
			return err
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "Admin", "requester kind")
	cmd.Flags().StringVar(&id, "id", "", "user id (not used for guests)")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
