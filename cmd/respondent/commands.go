package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/Malasakit/internal/flow"
	"github.com/soaringjerry/Malasakit/internal/record"
	"github.com/soaringjerry/Malasakit/internal/resources"
)

type stepFunc func(ctx context.Context, s *flow.Session) (*flow.View, error)

// step resumes the session, applies fn and prints the page it leaves the
// session on. fn may return a nil view to print the current page.
func (a *app) step(cmd *cobra.Command, fn stepFunc) error {
	ctx := cmd.Context()
	s, err := a.ctl.Resume(ctx)
	if err != nil {
		return err
	}
	v, err := fn(ctx, s)
	if err != nil {
		return err
	}
	if v == nil {
		if v, err = a.ctl.View(ctx, s); err != nil {
			return err
		}
	}
	render(cmd.OutOrStdout(), v)
	return nil
}

func (a *app) startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Begin a new response, keeping the previous one as history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.step(cmd, func(ctx context.Context, s *flow.Session) (*flow.View, error) {
				next, err := a.ctl.StartNew(ctx, s)
				if err != nil {
					return nil, err
				}
				return a.ctl.View(ctx, next)
			})
		},
	}
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the current page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.step(cmd, func(ctx context.Context, s *flow.Session) (*flow.View, error) {
				return nil, nil
			})
		},
	}
}

func (a *app) nextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Go to the next page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.step(cmd, a.ctl.Next)
		},
	}
}

func (a *app) backCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "back",
		Short: "Go to the previous page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.step(cmd, a.ctl.Back)
		},
	}
}

func (a *app) gotoCmd() *cobra.Command {
	names := make([]string, len(flow.Pages))
	for i, p := range flow.Pages {
		names[i] = string(p)
	}
	return &cobra.Command{
		Use:       "goto <page>",
		Short:     "Jump to a page",
		Long:      "Jump to a page. Pages: " + strings.Join(names, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := flow.ParsePage(args[0])
			if err != nil {
				return err
			}
			return a.step(cmd, func(ctx context.Context, s *flow.Session) (*flow.View, error) {
				return a.ctl.Goto(ctx, s, page)
			})
		},
	}
}

func (a *app) rateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rate <question-id> <0-9|skip>",
		Short: "Rate a statement",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, score, err := parseRating(args[0], args[1])
			if err != nil {
				return err
			}
			return a.step(cmd, func(ctx context.Context, s *flow.Session) (*flow.View, error) {
				return nil, a.ctl.Rate(ctx, s, id, score)
			})
		},
	}
}

func (a *app) rateCommentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rate-comment <comment-id> <0-9|skip>",
		Short: "Rate what another respondent said",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, score, err := parseRating(args[0], args[1])
			if err != nil {
				return err
			}
			return a.step(cmd, func(ctx context.Context, s *flow.Session) (*flow.View, error) {
				return nil, a.ctl.RateComment(ctx, s, id, score)
			})
		},
	}
}

func (a *app) commentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "comment <question-id> <text>...",
		Short: "Answer an open question",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("question", args[0])
			if err != nil {
				return err
			}
			text := strings.Join(args[1:], " ")
			return a.step(cmd, func(ctx context.Context, s *flow.Session) (*flow.View, error) {
				return nil, a.ctl.Comment(ctx, s, id, text)
			})
		},
	}
}

func (a *app) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <field> [value]...",
		Short: "Set a personal information field; no value clears it",
		Long: "Set a personal information field. Fields: " + strings.Join([]string{
			record.FieldAge, record.FieldGender, record.FieldProvince,
			record.FieldCityOrMunicipality, record.FieldBarangay,
		}, ", "),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			field, value := args[0], strings.Join(args[1:], " ")
			return a.step(cmd, func(ctx context.Context, s *flow.Session) (*flow.View, error) {
				return nil, a.ctl.SetDemographic(ctx, s, field, value)
			})
		},
	}
}

func (a *app) languageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "language <code>",
		Short: "Switch the display language",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.step(cmd, func(ctx context.Context, s *flow.Session) (*flow.View, error) {
				return a.ctl.SetLanguage(ctx, s, args[0])
			})
		},
	}
}

func (a *app) submitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit",
		Short: "Submit the response from the review page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.step(cmd, a.ctl.Submit)
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync and cache status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.ctl.Resume(cmd.Context())
			if err != nil {
				return err
			}
			all, err := a.store.ListAll()
			if err != nil {
				return err
			}
			pending := 0
			for _, r := range all {
				if r.Sync.State != record.Finalized {
					pending++
				}
			}
			var stale []string
			for _, name := range resources.Names {
				if a.cache.Stale(name) {
					stale = append(stale, name)
				}
			}
			renderStatus(cmd.OutOrStdout(), s, a.cfg.Client.ServerURL, pending, stale)
			return nil
		},
	}
}

func (a *app) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Send unsent responses to the server now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.ctl.Resume(cmd.Context())
			if err != nil {
				return err
			}
			state, err := a.ctl.SyncNow(cmd.Context(), s)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", s.Record.ID, state)
			return err
		},
	}
}

func (a *app) refreshCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Reload questions, comments and reference data from the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cache.Refresh(cmd.Context())
			out := cmd.OutOrStdout()
			for _, name := range resources.Names {
				state := "ok"
				if a.cache.Stale(name) {
					state = "stale"
				}
				fmt.Fprintf(out, "%-16s %s\n", name, state)
			}
			if !watch {
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			sched := resources.NewScheduler(a.cache, a.cfg.Client.RefreshInterval, a.log)
			sched.Start(ctx)
			<-ctx.Done()
			sched.Wait()
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and refresh on client.refresh_interval")
	return cmd
}

func parseID(kind, s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, &record.ValidationError{Field: kind + " id", Value: s, Reason: "must be a positive number"}
	}
	return id, nil
}

// parseRating reads an id and a score, where "skip" records an explicit skip.
func parseRating(idArg, scoreArg string) (int64, record.Score, error) {
	id, err := parseID("question", idArg)
	if err != nil {
		return 0, 0, err
	}
	if strings.EqualFold(strings.TrimSpace(scoreArg), "skip") {
		return id, record.Skipped, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(scoreArg))
	if err != nil || !record.Score(n).Valid() || n < 0 {
		return 0, 0, &record.ValidationError{Field: "score", Value: scoreArg, Reason: "must be between 0 and 9 or skip"}
	}
	return id, record.Score(n), nil
}
