package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-community/heron/internal/domain"
	"github.com/opensource-community/heron/internal/risk"
)

type options struct {
	serverURL string
	timeout   time.Duration
	jsonOut   bool
}

func (o *options) client() *apiClient {
	return newAPIClient(o.serverURL, o.timeout)
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "heronctl",
		Short:         "Operate a heron moderation dashboard from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := os.Getenv("HERON_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	root.PersistentFlags().StringVar(&opts.serverURL, "url", defaultURL, "heron server base URL (env HERON_URL)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print raw JSON")

	root.AddCommand(
		newUsersCmd(opts),
		newShowCmd(opts),
		newAdjustCmd(opts),
		newWarnCmd(opts),
		newTimeoutCmd(opts),
		newExportCmd(opts),
		newImportCmd(opts),
		newScoreCmd(opts),
		newResetCmd(opts),
		newRewardCmd(opts),
		newLeaderboardCmd(opts),
	)
	return root
}

func newUsersCmd(opts *options) *cobra.Command {
	var level, search string
	var limit int

	cmd := &cobra.Command{
		Use:   "users",
		Short: "List users ordered by risk score",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if level != "" {
				q.Set("level", level)
			}
			if search != "" {
				q.Set("q", search)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			path := "/api/users"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			var resp struct {
				Users []*domain.User `json:"users"`
			}
			if err := opts.client().do(cmd.Context(), "GET", path, nil, &resp); err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), resp.Users)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tUSER\tSCORE\tLEVEL\tMESSAGES\tTOXIC\tINFRACTIONS")
			for _, u := range resp.Users {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%d\t%d\t%d\n",
					u.ID, u.Handle(), u.RiskScore, u.RiskLevel, u.TotalMessages, u.ToxicMessages, len(u.Infractions))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "only users at this risk level (low, medium, high)")
	cmd.Flags().StringVarP(&search, "search", "q", "", "match username or discriminator")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of users")
	return cmd
}

func newShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a user with its infraction history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var user domain.User
			if err := opts.client().do(cmd.Context(), "GET", fmt.Sprintf("/api/users/%d", id), nil, &user); err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), user)
			}
			printUser(cmd.OutOrStdout(), &user)
			return nil
		},
	}
}

func newAdjustCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "adjust <id> <score>",
		Short: "Set a manual risk score between 0 and 100",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			// The server validates the score; it accepts numeric strings.
			body := map[string]string{"riskScore": args[1]}
			var user domain.User
			if err := opts.client().do(cmd.Context(), "PUT", fmt.Sprintf("/api/users/%d/risk", id), body, &user); err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), user)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s risk score set to %d (%s)\n", user.Handle(), user.RiskScore, user.RiskLevel)
			return nil
		},
	}
}

func newWarnCmd(opts *options) *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "warn <id>",
		Short: "Send a warning to a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var action domain.ModerationAction
			body := map[string]string{"message": message}
			if err := opts.client().do(cmd.Context(), "POST", fmt.Sprintf("/api/users/%d/actions/warning", id), body, &action); err != nil {
				return err
			}
			return printAction(cmd.OutOrStdout(), opts, &action)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "warning text (server default when empty)")
	return cmd
}

func newTimeoutCmd(opts *options) *cobra.Command {
	var hours int

	cmd := &cobra.Command{
		Use:   "timeout <id>",
		Short: "Time a user out for a number of hours",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if hours <= 0 {
				return fmt.Errorf("--hours must be positive")
			}
			var action domain.ModerationAction
			body := map[string]int{"hours": hours}
			if err := opts.client().do(cmd.Context(), "POST", fmt.Sprintf("/api/users/%d/actions/timeout", id), body, &action); err != nil {
				return err
			}
			return printAction(cmd.OutOrStdout(), opts, &action)
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 1, "timeout duration in hours")
	return cmd
}

func newExportCmd(opts *options) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a user's data as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			data, _, err := opts.client().raw(cmd.Context(), "GET", fmt.Sprintf("/api/users/%d/export", id), nil)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported user %d to %s\n", id, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write (stdout when empty)")
	return cmd
}

func newImportCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Restore a previously exported user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var user domain.User
			if err := opts.client().do(cmd.Context(), "POST", "/api/users/import", data, &user); err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), user)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %s (score %d, %s)\n", user.Handle(), user.RiskScore, user.RiskLevel)
			return nil
		},
	}
}

func newScoreCmd(opts *options) *cobra.Command {
	var window time.Duration
	var at string

	cmd := &cobra.Command{
		Use:   "score <file>",
		Short: "Compute the risk score of an exported user offline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var user domain.User
			if err := json.Unmarshal(data, &user); err != nil {
				return fmt.Errorf("%s is not an exported user: %w", args[0], err)
			}

			engineOpts := []risk.Option{risk.WithRecencyWindow(window)}
			if at != "" {
				ts := domain.ParseTimestamp(at)
				if !ts.Valid() {
					return fmt.Errorf("invalid --at time %q", at)
				}
				engineOpts = append(engineOpts, risk.WithClock(func() time.Time { return ts.Time }))
			}
			b := risk.NewEngine(engineOpts...).Breakdown(&user)

			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), b)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "user:                %s\n", user.Handle())
			fmt.Fprintf(out, "toxicity rate:       %.2f%%\n", b.ToxicityRate)
			fmt.Fprintf(out, "recent infractions:  %d\n", b.RecentInfractions)
			fmt.Fprintf(out, "severe infractions:  %d\n", b.SevereInfractions)
			if b.SkippedDates > 0 {
				fmt.Fprintf(out, "unparseable dates:   %d\n", b.SkippedDates)
			}
			fmt.Fprintf(out, "score:               %d (%s)\n", b.Score, b.Level)
			if user.RiskScore != b.Score {
				fmt.Fprintf(out, "stored score:        %d\n", user.RiskScore)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&window, "window", risk.DefaultRecencyWindow, "recency window")
	cmd.Flags().StringVar(&at, "at", "", "evaluate as of this time instead of now")
	return cmd
}

func newResetCmd(opts *options) *cobra.Command {
	var resetBy string

	cmd := &cobra.Command{
		Use:   "reset <id>",
		Short: "Pardon a user's violations so escalation starts over",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if resetBy == "" {
				return fmt.Errorf("--by is required")
			}
			var action domain.ModerationAction
			body := map[string]string{"resetBy": resetBy}
			if err := opts.client().do(cmd.Context(), "POST", fmt.Sprintf("/api/users/%d/actions/reset", id), body, &action); err != nil {
				return err
			}
			return printAction(cmd.OutOrStdout(), opts, &action)
		},
	}
	cmd.Flags().StringVar(&resetBy, "by", os.Getenv("USER"), "moderator performing the reset")
	return cmd
}

func newRewardCmd(opts *options) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reward <id> <points>",
		Short: "Award reputation points to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			points, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid points %q", args[1])
			}

			var resp struct {
				TotalPoints int `json:"totalPoints"`
				Milestones  []struct {
					Points int    `json:"milestone"`
					Role   string `json:"role"`
					Badge  string `json:"badge"`
				} `json:"milestones"`
			}
			body := map[string]any{"points": points, "reason": reason}
			if err := opts.client().do(cmd.Context(), "POST", fmt.Sprintf("/api/users/%d/rewards", id), body, &resp); err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "user %d now has %d points\n", id, resp.TotalPoints)
			for _, m := range resp.Milestones {
				fmt.Fprintf(w, "  %s %s reached at %d points\n", m.Badge, m.Role, m.Points)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "manual award", "reason shown in the user's history")
	return cmd
}

func newLeaderboardCmd(opts *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show users with the most reputation points",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/leaderboard"
			if limit > 0 {
				path += "?limit=" + strconv.Itoa(limit)
			}

			var resp struct {
				Leaderboard []struct {
					Position         int    `json:"position"`
					UserID           int64  `json:"userId"`
					Username         string `json:"username"`
					TotalPoints      int    `json:"totalPoints"`
					PositiveMessages int    `json:"positiveMessages"`
					Milestones       int    `json:"milestones"`
				} `json:"leaderboard"`
			}
			if err := opts.client().do(cmd.Context(), "GET", path, nil, &resp); err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), resp.Leaderboard)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tID\tUSER\tPOINTS\tPOSITIVE\tMILESTONES")
			for _, e := range resp.Leaderboard {
				fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%d\t%d\n",
					e.Position, e.UserID, e.Username, e.TotalPoints, e.PositiveMessages, e.Milestones)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "number of entries (server default 10)")
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", s)
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUser(w io.Writer, u *domain.User) {
	fmt.Fprintf(w, "%s (id %d)\n", u.Handle(), u.ID)
	fmt.Fprintf(w, "  risk:      %d (%s)\n", u.RiskScore, u.RiskLevel)
	fmt.Fprintf(w, "  messages:  %d total, %d toxic, %d positive\n", u.TotalMessages, u.ToxicMessages, u.PositiveMessages)
	fmt.Fprintf(w, "  last seen: %s\n", u.LastSeen.String())
	fmt.Fprintf(w, "  joined:    %s\n", u.JoinDate.String())
	if len(u.Infractions) == 0 {
		fmt.Fprintln(w, "  no infractions")
		return
	}
	fmt.Fprintln(w, "  infractions:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, inf := range u.Infractions {
		fmt.Fprintf(tw, "    %s\t%s\t%s\t%s\n", inf.Date.String(), inf.Severity, inf.Type, inf.Action)
	}
	tw.Flush()
}

func printAction(w io.Writer, opts *options, a *domain.ModerationAction) error {
	if opts.jsonOut {
		return printJSON(w, a)
	}
	fmt.Fprintf(w, "%s recorded for user %d (sequence %d)", a.Kind, a.UserID, a.Sequence)
	if a.DurationSecs > 0 {
		fmt.Fprintf(w, ", %d seconds", a.DurationSecs)
	}
	fmt.Fprintln(w)
	return nil
}
