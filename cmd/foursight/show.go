package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"foursight.local/orchestrator/internal/session"
	"foursight.local/orchestrator/internal/types"
)

var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a session's state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, _, err := newAPIClient()
		if err != nil {
			return err
		}
		s, err := api.Session(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("fetch session: %w", err)
		}
		printSession(cmd.OutOrStdout(), s)
		return nil
	},
}

var frameworksCmd = &cobra.Command{
	Use:   "frameworks",
	Short: "List the analysis frameworks the server knows",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		api, _, err := newAPIClient()
		if err != nil {
			return err
		}
		return printFrameworks(cmd.Context(), cmd.OutOrStdout(), api.Frameworks)
	},
}

func printFrameworks(ctx context.Context, out io.Writer, list func(context.Context) ([]types.Framework, error)) error {
	frameworks, err := list(ctx)
	if err != nil {
		return fmt.Errorf("list frameworks: %w", err)
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSOURCE\tDESCRIPTION")
	for _, f := range frameworks {
		source := "model"
		if f.Remote {
			source = "http"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.ID, f.Name, source, f.Description)
	}
	return tw.Flush()
}

func printSession(out io.Writer, s session.Session) {
	fmt.Fprintf(out, "Session:   %s\n", s.SessionID)
	fmt.Fprintf(out, "Phase:     %s\n", s.Phase)
	fmt.Fprintf(out, "Status:    %s\n", s.Status)
	fmt.Fprintf(out, "Revision:  %d\n", s.Revision)
	if s.Query != "" {
		fmt.Fprintf(out, "Query:     %s\n", s.Query)
	}
	if s.RankingDegraded {
		fmt.Fprintln(out, "Ranking:   unavailable, default selection used")
	}
	if len(s.SelectedFrameworks) > 0 {
		fmt.Fprintf(out, "Selected:  %s\n", strings.Join(s.SelectedFrameworks, ", "))
	}

	if len(s.QAState) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Questions:")
		for _, id := range orderedKeys(s.SelectedFrameworks, s.QAState) {
			st := s.QAState[id]
			line := fmt.Sprintf("  %s: %s", id, st.Status)
			if st.Error != "" {
				line += " (check failed: " + st.Error + ")"
			}
			fmt.Fprintln(out, line)
			for i, q := range st.Questions {
				answer := "(unanswered)"
				if q.Answered() {
					answer = *q.Answer
				}
				fmt.Fprintf(out, "    %d. %s\n       %s\n", i+1, q.Question, answer)
			}
		}
	}

	if len(s.AgentReports) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Reports:")
		for _, id := range orderedKeys(s.SelectedFrameworks, s.AgentReports) {
			r := s.AgentReports[id]
			switch {
			case r.Failed():
				fmt.Fprintf(out, "  %s: failed (%s)\n", id, r.ErrorKind)
			default:
				fmt.Fprintf(out, "  %s: %d fields\n", id, len(r.Fields))
			}
		}
	}

	if s.FinalRecommendation != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Recommendation:")
		fmt.Fprintln(out, s.FinalRecommendation)
		if s.ConfidenceScore != nil {
			fmt.Fprintf(out, "Confidence: %.0f%%\n", *s.ConfidenceScore*100)
		}
	}
}

// orderedKeys lists the keys of m in selection order, then any others sorted.
func orderedKeys[V any](order []string, m map[string]V) []string {
	seen := make(map[string]bool, len(m))
	keys := make([]string, 0, len(m))
	for _, id := range order {
		if _, ok := m[id]; ok && !seen[id] {
			seen[id] = true
			keys = append(keys, id)
		}
	}
	var rest []string
	for id := range m {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}
