package orchestrator

import (
	"fmt"
	"strings"

	"foursight.local/orchestrator/internal/qa"
	"foursight.local/orchestrator/internal/session"
	"foursight.local/orchestrator/internal/types"
)

const rankingDegradedNotice = "I couldn't rank the frameworks for your question right now, so I'm using the default set."

func (c *Controller) displayName(id string) string {
	if f, ok := c.catalog.Get(id); ok && f.Name != "" {
		return f.Name
	}
	return id
}

func (c *Controller) displayNames(idList []string) string {
	names := make([]string, 0, len(idList))
	for _, id := range idList {
		names = append(names, c.displayName(id))
	}
	return strings.Join(names, ", ")
}

// selectionPrompt lists one framework more than will be selected so the
// user can swap one in.
func (c *Controller) selectionPrompt(s session.Session) string {
	shown := c.cfg.SelectionSize + 1
	if shown > len(s.RankedFrameworks) {
		shown = len(s.RankedFrameworks)
	}
	var b strings.Builder
	if s.RankingDegraded {
		b.WriteString(rankingDegradedNotice + "\n\n")
	}
	b.WriteString("These frameworks look most relevant to your question:\n")
	for i, rf := range s.RankedFrameworks[:shown] {
		fmt.Fprintf(&b, "%d. %s (%s)", i+1, c.displayName(rf.WorkerID), rf.WorkerID)
		if rf.Description != "" {
			fmt.Fprintf(&b, ": %s", rf.Description)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "\nReply with the numbers or ids you want to use, or \"ok\" to go with the top %d.", min(c.cfg.SelectionSize, shown))
	return b.String()
}

func (c *Controller) questionText(p qa.Prompt) string {
	return fmt.Sprintf("%s asks (question %d of %d):\n%s", c.displayName(p.WorkerID), p.Index+1, p.Total, p.Question)
}

func toQuestion(p qa.Prompt) *types.Question {
	return &types.Question{WorkerID: p.WorkerID, Text: p.Question, Index: p.Index, Total: p.Total}
}

func completedReply(s session.Session) types.Reply {
	reply := types.Reply{
		SessionID:      s.SessionID,
		Phase:          string(session.PhaseCompleted),
		Completed:      true,
		Recommendation: s.FinalRecommendation,
	}
	if s.ConfidenceScore != nil {
		v := *s.ConfidenceScore
		reply.Confidence = &v
	}

	var b strings.Builder
	b.WriteString("Analysis complete.\n\nRecommendation:\n")
	b.WriteString(s.FinalRecommendation)
	if reply.Confidence != nil {
		fmt.Fprintf(&b, "\n\nConfidence: %.0f%%", *reply.Confidence*100)
	}
	var notes []string
	for _, id := range s.SelectedFrameworks {
		if r, ok := s.AgentReports[id]; ok && r.Failed() && r.Caveat != nil {
			notes = append(notes, "- "+*r.Caveat)
		}
	}
	if len(notes) > 0 {
		b.WriteString("\n\nNotes:\n")
		b.WriteString(strings.Join(notes, "\n"))
	}
	reply.Message = b.String()
	return reply
}

func joinParagraphs(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
