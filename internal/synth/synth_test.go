package synth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"foursight.local/orchestrator/internal/model"
	"foursight.local/orchestrator/internal/session"
)

type captureProvider struct {
	content string
	err     error
	last    model.CompletionRequest
}

func (p *captureProvider) Complete(_ context.Context, req model.CompletionRequest) (model.CompletionResponse, error) {
	p.last = req
	return model.CompletionResponse{Content: p.content}, p.err
}

func sampleInput() Input {
	caveat := "Limited market data."
	return Input{
		Query: "Should we expand to Berlin?",
		Reports: ReportsFrom([]string{"swot", "cost_benefit"}, map[string]session.Report{
			"swot": {Fields: map[string]any{"strengths": []any{"brand"}}, Caveat: &caveat},
			"cost_benefit": {
				Caveat:    session.StringPtr("The cost_benefit analysis timed out and is not included."),
				Error:     "worker timeout",
				ErrorKind: "timeout",
			},
		}),
	}
}

func TestModelSynthesizerParsesJSON(t *testing.T) {
	p := &captureProvider{content: "```json\n{\"recommendation\":\"Expand in Q3.\",\"confidence\":0.72}\n```"}
	got, err := NewModelSynthesizer(p, "claude").Synthesize(context.Background(), sampleInput())
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if got.Text != "Expand in Q3." {
		t.Fatalf("unexpected text %q", got.Text)
	}
	if got.Confidence == nil || *got.Confidence != 0.72 {
		t.Fatalf("unexpected confidence %v", got.Confidence)
	}

	prompt := p.last.Messages[0].Content
	if !strings.Contains(prompt, "Should we expand to Berlin?") || !strings.Contains(prompt, "brand") {
		t.Fatalf("prompt missing query or report: %s", prompt)
	}
	if !strings.Contains(prompt, "analysis unavailable") {
		t.Fatalf("prompt should flag failed worker: %s", prompt)
	}
	if strings.Index(prompt, "## swot") > strings.Index(prompt, "## cost_benefit") {
		t.Fatalf("reports should follow selection order")
	}
	if !p.last.JSONOutput || p.last.Model != "claude" {
		t.Fatalf("unexpected request %#v", p.last)
	}
}

func TestParseOutput(t *testing.T) {
	cases := []struct {
		name    string
		content string
		text    string
		err     bool
	}{
		{name: "prose", content: "Go ahead, carefully.", text: "Go ahead, carefully."},
		{name: "out of range confidence", content: `{"recommendation":"Wait.","confidence":7}`, text: "Wait."},
		{name: "structured", content: `{"recommendation":{"action":"wait"}}`, text: `{"action":"wait"}`},
		{name: "empty", content: "  ", err: true},
		{name: "blank recommendation", content: `{"recommendation":"  ","confidence":0.5}`, err: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseOutput(tc.content)
			if tc.err {
				if !errors.Is(err, ErrSynthesisFailure) {
					t.Fatalf("expected ErrSynthesisFailure, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if got.Text != tc.text {
				t.Fatalf("text = %q, want %q", got.Text, tc.text)
			}
			if got.Confidence != nil {
				t.Fatalf("expected nil confidence, got %v", *got.Confidence)
			}
		})
	}
}

func TestReportsFromOrder(t *testing.T) {
	got := ReportsFrom([]string{"swot", "pros_cons"}, map[string]session.Report{
		"pros_cons": {},
		"zeta":      {},
		"alpha":     {},
		"swot":      {},
	})
	var ids []string
	for _, nr := range got {
		ids = append(ids, nr.WorkerID)
	}
	if strings.Join(ids, ",") != "swot,pros_cons,alpha,zeta" {
		t.Fatalf("unexpected order %v", ids)
	}
}

func TestModelSynthesizerProviderError(t *testing.T) {
	p := &captureProvider{err: errors.New("overloaded")}
	if _, err := NewModelSynthesizer(p, "m").Synthesize(context.Background(), sampleInput()); !errors.Is(err, ErrSynthesisFailure) {
		t.Fatalf("expected ErrSynthesisFailure, got %v", err)
	}
}
