package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"testing"
	"time"

	"foursight.local/orchestrator/internal/config"
	"foursight.local/orchestrator/internal/invoke"
	"foursight.local/orchestrator/internal/model"
	"foursight.local/orchestrator/internal/ranker"
	"foursight.local/orchestrator/internal/session"
	"foursight.local/orchestrator/internal/types"
	"foursight.local/orchestrator/internal/worker"
)

func TestParseChatLine(t *testing.T) {
	tests := []struct {
		line    string
		want    types.ChatFrame
		quit    bool
		wantErr bool
	}{
		{line: "Should I move?", want: types.ChatFrame{Action: types.ChatActionMessage, Text: "Should I move?"}},
		{line: "/answer swot Good at Go", want: types.ChatFrame{Action: types.ChatActionAnswer, TargetAgentName: "swot", Answer: "Good at Go"}},
		{line: "/select swot, pareto first_principles", want: types.ChatFrame{Action: types.ChatActionSelect, Frameworks: []string{"swot", "pareto", "first_principles"}}},
		{line: "/quit", quit: true},
		{line: "/answer swot", wantErr: true},
		{line: "/select", wantErr: true},
		{line: "/nope", wantErr: true},
	}
	for _, tt := range tests {
		got, quit, err := parseChatLine(tt.line)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%q: err=%v wantErr=%v", tt.line, err, tt.wantErr)
		}
		if quit != tt.quit {
			t.Fatalf("%q: quit=%v", tt.line, quit)
		}
		if tt.wantErr || tt.quit {
			continue
		}
		if got.Action != tt.want.Action || got.Text != tt.want.Text || got.TargetAgentName != tt.want.TargetAgentName || got.Answer != tt.want.Answer {
			t.Fatalf("%q: got %+v", tt.line, got)
		}
		if strings.Join(got.Frameworks, ",") != strings.Join(tt.want.Frameworks, ",") {
			t.Fatalf("%q: frameworks %v", tt.line, got.Frameworks)
		}
	}
}

func TestWebhookSubscriberName(t *testing.T) {
	if got := webhookSubscriberName(0, "https://hooks.example.com/x"); got != "hooks.example.com" {
		t.Fatalf("name = %q", got)
	}
	if got := webhookSubscriberName(2, "not a url"); got != "webhook-3" {
		t.Fatalf("name = %q", got)
	}
}

func TestBuildRanker(t *testing.T) {
	catalog := worker.DefaultCatalog()
	registry := model.NewRegistry()

	rk, err := buildRanker(config.ServerConfig{}, registry, catalog)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := rk.(ranker.Unconfigured); !ok {
		t.Fatalf("expected Unconfigured, got %T", rk)
	}

	rk, err = buildRanker(config.ServerConfig{RankerURL: "http://ranker.local/rank"}, registry, catalog)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := rk.(*ranker.HTTPRanker); !ok {
		t.Fatalf("expected HTTPRanker, got %T", rk)
	}

	if _, err := buildRanker(config.ServerConfig{RankerModel: "anthropic/claude"}, registry, catalog); err == nil {
		t.Fatalf("expected error for unregistered provider")
	}
}

func TestBuildSynthesizerRequiresProvider(t *testing.T) {
	_, err := buildSynthesizer(config.ServerConfig{SynthesisModel: "openai/gpt"}, model.NewRegistry())
	if err == nil || !strings.Contains(err.Error(), config.EnvSynthesisModel) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPrintFrameworks(t *testing.T) {
	var out bytes.Buffer
	list := func(context.Context) ([]types.Framework, error) {
		return []types.Framework{
			{ID: "swot", Name: "SWOT", Description: "Strengths and weaknesses", Remote: true},
			{ID: "pareto", Name: "Pareto", Description: "The vital few"},
		}, nil
	}
	if err := printFrameworks(context.Background(), &out, list); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got %q", out.String())
	}
	if !strings.Contains(lines[1], "http") || !strings.Contains(lines[2], "model") {
		t.Fatalf("unexpected rows: %q", out.String())
	}

	failing := func(context.Context) ([]types.Framework, error) { return nil, errors.New("down") }
	if err := printFrameworks(context.Background(), &out, failing); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPrintSession(t *testing.T) {
	answer := "Ten years of Go"
	confidence := 0.8
	s := session.Session{
		SessionID:          "abc",
		Query:              "Should I take the job?",
		Phase:              session.PhaseCompleted,
		Status:             session.StatusCompleted,
		SelectedFrameworks: []string{"swot", "pareto"},
		QAState: map[string]session.WorkerQAState{
			"swot":   {Status: session.QAReady, Questions: []session.QAEntry{{Question: "Strengths?", Answer: &answer}}},
			"pareto": {Status: session.QAReady},
		},
		AgentReports: map[string]session.Report{
			"swot":   {Fields: map[string]any{"strengths": "go"}},
			"pareto": {Error: "timeout", ErrorKind: "timeout"},
		},
		FinalRecommendation: "Take the job.",
		ConfidenceScore:     &confidence,
	}
	var out bytes.Buffer
	printSession(&out, s)
	text := out.String()
	for _, want := range []string{"Should I take the job?", "swot, pareto", "Ten years of Go", "pareto: failed (timeout)", "Take the job.", "Confidence: 80%"} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
	if strings.Index(text, "  swot:") > strings.Index(text, "  pareto:") {
		t.Fatalf("expected selection order:\n%s", text)
	}
}

func TestOrderedKeys(t *testing.T) {
	m := map[string]int{"c": 1, "a": 2, "b": 3, "z": 4}
	got := orderedKeys([]string{"z", "b", "missing"}, m)
	if strings.Join(got, ",") != "z,b,a,c" {
		t.Fatalf("got %v", got)
	}
}

func TestOpenStoreFallsBackToMemory(t *testing.T) {
	var logs bytes.Buffer
	logger := log.New(&logs, "", 0)
	var degradedOps []string
	onDegraded := func(_, op string, _ error) { degradedOps = append(degradedOps, op) }
	refuse := func(string, string) (session.Store, error) {
		return nil, fmt.Errorf("dial tcp 10.0.0.5:5432: connect: connection refused")
	}

	store, name := openStore(logger, config.ServerConfig{DBDriver: "postgresql", DBDSN: "host=10.0.0.5"}, onDegraded, refuse)
	if store == nil {
		t.Fatalf("expected a memory store when the database can't be opened")
	}
	defer store.Close()
	if name != "memory (degraded)" {
		t.Fatalf("store name = %q", name)
	}
	if len(degradedOps) != 1 || degradedOps[0] != "open" {
		t.Fatalf("expected one degraded open report, got %v", degradedOps)
	}
	if !strings.Contains(logs.String(), "session store open failed driver=postgres") {
		t.Fatalf("missing log line: %q", logs.String())
	}

	ctx := context.Background()
	if _, err := store.Update(ctx, "s1", session.Patch{Query: session.StringPtr("q")}, true); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got, err := store.Get(ctx, "s1"); err != nil || got.Query != "q" {
		t.Fatalf("get: %#v %v", got, err)
	}
}

func TestOpenStoreNames(t *testing.T) {
	durable := session.NewMemoryStore()
	opened := 0
	open := func(driver, dsn string) (session.Store, error) {
		opened++
		return durable, nil
	}

	_, name := openStore(nil, config.ServerConfig{DBDriver: "memory"}, nil, open)
	if name != "memory" || opened != 0 {
		t.Fatalf("memory driver: name=%q opened=%d", name, opened)
	}
	_, name = openStore(nil, config.ServerConfig{DBDriver: "sqlite3", DBDSN: "file.db"}, nil, open)
	if name != "sqlite" || opened != 1 {
		t.Fatalf("sqlite driver: name=%q opened=%d", name, opened)
	}
}

func TestSlowCallObserver(t *testing.T) {
	var logs bytes.Buffer
	observe := slowCallObserver(log.New(&logs, "", 0), time.Second)

	observe(invoke.Outcome{WorkerID: "swot", Duration: 100 * time.Millisecond}, worker.ModeFinal)
	observe(invoke.Outcome{WorkerID: "pros_cons", Duration: 5 * time.Second, Err: worker.ErrTimeout}, worker.ModeFinal)
	if logs.Len() != 0 {
		t.Fatalf("fast and failed calls should not be logged here: %q", logs.String())
	}

	observe(invoke.Outcome{WorkerID: "cost_benefit", Duration: 1500 * time.Millisecond}, worker.ModeSufficiency)
	if got := logs.String(); !strings.Contains(got, "worker call slow worker=cost_benefit mode=sufficiency") {
		t.Fatalf("unexpected log %q", got)
	}
}
