package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"foursight.local/orchestrator/internal/model"
)

func TestParseResultSufficiency(t *testing.T) {
	res, err := ParseResult(ModeSufficiency, []byte("```json\n{\"status\":\"NEED_INFO\",\"questions\":[\" Which markets? \",\"Budget?\"]}\n```"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Sufficiency.Status != StatusNeedInfo || len(res.Sufficiency.Questions) != 2 || res.Sufficiency.Questions[0] != "Which markets?" {
		t.Fatalf("unexpected result %#v", res.Sufficiency)
	}

	res, err = ParseResult(ModeSufficiency, []byte(`{"status":"ready","questions":["ignored"]}`))
	if err != nil {
		t.Fatalf("parse ready: %v", err)
	}
	if res.Sufficiency.Status != StatusReady || len(res.Sufficiency.Questions) != 0 {
		t.Fatalf("READY must carry no questions: %#v", res.Sufficiency)
	}
}

func TestParseResultRejectsMalformedSufficiency(t *testing.T) {
	cases := []string{
		`not json`,
		`{"questions":[]}`,
		`{"status":"MAYBE"}`,
		`{"status":"NEED_INFO","questions":[]}`,
		`{"status":"NEED_INFO","questions":["a","b","c","d"]}`,
		`{"status":"NEED_INFO","questions":["  "]}`,
		`{"status":"NEED_INFO","questions":"one"}`,
	}
	for _, raw := range cases {
		if _, err := ParseResult(ModeSufficiency, []byte(raw)); !errors.Is(err, ErrMalformedResponse) {
			t.Fatalf("%s: expected ErrMalformedResponse, got %v", raw, err)
		}
	}
}

func TestParseResultFinal(t *testing.T) {
	res, err := ParseResult(ModeFinal, []byte(`{"strengths":["brand"],"recommendation":"expand","caveat":"thin data"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Final.Caveat == nil || *res.Final.Caveat != "thin data" {
		t.Fatalf("unexpected caveat %#v", res.Final.Caveat)
	}
	if _, ok := res.Final.Fields["caveat"]; ok {
		t.Fatalf("caveat must not be duplicated in fields")
	}

	encoded, err := json.Marshal(res.Final)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(encoded), `"caveat":"thin data"`) {
		t.Fatalf("expected caveat in encoded report: %s", encoded)
	}

	res, err = ParseResult(ModeFinal, []byte(`{"pros":["a"],"cons":["b"],"recommendation":"go","caveat":null}`))
	if err != nil || res.Final.Caveat != nil {
		t.Fatalf("expected null caveat, got %v %#v", err, res.Final)
	}
}

func TestParseResultRejectsMalformedFinal(t *testing.T) {
	cases := []string{
		`{"recommendation":"go","questions":["why?"]}`,
		`{"caveat":"only caveat"}`,
		`{"recommendation":"go","caveat":42}`,
		`{"status":"READY","questions":[]}`,
	}
	for _, raw := range cases {
		if _, err := ParseResult(ModeFinal, []byte(raw)); !errors.Is(err, ErrMalformedResponse) {
			t.Fatalf("%s: expected ErrMalformedResponse, got %v", raw, err)
		}
	}
}

func TestHTTPClientCall(t *testing.T) {
	var seen map[string]json.RawMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/run" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&seen); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		_, _ = w.Write([]byte(`{"strengths":["brand"],"caveat":null}`))
	}))
	defer server.Close()

	client := NewHTTPClient(log.New(io.Discard, "", 0), []Endpoint{{WorkerID: "SWOT_agent", BaseURL: server.URL + "/"}})
	res, err := client.Call(context.Background(), "swot", Payload{
		Mode:      ModeFinal,
		Query:     "expand?",
		QAContext: []QAPair{{WorkerID: "swot", Question: "Budget?", Answer: "50k"}},
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res.Final == nil {
		t.Fatalf("unexpected result %#v", res)
	}

	for _, key := range []string{"mode", "query", "qa_context"} {
		if _, ok := seen[key]; !ok {
			t.Fatalf("worker payload has no %q key: %v", key, keysOf(seen))
		}
	}
	if len(seen) != 3 {
		t.Fatalf("unexpected worker payload keys %v", keysOf(seen))
	}
	if string(seen["mode"]) != `"final"` || string(seen["query"]) != `"expand?"` {
		t.Fatalf("unexpected payload values mode=%s query=%s", seen["mode"], seen["query"])
	}
	var pairs []QAPair
	if err := json.Unmarshal(seen["qa_context"], &pairs); err != nil || len(pairs) != 1 || pairs[0].Answer != "50k" {
		t.Fatalf("unexpected qa_context %s (err %v)", seen["qa_context"], err)
	}
}

func TestPayloadOmitsEmptyQAContext(t *testing.T) {
	body, err := json.Marshal(Payload{Mode: ModeSufficiency, Query: "expand?"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got := string(body); got != `{"mode":"sufficiency","query":"expand?"}` {
		t.Fatalf("unexpected sufficiency payload %s", got)
	}
}

func keysOf(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestHTTPClientErrorClassification(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer failing.Close()
	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>oops</html>`))
	}))
	defer garbage.Close()

	client := NewHTTPClient(nil, []Endpoint{
		{WorkerID: "slow", BaseURL: slow.URL},
		{WorkerID: "failing", BaseURL: failing.URL},
		{WorkerID: "garbage", BaseURL: garbage.URL},
		{WorkerID: "down", BaseURL: "http://127.0.0.1:1"},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := client.Call(ctx, "slow", Payload{Mode: ModeFinal}); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if _, err := client.Call(context.Background(), "failing", Payload{Mode: ModeFinal}); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable for 500, got %v", err)
	}
	if _, err := client.Call(context.Background(), "garbage", Payload{Mode: ModeFinal}); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
	if _, err := client.Call(context.Background(), "down", Payload{Mode: ModeFinal}); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable for refused connection, got %v", err)
	}
	if _, err := client.Call(context.Background(), "nobody", Payload{Mode: ModeFinal}); !errors.Is(err, ErrUnknownWorker) {
		t.Fatalf("expected ErrUnknownWorker, got %v", err)
	}
}

func TestHTTPClientProbe(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	client := NewHTTPClient(nil, []Endpoint{
		{WorkerID: "swot", BaseURL: healthy.URL},
		{WorkerID: "down", BaseURL: "http://127.0.0.1:1"},
	})
	got := client.Probe(context.Background())
	if len(got) != 1 || got[0] != "swot" {
		t.Fatalf("unexpected healthy workers %v", got)
	}
}

type recordingProvider struct {
	reqs    []model.CompletionRequest
	content string
	err     error
}

func (p *recordingProvider) Complete(_ context.Context, req model.CompletionRequest) (model.CompletionResponse, error) {
	p.reqs = append(p.reqs, req)
	if p.err != nil {
		return model.CompletionResponse{}, p.err
	}
	return model.CompletionResponse{Content: p.content}, nil
}

func TestModelClientRendersPromptAndParses(t *testing.T) {
	dir := t.TempDir()
	if err := writeFile(dir+"/swot.md", "Internal vs external factors."); err != nil {
		t.Fatalf("write kb: %v", err)
	}
	provider := &recordingProvider{content: `{"status":"NEED_INFO","questions":["What is the budget?"]}`}
	client := NewModelClient(nil, provider, "claude-x", DefaultCatalog(), WithKnowledgeDir(dir))

	res, err := client.Call(context.Background(), "swot_agent", Payload{Mode: ModeSufficiency, Query: "Open a store?"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res.Sufficiency.Questions[0] != "What is the budget?" {
		t.Fatalf("unexpected result %#v", res.Sufficiency)
	}
	req := provider.reqs[0]
	if !strings.Contains(req.SystemPrompt, "SWOT Analysis") || !strings.Contains(req.SystemPrompt, "Internal vs external factors.") {
		t.Fatalf("prompt missing framework details: %s", req.SystemPrompt)
	}
	if !req.JSONOutput || !strings.Contains(req.Messages[0].Content, `"query": "Open a store?"`) {
		t.Fatalf("unexpected request %#v", req)
	}
}

func TestModelClientErrors(t *testing.T) {
	client := NewModelClient(nil, &recordingProvider{err: errors.New("api down")}, "m", DefaultCatalog())
	if _, err := client.Call(context.Background(), "swot", Payload{Mode: ModeFinal}); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
	if _, err := client.Call(context.Background(), "astrology", Payload{Mode: ModeFinal}); !errors.Is(err, ErrUnknownWorker) {
		t.Fatalf("expected ErrUnknownWorker, got %v", err)
	}
}

func TestRouter(t *testing.T) {
	remote := ClientFunc(func(_ context.Context, id string, _ Payload) (Result, error) {
		return Result{Mode: ModeFinal, Final: &FinalReport{Fields: map[string]any{"by": "remote:" + id}}}, nil
	})
	local := ClientFunc(func(_ context.Context, id string, _ Payload) (Result, error) {
		return Result{Mode: ModeFinal, Final: &FinalReport{Fields: map[string]any{"by": "local:" + id}}}, nil
	})
	r := NewRouter(local)
	r.Route("SWOT_agent", remote)

	got, _ := r.Call(context.Background(), "swot", Payload{})
	if got.Final.Fields["by"] != "remote:swot" {
		t.Fatalf("unexpected route %v", got.Final.Fields)
	}
	got, _ = r.Call(context.Background(), "five_whys", Payload{})
	if got.Final.Fields["by"] != "local:five_whys" {
		t.Fatalf("unexpected fallback %v", got.Final.Fields)
	}
	if _, err := NewRouter(nil).Call(context.Background(), "x", Payload{}); !errors.Is(err, ErrUnknownWorker) {
		t.Fatalf("expected ErrUnknownWorker, got %v", err)
	}
}

func TestCatalog(t *testing.T) {
	c := DefaultCatalog()
	if len(c.IDs()) != 10 {
		t.Fatalf("expected 10 frameworks, got %d", len(c.IDs()))
	}
	if !c.Has("Five-Whys_agent") {
		t.Fatalf("expected normalized lookup")
	}
	c.Upsert(Framework{ID: "swot", Description: "custom"})
	f, _ := c.Get("swot")
	if f.Description != "custom" || f.Name != "SWOT Analysis" {
		t.Fatalf("upsert should override only provided fields: %#v", f)
	}
	c.Upsert(Framework{ID: "premortem"})
	if ids := c.IDs(); ids[len(ids)-1] != "premortem" {
		t.Fatalf("new framework should append, got %v", ids)
	}
}

func TestErrorKindAndCaveat(t *testing.T) {
	err := errors.Join(ErrTimeout, errors.New("deadline"))
	if ErrorKind(err) != "timeout" {
		t.Fatalf("unexpected kind %q", ErrorKind(err))
	}
	if !strings.Contains(FailureCaveat("swot", err), "timed out") {
		t.Fatalf("unexpected caveat %q", FailureCaveat("swot", err))
	}
}

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o600)
}
