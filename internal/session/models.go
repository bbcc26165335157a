package session

import (
	"time"
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

type QAStatus string

const (
	QAPending  QAStatus = "pending"
	QANeedInfo QAStatus = "need_info"
	QAReady    QAStatus = "ready"
)

// NoQuestion is the CurrentIndex of a worker that is not awaiting an answer.
const NoQuestion = -1

type RankedFramework struct {
	WorkerID    string  `json:"worker_id"`
	Score       float64 `json:"score"`
	Description string  `json:"description,omitempty"`
}

type QAEntry struct {
	Question string  `json:"q"`
	Answer   *string `json:"a,omitempty"`
}

func (e QAEntry) Answered() bool {
	return e.Answer != nil && *e.Answer != ""
}

type WorkerQAState struct {
	Status       QAStatus  `json:"status"`
	Questions    []QAEntry `json:"questions"`
	CurrentIndex int       `json:"current_q_index"`
	// Error is set when the sufficiency check for this worker failed.
	Error string `json:"error,omitempty"`
}

// Report is a worker's final analysis. Failed workers carry an error and a
// caveat explaining why the analysis is missing.
type Report struct {
	Fields    map[string]any `json:"fields,omitempty"`
	Caveat    *string        `json:"caveat"`
	Error     string         `json:"error,omitempty"`
	ErrorKind string         `json:"error_kind,omitempty"`
}

func (r Report) Failed() bool {
	return r.Error != ""
}

type Session struct {
	SessionID           string                   `json:"session_id"`
	Query               string                   `json:"query"`
	RankedFrameworks    []RankedFramework        `json:"ranked_frameworks"`
	RankingDegraded     bool                     `json:"ranking_degraded,omitempty"`
	SelectedFrameworks  []string                 `json:"selected_frameworks"`
	QAState             map[string]WorkerQAState `json:"qa_state"`
	AgentReports        map[string]Report        `json:"agent_reports"`
	FinalRecommendation string                   `json:"final_recommendation,omitempty"`
	ConfidenceScore     *float64                 `json:"confidence_score,omitempty"`
	Status              Status                   `json:"status"`
	Phase               Phase                    `json:"phase"`
	Revision            int64                    `json:"revision"`
	CreatedAt           time.Time                `json:"created_at"`
	UpdatedAt           time.Time                `json:"updated_at"`
}

// Patch is a partial update. Nil fields are left unchanged when merging.
type Patch struct {
	Query               *string
	RankedFrameworks    []RankedFramework
	RankingDegraded     *bool
	SelectedFrameworks  []string
	QAState             map[string]WorkerQAState
	AgentReports        map[string]Report
	FinalRecommendation *string
	ConfidenceScore     *float64
	Status              *Status
	Phase               *Phase
}

func (p Patch) Empty() bool {
	return p.Query == nil && p.RankedFrameworks == nil && p.RankingDegraded == nil &&
		p.SelectedFrameworks == nil && p.QAState == nil && p.AgentReports == nil &&
		p.FinalRecommendation == nil && p.ConfidenceScore == nil && p.Status == nil && p.Phase == nil
}

func (s Session) Clone() Session {
	out := s
	out.RankedFrameworks = append([]RankedFramework(nil), s.RankedFrameworks...)
	out.SelectedFrameworks = append([]string(nil), s.SelectedFrameworks...)
	out.QAState = cloneQAState(s.QAState)
	if s.AgentReports != nil {
		out.AgentReports = make(map[string]Report, len(s.AgentReports))
		for id, r := range s.AgentReports {
			out.AgentReports[id] = r.clone()
		}
	}
	if s.ConfidenceScore != nil {
		v := *s.ConfidenceScore
		out.ConfidenceScore = &v
	}
	return out
}

func (s WorkerQAState) Clone() WorkerQAState {
	out := s
	out.Questions = make([]QAEntry, len(s.Questions))
	for i, q := range s.Questions {
		out.Questions[i] = QAEntry{Question: q.Question}
		if q.Answer != nil {
			a := *q.Answer
			out.Questions[i].Answer = &a
		}
	}
	return out
}

func cloneQAState(in map[string]WorkerQAState) map[string]WorkerQAState {
	if in == nil {
		return nil
	}
	out := make(map[string]WorkerQAState, len(in))
	for id, st := range in {
		out[id] = st.Clone()
	}
	return out
}

func (r Report) clone() Report {
	out := r
	if r.Fields != nil {
		out.Fields = make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	if r.Caveat != nil {
		c := *r.Caveat
		out.Caveat = &c
	}
	return out
}

// Apply returns s with p applied. With merge, nil patch fields keep their
// current value and qa_state / agent_reports are merged per worker id.
// Without merge the document is replaced by the patch contents.
func (s Session) Apply(p Patch, merge bool, now time.Time) Session {
	var out Session
	if merge {
		out = s.Clone()
	} else {
		out = Session{SessionID: s.SessionID, CreatedAt: s.CreatedAt, Revision: s.Revision, Status: StatusInProgress}
	}

	if p.Query != nil {
		out.Query = *p.Query
	}
	if p.RankedFrameworks != nil {
		out.RankedFrameworks = append([]RankedFramework(nil), p.RankedFrameworks...)
	}
	if p.RankingDegraded != nil {
		out.RankingDegraded = *p.RankingDegraded
	}
	if p.SelectedFrameworks != nil {
		out.SelectedFrameworks = append([]string(nil), p.SelectedFrameworks...)
	}
	if p.QAState != nil {
		if out.QAState == nil {
			out.QAState = make(map[string]WorkerQAState, len(p.QAState))
		}
		for id, st := range p.QAState {
			out.QAState[id] = st.Clone()
		}
	}
	if p.AgentReports != nil {
		if out.AgentReports == nil {
			out.AgentReports = make(map[string]Report, len(p.AgentReports))
		}
		for id, r := range p.AgentReports {
			out.AgentReports[id] = r.clone()
		}
	}
	if p.FinalRecommendation != nil {
		out.FinalRecommendation = *p.FinalRecommendation
	}
	if p.ConfidenceScore != nil {
		v := *p.ConfidenceScore
		out.ConfidenceScore = &v
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.Phase != nil {
		out.Phase = *p.Phase
	}
	if out.Status == "" {
		out.Status = StatusInProgress
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.UpdatedAt = now
	out.Revision++
	return out
}

// New returns an empty in-progress session.
func New(sessionID string, now time.Time) Session {
	return Session{
		SessionID: sessionID,
		Status:    StatusInProgress,
		Phase:     PhaseAwaitingQuery,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func StringPtr(v string) *string { return &v }

func BoolPtr(v bool) *bool { return &v }

func FloatPtr(v float64) *float64 { return &v }

func StatusPtr(v Status) *Status { return &v }

func PhasePtr(v Phase) *Phase { return &v }
