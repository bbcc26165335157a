package types

// Signal mirrors the outcome of a Q&A step.
type Signal string

const (
	SignalNone           Signal = ""
	SignalNextQuestion   Signal = "NEXT_QUESTION"
	SignalAgentReady     Signal = "AGENT_READY"
	SignalAllAgentsReady Signal = "ALL_AGENTS_READY"
)

type MessageRequest struct {
	Text string `json:"text"`
}

type CreateSessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
}

type SelectionRequest struct {
	Frameworks []string `json:"frameworks"`
}

type AnswerRequest struct {
	TargetAgentName string `json:"target_agent_name"`
	Answer          string `json:"answer"`
}

type Question struct {
	WorkerID string `json:"worker_id"`
	Text     string `json:"text"`
	Index    int    `json:"index"`
	Total    int    `json:"total"`
}

// Reply is the response to every conversational turn.
type Reply struct {
	SessionID      string    `json:"session_id"`
	Phase          string    `json:"phase"`
	Message        string    `json:"message"`
	Signal         Signal    `json:"signal,omitempty"`
	ReadyWorker    string    `json:"ready_worker,omitempty"`
	Question       *Question `json:"question,omitempty"`
	Completed      bool      `json:"completed"`
	Recommendation string    `json:"recommendation,omitempty"`
	Confidence     *float64  `json:"confidence,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type Framework struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Remote      bool   `json:"remote"`
}

type NextQuestionResponse struct {
	SessionID string    `json:"session_id"`
	Pending   bool      `json:"pending"`
	Question  *Question `json:"question,omitempty"`
}

type HealthResponse struct {
	OK            bool     `json:"ok"`
	Store         string   `json:"store,omitempty"`
	RemoteWorkers []string `json:"remote_workers,omitempty"`
}

// Chat socket actions. Clients send message, answer and select; the server
// sends reply, event and error.
const (
	ChatActionMessage = "message"
	ChatActionAnswer  = "answer"
	ChatActionSelect  = "select"
	ChatActionReply   = "reply"
	ChatActionEvent   = "event"
	ChatActionError   = "error"
)

// ChatFrame is one websocket frame in either direction.
type ChatFrame struct {
	Action          string         `json:"action"`
	Text            string         `json:"text,omitempty"`
	TargetAgentName string         `json:"target_agent_name,omitempty"`
	Answer          string         `json:"answer,omitempty"`
	Frameworks      []string       `json:"frameworks,omitempty"`
	Reply           *Reply         `json:"reply,omitempty"`
	Event           *WorkflowEvent `json:"event,omitempty"`
	Error           *ErrorResponse `json:"error,omitempty"`
}
