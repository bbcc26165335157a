package session

import (
	"encoding/json"
	"fmt"
	"time"
)

type sessionRow struct {
	SessionID           string    `gorm:"primaryKey;size:191"`
	Query               string    `gorm:"type:text"`
	RankedJSON          string    `gorm:"type:text"`
	RankingDegraded     bool      `gorm:"not null;default:false"`
	SelectedJSON        string    `gorm:"type:text"`
	QAStateJSON         string    `gorm:"column:qa_state_json;type:text"`
	ReportsJSON         string    `gorm:"type:text"`
	FinalRecommendation string    `gorm:"type:text"`
	ConfidenceScore     *float64
	Status              string    `gorm:"size:32;not null;index"`
	Phase               string    `gorm:"size:32"`
	Revision            int64     `gorm:"not null"`
	CreatedAt           time.Time `gorm:"not null"`
	UpdatedAt           time.Time `gorm:"not null"`
}

func (sessionRow) TableName() string {
	return "analysis_sessions"
}

func (r sessionRow) toSession() (Session, error) {
	out := Session{
		SessionID:           r.SessionID,
		Query:               r.Query,
		RankingDegraded:     r.RankingDegraded,
		FinalRecommendation: r.FinalRecommendation,
		ConfidenceScore:     r.ConfidenceScore,
		Status:              Status(r.Status),
		Phase:               Phase(r.Phase),
		Revision:            r.Revision,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if err := decodeColumn(r.RankedJSON, &out.RankedFrameworks); err != nil {
		return Session{}, fmt.Errorf("decode ranked_frameworks: %w", err)
	}
	if err := decodeColumn(r.SelectedJSON, &out.SelectedFrameworks); err != nil {
		return Session{}, fmt.Errorf("decode selected_frameworks: %w", err)
	}
	if err := decodeColumn(r.QAStateJSON, &out.QAState); err != nil {
		return Session{}, fmt.Errorf("decode qa_state: %w", err)
	}
	if err := decodeColumn(r.ReportsJSON, &out.AgentReports); err != nil {
		return Session{}, fmt.Errorf("decode agent_reports: %w", err)
	}
	return out, nil
}

func sessionRowFromSession(s Session) (sessionRow, error) {
	row := sessionRow{
		SessionID:           s.SessionID,
		Query:               s.Query,
		RankingDegraded:     s.RankingDegraded,
		FinalRecommendation: s.FinalRecommendation,
		ConfidenceScore:     s.ConfidenceScore,
		Status:              string(s.Status),
		Phase:               string(s.Phase),
		Revision:            s.Revision,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	}
	var err error
	if row.RankedJSON, err = encodeColumn(s.RankedFrameworks); err != nil {
		return sessionRow{}, fmt.Errorf("encode ranked_frameworks: %w", err)
	}
	if row.SelectedJSON, err = encodeColumn(s.SelectedFrameworks); err != nil {
		return sessionRow{}, fmt.Errorf("encode selected_frameworks: %w", err)
	}
	if row.QAStateJSON, err = encodeColumn(s.QAState); err != nil {
		return sessionRow{}, fmt.Errorf("encode qa_state: %w", err)
	}
	if row.ReportsJSON, err = encodeColumn(s.AgentReports); err != nil {
		return sessionRow{}, fmt.Errorf("encode agent_reports: %w", err)
	}
	return row, nil
}

func encodeColumn(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(raw) == "null" {
		return "", nil
	}
	return string(raw), nil
}

func decodeColumn(raw string, out any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}
