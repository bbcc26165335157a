package worker

import (
	"encoding/json"
	"fmt"
	"strings"

	"foursight.local/orchestrator/internal/model"
)

const maxQuestions = 3

// ParseResult decodes and validates raw worker output for mode. raw may be
// the JSON object itself or model text containing it.
func ParseResult(mode Mode, raw []byte) (Result, error) {
	obj, err := objectFrom(raw)
	if err != nil {
		return Result{}, err
	}
	switch mode {
	case ModeSufficiency:
		res, err := parseSufficiency(obj)
		if err != nil {
			return Result{}, err
		}
		return Result{Mode: mode, Sufficiency: &res}, nil
	case ModeFinal:
		rep, err := parseFinal(obj)
		if err != nil {
			return Result{}, err
		}
		return Result{Mode: mode, Final: &rep}, nil
	default:
		return Result{}, fmt.Errorf("unsupported mode %q", mode)
	}
}

func objectFrom(raw []byte) (map[string]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, `"`) {
		// Some hosts return the model text as a JSON string.
		var text string
		if err := json.Unmarshal([]byte(trimmed), &text); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		trimmed = text
	}
	body, err := model.ExtractJSONObject(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return obj, nil
}

func parseSufficiency(obj map[string]json.RawMessage) (SufficiencyResult, error) {
	var status string
	if err := json.Unmarshal(obj["status"], &status); err != nil {
		return SufficiencyResult{}, fmt.Errorf("%w: status must be a string", ErrMalformedResponse)
	}

	var questions []string
	if raw, ok := obj["questions"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &questions); err != nil {
			return SufficiencyResult{}, fmt.Errorf("%w: questions must be a list of strings", ErrMalformedResponse)
		}
	}

	switch SufficiencyStatus(strings.ToUpper(strings.TrimSpace(status))) {
	case StatusReady:
		return SufficiencyResult{Status: StatusReady, Questions: []string{}}, nil
	case StatusNeedInfo:
		if len(questions) == 0 {
			return SufficiencyResult{}, fmt.Errorf("%w: NEED_INFO without questions", ErrMalformedResponse)
		}
		if len(questions) > maxQuestions {
			return SufficiencyResult{}, fmt.Errorf("%w: %d questions, at most %d allowed", ErrMalformedResponse, len(questions), maxQuestions)
		}
		cleaned := make([]string, 0, len(questions))
		for i, q := range questions {
			q = strings.TrimSpace(q)
			if q == "" {
				return SufficiencyResult{}, fmt.Errorf("%w: question %d is blank", ErrMalformedResponse, i)
			}
			cleaned = append(cleaned, q)
		}
		return SufficiencyResult{Status: StatusNeedInfo, Questions: cleaned}, nil
	default:
		return SufficiencyResult{}, fmt.Errorf("%w: unknown status %q", ErrMalformedResponse, status)
	}
}

func parseFinal(obj map[string]json.RawMessage) (FinalReport, error) {
	if _, ok := obj["questions"]; ok {
		return FinalReport{}, fmt.Errorf("%w: final report must not ask questions", ErrMalformedResponse)
	}
	if _, ok := obj["status"]; ok && len(obj) <= 2 {
		return FinalReport{}, fmt.Errorf("%w: sufficiency answer returned for final pass", ErrMalformedResponse)
	}

	report := FinalReport{Fields: make(map[string]any, len(obj))}
	for key, raw := range obj {
		if key == "caveat" {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return FinalReport{}, fmt.Errorf("%w: field %s: %v", ErrMalformedResponse, key, err)
		}
		report.Fields[key] = v
	}
	if len(report.Fields) == 0 {
		return FinalReport{}, fmt.Errorf("%w: empty final report", ErrMalformedResponse)
	}

	if raw, ok := obj["caveat"]; ok && string(raw) != "null" {
		var caveat string
		if err := json.Unmarshal(raw, &caveat); err != nil {
			return FinalReport{}, fmt.Errorf("%w: caveat must be a string or null", ErrMalformedResponse)
		}
		if caveat = strings.TrimSpace(caveat); caveat != "" {
			report.Caveat = &caveat
		}
	}
	return report, nil
}
