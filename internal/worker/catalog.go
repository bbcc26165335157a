package worker

import (
	"sort"
	"strings"
)

// Framework describes one analysis worker.
type Framework struct {
	ID          string
	Name        string
	Description string
	Mission     string
	// OutputSchema is the JSON shape of the final report, shown to model-backed workers.
	OutputSchema string
}

var defaultCatalog = []Framework{
	{
		ID:           "pros_cons",
		Name:         "Pros and Cons Analysis",
		Description:  "Structured pros and cons analysis to support decision-making.",
		Mission:      "weigh advantages and disadvantages comprehensively and recommend a clear course of action",
		OutputSchema: `{"pros": ["..."], "cons": ["..."], "recommendation": "...", "caveat": "..."}`,
	},
	{
		ID:           "swot",
		Name:         "SWOT Analysis",
		Description:  "Evaluates strengths, weaknesses, opportunities and threats to assess a strategic position.",
		Mission:      "evaluate internal strengths and weaknesses and external opportunities and threats, then propose a clear strategy",
		OutputSchema: `{"strengths": ["..."], "weaknesses": ["..."], "opportunities": ["..."], "threats": ["..."], "recommendation": "...", "caveat": "..."}`,
	},
	{
		ID:           "cost_benefit",
		Name:         "Cost-Benefit Analysis",
		Description:  "Identifies, quantifies and compares costs and benefits to determine the net value of a decision.",
		Mission:      "provide a detailed and unbiased evaluation of a decision by quantifying its costs and benefits",
		OutputSchema: `{"costs": [{"item": "...", "cost_usd": 0, "description": "..."}], "benefits": [{"item": "...", "benefit_usd": 0, "description": "..."}], "net_value": 0, "recommendation": "...", "caveat": "..."}`,
	},
	{
		ID:           "weighted_matrix",
		Name:         "Weighted Decision Matrix",
		Description:  "Scores options against weighted criteria to give a quantitative comparison.",
		Mission:      "evaluate options against weighted criteria, compute scores, and recommend the winning choice",
		OutputSchema: `{"criteria": [{"name": "...", "weight": 0, "description": "..."}], "options_scores": [{"option": "...", "score": 0, "breakdown": "..."}], "winning_option": "...", "recommendation": "...", "caveat": "..."}`,
	},
	{
		ID:           "five_whys",
		Name:         "Five Whys",
		Description:  "Root cause analysis by repeatedly asking why a problem occurred.",
		Mission:      "uncover the most likely root cause through a five-step why chain and propose an actionable countermeasure",
		OutputSchema: `{"problem": "...", "whys_chain": [{"why_number": 1, "question": "...", "answer": "...", "is_root_cause": false}], "recommendation": "...", "caveat": "..."}`,
	},
	{
		ID:           "five_ws_and_h",
		Name:         "Five Ws and H",
		Description:  "Situational analysis across who, what, where, when, why and how.",
		Mission:      "clarify every W and H dimension of the situation and synthesize a concise, actionable plan",
		OutputSchema: `{"who": "...", "what": "...", "where": "...", "when": "...", "why": "...", "how": "...", "summary_action_plan": "...", "caveat": "..."}`,
	},
	{
		ID:           "ten_ten_ten",
		Name:         "10-10-10",
		Description:  "Evaluates the consequences of a decision over 10 minutes, 10 months and 10 years.",
		Mission:      "assess impact across 10 minutes, 10 months and 10 years, then synthesize a balanced recommendation",
		OutputSchema: `{"decision": "...", "impact_10_minutes": "...", "impact_10_months": "...", "impact_10_years": "...", "synthesized_recommendation": "...", "caveat": "..."}`,
	},
	{
		ID:           "decide_model",
		Name:         "DECIDE Model",
		Description:  "Six-step structured decision process: define, establish, consider, identify, develop, evaluate.",
		Mission:      "guide the decision through the six DECIDE steps to a well-reasoned outcome",
		OutputSchema: `{"D_define": "...", "E_establish": "...", "C_consider": "...", "I_identify": "...", "D_develop": "...", "E_evaluate": "...", "final_decision_point": "...", "caveat": "..."}`,
	},
	{
		ID:           "kepner_tregoe",
		Name:         "Kepner-Tregoe Method",
		Description:  "Systematic problem solving and decision analysis with potential problem assessment.",
		Mission:      "work through situation appraisal, problem analysis, decision analysis and potential problem analysis to a risk-mitigated decision",
		OutputSchema: `{"situation_appraisal": "...", "problem_analysis": "...", "decision_analysis": "...", "potential_problem_analysis": "...", "final_risk_mitigated_decision": "...", "caveat": "..."}`,
	},
	{
		ID:           "rational_decision_making",
		Name:         "Rational Decision-Making Model",
		Description:  "Logical five-step model from problem definition to implementation and monitoring.",
		Mission:      "apply the five-step rational model to reach a justified choice and outline implementation",
		OutputSchema: `{"step1_define_problem": "...", "step2_generate_alternatives": "...", "step3_evaluate_alternatives": "...", "step4_select_best": "...", "step5_implement_monitor": "...", "final_justified_choice": "...", "caveat": "..."}`,
	},
}

// Catalog is the set of frameworks that may be selected.
type Catalog struct {
	order []string
	byID  map[string]Framework
}

func DefaultCatalog() *Catalog {
	return NewCatalog(defaultCatalog)
}

func NewCatalog(frameworks []Framework) *Catalog {
	c := &Catalog{byID: make(map[string]Framework, len(frameworks))}
	for _, f := range frameworks {
		c.Upsert(f)
	}
	return c
}

// Upsert adds f or overrides the non-empty fields of an existing entry.
func (c *Catalog) Upsert(f Framework) {
	f.ID = NormalizeID(f.ID)
	if f.ID == "" {
		return
	}
	existing, ok := c.byID[f.ID]
	if !ok {
		if f.Name == "" {
			f.Name = f.ID
		}
		c.order = append(c.order, f.ID)
		c.byID[f.ID] = f
		return
	}
	if f.Name != "" {
		existing.Name = f.Name
	}
	if f.Description != "" {
		existing.Description = f.Description
	}
	if f.Mission != "" {
		existing.Mission = f.Mission
	}
	if f.OutputSchema != "" {
		existing.OutputSchema = f.OutputSchema
	}
	c.byID[f.ID] = existing
}

func (c *Catalog) Get(id string) (Framework, bool) {
	f, ok := c.byID[NormalizeID(id)]
	return f, ok
}

func (c *Catalog) Has(id string) bool {
	_, ok := c.byID[NormalizeID(id)]
	return ok
}

// All returns the frameworks in registration order.
func (c *Catalog) All() []Framework {
	out := make([]Framework, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

func (c *Catalog) IDs() []string {
	return append([]string(nil), c.order...)
}

// SortedIDs returns ids alphabetically, for stable display.
func (c *Catalog) SortedIDs() []string {
	ids := c.IDs()
	sort.Strings(ids)
	return ids
}

// NormalizeID lower-cases a worker name and strips the "_agent" suffix, so
// "SWOT_agent" and "swot" name the same worker.
func NormalizeID(raw string) string {
	id := strings.ToLower(strings.TrimSpace(raw))
	id = strings.ReplaceAll(id, "-", "_")
	id = strings.ReplaceAll(id, " ", "_")
	return strings.TrimSuffix(id, "_agent")
}
