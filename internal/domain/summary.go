package domain

import "time"

// Summary is the structured LLM output for a document. At most one exists per document.
type Summary struct {
	ID                string
	DocumentID        string
	Text              string
	KeyPoints         []string
	ChangesIdentified []string
	Topics            []string
	ModelUsed         string
	ProcessingTime    time.Duration
	TokenCount        int
	ConfidenceScore   float64
	CreatedAt         time.Time
}

// ImpactAnalysis is the optional business-impact assessment of a document.
type ImpactAnalysis struct {
	ImpactLevel            string   `json:"impact_level"`
	Urgency                string   `json:"urgency"`
	AffectedBusinessTypes  []string `json:"affected_business_types"`
	ImplementationDeadline string   `json:"implementation_deadline"`
	ActionRequired         bool     `json:"action_required"`
	RecommendedActions     []string `json:"recommended_actions"`
	ComplianceRisk         string   `json:"compliance_risk"`
	EstimatedEffort        string   `json:"estimated_effort"`
}

// ProcessResult reports the outcome of summarizing a single document.
type ProcessResult struct {
	Success        bool    `json:"success"`
	DocumentID     string  `json:"document_id"`
	SummaryID      string  `json:"summary_id,omitempty"`
	ProcessingTime float64 `json:"processing_time,omitempty"`
	ModelUsed      string  `json:"model_used,omitempty"`
	SummaryPreview string  `json:"summary_preview,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// BatchResult aggregates ProcessResult values of one batch.
type BatchResult struct {
	Total     int             `json:"total"`
	Processed int             `json:"processed"`
	Errors    int             `json:"errors"`
	Skipped   int             `json:"skipped"`
	Results   []ProcessResult `json:"results"`
}

// ProcessingStats describes the state of the summarization backlog.
type ProcessingStats struct {
	StatusCounts   map[DocumentStatus]int `json:"status_counts"`
	TotalSummaries int                    `json:"total_summaries"`
	ModelUsage     map[string]int         `json:"model_usage"`
	Pending        int                    `json:"pending"`
	Processed      int                    `json:"processed"`
	Errors         int                    `json:"error"`
}
