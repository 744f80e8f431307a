package dto

import (
	"github.com/thrillee/aegisbulk/internal/compose"
	"github.com/thrillee/aegisbulk/internal/dispatch"
	"github.com/thrillee/aegisbulk/internal/wallet"
)

// TextContactsRequest carries pasted phone numbers.
type TextContactsRequest struct {
	Text string `json:"text" binding:"required"`
}

// GroupContactsRequest imports a saved contact group from the platform.
type GroupContactsRequest struct {
	GroupID string `json:"group_id" binding:"required"`
}

// IngestResponse reports what an import added to the batch queue.
type IngestResponse struct {
	Source       string `json:"source"`
	Added        int    `json:"added"`
	Dropped      int    `json:"dropped"`
	BatchesAdded int    `json:"batches_added"`
	TotalQueued  int    `json:"total_queued"`
	Empty        bool   `json:"empty"`
}

type SelectionRequest struct {
	BatchIDs []string `json:"batch_ids"`
}

type ModeRequest struct {
	Mode string `json:"mode" binding:"required,oneof=group personalized"`
}

type DraftRequest struct {
	Text string `json:"text"`
}

type TemplateRequest struct {
	TemplateID string `json:"template_id" binding:"required"`
}

// QuoteResponse is the cost preview shown before sending.
type QuoteResponse struct {
	wallet.CostQuote
	Shortfall  string `json:"shortfall"`
	Duplicates int    `json:"duplicates"`
	Units      int    `json:"units"`
}

type DispatchRequest struct {
	SenderID string `json:"sender_id" binding:"required"`
}

type DispatchStartedResponse struct {
	RunID string `json:"run_id"`
}

// DispatchStatusResponse is the per-unit state of the active or last run.
type DispatchStatusResponse struct {
	Running bool                    `json:"running"`
	Items   []dispatch.DispatchItem `json:"items"`
	Summary *dispatch.Summary       `json:"summary,omitempty"`
}

// ComposeErrorResponse is returned when an edit is refused by the composer.
type ComposeErrorResponse struct {
	Code    string              `json:"code"`
	Error   string              `json:"error"`
	Message compose.MessageSpec `json:"message"`
}
