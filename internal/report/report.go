package report

import (
	"errors"
	"time"

	"github.com/emandor/labscan_service/internal/model"
)

var (
	ErrNotFound = errors.New("report not found")
	ErrBusy     = errors.New("another upload is still being processed")
)

// Report is one upload's history row. Document bytes are never stored.
type Report struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"-"`
	RequestID string    `db:"request_id" json:"request_id"`
	FileName  string    `db:"file_name" json:"file_name"`
	MediaType string    `db:"media_type" json:"media_type"`
	DocHash   string    `db:"doc_hash" json:"doc_hash"`
	PageCount int       `db:"page_count" json:"page_count"`
	State     State     `db:"state" json:"state"`
	OCRText   string    `db:"ocr_text" json:"ocr_text"`
	Diagnosis string    `db:"diagnosis" json:"diagnosis"`
	Source    string    `db:"source" json:"source,omitempty"`
	LatencyMs int       `db:"latency_ms" json:"latency_ms,omitempty"`
	ErrorKind string    `db:"error_kind" json:"error_kind,omitempty"`
	ErrorText string    `db:"error_text" json:"error,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Upload is a single document submitted by a user.
type Upload struct {
	UserID    int64
	RequestID string
	Document  model.Document
}

func (r *Report) advance(to State) error {
	if !CanTransition(r.State, to) {
		return &TransitionError{From: r.State, To: to}
	}
	r.State = to
	return nil
}

// StateEvent is pushed to websocket subscribers on every transition.
type StateEvent struct {
	ReportID  int64  `json:"report_id"`
	RequestID string `json:"request_id"`
	State     State  `json:"state"`
	PageCount int    `json:"page_count,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (r *Report) event() StateEvent {
	return StateEvent{
		ReportID:  r.ID,
		RequestID: r.RequestID,
		State:     r.State,
		PageCount: r.PageCount,
		ErrorKind: r.ErrorKind,
		Error:     r.ErrorText,
	}
}
