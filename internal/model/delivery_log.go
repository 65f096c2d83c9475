// internal/model/delivery_log.go
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// SyntheticMessageIDPrefix marks provider message ids generated locally when
// the provider accepted a message without returning an id of its own.
const SyntheticMessageIDPrefix = "local-"

// IsSyntheticMessageID reports whether id was generated locally.
func IsSyntheticMessageID(id string) bool {
	return strings.HasPrefix(id, SyntheticMessageIDPrefix)
}

// DeliveryLog is one attempted email send and its evolving delivery status.
type DeliveryLog struct {
	ID                string          `db:"id" json:"id"`
	Recipient         string          `db:"recipient" json:"recipient"`
	Subject           string          `db:"subject" json:"subject"`
	TemplateID        string          `db:"template_id" json:"template_id,omitempty"`
	ProviderMessageID string          `db:"provider_message_id" json:"provider_message_id,omitempty"`
	Status            Status          `db:"status" json:"status"`
	Metadata          []MetadataEntry `db:"metadata" json:"metadata"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// MetadataEntry is one audit record appended to a DeliveryLog when a
// transition is applied.
type MetadataEntry struct {
	Source     string          `json:"source"`
	Status     Status          `json:"status"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      string          `json:"error,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Transition is a conditional status change for a single DeliveryLog.
// ProviderMessageID is only stored when the log has none yet.
type Transition struct {
	LogID             string
	Status            Status
	ProviderMessageID string
	Entry             MetadataEntry
	At                time.Time
}

// LogFilter narrows admin reads of delivery logs.
type LogFilter struct {
	Recipient string
	Status    Status
	Page      int
	PageSize  int
}

// Normalize clamps paging values the same way list endpoints do.
func (f LogFilter) Normalize() LogFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 20
	}
	if f.PageSize > 100 {
		f.PageSize = 100
	}
	return f
}

func (f LogFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}

func NewPagination(f LogFilter, total int) Pagination {
	return Pagination{
		Page:       f.Page,
		PageSize:   f.PageSize,
		TotalCount: total,
		TotalPages: (total + f.PageSize - 1) / f.PageSize,
	}
}
