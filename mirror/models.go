package mirror

import (
	"time"
)

// Label sources.
const (
	SourceAutomod = "automod"
	SourceOzone   = "ozone"
)

// History actions. One row is appended per state transition; history rows
// are never mutated or deleted.
const (
	ActionCreated = "created"
	ActionNegated = "negated"
	ActionUpdated = "updated"
)

// HistoryAllValues is recorded as the label value on a history row when a
// negation was not scoped to a single label value.
const HistoryAllValues = "all"

// Label is one applied label. AtUri is the empty string for account-level
// labels; the (did, at_uri, label_value) triple is unique and re-insertion
// is idempotent rather than an error. Rows are negated, never deleted.
type Label struct {
	ID         uint   `gorm:"primarykey"`
	Did        string `gorm:"uniqueIndex:idx_labels_did_uri_val,priority:1;not null"`
	AtUri      string `gorm:"uniqueIndex:idx_labels_did_uri_val,priority:2;column:at_uri;not null;default:''"`
	LabelValue string `gorm:"uniqueIndex:idx_labels_did_uri_val,priority:3;not null"`
	Negated    bool   `gorm:"not null;default:false"`
	Source     string `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LabelHistory is the append-only audit log of label state transitions.
type LabelHistory struct {
	ID         uint   `gorm:"primarykey"`
	Did        string `gorm:"index;not null"`
	AtUri      string `gorm:"column:at_uri;not null;default:''"`
	LabelValue string `gorm:"not null"`
	Action     string `gorm:"not null"`
	Source     string `gorm:"not null"`
	CreatedAt  time.Time
}

func (LabelHistory) TableName() string {
	return "label_history"
}
