package mirror

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var labelConflictColumns = []clause.Column{
	{Name: "did"}, {Name: "at_uri"}, {Name: "label_value"},
}

// Store is the durable local mirror of applied labels, plus an append-only
// history of every state transition.
type Store struct {
	db     *gorm.DB
	Logger *slog.Logger
}

// NewStore runs idempotent schema setup and returns the mirror. Safe to call
// on every startup.
func NewStore(db *gorm.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&Label{}, &LabelHistory{}); err != nil {
		return nil, fmt.Errorf("label mirror schema setup: %w", err)
	}
	return &Store{
		db:     db,
		Logger: logger.With("system", "mirror"),
	}, nil
}

// AddLabel inserts one label row. On uniqueness conflict the existing row is
// fetched and returned, never an error. A fresh insert appends a `created`
// history row; reviving a previously negated row flips it back and appends
// an `updated` row; a plain duplicate appends nothing.
func (s *Store) AddLabel(ctx context.Context, label Label) (*Label, error) {
	var out *Label
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   labelConflictColumns,
			DoNothing: true,
		}).Create(&label)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			out = &label
			return tx.Create(&LabelHistory{
				Did:        label.Did,
				AtUri:      label.AtUri,
				LabelValue: label.LabelValue,
				Action:     ActionCreated,
				Source:     label.Source,
			}).Error
		}

		var existing Label
		if err := tx.Where("did = ? AND at_uri = ? AND label_value = ?",
			label.Did, label.AtUri, label.LabelValue).First(&existing).Error; err != nil {
			return err
		}
		if existing.Negated {
			if err := tx.Model(&existing).Update("negated", false).Error; err != nil {
				return err
			}
			existing.Negated = false
			if err := tx.Create(&LabelHistory{
				Did:        existing.Did,
				AtUri:      existing.AtUri,
				LabelValue: existing.LabelValue,
				Action:     ActionUpdated,
				Source:     label.Source,
			}).Error; err != nil {
				return err
			}
		}
		out = &existing
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("adding label: %w", err)
	}
	return out, nil
}

// BatchAddLabels inserts labels in a single transaction with
// ignore-on-conflict semantics, and appends one `created` history row per
// input regardless of whether the label row itself was new. History is never
// deduplicated.
func (s *Store) BatchAddLabels(ctx context.Context, labels []Label) error {
	if len(labels) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   labelConflictColumns,
			DoNothing: true,
		}).Create(&labels).Error; err != nil {
			return err
		}
		history := make([]LabelHistory, 0, len(labels))
		for _, l := range labels {
			history = append(history, LabelHistory{
				Did:        l.Did,
				AtUri:      l.AtUri,
				LabelValue: l.LabelValue,
				Action:     ActionCreated,
				Source:     l.Source,
			})
		}
		return tx.Create(&history).Error
	})
	if err != nil {
		return fmt.Errorf("batch adding labels: %w", err)
	}
	return nil
}

// NegateLabel sets negated=true on every row matching the given scope. A nil
// atUri matches all URIs for the account (including the account-level row); a
// nil labelValue matches all values. Exactly one `negated` history row
// summarizes the call (label value `all` when unscoped); nothing is written
// when zero rows matched. Returns the number of rows negated.
func (s *Store) NegateLabel(ctx context.Context, did string, atUri, labelValue *string, source string) (int64, error) {
	var affected int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&Label{}).Where("did = ? AND negated = ?", did, false)
		if atUri != nil {
			q = q.Where("at_uri = ?", *atUri)
		}
		if labelValue != nil {
			q = q.Where("label_value = ?", *labelValue)
		}
		res := q.Update("negated", true)
		if res.Error != nil {
			return res.Error
		}
		affected = res.RowsAffected
		if affected == 0 {
			return nil
		}

		histVal := HistoryAllValues
		if labelValue != nil {
			histVal = *labelValue
		}
		histUri := ""
		if atUri != nil {
			histUri = *atUri
		}
		return tx.Create(&LabelHistory{
			Did:        did,
			AtUri:      histUri,
			LabelValue: histVal,
			Action:     ActionNegated,
			Source:     source,
		}).Error
	})
	if err != nil {
		return 0, fmt.Errorf("negating label: %w", err)
	}
	return affected, nil
}

// LabelExists reports whether the account carries a non-negated
// account-level label with the given value.
func (s *Store) LabelExists(ctx context.Context, did, labelValue string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Label{}).
		Where("did = ? AND at_uri = ? AND label_value = ? AND negated = ?", did, "", labelValue, false).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("checking label existence: %w", err)
	}
	return count > 0, nil
}

// PostLabelExists reports whether the record at atUri carries a non-negated
// label with the given value. The authoring DID is intentionally ignored.
func (s *Store) PostLabelExists(ctx context.Context, atUri, labelValue string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Label{}).
		Where("at_uri = ? AND label_value = ? AND negated = ?", atUri, labelValue, false).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("checking post label existence: %w", err)
	}
	return count > 0, nil
}

// HistoryForAccount returns the audit rows for one account, oldest first.
func (s *Store) HistoryForAccount(ctx context.Context, did string) ([]LabelHistory, error) {
	var rows []LabelHistory
	err := s.db.WithContext(ctx).Where("did = ?", did).Order("id asc").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("loading label history: %w", err)
	}
	return rows, nil
}
