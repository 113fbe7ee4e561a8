package tracing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TraceRecord is one row of the agent_traces table.
type TraceRecord struct {
	TraceID             string    `gorm:"column:trace_id;primaryKey;size:64"`
	RequestTime         time.Time `gorm:"column:request_time;index"`
	ExecutionDurationMs int64     `gorm:"column:execution_duration_ms"`
	State               string    `gorm:"column:state;size:16"`
	Document            string    `gorm:"column:document;type:text"`
	CreatedAt           time.Time `gorm:"column:created_at"`
}

// TableName implements gorm's tabler.
func (TraceRecord) TableName() string { return "agent_traces" }

// SQLStore persists traces in a relational database. The schema is
// managed by the migrate command.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore creates a SQLStore. The connection is owned by the caller.
func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Save(ctx context.Context, doc *TraceDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}
	rec := TraceRecord{
		TraceID:             doc.Info.TraceID,
		RequestTime:         doc.Info.RequestTime.UTC(),
		ExecutionDurationMs: doc.Info.ExecutionDurationMs,
		State:               doc.Info.State,
		Document:            string(data),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
}

func (s *SQLStore) Load(ctx context.Context, traceID string) (*TraceDocument, error) {
	var rec TraceRecord
	err := s.db.WithContext(ctx).Where("trace_id = ?", traceID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTraceNotFound(traceID)
	}
	if err != nil {
		return nil, err
	}

	var doc TraceDocument
	if err := json.Unmarshal([]byte(rec.Document), &doc); err != nil {
		return nil, fmt.Errorf("decode trace %s: %w", traceID, err)
	}
	return &doc, nil
}

// Prune deletes traces requested before cutoff and returns the count.
// Request times are stored in UTC.
func (s *SQLStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("request_time < ?", cutoff.UTC()).Delete(&TraceRecord{})
	return res.RowsAffected, res.Error
}

func (s *SQLStore) Close() error { return nil }
