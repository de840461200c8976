package infrastructure

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/orderflow/fulfillment-system/shared/events"
)

// AnalyticsSchema creates the analytics audit table. The table is an
// append-only sink for collected milestones; it is not saga state.
const AnalyticsSchema = `
CREATE TABLE IF NOT EXISTS analytics_events (
	id            BIGSERIAL PRIMARY KEY,
	event_type    TEXT        NOT NULL,
	order_id      TEXT        NOT NULL,
	user_id       TEXT        NOT NULL,
	payload       JSONB       NOT NULL,
	correlation_id TEXT       NOT NULL,
	recorded_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS analytics_events_order_idx ON analytics_events (order_id);
CREATE INDEX IF NOT EXISTS analytics_events_type_idx  ON analytics_events (event_type);
`

// AnalyticsRecord is one persisted analytics milestone
type AnalyticsRecord struct {
	ID            int64           `db:"id" json:"id"`
	EventType     string          `db:"event_type" json:"eventType"`
	OrderID       string          `db:"order_id" json:"orderId"`
	UserID        string          `db:"user_id" json:"userId"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	CorrelationID string          `db:"correlation_id" json:"correlationId"`
	RecordedAt    time.Time       `db:"recorded_at" json:"recordedAt"`
}

// PostgresAnalyticsStore persists analytics milestones in PostgreSQL
type PostgresAnalyticsStore struct {
	db *sqlx.DB
}

// NewPostgresAnalyticsStore creates a new store
func NewPostgresAnalyticsStore(db *sqlx.DB) *PostgresAnalyticsStore {
	return &PostgresAnalyticsStore{db: db}
}

// Save appends a collected analytics message
func (s *PostgresAnalyticsStore) Save(ctx context.Context, eventType, orderID, userID string, message *events.Message) error {
	payload, err := message.MarshalPayload()
	if err != nil {
		return errors.Wrap(err, "failed to marshal analytics payload")
	}

	record := &AnalyticsRecord{
		EventType:     eventType,
		OrderID:       orderID,
		UserID:        userID,
		Payload:       payload,
		CorrelationID: message.CorrelationID.String(),
		RecordedAt:    message.Timestamp,
	}

	query := `
		INSERT INTO analytics_events (
			event_type, order_id, user_id, payload, correlation_id, recorded_at
		) VALUES (
			:event_type, :order_id, :user_id, :payload, :correlation_id, :recorded_at
		)`

	if _, err := s.db.NamedExecContext(ctx, query, record); err != nil {
		return errors.Wrap(err, "failed to insert analytics record")
	}
	return nil
}

// ByOrder returns the recorded milestones for one order, oldest first
func (s *PostgresAnalyticsStore) ByOrder(ctx context.Context, orderID string) ([]AnalyticsRecord, error) {
	query := `
		SELECT id, event_type, order_id, user_id, payload, correlation_id, recorded_at
		FROM analytics_events
		WHERE order_id = $1
		ORDER BY recorded_at ASC, id ASC`

	var records []AnalyticsRecord
	if err := s.db.SelectContext(ctx, &records, query, orderID); err != nil {
		return nil, errors.Wrap(err, "failed to query analytics records")
	}
	return records, nil
}

// CountByType returns how many milestones were recorded per event type
func (s *PostgresAnalyticsStore) CountByType(ctx context.Context) (map[string]int64, error) {
	rows := []struct {
		EventType string `db:"event_type"`
		Count     int64  `db:"count"`
	}{}

	query := `SELECT event_type, COUNT(*) AS count FROM analytics_events GROUP BY event_type`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, errors.Wrap(err, "failed to count analytics records")
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.EventType] = row.Count
	}
	return counts, nil
}
