package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chargesim/backend/services/station-simulator/internal/ocpp/protocol"
	"chargesim/backend/services/station-simulator/internal/station"
)

// TransactionRepository keeps the history of simulated transactions.
type TransactionRepository struct {
	db *sql.DB
}

// NewTransactionRepository returns repository.
func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// RecordStart stores an accepted transaction. A transaction id reused by the central
// system overwrites the previous row.
func (r *TransactionRepository) RecordStart(ctx context.Context, tx station.Transaction) error {
	const query = `
		INSERT INTO simulated_transactions (station_id, transaction_id, connector_id, id_tag, meter_start, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (station_id, transaction_id) DO UPDATE SET
			connector_id = EXCLUDED.connector_id,
			id_tag = EXCLUDED.id_tag,
			meter_start = EXCLUDED.meter_start,
			started_at = EXCLUDED.started_at,
			meter_stop = NULL,
			stop_reason = NULL,
			stopped_at = NULL
	`
	_, err := r.db.ExecContext(ctx, query,
		tx.StationID,
		tx.ID,
		tx.ConnectorID,
		tx.IDTag,
		tx.MeterStart,
		tx.StartedAt.UTC(),
	)
	return err
}

// RecordStop closes a transaction.
func (r *TransactionRepository) RecordStop(ctx context.Context, stationID string, transactionID int, meterStop int64, reason protocol.StopReason, stoppedAt time.Time) error {
	const query = `
		UPDATE simulated_transactions
		SET meter_stop = $3,
		    stop_reason = $4,
		    stopped_at = $5
		WHERE station_id = $1 AND transaction_id = $2
	`
	res, err := r.db.ExecContext(ctx, query, stationID, transactionID, meterStop, string(reason), stoppedAt.UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("repository: transaction %d of %s not recorded", transactionID, stationID)
	}
	return nil
}

// TransactionRecord is one history row.
type TransactionRecord struct {
	StationID     string
	TransactionID int
	ConnectorID   int
	IDTag         string
	MeterStart    int64
	MeterStop     sql.NullInt64
	StopReason    sql.NullString
	StartedAt     time.Time
	StoppedAt     sql.NullTime
}

// ListByStation returns the station's transactions, most recent first.
func (r *TransactionRepository) ListByStation(ctx context.Context, stationID string, limit int) ([]TransactionRecord, error) {
	const query = `
		SELECT station_id, transaction_id, connector_id, id_tag, meter_start, meter_stop, stop_reason, started_at, stopped_at
		FROM simulated_transactions
		WHERE station_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, stationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []TransactionRecord
	for rows.Next() {
		var rec TransactionRecord
		if err := rows.Scan(&rec.StationID, &rec.TransactionID, &rec.ConnectorID, &rec.IDTag,
			&rec.MeterStart, &rec.MeterStop, &rec.StopReason, &rec.StartedAt, &rec.StoppedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
