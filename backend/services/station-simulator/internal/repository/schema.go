package repository

// Schema is applied on startup; every statement is idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS ocpp_messages (
		id          BIGSERIAL PRIMARY KEY,
		station_id  TEXT        NOT NULL,
		direction   TEXT        NOT NULL,
		action      TEXT        NOT NULL,
		payload     JSONB       NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS ocpp_messages_station_idx ON ocpp_messages (station_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS simulated_transactions (
		station_id     TEXT        NOT NULL,
		transaction_id INTEGER     NOT NULL,
		connector_id   INTEGER     NOT NULL,
		id_tag         TEXT        NOT NULL DEFAULT '',
		meter_start    BIGINT      NOT NULL,
		meter_stop     BIGINT,
		stop_reason    TEXT,
		started_at     TIMESTAMPTZ NOT NULL,
		stopped_at     TIMESTAMPTZ,
		PRIMARY KEY (station_id, transaction_id)
	)`,
}
