// Package migrations creates the tables the snapshot store writes, one per
// kernel slot class.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// Tables lists the managed tables in creation order.
var Tables = []string{
	"kernel_meta",
	"module_registry",
	"user_configs",
	"asset_registry",
	"ledger_supply",
	"ledger_balances",
	"delegates",
	"conversion_params",
	"conversion_queue",
}

var statements = []string{
	`CREATE TABLE IF NOT EXISTS kernel_meta (
		id               SMALLINT PRIMARY KEY CHECK (id = 1),
		owner            BYTEA    NOT NULL,
		treasury         BYTEA    NOT NULL,
		treasury_fee_bps INTEGER  NOT NULL CHECK (treasury_fee_bps BETWEEN 0 AND 10000),
		next_asset_id    BIGINT   NOT NULL,
		saved_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS module_registry (
		capability BYTEA PRIMARY KEY,
		name       TEXT  NOT NULL,
		module     BYTEA NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_configs (
		user_hash BYTEA PRIMARY KEY,
		slot      BYTEA NOT NULL CHECK (octet_length(slot) = 32)
	)`,
	`CREATE TABLE IF NOT EXISTS asset_registry (
		asset_id BIGINT PRIMARY KEY CHECK (asset_id > 0),
		asset    BYTEA  NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_supply (
		asset_id BIGINT PRIMARY KEY,
		total    NUMERIC(78, 0) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_balances (
		owner    BYTEA  NOT NULL,
		asset_id BIGINT NOT NULL,
		balance  NUMERIC(78, 0) NOT NULL,
		PRIMARY KEY (owner, asset_id)
	)`,
	`CREATE TABLE IF NOT EXISTS delegates (
		owner    BYTEA NOT NULL,
		delegate BYTEA NOT NULL,
		PRIMARY KEY (owner, delegate)
	)`,
	`CREATE TABLE IF NOT EXISTS conversion_params (
		user_hash        BYTEA PRIMARY KEY,
		target_asset     BYTEA NOT NULL,
		min_amount       NUMERIC(78, 0) NOT NULL,
		max_slippage_bps INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conversion_queue (
		id         TEXT PRIMARY KEY,
		position   BIGINT NOT NULL,
		user_hash  BYTEA  NOT NULL,
		from_asset BYTEA  NOT NULL,
		to_asset   BYTEA  NOT NULL,
		amount     NUMERIC(78, 0) NOT NULL,
		queued_at  TIMESTAMPTZ NOT NULL
	)`,
}

// Apply creates any missing tables. It is safe to run on every start.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %s: %w", Tables[i], err)
		}
	}
	return nil
}
