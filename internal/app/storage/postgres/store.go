// Package postgres persists kernel snapshots in PostgreSQL, one table per
// slot class. A save replaces the stored state in a single transaction.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/spendsave/internal/app/storage/migrations"
	"github.com/R3E-Network/spendsave/internal/domain/strategy"
	"github.com/R3E-Network/spendsave/internal/kernel"
)

// Store saves and loads kernel snapshots.
type Store struct {
	db *sqlx.DB
}

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn with the lib/pq driver and applies migrations.
func Open(ctx context.Context, dsn string, maxOpenConns int) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if err := migrations.Apply(ctx, db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- rows -------------------------------------------------------------------

type metaRow struct {
	Owner          []byte `db:"owner"`
	Treasury       []byte `db:"treasury"`
	TreasuryFeeBps int    `db:"treasury_fee_bps"`
	NextAssetID    int64  `db:"next_asset_id"`
}

type moduleRow struct {
	Capability []byte `db:"capability"`
	Name       string `db:"name"`
	Module     []byte `db:"module"`
}

type configRow struct {
	User []byte `db:"user_hash"`
	Slot []byte `db:"slot"`
}

type assetRow struct {
	ID    int64  `db:"asset_id"`
	Asset []byte `db:"asset"`
}

type supplyRow struct {
	AssetID int64  `db:"asset_id"`
	Total   string `db:"total"`
}

type balanceRow struct {
	Owner   []byte `db:"owner"`
	AssetID int64  `db:"asset_id"`
	Balance string `db:"balance"`
}

type delegateRow struct {
	Owner    []byte `db:"owner"`
	Delegate []byte `db:"delegate"`
}

type paramsRow struct {
	User           []byte `db:"user_hash"`
	TargetAsset    []byte `db:"target_asset"`
	MinAmount      string `db:"min_amount"`
	MaxSlippageBps int    `db:"max_slippage_bps"`
}

type queueRow struct {
	ID        string    `db:"id"`
	Position  int64     `db:"position"`
	User      []byte    `db:"user_hash"`
	FromAsset []byte    `db:"from_asset"`
	ToAsset   []byte    `db:"to_asset"`
	Amount    string    `db:"amount"`
	QueuedAt  time.Time `db:"queued_at"`
}

// --- save -------------------------------------------------------------------

// Save replaces the stored state with snap.
func (s *Store) Save(ctx context.Context, snap kernel.Snapshot) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := len(migrations.Tables) - 1; i >= 0; i-- {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+migrations.Tables[i]); err != nil {
			return fmt.Errorf("clear %s: %w", migrations.Tables[i], err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO kernel_meta (id, owner, treasury, treasury_fee_bps, next_asset_id)
		VALUES (1, $1, $2, $3, $4)
	`, snap.Owner.BytesBE(), snap.Treasury.BytesBE(), int(snap.TreasuryFeeBps), int64(snap.NextAssetID)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}

	for _, m := range snap.Modules {
		row := moduleRow{Capability: m.Capability[:], Name: m.Name, Module: m.Address.BytesBE()}
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO module_registry (capability, name, module) VALUES (:capability, :name, :module)
		`, row); err != nil {
			return fmt.Errorf("save module %s: %w", m.Name, err)
		}
	}
	for _, c := range snap.Configs {
		row := configRow{User: c.User.BytesBE(), Slot: c.Slot[:]}
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO user_configs (user_hash, slot) VALUES (:user_hash, :slot)
		`, row); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
	}
	for _, a := range snap.Assets {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO asset_registry (asset_id, asset) VALUES ($1, $2)
		`, int64(a.ID), a.Asset.BytesBE()); err != nil {
			return fmt.Errorf("save asset %d: %w", a.ID, err)
		}
	}
	for _, sp := range snap.Supply {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_supply (asset_id, total) VALUES ($1, $2)
		`, int64(sp.AssetID), sp.Total.Dec()); err != nil {
			return fmt.Errorf("save supply %d: %w", sp.AssetID, err)
		}
	}
	for _, b := range snap.Balances {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_balances (owner, asset_id, balance) VALUES ($1, $2, $3)
		`, b.Owner.BytesBE(), int64(b.AssetID), b.Amount.Dec()); err != nil {
			return fmt.Errorf("save balance: %w", err)
		}
	}
	for _, d := range snap.Delegates {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO delegates (owner, delegate) VALUES ($1, $2)
		`, d.Owner.BytesBE(), d.Delegate.BytesBE()); err != nil {
			return fmt.Errorf("save delegate: %w", err)
		}
	}
	for _, p := range snap.ConversionParams {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversion_params (user_hash, target_asset, min_amount, max_slippage_bps)
			VALUES ($1, $2, $3, $4)
		`, p.User.BytesBE(), p.Params.TargetAsset.BytesBE(), p.Params.MinAmount.Dec(), int(p.Params.MaxSlippageBps)); err != nil {
			return fmt.Errorf("save conversion params: %w", err)
		}
	}
	for i, c := range snap.Queue {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversion_queue (id, position, user_hash, from_asset, to_asset, amount, queued_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, c.ID, int64(i), c.User.BytesBE(), c.FromAsset.BytesBE(), c.ToAsset.BytesBE(), c.Amount.Dec(), c.QueuedAt.UTC()); err != nil {
			return fmt.Errorf("save conversion %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// --- load -------------------------------------------------------------------

// Load reads the stored state. The second result is false when nothing has
// been saved yet.
func (s *Store) Load(ctx context.Context) (kernel.Snapshot, bool, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return kernel.Snapshot{}, false, fmt.Errorf("begin load: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var meta metaRow
	err = tx.GetContext(ctx, &meta, `
		SELECT owner, treasury, treasury_fee_bps, next_asset_id FROM kernel_meta WHERE id = 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return kernel.Snapshot{}, false, nil
	}
	if err != nil {
		return kernel.Snapshot{}, false, fmt.Errorf("load meta: %w", err)
	}

	snap := kernel.Snapshot{
		TreasuryFeeBps: uint16(meta.TreasuryFeeBps),
		NextAssetID:    uint64(meta.NextAssetID),
	}
	if snap.Owner, err = hash(meta.Owner); err != nil {
		return kernel.Snapshot{}, false, fmt.Errorf("load owner: %w", err)
	}
	if snap.Treasury, err = hash(meta.Treasury); err != nil {
		return kernel.Snapshot{}, false, fmt.Errorf("load treasury: %w", err)
	}

	loaders := []func(context.Context, *sqlx.Tx, *kernel.Snapshot) error{
		loadModules,
		loadConfigs,
		loadAssets,
		loadSupply,
		loadBalances,
		loadDelegates,
		loadConversionParams,
		loadQueue,
	}
	for _, load := range loaders {
		if err := load(ctx, tx, &snap); err != nil {
			return kernel.Snapshot{}, false, err
		}
	}
	return snap, true, nil
}

func loadModules(ctx context.Context, tx *sqlx.Tx, snap *kernel.Snapshot) error {
	var rows []moduleRow
	if err := tx.SelectContext(ctx, &rows, `SELECT capability, name, module FROM module_registry ORDER BY capability`); err != nil {
		return fmt.Errorf("load modules: %w", err)
	}
	for _, r := range rows {
		var e kernel.ModuleEntry
		if len(r.Capability) != len(e.Capability) {
			return fmt.Errorf("load modules: capability of %d bytes", len(r.Capability))
		}
		copy(e.Capability[:], r.Capability)
		e.Name = r.Name
		addr, err := hash(r.Module)
		if err != nil {
			return fmt.Errorf("load module %s: %w", r.Name, err)
		}
		e.Address = addr
		snap.Modules = append(snap.Modules, e)
	}
	return nil
}

func loadConfigs(ctx context.Context, tx *sqlx.Tx, snap *kernel.Snapshot) error {
	var rows []configRow
	if err := tx.SelectContext(ctx, &rows, `SELECT user_hash, slot FROM user_configs ORDER BY user_hash`); err != nil {
		return fmt.Errorf("load configs: %w", err)
	}
	for _, r := range rows {
		user, err := hash(r.User)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		slot, err := strategy.SlotFromBytes(r.Slot)
		if err != nil {
			return err
		}
		snap.Configs = append(snap.Configs, kernel.ConfigEntry{User: user, Slot: slot})
	}
	return nil
}

func loadAssets(ctx context.Context, tx *sqlx.Tx, snap *kernel.Snapshot) error {
	var rows []assetRow
	if err := tx.SelectContext(ctx, &rows, `SELECT asset_id, asset FROM asset_registry ORDER BY asset_id`); err != nil {
		return fmt.Errorf("load assets: %w", err)
	}
	for _, r := range rows {
		asset, err := hash(r.Asset)
		if err != nil {
			return fmt.Errorf("load asset %d: %w", r.ID, err)
		}
		snap.Assets = append(snap.Assets, kernel.AssetEntry{ID: uint64(r.ID), Asset: asset})
	}
	return nil
}

func loadSupply(ctx context.Context, tx *sqlx.Tx, snap *kernel.Snapshot) error {
	var rows []supplyRow
	if err := tx.SelectContext(ctx, &rows, `SELECT asset_id, total::text AS total FROM ledger_supply ORDER BY asset_id`); err != nil {
		return fmt.Errorf("load supply: %w", err)
	}
	for _, r := range rows {
		total, err := amount(r.Total)
		if err != nil {
			return fmt.Errorf("load supply %d: %w", r.AssetID, err)
		}
		snap.Supply = append(snap.Supply, kernel.SupplyEntry{AssetID: uint64(r.AssetID), Total: *total})
	}
	return nil
}

func loadBalances(ctx context.Context, tx *sqlx.Tx, snap *kernel.Snapshot) error {
	var rows []balanceRow
	if err := tx.SelectContext(ctx, &rows, `
		SELECT owner, asset_id, balance::text AS balance FROM ledger_balances ORDER BY owner, asset_id
	`); err != nil {
		return fmt.Errorf("load balances: %w", err)
	}
	for _, r := range rows {
		owner, err := hash(r.Owner)
		if err != nil {
			return fmt.Errorf("load balance: %w", err)
		}
		bal, err := amount(r.Balance)
		if err != nil {
			return fmt.Errorf("load balance: %w", err)
		}
		snap.Balances = append(snap.Balances, kernel.BalanceEntry{Owner: owner, AssetID: uint64(r.AssetID), Amount: *bal})
	}
	return nil
}

func loadDelegates(ctx context.Context, tx *sqlx.Tx, snap *kernel.Snapshot) error {
	var rows []delegateRow
	if err := tx.SelectContext(ctx, &rows, `SELECT owner, delegate FROM delegates ORDER BY owner, delegate`); err != nil {
		return fmt.Errorf("load delegates: %w", err)
	}
	for _, r := range rows {
		owner, err := hash(r.Owner)
		if err != nil {
			return fmt.Errorf("load delegate: %w", err)
		}
		delegate, err := hash(r.Delegate)
		if err != nil {
			return fmt.Errorf("load delegate: %w", err)
		}
		snap.Delegates = append(snap.Delegates, kernel.DelegateEntry{Owner: owner, Delegate: delegate})
	}
	return nil
}

func loadConversionParams(ctx context.Context, tx *sqlx.Tx, snap *kernel.Snapshot) error {
	var rows []paramsRow
	if err := tx.SelectContext(ctx, &rows, `
		SELECT user_hash, target_asset, min_amount::text AS min_amount, max_slippage_bps
		FROM conversion_params ORDER BY user_hash
	`); err != nil {
		return fmt.Errorf("load conversion params: %w", err)
	}
	for _, r := range rows {
		user, err := hash(r.User)
		if err != nil {
			return fmt.Errorf("load conversion params: %w", err)
		}
		target, err := hash(r.TargetAsset)
		if err != nil {
			return fmt.Errorf("load conversion params: %w", err)
		}
		minAmount, err := amount(r.MinAmount)
		if err != nil {
			return fmt.Errorf("load conversion params: %w", err)
		}
		snap.ConversionParams = append(snap.ConversionParams, kernel.ConversionParamsEntry{
			User: user,
			Params: kernel.ConversionParams{
				TargetAsset:    target,
				MinAmount:      *minAmount,
				MaxSlippageBps: uint16(r.MaxSlippageBps),
			},
		})
	}
	return nil
}

func loadQueue(ctx context.Context, tx *sqlx.Tx, snap *kernel.Snapshot) error {
	var rows []queueRow
	if err := tx.SelectContext(ctx, &rows, `
		SELECT id, position, user_hash, from_asset, to_asset, amount::text AS amount, queued_at
		FROM conversion_queue ORDER BY position
	`); err != nil {
		return fmt.Errorf("load conversion queue: %w", err)
	}
	for _, r := range rows {
		c := kernel.Conversion{ID: r.ID, QueuedAt: r.QueuedAt}
		var err error
		if c.User, err = hash(r.User); err != nil {
			return fmt.Errorf("load conversion %s: %w", r.ID, err)
		}
		if c.FromAsset, err = hash(r.FromAsset); err != nil {
			return fmt.Errorf("load conversion %s: %w", r.ID, err)
		}
		if c.ToAsset, err = hash(r.ToAsset); err != nil {
			return fmt.Errorf("load conversion %s: %w", r.ID, err)
		}
		amt, err := amount(r.Amount)
		if err != nil {
			return fmt.Errorf("load conversion %s: %w", r.ID, err)
		}
		c.Amount = *amt
		snap.Queue = append(snap.Queue, c)
	}
	return nil
}

func hash(b []byte) (util.Uint160, error) {
	return util.Uint160DecodeBytesBE(b)
}

func amount(s string) (*uint256.Int, error) {
	return uint256.FromDecimal(s)
}
