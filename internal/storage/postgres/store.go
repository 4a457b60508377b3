package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"poolEngine/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS pools (
	pool_id TEXT PRIMARY KEY,
	asset_a TEXT NOT NULL,
	asset_b TEXT NOT NULL,
	decimals_a SMALLINT NOT NULL,
	decimals_b SMALLINT NOT NULL,
	share_asset TEXT NOT NULL,
	fee_rate BIGINT NOT NULL,
	fee_scale BIGINT NOT NULL,
	amplification BIGINT NOT NULL DEFAULT 0,
	first_seen_height BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS pool_positions (
	pool_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	tx_id TEXT NOT NULL,
	tag TEXT NOT NULL,
	op TEXT NOT NULL,
	amount_a BIGINT NOT NULL,
	amount_b BIGINT NOT NULL,
	shares BIGINT NOT NULL,
	fee BIGINT NOT NULL,
	price BIGINT NOT NULL,
	reserve_a BIGINT NOT NULL,
	reserve_b BIGINT NOT NULL,
	share_supply BIGINT NOT NULL,
	height BIGINT NOT NULL,
	ts BIGINT NOT NULL,
	PRIMARY KEY (pool_id, user_id, tx_id)
);
CREATE TABLE IF NOT EXISTS pool_prices (
	pool_id TEXT NOT NULL,
	height BIGINT NOT NULL,
	ts BIGINT NOT NULL,
	price BIGINT NOT NULL,
	PRIMARY KEY (pool_id, height, ts)
);
CREATE TABLE IF NOT EXISTS pool_window_stats (
	pool_id TEXT NOT NULL,
	window_size_seconds BIGINT NOT NULL,
	window_start_ts TIMESTAMPTZ NOT NULL,
	window_end_ts TIMESTAMPTZ NOT NULL,
	put_count BIGINT NOT NULL,
	get_count BIGINT NOT NULL,
	volume_a_in NUMERIC NOT NULL,
	volume_a_out NUMERIC NOT NULL,
	volume_b_in NUMERIC NOT NULL,
	volume_b_out NUMERIC NOT NULL,
	fee_a NUMERIC NOT NULL,
	fee_b NUMERIC NOT NULL,
	shares_minted NUMERIC NOT NULL,
	shares_burned NUMERIC NOT NULL,
	last_price BIGINT NOT NULL,
	reserve_a NUMERIC,
	reserve_b NUMERIC,
	fee_rate_a NUMERIC,
	fee_rate_b NUMERIC,
	apr NUMERIC,
	tvl_method TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (pool_id, window_size_seconds, window_start_ts)
);
CREATE TABLE IF NOT EXISTS engine_state (
	name TEXT PRIMARY KEY,
	last_processed_ts BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// Options controls connection retries.
type Options struct {
	ConnectRetries int
	RetryDelay     time.Duration
}

// Store provides Postgres persistence for operation history and analytics.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string, opts Options) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := withRetry(ctx, opts.ConnectRetries, opts.RetryDelay, pool.Ping); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// UpsertPools inserts or updates pool metadata.
func (s *Store) UpsertPools(ctx context.Context, pools []model.Pool) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, pool := range pools {
		batch.Queue(`
			INSERT INTO pools (
				pool_id, asset_a, asset_b, decimals_a, decimals_b, share_asset,
				fee_rate, fee_scale, amplification, first_seen_height, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
			ON CONFLICT (pool_id)
			DO UPDATE SET
				fee_rate = EXCLUDED.fee_rate,
				fee_scale = EXCLUDED.fee_scale,
				amplification = EXCLUDED.amplification,
				first_seen_height = LEAST(pools.first_seen_height, EXCLUDED.first_seen_height),
				updated_at = now()
		`,
			pool.ID,
			pool.AssetA,
			pool.AssetB,
			int16(pool.DecimalsA),
			int16(pool.DecimalsB),
			pool.ShareAsset,
			pool.FeeRate,
			pool.FeeScale,
			int64(pool.Amplification),
			int64(pool.FirstSeenHeight),
		)
	}
	return s.sendBatch(ctx, batch, len(pools))
}

// InsertPositions records completed operations and the price observed at
// each. Position rows are immutable; price rows take the last write.
func (s *Store) InsertPositions(ctx context.Context, records []model.OperationRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`
			INSERT INTO pool_positions (
				pool_id, user_id, tx_id, tag, op, amount_a, amount_b, shares, fee, price,
				reserve_a, reserve_b, share_supply, height, ts
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			ON CONFLICT (pool_id, user_id, tx_id) DO NOTHING
		`,
			r.PoolID,
			r.User,
			r.TxID,
			string(r.Tag),
			r.Op,
			r.AmountA,
			r.AmountB,
			r.Shares,
			r.Fee,
			r.Price,
			r.ReserveA,
			r.ReserveB,
			r.ShareSupply,
			int64(r.Height),
			int64(r.Timestamp),
		)
		queuePrice(batch, r.PoolID, model.PricePoint{Height: r.Height, Timestamp: r.Timestamp, Price: r.Price})
	}
	return s.sendBatch(ctx, batch, 2*len(records))
}

// UpsertPrices writes price history points; the same key overwrites.
func (s *Store) UpsertPrices(ctx context.Context, poolID string, points []model.PricePoint) error {
	if len(points) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range points {
		queuePrice(batch, poolID, p)
	}
	return s.sendBatch(ctx, batch, len(points))
}

func queuePrice(batch *pgx.Batch, poolID string, p model.PricePoint) {
	batch.Queue(`
		INSERT INTO pool_prices (pool_id, height, ts, price)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pool_id, height, ts) DO UPDATE SET price = EXCLUDED.price
	`, poolID, int64(p.Height), int64(p.Timestamp), p.Price)
}

// UpsertWindowStats inserts or updates window stats.
func (s *Store) UpsertWindowStats(ctx context.Context, stats []model.PoolWindowStats) error {
	if len(stats) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range stats {
		batch.Queue(`
			INSERT INTO pool_window_stats (
				pool_id, window_size_seconds, window_start_ts, window_end_ts,
				put_count, get_count, volume_a_in, volume_a_out, volume_b_in, volume_b_out,
				fee_a, fee_b, shares_minted, shares_burned, last_price,
				reserve_a, reserve_b, fee_rate_a, fee_rate_b, apr, tvl_method, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,now(),now())
			ON CONFLICT (pool_id, window_size_seconds, window_start_ts)
			DO UPDATE SET
				window_end_ts = EXCLUDED.window_end_ts,
				put_count = EXCLUDED.put_count,
				get_count = EXCLUDED.get_count,
				volume_a_in = EXCLUDED.volume_a_in,
				volume_a_out = EXCLUDED.volume_a_out,
				volume_b_in = EXCLUDED.volume_b_in,
				volume_b_out = EXCLUDED.volume_b_out,
				fee_a = EXCLUDED.fee_a,
				fee_b = EXCLUDED.fee_b,
				shares_minted = EXCLUDED.shares_minted,
				shares_burned = EXCLUDED.shares_burned,
				last_price = EXCLUDED.last_price,
				reserve_a = EXCLUDED.reserve_a,
				reserve_b = EXCLUDED.reserve_b,
				fee_rate_a = EXCLUDED.fee_rate_a,
				fee_rate_b = EXCLUDED.fee_rate_b,
				apr = EXCLUDED.apr,
				tvl_method = EXCLUDED.tvl_method,
				updated_at = now()
		`,
			m.PoolID,
			m.WindowSizeSecs,
			m.WindowStart,
			m.WindowEnd,
			int64(m.PutCount),
			int64(m.GetCount),
			m.VolumeAIn,
			m.VolumeAOut,
			m.VolumeBIn,
			m.VolumeBOut,
			m.FeeA,
			m.FeeB,
			m.SharesMinted,
			m.SharesBurned,
			m.LastPrice,
			m.ReserveA,
			m.ReserveB,
			m.FeeRateA,
			m.FeeRateB,
			m.APR,
			m.TVLMethod,
		)
	}
	return s.sendBatch(ctx, batch, len(stats))
}

// PutOperations implements storage.Sink.
func (s *Store) PutOperations(records []model.OperationRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.InsertPositions(ctx, records)
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch, n int) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadState returns last_processed_ts for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var ts int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_ts FROM engine_state WHERE name=$1`, name)
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(ts), true, nil
}

// SaveState upserts last_processed_ts for a name.
func (s *Store) SaveState(ctx context.Context, name string, ts uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO engine_state (name, last_processed_ts, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_ts = EXCLUDED.last_processed_ts, updated_at = now()
	`, name, int64(ts))
	return err
}
