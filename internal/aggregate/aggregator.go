package aggregate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"poolEngine/internal/model"
)

const (
	tvlMethodReserves = "reserves_at_last_op"
	tvlMethodNone     = "unavailable"
)

// Writer receives aggregated rows. *postgres.Store implements it.
type Writer interface {
	UpsertPools(ctx context.Context, pools []model.Pool) error
	UpsertWindowStats(ctx context.Context, stats []model.PoolWindowStats) error
}

// Config controls aggregation behavior.
type Config struct {
	WindowSeconds uint64
	BatchSize     int
	RecomputeFrom uint64
	StateStore    StateStore
}

// Aggregator aggregates operation history into pool window stats.
type Aggregator struct {
	cfg          Config
	writer       Writer
	logger       *zap.Logger
	pools        *PoolMetaCache
	accumulators map[string]*Accumulator
	poolSeen     map[string]model.Pool
}

func NewAggregator(cfg Config, writer Writer, pools *PoolMetaCache, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pools == nil {
		pools = NewPoolMetaCache()
	}

	return &Aggregator{
		cfg:          cfg,
		writer:       writer,
		logger:       logger,
		pools:        pools,
		accumulators: make(map[string]*Accumulator),
		poolSeen:     make(map[string]model.Pool),
	}
}

// Run executes aggregation over an operation history JSONL file.
func (a *Aggregator) Run(ctx context.Context, inputPath string) error {
	if a.writer == nil {
		return fmt.Errorf("writer is nil")
	}
	if a.cfg.WindowSeconds == 0 {
		return fmt.Errorf("window seconds must be > 0")
	}
	if a.cfg.BatchSize <= 0 {
		a.cfg.BatchSize = 1000
	}

	startTs, err := a.loadStartTimestamp(ctx)
	if err != nil {
		return err
	}

	file, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	batch := make([]model.PoolWindowStats, 0, a.cfg.BatchSize)
	pools := make([]model.Pool, 0, 64)
	maxTs := startTs
	var total, windows, skipped, failed int

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		total++

		var record model.OperationRecord
		if err := json.Unmarshal(line, &record); err != nil {
			failed++
			a.logger.Warn("decode operation record", zap.Error(err))
			continue
		}

		if record.Timestamp <= startTs {
			skipped++
			continue
		}

		windowStart := windowStart(record.Timestamp, a.cfg.WindowSeconds)
		windowEnd := windowStart + a.cfg.WindowSeconds

		acc := a.accumulators[record.PoolID]
		if acc == nil {
			acc = NewAccumulator(record, windowStart, windowEnd)
			a.accumulators[record.PoolID] = acc
		} else if acc.WindowStart != windowStart {
			stats, pool := a.flushAccumulator(acc)
			batch = append(batch, stats)
			windows++
			if pool != nil {
				pools = append(pools, *pool)
			}
			acc = NewAccumulator(record, windowStart, windowEnd)
			a.accumulators[record.PoolID] = acc
		}

		acc.AddRecord(record)

		if record.Timestamp > maxTs {
			maxTs = record.Timestamp
		}

		if len(batch) >= a.cfg.BatchSize {
			if err := a.flushBatches(ctx, batch, pools); err != nil {
				return err
			}
			batch = batch[:0]
			pools = pools[:0]

			if err := a.saveState(ctx); err != nil {
				return err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan input: %w", err)
	}

	ids := make([]string, 0, len(a.accumulators))
	for id := range a.accumulators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		stats, pool := a.flushAccumulator(a.accumulators[id])
		batch = append(batch, stats)
		windows++
		if pool != nil {
			pools = append(pools, *pool)
		}
	}
	a.accumulators = make(map[string]*Accumulator)

	if len(batch) > 0 || len(pools) > 0 {
		if err := a.flushBatches(ctx, batch, pools); err != nil {
			return err
		}
	}

	a.cfg.RecomputeFrom = maxTs
	if err := a.saveState(ctx); err != nil {
		return err
	}

	a.logger.Info("aggregate complete",
		zap.Int("total", total),
		zap.Int("windows", windows),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)

	return nil
}

func (a *Aggregator) loadStartTimestamp(ctx context.Context) (uint64, error) {
	if a.cfg.RecomputeFrom > 0 {
		return a.cfg.RecomputeFrom - 1, nil
	}
	if a.cfg.StateStore == nil {
		return 0, nil
	}
	last, ok, err := a.cfg.StateStore.Load(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return last, nil
}

func (a *Aggregator) saveState(ctx context.Context) error {
	if a.cfg.StateStore == nil {
		return nil
	}

	if len(a.accumulators) == 0 {
		return a.cfg.StateStore.Save(ctx, a.cfg.RecomputeFrom)
	}

	safeTs := minOpenWindowStart(a.accumulators)
	if safeTs > 0 {
		safeTs = safeTs - 1
	}
	if safeTs == 0 {
		safeTs = a.cfg.RecomputeFrom
	}
	return a.cfg.StateStore.Save(ctx, safeTs)
}

func (a *Aggregator) flushBatches(ctx context.Context, batch []model.PoolWindowStats, pools []model.Pool) error {
	if len(pools) > 0 {
		if err := a.writer.UpsertPools(ctx, pools); err != nil {
			return err
		}
	}
	if len(batch) > 0 {
		if err := a.writer.UpsertWindowStats(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregator) flushAccumulator(acc *Accumulator) (model.PoolWindowStats, *model.Pool) {
	meta, ok := a.pools.Get(acc.PoolID)
	if !ok {
		a.logger.Warn("missing pool meta, amounts left unscaled", zap.String("pool", acc.PoolID))
		meta = model.Pool{ID: acc.PoolID, AssetA: acc.AssetA, AssetB: acc.AssetB}
	}
	poolRecord := a.registerPool(meta, acc)

	stats := model.PoolWindowStats{
		PoolID:         acc.PoolID,
		WindowSizeSecs: int64(a.cfg.WindowSeconds),
		WindowStart:    time.Unix(int64(acc.WindowStart), 0).UTC(),
		WindowEnd:      time.Unix(int64(acc.WindowEnd), 0).UTC(),
		PutCount:       acc.PutCount,
		GetCount:       acc.GetCount,
		VolumeAIn:      formatTokenAmount(acc.VolumeAIn, meta.DecimalsA),
		VolumeAOut:     formatTokenAmount(acc.VolumeAOut, meta.DecimalsA),
		VolumeBIn:      formatTokenAmount(acc.VolumeBIn, meta.DecimalsB),
		VolumeBOut:     formatTokenAmount(acc.VolumeBOut, meta.DecimalsB),
		FeeA:           formatTokenAmount(acc.FeeA, meta.DecimalsA),
		FeeB:           formatTokenAmount(acc.FeeB, meta.DecimalsB),
		SharesMinted:   formatTokenAmount(acc.SharesMinted, model.ShareDecimals),
		SharesBurned:   formatTokenAmount(acc.SharesBurned, model.ShareDecimals),
		LastPrice:      acc.LastPrice,
		TVLMethod:      tvlMethodNone,
	}

	if acc.ReserveA > 0 && acc.ReserveB > 0 {
		reserveA := big.NewInt(acc.ReserveA)
		reserveB := big.NewInt(acc.ReserveB)
		ra := formatTokenAmount(reserveA, meta.DecimalsA)
		rb := formatTokenAmount(reserveB, meta.DecimalsB)
		stats.ReserveA = &ra
		stats.ReserveB = &rb
		stats.FeeRateA, stats.FeeRateB = computeFeeRates(acc.FeeA, acc.FeeB, reserveA, reserveB)
		stats.APR = computeAPR(stats.FeeRateA, stats.FeeRateB, a.cfg.WindowSeconds)
		stats.TVLMethod = tvlMethodReserves
	}

	return stats, poolRecord
}

func (a *Aggregator) registerPool(meta model.Pool, acc *Accumulator) *model.Pool {
	pool := meta
	pool.FirstSeenHeight = acc.FirstHeight

	existing, ok := a.poolSeen[acc.PoolID]
	if ok {
		if existing.FirstSeenHeight <= pool.FirstSeenHeight {
			return nil
		}
	}

	a.poolSeen[acc.PoolID] = pool
	return &pool
}

func windowStart(ts uint64, windowSec uint64) uint64 {
	return ts - (ts % windowSec)
}

func minOpenWindowStart(acc map[string]*Accumulator) uint64 {
	var min uint64
	for _, entry := range acc {
		if entry == nil {
			continue
		}
		if min == 0 || entry.WindowStart < min {
			min = entry.WindowStart
		}
	}
	return min
}

// JSONWriter writes aggregated rows as JSON lines, for runs without Postgres.
type JSONWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func NewJSONWriter(out io.Writer) *JSONWriter {
	return &JSONWriter{out: out}
}

func (w *JSONWriter) UpsertPools(ctx context.Context, pools []model.Pool) error {
	return nil
}

func (w *JSONWriter) UpsertWindowStats(ctx context.Context, stats []model.PoolWindowStats) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	enc := json.NewEncoder(w.out)
	for _, s := range stats {
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("encode window stats: %w", err)
		}
	}
	return nil
}
