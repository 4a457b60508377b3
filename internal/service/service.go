package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"poolEngine/internal/aggregate"
	"poolEngine/internal/engine"
	"poolEngine/internal/gateway"
	"poolEngine/internal/model"
	"poolEngine/internal/pool"
	"poolEngine/internal/storage"
	"poolEngine/internal/storage/kv"
)

var (
	ErrUnknownPool = errors.New("unknown pool")
	ErrPoolExists  = errors.New("pool already activated")
)

// sinkBuffer is the number of pending batches each history sink queues.
const sinkBuffer = 1024

// Options configures a Service.
type Options struct {
	Logger *zap.Logger
	// Sinks receive every committed operation record from a background writer.
	Sinks []storage.Sink
	// Observers are appended after the persistence observers.
	Observers []engine.Observer
}

// Service owns one engine per activated pool plus the shared gateway.
type Service struct {
	mu        sync.RWMutex
	engines   map[string]*engine.Engine
	store     *kv.Store
	gw        *gateway.Memory
	meta      *aggregate.PoolMetaCache
	snapshots *snapshotSaver
	sinks     []*storage.AsyncSink
	observers []engine.Observer
	logger    *zap.Logger
}

// Open restores the gateway snapshot and every pool found in store.
func Open(ctx context.Context, store *kv.Store, opts Options) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("state store is nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	gw := gateway.NewMemory()
	raw, err := store.LoadGateway(ctx)
	if err != nil {
		return nil, fmt.Errorf("load gateway snapshot: %w", err)
	}
	if raw != nil {
		if err := json.Unmarshal(raw, gw); err != nil {
			return nil, err
		}
	}

	s := &Service{
		engines: make(map[string]*engine.Engine),
		store:   store,
		gw:      gw,
		meta:    aggregate.NewPoolMetaCache(),
		logger:  logger,
	}
	s.snapshots = &snapshotSaver{store: store, gw: gw, logger: logger}
	s.observers = append(s.observers, s.snapshots)
	for _, sink := range opts.Sinks {
		async := storage.NewAsyncSink(sink, sinkBuffer, func(records []model.OperationRecord, err error) {
			logger.Error("write operation records", zap.Int("records", len(records)), zap.Error(err))
		})
		s.sinks = append(s.sinks, async)
		s.observers = append(s.observers, &sinkObserver{sink: async, logger: logger})
	}
	s.observers = append(s.observers, opts.Observers...)

	ids, err := store.ListPools(ctx)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("list pools: %w", err)
	}
	for _, id := range ids {
		st, err := store.LoadPool(ctx, id)
		if err == nil {
			err = s.register(st)
		}
		if err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	logger.Info("service opened", zap.Int("pools", len(ids)))
	return s, nil
}

// Activate creates and persists a new pool.
func (s *Service) Activate(ctx context.Context, cfg pool.Config) (*pool.State, error) {
	if err := kv.ValidateID(cfg.ID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.engines[cfg.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolExists, cfg.ID)
	}
	st, err := pool.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.store.SavePool(ctx, st); err != nil {
		return nil, fmt.Errorf("save pool %s: %w", st.ID, err)
	}
	if err := s.registerLocked(st); err != nil {
		return nil, err
	}
	s.logger.Info("pool activated",
		zap.String("pool", st.ID),
		zap.String("asset_a", st.AssetA.ID),
		zap.String("asset_b", st.AssetB.ID),
		zap.Int64("fee_rate", st.FeeRate),
		zap.Int64("fee_scale", st.FeeScale),
		zap.Uint64("amplification", st.Amplification),
	)
	return st.Clone(), nil
}

func (s *Service) register(st *pool.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registerLocked(st)
}

func (s *Service) registerLocked(st *pool.State) error {
	eng, err := engine.New(st, s.gw, engine.Options{
		Store:     s.store,
		Logger:    s.logger,
		Observers: s.observers,
	})
	if err != nil {
		return err
	}
	s.engines[st.ID] = eng
	s.meta.Set(Meta(st))
	return nil
}

// Engine returns the engine of an activated pool.
func (s *Service) Engine(id string) (*engine.Engine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	eng, ok := s.engines[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, id)
	}
	return eng, nil
}

// Pools returns a copy of every pool state ordered by id.
func (s *Service) Pools() []*pool.State {
	s.mu.RLock()
	engines := make([]*engine.Engine, 0, len(s.engines))
	for _, eng := range s.engines {
		engines = append(engines, eng)
	}
	s.mu.RUnlock()

	out := make([]*pool.State, 0, len(engines))
	for _, eng := range engines {
		out = append(out, eng.State())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Service) Gateway() *gateway.Memory {
	return s.gw
}

// PoolMeta returns the metadata cache used by window aggregation.
func (s *Service) PoolMeta() *aggregate.PoolMetaCache {
	return s.meta
}

// SetSingleAssetDisabled flips the factory flag for a pool and persists it.
func (s *Service) SetSingleAssetDisabled(ctx context.Context, id string, disabled bool) error {
	if _, err := s.Engine(id); err != nil {
		return err
	}
	s.gw.SetSingleAssetDisabled(id, disabled)
	if err := s.snapshots.save(ctx); err != nil {
		return err
	}
	s.logger.Info("single asset operations toggled", zap.String("pool", id), zap.Bool("disabled", disabled))
	return nil
}

// Close drains the history sinks. The state store stays open.
func (s *Service) Close() error {
	var errs []error
	for _, sink := range s.sinks {
		errs = append(errs, sink.Close())
	}
	return errors.Join(errs...)
}

// HistoryWriter receives pool metadata and price histories.
// *postgres.Store implements it.
type HistoryWriter interface {
	UpsertPools(ctx context.Context, pools []model.Pool) error
	UpsertPrices(ctx context.Context, poolID string, points []model.PricePoint) error
}

// Backfill writes the metadata and full price history of every pool to w.
// It returns the number of price points written.
func (s *Service) Backfill(ctx context.Context, w HistoryWriter) (int, error) {
	pools := s.Pools()
	metas := make([]model.Pool, 0, len(pools))
	for _, st := range pools {
		metas = append(metas, Meta(st))
	}
	if err := w.UpsertPools(ctx, metas); err != nil {
		return 0, fmt.Errorf("upsert pools: %w", err)
	}
	written := 0
	for _, st := range pools {
		if err := w.UpsertPrices(ctx, st.ID, st.PriceHistory); err != nil {
			return written, fmt.Errorf("upsert prices of %s: %w", st.ID, err)
		}
		written += len(st.PriceHistory)
		s.logger.Debug("pool backfilled", zap.String("pool", st.ID), zap.Int("prices", len(st.PriceHistory)))
	}
	s.logger.Info("history backfilled", zap.Int("pools", len(pools)), zap.Int("prices", written))
	return written, nil
}

// Meta flattens pool state into the analytics row.
func Meta(st *pool.State) model.Pool {
	first := uint64(0)
	if len(st.PriceHistory) > 0 {
		first = st.PriceHistory[0].Height
	}
	return model.Pool{
		ID:              st.ID,
		AssetA:          st.AssetA.ID,
		AssetB:          st.AssetB.ID,
		DecimalsA:       st.AssetA.Decimals,
		DecimalsB:       st.AssetB.Decimals,
		ShareAsset:      st.ShareAsset,
		FeeRate:         st.FeeRate,
		FeeScale:        st.FeeScale,
		Amplification:   st.Amplification,
		FirstSeenHeight: first,
	}
}

// snapshotSaver persists gateway balances after every commit. Pools commit
// concurrently, so marshal and write happen under one lock to keep a stale
// snapshot from overwriting a newer one.
type snapshotSaver struct {
	mu     sync.Mutex
	store  *kv.Store
	gw     *gateway.Memory
	logger *zap.Logger
}

func (o *snapshotSaver) save(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	raw, err := json.Marshal(o.gw)
	if err != nil {
		return err
	}
	if err := o.store.SaveGateway(ctx, raw); err != nil {
		return fmt.Errorf("save gateway snapshot: %w", err)
	}
	return nil
}

func (o *snapshotSaver) Committed(rec model.OperationRecord) {
	if err := o.save(context.Background()); err != nil {
		o.logger.Error("persist gateway", zap.String("pool", rec.PoolID), zap.String("tx", rec.TxID), zap.Error(err))
	}
}

func (o *snapshotSaver) Failed(string, string, error) {}

type sinkObserver struct {
	sink   storage.Sink
	logger *zap.Logger
}

func (o *sinkObserver) Committed(rec model.OperationRecord) {
	if err := o.sink.PutOperations([]model.OperationRecord{rec}); err != nil {
		o.logger.Error("write operation record", zap.String("pool", rec.PoolID), zap.String("tx", rec.TxID), zap.Error(err))
	}
}

func (o *sinkObserver) Failed(string, string, error) {}
