package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/cockroachdb/pebble"

	"poolEngine/internal/model"
	"poolEngine/internal/pool"
)

var (
	ErrDBClosed     = errors.New("state store is closed")
	ErrPoolNotFound = errors.New("pool not found")
	ErrInvalidID    = errors.New("invalid pool id")
)

const (
	sep         = "__"
	gatewayKey  = "gateway" + sep + "snapshot"
	keyConfig   = "config"
	keyReserves = "reserves"
	keySupply   = "shareSupply"
	keyPrice    = "price" + sep + "last"
	keyHistory  = "price" + sep + "history" + sep
	keyPosition = "position" + sep
	keyKLp      = "kLp"
	keyKLpAt    = "kLpRefreshedHeight"
)

type poolConfig struct {
	AssetA        model.Asset `json:"asset_a"`
	AssetB        model.Asset `json:"asset_b"`
	ShareAsset    string      `json:"share_asset"`
	FeeRate       int64       `json:"fee_rate"`
	FeeScale      int64       `json:"fee_scale"`
	Amplification uint64      `json:"amplification"`
	Activated     bool        `json:"activated"`
}

type reserves struct {
	A int64 `json:"a"`
	B int64 `json:"b"`
}

// Store keeps pool state as flat keys in pebble.
type Store struct {
	db *pebble.DB
}

// Open opens or creates the store in dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open state store %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// ValidateID rejects ids that would collide with the key layout.
func ValidateID(id string) error {
	if id == "" || strings.Contains(id, sep) || strings.HasSuffix(id, "_") || id == "gateway" {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// SavePool replaces every key of the pool in one atomic batch.
func (s *Store) SavePool(ctx context.Context, st *pool.State) error {
	if err := s.check(ctx, st.ID); err != nil {
		return err
	}
	prefix := []byte(st.ID + sep)

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.DeleteRange(prefix, upperBound(prefix), nil); err != nil {
		return fmt.Errorf("clear pool %s: %w", st.ID, err)
	}
	w := poolWriter{batch: batch, id: st.ID}
	if err := w.header(st); err != nil {
		return err
	}
	for _, p := range st.PriceHistory {
		if err := w.price(p); err != nil {
			return err
		}
	}
	for _, key := range st.PositionKeys() {
		if err := w.position(st.Positions[key]); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// SaveChange writes the header keys of st and, when ch is set, its price
// and position records. Other history keys are left untouched.
func (s *Store) SaveChange(ctx context.Context, st *pool.State, ch *pool.Change) error {
	if err := s.check(ctx, st.ID); err != nil {
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()

	w := poolWriter{batch: batch, id: st.ID}
	if err := w.header(st); err != nil {
		return err
	}
	if ch != nil {
		if err := w.price(ch.Price); err != nil {
			return err
		}
		if err := w.position(ch.Position); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// RevertChange restores the header keys of prev and undoes the records of
// ch: the position is deleted and the price entry takes its value from prev.
func (s *Store) RevertChange(ctx context.Context, prev *pool.State, ch pool.Change) error {
	if err := s.check(ctx, prev.ID); err != nil {
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()

	w := poolWriter{batch: batch, id: prev.ID}
	if err := w.header(prev); err != nil {
		return err
	}
	if old, ok := prev.PriceAt(ch.Price.Height, ch.Price.Timestamp); ok {
		if err := w.price(old); err != nil {
			return err
		}
	} else if err := w.delete(historySuffix(ch.Price.Height, ch.Price.Timestamp)); err != nil {
		return err
	}
	if err := w.delete(positionSuffix(ch.Position)); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (s *Store) check(ctx context.Context, id string) error {
	if s.db == nil {
		return ErrDBClosed
	}
	if err := ValidateID(id); err != nil {
		return err
	}
	return ctx.Err()
}

// poolWriter stages the keys of one pool on a batch.
type poolWriter struct {
	batch *pebble.Batch
	id    string
}

func (w poolWriter) key(suffix string) []byte {
	return []byte(w.id + sep + suffix)
}

func (w poolWriter) set(suffix string, value []byte) error {
	return w.batch.Set(w.key(suffix), value, nil)
}

func (w poolWriter) delete(suffix string) error {
	return w.batch.Delete(w.key(suffix), nil)
}

func (w poolWriter) setJSON(suffix string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", suffix, err)
	}
	return w.set(suffix, raw)
}

func (w poolWriter) setInt(suffix string, v int64) error {
	return w.set(suffix, []byte(strconv.FormatInt(v, 10)))
}

// header writes every key that is not part of the append-only history.
func (w poolWriter) header(st *pool.State) error {
	cfg := poolConfig{
		AssetA:        st.AssetA,
		AssetB:        st.AssetB,
		ShareAsset:    st.ShareAsset,
		FeeRate:       st.FeeRate,
		FeeScale:      st.FeeScale,
		Amplification: st.Amplification,
		Activated:     st.Activated,
	}
	if err := w.setJSON(keyConfig, cfg); err != nil {
		return err
	}
	if err := w.setJSON(keyReserves, reserves{A: st.ReserveA, B: st.ReserveB}); err != nil {
		return err
	}
	if err := w.setInt(keySupply, st.ShareSupply); err != nil {
		return err
	}
	if err := w.setInt(keyPrice, st.PriceLast); err != nil {
		return err
	}
	klp := "0"
	if st.KLp != nil {
		klp = st.KLp.String()
	}
	if err := w.set(keyKLp, []byte(klp)); err != nil {
		return err
	}
	return w.set(keyKLpAt, []byte(strconv.FormatUint(st.KLpRefreshedHeight, 10)))
}

func (w poolWriter) price(p model.PricePoint) error {
	return w.setInt(historySuffix(p.Height, p.Timestamp), p.Price)
}

func (w poolWriter) position(p model.Position) error {
	return w.setJSON(positionSuffix(p), p)
}

func positionSuffix(p model.Position) string {
	return keyPosition + p.Key()
}

// LoadPool rebuilds a pool from its keys.
func (s *Store) LoadPool(ctx context.Context, id string) (*pool.State, error) {
	if s.db == nil {
		return nil, ErrDBClosed
	}
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	prefix := []byte(id + sep)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	st := &pool.State{ID: id, Positions: make(map[string]model.Position), KLp: new(big.Int)}
	found := false
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		suffix := string(iter.Key()[len(prefix):])
		value := iter.Value()
		if err := decodeKey(st, suffix, value); err != nil {
			return nil, fmt.Errorf("pool %s key %s: %w", id, suffix, err)
		}
		if suffix == keyConfig {
			found = true
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, id)
	}
	return st, nil
}

func decodeKey(st *pool.State, suffix string, value []byte) error {
	switch {
	case suffix == keyConfig:
		var cfg poolConfig
		if err := json.Unmarshal(value, &cfg); err != nil {
			return err
		}
		st.AssetA = cfg.AssetA
		st.AssetB = cfg.AssetB
		st.ShareAsset = cfg.ShareAsset
		st.FeeRate = cfg.FeeRate
		st.FeeScale = cfg.FeeScale
		st.Amplification = cfg.Amplification
		st.Activated = cfg.Activated
	case suffix == keyReserves:
		var r reserves
		if err := json.Unmarshal(value, &r); err != nil {
			return err
		}
		st.ReserveA, st.ReserveB = r.A, r.B
	case suffix == keySupply:
		v, err := strconv.ParseInt(string(value), 10, 64)
		if err != nil {
			return err
		}
		st.ShareSupply = v
	case suffix == keyPrice:
		v, err := strconv.ParseInt(string(value), 10, 64)
		if err != nil {
			return err
		}
		st.PriceLast = v
	case strings.HasPrefix(suffix, keyHistory):
		height, ts, err := parseHistorySuffix(suffix)
		if err != nil {
			return err
		}
		price, err := strconv.ParseInt(string(value), 10, 64)
		if err != nil {
			return err
		}
		// keys iterate in (height, timestamp) order
		st.PriceHistory = append(st.PriceHistory, model.PricePoint{Height: height, Timestamp: ts, Price: price})
	case strings.HasPrefix(suffix, keyPosition):
		var p model.Position
		if err := json.Unmarshal(value, &p); err != nil {
			return err
		}
		st.Positions[p.Key()] = p
	case suffix == keyKLp:
		if _, ok := st.KLp.SetString(string(value), 10); !ok {
			return fmt.Errorf("invalid kLp %q", value)
		}
	case suffix == keyKLpAt:
		v, err := strconv.ParseUint(string(value), 10, 64)
		if err != nil {
			return err
		}
		st.KLpRefreshedHeight = v
	}
	return nil
}

// ListPools returns the ids of every stored pool in key order.
func (s *Store) ListPools(ctx context.Context) ([]string, error) {
	if s.db == nil {
		return nil, ErrDBClosed
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var ids []string
	suffix := sep + keyConfig
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := string(iter.Key())
		if id, ok := strings.CutSuffix(key, suffix); ok && !strings.Contains(id, sep) {
			ids = append(ids, id)
		}
	}
	return ids, iter.Error()
}

// SaveGateway stores the gateway snapshot.
func (s *Store) SaveGateway(ctx context.Context, snapshot []byte) error {
	if s.db == nil {
		return ErrDBClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Set([]byte(gatewayKey), snapshot, pebble.Sync)
}

// LoadGateway returns the gateway snapshot, or nil when none was saved.
func (s *Store) LoadGateway(ctx context.Context) ([]byte, error) {
	if s.db == nil {
		return nil, ErrDBClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	val, closer, err := s.db.Get([]byte(gatewayKey))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	defer closer.Close()

	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func historySuffix(height, ts uint64) string {
	return fmt.Sprintf("%s%020d%s%020d", keyHistory, height, sep, ts)
}

func parseHistorySuffix(suffix string) (uint64, uint64, error) {
	rest := strings.TrimPrefix(suffix, keyHistory)
	h, t, ok := strings.Cut(rest, sep)
	if !ok {
		return 0, 0, fmt.Errorf("malformed history key %q", suffix)
	}
	height, err := strconv.ParseUint(h, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	ts, err := strconv.ParseUint(t, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return height, ts, nil
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
