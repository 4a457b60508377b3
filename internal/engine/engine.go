package engine

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"go.uber.org/zap"

	"poolEngine/internal/curve"
	"poolEngine/internal/gateway"
	"poolEngine/internal/model"
	"poolEngine/internal/pool"
)

// Store persists a pool after every committed operation. SaveChange writes
// the header fields of st (reserves, supply, price, kLp, config) together with
// the records of ch, which may be nil. RevertChange puts back prev and drops
// the records of ch after a failed commit.
type Store interface {
	SaveChange(ctx context.Context, st *pool.State, ch *pool.Change) error
	RevertChange(ctx context.Context, prev *pool.State, ch pool.Change) error
}

// Observer is notified after an operation commits or fails. Observers never
// affect the outcome of the operation. Committed runs in commit order with the
// pool locked, so it must return quickly and must not call into the engine.
type Observer interface {
	Committed(rec model.OperationRecord)
	Failed(poolID, op string, err error)
}

// Options configures an Engine.
type Options struct {
	Store     Store
	Logger    *zap.Logger
	Observers []Observer
}

// Result describes a committed entry operation.
type Result struct {
	PoolID    string           `json:"pool_id"`
	Op        string           `json:"op"`
	TxID      string           `json:"tx_id"`
	Shares    int64            `json:"shares"`
	AmountA   int64            `json:"amount_a"`
	AmountB   int64            `json:"amount_b"`
	Fee       int64            `json:"fee"`
	ExcessA   int64            `json:"excess_a,omitempty"`
	ExcessB   int64            `json:"excess_b,omitempty"`
	Staked    bool             `json:"staked,omitempty"`
	Price     int64            `json:"price"`
	Transfers []model.Transfer `json:"transfers"`
	Position  model.Position   `json:"position"`
}

// Engine serialises all operations on one pool.
type Engine struct {
	id        string
	mu        sync.Mutex
	st        *pool.State
	curve     curve.Curve
	gw        gateway.Gateway
	store     Store
	observers []Observer
	logger    *zap.Logger
}

// New wraps an activated pool.
func New(st *pool.State, gw gateway.Gateway, opts Options) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("engine: pool state is required")
	}
	if gw == nil {
		return nil, fmt.Errorf("engine: gateway is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		id:        st.ID,
		st:        st.Clone(),
		curve:     curve.For(st),
		gw:        gw,
		store:     opts.Store,
		observers: opts.Observers,
		logger:    logger.With(zap.String("pool", st.ID)),
	}, nil
}

// ID returns the pool id.
func (e *Engine) ID() string {
	return e.id
}

// Curve returns the resolved curve variant.
func (e *Engine) Curve() curve.Curve {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.curve
}

// State returns a copy of the current pool state.
func (e *Engine) State() *pool.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.Clone()
}

type engineKey struct{}

// enter rejects calls made from inside a gateway callback of the same engine.
func (e *Engine) enter(ctx context.Context) (context.Context, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if owner, ok := ctx.Value(engineKey{}).(*Engine); ok && owner == e {
		return nil, ErrReentrantCall
	}
	return context.WithValue(ctx, engineKey{}, e), nil
}

// stage is the body of a write operation; it mutates next and stages
// external effects on sess.
type stage func(ctx context.Context, next *pool.State, sess gateway.Session) (Result, error)

type opSpec struct {
	name   string
	tag    model.Tag
	single bool
	kind   *curve.Kind
}

func (e *Engine) run(ctx context.Context, env model.Env, desc opSpec, body stage) (res Result, err error) {
	ctx, err = e.enter(ctx)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err != nil {
			e.fail(desc.name, env, err)
		}
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	if env.TxID == "" {
		// positions only grow, so the nonce is unique per committed op
		nonce := uint64(len(e.st.Positions))
		env.TxID = model.OperationID(e.id, env.Caller, desc.name, env.Height, env.Timestamp, nonce)
	}
	if err := env.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidPayment, err)
	}
	if !e.st.Activated {
		return Result{}, ErrNotActivated
	}
	if desc.kind != nil && e.curve.Kind != *desc.kind {
		return Result{}, fmt.Errorf("%w: %s on %s pool", ErrVariantMismatch, desc.name, e.curve)
	}
	if e.st.HasPosition(env.Caller, env.TxID) {
		return Result{}, fmt.Errorf("%w: tx %s already recorded for %s", ErrInvalidPayment, env.TxID, env.Caller)
	}
	if desc.single {
		disabled, err := e.gw.IsSingleAssetDisabled(ctx, e.st.ID)
		if err != nil {
			return Result{}, external(gateway.CallDisabled, err)
		}
		if disabled {
			return Result{}, ErrSingleAssetOperationsDisabled
		}
	}
	if err := e.st.CheckDrift(); err != nil {
		return Result{}, classify(err)
	}

	next := e.st.Stage()
	sess, err := e.gw.Begin(ctx)
	if err != nil {
		return Result{}, external("begin", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = sess.Rollback(ctx)
		}
	}()

	res, err = body(ctx, next, sess)
	if err != nil {
		return Result{}, classify(err)
	}
	if err := pool.CheckMonotonic(e.st, next); err != nil {
		return Result{}, classify(err)
	}

	point := next.MarkPrice(env.Height, env.Timestamp)
	if _, err := next.RefreshKLp(env.Height); err != nil {
		return Result{}, classify(err)
	}
	res.PoolID = next.ID
	res.Op = desc.name
	res.TxID = env.TxID
	res.Price = point.Price
	res.Position = model.Position{
		Tag:       desc.tag,
		Op:        desc.name,
		User:      env.Caller,
		TxID:      env.TxID,
		AmountA:   res.AmountA,
		AmountB:   res.AmountB,
		Shares:    res.Shares,
		Fee:       res.Fee,
		Price:     point.Price,
		Height:    env.Height,
		Timestamp: env.Timestamp,
	}
	change := pool.Change{Price: point, Position: res.Position}

	if e.store != nil {
		if err := e.store.SaveChange(ctx, next, &change); err != nil {
			return Result{}, fmt.Errorf("save pool %s: %w", next.ID, err)
		}
	}
	if err := sess.Commit(ctx); err != nil {
		if e.store != nil {
			if restoreErr := e.store.RevertChange(ctx, e.st, change); restoreErr != nil {
				e.logger.Error("restore pool after failed commit", zap.Error(restoreErr))
			}
		}
		return Result{}, external(gateway.CallCommit, err)
	}
	committed = true
	next.Apply(change)
	e.st = next

	rec := record(next, res)
	e.logger.Info("operation committed",
		zap.String("op", desc.name),
		zap.String("caller", env.Caller),
		zap.String("tx", env.TxID),
		zap.Int64("shares", res.Shares),
		zap.Int64("amount_a", res.AmountA),
		zap.Int64("amount_b", res.AmountB),
		zap.Int64("fee", res.Fee),
		zap.Int64("price", res.Price),
	)
	for _, o := range e.observers {
		o.Committed(rec)
	}
	return res, nil
}

func (e *Engine) fail(op string, env model.Env, err error) {
	e.logger.Warn("operation failed",
		zap.String("op", op),
		zap.String("caller", env.Caller),
		zap.String("tx", env.TxID),
		zap.Error(err),
	)
	for _, o := range e.observers {
		o.Failed(e.id, op, err)
	}
}

func record(st *pool.State, res Result) model.OperationRecord {
	return model.OperationRecord{
		PoolID:      st.ID,
		AssetA:      st.AssetA.ID,
		AssetB:      st.AssetB.ID,
		Tag:         res.Position.Tag,
		Op:          res.Op,
		User:        res.Position.User,
		TxID:        res.TxID,
		AmountA:     res.AmountA,
		AmountB:     res.AmountB,
		Shares:      res.Shares,
		Fee:         res.Fee,
		Price:       res.Price,
		ReserveA:    st.ReserveA,
		ReserveB:    st.ReserveB,
		ShareSupply: st.ShareSupply,
		Height:      res.Position.Height,
		Timestamp:   res.Position.Timestamp,
	}
}

// RefreshKLp recomputes and persists the cached invariant per share.
func (e *Engine) RefreshKLp(ctx context.Context, env model.Env) (*big.Int, error) {
	if _, err := e.enter(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.st.Activated {
		return nil, ErrNotActivated
	}
	next := e.st.Stage()
	k, err := next.RefreshKLp(env.Height)
	if err != nil {
		return nil, classify(err)
	}
	if err := e.save(ctx, next); err != nil {
		return nil, err
	}
	e.st = next
	e.logger.Info("kLp refreshed", zap.Uint64("height", env.Height), zap.String("k_lp", k.String()))
	return k, nil
}

// SetAmplification updates the amplification of a stable pool and refreshes
// the cached kLp, which depends on it.
func (e *Engine) SetAmplification(ctx context.Context, env model.Env, amp uint64) error {
	if _, err := e.enter(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.st.Activated {
		return ErrNotActivated
	}
	if e.curve.Kind != curve.Stable {
		return fmt.Errorf("%w: amplification on %s pool", ErrVariantMismatch, e.curve)
	}
	if amp == 0 {
		return fmt.Errorf("%w: amplification must be positive", ErrInvalidPayment)
	}
	next := e.st.Stage()
	next.Amplification = amp
	if _, err := next.RefreshKLp(env.Height); err != nil {
		return classify(err)
	}
	if err := e.save(ctx, next); err != nil {
		return err
	}
	prev := e.st.Amplification
	e.st = next
	e.curve = curve.For(next)
	e.logger.Info("amplification updated", zap.Uint64("from", prev), zap.Uint64("to", amp))
	return nil
}

func (e *Engine) save(ctx context.Context, st *pool.State) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.SaveChange(ctx, st, nil); err != nil {
		return fmt.Errorf("save pool %s: %w", st.ID, err)
	}
	return nil
}
