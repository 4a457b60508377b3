package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Hook observes every session call before it is staged. A non-nil error
// fails the call.
type Hook func(ctx context.Context, call string) error

// Memory is an in-process Gateway. Balances are keyed by pool or asset id.
type Memory struct {
	mu       sync.Mutex
	disabled map[string]bool
	shares   map[string]int64
	staked   map[string]map[string]int64
	escrow   map[string]int64
	fees     map[string]int64
	failOn   map[string]error
	hook     Hook
}

// NewMemory returns an empty gateway.
func NewMemory() *Memory {
	return &Memory{
		disabled: make(map[string]bool),
		shares:   make(map[string]int64),
		staked:   make(map[string]map[string]int64),
		escrow:   make(map[string]int64),
		fees:     make(map[string]int64),
		failOn:   make(map[string]error),
	}
}

// SetSingleAssetDisabled toggles the factory flag for a pool.
func (m *Memory) SetSingleAssetDisabled(poolID string, disabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if disabled {
		m.disabled[poolID] = true
		return
	}
	delete(m.disabled, poolID)
}

// FailOn makes every future call named call return err. A nil err clears it.
func (m *Memory) FailOn(call string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failOn, call)
		return
	}
	m.failOn[call] = err
}

// SetHook installs h; nil removes it.
func (m *Memory) SetHook(h Hook) {
	m.mu.Lock()
	m.hook = h
	m.mu.Unlock()
}

// IsSingleAssetDisabled implements Gateway.
func (m *Memory) IsSingleAssetDisabled(ctx context.Context, poolID string) (bool, error) {
	if err := m.check(ctx, CallDisabled); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disabled[poolID], nil
}

// Begin implements Gateway.
func (m *Memory) Begin(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memorySession{m: m}, nil
}

// Shares returns the committed share supply minted for a pool.
func (m *Memory) Shares(poolID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shares[poolID]
}

// Staked returns the committed stake of user in a pool.
func (m *Memory) Staked(poolID, user string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.staked[poolID][user]
}

// Escrow returns the committed slippage escrow balance of an asset.
func (m *Memory) Escrow(assetID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.escrow[assetID]
}

// Fees returns the committed collected fees of an asset.
func (m *Memory) Fees(assetID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fees[assetID]
}

// check runs failure injection and the hook outside the lock so a hook may
// call back into the gateway.
func (m *Memory) check(ctx context.Context, call string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	injected := m.failOn[call]
	hook := m.hook
	m.mu.Unlock()
	if injected != nil {
		return fmt.Errorf("%s: %w", call, injected)
	}
	if hook != nil {
		if err := hook(ctx, call); err != nil {
			return fmt.Errorf("%s: %w", call, err)
		}
	}
	return nil
}

type stagedOp struct {
	call   string
	key    string
	user   string
	amount int64
}

type memorySession struct {
	m      *Memory
	ops    []stagedOp
	closed bool
}

func (s *memorySession) stage(ctx context.Context, op stagedOp) error {
	if s.closed {
		return ErrSessionClosed
	}
	if op.amount <= 0 {
		return fmt.Errorf("%s %d: %w", op.call, op.amount, ErrInvalidAmount)
	}
	if err := s.m.check(ctx, op.call); err != nil {
		return err
	}
	s.ops = append(s.ops, op)
	return nil
}

func (s *memorySession) MintShare(ctx context.Context, poolID string, amount int64) error {
	return s.stage(ctx, stagedOp{call: CallMintShare, key: poolID, amount: amount})
}

func (s *memorySession) BurnShare(ctx context.Context, poolID string, amount int64) error {
	if !s.closed {
		s.m.mu.Lock()
		outstanding := s.m.shares[poolID]
		s.m.mu.Unlock()
		for _, op := range s.ops {
			if op.key != poolID {
				continue
			}
			switch op.call {
			case CallMintShare:
				outstanding += op.amount
			case CallBurnShare:
				outstanding -= op.amount
			}
		}
		if amount > outstanding {
			return fmt.Errorf("burn %d of %d: %w", amount, outstanding, ErrInsufficientShare)
		}
	}
	return s.stage(ctx, stagedOp{call: CallBurnShare, key: poolID, amount: amount})
}

func (s *memorySession) Stake(ctx context.Context, poolID string, amount int64, onBehalfOf string) error {
	return s.stage(ctx, stagedOp{call: CallStake, key: poolID, user: onBehalfOf, amount: amount})
}

func (s *memorySession) DepositSlippage(ctx context.Context, assetID string, amount int64) error {
	return s.stage(ctx, stagedOp{call: CallDepositSlippage, key: assetID, amount: amount})
}

func (s *memorySession) CollectFee(ctx context.Context, assetID string, amount int64) error {
	return s.stage(ctx, stagedOp{call: CallCollectFee, key: assetID, amount: amount})
}

func (s *memorySession) Commit(ctx context.Context) error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := s.m.check(ctx, CallCommit); err != nil {
		return err
	}
	s.closed = true

	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, op := range s.ops {
		switch op.call {
		case CallMintShare:
			s.m.shares[op.key] += op.amount
		case CallBurnShare:
			s.m.shares[op.key] -= op.amount
		case CallStake:
			users := s.m.staked[op.key]
			if users == nil {
				users = make(map[string]int64)
				s.m.staked[op.key] = users
			}
			users[op.user] += op.amount
		case CallDepositSlippage:
			s.m.escrow[op.key] += op.amount
		case CallCollectFee:
			s.m.fees[op.key] += op.amount
		}
	}
	s.ops = nil
	return nil
}

func (s *memorySession) Rollback(context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.ops = nil
	return nil
}

// Snapshot is the persisted form of a Memory gateway.
type Snapshot struct {
	Disabled []string                    `json:"disabled"`
	Shares   map[string]int64            `json:"shares"`
	Staked   map[string]map[string]int64 `json:"staked"`
	Escrow   map[string]int64            `json:"escrow"`
	Fees     map[string]int64            `json:"fees"`
}

// MarshalJSON encodes the committed balances and flags.
func (m *Memory) MarshalJSON() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{
		Disabled: make([]string, 0, len(m.disabled)),
		Shares:   m.shares,
		Staked:   m.staked,
		Escrow:   m.escrow,
		Fees:     m.fees,
	}
	for id := range m.disabled {
		snap.Disabled = append(snap.Disabled, id)
	}
	sort.Strings(snap.Disabled)
	return json.Marshal(snap)
}

// UnmarshalJSON replaces the committed balances and flags.
func (m *Memory) UnmarshalJSON(data []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode gateway snapshot: %w", err)
	}
	fresh := NewMemory()
	for _, id := range snap.Disabled {
		fresh.disabled[id] = true
	}
	for k, v := range snap.Shares {
		fresh.shares[k] = v
	}
	for pool, users := range snap.Staked {
		cp := make(map[string]int64, len(users))
		for u, v := range users {
			cp[u] = v
		}
		fresh.staked[pool] = cp
	}
	for k, v := range snap.Escrow {
		fresh.escrow[k] = v
	}
	for k, v := range snap.Fees {
		fresh.fees[k] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled = fresh.disabled
	m.shares = fresh.shares
	m.staked = fresh.staked
	m.escrow = fresh.escrow
	m.fees = fresh.fees
	if m.failOn == nil {
		m.failOn = make(map[string]error)
	}
	return nil
}
