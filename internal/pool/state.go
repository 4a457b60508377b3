package pool

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"poolEngine/internal/fixedpoint"
	"poolEngine/internal/model"
)

const (
	// DefaultFeeScale expresses fees in parts per 1e8.
	DefaultFeeScale int64 = 100_000_000
	// LegacyFeeScale expresses fees per mille.
	LegacyFeeScale int64 = 1_000
	// DefaultFeeRate is 0.1% of DefaultFeeScale.
	DefaultFeeRate int64 = 100_000
)

var (
	ErrAlreadySeeded = errors.New("pool already seeded")
	ErrNotSeeded     = errors.New("pool not seeded")
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrStateDrift    = errors.New("cached kLp above current kLp")
	ErrInvalidConfig = errors.New("invalid pool config")
)

// shareToX18 lifts share amounts (8 decimals) to 18 decimals.
var shareToX18 = fixedpoint.Pow10(fixedpoint.Scale18 - model.ShareDecimals)

// Config is the activation input of a pool.
type Config struct {
	ID            string
	AssetA        model.Asset
	AssetB        model.Asset
	ShareAsset    string
	FeeRate       int64
	FeeScale      int64
	Amplification uint64
}

// State is the full persisted state of one pool.
type State struct {
	ID                 string                    `json:"id"`
	AssetA             model.Asset               `json:"asset_a"`
	AssetB             model.Asset               `json:"asset_b"`
	ShareAsset         string                    `json:"share_asset"`
	ReserveA           int64                     `json:"reserve_a"`
	ReserveB           int64                     `json:"reserve_b"`
	ShareSupply        int64                     `json:"share_supply"`
	FeeRate            int64                     `json:"fee_rate"`
	FeeScale           int64                     `json:"fee_scale"`
	Amplification      uint64                    `json:"amplification,omitempty"`
	PriceLast          int64                     `json:"price_last"`
	PriceHistory       []model.PricePoint        `json:"price_history"`
	Positions          map[string]model.Position `json:"positions"`
	KLp                *big.Int                  `json:"k_lp"`
	KLpRefreshedHeight uint64                    `json:"k_lp_refreshed_height"`
	Activated          bool                      `json:"activated"`
}

// New activates a pool: zero reserves, fee and amplification defaults.
func New(cfg Config) (*State, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("%w: pool id is required", ErrInvalidConfig)
	}
	if err := cfg.AssetA.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.AssetB.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.AssetA.ID == cfg.AssetB.ID {
		return nil, fmt.Errorf("%w: assets must differ", ErrInvalidConfig)
	}
	if cfg.FeeScale == 0 {
		cfg.FeeScale = DefaultFeeScale
	}
	if cfg.FeeRate < 0 || cfg.FeeRate >= cfg.FeeScale {
		return nil, fmt.Errorf("%w: fee rate %d not in [0, %d)", ErrInvalidConfig, cfg.FeeRate, cfg.FeeScale)
	}
	if cfg.ShareAsset == "" {
		cfg.ShareAsset = cfg.ID + "LP"
	}

	return &State{
		ID:            cfg.ID,
		AssetA:        cfg.AssetA,
		AssetB:        cfg.AssetB,
		ShareAsset:    cfg.ShareAsset,
		FeeRate:       cfg.FeeRate,
		FeeScale:      cfg.FeeScale,
		Amplification: cfg.Amplification,
		Positions:     make(map[string]model.Position),
		KLp:           new(big.Int),
		Activated:     true,
	}, nil
}

// IsStable reports whether an amplification coefficient is configured.
func (s *State) IsStable() bool {
	return s.Amplification > 0
}

// Seeded reports whether the pool holds liquidity.
func (s *State) Seeded() bool {
	return s.ShareSupply > 0
}

// ReservesX18 returns both reserves normalised to 18 decimals.
func (s *State) ReservesX18() (*big.Int, *big.Int) {
	a, _ := fixedpoint.ToX18(s.ReserveA, s.AssetA.Decimals)
	b, _ := fixedpoint.ToX18(s.ReserveB, s.AssetB.Decimals)
	return a, b
}

// Invariant returns sqrt(rA·rB) for constant-product pools and D for stable
// pools, both at 18 decimals.
func (s *State) Invariant() (*big.Int, error) {
	return InvariantOf(s.ReserveA, s.ReserveB, s)
}

// InvariantOf evaluates the pool's invariant for arbitrary reserves.
func InvariantOf(reserveA, reserveB int64, s *State) (*big.Int, error) {
	a, err := fixedpoint.ToX18(reserveA, s.AssetA.Decimals)
	if err != nil {
		return nil, err
	}
	b, err := fixedpoint.ToX18(reserveB, s.AssetB.Decimals)
	if err != nil {
		return nil, err
	}
	if s.IsStable() {
		return fixedpoint.SolveInvariant([]*big.Int{a, b}, s.Amplification)
	}
	return fixedpoint.ISqrt(new(big.Int).Mul(a, b)), nil
}

// SharesFromX18 converts an 18-decimal invariant amount to share units (floor).
func SharesFromX18(v *big.Int) *big.Int {
	return new(big.Int).Quo(v, shareToX18)
}

// Seed sizes the first deposit. It only succeeds on an empty pool.
func (s *State) Seed(amountA, amountB int64) (int64, error) {
	if s.ShareSupply != 0 {
		return 0, ErrAlreadySeeded
	}
	if amountA <= 0 || amountB <= 0 {
		return 0, ErrInvalidAmount
	}
	inv, err := InvariantOf(amountA, amountB, s)
	if err != nil {
		return 0, err
	}
	minted := SharesFromX18(inv)
	if minted.Sign() <= 0 || !minted.IsInt64() {
		return 0, fmt.Errorf("%w: seed mints %s shares", ErrInvalidAmount, minted)
	}

	s.ReserveA = amountA
	s.ReserveB = amountB
	s.ShareSupply = minted.Int64()
	return s.ShareSupply, nil
}

// CurrentPrice derives the price of A in B at PriceScale from reserves.
func (s *State) CurrentPrice() int64 {
	if s.ReserveA <= 0 || s.ReserveB <= 0 {
		return 0
	}
	a, b := s.ReservesX18()
	price := fixedpoint.MulDiv(b, big.NewInt(model.PriceScale), a, false)
	if !price.IsInt64() {
		return 0
	}
	return price.Int64()
}

// MarkPrice sets PriceLast from the reserves and returns the history entry
// for (height, timestamp) without writing it.
func (s *State) MarkPrice(height, timestamp uint64) model.PricePoint {
	point := model.PricePoint{Height: height, Timestamp: timestamp, Price: s.CurrentPrice()}
	s.PriceLast = point.Price
	return point
}

// RecordPrice updates PriceLast and upserts the history entry for
// (height, timestamp). A second write with the same key overwrites the first.
func (s *State) RecordPrice(height, timestamp uint64) model.PricePoint {
	point := s.MarkPrice(height, timestamp)
	s.upsertPrice(point)
	return point
}

func (s *State) upsertPrice(point model.PricePoint) {
	idx := s.searchPrice(point)
	if idx < len(s.PriceHistory) && s.PriceHistory[idx].SameKey(point) {
		s.PriceHistory[idx] = point
		return
	}
	s.PriceHistory = append(s.PriceHistory, model.PricePoint{})
	copy(s.PriceHistory[idx+1:], s.PriceHistory[idx:])
	s.PriceHistory[idx] = point
}

func (s *State) searchPrice(point model.PricePoint) int {
	return sort.Search(len(s.PriceHistory), func(i int) bool {
		return !s.PriceHistory[i].Less(point)
	})
}

// PriceAt returns the history entry stored under (height, timestamp).
func (s *State) PriceAt(height, timestamp uint64) (model.PricePoint, bool) {
	key := model.PricePoint{Height: height, Timestamp: timestamp}
	idx := s.searchPrice(key)
	if idx < len(s.PriceHistory) && s.PriceHistory[idx].SameKey(key) {
		return s.PriceHistory[idx], true
	}
	return model.PricePoint{}, false
}

// CurrentKLp returns the invariant per share unit, scaled by 1e18.
func (s *State) CurrentKLp() (*big.Int, error) {
	if s.ShareSupply == 0 {
		return new(big.Int), nil
	}
	inv, err := s.Invariant()
	if err != nil {
		return nil, err
	}
	supply := new(big.Int).Mul(big.NewInt(s.ShareSupply), shareToX18)
	return fixedpoint.MulDiv(inv, fixedpoint.Pow10(fixedpoint.Scale18), supply, false), nil
}

// RefreshKLp recomputes and caches kLp at the given height.
func (s *State) RefreshKLp(height uint64) (*big.Int, error) {
	k, err := s.CurrentKLp()
	if err != nil {
		return nil, err
	}
	s.KLp = k
	s.KLpRefreshedHeight = height
	return new(big.Int).Set(k), nil
}

// CheckDrift fails when reserves moved below the cached kLp.
func (s *State) CheckDrift() error {
	if s.KLp == nil || s.KLp.Sign() == 0 || s.ShareSupply == 0 {
		return nil
	}
	current, err := s.CurrentKLp()
	if err != nil {
		return err
	}
	// stable D carries one unit of solver noise
	tolerance := big.NewInt(0)
	if s.IsStable() {
		tolerance = big.NewInt(1)
	}
	if new(big.Int).Sub(s.KLp, current).Cmp(tolerance) > 0 {
		return fmt.Errorf("%w: cached %s current %s", ErrStateDrift, s.KLp, current)
	}
	return nil
}

// HasPosition reports whether a record exists for (user, txID).
func (s *State) HasPosition(user, txID string) bool {
	_, ok := s.Positions[model.PositionKey(user, txID)]
	return ok
}

// AddPosition stores an immutable position record.
func (s *State) AddPosition(p model.Position) {
	if s.Positions == nil {
		s.Positions = make(map[string]model.Position)
	}
	s.Positions[p.Key()] = p
}

// PositionKeys returns the record keys in ascending order.
func (s *State) PositionKeys() []string {
	keys := make([]string, 0, len(s.Positions))
	for k := range s.Positions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AssetIndex maps an asset id to 0 (A) or 1 (B).
func (s *State) AssetIndex(assetID string) (int, bool) {
	switch assetID {
	case s.AssetA.ID:
		return 0, true
	case s.AssetB.ID:
		return 1, true
	default:
		return -1, false
	}
}

// Reserve returns the reserve and asset at index 0 or 1.
func (s *State) Reserve(index int) (int64, model.Asset) {
	if index == 0 {
		return s.ReserveA, s.AssetA
	}
	return s.ReserveB, s.AssetB
}

// AddReserve adjusts the reserve at index by delta.
func (s *State) AddReserve(index int, delta int64) {
	if index == 0 {
		s.ReserveA += delta
		return
	}
	s.ReserveB += delta
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := s.Stage()
	c.PriceHistory = append([]model.PricePoint(nil), s.PriceHistory...)
	c.Positions = make(map[string]model.Position, len(s.Positions))
	for k, v := range s.Positions {
		c.Positions[k] = v
	}
	return c
}

// Stage returns a copy for staging one operation. Reserves, supply, price
// and kLp are copied; PriceHistory and Positions are shared with s and must
// not be written through the copy. The records an operation adds travel as
// a Change and are applied once it commits.
func (s *State) Stage() *State {
	c := *s
	if s.KLp != nil {
		c.KLp = new(big.Int).Set(s.KLp)
	} else {
		c.KLp = new(big.Int)
	}
	return &c
}

// Change is what an operation appends to the pool history.
type Change struct {
	Price    model.PricePoint
	Position model.Position
}

// Apply writes the records of a committed change. On a staged copy the
// positions land in the map shared with the original.
func (s *State) Apply(ch Change) {
	s.upsertPrice(ch.Price)
	s.AddPosition(ch.Position)
}

// CheckShape verifies the supply/reserve emptiness invariant.
func (s *State) CheckShape() error {
	empty := s.ReserveA == 0 && s.ReserveB == 0
	if (s.ShareSupply == 0) != empty {
		return fmt.Errorf("supply %d with reserves %d/%d", s.ShareSupply, s.ReserveA, s.ReserveB)
	}
	if s.ShareSupply < 0 || s.ReserveA < 0 || s.ReserveB < 0 {
		return fmt.Errorf("negative balance: supply %d reserves %d/%d", s.ShareSupply, s.ReserveA, s.ReserveB)
	}
	if !empty && (s.ReserveA == 0 || s.ReserveB == 0) {
		return fmt.Errorf("one-sided reserves %d/%d", s.ReserveA, s.ReserveB)
	}
	return nil
}
