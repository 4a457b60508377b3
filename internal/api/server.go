package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"poolEngine/internal/curve"
	"poolEngine/internal/engine"
	"poolEngine/internal/model"
	"poolEngine/internal/pool"
	"poolEngine/internal/service"
)

// Server provides the HTTP API over a pool service.
type Server struct {
	svc    *service.Service
	logger *zap.Logger
	router *mux.Router
	http   *http.Server
}

// NewServer wires the routes. gatherer and hub may be nil.
func NewServer(svc *service.Service, hub *Hub, gatherer prometheus.Gatherer, addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{svc: svc, logger: logger}

	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// Pool endpoints
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/pools", s.handleGetPools).Methods(http.MethodGet)
	api.HandleFunc("/pools/{id}", s.handleGetPool).Methods(http.MethodGet)
	api.HandleFunc("/pools/{id}/prices", s.handleGetPrices).Methods(http.MethodGet)
	api.HandleFunc("/pools/{id}/positions", s.handleGetPositions).Methods(http.MethodGet)

	// Quotes
	api.HandleFunc("/pools/{id}/quote/put", s.handleQuotePut).Methods(http.MethodPost)
	api.HandleFunc("/pools/{id}/quote/get", s.handleQuoteGet).Methods(http.MethodPost)
	api.HandleFunc("/pools/{id}/quote/put-one", s.handleQuotePutOne).Methods(http.MethodPost)
	api.HandleFunc("/pools/{id}/quote/get-one", s.handleQuoteGetOne).Methods(http.MethodPost)

	// Operations
	api.HandleFunc("/pools/{id}/put", s.handlePut).Methods(http.MethodPost)
	api.HandleFunc("/pools/{id}/get", s.handleGet).Methods(http.MethodPost)
	api.HandleFunc("/pools/{id}/put-one", s.handlePutOne).Methods(http.MethodPost)
	api.HandleFunc("/pools/{id}/get-one", s.handleGetOne).Methods(http.MethodPost)

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	if hub != nil {
		r.Handle("/ws/prices", hub)
	}

	s.router = r
	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("api listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// PoolView is the API representation of a pool.
type PoolView struct {
	ID                 string      `json:"id"`
	Curve              string      `json:"curve"`
	AssetA             model.Asset `json:"asset_a"`
	AssetB             model.Asset `json:"asset_b"`
	ShareAsset         string      `json:"share_asset"`
	ReserveA           int64       `json:"reserve_a"`
	ReserveB           int64       `json:"reserve_b"`
	ShareSupply        int64       `json:"share_supply"`
	FeeRate            int64       `json:"fee_rate"`
	FeeScale           int64       `json:"fee_scale"`
	Amplification      uint64      `json:"amplification,omitempty"`
	PriceLast          int64       `json:"price_last"`
	KLp                string      `json:"k_lp"`
	KLpRefreshedHeight uint64      `json:"k_lp_refreshed_height"`
	Positions          int         `json:"positions"`
}

func viewOf(st *pool.State) PoolView {
	klp := "0"
	if st.KLp != nil {
		klp = st.KLp.String()
	}
	return PoolView{
		ID:                 st.ID,
		Curve:              curve.For(st).String(),
		AssetA:             st.AssetA,
		AssetB:             st.AssetB,
		ShareAsset:         st.ShareAsset,
		ReserveA:           st.ReserveA,
		ReserveB:           st.ReserveB,
		ShareSupply:        st.ShareSupply,
		FeeRate:            st.FeeRate,
		FeeScale:           st.FeeScale,
		Amplification:      st.Amplification,
		PriceLast:          st.PriceLast,
		KLp:                klp,
		KLpRefreshedHeight: st.KLpRefreshedHeight,
		Positions:          len(st.Positions),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"pools":  len(s.svc.Pools()),
	})
}

func (s *Server) handleGetPools(w http.ResponseWriter, r *http.Request) {
	pools := s.svc.Pools()
	out := make([]PoolView, 0, len(pools))
	for _, st := range pools {
		out = append(out, viewOf(st))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(eng.State()))
}

// handleGetPrices returns price history, optionally bounded by from/to heights.
func (s *Server) handleGetPrices(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}
	from, err := queryUint(r, "from", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := queryUint(r, "to", ^uint64(0))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	points := make([]model.PricePoint, 0)
	for _, p := range eng.State().PriceHistory {
		if p.Height >= from && p.Height <= to {
			points = append(points, p)
		}
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}
	st := eng.State()
	user := r.URL.Query().Get("user")
	out := make([]model.Position, 0, len(st.Positions))
	for _, key := range st.PositionKeys() {
		p := st.Positions[key]
		if user != "" && p.User != user {
			continue
		}
		out = append(out, p)
	}
	writeJSON(w, http.StatusOK, out)
}

type quotePutRequest struct {
	AmountA             int64 `json:"amount_a"`
	AmountB             int64 `json:"amount_b"`
	SlippageToleranceBp int64 `json:"slippage_tolerance_bp"`
}

type quoteGetRequest struct {
	Shares int64 `json:"shares"`
}

type quotePutOneRequest struct {
	AssetIn string `json:"asset_in"`
	Amount  int64  `json:"amount"`
	// TakeFee defaults to true.
	TakeFee *bool `json:"take_fee,omitempty"`
}

type quoteGetOneRequest struct {
	AssetOut string `json:"asset_out"`
	Shares   int64  `json:"shares"`
}

func (s *Server) handleQuotePut(w http.ResponseWriter, r *http.Request) {
	var req quotePutRequest
	eng, ok := s.prepare(w, r, &req)
	if !ok {
		return
	}
	q, err := eng.EstimatePut(r.Context(), req.AmountA, req.AmountB, req.SlippageToleranceBp)
	s.respond(w, q, err)
}

func (s *Server) handleQuoteGet(w http.ResponseWriter, r *http.Request) {
	var req quoteGetRequest
	eng, ok := s.prepare(w, r, &req)
	if !ok {
		return
	}
	q, err := eng.EstimateGet(r.Context(), req.Shares)
	s.respond(w, q, err)
}

func (s *Server) handleQuotePutOne(w http.ResponseWriter, r *http.Request) {
	var req quotePutOneRequest
	eng, ok := s.prepare(w, r, &req)
	if !ok {
		return
	}
	takeFee := req.TakeFee == nil || *req.TakeFee
	q, err := eng.QuotePutOne(r.Context(), req.AssetIn, req.Amount, takeFee)
	s.respond(w, q, err)
}

func (s *Server) handleQuoteGetOne(w http.ResponseWriter, r *http.Request) {
	var req quoteGetOneRequest
	eng, ok := s.prepare(w, r, &req)
	if !ok {
		return
	}
	q, err := eng.QuoteGetOne(r.Context(), req.AssetOut, req.Shares)
	s.respond(w, q, err)
}

type opRequest struct {
	Env      model.Env       `json:"env"`
	Payments []model.Payment `json:"payments"`
}

type putRequest struct {
	opRequest
	MinSharesOut        int64 `json:"min_shares_out"`
	SlippageToleranceBp int64 `json:"slippage_tolerance_bp"`
	AutoStake           bool  `json:"auto_stake"`
}

type getRequest struct {
	opRequest
	MinAmountA int64 `json:"min_amount_a"`
	MinAmountB int64 `json:"min_amount_b"`
}

type putOneRequest struct {
	opRequest
	MinSharesOut int64 `json:"min_shares_out"`
	AutoStake    bool  `json:"auto_stake"`
}

type getOneRequest struct {
	opRequest
	AssetOut     string `json:"asset_out"`
	MinAmountOut int64  `json:"min_amount_out"`
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	var req putRequest
	eng, ok := s.prepare(w, r, &req)
	if !ok {
		return
	}
	res, err := eng.Put(r.Context(), req.Env, req.Payments, engine.PutParams{
		MinSharesOut:        req.MinSharesOut,
		SlippageToleranceBp: req.SlippageToleranceBp,
		AutoStake:           req.AutoStake,
	})
	s.respond(w, res, err)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	var req getRequest
	eng, ok := s.prepare(w, r, &req)
	if !ok {
		return
	}
	res, err := eng.Get(r.Context(), req.Env, req.Payments, engine.GetParams{
		MinAmountA: req.MinAmountA,
		MinAmountB: req.MinAmountB,
	})
	s.respond(w, res, err)
}

// handlePutOne routes to the single-asset deposit of the pool's curve.
func (s *Server) handlePutOne(w http.ResponseWriter, r *http.Request) {
	var req putOneRequest
	eng, ok := s.prepare(w, r, &req)
	if !ok {
		return
	}
	put := eng.PutOneTkn
	if eng.Curve().Kind == curve.Stable {
		put = eng.PutOneTknV2
	}
	res, err := put(r.Context(), req.Env, req.Payments, engine.PutOneParams{
		MinSharesOut: req.MinSharesOut,
		AutoStake:    req.AutoStake,
	})
	s.respond(w, res, err)
}

func (s *Server) handleGetOne(w http.ResponseWriter, r *http.Request) {
	var req getOneRequest
	eng, ok := s.prepare(w, r, &req)
	if !ok {
		return
	}
	get := eng.GetOneTkn
	if eng.Curve().Kind == curve.Stable {
		get = eng.GetOneTknV2
	}
	res, err := get(r.Context(), req.Env, req.Payments, engine.GetOneParams{
		AssetOut:     req.AssetOut,
		MinAmountOut: req.MinAmountOut,
	})
	s.respond(w, res, err)
}

func (s *Server) engine(w http.ResponseWriter, r *http.Request) (*engine.Engine, bool) {
	eng, err := s.svc.Engine(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return nil, false
	}
	return eng, true
}

// prepare resolves the pool and decodes the request body into req.
func (s *Server) prepare(w http.ResponseWriter, r *http.Request, req any) (*engine.Engine, bool) {
	eng, ok := s.engine(w, r)
	if !ok {
		return nil, false
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return nil, false
	}
	return eng, true
}

func (s *Server) respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// statusOf maps engine failures onto HTTP status codes.
func statusOf(err error) int {
	switch engine.Reason(err) {
	case "invalid_payment", "variant_mismatch", "not_seeded", "already_seeded":
		return http.StatusBadRequest
	case "slippage", "below_min_out", "disabled", "invariant", "reentrant", "not_activated":
		return http.StatusConflict
	case "external":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	reason := engine.Reason(err)
	if errors.Is(err, service.ErrUnknownPool) {
		reason = "unknown_pool"
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Reason: reason})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryUint(r *http.Request, key string, def uint64) (uint64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
