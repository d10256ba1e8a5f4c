// Package server exposes the liquidation operations over HTTP/JSON.
// Callers need synchronous results and the error taxonomy, so every
// operation maps to one request/response pair; authorization for the
// admin surface is a bearer-token check here, not in the controller.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"AuctionLedger/internal/auction"
	"AuctionLedger/internal/liquidation"
	"AuctionLedger/internal/observability"
	"AuctionLedger/internal/position"
	"AuctionLedger/internal/query"
	"AuctionLedger/internal/token"
)

// Server routes the HTTP/JSON API.
type Server struct {
	ctrl       *liquidation.Controller
	queries    *query.Service
	adminToken string
	log        zerolog.Logger
	metrics    *observability.Metrics
}

func New(ctrl *liquidation.Controller, queries *query.Service, adminToken string, log zerolog.Logger, metrics *observability.Metrics) *Server {
	return &Server{
		ctrl:       ctrl,
		queries:    queries,
		adminToken: adminToken,
		log:        log,
		metrics:    metrics,
	}
}

// Handler builds the API mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/vaults/{id}/auction", s.instrument("start_auction", s.handleStartAuction))
	mux.HandleFunc("POST /v1/vaults/{id}/buy", s.instrument("buy", s.handleBuy))
	mux.HandleFunc("POST /v1/vaults/{id}/payall", s.instrument("payall", s.handlePayAll))
	mux.HandleFunc("GET /v1/vaults/{id}/auction", s.instrument("get_auction", s.handleGetAuction))
	mux.HandleFunc("GET /v1/vaults/{id}/price", s.instrument("get_price", s.handleGetPrice))
	mux.HandleFunc("GET /v1/vaults/{id}/events", s.instrument("get_events", s.handleGetEvents))

	mux.HandleFunc("GET /v1/auctions", s.instrument("list_auctions", s.handleListAuctions))
	mux.HandleFunc("GET /v1/params", s.instrument("get_params", s.handleGetParams))
	mux.HandleFunc("PUT /v1/params/duration", s.instrument("set_duration", s.admin(s.handleSetDuration)))
	mux.HandleFunc("PUT /v1/params/initial-offer", s.instrument("set_initial_offer", s.admin(s.handleSetInitialOffer)))
	mux.HandleFunc("PUT /v1/params/dust", s.instrument("set_dust", s.admin(s.handleSetDust)))
	mux.HandleFunc("GET /v1/integrity", s.instrument("integrity", s.handleIntegrity))

	return mux
}

// --- request/response shapes ---

type buyRequest struct {
	Buyer string `json:"buyer"`
	Base  int64  `json:"base"`
	Min   int64  `json:"min"`
}

type payAllRequest struct {
	Buyer string `json:"buyer"`
	Min   int64  `json:"min"`
}

type buyResponse struct {
	Vault  string `json:"vault"`
	InkOut int64  `json:"ink_out"`
}

type auctionResponse struct {
	Vault string `json:"vault"`
	Owner string `json:"owner"`
	Start uint32 `json:"start"`
}

type priceResponse struct {
	Vault string `json:"vault"`
	Price string `json:"price"` // WAD-scaled decimal string
}

type paramsResponse struct {
	Duration     uint32 `json:"duration"`
	InitialOffer int64  `json:"initial_offer"`
	Dust         int64  `json:"dust"`
}

type paramRequest struct {
	Duration     *uint32 `json:"duration,omitempty"`
	InitialOffer *int64  `json:"initial_offer,omitempty"`
	Dust         *int64  `json:"dust,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- handlers ---

func (s *Server) handleStartAuction(w http.ResponseWriter, r *http.Request) {
	vaultID := r.PathValue("id")
	auc, err := s.ctrl.StartAuction(r.Context(), vaultID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, auctionResponse{Vault: auc.VaultID, Owner: auc.Owner, Start: auc.Start})
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	vaultID := r.PathValue("id")
	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Buyer == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	inkOut, err := s.ctrl.Buy(r.Context(), vaultID, req.Buyer, req.Base, req.Min)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, buyResponse{Vault: vaultID, InkOut: inkOut})
}

func (s *Server) handlePayAll(w http.ResponseWriter, r *http.Request) {
	vaultID := r.PathValue("id")
	var req payAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Buyer == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	inkOut, err := s.ctrl.PayAll(r.Context(), vaultID, req.Buyer, req.Min)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, buyResponse{Vault: vaultID, InkOut: inkOut})
}

func (s *Server) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	vaultID := r.PathValue("id")

	if auc, open := s.ctrl.Auction(vaultID); open {
		s.writeJSON(w, http.StatusOK, auctionResponse{Vault: auc.VaultID, Owner: auc.Owner, Start: auc.Start})
		return
	}

	// The projection also answers for closed auctions.
	if s.queries != nil {
		rec, err := s.queries.GetAuction(r.Context(), vaultID)
		if err == nil {
			s.writeJSON(w, http.StatusOK, rec)
			return
		}
		if !errors.Is(err, query.ErrNotFound) && !errors.Is(err, context.Canceled) {
			s.log.Warn().Err(err).Str("vault", vaultID).Msg("auction history lookup failed")
		}
	}
	s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "no auction for vault"})
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	vaultID := r.PathValue("id")
	price, err := s.ctrl.CurrentPrice(vaultID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, priceResponse{Vault: vaultID, Price: price.String()})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	if s.queries == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "event log unavailable"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := s.queries.GetEvents(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "event lookup failed"})
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleListAuctions(w http.ResponseWriter, r *http.Request) {
	if s.queries == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "projection unavailable"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	auctions, err := s.queries.ListAuctions(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "auction lookup failed"})
		return
	}
	s.writeJSON(w, http.StatusOK, auctions)
}

func (s *Server) handleGetParams(w http.ResponseWriter, r *http.Request) {
	p := s.ctrl.Params()
	s.writeJSON(w, http.StatusOK, paramsResponse{
		Duration:     p.Duration,
		InitialOffer: p.InitialOffer,
		Dust:         p.Dust,
	})
}

func (s *Server) handleSetDuration(w http.ResponseWriter, r *http.Request) {
	var req paramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Duration == nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing duration"})
		return
	}
	if err := s.ctrl.SetDuration(r.Context(), *req.Duration); err != nil {
		s.writeError(w, err)
		return
	}
	s.handleGetParams(w, r)
}

func (s *Server) handleSetInitialOffer(w http.ResponseWriter, r *http.Request) {
	var req paramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InitialOffer == nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing initial_offer"})
		return
	}
	if err := s.ctrl.SetInitialOffer(r.Context(), *req.InitialOffer); err != nil {
		s.writeError(w, err)
		return
	}
	s.handleGetParams(w, r)
}

func (s *Server) handleSetDust(w http.ResponseWriter, r *http.Request) {
	var req paramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Dust == nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing dust"})
		return
	}
	if err := s.ctrl.SetDust(r.Context(), *req.Dust); err != nil {
		s.writeError(w, err)
		return
	}
	s.handleGetParams(w, r)
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	if s.queries == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "event log unavailable"})
		return
	}
	report, err := s.queries.VerifyIntegrity(r.Context())
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "integrity check failed"})
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// --- middleware ---

func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" || r.Header.Get("Authorization") != "Bearer "+s.adminToken {
			s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (s *Server) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		if s.metrics != nil {
			s.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
			s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// --- encoding ---

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("response encode failed")
	}
}

// writeError maps the operation error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, liquidation.ErrAlreadyUnderAuction):
		status = http.StatusConflict
	case errors.Is(err, auction.ErrNotFound), errors.Is(err, liquidation.ErrNothingToBuy),
		errors.Is(err, position.ErrVaultNotFound), errors.Is(err, position.ErrSeriesNotFound):
		status = http.StatusNotFound
	case errors.Is(err, liquidation.ErrSlippageExceeded), errors.Is(err, liquidation.ErrDustLeft),
		errors.Is(err, liquidation.ErrExceedsDebt):
		status = http.StatusConflict
	case errors.Is(err, liquidation.ErrInvalidParameter):
		status = http.StatusBadRequest
	case errors.Is(err, token.ErrInsufficientBalance), errors.Is(err, token.ErrInsufficientAllowance):
		status = http.StatusPaymentRequired
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}
