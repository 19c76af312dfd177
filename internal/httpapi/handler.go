// Package httpapi exposes the sequencer over HTTP/JSON.
package httpapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fair-sequencer/internal/commitreveal"
	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/idhash"
	"fair-sequencer/internal/observability"
	"fair-sequencer/internal/sequencer"
	"fair-sequencer/internal/verification"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Sequencer is the service the handlers call.
type Sequencer interface {
	SubmitTransaction(ctx context.Context, poolID string, tx domain.PendingTransaction) (sequencer.SubmitResult, error)
	Commit(ctx context.Context, txID, commitHash string) (commitreveal.CommitResult, error)
	Reveal(ctx context.Context, txID string, payload []byte) (commitreveal.RevealResult, error)
	GetTransactionStatus(ctx context.Context, txID string) (sequencer.TransactionStatus, error)
	GetPoolStatus(poolID string) (domain.PoolStatus, error)
	PoolDefaults(poolID string) domain.PoolConfig
	ConfigurePool(cfg domain.PoolConfig) (domain.PoolStatus, bool, error)
	ClosePool(ctx context.Context, poolID string) (int, error)
	GetBatch(ctx context.Context, batchID string) (*domain.BatchAudit, error)
	ReleaseHeldBatch(ctx context.Context, batchID string) (*domain.BatchAudit, error)
	VerifyBatch(ctx context.Context, batchID string) (*verification.VerificationResult, error)
	Status() sequencer.Status
}

// Handler serves the JSON API.
type Handler struct {
	svc Sequencer
	log *zap.Logger
	mux *http.ServeMux
}

// New creates the handler with all routes registered, including /health and
// /metrics.
func New(svc Sequencer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{svc: svc, log: logger.Named("http"), mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /pools/{id}/transactions", h.submitTransaction)
	h.mux.HandleFunc("GET /pools/{id}", h.getPool)
	h.mux.HandleFunc("PUT /pools/{id}", h.configurePool)
	h.mux.HandleFunc("DELETE /pools/{id}", h.closePool)
	h.mux.HandleFunc("POST /transactions/{id}/commit", h.commit)
	h.mux.HandleFunc("POST /transactions/{id}/reveal", h.reveal)
	h.mux.HandleFunc("GET /transactions/{id}", h.getTransaction)
	h.mux.HandleFunc("GET /batches/{id}", h.getBatch)
	h.mux.HandleFunc("POST /batches/{id}/release", h.releaseBatch)
	h.mux.HandleFunc("GET /batches/{id}/verify", h.verifyBatch)
	h.mux.HandleFunc("GET /status", h.status)
	h.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	h.mux.Handle("GET /metrics", observability.Handler())
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// TransactionRequest is the body of POST /pools/{id}/transactions.
type TransactionRequest struct {
	ID                  string `json:"id,omitempty"`
	Sender              string `json:"sender"`
	Target              string `json:"target"`
	PayloadHash         string `json:"payload_hash,omitempty"`
	Payload             string `json:"payload,omitempty"` // hex, hashed when payload_hash is empty
	Selector            string `json:"selector,omitempty"`
	TradeSize           string `json:"trade_size,omitempty"`
	Fee                 string `json:"fee"`
	Liquidation         bool   `json:"liquidation,omitempty"`
	LiquidationWindowMs int64  `json:"liquidation_window_ms,omitempty"`
}

// SubmitResponse is the response of POST /pools/{id}/transactions.
type SubmitResponse struct {
	Accepted        bool     `json:"accepted"`
	TxID            string   `json:"tx_id,omitempty"`
	RiskLevel       string   `json:"risk_level,omitempty"`
	Patterns        []string `json:"patterns,omitempty"`
	RequiresCommit  bool     `json:"requires_commit"`
	RejectionReason string   `json:"rejection_reason,omitempty"`
	ErrorKind       string   `json:"error_kind,omitempty"`
}

func (h *Handler) submitTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	tx, err := req.toDomain()
	if err != nil {
		h.writeError(w, err)
		return
	}

	res, err := h.svc.SubmitTransaction(r.Context(), r.PathValue("id"), tx)
	resp := SubmitResponse{
		Accepted:        res.Accepted,
		TxID:            res.TxID,
		RequiresCommit:  res.RequiresCommit,
		RejectionReason: res.RejectionReason,
		ErrorKind:       res.ErrorKind,
	}
	if err != nil {
		writeJSON(w, statusFor(err), resp)
		return
	}
	resp.RiskLevel = res.RiskLevel.String()
	for _, p := range res.Patterns {
		resp.Patterns = append(resp.Patterns, string(p))
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (req TransactionRequest) toDomain() (domain.PendingTransaction, error) {
	fee, err := parseDecimal("fee", req.Fee)
	if err != nil {
		return domain.PendingTransaction{}, err
	}
	size := decimal.Zero
	if req.TradeSize != "" {
		if size, err = parseDecimal("trade_size", req.TradeSize); err != nil {
			return domain.PendingTransaction{}, err
		}
	}
	payloadHash := req.PayloadHash
	if payloadHash == "" && req.Payload != "" {
		raw, err := hex.DecodeString(strings.TrimPrefix(req.Payload, "0x"))
		if err != nil {
			return domain.PendingTransaction{}, fmt.Errorf("%w: payload is not hex: %v", domain.ErrMalformedTx, err)
		}
		payloadHash = idhash.ComputePayloadHash(raw)
	}
	return domain.PendingTransaction{
		ID:                  req.ID,
		Sender:              req.Sender,
		Target:              req.Target,
		PayloadHash:         payloadHash,
		Selector:            req.Selector,
		TradeSize:           size,
		Fee:                 fee,
		Liquidation:         req.Liquidation,
		LiquidationWindowMs: req.LiquidationWindowMs,
	}, nil
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", domain.ErrMalformedTx, field, err)
	}
	return d, nil
}

type commitRequest struct {
	CommitHash string `json:"commit_hash"`
}

type commitResponse struct {
	Accepted       bool   `json:"accepted"`
	TxID           string `json:"tx_id"`
	State          string `json:"state,omitempty"`
	RevealDeadline int64  `json:"reveal_deadline,omitempty"`
	DelayProof     string `json:"delay_proof,omitempty"`
}

func (h *Handler) commit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Commit(r.Context(), r.PathValue("id"), req.CommitHash)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commitResponse{
		Accepted:       res.Accepted,
		TxID:           res.TxID,
		State:          string(res.State),
		RevealDeadline: res.RevealDeadline,
		DelayProof:     res.Delay.Proof,
	})
}

// revealRequest carries the payload hex encoded, with or without 0x.
type revealRequest struct {
	Payload string `json:"payload"`
}

type revealResponse struct {
	Accepted bool   `json:"accepted"`
	TxID     string `json:"tx_id"`
	State    string `json:"state"`
}

func (h *Handler) reveal(w http.ResponseWriter, r *http.Request) {
	var req revealRequest
	if !h.decode(w, r, &req) {
		return
	}
	payload, err := hex.DecodeString(strings.TrimPrefix(req.Payload, "0x"))
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: payload is not hex: %v", domain.ErrValidation, err))
		return
	}
	res, err := h.svc.Reveal(r.Context(), r.PathValue("id"), payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, revealResponse{Accepted: res.Accepted, TxID: res.TxID, State: string(res.State)})
}

type transactionResponse struct {
	TxID           string `json:"tx_id"`
	PoolID         string `json:"pool_id"`
	Pending        bool   `json:"pending"`
	State          string `json:"state,omitempty"`
	Status         string `json:"status,omitempty"`
	RiskLevel      string `json:"risk_level,omitempty"`
	RequiresCommit bool   `json:"requires_commit,omitempty"`
	RevealDeadline int64  `json:"reveal_deadline,omitempty"`
	BatchID        string `json:"batch_id,omitempty"`
	ErrorKind      string `json:"error_kind,omitempty"`
	Error          string `json:"error,omitempty"`
	UpdatedAt      int64  `json:"updated_at"`
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetTransactionStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := transactionResponse{
		TxID:           st.TxID,
		PoolID:         st.PoolID,
		Pending:        st.Pending,
		State:          string(st.State),
		Status:         string(st.Status),
		RequiresCommit: st.RequiresCommit,
		RevealDeadline: st.RevealDeadline,
		BatchID:        st.BatchID,
		ErrorKind:      st.ErrorKind,
		Error:          st.Error,
		UpdatedAt:      st.UpdatedAt,
	}
	if st.Pending {
		resp.RiskLevel = st.RiskLevel.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// PoolResponse describes a pool.
type PoolResponse struct {
	PoolID          string `json:"pool_id"`
	State           string `json:"state"`
	Algorithm       string `json:"algorithm"`
	BatchIntervalMs int64  `json:"batch_interval_ms"`
	PendingCount    int    `json:"pending_count"`
	EligibleCount   int    `json:"eligible_count"`
	LastBatchID     string `json:"last_batch_id,omitempty"`
	LastProcessedAt int64  `json:"last_processed_at,omitempty"`
	Created         bool   `json:"created,omitempty"`
}

func poolResponse(st domain.PoolStatus) PoolResponse {
	return PoolResponse{
		PoolID:          st.PoolID,
		State:           string(st.State),
		Algorithm:       string(st.Algorithm),
		BatchIntervalMs: st.BatchIntervalMs,
		PendingCount:    st.PendingCount,
		EligibleCount:   st.EligibleCount,
		LastBatchID:     st.LastBatchID,
		LastProcessedAt: st.LastProcessedAt,
	}
}

func (h *Handler) getPool(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetPoolStatus(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, poolResponse(st))
}

// PoolConfigRequest is the body of PUT /pools/{id}. Zero fields take the
// server's pool defaults.
type PoolConfigRequest struct {
	Algorithm              string `json:"algorithm"`
	BatchIntervalMs        int64  `json:"batch_interval_ms"`
	RequireCommitForMedium *bool  `json:"require_commit_for_medium,omitempty"`
	RevealDelayMinMs       int64  `json:"reveal_delay_min_ms,omitempty"`
	RevealDelayMaxMs       int64  `json:"reveal_delay_max_ms,omitempty"`
	CommitTimeoutMs        int64  `json:"commit_timeout_ms,omitempty"`
	MaxPending             int    `json:"max_pending,omitempty"`
	LiquidityDepth         string `json:"liquidity_depth,omitempty"`
}

func (h *Handler) configurePool(w http.ResponseWriter, r *http.Request) {
	var req PoolConfigRequest
	if !h.decode(w, r, &req) {
		return
	}
	cfg := h.svc.PoolDefaults(r.PathValue("id"))
	if req.Algorithm != "" {
		cfg.Algorithm = domain.Algorithm(strings.ToUpper(req.Algorithm))
	}
	if req.BatchIntervalMs != 0 {
		cfg.BatchIntervalMs = req.BatchIntervalMs
	}
	if req.RequireCommitForMedium != nil {
		cfg.RequireCommitForMedium = *req.RequireCommitForMedium
	}
	if req.RevealDelayMinMs != 0 || req.RevealDelayMaxMs != 0 {
		cfg.RevealDelayMinMs, cfg.RevealDelayMaxMs = req.RevealDelayMinMs, req.RevealDelayMaxMs
	}
	if req.CommitTimeoutMs != 0 {
		cfg.CommitTimeoutMs = req.CommitTimeoutMs
	}
	if req.MaxPending != 0 {
		cfg.MaxPending = req.MaxPending
	}
	if req.LiquidityDepth != "" {
		depth, err := decimal.NewFromString(req.LiquidityDepth)
		if err != nil {
			h.writeError(w, fmt.Errorf("%w: liquidity_depth: %v", domain.ErrInvalidConfig, err))
			return
		}
		cfg.LiquidityDepth = depth
	}

	st, created, err := h.svc.ConfigurePool(cfg)
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := poolResponse(st)
	resp.Created = created
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, resp)
}

func (h *Handler) closePool(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.ClosePool(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pool_id": r.PathValue("id"), "rejected": n})
}

// BatchResponse is the JSON form of a batch audit.
type BatchResponse struct {
	BatchID        string            `json:"batch_id"`
	PoolID         string            `json:"pool_id"`
	Sequence       uint64            `json:"sequence"`
	Algorithm      string            `json:"algorithm"`
	Status         string            `json:"status"`
	FairnessScore  float64           `json:"fairness_score"`
	OrderedTxIDs   []string          `json:"ordered_transaction_ids"`
	ProofReference string            `json:"proof_reference,omitempty"`
	Proof          *ProofResponse    `json:"proof,omitempty"`
	Outcomes       []OutcomeResponse `json:"submission_outcomes,omitempty"`
	RandomSeed     string            `json:"random_seed,omitempty"`
	Error          string            `json:"error,omitempty"`
	CreatedAt      int64             `json:"created_at"`
	CompletedAt    int64             `json:"completed_at"`
}

// ProofResponse is the JSON form of a fairness proof.
type ProofResponse struct {
	InputSetHash    string `json:"input_set_hash"`
	OutputOrderHash string `json:"output_order_hash"`
	Algorithm       string `json:"algorithm"`
	Signature       string `json:"signature"`
	SignerKey       string `json:"signer_key"`
	SignedAt        int64  `json:"signed_at"`
}

// OutcomeResponse is the JSON form of one submission outcome.
type OutcomeResponse struct {
	TxID     string `json:"tx_id"`
	Included bool   `json:"included"`
	Error    string `json:"error,omitempty"`
	Attempts int    `json:"attempts"`
	Endpoint string `json:"endpoint,omitempty"`
}

func batchResponse(a *domain.BatchAudit) BatchResponse {
	resp := BatchResponse{
		BatchID:        a.BatchID,
		PoolID:         a.PoolID,
		Sequence:       a.Sequence,
		Algorithm:      string(a.Algorithm),
		Status:         string(a.Status),
		FairnessScore:  a.FairnessScore,
		OrderedTxIDs:   a.OrderedTxIDs,
		ProofReference: a.ProofReference,
		RandomSeed:     a.RandomSeed,
		Error:          a.Error,
		CreatedAt:      a.CreatedAt,
		CompletedAt:    a.CompletedAt,
	}
	if p := a.Proof; p != nil {
		resp.Proof = &ProofResponse{
			InputSetHash:    p.InputSetHash,
			OutputOrderHash: p.OutputOrderHash,
			Algorithm:       string(p.Algorithm),
			Signature:       p.Signature,
			SignerKey:       p.SignerKey,
			SignedAt:        p.SignedAt,
		}
	}
	for _, o := range a.Outcomes {
		resp.Outcomes = append(resp.Outcomes, OutcomeResponse{
			TxID:     o.TxID,
			Included: o.Included,
			Error:    o.Error,
			Attempts: o.Attempts,
			Endpoint: o.Endpoint,
		})
	}
	return resp
}

func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.GetBatch(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batchResponse(a))
}

func (h *Handler) releaseBatch(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.ReleaseHeldBatch(r.Context(), r.PathValue("id"))
	if err != nil {
		if a != nil && errors.Is(err, domain.ErrBatchHeld) {
			writeJSON(w, http.StatusConflict, batchResponse(a))
			return
		}
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batchResponse(a))
}

type divergenceResponse struct {
	Check    string `json:"check"`
	Expected any    `json:"expected"`
	Actual   any    `json:"actual"`
}

type verifyResponse struct {
	BatchID     string               `json:"batch_id"`
	Status      string               `json:"status"`
	Valid       bool                 `json:"valid"`
	Skipped     bool                 `json:"skipped,omitempty"`
	Divergences []divergenceResponse `json:"divergences,omitempty"`
}

func (h *Handler) verifyBatch(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.VerifyBatch(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := verifyResponse{
		BatchID: res.BatchID,
		Status:  string(res.Status),
		Valid:   res.Valid,
		Skipped: res.Skipped,
	}
	for _, d := range res.Divergences {
		resp.Divergences = append(resp.Divergences, divergenceResponse{Check: d.Field, Expected: d.Expected, Actual: d.Actual})
	}
	writeJSON(w, http.StatusOK, resp)
}

// StatusResponse is the JSON response for /status.
type StatusResponse struct {
	Status    string            `json:"status"`
	Pools     []PoolResponse    `json:"pools"`
	Scheduled []string          `json:"scheduled"`
	Breakers  map[string]string `json:"breakers,omitempty"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	st := h.svc.Status()
	resp := StatusResponse{
		Status:    "running",
		Pools:     make([]PoolResponse, 0, len(st.Pools)),
		Scheduled: st.Scheduled,
		Breakers:  st.Breakers,
	}
	if st.Closing {
		resp.Status = "shutting_down"
	}
	for _, p := range st.Pools {
		resp.Pools = append(resp.Pools, poolResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.writeError(w, fmt.Errorf("%w: invalid request body: %v", domain.ErrValidation, err))
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, code, ErrorResponse{Error: err.Error(), Kind: domain.KindOf(err)})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownTx), errors.Is(err, domain.ErrUnknownPool), errors.Is(err, domain.ErrUnknownBatch):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateTx), errors.Is(err, domain.ErrPoolClosed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPoolFull):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPolicyViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrBatchHeld):
		return http.StatusConflict
	case errors.Is(err, domain.ErrDependencyFailure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
