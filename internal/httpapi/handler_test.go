package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fair-sequencer/internal/commitreveal"
	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/idhash"
	"fair-sequencer/internal/sequencer"
	"fair-sequencer/internal/verification"
)

type fakeSequencer struct {
	submitted  domain.PendingTransaction
	submitPool string
	submitErr  error
	revealed   []byte
	configured domain.PoolConfig
	pools      map[string]domain.PoolStatus
	batches    map[string]*domain.BatchAudit
	heldErr    error
	defaults   func(poolID string) domain.PoolConfig
}

func newFakeSequencer() *fakeSequencer {
	return &fakeSequencer{
		pools:   make(map[string]domain.PoolStatus),
		batches: make(map[string]*domain.BatchAudit),
	}
}

func (f *fakeSequencer) SubmitTransaction(_ context.Context, poolID string, tx domain.PendingTransaction) (sequencer.SubmitResult, error) {
	f.submitted, f.submitPool = tx, poolID
	if f.submitErr != nil {
		return sequencer.SubmitResult{
			TxID:            tx.ID,
			RejectionReason: f.submitErr.Error(),
			ErrorKind:       domain.KindOf(f.submitErr),
		}, f.submitErr
	}
	return sequencer.SubmitResult{
		Accepted:       true,
		TxID:           tx.ID,
		RiskLevel:      domain.RiskHigh,
		Patterns:       []domain.Pattern{domain.PatternFrontRun},
		RequiresCommit: true,
	}, nil
}

func (f *fakeSequencer) Commit(_ context.Context, txID, commitHash string) (commitreveal.CommitResult, error) {
	if !strings.HasPrefix(commitHash, "0x") {
		return commitreveal.CommitResult{TxID: txID}, fmt.Errorf("%w: bad hash", domain.ErrMalformedCommit)
	}
	return commitreveal.CommitResult{Accepted: true, TxID: txID, RevealDeadline: 1500, State: domain.StateCommitted}, nil
}

func (f *fakeSequencer) Reveal(_ context.Context, txID string, payload []byte) (commitreveal.RevealResult, error) {
	f.revealed = payload
	return commitreveal.RevealResult{Accepted: true, TxID: txID, State: domain.StateRevealed}, nil
}

func (f *fakeSequencer) GetTransactionStatus(_ context.Context, txID string) (sequencer.TransactionStatus, error) {
	if txID != "a" {
		return sequencer.TransactionStatus{}, fmt.Errorf("%w: %s", domain.ErrUnknownTx, txID)
	}
	return sequencer.TransactionStatus{TxID: "a", PoolID: "p", Status: domain.TxIncluded, BatchID: "b1"}, nil
}

func (f *fakeSequencer) GetPoolStatus(poolID string) (domain.PoolStatus, error) {
	st, ok := f.pools[poolID]
	if !ok {
		return domain.PoolStatus{}, fmt.Errorf("%w: %s", domain.ErrUnknownPool, poolID)
	}
	return st, nil
}

func (f *fakeSequencer) PoolDefaults(poolID string) domain.PoolConfig {
	if f.defaults != nil {
		return f.defaults(poolID)
	}
	return domain.DefaultPoolConfig(poolID)
}

func (f *fakeSequencer) ConfigurePool(cfg domain.PoolConfig) (domain.PoolStatus, bool, error) {
	if err := cfg.Validate(); err != nil {
		return domain.PoolStatus{}, false, err
	}
	f.configured = cfg
	_, existed := f.pools[cfg.PoolID]
	st := domain.PoolStatus{PoolID: cfg.PoolID, State: domain.PoolOpen, Algorithm: cfg.Algorithm, BatchIntervalMs: cfg.BatchIntervalMs}
	f.pools[cfg.PoolID] = st
	return st, !existed, nil
}

func (f *fakeSequencer) ClosePool(_ context.Context, poolID string) (int, error) {
	if _, ok := f.pools[poolID]; !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnknownPool, poolID)
	}
	return 2, nil
}

func (f *fakeSequencer) GetBatch(_ context.Context, batchID string) (*domain.BatchAudit, error) {
	a, ok := f.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownBatch, batchID)
	}
	return a, nil
}

func (f *fakeSequencer) ReleaseHeldBatch(_ context.Context, batchID string) (*domain.BatchAudit, error) {
	a, ok := f.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownBatch, batchID)
	}
	return a, f.heldErr
}

func (f *fakeSequencer) VerifyBatch(_ context.Context, batchID string) (*verification.VerificationResult, error) {
	if _, ok := f.batches[batchID]; !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownBatch, batchID)
	}
	return &verification.VerificationResult{
		BatchID: batchID,
		Status:  domain.BatchSubmitted,
		Divergences: []verification.FieldDivergence{
			{Field: verification.CheckOutputHash, Expected: "0xaa", Actual: "0xbb"},
		},
	}, nil
}

func (f *fakeSequencer) Status() sequencer.Status {
	return sequencer.Status{
		Pools:     []domain.PoolStatus{{PoolID: "p", State: domain.PoolOpen}},
		Scheduled: []string{"p"},
		Breakers:  map[string]string{"rpc": "closed"},
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestSubmitTransaction(t *testing.T) {
	f := newFakeSequencer()
	h := New(f, nil)

	rec := do(t, h, http.MethodPost, "/pools/eth-usdc/transactions",
		`{"id":"a","sender":"alice","target":"0xpool","fee":"12.5","trade_size":"1000"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	resp := decodeBody[SubmitResponse](t, rec)
	assert.True(t, resp.Accepted)
	assert.Equal(t, "HIGH", resp.RiskLevel)
	assert.Equal(t, []string{string(domain.PatternFrontRun)}, resp.Patterns)
	assert.True(t, resp.RequiresCommit)

	assert.Equal(t, "eth-usdc", f.submitPool)
	assert.Equal(t, "12.5", f.submitted.Fee.String())
	assert.Equal(t, "1000", f.submitted.TradeSize.String())

	rec = do(t, h, http.MethodPost, "/pools/eth-usdc/transactions",
		`{"sender":"alice","target":"0xpool","fee":"1","payload":"0x68656c6c6f"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, idhash.ComputePayloadHash([]byte("hello")), f.submitted.PayloadHash)
}

func TestSubmitTransaction_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantKind string
	}{
		{"bad json", `{"fee":`, nil, http.StatusBadRequest, domain.KindValidation},
		{"unknown field", `{"fee":"1","gas":3}`, nil, http.StatusBadRequest, domain.KindValidation},
		{"bad fee", `{"sender":"a","target":"b","fee":"lots"}`, nil, http.StatusBadRequest, domain.KindValidation},
		{"duplicate", `{"id":"a","fee":"1"}`, domain.ErrDuplicateTx, http.StatusConflict, domain.KindValidation},
		{"closed", `{"id":"a","fee":"1"}`, domain.ErrPoolClosed, http.StatusConflict, domain.KindValidation},
		{"full", `{"id":"a","fee":"1"}`, domain.ErrPoolFull, http.StatusTooManyRequests, domain.KindValidation},
		{"malformed", `{"id":"a","fee":"1"}`, domain.ErrMalformedTx, http.StatusBadRequest, domain.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeSequencer()
			f.submitErr = tt.err
			rec := do(t, New(f, nil), http.MethodPost, "/pools/p/transactions", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.err != nil {
				resp := decodeBody[SubmitResponse](t, rec)
				assert.False(t, resp.Accepted)
				assert.Equal(t, tt.wantKind, resp.ErrorKind)
				return
			}
			resp := decodeBody[ErrorResponse](t, rec)
			assert.Equal(t, tt.wantKind, resp.Kind)
		})
	}
}

func TestCommitAndReveal(t *testing.T) {
	f := newFakeSequencer()
	h := New(f, nil)

	rec := do(t, h, http.MethodPost, "/transactions/a/commit", `{"commit_hash":"0xabc"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	cr := decodeBody[commitResponse](t, rec)
	assert.Equal(t, "a", cr.TxID)
	assert.Equal(t, int64(1500), cr.RevealDeadline)
	assert.Equal(t, string(domain.StateCommitted), cr.State)

	rec = do(t, h, http.MethodPost, "/transactions/a/commit", `{"commit_hash":"abc"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, domain.KindPolicy, decodeBody[ErrorResponse](t, rec).Kind)

	rec = do(t, h, http.MethodPost, "/transactions/a/reveal", `{"payload":"0x68656c6c6f"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []byte("hello"), f.revealed)

	rec = do(t, h, http.MethodPost, "/transactions/a/reveal", `{"payload":"zz"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTransaction(t *testing.T) {
	h := New(newFakeSequencer(), nil)

	rec := do(t, h, http.MethodGet, "/transactions/a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[transactionResponse](t, rec)
	assert.Equal(t, string(domain.TxIncluded), resp.Status)
	assert.Equal(t, "b1", resp.BatchID)

	rec = do(t, h, http.MethodGet, "/transactions/zzz", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPoolLifecycle(t *testing.T) {
	f := newFakeSequencer()
	h := New(f, nil)

	rec := do(t, h, http.MethodGet, "/pools/p", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPut, "/pools/p", `{"algorithm":"randomized","batch_interval_ms":250,"liquidity_depth":"5000"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[PoolResponse](t, rec).Created)
	assert.Equal(t, domain.AlgorithmRandomized, f.configured.Algorithm)
	assert.Equal(t, "5000", f.configured.LiquidityDepth.String())

	rec = do(t, h, http.MethodPut, "/pools/p", `{"algorithm":"RANDOMIZED","batch_interval_ms":250}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPut, "/pools/p", `{"algorithm":"LIFO","batch_interval_ms":250}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/pools/p", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(250), decodeBody[PoolResponse](t, rec).BatchIntervalMs)

	rec = do(t, h, http.MethodDelete, "/pools/p", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"rejected":2`)
}

func TestConfigurePool_StartsFromServerDefaults(t *testing.T) {
	f := newFakeSequencer()
	f.defaults = func(poolID string) domain.PoolConfig {
		c := domain.DefaultPoolConfig(poolID)
		c.Algorithm = domain.AlgorithmFCFS
		c.RequireCommitForMedium = false
		c.MaxPending = 42
		c.RevealDelayMinMs, c.RevealDelayMaxMs = 10, 20
		return c
	}
	h := New(f, nil)

	rec := do(t, h, http.MethodPut, "/pools/p", `{"batch_interval_ms":300}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "p", f.configured.PoolID)
	assert.Equal(t, domain.AlgorithmFCFS, f.configured.Algorithm)
	assert.Equal(t, int64(300), f.configured.BatchIntervalMs)
	assert.False(t, f.configured.RequireCommitForMedium)
	assert.Equal(t, 42, f.configured.MaxPending)
	assert.Equal(t, int64(10), f.configured.RevealDelayMinMs)
	assert.Equal(t, int64(20), f.configured.RevealDelayMaxMs)

	rec = do(t, h, http.MethodPut, "/pools/p", `{"max_pending":7,"require_commit_for_medium":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 7, f.configured.MaxPending)
	assert.True(t, f.configured.RequireCommitForMedium)
	assert.Equal(t, domain.AlgorithmFCFS, f.configured.Algorithm)
}

func TestBatches(t *testing.T) {
	f := newFakeSequencer()
	f.batches["b1"] = &domain.BatchAudit{
		BatchID:      "b1",
		PoolID:       "p",
		Algorithm:    domain.AlgorithmFCFS,
		Status:       domain.BatchHeld,
		OrderedTxIDs: []string{"a", "b"},
		Proof:        &domain.FairnessProof{BatchID: "b1", Signature: "sig"},
	}
	h := New(f, nil)

	rec := do(t, h, http.MethodGet, "/batches/b1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	b := decodeBody[BatchResponse](t, rec)
	assert.Equal(t, []string{"a", "b"}, b.OrderedTxIDs)
	require.NotNil(t, b.Proof)
	assert.Equal(t, "sig", b.Proof.Signature)

	f.heldErr = fmt.Errorf("%w: signer down", domain.ErrBatchHeld)
	rec = do(t, h, http.MethodPost, "/batches/b1/release", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "b1", decodeBody[BatchResponse](t, rec).BatchID)

	f.heldErr = nil
	rec = do(t, h, http.MethodPost, "/batches/b1/release", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/batches/nope/release", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/batches/b1/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	v := decodeBody[verifyResponse](t, rec)
	assert.False(t, v.Valid)
	require.Len(t, v.Divergences, 1)
	assert.Equal(t, verification.CheckOutputHash, v.Divergences[0].Check)
}

func TestStatusAndHealth(t *testing.T) {
	h := New(newFakeSequencer(), nil)

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeBody[StatusResponse](t, rec)
	assert.Equal(t, "running", st.Status)
	assert.Equal(t, []string{"p"}, st.Scheduled)
	assert.Equal(t, "closed", st.Breakers["rpc"])

	rec = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrUnknownPool, http.StatusNotFound},
		{domain.ErrInvalidConfig, http.StatusBadRequest},
		{domain.ErrRevealExpired, http.StatusUnprocessableEntity},
		{domain.ErrCircuitOpen, http.StatusServiceUnavailable},
		{domain.ErrPermutation, http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", domain.ErrUnknownBatch), http.StatusNotFound},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
