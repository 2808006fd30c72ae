package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lightning-pos/internal/core/domain"
	"lightning-pos/internal/core/ports"
	"lightning-pos/internal/core/ports/mocks"
	"lightning-pos/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testRouter(t *testing.T, checkoutSvc ports.CheckoutService, archive ports.SessionArchive) *gin.Engine {
	t.Helper()
	return SetupRouter(RouterDeps{
		CheckoutSvc: checkoutSvc,
		Archive:     archive,
		Logger:      zerolog.Nop(),
	})
}

func testView() *ports.CheckoutView {
	return &ports.CheckoutView{
		ID:    uuid.New(),
		Asset: domain.AssetLightning,
		Invoice: domain.Invoice{
			InvoiceID:      "inv-1",
			PaymentRequest: "lnbc1...",
			ExpiresAt:      time.Now().Add(10 * time.Minute),
			FiatAmount:     decimal.RequireFromString("2.50"),
			NativeAmount:   decimal.RequireFromString("0.00005555"),
			RateUsed:       decimal.NewFromInt(45000),
		},
		Payload: "lnbc1...",
		LastUpdate: domain.StatusUpdate{
			State:     domain.PaymentStateWaiting,
			Message:   "monitoring started",
			InvoiceID: "inv-1",
		},
		SecondsToExpiry: 599,
	}
}

func TestCreateCheckout(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockCheckoutService(ctrl)
	view := testView()

	svc.EXPECT().CreateCheckout(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req ports.CreateCheckoutRequest) (*ports.CheckoutView, error) {
			assert.True(t, req.Amount.Equal(decimal.RequireFromString("2.50")))
			assert.Equal(t, domain.AssetLightning, req.Asset)
			assert.Equal(t, "coffee", req.Description)
			return view, nil
		})

	router := testRouter(t, svc, nil)

	body := `{"amount":"2.50","description":"coffee","asset":"lightning"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkouts", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var envelope struct {
		Data struct {
			ID      string `json:"id"`
			Payload string `json:"payload"`
			State   string `json:"state"`
			Invoice struct {
				InvoiceID    string `json:"invoice_id"`
				NativeAmount string `json:"native_amount"`
			} `json:"invoice"`
			SecondsToExpiry int64 `json:"seconds_to_expiry"`
		} `json:"data"`
		RequestID string `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, view.ID.String(), envelope.Data.ID)
	assert.Equal(t, "lnbc1...", envelope.Data.Payload)
	assert.Equal(t, "waiting", envelope.Data.State)
	assert.Equal(t, "inv-1", envelope.Data.Invoice.InvoiceID)
	assert.Equal(t, "0.00005555", envelope.Data.Invoice.NativeAmount)
	assert.Equal(t, int64(599), envelope.Data.SecondsToExpiry)
	assert.NotEmpty(t, envelope.RequestID)
}

func TestCreateCheckout_MalformedBody(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockCheckoutService(ctrl)
	router := testRouter(t, svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkouts", bytes.NewBufferString(`{"amount":`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "AMT_001")
}

func TestCreateCheckout_ServiceError(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockCheckoutService(ctrl)
	svc.EXPECT().CreateCheckout(gomock.Any(), gomock.Any()).
		Return(nil, apperror.ErrAmountBelowDust("bitcoin"))

	router := testRouter(t, svc, nil)

	body := `{"amount":"0.001","asset":"lightning"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkouts", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "AMT_002")
}

func TestGetCheckout(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockCheckoutService(ctrl)
	view := testView()
	svc.EXPECT().GetCheckout(view.ID).Return(view, nil)

	router := testRouter(t, svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/checkouts/"+view.ID.String(), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), view.ID.String())
}

func TestGetCheckout_InvalidID(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockCheckoutService(ctrl)
	router := testRouter(t, svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/checkouts/not-a-uuid", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetCheckout_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockCheckoutService(ctrl)
	id := uuid.New()
	svc.EXPECT().GetCheckout(id).Return(nil, apperror.ErrNotFound("Checkout"))

	router := testRouter(t, svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/checkouts/"+id.String(), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "PAY_005")
}

func TestRetryCheckout(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockCheckoutService(ctrl)
	view := testView()
	svc.EXPECT().RetryCheckout(view.ID).Return(view, nil)

	router := testRouter(t, svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkouts/"+view.ID.String()+"/retry", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRetryCheckout_NotRetryable(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockCheckoutService(ctrl)
	id := uuid.New()
	svc.EXPECT().RetryCheckout(id).Return(nil, apperror.ErrCannotRetry())

	router := testRouter(t, svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkouts/"+id.String()+"/retry", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "PAY_006")
}

func TestCancelCheckout(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockCheckoutService(ctrl)
	view := testView()
	view.LastUpdate.State = domain.PaymentStateCancelled

	svc.EXPECT().CancelCheckout(view.ID).Return(nil)
	svc.EXPECT().GetCheckout(view.ID).Return(view, nil)

	router := testRouter(t, svc, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/checkouts/"+view.ID.String(), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "cancelled")
}

func TestListOutcomes(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockCheckoutService(ctrl)
	archive := mocks.NewMockSessionArchive(ctrl)

	txID := "inv-1-123-abc"
	archive.EXPECT().ListRecent(gomock.Any(), 50).Return([]domain.PaymentOutcome{
		{
			ID:            uuid.New(),
			InvoiceID:     "inv-1",
			State:         domain.PaymentStateCompleted,
			TransactionID: &txID,
			FiatAmount:    decimal.RequireFromString("2.50"),
			CreatedAt:     time.Now(),
		},
	}, nil)

	router := testRouter(t, svc, archive)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/outcomes", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "inv-1")
	assert.Contains(t, w.Body.String(), txID)
}

func TestListOutcomes_InvalidLimit(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockCheckoutService(ctrl)
	archive := mocks.NewMockSessionArchive(ctrl)

	router := testRouter(t, svc, archive)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/outcomes?limit=9999", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetOutcome_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockCheckoutService(ctrl)
	archive := mocks.NewMockSessionArchive(ctrl)
	archive.EXPECT().GetOutcome(gomock.Any(), "inv-missing").Return(nil, nil)

	router := testRouter(t, svc, archive)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/outcomes/inv-missing", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthCheck(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockCheckoutService(ctrl)
	router := testRouter(t, svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}
