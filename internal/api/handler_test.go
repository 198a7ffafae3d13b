package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"parking-gate-backend/config"
	"parking-gate-backend/internal/bus"
	"parking-gate-backend/internal/clock"
	"parking-gate-backend/internal/db"
	"parking-gate-backend/internal/pricing"
	"parking-gate-backend/internal/reconcile"
	"parking-gate-backend/internal/store"
)

var t0 = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

type apiHarness struct {
	router *gin.Engine
	engine *reconcile.Engine
	db     *gorm.DB
	pubsub *gochannel.GoChannel
}

func newAPIHarness(t *testing.T, vapid *webpush.Options) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	gormDB, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:api_%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(gormDB))

	st := store.NewGormStore(gormDB)
	engine := reconcile.New(st, nil, clock.NewFakeClock(t0), reconcile.Options{
		Capacity: 3,
		Tariff: pricing.Tariff{
			FreeMinutes:   30,
			ChunkMinutes:  15,
			PricePerChunk: 0.50,
			DailyMax:      20,
		},
		EntryCams:   []string{"cam1"},
		ExitCams:    []string{"cam2"},
		DefaultPin:  "1234",
		DefaultExit: "0000",
	}, zap.NewNop())

	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 8}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubsub.Close() })

	h := NewHandler(engine, bus.NewIngest(pubsub), st, vapid, zap.NewNop())
	router, _ := NewRouter(h, config.ServerConfig{RateLimitPerSec: 1000, RateLimitBurst: 1000, CacheTTLSeconds: 60})
	return &apiHarness{router: router, engine: engine, db: gormDB, pubsub: pubsub}
}

func (h *apiHarness) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h *apiHarness) enter(t *testing.T, plate string) {
	t.Helper()
	res, err := h.engine.Handle(context.Background(), reconcile.PlateDetected{Plate: plate, CameraID: "cam1"})
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeCreated, res.Outcome)
}

func TestCountAndCacheInvalidation(t *testing.T) {
	h := newAPIHarness(t, nil)
	h.enter(t, "AB-123-CD")

	w := h.do(http.MethodGet, "/api/parking/count", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":1,"capacity":3,"free":2}`, w.Body.String())

	// a camera entry bypasses the HTTP layer, so the cached count is still served
	h.enter(t, "EF-456-GH")
	w = h.do(http.MethodGet, "/api/parking/count", nil)
	assert.JSONEq(t, `{"count":1,"capacity":3,"free":2}`, w.Body.String())

	w = h.do(http.MethodPost, "/api/admin/adjust_count", gin.H{"delta": 1})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":3}`, w.Body.String())

	w = h.do(http.MethodGet, "/api/parking/count", nil)
	assert.JSONEq(t, `{"count":3,"capacity":3,"free":0}`, w.Body.String())
}

func TestAdjustCount_Errors(t *testing.T) {
	h := newAPIHarness(t, nil)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/admin/adjust_count", gin.H{"delta": 0}).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/admin/adjust_count", gin.H{"delta": 2}).Code)
	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, "/api/admin/adjust_count", gin.H{"delta": -1}).Code)
}

func TestListSessions(t *testing.T) {
	h := newAPIHarness(t, nil)
	h.enter(t, "AB-123-CD")

	w := h.do(http.MethodGet, "/api/sessions?state=open", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var views []sessionView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "AB-123-CD", views[0].Plate)
	assert.True(t, views[0].IsOpen)

	w = h.do(http.MethodGet, "/api/sessions?state=closed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/sessions?state=parked", nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/sessions?limit=-4", nil).Code)
}

func TestFinishAndDeleteSession(t *testing.T) {
	h := newAPIHarness(t, nil)
	h.enter(t, "AB-123-CD")

	w := h.do(http.MethodGet, "/api/sessions", nil)
	var views []sessionView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Len(t, views, 1)
	id := views[0].ID

	w = h.do(http.MethodPost, fmt.Sprintf("/api/sessions/%d/finish", id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var res resultView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, id, res.SessionID)

	assert.Equal(t, http.StatusNoContent, h.do(http.MethodDelete, fmt.Sprintf("/api/sessions/%d", id), nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodDelete, fmt.Sprintf("/api/sessions/%d", id), nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/api/sessions/999/finish", nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/sessions/abc/finish", nil).Code)
}

func TestStatsAndHistory(t *testing.T) {
	h := newAPIHarness(t, nil)
	h.enter(t, "AB-123-CD")

	w := h.do(http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats reconcile.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.EqualValues(t, 1, stats.Open)
	assert.Len(t, stats.Days, 7)

	w = h.do(http.MethodGet, "/api/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var points []reconcile.HourPoint
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &points))
	assert.Len(t, points, 24)
}

func TestBadges(t *testing.T) {
	h := newAPIHarness(t, nil)

	w := h.do(http.MethodPost, "/api/badges", gin.H{"uid": "de:ad:be:ef", "plate": " ab-123-cd "})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"uid":"DEADBEEF","plate":"AB-123-CD"}`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/badges", gin.H{"uid": "zz"}).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/badges", gin.H{}).Code)

	w = h.do(http.MethodGet, "/api/badges", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var badges []reconcile.BadgeView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &badges))
	require.Len(t, badges, 1)
	assert.Equal(t, "DEADBEEF", badges[0].UID)
	assert.True(t, badges[0].Stored)

	w = h.do(http.MethodPost, "/api/badges/acl", gin.H{"uids": []string{"deadbeef", "DEADBEEF", "01020304"}})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"uids":["DEADBEEF","01020304"]}`, w.Body.String())

	assert.Equal(t, http.StatusNoContent, h.do(http.MethodDelete, "/api/badges/deadbeef", nil).Code)

	w = h.do(http.MethodPost, "/api/enroll/start", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, h.engine.Enrolling())
}

func TestTariffAndPin(t *testing.T) {
	h := newAPIHarness(t, nil)

	w := h.do(http.MethodGet, "/api/tariff", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"free_minutes":30,"chunk_minutes":15,"price_per_chunk":0.5,"daily_max":20}`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest,
		h.do(http.MethodPut, "/api/tariff", gin.H{"free_minutes": -1, "chunk_minutes": 15}).Code)

	w = h.do(http.MethodPut, "/api/tariff", gin.H{"free_minutes": 15, "chunk_minutes": 30, "price_per_chunk": 1.5, "daily_max": 12})
	require.Equal(t, http.StatusOK, w.Code)
	w = h.do(http.MethodGet, "/api/tariff", nil)
	assert.JSONEq(t, `{"free_minutes":15,"chunk_minutes":30,"price_per_chunk":1.5,"daily_max":12}`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/config/pin", gin.H{"kind": "entry", "pin": "12"}).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/config/pin", gin.H{"kind": "side", "pin": "1234"}).Code)
	assert.Equal(t, http.StatusNoContent, h.do(http.MethodPost, "/api/config/pin", gin.H{"kind": "exit", "pin": "987654"}).Code)
	assert.Equal(t, http.StatusAccepted, h.do(http.MethodPost, "/api/display/sync", nil).Code)
}

func TestPlateEventIsQueued(t *testing.T) {
	h := newAPIHarness(t, nil)

	messages, err := h.pubsub.Subscribe(context.Background(), bus.TopicPlateDetected)
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/plate_event", gin.H{"cam_id": "cam1"}).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/plate_event", `{"plate":`).Code)

	w := h.do(http.MethodPost, "/api/plate_event", gin.H{"plate": "AB-123-CD", "cam_id": "cam1"})
	require.Equal(t, http.StatusAccepted, w.Code)

	select {
	case msg := <-messages:
		msg.Ack()
		var p bus.PlatePayload
		require.NoError(t, json.Unmarshal(msg.Payload, &p))
		assert.Equal(t, "AB-123-CD", p.Plate)
		assert.Equal(t, "cam1", p.CamID)
	case <-time.After(2 * time.Second):
		t.Fatal("plate event was not published")
	}
}

func TestPaymentValidation(t *testing.T) {
	h := newAPIHarness(t, nil)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/payments", gin.H{}).Code)
	assert.Equal(t, http.StatusAccepted, h.do(http.MethodPost, "/api/payments", gin.H{"plate": "AB-123-CD"}).Code)
}

func TestSubscriptions(t *testing.T) {
	h := newAPIHarness(t, nil)

	w := h.do(http.MethodPut, "/api/subscriptions", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid request"}`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPut, "/api/subscriptions", gin.H{
		"endpoint": "https://push.example/abc", "p256dh": "key", "auth": "secret", "kinds": []string{"tow_requested"},
	}).Code)

	w = h.do(http.MethodPut, "/api/subscriptions", gin.H{
		"endpoint": "https://push.example/abc", "p256dh": "key", "auth": "secret",
		"kinds": []string{"session_closed", "payment_required", "session_closed"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = h.do(http.MethodGet, "/api/subscriptions?endpoint=https://push.example/abc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"kinds":["session_closed","payment_required"]}`, w.Body.String())

	// resubscribing replaces the filter
	w = h.do(http.MethodPut, "/api/subscriptions", gin.H{"endpoint": "https://push.example/abc", "p256dh": "key2", "auth": "secret"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = h.do(http.MethodGet, "/api/subscriptions?endpoint=https://push.example/abc", nil)
	assert.JSONEq(t, `{"kinds":[]}`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/subscriptions", nil).Code)
	assert.Equal(t, http.StatusNoContent,
		h.do(http.MethodDelete, "/api/subscriptions", gin.H{"endpoint": "https://push.example/abc"}).Code)
	assert.Equal(t, http.StatusNotFound,
		h.do(http.MethodGet, "/api/subscriptions?endpoint=https://push.example/abc", nil).Code)
}

func TestVAPIDPublicKey(t *testing.T) {
	h := newAPIHarness(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, h.do(http.MethodGet, "/api/vapid_public_key", nil).Code)

	h = newAPIHarness(t, &webpush.Options{VAPIDPublicKey: "BPub"})
	w := h.do(http.MethodGet, "/api/vapid_public_key", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"public_key":"BPub"}`, w.Body.String())
}

func TestStoreUnavailable(t *testing.T) {
	h := newAPIHarness(t, nil)
	sqlDB, err := h.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	w := h.do(http.MethodGet, "/api/parking/count", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
