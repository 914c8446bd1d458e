package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	appconfig "storeflow/config"
	"storeflow/intake"
	"storeflow/logger"
	"storeflow/models"
	"storeflow/usage"
)

type fakeIngester struct {
	req    models.IngestRequest
	result models.IngestResult
	err    error
}

func (f *fakeIngester) Ingest(_ context.Context, req models.IngestRequest) (models.IngestResult, error) {
	f.req = req
	if f.err != nil {
		return models.IngestResult{}, f.err
	}
	if len(req.Orders) == 0 {
		return models.IngestResult{}, intake.ErrNoOrders
	}
	return f.result, nil
}

type fakeReader struct {
	start, end time.Time
	report     models.UsageReport
	err        error
}

func (f *fakeReader) DailyUsage(_ context.Context, start, end time.Time) (models.UsageReport, error) {
	f.start, f.end = start, end
	if f.err != nil {
		return models.UsageReport{}, f.err
	}
	if end.Before(start) {
		return models.UsageReport{}, usage.ErrInvalidRange
	}
	return f.report, nil
}

func newTestServer(ing Ingester, reader UsageReader) *Server {
	return &Server{
		cfg:       appconfig.ServerConfig{Address: ":0", ShutdownTimeout: time.Second},
		rangeDays: 30,
		ingester:  ing,
		reader:    reader,
		log:       logger.GetLogger(),
		now:       func() time.Time { return time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC) },
	}
}

func TestHandleIngestOK(t *testing.T) {
	ing := &fakeIngester{result: models.IngestResult{Saved: 2, Duplicates: 1, StatsUpdated: 1}}
	srv := newTestServer(ing, &fakeReader{})

	body := `{"orders":[{"order_id":"A","order_time":"2024-01-10 13:45:00","payment_amount":100,"seq":"S1"}]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body))
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Success      bool `json:"success"`
		Saved        int  `json:"saved"`
		Duplicates   int  `json:"duplicates"`
		StatsUpdated int  `json:"stats_updated"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Saved != 2 || resp.Duplicates != 1 || resp.StatsUpdated != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(ing.req.Orders) != 1 || ing.req.Orders[0].Seq != "S1" {
		t.Fatalf("request not passed through: %+v", ing.req)
	}
}

func TestHandleIngestInvalidBody(t *testing.T) {
	srv := newTestServer(&fakeIngester{}, &fakeReader{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader("{not json"))
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleIngestEmptyOrders(t *testing.T) {
	srv := newTestServer(&fakeIngester{}, &fakeReader{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(`{"orders":[]}`))
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleDailyUsageDefaults(t *testing.T) {
	reader := &fakeReader{}
	srv := newTestServer(&fakeIngester{}, reader)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/usage/daily", nil)
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if got := reader.end.Format(models.DateLayout); got != "2024-02-01" {
		t.Fatalf("default end = %s, want today", got)
	}
	if got := reader.start.Format(models.DateLayout); got != "2024-01-02" {
		t.Fatalf("default start = %s, want today-30d", got)
	}
}

func TestHandleDailyUsageEndOnlyAnchorsStart(t *testing.T) {
	reader := &fakeReader{}
	srv := newTestServer(&fakeIngester{}, reader)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/usage/daily?end_date=2024-01-20", nil)
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if got := reader.start.Format(models.DateLayout); got != "2023-12-21" {
		t.Fatalf("default start = %s, want end-30d", got)
	}
}

func TestHandleDailyUsageExplicitRange(t *testing.T) {
	reader := &fakeReader{}
	srv := newTestServer(&fakeIngester{}, reader)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/usage/daily?start_date=2024-01-10&end_date=2024-01-20", nil)
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if reader.start.Format(models.DateLayout) != "2024-01-10" || reader.end.Format(models.DateLayout) != "2024-01-20" {
		t.Fatalf("range [%s, %s] not passed through", reader.start, reader.end)
	}
}

func TestHandleDailyUsageBadDates(t *testing.T) {
	srv := newTestServer(&fakeIngester{}, &fakeReader{})

	for _, target := range []string{
		"/api/usage/daily?start_date=20240110",
		"/api/usage/daily?end_date=jan-10",
		"/api/usage/daily?start_date=2024-01-20&end_date=2024-01-10",
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, target, nil)
		srv.buildRouter().ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", target, w.Code)
		}
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&fakeIngester{}, &fakeReader{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
