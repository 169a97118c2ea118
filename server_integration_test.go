package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"paragon/pkg/auth"
	"paragon/pkg/config"
	"paragon/pkg/metrics"
	"paragon/pkg/ocr"
	"paragon/pkg/report"
)

type stubRecognizer struct{ text string }

func (s stubRecognizer) Submit(context.Context, image.Image, ocr.Profile) (string, error) {
	return s.text, nil
}

// helper to perform requests with auth token
func performRequest(r http.Handler, method, path string, body io.Reader, token string, contentType string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func setupTestServer(t *testing.T, secret string) *gin.Engine {
	t.Helper()
	r, _ := setupTestServerWith(t, secret, 10*time.Minute)
	return r
}

func setupTestServerWith(t *testing.T, secret string, runTimeout time.Duration) (*gin.Engine, *server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Load()
	cfg.Server.JWTSecret = secret
	cfg.Server.MaxUploadMB = 1
	cfg.Server.RunTimeout = runTimeout
	r := gin.New()
	s := newServer(cfg, stubRecognizer{text: "SUMA PLN 12,34"}, 3, zap.NewNop(), metrics.NewRecorder())
	s.setupRoutes(r)
	return r, s
}

func multipartBody(t *testing.T, name string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	w, _ := mw.CreateFormFile("file", name)
	_, _ = w.Write(content)
	_ = mw.Close()
	return buf, mw.FormDataContentType()
}

func pngPage(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.New(600, 900, color.NRGBA{255, 255, 255, 255}), imaging.PNG); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestHealthz(t *testing.T) {
	r := setupTestServer(t, "")
	resp := performRequest(r, http.MethodGet, "/healthz", nil, "", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", resp.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &body)
	if body["status"] != "ok" || body["workers"] != float64(3) {
		t.Fatalf("unexpected healthz body %v", body)
	}
}

func TestDocumentFlow(t *testing.T) {
	r := setupTestServer(t, "test-secret")

	// 1. Unauthorized upload is rejected
	buf, ct := multipartBody(t, "scan.png", pngPage(t))
	if resp := performRequest(r, http.MethodPost, "/v1/documents", buf, "", ct); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", resp.Code)
	}

	token, err := auth.IssueToken([]byte("test-secret"), "tester", "user", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	// 2. Image upload is processed
	buf, ct = multipartBody(t, "scan.png", pngPage(t))
	resp := performRequest(r, http.MethodPost, "/v1/documents", buf, token, ct)
	if resp.Code != http.StatusOK {
		t.Fatalf("upload failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var res report.Result
	if err := json.Unmarshal(resp.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.RunID == "" || len(res.Pages) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	n := res.Totals.Receipts
	if n == 0 || res.Totals.Found != n || res.Totals.Missing != 0 {
		t.Fatalf("expected every receipt found got %+v", res.Totals)
	}
	if want := ocr.Amount(int64(n) * 1234).String(); res.Totals.GrandTotal != want {
		t.Fatalf("expected grand total %s got %s", want, res.Totals.GrandTotal)
	}
	for _, reg := range res.Pages[0].Regions {
		if reg.Amount == nil || *reg.Amount != "12.34" {
			t.Fatalf("unexpected region %+v", reg)
		}
	}

	// 3. Unsupported file type
	buf, ct = multipartBody(t, "notes.txt", []byte("SUMA 1,00"))
	if resp := performRequest(r, http.MethodPost, "/v1/documents", buf, token, ct); resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415 got %d", resp.Code)
	}

	// 4. Missing file field
	if resp := performRequest(r, http.MethodPost, "/v1/documents", bytes.NewBufferString(""), token, "application/json"); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}

	// 5. Oversized upload
	buf, ct = multipartBody(t, "big.png", make([]byte, 3<<20))
	if resp := performRequest(r, http.MethodPost, "/v1/documents", buf, token, ct); resp.Code != http.StatusRequestEntityTooLarge && resp.Code != http.StatusBadRequest {
		t.Fatalf("expected oversized upload to be rejected got %d", resp.Code)
	}
}

func TestQueuedUploadGetsFullRunTimeout(t *testing.T) {
	r, s := setupTestServerWith(t, "", 200*time.Millisecond)

	// another upload holds the run lock for longer than RUN_TIMEOUT
	s.runMu.Lock()
	released := make(chan struct{})
	go func() {
		time.Sleep(400 * time.Millisecond)
		s.runMu.Unlock()
		close(released)
	}()

	buf, ct := multipartBody(t, "scan.png", pngPage(t))
	resp := performRequest(r, http.MethodPost, "/v1/documents", buf, "", ct)
	<-released
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 after waiting for the lock got %d body=%s", resp.Code, resp.Body.String())
	}
	var res report.Result
	if err := json.Unmarshal(resp.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Cancelled || len(res.Pages) != 1 || res.Totals.Found == 0 {
		t.Fatalf("expected a complete run got %+v", res)
	}
}

func TestCancelledRunIsNotSuccess(t *testing.T) {
	r, _ := setupTestServerWith(t, "", 10*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	buf, ct := multipartBody(t, "scan.png", pngPage(t))
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, "/v1/documents", buf)
	req.Header.Set("Content-Type", ct)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for a cancelled run got %d body=%s", resp.Code, resp.Body.String())
	}

	r, _ = setupTestServerWith(t, "", time.Nanosecond)
	buf, ct = multipartBody(t, "scan.png", pngPage(t))
	if resp := performRequest(r, http.MethodPost, "/v1/documents", buf, "", ct); resp.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504 when RUN_TIMEOUT expires before the first page got %d", resp.Code)
	}
}
