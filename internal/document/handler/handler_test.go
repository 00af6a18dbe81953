package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"repertor/internal/archive"
	"repertor/internal/audit"
	"repertor/internal/document/service"
	docstore "repertor/internal/document/store"
	"repertor/internal/jwtauth"
	"repertor/internal/registration"
	regstore "repertor/internal/registration/store"
	"repertor/pkg/platform/tx"
)

type testEnv struct {
	router http.Handler
	regs   *regstore.MemoryStore
	arch   *archive.MemoryStore
	jwt    *jwtauth.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		regs: regstore.NewMemory(),
		arch: archive.NewMemory(),
		jwt:  jwtauth.NewService("test-signing-key", "repertor-test"),
	}
	params := service.ArchiveParams{
		Tier:    archive.TierCold,
		Restore: archive.RestoreParams{AvailabilityDays: 3, Speed: archive.SpeedStandard},
	}
	svc := service.New(docstore.NewMemory(), env.regs, tx.NewMemoryRunner(),
		env.arch, audit.NewMemory(), params, logger, nil)

	r := chi.NewRouter()
	New(svc, logger, env.jwt).Register(r)
	env.router = r
	return env
}

func (e *testEnv) seedRegistration(t *testing.T) *registration.Registration {
	t.Helper()
	reg := &registration.Registration{
		ID:       uuid.New(),
		Year:     2025,
		Month:    10,
		Sequence: 1,
		State:    registration.StateIssued,
		OwnerID:  "translator-1",
		IssuedAt: time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC),
	}
	reg.DisplayNumber = registration.FormatDisplayNumber(reg.Sequence, reg.Month, reg.Year)
	e.regs.Seed(reg)
	return reg
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	token, err := e.jwt.GenerateToken("translator-1", false, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("evidence", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func (e *testEnv) bind(t *testing.T, content []byte) map[string]any {
	t.Helper()
	body, contentType := multipartBody(t, "scan.pdf", content)
	req := httptest.NewRequest(http.MethodPost, "/registrations/01-X-2025/document", body)
	req.Header.Set("Content-Type", contentType)
	w := e.do(t, req)
	require.Equal(t, http.StatusCreated, w.Code)
	return decodeBody(t, w)
}

func TestBindEndpoint(t *testing.T) {
	t.Run("requires a token", func(t *testing.T) {
		env := newTestEnv(t)
		req := httptest.NewRequest(http.MethodPost, "/registrations/01-X-2025/document", nil)
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("binds evidence via multipart", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedRegistration(t)

		body := env.bind(t, []byte("%PDF-1.7 scan"))
		require.Equal(t, "SUBMITTED", body["status"])
		require.Equal(t, "scan.pdf", body["original_name"])
		require.Equal(t, 1, env.arch.Len())
	})

	t.Run("binds a draft without a file", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedRegistration(t)

		req := httptest.NewRequest(http.MethodPost, "/registrations/01-X-2025/document", nil)
		w := env.do(t, req)
		require.Equal(t, http.StatusCreated, w.Code)
		require.Equal(t, "DRAFT", decodeBody(t, w)["status"])
	})

	t.Run("second binding conflicts", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedRegistration(t)
		env.bind(t, []byte("first"))

		body, contentType := multipartBody(t, "again.pdf", []byte("second"))
		req := httptest.NewRequest(http.MethodPost, "/registrations/01-X-2025/document", body)
		req.Header.Set("Content-Type", contentType)
		w := env.do(t, req)
		require.Equal(t, http.StatusConflict, w.Code)
		require.Equal(t, 1, env.arch.Len(), "rejected upload must not leak")
	})

	t.Run("unknown registration", func(t *testing.T) {
		env := newTestEnv(t)
		req := httptest.NewRequest(http.MethodPost, "/registrations/07-XI-2025/document", nil)
		w := env.do(t, req)
		require.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestUnbindEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedRegistration(t)
	id := env.bind(t, []byte("scan"))["id"].(string)

	w := env.do(t, httptest.NewRequest(http.MethodDelete, "/documents/"+id, nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, 0, env.arch.Len())

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/documents/"+id, nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestEvidenceEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedRegistration(t)
	bound := env.bind(t, []byte("%PDF-1.7 scan"))
	id := bound["id"].(string)
	target := "/documents/" + id + "/evidence"

	t.Run("cold evidence initiates a restore", func(t *testing.T) {
		w := env.do(t, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusAccepted, w.Code)
		require.Equal(t, "restore_initiated", decodeBody(t, w)["status"])
		require.NotEmpty(t, w.Header().Get("Retry-After"))
	})

	t.Run("in-progress restore says retry", func(t *testing.T) {
		w := env.do(t, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusAccepted, w.Code)
		require.Equal(t, "retry_in_progress", decodeBody(t, w)["status"])
	})

	t.Run("completed restore serves the file", func(t *testing.T) {
		env.arch.CompleteAllRestores(time.Now().Add(24 * time.Hour))

		got := env.do(t, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusOK, got.Code)
		require.Equal(t, "application/octet-stream", got.Header().Get("Content-Type"))
		require.Equal(t, []byte("%PDF-1.7 scan"), got.Body.Bytes())
	})

	t.Run("unknown document", func(t *testing.T) {
		w := env.do(t, httptest.NewRequest(http.MethodGet, "/documents/"+uuid.NewString()+"/evidence", nil))
		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		w := env.do(t, httptest.NewRequest(http.MethodGet, "/documents/not-a-uuid/evidence", nil))
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRebindEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedRegistration(t)
	id := env.bind(t, []byte("v1"))["id"].(string)

	t.Run("replaces evidence", func(t *testing.T) {
		body, contentType := multipartBody(t, "v2.pdf", []byte("v2"))
		req := httptest.NewRequest(http.MethodPut, "/documents/"+id, body)
		req.Header.Set("Content-Type", contentType)

		w := env.do(t, req)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "v2.pdf", decodeBody(t, w)["original_name"])
		require.Equal(t, 1, env.arch.Len(), "replaced object must be deleted")
	})

	t.Run("nothing to change", func(t *testing.T) {
		w := env.do(t, httptest.NewRequest(http.MethodPut, "/documents/"+id, nil))
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}
