package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ViniZap4/ytnotes-server/auth"
	"github.com/ViniZap4/ytnotes-server/coordinator"
	"github.com/ViniZap4/ytnotes-server/domain"
	"github.com/ViniZap4/ytnotes-server/host"
	"github.com/ViniZap4/ytnotes-server/host/hosttest"
	"github.com/ViniZap4/ytnotes-server/notes"
	"github.com/ViniZap4/ytnotes-server/popup"
	"github.com/ViniZap4/ytnotes-server/store"
	"github.com/ViniZap4/ytnotes-server/ws"
)

const testPassword = "pw"

type harness struct {
	app      *fiber.App
	svc      *notes.Service
	platform *hosttest.Platform
	issuer   *auth.Issuer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zerolog.Nop()
	svc := notes.NewService(store.NewMemoryBucket())
	platform := hosttest.New()
	issuer := auth.NewIssuer("secret", time.Minute)
	password, err := auth.NewPassword(testPassword)
	require.NoError(t, err)

	srv := NewServer(Deps{
		Service:     svc,
		Coordinator: coordinator.New(svc, platform, coordinator.WithIssuer(issuer)),
		Sessions:    popup.NewSessions(svc, platform, platform, time.Minute),
		Hub:         ws.NewHub(log),
		Bridge:      ws.NewBridge(time.Second, log),
		Password:    password,
		Issuer:      issuer,
		Log:         log,
	})
	return &harness{app: srv.App(), svc: svc, platform: platform, issuer: issuer}
}

type result struct {
	status  int
	body    []byte
	session string
}

func (h *harness) do(t *testing.T, method, path, body string, headers ...string) result {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.TokenHeader, testPassword)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return result{status: resp.StatusCode, body: data, session: resp.Header.Get(sessionHeader)}
}

func decode[T any](t *testing.T, r result) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(r.body, &v), string(r.body))
	return v
}

func TestRequiresAuth(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(fiber.MethodGet, "/api/folders", nil)
	resp, err := h.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	res := h.do(t, fiber.MethodGet, "/health", "")
	assert.Equal(t, fiber.StatusOK, res.status)
}

func TestTokenEndpoint(t *testing.T) {
	h := newHarness(t)

	res := h.do(t, fiber.MethodPost, "/api/auth/token", `{"password":"wrong"}`)
	assert.Equal(t, fiber.StatusUnauthorized, res.status)

	res = h.do(t, fiber.MethodPost, "/api/auth/token", `{"password":"pw"}`)
	require.Equal(t, fiber.StatusOK, res.status)
	body := decode[map[string]any](t, res)
	token, _ := body["token"].(string)

	req := httptest.NewRequest(fiber.MethodGet, "/api/folders", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := h.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestFolderAndNoteRoutes(t *testing.T) {
	h := newHarness(t)

	res := h.do(t, fiber.MethodGet, "/api/folders", "")
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, []string{domain.DefaultFolder}, decode[[]string](t, res))

	res = h.do(t, fiber.MethodPost, "/api/folders", `{"name":"My Lectures"}`)
	assert.Equal(t, fiber.StatusCreated, res.status)

	res = h.do(t, fiber.MethodPost, "/api/folders", `{"name":"My Lectures"}`)
	assert.Equal(t, fiber.StatusConflict, res.status)

	res = h.do(t, fiber.MethodPost, "/api/folders", `{"name":"   "}`)
	assert.Equal(t, fiber.StatusBadRequest, res.status)

	res = h.do(t, fiber.MethodPost, "/api/folders/My%20Lectures/notes", `{"description":"later","timestamp":90}`)
	require.Equal(t, fiber.StatusCreated, res.status)
	later := decode[domain.Note](t, res)

	res = h.do(t, fiber.MethodPost, "/api/folders/My%20Lectures/notes", `{"description":"sooner","timestamp":3}`)
	require.Equal(t, fiber.StatusCreated, res.status)

	res = h.do(t, fiber.MethodPost, "/api/folders/My%20Lectures/notes", `{"description":"  ","timestamp":3}`)
	assert.Equal(t, fiber.StatusBadRequest, res.status)

	res = h.do(t, fiber.MethodPost, "/api/folders/My%20Lectures/notes", `{"description":"no time"}`)
	assert.Equal(t, fiber.StatusBadRequest, res.status)

	res = h.do(t, fiber.MethodPost, "/api/folders/Nope/notes", `{"description":"x","timestamp":1}`)
	assert.Equal(t, fiber.StatusNotFound, res.status)

	res = h.do(t, fiber.MethodGet, "/api/folders/My%20Lectures/notes", "")
	list := decode[[]domain.Note](t, res)
	require.Len(t, list, 2)
	assert.Equal(t, "sooner", list[0].Description)

	res = h.do(t, fiber.MethodDelete, "/api/folders/My%20Lectures/notes/"+later.ID, "")
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, later.ID, decode[domain.Note](t, res).ID)

	res = h.do(t, fiber.MethodDelete, "/api/folders/My%20Lectures/notes/at/5", "")
	assert.Equal(t, fiber.StatusNotFound, res.status)

	res = h.do(t, fiber.MethodDelete, "/api/folders/My%20Lectures/notes/at/0", "")
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, "sooner", decode[domain.Note](t, res).Description)

	res = h.do(t, fiber.MethodDelete, "/api/folders/Default", "")
	assert.Equal(t, fiber.StatusBadRequest, res.status)

	res = h.do(t, fiber.MethodDelete, "/api/folders/My%20Lectures", "")
	assert.Equal(t, fiber.StatusNoContent, res.status)

	res = h.do(t, fiber.MethodGet, "/api/store", "")
	body := decode[map[string]any](t, res)
	assert.Equal(t, []any{domain.DefaultFolder}, body["folders"])
}

func TestMessagesRoute(t *testing.T) {
	h := newHarness(t)

	res := h.do(t, fiber.MethodPost, "/api/messages", `{"action":"openSettings"}`)
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, false, decode[map[string]any](t, res)["handled"])

	res = h.do(t, fiber.MethodPost, "/api/messages", `{"nope":1}`)
	assert.Equal(t, fiber.StatusBadRequest, res.status)

	res = h.do(t, fiber.MethodPost, "/api/messages", `{"action":"getAuthToken"}`)
	require.Equal(t, fiber.StatusOK, res.status)
	token, _ := decode[map[string]any](t, res)["token"].(string)
	_, err := h.issuer.Verify(token)
	assert.NoError(t, err)

	res = h.do(t, fiber.MethodPost, "/api/messages", `{"action":"saveNote","note":{"timestamp":4,"description":"from page","folder":"Default"}}`)
	require.Equal(t, fiber.StatusOK, res.status)

	res = h.do(t, fiber.MethodPost, "/api/messages", `{"action":"addNoteFromContextMenu","tabId":"none"}`)
	assert.Equal(t, fiber.StatusUnprocessableEntity, res.status)
}

func TestPopupRoutes(t *testing.T) {
	h := newHarness(t)

	res := h.do(t, fiber.MethodGet, "/api/popup", "")
	require.Equal(t, fiber.StatusOK, res.status)
	session := res.session
	require.NotEmpty(t, session)
	view := decode[popup.View](t, res)
	assert.Equal(t, popup.EmptyMessage, view.EmptyMessage)
	assert.False(t, view.CanDeleteFolder)

	res = h.do(t, fiber.MethodPost, "/api/popup/folders", `{"name":"Cooking"}`, sessionHeader, session)
	require.Equal(t, fiber.StatusCreated, res.status)
	assert.Equal(t, "Cooking", decode[popup.View](t, res).Active)

	res = h.do(t, fiber.MethodPost, "/api/popup/notes", `{"description":"salt"}`, sessionHeader, session)
	assert.Equal(t, fiber.StatusUnprocessableEntity, res.status)

	h.platform.AddVideoTab("t1", 75)
	res = h.do(t, fiber.MethodPost, "/api/popup/notes", `{"description":"salt"}`, sessionHeader, session)
	require.Equal(t, fiber.StatusCreated, res.status)
	added := decode[struct {
		Note domain.Note `json:"note"`
		View popup.View  `json:"view"`
	}](t, res)
	require.Len(t, added.View.Notes, 1)
	assert.Equal(t, "1:15", added.View.Notes[0].Time)

	h.platform.Pages["t1"].Position = 0
	res = h.do(t, fiber.MethodPost, "/api/popup/notes/"+added.Note.ID+"/seek", "", sessionHeader, session)
	assert.Equal(t, fiber.StatusNoContent, res.status)
	assert.Equal(t, []int{75}, h.platform.Seeks)

	res = h.do(t, fiber.MethodDelete, "/api/popup/folder", "", sessionHeader, session)
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, "Cooking", decode[popup.View](t, res).Active)

	res = h.do(t, fiber.MethodDelete, "/api/popup/folder?confirm=true", "", sessionHeader, session)
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, domain.DefaultFolder, decode[popup.View](t, res).Active)

	res = h.do(t, fiber.MethodPut, "/api/popup/folder", `{"folder":"Cooking"}`, sessionHeader, session)
	assert.Equal(t, fiber.StatusNotFound, res.status)

	res = h.do(t, fiber.MethodDelete, "/api/popup/folder?confirm=true", "", sessionHeader, session)
	assert.Equal(t, fiber.StatusBadRequest, res.status)
}

func TestBridgeUnavailableMapsTo503(t *testing.T) {
	assert.Equal(t, fiber.StatusServiceUnavailable, statusFor(host.ErrBridgeUnavailable))
	assert.Equal(t, fiber.StatusConflict, statusFor(store.ErrVersionConflict))
	assert.Equal(t, fiber.StatusInternalServerError, statusFor(assert.AnError))
	assert.Equal(t, fiber.StatusBadRequest, statusFor(fmt.Errorf("create note: %w", domain.ErrEmptyDescription)))
	assert.Equal(t, fiber.StatusBadRequest, statusFor(domain.ErrDefaultFolderProtected))
	assert.Equal(t, fiber.StatusConflict, statusFor(domain.ErrFolderExists))
}

func TestPathParamsDoNotAliasStoredKeys(t *testing.T) {
	h := newHarness(t)

	res := h.do(t, fiber.MethodPost, "/api/folders", `{"name":"Lectures"}`)
	require.Equal(t, fiber.StatusCreated, res.status)
	res = h.do(t, fiber.MethodPost, "/api/folders/Lectures/notes", `{"description":"intro","timestamp":90}`)
	require.Equal(t, fiber.StatusCreated, res.status)

	// A later request on another path reuses the request buffers.
	res = h.do(t, fiber.MethodDelete, "/api/folders/Default", "")
	assert.Equal(t, fiber.StatusBadRequest, res.status)

	st, _, err := h.svc.Snapshot(context.Background())
	require.NoError(t, err)
	require.NoError(t, st.Validate())
	require.Len(t, st.Notes["Lectures"], 1)
	assert.Equal(t, "intro", st.Notes["Lectures"][0].Description)
	assert.Empty(t, st.Notes[domain.DefaultFolder])
}

func TestPopupSessionSurvivesAndCloses(t *testing.T) {
	h := newHarness(t)

	res := h.do(t, fiber.MethodPost, "/api/popup/folders", `{"name":"Cooking"}`)
	require.Equal(t, fiber.StatusCreated, res.status)
	session := res.session

	h.do(t, fiber.MethodGet, "/api/folders", "")

	res = h.do(t, fiber.MethodGet, "/api/popup", "", sessionHeader, session)
	assert.Equal(t, "Cooking", decode[popup.View](t, res).Active)

	res = h.do(t, fiber.MethodDelete, "/api/popup", "", sessionHeader, session)
	assert.Equal(t, fiber.StatusNoContent, res.status)

	res = h.do(t, fiber.MethodGet, "/api/popup", "", sessionHeader, session)
	assert.Equal(t, domain.DefaultFolder, decode[popup.View](t, res).Active)
}

func TestHealthReportsBridge(t *testing.T) {
	h := newHarness(t)

	res := h.do(t, fiber.MethodGet, "/health", "")
	require.Equal(t, fiber.StatusOK, res.status)
	body := decode[map[string]any](t, res)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["extension"])
	assert.Equal(t, float64(0), body["sessions"])
}
