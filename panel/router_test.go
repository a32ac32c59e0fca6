package panel

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, router http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	assert.Equal(t, problemContentType, rec.Header().Get("Content-Type"))
	var p APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestRouterWorkflowLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	router := NewRouter(f.panel, RouterConfig{})

	rec := serve(t, router, http.MethodPost, "/v1/workflow?name=txt2img.json", readWorkflow(t))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var st State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.HasWorkflow)
	assert.Equal(t, "txt2img.json", st.WorkflowName)

	rec = serve(t, router, http.MethodGet, "/v1/nodes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var nodes []NodeOption
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nodes))
	assert.Len(t, nodes, 7)

	rec = serve(t, router, http.MethodGet, "/v1/nodes/5/fields", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["width", "height", "batch_size"]`, rec.Body.String())

	rec = serve(t, router, http.MethodPut, "/v1/mapping/seed", []byte(`{"nodeId": "3", "field": "noise_seed"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"noise_seed"`)

	rec = serve(t, router, http.MethodDelete, "/v1/mapping/seed", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(t, router, http.MethodPost, "/v1/mapping/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "3", st.Mappings["seed"].NodeID)
	assert.Equal(t, "seed", st.Mappings["seed"].Field)

	rec = serve(t, router, http.MethodGet, "/v1/options/sampler_name", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var opts ControlOptions
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &opts))
	assert.Contains(t, opts.Options, "euler")
	assert.Equal(t, "euler", opts.Default)
}

func TestRouterUploadMultipart(t *testing.T) {
	f := newFixture(t, nil)
	router := NewRouter(f.panel, RouterConfig{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "wf.json")
	require.NoError(t, err)
	part.Write(readWorkflow(t))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/workflow", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "wf.json", f.panel.State().WorkflowName)

	rec = serve(t, router, http.MethodPost, "/v1/workflow", []byte("\x89PNG\r\n\x1a\nnot really"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouterInvalidWorkflow(t *testing.T) {
	f := newFixture(t, nil)
	router := NewRouter(f.panel, RouterConfig{})

	rec := serve(t, router, http.MethodPost, "/v1/workflow", []byte(`[1, 2, 3]`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	p := decodeProblem(t, rec)
	assert.Equal(t, http.StatusBadRequest, p.Status)
	assert.Equal(t, "Bad Request", p.Title)
	assert.Equal(t, "/v1/workflow", p.Instance)
	assert.Contains(t, p.Detail, "Save (API Format)")
}

func TestRouterValues(t *testing.T) {
	f := newFixture(t, nil)
	router := NewRouter(f.panel, RouterConfig{})

	rec := serve(t, router, http.MethodPut, "/v1/values/steps", []byte(`{"value": "many"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	p := decodeProblem(t, rec)
	require.Len(t, p.InvalidParams, 1)
	assert.Equal(t, "steps", p.InvalidParams[0].Name)

	rec = serve(t, router, http.MethodPut, "/v1/values/width", []byte(`{"value": 1024}`))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = serve(t, router, http.MethodPut, "/v1/values/height", []byte(`{"value": "1024"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"aspectRatio":"1:1"`)

	rec = serve(t, router, http.MethodPut, "/v1/values/positive_prompt", []byte(`{"value": "a fox"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a fox", f.panel.State().Values["positive_prompt"])

	rec = serve(t, router, http.MethodPut, "/v1/values/bogus", []byte(`{"value": 1}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, router, http.MethodPut, "/v1/values/steps", []byte(`{"value":`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouterPresets(t *testing.T) {
	f := newFixture(t, nil)
	router := NewRouter(f.panel, RouterConfig{})

	rec := serve(t, router, http.MethodPut, "/v1/aspect-ratio", []byte(`{"id": "16:9"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id": "16:9", "width": 1216, "height": 832}`, rec.Body.String())

	require.NoError(t, f.panel.SetValue("positive_prompt", "a ship"))
	rec = serve(t, router, http.MethodPost, "/v1/style", []byte(`{"id": "Oil Paint"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "a ship, oil painting, impasto")

	rec = serve(t, router, http.MethodPost, "/v1/style", []byte(`{"id": "Cubism"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, router, http.MethodPost, "/v1/prompt/random", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, router, http.MethodGet, "/v1/presets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Watercolor")
}

func TestRouterGenerate(t *testing.T) {
	f := newFixture(t, nil)
	router := NewRouter(f.panel, RouterConfig{})

	rec := serve(t, router, http.MethodPost, "/v1/generate", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "no workflow loaded", decodeProblem(t, rec).Detail)

	require.NoError(t, f.panel.LoadWorkflow("", readWorkflow(t)))
	rec = serve(t, router, http.MethodPost, "/v1/generate", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	f.panel.Wait()

	rec = serve(t, router, http.MethodGet, "/v1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var images []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &images))
	require.Len(t, images, 2)
	assert.Equal(t, "p-1_0", images[0]["id"])

	rec = serve(t, router, http.MethodPost, "/v1/history/p-1_0/select", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = serve(t, router, http.MethodPost, "/v1/history/missing/select", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, router, http.MethodDelete, "/v1/history", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, f.panel.State().RecentImages)
}

func TestRouterSettings(t *testing.T) {
	f := newFixture(t, nil)
	router := NewRouter(f.panel, RouterConfig{})

	rec := serve(t, router, http.MethodPut, "/v1/settings/theme", []byte(`{"theme": "light"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = serve(t, router, http.MethodPut, "/v1/settings/theme", []byte(`{"theme": "sepia"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, router, http.MethodPost, "/v1/settings/language/toggle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"language": "zh"}`, rec.Body.String())

	rec = serve(t, router, http.MethodPut, "/v1/settings/backend", []byte(`{"url": "ftp://nowhere"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(t, router, http.MethodPut, "/v1/settings/backend", []byte(`{"url": "`+f.srv.URL+`/"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"url": "`+f.srv.URL+`"}`, rec.Body.String())

	rec = serve(t, router, http.MethodPost, "/v1/connection/check", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	f.srv.Close()
	rec = serve(t, router, http.MethodPost, "/v1/connection/check", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRouterCORSAndNotFound(t *testing.T) {
	f := newFixture(t, nil)
	router := NewRouter(f.panel, RouterConfig{})

	req := httptest.NewRequest(http.MethodOptions, "/v1/state", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = serve(t, router, http.MethodGet, "/v1/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, http.StatusNotFound, decodeProblem(t, rec).Status)
}
