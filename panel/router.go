package panel

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/richinsley/comfypanel/client"
	"github.com/richinsley/comfypanel/generation"
	"github.com/richinsley/comfypanel/graphapi"
)

// maxWorkflowSize bounds uploaded workflow JSON and PNG files
const maxWorkflowSize = 32 << 20

type RouterConfig struct {
	// AllowOrigins limits CORS; empty allows every origin
	AllowOrigins []string
	Logger       *slog.Logger
}

// NewRouter exposes p as a JSON API under /v1
func NewRouter(p *Panel, config RouterConfig) *gin.Engine {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	g := gin.New()
	g.Use(gin.Recovery())
	g.Use(requestLogger(config.Logger))

	corsConfig := cors.DefaultConfig()
	if len(config.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = config.AllowOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "HEAD", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type"}
	g.Use(cors.New(corsConfig))

	h := &handler{panel: p, log: config.Logger}
	root := g.Group("/v1")

	root.GET("/state", h.getState)
	root.GET("/presets", h.getPresets)

	root.POST("/workflow", h.postWorkflow)
	root.POST("/mapping/reset", h.resetMapping)
	root.PUT("/mapping/:control", h.putMapping)
	root.DELETE("/mapping/:control", h.deleteMapping)

	root.PUT("/values/:control", h.putValue)
	root.POST("/prompt/random", h.randomPrompt)
	root.PUT("/aspect-ratio", h.putAspectRatio)
	root.POST("/style", h.postStyle)

	root.POST("/generate", h.generate)

	root.GET("/history", h.getHistory)
	root.DELETE("/history", h.clearHistory)
	root.POST("/history/:id/select", h.selectRecent)

	root.PUT("/settings/backend", h.putBackend)
	root.PUT("/settings/theme", h.putTheme)
	root.PUT("/settings/language", h.putLanguage)
	root.POST("/settings/language/toggle", h.toggleLanguage)
	root.POST("/connection/check", h.checkConnection)

	root.GET("/nodes", h.getNodes)
	root.GET("/nodes/:id/fields", h.getNodeFields)
	root.GET("/options/:control", h.getOptions)

	g.NoRoute(func(c *gin.Context) {
		abortWithProblem(c, NewNotFound("", "no such route"))
	})
	return g
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start))
	}
}

type handler struct {
	panel *Panel
	log   *slog.Logger
}

// problemFor maps panel and backend errors onto HTTP problems
func problemFor(err error) APIError {
	var apiErr APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, ErrBusy), errors.Is(err, generation.ErrNoWorkflow):
		return NewConflict("", err.Error())
	case errors.Is(err, ErrUnknownControl), errors.Is(err, ErrUnknownNode), errors.Is(err, ErrUnknownImage):
		return NewNotFound("", err.Error())
	case errors.Is(err, ErrUnknownStyle),
		errors.Is(err, ErrInvalidTheme),
		errors.Is(err, ErrInvalidLanguage),
		errors.Is(err, ErrInvalidValue),
		errors.Is(err, graphapi.ErrInvalidWorkflow),
		errors.Is(err, graphapi.ErrNoPromptMetadata),
		errors.Is(err, client.ErrInvalidEndpoint):
		return NewBadRequest("", err.Error())
	case errors.Is(err, ErrNoBackend):
		return NewServiceUnavailable(err.Error())
	case client.IsStatusError(err):
		return NewBadGateway(err.Error())
	}
	return NewInternalServerError(err.Error())
}

func (h *handler) fail(c *gin.Context, err error) {
	p := problemFor(err)
	if p.Status >= http.StatusInternalServerError {
		h.log.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	abortWithProblem(c, p)
}

// bindJSON decodes the request body keeping numbers as json.Number
func bindJSON(c *gin.Context, v interface{}) error {
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return NewBadRequest("", fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

func parseControlParam(c *gin.Context) (graphapi.Control, error) {
	ctl, err := graphapi.ParseControl(c.Param("control"))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownControl, c.Param("control"))
	}
	return ctl, nil
}

func (h *handler) getState(c *gin.Context) {
	c.JSON(http.StatusOK, h.panel.State())
}

func (h *handler) getPresets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"aspectRatios": AspectRatios(),
		"styles":       Styles(),
		"controls":     graphapi.AllControls(),
	})
}

// postWorkflow accepts a raw JSON or PNG body, or a multipart form with a "file" part
func (h *handler) postWorkflow(c *gin.Context) {
	name := c.Query("name")
	var body io.Reader = http.MaxBytesReader(c.Writer, c.Request.Body, maxWorkflowSize)

	if c.ContentType() == "multipart/form-data" {
		file, err := c.FormFile("file")
		if err != nil {
			h.fail(c, NewBadRequest("", "multipart upload needs a file part"))
			return
		}
		f, err := file.Open()
		if err != nil {
			h.fail(c, NewBadRequest("", err.Error()))
			return
		}
		defer f.Close()
		body = io.LimitReader(f, maxWorkflowSize)
		if name == "" {
			name = file.Filename
		}
	}

	data, err := io.ReadAll(body)
	if err != nil {
		h.fail(c, NewBadRequest("", fmt.Sprintf("reading workflow: %v", err)))
		return
	}
	// anything LoadWorkflow rejects is a problem with the upload itself
	if err := h.panel.LoadWorkflow(name, data); err != nil {
		h.fail(c, NewBadRequest("", err.Error()))
		return
	}
	c.JSON(http.StatusOK, h.panel.State())
}

func (h *handler) resetMapping(c *gin.Context) {
	if err := h.panel.ResetMapping(); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.panel.State())
}

type mappingBody struct {
	NodeID string `json:"nodeId"`
	Field  string `json:"field"`
}

func (h *handler) putMapping(c *gin.Context) {
	ctl, err := parseControlParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var body mappingBody
	if err := bindJSON(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.panel.SetMapping(ctl, body.NodeID, body.Field); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.panel.State().Mappings)
}

func (h *handler) deleteMapping(c *gin.Context) {
	ctl, err := parseControlParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.panel.ClearMapping(ctl); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type valueBody struct {
	Value interface{} `json:"value"`
}

func (h *handler) putValue(c *gin.Context) {
	ctl, err := parseControlParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var body valueBody
	if err := bindJSON(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	if ctl.IsNumeric() && !graphapi.IsNumber(graphapi.Coerce(body.Value)) {
		h.fail(c, NewBadRequest("", fmt.Sprintf("%s must be a number", ctl.Label()),
			InvalidParam{Name: string(ctl), Reason: "not a number"}))
		return
	}
	if err := h.panel.SetValue(ctl, body.Value); err != nil {
		h.fail(c, err)
		return
	}
	st := h.panel.State()
	c.JSON(http.StatusOK, gin.H{"values": st.Values, "aspectRatio": st.AspectRatio})
}

func (h *handler) randomPrompt(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"prompt": h.panel.RandomPrompt()})
}

type idBody struct {
	ID string `json:"id"`
}

func (h *handler) putAspectRatio(c *gin.Context) {
	var body idBody
	if err := bindJSON(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.panel.SetAspectRatio(body.ID))
}

func (h *handler) postStyle(c *gin.Context) {
	var body idBody
	if err := bindJSON(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	prompt, err := h.panel.ApplyStyle(body.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"style": body.ID, "prompt": prompt})
}

func (h *handler) generate(c *gin.Context) {
	if err := h.panel.Generate(); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, h.panel.State())
}

func (h *handler) getHistory(c *gin.Context) {
	c.JSON(http.StatusOK, h.panel.State().RecentImages)
}

func (h *handler) clearHistory(c *gin.Context) {
	if err := h.panel.ClearHistory(); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) selectRecent(c *gin.Context) {
	img, err := h.panel.SelectRecent(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, img)
}

func (h *handler) putBackend(c *gin.Context) {
	var body struct {
		URL string `json:"url"`
	}
	if err := bindJSON(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.panel.SetBackendURL(body.URL); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": h.panel.State().BackendURL})
}

func (h *handler) putTheme(c *gin.Context) {
	var body struct {
		Theme string `json:"theme"`
	}
	if err := bindJSON(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.panel.SetTheme(body.Theme); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"theme": body.Theme})
}

func (h *handler) putLanguage(c *gin.Context) {
	var body struct {
		Language string `json:"language"`
	}
	if err := bindJSON(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.panel.SetLanguage(body.Language); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"language": body.Language})
}

func (h *handler) toggleLanguage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"language": h.panel.ToggleLanguage()})
}

func (h *handler) checkConnection(c *gin.Context) {
	if err := h.panel.CheckConnection(c.Request.Context()); err != nil {
		if errors.Is(err, ErrNoBackend) {
			h.fail(c, err)
			return
		}
		h.fail(c, NewBadGateway(err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"online": true})
}

func (h *handler) getNodes(c *gin.Context) {
	c.JSON(http.StatusOK, h.panel.NodeOptions())
}

func (h *handler) getNodeFields(c *gin.Context) {
	fields, err := h.panel.FieldsForNode(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, fields)
}

func (h *handler) getOptions(c *gin.Context) {
	ctl, err := parseControlParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	opts, err := h.panel.ControlOptions(ctl)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, opts)
}
