package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/hako/durafmt"
	"github.com/richinsley/comfypanel/client"
	"github.com/richinsley/comfypanel/generation"
	"github.com/richinsley/comfypanel/graphapi"
	"github.com/richinsley/comfypanel/history"
	"github.com/richinsley/comfypanel/store"
)

var (
	// ErrBusy is returned by Generate while a generation is already running
	ErrBusy            = errors.New("a generation is already in progress")
	ErrUnknownControl  = errors.New("unknown control")
	ErrUnknownNode     = errors.New("unknown node")
	ErrUnknownStyle    = errors.New("unknown style")
	ErrUnknownImage    = errors.New("unknown recent image")
	ErrInvalidTheme    = errors.New("theme must be dark or light")
	ErrInvalidLanguage = errors.New("language must be en or zh")
	ErrInvalidValue    = errors.New("invalid control value")
	ErrNoBackend       = errors.New("no backend configured")
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusGenerating Status = "generating"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

const (
	ThemeDark     = "dark"
	ThemeLight    = "light"
	LanguageEn    = "en"
	LanguageZh    = "zh"
	noWorkflowTag = "No Workflow Loaded"
)

// Preferences is where the panel keeps settings between restarts. *store.Store implements it.
type Preferences interface {
	GetStringOr(key string, def string) string
	PutString(key string, value string) error
}

type Options struct {
	Session   *client.Session
	Prober    *client.Prober
	Submitter *generation.Submitter
	History   *history.History
	// Preferences may be nil, in which case nothing is remembered
	Preferences       Preferences
	DefaultBackendURL string
	Logger            *slog.Logger
}

// Panel is the controller that owns the loaded workflow, its mapping and the live
// control values, and drives generations against the backend.
type Panel struct {
	mu sync.Mutex

	graph        *graphapi.Graph
	workflowName string
	mapping      graphapi.MappingTable
	values       graphapi.ControlValues
	aspectRatio  string
	style        string

	status       Status
	errorMessage string
	currentImage string
	lastDuration time.Duration
	hasDuration  bool

	theme    string
	language string

	session   *client.Session
	prober    *client.Prober
	submitter *generation.Submitter
	history   *history.History
	prefs     Preferences
	log       *slog.Logger

	// generations run under ctx so shutdown cancels them
	ctx context.Context
	wg  sync.WaitGroup
}

// New builds a panel from its collaborators and restores the persisted preferences.
// ctx bounds every generation the panel starts.
func New(ctx context.Context, opts Options) (*Panel, error) {
	if opts.Session == nil {
		return nil, errors.New("panel needs a session")
	}
	if opts.Submitter == nil {
		opts.Submitter = generation.NewSubmitter(generation.DefaultConfig())
	}
	if opts.History == nil {
		opts.History = history.New(nil, store.KeyHistory, opts.Logger)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultBackendURL == "" {
		opts.DefaultBackendURL = "http://127.0.0.1:8188"
	}

	p := &Panel{
		workflowName: noWorkflowTag,
		mapping:      make(graphapi.MappingTable),
		values:       graphapi.DefaultControlValues(),
		aspectRatio:  "9:16",
		style:        "Realistic",
		status:       StatusIdle,
		theme:        ThemeDark,
		language:     LanguageEn,
		session:      opts.Session,
		prober:       opts.Prober,
		submitter:    opts.Submitter,
		history:      opts.History,
		prefs:        opts.Preferences,
		log:          opts.Logger,
		ctx:          ctx,
	}

	if err := p.history.Load(); err != nil {
		p.log.Warn("Could not load recent images", "error", err)
	}

	backendURL := opts.DefaultBackendURL
	if p.prefs != nil {
		backendURL = p.prefs.GetStringOr(store.KeyBackendURL, backendURL)
		if t := p.prefs.GetStringOr(store.KeyTheme, ThemeDark); t == ThemeLight {
			p.theme = ThemeLight
		}
		if l := p.prefs.GetStringOr(store.KeyLanguage, LanguageEn); l == LanguageZh {
			p.language = LanguageZh
		}
	}

	if err := p.session.Reconfigure(backendURL); err != nil {
		p.log.Warn("Stored backend url is invalid, using default", "url", backendURL, "error", err)
		if err := p.session.Reconfigure(opts.DefaultBackendURL); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Wait blocks until every generation started by the panel has finished
func (p *Panel) Wait() {
	p.wg.Wait()
}

// LoadWorkflow replaces the workflow with the one in data, which may be API-format
// JSON or a PNG saved by ComfyUI. The mapping is rebuilt and the workflow's own values
// are merged over the current ones. On error nothing changes.
func (p *Panel) LoadWorkflow(name string, data []byte) error {
	var (
		g   *graphapi.Graph
		err error
	)
	if graphapi.IsPNG(data) {
		g, err = graphapi.NewGraphFromPNGReader(bytes.NewReader(data))
	} else {
		g, err = graphapi.NewGraphFromJsonBytes(data)
	}
	if err != nil {
		return err
	}

	mapping := graphapi.AutoMap(g)
	defaults := graphapi.ExtractDefaults(g, mapping)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.graph = g
	if name == "" {
		name = "workflow.json"
	}
	p.workflowName = name
	p.mapping = mapping
	p.mergeValuesLocked(defaults)

	p.log.Info("Workflow loaded", "name", name, "nodes", g.Len(), "mapped", len(mapping))
	return nil
}

// ResetMapping runs the auto-mapper again and pulls the workflow's values back in
func (p *Panel) ResetMapping() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.graph == nil {
		return generation.ErrNoWorkflow
	}
	p.mapping = graphapi.AutoMap(p.graph)
	p.mergeValuesLocked(graphapi.ExtractDefaults(p.graph, p.mapping))
	return nil
}

func (p *Panel) mergeValuesLocked(partial graphapi.ControlValues) {
	p.values.Merge(partial)
	_, w := partial[graphapi.ControlWidth]
	_, h := partial[graphapi.ControlHeight]
	if w || h {
		p.recomputeAspectLocked()
	}
}

// SetMapping points c at field of node nodeID. The node must exist; the field need not,
// which lets a mapping add an input the workflow leaves implicit.
func (p *Panel) SetMapping(c graphapi.Control, nodeID string, field string) error {
	if _, err := graphapi.ParseControl(string(c)); err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownControl, c)
	}
	if field == "" {
		return fmt.Errorf("%w: field is required", ErrInvalidValue)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.graph == nil {
		return generation.ErrNoWorkflow
	}
	if p.graph.GetNodeById(nodeID) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}
	p.mapping.Set(c, nodeID, field)
	return nil
}

func (p *Panel) ClearMapping(c graphapi.Control) error {
	if _, err := graphapi.ParseControl(string(c)); err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownControl, c)
	}
	p.mu.Lock()
	p.mapping.Unset(c)
	p.mu.Unlock()
	return nil
}

// SetValue stores value for c. Numeric controls are not checked here; Generate
// validates the whole set before submitting.
func (p *Panel) SetValue(c graphapi.Control, value interface{}) error {
	if _, err := graphapi.ParseControl(string(c)); err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownControl, c)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[c] = value
	if c == graphapi.ControlWidth || c == graphapi.ControlHeight {
		p.recomputeAspectLocked()
	}
	return nil
}

func (p *Panel) recomputeAspectLocked() {
	w, wok := numberOf(p.values[graphapi.ControlWidth])
	h, hok := numberOf(p.values[graphapi.ControlHeight])
	if !wok || !hok {
		p.aspectRatio = AspectCustom
		return
	}
	p.aspectRatio = matchAspectRatio(w, h)
}

func numberOf(v interface{}) (float64, bool) {
	sc, ok := graphapi.Coerce(v).Scalar()
	if !ok {
		return 0, false
	}
	n, ok := sc.(json.Number)
	if !ok {
		return 0, false
	}
	f, err := n.Float64()
	return f, err == nil
}

// SetAspectRatio writes the preset's dimensions. Unknown ids keep their name but get
// a square image.
func (p *Panel) SetAspectRatio(id string) AspectRatio {
	ar, _ := lookupAspectRatio(id)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.aspectRatio = id
	p.values[graphapi.ControlWidth] = ar.Width
	p.values[graphapi.ControlHeight] = ar.Height
	return AspectRatio{ID: id, Width: ar.Width, Height: ar.Height}
}

// ApplyStyle selects a style and appends its keywords to the positive prompt
func (p *Panel) ApplyStyle(id string) (string, error) {
	s, ok := lookupStyle(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownStyle, id)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.style = s.ID
	prompt := appendKeywords(p.values.String(graphapi.ControlPositivePrompt), s.Keywords)
	p.values[graphapi.ControlPositivePrompt] = prompt
	return prompt, nil
}

// RandomPrompt replaces the positive prompt with one of the built-in prompts
func (p *Panel) RandomPrompt() string {
	prompt := pickRandomPrompt()
	p.mu.Lock()
	p.values[graphapi.ControlPositivePrompt] = prompt
	p.mu.Unlock()
	return prompt
}

// Generate starts a generation in the background. It returns once the submission is
// accepted for running; the outcome shows up in State.
func (p *Panel) Generate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status == StatusGenerating {
		return ErrBusy
	}
	if p.graph == nil {
		return generation.ErrNoWorkflow
	}
	if err := p.values.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	backend := p.session.Client()
	if backend == nil {
		return ErrNoBackend
	}

	req := generation.Request{
		Graph:      p.graph,
		Mapping:    p.mapping.Copy(),
		Values:     p.values.Copy(),
		PromptText: p.values.String(graphapi.ControlPositivePrompt),
	}
	p.status = StatusGenerating
	p.errorMessage = ""

	handlers := generation.DefaultHandlers(p.log)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		res, err := p.submitter.Run(p.ctx, backend, req, handlers)
		p.finish(res, err)
	}()
	return nil
}

func (p *Panel) finish(res *generation.Result, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// every terminal event carries its duration; a run that never started has none
	p.hasDuration = res != nil
	if res != nil {
		p.lastDuration = res.Duration
	}

	if err != nil {
		p.status = StatusError
		p.errorMessage = err.Error()
		return
	}

	if herr := p.history.PrependBatch(res.Images); herr != nil {
		p.log.Error("Could not save recent images", "error", herr)
	}
	p.status = StatusSuccess
	p.currentImage = res.Primary.URL
}

// SetBackendURL switches to a new backend and remembers it. In-flight generations keep
// talking to the backend they started on.
func (p *Panel) SetBackendURL(endpoint string) error {
	if err := p.session.Reconfigure(endpoint); err != nil {
		return err
	}
	if p.prefs != nil {
		if err := p.prefs.PutString(store.KeyBackendURL, p.session.Endpoint()); err != nil {
			p.log.Error("Could not save backend url", "error", err)
		}
	}
	if p.prober != nil {
		go p.prober.CheckNow(p.ctx)
	}
	return nil
}

func (p *Panel) SetTheme(theme string) error {
	if theme != ThemeDark && theme != ThemeLight {
		return ErrInvalidTheme
	}
	p.mu.Lock()
	p.theme = theme
	p.mu.Unlock()
	p.savePreference(store.KeyTheme, theme)
	return nil
}

func (p *Panel) SetLanguage(lang string) error {
	if lang != LanguageEn && lang != LanguageZh {
		return ErrInvalidLanguage
	}
	p.mu.Lock()
	p.language = lang
	p.mu.Unlock()
	p.savePreference(store.KeyLanguage, lang)
	return nil
}

// ToggleLanguage flips between English and Chinese and returns the new language
func (p *Panel) ToggleLanguage() string {
	p.mu.Lock()
	if p.language == LanguageEn {
		p.language = LanguageZh
	} else {
		p.language = LanguageEn
	}
	lang := p.language
	p.mu.Unlock()
	p.savePreference(store.KeyLanguage, lang)
	return lang
}

func (p *Panel) savePreference(key, value string) {
	if p.prefs == nil {
		return
	}
	if err := p.prefs.PutString(key, value); err != nil {
		p.log.Error("Could not save preference", "key", key, "error", err)
	}
}

func (p *Panel) ClearHistory() error {
	return p.history.Clear()
}

// SelectRecent shows a previously generated image as the current result
func (p *Panel) SelectRecent(id string) (history.RecentImage, error) {
	img, ok := p.history.Find(id)
	if !ok {
		return history.RecentImage{}, fmt.Errorf("%w: %s", ErrUnknownImage, id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusGenerating {
		p.status = StatusSuccess
	}
	p.currentImage = img.URL
	return img, nil
}

// CheckConnection probes the backend now instead of waiting for the next tick
func (p *Panel) CheckConnection(ctx context.Context) error {
	if p.prober != nil {
		return p.prober.CheckNow(ctx)
	}
	c := p.session.Client()
	if c == nil {
		return ErrNoBackend
	}
	return c.CheckConnection(ctx)
}

type NodeOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// NodeOptions lists the workflow's nodes for the mapping editor
func (p *Panel) NodeOptions() []NodeOption {
	p.mu.Lock()
	defer p.mu.Unlock()
	retv := make([]NodeOption, 0)
	if p.graph == nil {
		return retv
	}
	for _, n := range p.graph.Nodes() {
		retv = append(retv, NodeOption{ID: n.ID, Label: n.ID + ": " + n.Title()})
	}
	return retv
}

// FieldsForNode returns the input names of a node in workflow order
func (p *Panel) FieldsForNode(nodeID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.graph == nil {
		return nil, generation.ErrNoWorkflow
	}
	n := p.graph.GetNodeById(nodeID)
	if n == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}
	return n.InputNames(), nil
}

// MappedDefault is a short preview of the workflow value a control is mapped to,
// or "-" when there is none.
func (p *Panel) MappedDefault(c graphapi.Control) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.graph == nil {
		return "-"
	}
	nm, ok := p.mapping.Get(c)
	if !ok {
		return "-"
	}
	n := p.graph.GetNodeById(nm.NodeID)
	if n == nil {
		return "-"
	}
	v, ok := n.GetInput(nm.Field)
	if !ok {
		return "-"
	}
	if v.Kind() == graphapi.KindScalar {
		sc, _ := v.Scalar()
		if sc == nil {
			return "null"
		}
		return fmt.Sprint(sc)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "-"
	}
	if len(b) > 20 {
		b = b[:20]
	}
	return string(b) + "..."
}

// ControlOptions describes one control for the editor: its choices (nil for free
// input) and its mapped default.
type ControlOptions struct {
	Control graphapi.Control      `json:"control"`
	Label   string                `json:"label"`
	Type    graphapi.ValueType    `json:"type"`
	Options []string              `json:"options,omitempty"`
	Mapping *graphapi.NodeMapping `json:"mapping,omitempty"`
	Default string                `json:"default"`
}

func (p *Panel) ControlOptions(c graphapi.Control) (ControlOptions, error) {
	if _, err := graphapi.ParseControl(string(c)); err != nil {
		return ControlOptions{}, fmt.Errorf("%w: %s", ErrUnknownControl, c)
	}
	retv := ControlOptions{
		Control: c,
		Label:   c.Label(),
		Type:    c.ValueType(),
		Options: graphapi.FieldOptions(c),
		Default: p.MappedDefault(c),
	}
	p.mu.Lock()
	if nm, ok := p.mapping.Get(c); ok {
		retv.Mapping = &nm
	}
	p.mu.Unlock()
	return retv, nil
}

// State is a point-in-time snapshot of the panel for rendering
type State struct {
	WorkflowName     string                 `json:"workflowName"`
	HasWorkflow      bool                   `json:"hasWorkflow"`
	NodeCount        int                    `json:"nodeCount"`
	Mappings         graphapi.MappingTable  `json:"mappings"`
	StaleMappings    []graphapi.Control     `json:"staleMappings,omitempty"`
	Values           map[string]interface{} `json:"values"`
	AspectRatio      string                 `json:"aspectRatio"`
	Style            string                 `json:"style"`
	Status           Status                 `json:"status"`
	ErrorMessage     string                 `json:"errorMessage,omitempty"`
	CurrentImage     string                 `json:"currentImage,omitempty"`
	LastDuration     *float64               `json:"lastDuration,omitempty"`
	LastDurationText string                 `json:"lastDurationText,omitempty"`
	BackendURL       string                 `json:"backendUrl"`
	BackendOnline    bool                   `json:"backendOnline"`
	SocketConnected  bool                   `json:"socketConnected"`
	ClientID         string                 `json:"clientId"`
	Theme            string                 `json:"theme"`
	Language         string                 `json:"language"`
	RecentImages     []history.RecentImage  `json:"recentImages"`
}

func (p *Panel) State() State {
	p.mu.Lock()
	s := State{
		WorkflowName: p.workflowName,
		HasWorkflow:  p.graph != nil,
		Mappings:     p.mapping.Copy(),
		Values:       jsonValues(p.values),
		AspectRatio:  p.aspectRatio,
		Style:        p.style,
		Status:       p.status,
		ErrorMessage: p.errorMessage,
		CurrentImage: p.currentImage,
		Theme:        p.theme,
		Language:     p.language,
	}
	if p.graph != nil {
		s.NodeCount = p.graph.Len()
		if stale := p.mapping.Stale(p.graph); len(stale) > 0 {
			s.StaleMappings = stale
		}
	}
	if p.hasDuration {
		secs := math.Round(p.lastDuration.Seconds()*10) / 10
		s.LastDuration = &secs
		s.LastDurationText = durafmt.Parse(p.lastDuration.Round(100 * time.Millisecond)).LimitFirstN(2).String()
	}
	p.mu.Unlock()

	s.BackendURL = p.session.Endpoint()
	s.SocketConnected = p.session.SocketConnected()
	s.ClientID = p.session.ClientID()
	if p.prober != nil {
		s.BackendOnline = p.prober.Online()
	}
	s.RecentImages = p.history.Entries()
	return s
}

// jsonValues renders control values so they always encode, turning non-finite
// numbers into strings
func jsonValues(values graphapi.ControlValues) map[string]interface{} {
	retv := make(map[string]interface{}, len(values))
	for c, v := range values {
		if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			retv[string(c)] = strconv.FormatFloat(f, 'g', -1, 64)
			continue
		}
		retv[string(c)] = v
	}
	return retv
}
