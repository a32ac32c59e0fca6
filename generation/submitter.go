package generation

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strconv"
	"time"

	"github.com/richinsley/comfypanel/client"
	"github.com/richinsley/comfypanel/graphapi"
	"github.com/richinsley/comfypanel/history"
)

var (
	// ErrNoWorkflow is returned when Generate is asked for without a loaded workflow
	ErrNoWorkflow = errors.New("no workflow loaded")
	// ErrTimeout is returned when the backend produced no image within the attempt budget
	ErrTimeout = errors.New("generation took longer than the allowed ceiling")

	errNoTerminalEvent = errors.New("generation ended without a result")
)

// RandomSeed is the seed value that asks for a fresh random seed on every submission
const RandomSeed = -1

// seeds are drawn from [0, maxSeed)
const maxSeed = 10_000_000_000_000

// PrimaryImagePolicy picks which image of a batch becomes the current result
type PrimaryImagePolicy string

const (
	PrimaryLast  PrimaryImagePolicy = "last"
	PrimaryFirst PrimaryImagePolicy = "first"
)

type Config struct {
	PollInterval time.Duration
	MaxAttempts  int
	PrimaryImage PrimaryImagePolicy
}

// DefaultConfig polls once a second for up to five minutes
func DefaultConfig() Config {
	return Config{
		PollInterval: time.Second,
		MaxAttempts:  300,
		PrimaryImage: PrimaryLast,
	}
}

// Backend is the part of the ComfyUI client a submission needs. *client.ComfyClient implements it.
type Backend interface {
	ClientID() string
	QueuePrompt(ctx context.Context, prompt interface{}) (*client.QueueItem, error)
	GetPromptHistory(ctx context.Context, promptID string) (*client.PromptHistoryItem, error)
	ImageURL(image client.DataOutput) string
}

// Request is everything one submission reads. None of it is modified.
type Request struct {
	Graph   *graphapi.Graph
	Mapping graphapi.MappingTable
	Values  graphapi.ControlValues
	// PromptText is stored with each resulting image; defaults to the positive prompt
	PromptText string
}

type Result struct {
	PromptID string
	Images   []history.RecentImage
	Primary  history.RecentImage
	Duration time.Duration
}

// Submitter runs the queue-then-poll state machine against a backend
type Submitter struct {
	config Config
	clock  Clock
	seeds  func() (int64, error)
	log    *slog.Logger
}

type Option func(*Submitter)

func WithClock(c Clock) Option {
	return func(s *Submitter) {
		s.clock = c
	}
}

// WithSeedSource replaces the crypto/rand seed generator
func WithSeedSource(fn func() (int64, error)) Option {
	return func(s *Submitter) {
		s.seeds = fn
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Submitter) {
		s.log = log
	}
}

func NewSubmitter(config Config, opts ...Option) *Submitter {
	def := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.PrimaryImage != PrimaryFirst {
		config.PrimaryImage = PrimaryLast
	}

	s := &Submitter{
		config: config,
		clock:  realClock{},
		seeds:  drawSeed,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Submitter) Config() Config {
	return s.config
}

func drawSeed() (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(maxSeed))
	if err != nil {
		return 0, err
	}
	return n.Int64(), nil
}

// IsRandomSeed reports whether v is the random sentinel, in any numeric representation
func IsRandomSeed(v interface{}) bool {
	sc, ok := graphapi.Coerce(v).Scalar()
	if !ok {
		return false
	}
	n, ok := sc.(interface{ String() string })
	if !ok {
		return false
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	return err == nil && !math.IsNaN(f) && f == RandomSeed
}

// resolveSeed returns a copy of values with the random sentinel replaced by a drawn seed
func (s *Submitter) resolveSeed(values graphapi.ControlValues) (graphapi.ControlValues, error) {
	retv := values.Copy()
	if !IsRandomSeed(retv[graphapi.ControlSeed]) {
		return retv, nil
	}
	seed, err := s.seeds()
	if err != nil {
		return nil, fmt.Errorf("drawing random seed: %w", err)
	}
	retv[graphapi.ControlSeed] = seed
	return retv, nil
}

// Submit starts a submission and returns its event stream. The caller must drain the
// channel until ctx is cancelled; it is closed after the terminal event. Cancelling ctx
// ends the run with a failed event carrying ctx.Err(), which a caller that stopped
// reading may never see.
func (s *Submitter) Submit(ctx context.Context, backend Backend, req Request) <-chan Event {
	events := make(chan Event, 1)
	go s.run(ctx, backend, req, events)
	return events
}

func (s *Submitter) run(ctx context.Context, backend Backend, req Request, events chan<- Event) {
	defer close(events)
	start := s.clock.Now()
	promptID := ""

	// send blocks until e is taken or ctx is done; after cancellation e is only
	// delivered if there is room for it
	send := func(e Event) bool {
		select {
		case events <- e:
			return true
		case <-ctx.Done():
		}
		select {
		case events <- e:
			return true
		default:
			return false
		}
	}
	fail := func(err error) {
		send(Event{
			Type:    EventFailed,
			Message: &EventFailedData{PromptID: promptID, Err: err, Duration: s.clock.Now().Sub(start)},
		})
	}

	if req.Graph == nil {
		fail(ErrNoWorkflow)
		return
	}
	if backend == nil {
		fail(errors.New("no backend configured"))
		return
	}

	values, err := s.resolveSeed(req.Values)
	if err != nil {
		fail(err)
		return
	}
	promptText := req.PromptText
	if promptText == "" {
		promptText = req.Values.String(graphapi.ControlPositivePrompt)
	}

	if !send(Event{
		Type:    EventStarted,
		Message: &EventStartedData{ClientID: backend.ClientID(), Seed: values[graphapi.ControlSeed], StartedAt: start},
	}) {
		return
	}

	prompt := graphapi.NewPrompt(backend.ClientID(), graphapi.Inject(req.Graph, req.Mapping, values))
	item, err := backend.QueuePrompt(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			fail(ctx.Err())
			return
		}
		fail(fmt.Errorf("failed to queue prompt: %w", err))
		return
	}
	promptID = item.PromptID
	log := s.log.With("prompt_id", promptID)

	if !send(Event{
		Type:    EventQueued,
		Message: &EventQueuedData{PromptID: promptID, Number: item.Number},
	}) {
		return
	}

	for attempt := 1; attempt <= s.config.MaxAttempts; attempt++ {
		if err := s.clock.Sleep(ctx, s.config.PollInterval); err != nil {
			fail(err)
			return
		}

		if !send(Event{
			Type:    EventPolling,
			Message: &EventPollingData{PromptID: promptID, Attempt: attempt, MaxAttempts: s.config.MaxAttempts},
		}) {
			return
		}

		h, err := backend.GetPromptHistory(ctx, promptID)
		if err != nil {
			if ctx.Err() != nil {
				fail(ctx.Err())
				return
			}
			// the backend answered but not with a history yet
			if client.IsStatusError(err) {
				log.Debug("history not ready", "attempt", attempt, "error", err)
				continue
			}
			fail(fmt.Errorf("polling history: %w", err))
			return
		}

		if _, images, ok := h.FirstImages(); ok {
			send(Event{
				Type:    EventSucceeded,
				Message: s.succeeded(backend, promptID, images, promptText, start),
			})
			return
		}
	}

	log.Warn("giving up on prompt", "attempts", s.config.MaxAttempts)
	send(Event{
		Type:    EventTimedOut,
		Message: &EventTimedOutData{PromptID: promptID, Attempts: s.config.MaxAttempts, Duration: s.clock.Now().Sub(start)},
	})
}

func (s *Submitter) succeeded(backend Backend, promptID string, images []client.DataOutput, promptText string, start time.Time) *EventSucceededData {
	now := s.clock.Now()
	batch := make([]history.RecentImage, len(images))
	for i, img := range images {
		batch[i] = history.RecentImage{
			ID:         fmt.Sprintf("%s_%d", promptID, i),
			URL:        backend.ImageURL(img),
			CreatedAt:  now,
			PromptText: promptText,
		}
	}

	primary := batch[len(batch)-1]
	if s.config.PrimaryImage == PrimaryFirst {
		primary = batch[0]
	}

	return &EventSucceededData{
		PromptID: promptID,
		Images:   batch,
		Primary:  primary,
		Duration: now.Sub(start),
	}
}
