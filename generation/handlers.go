package generation

import (
	"context"
	"errors"
	"log/slog"
)

// Handlers defines optional callbacks for the events of a submission. All handlers are
// optional; only provide the ones you care about.
type Handlers struct {
	OnStarted   func(*EventStartedData)
	OnQueued    func(*EventQueuedData)
	OnPolling   func(*EventPollingData)
	OnSucceeded func(*EventSucceededData)
	OnFailed    func(*EventFailedData)
	OnTimedOut  func(*EventTimedOutData)

	// OnComplete is called after the last event, regardless of the outcome
	OnComplete func()
}

// DefaultHandlers logs the lifecycle of a submission and nothing else
func DefaultHandlers(log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{
		OnQueued: func(msg *EventQueuedData) {
			log.Info("Prompt queued", "prompt_id", msg.PromptID, "number", msg.Number)
		},
		OnSucceeded: func(msg *EventSucceededData) {
			log.Info("Generation finished", "prompt_id", msg.PromptID, "images", len(msg.Images), "duration", msg.Duration)
		},
		OnFailed: func(msg *EventFailedData) {
			log.Error("Generation failed", "prompt_id", msg.PromptID, "error", msg.Err)
		},
		OnTimedOut: func(msg *EventTimedOutData) {
			log.Error("Generation timed out", "prompt_id", msg.PromptID, "attempts", msg.Attempts)
		},
	}
}

// WithStartedHandler adds a started handler (builder pattern)
func (h *Handlers) WithStartedHandler(fn func(*EventStartedData)) *Handlers {
	h.OnStarted = fn
	return h
}

// WithQueuedHandler adds a queued handler (builder pattern)
func (h *Handlers) WithQueuedHandler(fn func(*EventQueuedData)) *Handlers {
	h.OnQueued = fn
	return h
}

// WithPollingHandler adds a polling handler (builder pattern)
func (h *Handlers) WithPollingHandler(fn func(*EventPollingData)) *Handlers {
	h.OnPolling = fn
	return h
}

// WithSucceededHandler adds a succeeded handler (builder pattern)
func (h *Handlers) WithSucceededHandler(fn func(*EventSucceededData)) *Handlers {
	h.OnSucceeded = fn
	return h
}

// WithFailedHandler adds a failed handler (builder pattern)
func (h *Handlers) WithFailedHandler(fn func(*EventFailedData)) *Handlers {
	h.OnFailed = fn
	return h
}

// WithTimedOutHandler adds a timed out handler (builder pattern)
func (h *Handlers) WithTimedOutHandler(fn func(*EventTimedOutData)) *Handlers {
	h.OnTimedOut = fn
	return h
}

// WithCompleteHandler adds a complete handler (builder pattern)
func (h *Handlers) WithCompleteHandler(fn func()) *Handlers {
	h.OnComplete = fn
	return h
}

// Process drains events, dispatching each to its handler, until the channel closes.
// Once a terminal event arrives the Result is non-nil; after a failure or timeout it
// only carries the prompt id and the duration.
func (h *Handlers) Process(events <-chan Event) (*Result, error) {
	if h == nil {
		h = &Handlers{}
	}
	if h.OnComplete != nil {
		defer h.OnComplete()
	}

	var (
		result *Result
		err    = errNoTerminalEvent
	)

	for msg := range events {
		switch msg.Type {
		case EventStarted:
			if h.OnStarted != nil {
				h.OnStarted(msg.ToStarted())
			}
		case EventQueued:
			if h.OnQueued != nil {
				h.OnQueued(msg.ToQueued())
			}
		case EventPolling:
			if h.OnPolling != nil {
				h.OnPolling(msg.ToPolling())
			}
		case EventSucceeded:
			s := msg.ToSucceeded()
			if h.OnSucceeded != nil {
				h.OnSucceeded(s)
			}
			result = &Result{
				PromptID: s.PromptID,
				Images:   s.Images,
				Primary:  s.Primary,
				Duration: s.Duration,
			}
			err = nil
		case EventFailed:
			f := msg.ToFailed()
			if h.OnFailed != nil {
				h.OnFailed(f)
			}
			result = &Result{PromptID: f.PromptID, Duration: f.Duration}
			err = f.Err
			if err == nil {
				err = errors.New(f.Reason())
			}
		case EventTimedOut:
			to := msg.ToTimedOut()
			if h.OnTimedOut != nil {
				h.OnTimedOut(to)
			}
			result = &Result{PromptID: to.PromptID, Duration: to.Duration}
			err = ErrTimeout
		default:
			slog.Warn("Unknown event type received", "type", msg.Type)
		}
	}
	return result, err
}

// Run submits req and blocks until it finishes, dispatching events to handlers
func (s *Submitter) Run(ctx context.Context, backend Backend, req Request, handlers *Handlers) (*Result, error) {
	result, err := handlers.Process(s.Submit(ctx, backend, req))
	if errors.Is(err, errNoTerminalEvent) && ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, err
}
