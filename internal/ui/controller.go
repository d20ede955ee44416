// Package ui drives one query-to-render cycle against a View.
package ui

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/imgsearch/internal/logging"
	"github.com/example/imgsearch/internal/render"
	"github.com/example/imgsearch/internal/search"
)

// ErrSearchInProgress is returned when a query is triggered while another is running.
var ErrSearchInProgress = errors.New("search already in progress")

// Selection holds the input values read at trigger time.
type Selection struct {
	Image    []byte
	Filename string
	Limit    int
}

// Outcome describes a finished cycle.
type Outcome struct {
	RequestID string
	Query     search.Query
	State     State
	Matches   search.MatchSet
	Entries   []render.Entry
}

// Controller owns the UI state and runs query cycles one at a time.
type Controller struct {
	searcher  search.Searcher
	imageBase string
	logger    *zap.Logger

	mu       sync.Mutex
	inFlight bool
	state    State
}

// NewController returns an idle controller. imageBase prefixes the
// /images/<filename> references of rendered entries.
func NewController(searcher search.Searcher, imageBase string, logger *zap.Logger) *Controller {
	return &Controller{
		searcher:  searcher,
		imageBase: imageBase,
		logger:    logger.Named("ui_controller"),
	}
}

// State returns a snapshot of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Submit runs one cycle: it marks view busy, queries the backend, renders the
// accurate matches or an error, and always restores the idle controls.
// A missing image only triggers a notification.
func (c *Controller) Submit(ctx context.Context, view View, sel Selection) (*Outcome, error) {
	query, err := search.NewQuery(sel.Image, sel.Filename, sel.Limit)
	if err != nil {
		view.Notify(render.NoInputMessage)
		return nil, err
	}

	if !c.begin() {
		return nil, ErrSearchInProgress
	}

	requestID := uuid.NewString()
	opLogger := logging.WithOperation(c.logger, "ui.submit", requestID)
	outcome := &Outcome{RequestID: requestID, Query: query}

	defer func() {
		view.SetBusy(false)
		view.SetSubmitEnabled(true)
		c.finish()
	}()

	view.SetBusy(true)
	view.SetSubmitEnabled(false)
	view.ClearResults()
	view.ShowResults()

	matches, err := c.searcher.Search(ctx, query)
	if err != nil {
		message := err.Error()
		opLogger.Error("search failed", zap.Error(err))
		view.RenderError(message)
		outcome.State = State{Phase: PhaseError, Message: message}
		c.record(outcome.State)
		return outcome, logging.NewOperationError("ui.search", requestID, err)
	}

	visible := search.Filter(matches)
	entries := render.Entries(c.imageBase, visible)
	if len(entries) == 0 {
		view.RenderEmpty(render.NoMatchesMessage)
	} else {
		view.RenderEntries(entries)
	}

	outcome.Matches = matches
	outcome.Entries = entries
	outcome.State = State{Phase: PhaseRendered, Count: len(entries)}
	c.record(outcome.State)
	opLogger.Info("search rendered",
		zap.Int("topk", query.Limit),
		zap.Int("returned", len(matches)),
		zap.Int("visible", len(entries)),
	)
	return outcome, nil
}

// Empty reports whether the cycle rendered the no-accurate-matches indicator.
func (o *Outcome) Empty() bool {
	return o != nil && o.State.Phase == PhaseRendered && o.State.Count == 0
}

func (c *Controller) begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return false
	}
	c.inFlight = true
	c.state = State{Phase: PhaseSearching}
	return true
}

func (c *Controller) record(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) finish() {
	c.mu.Lock()
	c.inFlight = false
	c.state = State{Phase: PhaseIdle}
	c.mu.Unlock()
}
