package api

import (
	stdcontext "context"
	"errors"
	"time"

	"github.com/Paintersrp/tether/internal/journal"
	"github.com/Paintersrp/tether/internal/supervisor"
)

var (
	ErrJournalDisabled = errors.New("journal disabled")
	ErrInvalidLimit    = errors.New("invalid limit")
)

// StatusReport describes the launcher and its backend.
type StatusReport struct {
	Version     string              `json:"version"`
	GeneratedAt time.Time           `json:"generated_at"`
	Backend     supervisor.Snapshot `json:"backend"`
}

// HistoryReport lists recent lifecycle events, newest first.
type HistoryReport struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Events      []journal.Entry `json:"events"`
}

// Controller exposes launcher state to control servers.
type Controller interface {
	Status(stdcontext.Context) (*StatusReport, error)
	History(stdcontext.Context, int) (*HistoryReport, error)
}

// StatusSource provides the supervisor view.
type StatusSource interface {
	Snapshot() supervisor.Snapshot
}

// HistorySource provides persisted lifecycle events.
type HistorySource interface {
	Recent(stdcontext.Context, int) ([]journal.Entry, error)
}

// LauncherController serves status from a supervisor and history from an
// optional journal.
type LauncherController struct {
	status  StatusSource
	history HistorySource
	version string
	now     func() time.Time
}

// NewController builds a Controller. history may be nil when the journal is
// disabled.
func NewController(status StatusSource, history HistorySource, version string) *LauncherController {
	return &LauncherController{status: status, history: history, version: version, now: time.Now}
}

// Status implements Controller.
func (c *LauncherController) Status(ctx stdcontext.Context) (*StatusReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &StatusReport{
		Version:     c.version,
		GeneratedAt: c.now().UTC(),
		Backend:     c.status.Snapshot(),
	}, nil
}

// History implements Controller.
func (c *LauncherController) History(ctx stdcontext.Context, limit int) (*HistoryReport, error) {
	if c.history == nil {
		return nil, ErrJournalDisabled
	}
	if limit < 0 || limit > journal.MaxLimit {
		return nil, ErrInvalidLimit
	}
	entries, err := c.history.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	return &HistoryReport{GeneratedAt: c.now().UTC(), Events: entries}, nil
}
