package host

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/Paintersrp/tether/internal/supervisor"
)

const (
	tableTitle            = "Backend"
	eventsTitle           = "Events"
	filterPageName        = "filter"
	defaultEventRetention = 500
	eventBuffer           = 256
)

// TUIOption configures the terminal host.
type TUIOption func(*TUI)

// WithBackend seeds the status table so the backend is listed before its
// first event arrives.
func WithBackend(name string) TUIOption {
	return func(u *TUI) {
		if name != "" {
			u.backends[name] = &backendRow{name: name, state: supervisor.NotStarted}
		}
	}
}

func withScreen(screen tcell.Screen) TUIOption {
	return func(u *TUI) {
		u.app.SetScreen(screen)
	}
}

// TUI is an interactive terminal host backed by tview. It shows the backend
// state and a scrolling log of lifecycle events. Pressing q quits the host.
type TUI struct {
	app    *tview.Application
	pages  *tview.Pages
	table  *tview.Table
	log    *tview.TextView
	events chan supervisor.Event

	backends map[string]*backendRow
	history  []eventRecord

	visible     []string
	raw         bool
	filter      string
	filterExpr  *regexp.Regexp
	logFocused  bool
	maxEvents   int
	droppedSeen int

	mu sync.RWMutex

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

type backendRow struct {
	name    string
	state   supervisor.State
	id      string
	pid     int
	since   time.Time
	message string
}

type eventRecord struct {
	Time    time.Time `json:"time"`
	Backend string    `json:"backend"`
	Type    string    `json:"type"`
	State   string    `json:"state"`
	ID      string    `json:"id,omitempty"`
	PID     int       `json:"pid,omitempty"`
	Error   string    `json:"error,omitempty"`
}

func newEventRecord(evt supervisor.Event) eventRecord {
	return eventRecord{
		Time:    evt.Timestamp,
		Backend: evt.Backend,
		Type:    string(evt.Type),
		State:   evt.State.String(),
		ID:      evt.ID,
		PID:     evt.PID,
		Error:   evt.Message(),
	}
}

func (r eventRecord) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s -> %s", r.Time.Format("15:04:05"), r.Backend, r.Type, r.State)
	if r.PID > 0 {
		fmt.Fprintf(&b, " pid=%d", r.PID)
	} else if r.ID != "" {
		fmt.Fprintf(&b, " id=%s", r.ID)
	}
	if r.Error != "" {
		fmt.Fprintf(&b, " error=%q", r.Error)
	}
	return b.String()
}

// NewTUI constructs the terminal host.
func NewTUI(opts ...TUIOption) *TUI {
	app := tview.NewApplication()
	table := tview.NewTable().SetFixed(1, 1).SetSelectable(true, false)
	table.SetBorder(true).SetTitle(tableTitle)

	log := tview.NewTextView().SetDynamicColors(false).SetWrap(false)
	log.SetBorder(true).SetTitle(eventsTitle)
	log.SetChangedFunc(func() {
		app.Draw()
	})

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(table, 5, 0, true).
		AddItem(log, 0, 1, false)

	pages := tview.NewPages().AddPage("main", flex, true, true)

	u := &TUI{
		app:       app,
		pages:     pages,
		table:     table,
		log:       log,
		events:    make(chan supervisor.Event, eventBuffer),
		backends:  make(map[string]*backendRow),
		maxEvents: defaultEventRetention,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(u)
	}

	log.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEnter {
			u.toggleFocus()
			return nil
		}
		return event
	})

	app.SetRoot(pages, true)
	app.SetInputCapture(u.handleKey)

	u.mu.Lock()
	u.refreshTableLocked()
	u.mu.Unlock()

	return u
}

// Observer returns a supervisor observer that feeds the interface. Events
// are dropped rather than blocking when the interface falls behind.
func (u *TUI) Observer() supervisor.Observer {
	return supervisor.ObserverFunc(func(evt supervisor.Event) {
		select {
		case u.events <- evt:
		default:
			u.mu.Lock()
			u.droppedSeen++
			u.mu.Unlock()
		}
	})
}

// Done returns a channel that is closed when the interface stops.
func (u *TUI) Done() <-chan struct{} {
	return u.done
}

// Run implements Host. OnStart runs in the background so the interface is
// responsive while the backend spawns; OnExit runs after OnStart returns and
// the interface has been torn down.
func (u *TUI) Run(ctx context.Context, lc Lifecycle) error {
	ctx, cancel := context.WithCancel(ctx)

	u.cancelMu.Lock()
	u.cancel = cancel
	u.cancelMu.Unlock()

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.consumeEvents(ctx)
	}()

	// tview ignores Stop before the first draw, so wait for it.
	drawn := make(chan struct{})
	var drawnOnce sync.Once
	u.app.SetAfterDrawFunc(func(tcell.Screen) {
		drawnOnce.Do(func() { close(drawn) })
	})
	exited := make(chan struct{})
	go func() {
		<-ctx.Done()
		select {
		case <-drawn:
		case <-exited:
		}
		u.Stop()
	}()

	started := make(chan struct{})
	var startPanic any
	go func() {
		defer close(started)
		defer func() {
			if r := recover(); r != nil {
				startPanic = r
				cancel()
			}
		}()
		lc.OnStart(ctx)
	}()

	err := u.app.Run()
	close(exited)

	cancel()
	u.wg.Wait()
	u.Stop()
	<-started
	lc.OnExit()

	// Re-raise on the caller's goroutine once the backend has been released.
	if startPanic != nil {
		panic(startPanic)
	}
	return err
}

// Stop terminates the application loop.
func (u *TUI) Stop() {
	u.stopOnce.Do(func() {
		u.cancelMu.Lock()
		cancel := u.cancel
		u.cancel = nil
		u.cancelMu.Unlock()
		if cancel != nil {
			cancel()
		}
		u.app.Stop()
		close(u.done)
	})
}

// requestStop cancels the run context so Run tears the interface down once
// it is safe to do so.
func (u *TUI) requestStop() {
	u.cancelMu.Lock()
	cancel := u.cancel
	u.cancelMu.Unlock()
	if cancel != nil {
		cancel()
		return
	}
	u.Stop()
}

func (u *TUI) consumeEvents(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-u.events:
			u.applyEvent(evt)
			u.queueRefresh(true)
		case <-ticker.C:
			u.queueRefresh(false)
		}
	}
}

func (u *TUI) handleKey(event *tcell.EventKey) *tcell.EventKey {
	if !u.mainFocused() {
		return event
	}
	switch event.Key() {
	case tcell.KeyEnter:
		u.toggleFocus()
		return nil
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			go u.requestStop()
			return nil
		case '/':
			u.showFilterPrompt()
			return nil
		case 'j', 'J':
			u.toggleRaw()
			return nil
		}
	}
	return event
}

func (u *TUI) mainFocused() bool {
	focus := u.app.GetFocus()
	return focus == nil || focus == u.table || focus == u.log
}

func (u *TUI) toggleFocus() {
	if u.logFocused {
		u.app.SetFocus(u.table)
	} else {
		u.app.SetFocus(u.log)
	}
	u.logFocused = !u.logFocused
}

func (u *TUI) toggleRaw() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.raw = !u.raw
	u.renderLogLocked()
}

func (u *TUI) showFilterPrompt() {
	u.mu.RLock()
	current := u.filter
	u.mu.RUnlock()

	input := tview.NewInputField().
		SetLabel("Regex filter: ").
		SetText(current).
		SetFieldWidth(40)

	form := tview.NewForm().
		AddFormItem(input).
		AddButton("Apply", func() {
			u.applyFilter(input.GetText())
			u.pages.RemovePage(filterPageName)
			u.app.SetFocus(u.table)
		}).
		AddButton("Cancel", func() {
			u.pages.RemovePage(filterPageName)
			u.app.SetFocus(u.table)
		})

	form.SetBorder(true).SetTitle("Filter Events")

	grid := tview.NewGrid().
		SetColumns(0, 60, 0).
		SetRows(0, 7, 0).
		AddItem(form, 1, 1, 1, 1, 0, 0, true)

	u.pages.AddPage(filterPageName, grid, true, true)
	u.app.SetFocus(input)
}

func (u *TUI) applyFilter(expr string) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		u.mu.Lock()
		u.filter = ""
		u.filterExpr = nil
		u.mu.Unlock()
		u.queueRefresh(true)
		return
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		u.showErrorModal(fmt.Sprintf("Invalid filter: %v", err))
		return
	}

	u.mu.Lock()
	u.filter = expr
	u.filterExpr = re
	u.mu.Unlock()
	u.queueRefresh(true)
}

func (u *TUI) showErrorModal(message string) {
	modal := tview.NewModal().
		SetText(message).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(int, string) {
			u.pages.RemovePage(filterPageName)
			u.app.SetFocus(u.table)
		})

	u.pages.RemovePage(filterPageName)
	u.pages.AddPage(filterPageName, modal, true, true)
}

func (u *TUI) applyEvent(evt supervisor.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	row := u.backends[evt.Backend]
	if row == nil {
		row = &backendRow{name: evt.Backend}
		u.backends[evt.Backend] = row
	}
	if row.state != evt.State || row.since.IsZero() {
		row.since = evt.Timestamp
	}
	row.state = evt.State
	switch evt.Type {
	case supervisor.EventSpawned:
		row.id, row.pid = evt.ID, evt.PID
	case supervisor.EventStopped, supervisor.EventTerminationFailed:
		row.id, row.pid = "", 0
	}
	row.message = evt.Message()

	u.history = append(u.history, newEventRecord(evt))
	if len(u.history) > u.maxEvents {
		trim := len(u.history) - u.maxEvents
		u.history = append([]eventRecord(nil), u.history[trim:]...)
	}
}

func (u *TUI) queueRefresh(updateLog bool) {
	u.app.QueueUpdateDraw(func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		u.refreshTableLocked()
		if updateLog {
			u.renderLogLocked()
		}
	})
}

func (u *TUI) refreshTableLocked() {
	u.table.Clear()

	headers := []string{"BACKEND", "STATE", "ID", "PID", "AGE", "MESSAGE"}
	for col, header := range headers {
		cell := tview.NewTableCell(header).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold)
		u.table.SetCell(0, col, cell)
	}

	names := make([]string, 0, len(u.backends))
	for name := range u.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	u.visible = names

	for i, name := range names {
		row := u.backends[name]
		age := "-"
		if !row.since.IsZero() {
			age = time.Since(row.since).Truncate(time.Second).String()
		}
		id := "-"
		if row.id != "" {
			id = row.id
		}
		pid := "-"
		if row.pid > 0 {
			pid = fmt.Sprintf("%d", row.pid)
		}
		message := row.message
		if len(message) > 80 {
			message = message[:77] + "..."
		}

		values := []string{name, formatState(row.state), id, pid, age, message}
		for col, value := range values {
			cell := tview.NewTableCell(value)
			if col == 1 {
				cell = cell.SetTextColor(stateColor(row.state))
			}
			u.table.SetCell(i+1, col, cell)
		}
	}

	if u.droppedSeen > 0 {
		u.table.SetTitle(fmt.Sprintf("%s (%d events dropped)", tableTitle, u.droppedSeen))
	} else {
		u.table.SetTitle(tableTitle)
	}
}

func (u *TUI) renderLogLocked() {
	u.log.Clear()
	if u.filter != "" {
		u.log.SetTitle(fmt.Sprintf("%s /%s/", eventsTitle, u.filter))
	} else {
		u.log.SetTitle(eventsTitle)
	}
	for _, line := range u.linesLocked() {
		fmt.Fprintln(u.log, line)
	}
	u.log.ScrollToEnd()
}

func (u *TUI) linesLocked() []string {
	lines := make([]string, 0, len(u.history))
	for _, record := range u.history {
		line := record.String()
		if u.raw {
			data, err := json.Marshal(record)
			if err != nil {
				line = fmt.Sprintf("{\"error\":%q}", err.Error())
			} else {
				line = string(data)
			}
		}
		if u.filterExpr != nil && !u.filterExpr.MatchString(line) {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func formatState(s supervisor.State) string {
	switch s {
	case supervisor.NotStarted:
		return "Not started"
	case supervisor.Running:
		return "Running"
	case supervisor.Stopped:
		return "Stopped"
	default:
		return s.String()
	}
}

func stateColor(s supervisor.State) tcell.Color {
	switch s {
	case supervisor.Running:
		return tcell.ColorGreen
	case supervisor.Stopped:
		return tcell.ColorGray
	default:
		return tcell.ColorYellow
	}
}
