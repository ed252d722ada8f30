package agent

import (
	"encoding/json"
	"sync"
	"time"
)

// Config is the immutable agent configuration, constructed once at
// initialization and passed through. Nothing reads ambient globals.
type Config struct {
	Endpoint          string
	PixelIDs          []string
	Version           string
	HeartbeatInterval time.Duration
	ScrollThresholds  []int
	SessionTimeout    time.Duration
}

// DefaultHeartbeatInterval matches the fixed heartbeat cadence while a page
// is open.
const DefaultHeartbeatInterval = 30 * time.Second

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if len(c.ScrollThresholds) == 0 {
		c.ScrollThresholds = []int{25, 50, 75, 100}
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	if c.Version == "" {
		c.Version = "1.0.0"
	}
	return c
}

// PageInfo describes the page an event was captured on.
type PageInfo struct {
	URL      string `json:"url"`
	Path     string `json:"path"`
	Title    string `json:"title"`
	Referrer string `json:"referrer"`
	Host     string `json:"host"`
}

// SignalType names the raw browser signals the agent observes.
type SignalType string

const (
	SignalPageView   SignalType = "pageview"
	SignalScroll     SignalType = "scroll"
	SignalClick      SignalType = "click"
	SignalFormSubmit SignalType = "form_submit"
	SignalHeartbeat  SignalType = "heartbeat"
	SignalPageHide   SignalType = "pagehide"
	SignalUnload     SignalType = "unload"
	SignalActivity   SignalType = "activity"
)

// Signal is one raw observation handed to the agent by the host environment.
type Signal struct {
	Type          SignalType
	Page          PageInfo
	ScrollPercent int
	ElementTag    string
	AncestorTags  []string
	Fields        []FormField
}

// Agent turns raw signals into typed events and ships them through the
// transport. One Agent tracks one page lifecycle at a time.
type Agent struct {
	cfg       Config
	transport Transport
	sessions  *SessionManager
	fp        Fingerprint

	dispatch map[SignalType]func(Signal)

	mu         sync.Mutex
	page       PageInfo
	pageStart  time.Time
	fired      map[int]bool
	maxScroll  int
	exitSent   bool
	closed     bool
	stopTicker chan struct{}

	now func() time.Time
}

// New wires the agent. The dispatch table is built once here; no implicit
// listener state exists beyond the heartbeat ticker goroutine.
func New(cfg Config, transport Transport, storage Storage, fp Fingerprint) *Agent {
	cfg = cfg.withDefaults()
	a := &Agent{
		cfg:        cfg,
		transport:  transport,
		sessions:   NewSessionManager(storage, cfg.SessionTimeout),
		fp:         fp,
		fired:      make(map[int]bool),
		stopTicker: make(chan struct{}),
		now:        time.Now,
	}
	a.dispatch = map[SignalType]func(Signal){
		SignalPageView:   a.onPageView,
		SignalScroll:     a.onScroll,
		SignalClick:      a.onClick,
		SignalFormSubmit: a.onFormSubmit,
		SignalHeartbeat:  a.onHeartbeat,
		SignalPageHide:   a.onExit,
		SignalUnload:     a.onExit,
		SignalActivity:   a.onActivity,
	}
	go a.heartbeatLoop()
	return a
}

// Observe routes one signal through the dispatch table. Unknown signal types
// are dropped; handler panics must never reach the host.
func (a *Agent) Observe(sig Signal) {
	defer func() {
		// Capture failures degrade silently; telemetry never surfaces
		// errors to the host page.
		_ = recover()
	}()
	if h, ok := a.dispatch[sig.Type]; ok {
		h(sig)
	}
}

// Close emits a final exit event and stops the heartbeat ticker.
func (a *Agent) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.stopTicker)
	a.mu.Unlock()
	a.onExit(Signal{Type: SignalUnload})
}

func (a *Agent) heartbeatLoop() {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopTicker:
			return
		case <-ticker.C:
			a.onHeartbeat(Signal{Type: SignalHeartbeat})
		}
	}
}

func (a *Agent) onPageView(sig Signal) {
	a.mu.Lock()
	a.page = sig.Page
	a.pageStart = a.now()
	a.fired = make(map[int]bool)
	a.maxScroll = 0
	a.exitSent = false
	a.mu.Unlock()

	a.sessions.Touch()
	a.send("pageview", nil)
}

func (a *Agent) onScroll(sig Signal) {
	a.sessions.Touch()

	a.mu.Lock()
	if a.pageStart.IsZero() || a.exitSent {
		a.mu.Unlock()
		return
	}
	if sig.ScrollPercent > a.maxScroll {
		a.maxScroll = sig.ScrollPercent
	}
	var crossed []int
	for _, t := range a.cfg.ScrollThresholds {
		if sig.ScrollPercent >= t && !a.fired[t] {
			a.fired[t] = true
			crossed = append(crossed, t)
		}
	}
	a.mu.Unlock()

	// Each threshold fires at most once per page life.
	for _, t := range crossed {
		a.send("scroll", map[string]interface{}{"depth": t})
	}
}

func (a *Agent) onClick(sig Signal) {
	a.sessions.Touch()
	if !isInteractive(sig.ElementTag, sig.AncestorTags) {
		return
	}
	a.send("click", map[string]interface{}{"element": sig.ElementTag})
}

func (a *Agent) onFormSubmit(sig Signal) {
	a.sessions.Touch()

	info := ExtractContactInfo(sig.Fields)
	data := map[string]interface{}{}
	if info.Email != "" {
		data["email"] = info.Email
	}
	if info.Name != "" {
		data["name"] = info.Name
	}
	if info.Phone != "" {
		data["phone"] = info.Phone
	}
	a.send("form_submit", data)

	// A captured email triggers an identify follow-up event.
	if info.Email != "" {
		a.send("identify", map[string]interface{}{"email": info.Email})
	}
}

func (a *Agent) onHeartbeat(Signal) {
	a.mu.Lock()
	if a.pageStart.IsZero() || a.exitSent {
		a.mu.Unlock()
		return
	}
	data := a.engagementData()
	a.mu.Unlock()

	a.send("heartbeat", data)
}

func (a *Agent) onExit(Signal) {
	a.mu.Lock()
	if a.pageStart.IsZero() || a.exitSent {
		a.mu.Unlock()
		return
	}
	a.exitSent = true
	data := a.engagementData()
	a.mu.Unlock()

	a.send("exit", data)
}

func (a *Agent) onActivity(Signal) {
	a.sessions.Touch()
}

// engagementData carries cumulative per-page counters forward so the server
// can merge with max semantics instead of double counting. Callers hold a.mu.
func (a *Agent) engagementData() map[string]interface{} {
	return map[string]interface{}{
		"timeOnPage":  int(a.now().Sub(a.pageStart).Seconds()),
		"scrollDepth": a.maxScroll,
	}
}

// Interactive elements: links, buttons, or anything nested inside one.
func isInteractive(tag string, ancestors []string) bool {
	if isInteractiveTag(tag) {
		return true
	}
	for _, t := range ancestors {
		if isInteractiveTag(t) {
			return true
		}
	}
	return false
}

func isInteractiveTag(tag string) bool {
	switch tag {
	case "a", "A", "button", "BUTTON":
		return true
	}
	return false
}

type eventPayload struct {
	PixelIDs    []string               `json:"pixelIds"`
	VisitorID   string                 `json:"visitorId"`
	SessionID   string                 `json:"sessionId"`
	EventType   string                 `json:"eventType"`
	EventData   map[string]interface{} `json:"eventData,omitempty"`
	Page        PageInfo               `json:"page"`
	Fingerprint Fingerprint            `json:"fingerprint"`
	Timestamp   string                 `json:"timestamp"`
	Version     string                 `json:"version"`
}

func (a *Agent) send(eventType string, data map[string]interface{}) {
	a.mu.Lock()
	page := a.page
	a.mu.Unlock()

	payload := eventPayload{
		PixelIDs:    a.cfg.PixelIDs,
		VisitorID:   a.sessions.GetOrCreateVisitorID(),
		SessionID:   a.sessions.GetOrCreateSessionID(),
		EventType:   eventType,
		EventData:   data,
		Page:        page,
		Fingerprint: a.fp,
		Timestamp:   a.now().UTC().Format(time.RFC3339),
		Version:     a.cfg.Version,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	a.transport.Send(body)
}
