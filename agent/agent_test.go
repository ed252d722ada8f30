package agent

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureTransport struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (ct *captureTransport) Send(payload []byte) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.payloads = append(ct.payloads, payload)
}

func (ct *captureTransport) events(t *testing.T) []eventPayload {
	t.Helper()
	ct.mu.Lock()
	defer ct.mu.Unlock()
	out := make([]eventPayload, 0, len(ct.payloads))
	for _, p := range ct.payloads {
		var e eventPayload
		require.NoError(t, json.Unmarshal(p, &e))
		out = append(out, e)
	}
	return out
}

func newTestAgent(t *testing.T) (*Agent, *captureTransport) {
	t.Helper()
	ct := &captureTransport{}
	a := New(Config{
		Endpoint: "http://localhost/track",
		PixelIDs: []string{"px_test"},
		Version:  "1.2.3",
	}, ct, NewMemoryStore(), Fingerprint{UserAgent: "test-ua", Language: "en-US"})
	return a, ct
}

func TestPageViewEvent(t *testing.T) {
	a, ct := newTestAgent(t)

	a.Observe(Signal{Type: SignalPageView, Page: PageInfo{URL: "https://acme.test/pricing", Path: "/pricing", Host: "acme.test"}})

	events := ct.events(t)
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, "pageview", e.EventType)
	assert.Equal(t, []string{"px_test"}, e.PixelIDs)
	assert.NotEmpty(t, e.VisitorID)
	assert.NotEmpty(t, e.SessionID)
	assert.Equal(t, "1.2.3", e.Version)
	assert.Equal(t, "/pricing", e.Page.Path)
	assert.Equal(t, "test-ua", e.Fingerprint.UserAgent)
}

func TestScrollThresholdsFireOncePerPageLife(t *testing.T) {
	a, ct := newTestAgent(t)
	a.Observe(Signal{Type: SignalPageView, Page: PageInfo{URL: "https://acme.test/"}})

	a.Observe(Signal{Type: SignalScroll, ScrollPercent: 30})
	a.Observe(Signal{Type: SignalScroll, ScrollPercent: 80})
	a.Observe(Signal{Type: SignalScroll, ScrollPercent: 80}) // duplicates ignored
	a.Observe(Signal{Type: SignalScroll, ScrollPercent: 100})

	var depths []int
	for _, e := range ct.events(t) {
		if e.EventType == "scroll" {
			depths = append(depths, int(e.EventData["depth"].(float64)))
		}
	}
	assert.Equal(t, []int{25, 50, 75, 100}, depths)

	// A new page life resets the thresholds.
	a.Observe(Signal{Type: SignalPageView, Page: PageInfo{URL: "https://acme.test/about"}})
	a.Observe(Signal{Type: SignalScroll, ScrollPercent: 40})

	events := ct.events(t)
	last := events[len(events)-1]
	assert.Equal(t, "scroll", last.EventType)
	assert.Equal(t, float64(25), last.EventData["depth"])
}

func TestClickOnlyForInteractiveElements(t *testing.T) {
	a, ct := newTestAgent(t)
	a.Observe(Signal{Type: SignalPageView, Page: PageInfo{URL: "https://acme.test/"}})

	a.Observe(Signal{Type: SignalClick, ElementTag: "div"})
	a.Observe(Signal{Type: SignalClick, ElementTag: "button"})
	a.Observe(Signal{Type: SignalClick, ElementTag: "span", AncestorTags: []string{"div", "a"}})

	var clicks int
	for _, e := range ct.events(t) {
		if e.EventType == "click" {
			clicks++
		}
	}
	assert.Equal(t, 2, clicks)
}

func TestFormSubmitEmitsIdentifyFollowUp(t *testing.T) {
	a, ct := newTestAgent(t)
	a.Observe(Signal{Type: SignalPageView, Page: PageInfo{URL: "https://acme.test/contact"}})

	a.Observe(Signal{Type: SignalFormSubmit, Fields: []FormField{
		{Name: "work_email", Type: "text", Value: "A@B.com"},
		{Name: "full_name", Value: "Ada Lovelace"},
	}})

	events := ct.events(t)
	require.Len(t, events, 3) // pageview, form_submit, identify

	assert.Equal(t, "form_submit", events[1].EventType)
	assert.Equal(t, "a@b.com", events[1].EventData["email"])
	assert.Equal(t, "Ada Lovelace", events[1].EventData["name"])

	assert.Equal(t, "identify", events[2].EventType)
	assert.Equal(t, "a@b.com", events[2].EventData["email"])
}

func TestFormSubmitWithoutEmailSkipsIdentify(t *testing.T) {
	a, ct := newTestAgent(t)
	a.Observe(Signal{Type: SignalPageView, Page: PageInfo{URL: "https://acme.test/"}})

	a.Observe(Signal{Type: SignalFormSubmit, Fields: []FormField{
		{Name: "comment", Value: "hello"},
	}})

	for _, e := range ct.events(t) {
		assert.NotEqual(t, "identify", e.EventType)
	}
}

func TestHeartbeatCarriesCumulativeEngagement(t *testing.T) {
	a, ct := newTestAgent(t)

	base := time.Now()
	a.now = func() time.Time { return base }
	a.Observe(Signal{Type: SignalPageView, Page: PageInfo{URL: "https://acme.test/"}})
	a.Observe(Signal{Type: SignalScroll, ScrollPercent: 60})

	a.now = func() time.Time { return base.Add(95 * time.Second) }
	a.Observe(Signal{Type: SignalHeartbeat})

	events := ct.events(t)
	last := events[len(events)-1]
	require.Equal(t, "heartbeat", last.EventType)
	assert.Equal(t, float64(95), last.EventData["timeOnPage"])
	assert.Equal(t, float64(60), last.EventData["scrollDepth"])
}

func TestExitFiresOnce(t *testing.T) {
	a, ct := newTestAgent(t)
	a.Observe(Signal{Type: SignalPageView, Page: PageInfo{URL: "https://acme.test/"}})

	a.Observe(Signal{Type: SignalPageHide})
	a.Observe(Signal{Type: SignalUnload})
	a.Observe(Signal{Type: SignalHeartbeat}) // suppressed after exit

	var exits, heartbeats int
	for _, e := range ct.events(t) {
		switch e.EventType {
		case "exit":
			exits++
		case "heartbeat":
			heartbeats++
		}
	}
	assert.Equal(t, 1, exits)
	assert.Equal(t, 0, heartbeats)
}

func TestHeartbeatBeforeAnyPageviewIsDropped(t *testing.T) {
	a, ct := newTestAgent(t)
	a.Observe(Signal{Type: SignalHeartbeat})
	assert.Empty(t, ct.events(t))
}

func TestScrollBeforeAnyPageviewIsDropped(t *testing.T) {
	a, ct := newTestAgent(t)
	a.Observe(Signal{Type: SignalScroll, ScrollPercent: 80})
	assert.Empty(t, ct.events(t))
}

func TestScrollAfterExitIsDropped(t *testing.T) {
	a, ct := newTestAgent(t)
	a.Observe(Signal{Type: SignalPageView, Page: PageInfo{URL: "https://acme.test/"}})
	a.Observe(Signal{Type: SignalPageHide})

	a.Observe(Signal{Type: SignalScroll, ScrollPercent: 80})

	for _, e := range ct.events(t) {
		assert.NotEqual(t, "scroll", e.EventType)
	}
}

func TestUnknownSignalIgnored(t *testing.T) {
	a, ct := newTestAgent(t)
	a.Observe(Signal{Type: SignalType("bogus")})
	assert.Empty(t, ct.events(t))
}

func TestBeaconTransportNeverBlocks(t *testing.T) {
	bt := NewBeaconTransport("http://127.0.0.1:1/track")

	done := make(chan struct{})
	go func() {
		bt.Send([]byte(`{"eventType":"pageview"}`))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Send blocked the caller")
	}
}
