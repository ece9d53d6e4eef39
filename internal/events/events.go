// Package events publishes Run lifecycle events for consumers such as the
// controlplane websocket stream. Grounded on randalmurphal-orc's
// internal/events.Publisher / MemoryPublisher: a non-blocking fan-out
// keyed by run ID, with a wildcard subscription for consumers
// that want every Run rather than one in particular.
package events

import (
	"sync"
	"time"
)

// Type identifies the kind of event published for a Run.
type Type string

const (
	// TypePhaseStatus indicates a Phase status transition.
	TypePhaseStatus Type = "phase_status"
	// TypeBuilderAttempt indicates a Builder attempt started or finished.
	TypeBuilderAttempt Type = "builder_attempt"
	// TypeAuditorVerdict indicates an Auditor review completed.
	TypeAuditorVerdict Type = "auditor_verdict"
	// TypeCIResult indicates a CIGate run completed.
	TypeCIResult Type = "ci_result"
	// TypeIssueRecorded indicates a new issue was recorded against the Run.
	TypeIssueRecorded Type = "issue_recorded"
	// TypeBudgetWarning indicates a scope crossed a budget warning threshold.
	TypeBudgetWarning Type = "budget_warning"
	// TypeRunComplete indicates the Run reached a terminal status.
	TypeRunComplete Type = "run_complete"
	// TypeRunError indicates an infra-level error occurred on the Run.
	TypeRunError Type = "run_error"
)

// GlobalRunID subscribes a consumer to every Run's events, not just one.
const GlobalRunID = "*"

// Event is a single published occurrence scoped to a Run.
type Event struct {
	Type  Type      `json:"type"`
	RunID string    `json:"run_id"`
	Data  any       `json:"data"`
	Time  time.Time `json:"time"`
}

// New builds an Event stamped with the current time.
func New(eventType Type, runID string, data any) Event {
	return Event{Type: eventType, RunID: runID, Data: data, Time: time.Now()}
}

// PhaseStatusData accompanies TypePhaseStatus.
type PhaseStatusData struct {
	TierIndex  int    `json:"tier_index"`
	PhaseID    string `json:"phase_id"`
	Status     string `json:"status"`
	CommitSHA  string `json:"commit_sha,omitempty"`
	RetryCount int    `json:"retry_count,omitempty"`
}

// IssueRecordedData accompanies TypeIssueRecorded.
type IssueRecordedData struct {
	IssueKey string `json:"issue_key"`
	Severity string `json:"severity"`
	Source   string `json:"source"`
	Message  string `json:"message"`
}

// BudgetWarningData accompanies TypeBudgetWarning.
type BudgetWarningData struct {
	Scope        string `json:"scope"`
	TokensUsed   int64  `json:"tokens_used"`
	TokenCap     int64  `json:"token_cap"`
	PercentOfCap int    `json:"percent_of_cap"`
}

// RunCompleteData accompanies TypeRunComplete.
type RunCompleteData struct {
	Status      string `json:"status"`
	Duration    string `json:"duration,omitempty"`
	Integration string `json:"integration_status,omitempty"`
}

// ErrorData accompanies TypeRunError.
type ErrorData struct {
	Phase   string `json:"phase,omitempty"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

// Publisher distributes Run events to subscribers.
type Publisher interface {
	Publish(event Event)
	Subscribe(runID string) (ch <-chan Event, unsubscribe func())
	Close()
}

// Option configures a MemoryPublisher.
type Option func(*MemoryPublisher)

// WithBufferSize sets the per-subscriber channel buffer depth.
func WithBufferSize(n int) Option {
	return func(p *MemoryPublisher) {
		if n > 0 {
			p.bufferSize = n
		}
	}
}

type subscriber struct {
	id int
	ch chan Event
}

// MemoryPublisher is an in-process Publisher. Publish never blocks: a
// subscriber whose buffer is full simply misses the event rather than
// stalling the Run worker that published it.
type MemoryPublisher struct {
	mu          sync.RWMutex
	subscribers map[string][]subscriber
	bufferSize  int
	nextID      int
	closed      bool
}

// NewMemoryPublisher creates a MemoryPublisher with the given options.
func NewMemoryPublisher(opts ...Option) *MemoryPublisher {
	p := &MemoryPublisher{
		subscribers: map[string][]subscriber{},
		bufferSize:  32,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish fans event out to subscribers of event.RunID and of GlobalRunID.
func (p *MemoryPublisher) Publish(event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	p.deliver(event, event.RunID)
	if event.RunID != GlobalRunID {
		p.deliver(event, GlobalRunID)
	}
}

func (p *MemoryPublisher) deliver(event Event, key string) {
	for _, sub := range p.subscribers[key] {
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// Subscribe returns a channel of events for runID (or GlobalRunID for every
// Run) and an unsubscribe func that closes and removes the channel.
func (p *MemoryPublisher) Subscribe(runID string) (<-chan Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan Event, p.bufferSize)
	id := p.nextID
	p.nextID++
	p.subscribers[runID] = append(p.subscribers[runID], subscriber{id: id, ch: ch})

	unsubscribe := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		subs := p.subscribers[runID]
		for i, sub := range subs {
			if sub.id == id {
				p.subscribers[runID] = append(subs[:i], subs[i+1:]...)
				close(sub.ch)
				return
			}
		}
	}
	return ch, unsubscribe
}

// Close shuts down the publisher and every subscriber channel it holds.
func (p *MemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, subs := range p.subscribers {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	p.subscribers = map[string][]subscriber{}
}

// NopPublisher discards every event. Useful for callers (tests, batch
// tooling) that exercise Run logic without a live event consumer.
type NopPublisher struct{}

// Publish is a no-op.
func (NopPublisher) Publish(Event) {}

// Subscribe returns a channel that is immediately closed.
func (NopPublisher) Subscribe(string) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

// Close is a no-op.
func (NopPublisher) Close() {}
