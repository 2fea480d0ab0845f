package confirmations

import (
	"context"
	"sync"
	"time"
)

type respondCall struct {
	ids    []string
	keys   []string
	t      int64
	key    string
	tag    string
	accept bool
	start  time.Time
	end    time.Time
}

// fakeBackend stands in for Client in poller tests.
type fakeBackend struct {
	mutex sync.Mutex

	list      func(call int) ([]Confirmation, error)
	listCalls int
	// when set, every list call blocks until it can receive from listGate
	listGate chan struct{}

	respondErr      func(call int) error
	respondDuration time.Duration
	responses       []respondCall

	offerIDs map[string]string
}

func (b *fakeBackend) ListTagged(ctx context.Context, t int64, key, tag string) ([]Confirmation, error) {
	if b.listGate != nil {
		<-b.listGate
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	call := b.listCalls
	b.listCalls++
	if b.list == nil {
		return nil, nil
	}
	return b.list(call)
}

func (b *fakeBackend) RespondTagged(ctx context.Context, ids, keys []string, t int64, actionKey, tag string, accept bool) error {
	start := time.Now()
	time.Sleep(b.respondDuration)

	b.mutex.Lock()
	defer b.mutex.Unlock()
	call := len(b.responses)
	b.responses = append(b.responses, respondCall{
		ids:    ids,
		keys:   keys,
		t:      t,
		key:    actionKey,
		tag:    tag,
		accept: accept,
		start:  start,
		end:    time.Now(),
	})
	if b.respondErr == nil {
		return nil
	}
	return b.respondErr(call)
}

func (b *fakeBackend) OfferID(ctx context.Context, confID string, t int64, key string) (string, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.offerIDs[confID], nil
}

func (b *fakeBackend) listCount() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.listCalls
}

func (b *fakeBackend) respondCalls() []respondCall {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return append([]respondCall{}, b.responses...)
}

// countingProvider hands out keys derived from the clock and counts requests per tag.
type countingProvider struct {
	mutex sync.Mutex
	calls map[string]int
	now   func() time.Time
	err   error
}

func newCountingProvider(now func() time.Time) *countingProvider {
	return &countingProvider{calls: map[string]int{}, now: now}
}

func (p *countingProvider) ConfirmationKey(ctx context.Context, tag string) (int64, string, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.calls[tag]++
	if p.err != nil {
		return 0, "", p.err
	}
	t := p.now().Unix()
	return t, tag + "-key", nil
}

func (p *countingProvider) count(tag string) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.calls[tag]
}

// eventLog records every event observed.
type eventLog struct {
	mutex  sync.Mutex
	events []Event
}

func (l *eventLog) Observe(event Event) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) of(kind EventKind) []Event {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	out := []Event{}
	for _, e := range l.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
