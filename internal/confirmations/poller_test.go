package confirmations

import (
	"context"
	"errors"
	"steamcommunity/internal/components/chrono"
	"steamcommunity/internal/components/telemetry"
	"steamcommunity/internal/totp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testSecret = []byte("this is a secret key")

func staticList(confs ...Confirmation) func(int) ([]Confirmation, error) {
	return func(int) ([]Confirmation, error) {
		return confs, nil
	}
}

func newTestPoller(backend Backend, keys KeyProvider, observer Observer, clock chrono.TimeAPI) *Poller {
	return NewPoller(PollerOptions{
		Backend:     backend,
		KeyProvider: keys,
		Observer:    observer,
		Clock:       clock,
		Tel:         &telemetry.Recorder{},
		QueueDelay:  10 * time.Millisecond,
		StartDelay:  time.Millisecond,
		KeyTimeout:  time.Second,
	})
}

func waitIdle(t *testing.T, p *Poller) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
}

func TestPollerNotifiesOnce(t *testing.T) {
	backend := &fakeBackend{
		list: staticList(Confirmation{ID: "1", CreatorID: "900", Key: "nonce-1", Type: TYPE_TRADE}),
	}
	keys := newCountingProvider(time.Now)
	events := &eventLog{}
	p := newTestPoller(backend, keys, events, chrono.NewStandardTime())

	p.Start(20*time.Millisecond, nil)
	require.Eventually(t, func() bool { return backend.listCount() >= 3 }, 5*time.Second, 5*time.Millisecond)
	p.Stop()
	waitIdle(t, p)

	newEvents := events.of(EventNewConfirmation)
	require.Len(t, newEvents, 1)
	require.Equal(t, "1", newEvents[0].Confirmation.ID)
	require.Equal(t, "900", newEvents[0].Confirmation.CreatorID)
	require.Equal(t, []string{"1"}, p.Known())
	require.Empty(t, backend.respondCalls())

	// the list key is reused for every cycle within the reuse window
	require.Equal(t, 1, keys.count(TAG_LIST))
}

func TestPollerAutoAccept(t *testing.T) {
	backend := &fakeBackend{
		list: staticList(Confirmation{ID: "2", Key: "nonce-2"}),
	}
	events := &eventLog{}
	p := newTestPoller(backend, nil, events, chrono.NewStandardTime())

	p.Start(time.Hour, testSecret)
	require.Eventually(t, func() bool { return len(events.of(EventConfirmationAccepted)) == 1 }, 5*time.Second, 5*time.Millisecond)
	p.Stop()
	waitIdle(t, p)

	calls := backend.respondCalls()
	require.Len(t, calls, 1)
	require.Equal(t, []string{"2"}, calls[0].ids)
	require.Equal(t, []string{"nonce-2"}, calls[0].keys)
	require.True(t, calls[0].accept)
	require.Equal(t, TAG_ALLOW, calls[0].tag)
	require.Equal(t, totp.ConfirmationKey(testSecret, calls[0].t, TAG_ALLOW), calls[0].key)

	require.Empty(t, p.Known())
	require.Empty(t, events.of(EventNewConfirmation))
	require.Equal(t, "2", events.of(EventConfirmationAccepted)[0].Confirmation.ID)
}

func TestPollerAutoAcceptFailureIsRetriedNextPoll(t *testing.T) {
	backend := &fakeBackend{
		list: staticList(Confirmation{ID: "3", Key: "nonce-3"}),
		respondErr: func(call int) error {
			if call == 0 {
				return errors.New("Could not act on confirmation")
			}
			return nil
		},
	}
	events := &eventLog{}
	p := newTestPoller(backend, nil, events, chrono.NewStandardTime())

	p.Start(20*time.Millisecond, testSecret)
	require.Eventually(t, func() bool { return len(events.of(EventConfirmationAccepted)) >= 1 }, 5*time.Second, 5*time.Millisecond)
	p.Stop()
	waitIdle(t, p)

	calls := backend.respondCalls()
	require.GreaterOrEqual(t, len(calls), 2)
	require.Equal(t, []string{"3"}, calls[0].ids)
	require.Equal(t, []string{"3"}, calls[1].ids)
}

func TestPollerQueueSpacing(t *testing.T) {
	backend := &fakeBackend{
		list: staticList(
			Confirmation{ID: "a", Key: "nonce-a"},
			Confirmation{ID: "b", Key: "nonce-b"},
			Confirmation{ID: "c", Key: "nonce-c"},
		),
		respondDuration: 5 * time.Millisecond,
	}
	delay := 50 * time.Millisecond
	p := NewPoller(PollerOptions{
		Backend:    backend,
		Tel:        &telemetry.Recorder{},
		QueueDelay: delay,
		StartDelay: time.Millisecond,
	})

	p.Start(time.Hour, testSecret)
	require.Eventually(t, func() bool { return len(backend.respondCalls()) == 3 }, 5*time.Second, 5*time.Millisecond)
	p.Stop()
	waitIdle(t, p)

	calls := backend.respondCalls()
	require.Equal(t, []string{"a"}, calls[0].ids)
	require.Equal(t, []string{"b"}, calls[1].ids)
	require.Equal(t, []string{"c"}, calls[2].ids)
	for i := 1; i < len(calls); i++ {
		gap := calls[i].start.Sub(calls[i-1].end)
		require.GreaterOrEqual(t, gap, delay, "gap between item %d and %d", i-1, i)
	}
}

func TestPollerKeyCache(t *testing.T) {
	clock := chrono.NewManualTime(time.Unix(1700000000, 0))
	backend := &fakeBackend{}
	keys := newCountingProvider(clock.Now)
	p := newTestPoller(backend, keys, nil, clock)

	p.Check()
	waitIdle(t, p)
	require.Equal(t, 1, keys.count(TAG_LIST))

	clock.Advance(KeyReuseWindow - time.Second)
	p.Check()
	waitIdle(t, p)
	require.Equal(t, 1, keys.count(TAG_LIST))
	require.Equal(t, 2, backend.listCount())

	clock.Advance(2 * time.Second)
	p.Check()
	waitIdle(t, p)
	require.Equal(t, 2, keys.count(TAG_LIST))
	require.Equal(t, 3, backend.listCount())
}

func TestPollerActionKeysAreNeverCached(t *testing.T) {
	clock := chrono.NewManualTime(time.Unix(1700000000, 0))
	backend := &fakeBackend{
		list: staticList(Confirmation{ID: "1", Key: "nonce-1"}),
	}
	keys := newCountingProvider(clock.Now)
	p := newTestPoller(backend, keys, nil, clock)

	for i := 0; i < 2; i++ {
		p.Check()
		waitIdle(t, p)
		require.NoError(t, p.Cancel(context.Background(), "1"))
	}
	require.Equal(t, 2, keys.count(TAG_CANCEL))

	responses := backend.respondCalls()
	require.Len(t, responses, 2)
	require.Equal(t, TAG_CANCEL, responses[0].tag)
	require.Equal(t, "cancel-key", responses[0].key)
	require.False(t, responses[0].accept)
}

func TestPollerExternalResolution(t *testing.T) {
	nonce := "nonce-1"
	backend := &fakeBackend{}
	backend.list = func(int) ([]Confirmation, error) {
		return []Confirmation{{ID: "1", Key: nonce}}, nil
	}
	events := &eventLog{}
	p := newTestPoller(backend, newCountingProvider(time.Now), events, chrono.NewStandardTime())

	p.Check()
	waitIdle(t, p)
	require.Len(t, events.of(EventNewConfirmation), 1)

	// the nonce was reissued, responding must use the latest one
	nonce = "nonce-2"
	p.Check()
	waitIdle(t, p)
	require.Len(t, events.of(EventNewConfirmation), 1)

	require.NoError(t, p.Accept(context.Background(), "1"))
	require.Empty(t, p.Known())

	calls := backend.respondCalls()
	require.Len(t, calls, 1)
	require.Equal(t, []string{"nonce-2"}, calls[0].keys)
	require.Equal(t, TAG_ALLOW, calls[0].tag)

	// still listed (backend lag), so it is new again
	p.Check()
	waitIdle(t, p)
	require.Len(t, events.of(EventNewConfirmation), 2)

	err := p.Accept(context.Background(), "unknown")
	require.ErrorIs(t, err, ErrUnknownConfirmation)
}

func TestPollerFailedExternalResolutionKeepsConfirmation(t *testing.T) {
	backend := &fakeBackend{
		list:       staticList(Confirmation{ID: "1", Key: "nonce-1"}),
		respondErr: func(int) error { return ErrRespondFailed },
	}
	p := newTestPoller(backend, newCountingProvider(time.Now), nil, chrono.NewStandardTime())

	p.Check()
	waitIdle(t, p)

	err := p.Accept(context.Background(), "1")
	require.ErrorIs(t, err, ErrRespondFailed)
	require.Equal(t, []string{"1"}, p.Known())
}

func TestPollerSingleCycleInFlight(t *testing.T) {
	gate := make(chan struct{})
	backend := &fakeBackend{listGate: gate}
	p := newTestPoller(backend, newCountingProvider(time.Now), nil, chrono.NewStandardTime())

	p.Check()
	p.Check()
	p.Check()

	gate <- struct{}{}
	waitIdle(t, p)
	require.Equal(t, 1, backend.listCount())

	close(gate)
	p.Check()
	waitIdle(t, p)
	require.Equal(t, 2, backend.listCount())
}

func TestPollerStop(t *testing.T) {
	backend := &fakeBackend{}
	p := newTestPoller(backend, newCountingProvider(time.Now), nil, chrono.NewStandardTime())

	p.Start(10*time.Millisecond, nil)
	require.True(t, p.Running())
	require.Eventually(t, func() bool { return backend.listCount() >= 2 }, 5*time.Second, 5*time.Millisecond)

	p.Stop()
	require.False(t, p.Running())
	waitIdle(t, p)
	count := backend.listCount()

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, count, backend.listCount())
}

func TestPollerKeyProviderFailure(t *testing.T) {
	backend := &fakeBackend{}
	keys := newCountingProvider(time.Now)
	keys.err = errors.New("no key for you")
	events := &eventLog{}
	p := newTestPoller(backend, keys, events, chrono.NewStandardTime())

	p.Check()
	waitIdle(t, p)

	require.Equal(t, 0, backend.listCount())
	debug := events.of(EventDebug)
	require.NotEmpty(t, debug)
	require.Contains(t, debug[len(debug)-1].Message, "no key for you")

	// failures are not cached
	p.Check()
	waitIdle(t, p)
	require.Equal(t, 2, keys.count(TAG_LIST))
}

func TestPollerListFailureIsSwallowed(t *testing.T) {
	backend := &fakeBackend{
		list: func(call int) ([]Confirmation, error) {
			if call == 0 {
				return nil, errors.New("connection reset by peer")
			}
			return []Confirmation{{ID: "9", Key: "nonce-9"}}, nil
		},
	}
	events := &eventLog{}
	p := newTestPoller(backend, newCountingProvider(time.Now), events, chrono.NewStandardTime())

	p.Start(10*time.Millisecond, nil)
	require.Eventually(t, func() bool { return len(events.of(EventNewConfirmation)) == 1 }, 5*time.Second, 5*time.Millisecond)
	p.Stop()
	waitIdle(t, p)
}

func TestPollerNoKeyProvider(t *testing.T) {
	backend := &fakeBackend{}
	events := &eventLog{}
	p := newTestPoller(backend, nil, events, chrono.NewStandardTime())

	p.Check()
	waitIdle(t, p)
	require.Equal(t, 0, backend.listCount())
	require.NotEmpty(t, events.of(EventDebug))
}

func TestPollerResolveOfferID(t *testing.T) {
	backend := &fakeBackend{offerIDs: map[string]string{"1": "4242"}}
	keys := newCountingProvider(time.Now)
	p := newTestPoller(backend, keys, nil, chrono.NewStandardTime())

	trade := Confirmation{ID: "1", Type: TYPE_TRADE}
	require.NoError(t, p.ResolveOfferID(context.Background(), &trade))
	require.True(t, trade.OfferResolved)
	require.Equal(t, "4242", trade.OfferID)

	listing := Confirmation{ID: "2", Type: TYPE_MARKET_LISTING}
	require.NoError(t, p.ResolveOfferID(context.Background(), &listing))
	require.True(t, listing.OfferResolved)
	require.Equal(t, "", listing.OfferID)

	other := Confirmation{ID: "3", Type: TYPE_TRADE}
	require.NoError(t, p.ResolveOfferID(context.Background(), &other))
	require.Equal(t, 1, keys.count(TAG_DETAILS))
}

func TestPollerDetailsDisabledWithSecret(t *testing.T) {
	p := NewPoller(PollerOptions{
		Backend:    &fakeBackend{},
		Tel:        &telemetry.Recorder{},
		StartDelay: time.Hour,
	})
	p.Start(time.Hour, testSecret)
	defer p.Stop()

	conf := Confirmation{ID: "1", Type: TYPE_TRADE}
	err := p.ResolveOfferID(context.Background(), &conf)
	require.ErrorIs(t, err, ErrDetailsDisabled)
	require.False(t, conf.OfferResolved)
}

func TestKeyRequests(t *testing.T) {
	requests := NewKeyRequests(1)
	backend := &fakeBackend{list: staticList(Confirmation{ID: "1", Key: "nonce-1"})}
	events := &eventLog{}
	p := newTestPoller(backend, requests, events, chrono.NewStandardTime())

	go func() {
		req := <-requests.Requests()
		req.Resolve(time.Now().Unix(), req.Tag+"-remote")
		// later answers are ignored
		req.Reject(errors.New("too late"))
	}()

	p.Check()
	waitIdle(t, p)
	require.Len(t, events.of(EventNewConfirmation), 1)
}

func TestKeyRequestsTimeout(t *testing.T) {
	requests := NewKeyRequests(1)
	p := NewPoller(PollerOptions{
		Backend:     &fakeBackend{},
		KeyProvider: requests,
		Tel:         &telemetry.Recorder{},
		KeyTimeout:  20 * time.Millisecond,
	})

	_, err := p.acquireKey(context.Background(), nil, TAG_LIST)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
