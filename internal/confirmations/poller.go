package confirmations

import (
	"context"
	"fmt"
	"steamcommunity/internal/components/assert"
	"steamcommunity/internal/components/chrono"
	"steamcommunity/internal/components/telemetry"
	"steamcommunity/internal/totp"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("steamcommunity/internal/confirmations")

var pollCounter, _ = meter.Int64Counter(
	"confirmations_polls_total",
	metric.WithDescription("The total amount of poll cycles that fetched the confirmation list."),
)
var newCounter, _ = meter.Int64Counter(
	"confirmations_new_total",
	metric.WithDescription("The total amount of newly discovered confirmations."),
)
var acceptedCounter, _ = meter.Int64Counter(
	"confirmations_accepted_total",
	metric.WithDescription("The total amount of confirmations accepted automatically."),
)

const (
	report_poller_cycle   = "poller.cycle"
	report_poller_process = "poller.process"
	report_poller_respond = "poller.respond"
)

const (
	DefaultQueueDelay = time.Second
	DefaultStartDelay = 500 * time.Millisecond
	DefaultKeyTimeout = 30 * time.Second
)

// Backend is the part of Client the poller depends on.
type Backend interface {
	ListTagged(ctx context.Context, t int64, key, tag string) ([]Confirmation, error)
	RespondTagged(ctx context.Context, ids, keys []string, t int64, actionKey, tag string, accept bool) error
	OfferID(ctx context.Context, confID string, t int64, key string) (string, error)
}

type PollerOptions struct {
	Backend Backend
	// KeyProvider supplies keys when polling without an identity secret.
	KeyProvider KeyProvider
	Observer    Observer
	Clock       chrono.TimeAPI
	Tel         telemetry.API

	// QueueDelay is the pause after each processed confirmation, defaults to
	// DefaultQueueDelay.
	QueueDelay time.Duration
	// StartDelay is the wait between Start and the first check, defaults to
	// DefaultStartDelay.
	StartDelay time.Duration
	// KeyTimeout bounds a single request to the KeyProvider, defaults to
	// DefaultKeyTimeout.
	KeyTimeout time.Duration
}

// Poller periodically lists the account's confirmations, dispatching each
// one it has not seen before to a serial queue which either accepts it (when
// an identity secret is set) or emits it to the observer.
//
// Only one poll cycle runs at a time: a cycle re-arms the timer when it ends,
// and Check is a no-op while a cycle is in flight.
type Poller struct {
	backend    Backend
	keys       KeyProvider
	observer   Observer
	clock      chrono.TimeAPI
	tel        telemetry.API
	startDelay time.Duration
	keyTimeout time.Duration

	registry *registry
	keyCache *keyCache
	queue    *workQueue

	mutex    sync.Mutex
	interval time.Duration
	secret   []byte
	running  bool
	inCycle  bool
	// closed when the in-flight cycle ends
	cycleDone chan struct{}
	timer     *time.Timer
}

func NewPoller(opts PollerOptions) *Poller {
	assert.NotNil(opts.Backend)
	assert.NotNil(opts.Tel)

	if opts.Clock == nil {
		opts.Clock = chrono.NewStandardTime()
	}
	if opts.Observer == nil {
		opts.Observer = Observers{}
	}
	if opts.QueueDelay == 0 {
		opts.QueueDelay = DefaultQueueDelay
	}
	if opts.StartDelay == 0 {
		opts.StartDelay = DefaultStartDelay
	}
	if opts.KeyTimeout == 0 {
		opts.KeyTimeout = DefaultKeyTimeout
	}

	p := &Poller{
		backend:    opts.Backend,
		keys:       opts.KeyProvider,
		observer:   opts.Observer,
		clock:      opts.Clock,
		tel:        telemetry.NewScopedAPI("confirmations", opts.Tel),
		startDelay: opts.StartDelay,
		keyTimeout: opts.KeyTimeout,
		registry:   newRegistry(),
		keyCache:   newKeyCache(),
	}
	p.queue = newWorkQueue(opts.QueueDelay, p.process)
	return p
}

// Start begins polling every interval. If secret is not nil every new
// confirmation is accepted automatically and keys are derived from it,
// otherwise new confirmations are emitted and keys come from the KeyProvider.
func (p *Poller) Start(interval time.Duration, secret []byte) {
	assert.True(interval > 0, "poll interval must be positive")

	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.interval = interval
	p.secret = secret
	p.running = true
	p.stopTimer()
	p.timer = time.AfterFunc(p.startDelay, p.tick)
}

// Stop cancels the next scheduled check and forgets the secret. A cycle or
// queued confirmations that are already underway run to completion.
func (p *Poller) Stop() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.running = false
	p.interval = 0
	p.secret = nil
	p.stopTimer()
}

func (p *Poller) stopTimer() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// Running reports whether the poller is between Start and Stop.
func (p *Poller) Running() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.running
}

// Check runs a poll cycle right away instead of waiting for the timer, for
// example right after sending a trade offer that needs confirming. It does
// nothing besides cancelling the pending timer while a cycle is in flight.
func (p *Poller) Check() {
	p.check(false)
}

func (p *Poller) tick() {
	p.check(true)
}

func (p *Poller) check(scheduled bool) {
	p.mutex.Lock()
	// a timer that fired concurrently with Stop
	if scheduled && !p.running {
		p.mutex.Unlock()
		return
	}
	p.stopTimer()
	if p.inCycle {
		p.mutex.Unlock()
		p.debug("check skipped, a cycle is already in progress")
		return
	}
	p.inCycle = true
	p.cycleDone = make(chan struct{})
	secret := p.secret
	p.mutex.Unlock()

	go p.cycle(secret)
}

func (p *Poller) endCycle() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.inCycle = false
	close(p.cycleDone)
	if p.running && p.interval > 0 {
		p.timer = time.AfterFunc(p.interval, p.tick)
	}
}

func (p *Poller) cycle(secret []byte) {
	defer p.endCycle()

	ctx := context.Background()
	p.debug("Checking confirmations")

	key, err := p.acquireKey(ctx, secret, TAG_LIST)
	if err != nil {
		p.debug(fmt.Sprintf("Can't get confirmation key: %s", err.Error()))
		return
	}

	confs, err := p.backend.ListTagged(ctx, key.Time, key.Key, TAG_LIST)
	if err != nil {
		p.tel.ReportWarning(report_poller_cycle, fmt.Errorf("list: %w", err))
		p.debug(fmt.Sprintf("Can't check confirmations: %s", err.Error()))
		return
	}
	pollCounter.Add(ctx, 1)

	p.dispatch(ctx, confs)
}

func (p *Poller) dispatch(ctx context.Context, confs []Confirmation) {
	for _, conf := range confs {
		if !p.registry.observe(conf) {
			continue
		}
		newCounter.Add(ctx, 1)
		p.queue.push(conf.ID)
	}
}

// acquireKey derives a key from secret when one is set, otherwise it asks the
// key provider, reusing keys for reusable tags within KeyReuseWindow.
func (p *Poller) acquireKey(ctx context.Context, secret []byte, tag string) (TimeKey, error) {
	if secret != nil {
		if tag == TAG_DETAILS {
			return TimeKey{}, ErrDetailsDisabled
		}
		t := p.clock.Now().Unix()
		return TimeKey{Time: t, Key: totp.ConfirmationKey(secret, t, tag)}, nil
	}

	if existing, ok := p.keyCache.get(tag, p.clock.Now()); ok {
		return existing, nil
	}

	if p.keys == nil {
		return TimeKey{}, ErrNoKeyProvider
	}

	ctx, cancel := context.WithTimeout(ctx, p.keyTimeout)
	defer cancel()

	t, key, err := p.keys.ConfirmationKey(ctx, tag)
	if err != nil {
		return TimeKey{}, fmt.Errorf("acquire %s key: %w", tag, err)
	}

	acquired := TimeKey{Time: t, Key: key}
	p.keyCache.put(tag, acquired)
	return acquired, nil
}

func (p *Poller) currentSecret() []byte {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.secret
}

// process handles one dequeued confirmation.
func (p *Poller) process(id string) {
	conf, ok := p.registry.get(id)
	if !ok {
		p.debug(fmt.Sprintf("Confirmation #%s was resolved before it was processed", id))
		return
	}

	secret := p.currentSecret()
	if secret == nil {
		p.emit(Event{Kind: EventNewConfirmation, Confirmation: conf})
		return
	}

	ctx := context.Background()
	p.debug(fmt.Sprintf("Accepting confirmation #%s", id))

	t := p.clock.Now().Unix()
	err := p.backend.RespondTagged(
		ctx,
		[]string{conf.ID},
		[]string{conf.Key},
		t,
		totp.ConfirmationKey(secret, t, TAG_ALLOW),
		TAG_ALLOW,
		true,
	)
	// the confirmation is forgotten even if accepting failed, so it is picked
	// up again by the next poll if it still exists
	p.registry.remove(id)
	if err != nil {
		p.tel.ReportWarning(report_poller_process, fmt.Errorf("accept: %w", err), id)
		p.debug(fmt.Sprintf("Failed to accept confirmation #%s: %s", id, err.Error()))
		return
	}

	acceptedCounter.Add(ctx, 1)
	p.emit(Event{Kind: EventConfirmationAccepted, Confirmation: conf})
}

// Respond accepts or cancels a confirmation the poller dispatched, using the
// latest nonce it observed for it. On success the id is forgotten, so a later
// poll that still lists it treats it as new.
func (p *Poller) Respond(ctx context.Context, id string, accept bool) error {
	conf, ok := p.registry.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConfirmation, id)
	}

	tag := ActionTag(accept)
	key, err := p.acquireKey(ctx, p.currentSecret(), tag)
	if err != nil {
		return err
	}

	err = p.backend.RespondTagged(ctx, []string{conf.ID}, []string{conf.Key}, key.Time, key.Key, tag, accept)
	if err != nil {
		p.tel.ReportWarning(report_poller_respond, err, id, accept)
		return err
	}

	p.registry.remove(id)
	return nil
}

func (p *Poller) Accept(ctx context.Context, id string) error {
	return p.Respond(ctx, id, true)
}

func (p *Poller) Cancel(ctx context.Context, id string) error {
	return p.Respond(ctx, id, false)
}

// ResolveOfferID fills in conf.OfferID. This needs a details key and is
// therefore unavailable while accepting automatically.
func (p *Poller) ResolveOfferID(ctx context.Context, conf *Confirmation) error {
	if conf.OfferResolved {
		return nil
	}
	if conf.Type != TYPE_TRADE {
		conf.OfferResolved = true
		return nil
	}

	key, err := p.acquireKey(ctx, p.currentSecret(), TAG_DETAILS)
	if err != nil {
		return err
	}

	offerID, err := p.backend.OfferID(ctx, conf.ID, key.Time, key.Key)
	if err != nil {
		return err
	}
	conf.OfferID = offerID
	conf.OfferResolved = true
	return nil
}

// Known returns the ids of every confirmation the poller currently remembers.
func (p *Poller) Known() []string {
	return p.registry.ids()
}

// Wait blocks until the in-flight cycle (if any) ends and the queue drained.
func (p *Poller) Wait(ctx context.Context) error {
	p.mutex.Lock()
	inCycle := p.inCycle
	cycleDone := p.cycleDone
	p.mutex.Unlock()

	if inCycle {
		select {
		case <-cycleDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.queue.wait(ctx)
}

func (p *Poller) emit(event Event) {
	if event.Time.IsZero() {
		event.Time = p.clock.Now()
	}
	p.observer.Observe(event)
}

func (p *Poller) debug(message string) {
	p.tel.ReportDebug(message)
	p.emit(Event{Kind: EventDebug, Message: message})
}
