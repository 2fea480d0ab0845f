package confirmations

import (
	"steamcommunity/internal/components/telemetry"
	"time"
)

type EventKind int

const (
	// EventNewConfirmation is emitted for every newly discovered confirmation
	// when the poller is not accepting automatically.
	EventNewConfirmation EventKind = iota + 1
	// EventConfirmationAccepted is emitted after the poller accepted a
	// confirmation on its own.
	EventConfirmationAccepted
	// EventDebug carries diagnostic messages.
	EventDebug
)

func (k EventKind) String() string {
	switch k {
	case EventNewConfirmation:
		return "new"
	case EventConfirmationAccepted:
		return "accepted"
	case EventDebug:
		return "debug"
	}
	return "unknown"
}

type Event struct {
	Kind         EventKind
	Confirmation Confirmation
	Message      string
	Time         time.Time
}

// Observer receives the poller's events, it is called from the poller's
// goroutines and must not block for long.
type Observer interface {
	Observe(event Event)
}

type ObserverFunc func(event Event)

func (f ObserverFunc) Observe(event Event) {
	f(event)
}

// Observers fans every event out to all of its members in order.
type Observers []Observer

func (o Observers) Observe(event Event) {
	for _, observer := range o {
		if observer != nil {
			observer.Observe(event)
		}
	}
}

const report_channel_observer_observe = "channel_observer.observe"

// ChannelObserver forwards events to a buffered channel, events are dropped
// (and reported) instead of blocking when the buffer is full.
type ChannelObserver struct {
	events chan Event
	tel    telemetry.API
}

func NewChannelObserver(buffer int, tel telemetry.API) ChannelObserver {
	return ChannelObserver{
		events: make(chan Event, buffer),
		tel:    telemetry.NewScopedAPI("confirmations", tel),
	}
}

func (c ChannelObserver) Events() <-chan Event {
	return c.events
}

func (c ChannelObserver) Observe(event Event) {
	select {
	case c.events <- event:
	default:
		c.tel.ReportWarning(report_channel_observer_observe, "event dropped", event.Kind.String(), event.Confirmation.ID)
	}
}
