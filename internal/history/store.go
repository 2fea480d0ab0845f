package history

import (
	"context"
	"database/sql"
	"fmt"
	"steamcommunity/internal/components/assert"
	"steamcommunity/internal/components/telemetry"
	"steamcommunity/internal/confirmations"
	"steamcommunity/internal/history/db"
	"time"
)

const (
	report_store_observe = "store.observe"
)

// observations are written in the background of the poller, this bounds each write
const writeTimeout = 10 * time.Second

// Entry is one recorded observation.
type Entry struct {
	ID             int64
	Kind           string
	ConfirmationID string
	Type           confirmations.ConfirmationType
	CreatorID      string
	Title          string
	Sending        string
	Receiving      string
	OfferID        string
	ObservedAt     time.Time
}

// Store keeps a log of the confirmations the poller surfaced or accepted. It
// is write-only from the poller's point of view, the poller never reads it
// back to decide what is new.
type Store struct {
	db  *sql.DB
	qry *db.Queries
	tel telemetry.API
}

func NewStore(database *sql.DB, tel telemetry.API) Store {
	assert.NotNil(database)
	assert.NotNil(tel)
	return Store{
		db:  database,
		qry: db.New(database),
		tel: telemetry.NewScopedAPI("history", tel),
	}
}

// Migrate creates the history tables if they do not exist yet.
func (s Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, db.Schema)
	return err
}

// Record writes a single event, debug events are ignored.
func (s Store) Record(ctx context.Context, event confirmations.Event) error {
	if event.Kind != confirmations.EventNewConfirmation &&
		event.Kind != confirmations.EventConfirmationAccepted {
		return nil
	}

	observedAt := event.Time
	if observedAt.IsZero() {
		observedAt = time.Now()
	}

	conf := event.Confirmation
	return s.qry.InsertEvent(ctx, db.InsertEventParams{
		Kind:             event.Kind.String(),
		ConfirmationID:   conf.ID,
		ConfirmationType: int64(conf.Type),
		CreatorID:        conf.CreatorID,
		Title:            conf.Title,
		Sending:          conf.Sending,
		Receiving:        conf.Receiving,
		OfferID:          conf.OfferID,
		ObservedAt:       observedAt.Unix(),
	})
}

// Observe implements confirmations.Observer, failures are reported instead of
// returned since the poller does not care about them.
func (s Store) Observe(event confirmations.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	err := s.Record(ctx, event)
	if err != nil {
		s.tel.ReportBroken(report_store_observe, fmt.Errorf("insert: %w", err), event.Confirmation.ID)
	}
}

// Recent returns the latest entries, newest first.
func (s Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.qry.ListRecentEvents(ctx, int64(limit))
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, len(rows))
	for i, row := range rows {
		entries[i] = Entry{
			ID:             row.ID,
			Kind:           row.Kind,
			ConfirmationID: row.ConfirmationID,
			Type:           confirmations.ConfirmationType(row.ConfirmationType),
			CreatorID:      row.CreatorID,
			Title:          row.Title,
			Sending:        row.Sending,
			Receiving:      row.Receiving,
			OfferID:        row.OfferID,
			ObservedAt:     time.Unix(row.ObservedAt, 0),
		}
	}
	return entries, nil
}

// Prune deletes entries observed before the given time.
func (s Store) Prune(ctx context.Context, before time.Time) error {
	return s.qry.DeleteEventsBefore(ctx, before.Unix())
}
