package db

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type ConfirmationEvent struct {
	ID               int64
	Kind             string
	ConfirmationID   string
	ConfirmationType int64
	CreatorID        string
	Title            string
	Sending          string
	Receiving        string
	OfferID          string
	ObservedAt       int64
}

const insertEvent = `
insert into confirmation_event (
    kind, confirmation_id, confirmation_type, creator_id,
    title, sending, receiving, offer_id, observed_at
) values (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

type InsertEventParams struct {
	Kind             string
	ConfirmationID   string
	ConfirmationType int64
	CreatorID        string
	Title            string
	Sending          string
	Receiving        string
	OfferID          string
	ObservedAt       int64
}

func (q *Queries) InsertEvent(ctx context.Context, arg InsertEventParams) error {
	_, err := q.db.ExecContext(ctx, insertEvent,
		arg.Kind,
		arg.ConfirmationID,
		arg.ConfirmationType,
		arg.CreatorID,
		arg.Title,
		arg.Sending,
		arg.Receiving,
		arg.OfferID,
		arg.ObservedAt,
	)
	return err
}

const listRecentEvents = `
select id, kind, confirmation_id, confirmation_type, creator_id,
    title, sending, receiving, offer_id, observed_at
from confirmation_event
order by observed_at desc, id desc
limit ?
`

func (q *Queries) ListRecentEvents(ctx context.Context, limit int64) ([]ConfirmationEvent, error) {
	rows, err := q.db.QueryContext(ctx, listRecentEvents, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ConfirmationEvent
	for rows.Next() {
		var i ConfirmationEvent
		if err := rows.Scan(
			&i.ID,
			&i.Kind,
			&i.ConfirmationID,
			&i.ConfirmationType,
			&i.CreatorID,
			&i.Title,
			&i.Sending,
			&i.Receiving,
			&i.OfferID,
			&i.ObservedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteEventsBefore = `
delete from confirmation_event where observed_at < ?
`

func (q *Queries) DeleteEventsBefore(ctx context.Context, before int64) error {
	_, err := q.db.ExecContext(ctx, deleteEventsBefore, before)
	return err
}
