package db

import (
	"context"
	"database/sql"

	"github.com/uptrace/bun"

	"event-notifier-bot/event"
)

// Columns replaced on conflict. id, start_date and date_added are never overwritten.
var mutableEventColumns = []string{
	"end_date", "date_fuzzy", "start_time", "end_time",
	"name", "description", "url", "img",
	"location", "cost", "status", "other",
	"topic", "source",
}

// UpsertEvents inserts new events and replaces mutable fields of known ones in a single transaction.
// Events sharing an identity within the batch collapse to the last one.
func (d *DB) UpsertEvents(ctx context.Context, events []event.Event) (int, error) {
	rows := dedupeBatch(events)
	if len(rows) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	var affected int
	err := d.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for start := 0; start < len(rows); start += upsertChunkSize {
			end := start + upsertChunkSize
			if end > len(rows) {
				end = len(rows)
			}
			chunk := rows[start:end]
			query := tx.NewInsert().
				Model(&chunk).
				On("CONFLICT (id, start_date) DO UPDATE")
			for _, column := range mutableEventColumns {
				query = query.Set("? = EXCLUDED.?", bun.Ident(column), bun.Ident(column))
			}
			res, err := query.Exec(ctx)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			affected += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, storeError("upsert events", err)
	}
	return affected, nil
}

func dedupeBatch(events []event.Event) []Event {
	index := make(map[event.Identity]int, len(events))
	rows := make([]Event, 0, len(events))
	for _, e := range events {
		row := fromEvent(e)
		id := e.Identity()
		if i, ok := index[id]; ok {
			rows[i] = row
			continue
		}
		index[id] = len(rows)
		rows = append(rows, row)
	}
	return rows
}

// QueryEvents returns events starting on or after q.From and ending on or before q.Until,
// ordered by start date and id.
func (d *DB) QueryEvents(ctx context.Context, q event.Query) ([]event.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	var rows []Event
	query := d.db.NewSelect().
		Model(&rows).
		Where("e.start_date >= ?", event.Date(q.From)).
		Where("COALESCE(e.end_date, e.start_date) <= ?", event.Date(q.Until)).
		OrderExpr("e.start_date ASC, e.id ASC")
	if len(q.Topics) > 0 {
		query = query.Where("e.topic IN (?)", bun.In(q.Topics))
	}
	err := query.Scan(ctx)
	if err != nil {
		return nil, storeError("query events", err)
	}
	events := make([]event.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toEvent())
	}
	return events, nil
}
