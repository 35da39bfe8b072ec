package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/overlay/internal/services/users/storage"
)

const (
	defaultJournalPageSize = 50
	maxJournalPageSize     = 200
)

type journalPagePlan struct {
	whereClause      string
	params           []any
	orderClause      string
	limitClause      string
	countWhereClause string
	countParams      []any
}

func buildJournalPagePlan(req storage.ListEventsRequest) journalPagePlan {
	var conds []string
	var params []any

	// The cursor comparison follows the sort direction so each page
	// continues where the previous one stopped.
	if req.CursorSeq > 0 {
		if req.Descending {
			conds = append(conds, "seq < ?")
		} else {
			conds = append(conds, "seq > ?")
		}
		params = append(params, req.CursorSeq)
	}
	if req.FilterClause != "" {
		conds = append(conds, req.FilterClause)
		params = append(params, req.FilterParams...)
	}

	var countConds []string
	var countParams []any
	if req.FilterClause != "" {
		countConds = append(countConds, req.FilterClause)
		countParams = append(countParams, req.FilterParams...)
	}

	orderClause := "ORDER BY seq ASC"
	if req.Descending {
		orderClause = "ORDER BY seq DESC"
	}

	return journalPagePlan{
		whereClause:      joinConditions(conds),
		params:           params,
		orderClause:      orderClause,
		limitClause:      fmt.Sprintf("LIMIT %d", req.PageSize+1),
		countWhereClause: joinConditions(countConds),
		countParams:      countParams,
	}
}

func joinConditions(conds []string) string {
	if len(conds) == 0 {
		return "1=1"
	}
	return strings.Join(conds, " AND ")
}

// ListEvents returns one page of the call journal.
func (s *Store) ListEvents(ctx context.Context, req storage.ListEventsRequest) (storage.EventPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.EventPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.EventPage{}, fmt.Errorf("storage is not configured")
	}
	if req.PageSize <= 0 {
		req.PageSize = defaultJournalPageSize
	}
	if req.PageSize > maxJournalPageSize {
		req.PageSize = maxJournalPageSize
	}

	plan := buildJournalPagePlan(req)

	query := fmt.Sprintf(
		`SELECT seq, ts, entrypoint, origin, sender_kind, sender_id, params
		 FROM registry_events
		 WHERE %s %s %s`,
		plan.whereClause,
		plan.orderClause,
		plan.limitClause,
	)

	rows, err := s.sqlDB.QueryContext(ctx, query, plan.params...)
	if err != nil {
		return storage.EventPage{}, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]storage.Event, 0, req.PageSize)
	for rows.Next() {
		var (
			evt    storage.Event
			ts     string
			params string
		)
		if err := rows.Scan(&evt.Seq, &ts, &evt.Entrypoint, &evt.Origin, &evt.SenderKind, &evt.SenderID, &params); err != nil {
			return storage.EventPage{}, fmt.Errorf("scan event: %w", err)
		}
		evt.Ts, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return storage.EventPage{}, fmt.Errorf("parse event ts: %w", err)
		}
		evt.Params = []byte(params)
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return storage.EventPage{}, fmt.Errorf("iterate events: %w", err)
	}

	hasNext := len(events) > req.PageSize
	if hasNext {
		events = events[:req.PageSize]
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM registry_events WHERE %s", plan.countWhereClause)
	var totalCount int64
	if err := s.sqlDB.QueryRowContext(ctx, countQuery, plan.countParams...).Scan(&totalCount); err != nil {
		return storage.EventPage{}, fmt.Errorf("count events: %w", err)
	}

	return storage.EventPage{
		Events:     events,
		HasNext:    hasNext,
		TotalCount: totalCount,
	}, nil
}
