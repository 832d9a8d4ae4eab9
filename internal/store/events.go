// internal/store/events.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	jsoniter "github.com/json-iterator/go"

	"libracirc/internal/library"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrJournalConflict is returned when an event with the same copy and version was already recorded.
var ErrJournalConflict = errors.New("copy journal version already exists")

// AppendCopyEvent journals one transition of a copy. version must be the copy version after the transition.
func (t *sqlTx) AppendCopyEvent(ctx context.Context, copyID int64, version int, eventType string, payload any, at time.Time) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	_, err = t.exec(ctx, t.insert(tableCopyEvents).Rows(goqu.Record{
		colCopyID:     copyID,
		"version":     version,
		"event_type":  eventType,
		"payload":     string(data),
		"occurred_at": at.UTC(),
	}))
	if errors.Is(err, ErrUniqueViolation) {
		return fmt.Errorf("copy %d version %d: %w", copyID, version, errors.Join(ErrJournalConflict, ErrStaleCopy))
	}
	if err != nil {
		return fmt.Errorf("append %s to copy %d: %w", eventType, copyID, err)
	}
	return nil
}

// CopyEvents returns the journal of a copy in version order.
func (t *sqlTx) CopyEvents(ctx context.Context, copyID int64) ([]library.CopyEvent, error) {
	var recs []copyEventRecord
	err := t.selectAll(ctx, &recs, t.from(tableCopyEvents).
		Select(copyEventColumns...).
		Where(goqu.C(colCopyID).Eq(copyID)).
		Order(goqu.C("version").Asc()))
	if err != nil {
		return nil, fmt.Errorf("load journal of copy %d: %w", copyID, err)
	}

	events := make([]library.CopyEvent, 0, len(recs))
	for _, r := range recs {
		events = append(events, toCopyEvent(r))
	}
	return events, nil
}
