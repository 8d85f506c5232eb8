package metadata

import (
	"context"
	"sort"

	"github.com/quindar/refdata-api/internal/backend"
	"github.com/quindar/refdata-api/internal/types"
)

// JournalTableName holds one row per committed metadata mutation
const JournalTableName = "instrument_changes"

// AppendChange records a committed mutation in the change journal
func (d *Database) AppendChange(ctx context.Context, event types.ChangeEvent) error {
	_, err := d.adapter.Execute(ctx, JournalTableName, backend.OpUpsert,
		map[string]any{"change_id": event.ChangeID},
		map[string]any{
			"symbol":     event.Symbol,
			"exchange":   event.Exchange,
			"inst_type":  string(event.InstType),
			"action":     event.Action,
			"detail":     event.Detail,
			"changed_at": event.Timestamp.UTC(),
		})
	return err
}

// ChangesFor returns the journal entries for one instrument, newest first
func (d *Database) ChangesFor(ctx context.Context, key types.InstrumentKey) ([]types.ChangeEvent, error) {
	rows, err := d.adapter.Query(ctx, JournalTableName, keyColumns(key))
	if err != nil {
		return nil, err
	}

	out := make([]types.ChangeEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, types.ChangeEvent{
			ChangeID:  rowString(row["change_id"]),
			Symbol:    rowString(row["symbol"]),
			Exchange:  rowString(row["exchange"]),
			InstType:  types.InstrumentType(rowString(row["inst_type"])),
			Action:    rowString(row["action"]),
			Detail:    rowString(row["detail"]),
			Timestamp: rowTime(row["changed_at"]),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ChangeID > out[j].ChangeID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}
