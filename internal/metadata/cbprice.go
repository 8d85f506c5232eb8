package metadata

import (
	"context"
	"sort"

	"github.com/quindar/refdata-api/internal/backend"
	"github.com/quindar/refdata-api/internal/types"
)

// CBPriceTableName holds the conversion price revision history for convertible bonds
const CBPriceTableName = "cb_conversion_price_history"

// AppendConversionPrice records a conversion price revision for a convertible bond
func (d *Database) AppendConversionPrice(ctx context.Context, rev types.ConversionPriceRevision) error {
	_, err := d.adapter.Execute(ctx, CBPriceTableName, backend.OpUpsert,
		map[string]any{
			"symbol":            rev.Symbol,
			"exchange":          rev.Exchange,
			"announcement_date": rev.AnnouncementDate.UTC(),
		},
		map[string]any{
			"effective_date":   rev.EffectiveDate.UTC(),
			"conversion_price": rev.ConversionPrice,
		})
	return err
}

// ConversionPrices returns the revision history for one bond, oldest first
func (d *Database) ConversionPrices(ctx context.Context, key types.InstrumentKey) ([]types.ConversionPriceRevision, error) {
	rows, err := d.adapter.Query(ctx, CBPriceTableName, keyColumns(key))
	if err != nil {
		return nil, err
	}

	out := make([]types.ConversionPriceRevision, 0, len(rows))
	for _, row := range rows {
		out = append(out, types.ConversionPriceRevision{
			Symbol:           rowString(row["symbol"]),
			Exchange:         rowString(row["exchange"]),
			AnnouncementDate: rowTime(row["announcement_date"]),
			EffectiveDate:    rowTime(row["effective_date"]),
			ConversionPrice:  rowDecimal(row["conversion_price"]),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AnnouncementDate.Before(out[j].AnnouncementDate)
	})
	return out, nil
}
