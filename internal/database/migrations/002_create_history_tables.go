package migrations

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/quindar/refdata-api/internal/metadata"
)

// CreateHistoryTables creates the append-only tables: the change
// journal and the convertible-bond conversion price history
func CreateHistoryTables(db *gorm.DB) error {
	journal := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		change_id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL,
		inst_type TEXT NOT NULL,
		action TEXT NOT NULL,
		detail TEXT,
		changed_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`, metadata.JournalTableName)

	if err := db.Exec(journal).Error; err != nil {
		return err
	}

	conversionPrices := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL,
		announcement_date TIMESTAMP NOT NULL,
		effective_date TIMESTAMP NOT NULL,
		conversion_price NUMERIC NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP,
		PRIMARY KEY (symbol, exchange, announcement_date)
	)`, metadata.CBPriceTableName)

	if err := db.Exec(conversionPrices).Error; err != nil {
		return err
	}

	indexes := []string{
		// Index for per-instrument journal lookups
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_instrument_changes_key
		 ON %s(symbol, exchange)`, metadata.JournalTableName),

		// Index for time-ordered journal scans
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_instrument_changes_changed_at
		 ON %s(changed_at)`, metadata.JournalTableName),

		// Index for effective-date lookups on conversion prices
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_cb_conversion_price_effective
		 ON %s(symbol, exchange, effective_date)`, metadata.CBPriceTableName),
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
