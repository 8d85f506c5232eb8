package migrations

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/quindar/refdata-api/internal/schema"
)

// CreateInstrumentTables creates the shared base table plus one
// extension table per instrument type that defines extension fields.
// Column shapes come from the schema registry, so registering a new
// instrument type needs no migration edits.
func CreateInstrumentTables(db *gorm.DB, registry *schema.Registry) error {
	instTypes := registry.Types()
	if len(instTypes) == 0 {
		return fmt.Errorf("schema registry is empty")
	}

	first, err := registry.SchemaFor(instTypes[0])
	if err != nil {
		return err
	}
	if err := db.Exec(baseTableSQL(first.BaseFields)).Error; err != nil {
		return err
	}

	for _, instType := range instTypes {
		s, err := registry.SchemaFor(instType)
		if err != nil {
			return err
		}
		if !s.HasExtension() {
			continue
		}
		if err := db.Exec(extensionTableSQL(s)).Error; err != nil {
			return err
		}
	}

	// Using raw SQL for index creation to have more control over index types
	indexes := []string{
		// Index for listing instruments by type
		`CREATE INDEX IF NOT EXISTS idx_instruments_inst_type
		 ON instruments(inst_type)`,

		// Index for listing-date range scans
		`CREATE INDEX IF NOT EXISTS idx_instruments_listed_date
		 ON instruments(listed_date)`,

		// Composite index for type and currency (common filter pair)
		`CREATE INDEX IF NOT EXISTS idx_instruments_inst_type_currency
		 ON instruments(inst_type, currency)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}

// baseTableSQL renders the instruments table. The (symbol, exchange)
// primary key backs the upsert conflict target.
func baseTableSQL(fields []schema.FieldDef) string {
	columns := make([]string, 0, len(fields)+3)
	for _, f := range fields {
		columns = append(columns, columnSQL(f))
	}
	columns = append(columns,
		"created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP",
		"updated_at TIMESTAMP",
		"PRIMARY KEY (symbol, exchange)",
	)
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		schema.BaseTableName, strings.Join(columns, ", "))
}

// extensionTableSQL renders one per-type extension table, keyed the
// same way as the base table
func extensionTableSQL(s *schema.Schema) string {
	columns := []string{
		"symbol TEXT NOT NULL",
		"exchange TEXT NOT NULL",
	}
	for _, f := range s.ExtensionFields {
		columns = append(columns, columnSQL(f))
	}
	columns = append(columns,
		"created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP",
		"updated_at TIMESTAMP",
		"PRIMARY KEY (symbol, exchange)",
	)
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		s.Table(), strings.Join(columns, ", "))
}

func columnSQL(f schema.FieldDef) string {
	col := f.Name + " " + sqlType(f.Kind)
	if f.Required {
		col += " NOT NULL"
	}
	return col
}

func sqlType(kind schema.FieldKind) string {
	switch kind {
	case schema.KindDecimal:
		return "NUMERIC"
	case schema.KindDate:
		return "TIMESTAMP"
	case schema.KindInt:
		return "INTEGER"
	default:
		return "TEXT"
	}
}
