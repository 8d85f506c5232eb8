package schema

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quindar/refdata-api/internal/types"
)

func validStock() (*types.Instrument, types.ExtensionRecord) {
	return &types.Instrument{
			Symbol:      "AAPL",
			Exchange:    "NASDAQ",
			Name:        "Apple Inc.",
			InstType:    types.TypeStock,
			Currency:    "USD",
			Timezone:    "America/New_York",
			TickSize:    decimal.RequireFromString("0.01"),
			LotSize:     decimal.NewFromInt(1),
			MinLots:     decimal.NewFromInt(1),
			MarketTPlus: 2,
			ListedDate:  time.Date(1980, 12, 12, 0, 0, 0, 0, time.UTC),
		}, &types.EquityExtension{
			Country:   "US",
			BoardType: "Mainboard",
		}
}

func validConvertible() (*types.Instrument, *types.ConvertibleExtension) {
	return &types.Instrument{
			Symbol:      "113050",
			Exchange:    "SSE",
			Name:        "CMB Convertible Bond",
			InstType:    types.TypeConvertible,
			Currency:    "CNY",
			Timezone:    "Asia/Shanghai",
			TickSize:    decimal.RequireFromString("0.001"),
			LotSize:     decimal.NewFromInt(10),
			MinLots:     decimal.NewFromInt(1),
			MarketTPlus: 0,
			ListedDate:  time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC),
		}, &types.ConvertibleExtension{
			Country:             "CN",
			StockCode:           "600036",
			StockExchange:       "SSE",
			MaturityDate:        time.Date(2029, 4, 1, 0, 0, 0, 0, time.UTC),
			IssuePrice:          decimal.NewFromInt(100),
			TotalIssueSize:      decimal.NewFromInt(5000000000),
			ParValue:            decimal.NewFromInt(100),
			RedemptionPrice:     decimal.NewFromInt(108),
			ConversionStartDate: time.Date(2023, 10, 1, 0, 0, 0, 0, time.UTC),
			ConversionEndDate:   time.Date(2029, 3, 31, 0, 0, 0, 0, time.UTC),
		}
}

func TestValidateStock(t *testing.T) {
	reg := Builtin()

	inst, ext := validStock()
	require.NoError(t, reg.Validate(inst, ext))
}

func TestValidateBaseFailures(t *testing.T) {
	reg := Builtin()

	delisted := time.Date(1979, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		mutate    func(i *types.Instrument)
		wantField string
	}{
		{name: "zero tick size", mutate: func(i *types.Instrument) { i.TickSize = decimal.Zero }, wantField: "tick_size"},
		{name: "negative lot size", mutate: func(i *types.Instrument) { i.LotSize = decimal.NewFromInt(-1) }, wantField: "lot_size"},
		{name: "zero min lots", mutate: func(i *types.Instrument) { i.MinLots = decimal.Zero }, wantField: "min_lots"},
		{name: "negative tplus", mutate: func(i *types.Instrument) { i.MarketTPlus = -1 }, wantField: "market_tplus"},
		{name: "missing name", mutate: func(i *types.Instrument) { i.Name = "" }, wantField: "name"},
		{name: "missing listed date", mutate: func(i *types.Instrument) { i.ListedDate = time.Time{} }, wantField: "listed_date"},
		{name: "delisted before listed", mutate: func(i *types.Instrument) { i.DelistedDate = &delisted }, wantField: "delisted_date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, ext := validStock()
			tt.mutate(inst)

			err := reg.Validate(inst, ext)
			require.Error(t, err)

			var verr *types.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestValidateExtensionShape(t *testing.T) {
	reg := Builtin()

	inst, _ := validStock()

	// Missing required extension
	err := reg.Validate(inst, nil)
	var verr *types.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "extension", verr.Field)

	// Wrong variant for the type
	_, cbExt := validConvertible()
	err = reg.Validate(inst, cbExt)
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "extension", verr.Field)

	// FUT needs no extension at all
	fut := &types.Instrument{
		Symbol:      "ESZ6",
		Exchange:    "CME",
		Name:        "E-mini S&P 500 Dec 2026",
		InstType:    types.TypeFuture,
		Currency:    "USD",
		Timezone:    "America/Chicago",
		TickSize:    decimal.RequireFromString("0.25"),
		LotSize:     decimal.NewFromInt(1),
		MinLots:     decimal.NewFromInt(1),
		MarketTPlus: 0,
		ListedDate:  time.Date(2025, 9, 19, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, reg.Validate(fut, nil))
}

func TestValidateConvertible(t *testing.T) {
	reg := Builtin()

	inst, ext := validConvertible()
	require.NoError(t, reg.Validate(inst, ext))

	tests := []struct {
		name      string
		mutate    func(e *types.ConvertibleExtension)
		wantField string
	}{
		{
			name:      "negative issue size",
			mutate:    func(e *types.ConvertibleExtension) { e.TotalIssueSize = decimal.NewFromInt(-1) },
			wantField: "total_issue_size",
		},
		{
			name: "conversion window inverted",
			mutate: func(e *types.ConvertibleExtension) {
				e.ConversionEndDate = e.ConversionStartDate.AddDate(0, -1, 0)
			},
			wantField: "conversion_end_date",
		},
		{
			name: "maturity before conversion end",
			mutate: func(e *types.ConvertibleExtension) {
				e.MaturityDate = e.ConversionEndDate.AddDate(0, 0, -1)
			},
			wantField: "maturity_date",
		},
		{
			name:      "missing stock code",
			mutate:    func(e *types.ConvertibleExtension) { e.StockCode = "" },
			wantField: "stock_code",
		},
		{
			name:      "zero par value",
			mutate:    func(e *types.ConvertibleExtension) { e.ParValue = decimal.Zero },
			wantField: "par_value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, ext := validConvertible()
			tt.mutate(ext)

			err := reg.Validate(inst, ext)
			require.Error(t, err)

			var verr *types.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestValidateZeroIssueSizeAllowed(t *testing.T) {
	reg := Builtin()

	inst, ext := validConvertible()
	ext.TotalIssueSize = decimal.Zero
	require.NoError(t, reg.Validate(inst, ext))
}
