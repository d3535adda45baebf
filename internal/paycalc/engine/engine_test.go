package engine

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	loaddomain "github.com/adrijusxx/linehaul/internal/load/domain"
	"github.com/adrijusxx/linehaul/internal/paycalc/domain"
)

func newEngine() domain.Engine {
	return &engine{log: zap.NewNop()}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCalculatePerMile(t *testing.T) {
	driver := loaddomain.Driver{
		ID:      snowflake.ID(1),
		PayType: loaddomain.PayTypePerMile,
		PayRate: dec("0.55"),
	}
	loads := []loaddomain.Load{
		{ID: snowflake.ID(10), LoadNumber: "L-100", TotalMiles: dec("1000"), Revenue: dec("2500")},
		{ID: snowflake.ID(11), LoadNumber: "L-101", TotalMiles: dec("412.5"), Revenue: dec("900")},
	}

	result, err := newEngine().Calculate(context.Background(), domain.Input{
		Driver: driver,
		Loads:  loads,
		Now:    time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	// 1000 * 0.55 = 550.00, 412.5 * 0.55 = 226.88 (rounded)
	assert.True(t, result.Gross.Equal(dec("776.88")), "gross = %s", result.Gross)
	assert.True(t, result.Net.Equal(dec("776.88")))
	assert.True(t, result.TotalDeductions.IsZero())

	require.Len(t, result.Log.LineItems, 2)
	assert.Equal(t, "per_mile", result.Log.LineItems[0].RuleApplied)
	assert.Equal(t, Version, result.Log.CalculatorVersion)
}

func TestCalculatePercentageOfRevenue(t *testing.T) {
	driver := loaddomain.Driver{
		ID:      snowflake.ID(2),
		PayType: loaddomain.PayTypePercentage,
		PayRate: dec("0.25"),
	}
	loads := []loaddomain.Load{
		{ID: snowflake.ID(20), LoadNumber: "L-200", Revenue: dec("2000"), TotalMiles: dec("600")},
	}

	result, err := newEngine().Calculate(context.Background(), domain.Input{Driver: driver, Loads: loads})
	require.NoError(t, err)

	assert.True(t, result.Gross.Equal(dec("500")), "gross = %s", result.Gross)
	require.Len(t, result.Log.LineItems, 1)
	assert.Equal(t, "percentage_of_revenue", result.Log.LineItems[0].RuleApplied)
}

func TestCalculateFlatPerLoad(t *testing.T) {
	driver := loaddomain.Driver{
		ID:      snowflake.ID(3),
		PayType: loaddomain.PayTypeFlat,
		PayRate: dec("300"),
	}
	loads := []loaddomain.Load{
		{ID: snowflake.ID(30), Revenue: dec("900")},
		{ID: snowflake.ID(31), Revenue: dec("1100")},
	}

	result, err := newEngine().Calculate(context.Background(), domain.Input{Driver: driver, Loads: loads})
	require.NoError(t, err)
	assert.True(t, result.Gross.Equal(dec("600")))
}

func TestStoredDriverPayOverridesScheme(t *testing.T) {
	driver := loaddomain.Driver{
		ID:      snowflake.ID(4),
		PayType: loaddomain.PayTypePerMile,
		PayRate: dec("0.55"),
	}
	loads := []loaddomain.Load{
		{ID: snowflake.ID(40), TotalMiles: dec("1000"), DriverPay: dec("750")},
	}

	result, err := newEngine().Calculate(context.Background(), domain.Input{Driver: driver, Loads: loads})
	require.NoError(t, err)

	assert.True(t, result.Gross.Equal(dec("750")))
	require.Len(t, result.Log.LineItems, 1)
	assert.Equal(t, "load_override", result.Log.LineItems[0].RuleApplied)
}

func TestAdjustmentsFlowIntoNet(t *testing.T) {
	driver := loaddomain.Driver{
		ID:      snowflake.ID(5),
		PayType: loaddomain.PayTypeFlat,
		PayRate: dec("1000"),
	}
	loads := []loaddomain.Load{{ID: snowflake.ID(50)}}
	adjustments := []domain.Adjustment{
		{Kind: domain.AdjustmentAddition, Type: "SAFETY_BONUS", Amount: dec("100")},
		{Kind: domain.AdjustmentDeduction, Type: "INSURANCE", Amount: dec("50")},
		{Kind: domain.AdjustmentAdvance, Type: "CASH_ADVANCE", Amount: dec("200")},
	}

	result, err := newEngine().Calculate(context.Background(), domain.Input{
		Driver:      driver,
		Loads:       loads,
		Adjustments: adjustments,
	})
	require.NoError(t, err)

	assert.True(t, result.Gross.Equal(dec("1100")), "gross = %s", result.Gross)
	assert.True(t, result.TotalDeductions.Equal(dec("250")))
	assert.True(t, result.Net.Equal(dec("850")))

	assert.Len(t, result.Log.Additions, 1)
	assert.Len(t, result.Log.Deductions, 1)
	assert.Len(t, result.Log.Advances, 1)
}

func TestUnknownPayTypeFails(t *testing.T) {
	driver := loaddomain.Driver{ID: snowflake.ID(6), PayType: loaddomain.PayType("HOURLY")}
	_, err := newEngine().Calculate(context.Background(), domain.Input{
		Driver: driver,
		Loads:  []loaddomain.Load{{ID: snowflake.ID(60)}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown pay type")
}

func TestUnknownAdjustmentKindFails(t *testing.T) {
	driver := loaddomain.Driver{ID: snowflake.ID(7), PayType: loaddomain.PayTypeFlat, PayRate: dec("100")}
	_, err := newEngine().Calculate(context.Background(), domain.Input{
		Driver:      driver,
		Adjustments: []domain.Adjustment{{Kind: domain.AdjustmentKind("REFUND"), Amount: dec("10")}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown adjustment kind")
}

func TestSingleJurisdictionApportionment(t *testing.T) {
	calc := SingleJurisdiction{Base: "IL"}

	miles, err := calc.Apportion(context.Background(), loaddomain.Load{TotalMiles: dec("600")})
	require.NoError(t, err)
	require.Len(t, miles, 1)
	assert.Equal(t, "IL", miles[0].Jurisdiction)
	assert.True(t, miles[0].Miles.Equal(dec("600")))

	miles, err = calc.Apportion(context.Background(), loaddomain.Load{
		TotalMiles: dec("100"),
		Metadata:   map[string]any{"jurisdiction": "TX"},
	})
	require.NoError(t, err)
	require.Len(t, miles, 1)
	assert.Equal(t, "TX", miles[0].Jurisdiction)
}
