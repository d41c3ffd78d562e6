package aggregator

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantjourney/fundarb/pkg/interfaces"
)

type fakeProvider struct {
	name       string
	symbols    []string
	symbolsErr error
	rates      map[string]decimal.Decimal
	rateErr    error
	marks      map[string]decimal.Decimal
	markErr    error
	oi         map[string]decimal.Decimal
}

func (f *fakeProvider) Exchange() string { return f.name }

func (f *fakeProvider) SupportedSymbols(context.Context) ([]string, error) {
	return f.symbols, f.symbolsErr
}

func (f *fakeProvider) CurrentFundingRate(_ context.Context, symbol string) (decimal.Decimal, error) {
	if f.rateErr != nil {
		return decimal.Zero, f.rateErr
	}
	r, ok := f.rates[symbol]
	if !ok {
		return decimal.Zero, errors.New("unknown symbol")
	}
	return r, nil
}

func (f *fakeProvider) PredictedFundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f.CurrentFundingRate(ctx, symbol)
}

func (f *fakeProvider) MarkPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	if f.markErr != nil {
		return decimal.Zero, f.markErr
	}
	if m, ok := f.marks[symbol]; ok {
		return m, nil
	}
	return decimal.NewFromInt(2000), nil
}

func (f *fakeProvider) OpenInterest(_ context.Context, symbol string) (decimal.Decimal, error) {
	if o, ok := f.oi[symbol]; ok {
		return o, nil
	}
	return decimal.NewFromInt(1_000_000), nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testConfig(assets ...string) Config {
	cfg := DefaultConfig()
	cfg.AllowedAssets = assets
	cfg.BatchDelay = 0 // no pacing in tests
	return cfg
}

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ETHUSDT", "ETH"},
		{"ETHUSD", "ETH"},
		{"ETHUSDC", "ETH"},
		{"ETH-PERP", "ETH"},
		{"eth-perp", "ETH"},
		{"BTC/USDT:USDT", "BTC"},
		{"SOL_USDC", "SOL"},
		{"ETH", "ETH"},
		{"1000PEPEUSDT", "1000PEPE"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeSymbol(tt.in))
		})
	}
}

func TestDiscoverAssetsRequiresTwoExchangesAndAllowList(t *testing.T) {
	a := New([]interfaces.FundingDataProvider{
		&fakeProvider{name: "binance", symbols: []string{"ETHUSDT", "BTCUSDT", "DOGEUSDT"}},
		&fakeProvider{name: "bybit", symbols: []string{"ETH-PERP", "DOGE-PERP"}},
	}, testConfig("ETH", "DOGE"), quietLogger())

	assets, err := a.DiscoverAssets(context.Background())
	require.NoError(t, err)

	// BTC is on one exchange only and not allow-listed; DOGE and ETH are on both.
	assert.Equal(t, []string{"DOGE", "ETH"}, assets)

	native, ok := a.nativeSymbol("bybit", "ETH")
	require.True(t, ok)
	assert.Equal(t, "ETH-PERP", native)
}

func TestDiscoverAssetsToleratesFailingExchange(t *testing.T) {
	a := New([]interfaces.FundingDataProvider{
		&fakeProvider{name: "binance", symbols: []string{"ETHUSDT"}},
		&fakeProvider{name: "bybit", symbols: []string{"ETHUSDT"}},
		&fakeProvider{name: "okx", symbolsErr: errors.New("503")},
	}, testConfig("ETH"), quietLogger())

	assets, err := a.DiscoverAssets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ETH"}, assets)
}

func TestDiscoverAssetsErrorsWhenNothingTradeable(t *testing.T) {
	a := New([]interfaces.FundingDataProvider{
		&fakeProvider{name: "binance", symbols: []string{"ETHUSDT"}},
		&fakeProvider{name: "bybit", symbols: []string{"BTCUSDT"}},
	}, testConfig("ETH", "BTC"), quietLogger())

	_, err := a.DiscoverAssets(context.Background())
	assert.Error(t, err)
}

func TestGetFundingRatesOmitsFailingExchange(t *testing.T) {
	a := New([]interfaces.FundingDataProvider{
		&fakeProvider{name: "binance", symbols: []string{"ETHUSDT"}, rates: map[string]decimal.Decimal{"ETHUSDT": d(-0.0003)}},
		&fakeProvider{name: "bybit", symbols: []string{"ETH-PERP"}, rateErr: errors.New("timeout")},
	}, testConfig("ETH"), quietLogger())

	_, err := a.DiscoverAssets(context.Background())
	require.NoError(t, err)

	rates := a.GetFundingRates(context.Background(), "ETH")
	require.Len(t, rates, 1)
	assert.Equal(t, "binance", rates[0].Exchange)
	assert.True(t, rates[0].CurrentRate.Equal(d(-0.0003)))
}

func TestGetFundingRatesDegradesMissingMarkAndOI(t *testing.T) {
	a := New([]interfaces.FundingDataProvider{
		&fakeProvider{name: "binance", symbols: []string{"ETHUSDT"}, rates: map[string]decimal.Decimal{"ETHUSDT": d(0.0001)}, markErr: errors.New("no mark")},
		&fakeProvider{name: "bybit", symbols: []string{"ETHUSDT"}, rates: map[string]decimal.Decimal{"ETHUSDT": d(0.0002)}},
	}, testConfig("ETH"), quietLogger())

	_, err := a.DiscoverAssets(context.Background())
	require.NoError(t, err)

	rates := a.GetFundingRates(context.Background(), "ETH")
	require.Len(t, rates, 2)
	assert.True(t, rates[0].MarkPrice.IsZero(), "failed mark price degrades to zero, not an omission")
}

func TestFindArbitrageOpportunitiesScenario(t *testing.T) {
	// Spec scenario: long on A at -0.0003, short on B at +0.0001 => spread 0.0004.
	newAgg := func() *Aggregator {
		a := New([]interfaces.FundingDataProvider{
			&fakeProvider{name: "exchange-a", symbols: []string{"ETHUSDT"}, rates: map[string]decimal.Decimal{"ETHUSDT": d(-0.0003)}},
			&fakeProvider{name: "exchange-b", symbols: []string{"ETHUSDT"}, rates: map[string]decimal.Decimal{"ETHUSDT": d(0.0001)}},
		}, testConfig("ETH"), quietLogger())
		_, err := a.DiscoverAssets(context.Background())
		require.NoError(t, err)
		return a
	}

	t.Run("emitted when minSpread at or below spread", func(t *testing.T) {
		opps, err := newAgg().FindArbitrageOpportunities(context.Background(), []string{"ETH"}, d(0.0004))
		require.NoError(t, err)
		require.Len(t, opps, 1)

		opp := opps[0]
		assert.Equal(t, "ETH", opp.Symbol)
		assert.Equal(t, "exchange-a", opp.LongExchange)
		assert.Equal(t, "exchange-b", opp.ShortExchange)
		assert.NotEqual(t, opp.LongExchange, opp.ShortExchange)
		assert.True(t, opp.Spread.Equal(d(0.0004)))
		assert.True(t, opp.ExpectedReturn.Equal(d(0.0004).Mul(decimal.NewFromInt(8760))))
	})

	t.Run("suppressed when minSpread above spread", func(t *testing.T) {
		opps, err := newAgg().FindArbitrageOpportunities(context.Background(), []string{"ETH"}, d(0.0005))
		require.NoError(t, err)
		assert.Empty(t, opps)
	})
}

func TestFindArbitrageOpportunitiesDeduplicatesPair(t *testing.T) {
	// With one negative and one positive venue both constructions land on the
	// same exchange pair; exactly one opportunity must survive.
	a := New([]interfaces.FundingDataProvider{
		&fakeProvider{name: "binance", symbols: []string{"ETHUSDT"}, rates: map[string]decimal.Decimal{"ETHUSDT": d(-0.0003)}},
		&fakeProvider{name: "bybit", symbols: []string{"ETHUSDT"}, rates: map[string]decimal.Decimal{"ETHUSDT": d(0.0001)}},
	}, testConfig("ETH"), quietLogger())
	_, err := a.DiscoverAssets(context.Background())
	require.NoError(t, err)

	opps, err := a.FindArbitrageOpportunities(context.Background(), []string{"ETH"}, d(0.0001))
	require.NoError(t, err)
	assert.Len(t, opps, 1)
}

func TestFindArbitrageOpportunitiesSameSignRates(t *testing.T) {
	// All-negative rates: the directional construction cannot fire, the
	// highest-vs-lowest pairing still can.
	a := New([]interfaces.FundingDataProvider{
		&fakeProvider{name: "binance", symbols: []string{"ETHUSDT"}, rates: map[string]decimal.Decimal{"ETHUSDT": d(-0.0003)}},
		&fakeProvider{name: "bybit", symbols: []string{"ETHUSDT"}, rates: map[string]decimal.Decimal{"ETHUSDT": d(-0.00005)}},
	}, testConfig("ETH"), quietLogger())
	_, err := a.DiscoverAssets(context.Background())
	require.NoError(t, err)

	opps, err := a.FindArbitrageOpportunities(context.Background(), []string{"ETH"}, d(0.0002))
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.Equal(t, "binance", opps[0].LongExchange)
	assert.Equal(t, "bybit", opps[0].ShortExchange)
	assert.True(t, opps[0].Spread.Equal(d(0.00025)))
}

func TestFindArbitrageOpportunitiesSortedByExpectedReturn(t *testing.T) {
	a := New([]interfaces.FundingDataProvider{
		&fakeProvider{name: "binance", symbols: []string{"ETHUSDT", "BTCUSDT"}, rates: map[string]decimal.Decimal{
			"ETHUSDT": d(-0.0003),
			"BTCUSDT": d(-0.0001),
		}},
		&fakeProvider{name: "bybit", symbols: []string{"ETHUSDT", "BTCUSDT"}, rates: map[string]decimal.Decimal{
			"ETHUSDT": d(0.0001),
			"BTCUSDT": d(0.0001),
		}},
	}, testConfig("ETH", "BTC"), quietLogger())
	_, err := a.DiscoverAssets(context.Background())
	require.NoError(t, err)

	opps, err := a.FindArbitrageOpportunities(context.Background(), []string{"BTC", "ETH"}, d(0.0001))
	require.NoError(t, err)
	require.Len(t, opps, 2)
	assert.Equal(t, "ETH", opps[0].Symbol, "larger spread ranks first")
	assert.Equal(t, "BTC", opps[1].Symbol)
}
