package aggregator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/quantjourney/fundarb/internal/models"
	"github.com/quantjourney/fundarb/pkg/interfaces"
)

// Config tunes discovery pacing and the liquidity gate.
type Config struct {
	AllowedAssets []string      // explicit asset allow-list (normalized symbols)
	BatchSize     int           // symbols per discovery batch
	BatchDelay    time.Duration // inter-batch pacing for external rate limits
	QueryTimeout  time.Duration // per external call
	MinExchanges  int           // asset must be listed on at least this many exchanges
}

// DefaultConfig matches the production pacing: 5 symbols per batch, one batch
// per second, 10s per upstream call.
func DefaultConfig() Config {
	return Config{
		BatchSize:    5,
		BatchDelay:   time.Second,
		QueryTimeout: 10 * time.Second,
		MinExchanges: 2,
	}
}

// Aggregator discovers arbitrage candidates across the configured exchanges.
// The symbol map is built once via DiscoverAssets; rate queries fan out per
// exchange and tolerate partial failure by omission.
type Aggregator struct {
	providers map[string]interfaces.FundingDataProvider
	cfg       Config
	logger    *logrus.Logger
	limiter   *rate.Limiter

	mu        sync.RWMutex
	symbolMap map[string]map[string]string // normalized -> exchange -> native symbol
}

// New builds an aggregator over the given providers, keyed by exchange name.
func New(providers []interfaces.FundingDataProvider, cfg Config, logger *logrus.Logger) *Aggregator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.MinExchanges < 2 {
		cfg.MinExchanges = 2
	}
	byName := make(map[string]interfaces.FundingDataProvider, len(providers))
	for _, p := range providers {
		byName[p.Exchange()] = p
	}

	var limiter *rate.Limiter
	if cfg.BatchDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.BatchDelay), 1)
	}

	return &Aggregator{
		providers: byName,
		cfg:       cfg,
		logger:    logger,
		limiter:   limiter,
		symbolMap: make(map[string]map[string]string),
	}
}

// DiscoverAssets builds the normalized-symbol map across all exchanges,
// restricted to assets listed on at least MinExchanges exchanges and present on
// the allow-list. A failing exchange is logged and omitted. Returns the
// tradeable normalized symbols, sorted.
func (a *Aggregator) DiscoverAssets(ctx context.Context) ([]string, error) {
	type listing struct {
		exchange string
		symbols  []string
	}

	results := make(chan listing, len(a.providers))
	var wg sync.WaitGroup
	for _, provider := range a.providers {
		wg.Add(1)
		go func(p interfaces.FundingDataProvider) {
			defer wg.Done()
			callCtx, cancel := a.callContext(ctx)
			defer cancel()
			symbols, err := p.SupportedSymbols(callCtx)
			if err != nil {
				a.logger.WithFields(logrus.Fields{
					"exchange": p.Exchange(),
				}).WithError(err).Warn("asset discovery failed for exchange, omitting")
				return
			}
			results <- listing{exchange: p.Exchange(), symbols: symbols}
		}(provider)
	}
	wg.Wait()
	close(results)

	allowed := make(map[string]bool, len(a.cfg.AllowedAssets))
	for _, asset := range a.cfg.AllowedAssets {
		allowed[NormalizeSymbol(asset)] = true
	}

	symbolMap := make(map[string]map[string]string)
	for l := range results {
		for _, native := range l.symbols {
			normalized := NormalizeSymbol(native)
			if normalized == "" {
				continue
			}
			if len(allowed) > 0 && !allowed[normalized] {
				continue
			}
			if symbolMap[normalized] == nil {
				symbolMap[normalized] = make(map[string]string)
			}
			symbolMap[normalized][l.exchange] = native
		}
	}

	// Liquidity gate: cross-exchange arbitrage needs the asset on both sides.
	var tradeable []string
	for normalized, exchanges := range symbolMap {
		if len(exchanges) < a.cfg.MinExchanges {
			delete(symbolMap, normalized)
			continue
		}
		tradeable = append(tradeable, normalized)
	}
	sort.Strings(tradeable)

	a.mu.Lock()
	a.symbolMap = symbolMap
	a.mu.Unlock()

	a.logger.WithFields(logrus.Fields{
		"assets":    len(tradeable),
		"exchanges": len(a.providers),
	}).Info("asset discovery completed")

	if len(tradeable) == 0 {
		return nil, fmt.Errorf("no assets available on %d or more exchanges", a.cfg.MinExchanges)
	}
	return tradeable, nil
}

// nativeSymbol resolves the exchange-native spelling for a normalized symbol.
func (a *Aggregator) nativeSymbol(exchange, symbol string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	exchanges, ok := a.symbolMap[symbol]
	if !ok {
		return "", false
	}
	native, ok := exchanges[exchange]
	return native, ok
}

func (a *Aggregator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.QueryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.cfg.QueryTimeout)
}

// GetFundingRates fans out to every exchange carrying the symbol. A failed or
// unmapped exchange is omitted, never an error: one bad venue must not poison
// the whole symbol. Only a failed current-rate query omits the exchange;
// missing mark price or open interest degrade to zero values, which the cost
// model treats conservatively.
func (a *Aggregator) GetFundingRates(ctx context.Context, symbol string) []models.ExchangeFundingRate {
	var (
		mu    sync.Mutex
		rates []models.ExchangeFundingRate
		wg    sync.WaitGroup
	)

	for name, provider := range a.providers {
		native, ok := a.nativeSymbol(name, symbol)
		if !ok {
			continue
		}

		wg.Add(1)
		go func(exchange, native string, p interfaces.FundingDataProvider) {
			defer wg.Done()
			callCtx, cancel := a.callContext(ctx)
			defer cancel()

			current, err := p.CurrentFundingRate(callCtx, native)
			if err != nil {
				a.logger.WithFields(logrus.Fields{
					"exchange": exchange,
					"symbol":   symbol,
				}).WithError(err).Warn("funding rate unavailable, omitting exchange")
				return
			}

			predicted, err := p.PredictedFundingRate(callCtx, native)
			if err != nil {
				predicted = current
			}
			markPrice, err := p.MarkPrice(callCtx, native)
			if err != nil {
				markPrice = decimal.Zero
			}
			openInterest, err := p.OpenInterest(callCtx, native)
			if err != nil {
				openInterest = decimal.Zero
			}

			mu.Lock()
			rates = append(rates, models.ExchangeFundingRate{
				Exchange:      exchange,
				Symbol:        symbol,
				CurrentRate:   current,
				PredictedRate: predicted,
				MarkPrice:     markPrice,
				OpenInterest:  openInterest,
				Timestamp:     time.Now().UTC(),
			})
			mu.Unlock()
		}(name, native, provider)
	}
	wg.Wait()

	sort.Slice(rates, func(i, j int) bool { return rates[i].Exchange < rates[j].Exchange })
	return rates
}

// FindArbitrageOpportunities scans the given normalized symbols in fixed-size
// batches with inter-batch pacing, derives candidate pairings per symbol, and
// returns the de-duplicated list sorted by descending annualized expected
// return.
func (a *Aggregator) FindArbitrageOpportunities(ctx context.Context, symbols []string, minSpread decimal.Decimal) ([]models.ArbitrageOpportunity, error) {
	var all []models.ArbitrageOpportunity

	for start := 0; start < len(symbols); start += a.cfg.BatchSize {
		if start > 0 && a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("discovery cancelled between batches: %w", err)
			}
		}

		end := start + a.cfg.BatchSize
		if end > len(symbols) {
			end = len(symbols)
		}

		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		for _, symbol := range symbols[start:end] {
			wg.Add(1)
			go func(symbol string) {
				defer wg.Done()
				rates := a.GetFundingRates(ctx, symbol)
				opps := a.deriveOpportunities(symbol, rates, minSpread)
				if len(opps) == 0 {
					return
				}
				mu.Lock()
				all = append(all, opps...)
				mu.Unlock()
			}(symbol)
		}
		wg.Wait()

		if ctx.Err() != nil {
			return nil, fmt.Errorf("discovery cancelled: %w", ctx.Err())
		}
	}

	all = dedupeOpportunities(all)

	sort.Slice(all, func(i, j int) bool {
		if !all[i].ExpectedReturn.Equal(all[j].ExpectedReturn) {
			return all[i].ExpectedReturn.GreaterThan(all[j].ExpectedReturn)
		}
		return all[i].PairKey() < all[j].PairKey()
	})

	a.logger.WithFields(logrus.Fields{
		"symbols":       len(symbols),
		"opportunities": len(all),
	}).Info("opportunity discovery completed")

	return all, nil
}

// deriveOpportunities considers two constructions per symbol: the directional
// pairing (most negative rate long vs most positive rate short) and the
// absolute highest-vs-lowest pairing. Both can fire with different exchange
// pairs; duplicates on the same pair are resolved later.
func (a *Aggregator) deriveOpportunities(symbol string, rates []models.ExchangeFundingRate, minSpread decimal.Decimal) []models.ArbitrageOpportunity {
	if len(rates) < 2 {
		return nil
	}

	var (
		mostNegative *models.ExchangeFundingRate
		mostPositive *models.ExchangeFundingRate
		lowest       = &rates[0]
		highest      = &rates[0]
	)
	for i := range rates {
		r := &rates[i]
		if r.CurrentRate.IsNegative() && (mostNegative == nil || r.CurrentRate.LessThan(mostNegative.CurrentRate)) {
			mostNegative = r
		}
		if r.CurrentRate.IsPositive() && (mostPositive == nil || r.CurrentRate.GreaterThan(mostPositive.CurrentRate)) {
			mostPositive = r
		}
		if r.CurrentRate.LessThan(lowest.CurrentRate) {
			lowest = r
		}
		if r.CurrentRate.GreaterThan(highest.CurrentRate) {
			highest = r
		}
	}

	var opps []models.ArbitrageOpportunity
	if mostNegative != nil && mostPositive != nil {
		if opp, ok := a.buildOpportunity(symbol, mostNegative, mostPositive, minSpread); ok {
			opps = append(opps, opp)
		}
	}
	if opp, ok := a.buildOpportunity(symbol, lowest, highest, minSpread); ok {
		opps = append(opps, opp)
	}
	return opps
}

// buildOpportunity assembles a long/short candidate, enforcing the
// distinct-exchange invariant and the minimum spread gate.
func (a *Aggregator) buildOpportunity(symbol string, long, short *models.ExchangeFundingRate, minSpread decimal.Decimal) (models.ArbitrageOpportunity, bool) {
	if long.Exchange == short.Exchange {
		return models.ArbitrageOpportunity{}, false
	}

	spread := short.CurrentRate.Sub(long.CurrentRate)
	if spread.Abs().LessThan(minSpread) {
		return models.ArbitrageOpportunity{}, false
	}

	return models.ArbitrageOpportunity{
		Symbol:            symbol,
		LongExchange:      long.Exchange,
		ShortExchange:     short.Exchange,
		LongRate:          long.CurrentRate,
		ShortRate:         short.CurrentRate,
		Spread:            spread,
		ExpectedReturn:    spread.Abs().Mul(decimal.NewFromInt(models.HoursPerYear)),
		LongMarkPrice:     long.MarkPrice,
		ShortMarkPrice:    short.MarkPrice,
		LongOpenInterest:  long.OpenInterest,
		ShortOpenInterest: short.OpenInterest,
		Timestamp:         time.Now().UTC(),
	}, true
}

// dedupeOpportunities collapses the two constructions when they land on the
// same symbol and exchange pair, keeping the higher expected return so the
// allocator never sees one carry trade twice.
func dedupeOpportunities(opps []models.ArbitrageOpportunity) []models.ArbitrageOpportunity {
	best := make(map[string]models.ArbitrageOpportunity, len(opps))
	for _, opp := range opps {
		key := opp.PairKey()
		if existing, ok := best[key]; !ok || opp.ExpectedReturn.GreaterThan(existing.ExpectedReturn) {
			best[key] = opp
		}
	}
	out := make([]models.ArbitrageOpportunity, 0, len(best))
	for _, opp := range best {
		out = append(out, opp)
	}
	return out
}
