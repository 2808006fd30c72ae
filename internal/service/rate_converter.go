package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"lightning-pos/config"
	"lightning-pos/internal/core/domain"
	"lightning-pos/internal/core/ports"
	"lightning-pos/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// rateConverter caches exchange rates per asset and converts fiat amounts
// into native crypto units. A shared snapshot plus a per-asset refresh lock
// guarantee at most one ticker fetch per asset per TTL window regardless of
// how many sessions ask concurrently.
type rateConverter struct {
	processor ports.ProcessorClient
	cache     ports.RateCache // optional shared L2, nil to skip
	cfg       config.RatesConfig
	log       zerolog.Logger

	mu        sync.RWMutex
	snapshots map[domain.Asset]domain.ExchangeRateSnapshot

	refreshMu map[domain.Asset]*sync.Mutex

	now func() time.Time
}

// NewRateConverter creates a RateConverter backed by the processor ticker.
// cache may be nil when no shared cache is configured.
func NewRateConverter(processor ports.ProcessorClient, cache ports.RateCache, cfg config.RatesConfig, log zerolog.Logger) ports.RateConverter {
	refreshMu := make(map[domain.Asset]*sync.Mutex)
	for _, asset := range []domain.Asset{domain.AssetBitcoin, domain.AssetLitecoin, domain.AssetLightning} {
		refreshMu[asset] = &sync.Mutex{}
	}
	return &rateConverter{
		processor: processor,
		cache:     cache,
		cfg:       cfg,
		log:       log.With().Str("component", "rate_converter").Logger(),
		snapshots: make(map[domain.Asset]domain.ExchangeRateSnapshot),
		refreshMu: refreshMu,
		now:       time.Now,
	}
}

// rateAsset maps an asset to the asset whose ticker rate prices it.
// Lightning payments settle in bitcoin, so they share its rate.
func rateAsset(asset domain.Asset) domain.Asset {
	if asset == domain.AssetLightning {
		return domain.AssetBitcoin
	}
	return asset
}

// GetRate returns the fiat-per-unit rate for the asset. Fresh snapshots are
// served from memory; on expiry one caller refetches while the rest wait.
// When the fetch fails the previous snapshot is served flagged stale, and
// with no snapshot at all the hard-coded fallback rate is used.
func (c *rateConverter) GetRate(ctx context.Context, asset domain.Asset) (domain.RateResult, error) {
	if !asset.Valid() {
		return domain.RateResult{}, apperror.Validation("unsupported asset " + string(asset))
	}
	priced := rateAsset(asset)

	c.mu.RLock()
	snap, ok := c.snapshots[priced]
	c.mu.RUnlock()
	if ok && snap.Fresh(c.cfg.TTL, c.now()) {
		return domain.RateResult{Rate: snap.Rate, FetchedAt: snap.FetchedAt}, nil
	}

	refreshMu := c.refreshMu[priced]
	refreshMu.Lock()
	defer refreshMu.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	c.mu.RLock()
	snap, ok = c.snapshots[priced]
	c.mu.RUnlock()
	if ok && snap.Fresh(c.cfg.TTL, c.now()) {
		return domain.RateResult{Rate: snap.Rate, FetchedAt: snap.FetchedAt}, nil
	}

	if c.cache != nil {
		if cached, err := c.cache.Get(ctx, priced); err != nil {
			c.log.Warn().Err(err).Str("asset", string(priced)).Msg("rate cache read failed")
		} else if cached != nil && cached.Fresh(c.cfg.TTL, c.now()) {
			c.store(priced, *cached)
			return domain.RateResult{Rate: cached.Rate, FetchedAt: cached.FetchedAt}, nil
		}
	}

	fetched, err := c.fetch(ctx, priced)
	if err != nil {
		c.log.Warn().Err(err).Str("asset", string(priced)).Msg("rate fetch failed")
		if ok {
			return domain.RateResult{Rate: snap.Rate, FetchedAt: snap.FetchedAt, Stale: true}, nil
		}
		return c.fallback(priced)
	}

	c.store(priced, fetched)
	if c.cache != nil {
		if err := c.cache.Set(ctx, priced, fetched, c.cfg.TTL); err != nil {
			c.log.Warn().Err(err).Str("asset", string(priced)).Msg("rate cache write failed")
		}
	}
	return domain.RateResult{Rate: fetched.Rate, FetchedAt: fetched.FetchedAt}, nil
}

// Convert turns a fiat amount into native units of the asset, rounded to
// the asset's native precision, rejecting results below the dust threshold.
func (c *rateConverter) Convert(ctx context.Context, fiatAmount decimal.Decimal, asset domain.Asset) (domain.Conversion, error) {
	if fiatAmount.Sign() <= 0 {
		return domain.Conversion{}, apperror.ErrInvalidAmount("amount must be positive")
	}

	result, err := c.GetRate(ctx, asset)
	if err != nil {
		return domain.Conversion{}, err
	}

	native := fiatAmount.Div(result.Rate).Round(asset.Decimals())
	if dust, ok := c.dustThreshold(asset); ok && native.LessThan(dust) {
		return domain.Conversion{}, apperror.ErrAmountBelowDust(string(asset))
	}

	return domain.Conversion{
		NativeAmount: native,
		Rate:         result.Rate,
		Stale:        result.Stale,
		Fallback:     result.Fallback,
	}, nil
}

func (c *rateConverter) fetch(ctx context.Context, asset domain.Asset) (domain.ExchangeRateSnapshot, error) {
	entries, err := c.processor.GetTicker(ctx)
	if err != nil {
		return domain.ExchangeRateSnapshot{}, err
	}

	for _, entry := range entries {
		if !strings.EqualFold(entry.SourceCurrency, c.cfg.Currency) {
			continue
		}
		if !strings.EqualFold(entry.TargetCurrency, string(asset)) {
			continue
		}
		if entry.Amount.Sign() <= 0 {
			return domain.ExchangeRateSnapshot{}, apperror.ErrMalformedResponse(
				apperror.Validation("non-positive rate for " + string(asset)))
		}
		return domain.ExchangeRateSnapshot{Rate: entry.Amount, FetchedAt: c.now()}, nil
	}
	return domain.ExchangeRateSnapshot{}, apperror.ErrMalformedResponse(
		apperror.Validation("ticker has no " + c.cfg.Currency + "/" + string(asset) + " pair"))
}

func (c *rateConverter) store(asset domain.Asset, snap domain.ExchangeRateSnapshot) {
	c.mu.Lock()
	c.snapshots[asset] = snap
	c.mu.Unlock()
}

func (c *rateConverter) fallback(asset domain.Asset) (domain.RateResult, error) {
	rate, ok := c.cfg.FallbackRates[string(asset)]
	if !ok {
		return domain.RateResult{}, apperror.ErrProviderUnavailable(
			apperror.Validation("no fallback rate for " + string(asset)))
	}
	c.log.Warn().Str("asset", string(asset)).Float64("rate", rate).Msg("serving fallback rate")
	return domain.RateResult{
		Rate:      decimal.NewFromFloat(rate),
		FetchedAt: c.now(),
		Fallback:  true,
	}, nil
}

func (c *rateConverter) dustThreshold(asset domain.Asset) (decimal.Decimal, bool) {
	dust, ok := c.cfg.DustAmounts[string(rateAsset(asset))]
	if !ok {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromFloat(dust), true
}
