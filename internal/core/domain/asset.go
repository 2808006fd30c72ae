package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Asset identifies a supported crypto asset.
type Asset string

const (
	AssetBitcoin   Asset = "bitcoin"
	AssetLitecoin  Asset = "litecoin"
	AssetLightning Asset = "lightning"
)

// Valid reports whether the asset is one of the supported set.
func (a Asset) Valid() bool {
	switch a {
	case AssetBitcoin, AssetLitecoin, AssetLightning:
		return true
	}
	return false
}

// Decimals returns the native decimal precision of the asset.
func (a Asset) Decimals() int32 {
	// All supported assets use 8 decimal places (satoshi-scale units).
	return 8
}

// URIScheme returns the payment URI scheme for address-based assets,
// or "" for assets whose payment string is processor-issued.
func (a Asset) URIScheme() string {
	switch a {
	case AssetBitcoin:
		return "bitcoin"
	case AssetLitecoin:
		return "litecoin"
	}
	return ""
}

// AddressBased reports whether payments are composed from an address and
// amount rather than a processor-issued request string.
func (a Asset) AddressBased() bool {
	return a.URIScheme() != ""
}

// ExchangeRateSnapshot is one cached fiat-per-unit rate observation.
// One snapshot per asset, shared across sessions.
type ExchangeRateSnapshot struct {
	Rate      decimal.Decimal `json:"rate"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Fresh reports whether the snapshot is still within its TTL.
func (s ExchangeRateSnapshot) Fresh(ttl time.Duration, now time.Time) bool {
	return now.Sub(s.FetchedAt) < ttl
}

// RateResult is the outcome of a rate lookup.
type RateResult struct {
	Rate      decimal.Decimal `json:"rate"`
	FetchedAt time.Time       `json:"fetched_at"`
	Stale     bool            `json:"stale"`    // served from an expired snapshot
	Fallback  bool            `json:"fallback"` // served from the hard-coded fallback rate
}

// Conversion is the outcome of a fiat-to-native conversion.
type Conversion struct {
	NativeAmount decimal.Decimal `json:"native_amount"`
	Rate         decimal.Decimal `json:"rate"`
	Stale        bool            `json:"stale"`
	Fallback     bool            `json:"fallback"`
}
