package service

import (
	"fmt"

	"lightning-pos/internal/core/domain"
	"lightning-pos/pkg/apperror"

	"github.com/shopspring/decimal"
)

// ComposePaymentRequest builds the exact string encoded into a payment QR
// payload. For address-based assets it produces the canonical URI scheme
// with the amount in the asset's native decimal precision; processor-issued
// payment requests pass through unchanged. Deterministic and side-effect
// free: identical inputs always produce identical output.
func ComposePaymentRequest(asset domain.Asset, address string, nativeAmount decimal.Decimal) (string, error) {
	if !asset.Valid() {
		return "", apperror.Validation(fmt.Sprintf("unsupported asset %q", asset))
	}

	if !asset.AddressBased() {
		if address == "" {
			return "", apperror.Validation("payment request string is required")
		}
		return address, nil
	}

	if address == "" {
		return "", apperror.Validation("address is required for " + string(asset))
	}
	if nativeAmount.Sign() <= 0 {
		return "", apperror.Validation("native amount must be positive")
	}

	return fmt.Sprintf("%s:%s?amount=%s", asset.URIScheme(), address, nativeAmount.StringFixed(asset.Decimals())), nil
}
