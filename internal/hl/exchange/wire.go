package exchange

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	maxWireDecimals    = 8
	maxSignificantFigs = 5
	perpPriceDecimals  = 6
	spotPriceDecimals  = 8
)

var cloidPattern = regexp.MustCompile(`^0x[0-9a-f]{32}$`)

func LimitOrderWire(asset int, isBuy bool, size, limit decimal.Decimal, reduceOnly bool, tif Tif, cloid string) (OrderWire, error) {
	if tif == "" {
		return OrderWire{}, errors.New("tif is required")
	}
	if cloid != "" && !cloidPattern.MatchString(cloid) {
		return OrderWire{}, fmt.Errorf("invalid cloid %q", cloid)
	}
	price, err := decimalToWire(limit)
	if err != nil {
		return OrderWire{}, fmt.Errorf("limit price: %w", err)
	}
	sizeWire, err := decimalToWire(size)
	if err != nil {
		return OrderWire{}, fmt.Errorf("size: %w", err)
	}
	return OrderWire{
		Asset:      asset,
		IsBuy:      isBuy,
		Price:      price,
		Size:       sizeWire,
		ReduceOnly: reduceOnly,
		OrderType:  OrderTypeWire{Limit: &LimitOrderType{Tif: tif}},
		Cloid:      cloid,
	}, nil
}

// NewCloid returns a random 128-bit client order id in the venue's hex form.
func NewCloid() string {
	id := uuid.New()
	return "0x" + strings.ReplaceAll(id.String(), "-", "")
}

// NormalizePrice rounds px to the venue tick rules: at most five significant
// figures and at most (6|8 - szDecimals) decimals. Integer prices are always valid.
func NormalizePrice(px decimal.Decimal, szDecimals int, spot bool) decimal.Decimal {
	if px.Sign() <= 0 {
		return decimal.Zero
	}
	maxDecimals := perpPriceDecimals
	if spot {
		maxDecimals = spotPriceDecimals
	}
	if szDecimals > 0 {
		maxDecimals -= szDecimals
	}
	magnitude := px.NumDigits() + int(px.Exponent())
	places := maxSignificantFigs - magnitude
	if places > maxDecimals {
		places = maxDecimals
	}
	if places < 0 {
		places = 0
	}
	return px.Round(int32(places))
}

func decimalToWire(x decimal.Decimal) (string, error) {
	rounded := x.Round(maxWireDecimals)
	if !rounded.Equal(x) {
		return "", fmt.Errorf("decimal_to_wire causes rounding: %s", x.String())
	}
	return rounded.String(), nil
}
