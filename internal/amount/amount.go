package amount

import "github.com/shopspring/decimal"

// Floor rounds x toward negative infinity at the given precision.
func Floor(x decimal.Decimal, decimals int) decimal.Decimal {
	return x.RoundFloor(int32(decimals))
}

// ToRaw converts a UI amount into venue-native integer units, flooring any
// precision beyond decimals.
func ToRaw(x decimal.Decimal, decimals int) int64 {
	return x.Shift(int32(decimals)).Floor().IntPart()
}

// ToUI converts raw units into whole UI units. The fractional part is
// discarded, so ToUI(ToRaw(x)) is not x in general.
func ToUI(raw int64, decimals int) int64 {
	return decimal.New(raw, -int32(decimals)).Floor().IntPart()
}

// FromRaw is the exact inverse of the scaling in ToRaw.
func FromRaw(raw int64, decimals int) decimal.Decimal {
	return decimal.New(raw, -int32(decimals))
}
