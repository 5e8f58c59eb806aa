package codec

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PutDec writes d into b[0:8] as a biased 64 bit mantissa scaled by 10^exp.
// Fractional digits beyond exp are rounded half away from zero. Values whose
// scaled mantissa does not fit in 64 bits are rejected.
func PutDec(b []byte, d decimal.Decimal, exp uint8) error {
	m := d.Shift(int32(exp)).Round(0)
	big := m.BigInt()
	if !big.IsInt64() {
		return fmt.Errorf("decimal %s at exp %d: %w", d, exp, ErrOutOfRange)
	}
	PutInt(b[0:DecBytes], big.Int64())
	return nil
}

// Dec reads a scaled decimal from b[0:8].
func Dec(b []byte, exp uint8) decimal.Decimal {
	return decimal.New(Int(b[0:DecBytes]), -int32(exp))
}
