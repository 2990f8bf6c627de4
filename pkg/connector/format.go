package connector

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FormatQuantity truncates v to precision decimal places. It never rounds up,
// so the result cannot step past an exchange tick.
func FormatQuantity(v decimal.Decimal, precision int32) (string, error) {
	if precision < 0 {
		return "", fmt.Errorf("negative precision %d", precision)
	}
	if v.IsNegative() {
		return "", fmt.Errorf("negative quantity %s", v)
	}
	return v.Truncate(precision).String(), nil
}

func (m MarketInfo) FormatAmount(amount decimal.Decimal) (string, error) {
	return FormatQuantity(amount, m.BasePrecision)
}

func (m MarketInfo) FormatPrice(price decimal.Decimal) (string, error) {
	return FormatQuantity(price, m.QuotePrecision)
}
