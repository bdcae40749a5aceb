package money

import (
	"strings"

	"github.com/shopspring/decimal"

	"reconciliation-engine/internal/models"
)

// Format renders an amount at the currency's precision with thousands
// separators, for the read-only hint texts shown on widget lines.
func Format(amount decimal.Decimal, cur *models.Currency) string {
	s := Round(amount, cur).StringFixed(cur.DecimalPlaces)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, fracPart, hasFrac := strings.Cut(s, ".")
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, ch := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(ch)
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(fracPart)
	}
	return b.String()
}
