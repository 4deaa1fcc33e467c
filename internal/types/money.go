// README: Money helpers shared by pricing and matching payouts.
package types

import "math"

// RoundMoney rounds to 2 decimal places, half away from zero.
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
