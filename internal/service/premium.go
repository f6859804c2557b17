package service

import (
	"math"
	"strings"
)

// Premium multipliers keyed on the policy name.
const (
	comprehensiveMultiplier = 2.0
	premiumTierMultiplier   = 1.5
	standardMultiplier      = 1.0
)

// PremiumMultiplier returns 2 for names containing "comprehensive", 1.5 for
// names containing "premium" and 1 otherwise. Matching ignores case and the
// comprehensive tier wins when both words appear.
func PremiumMultiplier(policyName string) float64 {
	name := strings.ToLower(policyName)
	switch {
	case strings.Contains(name, "comprehensive"):
		return comprehensiveMultiplier
	case strings.Contains(name, "premium"):
		return premiumTierMultiplier
	default:
		return standardMultiplier
	}
}

// CalculatePremium is coverage × multiplier × years, rounded to cents.
func CalculatePremium(policyName string, coverageAmount float64, years int) float64 {
	raw := coverageAmount * PremiumMultiplier(policyName) * float64(years)
	return math.Round(raw*100) / 100
}
