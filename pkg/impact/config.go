package impact

import "time"

// Config tunes the analyzer's risk thresholds and validity windows.
type Config struct {
	// AnalysisValidity is how long a report may gate an apply before it is
	// considered stale and re-analysis is forced.
	AnalysisValidity time.Duration `env:"IMPACT_ANALYSIS_VALIDITY" envDefault:"1h"`
	// RevenueThreshold is the absolute revenue delta (in currency units)
	// above which a change is high risk regardless of breaking counts.
	RevenueThreshold float64 `env:"IMPACT_REVENUE_THRESHOLD" envDefault:"1000"`
	// AffectedDrift is the tolerated relative change of the affected
	// subscription count between analyze and apply.
	AffectedDrift float64 `env:"IMPACT_AFFECTED_DRIFT" envDefault:"0.10"`
	// HighGracePeriod is the grandfather window for high-risk changes.
	HighGracePeriod time.Duration `env:"IMPACT_HIGH_GRACE_PERIOD" envDefault:"720h"`
	// MediumGracePeriod is the shorter grandfather window for medium risk.
	MediumGracePeriod time.Duration `env:"IMPACT_MEDIUM_GRACE_PERIOD" envDefault:"168h"`
}

// DefaultConfig returns the thresholds used when no environment
// configuration is loaded.
func DefaultConfig() Config {
	return Config{
		AnalysisValidity:  time.Hour,
		RevenueThreshold:  1000,
		AffectedDrift:     0.10,
		HighGracePeriod:   30 * 24 * time.Hour,
		MediumGracePeriod: 7 * 24 * time.Hour,
	}
}
