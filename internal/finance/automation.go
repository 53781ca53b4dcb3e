package finance

import (
	"sync"
	"time"
)

// AutomationConfig is the runtime-adjustable automatic approval policy
type AutomationConfig struct {
	Enabled         bool          `json:"enabled"`
	Threshold       float64       `json:"threshold"`
	ProcessingDelay time.Duration `json:"processing_delay"`
}

// Automation decides pending approvals automatically: amounts below the
// threshold are approved, everything else is declined for manual review.
// The policy can be adjusted at runtime through the admin API.
type Automation struct {
	mu     sync.RWMutex
	config AutomationConfig
	source string
}

// NewAutomation creates the automatic decision policy
func NewAutomation(config AutomationConfig, source string) *Automation {
	return &Automation{config: config, source: source}
}

// Source returns the decided-by identity automation stamps on its decisions
func (a *Automation) Source() string {
	return a.source
}

// Config returns the current policy
func (a *Automation) Config() AutomationConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config
}

// SetConfig replaces the policy
func (a *Automation) SetConfig(config AutomationConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.config = config
}

// Enabled reports whether automatic decisions are on
func (a *Automation) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config.Enabled
}

// Decide evaluates an amount against the threshold, returning the decision
// and a human-readable reason. The caller is expected to wait Delay() first
// to mirror the external system's processing time.
func (a *Automation) Decide(amount float64) (approved bool, reason string) {
	a.mu.RLock()
	threshold := a.config.Threshold
	a.mu.RUnlock()

	if amount < threshold {
		return true, "Approved - amount within automatic approval limit"
	}
	return false, "Rejected - amount exceeds automatic approval limit"
}

// Delay returns the configured processing delay
func (a *Automation) Delay() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config.ProcessingDelay
}
