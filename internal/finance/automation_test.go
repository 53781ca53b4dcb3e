package finance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAutomationDecide(t *testing.T) {
	a := NewAutomation(AutomationConfig{Enabled: true, Threshold: 5000}, "APPROVAL_AUTOMATION")

	approved, reason := a.Decide(4999.99)
	assert.True(t, approved)
	assert.NotEmpty(t, reason)

	approved, _ = a.Decide(5000)
	assert.False(t, approved, "amounts at the threshold need manual review")

	approved, _ = a.Decide(12000)
	assert.False(t, approved)
}

func TestAutomationSetConfig(t *testing.T) {
	a := NewAutomation(AutomationConfig{Enabled: true, Threshold: 5000, ProcessingDelay: 500 * time.Millisecond}, "APPROVAL_AUTOMATION")

	assert.True(t, a.Enabled())
	assert.Equal(t, 500*time.Millisecond, a.Delay())

	a.SetConfig(AutomationConfig{Enabled: false, Threshold: 10000})
	assert.False(t, a.Enabled())

	approved, _ := a.Decide(7000)
	assert.True(t, approved, "raised threshold applies immediately")
}
