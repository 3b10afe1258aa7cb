package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hunchbank/supportd/internal/models"
)

func TestAssess_Levels(t *testing.T) {
	a := NewAssessor(DefaultConfig())

	tests := []struct {
		name       string
		intent     string
		entities   map[string]string
		confidence float64
		want       models.RiskLevel
	}{
		{
			name:       "confident benign intent",
			intent:     "shipping_status",
			entities:   map[string]string{},
			confidence: 0.95,
			want:       models.RiskLow,
		},
		{
			name:       "low confidence escalates to medium",
			intent:     "shipping_status",
			entities:   map[string]string{},
			confidence: 0.4,
			want:       models.RiskMedium,
		},
		{
			name:       "high-risk intent is at least medium",
			intent:     "subscription_cancel",
			entities:   map[string]string{},
			confidence: 0.99,
			want:       models.RiskMedium,
		},
		{
			name:       "large amount forces high",
			intent:     "shipping_status",
			entities:   map[string]string{"amount": "1500"},
			confidence: 0.95,
			want:       models.RiskHigh,
		},
		{
			name:       "mid amount lifts benign intent to medium",
			intent:     "shipping_status",
			entities:   map[string]string{"amount": "750"},
			confidence: 0.95,
			want:       models.RiskMedium,
		},
		{
			name:       "dispute always high",
			intent:     "payment_dispute",
			entities:   map[string]string{},
			confidence: 0.99,
			want:       models.RiskHigh,
		},
		{
			name:       "refund above mid amount is high",
			intent:     "refund_request",
			entities:   map[string]string{"amount": "600"},
			confidence: 0.95,
			want:       models.RiskHigh,
		},
		{
			name:       "small refund stays medium",
			intent:     "refund_request",
			entities:   map[string]string{"amount": "15"},
			confidence: 0.95,
			want:       models.RiskMedium,
		},
		{
			name:       "formatted amount is parsed",
			intent:     "refund_request",
			entities:   map[string]string{"amount": "$1,299.00"},
			confidence: 0.95,
			want:       models.RiskHigh,
		},
		{
			name:       "malformed amount is ignored",
			intent:     "refund_request",
			entities:   map[string]string{"amount": "a lot"},
			confidence: 0.95,
			want:       models.RiskMedium,
		},
		{
			name:       "unknown intent tolerated",
			intent:     "carrier_pigeon",
			entities:   nil,
			confidence: 0.9,
			want:       models.RiskLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Assess(tt.intent, tt.entities, tt.confidence)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAssess_Deterministic(t *testing.T) {
	a := NewAssessor(DefaultConfig())
	entities := map[string]string{"amount": "600"}

	first := a.Assess("refund_request", entities, 0.5)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, a.Assess("refund_request", entities, 0.5))
	}
}

// Raising any single escalating input never lowers the level.
func TestAssess_MonotonicEscalation(t *testing.T) {
	a := NewAssessor(DefaultConfig())

	amounts := []string{"", "10", "100", "600", "2000"}
	confidences := []float64{0.95, 0.5, 0.2}

	for _, intent := range []string{"shipping_status", "refund_request"} {
		prev := models.RiskLow
		for _, amount := range amounts {
			entities := map[string]string{}
			if amount != "" {
				entities["amount"] = amount
			}
			got := a.Assess(intent, entities, 0.95)
			assert.True(t, got.AtLeast(prev),
				"amount %q must not lower risk for %s (%s -> %s)", amount, intent, prev, got)
			prev = got
		}

		prev = models.RiskLow
		for _, conf := range confidences {
			got := a.Assess(intent, map[string]string{}, conf)
			assert.True(t, got.AtLeast(prev),
				"confidence %.2f must not lower risk for %s", conf, intent)
			prev = got
		}
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in     string
		want   float64
		wantOK bool
	}{
		{"59.99", 59.99, true},
		{"$1,299.00", 1299, true},
		{" 100 ", 100, true},
		{"", 0, false},
		{"a lot", 0, false},
		{"-5", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseAmount(tt.in)
		assert.Equal(t, tt.wantOK, ok, "input %q", tt.in)
		if ok {
			assert.InDelta(t, tt.want, got, 1e-9, "input %q", tt.in)
		}
	}
}
