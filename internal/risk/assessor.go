// Package risk decides how much human oversight an automated action needs:
// the Assessor maps a classified request to a risk level, and the Scorer
// computes a fraud score for refund requests.
package risk

import (
	"strconv"
	"strings"

	"github.com/hunchbank/supportd/internal/models"
)

// Config holds the assessment thresholds. Amounts are in major currency
// units (dollars), matching how amounts appear in extracted entities.
type Config struct {
	HighRiskIntents  []string
	ConfidenceLow    float64
	ConfidenceMedium float64
	ConfidenceHigh   float64
	AmountLow        float64
	AmountMedium     float64
	AmountHigh       float64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		HighRiskIntents:  []string{"refund_request", "payment_dispute", "subscription_cancel"},
		ConfidenceLow:    0.3,
		ConfidenceMedium: 0.6,
		ConfidenceHigh:   0.8,
		AmountLow:        50,
		AmountMedium:     500,
		AmountHigh:       1000,
	}
}

// Assessor maps (intent, entities, confidence) to a risk level. It is pure:
// same inputs always produce the same level, and escalation is monotonic.
type Assessor struct {
	cfg      Config
	highRisk map[string]bool
}

// NewAssessor creates an Assessor with the given thresholds.
func NewAssessor(cfg Config) *Assessor {
	hr := make(map[string]bool, len(cfg.HighRiskIntents))
	for _, intent := range cfg.HighRiskIntents {
		hr[strings.TrimSpace(intent)] = true
	}
	return &Assessor{cfg: cfg, highRisk: hr}
}

// Assess computes the risk level for a classified request. Unknown intents
// are tolerated and treated as non-high-risk. A malformed amount entity is
// ignored here; amount validation is the refund handler's job.
func (a *Assessor) Assess(intent string, entities map[string]string, confidence float64) models.RiskLevel {
	level := models.RiskLow
	if a.highRisk[intent] || confidence < a.cfg.ConfidenceMedium {
		level = models.RiskMedium
	}

	amount, hasAmount := parseAmount(entities["amount"])
	if hasAmount {
		if amount > a.cfg.AmountHigh {
			level = models.RiskHigh
		} else if amount > a.cfg.AmountMedium {
			level = level.Max(models.RiskMedium)
		}
	}

	// Disputes always need a human regardless of amount or confidence.
	if intent == "payment_dispute" {
		level = models.RiskHigh
	}

	if intent == "refund_request" && hasAmount && amount > a.cfg.AmountMedium {
		level = models.RiskHigh
	}

	return level
}

// parseAmount extracts a numeric amount from an entity value like "$1,299.00".
func parseAmount(raw string) (float64, bool) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "$")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return 0, false
	}
	amount, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || amount < 0 {
		return 0, false
	}
	return amount, true
}
