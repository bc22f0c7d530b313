package billing

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PlanResolver maps provider price ids to plan tiers. Resolution order:
// explicit metadata plan, configured price map, substring heuristic on the
// price id, and finally the premium tier as a conservative default so a
// paying user whose price cannot be classified is never under-served.
type PlanResolver struct {
	priceToPlan map[string]Plan
}

// NewPlanResolver creates a resolver over the given price-id mapping.
// A nil or empty map degrades to the heuristic fallback chain.
func NewPlanResolver(priceToPlan map[string]Plan) *PlanResolver {
	m := make(map[string]Plan, len(priceToPlan))
	for id, plan := range priceToPlan {
		if id != "" && plan.Paid() {
			m[id] = plan
		}
	}
	return &PlanResolver{priceToPlan: m}
}

// Resolve determines the plan tier for a subscription from its checkout
// metadata and price id.
func (r *PlanResolver) Resolve(metadataPlan, priceID string) Plan {
	if p := Plan(metadataPlan); p.Paid() {
		return p
	}

	if p, ok := r.priceToPlan[priceID]; ok {
		return p
	}

	lower := strings.ToLower(priceID)
	if strings.Contains(lower, string(PlanProfessional)) {
		return PlanProfessional
	}
	if strings.Contains(lower, string(PlanPremium)) {
		return PlanPremium
	}

	return PlanPremium
}

// PlansConfig supplies the price-id mapping from the environment, with an
// optional YAML file for deployments with more than the two standard prices.
type PlansConfig struct {
	ProfessionalPriceID string `env:"STRIPE_PRICE_ID_PROFESSIONAL"`
	PremiumPriceID      string `env:"STRIPE_PRICE_ID_PREMIUM"`
	PlansFile           string `env:"BILLING_PLANS_FILE"`
}

type plansFile struct {
	Prices map[string]string `yaml:"prices"`
}

// LoadPriceMap builds the price-id to plan mapping from env-configured price
// ids merged with the optional plans file. File entries win over env entries
// for the same price id. An unreadable or malformed file is an error; an
// unconfigured file path is not.
func LoadPriceMap(cfg PlansConfig) (map[string]Plan, error) {
	m := make(map[string]Plan, 2)
	if cfg.ProfessionalPriceID != "" {
		m[cfg.ProfessionalPriceID] = PlanProfessional
	}
	if cfg.PremiumPriceID != "" {
		m[cfg.PremiumPriceID] = PlanPremium
	}

	if cfg.PlansFile == "" {
		return m, nil
	}

	raw, err := os.ReadFile(cfg.PlansFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans file %s: %w", cfg.PlansFile, err)
	}

	var f plansFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse plans file %s: %w", cfg.PlansFile, err)
	}

	for priceID, planName := range f.Prices {
		plan := Plan(planName)
		if !plan.Paid() {
			return nil, errors.New("plans file maps " + priceID + " to unknown tier " + planName)
		}
		m[priceID] = plan
	}

	return m, nil
}
