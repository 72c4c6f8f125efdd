package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is the rewards catalog plus the earning policy. It is loaded
// once at startup; the award rate is a single fixed value, never decided
// per call site.
type Catalog struct {
	Earning EarningPolicy `yaml:"earning"`
	Rewards []Reward      `yaml:"rewards"`
}

type EarningPolicy struct {
	PointsPerDollar int64 `yaml:"points_per_dollar"`
}

type Reward struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	CostPoints   int64    `yaml:"cost_points"`
	Discount     Discount `yaml:"discount"`
	ValidityDays int      `yaml:"validity_days"`
}

type Discount struct {
	Type           string `yaml:"type"` // fixed, percentage, delivery_fee
	Value          int64  `yaml:"value"`
	MinOrderAmount int64  `yaml:"min_order_amount"`
}

func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read rewards catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse rewards catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

func (c Catalog) validate() error {
	if c.Earning.PointsPerDollar <= 0 {
		return fmt.Errorf("earning.points_per_dollar must be positive, got %d", c.Earning.PointsPerDollar)
	}
	seen := make(map[string]bool, len(c.Rewards))
	for _, r := range c.Rewards {
		if r.ID == "" {
			return fmt.Errorf("reward %q has empty id", r.Name)
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate reward id %q", r.ID)
		}
		seen[r.ID] = true
		if r.CostPoints <= 0 {
			return fmt.Errorf("reward %q: cost_points must be positive", r.ID)
		}
		if r.ValidityDays <= 0 {
			return fmt.Errorf("reward %q: validity_days must be positive", r.ID)
		}
		switch r.Discount.Type {
		case "fixed", "delivery_fee":
			if r.Discount.Value <= 0 {
				return fmt.Errorf("reward %q: discount value must be positive", r.ID)
			}
		case "percentage":
			if r.Discount.Value <= 0 || r.Discount.Value > 100 {
				return fmt.Errorf("reward %q: percentage must be in 1..100", r.ID)
			}
		default:
			return fmt.Errorf("reward %q: unknown discount type %q", r.ID, r.Discount.Type)
		}
		if r.Discount.MinOrderAmount < 0 {
			return fmt.Errorf("reward %q: min_order_amount must not be negative", r.ID)
		}
	}
	return nil
}

// Find returns the reward with the given id, or false when absent.
func (c Catalog) Find(id string) (Reward, bool) {
	for _, r := range c.Rewards {
		if r.ID == id {
			return r, true
		}
	}
	return Reward{}, false
}
