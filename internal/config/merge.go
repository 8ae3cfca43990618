package config

import (
	"fmt"
	"os"

	"github.com/clawinfra/clawroute/internal/router"
)

type dimensionsFile struct {
	Dimensions []DimensionOverride `json:"dimensions" yaml:"dimensions" toml:"dimensions"`
}

type tiersFile struct {
	Tiers map[string]TierOverride `json:"tiers" yaml:"tiers" toml:"tiers"`
}

// RouterConfig merges the router section onto router.DefaultConfig() and
// validates the result. Dimensions from DimensionsFile are applied before
// inline ones, tiers from TiersFile before inline tiers.
func (c *Config) RouterConfig() (router.Config, error) {
	rc := router.DefaultConfig()
	rc.LogDecisions = c.LogDecisions

	dims := c.Router.Dimensions
	if c.Router.DimensionsFile != "" {
		var f dimensionsFile
		if err := c.readRouterFile(c.Router.DimensionsFile, &f); err != nil {
			return router.Config{}, err
		}
		dims = append(f.Dimensions, dims...)
	}
	merged, err := mergeDimensions(rc.Dimensions, dims)
	if err != nil {
		return router.Config{}, err
	}
	rc.Dimensions = merged

	if c.Router.TiersFile != "" {
		var f tiersFile
		if err := c.readRouterFile(c.Router.TiersFile, &f); err != nil {
			return router.Config{}, err
		}
		if err := mergeTiers(rc.Tiers, f.Tiers); err != nil {
			return router.Config{}, err
		}
	}
	if err := mergeTiers(rc.Tiers, c.Router.Tiers); err != nil {
		return router.Config{}, err
	}

	rc.Thresholds = c.Router.Thresholds.apply(rc.Thresholds)

	// Configured families take precedence over the built-in ones.
	if len(c.Router.Families) > 0 {
		rc.Capabilities.Families = append(append([]router.ModelFamily(nil), c.Router.Families...), rc.Capabilities.Families...)
	}
	rc.Capabilities.Specialties = append(rc.Capabilities.Specialties, c.Router.Specialties...)
	if c.Router.PrimaryProvider != "" {
		rc.Capabilities.PrimaryProvider = c.Router.PrimaryProvider
	}

	if err := rc.Validate(); err != nil {
		return router.Config{}, err
	}
	return rc, nil
}

func (c *Config) readRouterFile(name string, v any) error {
	path := c.resolve(name)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", router.ErrInvalidConfig, path, err)
	}
	if err := decode(path, data, v); err != nil {
		return fmt.Errorf("%w: parse %s: %w", router.ErrInvalidConfig, path, err)
	}
	return nil
}

func mergeDimensions(base []router.Dimension, overrides []DimensionOverride) ([]router.Dimension, error) {
	out := append([]router.Dimension(nil), base...)
	for i, o := range overrides {
		if o.Name == "" {
			return nil, fmt.Errorf("%w: dimension override %d has no name", router.ErrInvalidConfig, i)
		}

		idx := -1
		for j := range out {
			if out[j].Name == o.Name {
				idx = j
				break
			}
		}

		if o.Disabled {
			if idx >= 0 {
				out = append(out[:idx], out[idx+1:]...)
			}
			continue
		}

		var d router.Dimension
		if idx >= 0 {
			d = out[idx]
		} else {
			d = router.Dimension{Name: o.Name}
		}
		if o.Weight != nil {
			d.Weight = *o.Weight
		}
		if o.Max != nil {
			d.Max = *o.Max
		}
		if o.Patterns != nil {
			d.Patterns = append([]string(nil), o.Patterns...)
		}
		if o.Description != "" {
			d.Description = o.Description
		}

		if idx >= 0 {
			out[idx] = d
		} else {
			out = append(out, d)
		}
	}
	return out, nil
}

func mergeTiers(tiers map[router.Tier]router.TierModels, overrides map[string]TierOverride) error {
	// Tier names are case-insensitive, so two keys can name one tier.
	parsed := make(map[router.Tier]TierOverride, len(overrides))
	for name, o := range overrides {
		tier, err := router.ParseTier(name)
		if err != nil {
			return fmt.Errorf("%w: %w", router.ErrInvalidConfig, err)
		}
		if _, dup := parsed[tier]; dup {
			return fmt.Errorf("%w: duplicate tier %s", router.ErrInvalidConfig, tier)
		}
		parsed[tier] = o
	}

	for tier, o := range parsed {
		m := tiers[tier]
		if o.Description != "" {
			m.Description = o.Description
		}
		if o.Free != nil {
			m.Free = *o.Free
			m.FullFree = ""
		}
		if o.FullFree != "" {
			m.FullFree = o.FullFree
		}
		if o.Paid != "" {
			m.Paid = o.Paid
			m.FullPaid = ""
		}
		if o.FullPaid != "" {
			m.FullPaid = o.FullPaid
		}
		if o.CostPerM != nil {
			m.CostPerM = *o.CostPerM
		}
		tiers[tier] = m
	}
	return nil
}

func (o ThresholdOverrides) apply(th router.Thresholds) router.Thresholds {
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&th.ReasoningTrigger, o.ReasoningTrigger)
	set(&th.CodingTrigger, o.CodingTrigger)
	set(&th.CreativeTrigger, o.CreativeTrigger)
	set(&th.MultistepTrigger, o.MultistepTrigger)
	set(&th.SimpleMax, o.SimpleMax)
	set(&th.ComplexMin, o.ComplexMin)
	set(&th.PremiumMin, o.PremiumMin)
	return th
}
