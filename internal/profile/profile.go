// Package profile loads the business profile the scorer matches records
// against. The profile is read once at startup and treated as read-only for
// the rest of the run.
package profile

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/rfpscout/rfpscout/internal/pipeline"
)

// DefaultAcceptanceThreshold flags records as high priority when no
// threshold is configured.
const DefaultAcceptanceThreshold = 0.45

// Load reads a profile file (YAML or JSON, by extension) and normalizes it.
func Load(path string) (pipeline.BusinessProfile, error) {
	v := viper.New()
	v.SetDefault("acceptance_threshold", DefaultAcceptanceThreshold)
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return pipeline.BusinessProfile{}, fmt.Errorf("read profile: %w", err)
	}

	var p pipeline.BusinessProfile
	if err := v.Unmarshal(&p); err != nil {
		return pipeline.BusinessProfile{}, fmt.Errorf("unmarshal profile: %w", err)
	}

	normalize(&p)
	if err := Validate(p); err != nil {
		return pipeline.BusinessProfile{}, err
	}
	return p, nil
}

// Validate enforces the minimum a profile needs to be scoreable.
func Validate(p pipeline.BusinessProfile) error {
	if len(p.Keywords) == 0 && strings.TrimSpace(p.Description) == "" {
		return fmt.Errorf("profile needs keywords or a description")
	}
	if p.AcceptanceThreshold < 0 || p.AcceptanceThreshold > 1 {
		return fmt.Errorf("acceptance_threshold must be in [0,1], got %v", p.AcceptanceThreshold)
	}
	return nil
}

// normalize lowercases keywords and category names so matching is
// case-insensitive, dropping empties and duplicates.
func normalize(p *pipeline.BusinessProfile) {
	seen := make(map[string]struct{}, len(p.Keywords))
	keywords := p.Keywords[:0]
	for _, kw := range p.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		keywords = append(keywords, kw)
	}
	p.Keywords = keywords

	if len(p.CategoryWeights) > 0 {
		weights := make(map[string]float64, len(p.CategoryWeights))
		for category, w := range p.CategoryWeights {
			weights[strings.ToLower(strings.TrimSpace(category))] = w
		}
		p.CategoryWeights = weights
	}
}
