package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfpscout/rfpscout/internal/pipeline"
)

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeProfile(t, `
name: coatings vendor
description: Protective coating and waterproofing solutions.
keywords:
  - Waterproofing
  - coating
  - "  coating  "
  - ""
category_weights:
  Construction: 1.2
acceptance_threshold: 0.6
`)

	p, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "coatings vendor", p.Name)
	assert.Equal(t, []string{"waterproofing", "coating"}, p.Keywords)
	assert.Equal(t, map[string]float64{"construction": 1.2}, p.CategoryWeights)
	assert.Equal(t, 0.6, p.AcceptanceThreshold)
}

func TestLoadDefaultThreshold(t *testing.T) {
	path := writeProfile(t, `
keywords: [coating]
`)

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultAcceptanceThreshold, p.AcceptanceThreshold)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		profile pipeline.BusinessProfile
		wantErr bool
	}{
		{
			name:    "keywords only",
			profile: pipeline.BusinessProfile{Keywords: []string{"coating"}},
		},
		{
			name:    "description only",
			profile: pipeline.BusinessProfile{Description: "coating vendor"},
		},
		{
			name:    "empty profile",
			profile: pipeline.BusinessProfile{},
			wantErr: true,
		},
		{
			name:    "threshold out of range",
			profile: pipeline.BusinessProfile{Keywords: []string{"coating"}, AcceptanceThreshold: 1.5},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.profile)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
