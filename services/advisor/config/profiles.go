// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	_ "embed"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Default Domain Profiles
// =============================================================================

//go:embed profiles.yaml
var defaultProfilesYAML []byte

// Defaults applied when a profile or the top-level config omits a field.
const (
	// DefaultMaxFollowUps bounds consecutive follow-up questions per domain run.
	DefaultMaxFollowUps = 5

	// DefaultRouteThreshold is the minimum routing score before falling
	// back to the default domain.
	DefaultRouteThreshold = 0.3

	// DefaultFallbackQuestion is asked when a required slot has no
	// question template configured.
	DefaultFallbackQuestion = "Could you tell me a bit more about that?"
)

// =============================================================================
// Domain Profile Types
// =============================================================================

// DomainProfile declares one routable conversation domain.
//
// Description:
//
//	A profile is pure data: the router scores utterances against its
//	keyword lists, the follow-up engine walks RequiredSlots in order,
//	and Questions maps each required slot to the prompt used when it
//	is missing. Priority breaks routing ties (lower wins).
type DomainProfile struct {
	// ID is the domain identifier (e.g. "baby_gear", "health").
	ID string `yaml:"id"`

	// Priority breaks routing ties; lower numbers win.
	Priority int `yaml:"priority"`

	// RequiredSlots are asked in declaration order when missing.
	RequiredSlots []string `yaml:"required_slots"`

	// PrimaryKeywords score 1.0 when any appears in the utterance.
	PrimaryKeywords []string `yaml:"primary_keywords"`

	// SecondaryKeywords score 0.7 when any appears and no primary does.
	SecondaryKeywords []string `yaml:"secondary_keywords"`

	// MaxFollowUps caps consecutive questions for this domain.
	// 0 means DefaultMaxFollowUps.
	MaxFollowUps int `yaml:"max_followups"`

	// Questions maps slot name to the natural-language prompt.
	Questions map[string]string `yaml:"questions"`
}

// Question returns the configured prompt for a slot, or a generic
// fallback naming the slot when none is configured.
func (p *DomainProfile) Question(slot string) string {
	if q, ok := p.Questions[slot]; ok && q != "" {
		return q
	}
	return fmt.Sprintf("Could you tell me about %s?", slot)
}

// ProfilesConfig is the full routing configuration: the domain
// catalogue plus the router's global knobs.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type ProfilesConfig struct {
	// DefaultDomain receives utterances no domain claims.
	DefaultDomain string `yaml:"default_domain"`

	// RouteThreshold is the minimum score before default-domain fallback.
	RouteThreshold float64 `yaml:"route_threshold"`

	// ContinuationCues keep routing sticky ("what about ...").
	ContinuationCues []string `yaml:"continuation_cues"`

	// FallbackQuestion is asked when no template exists for a slot.
	FallbackQuestion string `yaml:"fallback_question"`

	// Domains is the routable domain catalogue.
	Domains []DomainProfile `yaml:"domains"`
}

// Domain returns the profile for an id, or nil if not declared.
func (c *ProfilesConfig) Domain(id string) *DomainProfile {
	for i := range c.Domains {
		if c.Domains[i].ID == id {
			return &c.Domains[i]
		}
	}
	return nil
}

// =============================================================================
// Loading
// =============================================================================

// LoadProfilesConfig loads and validates a ProfilesConfig from YAML bytes.
//
// Description:
//
//	Parses the YAML, applies defaults for missing fields, and validates
//	the domain catalogue for consistency (unique ids, default domain
//	declared, sane threshold). Slot references are cross-checked against
//	the pattern library in LoadBundle, not here.
//
// Inputs:
//
//	data - Raw YAML bytes to parse.
//
// Outputs:
//
//	*ProfilesConfig - The validated configuration.
//	error - Non-nil if parsing or validation fails.
func LoadProfilesConfig(data []byte) (*ProfilesConfig, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("LoadProfilesConfig: empty YAML data")
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("LoadProfilesConfig: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var cfg ProfilesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("LoadProfilesConfig: parsing YAML: %w", err)
	}

	if cfg.RouteThreshold <= 0 {
		cfg.RouteThreshold = DefaultRouteThreshold
	}
	if cfg.FallbackQuestion == "" {
		cfg.FallbackQuestion = DefaultFallbackQuestion
	}
	for i := range cfg.Domains {
		if cfg.Domains[i].MaxFollowUps <= 0 {
			cfg.Domains[i].MaxFollowUps = DefaultMaxFollowUps
		}
	}

	if err := validateProfilesConfig(&cfg); err != nil {
		return nil, fmt.Errorf("LoadProfilesConfig: validation: %w", err)
	}

	slog.Info("domain profiles loaded",
		slog.Int("domains", len(cfg.Domains)),
		slog.String("default_domain", cfg.DefaultDomain),
		slog.Float64("route_threshold", cfg.RouteThreshold),
	)

	return &cfg, nil
}

// DefaultProfilesConfig loads the embedded default domain catalogue.
func DefaultProfilesConfig() (*ProfilesConfig, error) {
	return LoadProfilesConfig(defaultProfilesYAML)
}

// validateProfilesConfig checks the domain catalogue for consistency.
func validateProfilesConfig(cfg *ProfilesConfig) error {
	if len(cfg.Domains) == 0 {
		return fmt.Errorf("domains must not be empty")
	}
	if cfg.DefaultDomain == "" {
		return fmt.Errorf("default_domain must not be empty")
	}
	if cfg.RouteThreshold >= 1.0 {
		return fmt.Errorf("route_threshold must be below 1.0 (got %g)", cfg.RouteThreshold)
	}

	seen := make(map[string]bool, len(cfg.Domains))
	for i, d := range cfg.Domains {
		if d.ID == "" {
			return fmt.Errorf("domain[%d]: id must not be empty", i)
		}
		if seen[d.ID] {
			return fmt.Errorf("domain[%d] (%s): duplicate domain id", i, d.ID)
		}
		seen[d.ID] = true

		for slot := range d.Questions {
			found := false
			for _, rs := range d.RequiredSlots {
				if rs == slot {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("domain %s: question for %q which is not a required slot", d.ID, slot)
			}
		}
	}

	if !seen[cfg.DefaultDomain] {
		return fmt.Errorf("default_domain %q is not a declared domain", cfg.DefaultDomain)
	}

	return nil
}
