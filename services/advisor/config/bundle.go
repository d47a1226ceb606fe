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
	"context"
	"fmt"
	"os"
	"sync"
)

// =============================================================================
// Bundle: pattern library + domain profiles, cross-validated
// =============================================================================

// Bundle pairs the pattern library with the domain catalogue after
// cross-validation. The engine is constructed from a Bundle, never from
// the two halves separately, so a domain can never reference a slot the
// extractor does not know.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Bundle struct {
	Patterns *PatternsConfig
	Profiles *ProfilesConfig
}

// NewBundle cross-validates a pattern library against a domain catalogue.
//
// Description:
//
//	Every required slot and every question key in every profile must be
//	declared in the pattern library. This is the fail-fast boundary for
//	configuration mistakes: a typo in a slot name kills startup instead
//	of silently producing a domain that can never become ready.
//
// Inputs:
//
//	patterns - Validated pattern library. Must not be nil.
//	profiles - Validated domain catalogue. Must not be nil.
//
// Outputs:
//
//	*Bundle - The cross-validated pair.
//	error - Non-nil if any profile references an undeclared slot.
func NewBundle(patterns *PatternsConfig, profiles *ProfilesConfig) (*Bundle, error) {
	if patterns == nil {
		return nil, fmt.Errorf("NewBundle: patterns must not be nil")
	}
	if profiles == nil {
		return nil, fmt.Errorf("NewBundle: profiles must not be nil")
	}

	known := make(map[string]bool, len(patterns.Slots))
	for _, s := range patterns.Slots {
		known[s.Name] = true
	}

	for _, d := range profiles.Domains {
		for _, slot := range d.RequiredSlots {
			if !known[slot] {
				return nil, fmt.Errorf("NewBundle: domain %s requires slot %q which is not in the pattern library", d.ID, slot)
			}
		}
	}

	return &Bundle{Patterns: patterns, Profiles: profiles}, nil
}

// LoadBundle loads and cross-validates a bundle from raw YAML bytes.
func LoadBundle(patternsData, profilesData []byte) (*Bundle, error) {
	patterns, err := LoadPatternsConfig(patternsData)
	if err != nil {
		return nil, fmt.Errorf("LoadBundle: %w", err)
	}
	profiles, err := LoadProfilesConfig(profilesData)
	if err != nil {
		return nil, fmt.Errorf("LoadBundle: %w", err)
	}
	return NewBundle(patterns, profiles)
}

// LoadBundleFromFiles loads a bundle from YAML files on disk. Either
// path may be empty to fall back to the embedded default for that half.
func LoadBundleFromFiles(patternsPath, profilesPath string) (*Bundle, error) {
	patternsData := defaultPatternsYAML
	if patternsPath != "" {
		data, err := os.ReadFile(patternsPath)
		if err != nil {
			return nil, fmt.Errorf("LoadBundleFromFiles: reading %s: %w", patternsPath, err)
		}
		patternsData = data
	}

	profilesData := defaultProfilesYAML
	if profilesPath != "" {
		data, err := os.ReadFile(profilesPath)
		if err != nil {
			return nil, fmt.Errorf("LoadBundleFromFiles: reading %s: %w", profilesPath, err)
		}
		profilesData = data
	}

	return LoadBundle(patternsData, profilesData)
}

// =============================================================================
// Singleton Bundle
// =============================================================================

var (
	bundleMu      sync.RWMutex
	bundleOnce    sync.Once
	cachedBundle  *Bundle
	bundleLoadErr error
)

// GetBundle returns the cached default configuration bundle.
//
// Description:
//
//	Loads the embedded defaults on first call and caches for subsequent
//	calls. Uses sync.Once for thread-safe initialization. Services that
//	load from disk or hot-swap should hold their own *Bundle instead.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//
// Outputs:
//
//	*Bundle - The loaded bundle. Never nil on success.
//	error - Non-nil if loading or validation failed.
//
// Thread Safety: Safe for concurrent use via sync.Once.
func GetBundle(ctx context.Context) (*Bundle, error) {
	if ctx == nil {
		return nil, fmt.Errorf("GetBundle: ctx must not be nil")
	}

	bundleMu.RLock()
	if cachedBundle != nil || bundleLoadErr != nil {
		b, err := cachedBundle, bundleLoadErr
		bundleMu.RUnlock()
		return b, err
	}
	bundleMu.RUnlock()

	bundleMu.Lock()
	defer bundleMu.Unlock()

	if cachedBundle != nil || bundleLoadErr != nil {
		return cachedBundle, bundleLoadErr
	}

	bundleOnce.Do(func() {
		cachedBundle, bundleLoadErr = LoadBundle(defaultPatternsYAML, defaultProfilesYAML)
	})

	return cachedBundle, bundleLoadErr
}

// ResetBundle resets the cached bundle for testing.
//
// Thread Safety: Safe for concurrent use.
func ResetBundle() {
	bundleMu.Lock()
	defer bundleMu.Unlock()
	cachedBundle = nil
	bundleLoadErr = nil
	bundleOnce = sync.Once{}
}
