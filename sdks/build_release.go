// Copyright (C) 2022 The Android Open Source Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sdks

import (
	"fmt"
	"strings"
)

// Supports customizing sdk snapshot output based on target build release.

// PreferHandling selects the mechanism used in the snapshots produced for a
// build release to control the prefer property of the prebuilts.
type PreferHandling int

const (
	// NoPreferHandling leaves the prefer property at its default setting.
	NoPreferHandling PreferHandling = iota

	// LegacyConfigModuleType wraps each prebuilt in a soong config module
	// type that binds prefer to a configuration variable.
	LegacyConfigModuleType

	// InlineSourceConfigVar binds prefer to a configuration variable through
	// the use_source_config_var property.
	InlineSourceConfigVar
)

// creatorFunc builds and dists the snapshots of the supplied modules for a
// single build release.
type creatorFunc func(p *SdkDistProducer, release *BuildRelease, modules []*MainlineModule) error

// BuildRelease represents a version of the build system used to create a
// specific platform release.
//
// The name of the release is the same as the code for the dessert release,
// e.g. S, Tiramisu, etc., or "latest" for the build on the current branch.
type BuildRelease struct {
	// The name of the release, e.g. S, Tiramisu, etc.
	name string

	// The index of this release within its registry. Releases are registered
	// from oldest to newest so comparing ordinals compares release recency.
	ordinal int

	// The registry this release was added to.
	registry *BuildReleaseRegistry

	// The sub-directory of dist/mainline-sdks into which the snapshots for
	// this release are copied.
	subDir string

	// The environment variable overrides to pass to the build to produce
	// snapshots for this release.
	soongEnv map[string]string

	// How snapshots for this release control the prefer property.
	preferHandling PreferHandling

	// True if the snapshots should include flagged api changes.
	includeFlaggedApis bool

	// True if gantry metadata and an api diff file should accompany each api
	// providing snapshot in the dist tree.
	generateGantryMetadataAndApiDiff bool

	// The function that builds and dists snapshots for this release.
	creator creatorFunc
}

// String returns the name of the build release.
func (r *BuildRelease) String() string {
	return r.name
}

// Name returns the name of the build release.
func (r *BuildRelease) Name() string {
	return r.name
}

// DistSubDir returns the dist/mainline-sdks sub-directory for this release.
func (r *BuildRelease) DistSubDir() string {
	return r.subDir
}

// EarlierThanOrEqual returns true if this release is no more recent than
// other. Both releases must come from the same registry.
func (r *BuildRelease) EarlierThanOrEqual(other *BuildRelease) bool {
	return r.ordinal <= other.ordinal
}

// LaterThan returns true if this release is more recent than other. Both
// releases must come from the same registry.
func (r *BuildRelease) LaterThan(other *BuildRelease) bool {
	return r.ordinal > other.ordinal
}

// laterThanLegacyPreferCutoff returns true if this release is more recent
// than its registry's legacy prefer cutoff release. A registry without a
// cutoff treats every release as being after it.
func (r *BuildRelease) laterThanLegacyPreferCutoff() bool {
	cutoff := r.registry.legacyPreferCutoff
	return cutoff == nil || r.LaterThan(cutoff)
}

// BuildReleaseRegistry is an ordered collection of build releases, oldest
// first. It is populated once during construction and read only afterwards.
type BuildReleaseRegistry struct {
	releases []*BuildRelease
	byName   map[string]*BuildRelease

	// The most recent release whose snapshots use the legacy prefer handling.
	// Module specific additional transformations only apply to releases after
	// this one.
	legacyPreferCutoff *BuildRelease
}

// NewBuildReleaseRegistry returns an empty registry.
func NewBuildReleaseRegistry() *BuildReleaseRegistry {
	return &BuildReleaseRegistry{byName: map[string]*BuildRelease{}}
}

// Add appends a release to the registry, assigning it the next ordinal.
// Releases must be added from oldest to newest as eligibility and
// transformation selection rely on the registration order matching the
// chronological release order.
//
// A nil soongEnv is defaulted to the standard per release override and an
// empty subDir is defaulted to a name derived from the release name. An
// explicitly empty (non-nil) soongEnv is left alone for releases whose build
// does not support per release snapshots.
func (reg *BuildReleaseRegistry) Add(release *BuildRelease) *BuildRelease {
	if _, ok := reg.byName[release.name]; ok {
		panic(fmt.Sprintf("build release %q already registered", release.name))
	}
	release.ordinal = len(reg.releases)
	release.registry = reg
	if release.subDir == "" {
		release.subDir = fmt.Sprintf("for-%s-build", release.name)
	}
	if release.soongEnv == nil {
		release.soongEnv = map[string]string{
			"SOONG_SDK_SNAPSHOT_TARGET_BUILD_RELEASE": release.name,
		}
	}
	reg.releases = append(reg.releases, release)
	reg.byName[release.name] = release
	return release
}

// Releases returns all the releases in the registry from oldest to newest.
func (reg *BuildReleaseRegistry) Releases() []*BuildRelease {
	return reg.releases
}

// Latest returns the most recent release, i.e. the last one added.
func (reg *BuildReleaseRegistry) Latest() *BuildRelease {
	return reg.releases[len(reg.releases)-1]
}

// ReleaseForName maps from a build release name to the corresponding build
// release (if it exists) or an error if it does not.
func (reg *BuildReleaseRegistry) ReleaseForName(name string) (*BuildRelease, error) {
	if r, ok := reg.byName[name]; ok {
		return r, nil
	}

	return nil, fmt.Errorf("unknown release %q, expected one of %s", name, reg.AllSet())
}

// mustRelease is like ReleaseForName but panics on an unknown name. It is
// used when constructing static tables where a missing release is a
// programming error.
func (reg *BuildReleaseRegistry) mustRelease(name string) *BuildRelease {
	release, err := reg.ReleaseForName(name)
	if err != nil {
		panic(err)
	}
	return release
}

// BuildReleaseSet represents a set of releases from a single registry.
type BuildReleaseSet struct {
	registry *BuildReleaseRegistry

	// Set of *BuildRelease represented as a map from *BuildRelease to struct{}.
	contents map[*BuildRelease]struct{}
}

// NewSet returns an empty set scoped to the registry.
func (reg *BuildReleaseRegistry) NewSet() *BuildReleaseSet {
	return &BuildReleaseSet{registry: reg, contents: map[*BuildRelease]struct{}{}}
}

// AllSet returns the set of all the releases in the registry.
func (reg *BuildReleaseRegistry) AllSet() *BuildReleaseSet {
	set := reg.NewSet()
	for _, release := range reg.releases {
		set.Add(release)
	}
	return set
}

// Add adds a build release to the set.
func (s *BuildReleaseSet) Add(release *BuildRelease) {
	s.contents[release] = struct{}{}
}

// AddRange adds all the build releases from start (inclusive) to end
// (inclusive).
func (s *BuildReleaseSet) AddRange(start *BuildRelease, end *BuildRelease) {
	for i := start.ordinal; i <= end.ordinal; i += 1 {
		s.Add(s.registry.releases[i])
	}
}

// Contains returns true if the set contains the specified build release.
func (s *BuildReleaseSet) Contains(release *BuildRelease) bool {
	_, ok := s.contents[release]
	return ok
}

// String returns a string representation of the set, sorted from earliest to
// latest release.
func (s *BuildReleaseSet) String() string {
	list := []string{}
	for _, release := range s.registry.releases {
		if _, ok := s.contents[release]; ok {
			list = append(list, release.name)
		}
	}
	return fmt.Sprintf("[%s]", strings.Join(list, ","))
}

// ParseBuildReleaseSet parses a build release set string specification into a
// build release set.
//
// The specification consists of one of the following:
// * a single build release name, e.g. S, Tiramisu, etc.
// * a closed range (inclusive to inclusive), e.g. S-Tiramisu
// * an open range, e.g. Tiramisu+.
//
// This returns the set if the specification was valid or an error.
func (reg *BuildReleaseRegistry) ParseBuildReleaseSet(specification string) (*BuildReleaseSet, error) {
	set := reg.NewSet()

	if strings.HasSuffix(specification, "+") {
		rangeStart := strings.TrimSuffix(specification, "+")
		start, err := reg.ReleaseForName(rangeStart)
		if err != nil {
			return nil, err
		}
		set.AddRange(start, reg.Latest())
	} else if strings.Contains(specification, "-") {
		limits := strings.SplitN(specification, "-", 2)
		start, err := reg.ReleaseForName(limits[0])
		if err != nil {
			return nil, err
		}

		end, err := reg.ReleaseForName(limits[1])
		if err != nil {
			return nil, err
		}

		if start.ordinal > end.ordinal {
			return nil, fmt.Errorf("invalid closed range, start release %q is later than end release %q", start.name, end.name)
		}

		set.AddRange(start, end)
	} else {
		release, err := reg.ReleaseForName(specification)
		if err != nil {
			return nil, err
		}
		set.Add(release)
	}

	return set, nil
}

// DefaultBuildReleases returns the registry of all the build releases for
// which sdk snapshots can be produced, from oldest to newest.
func DefaultBuildReleases() *BuildReleaseRegistry {
	reg := NewBuildReleaseRegistry()

	// Q predates per release snapshot support so it has no environment
	// overrides and no snapshots of its own are produced.
	reg.Add(&BuildRelease{
		name:     "Q",
		soongEnv: map[string]string{},
		creator:  createNoOpBuildRelease,
	})
	reg.Add(&BuildRelease{
		name:           "R",
		preferHandling: LegacyConfigModuleType,
		creator:        createSnapshotsForRBuild,
	})
	// S is the last release to use the soong config module type wrapping and
	// the last release before module specific additional transformations
	// apply.
	reg.legacyPreferCutoff = reg.Add(&BuildRelease{
		name:           "S",
		preferHandling: LegacyConfigModuleType,
		creator:        createSoongSnapshots,
	})
	reg.Add(&BuildRelease{
		name:           "Tiramisu",
		preferHandling: InlineSourceConfigVar,
		creator:        createSoongSnapshots,
	})
	reg.Add(&BuildRelease{
		name:           "UpsideDownCake",
		preferHandling: InlineSourceConfigVar,
		creator:        createSoongSnapshots,
	})
	// The latest build is not pinned to a dessert release. It is the only
	// build that includes the bundled modules and the flagged api changes and
	// it supplies the gantry metadata and api diff files.
	reg.Add(&BuildRelease{
		name:                             "latest",
		soongEnv:                         map[string]string{},
		preferHandling:                   InlineSourceConfigVar,
		includeFlaggedApis:               true,
		generateGantryMetadataAndApiDiff: true,
		creator:                          createLatestSnapshots,
	})

	return reg
}
