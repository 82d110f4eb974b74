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
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultBuildReleases(t *testing.T) {
	reg := DefaultBuildReleases()

	var names []string
	for _, release := range reg.Releases() {
		names = append(names, release.Name())
	}
	expected := []string{"Q", "R", "S", "Tiramisu", "UpsideDownCake", "latest"}
	if diff := cmp.Diff(expected, names); diff != "" {
		t.Errorf("unexpected release order (-want +got):\n%s", diff)
	}

	t.Run("defaults", func(t *testing.T) {
		r := reg.mustRelease("R")
		if r.DistSubDir() != "for-R-build" {
			t.Errorf("expected sub dir for-R-build, got %q", r.DistSubDir())
		}
		expectedEnv := map[string]string{"SOONG_SDK_SNAPSHOT_TARGET_BUILD_RELEASE": "R"}
		if diff := cmp.Diff(expectedEnv, r.soongEnv); diff != "" {
			t.Errorf("unexpected soong env (-want +got):\n%s", diff)
		}
	})

	t.Run("releases without per release builds", func(t *testing.T) {
		for _, name := range []string{"Q", "latest"} {
			release := reg.mustRelease(name)
			if len(release.soongEnv) != 0 {
				t.Errorf("expected empty soong env for %s, got %v", name, release.soongEnv)
			}
		}
	})

	t.Run("latest flags", func(t *testing.T) {
		latest := reg.Latest()
		if latest.Name() != "latest" {
			t.Errorf("expected latest release, got %s", latest)
		}
		if !latest.includeFlaggedApis {
			t.Errorf("expected latest to include flagged apis")
		}
		if !latest.generateGantryMetadataAndApiDiff {
			t.Errorf("expected latest to generate gantry metadata and api diff")
		}
	})
}

func TestBuildReleaseOrdering(t *testing.T) {
	reg := DefaultBuildReleases()
	r := reg.mustRelease("R")
	s := reg.mustRelease("S")
	tiramisu := reg.mustRelease("Tiramisu")

	if !r.EarlierThanOrEqual(s) {
		t.Errorf("expected R <= S")
	}
	if !s.EarlierThanOrEqual(s) {
		t.Errorf("expected S <= S")
	}
	if s.EarlierThanOrEqual(r) {
		t.Errorf("expected S > R")
	}
	if !tiramisu.LaterThan(s) {
		t.Errorf("expected Tiramisu > S")
	}
	if s.LaterThan(s) {
		t.Errorf("expected S not later than itself")
	}
}

func TestLegacyPreferCutoff(t *testing.T) {
	reg := DefaultBuildReleases()

	for name, expected := range map[string]bool{
		"R":        false,
		"S":        false,
		"Tiramisu": true,
		"latest":   true,
	} {
		if actual := reg.mustRelease(name).laterThanLegacyPreferCutoff(); actual != expected {
			t.Errorf("laterThanLegacyPreferCutoff(%s): expected %v, got %v", name, expected, actual)
		}
	}
}

func TestReleaseForName(t *testing.T) {
	reg := DefaultBuildReleases()

	t.Run("single release", func(t *testing.T) {
		release, err := reg.ReleaseForName("S")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if release != reg.mustRelease("S") {
			t.Errorf("expected release S, got %s", release)
		}
	})
	t.Run("invalid release", func(t *testing.T) {
		_, err := reg.ReleaseForName("A")
		expected := `unknown release "A", expected one of [Q,R,S,Tiramisu,UpsideDownCake,latest]`
		if err == nil || err.Error() != expected {
			t.Errorf("expected error %q, got %v", expected, err)
		}
	})
}

func TestParseBuildReleaseSet(t *testing.T) {
	reg := DefaultBuildReleases()

	t.Run("single release", func(t *testing.T) {
		set, err := reg.ParseBuildReleaseSet("S")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s := set.String(); s != "[S]" {
			t.Errorf("expected [S], got %s", s)
		}
	})
	t.Run("open range", func(t *testing.T) {
		set, err := reg.ParseBuildReleaseSet("Tiramisu+")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s := set.String(); s != "[Tiramisu,UpsideDownCake,latest]" {
			t.Errorf("expected [Tiramisu,UpsideDownCake,latest], got %s", s)
		}
	})
	t.Run("closed range", func(t *testing.T) {
		set, err := reg.ParseBuildReleaseSet("S-UpsideDownCake")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s := set.String(); s != "[S,Tiramisu,UpsideDownCake]" {
			t.Errorf("expected [S,Tiramisu,UpsideDownCake], got %s", s)
		}
	})
	invalidAReleaseMessage := `unknown release "A", expected one of ` + reg.AllSet().String()
	t.Run("invalid release", func(t *testing.T) {
		set, err := reg.ParseBuildReleaseSet("A")
		if set != nil {
			t.Errorf("expected nil set, got %s", set)
		}
		if !strings.Contains(fmt.Sprint(err), invalidAReleaseMessage) {
			t.Errorf("expected error containing %q, got %v", invalidAReleaseMessage, err)
		}
	})
	t.Run("invalid release in open range", func(t *testing.T) {
		_, err := reg.ParseBuildReleaseSet("A+")
		if !strings.Contains(fmt.Sprint(err), invalidAReleaseMessage) {
			t.Errorf("expected error containing %q, got %v", invalidAReleaseMessage, err)
		}
	})
	t.Run("invalid release in closed range start", func(t *testing.T) {
		_, err := reg.ParseBuildReleaseSet("A-S")
		if !strings.Contains(fmt.Sprint(err), invalidAReleaseMessage) {
			t.Errorf("expected error containing %q, got %v", invalidAReleaseMessage, err)
		}
	})
	t.Run("invalid release in closed range end", func(t *testing.T) {
		_, err := reg.ParseBuildReleaseSet("Tiramisu-A")
		if !strings.Contains(fmt.Sprint(err), invalidAReleaseMessage) {
			t.Errorf("expected error containing %q, got %v", invalidAReleaseMessage, err)
		}
	})
	t.Run("invalid closed range reversed", func(t *testing.T) {
		_, err := reg.ParseBuildReleaseSet("Tiramisu-S")
		expected := `invalid closed range, start release "Tiramisu" is later than end release "S"`
		if !strings.Contains(fmt.Sprint(err), expected) {
			t.Errorf("expected error containing %q, got %v", expected, err)
		}
	})
}

func TestBuildReleaseSetContains(t *testing.T) {
	reg := DefaultBuildReleases()
	set, err := reg.ParseBuildReleaseSet("S-Tiramisu")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for name, expected := range map[string]bool{
		"R":              false,
		"S":              true,
		"Tiramisu":       true,
		"UpsideDownCake": false,
	} {
		if actual := set.Contains(reg.mustRelease(name)); actual != expected {
			t.Errorf("Contains(%s): expected %v, got %v", name, expected, actual)
		}
	}
}

func TestDuplicateRelease(t *testing.T) {
	reg := NewBuildReleaseRegistry()
	reg.Add(&BuildRelease{name: "S", creator: createNoOpBuildRelease})

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic for duplicate release")
		}
		if !strings.Contains(fmt.Sprint(r), `build release "S" already registered`) {
			t.Errorf("unexpected panic message: %v", r)
		}
	}()
	reg.Add(&BuildRelease{name: "S", creator: createNoOpBuildRelease})
}
