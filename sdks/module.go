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
	"regexp"
	"strings"
)

// ConfigVar represents a Soong configuration variable.
type ConfigVar struct {
	// The config variable namespace, e.g. ANDROID.
	Namespace string

	// The name of the variable within the namespace.
	Name string
}

// defaultConfigVar is the shared variable that controls the prefer property
// of every module without a private variable of its own.
var defaultConfigVar = ConfigVar{Namespace: "ANDROID", Name: "module_build_from_source"}

// defaultConfigBpDefFile contains the definitions of the soong config module
// types used by modules controlled by the shared variable.
const defaultConfigBpDefFile = "packages/modules/common/Android.bp"

// SdkType classifies the artifact kinds a module's sdks list can produce.
type SdkType struct {
	// The name of the sdk type, also the dist sub-directory for artifacts of
	// this type.
	name string

	// The suffix appended to the module short name when deriving the soong
	// config module type prefix for this artifact kind.
	configModuleTypeSuffix string

	// True if artifacts of this type carry api surface files.
	providesApis bool
}

var (
	// Sdk is the api providing sdk artifact kind.
	Sdk = SdkType{name: "sdk", providesApis: true}

	// HostExports is the module_exports artifact kind for host tools.
	HostExports = SdkType{name: "host-exports", configModuleTypeSuffix: "_host_exports"}

	// TestExports is the module_exports artifact kind for test libraries.
	TestExports = SdkType{name: "test-exports", configModuleTypeSuffix: "_test_exports"}
)

// Name returns the name of the sdk type.
func (t SdkType) Name() string {
	return t.name
}

// ProvidesApis returns true if artifacts of this type carry api surface
// files.
func (t SdkType) ProvidesApis() bool {
	return t.providesApis
}

var sdkNameRegexp = regexp.MustCompile("^[^-]+-(module-)?(sdk|host-exports|test-exports)$")

// SdkTypeForName classifies an sdk artifact name by its suffix, returning an
// error for a name that does not follow the sdk naming convention.
func SdkTypeForName(sdkName string) (SdkType, error) {
	m := sdkNameRegexp.FindStringSubmatch(sdkName)
	if m == nil {
		return SdkType{}, fmt.Errorf("%s is not a valid name, expected name in the format of ^[^-]+-(module-)?(sdk|host-exports|test-exports)", sdkName)
	}
	switch m[2] {
	case "sdk":
		return Sdk, nil
	case "host-exports":
		return HostExports, nil
	case "test-exports":
		return TestExports, nil
	default:
		panic(fmt.Sprintf("unsupported sdk type %q", m[2]))
	}
}

// MainlineModule represents a mainline module.
type MainlineModule struct {
	// Apex is the name of the apex, unique across the module set.
	Apex string

	// Sdks are the names of the sdk and module_exports artifacts that the
	// module produces.
	Sdks []string

	// FirstRelease is the earliest build release that requires snapshots of
	// this module.
	FirstRelease *BuildRelease

	// LastOptionalRelease is the latest build release in which this module is
	// optional at build time and so owns a private configuration variable.
	// nil means the module was never optional.
	//
	// A module that has ever been optional keeps its private variable even
	// for releases after LastOptionalRelease; reverting to the shared
	// variable once the module becomes required is not currently supported.
	LastOptionalRelease *BuildRelease

	// Bundled is true for modules that are always shipped in the system
	// image. Their prebuilts are only used on branches without module source
	// so they keep the prefer property at its default setting and are only
	// built as part of the latest build.
	Bundled bool

	// AdditionalTransformations are applied on top of the prefer handling
	// transformation, but only for build releases after the legacy prefer
	// cutoff.
	AdditionalTransformations []FileTransformation
}

// ShortName returns the last component of the apex name, e.g. "art" for
// "com.android.art".
func (m *MainlineModule) ShortName() string {
	return m.Apex[strings.LastIndex(m.Apex, ".")+1:]
}

// configVar returns the configuration variable that controls this module's
// prefer property.
func (m *MainlineModule) configVar() ConfigVar {
	if m.LastOptionalRelease != nil {
		return ConfigVar{
			Namespace: m.ShortName() + "_module",
			Name:      "source_build",
		}
	}
	return defaultConfigVar
}

// configBpDefFile returns the bp file containing the definitions of the soong
// config module types to use in this module's snapshots.
func (m *MainlineModule) configBpDefFile() string {
	if m.LastOptionalRelease != nil {
		return fmt.Sprintf("prebuilts/module_sdk/%s/SoongConfig.bp", m.ShortName())
	}
	return defaultConfigBpDefFile
}

// IsRequiredFor returns true if the target build release requires a snapshot
// of this module.
func (m *MainlineModule) IsRequiredFor(release *BuildRelease) bool {
	return m.FirstRelease.EarlierThanOrEqual(release)
}

// Transformations returns the transformations to apply to the snapshot of the
// given artifact kind of this module for the given build release.
func (m *MainlineModule) Transformations(release *BuildRelease, sdkType SdkType) []FileTransformation {
	if m.Bundled {
		return nil
	}

	var transformations []FileTransformation
	configVar := m.configVar()
	switch release.preferHandling {
	case NoPreferHandling:

	case LegacyConfigModuleType:
		prefix := m.ShortName() + sdkType.configModuleTypeSuffix + "_prebuilt_"
		transformations = append(transformations, &SoongConfigBoilerplateInserter{
			Path:                   snapshotBuildConfigFile,
			ConfigVar:              configVar,
			ConfigBpDefFile:        m.configBpDefFile(),
			ConfigModuleTypePrefix: prefix,
		})

	case InlineSourceConfigVar:
		transformations = append(transformations, &UseSourceConfigVarTransformation{
			Path:      snapshotBuildConfigFile,
			ConfigVar: configVar,
		})

	default:
		panic(fmt.Sprintf("unsupported prefer handling %d in build release %s", release.preferHandling, release))
	}

	if len(m.AdditionalTransformations) > 0 && release.laterThanLegacyPreferCutoff() {
		transformations = append(transformations, m.AdditionalTransformations...)
	}

	return transformations
}

// DefaultModules returns the full list of mainline modules whose sdk
// snapshots this tool builds, using the build releases of the supplied
// registry.
func DefaultModules(reg *BuildReleaseRegistry) []*MainlineModule {
	r := reg.mustRelease("R")
	s := reg.mustRelease("S")
	tiramisu := reg.mustRelease("Tiramisu")
	upsideDownCake := reg.mustRelease("UpsideDownCake")
	latest := reg.Latest()

	return []*MainlineModule{
		{
			Apex: "com.android.art",
			Sdks: []string{
				"art-module-sdk",
				"art-module-test-exports",
				"art-module-host-exports",
			},
			FirstRelease:        s,
			LastOptionalRelease: upsideDownCake,
		},
		{
			Apex: "com.android.btservices",
			Sdks: []string{"btservices-sdk"},
			// Bundled modules are only built as part of the latest build.
			FirstRelease: latest,
			Bundled:      true,
		},
		{
			Apex: "com.android.conscrypt",
			Sdks: []string{
				"conscrypt-module-sdk",
				"conscrypt-module-test-exports",
				"conscrypt-module-host-exports",
			},
			FirstRelease: r,
		},
		{
			Apex:         "com.android.ipsec",
			Sdks:         []string{"ipsec-module-sdk"},
			FirstRelease: r,
		},
		{
			Apex:         "com.android.media",
			Sdks:         []string{"media-module-sdk"},
			FirstRelease: r,
		},
		{
			Apex:         "com.android.mediaprovider",
			Sdks:         []string{"mediaprovider-module-sdk"},
			FirstRelease: r,
		},
		{
			Apex:         "com.android.os.statsd",
			Sdks:         []string{"statsd-module-sdk"},
			FirstRelease: r,
		},
		{
			Apex:         "com.android.permission",
			Sdks:         []string{"permission-module-sdk"},
			FirstRelease: r,
		},
		{
			Apex:         "com.android.scheduling",
			Sdks:         []string{"scheduling-sdk"},
			FirstRelease: s,
		},
		{
			Apex:         "com.android.sdkext",
			Sdks:         []string{"sdkextensions-sdk"},
			FirstRelease: r,
		},
		{
			Apex:         "com.android.tethering",
			Sdks:         []string{"tethering-module-sdk"},
			FirstRelease: r,
		},
		{
			Apex:                "com.android.uwb",
			Sdks:                []string{"uwb-module-sdk"},
			FirstRelease:        tiramisu,
			LastOptionalRelease: tiramisu,
		},
		{
			Apex:         "com.android.wifi",
			Sdks:         []string{"wifi-module-sdk"},
			FirstRelease: r,
		},
	}
}

// ModulesByApex indexes the modules by apex name, enforcing the requirement
// that apex names are unique across the module set.
func ModulesByApex(modules []*MainlineModule) map[string]*MainlineModule {
	byApex := make(map[string]*MainlineModule, len(modules))
	for _, module := range modules {
		if _, ok := byApex[module.Apex]; ok {
			panic(fmt.Sprintf("duplicate module for apex %q", module.Apex))
		}
		byApex[module.Apex] = module
	}
	return byApex
}

// FilterModules returns the modules whose apex names appear in the space
// separated targetBuildApps list, or all the modules if the list is empty.
func FilterModules(modules []*MainlineModule, targetBuildApps string) []*MainlineModule {
	apexes := strings.Fields(targetBuildApps)
	if len(apexes) == 0 {
		return modules
	}
	var filtered []*MainlineModule
	for _, module := range modules {
		if inList(module.Apex, apexes) {
			filtered = append(filtered, module)
		}
	}
	return filtered
}
