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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/blueprint/proptools"
)

// sdkLibraryFilePatterns match the api surface files of a java_sdk_library
// within an sdk snapshot.
var sdkLibraryFilePatterns = []string{
	"sdk_library/*/*.txt",
	"sdk_library/*/*.jar",
	"sdk_library/*/*.srcjar",
}

// SdkDistProducer produces the DIST_DIR/mainline-sdks and DIST_DIR/stubs
// directories.
//
// It builds sdk snapshots of the mainline modules for each supported build
// release and copies them into per release dist directories, applying the
// prefer handling transformations required by each release on the way. For
// the latest build it also extracts the sdk_library txt, jar and srcjar
// files from each sdk snapshot and copies them into the DIST_DIR/stubs
// directory.
type SdkDistProducer struct {
	// Destination for stdout from subprocesses and for progress messages.
	Stdout io.Writer

	// Destination for stderr from subprocesses.
	Stderr io.Writer

	// The OUT_DIR environment variable.
	OutDir string

	// The DIST_DIR environment variable.
	DistDir string

	// The TARGET_BUILD_VARIANT to build with. This MUST be identical to the
	// TARGET_BUILD_VARIANT used to build the corresponding APEXes otherwise
	// it could result in different hidden API flags, see
	// http://b/202398851#comment29 for more info.
	TargetBuildVariant string

	// The path to this tool. It may be inserted into files that are
	// transformed to document where the changes came from.
	Script string

	// The registry of build releases to produce snapshots for.
	Releases *BuildReleaseRegistry

	// Optional subset of the registry's releases to produce. nil means all.
	ReleaseFilter *BuildReleaseSet

	// The sdk versions to build. Usually just current but can include a
	// numeric version too.
	SdkVersions []string

	// Runs the external build and diff invocations.
	Runner CommandRunner

	// The environment overrides and outputs of the last build invocation,
	// used to share builds between consecutive releases with identical
	// overrides.
	lastBuildEnvSig string
	builtPaths      map[string]bool
}

// NewSdkDistProducer returns a producer for the default build releases,
// writing subprocess output to this process's stdout and stderr.
func NewSdkDistProducer(outDir, distDir string) *SdkDistProducer {
	return &SdkDistProducer{
		Stdout:             os.Stdout,
		Stderr:             os.Stderr,
		OutDir:             outDir,
		DistDir:            distDir,
		TargetBuildVariant: "user",
		Script:             os.Args[0],
		Releases:           DefaultBuildReleases(),
		SdkVersions:        []string{"current"},
		Runner:             execRunner{},
	}
}

// SnapshotPath returns the path to the sdk snapshot zip file produced by
// soong.
func (p *SdkDistProducer) SnapshotPath(sdkName, sdkVersion string) string {
	return filepath.Join(p.OutDir, "soong/mainline-sdks", fmt.Sprintf("%s-%s.zip", sdkName, sdkVersion))
}

// ProduceDist builds the sdk snapshots for every build release that requires
// them and populates the dist directory trees. Any failure aborts the whole
// run; the dist directories of an aborted run must be treated as unreliable.
func (p *SdkDistProducer) ProduceDist(modules []*MainlineModule) error {
	// Clear the dist directories so that stale artifacts from a previous run
	// can never be mistaken for output of this one.
	for _, dir := range []string{"mainline-sdks", "stubs"} {
		if err := os.RemoveAll(filepath.Join(p.DistDir, dir)); err != nil {
			return err
		}
	}

	for _, release := range p.Releases.Releases() {
		if p.ReleaseFilter != nil && !p.ReleaseFilter.Contains(release) {
			continue
		}
		if err := release.creator(p, release, modules); err != nil {
			return err
		}
	}
	return nil
}

// createNoOpBuildRelease creates no snapshots. It exists for build releases
// that predate per release snapshot support.
func createNoOpBuildRelease(p *SdkDistProducer, release *BuildRelease, modules []*MainlineModule) error {
	return nil
}

// createSoongSnapshots builds the snapshots of the modules required by the
// build release and copies them into its dist directory.
func createSoongSnapshots(p *SdkDistProducer, release *BuildRelease, modules []*MainlineModule) error {
	return p.produceDistForRelease(release, modules, false, allSdkTypes)
}

// createSnapshotsForRBuild builds the snapshots for the R build. The R build
// system only supports java_sdk_library prebuilts so only the artifact kinds
// that provide apis are built and disted.
func createSnapshotsForRBuild(p *SdkDistProducer, release *BuildRelease, modules []*MainlineModule) error {
	return p.produceDistForRelease(release, modules, false, apiSdkTypes)
}

// createLatestSnapshots builds the snapshots for the latest build. This is
// the only build that includes the bundled modules. It also extracts the
// sdk_library stub files into the DIST_DIR/stubs directory.
func createLatestSnapshots(p *SdkDistProducer, release *BuildRelease, modules []*MainlineModule) error {
	if err := p.produceDistForRelease(release, modules, true, allSdkTypes); err != nil {
		return err
	}
	return p.populateStubs(requiredModules(modules, release, true))
}

// sdkTypeFilter selects the artifact kinds to build and dist for a release.
type sdkTypeFilter func(SdkType) bool

func allSdkTypes(SdkType) bool { return true }

func apiSdkTypes(t SdkType) bool { return t.providesApis }

func (p *SdkDistProducer) produceDistForRelease(release *BuildRelease, modules []*MainlineModule, includeBundled bool, include sdkTypeFilter) error {
	modules = requiredModules(modules, release, includeBundled)
	if len(modules) == 0 {
		return nil
	}
	if err := p.buildSdks(release, modules, include); err != nil {
		return err
	}
	return p.populateDist(release, modules, include)
}

// requiredModules returns the modules that need a snapshot for the build
// release. Bundled modules are only included when requested as they are only
// built as part of the latest build.
func requiredModules(modules []*MainlineModule, release *BuildRelease, includeBundled bool) []*MainlineModule {
	var required []*MainlineModule
	for _, module := range modules {
		if module.Bundled && !includeBundled {
			continue
		}
		if module.IsRequiredFor(release) {
			required = append(required, module)
		}
	}
	return required
}

// buildSdks runs the build to create the snapshot zip files needed for the
// build release. A release whose environment overrides are identical to the
// previous invocation's reuses its outputs instead of rebuilding, which
// avoids regenerating the build graph; otherwise releases are built strictly
// in registry order.
func (p *SdkDistProducer) buildSdks(release *BuildRelease, modules []*MainlineModule, include sdkTypeFilter) error {
	for _, sdkVersion := range p.SdkVersions {
		paths, err := p.snapshotPaths(modules, sdkVersion, include)
		if err != nil {
			return err
		}

		// TODO(ngeoffray): remove SOONG_ALLOW_MISSING_DEPENDENCIES, but we
		// currently break without it.
		//
		// Set SOONG_SDK_SNAPSHOT_USE_SRCJAR to generate .srcjars inside sdk
		// zip files as expected by prebuilt drop.
		extraEnv := map[string]string{
			"SOONG_ALLOW_MISSING_DEPENDENCIES": "true",
			"SOONG_SDK_SNAPSHOT_USE_SRCJAR":    "true",
			"SOONG_SDK_SNAPSHOT_VERSION":       sdkVersion,
		}
		for name, value := range release.soongEnv {
			extraEnv[name] = value
		}
		if release.includeFlaggedApis {
			extraEnv["SOONG_SDK_SNAPSHOT_INCLUDE_FLAGGED_APIS"] = "true"
		}

		sig := envSignature(extraEnv)
		if sig == p.lastBuildEnvSig {
			var missing []string
			for _, path := range paths {
				if !p.builtPaths[path] {
					missing = append(missing, path)
				}
			}
			if len(missing) == 0 {
				continue
			}
			paths = missing
		} else {
			p.lastBuildEnvSig = sig
			p.builtPaths = map[string]bool{}
		}

		cmd := Command("soong", "build/soong/soong_ui.bash",
			"--make-mode",
			"--soong-only",
			"TARGET_BUILD_VARIANT="+p.TargetBuildVariant,
			"TARGET_PRODUCT=mainline_sdk",
			"MODULE_BUILD_FROM_SOURCE=true",
			"out/soong/apex/depsinfo/new-allowed-deps.txt.check",
		)
		cmd.Args = append(cmd.Args, paths...)
		for _, name := range sortedKeys(extraEnv) {
			cmd.Environment.Set(name, extraEnv[name])
		}
		cmd.Stdout = p.Stdout
		cmd.Stderr = p.Stderr

		p.printCommand(extraEnv, cmd.Args)
		if err := p.Runner.Run(cmd); err != nil {
			return err
		}

		for _, path := range paths {
			p.builtPaths[path] = true
		}
	}
	return nil
}

// snapshotPaths returns the paths of the snapshot zip files that soong must
// produce for the given modules and sdk version.
func (p *SdkDistProducer) snapshotPaths(modules []*MainlineModule, sdkVersion string, include sdkTypeFilter) ([]string, error) {
	var paths []string
	for _, module := range modules {
		for _, sdkName := range module.Sdks {
			sdkType, err := SdkTypeForName(sdkName)
			if err != nil {
				return nil, err
			}
			if !include(sdkType) {
				continue
			}
			paths = append(paths, p.SnapshotPath(sdkName, sdkVersion))
		}
	}
	return paths, nil
}

// printCommand prints the environment overrides followed by the command line
// so that the build log records exactly what was run.
func (p *SdkDistProducer) printCommand(env map[string]string, args []string) {
	parts := make([]string, 0, len(env)+len(args))
	for _, name := range sortedKeys(env) {
		parts = append(parts, name+"="+env[name])
	}
	for _, arg := range args {
		parts = append(parts, proptools.ShellEscapeIncludingSpaces(arg))
	}
	fmt.Fprintln(p.Stdout, strings.Join(parts, " "))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func envSignature(env map[string]string) string {
	parts := make([]string, 0, len(env))
	for _, name := range sortedKeys(env) {
		parts = append(parts, name+"="+env[name])
	}
	return strings.Join(parts, "\x00")
}

// populateDist copies the snapshots built for the given build release into
// its dist directory, applying the prefer handling transformations on the
// way.
func (p *SdkDistProducer) populateDist(release *BuildRelease, modules []*MainlineModule, include sdkTypeFilter) error {
	sdksDistDir := filepath.Join(p.DistDir, "mainline-sdks", release.subDir)
	for _, module := range modules {
		for _, sdkVersion := range p.SdkVersions {
			for _, sdkName := range module.Sdks {
				sdkType, err := SdkTypeForName(sdkName)
				if err != nil {
					return err
				}
				if !include(sdkType) {
					continue
				}

				sdkDistDir := filepath.Join(sdksDistDir, sdkVersion, module.Apex, sdkType.name)
				sdkPath := p.SnapshotPath(sdkName, sdkVersion)
				transformations := module.Transformations(release, sdkType)
				if err := p.distSdkSnapshotZip(sdkPath, sdkDistDir, transformations); err != nil {
					return err
				}

				if release.generateGantryMetadataAndApiDiff && sdkType.providesApis {
					if err := p.generateGantryMetadataAndApiDiff(module, sdkName, sdkPath, sdkDistDir); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// distSdkSnapshotZip copies an sdk snapshot zip file into a dist directory.
//
// If no transformations are provided then this simply copies the sdk
// snapshot zip file to the dist dir. However, if transformations are
// provided then the files to be transformed are extracted from the snapshot
// zip file into a scratch directory, transformed in situ, and a new zip file
// is created in the dist directory with the original entries replaced by the
// transformed files.
func (p *SdkDistProducer) distSdkSnapshotZip(sdkPath, sdkDistDir string, transformations []FileTransformation) error {
	if err := os.MkdirAll(sdkDistDir, 0777); err != nil {
		return err
	}
	destSdkZip := filepath.Join(sdkDistDir, filepath.Base(sdkPath))
	fmt.Fprintf(p.Stdout, "Copying sdk snapshot %s to %s\n", sdkPath, destSdkZip)

	if len(transformations) == 0 {
		return copyFile(sdkPath, destSdkZip)
	}

	tmpDir, err := os.MkdirTemp("", "sdk-snapshot-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	paths := make([]string, 0, len(transformations))
	for _, transformation := range transformations {
		paths = append(paths, transformation.TargetPath())
	}

	if err := ExtractMatchingFilesFromZip(sdkPath, tmpDir, paths); err != nil {
		return err
	}
	if err := ApplyTransformations(p.Script, tmpDir, transformations); err != nil {
		return err
	}
	return CopyZipAndReplace(sdkPath, destSdkZip, tmpDir, paths)
}

// populateStubs extracts the sdk_library stub files from each module's sdk
// snapshot into DIST_DIR/stubs/<apex>.
//
// TODO(b/199759953): Remove stubs once they are no longer used by gantry.
func (p *SdkDistProducer) populateStubs(modules []*MainlineModule) error {
	for _, module := range modules {
		for _, sdkName := range module.Sdks {
			sdkType, err := SdkTypeForName(sdkName)
			if err != nil {
				return err
			}
			if !sdkType.providesApis {
				continue
			}

			sdkPath := p.SnapshotPath(sdkName, "current")
			destDir := filepath.Join(p.DistDir, "stubs", module.Apex)
			fmt.Fprintf(p.Stdout, "Extracting java_sdk_library files from %s to %s\n", sdkPath, destDir)
			if err := os.MkdirAll(destDir, 0777); err != nil {
				return err
			}
			if err := ExtractMatchingFilesFromZip(sdkPath, destDir, sdkLibraryFilePatterns); err != nil {
				return err
			}
		}
	}
	return nil
}

// gantryMetadata describes an api providing snapshot in the dist tree for
// consumption by gantry.
type gantryMetadata struct {
	Name            string `json:"name"`
	Apex            string `json:"apex"`
	SnapshotZip     string `json:"snapshot_zip"`
	ApiDiffFile     string `json:"api_diff_file"`
	ApiDiffFileSize int64  `json:"api_diff_file_size"`
}

// generateGantryMetadataAndApiDiff writes the api diff file and the gantry
// metadata file that accompany an api providing snapshot in the dist tree.
func (p *SdkDistProducer) generateGantryMetadataAndApiDiff(module *MainlineModule, sdkName, sdkPath, sdkDistDir string) error {
	apiDiffFile := filepath.Join(sdkDistDir, sdkName+"-current-api-diff.txt")
	if err := p.generateApiDiff(module, sdkPath, apiDiffFile); err != nil {
		return err
	}

	info, err := os.Stat(apiDiffFile)
	if err != nil {
		return err
	}

	metadata := gantryMetadata{
		Name:            sdkName,
		Apex:            module.Apex,
		SnapshotZip:     filepath.Base(sdkPath),
		ApiDiffFile:     filepath.Base(apiDiffFile),
		ApiDiffFileSize: info.Size(),
	}
	data, err := json.MarshalIndent(&metadata, "", "    ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(filepath.Join(sdkDistDir, "gantry-metadata.json"), data, 0666)
}

// generateApiDiff diffs the api surface files of the snapshot against the
// current finalized prebuilts of the module, when available. A missing
// reference directory produces an empty diff file.
func (p *SdkDistProducer) generateApiDiff(module *MainlineModule, sdkPath, apiDiffFile string) error {
	refDir := filepath.Join("prebuilts/module_sdk", module.ShortName(), "current/sdk_library")
	if _, err := os.Stat(refDir); err != nil {
		if os.IsNotExist(err) {
			return os.WriteFile(apiDiffFile, nil, 0666)
		}
		return err
	}

	tmpDir, err := os.MkdirTemp("", "sdk-api-diff-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	if err := ExtractMatchingFilesFromZip(sdkPath, tmpDir, []string{"sdk_library/*/*.txt"}); err != nil {
		return err
	}

	out, err := os.Create(apiDiffFile)
	if err != nil {
		return err
	}
	cmd := Command("diff", "diff", "-ru", refDir, filepath.Join(tmpDir, "sdk_library"))
	cmd.Stdout = out
	cmd.Stderr = p.Stderr
	runErr := p.Runner.Run(cmd)
	if err := out.Close(); err != nil {
		return err
	}
	if runErr != nil {
		// diff exits with 1 when the compared files differ, which is the
		// expected outcome here, not a failure.
		if cmd.ProcessState != nil && cmd.ProcessState.ExitCode() == 1 {
			return nil
		}
		return runErr
	}
	return nil
}
