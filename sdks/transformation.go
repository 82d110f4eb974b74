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
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// snapshotBuildConfigFile is the path of the build configuration file within
// an sdk snapshot zip file.
const snapshotBuildConfigFile = "Android.bp"

// preferFalseLine is the exact line that marks an unversioned module in a
// snapshot build configuration file. Its presence is the sole signal that a
// module needs the prefer property boilerplate; versioned modules never set
// prefer so are left untouched. That differentiation is a little fragile, a
// versioned module containing this exact line would be misclassified, but it
// matches what the snapshots actually contain.
const preferFalseLine = "    prefer: false,"

// moduleHeaderRegexp matches the start of a module definition, e.g.
// <module-type> {
var moduleHeaderRegexp = regexp.MustCompile("^([a-z0-9_]+) +{$")

// FileTransformation performs a transformation on a file within an sdk
// snapshot zip file.
type FileTransformation interface {
	// TargetPath returns the path of the file within the snapshot zip file.
	TargetPath() string

	// Apply rewrites the file at path in place. script is the path of the
	// tool performing the rewrite, inserted into transformed files to
	// document where the changes came from.
	Apply(script, path string) error
}

// SoongConfigBoilerplateInserter transforms an Android.bp file to add soong
// config boilerplate.
//
// The boilerplate allows the prefer setting of the modules to be controlled
// through a Soong configuration variable.
type SoongConfigBoilerplateInserter struct {
	// The path of the file within the sdk snapshot zip file.
	Path string

	// The configuration variable that will control the prefer setting.
	ConfigVar ConfigVar

	// The bp file containing the definitions of the configuration module
	// types to use in the sdk.
	ConfigBpDefFile string

	// The prefix to use for the soong config module types.
	ConfigModuleTypePrefix string
}

func (t *SoongConfigBoilerplateInserter) TargetPath() string {
	return t.Path
}

func (t *SoongConfigBoilerplateInserter) Apply(script, path string) error {
	return rewriteFileLines(path, func(lines []string) []string {
		return t.transform(script, lines)
	})
}

// lineScanState is the state of the line oriented scan over a build
// configuration file.
type lineScanState int

const (
	// Consuming the leading full line comments.
	stateHeader lineScanState = iota
	// Between module definitions, looking for the next module header.
	stateScanningTopLevel
	// Inside a module definition, looking for the terminating }.
	stateInBlock
)

func (t *SoongConfigBoilerplateInserter) transform(script string, lines []string) []string {
	// TODO(b/174997203): Remove this when we have a proper way to control
	//  prefer flags in Mainline modules.

	var headerLines []string
	var contentLines []string

	// The set of soong config module types needed by the rewritten modules.
	configModuleTypes := map[string]struct{}{}

	// The module definition currently being accumulated.
	var moduleType string
	var moduleContent []string
	var moduleUsesConfigVar bool

	state := stateHeader
	for _, line := range lines {
		if state == stateHeader {
			if strings.HasPrefix(line, "//") {
				headerLines = append(headerLines, line)
				continue
			}
			state = stateScanningTopLevel
		}

		switch state {
		case stateScanningTopLevel:
			if header := moduleHeaderRegexp.FindStringSubmatch(line); header != nil {
				moduleType = header[1]
				moduleContent = nil
				moduleUsesConfigVar = false
				state = stateInBlock
				continue
			}
			// Not the start of a module so just add the line to the output.
			contentLines = append(contentLines, line)

		case stateInBlock:
			if line == "}" {
				// The end of the module has been reached. If the module needs
				// the soong config boilerplate then switch it to the
				// corresponding soong config module type by adding the prefix
				// and record that module type as needing to be imported into
				// the bp file.
				if moduleUsesConfigVar {
					moduleType = t.ConfigModuleTypePrefix + moduleType
					configModuleTypes[moduleType] = struct{}{}
				}
				contentLines = append(contentLines, moduleType+" {")
				contentLines = append(contentLines, moduleContent...)
				contentLines = append(contentLines, "}")
				state = stateScanningTopLevel
				continue
			}

			if line != preferFalseLine {
				// The line does not indicate that the module needs the soong
				// config boilerplate so add the line and skip to the next one.
				moduleContent = append(moduleContent, line)
				continue
			}

			// Add the soong config boilerplate instead of the line:
			//     prefer: false,
			namespace := t.ConfigVar.Namespace
			name := t.ConfigVar.Name
			moduleContent = append(moduleContent,
				fmt.Sprintf("    // Do not prefer prebuilt if SOONG_CONFIG_%s_%s is true.", namespace, name),
				"    prefer: true,",
				"    soong_config_variables: {",
				fmt.Sprintf("        %s: {", name),
				"            prefer: false,",
				"        },",
				"    },",
			)
			moduleUsesConfigVar = true
		}
	}

	// Add the soong_config_module_type_import module definition that imports
	// the soong config module types into this bp file to the header lines so
	// that they appear before any uses. Nothing is added if no module was
	// rewritten, which also makes reapplying the transformation to its own
	// output a no-op.
	if len(configModuleTypes) > 0 {
		moduleTypes := make([]string, 0, len(configModuleTypes))
		for moduleType := range configModuleTypes {
			moduleTypes = append(moduleTypes, moduleType)
		}
		sort.Strings(moduleTypes)

		headerLines = append(headerLines,
			"",
			fmt.Sprintf("// Soong config variable stanza added by %s.", script),
			"soong_config_module_type_import {",
			fmt.Sprintf("    from: %q,", t.ConfigBpDefFile),
			"    module_types: [",
		)
		for _, moduleType := range moduleTypes {
			headerLines = append(headerLines, fmt.Sprintf("        %q,", moduleType))
		}
		headerLines = append(headerLines,
			"    ],",
			"}",
			"",
		)
	}

	return append(headerLines, contentLines...)
}

// UseSourceConfigVarTransformation replaces the prefer property of each
// unversioned module with a use_source_config_var property that binds prefer
// to a Soong configuration variable.
//
// Unlike SoongConfigBoilerplateInserter this needs no knowledge of the module
// structure, the property is natively supported by the build releases that
// use it, so the rewrite is a single pass over the lines.
type UseSourceConfigVarTransformation struct {
	// The path of the file within the sdk snapshot zip file.
	Path string

	// The configuration variable that will control the prefer setting.
	ConfigVar ConfigVar
}

func (t *UseSourceConfigVarTransformation) TargetPath() string {
	return t.Path
}

func (t *UseSourceConfigVarTransformation) Apply(script, path string) error {
	return rewriteFileLines(path, func(lines []string) []string {
		return t.transform(lines)
	})
}

func (t *UseSourceConfigVarTransformation) transform(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line != preferFalseLine {
			out = append(out, line)
			continue
		}
		out = append(out,
			fmt.Sprintf("    // Do not prefer prebuilt if SOONG_CONFIG_%s_%s is true.", t.ConfigVar.Namespace, t.ConfigVar.Name),
			"    use_source_config_var: {",
			fmt.Sprintf("        config_namespace: %q,", t.ConfigVar.Namespace),
			fmt.Sprintf("        var_name: %q,", t.ConfigVar.Name),
			"    },",
		)
	}
	return out
}

// rewriteFileLines reads the file at path, applies transform to its lines and
// overwrites the file with the result.
func rewriteFileLines(path string, transform func(lines []string) []string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	lines = transform(lines)
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0666)
}

// ApplyTransformations applies each transformation to its target file within
// dir, restoring the file's original modification timestamp afterwards so
// that later repackaging of the file is independent of when the rewrite ran.
func ApplyTransformations(script, dir string, transformations []FileTransformation) error {
	for _, transformation := range transformations {
		path := filepath.Join(dir, transformation.TargetPath())

		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		modified := info.ModTime()

		if err := transformation.Apply(script, path); err != nil {
			return fmt.Errorf("failed to transform %s: %w", path, err)
		}

		if err := os.Chtimes(path, modified, modified); err != nil {
			return err
		}
	}
	return nil
}
