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

// mainline_modules_sdks builds the mainline module sdk snapshots for each
// supported build release and lays them out into the DIST_DIR directory tree
// consumed by prebuilt drops.
//
// If the environment variable TARGET_BUILD_APPS is nonempty then only the
// SDKs for the APEXes in it are built, otherwise all configured SDKs are
// built.
package main

import (
	"fmt"
	"log"
	"os"

	"packages/modules/common/sdks"
)

func main() {
	log.SetFlags(0)

	if _, err := os.Stat("build/make/core/Makefile"); err != nil {
		log.Fatal("This tool must be run from the top of the tree.")
	}

	producer, modules, err := configure()
	if err != nil {
		log.Fatal(err)
	}

	if err := producer.ProduceDist(modules); err != nil {
		log.Fatal(err)
	}
}

// configure creates the producer and the module set from the environment
// variables set by the calling mainline_modules_sdks.sh.
func configure() (*sdks.SdkDistProducer, []*sdks.MainlineModule, error) {
	outDir := os.Getenv("OUT_DIR")
	if outDir == "" {
		return nil, nil, fmt.Errorf("OUT_DIR must be set")
	}
	distDir := os.Getenv("DIST_DIR")
	if distDir == "" {
		return nil, nil, fmt.Errorf("DIST_DIR must be set")
	}

	producer := sdks.NewSdkDistProducer(outDir, distDir)

	// Unless explicitly specified in the calling environment build with
	// TARGET_BUILD_VARIANT=user.
	if variant := os.Getenv("TARGET_BUILD_VARIANT"); variant != "" {
		producer.TargetBuildVariant = variant
	}

	if spec := os.Getenv("SDK_BUILD_RELEASES"); spec != "" {
		set, err := producer.Releases.ParseBuildReleaseSet(spec)
		if err != nil {
			return nil, nil, err
		}
		producer.ReleaseFilter = set
	}

	modules := sdks.DefaultModules(producer.Releases)
	modules = sdks.FilterModules(modules, os.Getenv("TARGET_BUILD_APPS"))
	return producer, modules, nil
}
