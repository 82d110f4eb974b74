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
	"os/exec"
)

// Cmd is a wrapper of os/exec.Cmd that integrates with the Environment type
// for simpler environment modification of build subprocesses.
type Cmd struct {
	*exec.Cmd

	Environment *Environment

	name string
}

// Command creates a Cmd for the executable with a copy of the current
// process environment. name is a short label for the command used in error
// messages.
func Command(name string, executable string, args ...string) *Cmd {
	return &Cmd{
		Cmd:         exec.Command(executable, args...),
		Environment: OsEnvironment(),
		name:        name,
	}
}

// Name returns the label the command was created with.
func (c *Cmd) Name() string {
	return c.name
}

// Run runs the command to completion, decorating any failure with the
// command's label.
func (c *Cmd) Run() error {
	if c.Env == nil {
		c.Env = c.Environment.Environ()
	}
	err := c.Cmd.Run()
	if err == nil {
		return nil
	}
	if e, ok := err.(*exec.ExitError); ok {
		return fmt.Errorf("%s failed with: %v", c.name, e.ProcessState.String())
	}
	return fmt.Errorf("failed to run %s: %w", c.name, err)
}

// CommandRunner runs external commands on behalf of the producer. It exists
// so that tests can substitute the build invocation with a fake that writes
// the requested snapshot files.
type CommandRunner interface {
	Run(cmd *Cmd) error
}

type execRunner struct{}

func (execRunner) Run(cmd *Cmd) error {
	return cmd.Run()
}
