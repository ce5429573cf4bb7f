// Copyright 2025 EngFlow Inc. All rights reserved.
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

// cpreproc is a stand-alone driver for the cpp preprocessing library: it
// preprocesses the given files in order and writes the reconstructed text to
// stdout.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/EngFlow/cpreproc/cpp"
)

var version = "0.1.0"

var (
	includePaths   []string
	systemPaths    []string
	frameworkPaths []string
	includeGlobs   []string
	defineFlags    []string
	undefineFlags  []string
	featureFlags   []string
	warningFlags   []string
	archivePath    string
	configPath     string
	verbose        bool
)

// fileConfig mirrors the YAML configuration file: predefines plus search
// paths, merged before the command-line flags.
type fileConfig struct {
	Defines        map[string]string `yaml:"defines"`
	IncludePaths   []string          `yaml:"includePaths"`
	SystemPaths    []string          `yaml:"systemPaths"`
	FrameworkPaths []string          `yaml:"frameworkPaths"`
	Features       []string          `yaml:"features"`
	Warnings       []string          `yaml:"warnings"`
}

func loadConfig(pp *cpp.Preprocessor, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var conf fileConfig
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return fmt.Errorf("failed to parse %s: %v", path, err)
	}
	for name, value := range conf.Defines {
		if err := pp.Define(name + "=" + value); err != nil {
			return err
		}
	}
	for _, dir := range conf.IncludePaths {
		pp.AddQuoteIncludePath(dir)
	}
	for _, dir := range conf.SystemPaths {
		pp.AddSystemIncludePath(dir)
	}
	for _, dir := range conf.FrameworkPaths {
		pp.AddFrameworkPath(dir)
	}
	featureFlags = append(conf.Features, featureFlags...)
	warningFlags = append(conf.Warnings, warningFlags...)
	return nil
}

func configure(pp *cpp.Preprocessor) error {
	if configPath != "" {
		if err := loadConfig(pp, configPath); err != nil {
			return err
		}
	}
	for _, name := range featureFlags {
		f, ok := cpp.LookupFeature(name)
		if !ok {
			return fmt.Errorf("unknown feature %q", name)
		}
		pp.AddFeature(f)
	}
	for _, name := range warningFlags {
		w, ok := cpp.LookupWarning(name)
		if !ok {
			return fmt.Errorf("unknown warning %q", name)
		}
		pp.AddWarning(w)
	}
	if archivePath != "" {
		fs, err := cpp.OpenArchiveFileSystem(archivePath)
		if err != nil {
			return err
		}
		pp.SetFileSystem(fs)
	}
	for _, dir := range includePaths {
		pp.AddQuoteIncludePath(dir)
	}
	for _, dir := range systemPaths {
		pp.AddSystemIncludePath(dir)
	}
	for _, dir := range frameworkPaths {
		pp.AddFrameworkPath(dir)
	}
	for _, pattern := range includeGlobs {
		if err := pp.AddSearchPathGlob(pattern, false); err != nil {
			return err
		}
	}
	for _, def := range defineFlags {
		if err := pp.Define(def); err != nil {
			return err
		}
	}
	for _, name := range undefineFlags {
		if err := pp.Undefine(name); err != nil {
			return err
		}
	}
	return nil
}

func run(cmd *cobra.Command, args []string) error {
	pp := cpp.NewPreprocessor()
	defer pp.Close()
	if err := configure(pp); err != nil {
		return err
	}
	pp.SetListener(cpp.NewDefaultListener(cmd.ErrOrStderr(), verbose || pp.HasFeature(cpp.FeatureDebug)))
	for _, path := range args {
		if path == "-" {
			pp.AddInput(cpp.NewLexerSource(os.Stdin, "<stdin>"))
			continue
		}
		if err := pp.AddInputFile(path); err != nil {
			return err
		}
	}
	_, err := io.Copy(cmd.OutOrStdout(), cpp.NewReader(pp))
	return err
}

// resetOptions clears the bound flag variables so repeated command
// construction (notably in tests) starts from defaults.
func resetOptions() {
	includePaths, systemPaths, frameworkPaths, includeGlobs = nil, nil, nil, nil
	defineFlags, undefineFlags, featureFlags, warningFlags = nil, nil, nil, nil
	archivePath, configPath = "", ""
	verbose = false
}

func newRootCommand() *cobra.Command {
	resetOptions()
	cmd := &cobra.Command{
		Use:           "cpreproc [flags] file...",
		Short:         "Streaming C preprocessor",
		Version:       version,
		Args:          cobra.MinimumNArgs(1),
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	flags := cmd.Flags()
	flags.StringArrayVarP(&includePaths, "include-dir", "I", nil, "add a quote include search directory")
	flags.StringArrayVar(&systemPaths, "isystem", nil, "add a system include search directory")
	flags.StringArrayVarP(&frameworkPaths, "framework-dir", "F", nil, "add a framework search directory")
	flags.StringArrayVar(&includeGlobs, "include-glob", nil, "add include directories matching a ** glob pattern")
	flags.StringArrayVarP(&defineFlags, "define", "D", nil, "predefine a macro (NAME or NAME=VALUE)")
	flags.StringArrayVarP(&undefineFlags, "undefine", "U", nil, "undefine a macro")
	flags.StringArrayVar(&featureFlags, "feature", nil, "enable a feature (digraphs, linemarkers, includenext, keepcomments, keepallcomments, debug, csyntax)")
	flags.StringArrayVarP(&warningFlags, "warn", "W", nil, "enable a warning (error, endif-labels, undef)")
	flags.StringVar(&archivePath, "sysroot-archive", "", "resolve includes inside a tar.xz header bundle")
	flags.StringVar(&configPath, "config", "", "load defines and search paths from a YAML file")
	flags.BoolVarP(&verbose, "verbose", "v", false, "report source changes to stderr")
	flags.SetNormalizeFunc(normalizeFlagName)
	return cmd
}

// normalizeFlagName lets underscore spellings (include_dir) resolve to the
// dashed flag names.
func normalizeFlagName(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
