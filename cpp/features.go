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

package cpp

// Feature is a bitset of optional preprocessor behaviours.
type Feature uint32

const (
	// FeatureDigraphs maps <: :> <% %> %: %:%: onto [ ] { } # ##.
	FeatureDigraphs Feature = 1 << iota

	// FeatureLineMarkers emits a LineMarker token at every entry to and
	// return from a file-backed source.
	FeatureLineMarkers

	// FeatureIncludeNext enables the #include_next directive.
	FeatureIncludeNext

	// FeatureKeepComments passes comments through to the output instead of
	// replacing them with whitespace.
	FeatureKeepComments

	// FeatureKeepAllComments passes comments through even inside skipped
	// conditional branches.
	FeatureKeepAllComments

	// FeatureDebug makes the default listener report source-change events.
	FeatureDebug

	// FeatureCSyntax additionally surfaces lexically invalid tokens to the
	// listener as errors.
	FeatureCSyntax
)

// Warning is a bitset of optional diagnostics.
type Warning uint32

const (
	// WarningError promotes every warning to an error.
	WarningError Warning = 1 << iota

	// WarningEndifLabels warns about trailing tokens on #endif lines.
	WarningEndifLabels

	// WarningUndef warns when an undefined identifier evaluates to 0 inside
	// a #if expression.
	WarningUndef
)

func (f Feature) has(flag Feature) bool { return f&flag != 0 }
func (w Warning) has(flag Warning) bool { return w&flag != 0 }

var featureNames = map[string]Feature{
	"digraphs":        FeatureDigraphs,
	"linemarkers":     FeatureLineMarkers,
	"includenext":     FeatureIncludeNext,
	"keepcomments":    FeatureKeepComments,
	"keepallcomments": FeatureKeepAllComments,
	"debug":           FeatureDebug,
	"csyntax":         FeatureCSyntax,
}

var warningNames = map[string]Warning{
	"error":        WarningError,
	"endif-labels": WarningEndifLabels,
	"undef":        WarningUndef,
}

// LookupFeature resolves a lower-case feature name as used by configuration
// files and __has_feature.
func LookupFeature(name string) (Feature, bool) {
	f, ok := featureNames[name]
	return f, ok
}

// LookupWarning resolves a lower-case warning name.
func LookupWarning(name string) (Warning, bool) {
	w, ok := warningNames[name]
	return w, ok
}
