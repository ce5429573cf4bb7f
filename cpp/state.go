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

// state is one entry of the conditional-compilation stack. The stack always
// holds at least one entry; the bottom entry has parentActive and active both
// set.
type state struct {
	// parentActive records whether the enclosing region was live when this
	// conditional was entered. Once a branch of this conditional has been
	// taken, #elif handling clears it so no later branch can activate.
	parentActive bool

	// active reports whether the current branch evaluated true.
	active bool

	// sawElse is set once #else has been seen at this level; a second #else
	// or a late #elif is an error.
	sawElse bool
}

// pushState enters a nested conditional. The new entry starts active so that
// isActive reflects the enclosing region until the directive handler has
// evaluated its condition.
func (pp *Preprocessor) pushState() {
	pp.states = append(pp.states, state{parentActive: pp.isActive(), active: true})
}

func (pp *Preprocessor) popState() bool {
	if len(pp.states) <= 1 {
		return false
	}
	pp.states = pp.states[:len(pp.states)-1]
	return true
}

func (pp *Preprocessor) topState() *state {
	return &pp.states[len(pp.states)-1]
}

// isActive reports whether tokens read right now belong to a live branch of
// every enclosing conditional.
func (pp *Preprocessor) isActive() bool {
	s := pp.topState()
	return s.parentActive && s.active
}
