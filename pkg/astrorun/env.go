// Copyright 2025 Tom Barlow
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

package astrorun

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable is a tagged union of string, number, and boolean,
// matching the shapes a YAML scalar under `environments:` may take.
type EnvironmentVariable struct {
	str     string
	num     float64
	boolean bool
	kind    envKind
}

type envKind int

const (
	envString envKind = iota
	envNumber
	envBool
)

// StringEnv builds a string-valued EnvironmentVariable.
func StringEnv(v string) EnvironmentVariable {
	return EnvironmentVariable{str: v, kind: envString}
}

// NumberEnv builds a number-valued EnvironmentVariable.
func NumberEnv(v float64) EnvironmentVariable {
	return EnvironmentVariable{num: v, kind: envNumber}
}

// BoolEnv builds a boolean-valued EnvironmentVariable.
func BoolEnv(v bool) EnvironmentVariable {
	return EnvironmentVariable{boolean: v, kind: envBool}
}

// IsString reports whether the value was declared as a string.
func (e EnvironmentVariable) IsString() bool { return e.kind == envString }

// IsNumber reports whether the value was declared as a number.
func (e EnvironmentVariable) IsNumber() bool { return e.kind == envNumber }

// IsBool reports whether the value was declared as a boolean.
func (e EnvironmentVariable) IsBool() bool { return e.kind == envBool }

// String renders the value in the textual form a process environment
// variable expects, regardless of its declared kind.
func (e EnvironmentVariable) String() string {
	switch e.kind {
	case envNumber:
		return strconv.FormatFloat(e.num, 'f', -1, 64)
	case envBool:
		return strconv.FormatBool(e.boolean)
	default:
		return e.str
	}
}

// UnmarshalYAML decodes a scalar node into the appropriate tagged variant.
func (e *EnvironmentVariable) UnmarshalYAML(node *yaml.Node) error {
	var asBool bool
	if err := node.Decode(&asBool); err == nil {
		*e = BoolEnv(asBool)
		return nil
	}

	var asNumber float64
	if err := node.Decode(&asNumber); err == nil {
		*e = NumberEnv(asNumber)
		return nil
	}

	var asString string
	if err := node.Decode(&asString); err == nil {
		*e = StringEnv(asString)
		return nil
	}

	return fmt.Errorf("astrorun: environment value must be a string, number, or boolean")
}

// MarshalYAML encodes the EnvironmentVariable back to its native scalar type.
func (e EnvironmentVariable) MarshalYAML() (interface{}, error) {
	switch e.kind {
	case envNumber:
		return e.num, nil
	case envBool:
		return e.boolean, nil
	default:
		return e.str, nil
	}
}

// EnvironmentVariables is a named environment map keyed by variable name.
type EnvironmentVariables map[string]EnvironmentVariable
