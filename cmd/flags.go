package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/pflag"
)

// enumValue is a string flag restricted to a fixed set of choices.
type enumValue struct {
	value   string
	allowed []string
}

var _ pflag.Value = &enumValue{}

func newEnumValue(def string, allowed []string) *enumValue {
	return &enumValue{value: def, allowed: allowed}
}

func (e *enumValue) String() string {
	return e.value
}

func (e *enumValue) Set(v string) error {
	if !slices.Contains(e.allowed, v) {
		return fmt.Errorf("must be one of %s", strings.Join(e.allowed, ", "))
	}
	e.value = v
	return nil
}

// Type shows the choices in usage text, e.g. {scaled,smoothed}.
func (e *enumValue) Type() string {
	return "{" + strings.Join(e.allowed, ",") + "}"
}
