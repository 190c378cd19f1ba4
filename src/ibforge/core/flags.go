package core

import (
	"strconv"

	"github.com/spf13/cobra"
)

// switchValue is a boolean flag that always takes a value, so both
// "--clean false" and "--clean=false" parse
type switchValue bool

func (v *switchValue) Set(s string) error {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*v = switchValue(b)
	return nil
}

func (v *switchValue) String() string { return strconv.FormatBool(bool(*v)) }

func (v *switchValue) Type() string { return "true|false" }

// switchFlag registers a value-taking boolean flag on cmd
func switchFlag(cmd *cobra.Command, name string, value bool, usage string) {
	v := switchValue(value)
	cmd.Flags().Var(&v, name, usage)
}
