package system

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// RuntimeVersion is the embedding runtime's own semver, checked against a
// spawned actor's Props.MinRuntimeVersion constraint (SPEC_FULL.md §C: a
// remote or plugin-supplied actor can require a minimum host capability
// level before it is allowed to run).
var RuntimeVersion = semver.MustParse("1.0.0")

// checkCapability validates constraint (a semver.Constraints expression
// such as ">=1.0.0, <2.0.0") against RuntimeVersion. An empty constraint is
// always satisfied.
func checkCapability(constraint string) error {
	if constraint == "" {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("system: invalid MinRuntimeVersion constraint %q: %w", constraint, err)
	}
	if !c.Check(RuntimeVersion) {
		return fmt.Errorf("system: runtime version %s does not satisfy constraint %q", RuntimeVersion, constraint)
	}
	return nil
}
