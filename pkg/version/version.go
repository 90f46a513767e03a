package version

import "strings"

// EmptyValue is the value we use when running a version that wasn't compiled
// by `make`. This is helpful for telling when we're running in a unit test.
const EmptyValue = "set-by-make"

// Version is the latest tag on git for releases. On non-release commits, it may
// include additional information such as the most recent commit hash.
var Version = EmptyValue

// IsRelease returns whether the binary was stamped with a version by the
// build, and isn't a development copy.
func IsRelease() bool {
	return Version != EmptyValue && !strings.HasSuffix(Version, "-dev")
}
