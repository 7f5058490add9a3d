package version

import "fmt"

var (
	version string
	build   string
)

// Version returns version defined by -ldflags, "dev" when unset
func Version() string {
	if version == "" {
		return "dev"
	}
	return version
}

// Build returns build defined by -ldflags
func Build() string {
	return build
}

// UserAgent returns the product token used in logs and canned responses
func UserAgent() string {
	if build == "" {
		return fmt.Sprintf("loopproxy/%s", Version())
	}
	return fmt.Sprintf("loopproxy/%s (%s)", Version(), build)
}
