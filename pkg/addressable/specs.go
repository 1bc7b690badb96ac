package addressable

import (
	"strings"
)

// Addresses is an ordered list of addresses, produced for address specs.
type Addresses struct {
	Dependencies []Address
}

// SiblingAddresses is the spec "dir:", every target declared in Directory.
type SiblingAddresses struct {
	Directory string
}

func (s SiblingAddresses) String() string { return s.Directory + ":" }

// DescendantAddresses is the spec "dir::", every target declared in
// Directory or below it.
type DescendantAddresses struct {
	Directory string
}

func (s DescendantAddresses) String() string { return s.Directory + "::" }

// ParseSpec parses a command line spec: "dir::", "dir:" or a single address.
// The result is a subject for engine requests.
func ParseSpec(spec string) (any, error) {
	s := strings.TrimPrefix(strings.TrimSpace(spec), "//")
	switch {
	case strings.HasSuffix(s, "::"):
		dir, err := cleanSpecPath(strings.TrimSuffix(s, "::"))
		if err != nil {
			return nil, err
		}
		return DescendantAddresses{Directory: dir}, nil
	case strings.HasSuffix(s, ":"):
		dir, err := cleanSpecPath(strings.TrimSuffix(s, ":"))
		if err != nil {
			return nil, err
		}
		return SiblingAddresses{Directory: dir}, nil
	default:
		return ParseAddress(spec)
	}
}
