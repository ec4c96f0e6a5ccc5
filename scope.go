package weave

import (
	"fmt"
	"regexp"
	"strings"
)

// validNameRe is the collection name grammar, used both to
// validate a bare name and to validate the tail of a scope string.
var validNameRe = regexp.MustCompile(`^[A-Za-z_][0-9A-Za-z_]{0,254}$`)

// IsValidName reports whether s is a syntactically valid collection
// name, grounded on thingsdb/util/is_name.py.
func IsValidName(s string) bool {
	return validNameRe.MatchString(s)
}

// ParseScope extracts the collection name from a scope string such as
// "//Stuff" or "@collection:Stuff", grounded on thingsdb/util/cnscope.py.
// It returns an error if the scope carries no parseable collection name
// or if that name fails IsValidName.
func ParseScope(scope string) (string, error) {
	var name string
	switch {
	case strings.Contains(scope, ":"):
		parts := strings.Split(scope, ":")
		name = parts[len(parts)-1]
	case strings.Contains(scope, "/"):
		parts := strings.Split(scope, "/")
		name = parts[len(parts)-1]
	}
	if name == "" || !IsValidName(name) {
		return "", fmt.Errorf("weave: invalid (collection) scope name: %s", scope)
	}
	return name, nil
}
