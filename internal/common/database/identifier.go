package database

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// Table and index names are interpolated into DDL, so they are restricted to a
// conservative identifier grammar rather than relying on quoting.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var reservedKeywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "TABLE": true, "USER": true,
	"ORDER": true, "GROUP": true, "INSERT": true, "UPDATE": true, "DELETE": true,
	"DROP": true, "CREATE": true, "ALTER": true, "INDEX": true, "PRIMARY": true,
	"KEY": true, "FOREIGN": true, "NOT": true, "NULL": true, "JOIN": true,
	"VIEW": true,
}

// ValidateIdentifier returns an error unless s is usable as a schema or table
// name: starts with a letter or underscore followed by letters, digits or
// underscores, is at most 30 characters, and is not a common SQL keyword.
func ValidateIdentifier(s string) error {
	if s == "" || len(s) > 30 {
		return errors.Errorf("%q is not a valid identifier: must be 1-30 characters", s)
	}
	if !identifierPattern.MatchString(s) {
		return errors.Errorf("%q is not a valid identifier", s)
	}
	if reservedKeywords[strings.ToUpper(s)] {
		return errors.Errorf("%q is a reserved SQL keyword", s)
	}
	return nil
}
