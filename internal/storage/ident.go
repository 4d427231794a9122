package storage

import "regexp"

// identPattern is the only shape a table or column name may take. Every
// backend validates against this before building a query, which is what
// makes identifier injection structurally impossible rather than merely
// escaped (§4.2, §8 property 6).
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier returns a ValidationError if name is not a legal
// table/column identifier.
func ValidateIdentifier(name string) error {
	if !identPattern.MatchString(name) {
		return newValidationError("invalid identifier %q: must match [A-Za-z_][A-Za-z0-9_]*", name)
	}
	return nil
}

// ValidateIdentifiers validates a batch, returning the first failure.
func ValidateIdentifiers(names ...string) error {
	for _, n := range names {
		if err := ValidateIdentifier(n); err != nil {
			return err
		}
	}
	return nil
}

// parseOrderBy parses "column (ASC|DESC)?" per spec.md §4.2. Anything else
// is dropped (defense in depth) by returning ok=false — callers should
// simply omit ordering rather than surface an error.
func parseOrderBy(spec string) (column string, desc bool, ok bool) {
	if spec == "" {
		return "", false, false
	}
	fields := splitFields(spec)
	switch len(fields) {
	case 1:
		column = fields[0]
	case 2:
		column = fields[0]
		switch fields[1] {
		case "ASC", "asc":
			desc = false
		case "DESC", "desc":
			desc = true
		default:
			return "", false, false
		}
	default:
		return "", false, false
	}
	if ValidateIdentifier(column) != nil {
		return "", false, false
	}
	return column, desc, true
}

func splitFields(s string) []string {
	var fields []string
	start := -1
	for i, r := range s {
		if r == ' ' || r == '\t' {
			if start >= 0 {
				fields = append(fields, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		fields = append(fields, s[start:])
	}
	return fields
}
