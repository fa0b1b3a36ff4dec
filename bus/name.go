// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import "strings"

const (
	// ReservedPrefix starts every name the bus generates itself.
	// Sockets may listen for such names but may not send them or bind
	// as their replier.
	ReservedPrefix = "$.KBUS."

	// DefaultMaxNameLength bounds name length when a device does not
	// configure its own limit.
	DefaultMaxNameLength = 1000

	// WildcardAny, as the last token of a binding, matches one or more
	// further tokens.
	WildcardAny = "*"

	// WildcardOne, as the last token of a binding, matches exactly one
	// further token.
	WildcardOne = "%"
)

// ValidateName checks name against the message name syntax: tokens of
// ASCII letters and digits separated by single dots, optionally led by
// a "$" token. When wildcard is true the final token may also be "*" or
// "%", which is how binding names are checked; names being sent never
// contain wildcards.
//
// A name longer than maxLength fails with ErrNameTooLong; any other
// violation fails with ErrMalformedName. A maxLength of zero selects
// DefaultMaxNameLength.
func ValidateName(name string, maxLength int, wildcard bool) error {
	if maxLength <= 0 {
		maxLength = DefaultMaxNameLength
	}
	if name == "" {
		return errorf(CodeMalformedName, "empty name")
	}
	if len(name) > maxLength {
		return errorf(CodeNameTooLong, "%d bytes, limit %d", len(name), maxLength)
	}

	tokens := strings.Split(name, ".")
	last := len(tokens) - 1
	for index, token := range tokens {
		switch {
		case token == "":
			return errorf(CodeMalformedName, "%q has an empty token", name)
		case token == "$" && index == 0:
			if last == 0 {
				return errorf(CodeMalformedName, "%q has no tokens after $", name)
			}
		case isWildcardToken(token) && index == last && index > 0:
			if !wildcard {
				return errorf(CodeMalformedName, "%q: wildcards may only be bound, not sent", name)
			}
		case !isAlphanumeric(token):
			return errorf(CodeMalformedName, "%q: token %q is not alphanumeric", name, token)
		}
	}
	return nil
}

// IsWildcard reports whether name ends in a wildcard token.
func IsWildcard(name string) bool {
	return strings.HasSuffix(name, "."+WildcardAny) || strings.HasSuffix(name, "."+WildcardOne)
}

// IsReserved reports whether name lies in the bus-generated namespace.
func IsReserved(name string) bool {
	return strings.HasPrefix(name, ReservedPrefix)
}

// MatchName reports whether a message called name is delivered through
// a binding called binding.
func MatchName(binding, name string) bool {
	if binding == name {
		return true
	}
	prefix, ok := strings.CutSuffix(binding, "."+WildcardAny)
	if ok {
		return strings.HasPrefix(name, prefix+".")
	}
	prefix, ok = strings.CutSuffix(binding, "."+WildcardOne)
	if ok {
		rest, found := strings.CutPrefix(name, prefix+".")
		return found && rest != "" && !strings.Contains(rest, ".")
	}
	return false
}

// candidateBindings lists, most specific first, every binding name
// that matches the concrete name: the name itself, its "%" parent, then
// "*" bindings from the longest prefix to the shortest. The first entry
// present in the replier table is the one that answers.
func candidateBindings(name string) []string {
	candidates := []string{name}
	index := strings.LastIndexByte(name, '.')
	if index < 0 {
		return candidates
	}
	candidates = append(candidates, name[:index+1]+WildcardOne)
	for index >= 0 {
		candidates = append(candidates, name[:index+1]+WildcardAny)
		index = strings.LastIndexByte(name[:index], '.')
	}
	return candidates
}

func isWildcardToken(token string) bool {
	return token == WildcardAny || token == WildcardOne
}

func isAlphanumeric(token string) bool {
	for i := 0; i < len(token); i++ {
		c := token[i]
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9') {
			return false
		}
	}
	return true
}
