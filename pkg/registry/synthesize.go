package registry

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedSignature is returned for text signatures that are not of the form name(type,...).
var ErrMalformedSignature = errors.New("malformed signature")

// Synthesize turns a text signature such as "transfer(address,uint256)" into a
// function entry whose inputs are named arg0, arg1, ... in declaration order.
// Only top-level commas split arguments, so tuple types stay intact.
func Synthesize(signature string) (Entry, error) {
	sig := strings.TrimSpace(signature)

	open := strings.IndexByte(sig, '(')
	if open < 0 {
		return Entry{}, fmt.Errorf("%w: %q has no parentheses", ErrMalformedSignature, signature)
	}

	name := strings.TrimSpace(sig[:open])
	if name == "" {
		return Entry{}, fmt.Errorf("%w: %q has an empty name", ErrMalformedSignature, signature)
	}

	closing := matchingParen(sig[open:])
	if closing < 0 {
		return Entry{}, fmt.Errorf("%w: %q has unbalanced parentheses", ErrMalformedSignature, signature)
	}

	closing += open
	if closing != len(sig)-1 {
		return Entry{}, fmt.Errorf("%w: %q has trailing text", ErrMalformedSignature, signature)
	}

	types, err := splitTopLevel(sig[open+1 : closing])
	if err != nil {
		return Entry{}, fmt.Errorf("%q: %w", signature, err)
	}

	return Entry{
		Kind:   KindFunction,
		Name:   name,
		Inputs: syntheticInputs(types),
	}, nil
}

// Synthesized reports whether e carries nothing beyond its text signature: a
// function with positional argument names and no outputs.
func Synthesized(e Entry) bool {
	if e.Kind != KindFunction || len(e.Outputs) > 0 {
		return false
	}

	for i, in := range e.Inputs {
		if in.Name != argName(i) {
			return false
		}
	}

	return true
}

// matchingParen returns the index of the parenthesis closing s[0], or -1.
func matchingParen(s string) int {
	depth := 0

	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}

	return -1
}

// splitTopLevel splits a comma separated type list, ignoring commas nested in parentheses.
func splitTopLevel(list string) ([]string, error) {
	if strings.TrimSpace(list) == "" {
		return []string{}, nil
	}

	var (
		parts []string
		depth int
		start int
	)

	push := func(end int) error {
		part := strings.TrimSpace(list[start:end])
		if part == "" {
			return fmt.Errorf("%w: empty type in %q", ErrMalformedSignature, list)
		}

		parts = append(parts, part)

		return nil
	}

	for i, r := range list {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("%w: unbalanced parentheses in %q", ErrMalformedSignature, list)
			}
		case ',':
			if depth == 0 {
				if err := push(i); err != nil {
					return nil, err
				}

				start = i + 1
			}
		}
	}

	if depth != 0 {
		return nil, fmt.Errorf("%w: unbalanced parentheses in %q", ErrMalformedSignature, list)
	}

	if err := push(len(list)); err != nil {
		return nil, err
	}

	return parts, nil
}
