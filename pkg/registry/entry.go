package registry

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Kind is the ABI element type.
type Kind string

const (
	KindFunction Kind = "function"
	KindEvent    Kind = "event"
)

// Input is one argument of an ABI element, in Solidity ABI JSON form.
type Input struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	InternalType string  `json:"internalType,omitempty"`
	Indexed      bool    `json:"indexed,omitempty"`
	Components   []Input `json:"components,omitempty"`
}

// Entry is a single ABI element. Entries serialize to standard ABI JSON, so a
// list of entries is a valid contract ABI.
type Entry struct {
	Kind            Kind    `json:"type"`
	Name            string  `json:"name"`
	Inputs          []Input `json:"inputs"`
	Outputs         []Input `json:"outputs,omitempty"`
	Anonymous       bool    `json:"anonymous,omitempty"`
	StateMutability string  `json:"stateMutability,omitempty"`
}

// ParseABI decodes an ABI JSON document into entries. Elements of any type are
// kept; the registry ignores the ones it cannot route (constructors, errors, ...).
func ParseABI(data []byte) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("malformed abi: %w", err)
	}

	for i := range entries {
		// A missing type defaults to function in ABI JSON.
		if entries[i].Kind == "" {
			entries[i].Kind = KindFunction
		}
	}

	return entries, nil
}

// normalizeInputs rewrites parenthesised tuple types, e.g. "(uint256,address)[]",
// into "tuple[]" with components, and names anonymous tuple components.
func normalizeInputs(inputs []Input) ([]Input, error) {
	out := make([]Input, 0, len(inputs))

	for _, in := range inputs {
		in.Type = strings.TrimSpace(in.Type)

		if strings.HasPrefix(in.Type, "(") {
			closing := matchingParen(in.Type)
			if closing < 0 {
				return nil, fmt.Errorf("%w: unbalanced tuple type %q", ErrMalformedSignature, in.Type)
			}

			types, err := splitTopLevel(in.Type[1:closing])
			if err != nil {
				return nil, err
			}

			in.Components = syntheticInputs(types)
			in.Type = "tuple" + in.Type[closing+1:]
		}

		if len(in.Components) > 0 {
			components := make([]Input, len(in.Components))
			copy(components, in.Components)

			for i := range components {
				if components[i].Name == "" {
					components[i].Name = argName(i)
				}
			}

			components, err := normalizeInputs(components)
			if err != nil {
				return nil, err
			}

			in.Components = components
		}

		out = append(out, in)
	}

	return out, nil
}

func toMarshaling(inputs []Input) []abi.ArgumentMarshaling {
	if len(inputs) == 0 {
		return nil
	}

	out := make([]abi.ArgumentMarshaling, 0, len(inputs))

	for _, in := range inputs {
		out = append(out, abi.ArgumentMarshaling{
			Name:         in.Name,
			Type:         in.Type,
			InternalType: in.InternalType,
			Components:   toMarshaling(in.Components),
			Indexed:      in.Indexed,
		})
	}

	return out
}

func toArguments(inputs []Input) (abi.Arguments, error) {
	normalized, err := normalizeInputs(inputs)
	if err != nil {
		return nil, err
	}

	args := make(abi.Arguments, 0, len(normalized))

	for _, in := range normalized {
		typ, err := abi.NewType(in.Type, in.InternalType, toMarshaling(in.Components))
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", in.Name, err)
		}

		args = append(args, abi.Argument{Name: in.Name, Type: typ, Indexed: in.Indexed})
	}

	return args, nil
}

func argName(i int) string {
	return fmt.Sprintf("arg%d", i)
}

func syntheticInputs(types []string) []Input {
	inputs := make([]Input, 0, len(types))

	for i, t := range types {
		inputs = append(inputs, Input{Name: argName(i), Type: t})
	}

	return inputs
}
