package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesize(t *testing.T) {
	entry, err := Synthesize("transfer(address,uint256)")
	require.NoError(t, err)

	assert.Equal(t, Entry{
		Kind: KindFunction,
		Name: "transfer",
		Inputs: []Input{
			{Name: "arg0", Type: "address"},
			{Name: "arg1", Type: "uint256"},
		},
	}, entry)
}

func TestSynthesizeShapes(t *testing.T) {
	tests := []struct {
		name      string
		signature string
		wantName  string
		wantTypes []string
	}{
		{name: "no arguments", signature: "pause()", wantName: "pause", wantTypes: []string{}},
		{name: "nested tuple", signature: "swap((uint256,(address,bytes)),bool)", wantName: "swap", wantTypes: []string{"(uint256,(address,bytes))", "bool"}},
		{name: "tuple array", signature: "multicall((address,bytes)[])", wantName: "multicall", wantTypes: []string{"(address,bytes)[]"}},
		{name: "surrounding whitespace", signature: " f(uint8, bytes32) ", wantName: "f", wantTypes: []string{"uint8", "bytes32"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, err := Synthesize(tt.signature)
			require.NoError(t, err)

			assert.Equal(t, tt.wantName, entry.Name)

			types := make([]string, 0, len(entry.Inputs))
			for i, in := range entry.Inputs {
				assert.Equal(t, argName(i), in.Name)

				types = append(types, in.Type)
			}

			assert.Equal(t, tt.wantTypes, types)
		})
	}
}

func TestSynthesizeMalformed(t *testing.T) {
	for _, sig := range []string{
		"",
		"transfer",
		"(address)",
		"f(address",
		"f(address))",
		"f(a)(b)",
		"f(a,,b)",
		"f(a,)",
	} {
		t.Run(sig, func(t *testing.T) {
			_, err := Synthesize(sig)
			assert.ErrorIs(t, err, ErrMalformedSignature)
		})
	}
}
