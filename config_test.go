package protoplus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yaroher/go-protoplus/schema"
)

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name    string
		param   string
		want    Config
		wantErr bool
	}{
		{name: "empty", param: "", want: Config{Salt: schema.SaltRandom}},
		{name: "deterministic salt", param: "salt=deterministic", want: Config{Salt: schema.SaltDeterministic}},
		{name: "both", param: "salt=random, deterministic=true", want: Config{Deterministic: true}},
		{name: "bad salt", param: "salt=sometimes", wantErr: true},
		{name: "bad bool", param: "deterministic=yes", wantErr: true},
		{name: "unknown key", param: "enum_as_int=true", wantErr: true},
		{name: "malformed", param: "salt", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConfig(tt.param)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOptions(t *testing.T) {
	s := NewSchema(WithSalt(schema.SaltDeterministic), WithDeterministic(true))
	assert.Equal(t, Config{Salt: schema.SaltDeterministic, Deterministic: true}, s.Config())
	assert.Equal(t, schema.SaltDeterministic, s.Context().Salt())
}
