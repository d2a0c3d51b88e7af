package identifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateArk(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "simple", in: "13030/foo", want: "13030/foo"},
		{name: "uppercase folds", in: "13030/FoO", want: "13030/foo"},
		{name: "shadow naan", in: "b5060/foo", want: "b5060/foo"},
		{name: "percent encoded", in: "13030/a%3ab", want: "13030/a%3ab"},
		{name: "surrounding space", in: "  13030/foo ", want: "13030/foo"},
		{name: "short naan", in: "1303/foo", wantErr: true},
		{name: "no name", in: "13030/", wantErr: true},
		{name: "illegal char", in: "13030/a b", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateArk(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateDoi(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "canonical", in: "10.5060/FOO", want: "10.5060/FOO"},
		{name: "suffix uppercased", in: "10.5060/foo", want: "10.5060/FOO"},
		{name: "four digit naan", in: "10.1234/X", want: "10.1234/X"},
		{name: "punctuation suffix", in: "10.5060/a:b(c)", want: "10.5060/A:B(C)"},
		{name: "missing 10 prefix", in: "11.5060/FOO", wantErr: true},
		{name: "no suffix", in: "10.5060/", wantErr: true},
		{name: "space in suffix", in: "10.5060/F O", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateDoi(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateUrnUuid(t *testing.T) {
	got, err := ValidateUrnUuid("F81D4FAE-7DEC-11D0-A765-00A0C91E6BF6")
	require.NoError(t, err)
	assert.Equal(t, "f81d4fae-7dec-11d0-a765-00a0c91e6bf6", got)

	_, err = ValidateUrnUuid("f81d4fae-7dec-11d0-a765")
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	id, err := Parse("doi:10.5060/foo")
	require.NoError(t, err)
	assert.Equal(t, SchemeDoi, id.Scheme)
	assert.Equal(t, "doi:10.5060/FOO", id.Qualified())
	assert.Equal(t, "b5060/foo", id.ShadowArk())

	id, err = Parse("ark:/13030/Foo")
	require.NoError(t, err)
	assert.True(t, id.IsArk())
	assert.Equal(t, "13030/foo", id.ShadowArk())

	id, err = Parse("urn:uuid:f81d4fae-7dec-11d0-a765-00a0c91e6bf6")
	require.NoError(t, err)
	assert.Equal(t, SchemeUrnUuid, id.Scheme)
	assert.Equal(t, "97720/f81d4fae7dec11d0a76500a0c91e6bf6", id.ShadowArk())

	_, err = Parse("hdl:2027/foo")
	assert.Error(t, err)
}

func TestDoi2Shadow(t *testing.T) {
	tests := []struct {
		doi  string
		want string
	}{
		{doi: "10.5060/FOO", want: "b5060/foo"},
		{doi: "10.5060/FOO.BAR", want: "b5060/foo.bar"},
		{doi: "10.1234/A_B-C", want: "b1234/a_b-c"},
		// Characters outside the ARK charset are percent-encoded.
		{doi: "10.5060/A:B", want: "b5060/a%3ab"},
		{doi: "10.5060/A(B)", want: "b5060/a%28b%29"},
		{doi: "10.5060/A%B", want: "b5060/a%25b"},
	}
	for _, tt := range tests {
		t.Run(tt.doi, func(t *testing.T) {
			assert.Equal(t, tt.want, Doi2Shadow(tt.doi))
		})
	}
}

// Round-trip law: shadow2doi(doi2shadow(d)) == canonical(d), and the
// shadow is itself a valid ARK.
func TestDoiShadowRoundTrip(t *testing.T) {
	dois := []string{
		"10.5060/FOO",
		"10.5060/FOO.BAR/BAZ",
		"10.1234/A:B(C)=D",
		"10.99999/X%20Y",
		"10.5072/FK2TEST",
	}
	for _, doi := range dois {
		t.Run(doi, func(t *testing.T) {
			canonical, err := ValidateDoi(doi)
			require.NoError(t, err)
			shadow := Doi2Shadow(canonical)
			_, err = ValidateArk(shadow)
			require.NoError(t, err, "shadow must be a valid ARK")
			back, err := Shadow2Doi(shadow)
			require.NoError(t, err)
			assert.Equal(t, canonical, back)
		})
	}
}

func TestShadow2DoiRejectsMalformed(t *testing.T) {
	for _, shadow := range []string{"5060/foo", "b5060", "b5060/a%f"} {
		_, err := Shadow2Doi(shadow)
		assert.Error(t, err, shadow)
	}
}
