package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "mintbind.io/mintbind/internal/pkg/errors"
)

func TestParseMetadataBody(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want map[string]string
	}{
		{name: "empty", in: "", want: map[string]string{}},
		{name: "simple",
			in:   "erc.who: Smith, J.\nerc.what: a thing\n",
			want: map[string]string{"erc.who": "Smith, J.", "erc.what": "a thing"}},
		{name: "comments and blanks skipped",
			in:   "# a comment\n\nerc.who: Smith\n",
			want: map[string]string{"erc.who": "Smith"}},
		{name: "continuation lines",
			in:   "erc.what: first\n  second\n\tthird\n",
			want: map[string]string{"erc.what": "first\nsecond\nthird"}},
		{name: "crlf",
			in:   "erc.who: Smith\r\nerc.what: x\r\n",
			want: map[string]string{"erc.who": "Smith", "erc.what": "x"}},
		{name: "value containing colon",
			in:   "_target: http://example.com/x\n",
			want: map[string]string{"_target": "http://example.com/x"}},
		{name: "line without colon ignored",
			in:   "not a pair\nerc.who: Smith\n",
			want: map[string]string{"erc.who": "Smith"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMetadataBody(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMetadataBodyRejectsEmptyName(t *testing.T) {
	for _, in := range []string{": orphan value\n", "  : spaces only\nerc.who: Smith\n"} {
		_, err := parseMetadataBody(in)
		require.Error(t, err)
		appErr, ok := apperrors.IsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.CodeEmptyElement, appErr.Code)
	}
}

func TestFormatMetadataBody(t *testing.T) {
	out := formatMetadataBody(map[string]string{
		"erc.who":  "Smith",
		"erc.what": "line one\nline two",
	})
	assert.Equal(t, "erc.what: line one\n  line two\nerc.who: Smith\n", out)
}

func TestParseFormatRoundTrip(t *testing.T) {
	md := map[string]string{
		"erc.who":  "Smith, J.",
		"erc.what": "first\nsecond",
		"_target":  "http://example.com/x",
	}
	got, err := parseMetadataBody(formatMetadataBody(md))
	require.NoError(t, err)
	assert.Equal(t, md, got)
}
