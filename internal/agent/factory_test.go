package agent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSelectsVariant(t *testing.T) {
	tests := []struct {
		name string
		hint string
		url  string
		want string
	}{
		{name: "explicit_type_wins", hint: "jsp", url: "http://host/shell.php", want: "jsp"},
		{name: "explicit_type_case_insensitive", hint: "PHP", url: "http://host/shell", want: "php"},
		{name: "php_suffix", url: "http://host/upload/shell.php", want: "php"},
		{name: "jsp_suffix", url: "https://host/shell.jsp", want: "jsp"},
		{name: "aspx_suffix", url: "https://host/a/b/c.aspx", want: "aspx"},
		{name: "suffix_with_query", url: "http://host/shell.php?debug=1", want: "php"},
		{name: "suffix_case_insensitive", url: "http://host/SHELL.ASPX", want: "aspx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ag, err := New(tt.hint, Options{URL: tt.url})
			require.NoError(t, err)
			require.Equal(t, tt.want, ag.Identify())
		})
	}
}

func TestNewUnknownType(t *testing.T) {
	_, err := New("", Options{URL: "http://host/shell.cgi"})
	require.Error(t, err)
	require.Equal(t, KindUnknownType, KindOf(err))

	_, err = New("perl", Options{URL: "http://host/shell.php"})
	require.Error(t, err)
	require.Equal(t, KindUnknownType, KindOf(err))

	_, err = New("", Options{URL: ""})
	require.Error(t, err)
	require.Equal(t, KindUnknownType, KindOf(err))
}
