package authz

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseModelDefault(t *testing.T) {
	m, err := ParseModel(DefaultModelText)
	require.NoError(t, err)
	require.Equal(t, []string{"sub", "obj", "act"}, m.Request)
	require.Equal(t, []string{"sub", "obj", "act"}, m.Policy)
	require.Equal(t, []string{"g"}, m.Groupings)
}

func TestParseModelAcceptsExtraGroupings(t *testing.T) {
	text := strings.Replace(DefaultModelText, "g = _, _\n", "g = _, _\ng2 = _, _\n", 1)
	m, err := ParseModel(text)
	require.NoError(t, err)
	require.Equal(t, []string{"g", "g2"}, m.Groupings)
}

func TestParseModelRejectsUnsupportedConfigurations(t *testing.T) {
	cases := map[string]struct{ from, to string }{
		"deny effect":      {"some(where (p.eft == allow))", "!some(where (p.eft == deny))"},
		"keyMatch matcher": {"r.obj == p.obj", "keyMatch(r.obj, p.obj)"},
		"domain request":   {"r = sub, obj, act", "r = sub, dom, obj, act"},
		"no roles":         {"g = _, _", ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			text := strings.Replace(DefaultModelText, tc.from, tc.to, 1)
			_, err := ParseModel(text)
			require.ErrorIs(t, err, ErrUnsupportedModel)
		})
	}
}

func TestLoadModelFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.conf")
	require.NoError(t, os.WriteFile(path, []byte(DefaultModelText), 0o600))

	m, err := LoadModel(path)
	require.NoError(t, err)
	require.NotEmpty(t, m.Matcher)

	_, err = LoadModel(filepath.Join(t.TempDir(), "missing.conf"))
	require.Error(t, err)

	m, err = LoadModel("")
	require.NoError(t, err)
	require.Equal(t, []string{"g"}, m.Groupings)
}
