package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/authz"
)

func newAuthzCLI(t *testing.T) *AuthzCLI {
	t.Helper()
	engine, err := authz.Open(context.Background(), authz.Options{Adapter: authz.NewMemoryAdapter("cli"), Namespace: "cli"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	cli, err := NewAuthzCLI(engine)
	require.NoError(t, err)
	return cli
}

func run(t *testing.T, cli *AuthzCLI, args ...string) (int, string, string) {
	t.Helper()
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	code := cli.Run(context.Background(), args, AuthzOptions{Stdout: stdout, Stderr: stderr})
	return code, stdout.String(), stderr.String()
}

func TestAuthzCommandGrantAssignEnforce(t *testing.T) {
	cli := newAuthzCLI(t)

	code, out, _ := run(t, cli, "grant", "admin", "system")
	require.Equal(t, ExitOK, code)
	require.Equal(t, "changed\n", out)

	code, out, _ = run(t, cli, "grant", "admin", "system")
	require.Equal(t, ExitOK, code)
	require.Equal(t, "unchanged\n", out)

	code, _, _ = run(t, cli, "assign", "alice", "admin")
	require.Equal(t, ExitOK, code)

	code, out, _ = run(t, cli, "-json", "enforce", "alice", "system")
	require.Equal(t, ExitOK, code)
	var decision authz.Decision
	require.NoError(t, json.Unmarshal([]byte(out), &decision))
	require.True(t, decision.Allowed)
	require.Equal(t, "admin", decision.MatchedSubject)

	code, out, _ = run(t, cli, "enforce", "bob", "system")
	require.Equal(t, ExitDenied, code)
	require.Contains(t, out, "deny")
}

func TestAuthzCommandListings(t *testing.T) {
	cli := newAuthzCLI(t)
	run(t, cli, "create-role", "auditor")
	run(t, cli, "assign", "carol", "auditor")
	run(t, cli, "grant", "auditor", "reports")

	code, out, _ := run(t, cli, "-json", "roles")
	require.Equal(t, ExitOK, code)
	var roles []string
	require.NoError(t, json.Unmarshal([]byte(out), &roles))
	require.Equal(t, []string{"auditor"}, roles)

	_, out, _ = run(t, cli, "users", "auditor")
	require.Equal(t, "carol\n", out)

	_, out, _ = run(t, cli, "menus", "carol")
	require.Contains(t, out, "reports")

	code, out, _ = run(t, cli, "-json", "menus", "nobody")
	require.Equal(t, ExitOK, code)
	require.Equal(t, "[]\n", out)

	code, _, _ = run(t, cli, "delete-role", "auditor")
	require.Equal(t, ExitOK, code)
	_, out, _ = run(t, cli, "policies")
	require.Empty(t, out)
}

func TestAuthzCommandUsageErrors(t *testing.T) {
	cli := newAuthzCLI(t)

	code, _, errOut := run(t, cli)
	require.Equal(t, ExitUsage, code)
	require.Contains(t, errOut, "usage:")

	code, _, errOut = run(t, cli, "grant", "admin")
	require.Equal(t, ExitUsage, code)
	require.Contains(t, errOut, "wrong number of arguments")

	code, _, errOut = run(t, cli, "explode")
	require.Equal(t, ExitUsage, code)
	require.Contains(t, errOut, `unknown command "explode"`)

	code, _, errOut = run(t, cli, "grant", " ", "home")
	require.Equal(t, ExitError, code)
	require.Contains(t, errOut, "authz grant:")
}
