package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/odyssey-erp/odyssey-authz/internal/authz"
)

// Exit codes returned by AuthzCLI.Run.
const (
	ExitOK     = 0
	ExitError  = 1
	ExitUsage  = 2
	ExitDenied = 3
)

// AuthzOptions carries the output streams for a command run.
type AuthzOptions struct {
	Stdout io.Writer
	Stderr io.Writer
}

// AuthzCLI exposes the authorization admin API to operators.
type AuthzCLI struct {
	engine *authz.Engine
}

// NewAuthzCLI constructs the helper over an open engine.
func NewAuthzCLI(engine *authz.Engine) (*AuthzCLI, error) {
	if engine == nil {
		return nil, errors.New("authz cli: engine not configured")
	}
	return &AuthzCLI{engine: engine}, nil
}

const authzUsage = `usage: odyssey authz [-json] <command> [args]

commands:
  grant <subject> <object> [action]     grant a permission (action defaults to view)
  revoke <subject> <object> [action]    revoke a permission
  assign <user> <role>                  add a role to a user or role
  unassign <user> <role>                remove a role from a user or role
  create-role <role>                    make a role discoverable
  delete-role <role>                    delete a role with its policies and edges
  roles [user]                          list roles, or the direct roles of user
  users [role]                          list users, or the direct members of role
  perms <subject>                       list the direct permissions of subject
  menus <user>                          list view grants held by user and its direct roles
  policies                              dump every policy
  enforce <subject> <object> [action]   explain a decision; exit 3 when denied
`

// Run parses args and executes one command, returning the exit code.
func (c *AuthzCLI) Run(ctx context.Context, args []string, opts AuthzOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	fs := flag.NewFlagSet("authz", flag.ContinueOnError)
	fs.SetOutput(opts.Stderr)
	jsonOutput := fs.Bool("json", false, "print JSON")
	fs.Usage = func() { _, _ = fmt.Fprint(opts.Stderr, authzUsage) }
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return ExitUsage
	}

	out := printer{w: opts.Stdout, json: *jsonOutput}
	cmd, params := rest[0], rest[1:]
	fail := func(err error) int {
		_, _ = fmt.Fprintf(opts.Stderr, "authz %s: %v\n", cmd, err)
		return ExitError
	}
	need := func(min, max int) bool {
		if len(params) < min || len(params) > max {
			_, _ = fmt.Fprintf(opts.Stderr, "authz %s: wrong number of arguments\n", cmd)
			fs.Usage()
			return false
		}
		return true
	}
	action := func(i int) string {
		if len(params) > i {
			return params[i]
		}
		return authz.ActionView
	}

	admin := c.engine.Admin
	switch cmd {
	case "grant", "revoke":
		if !need(2, 3) {
			return ExitUsage
		}
		op := admin.GrantPermission
		if cmd == "revoke" {
			op = admin.RevokePermission
		}
		changed, err := op(ctx, params[0], params[1], action(2))
		if err != nil {
			return fail(err)
		}
		out.changed(changed)
	case "assign", "unassign":
		if !need(2, 2) {
			return ExitUsage
		}
		op := admin.GrantRoleToUser
		if cmd == "unassign" {
			op = admin.RevokeRoleFromUser
		}
		changed, err := op(ctx, params[0], params[1])
		if err != nil {
			return fail(err)
		}
		out.changed(changed)
	case "create-role", "delete-role":
		if !need(1, 1) {
			return ExitUsage
		}
		op := admin.CreateRole
		if cmd == "delete-role" {
			op = admin.DeleteRole
		}
		changed, err := op(ctx, params[0])
		if err != nil {
			var cascade *authz.CascadeError
			if errors.As(err, &cascade) {
				_, _ = fmt.Fprintf(opts.Stderr, "authz %s: failed at %s, state unchanged\n", cmd, cascade.Step)
			}
			return fail(err)
		}
		out.changed(changed)
	case "roles":
		if !need(0, 1) {
			return ExitUsage
		}
		if len(params) == 1 {
			out.list(admin.RolesOfUser(params[0]))
		} else {
			out.list(admin.ListRoles())
		}
	case "users":
		if !need(0, 1) {
			return ExitUsage
		}
		if len(params) == 1 {
			out.list(admin.UsersForRole(params[0]))
		} else {
			out.list(admin.ListUsers())
		}
	case "perms":
		if !need(1, 1) {
			return ExitUsage
		}
		perms := admin.PermissionsOf(params[0])
		if out.json {
			out.encode(perms)
			break
		}
		for _, p := range perms {
			_, _ = fmt.Fprintf(out.w, "%s\t%s\n", p.Object, p.Action)
		}
	case "menus":
		if !need(1, 1) {
			return ExitUsage
		}
		out.list(admin.AllMenuPermissionsOf(params[0]))
	case "policies":
		if !need(0, 0) {
			return ExitUsage
		}
		policies := admin.AllPolicies()
		if out.json {
			out.encode(policies)
			break
		}
		for _, p := range policies {
			_, _ = fmt.Fprintf(out.w, "%s\t%s\t%s\n", p.Subject, p.Object, p.Action)
		}
	case "enforce":
		if !need(2, 3) {
			return ExitUsage
		}
		decision := c.engine.Enforcer.Explain(params[0], params[1], action(2))
		if out.json {
			out.encode(decision)
		} else if decision.Allowed {
			_, _ = fmt.Fprintf(out.w, "allow (via %s)\n", decision.MatchedSubject)
		} else {
			_, _ = fmt.Fprintf(out.w, "deny (closure: %s)\n", strings.Join(decision.Closure, ", "))
		}
		if !decision.Allowed {
			return ExitDenied
		}
	default:
		_, _ = fmt.Fprintf(opts.Stderr, "authz: unknown command %q\n", cmd)
		fs.Usage()
		return ExitUsage
	}
	return ExitOK
}

type printer struct {
	w    io.Writer
	json bool
}

func (p printer) encode(v any) {
	_ = json.NewEncoder(p.w).Encode(v)
}

func (p printer) changed(changed bool) {
	if p.json {
		p.encode(map[string]bool{"changed": changed})
		return
	}
	if changed {
		_, _ = fmt.Fprintln(p.w, "changed")
	} else {
		_, _ = fmt.Fprintln(p.w, "unchanged")
	}
}

func (p printer) list(items []string) {
	if items == nil {
		items = []string{}
	}
	if p.json {
		p.encode(items)
		return
	}
	for _, item := range items {
		_, _ = fmt.Fprintln(p.w, item)
	}
}
