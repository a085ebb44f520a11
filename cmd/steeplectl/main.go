// Command steeplectl is the operator CLI for the authorization data.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"steeple.org/internal/authz"
	"steeple.org/internal/rbac"
	"steeple.org/internal/store/pg"
)

const usage = `usage: steeplectl <command> [flags]

commands:
  catalog   print the permission catalog
  check     evaluate a permission for a user
  grant     assign a site role to a user by role name
`

// openStore is replaced in tests.
var openStore = func(dsn string) (rbac.Store, func() error, error) {
	s, err := pg.Open(dsn)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "steeplectl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New(strings.TrimSpace(usage))
	}
	switch args[0] {
	case "catalog":
		return runCatalog(args[1:], out)
	case "check":
		return runCheck(ctx, args[1:], out)
	case "grant":
		return runGrant(ctx, args[1:], out)
	case "help", "-h", "--help":
		_, err := io.WriteString(out, usage)
		return err
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runCatalog(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("catalog", pflag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return err
	}
	catalog := authz.Catalog()
	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(catalog)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PERMISSION\tGROUP\tSCOPES\tDESCRIPTION")
	for _, info := range catalog {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", info.Permission, info.Group, strings.Join(info.Scopes, ","), info.Description)
	}
	return tw.Flush()
}

func storeFlags(fs *pflag.FlagSet) (*string, *time.Duration) {
	dsn := fs.String("dsn", os.Getenv("STEEPLE_DATABASE_DSN"), "PostgreSQL DSN")
	timeout := fs.Duration("timeout", 10*time.Second, "Overall timeout")
	return dsn, timeout
}

func runCheck(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("check", pflag.ContinueOnError)
	dsn, timeout := storeFlags(fs)
	user := fs.StringP("user", "u", "", "User id")
	perm := fs.StringP("permission", "p", "", "Permission identifier")
	org := fs.StringP("org", "o", "", "Organization id; empty checks site-wide")
	ancestors := fs.Bool("ancestors", false, "Also accept grants held in ancestor organizations")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" || *perm == "" {
		return errors.New("--user and --permission are required")
	}
	p, known := authz.ParsePermission(*perm)

	store, closeFn, err := openStore(*dsn)
	if err != nil {
		return err
	}
	defer closeFn()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	svc, err := rbac.NewLoader(store, 0, 0).Service(ctx, *user)
	if err != nil {
		return err
	}
	decision := svc.Decide(p, *org)
	if known && !decision.Allowed && *ancestors && *org != "" {
		rs, err := rbac.NewService(store)
		if err != nil {
			return err
		}
		h, err := rs.Hierarchy(ctx)
		if err != nil {
			return err
		}
		decision = svc.DecideConsideringAncestors(p, *org, h)
	}
	if !known {
		fmt.Fprintf(os.Stderr, "steeplectl: %q is not a known permission\n", *perm)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(decision)
}

func runGrant(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("grant", pflag.ContinueOnError)
	dsn, timeout := storeFlags(fs)
	user := fs.StringP("user", "u", "", "User id")
	role := fs.StringP("role", "r", authz.RoleSuperAdmin, "Site role name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return errors.New("--user is required")
	}

	store, closeFn, err := openStore(*dsn)
	if err != nil {
		return err
	}
	defer closeFn()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	svc, err := rbac.NewService(store)
	if err != nil {
		return err
	}
	roles, err := svc.ListSiteRoles(ctx)
	if err != nil {
		return err
	}
	for _, r := range roles {
		if strings.EqualFold(r.Name, *role) {
			if _, err := svc.GetUser(ctx, *user); errors.Is(err, rbac.ErrNotFound) {
				if _, err := svc.SyncUser(ctx, authz.User{ID: *user}); err != nil {
					return err
				}
			} else if err != nil {
				return err
			}
			a, err := svc.AssignSiteRole(ctx, *user, r.ID)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "granted %s to %s\n", r.Name, a.UserID)
			return err
		}
	}
	return fmt.Errorf("%w: site role %q", rbac.ErrNotFound, *role)
}
