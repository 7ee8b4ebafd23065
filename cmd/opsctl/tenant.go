package main

import (
	"database/sql"

	"contentflow/internal/app"

	"github.com/urfave/cli/v2"
)

type tenantDB struct {
	*sql.DB
	orgID string
}

// withTenant opens the app and the --org tenant database and requires one positional argument.
func withTenant(c *cli.Context, fn func(a *app.App, db *tenantDB) error) error {
	if c.Args().Len() != 1 && c.Command.ArgsUsage != "" {
		return cli.Exit("expected "+c.Command.ArgsUsage, 2)
	}
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	db, err := a.Tenant(c.String("org"))
	if err != nil {
		return err
	}
	return fn(a, &tenantDB{DB: db, orgID: c.String("org")})
}
