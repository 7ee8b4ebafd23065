package main

import (
	"fmt"
	"time"

	"contentflow/internal/app"
	"contentflow/internal/pkg/logger"
	"contentflow/internal/platform/auth"
	"contentflow/internal/platform/config"
	"contentflow/internal/platform/database"
	"contentflow/internal/platform/models"
	"contentflow/internal/platform/repositories"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

const operatorActor = "opsctl"

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("load config: %v", err), 2)
	}
	logger.Init(cfg.Logging)
	return cfg, nil
}

func openApp(c *cli.Context) (*app.App, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return app.New(c.Context, cfg)
}

func orgFlag() cli.Flag {
	return &cli.StringFlag{Name: "org", Usage: "Organization ID", Required: true}
}

func orgsCommand() *cli.Command {
	return &cli.Command{
		Name:  "orgs",
		Usage: "Manage organizations",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create an organization and its tenant database",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "slug", Required: true},
					&cli.StringFlag{Name: "name", Required: true},
				},
				Action: createOrgAction,
			},
			{
				Name:  "list",
				Usage: "List organizations",
				Action: func(c *cli.Context) error {
					a, err := openApp(c)
					if err != nil {
						return err
					}
					defer a.Close()

					orgs, err := a.Orgs.List()
					if err != nil {
						return err
					}
					return printJSON(c, orgs)
				},
			},
		},
	}
}

func createOrgAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	globalDB, err := database.NewGlobalDB(cfg.Database.Global)
	if err != nil {
		return err
	}
	defer globalDB.Close()
	if err := database.Migrate(globalDB, database.TargetGlobal); err != nil {
		return err
	}

	orgs := repositories.NewOrganizationRepository(globalDB)
	existing, err := orgs.GetBySlug(c.String("slug"))
	if err != nil {
		return err
	}
	if existing != nil {
		return cli.Exit(fmt.Sprintf("slug %q is taken by %s", existing.Slug, existing.ID), 2)
	}

	pool := database.NewTenantDBPool(cfg.Database.Tenant)
	defer pool.CloseAll()

	now := time.Now().Unix()
	org := &models.Organization{
		ID:        "org_" + uuid.NewString(),
		Slug:      c.String("slug"),
		Name:      c.String("name"),
		CreatedAt: now,
		UpdatedAt: now,
	}
	org.DBFilePath = pool.PathFor(org.ID)

	// create the tenant database first so a registered org always has one
	if _, err := pool.Get(org.ID, org.DBFilePath); err != nil {
		return err
	}
	if err := orgs.Create(org); err != nil {
		return fmt.Errorf("create organization: %w", err)
	}
	return printJSON(c, org)
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Mint an access token for a service account or operator",
		Flags: []cli.Flag{
			orgFlag(),
			&cli.StringFlag{Name: "role", Value: "admin", Usage: "owner, admin, editor or client"},
			&cli.StringFlag{Name: "email", Usage: "Identity recorded on approvals and history"},
			&cli.StringFlag{Name: "user", Value: "svc_" + operatorActor},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			switch c.String("role") {
			case "owner", "admin", "editor", "client":
			default:
				return cli.Exit("unknown role "+c.String("role"), 2)
			}
			tok, err := auth.NewTokenService(cfg.JWT).GenerateAccessToken(c.String("user"), c.String("org"), c.String("role"), c.String("email"))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, tok)
			return nil
		},
	}
}

func jobsCommand() *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "Act on publish jobs",
		Subcommands: []*cli.Command{
			{
				Name:      "retry",
				Usage:     "Requeue a FAILED job with a fresh attempt budget",
				ArgsUsage: "JOB_ID",
				Flags:     []cli.Flag{orgFlag()},
				Action: func(c *cli.Context) error {
					return withTenant(c, func(a *app.App, db *tenantDB) error {
						job, err := a.Queue.RetryFailed(c.Context, db.orgID, db.DB, operatorActor, c.Args().First())
						if err != nil {
							return err
						}
						return printJSON(c, job)
					})
				},
			},
			{
				Name:      "confirm",
				Usage:     "Record a manual publish",
				ArgsUsage: "JOB_ID",
				Flags: []cli.Flag{
					orgFlag(),
					&cli.StringFlag{Name: "platform-post-id", Required: true},
				},
				Action: func(c *cli.Context) error {
					return withTenant(c, func(a *app.App, db *tenantDB) error {
						job, err := a.Queue.ConfirmManual(c.Context, db.orgID, db.DB, operatorActor, c.Args().First(), c.String("platform-post-id"))
						if err != nil {
							return err
						}
						return printJSON(c, job)
					})
				},
			},
		},
	}
}

func deliveriesCommand() *cli.Command {
	return &cli.Command{
		Name:  "deliveries",
		Usage: "Inspect and replay webhook deliveries",
		Subcommands: []*cli.Command{
			{
				Name:  "failed",
				Usage: "List permanently failed deliveries",
				Flags: []cli.Flag{orgFlag(), &cli.IntFlag{Name: "limit", Value: 50}},
				Action: func(c *cli.Context) error {
					return withTenant(c, func(a *app.App, db *tenantDB) error {
						list, err := a.Dispatcher.FailedDeliveries(c.Context, db.DB, c.Int("limit"))
						if err != nil {
							return err
						}
						return printJSON(c, list)
					})
				},
			},
			{
				Name:      "redeliver",
				Usage:     "Queue a failed delivery again",
				ArgsUsage: "DELIVERY_ID",
				Flags:     []cli.Flag{orgFlag()},
				Action: func(c *cli.Context) error {
					return withTenant(c, func(a *app.App, db *tenantDB) error {
						dl, err := a.Dispatcher.Redeliver(c.Context, db.DB, c.Args().First())
						if err != nil {
							return err
						}
						return printJSON(c, dl)
					})
				},
			},
		},
	}
}
