package main

import (
	"flag"
	"fmt"
	"os"

	"contentflow/internal/pkg/logger"
	"contentflow/internal/platform/config"
	"contentflow/internal/platform/database"
	"contentflow/internal/platform/repositories"

	"github.com/rs/zerolog/log"
)

func main() {
	target := flag.String("target", "global", "Migration target: global, tenant or all")
	orgID := flag.String("org", "", "Organization ID (tenant target only; default every organization)")
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Logging)

	globalDB, err := database.NewGlobalDB(cfg.Database.Global)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to global DB")
	}
	defer globalDB.Close()

	switch *target {
	case "global", "all":
		if err := database.Migrate(globalDB, database.TargetGlobal); err != nil {
			log.Fatal().Err(err).Msg("global migration failed")
		}
		if *target == "global" {
			break
		}
		fallthrough
	case "tenant":
		// the pool migrates each tenant database as it opens it
		pool := database.NewTenantDBPool(cfg.Database.Tenant)
		defer pool.CloseAll()

		orgs, err := repositories.NewOrganizationRepository(globalDB).List()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to list organizations")
		}
		migrated := 0
		for _, org := range orgs {
			if *orgID != "" && org.ID != *orgID {
				continue
			}
			if _, err := pool.Get(org.ID, org.DBFilePath); err != nil {
				log.Fatal().Err(err).Str("org_id", org.ID).Msg("tenant migration failed")
			}
			migrated++
		}
		if *orgID != "" && migrated == 0 {
			log.Fatal().Str("org_id", *orgID).Msg("organization not found")
		}
		log.Info().Int("tenants", migrated).Msg("tenant databases migrated")
	default:
		log.Fatal().Str("target", *target).Msg("invalid target: must be global, tenant or all")
	}

	log.Info().Msg("migration completed successfully")
}
