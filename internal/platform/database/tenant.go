package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"contentflow/internal/platform/config"

	_ "github.com/mattn/go-sqlite3"
)

// Immediate transactions take the write lock at BEGIN so that status CAS updates
// from concurrent workers queue on busy_timeout instead of failing on upgrade.
const dsnOptions = "?_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"

type TenantContext struct {
	OrgID   string
	OrgSlug string
	DB      *sql.DB
}

type TenantDBPool struct {
	pools  map[string]*sql.DB
	mu     sync.RWMutex
	config config.TenantDBConfig
}

func NewTenantDBPool(cfg config.TenantDBConfig) *TenantDBPool {
	return &TenantDBPool{
		pools:  make(map[string]*sql.DB),
		config: cfg,
	}
}

// Get returns the pooled handle for orgID, opening and migrating the database on first use.
func (p *TenantDBPool) Get(orgID string, dbPath string) (*sql.DB, error) {
	p.mu.RLock()
	if db, exists := p.pools[orgID]; exists {
		p.mu.RUnlock()
		return db, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if db, exists := p.pools[orgID]; exists {
		return db, nil
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create tenant directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+dsnOptions)
	if err != nil {
		return nil, err
	}

	if p.config.MaxConnectionsPerOrg > 0 {
		db.SetMaxOpenConns(p.config.MaxConnectionsPerOrg)
	}
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db, TargetTenant); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate tenant %s: %w", orgID, err)
	}

	p.pools[orgID] = db
	return db, nil
}

// PathFor is the conventional database file for a new organization.
func (p *TenantDBPool) PathFor(orgID string) string {
	return filepath.Join(p.config.BasePath, orgID+".db")
}

func (p *TenantDBPool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, db := range p.pools {
		db.Close()
	}
	p.pools = make(map[string]*sql.DB)
}
