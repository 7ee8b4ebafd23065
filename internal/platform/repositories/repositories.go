package repositories

import (
	"database/sql"

	"contentflow/internal/platform/models"
)

type OrganizationRepository struct {
	db *sql.DB
}

func NewOrganizationRepository(db *sql.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

func (r *OrganizationRepository) Create(org *models.Organization) error {
	_, err := r.db.Exec(`
		INSERT INTO organizations (id, slug, name, db_file_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, org.ID, org.Slug, org.Name, org.DBFilePath, org.CreatedAt, org.UpdatedAt)
	return err
}

func (r *OrganizationRepository) GetByID(id string) (*models.Organization, error) {
	return r.getOne(`SELECT id, slug, name, db_file_path, created_at, updated_at FROM organizations WHERE id = ?`, id)
}

func (r *OrganizationRepository) GetBySlug(slug string) (*models.Organization, error) {
	return r.getOne(`SELECT id, slug, name, db_file_path, created_at, updated_at FROM organizations WHERE slug = ?`, slug)
}

func (r *OrganizationRepository) getOne(query string, arg string) (*models.Organization, error) {
	org := &models.Organization{}
	err := r.db.QueryRow(query, arg).Scan(&org.ID, &org.Slug, &org.Name, &org.DBFilePath, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return org, nil
}

// List returns every organization; background workers iterate it to reach each tenant database.
func (r *OrganizationRepository) List() ([]*models.Organization, error) {
	rows, err := r.db.Query(`SELECT id, slug, name, db_file_path, created_at, updated_at FROM organizations ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []*models.Organization
	for rows.Next() {
		org := &models.Organization{}
		if err := rows.Scan(&org.ID, &org.Slug, &org.Name, &org.DBFilePath, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}
