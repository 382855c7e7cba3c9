package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"eventmarket/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const vendorColumns = `
	id,
	name,
	email,
	application_status,
	contract_accepted,
	training_completed,
	payout_account_id,
	created_at,
	updated_at
`

func (repo *Repository) AddVendor(ctx context.Context, v models.Vendor) (models.Vendor, error) {
	result := v
	result.Id = uuid.NewString()
	result.ApplicationStatus = models.ApplicationPending

	query := `
	INSERT INTO vendors
		(id, name, email, application_status, payout_account_id)
	VALUES
		($1, $2, $3, $4, $5)
	RETURNING
		contract_accepted, training_completed, created_at, updated_at
	`

	row := repo.db.QueryRowContext(ctx, query,
		result.Id,
		result.Name,
		result.Email,
		result.ApplicationStatus,
		result.PayoutAccountId,
	)
	err := row.Scan(&result.ContractAccepted, &result.TrainingCompleted, &result.CreatedAt, &result.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return result, fmt.Errorf("repository.Repository.AddVendor: %w: %s", models.ErrVendorExists, result.Email)
		}
		return result, fmt.Errorf("repository.Repository.AddVendor: %w", err)
	}

	return result, nil
}

func (repo *Repository) GetVendorByUUID(ctx context.Context, UUID string) (models.Vendor, error) {
	var vendor models.Vendor

	query := `
	SELECT ` + vendorColumns + `
	FROM vendors
	WHERE id = $1
	LIMIT 1
	`

	row := repo.db.QueryRowContext(ctx, query, UUID)
	err := row.Scan(
		&vendor.Id,
		&vendor.Name,
		&vendor.Email,
		&vendor.ApplicationStatus,
		&vendor.ContractAccepted,
		&vendor.TrainingCompleted,
		&vendor.PayoutAccountId,
		&vendor.CreatedAt,
		&vendor.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return vendor, fmt.Errorf("repository.Repository.GetVendorByUUID: no vendor found by UUID %s, %w", UUID, sql.ErrNoRows)
	} else if err != nil {
		return vendor, fmt.Errorf("repository.Repository.GetVendorByUUID: %w", err)
	}

	return vendor, nil
}

// GetVendorByEmail resolves a vendor by its registration email, case
// insensitive. A missing vendor is not an error.
func (repo *Repository) GetVendorByEmail(ctx context.Context, email string) (models.Vendor, bool, error) {
	var vendor models.Vendor

	query := `
	SELECT ` + vendorColumns + `
	FROM vendors
	WHERE LOWER(email) = LOWER($1)
	LIMIT 1
	`

	row := repo.db.QueryRowContext(ctx, query, email)
	err := row.Scan(
		&vendor.Id,
		&vendor.Name,
		&vendor.Email,
		&vendor.ApplicationStatus,
		&vendor.ContractAccepted,
		&vendor.TrainingCompleted,
		&vendor.PayoutAccountId,
		&vendor.CreatedAt,
		&vendor.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return vendor, false, nil
	} else if err != nil {
		return vendor, false, fmt.Errorf("repository.Repository.GetVendorByEmail: %w", err)
	}

	return vendor, true, nil
}

func (repo *Repository) UpdateVendor(ctx context.Context, vendorId string, patch models.VendorPatch) (models.Vendor, error) {
	args := []any{vendorId}
	set := make([]string, 0, 5)

	addSet := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.ApplicationStatus != nil {
		addSet("application_status", *patch.ApplicationStatus)
	}
	if patch.ContractAccepted != nil {
		addSet("contract_accepted", *patch.ContractAccepted)
	}
	if patch.TrainingCompleted != nil {
		addSet("training_completed", *patch.TrainingCompleted)
	}
	if patch.PayoutAccountId != nil {
		addSet("payout_account_id", *patch.PayoutAccountId)
	}
	set = append(set, "updated_at = CURRENT_TIMESTAMP")

	query := `
	UPDATE vendors
	SET ` + strings.Join(set, ", ") + `
	WHERE id = $1
	RETURNING ` + vendorColumns

	var vendor models.Vendor
	row := repo.db.QueryRowContext(ctx, query, args...)
	err := row.Scan(
		&vendor.Id,
		&vendor.Name,
		&vendor.Email,
		&vendor.ApplicationStatus,
		&vendor.ContractAccepted,
		&vendor.TrainingCompleted,
		&vendor.PayoutAccountId,
		&vendor.CreatedAt,
		&vendor.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return vendor, fmt.Errorf("repository.Repository.UpdateVendor: no vendor found by UUID %s, %w", vendorId, sql.ErrNoRows)
	} else if err != nil {
		return vendor, fmt.Errorf("repository.Repository.UpdateVendor: %w", err)
	}

	return vendor, nil
}
