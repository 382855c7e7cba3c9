package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"eventmarket/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

func (repo *Repository) prepRequestsQuery(requestId, customerEmail string, onlyOpen bool) (query string, queryParams []interface{}) {
	query = `
	SELECT
		id,
		customer_name,
		customer_email,
		customer_phone,
		selected_services,
		budget,
		event_date,
		status,
		offer_response_hours,
		expires_at,
		closed_at,
		closed_reason,
		created_at
	FROM requests
	$conditions$
	ORDER BY created_at DESC
	`

	queryParams = make([]interface{}, 0, 2)
	conditions := make([]string, 0, 3)

	if len(requestId) > 0 {
		conditions = append(conditions, "id = $$")
		queryParams = append(queryParams, requestId)
	}

	if len(customerEmail) > 0 {
		conditions = append(conditions, "LOWER(customer_email) = LOWER($$)")
		queryParams = append(queryParams, customerEmail)
	}

	if onlyOpen {
		conditions = append(conditions, "status = 'open'")
	}

	condStr := ""
	if len(conditions) > 0 {
		n := 0
		for i := 0; i < len(conditions); i++ {
			if strings.Contains(conditions[i], "$$") {
				n++
				conditions[i] = strings.Replace(conditions[i], "$$", "$"+strconv.Itoa(n), -1)
			}
		}
		condStr = "WHERE " + strings.Join(conditions, " AND ")
	}
	query = strings.Replace(query, "$conditions$", condStr, -1)

	return query, queryParams
}

func scanRequest(rows *sql.Rows, r *models.ServiceRequest) error {
	return rows.Scan(
		&r.Id,
		&r.CustomerName,
		&r.CustomerEmail,
		&r.CustomerPhone,
		pq.Array(&r.SelectedServices),
		&r.Budget,
		&r.EventDate,
		&r.Status,
		&r.OfferResponseHours,
		&r.ExpiresAt,
		&r.ClosedAt,
		&r.ClosedReason,
		&r.CreatedAt,
	)
}

// GetRequests returns requests newest-first with their offers attached,
// optionally filtered by owner email (case-insensitive) or open status.
func (repo *Repository) GetRequests(ctx context.Context, customerEmail string, onlyOpen bool) ([]models.ServiceRequest, error) {
	query, queryParams := repo.prepRequestsQuery("", customerEmail, onlyOpen)

	rows, err := repo.db.QueryContext(ctx, query, queryParams...)
	if err != nil {
		return nil, fmt.Errorf("repository.Repository.GetRequests: %w", err)
	}
	defer rows.Close()

	result := []models.ServiceRequest{}
	ids := make([]string, 0, 8)
	for rows.Next() {
		var request models.ServiceRequest
		err = scanRequest(rows, &request)
		if err != nil {
			return nil, fmt.Errorf("repository.Repository.GetRequests: row scan failed: %w", err)
		}
		request.Offers = []models.VendorOffer{}
		result = append(result, request)
		ids = append(ids, request.Id)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("repository.Repository.GetRequests: %w", rows.Err())
	}

	if len(ids) == 0 {
		return result, nil
	}

	offers, err := repo.GetRequestOffers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("repository.Repository.GetRequests: %w", err)
	}
	for i := range result {
		if list, ok := offers[result[i].Id]; ok {
			result[i].Offers = list
		}
	}

	return result, nil
}

func (repo *Repository) GetRequestByUUID(ctx context.Context, UUID string) (models.ServiceRequest, error) {
	var request models.ServiceRequest
	query, queryParams := repo.prepRequestsQuery(UUID, "", false)

	rows, err := repo.db.QueryContext(ctx, query, queryParams...)
	if err != nil {
		return request, fmt.Errorf("repository.Repository.GetRequestByUUID: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		err = scanRequest(rows, &request)
		if err != nil {
			return request, fmt.Errorf("repository.Repository.GetRequestByUUID: row scan failed: %w", err)
		}
	} else {
		return request, fmt.Errorf("repository.Repository.GetRequestByUUID: no request found by UUID %s, %w", UUID, sql.ErrNoRows)
	}

	if rows.Err() != nil {
		return request, fmt.Errorf("repository.Repository.GetRequestByUUID: %w", rows.Err())
	}

	return request, nil
}

func (repo *Repository) AddRequest(ctx context.Context, r models.ServiceRequest) (models.ServiceRequest, error) {
	result := r
	result.Id = uuid.NewString()
	result.Status = models.RequestOpen
	result.Offers = []models.VendorOffer{}

	query := `
	INSERT INTO requests
		(id, customer_name, customer_email, customer_phone, selected_services, budget, event_date, status, offer_response_hours, expires_at, created_at)
	VALUES
		($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := repo.db.ExecContext(ctx, query,
		result.Id,
		result.CustomerName,
		result.CustomerEmail,
		result.CustomerPhone,
		pq.Array(result.SelectedServices),
		result.Budget,
		result.EventDate,
		result.Status,
		result.OfferResponseHours,
		result.ExpiresAt,
		result.CreatedAt,
	)
	if err != nil {
		return result, fmt.Errorf("repository.Repository.AddRequest: %w", err)
	}

	return result, nil
}

// ExpireStaleRequests flips every open request whose window has passed to
// expired and cascades its still-pending offers to ignored, all in one
// transaction. Returns the number of requests expired. Safe to run repeatedly.
func (repo *Repository) ExpireStaleRequests(ctx context.Context, now time.Time) (int, error) {
	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("repository.Repository.ExpireStaleRequests: failed to start transaction: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
	UPDATE requests
	SET (status, closed_at, closed_reason) = ('expired', $1, 'time_limit')
	WHERE status = 'open' AND expires_at < $1
	RETURNING id
	`, now)
	if err != nil {
		return 0, wrapRollbackErr(tx, fmt.Errorf("repository.Repository.ExpireStaleRequests: %w", err))
	}

	var ids []string
	var id string
	for rows.Next() {
		err = rows.Scan(&id)
		if err != nil {
			rows.Close()
			return 0, wrapRollbackErr(tx, fmt.Errorf("repository.Repository.ExpireStaleRequests: row scan failed: %w", err))
		}
		ids = append(ids, id)
	}
	if rows.Err() != nil {
		rows.Close()
		return 0, wrapRollbackErr(tx, fmt.Errorf("repository.Repository.ExpireStaleRequests: %w", rows.Err()))
	}
	rows.Close()

	if len(ids) > 0 {
		_, err = tx.ExecContext(ctx, `
		UPDATE offers
		SET (status, updated_at) = ('ignored', CURRENT_TIMESTAMP)
		WHERE status = 'pending' AND request_id = ANY($1)
		`, pq.Array(ids))
		if err != nil {
			return 0, wrapRollbackErr(tx, fmt.Errorf("repository.Repository.ExpireStaleRequests: %w", err))
		}
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("repository.Repository.ExpireStaleRequests: failed to commit transaction: %w", err)
	}

	return len(ids), nil
}
