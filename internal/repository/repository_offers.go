package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"eventmarket/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const offerColumns = `
	id,
	request_id,
	vendor_name,
	vendor_email,
	price,
	message,
	status,
	payment_status,
	checkout_session_id,
	payment_ref,
	paid_at,
	created_at,
	updated_at
`

func scanOffer(rows *sql.Rows, o *models.VendorOffer) error {
	return rows.Scan(
		&o.Id,
		&o.RequestId,
		&o.VendorName,
		&o.VendorEmail,
		&o.Price,
		&o.Message,
		&o.Status,
		&o.PaymentStatus,
		&o.CheckoutSessionId,
		&o.PaymentRef,
		&o.PaidAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
}

func (repo *Repository) AddOffer(ctx context.Context, o models.VendorOffer) (models.VendorOffer, error) {
	result := o
	result.Id = uuid.NewString()
	result.Status = models.OfferPending
	result.PaymentStatus = models.PaymentUnpaid

	query := `
	INSERT INTO offers
		(id, request_id, vendor_name, vendor_email, price, message, status, payment_status)
	VALUES
		($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING
		created_at, updated_at
	`

	row := repo.db.QueryRowContext(ctx, query,
		result.Id,
		result.RequestId,
		result.VendorName,
		result.VendorEmail,
		result.Price,
		result.Message,
		result.Status,
		result.PaymentStatus,
	)
	err := row.Scan(&result.CreatedAt, &result.UpdatedAt)
	if err != nil {
		return result, fmt.Errorf("repository.Repository.AddOffer: %w", err)
	}

	return result, nil
}

// GetRequestOffers loads offers for a set of requests in one query, keyed by
// request id.
func (repo *Repository) GetRequestOffers(ctx context.Context, requestIds []string) (map[string][]models.VendorOffer, error) {
	query := `
	SELECT ` + offerColumns + `
	FROM offers
	WHERE request_id = ANY($1)
	ORDER BY created_at
	`

	rows, err := repo.db.QueryContext(ctx, query, pq.Array(requestIds))
	if err != nil {
		return nil, fmt.Errorf("repository.Repository.GetRequestOffers: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]models.VendorOffer, len(requestIds))
	for rows.Next() {
		var offer models.VendorOffer
		err = scanOffer(rows, &offer)
		if err != nil {
			return nil, fmt.Errorf("repository.Repository.GetRequestOffers: row scan failed: %w", err)
		}
		result[offer.RequestId] = append(result[offer.RequestId], offer)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("repository.Repository.GetRequestOffers: %w", rows.Err())
	}

	return result, nil
}

func (repo *Repository) GetOfferByUUID(ctx context.Context, requestId, offerId string) (models.VendorOffer, error) {
	var offer models.VendorOffer

	query := `
	SELECT ` + offerColumns + `
	FROM offers
	WHERE id = $1 AND request_id = $2
	`

	rows, err := repo.db.QueryContext(ctx, query, offerId, requestId)
	if err != nil {
		return offer, fmt.Errorf("repository.Repository.GetOfferByUUID: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		err = scanOffer(rows, &offer)
		if err != nil {
			return offer, fmt.Errorf("repository.Repository.GetOfferByUUID: row scan failed: %w", err)
		}
	} else {
		return offer, fmt.Errorf("repository.Repository.GetOfferByUUID: no offer found by UUID %s, %w", offerId, sql.ErrNoRows)
	}

	if rows.Err() != nil {
		return offer, fmt.Errorf("repository.Repository.GetOfferByUUID: %w", rows.Err())
	}

	return offer, nil
}

func (repo *Repository) UpdateOfferStatus(ctx context.Context, offerId string, status models.OfferStatus) error {
	query := `
	UPDATE offers
	SET (status, updated_at) = ($2, CURRENT_TIMESTAMP)
	WHERE id = $1
	`

	res, err := repo.db.ExecContext(ctx, query, offerId, status)
	if err != nil {
		return fmt.Errorf("repository.Repository.UpdateOfferStatus: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository.Repository.UpdateOfferStatus: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("repository.Repository.UpdateOfferStatus: %w", models.ErrOfferNotFound)
	}

	return nil
}

// AcceptOffer applies the accept transition atomically: the target offer
// becomes accepted, the request closes with reason offer_accepted, and every
// other still-pending offer on the request becomes ignored. The request row is
// locked first, so a concurrent accept on a sibling offer observes the closed
// request and fails with models.ErrRequestClosed.
func (repo *Repository) AcceptOffer(ctx context.Context, requestId, offerId string, now time.Time) error {
	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository.Repository.AcceptOffer: failed to start transaction: %w", err)
	}

	row := tx.QueryRowContext(ctx, "SELECT status, expires_at FROM requests WHERE id = $1 FOR UPDATE", requestId)

	var status models.RequestStatus
	var expiresAt time.Time
	err = row.Scan(&status, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return wrapRollbackErr(tx, fmt.Errorf("repository.Repository.AcceptOffer: %w", models.ErrRequestNotFound))
	} else if err != nil {
		return wrapRollbackErr(tx, fmt.Errorf("repository.Repository.AcceptOffer: %w", err))
	}

	// re-check under the lock, stale-open requests count as closed
	if status != models.RequestOpen || now.After(expiresAt) {
		return wrapRollbackErr(tx, fmt.Errorf("repository.Repository.AcceptOffer: %w", models.ErrRequestClosed))
	}

	res, err := tx.ExecContext(ctx, `
	UPDATE offers
	SET (status, updated_at) = ('accepted', CURRENT_TIMESTAMP)
	WHERE id = $1 AND request_id = $2
	`, offerId, requestId)
	if err != nil {
		return wrapRollbackErr(tx, fmt.Errorf("repository.Repository.AcceptOffer: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapRollbackErr(tx, fmt.Errorf("repository.Repository.AcceptOffer: %w", err))
	}
	if n == 0 {
		return wrapRollbackErr(tx, fmt.Errorf("repository.Repository.AcceptOffer: %w", models.ErrOfferNotFound))
	}

	_, err = tx.ExecContext(ctx, `
	UPDATE requests
	SET (status, closed_at, closed_reason) = ('closed', $2, 'offer_accepted')
	WHERE id = $1
	`, requestId, now)
	if err != nil {
		return wrapRollbackErr(tx, fmt.Errorf("repository.Repository.AcceptOffer: %w", err))
	}

	_, err = tx.ExecContext(ctx, `
	UPDATE offers
	SET (status, updated_at) = ('ignored', CURRENT_TIMESTAMP)
	WHERE request_id = $1 AND id <> $2 AND status = 'pending'
	`, requestId, offerId)
	if err != nil {
		return wrapRollbackErr(tx, fmt.Errorf("repository.Repository.AcceptOffer: %w", err))
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("repository.Repository.AcceptOffer: failed to commit transaction: %w", err)
	}

	return nil
}

//// Payment state

func (repo *Repository) SetOfferCheckoutPending(ctx context.Context, offerId, sessionId string) error {
	query := `
	UPDATE offers
	SET (payment_status, checkout_session_id, updated_at) = ('pending', $2, CURRENT_TIMESTAMP)
	WHERE id = $1
	`

	_, err := repo.db.ExecContext(ctx, query, offerId, sessionId)
	if err != nil {
		return fmt.Errorf("repository.Repository.SetOfferCheckoutPending: %w", err)
	}
	return nil
}

// MarkOfferPaid records a completed checkout. The payment_status guard makes
// webhook redelivery a no-op: an already-paid offer is never touched again.
func (repo *Repository) MarkOfferPaid(ctx context.Context, requestId, offerId, sessionId, paymentRef string, paidAt time.Time) (bool, error) {
	query := `
	UPDATE offers
	SET (payment_status, checkout_session_id, payment_ref, paid_at, updated_at) = ('paid', $3, $4, $5, CURRENT_TIMESTAMP)
	WHERE id = $1 AND request_id = $2 AND payment_status <> 'paid'
	`

	res, err := repo.db.ExecContext(ctx, query, offerId, requestId, sessionId, paymentRef, paidAt)
	if err != nil {
		return false, fmt.Errorf("repository.Repository.MarkOfferPaid: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("repository.Repository.MarkOfferPaid: %w", err)
	}
	return n > 0, nil
}

// MarkOfferPaymentFailed records an expired checkout. Paid offers are never
// downgraded.
func (repo *Repository) MarkOfferPaymentFailed(ctx context.Context, requestId, offerId string) (bool, error) {
	query := `
	UPDATE offers
	SET (payment_status, updated_at) = ('failed', CURRENT_TIMESTAMP)
	WHERE id = $1 AND request_id = $2 AND payment_status <> 'paid'
	`

	res, err := repo.db.ExecContext(ctx, query, offerId, requestId)
	if err != nil {
		return false, fmt.Errorf("repository.Repository.MarkOfferPaymentFailed: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("repository.Repository.MarkOfferPaymentFailed: %w", err)
	}
	return n > 0, nil
}
