package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/unclebandit/pricewatch-mailer/internal/clock"
	"github.com/unclebandit/pricewatch-mailer/internal/model"
)

const uniqueViolation = "23505"

const deliveryLogColumns = `id, recipient, subject, template_id, provider_message_id, status, metadata, created_at, updated_at`

// DeliveryLogRepository is the Postgres-backed LogStore.
type DeliveryLogRepository struct {
	DB    *sql.DB
	clock clock.Clock
}

func NewDeliveryLogRepository(db *sql.DB, c clock.Clock) *DeliveryLogRepository {
	if c == nil {
		c = clock.NewRealClock()
	}
	return &DeliveryLogRepository{DB: db, clock: c}
}

// Create inserts a new delivery log, assigning its id and timestamps when unset.
func (r *DeliveryLogRepository) Create(ctx context.Context, log *model.DeliveryLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.Status == "" {
		log.Status = model.StatusPending
	}
	if !log.Status.Valid() {
		return fmt.Errorf("create delivery log: unknown status %q", log.Status)
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = r.clock.Now()
	}
	if log.UpdatedAt.IsZero() {
		log.UpdatedAt = log.CreatedAt
	}
	if log.Metadata == nil {
		log.Metadata = []model.MetadataEntry{}
	}
	metadata, err := json.Marshal(log.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	query := `
        INSERT INTO delivery_logs
        (id, recipient, subject, template_id, provider_message_id, status, status_priority, metadata, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `
	_, err = r.DB.ExecContext(ctx, query,
		log.ID,
		log.Recipient,
		log.Subject,
		log.TemplateID,
		nullString(log.ProviderMessageID),
		string(log.Status),
		log.Status.Priority(),
		string(metadata),
		log.CreatedAt,
		log.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrProviderMessageIDConflict
	}
	return err
}

// GetByID fetches a delivery log by its local id
func (r *DeliveryLogRepository) GetByID(ctx context.Context, id string) (*model.DeliveryLog, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	query := `SELECT ` + deliveryLogColumns + ` FROM delivery_logs WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByProviderMessageID fetches a delivery log by the provider-assigned id
func (r *DeliveryLogRepository) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*model.DeliveryLog, error) {
	query := `SELECT ` + deliveryLogColumns + ` FROM delivery_logs WHERE provider_message_id = $1`
	return r.getOne(ctx, query, providerMessageID)
}

func (r *DeliveryLogRepository) getOne(ctx context.Context, query string, arg any) (*model.DeliveryLog, error) {
	log, err := scanDeliveryLog(r.DB.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return log, nil
}

// ApplyTransition performs the status change in a single guarded UPDATE so
// concurrent writers for the same row cannot downgrade it.
func (r *DeliveryLogRepository) ApplyTransition(ctx context.Context, t model.Transition) (bool, error) {
	if !t.Status.Valid() || t.Status == model.StatusPending {
		return false, fmt.Errorf("apply transition: invalid target status %q", t.Status)
	}
	entry, err := json.Marshal([]model.MetadataEntry{t.Entry})
	if err != nil {
		return false, fmt.Errorf("encode metadata entry: %w", err)
	}
	at := t.At
	if at.IsZero() {
		at = r.clock.Now()
	}

	query := `
        UPDATE delivery_logs
        SET status = $1,
            status_priority = $2,
            metadata = metadata || $3::jsonb,
            provider_message_id = COALESCE(provider_message_id, $4),
            updated_at = $5
        WHERE id = $6
          AND (status = 'pending' OR status_priority < $2)
    `
	res, err := r.DB.ExecContext(ctx, query,
		string(t.Status),
		t.Status.Priority(),
		string(entry),
		nullString(t.ProviderMessageID),
		at,
		t.LogID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, ErrProviderMessageIDConflict
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// List returns delivery logs newest first with the total matching count.
func (r *DeliveryLogRepository) List(ctx context.Context, filter model.LogFilter) ([]*model.DeliveryLog, int, error) {
	filter = filter.Normalize()

	where := ` WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if filter.Recipient != "" {
		where += fmt.Sprintf(" AND recipient=$%d", argPos)
		args = append(args, filter.Recipient)
		argPos++
	}
	if filter.Status != "" {
		where += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, string(filter.Status))
		argPos++
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM delivery_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + deliveryLogColumns + ` FROM delivery_logs` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, filter.PageSize, filter.Offset())

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	logs := []*model.DeliveryLog{}
	for rows.Next() {
		log, err := scanDeliveryLog(rows)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

func (r *DeliveryLogRepository) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM delivery_logs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[model.Status]int, len(model.Statuses()))
	for _, s := range model.Statuses() {
		stats[s] = 0
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[model.Status(status)] = count
	}
	return stats, rows.Err()
}

func (r *DeliveryLogRepository) CountStuckPending(ctx context.Context, olderThan time.Time) (int, error) {
	var count int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM delivery_logs WHERE status = 'pending' AND created_at < $1`,
		olderThan,
	).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeliveryLog(row rowScanner) (*model.DeliveryLog, error) {
	var (
		log               model.DeliveryLog
		providerMessageID sql.NullString
		status            string
		metadata          []byte
	)
	err := row.Scan(
		&log.ID,
		&log.Recipient,
		&log.Subject,
		&log.TemplateID,
		&providerMessageID,
		&status,
		&metadata,
		&log.CreatedAt,
		&log.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	log.ProviderMessageID = providerMessageID.String
	log.Status = model.Status(status)
	log.Metadata = []model.MetadataEntry{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &log.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", log.ID, err)
		}
	}
	return &log, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

var _ LogStore = (*DeliveryLogRepository)(nil)
