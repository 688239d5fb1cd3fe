package report

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/emandor/labscan_service/internal/quota"
)

type Store interface {
	Create(ctx context.Context, r *Report) error
	Update(ctx context.Context, r *Report) error
	Get(ctx context.Context, userID, id int64) (*Report, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]Report, error)
}

type UserStore interface {
	Quota(ctx context.Context, userID int64) (quota.UserQuota, error)
	IncrementUsed(ctx context.Context, userID int64) error
}

// SQLStore keeps reports and user quota in MySQL.
type SQLStore struct {
	db *sqlx.DB
}

func NewSQLStore(db *sqlx.DB) *SQLStore { return &SQLStore{db: db} }

const reportColumns = `id, user_id, request_id, file_name, media_type, doc_hash, page_count, state,
	ocr_text, diagnosis, source, latency_ms, error_kind, error_text, created_at, updated_at`

func (s *SQLStore) Create(ctx context.Context, r *Report) error {
	now := time.Now().UTC().Truncate(time.Second)
	r.CreatedAt, r.UpdatedAt = now, now
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO reports
			(user_id, request_id, file_name, media_type, doc_hash, page_count, state,
			 ocr_text, diagnosis, source, latency_ms, error_kind, error_text, created_at, updated_at)
		VALUES
			(:user_id, :request_id, :file_name, :media_type, :doc_hash, :page_count, :state,
			 :ocr_text, :diagnosis, :source, :latency_ms, :error_kind, :error_text, :created_at, :updated_at)`, r)
	if err != nil {
		return err
	}
	r.ID, err = res.LastInsertId()
	return err
}

func (s *SQLStore) Update(ctx context.Context, r *Report) error {
	r.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	_, err := s.db.NamedExecContext(ctx, `
		UPDATE reports SET
			media_type=:media_type, page_count=:page_count, state=:state,
			ocr_text=:ocr_text, diagnosis=:diagnosis, source=:source, latency_ms=:latency_ms,
			error_kind=:error_kind, error_text=:error_text, updated_at=:updated_at
		WHERE id=:id`, r)
	return err
}

func (s *SQLStore) Get(ctx context.Context, userID, id int64) (*Report, error) {
	var r Report
	err := s.db.GetContext(ctx, &r, `SELECT `+reportColumns+` FROM reports WHERE id=? AND user_id=?`, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLStore) ListByUser(ctx context.Context, userID int64, limit int) ([]Report, error) {
	rows := []Report{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+reportColumns+`
		FROM reports
		WHERE user_id=? ORDER BY id DESC LIMIT ?`, userID, limit)
	return rows, err
}

func (s *SQLStore) Quota(ctx context.Context, userID int64) (quota.UserQuota, error) {
	var uq quota.UserQuota
	err := s.db.GetContext(ctx, &uq, `SELECT report_quota, report_used FROM users WHERE id=?`, userID)
	return uq, err
}

// IncrementUsed fails with quota.ErrQuotaExceeded when nothing is left.
func (s *SQLStore) IncrementUsed(ctx context.Context, userID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET report_used=report_used+1 WHERE id=? AND report_used < report_quota`, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return quota.ErrQuotaExceeded
	}
	return nil
}
