package files

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-oa/meridian-oa/internal/sequence"
)

// Repository provides PostgreSQL backed record reservations, drawing file
// serials from the shared allocator.
type Repository struct {
	pool   *pgxpool.Pool
	seq    *sequence.Allocator
	logger *slog.Logger
}

var _ Storage = (*Repository)(nil)

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, seq *sequence.Allocator, logger *slog.Logger) *Repository {
	return &Repository{pool: pool, seq: seq, logger: logger}
}

func (r *Repository) PrepareUpload(ctx context.Context, officeID int64, category sequence.Category, name string, uploadedBy int64) (FileRecord, error) {
	serial, err := r.seq.Next(ctx, category, officeID)
	if err != nil {
		return FileRecord{}, fmt.Errorf("files: allocate serial: %w", err)
	}

	record := FileRecord{
		ID:         uuid.New(),
		OfficeID:   officeID,
		Category:   category,
		Serial:     serial,
		Name:       name,
		UploadedBy: uploadedBy,
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO file_records (id, office_id, category, serial, name, uploaded_by, deleted, created_at)
VALUES ($1, $2, $3, $4, $5, $6, false, now())`,
		record.ID, record.OfficeID, record.Category, record.Serial, record.Name, record.UploadedBy)
	if err != nil {
		// The insert failed after the serial was issued: give the serial
		// back before surfacing the failure.
		if _, rbErr := r.seq.Rollback(ctx, category, officeID, serial, true); rbErr != nil {
			r.logger.Error("files: serial rollback after failed insert",
				slog.Any("error", rbErr), slog.Int64("serial", serial))
		}
		return FileRecord{}, fmt.Errorf("files: insert record: %w", err)
	}
	return record, nil
}

func (r *Repository) RollbackRecord(ctx context.Context, operatorID int64, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE file_records SET deleted = true WHERE id = $1 AND uploaded_by = $2 AND NOT deleted`,
		id, operatorID)
	if err != nil {
		return false, fmt.Errorf("files: rollback record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) RollbackSerial(ctx context.Context, category sequence.Category, officeID int64, serial int64) error {
	// Non-exact mode: a concurrent allocation simply leaves the counter as
	// is rather than risking a reissued serial.
	_, err := r.seq.Rollback(ctx, category, officeID, serial, false)
	return err
}
