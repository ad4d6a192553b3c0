// Package files is the engine's port onto the external file-storage
// collaborator. The engine never inspects file bytes; it only reserves and
// releases serials and record rows so a failed settlement can compensate.
package files

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-oa/meridian-oa/internal/sequence"
)

// FileRecord is the persisted reservation for one uploaded document.
type FileRecord struct {
	ID         uuid.UUID
	OfficeID   int64
	Category   sequence.Category
	Serial     int64
	Name       string
	UploadedBy int64
	Deleted    bool
	CreatedAt  time.Time
}

// Storage is the collaborator contract consumed by the settlement
// coordinator.
type Storage interface {
	// PrepareUpload reserves a serial and a record row for an upload.
	PrepareUpload(ctx context.Context, officeID int64, category sequence.Category, name string, uploadedBy int64) (FileRecord, error)
	// RollbackRecord soft-deletes a record created by a failed operation
	// and reports whether a row was actually removed.
	RollbackRecord(ctx context.Context, operatorID int64, id uuid.UUID) (bool, error)
	// RollbackSerial undoes a serial reservation when no later allocation
	// happened; otherwise it leaves the counter untouched.
	RollbackSerial(ctx context.Context, category sequence.Category, officeID int64, serial int64) error
}
