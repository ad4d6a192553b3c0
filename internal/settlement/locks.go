package settlement

import (
	"sync"

	"github.com/meridian-oa/meridian-oa/internal/activity"
)

// lockSet holds the named coarse-grained locks serialising coordinator
// operations: one per document type for creation, one per document type
// for mutating existing documents, and one shared file-upload lock. Each
// operation holds its lock for its whole duration, persistence write
// included.
type lockSet struct {
	claimCreate   sync.Mutex
	claimMutate   sync.Mutex
	advanceCreate sync.Mutex
	advanceMutate sync.Mutex
	fileUpload    sync.Mutex
}

func (l *lockSet) creation(docType activity.DocType) *sync.Mutex {
	if docType == activity.DocCashAdvancement {
		return &l.advanceCreate
	}
	return &l.claimCreate
}

func (l *lockSet) mutation(docType activity.DocType) *sync.Mutex {
	if docType == activity.DocCashAdvancement {
		return &l.advanceMutate
	}
	return &l.claimMutate
}

func (l *lockSet) upload() *sync.Mutex {
	return &l.fileUpload
}
