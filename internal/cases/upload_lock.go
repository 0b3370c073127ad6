// internal/cases/upload_lock.go
package cases

import (
	"github.com/roadcase/roadcase-go/internal/keylock"
	"github.com/roadcase/roadcase-go/internal/metrics"
)

// UploadLock admits one photo upload per case at a time. A second upload
// for the same case is refused rather than queued.
type UploadLock struct {
	m *keylock.Map
}

func NewUploadLock() *UploadLock {
	return &UploadLock{m: keylock.New()}
}

// TryAcquire returns a release func when no other upload holds caseID.
func (l *UploadLock) TryAcquire(caseID string) (func(), bool) {
	release, ok := l.m.TryLock(caseID)
	if !ok {
		metrics.NewMetrics().UploadLockRejected.Inc()
	}
	return release, ok
}

// Held reports whether an upload for caseID is in flight.
func (l *UploadLock) Held(caseID string) bool {
	return l.m.Held(caseID)
}
