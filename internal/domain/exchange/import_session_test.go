package exchange

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) *ImportSession {
	t.Helper()
	s, err := NewImportSession(ImportTypeCatalog, "sess-1", "/data/import/sess-1", "")
	require.NoError(t, err)
	return s
}

func TestImportTypeFromFilename(t *testing.T) {
	tests := []struct {
		filename string
		want     ImportType
	}{
		{"contragents.xml", ImportTypeCustomers},
		{"rests_1.xml", ImportTypeStocks},
		{"prices___a1b2.xml", ImportTypePrices},
		{"import_files/photo.jpg", ImportTypeImages},
		{"goods.xml", ImportTypeCatalog},
		{"offers.xml", ImportTypeCatalog},
		{"", ImportTypeCatalog},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.want, ImportTypeFromFilename(tt.filename))
		})
	}
}

func TestNewImportSession(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		s := newTestSession(t)
		assert.Equal(t, SessionStatusPending, s.Status)
		assert.Equal(t, 1, s.Attempt)
		assert.Contains(t, s.Report, "session created for catalog import")
		assert.Equal(t, 0, s.Stats.Get(StatCreated))
	})

	t.Run("invalid type", func(t *testing.T) {
		_, err := NewImportSession(ImportType("bogus"), "", "/tmp", "")
		require.Error(t, err)
	})

	t.Run("empty data dir", func(t *testing.T) {
		_, err := NewImportSession(ImportTypePrices, "", "", "")
		require.Error(t, err)
	})
}

func TestImportSession_HappyPath(t *testing.T) {
	s := newTestSession(t)

	require.NoError(t, s.MarkQueued("task-1"))
	require.NoError(t, s.Start())
	assert.Equal(t, SessionStatusStarted, s.Status)
	assert.NotNil(t, s.StartedAt)

	require.NoError(t, s.BeginProcessing())
	assert.Equal(t, SessionStatusInProgress, s.Status)

	stats := NewImportStats()
	stats.Inc(StatCreated, 3)
	require.NoError(t, s.RecordProgress(stats, "phase A done"))

	require.NoError(t, s.Complete(stats))
	assert.Equal(t, SessionStatusCompleted, s.Status)
	assert.NotNil(t, s.FinishedAt)
	assert.Equal(t, 3, s.Stats.Get(StatCreated))
	assert.Len(t, s.GetDomainEvents(), 1)

	lines := strings.Split(s.Report, "\n")
	assert.GreaterOrEqual(t, len(lines), 6)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "["), "report line %q is not timestamped", line)
	}
}

func TestImportSession_InvalidTransitions(t *testing.T) {
	s := newTestSession(t)

	assert.Error(t, s.BeginProcessing(), "cannot skip started")
	assert.Error(t, s.Complete(NewImportStats()), "cannot complete a pending session")
	assert.Error(t, s.RecordProgress(NewImportStats(), "x"))

	require.NoError(t, s.Start())
	assert.Error(t, s.Start(), "cannot start twice")
}

func TestImportSession_Fail(t *testing.T) {
	for _, status := range []SessionStatus{SessionStatusPending, SessionStatusStarted, SessionStatusInProgress} {
		t.Run(string(status), func(t *testing.T) {
			s := newTestSession(t)
			s.Status = status
			require.NoError(t, s.Fail(FailureTransient, "lock busy"))
			assert.Equal(t, SessionStatusFailed, s.Status)
			assert.Equal(t, FailureTransient, s.FailureCategory)
			assert.Equal(t, "lock busy", s.ErrorMessage)
		})
	}

	t.Run("terminal", func(t *testing.T) {
		s := newTestSession(t)
		s.Status = SessionStatusCompleted
		assert.Error(t, s.Fail(FailureUnexpected, "boom"))
		assert.Equal(t, SessionStatusCompleted, s.Status)
	})
}

func TestImportSession_ReportIsAppendOnly(t *testing.T) {
	s := newTestSession(t)
	before := s.Report
	s.AppendReport("unpacked archive")
	assert.True(t, strings.HasPrefix(s.Report, before))
	assert.Contains(t, s.Report, "unpacked archive")
}

func TestImportSession_IsStale(t *testing.T) {
	s := newTestSession(t)
	now := time.Now()
	s.UpdatedAt = now.Add(-3 * time.Hour)

	assert.False(t, s.IsStale(now, 2*time.Hour), "pending sessions are never stale")

	s.Status = SessionStatusInProgress
	assert.True(t, s.IsStale(now, 2*time.Hour))
	assert.False(t, s.IsStale(now, 4*time.Hour))
}

func TestImportSession_NewRetry(t *testing.T) {
	s := newTestSession(t)
	_, err := s.NewRetry()
	require.Error(t, err)

	require.NoError(t, s.Fail(FailureTimeout, "deadline"))
	next, err := s.NewRetry()
	require.NoError(t, err)
	assert.Equal(t, SessionStatusPending, next.Status)
	assert.Equal(t, 2, next.Attempt)
	require.NotNil(t, next.RetryOf)
	assert.Equal(t, s.ID, *next.RetryOf)
	assert.NotEqual(t, s.ID, next.ID)
	assert.Equal(t, SessionStatusFailed, s.Status)
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		category  FailureCategory
		retryable bool
	}{
		{"validation", NewValidationError("MISSING_DIR", "missing mandatory subdirectory: goods"), FailureValidation, false},
		{"protocol", ErrNoSession, FailureValidation, false},
		{"transient", ErrLockNotAcquired, FailureTransient, true},
		{"wrapped transient", fmt.Errorf("run: %w", ErrLockNotAcquired), FailureTransient, true},
		{"timeout", fmt.Errorf("phase B: %w", context.DeadlineExceeded), FailureTimeout, true},
		{"integrity", NewDataIntegrityError("DUP", "duplicate sku", nil), FailureUnexpected, false},
		{"plain", fmt.Errorf("boom"), FailureUnexpected, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.category, CategoryOf(tt.err))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestImportStats_Merge(t *testing.T) {
	a := NewImportStats()
	a.Inc(StatCreated, 2)
	b := ImportStats{StatCreated: 1, "phase_b_variants": 4}

	merged := a.Merge(b)
	assert.Equal(t, 3, merged.Get(StatCreated))
	assert.Equal(t, 4, merged.Get("phase_b_variants"))
	assert.Equal(t, 2, a.Get(StatCreated), "operands are not mutated")
	assert.Contains(t, merged.Summary(), "created=3")
}
