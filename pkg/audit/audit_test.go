package audit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLog(maxEntries int, opts ...Option) *Log {
	return NewLog(NopStore{}, maxEntries, zap.NewNop(), opts...)
}

func TestCreateEntryRequiresAction(t *testing.T) {
	log := newTestLog(100)

	_, err := log.CreateEntry(EntryParams{UserID: "u1"})
	assert.ErrorIs(t, err, ErrMissingAction)
}

func TestCreateEntryDefaults(t *testing.T) {
	log := newTestLog(100)

	entry, err := log.CreateEntry(EntryParams{Action: "fund_allocated"})
	require.NoError(t, err)

	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.Timestamp.IsZero())
	assert.Equal(t, SeverityInfo, entry.Severity)
	assert.Equal(t, CategoryGeneral, entry.Category)
	assert.Equal(t, OutcomeSuccess, entry.Outcome)
	assert.NotEmpty(t, entry.DataHash)
}

func TestHashStability(t *testing.T) {
	log := newTestLog(100)

	params := EntryParams{
		UserID:     "u1",
		Action:     "fund_allocated",
		Resource:   "center",
		ResourceID: "c1",
		Details:    map[string]any{"amount": 250.0, "purpose": "equipment"},
	}

	first, err := log.CreateEntry(params)
	require.NoError(t, err)
	second, err := log.CreateEntry(params)
	require.NoError(t, err)

	assert.Equal(t, first.DataHash, second.DataHash)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestVerifyIntegrity(t *testing.T) {
	log := newTestLog(100)

	entry, err := log.CreateEntry(EntryParams{
		UserID:  "u1",
		Action:  "fund_allocated",
		Details: map[string]any{"amount": 100.0},
	})
	require.NoError(t, err)

	result, err := log.VerifyIntegrity(entry.ID)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, result.ExpectedHash, result.ActualHash)

	// Tamper with the stored entry directly.
	log.mu.Lock()
	log.byID[entry.ID].Details["amount"] = 9999.0
	log.mu.Unlock()

	result, err = log.VerifyIntegrity(entry.ID)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.NotEqual(t, result.ExpectedHash, result.ActualHash)
}

func TestVerifyIntegrityUnknownEntry(t *testing.T) {
	log := newTestLog(100)

	_, err := log.VerifyIntegrity("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearchFilters(t *testing.T) {
	log := newTestLog(100)

	log.LogUserAction("alice", "fund_allocated", "center", map[string]any{"amount": 50.0})
	log.LogUserAction("bob", "fund_allocated", "center", nil)
	log.LogSecurityEvent("intrusion_detected", nil, SeverityError)
	log.LogUserAction("alice", "report_submitted", "report", nil)

	byUser := log.Search(Filter{UserID: "alice"})
	assert.Len(t, byUser, 2)

	byCategory := log.Search(Filter{Category: CategorySecurity})
	require.Len(t, byCategory, 1)
	assert.Equal(t, "intrusion_detected", byCategory[0].Action)

	byAction := log.Search(Filter{Action: "fund"})
	assert.Len(t, byAction, 2)

	byTerm := log.Search(Filter{SearchTerm: "amount"})
	assert.Len(t, byTerm, 1)

	limited := log.Search(Filter{Limit: 2})
	assert.Len(t, limited, 2)
}

func TestSearchNewestFirst(t *testing.T) {
	log := newTestLog(100)

	first := log.LogSystemEvent("startup", nil)
	time.Sleep(2 * time.Millisecond)
	second := log.LogSystemEvent("shutdown", nil)

	results := log.Search(Filter{})
	require.Len(t, results, 2)
	assert.Equal(t, second.ID, results[0].ID)
	assert.Equal(t, first.ID, results[1].ID)
}

func TestStatistics(t *testing.T) {
	log := newTestLog(100)

	log.LogUserAction("alice", "fund_allocated", "center", nil)
	log.LogUserAction("alice", "fund_allocated", "center", nil)
	log.LogAuthentication("bob", "login", false, nil)

	stats := log.Statistics(Filter{})
	assert.Equal(t, 3, stats.TotalEntries)
	assert.Equal(t, 2, stats.ByUser["alice"])
	assert.Equal(t, 2, stats.ByAction["fund_allocated"])
	assert.Equal(t, 1, stats.ByOutcome[string(OutcomeFailure)])
	assert.Equal(t, 2, stats.ByCategory[CategoryUserAction])
	require.NotNil(t, stats.RangeStart)
	require.NotNil(t, stats.RangeEnd)
	assert.False(t, stats.RangeEnd.Before(*stats.RangeStart))
}

func TestEviction(t *testing.T) {
	log := newTestLog(5)

	var oldest Entry
	for i := 0; i < 8; i++ {
		e := log.LogSystemEvent("tick", map[string]any{"seq": i})
		if i == 0 {
			oldest = e
		}
	}

	assert.Equal(t, 5, log.Size())
	assert.Equal(t, uint64(3), log.Evicted())

	_, err := log.VerifyIntegrity(oldest.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	stats := log.Statistics(Filter{})
	assert.Equal(t, uint64(3), stats.Evicted)
}

func TestCleanupOlderThan(t *testing.T) {
	log := newTestLog(100)

	old := log.LogSystemEvent("old_event", nil)
	log.mu.Lock()
	log.byID[old.ID].Timestamp = time.Now().Add(-48 * time.Hour)
	log.mu.Unlock()

	recent := log.LogSystemEvent("recent_event", nil)

	removed := log.CleanupOlderThan(24 * time.Hour)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, log.Size())

	_, err := log.VerifyIntegrity(recent.ID)
	assert.NoError(t, err)
	_, err = log.VerifyIntegrity(old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExport(t *testing.T) {
	log := newTestLog(100)
	log.LogUserAction("alice", "fund_allocated", "center", nil)

	data, err := log.Export(Filter{}, "json")
	require.NoError(t, err)
	assert.Contains(t, string(data), "fund_allocated")

	_, err = log.Export(Filter{}, "csv")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestTrails(t *testing.T) {
	log := newTestLog(100)

	log.LogDataAccess("alice", "farmer", "f1", nil)
	log.LogDataModification("alice", "update_profile", "farmer", "f1", nil)
	log.LogDataAccess("bob", "center", "c1", nil)

	assert.Len(t, log.TrailByUser("alice", 10), 2)
	assert.Len(t, log.TrailByResource("farmer", 10), 2)
	assert.Len(t, log.RecentEntries(10), 3)
}

type xorCipher struct{ key byte }

func (c xorCipher) Encrypt(p []byte) ([]byte, error) {
	out := make([]byte, len(p))
	for i, b := range p {
		out[i] = b ^ c.key
	}
	return out, nil
}

func (c xorCipher) Decrypt(p []byte) ([]byte, error) { return c.Encrypt(p) }

func TestSensitiveDetailsEncrypted(t *testing.T) {
	log := newTestLog(100, WithCipher(xorCipher{key: 0x5a}))

	entry, err := log.CreateEntry(EntryParams{
		UserID:    "alice",
		Action:    "kyc_submitted",
		Details:   map[string]any{"aadhaar": "234567890123"},
		Sensitive: true,
	})
	require.NoError(t, err)

	assert.Nil(t, entry.Details)
	assert.NotEmpty(t, entry.EncryptedDetails)

	details, err := log.DecryptDetails(entry)
	require.NoError(t, err)
	assert.Equal(t, "234567890123", details["aadhaar"])
}

func TestVerifyIntegritySealedEntry(t *testing.T) {
	log := newTestLog(100, WithCipher(xorCipher{key: 0x5a}))

	entry, err := log.CreateEntry(EntryParams{
		UserID:    "alice",
		Action:    "kyc_submitted",
		Details:   map[string]any{"aadhaar": "234567890123"},
		Sensitive: true,
	})
	require.NoError(t, err)

	result, err := log.VerifyIntegrity(entry.ID)
	require.NoError(t, err)
	assert.True(t, result.Valid)

	// Swap in another entry's sealed payload to simulate tampering.
	other, err := log.CreateEntry(EntryParams{
		UserID:    "alice",
		Action:    "kyc_submitted",
		Details:   map[string]any{"aadhaar": "999999999999"},
		Sensitive: true,
	})
	require.NoError(t, err)

	log.mu.Lock()
	log.byID[entry.ID].EncryptedDetails = other.EncryptedDetails
	log.mu.Unlock()

	result, err = log.VerifyIntegrity(entry.ID)
	require.NoError(t, err)
	assert.False(t, result.Valid)
}

type recordingStore struct {
	mu  sync.Mutex
	ids []string
}

func (s *recordingStore) Append(entry *Entry) error {
	s.mu.Lock()
	s.ids = append(s.ids, entry.ID)
	s.mu.Unlock()
	return nil
}

func (s *recordingStore) Close() error { return nil }

func TestStoreAppendOrderMatchesMemory(t *testing.T) {
	store := &recordingStore{}
	log := NewLog(store, 1000, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				log.LogSystemEvent("tick", nil)
			}
		}()
	}
	wg.Wait()

	log.mu.RLock()
	memOrder := make([]string, len(log.entries))
	for i, e := range log.entries {
		memOrder[i] = e.ID
	}
	log.mu.RUnlock()

	require.Len(t, store.ids, 200)
	assert.Equal(t, memOrder, store.ids)
}
