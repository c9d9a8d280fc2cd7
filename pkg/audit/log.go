package audit

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Cipher protects sensitive entry details at rest
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Log is an append-only, indexed record of every action in the system.
// It is a sink: nothing reads it back into protocol decisions. The
// in-memory window is capped; eviction is explicit, counted, and the
// durable store keeps the full stream.
type Log struct {
	entries    []*Entry
	byID       map[string]*Entry
	maxEntries int
	evicted    uint64
	warned     bool

	store  Store
	cipher Cipher
	logger *zap.Logger
	mu     sync.RWMutex

	// storeMu spans the in-memory append and the durable append so the
	// store receives entries in the same order they were recorded.
	storeMu sync.Mutex
}

// Option configures a Log
type Option func(*Log)

// WithCipher enables encryption of entries marked sensitive
func WithCipher(c Cipher) Option {
	return func(l *Log) { l.cipher = c }
}

// NewLog creates an audit log writing through to the given store
func NewLog(store Store, maxEntries int, logger *zap.Logger, opts ...Option) *Log {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	l := &Log{
		byID:       make(map[string]*Entry),
		maxEntries: maxEntries,
		store:      store,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateEntry assigns an id and timestamp, computes the integrity hash,
// appends the entry, and persists it to the durable store. The entry is
// retained in memory even if persistence fails; the error is returned
// so the caller can surface it.
func (l *Log) CreateEntry(params EntryParams) (Entry, error) {
	if params.Action == "" {
		return Entry{}, ErrMissingAction
	}

	entry := &Entry{
		ID:         uuid.New().String(),
		Timestamp:  time.Now(),
		UserID:     params.UserID,
		Action:     params.Action,
		Resource:   params.Resource,
		ResourceID: params.ResourceID,
		Details:    params.Details,
		Severity:   params.Severity,
		Category:   params.Category,
		Outcome:    params.Outcome,
	}
	if entry.Severity == "" {
		entry.Severity = SeverityInfo
	}
	if entry.Category == "" {
		entry.Category = CategoryGeneral
	}
	if entry.Outcome == "" {
		entry.Outcome = OutcomeSuccess
	}
	entry.DataHash = computeHash(entry)

	if params.Sensitive && l.cipher != nil {
		if err := l.sealDetails(entry); err != nil {
			return Entry{}, fmt.Errorf("encrypting details: %w", err)
		}
	}

	l.storeMu.Lock()
	defer l.storeMu.Unlock()

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.byID[entry.ID] = entry
	l.evictLocked()
	l.mu.Unlock()

	var storeErr error
	if l.store != nil {
		if err := l.store.Append(entry); err != nil {
			storeErr = fmt.Errorf("persisting audit entry: %w", err)
			l.logger.Error("Audit store append failed",
				zap.String("entryID", entry.ID),
				zap.Error(err))
		}
	}

	return *entry, storeErr
}

// Convenience loggers. Thin wrappers over CreateEntry setting
// category/severity defaults; persistence errors are logged but not
// propagated from these helpers.

func (l *Log) LogUserAction(userID, action, resource string, details map[string]any) Entry {
	return l.mustCreate(EntryParams{
		UserID:   userID,
		Action:   action,
		Resource: resource,
		Details:  details,
		Category: CategoryUserAction,
	})
}

func (l *Log) LogSystemEvent(action string, details map[string]any) Entry {
	return l.mustCreate(EntryParams{
		Action:   action,
		Details:  details,
		Category: CategorySystemEvent,
	})
}

func (l *Log) LogSecurityEvent(action string, details map[string]any, severity Severity) Entry {
	if severity == "" {
		severity = SeverityWarning
	}
	return l.mustCreate(EntryParams{
		Action:   action,
		Details:  details,
		Category: CategorySecurity,
		Severity: severity,
	})
}

func (l *Log) LogDataAccess(userID, resource, resourceID string, details map[string]any) Entry {
	return l.mustCreate(EntryParams{
		UserID:     userID,
		Action:     "data_access",
		Resource:   resource,
		ResourceID: resourceID,
		Details:    details,
		Category:   CategoryDataAccess,
	})
}

func (l *Log) LogDataModification(userID, action, resource, resourceID string, details map[string]any) Entry {
	return l.mustCreate(EntryParams{
		UserID:     userID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Details:    details,
		Category:   CategoryDataChange,
	})
}

func (l *Log) LogAuthentication(userID, action string, success bool, details map[string]any) Entry {
	severity := SeverityInfo
	outcome := OutcomeSuccess
	if !success {
		severity = SeverityWarning
		outcome = OutcomeFailure
	}
	return l.mustCreate(EntryParams{
		UserID:   userID,
		Action:   "auth_" + action,
		Details:  details,
		Category: CategoryAuthentication,
		Severity: severity,
		Outcome:  outcome,
	})
}

func (l *Log) LogAuthorization(userID, action, resource string, success bool, details map[string]any) Entry {
	severity := SeverityInfo
	outcome := OutcomeSuccess
	if !success {
		severity = SeverityWarning
		outcome = OutcomeFailure
	}
	return l.mustCreate(EntryParams{
		UserID:   userID,
		Action:   "authz_" + action,
		Resource: resource,
		Details:  details,
		Category: CategoryAuthorization,
		Severity: severity,
		Outcome:  outcome,
	})
}

func (l *Log) LogError(action string, err error, details map[string]any) Entry {
	if details == nil {
		details = make(map[string]any)
	}
	details["error"] = err.Error()
	return l.mustCreate(EntryParams{
		Action:   action,
		Details:  details,
		Category: CategoryError,
		Severity: SeverityError,
		Outcome:  OutcomeFailure,
	})
}

func (l *Log) LogTransaction(transactionID, action string, details map[string]any) Entry {
	return l.mustCreate(EntryParams{
		Action:     "tx_" + action,
		Resource:   "transaction",
		ResourceID: transactionID,
		Details:    details,
		Category:   CategoryTransaction,
	})
}

func (l *Log) LogComplianceEvent(action string, details map[string]any) Entry {
	return l.mustCreate(EntryParams{
		Action:   action,
		Details:  details,
		Category: CategoryCompliance,
	})
}

func (l *Log) LogAuditAccess(userID, action string, details map[string]any) Entry {
	return l.mustCreate(EntryParams{
		UserID:   userID,
		Action:   "audit_" + action,
		Resource: "audit_trail",
		Details:  details,
		Category: CategoryAuditAccess,
	})
}

// Search filters entries, newest first
func (l *Log) Search(filter Filter) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var results []Entry
	for _, e := range l.entries {
		if matches(e, filter) {
			results = append(results, *e)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Timestamp.After(results[j].Timestamp)
	})

	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results
}

// Statistics aggregates the entries matching the filter
func (l *Log) Statistics(filter Filter) Statistics {
	entries := l.Search(filter)

	stats := Statistics{
		TotalEntries: len(entries),
		ByCategory:   make(map[string]int),
		BySeverity:   make(map[string]int),
		ByOutcome:    make(map[string]int),
		ByAction:     make(map[string]int),
		ByUser:       make(map[string]int),
	}

	l.mu.RLock()
	stats.Evicted = l.evicted
	l.mu.RUnlock()

	for _, e := range entries {
		stats.ByCategory[e.Category]++
		stats.BySeverity[string(e.Severity)]++
		stats.ByOutcome[string(e.Outcome)]++
		stats.ByAction[e.Action]++
		if e.UserID != "" {
			stats.ByUser[e.UserID]++
		}
	}

	if len(entries) > 0 {
		// Search returns newest first.
		end := entries[0].Timestamp
		start := entries[len(entries)-1].Timestamp
		stats.RangeStart = &start
		stats.RangeEnd = &end
	}
	return stats
}

// VerifyIntegrity recomputes an entry's hash and compares it to the
// stored value. A mismatch signals tampering. The hash covers the
// plaintext details, so sealed entries are unsealed before recomputing.
func (l *Log) VerifyIntegrity(entryID string) (IntegrityResult, error) {
	l.mu.RLock()
	entry, ok := l.byID[entryID]
	l.mu.RUnlock()
	if !ok {
		return IntegrityResult{}, ErrNotFound
	}

	subject := *entry
	if subject.EncryptedDetails != "" {
		details, err := l.DecryptDetails(subject)
		if err != nil {
			return IntegrityResult{}, fmt.Errorf("unsealing details: %w", err)
		}
		subject.Details = details
	}

	expected := computeHash(&subject)
	return IntegrityResult{
		Valid:        expected == entry.DataHash,
		ExpectedHash: expected,
		ActualHash:   entry.DataHash,
	}, nil
}

// DecryptDetails recovers the details of an entry stored encrypted
func (l *Log) DecryptDetails(entry Entry) (map[string]any, error) {
	if entry.EncryptedDetails == "" {
		return entry.Details, nil
	}
	if l.cipher == nil {
		return nil, fmt.Errorf("log has no cipher configured")
	}

	raw, err := base64.StdEncoding.DecodeString(entry.EncryptedDetails)
	if err != nil {
		return nil, fmt.Errorf("decoding encrypted details: %w", err)
	}
	plain, err := l.cipher.Decrypt(raw)
	if err != nil {
		return nil, fmt.Errorf("decrypting details: %w", err)
	}

	var details map[string]any
	if err := json.Unmarshal(plain, &details); err != nil {
		return nil, fmt.Errorf("decoding details: %w", err)
	}
	return details, nil
}

// RecentEntries returns up to limit entries, newest first
func (l *Log) RecentEntries(limit int) []Entry {
	return l.Search(Filter{Limit: limit})
}

// TrailByUser returns a user's recent entries
func (l *Log) TrailByUser(userID string, limit int) []Entry {
	return l.Search(Filter{UserID: userID, Limit: limit})
}

// TrailByResource returns a resource's recent entries
func (l *Log) TrailByResource(resource string, limit int) []Entry {
	return l.Search(Filter{Resource: resource, Limit: limit})
}

// CleanupOlderThan drops entries older than the given retention window
// from the in-memory view and returns the number removed. The durable
// store is untouched.
func (l *Log) CleanupOlderThan(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.entries[:0]
	removed := 0
	for _, e := range l.entries {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		} else {
			delete(l.byID, e.ID)
			removed++
		}
	}
	l.entries = kept

	if removed > 0 {
		l.logger.Info("Audit retention cleanup",
			zap.Int("removed", removed),
			zap.Duration("retention", retention))
	}
	return removed
}

// Export serializes the filtered entries. JSON is the only supported
// format.
func (l *Log) Export(filter Filter, format string) ([]byte, error) {
	if format != "json" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return json.MarshalIndent(l.Search(filter), "", "  ")
}

// Size returns the number of entries currently held in memory
func (l *Log) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Evicted returns how many entries the retention cap has dropped
func (l *Log) Evicted() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.evicted
}

// Internal methods

func (l *Log) mustCreate(params EntryParams) Entry {
	entry, err := l.CreateEntry(params)
	if err != nil {
		l.logger.Warn("Audit entry not fully persisted", zap.Error(err))
	}
	return entry
}

// evictLocked enforces the in-memory cap. Must be called with l.mu held.
func (l *Log) evictLocked() {
	if len(l.entries) <= l.maxEntries {
		return
	}

	excess := len(l.entries) - l.maxEntries
	for _, e := range l.entries[:excess] {
		delete(l.byID, e.ID)
	}
	l.entries = l.entries[excess:]
	l.evicted += uint64(excess)

	if !l.warned {
		l.warned = true
		l.logger.Warn("Audit log capacity reached, evicting oldest entries",
			zap.Int("cap", l.maxEntries))
	}
}

func (l *Log) sealDetails(entry *Entry) error {
	plain, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}
	sealed, err := l.cipher.Encrypt(plain)
	if err != nil {
		return err
	}
	entry.EncryptedDetails = base64.StdEncoding.EncodeToString(sealed)
	entry.Details = nil
	return nil
}

// computeHash covers only the semantically meaningful fields. Details
// maps serialize with sorted keys, so the encoding is canonical.
func computeHash(e *Entry) string {
	payload := struct {
		UserID     string         `json:"user_id"`
		Action     string         `json:"action"`
		Resource   string         `json:"resource"`
		ResourceID string         `json:"resource_id"`
		Details    map[string]any `json:"details"`
	}{e.UserID, e.Action, e.Resource, e.ResourceID, e.Details}

	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func matches(e *Entry, f Filter) bool {
	if f.StartDate != nil && e.Timestamp.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && e.Timestamp.After(*f.EndDate) {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Action != "" && !strings.Contains(e.Action, f.Action) {
		return false
	}
	if f.Resource != "" && e.Resource != f.Resource {
		return false
	}
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	if f.SearchTerm != "" {
		term := strings.ToLower(f.SearchTerm)
		details, _ := json.Marshal(e.Details)
		if !strings.Contains(strings.ToLower(string(details)), term) &&
			!strings.Contains(strings.ToLower(e.Action), term) &&
			!strings.Contains(strings.ToLower(e.Resource), term) {
			return false
		}
	}
	return true
}
