package validation

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrRuleNotFound  = errors.New("validation rule not found")
	ErrRuleExists    = errors.New("validation rule already exists")
	ErrInvalidSchema = errors.New("invalid schema definition")
)

// FieldError describes one failed constraint
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result is the outcome of a validation pass. Data holds the payload
// with unknown fields stripped.
type Result struct {
	IsValid   bool           `json:"is_valid"`
	Errors    []FieldError   `json:"errors,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	RuleName  string         `json:"rule_name,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// BusinessContext carries externally-established facts for the business
// rule pass. The engine trusts these flags; assembling them accurately
// is the caller's responsibility.
type BusinessContext struct {
	Type string

	// Fund allocation
	CenterExists       bool
	CenterActive       bool
	KYCVerified        bool
	ComplianceApproved bool
	MaxAllocation      float64
	MinAllocation      float64
	AvailableBudget    float64

	// Registrations
	LocationExists   bool
	FarmerExists     bool
	AadhaarExists    bool
	CenterAtCapacity bool

	// Usage reports
	AvailableFunds float64
}

// TransactionData is the on-chain transaction envelope checked before
// submission to consensus.
type TransactionData struct {
	Hash     string  `json:"hash"`
	From     string  `json:"from"`
	To       string  `json:"to"`
	Value    string  `json:"value"`
	GasLimit uint64  `json:"gas_limit"`
	GasPrice float64 `json:"gas_price"`
	Nonce    int64   `json:"nonce"`
}

type historyRecord struct {
	ruleName string
	isValid  bool
	when     time.Time
}

// RuleStats counts outcomes for one named rule
type RuleStats struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// Stats summarizes recent validation activity
type Stats struct {
	Total       int                  `json:"total"`
	Successful  int                  `json:"successful"`
	Failed      int                  `json:"failed"`
	SuccessRate float64              `json:"success_rate"`
	ByRule      map[string]RuleStats `json:"by_rule"`
}

// Engine is a stateless, rule-driven input checker. The only mutable
// state is the rule registry and a bounded local history kept for
// statistics; that history is not the shared audit log.
type Engine struct {
	schemas     map[string]Schema
	history     []historyRecord
	historySize int
	logger      *zap.Logger
	mu          sync.RWMutex
}

// NewEngine creates a validation engine seeded with the default rules
func NewEngine(historySize int, logger *zap.Logger) *Engine {
	if historySize <= 0 {
		historySize = 1000
	}
	return &Engine{
		schemas:     defaultSchemas(),
		historySize: historySize,
		logger:      logger,
	}
}

// ValidateData checks a payload against a named schema. Field presence,
// type, numeric range, length, and pattern constraints are applied;
// unknown fields are stripped from the returned data.
func (e *Engine) ValidateData(ruleName string, data map[string]any) (Result, error) {
	e.mu.RLock()
	schema, ok := e.schemas[ruleName]
	e.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrRuleNotFound, ruleName)
	}

	var errs []FieldError
	cleaned := make(map[string]any)

	for field, rule := range schema {
		value, present := data[field]
		if !present || value == nil {
			if rule.Required {
				errs = append(errs, FieldError{Field: field, Message: "field is required"})
			}
			continue
		}

		if fieldErrs := checkField(field, value, rule); len(fieldErrs) > 0 {
			errs = append(errs, fieldErrs...)
			continue
		}
		cleaned[field] = value
	}

	result := Result{
		IsValid:   len(errs) == 0,
		Errors:    errs,
		Data:      cleaned,
		RuleName:  ruleName,
		Timestamp: time.Now(),
	}

	e.recordValidation(ruleName, result.IsValid)
	if !result.IsValid {
		e.logger.Debug("Schema validation failed",
			zap.String("rule", ruleName),
			zap.Int("errors", len(errs)))
	}

	return result, nil
}

// ValidateBusinessRules applies the contextual second pass after schema
// validation. It performs no lookups of its own.
func (e *Engine) ValidateBusinessRules(data map[string]any, ctx BusinessContext) Result {
	var errs []FieldError

	switch ctx.Type {
	case "fundAllocation":
		if !ctx.CenterExists {
			errs = append(errs, FieldError{Field: "centerAddress", Message: "training center does not exist"})
		}
		if !ctx.CenterActive {
			errs = append(errs, FieldError{Field: "centerAddress", Message: "training center is not active"})
		}
		if !ctx.KYCVerified {
			errs = append(errs, FieldError{Field: "centerAddress", Message: "center KYC verification required"})
		}
		if !ctx.ComplianceApproved {
			errs = append(errs, FieldError{Field: "centerAddress", Message: "center compliance approval required"})
		}
		if amount, ok := numberValue(data["amount"]); ok {
			if amount > ctx.MaxAllocation {
				errs = append(errs, FieldError{Field: "amount",
					Message: fmt.Sprintf("amount exceeds maximum allocation limit of %g ETH", ctx.MaxAllocation)})
			}
			if amount < ctx.MinAllocation {
				errs = append(errs, FieldError{Field: "amount",
					Message: fmt.Sprintf("amount below minimum allocation limit of %g ETH", ctx.MinAllocation)})
			}
			if amount > ctx.AvailableBudget {
				errs = append(errs, FieldError{Field: "amount", Message: "insufficient budget available"})
			}
		}

	case "centerRegistration":
		if ctx.CenterExists {
			errs = append(errs, FieldError{Field: "centerAddress", Message: "training center already registered"})
		}
		if ctx.LocationExists {
			errs = append(errs, FieldError{Field: "location", Message: "another center already exists at this location"})
		}

	case "farmerRegistration":
		if ctx.FarmerExists {
			errs = append(errs, FieldError{Field: "name", Message: "farmer already registered"})
		}
		if ctx.AadhaarExists {
			errs = append(errs, FieldError{Field: "aadharNumber", Message: "aadhaar number already registered"})
		}
		if ctx.CenterAtCapacity {
			errs = append(errs, FieldError{Field: "centerAddress", Message: "training center at maximum capacity"})
		}

	case "usageReport":
		if amount, ok := numberValue(data["amount"]); ok && amount > ctx.AvailableFunds {
			errs = append(errs, FieldError{Field: "amount", Message: "amount exceeds available funds"})
		}
		if purpose, ok := data["purpose"].(string); ok {
			if _, valid := validPurposes[purpose]; !valid {
				errs = append(errs, FieldError{Field: "purpose", Message: "invalid usage purpose"})
			}
		}
		if attachments, present := data["attachments"]; present {
			if !validAttachments(attachments) {
				errs = append(errs, FieldError{Field: "attachments", Message: "invalid attachment format"})
			}
		}
	}

	return Result{
		IsValid:   len(errs) == 0,
		Errors:    errs,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// ValidateTransaction checks an on-chain transaction envelope
func (e *Engine) ValidateTransaction(tx TransactionData) Result {
	var errs []FieldError

	if !txHashPattern.MatchString(tx.Hash) {
		errs = append(errs, FieldError{Field: "hash", Message: "invalid transaction hash"})
	}
	if !addressPattern.MatchString(tx.From) {
		errs = append(errs, FieldError{Field: "from", Message: "invalid sender address"})
	}
	if !addressPattern.MatchString(tx.To) {
		errs = append(errs, FieldError{Field: "to", Message: "invalid receiver address"})
	}
	if !validAmount(tx.Value) {
		errs = append(errs, FieldError{Field: "value", Message: "invalid transaction amount"})
	}
	if tx.GasLimit < 21000 {
		errs = append(errs, FieldError{Field: "gas_limit", Message: "invalid gas limit"})
	}
	if tx.GasPrice <= 0 {
		errs = append(errs, FieldError{Field: "gas_price", Message: "invalid gas price"})
	}
	if tx.Nonce < 0 {
		errs = append(errs, FieldError{Field: "nonce", Message: "invalid nonce"})
	}

	result := Result{
		IsValid:   len(errs) == 0,
		Errors:    errs,
		Timestamp: time.Now(),
	}

	e.recordValidation("transaction", result.IsValid)
	return result
}

// AddRule registers a custom schema under the given name
func (e *Engine) AddRule(ruleName string, schema Schema) error {
	if len(schema) == 0 {
		return ErrInvalidSchema
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.schemas[ruleName]; exists {
		return fmt.Errorf("%w: %s", ErrRuleExists, ruleName)
	}
	e.schemas[ruleName] = schema
	return nil
}

// RemoveRule deletes a schema from the registry
func (e *Engine) RemoveRule(ruleName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.schemas[ruleName]; !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, ruleName)
	}
	delete(e.schemas, ruleName)
	return nil
}

// Rules returns the names of all registered schemas
func (e *Engine) Rules() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.schemas))
	for name := range e.schemas {
		names = append(names, name)
	}
	return names
}

// Stats summarizes the bounded local validation history
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := Stats{ByRule: make(map[string]RuleStats)}
	for _, rec := range e.history {
		stats.Total++
		rule := stats.ByRule[rec.ruleName]
		rule.Total++
		if rec.isValid {
			stats.Successful++
			rule.Successful++
		} else {
			stats.Failed++
			rule.Failed++
		}
		stats.ByRule[rec.ruleName] = rule
	}

	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.Total) * 100
	}
	return stats
}

func (e *Engine) recordValidation(ruleName string, isValid bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.history = append(e.history, historyRecord{ruleName: ruleName, isValid: isValid, when: time.Now()})
	if len(e.history) > e.historySize {
		e.history = e.history[len(e.history)-e.historySize:]
	}
}

// Field checking helpers

func checkField(field string, value any, rule FieldRule) []FieldError {
	var errs []FieldError
	fail := func(msg string) {
		errs = append(errs, FieldError{Field: field, Message: msg})
	}

	switch rule.Type {
	case TypeString:
		s, ok := value.(string)
		if !ok {
			fail("must be a string")
			return errs
		}
		if rule.MinLen > 0 && len(s) < rule.MinLen {
			fail(fmt.Sprintf("must be at least %d characters", rule.MinLen))
		}
		if rule.MaxLen > 0 && len(s) > rule.MaxLen {
			fail(fmt.Sprintf("must be at most %d characters", rule.MaxLen))
		}
		if rule.Pattern != nil && !rule.Pattern.MatchString(s) {
			fail("has an invalid format")
		}

	case TypeNumber, TypeInteger:
		n, ok := numberValue(value)
		if !ok {
			fail("must be a number")
			return errs
		}
		if rule.Type == TypeInteger && n != math.Trunc(n) {
			fail("must be an integer")
		}
		if rule.Min != nil && n <= *rule.Min && rule.Type == TypeNumber {
			fail(fmt.Sprintf("must be greater than %g", *rule.Min))
		}
		if rule.Min != nil && n < *rule.Min && rule.Type == TypeInteger {
			fail(fmt.Sprintf("must be at least %g", *rule.Min))
		}
		if rule.Max != nil && n > *rule.Max {
			fail(fmt.Sprintf("must be at most %g", *rule.Max))
		}

	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			fail("must be a boolean")
		}

	case TypeStringSlice:
		if !validAttachments(value) {
			fail("must be a list of strings")
		}
	}

	return errs
}

func numberValue(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func validAmount(amount string) bool {
	if !amountPattern.MatchString(amount) {
		return false
	}
	return amount != "0" && !allZero(amount)
}

func allZero(amount string) bool {
	for _, r := range amount {
		if r != '0' && r != '.' {
			return false
		}
	}
	return true
}

func validAttachments(value any) bool {
	switch items := value.(type) {
	case []string:
		for _, item := range items {
			if item == "" || len(item) >= 1000 {
				return false
			}
		}
		return true
	case []any:
		for _, item := range items {
			s, ok := item.(string)
			if !ok || s == "" || len(s) >= 1000 {
				return false
			}
		}
		return true
	default:
		return false
	}
}
