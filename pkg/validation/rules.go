package validation

import (
	"regexp"
)

// FieldType identifies the expected type of a schema field
type FieldType string

const (
	TypeString      FieldType = "string"
	TypeNumber      FieldType = "number"
	TypeInteger     FieldType = "integer"
	TypeBoolean     FieldType = "boolean"
	TypeStringSlice FieldType = "string_slice"
)

// FieldRule constrains a single field of a named schema
type FieldRule struct {
	Required bool
	Type     FieldType
	MinLen   int
	MaxLen   int
	Min      *float64
	Max      *float64
	Pattern  *regexp.Regexp
}

// Schema maps field names to their rules. Fields not in the schema are
// stripped from the validated payload.
type Schema map[string]FieldRule

var (
	addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	txHashPattern  = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
	aadhaarPattern = regexp.MustCompile(`^[2-9][0-9]{11}$`)
	amountPattern  = regexp.MustCompile(`^\d+(\.\d+)?$`)
)

func fp(v float64) *float64 { return &v }

// defaultSchemas returns the built-in rule registry covering every
// domain payload admitted into consensus.
func defaultSchemas() map[string]Schema {
	return map[string]Schema{
		"fundAllocation": {
			"amount":        {Required: true, Type: TypeNumber, Min: fp(0), Max: fp(1000)},
			"centerAddress": {Required: true, Type: TypeString, Pattern: addressPattern},
			"sourceId":      {Type: TypeString, MinLen: 1, MaxLen: 50},
			"purpose":       {Required: true, Type: TypeString, MinLen: 10, MaxLen: 500},
		},
		"centerRegistration": {
			"name":          {Required: true, Type: TypeString, MinLen: 2, MaxLen: 100},
			"location":      {Required: true, Type: TypeString, MinLen: 5, MaxLen: 200},
			"contactInfo":   {Required: true, Type: TypeString, MinLen: 10, MaxLen: 200},
			"centerAddress": {Required: true, Type: TypeString, Pattern: addressPattern},
		},
		"farmerRegistration": {
			"name":          {Required: true, Type: TypeString, MinLen: 2, MaxLen: 100},
			"aadharNumber":  {Required: true, Type: TypeString, Pattern: aadhaarPattern},
			"contactInfo":   {Required: true, Type: TypeString, MinLen: 10, MaxLen: 200},
			"centerAddress": {Required: true, Type: TypeString, Pattern: addressPattern},
		},
		"trainerRegistration": {
			"name":            {Required: true, Type: TypeString, MinLen: 2, MaxLen: 100},
			"qualifications":  {Required: true, Type: TypeString, MinLen: 5, MaxLen: 500},
			"experienceYears": {Required: true, Type: TypeInteger, Min: fp(0), Max: fp(50)},
			"contactInfo":     {Required: true, Type: TypeString, MinLen: 10, MaxLen: 200},
			"centerAddress":   {Required: true, Type: TypeString, Pattern: addressPattern},
		},
		"usageReport": {
			"amount":        {Required: true, Type: TypeNumber, Min: fp(0)},
			"purpose":       {Required: true, Type: TypeString, MinLen: 10, MaxLen: 500},
			"attachments":   {Type: TypeStringSlice},
			"centerAddress": {Required: true, Type: TypeString, Pattern: addressPattern},
		},
		"complianceRule": {
			"ruleId":      {Required: true, Type: TypeString, MinLen: 1, MaxLen: 50},
			"description": {Required: true, Type: TypeString, MinLen: 10, MaxLen: 1000},
			"isActive":    {Required: true, Type: TypeBoolean},
		},
		"validatorRegistration": {
			"validatorAddress": {Required: true, Type: TypeString, Pattern: addressPattern},
			"stake":            {Required: true, Type: TypeNumber, Min: fp(0)},
			"name":             {Type: TypeString, MinLen: 2, MaxLen: 100},
		},
	}
}

// validPurposes is the whitelist accepted in usage reports
var validPurposes = map[string]struct{}{
	"training_materials":   {},
	"equipment_purchase":   {},
	"facility_maintenance": {},
	"trainer_salaries":     {},
	"certification_costs":  {},
	"transportation":       {},
	"other":                {},
}
