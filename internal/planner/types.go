package planner

// ValidThreshold is the minimum score for a plan to be considered actionable.
const ValidThreshold = 0.7

// Penalties per failed check, in hundredths of a point. Scores are computed
// in integer points so 1.0-0.3 lands exactly on the threshold.
const (
	PenaltyFileSpecs       = 30
	PenaltyContentDetail   = 20
	PenaltyRequestCoverage = 40
	PenaltyStructure       = 10
)

// ValidationResult scores a plan for actionability.
type ValidationResult struct {
	Valid       bool     `json:"valid"`
	Score       float64  `json:"score"`
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions"`
	Details     Details  `json:"details"`
}

// Details holds the findings of every check, keyed the same way in JSON.
type Details struct {
	FileSpecs       FileSpecDetails `json:"file_specs"`
	ContentDetail   ContentDetails  `json:"content_detail"`
	RequestCoverage CoverageDetails `json:"request_coverage"`
	Structure       StructureDetail `json:"structure"`
}

type FileSpecDetails struct {
	HasFileSpecs   bool     `json:"has_file_specs"`
	Extensions     []string `json:"extensions_found"`
	ActionKeywords []string `json:"action_keywords_found"`
	Paths          []string `json:"paths_found"`
}

type ContentDetails struct {
	HasSufficientDetail bool     `json:"has_sufficient_detail"`
	IndicatorCount      int      `json:"indicator_count"`
	Indicators          []string `json:"indicators_found"`
	MinRequired         int      `json:"min_required"`
	CamelCase           int      `json:"camel_case_count"`
	SnakeCase           int      `json:"snake_case_count"`
	PascalCase          int      `json:"pascal_case_count"`
}

type CoverageDetails struct {
	AddressesRequest bool     `json:"addresses_request"`
	Coverage         float64  `json:"coverage"`
	KeyTerms         []string `json:"key_terms"`
	CoveredTerms     []string `json:"covered_terms"`
	MissingTerms     []string `json:"missing_terms"`
	QuotedTerms      []string `json:"quoted_terms"`
	MissingQuoted    []string `json:"missing_quoted_terms"`
}

type StructureDetail struct {
	HasSufficientStructure bool `json:"has_sufficient_structure"`
	Length                 int  `json:"length"`
	MinLength              int  `json:"min_length"`
	NumberedItems          int  `json:"numbered_items"`
	BulletPoints           int  `json:"bullet_points"`
	SectionHeaders         int  `json:"section_headers"`
}

// RefinementResult is the outcome of one refinement attempt.
type RefinementResult struct {
	Success           bool   `json:"success"`
	RefinedPlan       string `json:"refined_plan"`
	RefinementApplied bool   `json:"refinement_applied"`
	Error             string `json:"error,omitempty"`
}
