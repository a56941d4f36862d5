package planner

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"
)

// Default validator thresholds.
const (
	DefaultMinPlanLength       = 200
	DefaultMinDetailIndicators = 3
	CoverageThreshold          = 0.5
	lowCoverageThreshold       = 0.3
)

var fileExtensions = []string{
	".go", ".py", ".js", ".ts", ".tsx", ".jsx", ".rs", ".java", ".rb", ".php",
	".cpp", ".hpp", ".cs", ".swift", ".kt", ".html", ".css", ".scss", ".json",
	".yaml", ".yml", ".toml", ".md", ".txt", ".sql", ".sh", ".xml", ".csv",
	".ini", ".cfg", ".env", ".proto",
}

var fileActionKeywords = []string{
	"create", "modify", "update", "generate", "write",
	"file:", "files:", "add file", "new file",
}

var detailIndicators = []string{
	"function", "class", "component", "method", "endpoint", "route", "api",
	"database", "model", "schema", "interface", "module", "import", "variable",
	"parameter", "return", "handler", "service", "test", "config",
}

var stopWords = map[string]struct{}{
	"about": {}, "also": {}, "been": {}, "being": {}, "could": {}, "does": {},
	"from": {}, "have": {}, "here": {}, "into": {}, "just": {}, "like": {},
	"make": {}, "might": {}, "must": {}, "need": {}, "onto": {}, "only": {},
	"please": {}, "shall": {}, "should": {}, "some": {}, "such": {}, "sure": {},
	"than": {}, "that": {}, "their": {}, "them": {}, "there": {}, "these": {},
	"they": {}, "this": {}, "those": {}, "using": {}, "very": {}, "want": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "whom": {}, "with": {},
	"without": {}, "would": {}, "your": {},
}

var (
	// Candidates are split out first and then matched whole, since \b and \w
	// only know ASCII.
	wordPattern     = regexp.MustCompile(`[\p{L}\p{N}_]+`)
	pathCandidate   = regexp.MustCompile(`[\p{L}\p{N}_./-]+`)
	pathPattern     = regexp.MustCompile(`^(?:[\p{L}\p{N}_.-]+/)*([\p{L}\p{N}_.-]+)\.([A-Za-z][A-Za-z0-9]{0,5})$`)
	camelPattern    = regexp.MustCompile(`^[a-z]+(?:[A-Z][a-z0-9]*)+$`)
	snakePattern    = regexp.MustCompile(`^[a-z0-9]+(?:_[a-z0-9]+)+$`)
	pascalPattern   = regexp.MustCompile(`^(?:[A-Z][a-z0-9]+){2,}$`)
	quotedPattern   = regexp.MustCompile(`"([^"]+)"`)
	numberedPattern = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+`)
	bulletPattern   = regexp.MustCompile(`(?m)^\s*[-*•]\s+`)
	sectionPattern  = regexp.MustCompile(`(?m)^\s*(?:#{1,6}\s+)?\**[A-Z][A-Za-z0-9 ]{0,40}\**:`)
)

// Validator scores plans. It holds only fixed configuration and is safe for
// concurrent use.
type Validator struct {
	MinPlanLength       int
	MinDetailIndicators int
}

// NewValidator returns a Validator with the default thresholds.
func NewValidator() *Validator {
	return &Validator{
		MinPlanLength:       DefaultMinPlanLength,
		MinDetailIndicators: DefaultMinDetailIndicators,
	}
}

// Validate runs all four checks and aggregates their penalties.
func (v *Validator) Validate(plan, request string) ValidationResult {
	details := Details{
		FileSpecs:       v.checkFileSpecs(plan),
		ContentDetail:   v.checkContentDetail(plan),
		RequestCoverage: v.checkRequestCoverage(plan, request),
		Structure:       v.checkStructure(plan),
	}

	points := 100
	var issues, suggestions []string

	if !details.FileSpecs.HasFileSpecs {
		points -= PenaltyFileSpecs
		issues = append(issues, "Plan does not specify which files to create or modify")
		suggestions = append(suggestions, "Name every file to create or modify with its path and extension, for example src/app.py.")
	}
	if cd := details.ContentDetail; !cd.HasSufficientDetail {
		points -= PenaltyContentDetail
		issues = append(issues, fmt.Sprintf("Plan lacks implementation detail (%d of %d required indicators)", cd.IndicatorCount, cd.MinRequired))
		suggestions = append(suggestions, "Describe the concrete functions, classes, endpoints or data structures each file needs.")
	}
	if rc := details.RequestCoverage; !rc.AddressesRequest {
		points -= PenaltyRequestCoverage
		issues = append(issues, coverageIssue(rc))
		suggestions = append(suggestions, coverageSuggestion(rc))
	}
	if st := details.Structure; !st.HasSufficientStructure {
		points -= PenaltyStructure
		issues = append(issues, "Plan lacks clear structure (numbered steps, bullet points or section headers)")
		suggestions = append(suggestions, fmt.Sprintf("Organise the plan as numbered steps with one action per step, at least %d characters long.", st.MinLength))
	}

	if points < 0 {
		points = 0
	}
	score := float64(points) / 100

	return ValidationResult{
		Valid:       score >= ValidThreshold,
		Score:       score,
		Issues:      issues,
		Suggestions: suggestions,
		Details:     details,
	}
}

func (v *Validator) checkFileSpecs(plan string) FileSpecDetails {
	lower := strings.ToLower(plan)
	var d FileSpecDetails
	for _, ext := range fileExtensions {
		if strings.Contains(lower, ext) {
			d.Extensions = append(d.Extensions, ext)
		}
	}
	for _, kw := range fileActionKeywords {
		if strings.Contains(lower, kw) {
			d.ActionKeywords = append(d.ActionKeywords, kw)
		}
	}
	d.Paths = MentionedPaths(plan)
	d.HasFileSpecs = len(d.Extensions) > 0 || len(d.ActionKeywords) > 0 || len(d.Paths) > 0
	return d
}

func (v *Validator) checkContentDetail(plan string) ContentDetails {
	lower := strings.ToLower(plan)
	d := ContentDetails{MinRequired: v.MinDetailIndicators}
	for _, ind := range detailIndicators {
		if strings.Contains(lower, ind) {
			d.Indicators = append(d.Indicators, ind)
		}
	}
	d.IndicatorCount = len(d.Indicators)
	for _, w := range wordPattern.FindAllString(plan, -1) {
		switch {
		case camelPattern.MatchString(w):
			d.CamelCase++
		case snakePattern.MatchString(w):
			d.SnakeCase++
		case pascalPattern.MatchString(w):
			d.PascalCase++
		}
	}
	d.HasSufficientDetail = d.IndicatorCount >= v.MinDetailIndicators
	return d
}

// checkRequestCoverage treats a request with no key terms as covered only
// when it also carries no quoted literals.
func (v *Validator) checkRequestCoverage(plan, request string) CoverageDetails {
	lowerPlan := strings.ToLower(plan)
	var d CoverageDetails

	d.KeyTerms = KeyTerms(request)
	for _, term := range d.KeyTerms {
		if strings.Contains(lowerPlan, term) {
			d.CoveredTerms = append(d.CoveredTerms, term)
		} else {
			d.MissingTerms = append(d.MissingTerms, term)
		}
	}

	d.QuotedTerms = QuotedTerms(request)
	for _, q := range d.QuotedTerms {
		if !strings.Contains(lowerPlan, strings.ToLower(q)) {
			d.MissingQuoted = append(d.MissingQuoted, q)
		}
	}

	if len(d.KeyTerms) == 0 {
		d.Coverage = 0
		d.AddressesRequest = len(d.QuotedTerms) == 0
		return d
	}
	d.Coverage = float64(len(d.CoveredTerms)) / float64(len(d.KeyTerms))
	d.AddressesRequest = d.Coverage >= CoverageThreshold && len(d.MissingQuoted) == 0
	return d
}

func (v *Validator) checkStructure(plan string) StructureDetail {
	d := StructureDetail{
		Length:         utf8.RuneCountInString(plan),
		MinLength:      v.MinPlanLength,
		NumberedItems:  len(numberedPattern.FindAllString(plan, -1)),
		BulletPoints:   len(bulletPattern.FindAllString(plan, -1)),
		SectionHeaders: len(sectionPattern.FindAllString(plan, -1)),
	}
	hasMarkers := d.NumberedItems >= 1 || d.BulletPoints > 2 || d.SectionHeaders >= 1
	d.HasSufficientStructure = d.Length >= v.MinPlanLength && hasMarkers
	return d
}

// KeyTerms lowercases the request, drops stop words and words of three
// characters or fewer, and returns the remaining distinct words in order.
func KeyTerms(request string) []string {
	seen := make(map[string]struct{})
	var terms []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(request), -1) {
		if utf8.RuneCountInString(w) <= 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, w)
	}
	return terms
}

// QuotedTerms returns the double-quoted literals of the request.
func QuotedTerms(request string) []string {
	var out []string
	for _, m := range quotedPattern.FindAllStringSubmatch(request, -1) {
		if t := strings.TrimSpace(m[1]); t != "" {
			out = append(out, t)
		}
	}
	return uniqueStrings(out)
}

func coverageIssue(d CoverageDetails) string {
	msg := fmt.Sprintf("Plan does not adequately address the request (coverage %.0f%%)", d.Coverage*100)
	if len(d.MissingQuoted) > 0 {
		msg += fmt.Sprintf("; missing required terms: %s", strings.Join(d.MissingQuoted, ", "))
	}
	return msg
}

func coverageSuggestion(d CoverageDetails) string {
	var s string
	if d.Coverage < lowCoverageThreshold {
		s = "Rebuild the plan around the original request; it currently ignores most of what was asked."
	} else {
		s = "Extend the plan to cover the parts of the request it still leaves out."
	}
	if len(d.MissingTerms) > 0 {
		s += " Address: " + strings.Join(limitStrings(d.MissingTerms, 8), ", ") + "."
	}
	if len(d.MissingQuoted) > 0 {
		s += " Use these exact names from the request: " + strings.Join(d.MissingQuoted, ", ") + "."
	}
	return s
}

func uniqueStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func limitStrings(in []string, n int) []string {
	if len(in) <= n {
		return in
	}
	return in[:n]
}

// MentionedPaths returns the distinct path-like tokens in text, such as
// src/app.py. A token whose name is a single character counts only with a
// known file extension, so abbreviations like "e.g." are not paths.
func MentionedPaths(text string) []string {
	var out []string
	for _, c := range pathCandidate.FindAllString(text, -1) {
		c = strings.TrimLeft(strings.TrimRight(c, "./-"), "./")
		m := pathPattern.FindStringSubmatch(c)
		if m == nil {
			continue
		}
		if utf8.RuneCountInString(m[1]) < 2 && !knownExtension("."+strings.ToLower(m[2])) {
			continue
		}
		out = append(out, c)
	}
	return uniqueStrings(out)
}

func knownExtension(ext string) bool {
	return slices.Contains(fileExtensions, ext)
}
