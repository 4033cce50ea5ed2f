// internal/reporting/sarif_reporter.go
package reporting

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/observability"
	"github.com/xkilldash9x/scalpel-audit/internal/reporting/sarif"
	"github.com/xkilldash9x/scalpel-audit/internal/results/providers"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName     = "scalpel-audit"
	ToolInfoURI  = "https://github.com/xkilldash9x/scalpel-audit"
	SARIFVersion = "2.1.0"
	SARIFSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"

	fingerprintCluster  = "clusterId/v1"
	fingerprintLocation = "locationHash/v1"
)

// ruleIDSanitizer replaces characters not allowed in rule ids. Alphanumerics,
// underscore and dot are kept; any other run collapses to a single hyphen.
var ruleIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.]+`)

// SARIFReporter implements schemas.Reporter for SARIF 2.1.0. Every canonical
// vulnerability type becomes one rule; every cluster becomes one result.
// Clusters classified as likely false positives are emitted with an external
// suppression so code scanning UIs hide them by default. It is thread safe.
type SARIFReporter struct {
	writer     io.WriteCloser
	logger     *zap.Logger
	weaknesses providers.WeaknessProvider
	log        *sarif.Log
	// mu protects the log structure and the rule index.
	mu        sync.Mutex
	ruleIndex map[schemas.CanonicalType]int
}

// NewSARIFReporter creates a new reporter that writes SARIF output.
func NewSARIFReporter(writer io.WriteCloser, toolVersion string) *SARIFReporter {
	log := &sarif.Log{
		Version: SARIFVersion,
		Schema:  SARIFSchema,
		Runs: []*sarif.Run{
			{
				Tool: &sarif.Tool{
					Driver: &sarif.ToolComponent{
						Name:           ToolName,
						Version:        pString(toolVersion),
						InformationURI: pString(ToolInfoURI),
						// Initialize empty slices (not nil) for proper JSON marshalling
						Rules: []*sarif.ReportingDescriptor{},
					},
				},
				Results: []*sarif.Result{},
			},
		},
	}

	return &SARIFReporter{
		writer:     writer,
		logger:     observability.GetLogger().Named("sarif_reporter"),
		weaknesses: providers.NewRegistry(),
		log:        log,
		ruleIndex:  make(map[schemas.CanonicalType]int),
	}
}

// Write converts the clusters of one audit report into SARIF results.
// Actionable clusters come first, in their prioritized order.
func (r *SARIFReporter) Write(report *schemas.AuditReport) error {
	if report == nil {
		return fmt.Errorf("cannot write a nil report")
	}
	startTime := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	if run.AutomationDetails == nil && report.RunID != "" {
		run.AutomationDetails = &sarif.RunAutomationDetails{ID: ToolName + "/" + report.RunID}
	}

	for i := range report.Actionable {
		run.Results = append(run.Results, r.createResult(report, &report.Actionable[i], false))
	}
	for i := range report.LikelyFalsePositive {
		run.Results = append(run.Results, r.createResult(report, &report.LikelyFalsePositive[i], true))
	}

	r.logger.Debug("Wrote clusters to SARIF buffer",
		zap.String("audit_id", report.AuditID),
		zap.Int("actionable", len(report.Actionable)),
		zap.Int("likely_false_positive", len(report.LikelyFalsePositive)),
		zap.Duration("duration_ms", time.Since(startTime)),
	)
	return nil
}

// Close finalizes the SARIF log and writes it to the output writer.
func (r *SARIFReporter) Close() error {
	startTime := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	r.logger.Info("Finalizing SARIF report",
		zap.Int("total_results", len(run.Results)),
		zap.Int("total_rules", len(run.Tool.Driver.Rules)),
	)

	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ") // Pretty print

	encodeErr := encoder.Encode(r.log)
	// Always attempt to close the writer, regardless of encoding success.
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode SARIF log to JSON", zap.Error(encodeErr))
		// Prioritize the encoding error as it indicates corrupted/incomplete output.
		return fmt.Errorf("failed to encode SARIF output: %w", encodeErr)
	}

	if closeErr != nil {
		r.logger.Error("Failed to close output writer", zap.Error(closeErr))
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}

	r.logger.Info("Successfully wrote SARIF report",
		zap.Duration("duration_ms", time.Since(startTime)),
	)
	return nil
}

// RuleID returns the SARIF rule id used for a canonical type.
func RuleID(t schemas.CanonicalType) string {
	name := ruleIDSanitizer.ReplaceAllString(strings.ToUpper(string(t)), "-")
	name = strings.Trim(name, "-")
	if name == "" {
		name = "OTHER"
	}
	return "SCALPEL-" + name
}

// ensureRule registers the rule for t on first use and returns its index.
// NOTE: Must be called while holding the mutex.
func (r *SARIFReporter) ensureRule(t schemas.CanonicalType) int {
	if idx, ok := r.ruleIndex[t]; ok {
		return idx
	}

	driver := r.log.Runs[0].Tool.Driver
	title := strings.ReplaceAll(string(t), "_", " ")
	props := sarif.PropertyBag{
		"tags": []string{"security", "smart-contract", string(t)},
	}

	markdownHelp := fmt.Sprintf("**Category:** %s", title)
	if id := r.weaknesses.DefaultFor(t); id != "" {
		props["weakness"] = id
		if entry, ok := r.weaknesses.Lookup(id); ok {
			markdownHelp += fmt.Sprintf("\n\n**Weakness:** %s %s", entry.ID, entry.Title)
		}
	}

	rule := &sarif.ReportingDescriptor{
		ID:               RuleID(t),
		Name:             pString(string(t)),
		ShortDescription: &sarif.MultiformatMessageString{Text: pString(title)},
		FullDescription: &sarif.MultiformatMessageString{
			Text: pString(fmt.Sprintf("Correlated %s findings from one or more static analyzers.", title)),
		},
		Help: &sarif.MultiformatMessageString{
			Text:     pString(title),
			Markdown: pString(markdownHelp),
		},
		Properties: &props,
	}

	idx := len(driver.Rules)
	driver.Rules = append(driver.Rules, rule)
	r.ruleIndex[t] = idx
	r.logger.Debug("Registering new SARIF rule definition", zap.String("rule_id", rule.ID))
	return idx
}

func (r *SARIFReporter) createResult(report *schemas.AuditReport, rec *schemas.ClusterRecord, suppressed bool) *sarif.Result {
	idx := r.ensureRule(rec.Type)

	props := sarif.PropertyBag{
		"auditId":                  report.AuditID,
		"tools":                    rec.Tools,
		"toolCount":                rec.ToolCount,
		"findingCount":             rec.FindingCount,
		"crossValidated":           rec.IsCrossValidated,
		"confidence":               rec.Confidence.Final,
		"falsePositiveProbability": rec.Confidence.FalsePositiveProbability,
		"severity":                 string(rec.Severity),
	}
	if rec.WeaknessID != "" {
		props["weaknessId"] = rec.WeaknessID
	}
	if len(rec.Signals) > 0 {
		props["signals"] = rec.Signals
	}
	if len(rec.Trace) > 0 {
		props["trace"] = rec.Trace
	}

	result := &sarif.Result{
		RuleID:    RuleID(rec.Type),
		RuleIndex: idx,
		Message:   &sarif.Message{Text: pString(resultMessage(rec))},
		Level:     mapSeverityToSARIFLevel(rec.Severity),
		Locations: createLocations(rec.Location),
		PartialFingerprints: map[string]string{
			fingerprintCluster:  rec.ID,
			fingerprintLocation: locationFingerprint(rec),
		},
		Properties: &props,
	}
	if suppressed {
		justification := fmt.Sprintf("likely false positive (confidence %.2f, false positive probability %.2f)",
			rec.Confidence.Final, rec.Confidence.FalsePositiveProbability)
		result.Suppressions = []*sarif.Suppression{{
			Kind:          sarif.SuppressionExternal,
			Status:        pString("accepted"),
			Justification: pString(justification),
		}}
	}
	return result
}

func resultMessage(rec *schemas.ClusterRecord) string {
	var b strings.Builder
	title := strings.ReplaceAll(string(rec.Type), "_", " ")
	if rec.WeaknessTitle != "" {
		title = rec.WeaknessTitle
	}
	fmt.Fprintf(&b, "%s reported by %s", title, strings.Join(rec.Tools, ", "))
	if rec.IsCrossValidated {
		b.WriteString(" (cross-validated)")
	}
	fmt.Fprintf(&b, ". Confidence %.2f, false positive probability %.2f.",
		rec.Confidence.Final, rec.Confidence.FalsePositiveProbability)
	return b.String()
}

// createLocations converts a cluster location into SARIF location objects.
// A cluster with neither a file nor a function has no location.
func createLocations(loc schemas.Location) []*sarif.Location {
	if loc.File == "" && loc.Function == "" {
		return nil
	}
	location := &sarif.Location{}
	if loc.File != "" {
		physical := &sarif.PhysicalLocation{
			ArtifactLocation: &sarif.ArtifactLocation{URI: pString(loc.NormalizedFile())},
		}
		if loc.HasLine() {
			physical.Region = &sarif.Region{StartLine: loc.Line}
			if loc.Snippet != "" {
				physical.Region.Snippet = &sarif.Message{Text: pString(loc.Snippet)}
			}
		}
		location.PhysicalLocation = physical
	}
	if loc.Function != "" {
		location.LogicalLocations = []*sarif.LogicalLocation{{
			FullyQualifiedName: pString(loc.Function),
			Kind:               pString("function"),
		}}
	}
	return []*sarif.Location{location}
}

// locationFingerprint hashes what stays stable when code above a finding moves:
// the file, the category and the enclosing function.
func locationFingerprint(rec *schemas.ClusterRecord) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s|%s|%s", rec.Location.NormalizedFile(), rec.Type, rec.Location.Function)
	return hex.EncodeToString(h.Sum(nil))
}

// mapSeverityToSARIFLevel converts a cluster severity to the SARIF standard.
func mapSeverityToSARIFLevel(severity schemas.Severity) sarif.Level {
	switch severity {
	case schemas.SeverityCritical, schemas.SeverityHigh:
		return sarif.LevelError
	case schemas.SeverityMedium:
		return sarif.LevelWarning
	default:
		return sarif.LevelNote
	}
}

// pString returns a pointer to the given string value. Helper for optional SARIF fields.
func pString(s string) *string {
	return &s
}
