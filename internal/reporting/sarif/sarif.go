package sarif

// Go structs for the subset of SARIF 2.1.0 the exporter emits.
// Pointers are used for optional fields. Required fields use value types.

type Log struct {
	Version string `json:"version"`
	Schema  string `json:"$schema"`
	Runs    []*Run `json:"runs"`
}

type Run struct {
	Tool              *Tool                 `json:"tool"`
	AutomationDetails *RunAutomationDetails `json:"automationDetails,omitempty"`
	Results           []*Result             `json:"results"`
}

// RunAutomationDetails ties a run to the audit unit that produced it.
type RunAutomationDetails struct {
	ID string `json:"id"`
}

type Tool struct {
	Driver *ToolComponent `json:"driver"`
}

// ToolComponent describes the tool that produced the results. Pointers are used for optional bits.
type ToolComponent struct {
	Name           string                 `json:"name"`
	Version        *string                `json:"version,omitempty"`
	InformationURI *string                `json:"informationUri,omitempty"`
	Rules          []*ReportingDescriptor `json:"rules,omitempty"`
}

type ReportingDescriptor struct {
	ID               string                    `json:"id"` // Required
	Name             *string                   `json:"name,omitempty"`
	ShortDescription *MultiformatMessageString `json:"shortDescription,omitempty"`
	FullDescription  *MultiformatMessageString `json:"fullDescription,omitempty"`
	Help             *MultiformatMessageString `json:"help,omitempty"`
	Properties       *PropertyBag              `json:"properties,omitempty"`
}

type Result struct {
	RuleID              string            `json:"ruleId"` // Required
	RuleIndex           int               `json:"ruleIndex"`
	Message             *Message          `json:"message"`
	Level               Level             `json:"level,omitempty"`
	Locations           []*Location       `json:"locations,omitempty"`
	PartialFingerprints map[string]string `json:"partialFingerprints,omitempty"`
	Suppressions        []*Suppression    `json:"suppressions,omitempty"`
	Properties          *PropertyBag      `json:"properties,omitempty"`
}

type Location struct {
	PhysicalLocation *PhysicalLocation  `json:"physicalLocation,omitempty"`
	LogicalLocations []*LogicalLocation `json:"logicalLocations,omitempty"`
	Message          *Message           `json:"message,omitempty"`
}

type PhysicalLocation struct {
	ArtifactLocation *ArtifactLocation `json:"artifactLocation,omitempty"`
	Region           *Region           `json:"region,omitempty"`
}

type ArtifactLocation struct {
	URI       *string `json:"uri,omitempty"`
	URIBaseID *string `json:"uriBaseId,omitempty"`
}

// Region is 1-based. A zero StartLine is omitted.
type Region struct {
	StartLine int      `json:"startLine,omitempty"`
	Snippet   *Message `json:"snippet,omitempty"`
}

type LogicalLocation struct {
	FullyQualifiedName *string `json:"fullyQualifiedName,omitempty"`
	Kind               *string `json:"kind,omitempty"`
}

// Suppression marks a result the producer believes should not be acted on.
type Suppression struct {
	Kind          SuppressionKind `json:"kind"`
	Status        *string         `json:"status,omitempty"`
	Justification *string         `json:"justification,omitempty"`
}

type Message struct {
	Text *string `json:"text,omitempty"`
}

type MultiformatMessageString struct {
	Text     *string `json:"text"`
	Markdown *string `json:"markdown,omitempty"`
}

type PropertyBag map[string]interface{}

type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelNote    Level = "note"
)

type SuppressionKind string

const (
	SuppressionInSource SuppressionKind = "inSource"
	SuppressionExternal SuppressionKind = "external"
)
