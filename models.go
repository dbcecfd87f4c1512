package secops

import (
	"slices"
	"strings"
	"time"

	"github.com/tphakala/go-secops/internal/json"
	"github.com/tphakala/go-secops/internal/stream"
)

// lastSegment returns the final component of a resource name.
func lastSegment(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// IngestLogsRequest describes raw logs of one log type to ingest.
type IngestLogsRequest struct {
	// LogType is the platform log type, e.g. OKTA or WINEVTLOG_XML.
	LogType string
	// Messages are the raw log lines, one entry each.
	Messages []string

	// EntryTime and CollectionTime default to now.
	EntryTime      time.Time
	CollectionTime time.Time

	// ForwarderID selects a forwarder; empty means the default forwarder.
	ForwarderID string

	// ForceLogType skips the local log type format check.
	ForceLogType bool

	Namespace string
	Labels    map[string]string
}

// IngestResult summarises a completed or partially completed ingestion.
type IngestResult struct {
	// Operations holds the operation name returned for each accepted chunk.
	Operations []string `json:"operations"`
	// Committed is the number of input items the platform accepted.
	Committed int `json:"committed"`
}

// ForwarderConfig is the ingestion configuration of a forwarder.
type ForwarderConfig struct {
	UploadCompression bool           `json:"uploadCompression"`
	Metadata          map[string]any `json:"metadata"`
}

// Forwarder is an ingestion forwarder.
type Forwarder struct {
	Name        string          `json:"name"`
	DisplayName string          `json:"displayName"`
	CreateTime  time.Time       `json:"createTime,omitzero"`
	UpdateTime  time.Time       `json:"updateTime,omitzero"`
	Config      ForwarderConfig `json:"config"`
}

// ID returns the forwarder ID, the last segment of its resource name.
func (f *Forwarder) ID() string {
	return lastSegment(f.Name)
}

// UDMSearchRequest is a UDM query over a time range.
type UDMSearchRequest struct {
	Query     string
	Start     time.Time
	End       time.Time
	MaxEvents int
}

// UDMEvent is one search hit.
type UDMEvent struct {
	Name string          `json:"name"`
	UDM  json.RawMessage `json:"udm"`
}

// UDMSearchResult holds the events matched by a UDM search.
type UDMSearchResult struct {
	Events            []UDMEvent `json:"events"`
	MoreDataAvailable bool       `json:"moreDataAvailable"`
}

// CSVSearchRequest is a UDM query whose results are exported as CSV.
type CSVSearchRequest struct {
	Query           string
	Start           time.Time
	End             time.Time
	Fields          []string
	CaseInsensitive bool
}

// NLSearchRequest is a natural-language query over a time range.
type NLSearchRequest struct {
	Text      string
	Start     time.Time
	End       time.Time
	MaxEvents int
}

// NLSearchResult is the translated query and its results.
type NLSearchResult struct {
	Query string `json:"query"`
	UDMSearchResult
}

// RuleSeverity is the severity declared in a rule's meta section.
type RuleSeverity struct {
	DisplayName string `json:"displayName"`
}

// Rule is a detection rule.
type Rule struct {
	Name               string            `json:"name"`
	RevisionID         string            `json:"revisionId,omitempty"`
	DisplayName        string            `json:"displayName,omitempty"`
	Text               string            `json:"text,omitempty"`
	Author             string            `json:"author,omitempty"`
	Severity           *RuleSeverity     `json:"severity,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	CreateTime         time.Time         `json:"createTime,omitzero"`
	RevisionCreateTime time.Time         `json:"revisionCreateTime,omitzero"`
	CompilationState   string            `json:"compilationState,omitempty"`
	Type               string            `json:"type,omitempty"`
	Etag               string            `json:"etag,omitempty"`
}

// ID returns the rule ID, e.g. ru_<uuid>.
func (r *Rule) ID() string {
	return lastSegment(r.Name)
}

// RuleDeployment is the live state of a rule.
type RuleDeployment struct {
	Name         string `json:"name"`
	Enabled      bool   `json:"enabled"`
	Alerting     bool   `json:"alerting"`
	Archived     bool   `json:"archived"`
	RunFrequency string `json:"runFrequency,omitempty"`
}

// RuleTestRequest runs a rule over historical data.
type RuleTestRequest struct {
	Text  string
	Start time.Time
	End   time.Time
	// MaxResults caps the detections returned, 1 to 10000. Zero means 100.
	MaxResults int
	// Timeout bounds the whole test. Zero means five minutes.
	Timeout time.Duration
}

type (
	// RuleTestEvent is one event of a streamed rule test.
	RuleTestEvent = stream.Event
	// EventKind tags a RuleTestEvent.
	EventKind = stream.Kind
)

// Kinds of RuleTestEvent.
const (
	EventUnknown   = stream.KindUnknown
	EventProgress  = stream.KindProgress
	EventDetection = stream.KindDetection
	EventError     = stream.KindError
	EventInfo      = stream.KindInfo
)

// Parser converts raw logs of one log type into UDM.
type Parser struct {
	Name       string    `json:"name"`
	Type       string    `json:"type,omitempty"`
	State      string    `json:"state,omitempty"`
	CreateTime time.Time `json:"createTime,omitzero"`
	// CBN is the parser configuration, base64 encoded on the wire.
	CBN                  []byte `json:"cbn,omitempty"`
	ValidatedOnEmptyLogs bool   `json:"validatedOnEmptyLogs,omitempty"`
}

// ID returns the parser ID.
func (p *Parser) ID() string {
	return lastSegment(p.Name)
}

// ColumnType is the type of a data table column.
type ColumnType string

const (
	ColumnString ColumnType = "STRING"
	ColumnRegex  ColumnType = "REGEX"
	ColumnCIDR   ColumnType = "CIDR"
)

// Column declares one data table column.
type Column struct {
	Name string
	Type ColumnType
}

// ColumnInfo is a column as stored by the platform.
type ColumnInfo struct {
	ColumnIndex    int        `json:"columnIndex"`
	OriginalColumn string     `json:"originalColumn"`
	ColumnType     ColumnType `json:"columnType"`
}

// DataTable is a table that rules can reference.
type DataTable struct {
	Name          string       `json:"name"`
	DisplayName   string       `json:"displayName,omitempty"`
	Description   string       `json:"description,omitempty"`
	CreateTime    time.Time    `json:"createTime,omitzero"`
	UpdateTime    time.Time    `json:"updateTime,omitzero"`
	ColumnInfo    []ColumnInfo `json:"columnInfo,omitempty"`
	DataTableUUID string       `json:"dataTableUuid,omitempty"`
}

// DataTableRow is one row of a data table.
type DataTableRow struct {
	Name       string    `json:"name,omitempty"`
	Values     []string  `json:"values"`
	CreateTime time.Time `json:"createTime,omitzero"`
	UpdateTime time.Time `json:"updateTime,omitzero"`
}

// ID returns the row ID.
func (r *DataTableRow) ID() string {
	return lastSegment(r.Name)
}

// CreateDataTableRequest describes a new data table and its initial rows.
type CreateDataTableRequest struct {
	Name        string
	Description string
	Columns     []Column
	Rows        [][]string
	Scopes      []string
}

// RowsChunkResult is the platform response to one bulk row write.
type RowsChunkResult struct {
	// Range is the chunk's position in the caller's rows.
	Range Range          `json:"range"`
	Rows  []DataTableRow `json:"dataTableRows"`
}

// CreateDataTableResult is a created table plus the outcome of adding its
// rows. The table exists even when RowsErr is set.
type CreateDataTableResult struct {
	Table   *DataTable
	Rows    []RowsChunkResult
	RowsErr error
}

// SOARPlatformInfo links a case to its response platform.
type SOARPlatformInfo struct {
	CaseID       string `json:"caseId"`
	PlatformType string `json:"responsePlatformType"`
}

// Case is a SecOps case.
type Case struct {
	ID               string            `json:"id"`
	DisplayName      string            `json:"displayName"`
	Stage            string            `json:"stage"`
	Priority         string            `json:"priority"`
	Status           string            `json:"status"`
	SOARPlatformInfo *SOARPlatformInfo `json:"soarPlatformInfo,omitempty"`
}

// CaseList is a set of cases in request order.
type CaseList struct {
	Cases []Case `json:"cases"`
}

// Get returns the case with the given ID.
func (l *CaseList) Get(id string) (*Case, bool) {
	i := slices.IndexFunc(l.Cases, func(c Case) bool { return c.ID == id })
	if i < 0 {
		return nil, false
	}
	return &l.Cases[i], true
}

// FilterByPriority returns the cases with the given priority.
func (l *CaseList) FilterByPriority(priority string) []Case {
	return l.filter(func(c Case) bool { return c.Priority == priority })
}

// FilterByStatus returns the cases with the given status.
func (l *CaseList) FilterByStatus(status string) []Case {
	return l.filter(func(c Case) bool { return c.Status == status })
}

func (l *CaseList) filter(keep func(Case) bool) []Case {
	var out []Case
	for _, c := range l.Cases {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

// DataExportStatus is the progress of a data export.
type DataExportStatus struct {
	Stage              string `json:"stage"`
	ProgressPercentage int    `json:"progress_percentage,omitempty"`
	Error              string `json:"error,omitempty"`
}

// DataExport is a job copying raw logs to a Cloud Storage bucket.
type DataExport struct {
	Name          string           `json:"name"`
	StartTime     time.Time        `json:"start_time,omitzero"`
	EndTime       time.Time        `json:"end_time,omitzero"`
	GCSBucket     string           `json:"gcs_bucket"`
	LogType       string           `json:"log_type,omitempty"`
	ExportAllLogs bool             `json:"export_all_logs,omitempty"`
	Status        DataExportStatus `json:"data_export_status"`
}

// ID returns the data export ID.
func (e *DataExport) ID() string {
	return lastSegment(e.Name)
}

// CreateDataExportRequest describes a data export. Exactly one of LogType
// and AllLogTypes must be set.
type CreateDataExportRequest struct {
	// GCSBucket is the destination, projects/{project}/buckets/{bucket}.
	GCSBucket string
	Start     time.Time
	End       time.Time
	// LogType is a log type ID such as WINDOWS or a full log type resource
	// name.
	LogType     string
	AllLogTypes bool
}

// AvailableLogType is a log type with data that can be exported.
type AvailableLogType struct {
	LogType     string    `json:"log_type"`
	DisplayName string    `json:"display_name"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
}

// AlertsRequest selects alerts over a time range.
type AlertsRequest struct {
	Start time.Time
	End   time.Time

	// SnapshotQuery filters alerts. Empty means all alerts that are not
	// closed.
	SnapshotQuery string
	BaselineQuery string

	// MaxAlerts caps the alerts returned. Zero means 1000.
	MaxAlerts int

	DisableCache bool

	// MaxAttempts bounds how often the view is polled before giving up.
	// Zero means 30.
	MaxAttempts int
	// PollInterval is the delay between polls. Zero means one second.
	PollInterval time.Duration
}

// AlertsResult is the alert view returned by the platform.
type AlertsResult struct {
	Alerts            []json.RawMessage `json:"alerts"`
	FieldAggregations json.RawMessage   `json:"fieldAggregations,omitempty"`
	Progress          float64           `json:"progress"`
	Complete          bool              `json:"complete"`
}
