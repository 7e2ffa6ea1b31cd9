package models

import "time"

// Module kinds. A kind selects how the collector turns a reading into stream
// lines.
const (
	// KindStatus classifies a numeric reading against a threshold and
	// publishes "[ts] status - details - insight".
	KindStatus = "status"

	// KindEvent publishes one line per matching source line.
	KindEvent = "event"

	// KindAdvisor sends a prompt built from the reading to the insight
	// generator and publishes its answer.
	KindAdvisor = "advisor"

	// KindSink has no collector; it only receives triggers.
	KindSink = "sink"
)

// DashboardDef is one dashboard: a page, a trigger route and a journal file.
type DashboardDef struct {
	Name         string `yaml:"name"`
	Title        string `yaml:"title"`
	Route        string `yaml:"route"`
	TriggerRoute string `yaml:"trigger_route"`

	// Sink is the module receiving triggers that match no module's
	// substrings. Empty means such triggers are rejected.
	Sink string `yaml:"sink"`

	LogFile string `yaml:"log_file"`
}

// ModuleDef is the declarative description of one module in the catalog.
type ModuleDef struct {
	ID        string        `yaml:"id"`
	Title     string        `yaml:"title"`
	Dashboard string        `yaml:"dashboard"`
	Kind      string        `yaml:"kind"`
	Interval  time.Duration `yaml:"interval"`
	Capacity  int           `yaml:"capacity"`

	// Metric is the key the reading's value is stored under.
	Metric string `yaml:"metric"`

	InitialStatus  string `yaml:"initial_status"`
	InitialDetails string `yaml:"initial_details"`
	InitialInsight string `yaml:"initial_insight"`

	Source    SourceSpec `yaml:"source"`
	Threshold Threshold  `yaml:"threshold"`

	// Details is a printf format receiving the value, e.g. "Load: %.1f%%".
	// Extra readings are referenced as {extra_key} before formatting.
	Details string `yaml:"details"`

	// Triggers are substrings that route a trigger event to this module when
	// the event names no module explicitly.
	Triggers []string `yaml:"triggers"`

	// Heartbeat is sent on an idle SSE stream; %s receives the timestamp.
	Heartbeat string `yaml:"heartbeat"`

	// Event kind: lines kept by Match/Exclude are rendered through Template.
	Match    string `yaml:"match"`
	Exclude  string `yaml:"exclude"`
	Template string `yaml:"template"`

	// Advisor kind.
	Prompt string `yaml:"prompt"`
	System string `yaml:"system"`
}

// SourceSpec selects and parameterises a data source.
type SourceSpec struct {
	Type    string `yaml:"type"`
	Command string `yaml:"command"`

	// Parse is how command output becomes a value: count, int or float.
	Parse string `yaml:"parse"`

	Range    *Range `yaml:"range"`
	Fallback *Range `yaml:"fallback"`

	Path    string   `yaml:"path"`
	Match   string   `yaml:"match"`
	Window  int      `yaml:"window"`
	Choices []string `yaml:"choices"`

	// Sample is the CPU sampling window. Zero means one second.
	Sample time.Duration `yaml:"sample"`

	// Probability is the chance a choice source emits at all in a cycle.
	// Zero means always.
	Probability float64 `yaml:"probability"`

	SNMP *SNMPTarget `yaml:"snmp"`
}

// Range is a closed numeric interval.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Threshold classifies a value into a high or normal status.
type Threshold struct {
	Value float64 `yaml:"value"`

	// Below flips the comparison: the value is high when it is under Value.
	Below bool `yaml:"below"`

	// Metric names an extra reading to compare instead of the main value.
	Metric string `yaml:"metric"`

	High   string `yaml:"high"`
	Normal string `yaml:"normal"`
}

// Enabled reports whether a comparison is configured.
func (t Threshold) Enabled() bool { return t.High != "" }

// Exceeded reports whether v classifies as high.
func (t Threshold) Exceeded(v float64) bool {
	if t.Below {
		return v < t.Value
	}
	return v > t.Value
}

// SNMPTarget describes one SNMP GET.
type SNMPTarget struct {
	Host      string `yaml:"host"`
	Port      uint16 `yaml:"port"`
	Version   string `yaml:"version"`
	Community string `yaml:"community"`
	OID       string `yaml:"oid"`
	Timeout   int    `yaml:"timeout"`
	Retries   int    `yaml:"retries"`

	// Counter rates the value as per-second delta between cycles.
	Counter bool `yaml:"counter"`

	V3 *SNMPv3 `yaml:"v3"`
}

// SNMPv3 holds USM credentials.
type SNMPv3 struct {
	Username                 string `yaml:"username"`
	SecurityLevel            string `yaml:"security_level"`
	AuthenticationProtocol   string `yaml:"authentication_protocol"`
	AuthenticationPassphrase string `yaml:"authentication_passphrase"`
	PrivacyProtocol          string `yaml:"privacy_protocol"`
	PrivacyPassphrase        string `yaml:"privacy_passphrase"`
}
