package intel

import (
	"net/netip"
	"time"
)

// Confidence grades how certain a source is that an address is hostile.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// DetectionEntry is one normalized threat-IP record ready for persistence.
// Immutable once produced by a collector.
type DetectionEntry struct {
	IP            string     `json:"ip"`
	Source        string     `json:"source"`
	DetectionDate time.Time  `json:"detection_date"`
	ThreatType    string     `json:"threat_type,omitempty"`
	Country       string     `json:"country,omitempty"`
	Confidence    Confidence `json:"confidence"`
}

// Key identifies the entry for dedup and upsert purposes.
func (e DetectionEntry) Key() string { return e.IP + "|" + e.Source }

// RunStatus is the terminal outcome of a collection run.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunFailure RunStatus = "failure"
)

// RunLogRecord is written exactly once per orchestrated run, success or not.
type RunLogRecord struct {
	Source      string    `json:"source"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Status      RunStatus `json:"status"`
	ResultCount int       `json:"result_count"`
	Error       string    `json:"error,omitempty"`
}

// DateRange is the inclusive detection-date window a run covers.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// LastDays returns a range covering the trailing n days up to now.
func LastDays(n int) DateRange {
	now := time.Now().UTC()
	return DateRange{Start: now.AddDate(0, 0, -n), End: now}
}

// ValidPublicIP reports whether s parses as an IP address that is
// routable on the public internet. Private, loopback, link-local,
// multicast and unspecified addresses are never stored as threats.
func ValidPublicIP(s string) bool {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return false
	}
	if addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsMulticast() || addr.IsUnspecified() {
		return false
	}
	return true
}
