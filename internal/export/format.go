// Package export renders and ships collected detection entries to
// downstream consumers: blocklist-style text feeds and a JSON ingest
// endpoint with disk spooling for outages.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/blacktide/blacktide/internal/intel"
)

// Format is the feed output format.
type Format string

const (
	FormatPlain Format = "plain" // one IP per line, firewall-ready
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
	FormatJSON  Format = "json"
)

// ParseFormat parses a format string.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "plain", "txt":
		return FormatPlain, nil
	case "csv":
		return FormatCSV, nil
	case "jsonl", "ndjson":
		return FormatJSONL, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown format: %s", s)
	}
}

// Write renders entries to w in the given format.
func Write(w io.Writer, format Format, entries []intel.DetectionEntry) error {
	switch format {
	case FormatPlain:
		for _, e := range entries {
			if _, err := fmt.Fprintln(w, e.IP); err != nil {
				return err
			}
		}
		return nil

	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"ip", "source", "detection_date", "threat_type", "country", "confidence"}); err != nil {
			return err
		}
		for _, e := range entries {
			rec := []string{
				e.IP, e.Source, e.DetectionDate.Format(time.RFC3339),
				e.ThreatType, e.Country, string(e.Confidence),
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()

	case FormatJSONL:
		enc := json.NewEncoder(w)
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil

	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)

	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}
