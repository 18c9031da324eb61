package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/blacktide/blacktide/internal/config"
	"github.com/blacktide/blacktide/internal/credstore"
	"github.com/blacktide/blacktide/internal/httpclient"
	"github.com/blacktide/blacktide/internal/intel"
	"github.com/blacktide/blacktide/internal/logging"
	"github.com/blacktide/blacktide/internal/metrics"
)

const (
	// Error code the portal returns when the account already has a live
	// session somewhere else.
	secudiumExistSessionCode = "login.fail.exist.session"

	secudiumDateLayout = "2006-01-02"
	secudiumPageSize   = 100
)

// Secudium collects a JSON board API behind token auth.
type Secudium struct {
	base
}

func NewSecudium(cfg config.SourceConfig, creds *credstore.Store, log *logging.Logger) *Secudium {
	return &Secudium{base: newBase(SourceSecudium, cfg, creds, log)}
}

func (s *Secudium) Source() string { return SourceSecudium }

type secudiumLoginResponse struct {
	Token string `json:"token"`
	Error string `json:"error"`
}

type secudiumListResponse struct {
	Total int `json:"total"`
	Rows  []struct {
		IP         string `json:"ip"`
		Country    string `json:"country"`
		AttackType string `json:"attack_type"`
		DetectDate string `json:"detect_date"`
	} `json:"rows"`
}

// Authenticate exchanges the credential for a bearer token.
func (s *Secudium) Authenticate(ctx context.Context) (*Session, error) {
	cred, err := s.credential()
	if err != nil {
		return nil, err
	}

	client := httpclient.NewResilient(httpclient.NewSession(s.cfg.Timeout()))

	var sess *Session
	op := func() error {
		payload, _ := json.Marshal(map[string]string{
			"username": cred.Username,
			"password": cred.Password,
		})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			s.cfg.BaseURL+"/api/login", bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			metrics.AuthFailuresTotal.WithLabelValues(SourceSecudium, string(AuthUnreachable)).Inc()
			return &AuthError{Source: SourceSecudium, Kind: AuthUnreachable, Err: err}
		}
		defer resp.Body.Close()

		var lr secudiumLoginResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&lr); err != nil {
			metrics.AuthFailuresTotal.WithLabelValues(SourceSecudium, string(AuthUnreachable)).Inc()
			return &AuthError{Source: SourceSecudium, Kind: AuthUnreachable,
				Err: fmt.Errorf("undecodable login response: %w", err)}
		}

		switch {
		case resp.StatusCode == http.StatusOK && lr.Token != "":
			sess = &Session{Client: client, Token: lr.Token}
			return nil
		case strings.Contains(lr.Error, secudiumExistSessionCode):
			metrics.AuthFailuresTotal.WithLabelValues(SourceSecudium, string(AuthDuplicateSession)).Inc()
			return backoff.Permanent(&AuthError{Source: SourceSecudium, Kind: AuthDuplicateSession})
		default:
			metrics.AuthFailuresTotal.WithLabelValues(SourceSecudium, string(AuthInvalidCredentials)).Inc()
			return backoff.Permanent(&AuthError{Source: SourceSecudium, Kind: AuthInvalidCredentials})
		}
	}

	bo := backoff.WithContext(newLoginBackoff(), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		var ae *AuthError
		if asAuthError(err, &ae) {
			return nil, ae
		}
		return nil, &AuthError{Source: SourceSecudium, Kind: AuthUnreachable, Err: err}
	}
	return sess, nil
}

// Fetch pages through the board API until the reported total is covered,
// a page comes back empty, or the ceiling is hit.
func (s *Secudium) Fetch(ctx context.Context, sess *Session, dr intel.DateRange) ([]RawRecord, error) {
	var out []RawRecord
	host := hostOf(s.cfg.BaseURL)

	for page := 1; page <= s.cfg.MaxPages; page++ {
		if err := s.limiter.Wait(ctx, host); err != nil {
			return nil, classifyFetchErr(SourceSecudium, err)
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"page":      page,
			"size":      secudiumPageSize,
			"startDate": dr.Start.Format(secudiumDateLayout),
			"endDate":   dr.End.Format(secudiumDateLayout),
		})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			s.cfg.BaseURL+"/api/secinfo/list", bytes.NewReader(payload))
		if err != nil {
			return nil, classifyFetchErr(SourceSecudium, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+sess.Token)

		resp, err := sess.Client.Do(req)
		if err != nil {
			return nil, classifyFetchErr(SourceSecudium, err)
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			return nil, &FetchError{Source: SourceSecudium, Kind: FetchRateLimited}
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, &FetchError{Source: SourceSecudium, Kind: FetchUnexpectedFormat,
				Err: fmt.Errorf("status %d on page %d", resp.StatusCode, page)}
		}

		var list secudiumListResponse
		err = json.NewDecoder(io.LimitReader(resp.Body, 4*1024*1024)).Decode(&list)
		resp.Body.Close()
		if err != nil {
			return nil, &FetchError{Source: SourceSecudium, Kind: FetchUnexpectedFormat, Err: err}
		}
		metrics.PagesFetchedTotal.WithLabelValues(SourceSecudium).Inc()

		if len(list.Rows) == 0 {
			return out, nil
		}
		for _, row := range list.Rows {
			out = append(out, RawRecord{Source: SourceSecudium, Fields: map[string]string{
				"ip":          row.IP,
				"country":     row.Country,
				"threat_type": row.AttackType,
				"date":        row.DetectDate,
			}})
		}
		if page*secudiumPageSize >= list.Total {
			return out, nil
		}
	}
	s.log.Warn("page ceiling reached", "source", SourceSecudium, "max_pages", s.cfg.MaxPages)
	return out, nil
}

func (s *Secudium) Parse(rec RawRecord) (intel.DetectionEntry, error) {
	ip := strings.TrimSpace(rec.Fields["ip"])
	if !intel.ValidPublicIP(ip) {
		return intel.DetectionEntry{}, &ParseError{Reason: "invalid or non-public ip " + ip}
	}
	date, err := time.Parse(secudiumDateLayout, strings.TrimSpace(rec.Fields["date"]))
	if err != nil {
		return intel.DetectionEntry{}, &ParseError{Reason: "bad detection date: " + rec.Fields["date"]}
	}
	return intel.DetectionEntry{
		IP:            ip,
		Source:        SourceSecudium,
		DetectionDate: date,
		ThreatType:    strings.TrimSpace(rec.Fields["threat_type"]),
		Country:       strings.TrimSpace(rec.Fields["country"]),
		Confidence:    intel.ConfidenceMedium,
	}, nil
}

func (s *Secudium) Collect(ctx context.Context, dr intel.DateRange) (*CollectionResult, error) {
	return runCollect(ctx, s, dr)
}
