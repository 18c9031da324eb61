package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/net/html"

	"github.com/blacktide/blacktide/internal/config"
	"github.com/blacktide/blacktide/internal/credstore"
	"github.com/blacktide/blacktide/internal/httpclient"
	"github.com/blacktide/blacktide/internal/intel"
	"github.com/blacktide/blacktide/internal/logging"
	"github.com/blacktide/blacktide/internal/metrics"
)

// Portal markers. The login endpoint answers 200 for every outcome and
// distinguishes them only in the body.
const (
	regtechSessionCookie   = "REGTECH_SESSN"
	regtechLoginFailMarker = "login-fail"
	regtechDuplicateMarker = "duplicate-session"

	regtechDateLayout = "2006-01-02"
)

// Regtech collects the advisory board of a form-login portal. Sessions are
// cookie-based and fetch results come back as HTML tables.
type Regtech struct {
	base
}

func NewRegtech(cfg config.SourceConfig, creds *credstore.Store, log *logging.Logger) *Regtech {
	return &Regtech{base: newBase(SourceRegtech, cfg, creds, log)}
}

func (r *Regtech) Source() string { return SourceRegtech }

// Authenticate posts the login form and verifies a session cookie was
// granted. Transport errors are retried briefly; credential and
// duplicate-session rejections are permanent.
func (r *Regtech) Authenticate(ctx context.Context) (*Session, error) {
	cred, err := r.credential()
	if err != nil {
		return nil, err
	}

	client := httpclient.NewResilient(httpclient.NewSession(r.cfg.Timeout()))

	var sess *Session
	op := func() error {
		form := url.Values{
			"loginID": {cred.Username},
			"loginPW": {cred.Password},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			r.cfg.BaseURL+"/login/loginProcess", strings.NewReader(form.Encode()))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := client.Do(req)
		if err != nil {
			metrics.AuthFailuresTotal.WithLabelValues(SourceRegtech, string(AuthUnreachable)).Inc()
			return &AuthError{Source: SourceRegtech, Kind: AuthUnreachable, Err: err}
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		switch {
		case strings.Contains(string(body), regtechDuplicateMarker):
			metrics.AuthFailuresTotal.WithLabelValues(SourceRegtech, string(AuthDuplicateSession)).Inc()
			return backoff.Permanent(&AuthError{Source: SourceRegtech, Kind: AuthDuplicateSession})
		case strings.Contains(string(body), regtechLoginFailMarker), !r.hasSessionCookie(client):
			metrics.AuthFailuresTotal.WithLabelValues(SourceRegtech, string(AuthInvalidCredentials)).Inc()
			return backoff.Permanent(&AuthError{Source: SourceRegtech, Kind: AuthInvalidCredentials})
		}
		sess = &Session{Client: client}
		return nil
	}

	bo := backoff.WithContext(newLoginBackoff(), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		var ae *AuthError
		if asAuthError(err, &ae) {
			return nil, ae
		}
		return nil, &AuthError{Source: SourceRegtech, Kind: AuthUnreachable, Err: err}
	}
	return sess, nil
}

func (r *Regtech) hasSessionCookie(client *httpclient.Resilient) bool {
	u, err := url.Parse(r.cfg.BaseURL)
	if err != nil || client.Client().Jar == nil {
		return false
	}
	for _, c := range client.Client().Jar.Cookies(u) {
		if c.Name == regtechSessionCookie && c.Value != "" {
			return true
		}
	}
	return false
}

// Fetch walks the advisory board page by page until an empty page or the
// configured ceiling. The ceiling bounds worst-case run time against a
// misbehaving portal.
func (r *Regtech) Fetch(ctx context.Context, sess *Session, dr intel.DateRange) ([]RawRecord, error) {
	var out []RawRecord
	host := hostOf(r.cfg.BaseURL)

	for page := 1; page <= r.cfg.MaxPages; page++ {
		if err := r.limiter.Wait(ctx, host); err != nil {
			return nil, classifyFetchErr(SourceRegtech, err)
		}

		q := url.Values{
			"page":      {fmt.Sprintf("%d", page)},
			"startDate": {dr.Start.Format(regtechDateLayout)},
			"endDate":   {dr.End.Format(regtechDateLayout)},
		}
		resp, err := sess.Client.Get(ctx, r.cfg.BaseURL+"/board/advisoryList?"+q.Encode())
		if err != nil {
			return nil, classifyFetchErr(SourceRegtech, err)
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			return nil, &FetchError{Source: SourceRegtech, Kind: FetchRateLimited}
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, &FetchError{Source: SourceRegtech, Kind: FetchUnexpectedFormat,
				Err: fmt.Errorf("status %d on page %d", resp.StatusCode, page)}
		}

		rows := parseBoardRows(io.LimitReader(resp.Body, 2*1024*1024))
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		metrics.PagesFetchedTotal.WithLabelValues(SourceRegtech).Inc()

		if len(rows) == 0 {
			return out, nil
		}
		for _, cells := range rows {
			if len(cells) < 4 {
				// Header or malformed row; Parse counts real skips,
				// structural noise is dropped here.
				continue
			}
			out = append(out, RawRecord{Source: SourceRegtech, Fields: map[string]string{
				"ip":          cells[0],
				"country":     cells[1],
				"threat_type": cells[2],
				"date":        cells[3],
			}})
		}
	}
	r.log.Warn("page ceiling reached", "source", SourceRegtech, "max_pages", r.cfg.MaxPages)
	return out, nil
}

// Parse normalizes one board row. Addresses that fail public-range
// validation are rejected; the caller counts them as skipped.
func (r *Regtech) Parse(rec RawRecord) (intel.DetectionEntry, error) {
	ip := strings.TrimSpace(rec.Fields["ip"])
	if !intel.ValidPublicIP(ip) {
		return intel.DetectionEntry{}, &ParseError{Reason: "invalid or non-public ip " + ip}
	}
	date, err := time.Parse(regtechDateLayout, strings.TrimSpace(rec.Fields["date"]))
	if err != nil {
		return intel.DetectionEntry{}, &ParseError{Reason: "bad detection date: " + rec.Fields["date"]}
	}
	return intel.DetectionEntry{
		IP:            ip,
		Source:        SourceRegtech,
		DetectionDate: date,
		ThreatType:    strings.TrimSpace(rec.Fields["threat_type"]),
		Country:       strings.TrimSpace(rec.Fields["country"]),
		Confidence:    intel.ConfidenceHigh,
	}, nil
}

func (r *Regtech) Collect(ctx context.Context, dr intel.DateRange) (*CollectionResult, error) {
	return runCollect(ctx, r, dr)
}

// parseBoardRows extracts the cell texts of every table row in the body.
func parseBoardRows(body io.Reader) [][]string {
	z := html.NewTokenizer(body)
	var rows [][]string
	var row []string
	var cell strings.Builder
	inRow, inCell := false, false

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return rows
		}
		switch tt {
		case html.StartTagToken:
			t := z.Token()
			switch strings.ToLower(t.Data) {
			case "tr":
				inRow, row = true, nil
			case "td":
				if inRow {
					inCell = true
					cell.Reset()
				}
			}
		case html.TextToken:
			if inCell {
				cell.WriteString(string(z.Text()))
			}
		case html.EndTagToken:
			t := z.Token()
			switch strings.ToLower(t.Data) {
			case "td":
				if inCell {
					row = append(row, strings.TrimSpace(cell.String()))
					inCell = false
				}
			case "tr":
				if inRow && len(row) > 0 {
					rows = append(rows, row)
				}
				inRow = false
			}
		}
	}
}
