// Package collector owns the authenticated sessions against external
// threat-intel portals. Each source implements the same four-step
// capability: authenticate, fetch, parse, collect.
package collector

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/blacktide/blacktide/internal/config"
	"github.com/blacktide/blacktide/internal/credstore"
	"github.com/blacktide/blacktide/internal/httpclient"
	"github.com/blacktide/blacktide/internal/intel"
	"github.com/blacktide/blacktide/internal/logging"
	"github.com/blacktide/blacktide/internal/rate"
)

const (
	SourceRegtech  = "regtech"
	SourceSecudium = "secudium"
)

// RawRecord is one record as fetched from a source, before normalization.
type RawRecord struct {
	Source string
	Fields map[string]string
}

// Session is the authenticated state for one run. Cookie-based portals
// carry their state in the client's jar; token portals in Token. A session
// is valid for the remainder of a single Collect call only.
type Session struct {
	Client *httpclient.Resilient
	Token  string
}

// CollectionResult is what a completed run hands back to the orchestrator.
type CollectionResult struct {
	Entries   []intel.DetectionEntry
	Attempted int
	Skipped   int
}

// Collector is the capability contract every source implements.
type Collector interface {
	Source() string
	Authenticate(ctx context.Context) (*Session, error)
	Fetch(ctx context.Context, sess *Session, dr intel.DateRange) ([]RawRecord, error)
	Parse(rec RawRecord) (intel.DetectionEntry, error)
	// Collect composes authenticate, fetch and parse. It is the only
	// method the orchestrator calls.
	Collect(ctx context.Context, dr intel.DateRange) (*CollectionResult, error)
}

// NewRegistry builds the source-name lookup table of configured collectors.
func NewRegistry(cfg *config.Config, creds *credstore.Store, log *logging.Logger) map[string]Collector {
	return map[string]Collector{
		SourceRegtech:  NewRegtech(cfg.Regtech, creds, log),
		SourceSecudium: NewSecudium(cfg.Secudium, creds, log),
	}
}

// base carries what every concrete collector needs.
type base struct {
	source  string
	cfg     config.SourceConfig
	creds   *credstore.Store
	limiter *rate.PerHost
	log     *logging.Logger
}

func newBase(source string, cfg config.SourceConfig, creds *credstore.Store, log *logging.Logger) base {
	return base{
		source:  source,
		cfg:     cfg,
		creds:   creds,
		limiter: rate.New(cfg.RequestsPerSec, 1),
		log:     log,
	}
}

// credential looks up the login secret, folding credential-store failures
// into auth failures. A corrupted store behaves like bad credentials until
// an operator re-saves them; it must not crash the process.
func (b *base) credential() (credstore.Credential, error) {
	c, err := b.creds.Get(b.source)
	if err != nil {
		if errors.Is(err, credstore.ErrCorrupted) {
			b.log.Error("credential store corrupted", "source", b.source, "err", err)
		}
		return credstore.Credential{}, &AuthError{Source: b.source, Kind: AuthInvalidCredentials, Err: err}
	}
	return c, nil
}

// runCollect is the shared authenticate -> fetch -> parse composition.
// A malformed record is counted and skipped, never fatal.
func runCollect(ctx context.Context, c Collector, dr intel.DateRange) (*CollectionResult, error) {
	sess, err := c.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	raws, err := c.Fetch(ctx, sess, dr)
	if err != nil {
		return nil, err
	}
	res := &CollectionResult{Attempted: len(raws)}
	for _, raw := range raws {
		entry, err := c.Parse(raw)
		if err != nil {
			res.Skipped++
			continue
		}
		res.Entries = append(res.Entries, entry)
	}
	return res, nil
}

// newLoginBackoff bounds login retries. Only transport errors are retried;
// credential and duplicate-session rejections come back as permanent.
func newLoginBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 15 * time.Second
	return bo
}

func asAuthError(err error, target **AuthError) bool { return errors.As(err, target) }

func hostOf(baseURL string) string {
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		return u.Host
	}
	return baseURL
}

// classifyFetchErr maps transport-level failures onto the fetch taxonomy.
func classifyFetchErr(source string, err error) error {
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Source: source, Kind: FetchTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &FetchError{Source: source, Kind: FetchTimeout, Err: err}
	}
	if httpclient.StatusCodeOf(err) == http.StatusTooManyRequests {
		return &FetchError{Source: source, Kind: FetchRateLimited, Err: err}
	}
	return &FetchError{Source: source, Kind: FetchUnexpectedFormat, Err: err}
}
