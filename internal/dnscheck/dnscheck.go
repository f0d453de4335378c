// Package dnscheck verifies that a sending domain publishes the records
// VashSender needs: an ownership token, SPF, DKIM and, advisorily, DMARC
// and MX.
package dnscheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

const OwnershipPrefix = "vashsender-verification="

// Resolver is the subset of *net.Resolver the checker needs.
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

type Checker struct {
	resolver Resolver
	timeout  time.Duration
}

func NewChecker(r Resolver) *Checker {
	if r == nil {
		r = net.DefaultResolver
	}
	return &Checker{resolver: r, timeout: 10 * time.Second}
}

// Expectation is what the domain owner was asked to publish.
type Expectation struct {
	Domain     string
	Token      string
	Selector   string
	PublicKey  string
	SPFInclude string
}

type Report struct {
	Domain    string            `json:"domain"`
	Ownership bool              `json:"ownership"`
	SPF       bool              `json:"spf"`
	DKIM      bool              `json:"dkim"`
	DMARC     bool              `json:"dmarc"`
	MX        bool              `json:"mx"`
	Problems  map[string]string `json:"problems,omitempty"`
	CheckedAt time.Time         `json:"checkedAt"`
}

// Verified is true once the domain may be used for sending. DMARC and MX
// are reported but not required.
func (r Report) Verified() bool {
	return r.Ownership && r.SPF && r.DKIM
}

func (r *Report) problem(check, format string, args ...interface{}) {
	if r.Problems == nil {
		r.Problems = map[string]string{}
	}
	r.Problems[check] = fmt.Sprintf(format, args...)
}

// Summary joins problems into one line for storage on the domain row.
func (r Report) Summary() string {
	parts := make([]string, 0, len(r.Problems))
	for _, check := range []string{"ownership", "spf", "dkim", "dmarc", "mx"} {
		if p, ok := r.Problems[check]; ok {
			parts = append(parts, check+": "+p)
		}
	}
	return strings.Join(parts, "; ")
}

func (c *Checker) Check(ctx context.Context, exp Expectation) Report {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	domain := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(exp.Domain)), ".")
	report := Report{Domain: domain, CheckedAt: time.Now().UTC()}

	apex, err := c.txt(ctx, domain)
	if err != nil {
		report.problem("ownership", "lookup failed: %v", err)
		report.problem("spf", "lookup failed: %v", err)
	} else {
		report.Ownership = checkOwnership(&report, apex, exp.Token)
		report.SPF = checkSPF(&report, apex, exp.SPFInclude)
	}

	dkimRecords, err := c.txt(ctx, exp.Selector+"._domainkey."+domain)
	if err != nil {
		report.problem("dkim", "lookup failed: %v", err)
	} else {
		report.DKIM = checkDKIM(&report, dkimRecords, exp.PublicKey)
	}

	dmarcRecords, err := c.txt(ctx, "_dmarc."+domain)
	if err != nil {
		report.problem("dmarc", "lookup failed: %v", err)
	} else {
		report.DMARC = checkDMARC(&report, dmarcRecords)
	}

	mx, err := c.resolver.LookupMX(ctx, domain)
	switch {
	case err != nil && !isNotFound(err):
		report.problem("mx", "lookup failed: %v", err)
	case len(mx) == 0:
		report.problem("mx", "no MX records")
	default:
		report.MX = true
	}

	return report
}

// txt treats NXDOMAIN and empty answers as "no records".
func (c *Checker) txt(ctx context.Context, name string) ([]string, error) {
	records, err := c.resolver.LookupTXT(ctx, name)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return records, nil
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}

func checkOwnership(r *Report, records []string, token string) bool {
	want := OwnershipPrefix + token
	for _, rec := range records {
		if strings.TrimSpace(rec) == want {
			return true
		}
	}
	r.problem("ownership", "TXT %q not found", want)
	return false
}

func checkSPF(r *Report, records []string, include string) bool {
	var spf []string
	for _, rec := range records {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(rec)), "v=spf1") {
			spf = append(spf, rec)
		}
	}

	switch len(spf) {
	case 0:
		r.problem("spf", "no SPF record")
		return false
	case 1:
	default:
		r.problem("spf", "%d SPF records published, exactly one is allowed", len(spf))
		return false
	}

	want := "include:" + strings.ToLower(include)
	for _, term := range strings.Fields(strings.ToLower(spf[0])) {
		if strings.TrimLeft(term, "+") == want {
			return true
		}
	}
	r.problem("spf", "SPF record does not contain %s", want)
	return false
}

func checkDKIM(r *Report, records []string, publicKey string) bool {
	if len(records) == 0 {
		r.problem("dkim", "no DKIM record")
		return false
	}
	want := stripSpace(publicKey)
	for _, rec := range records {
		tags := parseTags(rec)
		if v, ok := tags["v"]; ok && !strings.EqualFold(v, "DKIM1") {
			continue
		}
		if stripSpace(tags["p"]) == want && want != "" {
			return true
		}
	}
	r.problem("dkim", "DKIM public key does not match")
	return false
}

func checkDMARC(r *Report, records []string) bool {
	for _, rec := range records {
		if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(rec)), "V=DMARC1") {
			return true
		}
	}
	r.problem("dmarc", "no DMARC record")
	return false
}

// parseTags splits a "k=v; k2=v2" tag list.
func parseTags(rec string) map[string]string {
	tags := map[string]string{}
	for _, part := range strings.Split(rec, ";") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		tags[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return tags
}

func stripSpace(s string) string {
	return strings.Join(strings.Fields(s), "")
}
