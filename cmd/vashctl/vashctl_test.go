package main

import (
	"bytes"
	"context"
	"net"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vashsender/internal/tasks"
)

type stubResolver struct {
	txt map[string][]string
	mx  map[string][]*net.MX
}

func (s stubResolver) LookupTXT(_ context.Context, name string) ([]string, error) {
	if recs, ok := s.txt[name]; ok {
		return recs, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
}

func (s stubResolver) LookupMX(_ context.Context, name string) ([]*net.MX, error) {
	if recs, ok := s.mx[name]; ok {
		return recs, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func withResolver(t *testing.T, r stubResolver) {
	t.Helper()
	prev := resolver
	resolver = r
	t.Cleanup(func() { resolver = prev })
}

func TestDNSCheck_Verified(t *testing.T) {
	withResolver(t, stubResolver{
		txt: map[string][]string{
			"acme.io": {
				"vashsender-verification=tok42",
				"v=spf1 include:_spf.vashsender.io ~all",
			},
			"vs1._domainkey.acme.io": {"v=DKIM1; k=rsa; p=MIIBkey"},
			"_dmarc.acme.io":         {"v=DMARC1; p=quarantine"},
		},
		mx: map[string][]*net.MX{"acme.io": {{Host: "mx.acme.io.", Pref: 10}}},
	})

	out, err := execute(t, "dns", "check", "acme.io",
		"--selector", "vs1", "--spf-include", "_spf.vashsender.io",
		"--token", "tok42", "--dkim-key", "MIIBkey")

	require.NoError(t, err)
	assert.Contains(t, out, "Domain: acme.io")
	assert.Contains(t, out, "✓ dkim")
	assert.Contains(t, out, "verified")
	assert.NotContains(t, out, "✗")
}

func TestDNSCheck_ReportsMissingRecords(t *testing.T) {
	withResolver(t, stubResolver{
		txt: map[string][]string{"bare.io": {"v=spf1 -all"}},
	})

	out, err := execute(t, "dns", "check", "bare.io",
		"--selector", "vs1", "--spf-include", "_spf.vashsender.io",
		"--token", "tok", "--dkim-key", "key")

	require.Error(t, err)
	assert.Contains(t, out, "✗ ownership")
	assert.Contains(t, out, "✗ dmarc")
	assert.Contains(t, out, "not verified")
}

func TestDNSCheck_RequiresDomain(t *testing.T) {
	_, err := execute(t, "dns", "check")
	assert.Error(t, err)
}

func TestSMTPTest_RejectsUnknownTLSMode(t *testing.T) {
	_, err := execute(t, "smtp", "test", "--host", "smtp.acme.io", "--tls", "SSLv3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown TLS mode")
}

func TestWriteQueueStats(t *testing.T) {
	var out bytes.Buffer
	queueStatsCmd.SetOut(&out)
	t.Cleanup(func() { queueStatsCmd.SetOut(nil) })

	writeQueueStats(queueStatsCmd, []tasks.QueueStats{
		{Queue: "campaigns", Size: 12, Pending: 10, Active: 2},
		{Queue: "default", Paused: true},
	})

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Contains(t, string(lines[0]), "PENDING")
	assert.Contains(t, string(lines[1]), "campaigns")
	assert.Contains(t, string(lines[2]), "true")
}
