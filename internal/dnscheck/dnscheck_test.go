package dnscheck

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	txt map[string][]string
	mx  map[string][]*net.MX
	err map[string]error
}

func (f *fakeResolver) LookupTXT(_ context.Context, name string) ([]string, error) {
	if err := f.err[name]; err != nil {
		return nil, err
	}
	if recs, ok := f.txt[name]; ok {
		return recs, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
}

func (f *fakeResolver) LookupMX(_ context.Context, name string) ([]*net.MX, error) {
	if recs, ok := f.mx[name]; ok {
		return recs, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
}

var exp = Expectation{
	Domain:     "Example.com.",
	Token:      "abc123",
	Selector:   "vs1",
	PublicKey:  "MIIBIjANBgkq",
	SPFInclude: "_spf.vashsender.io",
}

func healthy() *fakeResolver {
	return &fakeResolver{
		txt: map[string][]string{
			"example.com": {
				"google-site-verification=zzz",
				"vashsender-verification=abc123",
				"v=spf1 include:_spf.google.com include:_spf.vashsender.io ~all",
			},
			"vs1._domainkey.example.com": {"v=DKIM1; k=rsa; p=MIIB IjANBgkq"},
			"_dmarc.example.com":         {"v=DMARC1; p=none"},
		},
		mx: map[string][]*net.MX{"example.com": {{Host: "mx.example.com.", Pref: 10}}},
	}
}

func TestCheck_AllRecordsPresent(t *testing.T) {
	report := NewChecker(healthy()).Check(context.Background(), exp)

	assert.Equal(t, "example.com", report.Domain)
	assert.True(t, report.Ownership)
	assert.True(t, report.SPF)
	assert.True(t, report.DKIM)
	assert.True(t, report.DMARC)
	assert.True(t, report.MX)
	assert.True(t, report.Verified())
	assert.Empty(t, report.Problems)
}

func TestCheck_MultipleSPFRecordsFail(t *testing.T) {
	r := healthy()
	r.txt["example.com"] = append(r.txt["example.com"], "v=spf1 -all")

	report := NewChecker(r).Check(context.Background(), exp)

	assert.False(t, report.SPF)
	assert.False(t, report.Verified())
	assert.Contains(t, report.Problems["spf"], "exactly one")
}

func TestCheck_SPFWithoutInclude(t *testing.T) {
	r := healthy()
	r.txt["example.com"] = []string{"vashsender-verification=abc123", "v=spf1 include:_spf.google.com ~all"}

	report := NewChecker(r).Check(context.Background(), exp)

	assert.True(t, report.Ownership)
	assert.False(t, report.SPF)
}

func TestCheck_DKIMMismatchAndMissingAdvisory(t *testing.T) {
	r := healthy()
	r.txt["vs1._domainkey.example.com"] = []string{"v=DKIM1; p=OTHERKEY"}
	delete(r.txt, "_dmarc.example.com")
	delete(r.mx, "example.com")

	report := NewChecker(r).Check(context.Background(), exp)

	assert.False(t, report.DKIM)
	assert.False(t, report.DMARC)
	assert.False(t, report.MX)
	assert.False(t, report.Verified())
	assert.Contains(t, report.Summary(), "dkim: DKIM public key does not match")
}

func TestCheck_DMARCAndMXAreAdvisory(t *testing.T) {
	r := healthy()
	delete(r.txt, "_dmarc.example.com")
	delete(r.mx, "example.com")

	report := NewChecker(r).Check(context.Background(), exp)
	assert.True(t, report.Verified())
}

func TestCheck_LookupFailure(t *testing.T) {
	r := healthy()
	r.err = map[string]error{"example.com": errors.New("servfail")}

	report := NewChecker(r).Check(context.Background(), exp)

	assert.False(t, report.Ownership)
	assert.Contains(t, report.Problems["ownership"], "servfail")
}

func TestGenerateDKIMKey(t *testing.T) {
	privPEM, pub, err := GenerateDKIMKey(1024)
	require.NoError(t, err)

	block, _ := pem.Decode([]byte(privPEM))
	require.NotNil(t, block)
	assert.Equal(t, "RSA PRIVATE KEY", block.Type)
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	require.NoError(t, err)

	der, err := base64.StdEncoding.DecodeString(pub)
	require.NoError(t, err)
	parsed, err := x509.ParsePKIXPublicKey(der)
	require.NoError(t, err)
	rsaPub, ok := parsed.(*rsa.PublicKey)
	require.True(t, ok)
	assert.Zero(t, key.N.Cmp(rsaPub.N))
	assert.Equal(t, key.E, rsaPub.E)
}

func TestRequiredRecords(t *testing.T) {
	recs := RequiredRecords("example.com", "tok", "vs1", "PUB", "_spf.vashsender.io")
	require.Len(t, recs, 4)
	assert.Equal(t, "vashsender-verification=tok", recs[0].Value)
	assert.Equal(t, "v=spf1 include:_spf.vashsender.io ~all", recs[1].Value)
	assert.Equal(t, "vs1._domainkey.example.com", recs[2].Host)
	assert.False(t, recs[3].Required)
}
