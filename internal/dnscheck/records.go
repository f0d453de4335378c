package dnscheck

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
)

// Record is a DNS record the domain owner must publish.
type Record struct {
	Type     string `json:"type"`
	Host     string `json:"host"`
	Value    string `json:"value"`
	Purpose  string `json:"purpose"`
	Required bool   `json:"required"`
}

func RequiredRecords(domain, token, selector, publicKey, spfInclude string) []Record {
	return []Record{
		{
			Type:     "TXT",
			Host:     domain,
			Value:    OwnershipPrefix + token,
			Purpose:  "ownership",
			Required: true,
		},
		{
			Type:     "TXT",
			Host:     domain,
			Value:    fmt.Sprintf("v=spf1 include:%s ~all", spfInclude),
			Purpose:  "spf",
			Required: true,
		},
		{
			Type:     "TXT",
			Host:     selector + "._domainkey." + domain,
			Value:    "v=DKIM1; k=rsa; p=" + publicKey,
			Purpose:  "dkim",
			Required: true,
		},
		{
			Type:    "TXT",
			Host:    "_dmarc." + domain,
			Value:   fmt.Sprintf("v=DMARC1; p=none; rua=mailto:dmarc@%s", domain),
			Purpose: "dmarc",
		},
	}
}

// GenerateDKIMKey returns a PKCS#1 PEM private key and the base64 DER
// public key for the DKIM p= tag.
func GenerateDKIMKey(bits int) (privatePEM string, publicKey string, err error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate dkim key: %w", err)
	}

	priv := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode dkim public key: %w", err)
	}

	return string(priv), base64.StdEncoding.EncodeToString(der), nil
}
