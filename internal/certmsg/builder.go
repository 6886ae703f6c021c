// Package certmsg builds the three pre-serialized message variants
// (full, lite, domains) from a decoded certificate record. Serialize
// once, broadcast many: every subscriber reads the same buffer.
package certmsg

import (
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/burakozcn01/certstream-server-go/internal/ctdecode"
	"github.com/burakozcn01/certstream-server-go/pkg/certmodel"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type envelope struct {
	MessageType string      `json:"message_type"`
	Data        interface{} `json:"data"`
}

type fullData struct {
	UpdateType string              `json:"update_type"`
	LeafCert   *certmodel.CertRecord `json:"leaf_cert"`
	Chain      []*certmodel.CertRecord `json:"chain"`
	CertIndex  int64               `json:"cert_index"`
	Seen       float64             `json:"seen"`
	Source     certmodel.Source    `json:"source"`
}

// liteCertRecord omits as_der and chain, matching the lite stream
// contract in spec.md §3.
type liteCertRecord struct {
	Subject            certmodel.RDNMap      `json:"subject"`
	Issuer             certmodel.RDNMap      `json:"issuer"`
	SerialNumber       string                `json:"serial_number"`
	NotBefore          int64                 `json:"not_before"`
	NotAfter           int64                 `json:"not_after"`
	SHA1               string                `json:"fingerprint"`
	SHA256             string                `json:"fingerprint_sha256"`
	SignatureAlgorithm string                `json:"signature_algorithm"`
	IsCA               bool                  `json:"is_ca"`
	Extensions         certmodel.Extensions  `json:"extensions"`
	AllDomains         []string              `json:"all_domains"`
}

type liteData struct {
	UpdateType string           `json:"update_type"`
	LeafCert   liteCertRecord   `json:"leaf_cert"`
	CertIndex  int64            `json:"cert_index"`
	Seen       float64          `json:"seen"`
	Source     certmodel.Source `json:"source"`
}

type domainsData struct {
	AllDomains []string         `json:"all_domains"`
	CertIndex  int64            `json:"cert_index"`
	Seen       float64          `json:"seen"`
	Source     certmodel.Source `json:"source"`
}

// Builder renders the three payload variants for each accepted entry.
// It holds no state; the per-log source metadata is passed in by the
// caller.
type Builder struct{}

func NewBuilder() *Builder { return &Builder{} }

// Build serializes d into the three immutable variants. now is the
// emission wall clock, in fractional seconds, shared across all three
// variants for one entry.
func (b *Builder) Build(d *ctdecode.Decoded, source certmodel.Source, now time.Time) (*certmodel.PreSerialized, error) {
	seen := float64(now.UnixNano()) / 1e9

	full := envelope{
		MessageType: "certificate_update",
		Data: fullData{
			UpdateType: d.UpdateType,
			LeafCert:   d.Leaf,
			Chain:      d.Leaf.Chain,
			CertIndex:  d.CertIndex,
			Seen:       seen,
			Source:     source,
		},
	}
	fullBytes, err := json.Marshal(full)
	if err != nil {
		return nil, err
	}

	lite := envelope{
		MessageType: "certificate_update",
		Data: liteData{
			UpdateType: d.UpdateType,
			LeafCert:   toLite(d.Leaf),
			CertIndex:  d.CertIndex,
			Seen:       seen,
			Source:     source,
		},
	}
	liteBytes, err := json.Marshal(lite)
	if err != nil {
		return nil, err
	}

	domains := envelope{
		MessageType: "certificate_update",
		Data: domainsData{
			AllDomains: d.Leaf.AllDomains,
			CertIndex:  d.CertIndex,
			Seen:       seen,
			Source:     source,
		},
	}
	domainsBytes, err := json.Marshal(domains)
	if err != nil {
		return nil, err
	}

	return &certmodel.PreSerialized{Full: fullBytes, Lite: liteBytes, Domains: domainsBytes}, nil
}

func toLite(r *certmodel.CertRecord) liteCertRecord {
	return liteCertRecord{
		Subject:            r.Subject,
		Issuer:             r.Issuer,
		SerialNumber:       r.SerialNumber,
		NotBefore:          r.NotBefore,
		NotAfter:           r.NotAfter,
		SHA1:               r.SHA1,
		SHA256:             r.SHA256,
		SignatureAlgorithm: r.SignatureAlgorithm,
		IsCA:               r.IsCA,
		Extensions:         r.Extensions,
		AllDomains:         r.AllDomains,
	}
}
