// Package ctdecode turns a parsed CT log entry into the structured
// certmodel.CertRecord the message builder serializes. It never
// validates trust chains; that is explicitly out of scope (spec.md §1).
package ctdecode

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	ct "github.com/google/certificate-transparency-go"
	ctx509 "github.com/google/certificate-transparency-go/x509"
	ctpkix "github.com/google/certificate-transparency-go/x509/pkix"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"

	"github.com/burakozcn01/certstream-server-go/pkg/certmodel"
)

const poisonOID = "1.3.6.1.4.1.11129.2.4.3"

var oidLabels = map[string]string{
	"2.5.4.6":              "C",
	"2.5.4.3":              "CN",
	"2.5.4.7":              "L",
	"2.5.4.10":             "O",
	"2.5.4.11":             "OU",
	"2.5.4.8":              "ST",
	"1.2.840.113549.1.9.1": "emailAddress",
}

// Decoder extracts CertRecords from ct.LogEntry values. A decode
// error for one entry is logged and the entry is skipped; it never
// stalls the worker (spec.md §4.4).
type Decoder struct {
	logger *logrus.Entry
}

func NewDecoder(logger *logrus.Entry) *Decoder {
	return &Decoder{logger: logger}
}

// Decoded is everything the message builder needs about one entry.
type Decoded struct {
	UpdateType string
	Leaf       *certmodel.CertRecord
	CertIndex  int64
}

// Decode builds a Decoded from a ct.LogEntry. A nil result with a nil
// error means the entry carried neither an X.509 certificate nor a
// precertificate and was intentionally skipped.
func (d *Decoder) Decode(index int64, entry ct.LogEntry) (*Decoded, error) {
	var (
		cert       *ctx509.Certificate
		entryType  = entry.Leaf.TimestampedEntry.EntryType
		isPrecert  bool
		err        error
	)

	switch {
	case entry.X509Cert != nil:
		cert = entry.X509Cert
	case entry.Leaf.TimestampedEntry.EntryType == ct.PrecertLogEntryType || entry.Precert != nil:
		cert, err = entry.Leaf.Precertificate()
		if err != nil {
			return nil, fmt.Errorf("parse precertificate: %w", err)
		}
		isPrecert = true
	default:
		return nil, nil
	}

	leaf := buildRecord(cert, entry.Chain)
	isPrecert = isPrecert || entryType == ct.PrecertLogEntryType || leaf.Extensions.CTLPoisonByte

	updateType := "X509LogEntry"
	if isPrecert {
		updateType = "PrecertLogEntry"
	}

	if d.logger.Logger.IsLevelEnabled(logrus.DebugLevel) {
		d.logger.WithFields(logrus.Fields{
			"cert_index":          index,
			"registrable_domains": registrableDomains(leaf.AllDomains),
		}).Debug("decoded certificate entry")
	}

	return &Decoded{UpdateType: updateType, Leaf: leaf, CertIndex: index}, nil
}

func buildRecord(cert *ctx509.Certificate, chain []ct.ASN1Cert) *certmodel.CertRecord {
	sha1sum := sha1.Sum(cert.Raw)
	sha256sum := sha256.Sum256(cert.Raw)

	rec := &certmodel.CertRecord{
		Subject:            rdnMap(cert.Subject),
		Issuer:             rdnMap(cert.Issuer),
		SerialNumber:       strings.ToUpper(fmt.Sprintf("%x", cert.SerialNumber)),
		NotBefore:          cert.NotBefore.Unix(),
		NotAfter:           cert.NotAfter.Unix(),
		SHA1:               colonHex(sha1sum[:]),
		SHA256:             colonHex(sha256sum[:]),
		SignatureAlgorithm: signatureAlgorithmString(cert.SignatureAlgorithm),
		IsCA:               cert.IsCA,
		Extensions:         buildExtensions(cert),
		AllDomains:         allDomains(cert),
		AsDER:              base64DER(cert.Raw),
	}

	for _, c := range chain {
		issuer, err := ctx509.ParseCertificate(c.Data)
		if err != nil {
			continue
		}
		rec.Chain = append(rec.Chain, buildRecord(issuer, nil))
	}

	return rec
}

func colonHex(b []byte) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("%02X", c)
	}
	return strings.Join(parts, ":")
}

func base64DER(der []byte) string {
	return base64.StdEncoding.EncodeToString(der)
}

// rdnMap walks the certificate's RDN attributes in their encoded
// order and builds both the per-component map and the aggregated
// `/K=V/...` string in the same pass, so aggregated always matches
// the map's provenance (invariant 8).
func rdnMap(name ctpkix.Name) certmodel.RDNMap {
	m := certmodel.RDNMap{}
	var agg strings.Builder

	for _, atv := range name.Names {
		label, ok := oidLabels[atv.Type.String()]
		if !ok {
			continue
		}
		v, ok := atv.Value.(string)
		if !ok || v == "" {
			continue
		}
		if _, exists := m[label]; !exists {
			m[label] = v
		}
		agg.WriteByte('/')
		agg.WriteString(label)
		agg.WriteByte('=')
		agg.WriteString(v)
	}
	m["aggregated"] = agg.String()
	return m
}

// allDomains starts with the subject CN if it looks like a DNS label,
// then appends SAN dNSName entries in order, preserving first
// occurrence on duplicates (after normalization) and wildcards
// verbatim. Entries are normalized through idna so punycode and
// mixed-case variants of the same name dedupe together; the original,
// non-normalized form is what gets appended, since downstream clients
// expect the wire-format label, not its ASCII-folded form.
func allDomains(cert *ctx509.Certificate) []string {
	seen := make(map[string]struct{})
	var out []string

	add := func(d string) {
		if d == "" {
			return
		}
		key := normalizeDomainKey(d)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, d)
	}

	if cn := cert.Subject.CommonName; looksLikeDNSName(cn) {
		add(cn)
	}
	for _, d := range cert.DNSNames {
		add(d)
	}
	return out
}

// normalizeDomainKey folds a domain into a canonical lowercase ASCII
// form for deduplication, so "Example.COM" and a punycode-encoded
// IDN equivalent collapse to the same entry. Falls back to a plain
// lowercase of the input when idna rejects it (wildcards, underscores
// and other characters outside the STD3 rules).
func normalizeDomainKey(d string) string {
	lower := strings.ToLower(d)
	ascii, err := idna.Lookup.ToASCII(lower)
	if err != nil {
		return lower
	}
	return ascii
}

func looksLikeDNSName(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t\n\"'@") {
		return false
	}
	return true
}

// registrableDomain returns the eTLD+1 for d, or "" if none can be
// derived (single-label names such as "localhost", bare public
// suffixes, malformed labels). Names under an unlisted suffix fall
// under the public suffix list's default rule, so "host.corp.internal"
// yields "corp.internal".
func registrableDomain(d string) string {
	d = strings.TrimPrefix(d, "*.")
	etld1, err := publicsuffix.EffectiveTLDPlusOne(d)
	if err != nil {
		return ""
	}
	return etld1
}

// registrableDomains folds domains down to their distinct eTLD+1s,
// for debug-level observability without the unbounded label
// cardinality a Prometheus metric keyed by domain would incur.
func registrableDomains(domains []string) []string {
	seen := make(map[string]struct{}, len(domains))
	var out []string
	for _, d := range domains {
		r := registrableDomain(d)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

func signatureAlgorithmString(alg ctx509.SignatureAlgorithm) string {
	switch alg {
	case ctx509.MD2WithRSA:
		return "md2, rsa"
	case ctx509.MD5WithRSA:
		return "md5, rsa"
	case ctx509.SHA1WithRSA:
		return "sha1, rsa"
	case ctx509.SHA256WithRSA:
		return "sha256, rsa"
	case ctx509.SHA384WithRSA:
		return "sha384, rsa"
	case ctx509.SHA512WithRSA:
		return "sha512, rsa"
	case ctx509.SHA256WithRSAPSS:
		return "sha256, rsapss"
	case ctx509.SHA384WithRSAPSS:
		return "sha384, rsapss"
	case ctx509.SHA512WithRSAPSS:
		return "sha512, rsapss"
	case ctx509.DSAWithSHA1:
		return "dsa, sha1"
	case ctx509.DSAWithSHA256:
		return "dsa, sha256"
	case ctx509.ECDSAWithSHA1:
		return "ecdsa, sha1"
	case ctx509.ECDSAWithSHA256:
		return "ecdsa, sha256"
	case ctx509.ECDSAWithSHA384:
		return "ecdsa, sha384"
	case ctx509.ECDSAWithSHA512:
		return "ecdsa, sha512"
	case ctx509.PureEd25519:
		return "ed25519"
	default:
		return "unknown"
	}
}

func buildExtensions(cert *ctx509.Certificate) certmodel.Extensions {
	ext := certmodel.Extensions{}

	if len(cert.OCSPServer) > 0 || len(cert.IssuingCertificateURL) > 0 {
		var parts []string
		parts = append(parts, cert.OCSPServer...)
		parts = append(parts, cert.IssuingCertificateURL...)
		ext.AuthorityInfoAccess = strings.Join(parts, ", ")
	}
	if len(cert.AuthorityKeyId) > 0 {
		ext.AuthorityKeyIdentifier = colonHex(cert.AuthorityKeyId)
	}
	if cert.BasicConstraintsValid {
		if cert.MaxPathLen > 0 || cert.MaxPathLenZero {
			ext.BasicConstraints = fmt.Sprintf("CA:%t, pathlen:%d", cert.IsCA, cert.MaxPathLen)
		} else {
			ext.BasicConstraints = fmt.Sprintf("CA:%t", cert.IsCA)
		}
	}
	if len(cert.PolicyIdentifiers) > 0 {
		parts := make([]string, len(cert.PolicyIdentifiers))
		for i, p := range cert.PolicyIdentifiers {
			parts[i] = p.String()
		}
		ext.CertificatePolicies = strings.Join(parts, ", ")
	}
	if len(cert.ExtKeyUsage) > 0 {
		parts := make([]string, 0, len(cert.ExtKeyUsage))
		for _, u := range cert.ExtKeyUsage {
			parts = append(parts, extKeyUsageName(u))
		}
		ext.ExtendedKeyUsage = strings.Join(parts, ", ")
	}
	if cert.KeyUsage != 0 {
		ext.KeyUsage = keyUsageString(cert.KeyUsage)
	}
	if len(cert.DNSNames) > 0 {
		ext.SubjectAltName = strings.Join(cert.DNSNames, ", ")
	}
	if len(cert.SubjectKeyId) > 0 {
		ext.SubjectKeyIdentifier = colonHex(cert.SubjectKeyId)
	}

	for _, raw := range cert.Extensions {
		if raw.Id.String() == poisonOID {
			ext.CTLPoisonByte = true
			break
		}
	}

	return ext
}

func extKeyUsageName(u ctx509.ExtKeyUsage) string {
	switch u {
	case ctx509.ExtKeyUsageServerAuth:
		return "serverAuth"
	case ctx509.ExtKeyUsageClientAuth:
		return "clientAuth"
	case ctx509.ExtKeyUsageCodeSigning:
		return "codeSigning"
	case ctx509.ExtKeyUsageEmailProtection:
		return "emailProtection"
	case ctx509.ExtKeyUsageTimeStamping:
		return "timeStamping"
	case ctx509.ExtKeyUsageOCSPSigning:
		return "OCSPSigning"
	default:
		return "unknown"
	}
}

func keyUsageString(ku ctx509.KeyUsage) string {
	var bits []string
	add := func(flag ctx509.KeyUsage, name string) {
		if ku&flag != 0 {
			bits = append(bits, name)
		}
	}
	add(ctx509.KeyUsageDigitalSignature, "digitalSignature")
	add(ctx509.KeyUsageContentCommitment, "contentCommitment")
	add(ctx509.KeyUsageKeyEncipherment, "keyEncipherment")
	add(ctx509.KeyUsageDataEncipherment, "dataEncipherment")
	add(ctx509.KeyUsageKeyAgreement, "keyAgreement")
	add(ctx509.KeyUsageCertSign, "keyCertSign")
	add(ctx509.KeyUsageCRLSign, "cRLSign")
	add(ctx509.KeyUsageEncipherOnly, "encipherOnly")
	add(ctx509.KeyUsageDecipherOnly, "decipherOnly")
	return strings.Join(bits, ", ")
}
