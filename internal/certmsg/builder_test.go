package certmsg

import (
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"

	"github.com/burakozcn01/certstream-server-go/internal/ctdecode"
	"github.com/burakozcn01/certstream-server-go/pkg/certmodel"
)

func sampleDecoded() *ctdecode.Decoded {
	leaf := &certmodel.CertRecord{
		Subject:            certmodel.RDNMap{"CN": "example.com"},
		Issuer:              certmodel.RDNMap{"CN": "Test CA"},
		SerialNumber:        "0A1B2C",
		NotBefore:           1700000000,
		NotAfter:             1800000000,
		SHA1:                 "AA:BB:CC",
		SHA256:               "DD:EE:FF",
		SignatureAlgorithm:  "sha256, rsa",
		IsCA:                 false,
		Extensions:           certmodel.Extensions{SubjectAltName: "DNS:example.com"},
		AllDomains:           []string{"example.com", "www.example.com"},
		AsDER:                "YmFzZTY0",
		Chain: []*certmodel.CertRecord{
			{Subject: certmodel.RDNMap{"CN": "Test CA"}, SerialNumber: "FF", AsDER: "Y2hhaW4="},
		},
	}
	return &ctdecode.Decoded{UpdateType: "X509LogEntry", Leaf: leaf, CertIndex: 42}
}

func sampleSource() certmodel.Source {
	return certmodel.Source{Name: "Test Log", URL: "https://ct.example.com", Operator: "Example Org"}
}

func TestBuildProducesAllThreeVariants(t *testing.T) {
	b := NewBuilder()
	now := time.Unix(1700000500, 0)

	out, err := b.Build(sampleDecoded(), sampleSource(), now)
	require.NoError(t, err)
	require.NotEmpty(t, out.Full)
	require.NotEmpty(t, out.Lite)
	require.NotEmpty(t, out.Domains)
}

func TestBuildFullIncludesChainAndDER(t *testing.T) {
	b := NewBuilder()
	out, err := b.Build(sampleDecoded(), sampleSource(), time.Unix(1700000500, 0))
	require.NoError(t, err)

	var parsed struct {
		MessageType string `json:"message_type"`
		Data        struct {
			UpdateType string `json:"update_type"`
			LeafCert   struct {
				AsDER string `json:"as_der"`
			} `json:"leaf_cert"`
			Chain []struct {
				SerialNumber string `json:"serial_number"`
			} `json:"chain"`
			CertIndex int64            `json:"cert_index"`
			Source    certmodel.Source `json:"source"`
		} `json:"data"`
	}
	require.NoError(t, jsoniter.Unmarshal(out.Full, &parsed))

	require.Equal(t, "certificate_update", parsed.MessageType)
	require.Equal(t, "X509LogEntry", parsed.Data.UpdateType)
	require.Equal(t, "YmFzZTY0", parsed.Data.LeafCert.AsDER)
	require.Len(t, parsed.Data.Chain, 1)
	require.Equal(t, "FF", parsed.Data.Chain[0].SerialNumber)
	require.EqualValues(t, 42, parsed.Data.CertIndex)
	require.Equal(t, sampleSource(), parsed.Data.Source)
}

func TestBuildLiteOmitsDERAndChain(t *testing.T) {
	b := NewBuilder()
	out, err := b.Build(sampleDecoded(), sampleSource(), time.Unix(1700000500, 0))
	require.NoError(t, err)

	require.NotContains(t, string(out.Lite), "as_der")
	require.NotContains(t, string(out.Lite), "chain")

	var parsed struct {
		Data struct {
			LeafCert struct {
				AllDomains []string `json:"all_domains"`
			} `json:"leaf_cert"`
		} `json:"data"`
	}
	require.NoError(t, jsoniter.Unmarshal(out.Lite, &parsed))
	require.Equal(t, []string{"example.com", "www.example.com"}, parsed.Data.LeafCert.AllDomains)
}

func TestBuildDomainsOnlyHasJustDomainsAndMetadata(t *testing.T) {
	b := NewBuilder()
	out, err := b.Build(sampleDecoded(), sampleSource(), time.Unix(1700000500, 0))
	require.NoError(t, err)

	var parsed struct {
		Data struct {
			AllDomains []string         `json:"all_domains"`
			CertIndex  int64            `json:"cert_index"`
			Source     certmodel.Source `json:"source"`
		} `json:"data"`
	}
	require.NoError(t, jsoniter.Unmarshal(out.Domains, &parsed))
	require.Equal(t, []string{"example.com", "www.example.com"}, parsed.Data.AllDomains)
	require.EqualValues(t, 42, parsed.Data.CertIndex)
	require.NotContains(t, string(out.Domains), "leaf_cert")
}

func TestBuildSeenIsSharedAcrossVariants(t *testing.T) {
	b := NewBuilder()
	now := time.Unix(1700000500, 250000000)
	out, err := b.Build(sampleDecoded(), sampleSource(), now)
	require.NoError(t, err)

	extractSeen := func(payload []byte) float64 {
		var parsed struct {
			Data struct {
				Seen float64 `json:"seen"`
			} `json:"data"`
		}
		require.NoError(t, jsoniter.Unmarshal(payload, &parsed))
		return parsed.Data.Seen
	}

	want := float64(now.UnixNano()) / 1e9
	require.InDelta(t, want, extractSeen(out.Full), 1e-6)
	require.InDelta(t, want, extractSeen(out.Lite), 1e-6)
	require.InDelta(t, want, extractSeen(out.Domains), 1e-6)
}
