package ctlog

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/burakozcn01/certstream-server-go/pkg/certmodel"
)

// rawLogList mirrors the RFC 6962 log-list v3 document shape (the
// same shape a certstream client already knows as /example.json's
// sibling, the canonical all_logs_list.json). Decoded with plain
// encoding/json structs rather than a third-party log-list parser.
type rawLogList struct {
	Operators []rawOperator `json:"operators"`
}

type rawOperator struct {
	Name string   `json:"name"`
	Logs []rawLog `json:"logs"`
}

type rawLog struct {
	Description string `json:"description"`
	LogID       string `json:"log_id"`
	URL         string `json:"url"`
	MMD         int    `json:"mmd"`
}

// Registry owns the known set of CtLog records: the list fetched from
// LogListURL plus any user-supplied custom logs. Refreshing re-fetches
// the list and produces an Added/Removed diff for the caller to act
// on (spawn/stop workers); the registry itself starts nothing.
type Registry struct {
	logListURL string
	customLogs []certmodel.CtLog
	httpClient *http.Client
	log        *logrus.Entry

	known map[string]certmodel.CtLog
}

func NewRegistry(logListURL string, customLogs []certmodel.CtLog, log *logrus.Entry) *Registry {
	return &Registry{
		logListURL: logListURL,
		customLogs: customLogs,
		log:        log,
		known:      make(map[string]certmodel.CtLog),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Diff is the result of a (re)load: logs to start and logs to stop.
type Diff struct {
	Added   []certmodel.CtLog
	Removed []certmodel.CtLog
}

// Load fetches the log list (if a URL is configured), merges in
// custom logs, rejects duplicate ids, and returns the diff against
// whatever set was previously known. The first call's diff is
// entirely Added.
func (r *Registry) Load(ctx context.Context) (Diff, error) {
	next := make(map[string]certmodel.CtLog)

	if r.logListURL != "" {
		logs, err := r.fetchLogList(ctx)
		if err != nil {
			return Diff{}, fmt.Errorf("fetch log list: %w", err)
		}
		for _, l := range logs {
			if _, dup := next[l.ID]; dup {
				return Diff{}, fmt.Errorf("duplicate log id from log list: %s", l.ID)
			}
			next[l.ID] = l
		}
	}

	for _, l := range r.customLogs {
		if _, dup := next[l.ID]; dup {
			return Diff{}, fmt.Errorf("duplicate log id in custom_logs: %s", l.ID)
		}
		next[l.ID] = l
	}

	var diff Diff
	for id, l := range next {
		if _, existed := r.known[id]; !existed {
			diff.Added = append(diff.Added, l)
		}
	}
	for id, l := range r.known {
		if _, still := next[id]; !still {
			diff.Removed = append(diff.Removed, l)
		}
	}

	sort.Slice(diff.Added, func(i, j int) bool { return diff.Added[i].ID < diff.Added[j].ID })
	sort.Slice(diff.Removed, func(i, j int) bool { return diff.Removed[i].ID < diff.Removed[j].ID })

	r.known = next
	return diff, nil
}

// Count returns the number of logs currently known, for the
// certstream_ct_logs_count gauge.
func (r *Registry) Count() int {
	return len(r.known)
}

func (r *Registry) fetchLogList(ctx context.Context) ([]certmodel.CtLog, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.logListURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "certstream-server-go CT log registry")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching log list", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read log list body: %w", err)
	}

	var parsed rawLogList
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse log list: %w", err)
	}

	var out []certmodel.CtLog
	for _, op := range parsed.Operators {
		for _, lg := range op.Logs {
			id := logID(lg)
			out = append(out, certmodel.CtLog{
				ID:       id,
				Name:     lg.Description,
				URL:      normalizeLogURL(lg.URL),
				Operator: op.Name,
				MMD:      lg.MMD,
			})
		}
	}
	return out, nil
}

// logID prefers the log_id field (base64, decoded to hex) and falls
// back to the URL so a malformed entry still gets a stable id.
func logID(lg rawLog) string {
	if lg.LogID != "" {
		if raw, err := base64.StdEncoding.DecodeString(lg.LogID); err == nil {
			return fmt.Sprintf("%x", raw)
		}
	}
	return lg.URL
}

func normalizeLogURL(u string) string {
	if len(u) == 0 {
		return u
	}
	if u[len(u)-1] != '/' {
		return u + "/"
	}
	return u
}
