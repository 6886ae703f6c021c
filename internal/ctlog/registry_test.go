package ctlog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/burakozcn01/certstream-server-go/pkg/certmodel"
)

func TestNormalizeLogURL(t *testing.T) {
	require.Equal(t, "https://ct.example.com/", normalizeLogURL("https://ct.example.com"))
	require.Equal(t, "https://ct.example.com/", normalizeLogURL("https://ct.example.com/"))
	require.Equal(t, "", normalizeLogURL(""))
}

func TestLogIDDecodesBase64LogID(t *testing.T) {
	// base64("hi") == "aGk="
	got := logID(rawLog{LogID: "aGk=", URL: "https://ct.example.com/"})
	require.Equal(t, "6869", got)
}

func TestLogIDFallsBackToURLWhenMissing(t *testing.T) {
	got := logID(rawLog{URL: "https://ct.example.com/"})
	require.Equal(t, "https://ct.example.com/", got)
}

func TestRegistryLoadWithoutURLUsesOnlyCustomLogs(t *testing.T) {
	custom := []certmodel.CtLog{{ID: "custom-1", URL: "https://custom.example.com/"}}
	r := NewRegistry("", custom, testLogEntry())

	diff, err := r.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, diff.Added, 1)
	require.Equal(t, "custom-1", diff.Added[0].ID)
	require.Equal(t, 1, r.Count())
}

func TestRegistryLoadFetchesAndMergesLogList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"operators": [{
				"name": "Example Org",
				"logs": [
					{"description": "Example Log 2026", "log_id": "aGk=", "url": "https://ct.example.com/2026/"}
				]
			}]
		}`))
	}))
	defer srv.Close()

	r := NewRegistry(srv.URL, nil, testLogEntry())
	diff, err := r.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, diff.Added, 1)
	require.Equal(t, "6869", diff.Added[0].ID)
	require.Equal(t, "Example Log 2026", diff.Added[0].Name)
	require.Equal(t, "Example Org", diff.Added[0].Operator)
}

func TestRegistryLoadRejectsDuplicateIDsBetweenListAndCustom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"operators":[{"name":"Org","logs":[{"description":"L","log_id":"aGk=","url":"https://ct.example.com/"}]}]}`))
	}))
	defer srv.Close()

	custom := []certmodel.CtLog{{ID: "6869", URL: "https://other.example.com/"}}
	r := NewRegistry(srv.URL, custom, testLogEntry())

	_, err := r.Load(context.Background())
	require.ErrorContains(t, err, "duplicate log id")
}

func TestRegistryLoadSecondCallProducesAddedAndRemovedDiff(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Write([]byte(`{"operators":[{"name":"Org","logs":[
				{"description":"A","log_id":"aGk=","url":"https://a.example.com/"},
				{"description":"B","log_id":"aGo=","url":"https://b.example.com/"}
			]}]}`))
			return
		}
		w.Write([]byte(`{"operators":[{"name":"Org","logs":[
			{"description":"A","log_id":"aGk=","url":"https://a.example.com/"},
			{"description":"C","log_id":"aGs=","url":"https://c.example.com/"}
		]}]}`))
	}))
	defer srv.Close()

	r := NewRegistry(srv.URL, nil, testLogEntry())

	diff1, err := r.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, diff1.Added, 2)
	require.Empty(t, diff1.Removed)

	diff2, err := r.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, diff2.Added, 1, "log C should be newly added")
	require.Len(t, diff2.Removed, 1, "log B should be removed")
	require.Equal(t, 2, r.Count())
}

func TestRegistryLoadPropagatesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewRegistry(srv.URL, nil, testLogEntry())
	_, err := r.Load(context.Background())
	require.Error(t, err)
}
