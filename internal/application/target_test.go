package application

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmsync/target-salesforce/internal/bootstrap"
	"github.com/crmsync/target-salesforce/internal/domain/schema"
	"github.com/crmsync/target-salesforce/pkg/errors"
)

func fakeOrgHandler(quotaHeader string) http.Handler {
	contact := &schema.Description{
		ObjectName: "Contact",
		Fields: []schema.Field{
			{Name: "Id", Nillable: true},
			{Name: "FirstName", Createable: true, Nillable: true},
			{Name: "LastName", Createable: true, Nillable: true},
			{Name: "Email", Createable: true, Nillable: true},
		},
	}
	opportunity := &schema.Description{
		ObjectName: "Opportunity",
		Fields: []schema.Field{
			{Name: "Id", Nillable: true},
			{Name: "Name", Createable: true, Nillable: true},
			{Name: "CloseDate", Createable: true, Nillable: true},
			{Name: "StageName", Createable: true, Nillable: true, PicklistValues: []schema.PicklistValue{
				{Label: "Prospecting", Value: "Prospecting", Active: true},
			}},
		},
	}

	mux := http.NewServeMux()
	withQuota := func(fn http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if quotaHeader != "" {
				w.Header().Set("Sforce-Limit-Info", quotaHeader)
			}
			fn(w, r)
		}
	}
	mux.HandleFunc("/services/data/v55.0/sobjects", withQuota(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"sobjects": []map[string]string{
			{"name": "Contact", "label": "Contact", "labelPlural": "Contacts"},
			{"name": "Opportunity", "label": "Opportunity", "labelPlural": "Opportunities"},
		}})
	}))
	mux.HandleFunc("/services/data/v55.0/sobjects/Contact/describe", withQuota(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(contact)
	}))
	mux.HandleFunc("/services/data/v55.0/sobjects/Opportunity/describe", withQuota(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(opportunity)
	}))
	mux.HandleFunc("/services/data/v55.0/query", withQuota(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"records": []}`))
	}))
	mux.HandleFunc("/services/data/v55.0/sobjects/Contact", withQuota(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": "003xx", "success": true}`))
	}))
	mux.HandleFunc("/services/data/v55.0/sobjects/Opportunity", withQuota(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": "006xx", "success": true}`))
	}))
	return mux
}

func newTestTarget(t *testing.T, handler http.Handler, overrides map[string]interface{}) *Target {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	raw := map[string]interface{}{
		"instance_url": srv.URL,
		"access_token": "test-token",
		"issued_at":    time.Now().UnixMilli(),
	}
	for k, v := range overrides {
		raw[k] = v
	}
	cfg, err := bootstrap.FromMap(raw)
	require.NoError(t, err)

	target, err := NewTarget(cfg)
	require.NoError(t, err)
	return target
}

func TestTargetRun(t *testing.T) {
	target := newTestTarget(t, fakeOrgHandler(""), map[string]interface{}{
		"stream_filters": map[string]interface{}{"Contacts": `email != ""`},
	})

	input := strings.Join([]string{
		`{"type": "SCHEMA", "stream": "Contacts", "schema": {}, "key_properties": ["id"]}`,
		`{"type": "RECORD", "stream": "Contacts", "record": {"email": "a@x.com", "first_name": "A", "last_name": "B"}}`,
		`{"type": "RECORD", "stream": "Contacts", "record": {"email": "", "first_name": "Skip", "last_name": "Me"}}`,
		`{"type": "STATE", "value": {"bookmarks": {"Contacts": "2024-01-01"}}}`,
	}, "\n")

	var out strings.Builder
	summary, err := target.Run(context.Background(), strings.NewReader(input), &out)
	require.NoError(t, err)

	require.Contains(t, summary, "Contacts")
	assert.Equal(t, 1, summary["Contacts"].Success)
	assert.Equal(t, 0, summary["Contacts"].Fail)
	require.Len(t, summary["Contacts"].Outcomes, 1, "filtered records produce no outcome")
	assert.Equal(t, "003xx", summary["Contacts"].Outcomes[0].ID)

	var state map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out.String())), &state))
	assert.Equal(t, "STATE", state["type"])
	value := state["value"].(map[string]interface{})
	assert.Contains(t, value, "bookmarks", "incoming state is passed through")
	assert.Contains(t, value, "summary")
}

func TestTargetRecordFailureDoesNotAbortTheRun(t *testing.T) {
	target := newTestTarget(t, fakeOrgHandler(""), nil)

	input := strings.Join([]string{
		`{"type": "SCHEMA", "stream": "Deals", "schema": {}, "key_properties": ["id"]}`,
		`{"type": "RECORD", "stream": "Deals", "record": {"title": "No Close Date"}}`,
		`{"type": "RECORD", "stream": "Deals", "record": {"title": "Good Deal", "close_date": "2024-06-30", "status": "prospecting"}}`,
	}, "\n")

	var out strings.Builder
	summary, err := target.Run(context.Background(), strings.NewReader(input), &out)
	require.NoError(t, err)

	require.Contains(t, summary, "Deals")
	assert.Equal(t, 1, summary["Deals"].Fail)
	assert.Equal(t, 1, summary["Deals"].Success)
	require.Len(t, summary["Deals"].Outcomes, 2)
	assert.Contains(t, summary["Deals"].Outcomes[0].Error, "close_date")
	assert.Equal(t, "006xx", summary["Deals"].Outcomes[1].ID)
}

func TestTargetQuotaAbort(t *testing.T) {
	target := newTestTarget(t, fakeOrgHandler("api-usage=95/100"), nil)

	input := strings.Join([]string{
		`{"type": "SCHEMA", "stream": "Contacts", "schema": {}, "key_properties": ["id"]}`,
		`{"type": "RECORD", "stream": "Contacts", "record": {"email": "a@x.com", "last_name": "B"}}`,
	}, "\n")

	var out strings.Builder
	_, err := target.Run(context.Background(), strings.NewReader(input), &out)
	require.Error(t, err)
	assert.True(t, errors.IsQuotaExceeded(err))
	assert.Empty(t, out.String(), "an aborted run emits no state")
}

func TestNewTargetRejectsInvalidFilter(t *testing.T) {
	cfg, err := bootstrap.FromMap(map[string]interface{}{
		"instance_url":   "https://example.my.salesforce.com",
		"stream_filters": map[string]interface{}{"Contacts": `email ==`},
	})
	require.NoError(t, err)

	_, err = NewTarget(cfg)
	require.Error(t, err)
}
