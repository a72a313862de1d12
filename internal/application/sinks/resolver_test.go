package sinks

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmsync/target-salesforce/internal/domain/models"
	"github.com/crmsync/target-salesforce/pkg/errors"
)

func TestResolveExplicitID(t *testing.T) {
	org := newFakeOrg(t)
	client, cfg := org.client(t, nil)
	sink := newBaseSink(client, cfg, "Contacts", "sobjects/Contact", nil)

	payload := map[string]interface{}{"FirstName": "Ada"}
	res, err := sink.resolve(context.Background(), contactDescription(), payload, resolveInput{RecordID: "003xx"})
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, "003xx", payload["Id"])
	assert.Empty(t, org.recorded(http.MethodGet, "query"), "an explicit id needs no lookup")
}

func TestResolveConfiguredLookupSequential(t *testing.T) {
	org := newFakeOrg(t)
	org.query("SELECT Id FROM Contact WHERE Email = 'a@x.com'")
	org.query("SELECT Id FROM Contact WHERE LastName = 'Lovelace'", map[string]interface{}{"Id": "003yy"})
	client, cfg := org.client(t, map[string]interface{}{
		"lookup_fields_dict": map[string]interface{}{"Contact": []interface{}{"Email", "LastName"}},
	})
	sink := newBaseSink(client, cfg, "Contacts", "sobjects/Contact", nil)

	payload := map[string]interface{}{"Email": "a@x.com", "LastName": "Lovelace"}
	res, err := sink.resolve(context.Background(), contactDescription(), payload, resolveInput{})
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, "003yy", payload["Id"])
	assert.Len(t, org.recorded(http.MethodGet, "query"), 2, "sequential tries fields in order")
}

func TestResolveConfiguredLookupAll(t *testing.T) {
	t.Run("all fields present builds one AND predicate", func(t *testing.T) {
		org := newFakeOrg(t)
		org.query("SELECT Id FROM Contact WHERE Email = 'a@x.com' AND LastName = 'Lovelace'",
			map[string]interface{}{"Id": "003zz"})
		client, cfg := org.client(t, map[string]interface{}{
			"lookup_method":      "all",
			"lookup_fields_dict": map[string]interface{}{"Contact": []interface{}{"Email", "LastName"}},
		})
		sink := newBaseSink(client, cfg, "Contacts", "sobjects/Contact", nil)

		payload := map[string]interface{}{"Email": "a@x.com", "LastName": "Lovelace"}
		res, err := sink.resolve(context.Background(), contactDescription(), payload, resolveInput{})
		require.NoError(t, err)
		assert.True(t, res.Matched)
		assert.Equal(t, "003zz", payload["Id"])
	})

	t.Run("a missing field makes the predicate unsatisfiable", func(t *testing.T) {
		org := newFakeOrg(t)
		client, cfg := org.client(t, map[string]interface{}{
			"lookup_method":      "all",
			"lookup_fields_dict": map[string]interface{}{"Contact": []interface{}{"Email", "LastName"}},
		})
		sink := newBaseSink(client, cfg, "Contacts", "sobjects/Contact", nil)

		payload := map[string]interface{}{"Email": "a@x.com"}
		res, err := sink.resolve(context.Background(), contactDescription(), payload, resolveInput{})
		require.NoError(t, err)
		assert.False(t, res.Matched)
		assert.NotContains(t, payload, "Id")
		assert.Empty(t, org.recorded(http.MethodGet, "query"))
	})
}

func TestResolveStrictLookupMiss(t *testing.T) {
	org := newFakeOrg(t)
	org.query("SELECT Id FROM Contact WHERE Email = 'a@x.com'")
	client, cfg := org.client(t, map[string]interface{}{
		"lookup_fields_dict": map[string]interface{}{"Contact": []interface{}{"Email"}},
		"lookup_strict":      true,
	})
	sink := newBaseSink(client, cfg, "Contacts", "sobjects/Contact", nil)

	payload := map[string]interface{}{"Email": "a@x.com"}
	_, err := sink.resolve(context.Background(), contactDescription(), payload, resolveInput{})
	require.Error(t, err)
	var invalid *errors.InvalidRecordError
	assert.ErrorAs(t, err, &invalid)
}

func TestResolveExternalID(t *testing.T) {
	org := newFakeOrg(t)
	client, cfg := org.client(t, nil)
	sink := newBaseSink(client, cfg, "Contacts", "sobjects/Contact", nil)

	payload := map[string]interface{}{"FirstName": "Ada"}
	res, err := sink.resolve(context.Background(), contactDescription(), payload, resolveInput{
		ExternalID: &models.ExternalID{Name: "Legacy_Key__c", Value: "abc-1"},
	})
	require.NoError(t, err)
	assert.False(t, res.Matched, "external ids resolve on the write endpoint")
	assert.Equal(t, "abc-1", payload["Legacy_Key__c"])
	assert.Empty(t, org.recorded(http.MethodGet, "query"))
}

func TestResolveByEmail(t *testing.T) {
	org := newFakeOrg(t)
	org.query("SELECT Id FROM Contact WHERE Email = 'ada@x.com'", map[string]interface{}{"Id": "003ee"})
	client, cfg := org.client(t, nil)
	sink := newBaseSink(client, cfg, "Contacts", "sobjects/Contact", nil)

	payload := map[string]interface{}{"Email": "ada@x.com"}
	res, err := sink.resolve(context.Background(), contactDescription(), payload, resolveInput{Email: "ada@x.com"})
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, "003ee", payload["Id"])
}

func TestResolveOnlyUpsertEmptyFields(t *testing.T) {
	org := newFakeOrg(t)
	org.handle(http.MethodGet, "sobjects/Contact/003xx", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Id": "003xx", "FirstName": "Existing", "Title": null, "Email": ""}`))
	})
	client, cfg := org.client(t, map[string]interface{}{
		"only_upsert_empty_fields": true,
	})
	sink := newBaseSink(client, cfg, "Contacts", "sobjects/Contact", nil)

	payload := map[string]interface{}{
		"FirstName": "Ada",
		"Title":     "Engineer",
		"Email":     "ada@x.com",
	}
	res, err := sink.resolve(context.Background(), contactDescription(), payload, resolveInput{RecordID: "003xx"})
	require.NoError(t, err)
	assert.True(t, res.Matched)

	assert.NotContains(t, payload, "FirstName", "remote value already populated")
	assert.Equal(t, "Engineer", payload["Title"], "remote null is free to fill")
	assert.Equal(t, "ada@x.com", payload["Email"], "remote empty string is free to fill")
	assert.Equal(t, "003xx", payload["Id"])
}

func TestResolveUnmatchedMeansCreate(t *testing.T) {
	org := newFakeOrg(t)
	client, cfg := org.client(t, nil)
	sink := newBaseSink(client, cfg, "Contacts", "sobjects/Contact", nil)

	payload := map[string]interface{}{"FirstName": "Ada"}
	res, err := sink.resolve(context.Background(), contactDescription(), payload, resolveInput{})
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.NotContains(t, payload, "Id")
}
