package sinks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmsync/target-salesforce/pkg/errors"
)

func TestDealsPreprocess(t *testing.T) {
	t.Run("missing close_date is rejected before any API call", func(t *testing.T) {
		org := newFakeOrg(t)
		client, cfg := org.client(t, nil)
		sink := NewDealsSink(client, cfg)

		_, err := sink.Preprocess(context.Background(), map[string]interface{}{
			"title": "Big Deal",
		})
		require.Error(t, err)
		var invalid *errors.InvalidRecordError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, "close_date", invalid.Field)
		assert.Empty(t, org.recorded("GET", ""), "validation failures must not reach the API")
	})

	t.Run("maps a deal with a matching stage", func(t *testing.T) {
		org := newFakeOrg(t)
		client, cfg := org.client(t, nil)
		sink := NewDealsSink(client, cfg)

		amount := 1500.0
		payload, err := sink.Preprocess(context.Background(), map[string]interface{}{
			"title":             "Big Deal",
			"close_date":        "2024-06-30",
			"pipeline_stage_id": "closed won",
			"monetary_amount":   amount,
		})
		require.NoError(t, err)

		assert.Equal(t, "Big Deal", payload["Name"])
		assert.Equal(t, "Closed Won", payload["StageName"])
		assert.Equal(t, "2024-06-30T00:00:00.000Z", payload["CloseDate"])
		assert.Equal(t, amount, payload["Amount"])
	})

	t.Run("unknown stage selects the first active option", func(t *testing.T) {
		org := newFakeOrg(t)
		client, cfg := org.client(t, nil)
		sink := NewDealsSink(client, cfg)

		payload, err := sink.Preprocess(context.Background(), map[string]interface{}{
			"title":      "Big Deal",
			"close_date": "2024-06-30",
			"status":     "who knows",
		})
		require.NoError(t, err)
		assert.Equal(t, "Prospecting", payload["StageName"], "opportunities cannot exist without a stage")
	})

	t.Run("contact email lookup fills contact and account", func(t *testing.T) {
		org := newFakeOrg(t)
		org.query("SELECT Id, AccountId FROM Contact WHERE Email = 'ada@x.com'",
			map[string]interface{}{"Id": "003xx", "AccountId": "001xx"})
		client, cfg := org.client(t, nil)
		sink := NewDealsSink(client, cfg)

		payload, err := sink.Preprocess(context.Background(), map[string]interface{}{
			"title":         "Big Deal",
			"close_date":    "2024-06-30",
			"contact_email": "ada@x.com",
		})
		require.NoError(t, err)
		assert.Equal(t, "003xx", payload["ContactId"])
		assert.Equal(t, "001xx", payload["AccountId"])
	})
}

func TestCompaniesPreprocess(t *testing.T) {
	org := newFakeOrg(t)
	client, cfg := org.client(t, nil)
	sink := NewCompanySink(client, cfg)

	payload, err := sink.Preprocess(context.Background(), map[string]interface{}{
		"name":     "Analytical Engines Ltd",
		"industry": "Manufacturing",
		"addresses": []interface{}{
			map[string]interface{}{"line1": "1 Main St", "city": "Springfield"},
			map[string]interface{}{"line1": "2 Dock Rd", "city": "Harborview"},
		},
		"phone_numbers": []interface{}{
			map[string]interface{}{"number": "555-0100", "type": "primary"},
			map[string]interface{}{"number": "555-0101", "type": "fax"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Analytical Engines Ltd", payload["Name"])
	assert.Equal(t, "Customer - Direct", payload["Type"])
	assert.Equal(t, "1 Main St", payload["BillingStreet"])
	assert.Equal(t, "2 Dock Rd", payload["ShippingStreet"])
	assert.Equal(t, "555-0100", payload["Phone"])
	assert.Equal(t, "555-0101", payload["Fax"])
}
