package sinks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmsync/target-salesforce/internal/domain/schema"
)

func TestFallbackPreprocess(t *testing.T) {
	t.Run("unknown object skips the record", func(t *testing.T) {
		org := newFakeOrg(t)
		client, cfg := org.client(t, nil)
		sink := NewFallbackSink(client, cfg, "UnicornStream")

		payload, err := sink.Preprocess(context.Background(), map[string]interface{}{"Name": "x"})
		require.NoError(t, err)
		assert.Nil(t, payload)
	})

	t.Run("prunes fields the schema does not know", func(t *testing.T) {
		org := newFakeOrg(t)
		client, cfg := org.client(t, nil)
		sink := NewFallbackSink(client, cfg, "Campaigns")

		payload, err := sink.Preprocess(context.Background(), map[string]interface{}{
			"Name":       "Launch",
			"BogusField": "drop me",
			"Status":     "Planned",
		})
		require.NoError(t, err)
		require.NotNil(t, payload)
		assert.Equal(t, "Launch", payload["Name"])
		assert.Equal(t, "Planned", payload["Status"])
		assert.NotContains(t, payload, "BogusField")
		assert.Equal(t, "sobjects/Campaign", sink.Endpoint(), "endpoint follows the resolved API name")
	})

	t.Run("missing required field skips the record on create", func(t *testing.T) {
		org := newFakeOrg(t)
		org.describes["Widget__c"] = &schema.Description{
			ObjectName: "Widget__c",
			Fields: []schema.Field{
				{Name: "Id", Nillable: true},
				{Name: "Name", Createable: true, Nillable: false},
				{Name: "Color__c", Createable: true, Nillable: true, Custom: true},
			},
		}
		org.addObject("Widget__c", "Widget", "Widgets", org.describes["Widget__c"])
		client, cfg := org.client(t, nil)
		sink := NewFallbackSink(client, cfg, "Widget__c")

		payload, err := sink.Preprocess(context.Background(), map[string]interface{}{
			"Color__c": "red",
		})
		require.NoError(t, err)
		assert.Nil(t, payload)
	})

	t.Run("explicit id bypasses the required check", func(t *testing.T) {
		org := newFakeOrg(t)
		org.describes["Widget__c"] = &schema.Description{
			ObjectName: "Widget__c",
			Fields: []schema.Field{
				{Name: "Id", Nillable: true},
				{Name: "Name", Createable: true, Nillable: false},
				{Name: "Color__c", Createable: true, Nillable: true, Custom: true},
			},
		}
		org.addObject("Widget__c", "Widget", "Widgets", org.describes["Widget__c"])
		client, cfg := org.client(t, nil)
		sink := NewFallbackSink(client, cfg, "Widget__c")

		payload, err := sink.Preprocess(context.Background(), map[string]interface{}{
			"id":       "a01xx",
			"Color__c": "red",
		})
		require.NoError(t, err)
		require.NotNil(t, payload)
		assert.Equal(t, "a01xx", payload["Id"])
	})

	t.Run("non-nillable nil values are pruned", func(t *testing.T) {
		org := newFakeOrg(t)
		org.describes["Widget__c"] = &schema.Description{
			ObjectName: "Widget__c",
			Fields: []schema.Field{
				{Name: "Name", Createable: true, Nillable: false},
			},
		}
		org.addObject("Widget__c", "Widget", "Widgets", org.describes["Widget__c"])
		client, cfg := org.client(t, nil)
		sink := NewFallbackSink(client, cfg, "Widget__c")

		payload, err := sink.Preprocess(context.Background(), map[string]interface{}{
			"id":   "a01xx",
			"Name": nil,
		})
		require.NoError(t, err)
		require.NotNil(t, payload)
		assert.NotContains(t, payload, "Name")
	})
}

func TestRegistry(t *testing.T) {
	org := newFakeOrg(t)
	client, cfg := org.client(t, nil)
	registry := NewRegistry(client, cfg)

	t.Run("matches canonical names and aliases case-insensitively", func(t *testing.T) {
		assert.Equal(t, "Contacts", registry.Get("Contacts").Name())
		assert.Equal(t, "Contacts", registry.Get("customers").Name())
		assert.Equal(t, "Deals", registry.Get("opportunities").Name())
		assert.Equal(t, "Companies", registry.Get("COMPANY").Name())
		assert.Equal(t, "RecurringDonations", registry.Get("recurring_donations").Name())
	})

	t.Run("unknown streams get a fallback sink", func(t *testing.T) {
		sink := registry.Get("Widgets")
		_, ok := sink.(*FallbackSink)
		assert.True(t, ok)
	})

	t.Run("one instance per stream", func(t *testing.T) {
		assert.Same(t, registry.Get("Contacts"), registry.Get("Contacts"))
	})
}
