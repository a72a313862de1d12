package sinks

import (
	"context"
	"log"

	"github.com/crmsync/target-salesforce/internal/bootstrap"
	"github.com/crmsync/target-salesforce/internal/infrastructure/salesforce"
	"github.com/crmsync/target-salesforce/pkg/errors"
)

// FallbackSink handles streams with no dedicated sink. The stream name is
// matched against the org's sObject list (API name, label, or plural
// label) and the record's fields are validated against the live schema
// field by field. Records for unknown objects are skipped, not failed.
type FallbackSink struct {
	BaseSink
	stream string
}

// NewFallbackSink creates a fallback sink for an arbitrary stream.
func NewFallbackSink(client *salesforce.Client, cfg *bootstrap.Config, stream string) *FallbackSink {
	return &FallbackSink{
		BaseSink: newBaseSink(client, cfg, stream, "sobjects/", nil),
		stream:   stream,
	}
}

// Preprocess validates the raw record against the described schema. A nil
// payload (with nil error) means the record is skipped.
func (s *FallbackSink) Preprocess(ctx context.Context, record map[string]interface{}) (map[string]interface{}, error) {
	desc, err := s.client.Describe(ctx, s.stream)
	if err != nil {
		if _, ok := errors.AsObjectNotFound(err); ok {
			log.Printf("Skipping record, because %s was not found on Salesforce", s.stream)
			return nil, nil
		}
		return nil, err
	}
	s.endpoint = "sobjects/" + desc.ObjectName
	log.Printf("Processing record for type %s using fallback sink", s.stream)

	payload := make(map[string]interface{}, len(record))
	for field, value := range record {
		if field == "id" || field == "Id" {
			if id, ok := value.(string); ok && id != "" {
				payload["Id"] = id
			}
			continue
		}
		f := desc.Field(field)
		if f == nil {
			log.Printf("⚠️ Field %s not found in Salesforce, will not be synced", field)
			continue
		}
		if !f.Nillable && value == nil {
			log.Printf("⚠️ Field %s is not nullable, will not be synced", field)
			continue
		}
		payload[field] = value
	}

	if _, hasID := payload["Id"]; !hasID {
		for _, required := range desc.Required() {
			if _, ok := payload[required]; !ok {
				log.Printf("Skipping record, because %s is required", required)
				return nil, nil
			}
		}
	}

	missing := 0
	for _, f := range desc.Fields {
		if _, ok := payload[f.Name]; !ok {
			missing++
		}
	}
	if missing > len(desc.Fields)/2 {
		log.Printf("This record may require more fields to be mapped: %d of %d schema fields missing",
			missing, len(desc.Fields))
	}

	return payload, nil
}
