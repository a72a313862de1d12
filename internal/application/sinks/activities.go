package sinks

import (
	"context"

	"github.com/crmsync/target-salesforce/internal/bootstrap"
	"github.com/crmsync/target-salesforce/internal/domain/models"
	"github.com/crmsync/target-salesforce/internal/infrastructure/salesforce"
)

// ActivitiesSink writes normalized activities to the Task object.
type ActivitiesSink struct {
	BaseSink
}

// NewActivitiesSink creates the activities sink.
func NewActivitiesSink(client *salesforce.Client, cfg *bootstrap.Config) *ActivitiesSink {
	return &ActivitiesSink{
		BaseSink: newBaseSink(client, cfg, "Activities", "sobjects/Task", []string{"activities"}),
	}
}

// Preprocess maps a normalized activity into a Task payload. Call duration
// is derived from the start/end datetimes when both are present.
func (s *ActivitiesSink) Preprocess(ctx context.Context, record map[string]interface{}) (map[string]interface{}, error) {
	rec, err := models.Decode[models.ActivityRecord](record)
	if err != nil {
		return nil, err
	}

	desc, err := s.describe(ctx)
	if err != nil {
		return nil, err
	}

	mapping := map[string]interface{}{
		"Id":           rec.ID,
		"Status":       rec.Status,
		"WhoId":        rec.ContactID,
		"OwnerId":      rec.OwnerID,
		"WhatId":       rec.RelatedTo,
		"Subject":      rec.Type,
		"ActivityDate": rec.ActivityDatetime,
		"Description":  rec.Description,
	}

	if rec.StartDatetime != "" && rec.EndDatetime != "" {
		start, startErr := models.ParseTime(rec.StartDatetime)
		end, endErr := models.ParseTime(rec.EndDatetime)
		if startErr == nil && endErr == nil {
			mapping["CallDurationInSeconds"] = int(end.Sub(start).Seconds())
		}
	}

	if err := s.mergeCustomFields(ctx, desc, mapping, rec.CustomFields); err != nil {
		return nil, err
	}

	return s.validateOutput(desc, mapping)
}
