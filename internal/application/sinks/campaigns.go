package sinks

import (
	"context"
	"fmt"

	"github.com/crmsync/target-salesforce/internal/bootstrap"
	"github.com/crmsync/target-salesforce/internal/domain/models"
	"github.com/crmsync/target-salesforce/internal/infrastructure/salesforce"
	"github.com/crmsync/target-salesforce/pkg/errors"
	"github.com/crmsync/target-salesforce/pkg/utils"
)

// CampaignSink writes normalized campaigns. Without an explicit id the
// sink dedups by name against the oldest matching campaign.
type CampaignSink struct {
	BaseSink
}

// NewCampaignSink creates the campaigns sink.
func NewCampaignSink(client *salesforce.Client, cfg *bootstrap.Config) *CampaignSink {
	return &CampaignSink{
		BaseSink: newBaseSink(client, cfg, "Campaigns", "sobjects/Campaign", []string{"campaigns"}),
	}
}

// Preprocess maps a normalized campaign into a Campaign payload.
func (s *CampaignSink) Preprocess(ctx context.Context, record map[string]interface{}) (map[string]interface{}, error) {
	rec, err := models.Decode[models.CampaignRecord](record)
	if err != nil {
		return nil, err
	}

	desc, err := s.describe(ctx)
	if err != nil {
		return nil, err
	}

	mapping := map[string]interface{}{
		"Name":        rec.Name,
		"Type":        rec.Type,
		"Status":      rec.Status,
		"StartDate":   rec.StartDate,
		"EndDate":     rec.EndDate,
		"Description": rec.Description,
	}
	if rec.Active != nil {
		mapping["IsActive"] = *rec.Active
	}

	recordID := rec.ID
	if recordID == "" && rec.Name != "" && len(s.cfg.LookupFieldsFor(s.ObjectType())) == 0 {
		// Campaigns are deduped by name; the earliest-created one wins
		soql := fmt.Sprintf(
			"SELECT Name, Id, CreatedDate FROM Campaign WHERE Name = '%s' ORDER BY CreatedDate ASC",
			utils.EscapeSOQL(rec.Name))
		records, err := s.client.QueryFields(ctx, soql, []string{"Name", "Id"})
		if err != nil {
			return nil, err
		}
		if len(records) > 0 {
			recordID, _ = records[0]["Id"].(string)
		}
	}

	if err := s.mergeCustomFields(ctx, desc, mapping, rec.CustomFields); err != nil {
		return nil, err
	}

	if _, err := s.resolve(ctx, desc, mapping, resolveInput{
		RecordID:   recordID,
		ExternalID: rec.ExternalID,
	}); err != nil {
		return nil, err
	}

	return s.validateOutput(desc, mapping)
}

// Process rejects nameless creates before touching the API: the remote
// requires a Name on every new campaign.
func (s *CampaignSink) Process(ctx context.Context, payload map[string]interface{}) (*Result, error) {
	if _, hasID := stringValue(payload, "Id"); !hasID {
		if _, hasName := stringValue(payload, "Name"); !hasName {
			return nil, errors.NewInvalidRecordError(s.name, "Name",
				"campaigns in Salesforce are required to have a 'Name' field")
		}
	}
	return s.BaseSink.Process(ctx, payload)
}
