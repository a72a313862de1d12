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

// DealsSink writes normalized deals to the Opportunity object.
type DealsSink struct {
	BaseSink
}

// NewDealsSink creates the deals sink.
func NewDealsSink(client *salesforce.Client, cfg *bootstrap.Config) *DealsSink {
	return &DealsSink{
		BaseSink: newBaseSink(client, cfg, "Deals", "sobjects/Opportunity", []string{"deal", "deals", "opportunities"}),
	}
}

// Preprocess maps a normalized deal into an Opportunity payload. The
// pipeline stage falls back on the status field, and an unmatched stage
// selects the first active option rather than dropping the field:
// Opportunities cannot exist without a stage.
func (s *DealsSink) Preprocess(ctx context.Context, record map[string]interface{}) (map[string]interface{}, error) {
	rec, err := models.Decode[models.DealRecord](record)
	if err != nil {
		return nil, err
	}
	if rec.CloseDate == "" {
		return nil, errors.NewInvalidRecordError(s.name, "close_date", "required field is missing")
	}
	closeDate, err := models.ParseTime(rec.CloseDate)
	if err != nil {
		return nil, errors.NewInvalidRecordError(s.name, "close_date", err.Error())
	}

	desc, err := s.describe(ctx)
	if err != nil {
		return nil, err
	}

	stage := rec.PipelineStageID
	if stage == "" {
		stage = rec.Status
	}

	contactID := rec.ContactID
	companyID := rec.CompanyID
	if rec.ContactExternalID != nil && contactID == "" {
		endpoint := fmt.Sprintf("sobjects/Contact/%s/%s", rec.ContactExternalID.Name, rec.ContactExternalID.Value)
		contact, err := s.client.GetRecord(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		contactID, _ = contact["Id"].(string)
	} else if rec.ContactEmail != "" {
		soql := fmt.Sprintf("SELECT Id, AccountId FROM Contact WHERE Email = '%s'", utils.EscapeSOQL(rec.ContactEmail))
		records, err := s.client.QueryFields(ctx, soql, []string{"Id", "AccountId"})
		if err != nil {
			return nil, err
		}
		if len(records) > 0 {
			contactID, _ = records[0]["Id"].(string)
			if companyID == "" {
				companyID, _ = records[0]["AccountId"].(string)
			}
		}
	}

	mapping := map[string]interface{}{
		"Name":        rec.Title,
		"StageName":   s.getPickable(desc, stage, "StageName", pickOptions{SelectFirst: true}),
		"CloseDate":   closeDate.UTC().Format("2006-01-02T15:04:05.000Z"),
		"Description": rec.Description,
		"Type":        s.getPickable(desc, rec.Type, "Type", pickOptions{}),
		"LeadSource":  rec.LeadSource,
		"AccountId":   companyID,
		"OwnerId":     rec.OwnerID,
		"ContactId":   contactID,
	}
	if rec.MonetaryAmount != nil {
		mapping["Amount"] = *rec.MonetaryAmount
	}
	if rec.WinProbability != nil {
		mapping["Probability"] = *rec.WinProbability
	}
	if rec.ExpectedRevenue != nil {
		mapping["TotalOpportunityQuantity"] = *rec.ExpectedRevenue
	}

	if mapping["AccountId"] == "" && rec.CompanyName != "" {
		accountID, err := s.accountIDByName(ctx, rec.CompanyName)
		if err != nil {
			return nil, err
		}
		mapping["AccountId"] = accountID
	}

	if err := s.mergeCustomFields(ctx, desc, mapping, rec.CustomFields); err != nil {
		return nil, err
	}

	if _, err := s.resolve(ctx, desc, mapping, resolveInput{
		RecordID:   rec.ID,
		ExternalID: rec.ExternalID,
	}); err != nil {
		return nil, err
	}

	return s.validateOutput(desc, mapping)
}
