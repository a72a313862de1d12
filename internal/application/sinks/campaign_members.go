package sinks

import (
	"context"
	"fmt"

	"github.com/crmsync/target-salesforce/internal/bootstrap"
	"github.com/crmsync/target-salesforce/internal/domain/models"
	"github.com/crmsync/target-salesforce/internal/infrastructure/salesforce"
	"github.com/crmsync/target-salesforce/pkg/utils"
)

// CampaignMemberSink links contacts or leads to campaigns.
type CampaignMemberSink struct {
	BaseSink
}

// NewCampaignMemberSink creates the campaign members sink.
func NewCampaignMemberSink(client *salesforce.Client, cfg *bootstrap.Config) *CampaignMemberSink {
	return &CampaignMemberSink{
		BaseSink: newBaseSink(client, cfg, "CampaignMembers", "sobjects/CampaignMember", []string{"campaignmembers"}),
	}
}

// Preprocess maps a membership record. An existing membership is detected
// by campaign+contact (or lead) lookup; memberships update by Id only, so
// the relationship keys are pruned when an Id is present.
func (s *CampaignMemberSink) Preprocess(ctx context.Context, record map[string]interface{}) (map[string]interface{}, error) {
	rec, err := models.Decode[models.CampaignMemberRecord](record)
	if err != nil {
		return nil, err
	}

	desc, err := s.describe(ctx)
	if err != nil {
		return nil, err
	}

	mapping := map[string]interface{}{
		"CampaignId": rec.CampaignID,
	}

	memberID := rec.ID
	if rec.ContactID != "" {
		contactLookup := "ContactId"
		if rec.Type != "" && rec.Type != "contact" {
			contactLookup = "LeadId"
		}
		mapping[contactLookup] = rec.ContactID

		if memberID == "" {
			id, err := s.campaignMemberID(ctx, rec.ContactID, rec.CampaignID, contactLookup)
			if err != nil {
				return nil, err
			}
			memberID = id
		}
	}

	if memberID != "" {
		mapping["Id"] = memberID
		// Membership identity fields are immutable on update
		delete(mapping, "CampaignId")
		delete(mapping, "LeadId")
	}

	if err := s.mergeCustomFields(ctx, desc, mapping, rec.CustomFields); err != nil {
		return nil, err
	}

	return s.validateOutput(desc, mapping)
}

func (s *CampaignMemberSink) campaignMemberID(ctx context.Context, contactID, campaignID, contactLookup string) (string, error) {
	soql := fmt.Sprintf(
		"SELECT Id, CampaignId, %s FROM CampaignMember WHERE CampaignId = '%s' AND %s = '%s'",
		contactLookup, utils.EscapeSOQL(campaignID), contactLookup, utils.EscapeSOQL(contactID))
	records, err := s.client.QueryFields(ctx, soql, []string{"Id"})
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", nil
	}
	id, _ := records[0]["Id"].(string)
	return id, nil
}
