package sinks

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/crmsync/target-salesforce/internal/bootstrap"
	"github.com/crmsync/target-salesforce/internal/domain/models"
	"github.com/crmsync/target-salesforce/internal/infrastructure/salesforce"
	"github.com/crmsync/target-salesforce/pkg/errors"
	"github.com/crmsync/target-salesforce/pkg/utils"
)

// contactPhoneSlots maps semantic phone types onto the fixed remote field
// slots, in positional order for types that match nothing.
var contactPhoneSlots = []phoneSlot{
	{Field: "Phone", Types: []string{"primary"}},
	{Field: "OtherPhone", Types: []string{"secondary"}},
	{Field: "MobilePhone", Types: []string{"mobile"}},
	{Field: "HomePhone", Types: []string{"home"}},
}

// ContactsSink writes normalized contacts, routing records typed "lead" to
// the Lead object instead of Contact.
type ContactsSink struct {
	BaseSink
	contactType string
	campaigns   models.CampaignRefList
}

// NewContactsSink creates the contacts sink.
func NewContactsSink(client *salesforce.Client, cfg *bootstrap.Config) *ContactsSink {
	return &ContactsSink{
		BaseSink:    newBaseSink(client, cfg, "Contacts", "sobjects/Contact", []string{"contacts", "customers"}),
		contactType: "Contact",
	}
}

// Preprocess maps a normalized contact into a Contact or Lead payload.
func (s *ContactsSink) Preprocess(ctx context.Context, record map[string]interface{}) (map[string]interface{}, error) {
	rec, err := models.Decode[models.ContactRecord](record)
	if err != nil {
		return nil, err
	}

	if rec.Type == "lead" {
		s.contactType = "Lead"
		s.endpoint = "sobjects/Lead"
	} else {
		s.contactType = "Contact"
		s.endpoint = "sobjects/Contact"
	}

	desc, err := s.describe(ctx)
	if err != nil {
		return nil, err
	}

	mapping := map[string]interface{}{
		"FirstName":   rec.FirstName,
		"LastName":    rec.LastName,
		"Email":       rec.Email,
		"Title":       rec.Title,
		"Description": rec.Description,
		"LeadSource":  s.getPickable(desc, rec.LeadSource, "LeadSource", pickOptions{}),
		"Salutation":  s.getPickable(desc, rec.Salutation, "Salutation", pickOptions{}),
		"Industry":    s.getPickable(desc, rec.Industry, "Industry", pickOptions{}),
		"Rating":      s.getPickable(desc, rec.Rating, "Rating", pickOptions{}),
		"OwnerId":     rec.OwnerID,
		"Website":     rec.Website,
		"Company":     rec.CompanyName,
	}
	if rec.Unsubscribed != nil {
		mapping["HasOptedOutOfEmail"] = *rec.Unsubscribed
	}
	if rec.NumberOfEmployees != nil {
		mapping["NumberOfEmployees"] = *rec.NumberOfEmployees
	}
	if rec.AnnualRevenue != nil {
		mapping["AnnualRevenue"] = *rec.AnnualRevenue
	}
	if rec.Birthdate != "" {
		if birthdate, err := models.ParseTime(rec.Birthdate); err == nil {
			mapping["Birthdate"] = utils.FormatDate(birthdate)
		}
	}
	if s.contactType == "Contact" {
		mapping["Department"] = rec.Department
	}

	// Leads only have one address; contacts map the first onto Mailing*
	// and the second onto Other*.
	prefix := ""
	if s.contactType == "Contact" {
		prefix = "Mailing"
	}
	if len(rec.Addresses) > 0 {
		applyAddress(mapping, prefix, rec.Addresses[0])
	}
	if len(rec.Addresses) >= 2 && s.contactType == "Contact" {
		applyAddress(mapping, "Other", rec.Addresses[1])
	}

	applyPhoneSlots(mapping, contactPhoneSlots, rec.PhoneNumbers)

	if err := s.mergeCustomFields(ctx, desc, mapping, rec.CustomFields); err != nil {
		return nil, err
	}

	if mapping["AccountId"] == nil && rec.CompanyName != "" && s.contactType == "Contact" {
		accountID, err := s.accountIDByName(ctx, rec.CompanyName)
		if err != nil {
			return nil, err
		}
		if accountID != "" {
			mapping["AccountId"] = accountID
		}
	}

	s.campaigns = rec.Campaigns

	if _, err := s.resolve(ctx, desc, mapping, resolveInput{
		RecordID:   rec.ID,
		ExternalID: rec.ExternalID,
		Email:      rec.Email,
	}); err != nil {
		return nil, err
	}

	return s.validateOutput(desc, mapping)
}

// Process upserts the contact, then assigns pending campaign memberships.
func (s *ContactsSink) Process(ctx context.Context, payload map[string]interface{}) (*Result, error) {
	if _, ok := stringValue(payload, "Id"); ok {
		// A direct-id update must not carry the relationship key
		delete(payload, "ContactId")
	}

	result, err := s.BaseSink.Process(ctx, payload)
	if err != nil {
		return nil, err
	}

	if len(s.campaigns) > 0 && result.ID != "" {
		if err := s.assignToCampaigns(ctx, result.ID, s.campaigns); err != nil {
			return nil, err
		}
		s.campaigns = nil
	}
	return result, nil
}

// assignToCampaigns creates a CampaignMember for each campaign reference,
// resolving campaign names to ids when the upstream did not carry one.
// Campaigns are assumed to be created first; unknown names are skipped.
func (s *ContactsSink) assignToCampaigns(ctx context.Context, contactID string, campaigns models.CampaignRefList) error {
	for _, campaign := range campaigns {
		campaignID := campaign.ID
		if campaignID == "" {
			soql := fmt.Sprintf(
				"SELECT Id, CreatedDate FROM Campaign WHERE Name = '%s' ORDER BY CreatedDate ASC",
				utils.EscapeSOQL(campaign.Name))
			records, err := s.client.QueryFields(ctx, soql, []string{"Id"})
			if err != nil {
				return err
			}
			if len(records) == 0 {
				log.Printf("No Campaign found with Name = '%s', skipping campaign", campaign.Name)
				continue
			}
			campaignID, _ = records[0]["Id"].(string)
		}

		member := map[string]interface{}{"CampaignId": campaignID}
		if s.contactType == "Contact" {
			member["ContactId"] = contactID
		} else {
			member["LeadId"] = contactID
		}

		log.Printf("Adding %s id %s as a CampaignMember of Campaign %s", s.contactType, contactID, campaignID)
		resp, err := s.client.Request(ctx, http.MethodPost, "sobjects/CampaignMember", nil, member)
		if err != nil {
			if fatal, ok := errors.AsFatalAPI(err); ok && fatal.HasRemoteCode(codeDuplicateValue) {
				log.Printf("%s %s is already a member of Campaign %s", s.contactType, contactID, campaignID)
				continue
			}
			return err
		}
		log.Printf("CampaignMember created with id: %s", resp.RecordID())
	}
	return nil
}

type phoneSlot struct {
	Field string
	Types []string
}

// applyPhoneSlots fills the remote phone field slots: a phone whose type
// matches a slot takes that slot, otherwise it lands in its positional one.
func applyPhoneSlots(mapping map[string]interface{}, slots []phoneSlot, phones models.PhoneList) {
	for i, phone := range phones {
		if i >= len(slots) {
			break
		}
		field := slots[i].Field
		for _, slot := range slots {
			matched := false
			for _, t := range slot.Types {
				if phone.Type == t {
					matched = true
					break
				}
			}
			if matched {
				field = slot.Field
				break
			}
		}
		mapping[field] = phone.Number
	}
}

func applyAddress(mapping map[string]interface{}, prefix string, addr models.Address) {
	mapping[prefix+"Street"] = addr.Street()
	mapping[prefix+"City"] = addr.City
	mapping[prefix+"State"] = addr.State
	mapping[prefix+"PostalCode"] = addr.PostalCode
	mapping[prefix+"Country"] = addr.Country
}
