package sinks

import (
	"context"

	"github.com/crmsync/target-salesforce/internal/bootstrap"
	"github.com/crmsync/target-salesforce/internal/domain/models"
	"github.com/crmsync/target-salesforce/internal/infrastructure/salesforce"
)

var companyPhoneSlots = []phoneSlot{
	{Field: "Phone", Types: []string{"primary"}},
	{Field: "Fax", Types: []string{"fax"}},
}

// CompanySink writes normalized companies to the Account object.
type CompanySink struct {
	BaseSink
}

// NewCompanySink creates the companies sink.
func NewCompanySink(client *salesforce.Client, cfg *bootstrap.Config) *CompanySink {
	return &CompanySink{
		BaseSink: newBaseSink(client, cfg, "Companies", "sobjects/Account", []string{"company", "companies"}),
	}
}

// Preprocess maps a normalized company into an Account payload.
func (s *CompanySink) Preprocess(ctx context.Context, record map[string]interface{}) (map[string]interface{}, error) {
	rec, err := models.Decode[models.CompanyRecord](record)
	if err != nil {
		return nil, err
	}

	desc, err := s.describe(ctx)
	if err != nil {
		return nil, err
	}

	mapping := map[string]interface{}{
		"Name":        rec.Name,
		"Site":        rec.Website,
		"Type":        s.getPickable(desc, "Customer - Direct", "Type", pickOptions{}),
		"Industry":    rec.Industry,
		"Description": rec.Description,
		"OwnerId":     rec.OwnerID,
	}

	if len(rec.Addresses) > 0 {
		applyAddress(mapping, "Billing", rec.Addresses[0])
	}
	if len(rec.Addresses) >= 2 {
		applyAddress(mapping, "Shipping", rec.Addresses[1])
	}

	applyPhoneSlots(mapping, companyPhoneSlots, rec.PhoneNumbers)

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
