package sinks

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/crmsync/target-salesforce/internal/bootstrap"
	"github.com/crmsync/target-salesforce/internal/domain/models"
	"github.com/crmsync/target-salesforce/internal/infrastructure/salesforce"
	"github.com/crmsync/target-salesforce/pkg/errors"
	"github.com/crmsync/target-salesforce/pkg/utils"
)

var titleCaser = cases.Title(language.English)

// RecurringDonationsSink writes normalized donations to the NPSP
// npe03__Recurring_Donation__c object.
type RecurringDonationsSink struct {
	BaseSink
}

// NewRecurringDonationsSink creates the recurring donations sink.
func NewRecurringDonationsSink(client *salesforce.Client, cfg *bootstrap.Config) *RecurringDonationsSink {
	return &RecurringDonationsSink{
		BaseSink: newBaseSink(client, cfg, "RecurringDonations",
			"sobjects/npe03__Recurring_Donation__c",
			[]string{"recurringdonations", "recurring_donations"}),
	}
}

// Preprocess maps a normalized donation. Every donation must attach to an
// Account or a Contact, resolved from an external id or by name.
func (s *RecurringDonationsSink) Preprocess(ctx context.Context, record map[string]interface{}) (map[string]interface{}, error) {
	rec, err := models.Decode[models.DonationRecord](record)
	if err != nil {
		return nil, err
	}

	desc, err := s.describe(ctx)
	if err != nil {
		return nil, err
	}

	established := time.Now()
	if rec.CreatedAt != "" {
		if parsed, err := models.ParseTime(rec.CreatedAt); err == nil {
			established = parsed
		}
	}

	installment := s.getPickable(desc, titleCaser.String(rec.InstallmentPeriod),
		"npe03__Installment_Period__c", pickOptions{})

	mapping := map[string]interface{}{
		"Name":                         rec.Name,
		"npe03__Installment_Period__c": installment,
		"npe03__Date_Established__c":   utils.FormatDate(established),
	}
	if rec.Amount != nil {
		mapping["npe03__Amount__c"] = *rec.Amount
	}

	switch {
	case rec.ContactExternalID != nil && rec.ContactExternalID.Name != "":
		endpoint := fmt.Sprintf("sobjects/Contact/%s/%s", rec.ContactExternalID.Name, rec.ContactExternalID.Value)
		contact, err := s.client.GetRecord(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		mapping["npe03__Contact__c"] = contact["Id"]

	case rec.CompanyName != "":
		accountID, err := s.accountIDByName(ctx, rec.CompanyName)
		if err != nil {
			return nil, err
		}
		mapping["npe03__Organization__c"] = accountID

	case rec.ContactName != "":
		contactID, err := s.contactIDByName(ctx, rec.ContactName)
		if err != nil {
			return nil, err
		}
		mapping["npe03__Contact__c"] = contactID

	default:
		return nil, errors.NewInvalidRecordError(s.name, "", "no Account or Contact provided for the donation")
	}

	if err := s.mergeCustomFields(ctx, desc, mapping, rec.CustomFields); err != nil {
		return nil, err
	}

	if _, err := s.resolve(ctx, desc, mapping, resolveInput{
		ExternalID: rec.ExternalID,
	}); err != nil {
		return nil, err
	}

	return s.validateOutput(desc, mapping)
}
