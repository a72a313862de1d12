package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Address is a nested address entry on a normalized record.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	Line3      string `json:"line3"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Street joins the non-empty address lines into a single street value.
func (a Address) Street() string {
	var lines []string
	for _, l := range []string{a.Line1, a.Line2, a.Line3} {
		if l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, " - ")
}

// PhoneNumber is a nested phone entry with a semantic type
// (primary/secondary/mobile/home/fax).
type PhoneNumber struct {
	Number string `json:"number"`
	Type   string `json:"type"`
}

// CampaignRef references a campaign by id or, when the id is unknown
// upstream, by name.
type CampaignRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CustomField is an arbitrary key/value pair destined for a __c field.
type CustomField struct {
	Name  string      `json:"name"`
	Label string      `json:"label"`
	Value interface{} `json:"value"`
}

// ExternalID is a caller-supplied alternate unique key: a schema-declared
// external-id field name plus the value identifying the record.
type ExternalID struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// AddressList tolerates upstream records that carry nested collections as
// JSON-encoded strings rather than arrays.
type AddressList []Address

func (l *AddressList) UnmarshalJSON(data []byte) error {
	return unmarshalMaybeString(data, (*[]Address)(l))
}

// PhoneList is a list of phone numbers, string-encoded or not.
type PhoneList []PhoneNumber

func (l *PhoneList) UnmarshalJSON(data []byte) error {
	return unmarshalMaybeString(data, (*[]PhoneNumber)(l))
}

// CampaignRefList is a list of campaign references, string-encoded or not.
type CampaignRefList []CampaignRef

func (l *CampaignRefList) UnmarshalJSON(data []byte) error {
	return unmarshalMaybeString(data, (*[]CampaignRef)(l))
}

// CustomFieldList is a list of custom fields, string-encoded or not.
type CustomFieldList []CustomField

func (l *CustomFieldList) UnmarshalJSON(data []byte) error {
	return unmarshalMaybeString(data, (*[]CustomField)(l))
}

func unmarshalMaybeString(data []byte, target interface{}) error {
	if len(data) > 0 && data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return err
		}
		if inner == "" {
			return nil
		}
		return json.Unmarshal([]byte(inner), target)
	}
	return json.Unmarshal(data, target)
}

// ContactRecord is a normalized contact or lead.
type ContactRecord struct {
	ID                string          `json:"id"`
	Type              string          `json:"type"` // "lead" routes to the Lead object
	FirstName         string          `json:"first_name"`
	LastName          string          `json:"last_name"`
	Email             string          `json:"email"`
	Title             string          `json:"title"`
	Description       string          `json:"description"`
	LeadSource        string          `json:"lead_source"`
	Salutation        string          `json:"salutation"`
	Industry          string          `json:"industry"`
	Rating            string          `json:"rating"`
	Birthdate         string          `json:"birthdate"`
	OwnerID           string          `json:"owner_id"`
	Unsubscribed      *bool           `json:"unsubscribed"`
	NumberOfEmployees *float64        `json:"number_of_employees"`
	Website           string          `json:"website"`
	CompanyName       string          `json:"company_name"`
	AnnualRevenue     *float64        `json:"annual_revenue"`
	Department        string          `json:"department"`
	Addresses         AddressList     `json:"addresses"`
	PhoneNumbers      PhoneList       `json:"phone_numbers"`
	Campaigns         CampaignRefList `json:"campaigns"`
	CustomFields      CustomFieldList `json:"custom_fields"`
	ExternalID        *ExternalID     `json:"external_id"`
}

// DealRecord is a normalized deal (Salesforce Opportunity).
type DealRecord struct {
	ID                string          `json:"id"`
	Title             string          `json:"title"`
	PipelineStageID   string          `json:"pipeline_stage_id"`
	Status            string          `json:"status"`
	Type              string          `json:"type"`
	Description       string          `json:"description"`
	CloseDate         string          `json:"close_date"`
	MonetaryAmount    *float64        `json:"monetary_amount"`
	WinProbability    *float64        `json:"win_probability"`
	LeadSource        string          `json:"lead_source"`
	ExpectedRevenue   *float64        `json:"expected_revenue"`
	CompanyID         string          `json:"company_id"`
	CompanyName       string          `json:"company_name"`
	OwnerID           string          `json:"owner_id"`
	ContactID         string          `json:"contact_id"`
	ContactEmail      string          `json:"contact_email"`
	ContactExternalID *ExternalID     `json:"contact_external_id"`
	CustomFields      CustomFieldList `json:"custom_fields"`
	ExternalID        *ExternalID     `json:"external_id"`
}

// CompanyRecord is a normalized company (Salesforce Account).
type CompanyRecord struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Website      string          `json:"website"`
	Industry     string          `json:"industry"`
	Description  string          `json:"description"`
	OwnerID      string          `json:"owner_id"`
	Addresses    AddressList     `json:"addresses"`
	PhoneNumbers PhoneList       `json:"phone_numbers"`
	CustomFields CustomFieldList `json:"custom_fields"`
	ExternalID   *ExternalID     `json:"external_id"`
}

// CampaignRecord is a normalized marketing campaign.
type CampaignRecord struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Type         string          `json:"type"`
	Status       string          `json:"status"`
	StartDate    string          `json:"start_date"`
	EndDate      string          `json:"end_date"`
	Description  string          `json:"description"`
	Active       *bool           `json:"active"`
	CustomFields CustomFieldList `json:"custom_fields"`
	ExternalID   *ExternalID     `json:"external_id"`
}

// CampaignMemberRecord links a contact or lead to a campaign.
type CampaignMemberRecord struct {
	ID           string          `json:"id"`
	CampaignID   string          `json:"campaign_id"`
	ContactID    string          `json:"contact_id"`
	Type         string          `json:"type"` // "contact" or "lead"
	CustomFields CustomFieldList `json:"custom_fields"`
}

// ActivityRecord is a normalized activity (Salesforce Task).
type ActivityRecord struct {
	ID               string          `json:"id"`
	Status           string          `json:"status"`
	ContactID        string          `json:"contact_id"`
	OwnerID          string          `json:"owner_id"`
	RelatedTo        string          `json:"related_to"`
	Type             string          `json:"type"`
	ActivityDatetime string          `json:"activity_datetime"`
	StartDatetime    string          `json:"start_datetime"`
	EndDatetime      string          `json:"end_datetime"`
	Description      string          `json:"description"`
	CustomFields     CustomFieldList `json:"custom_fields"`
}

// DonationRecord is a normalized recurring donation (NPSP
// npe03__Recurring_Donation__c).
type DonationRecord struct {
	Name              string          `json:"name"`
	Amount            *float64        `json:"amount"`
	InstallmentPeriod string          `json:"installment_period"`
	CreatedAt         string          `json:"created_at"`
	ContactExternalID *ExternalID     `json:"contact_external_id"`
	CompanyName       string          `json:"company_name"`
	ContactName       string          `json:"contact_name"`
	CustomFields      CustomFieldList `json:"custom_fields"`
	ExternalID        *ExternalID     `json:"external_id"`
}

// Decode validates a raw normalized record into a typed record struct at
// the mapping boundary.
func Decode[T any](raw map[string]interface{}) (*T, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	var rec T
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &rec, nil
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses the date/datetime string shapes that show up in
// normalized records.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time value %q", s)
}
