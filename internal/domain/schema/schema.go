package schema

import "strings"

// PicklistValue is one option of an enumerated (picklist) field.
type PicklistValue struct {
	Label  string `json:"label"`
	Value  string `json:"value"`
	Active bool   `json:"active"`
}

// Field holds the describe attributes the connector cares about for a
// single sObject field.
type Field struct {
	Name              string          `json:"name"`
	Label             string          `json:"label"`
	Createable        bool            `json:"createable"`
	Updateable        bool            `json:"updateable"`
	Nillable          bool            `json:"nillable"`
	Custom            bool            `json:"custom"`
	ExternalID        bool            `json:"externalId"`
	DefaultedOnCreate bool            `json:"defaultedOnCreate"`
	PicklistValues    []PicklistValue `json:"picklistValues"`
}

// Description is the live schema of one sObject type, fetched from the
// describe endpoint and cached for the lifetime of a sink instance.
type Description struct {
	ObjectName string  `json:"name"`
	Fields     []Field `json:"fields"`
}

// Field returns the field with the given API name, or nil.
func (d *Description) Field(name string) *Field {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i]
		}
	}
	return nil
}

// HasField reports whether the schema contains a field with the given name.
func (d *Description) HasField(name string) bool {
	return d.Field(name) != nil
}

// Createable returns the names of creatable standard (non-custom) fields.
func (d *Description) Createable() []string {
	var names []string
	for _, f := range d.Fields {
		if f.Createable && !f.Custom {
			names = append(names, f.Name)
		}
	}
	return names
}

// CustomFields returns the names of custom fields.
func (d *Description) CustomFields() []string {
	var names []string
	for _, f := range d.Fields {
		if f.Custom {
			names = append(names, f.Name)
		}
	}
	return names
}

// Required returns the names of fields that must be present on create:
// non-nillable, creatable, and not defaulted by the platform.
func (d *Description) Required() []string {
	var names []string
	for _, f := range d.Fields {
		if !f.Nillable && f.Createable && !f.DefaultedOnCreate {
			names = append(names, f.Name)
		}
	}
	return names
}

// ExternalIDs returns the names of fields declared as external ids, usable
// as alternate upsert keys.
func (d *Description) ExternalIDs() []string {
	var names []string
	for _, f := range d.Fields {
		if f.ExternalID {
			names = append(names, f.Name)
		}
	}
	return names
}

// ActiveLabels returns the active picklist labels for the given field, in
// the remote-defined order. Nil means the field is not a picklist.
func (d *Description) ActiveLabels(fieldName string) []string {
	f := d.Field(fieldName)
	if f == nil || len(f.PicklistValues) == 0 {
		return nil
	}
	var labels []string
	for _, pv := range f.PicklistValues {
		if pv.Active {
			labels = append(labels, pv.Label)
		}
	}
	return labels
}

// IsRelationship reports whether the payload key addresses a relationship:
// either a custom relation (__r suffix) or a schema-declared lookup whose
// name ends in Id. Relationship fields pass through mapping unfiltered.
func (d *Description) IsRelationship(key string) bool {
	if strings.HasSuffix(key, "__r") {
		return true
	}
	return strings.HasSuffix(key, "Id") && d.HasField(key)
}
