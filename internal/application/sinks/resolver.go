package sinks

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/crmsync/target-salesforce/internal/bootstrap"
	"github.com/crmsync/target-salesforce/internal/domain/models"
	"github.com/crmsync/target-salesforce/internal/domain/schema"
	"github.com/crmsync/target-salesforce/pkg/errors"
	"github.com/crmsync/target-salesforce/pkg/utils"
)

// resolveInput carries the sink-supplied lookup hints for one record.
type resolveInput struct {
	RecordID   string
	ExternalID *models.ExternalID
	Email      string
}

// Resolution reports how update-vs-create was decided. The predicate, once
// used to decide a record exists, is not re-evaluated for that record.
type Resolution struct {
	Matched   bool
	Predicate string
}

// resolve decides whether the payload addresses an existing remote record.
// Priority order, first match wins: explicit id, configured lookup-field
// set, caller-supplied external id, email search. No match means create.
// With only_upsert_empty_fields set, a successful resolution re-reads the
// remote record and drops every payload field already populated there.
func (b *BaseSink) resolve(ctx context.Context, desc *schema.Description, payload map[string]interface{}, in resolveInput) (*Resolution, error) {
	res := &Resolution{}

	switch {
	case in.RecordID != "":
		payload["Id"] = in.RecordID
		res.Matched = true

	case len(b.cfg.LookupFieldsFor(b.ObjectType())) > 0:
		matched, predicate, err := b.lookupByFields(ctx, payload)
		if err != nil {
			return nil, err
		}
		res.Predicate = predicate
		if matched != "" {
			payload["Id"] = matched
			res.Matched = true
		} else if b.cfg.LookupStrict {
			return nil, errors.NewInvalidRecordError(b.name, "",
				fmt.Sprintf("no existing record matched lookup predicate %q", predicate))
		}

	case in.ExternalID != nil && in.ExternalID.Name != "":
		// The write endpoint resolves external-id keys itself; no pre-read.
		payload[in.ExternalID.Name] = in.ExternalID.Value

	case in.Email != "" && desc.HasField("Email"):
		predicate := fmt.Sprintf("Email = '%s'", utils.EscapeSOQL(in.Email))
		res.Predicate = predicate
		soql := fmt.Sprintf("SELECT Id FROM %s WHERE %s", desc.ObjectName, predicate)
		records, err := b.client.QueryFields(ctx, soql, []string{"Id"})
		if err != nil {
			return nil, err
		}
		if len(records) > 0 {
			if id, _ := records[0]["Id"].(string); id != "" {
				payload["Id"] = id
				res.Matched = true
			}
		}
	}

	if b.cfg.OnlyUpsertEmptyFields && res.Matched {
		if err := b.stripPopulatedFields(ctx, desc, payload); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// lookupByFields builds equality predicates from the configured
// lookup-field set. Sequential mode tries fields one at a time until a
// match; all mode requires every configured field present and ANDs them
// into a single predicate.
func (b *BaseSink) lookupByFields(ctx context.Context, payload map[string]interface{}) (string, string, error) {
	fields := b.cfg.LookupFieldsFor(b.ObjectType())

	if b.cfg.LookupMethod == bootstrap.LookupAll {
		var clauses []string
		for _, field := range fields {
			v, ok := payload[field]
			if !ok {
				// A missing field makes the AND predicate unsatisfiable
				return "", "", nil
			}
			clauses = append(clauses, fmt.Sprintf("%s = %s", field, soqlLiteral(v)))
		}
		predicate := strings.Join(clauses, " AND ")
		id, err := b.queryFirstID(ctx, predicate)
		return id, predicate, err
	}

	var lastPredicate string
	for _, field := range fields {
		v, ok := payload[field]
		if !ok {
			continue
		}
		predicate := fmt.Sprintf("%s = %s", field, soqlLiteral(v))
		lastPredicate = predicate
		id, err := b.queryFirstID(ctx, predicate)
		if err != nil {
			return "", predicate, err
		}
		if id != "" {
			return id, predicate, nil
		}
	}
	return "", lastPredicate, nil
}

func (b *BaseSink) queryFirstID(ctx context.Context, predicate string) (string, error) {
	if predicate == "" {
		return "", nil
	}
	soql := fmt.Sprintf("SELECT Id FROM %s WHERE %s", b.ObjectType(), predicate)
	records, err := b.client.QueryFields(ctx, soql, []string{"Id"})
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", nil
	}
	id, _ := records[0]["Id"].(string)
	return id, nil
}

// stripPopulatedFields enforces the never-overwrite-populated-data policy:
// re-read the resolved record and drop every payload field whose remote
// value is already non-empty, identifier fields excepted.
func (b *BaseSink) stripPopulatedFields(ctx context.Context, desc *schema.Description, payload map[string]interface{}) error {
	id, ok := stringValue(payload, "Id")
	if !ok {
		return nil
	}
	remote, err := b.client.GetRecord(ctx, b.endpoint+"/"+id)
	if err != nil {
		return err
	}

	externalIDs := make(map[string]bool)
	for _, f := range desc.ExternalIDs() {
		externalIDs[f] = true
	}

	for k := range payload {
		if k == "Id" || externalIDs[k] {
			continue
		}
		if v, present := remote[k]; present && v != nil && v != "" {
			log.Printf("Dropping %s.%s: remote value already populated", b.ObjectType(), k)
			delete(payload, k)
		}
	}
	return nil
}

// soqlLiteral renders a Go value as a SOQL literal. Strings are escaped
// and quoted; filter strings are built by interpolation, never parsed.
func soqlLiteral(v interface{}) string {
	switch tv := v.(type) {
	case string:
		return "'" + utils.EscapeSOQL(tv) + "'"
	case bool:
		return fmt.Sprintf("%t", tv)
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", tv), "0"), ".")
	default:
		return fmt.Sprintf("%v", tv)
	}
}
