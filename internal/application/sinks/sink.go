package sinks

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/crmsync/target-salesforce/internal/bootstrap"
	"github.com/crmsync/target-salesforce/internal/domain/models"
	"github.com/crmsync/target-salesforce/internal/domain/schema"
	"github.com/crmsync/target-salesforce/internal/infrastructure/salesforce"
	"github.com/crmsync/target-salesforce/pkg/errors"
	"github.com/crmsync/target-salesforce/pkg/utils"
)

// Salesforce error codes the executor matches on. Codes are stable;
// response text is not.
const (
	codeInvalidFieldForInsertUpdate = "INVALID_FIELD_FOR_INSERT_UPDATE"
	codeNotFound                    = "NOT_FOUND"
	codeDuplicateValue              = "DUPLICATE_VALUE"
)

// Sink is a per-object-type destination. Preprocess maps and resolves a
// normalized record into a remote payload; Process writes it. A nil
// payload from Preprocess means the record is skipped.
type Sink interface {
	Name() string
	Aliases() []string
	Endpoint() string
	ObjectType() string
	Preprocess(ctx context.Context, record map[string]interface{}) (map[string]interface{}, error)
	Process(ctx context.Context, payload map[string]interface{}) (*Result, error)
}

// Result is the outcome of one upsert.
type Result struct {
	ID         string
	ExternalID string
	Updated    bool // the write went down the update path
	Existing   bool // an existing record was left untouched
}

// BaseSink carries the pieces shared by every sink: the API client, the
// run config, and the endpoint state. One sink instance serves one stream
// and is driven serially; its caches are instance-scoped.
type BaseSink struct {
	client   *salesforce.Client
	cfg      *bootstrap.Config
	name     string
	aliases  []string
	endpoint string

	referenceAccounts []map[string]interface{}
	referenceContacts []map[string]interface{}
}

func newBaseSink(client *salesforce.Client, cfg *bootstrap.Config, name, endpoint string, aliases []string) BaseSink {
	return BaseSink{client: client, cfg: cfg, name: name, endpoint: endpoint, aliases: aliases}
}

// Name returns the canonical stream name.
func (b *BaseSink) Name() string { return b.name }

// Aliases returns alternate stream names this sink accepts.
func (b *BaseSink) Aliases() []string { return b.aliases }

// Endpoint returns the sobjects REST path, e.g. "sobjects/Contact".
func (b *BaseSink) Endpoint() string { return b.endpoint }

// ObjectType returns the remote object API name derived from the endpoint.
func (b *BaseSink) ObjectType() string {
	return strings.TrimPrefix(b.endpoint, "sobjects/")
}

func (b *BaseSink) describe(ctx context.Context) (*schema.Description, error) {
	return b.client.Describe(ctx, b.ObjectType())
}

// pickOptions controls picklist normalization fallback behavior.
type pickOptions struct {
	Default     string
	SelectFirst bool
}

// getPickable normalizes a candidate value against the active labels of a
// picklist field: both sides are stripped of non-alphanumerics and
// lower-cased before matching. On a miss the configured default wins, or
// with SelectFirst the first active option is chosen under a warning.
func (b *BaseSink) getPickable(desc *schema.Description, value, sfField string, opts pickOptions) string {
	labels := desc.ActiveLabels(sfField)
	if labels == nil {
		return opts.Default
	}

	normalized := utils.NormalizeToken(value)
	for _, label := range labels {
		if utils.NormalizeToken(label) == normalized && normalized != "" {
			return label
		}
	}

	if opts.SelectFirst {
		log.Printf("⚠️ Using %s as %s %q is not valid, valid values are %v", labels[0], sfField, value, labels)
		return labels[0]
	}
	return opts.Default
}

// validateOutput cleans the mapped payload and restricts it to fields the
// schema currently allows: creatable standard fields, custom (__c) fields,
// the Id, and relationship fields. Zero creatable standard fields means
// the integration user cannot write this object at all.
func (b *BaseSink) validateOutput(desc *schema.Description, mapping map[string]interface{}) (map[string]interface{}, error) {
	mapping = utils.CleanPayload(mapping)

	createable := desc.Createable()
	if len(createable) == 0 {
		return nil, errors.NewNoCreatableFieldsError(b.name)
	}
	allowed := make(map[string]bool, len(createable))
	for _, f := range createable {
		allowed[f] = true
	}

	payload := make(map[string]interface{}, len(mapping))
	for k, v := range mapping {
		if strings.HasSuffix(k, "__c") || k == "Id" || allowed[k] || desc.IsRelationship(k) {
			payload[k] = v
		}
	}
	return payload, nil
}

// mergeCustomFields provisions missing custom fields when configured, then
// merges the record's custom key/value pairs into the mapping under the
// normalized __c suffix.
func (b *BaseSink) mergeCustomFields(ctx context.Context, desc *schema.Description, mapping map[string]interface{}, fields models.CustomFieldList) error {
	if len(fields) == 0 {
		return nil
	}
	if b.cfg.CreateCustomFields {
		if err := b.client.EnsureCustomFields(ctx, b.ObjectType(), fields, desc, b.cfg.PermissionSetIDs); err != nil {
			return err
		}
	}
	for _, cf := range fields {
		mapping[utils.EnsureCustomSuffix(cf.Name)] = cf.Value
	}
	return nil
}

// accountIDByName resolves a company name to an Account id through the
// lazily-cached reference data.
func (b *BaseSink) accountIDByName(ctx context.Context, name string) (string, error) {
	if b.referenceAccounts == nil {
		records, err := b.client.QueryFields(ctx, "SELECT Id, Name FROM Account", []string{"Id", "Name"})
		if err != nil {
			return "", err
		}
		b.referenceAccounts = records
	}
	for _, r := range b.referenceAccounts {
		if r["Name"] == name {
			id, _ := r["Id"].(string)
			return id, nil
		}
	}
	return "", nil
}

// contactIDByName resolves a contact name to a Contact id through the
// lazily-cached reference data.
func (b *BaseSink) contactIDByName(ctx context.Context, name string) (string, error) {
	if b.referenceContacts == nil {
		records, err := b.client.QueryFields(ctx, "SELECT Id, Name FROM Contact", []string{"Id", "Name"})
		if err != nil {
			return "", err
		}
		b.referenceContacts = records
	}
	for _, r := range b.referenceContacts {
		if r["Name"] == name {
			id, _ := r["Id"].(string)
			return id, nil
		}
	}
	return "", nil
}

// Process is the upsert executor. A payload with an Id is PATCHed to
// {endpoint}/{id}; a payload keyed by a schema external id is PATCHed to
// {endpoint}/{field}/{value}, falling back to create when the remote
// reports the key unknown; everything else is POSTed. 204 responses are
// success without an id.
func (b *BaseSink) Process(ctx context.Context, payload map[string]interface{}) (*Result, error) {
	if id, ok := stringValue(payload, "Id"); ok {
		body := clonePayloadWithout(payload, "Id")
		if len(body) == 0 {
			// Nothing left to write: the record exists and the policy
			// stripped every updatable field.
			return &Result{ID: id, Existing: true}, nil
		}
		resp, err := b.patchWithFieldStrip(ctx, b.endpoint+"/"+id, body)
		if err != nil {
			return nil, err
		}
		if remoteID := resp.RecordID(); remoteID != "" {
			id = remoteID
		}
		log.Printf("%s updated with id: %s", b.name, id)
		return &Result{ID: id, Updated: true}, nil
	}

	externalValue := ""
	if desc, err := b.describe(ctx); err == nil {
		for _, field := range desc.ExternalIDs() {
			value, ok := stringValue(payload, field)
			if !ok {
				continue
			}
			externalValue = value
			body := clonePayloadWithout(payload, field)
			endpoint := b.endpoint + "/" + field + "/" + url.PathEscape(value)
			resp, err := b.patchWithFieldStrip(ctx, endpoint, body)
			if err != nil {
				if fatal, ok := errors.AsFatalAPI(err); ok && fatal.HasRemoteCode(codeNotFound) {
					log.Printf("%s with id %s does not exist, will attempt to create it", field, value)
					continue
				}
				return nil, err
			}
			id := resp.RecordID()
			log.Printf("%s updated with id: %s", b.name, id)
			return &Result{ID: id, ExternalID: value, Updated: true}, nil
		}
	}

	resp, err := b.client.Request(ctx, http.MethodPost, b.endpoint, nil, payload)
	if err != nil {
		return nil, err
	}
	id := resp.RecordID()
	log.Printf("%s created with id: %s", b.name, id)
	return &Result{ID: id, ExternalID: externalValue}, nil
}

// patchWithFieldStrip issues a PATCH and, when the remote flags specific
// fields as invalid for insert/update, strips exactly those fields and
// retries once.
func (b *BaseSink) patchWithFieldStrip(ctx context.Context, endpoint string, body map[string]interface{}) (*salesforce.Response, error) {
	resp, err := b.client.Request(ctx, http.MethodPatch, endpoint, nil, body)
	if err == nil {
		return resp, nil
	}

	fatal, ok := errors.AsFatalAPI(err)
	if !ok || !fatal.HasRemoteCode(codeInvalidFieldForInsertUpdate) {
		return nil, err
	}

	offending := fatal.FieldsForCode(codeInvalidFieldForInsertUpdate)
	if len(offending) == 0 {
		return nil, err
	}
	stripped := clonePayloadWithout(body, offending...)
	log.Printf("Retrying %s without invalid fields %v", endpoint, offending)
	return b.client.Request(ctx, http.MethodPatch, endpoint, nil, stripped)
}

func stringValue(payload map[string]interface{}, key string) (string, bool) {
	v, ok := payload[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func clonePayloadWithout(payload map[string]interface{}, keys ...string) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

