package salesforce

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/crmsync/target-salesforce/internal/domain/models"
	"github.com/crmsync/target-salesforce/internal/domain/schema"
	"github.com/crmsync/target-salesforce/pkg/errors"
	"github.com/crmsync/target-salesforce/pkg/utils"
)

// The metadata API accepts session-authenticated SOAP, not REST. The
// envelope is a fixed template, filled by interpolation.
const createFieldEnvelope = `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
    <s:Header>
        <h:SessionHeader xmlns:h="http://soap.sforce.com/2006/04/metadata"
        xmlns="http://soap.sforce.com/2006/04/metadata"
        xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"
        xmlns:xsd="http://www.w3.org/2001/XMLSchema">
        <sessionId>%s</sessionId>
        </h:SessionHeader>
    </s:Header>
    <s:Body xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"
        xmlns:xsd="http://www.w3.org/2001/XMLSchema">
        <createMetadata xmlns="http://soap.sforce.com/2006/04/metadata">
        <metadata xsi:type="CustomField">
            <fullName>%s.%s</fullName>
            <label>%s</label>
            <externalId>%s</externalId>
            <type>Text</type>
            <length>100</length>
        </metadata>
        </createMetadata>
    </s:Body>
</s:Envelope>`

// EnsureCustomFields provisions every candidate custom field missing from
// the schema, grants edit+read permission on it for each known permission
// set, and invalidates the cached schema so the next mapping sees the new
// fields. Provisioning is not idempotent remotely, so it is serialized.
func (c *Client) EnsureCustomFields(ctx context.Context, objectType string, fields []models.CustomField, desc *schema.Description, permissionSetIDs []string) error {
	c.provMu.Lock()
	defer c.provMu.Unlock()

	existing := make(map[string]bool)
	for _, name := range desc.CustomFields() {
		existing[name] = true
	}

	created := 0
	for _, cf := range fields {
		name := utils.EnsureCustomSuffix(cf.Name)
		if existing[name] {
			continue
		}
		if err := c.createCustomField(ctx, objectType, name, cf.Label); err != nil {
			return fmt.Errorf("failed to create custom field %s.%s: %w", objectType, name, err)
		}
		for _, permSetID := range permissionSetIDs {
			if err := c.grantFieldPermission(ctx, permSetID, objectType, name); err != nil {
				return fmt.Errorf("failed to grant permission on %s.%s: %w", objectType, name, err)
			}
		}
		existing[name] = true
		created++
	}

	if created > 0 {
		log.Printf("✅ Provisioned %d custom field(s) on %s", created, objectType)
		c.InvalidateSchema(objectType)
	}
	return nil
}

// createCustomField issues the privileged SOAP createMetadata call.
func (c *Client) createCustomField(ctx context.Context, objectType, name, label string) error {
	if label == "" {
		label = name
	}

	// Task custom fields live on the Activity sObject
	soapObject := objectType
	if soapObject == "Task" {
		soapObject = "Activity"
	}

	token, err := c.auth.Token(ctx)
	if err != nil {
		return err
	}

	// A field meant as an external id must be flagged in metadata
	externalID := "false"
	if strings.Contains(strings.ToLower(name), "externalid") {
		externalID = "true"
	}

	envelope := fmt.Sprintf(createFieldEnvelope, token, soapObject, name, label, externalID)
	soapURL := fmt.Sprintf("%s/services/Soap/m/%s", c.instanceURL, c.apiVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, soapURL, strings.NewReader(envelope))
	if err != nil {
		return fmt.Errorf("failed to build metadata request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml")
	req.Header.Set("SOAPAction", `""`)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NewRetriableAPIError(0, err.Error())
	}
	defer httpResp.Body.Close()
	body, _ := io.ReadAll(httpResp.Body)

	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: body}
	return c.validateResponse(resp, "services/Soap/m")
}

// grantFieldPermission adds edit+read FieldPermissions for one permission
// set via the composite API.
func (c *Client) grantFieldPermission(ctx context.Context, permissionSetID, objectType, fieldName string) error {
	// Permissions attach to Task even though the field was created on Activity
	payload := map[string]interface{}{
		"allOrNone": true,
		"compositeRequest": []map[string]interface{}{
			{
				"referenceId": "NewFieldPermission",
				"body": map[string]string{
					"ParentId":        permissionSetID,
					"SobjectType":     objectType,
					"Field":           fmt.Sprintf("%s.%s", objectType, fieldName),
					"PermissionsEdit": "true",
					"PermissionsRead": "true",
				},
				"url":    fmt.Sprintf("/services/data/v%s/sobjects/FieldPermissions/", c.apiVersion),
				"method": "POST",
			},
		},
	}

	_, err := c.Request(ctx, http.MethodPost, "composite", nil, payload)
	return err
}
