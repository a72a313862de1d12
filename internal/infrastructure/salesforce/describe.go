package salesforce

import (
	"context"
	"log"
	"net/http"

	"github.com/crmsync/target-salesforce/internal/domain/schema"
	"github.com/crmsync/target-salesforce/pkg/errors"
)

type globalDescribe struct {
	SObjects []struct {
		Name        string `json:"name"`
		Label       string `json:"label"`
		LabelPlural string `json:"labelPlural"`
	} `json:"sobjects"`
}

// Describe returns the live schema for an object type, matched against the
// org's sObject list by API name, singular label, or plural label
// (case-sensitive). Results are memoized per object type until
// InvalidateSchema is called; a cache miss costs two describe calls.
func (c *Client) Describe(ctx context.Context, objectType string) (*schema.Description, error) {
	c.schemaMu.RLock()
	desc, ok := c.schemas[objectType]
	c.schemaMu.RUnlock()
	if ok {
		return desc, nil
	}

	c.schemaMu.Lock()
	defer c.schemaMu.Unlock()

	// Double check: another sink may have described this type meanwhile
	if desc, ok := c.schemas[objectType]; ok {
		return desc, nil
	}

	resp, err := c.Request(ctx, http.MethodGet, "sobjects", nil, nil)
	if err != nil {
		return nil, err
	}
	var global globalDescribe
	if err := resp.JSON(&global); err != nil {
		return nil, err
	}

	apiName := ""
	for _, obj := range global.SObjects {
		if obj.Name == objectType || obj.Label == objectType || obj.LabelPlural == objectType {
			apiName = obj.Name
			break
		}
	}
	if apiName == "" {
		return nil, errors.NewObjectNotFoundError(objectType)
	}

	resp, err = c.Request(ctx, http.MethodGet, "sobjects/"+apiName+"/describe", nil, nil)
	if err != nil {
		return nil, err
	}
	desc = &schema.Description{}
	if err := resp.JSON(desc); err != nil {
		return nil, err
	}
	desc.ObjectName = apiName

	c.schemas[objectType] = desc
	log.Printf("Described %s: %d fields", apiName, len(desc.Fields))
	return desc, nil
}

// InvalidateSchema clears the memoized schema for one object type, forcing
// a re-describe on next use. Called after provisioning custom fields.
func (c *Client) InvalidateSchema(objectType string) {
	c.schemaMu.Lock()
	defer c.schemaMu.Unlock()
	delete(c.schemas, objectType)
	log.Printf("🗑️ Schema cache invalidated for %s", objectType)
}
