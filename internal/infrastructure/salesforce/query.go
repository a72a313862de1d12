package salesforce

import (
	"context"
	"net/http"
	"net/url"
)

type queryResult struct {
	Records []map[string]interface{} `json:"records"`
}

// Query runs a SOQL query and returns the raw record maps with the
// per-record attributes envelope stripped.
func (c *Client) Query(ctx context.Context, soql string) ([]map[string]interface{}, error) {
	params := url.Values{"q": {soql}}
	resp, err := c.Request(ctx, http.MethodGet, "query", params, nil)
	if err != nil {
		return nil, err
	}
	var result queryResult
	if err := resp.JSON(&result); err != nil {
		return nil, err
	}
	for _, rec := range result.Records {
		delete(rec, "attributes")
	}
	return result.Records, nil
}

// QueryFields runs a SOQL query and projects each record down to the
// requested fields.
func (c *Client) QueryFields(ctx context.Context, soql string, fields []string) ([]map[string]interface{}, error) {
	records, err := c.Query(ctx, soql)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		projected := make(map[string]interface{}, len(fields))
		for _, f := range fields {
			if v, ok := rec[f]; ok {
				projected[f] = v
			}
		}
		out = append(out, projected)
	}
	return out, nil
}

// GetRecord fetches a single record by REST path, e.g.
// sobjects/Contact/003xx or sobjects/Contact/My_Ext_Id__c/abc.
func (c *Client) GetRecord(ctx context.Context, endpoint string) (map[string]interface{}, error) {
	resp, err := c.Request(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, err
	}
	var record map[string]interface{}
	if err := resp.JSON(&record); err != nil {
		return nil, err
	}
	delete(record, "attributes")
	return record, nil
}
