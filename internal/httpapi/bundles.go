package httpapi

import (
	"strconv"

	"github.com/goccy/go-json"

	"github.com/fhircore/server/internal/model"
)

func unmarshalJSON(body []byte, v interface{}) error {
	return json.Unmarshal(body, v)
}

func parseVersionID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func parsePositiveIntOrZero(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, model.ErrInvalidSearchValue("_count", s)
	}
	return n, nil
}

// bundleEntry is the Bundle.entry shape this server returns for search
// and history reads (§6's "resource row wire
// format" applied to a list of rows rather than one).
type bundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource"`
	Request  *entryRequest   `json:"request,omitempty"`
}

type entryRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

type resultBundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type"`
	Total        int           `json:"total,omitempty"`
	Entry        []bundleEntry `json:"entry,omitempty"`
}

func searchBundle(resourceType string, rows []model.Row, total int) resultBundle {
	b := resultBundle{ResourceType: "Bundle", Type: "searchset", Total: total}
	for _, row := range rows {
		b.Entry = append(b.Entry, bundleEntry{
			FullURL:  resourceType + "/" + row.ResourceID,
			Resource: json.RawMessage(renderResource(row)),
		})
	}
	return b
}

func historyBundle(resourceType string, rows []model.Row) resultBundle {
	b := resultBundle{ResourceType: "Bundle", Type: "history", Total: len(rows)}
	for _, row := range rows {
		method := "PUT"
		if row.VersionNumber == 1 {
			method = "POST"
		}
		if row.IsDeleted {
			method = "DELETE"
		}
		b.Entry = append(b.Entry, bundleEntry{
			FullURL:  resourceType + "/" + row.ResourceID,
			Resource: json.RawMessage(renderResource(row)),
			Request:  &entryRequest{Method: method, URL: resourceType + "/" + row.ResourceID},
		})
	}
	return b
}
