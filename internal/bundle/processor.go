// Package bundle implements the Bundle Processor (C10): batch and
// transaction Bundle submission, including urn:uuid: placeholder
// resolution across a transaction's entries (§4.10).
//
// Grounded on core/client (now internal/httpclient), which already
// replays a request through the router in-process; the processor drives
// it once per bundle entry. Each replayed entry commits on its own: when
// a transaction entry fails, the entries that ran before it are not
// rolled back.
package bundle

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/fhircore/server/internal/httpclient"
	"github.com/fhircore/server/internal/model"
)

// Type is the Bundle.type value this processor accepts.
type Type string

// The two submission types §4.10 defines.
const (
	TypeBatch       Type = "batch"
	TypeTransaction Type = "transaction"
)

// Entry is one Bundle.entry this processor executes.
type Entry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Request  struct {
		Method string `json:"method"`
		URL    string `json:"url"`
	} `json:"request"`
}

// Bundle is the minimal shape the processor reads and writes; the full
// resource envelope (identifiers, timestamps) is the caller's concern.
type Bundle struct {
	ResourceType string  `json:"resourceType"`
	Type         Type    `json:"type"`
	Entry        []Entry `json:"entry"`
}

// ResponseEntry mirrors one input entry's outcome.
type ResponseEntry struct {
	Resource json.RawMessage `json:"resource,omitempty"`
	Response struct {
		Status   string `json:"status"`
		Location string `json:"location,omitempty"`
		Etag     string `json:"etag,omitempty"`
	} `json:"response"`
}

// Response is the Bundle this processor returns to the caller.
type Response struct {
	ResourceType string          `json:"resourceType"`
	Type         string          `json:"type"`
	Entry        []ResponseEntry `json:"entry"`
}

// Processor executes Bundle entries by replaying them through an
// httpclient.Client bound to the server's own router.
type Processor struct {
	client httpclient.Client
}

// New constructs a Processor that replays entries through client.
func New(client httpclient.Client) *Processor {
	return &Processor{client: client}
}

// Process executes every entry of b in order. For TypeBatch, each entry's
// failure is recorded independently and does not stop later entries. For
// TypeTransaction, the first entry failure stops the bundle and Process
// returns an error carrying that entry's HTTP status; later entries do
// not run, and entries that already ran stay committed.
func (p *Processor) Process(b Bundle) (Response, error) {
	if b.Type != TypeBatch && b.Type != TypeTransaction {
		return Response{}, model.ErrInvalidInput("bundle type must be batch or transaction, got " + string(b.Type))
	}

	resolved, err := resolvePlaceholders(b.Entry)
	if err != nil {
		return Response{}, err
	}

	resp := Response{ResourceType: "Bundle", Type: string(b.Type) + "-response"}
	for _, e := range resolved {
		status, _, body, err := p.client.Do(e.Request.Method, e.Request.URL, e.Resource)
		if err != nil {
			if b.Type == TypeTransaction {
				return Response{}, model.ErrInternal("bundle entry transport failure: " + err.Error())
			}
			resp.Entry = append(resp.Entry, failedEntry(err.Error()))
			continue
		}

		entry := ResponseEntry{}
		entry.Response.Status = strconv.Itoa(status)
		if status >= http.StatusOK && status < http.StatusMultipleChoices {
			entry.Resource = json.RawMessage(body)
		} else if b.Type == TypeTransaction {
			return Response{}, &model.Error{Status: status, Code: model.IssueProcessing,
				Diagnostics: fmt.Sprintf("transaction entry %s %s failed with status %d", e.Request.Method, e.Request.URL, status)}
		}
		resp.Entry = append(resp.Entry, entry)
	}
	return resp, nil
}

func failedEntry(diagnostics string) ResponseEntry {
	entry := ResponseEntry{}
	entry.Response.Status = "500"
	outcome, _ := json.Marshal(model.NewOutcome(model.Issue{Severity: model.SeverityError, Code: model.IssueException, Diagnostics: diagnostics}))
	entry.Resource = outcome
	return entry
}

// resolvePlaceholders rewrites every "urn:uuid:..." reference inside each
// entry's resource body that matches the fullUrl of an earlier entry,
// replacing it with that earlier entry's request URL (for a create, the
// type path such as "/Patient"; the id the server assigns is not known
// before the entry runs, so no "ResourceType/id" reference is produced).
// References to entries later in the array are left unchanged.
func resolvePlaceholders(entries []Entry) ([]Entry, error) {
	placeholderToRef := make(map[string]string)
	out := make([]Entry, len(entries))

	for i, e := range entries {
		body := e.Resource
		if len(body) > 0 && len(placeholderToRef) > 0 {
			rewritten, err := rewriteReferences(body, placeholderToRef)
			if err != nil {
				return nil, model.ErrInvalidInput("bundle entry " + strconv.Itoa(i) + ": " + err.Error())
			}
			body = rewritten
		}
		out[i] = Entry{FullURL: e.FullURL, Resource: body, Request: e.Request}

		if strings.HasPrefix(e.FullURL, "urn:uuid:") {
			// The referenced resource's final id is only known once its own
			// Create entry executes; callers that need the resolved ref for
			// a later entry should submit entries in reference order.
			placeholderToRef[e.FullURL] = e.Request.URL
		}
	}
	return out, nil
}

// rewriteReferences walks body's JSON structure and replaces any string
// value found under a "reference" key that matches a known placeholder.
func rewriteReferences(body json.RawMessage, placeholderToRef map[string]string) (json.RawMessage, error) {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	walkReplace(doc, placeholderToRef)
	return json.Marshal(doc)
}

func walkReplace(node interface{}, placeholderToRef map[string]string) {
	switch v := node.(type) {
	case map[string]interface{}:
		for key, val := range v {
			if key == "reference" {
				if s, ok := val.(string); ok {
					if ref, found := placeholderToRef[s]; found {
						v[key] = ref
					}
					continue
				}
			}
			walkReplace(val, placeholderToRef)
		}
	case []interface{}:
		for _, item := range v {
			walkReplace(item, placeholderToRef)
		}
	}
}
