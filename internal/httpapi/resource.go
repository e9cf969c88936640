package httpapi

import (
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/fhircore/server/internal/model"
)

// renderResource returns row.Content with meta.versionId and
// meta.lastUpdated overwritten to reflect the stored row, the "Resource
// row wire format" §6 requires and §8's round-trip laws assert (a read of
// a just-created resource must carry meta.versionId=1). Any other meta
// fields the stored document already carries (profile, tag, security,
// ...) are preserved. versionId keys off VersionNumber, the
// externally-visible per-resource version identity, not the table-wide
// VersionID; lastUpdated comes from the row's LastUpdated.
func renderResource(row model.Row) []byte {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(row.Content, &doc); err != nil {
		return row.Content
	}

	meta := map[string]json.RawMessage{}
	if raw, ok := doc["meta"]; ok {
		_ = json.Unmarshal(raw, &meta)
	}
	versionID, err := json.Marshal(strconv.FormatInt(row.VersionNumber, 10))
	if err != nil {
		return row.Content
	}
	lastUpdated, err := json.Marshal(row.LastUpdated.UTC().Format(time.RFC3339))
	if err != nil {
		return row.Content
	}
	meta["versionId"] = versionID
	meta["lastUpdated"] = lastUpdated

	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return row.Content
	}
	doc["meta"] = metaRaw

	out, err := json.Marshal(doc)
	if err != nil {
		return row.Content
	}
	return out
}
