package icloud

import (
	"encoding/base64"
	"encoding/json"
)

// Record type codes seen in photo-library query responses.
const (
	recordTypeAlbum             = "CPLAlbum"
	recordTypeMaster            = "CPLMaster"
	recordTypeAsset             = "CPLAsset"
	recordTypeContainerRelation = "CPLContainerRelation"
)

// Query record types: the index the service resolves a query against.
const (
	albumQueryType      = "CPLAlbumByPositionLive"
	albumAssetQueryType = "CPLContainerRelationLiveByAssetDate"
	indexCountQueryType = "HyperionIndexCountLookup"
)

// queryRequest is the paginated query envelope.
type queryRequest struct {
	Query              recordQuery `json:"query"`
	ResultsLimit       int         `json:"resultsLimit"`
	ContinuationMarker string      `json:"continuationMarker,omitempty"`
	ZoneID             zoneID      `json:"zoneID"`
}

type recordQuery struct {
	RecordType string         `json:"recordType"`
	FilterBy   []recordFilter `json:"filterBy,omitempty"`
}

type recordFilter struct {
	FieldName  string     `json:"fieldName"`
	Comparator string     `json:"comparator"`
	FieldValue fieldValue `json:"fieldValue"`
}

type zoneID struct {
	ZoneName string `json:"zoneName"`
}

type fieldValue struct {
	Value json.RawMessage `json:"value"`
	Type  string          `json:"type,omitempty"`
}

type queryResponse struct {
	Records            []record `json:"records"`
	ContinuationMarker string   `json:"continuationMarker"`
}

// record is a single CPL record: a master image, asset variant, album or
// container relation, distinguished by RecordType.
type record struct {
	RecordName string                `json:"recordName"`
	RecordType string                `json:"recordType"`
	Fields     map[string]fieldValue `json:"fields"`
}

// stringField decodes a plain string field; missing fields decode as "".
func (r record) stringField(name string) string {
	fv, ok := r.Fields[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(fv.Value, &s); err != nil {
		return ""
	}
	return s
}

// encodedField decodes a base64-encoded string field, the encoding the
// service uses for user-supplied text like album names and filenames.
func (r record) encodedField(name string) string {
	raw := r.stringField(name)
	if raw == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return ""
	}
	return string(decoded)
}

// intField decodes a numeric field; missing fields decode as -1.
func (r record) intField(name string) int {
	fv, ok := r.Fields[name]
	if !ok {
		return -1
	}
	var n int
	if err := json.Unmarshal(fv.Value, &n); err != nil {
		return -1
	}
	return n
}

// refField decodes a record-reference field to the referenced record name.
func (r record) refField(name string) string {
	fv, ok := r.Fields[name]
	if !ok {
		return ""
	}
	var ref struct {
		RecordName string `json:"recordName"`
	}
	if err := json.Unmarshal(fv.Value, &ref); err != nil {
		return ""
	}
	return ref.RecordName
}
