package icloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/frostpix/frostpix/internal/photos"
)

// photosServiceName is the key of the photo database endpoint in the
// account-setup service map.
const photosServiceName = "ckdatabasews"

// DefaultPageSize is the per-request record cap. The service's real
// limit is undocumented; 198 is an empirical accommodation that also
// divides evenly into master/asset pairs, so keep it tunable rather
// than assuming the backend will stay at this bound.
const DefaultPageSize = 198

const queryPath = "/database/1/com.apple.photos.cloud/production/private/records/query"

// PhotoService enumerates photo-library records through the paginated
// query endpoint, absorbing the API's quirks: overlapping page windows
// that repeat records, interleaved irrelevant record kinds, unknown
// album type codes and an unreliable count endpoint.
type PhotoService struct {
	client     *Client
	serviceURL string
	pageSize   int
	warn       WarningFunc
	logger     zerolog.Logger
}

func newPhotoService(client *Client, serviceURL string, pageSize int, warn WarningFunc, logger zerolog.Logger) *PhotoService {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if warn == nil {
		warn = func(w Warning) {
			logger.Warn().Str("kind", string(w.Kind)).Msg(w.Message)
		}
	}
	return &PhotoService{
		client:     client,
		serviceURL: serviceURL,
		pageSize:   pageSize,
		warn:       warn,
		logger:     logger,
	}
}

// query issues one page request. A 401 or 421 means the cookies went
// stale mid-sync and is reported as ErrSessionExpired for the retry
// layer to recover from.
func (p *PhotoService) query(ctx context.Context, body queryRequest) (*queryResponse, error) {
	req, err := p.client.NewRequest(ctx, http.MethodPost, p.serviceURL+queryPath, body)
	if err != nil {
		return nil, err
	}

	resp, respBody, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusMisdirectedRequest:
		return nil, fmt.Errorf("%w: query returned status %d", ErrSessionExpired, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: query returned status %d", ErrUnexpectedHTTPResponse, resp.StatusCode)
	}

	var parsed queryResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parsing query response: %w", err)
	}
	return &parsed, nil
}

// sweep runs the pagination loop for one query, invoking fn for every
// record not already seen in this sweep. Duplicate record identifiers
// from overlapping page windows are dropped, at most one copy survives.
func (p *PhotoService) sweep(ctx context.Context, q recordQuery, fn func(record)) error {
	seen := make(map[string]bool)
	marker := ""
	for {
		resp, err := p.query(ctx, queryRequest{
			Query:              q,
			ResultsLimit:       p.pageSize,
			ContinuationMarker: marker,
			ZoneID:             zoneID{ZoneName: "PrimarySync"},
		})
		if err != nil {
			return err
		}

		for _, rec := range resp.Records {
			if seen[rec.RecordName] {
				p.warn(Warning{WarnDuplicateRecordFiltered, fmt.Sprintf("duplicate record %s dropped", rec.RecordName)})
				continue
			}
			seen[rec.RecordName] = true
			fn(rec)
		}

		if resp.ContinuationMarker == "" || len(resp.Records) < p.pageSize {
			return nil
		}
		marker = resp.ContinuationMarker
	}
}

// ListAlbums enumerates every album and folder record in the library.
// Records with an unrecognized album type code are dropped with a
// low-severity warning rather than failing the sweep.
func (p *PhotoService) ListAlbums(ctx context.Context) ([]photos.Album, error) {
	var albums []photos.Album

	err := p.sweep(ctx, recordQuery{RecordType: albumQueryType}, func(rec record) {
		if rec.RecordType != recordTypeAlbum {
			p.warn(Warning{WarnIrrelevantRecordFiltered, fmt.Sprintf("record %s of kind %s dropped from album sweep", rec.RecordName, rec.RecordType)})
			return
		}

		typeCode := rec.intField("albumType")
		var albumType photos.AlbumType
		switch photos.AlbumType(typeCode) {
		case photos.TypeAlbum:
			albumType = photos.TypeAlbum
		case photos.TypeFolder:
			albumType = photos.TypeFolder
		default:
			p.warn(Warning{WarnUnknownAlbumType, fmt.Sprintf("album %s has unknown type code %d", rec.RecordName, typeCode)})
			return
		}

		albums = append(albums, photos.Album{
			ID:       rec.RecordName,
			Type:     albumType,
			Name:     rec.encodedField("albumNameEnc"),
			ParentID: rec.encodedField("parentId"),
			Assets:   map[string]string{},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing albums: %w", err)
	}

	p.logger.Debug().Int("albums", len(albums)).Msg("album sweep complete")
	return albums, nil
}

// ListAlbumAssets fetches the master/asset records of one album and
// matches them 1:1 by the asset's master reference, returning asset id
// to presented filename. Container-relation records are filtered out
// unconditionally. The realized counts are cross-checked against the
// expected counts from a prior count query; a mismatch is only a
// warning because the count endpoint itself is unreliable, and the
// realized set is used regardless. Pass -1 to skip a count check.
func (p *PhotoService) ListAlbumAssets(ctx context.Context, albumID string, expectedMasters, expectedAssets int) (map[string]string, error) {
	masters := make(map[string]string)       // master record id -> filename
	assetToMaster := make(map[string]string) // asset record id -> master record id

	q := recordQuery{
		RecordType: albumAssetQueryType,
		FilterBy: []recordFilter{{
			FieldName:  "parentId",
			Comparator: "EQUALS",
			FieldValue: fieldValue{Value: json.RawMessage(fmt.Sprintf("%q", albumID)), Type: "STRING"},
		}},
	}

	err := p.sweep(ctx, q, func(rec record) {
		switch rec.RecordType {
		case recordTypeMaster:
			masters[rec.RecordName] = rec.encodedField("filenameEnc")
		case recordTypeAsset:
			if ref := rec.refField("masterRef"); ref != "" {
				assetToMaster[rec.RecordName] = ref
			}
		case recordTypeContainerRelation:
			p.warn(Warning{WarnIrrelevantRecordFiltered, fmt.Sprintf("container relation %s dropped", rec.RecordName)})
		default:
			p.warn(Warning{WarnIrrelevantRecordFiltered, fmt.Sprintf("record %s of kind %s dropped from asset sweep", rec.RecordName, rec.RecordType)})
		}
	})
	if err != nil {
		return nil, fmt.Errorf("listing assets for album %s: %w", albumID, err)
	}

	if expectedMasters >= 0 && expectedMasters != len(masters) {
		p.warn(Warning{WarnCountMismatch, fmt.Sprintf("album %s: expected %d masters, got %d", albumID, expectedMasters, len(masters))})
	}
	if expectedAssets >= 0 && expectedAssets != len(assetToMaster) {
		p.warn(Warning{WarnCountMismatch, fmt.Sprintf("album %s: expected %d assets, got %d", albumID, expectedAssets, len(assetToMaster))})
	}

	assets := make(map[string]string, len(assetToMaster))
	for assetID, masterID := range assetToMaster {
		filename, ok := masters[masterID]
		if !ok {
			p.warn(Warning{WarnCountMismatch, fmt.Sprintf("asset %s references missing master %s", assetID, masterID)})
			continue
		}
		assets[assetID] = filename
	}
	return assets, nil
}

// AlbumCounts queries the separate count index for an album's master and
// asset totals. The endpoint is known to disagree with reality; callers
// treat the result as advisory.
func (p *PhotoService) AlbumCounts(ctx context.Context, albumID string) (masters, assets int, err error) {
	q := queryRequest{
		Query: recordQuery{
			RecordType: indexCountQueryType,
			FilterBy: []recordFilter{{
				FieldName:  "indexCountID",
				Comparator: "IN",
				FieldValue: fieldValue{
					Value: json.RawMessage(fmt.Sprintf(`["CPLAssetByAlbum:%s","CPLMasterByAlbum:%s"]`, albumID, albumID)),
					Type:  "STRING_LIST",
				},
			}},
		},
		ResultsLimit: 2,
		ZoneID:       zoneID{ZoneName: "PrimarySync"},
	}

	resp, err := p.query(ctx, q)
	if err != nil {
		return 0, 0, fmt.Errorf("counting album %s: %w", albumID, err)
	}

	masters, assets = -1, -1
	for _, rec := range resp.Records {
		count := rec.intField("itemCount")
		switch rec.stringField("indexCountID") {
		case "CPLMasterByAlbum:" + albumID:
			masters = count
		case "CPLAssetByAlbum:" + albumID:
			assets = count
		}
	}
	return masters, assets, nil
}
