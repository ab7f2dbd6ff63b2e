package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/recallgraph/recalld/internal/fingerprint"
	"github.com/recallgraph/recalld/internal/models"
)

const (
	qdrantDialTimeout  = 10 * time.Second
	qdrantReadTimeout  = 10 * time.Second
	qdrantWriteTimeout = 30 * time.Second
)

func withTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, d)
}

// QdrantStore implements Store using Qdrant's gRPC API.
type QdrantStore struct {
	conn       *grpc.ClientConn
	points     pb.PointsClient
	collection pb.CollectionsClient
	collName   string
	dimension  uint64
	logger     *slog.Logger
}

// NewQdrantStore creates a new Qdrant store connection.
func NewQdrantStore(host string, port int, collection string, dimension uint64, useTLS bool, logger *slog.Logger) (*QdrantStore, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	opts := []grpc.DialOption{}
	if !useTLS {
		logger.Warn("Qdrant connection using insecure credentials (no TLS)")
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to Qdrant at %s: %w", addr, err)
	}

	// Verify the connection with a lightweight RPC.
	dialCtx, dialCancel := context.WithTimeout(context.Background(), qdrantDialTimeout)
	defer dialCancel()
	if _, err := pb.NewCollectionsClient(conn).List(dialCtx, &pb.ListCollectionsRequest{}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("verifying Qdrant connection at %s: %w", addr, err)
	}

	logger.Info("connected to Qdrant", "addr", addr, "collection", collection)

	return &QdrantStore{
		conn:       conn,
		points:     pb.NewPointsClient(conn),
		collection: pb.NewCollectionsClient(conn),
		collName:   collection,
		dimension:  dimension,
		logger:     logger,
	}, nil
}

// EnsureCollection creates the collection and its payload indexes if missing.
func (q *QdrantStore) EnsureCollection(ctx context.Context) error {
	rctx, rcancel := withTimeout(ctx, qdrantReadTimeout)
	defer rcancel()
	resp, err := q.collection.List(rctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("listing collections: %w", err)
	}
	for _, c := range resp.GetCollections() {
		if c.GetName() == q.collName {
			q.logger.Info("collection already exists", "name", q.collName)
			return nil
		}
	}

	wctx, wcancel := withTimeout(ctx, qdrantWriteTimeout)
	defer wcancel()
	_, err = q.collection.Create(wctx, &pb.CreateCollection{
		CollectionName: q.collName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     q.dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", q.collName, err)
	}

	q.logger.Info("created collection", "name", q.collName, "dimension", q.dimension)

	// Payload indexes for every filterable field.
	indexFields := []string{"scope_hash", "status", "category", "tags"}
	for _, field := range indexFields {
		ictx, icancel := withTimeout(ctx, qdrantWriteTimeout)
		_, err := q.points.CreateFieldIndex(ictx, &pb.CreateFieldIndexCollection{
			CollectionName: q.collName,
			FieldName:      field,
			FieldType:      pb.FieldType_FieldTypeKeyword.Enum(),
		})
		icancel()
		if err != nil {
			q.logger.Warn("creating field index", "field", field, "error", err)
		}
	}
	return nil
}

// Upsert writes a record and its vector. The record ID doubles as the point
// UUID and as the embedding reference.
func (q *QdrantStore) Upsert(ctx context.Context, record models.MemoryRecord, vector []float32) (string, error) {
	ctx, cancel := withTimeout(ctx, qdrantWriteTimeout)
	defer cancel()

	payload, err := recordToPayload(record)
	if err != nil {
		return "", err
	}

	_, err = q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collName,
		Points: []*pb.PointStruct{
			{
				Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: record.ID}},
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}},
				},
				Payload: payload,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("upserting point %s: %w", record.ID, err)
	}

	q.logger.Debug("upserted record", "id", record.ID, "category", record.Category)
	return record.ID, nil
}

// SetRecord replaces the payload of an existing point, keeping its vector.
func (q *QdrantStore) SetRecord(ctx context.Context, record models.MemoryRecord) error {
	ctx, cancel := withTimeout(ctx, qdrantWriteTimeout)
	defer cancel()

	payload, err := recordToPayload(record)
	if err != nil {
		return err
	}

	_, err = q.points.SetPayload(ctx, &pb.SetPayloadPoints{
		CollectionName: q.collName,
		PointsSelector: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: record.ID}}},
				},
			},
		},
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("setting payload for %s: %w", record.ID, err)
	}
	return nil
}

// Delete removes a point by ID. The scope guard is enforced by reading first.
func (q *QdrantStore) Delete(ctx context.Context, scope models.Scope, id string) error {
	if _, err := q.Get(ctx, scope, id); err != nil {
		return err
	}

	ctx, cancel := withTimeout(ctx, qdrantWriteTimeout)
	defer cancel()
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collName,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting point %s: %w", id, err)
	}

	q.logger.Debug("deleted record", "id", id)
	return nil
}

// Get retrieves a single record by ID within a scope.
func (q *QdrantStore) Get(ctx context.Context, scope models.Scope, id string) (*models.MemoryRecord, error) {
	ctx, cancel := withTimeout(ctx, qdrantReadTimeout)
	defer cancel()
	resp, err := q.points.Get(ctx, &pb.GetPoints{
		CollectionName: q.collName,
		Ids:            []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("getting point %s: %w", id, err)
	}
	if len(resp.GetResult()) == 0 {
		return nil, ErrNotFound
	}

	rec, err := payloadToRecord(resp.GetResult()[0].GetPayload())
	if err != nil {
		return nil, err
	}
	// A point fetched by ID must still belong to the caller's scope.
	if rec.Scope.Canonical() != scope.Canonical() {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Search finds the k nearest records in the scope matching the filter.
func (q *QdrantStore) Search(ctx context.Context, scope models.Scope, vector []float32, k uint64, filters *models.SearchFilters) ([]Hit, error) {
	ctx, cancel := withTimeout(ctx, qdrantReadTimeout)
	defer cancel()

	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collName,
		Vector:         vector,
		Limit:          k,
		Filter:         buildFilter(scope, filters),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}

	hits := make([]Hit, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		rec, err := payloadToRecord(point.GetPayload())
		if err != nil {
			q.logger.Warn("parsing search result", "error", err)
			continue
		}
		hits = append(hits, Hit{
			ID:     rec.ID,
			Score:  float64(point.GetScore()),
			Record: *rec,
		})
	}
	return hits, nil
}

// List pages through the scope via Scroll.
func (q *QdrantStore) List(ctx context.Context, scope models.Scope, filters *models.SearchFilters, limit uint64, cursor string) ([]models.MemoryRecord, string, error) {
	ctx, cancel := withTimeout(ctx, qdrantReadTimeout)
	defer cancel()

	limit32 := uint32(limit)
	req := &pb.ScrollPoints{
		CollectionName: q.collName,
		Filter:         buildFilter(scope, filters),
		Limit:          &limit32,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if cursor != "" {
		req.Offset = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: cursor}}
	}

	resp, err := q.points.Scroll(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("scrolling points: %w", err)
	}

	records := make([]models.MemoryRecord, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		rec, err := payloadToRecord(point.GetPayload())
		if err != nil {
			q.logger.Warn("parsing list result", "error", err)
			continue
		}
		records = append(records, *rec)
	}

	var nextCursor string
	if npo := resp.GetNextPageOffset(); npo != nil {
		nextCursor = npo.GetUuid()
	}
	return records, nextCursor, nil
}

// Scopes enumerates every distinct scope in the collection by scrolling all
// points without a scope filter. This backs the operator-wide audit and is
// the one deliberately unscoped read.
func (q *QdrantStore) Scopes(ctx context.Context) ([]models.Scope, error) {
	seen := make(map[string]models.Scope)
	limit32 := uint32(256)
	var offset *pb.PointId
	for {
		scrollCtx, cancel := withTimeout(ctx, qdrantReadTimeout)
		resp, err := q.points.Scroll(scrollCtx, &pb.ScrollPoints{
			CollectionName: q.collName,
			Limit:          &limit32,
			Offset:         offset,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("scrolling scopes: %w", err)
		}
		for _, point := range resp.GetResult() {
			rec, err := payloadToRecord(point.GetPayload())
			if err != nil {
				q.logger.Warn("parsing scope scan result", "error", err)
				continue
			}
			seen[rec.Scope.Canonical()] = rec.Scope
		}
		npo := resp.GetNextPageOffset()
		if npo == nil {
			break
		}
		offset = npo
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	scopes := make([]models.Scope, 0, len(keys))
	for _, key := range keys {
		scopes = append(scopes, seen[key])
	}
	return scopes, nil
}

// Close releases the gRPC connection.
func (q *QdrantStore) Close() error {
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// --- helpers ---

// recordToPayload serializes the full record as JSON alongside the keyword
// fields Qdrant can filter on.
func recordToPayload(rec models.MemoryRecord) (map[string]*pb.Value, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshaling record %s: %w", rec.ID, err)
	}

	payload := map[string]*pb.Value{
		"record":     {Kind: &pb.Value_StringValue{StringValue: string(raw)}},
		"scope_hash": {Kind: &pb.Value_StringValue{StringValue: fingerprint.ScopeHash(rec.Scope)}},
		"status":     {Kind: &pb.Value_StringValue{StringValue: string(rec.Status)}},
		"category":   {Kind: &pb.Value_StringValue{StringValue: string(rec.Category)}},
		"confidence": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(rec.Confidence)}},
	}
	if len(rec.Tags) > 0 {
		tagValues := make([]*pb.Value, len(rec.Tags))
		for i, tag := range rec.Tags {
			tagValues[i] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tag}}
		}
		payload["tags"] = &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: tagValues}}}
	}
	return payload, nil
}

func payloadToRecord(payload map[string]*pb.Value) (*models.MemoryRecord, error) {
	raw := ""
	if v, ok := payload["record"]; ok {
		raw = v.GetStringValue()
	}
	if raw == "" {
		return nil, fmt.Errorf("point payload missing record field")
	}
	var rec models.MemoryRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling record payload: %w", err)
	}
	return &rec, nil
}

// buildFilter always pins the scope; the quality filter fields are optional.
func buildFilter(scope models.Scope, f *models.SearchFilters) *pb.Filter {
	conditions := []*pb.Condition{keywordCondition("scope_hash", fingerprint.ScopeHash(scope))}

	if f != nil {
		if f.Category != "" {
			conditions = append(conditions, keywordCondition("category", string(f.Category)))
		}
		if f.Tag != "" {
			conditions = append(conditions, keywordCondition("tags", f.Tag))
		}
		if len(f.Statuses) == 1 {
			conditions = append(conditions, keywordCondition("status", string(f.Statuses[0])))
		}
		if f.MinConfidence > 0 {
			gte := float64(f.MinConfidence)
			conditions = append(conditions, &pb.Condition{
				ConditionOneOf: &pb.Condition_Field{
					Field: &pb.FieldCondition{
						Key:   "confidence",
						Range: &pb.Range{Gte: &gte},
					},
				},
			})
		}
	}
	return &pb.Filter{Must: conditions}
}

func keywordCondition(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}
