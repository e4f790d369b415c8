package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/markdave123-py/papertrail/internal/core"
	"github.com/markdave123-py/papertrail/internal/logger"
	"github.com/markdave123-py/papertrail/internal/models"
)

var _ core.VectorStore = (*QdrantStore)(nil)

// pointNamespace seeds the deterministic UUIDs qdrant needs as point ids.
var pointNamespace = uuid.MustParse("6f1c2d0e-6b8a-4c55-9a57-3f0a1f1f9b21")

const upsertBatchSize = 100

// QdrantConfig holds connection settings for the qdrant gRPC API.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int
}

// QdrantStore stores vectors as qdrant points. The string key lives in the
// payload; the point id is a UUIDv5 derived from it.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dim        int
	log        *zap.Logger
}

// NewQdrantStore connects, health-checks with backoff and ensures the collection.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig, log *zap.Logger) (*QdrantStore, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("qdrant store needs a positive dimension, got %d", cfg.Dimension)
	}
	if cfg.Collection == "" {
		cfg.Collection = "papertrail"
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	s := &QdrantStore{
		client:     client,
		collection: cfg.Collection,
		dim:        cfg.Dimension,
		log:        logger.Component(log, "qdrant"),
	}
	if err := s.healthCheckWithRetry(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrVectorStoreUnreachable, err)
	}
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) healthCheckWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		res, err := s.client.HealthCheck(ctx)
		if err != nil {
			return err
		}
		if res == nil || res.GetTitle() == "" {
			return fmt.Errorf("health check returned invalid response")
		}
		return nil
	}, backoff.WithContext(b, ctx))
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	for _, field := range []string{"document_id", "level", "key"} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}
	s.log.Info("Qdrant: created collection", zap.String("collection", s.collection), zap.Int("dim", s.dim))
	return nil
}

func pointID(key string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(pointNamespace, []byte(key)).String())
}

func (s *QdrantStore) Upsert(ctx context.Context, records []models.VectorRecord) error {
	for i, r := range records {
		if len(r.Vector) != s.dim {
			return fmt.Errorf("%w: record %d has %d dimensions, expected %d", ErrDimensionMismatch, i, len(r.Vector), s.dim)
		}
	}

	for i := 0; i < len(records); i += upsertBatchSize {
		end := min(i+upsertBatchSize, len(records))
		points := make([]*qdrant.PointStruct, 0, end-i)
		for _, r := range records[i:end] {
			points = append(points, &qdrant.PointStruct{
				Id:      pointID(r.ID),
				Vectors: qdrant.NewVectors(r.Vector...),
				Payload: qdrant.NewValueMap(map[string]any{
					"key":         r.ID,
					"document_id": r.DocumentID,
					"level":       string(r.Level),
					"page_number": r.PageNumber,
					"chunk_index": r.ChunkIndex,
					"key_version": KeyVersion,
				}),
			})
		}
		if err := s.upsertWithRetry(ctx, points); err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

func (s *QdrantStore) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 20 * time.Second

	return backoff.Retry(func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	}, backoff.WithContext(b, ctx))
}

func (s *QdrantStore) DeleteByDocument(ctx context.Context, documentID string, levels ...models.VectorLevel) error {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("document_id", documentID),
			qdrant.NewMatchKeywords("level", levelStrings(levelsOrAll(levels))...),
		},
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelectorFilter(filter),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("failed to delete vectors of %s: %w", documentID, err)
	}
	return nil
}

func (s *QdrantStore) Query(ctx context.Context, vector []float32, filter models.VectorFilter, k int) ([]models.VectorHit, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(vector) != s.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d", ErrDimensionMismatch, len(vector), s.dim)
	}

	var must []*qdrant.Condition
	if filter.DocumentID != "" {
		must = append(must, qdrant.NewMatch("document_id", filter.DocumentID))
	}
	if len(filter.Levels) > 0 {
		must = append(must, qdrant.NewMatchKeywords("level", levelStrings(filter.Levels)...))
	}
	req := &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	}
	if len(must) > 0 {
		req.Filter = &qdrant.Filter{Must: must}
	}

	results, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}

	hits := make([]models.VectorHit, 0, len(results))
	for _, r := range results {
		p := r.Payload
		hits = append(hits, models.VectorHit{
			ID:         p["key"].GetStringValue(),
			DocumentID: p["document_id"].GetStringValue(),
			Level:      models.VectorLevel(p["level"].GetStringValue()),
			PageNumber: int(p["page_number"].GetIntegerValue()),
			ChunkIndex: int(p["chunk_index"].GetIntegerValue()),
			Score:      r.Score,
		})
	}
	return hits, nil
}

func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
