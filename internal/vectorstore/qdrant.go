package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

const (
	postsCollection    = "threaddemand_posts"
	commentsCollection = "threaddemand_comments"
	vectorName         = "content"

	// upsertBatchSize bounds the points sent per Upsert call.
	upsertBatchSize = 100
)

// pointNamespace derives stable point ids from external ids, so writing the
// same row twice overwrites one point.
var pointNamespace = uuid.MustParse("6f1c3d4e-2b8a-4c55-9e0f-7a1d2c3b4e5f")

var ErrQdrantUnreachable = errors.New("qdrant unreachable")

// Marker records embedded markers in the relational store once the points
// are durable in Qdrant.
type Marker interface {
	MarkPostsEmbedded(ctx context.Context, ids, texts []string, at time.Time) error
	MarkCommentsEmbedded(ctx context.Context, ids []string, at time.Time) error
}

// QdrantOptions locates the Qdrant gRPC endpoint.
type QdrantOptions struct {
	Host      string
	Port      int
	Dimension int
}

// QdrantStore keeps vectors in two Qdrant collections. Markers are written
// to the relational store only after the upsert is acknowledged, so a
// failure between the two leaves a vector without a marker, never the
// reverse.
type QdrantStore struct {
	client    *qdrant.Client
	marker    Marker
	dimension int
}

// NewQdrantStore connects and waits for Qdrant to answer health checks.
func NewQdrantStore(ctx context.Context, opts QdrantOptions, marker Marker) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: opts.Host,
		Port: opts.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	s := &QdrantStore{client: client, marker: marker, dimension: opts.Dimension}
	if err := retry(ctx, func() error { return s.Health(ctx) }); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}
	return s, nil
}

// retry runs op with exponential backoff: 500ms initial, 10s max interval,
// 30s overall.
func retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

// Health performs a single health check against Qdrant.
func (s *QdrantStore) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureSchema creates both collections with cosine vectors at the
// configured dimension and keyword indexes on the filter fields.
func (s *QdrantStore) EnsureSchema(ctx context.Context) error {
	existing, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	have := map[string]bool{}
	for _, name := range existing {
		have[name] = true
	}

	for _, name := range []string{postsCollection, commentsCollection} {
		if have[name] {
			continue
		}
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
				vectorName: {
					Size:     uint64(s.dimension),
					Distance: qdrant.Distance_Cosine,
				},
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection %s: %w", name, err)
		}
		for _, field := range []string{"subreddit", "post_id"} {
			_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
				CollectionName: name,
				FieldName:      field,
				FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			})
			if err != nil {
				return fmt.Errorf("failed to create index for field %s: %w", field, err)
			}
		}
	}
	return nil
}

// PointID maps an external id of the given collection to its point UUID.
func PointID(collection, id string) string {
	return uuid.NewSHA1(pointNamespace, []byte(collection+"/"+id)).String()
}

func (s *QdrantStore) upsert(ctx context.Context, collection string, recs []Record) error {
	for i := 0; i < len(recs); i += upsertBatchSize {
		end := min(i+upsertBatchSize, len(recs))
		points := make([]*qdrant.PointStruct, 0, end-i)
		for _, r := range recs[i:end] {
			points = append(points, &qdrant.PointStruct{
				Id: qdrant.NewIDUUID(PointID(collection, r.ID)),
				Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
					vectorName: qdrant.NewVector(r.Vector...),
				}),
				Payload: qdrant.NewValueMap(map[string]any{
					"id":         r.ID,
					"post_id":    r.PostID,
					"subreddit":  r.Subreddit,
					"created_at": r.CreatedAt.Unix(),
				}),
			})
		}
		err := retry(ctx, func() error {
			_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: collection,
				Wait:           qdrant.PtrOf(true),
				Points:         points,
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

// WritePostVectors upserts the points and then sets embedded_at.
func (s *QdrantStore) WritePostVectors(ctx context.Context, recs []Record, at time.Time) error {
	if len(recs) == 0 {
		return nil
	}
	if err := checkDimensions(recs, s.dimension); err != nil {
		return err
	}
	if err := s.upsert(ctx, postsCollection, recs); err != nil {
		return err
	}
	texts := make([]string, len(recs))
	for i, r := range recs {
		texts[i] = r.Text
	}
	return s.marker.MarkPostsEmbedded(ctx, recordIDs(recs), texts, at)
}

// WriteCommentVectors upserts the points and then inserts the
// comment_embeddings rows.
func (s *QdrantStore) WriteCommentVectors(ctx context.Context, recs []Record, at time.Time) error {
	if len(recs) == 0 {
		return nil
	}
	if err := checkDimensions(recs, s.dimension); err != nil {
		return err
	}
	if err := s.upsert(ctx, commentsCollection, recs); err != nil {
		return err
	}
	return s.marker.MarkCommentsEmbedded(ctx, recordIDs(recs), at)
}

// MatchPosts queries the posts collection with a score threshold.
func (s *QdrantStore) MatchPosts(ctx context.Context, q MatchQuery) ([]Match, error) {
	return s.match(ctx, postsCollection, q)
}

// MatchComments queries the comments collection with a score threshold.
func (s *QdrantStore) MatchComments(ctx context.Context, q MatchQuery) ([]Match, error) {
	return s.match(ctx, commentsCollection, q)
}

func (s *QdrantStore) match(ctx context.Context, collection string, q MatchQuery) ([]Match, error) {
	if len(q.Vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d", errDimension, len(q.Vector), s.dimension)
	}
	if q.Limit <= 0 {
		return nil, nil
	}

	var filter *qdrant.Filter
	if q.Community != "" {
		filter = &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch("subreddit", q.Community)}}
	}

	var params *qdrant.SearchParams
	if q.Exact {
		params = &qdrant.SearchParams{Exact: qdrant.PtrOf(true)}
	}

	using := vectorName
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(q.Vector...),
		Using:          &using,
		Filter:         filter,
		Params:         params,
		ScoreThreshold: qdrant.PtrOf(float32(q.MinSimilarity)),
		Limit:          qdrant.PtrOf(uint64(q.Limit)),
		WithPayload:    qdrant.NewWithPayloadInclude("id"),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		id := r.Payload["id"].GetStringValue()
		if id == "" {
			continue
		}
		matches = append(matches, Match{ID: id, Similarity: float64(r.Score)})
	}
	return matches, nil
}

// EnsureIndex applies the HNSW parameters to both collections. Qdrant
// rebuilds its graph whenever they change, so Rebuild needs no extra step.
func (s *QdrantStore) EnsureIndex(ctx context.Context, p IndexParams) error {
	if err := p.validate(); err != nil {
		return err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}
	for _, name := range []string{postsCollection, commentsCollection} {
		err := s.client.UpdateCollection(ctx, &qdrant.UpdateCollection{
			CollectionName: name,
			HnswConfig: &qdrant.HnswConfigDiff{
				M:           qdrant.PtrOf(uint64(p.M)),
				EfConstruct: qdrant.PtrOf(uint64(p.EfConstruction)),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to update hnsw config of %s: %w", name, err)
		}
	}
	return nil
}

// Reset deletes both collections. EnsureSchema recreates them at the
// configured dimension.
func (s *QdrantStore) Reset(ctx context.Context) error {
	existing, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range existing {
		if name != postsCollection && name != commentsCollection {
			continue
		}
		if err := s.client.DeleteCollection(ctx, name); err != nil {
			return fmt.Errorf("failed to delete collection %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the Qdrant client connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func recordIDs(recs []Record) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids
}
