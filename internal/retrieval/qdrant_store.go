package retrieval

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/bookrag/bookrag/internal/types"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// QdrantConfig configures the Qdrant-backed QdrantStore.
type QdrantConfig struct {
	Host       string
	GRPCPort   int
	Collection string
	APIKey     string
	UseTLS     bool
}

// QdrantStore is an optional, pluggable replacement for the default
// on-disk BookIndex file, for deployments that want the index centralized
// in an external vector database instead of per-book JSON. It holds one
// point per chunk, payload carrying {book, chunk_id, text}. A QdrantStore
// is consumed through the Searcher interface via QdrantSearcher, selected
// by RETRIEVER_BACKEND=qdrant; the on-disk file remains the default per
// the index file layout contract.
type QdrantStore struct {
	cfg    QdrantConfig
	conn   *grpc.ClientConn
	points pb.PointsClient
}

// NewQdrantStore dials the configured Qdrant instance.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("qdrant: host is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant: collection is required")
	}
	if cfg.GRPCPort <= 0 {
		cfg.GRPCPort = 6334
	}

	var opts []grpc.DialOption
	if cfg.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.GRPCPort)
	conn, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("qdrant: dial %s: %w", addr, err)
	}

	return &QdrantStore{
		cfg:    cfg,
		conn:   conn,
		points: pb.NewPointsClient(conn),
	}, nil
}

// Search finds the topK chunks of book nearest to queryEmbedding.
func (s *QdrantStore) Search(ctx context.Context, book string, queryEmbedding []float32, topK int) ([]Result, error) {
	if len(queryEmbedding) == 0 {
		return nil, fmt.Errorf("qdrant: empty query embedding")
	}
	if topK <= 0 {
		topK = 10
	}
	if s.cfg.APIKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", s.cfg.APIKey)
	}

	vector := make([]float32, len(queryEmbedding))
	copy(vector, queryEmbedding)

	searchReq := &pb.SearchPoints{
		CollectionName: s.cfg.Collection,
		Vector:         vector,
		Limit:          uint64(topK),
		Filter: &pb.Filter{
			Must: []*pb.Condition{{
				ConditionOneOf: &pb.Condition_Field{
					Field: &pb.FieldCondition{
						Key:   "book",
						Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: book}},
					},
				},
			}},
		},
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}

	resp, err := s.points.Search(ctx, searchReq)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	results := make([]Result, 0, len(resp.Result))
	for _, point := range resp.Result {
		var chunkID uint32
		var text string
		if point.Payload != nil {
			if cid, ok := convertQdrantValue(point.Payload["chunk_id"]).(int64); ok {
				chunkID = uint32(cid)
			}
			if t, ok := convertQdrantValue(point.Payload["text"]).(string); ok {
				text = t
			}
		}
		results = append(results, Result{
			Chunk:       types.NewChunk(chunkID, text),
			Score:       float64(point.Score),
			VectorScore: float64(point.Score),
			Method:      "vector",
		})
	}
	return results, nil
}

// QdrantSearcher adapts a QdrantStore to the Searcher interface selected
// by RETRIEVER_BACKEND=qdrant. Qdrant's collection already holds
// precomputed vectors per chunk, so there is no lexical axis here: the
// query string and keywordWeight are accepted for interface parity with
// FileSearcher but unused, and the returned Results carry a vector-only
// score (Method "vector").
type QdrantSearcher struct {
	Store *QdrantStore
}

// Search finds the topK chunks of book (by stem) nearest to
// queryEmbedding in the configured Qdrant collection.
func (q *QdrantSearcher) Search(ctx context.Context, book, _ string, queryEmbedding []float32, topK int, _ float64) ([]Result, error) {
	return q.Store.Search(ctx, book, queryEmbedding, topK)
}

// Close releases the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func convertQdrantValue(v *pb.Value) interface{} {
	if v == nil {
		return nil
	}
	switch val := v.Kind.(type) {
	case *pb.Value_IntegerValue:
		return val.IntegerValue
	case *pb.Value_StringValue:
		return val.StringValue
	case *pb.Value_DoubleValue:
		return val.DoubleValue
	case *pb.Value_BoolValue:
		return val.BoolValue
	default:
		return nil
	}
}
