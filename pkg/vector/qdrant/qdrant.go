// Package qdrant provides a Qdrant-backed vector driver over gRPC.
package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/spoolhq/spool/pkg/vector"
)

// Driver implements vector.Driver against a Qdrant instance.
type Driver struct {
	conn       *grpc.ClientConn
	points     pb.PointsClient
	collection string
	logger     *slog.Logger
}

// Config holds configuration for the Qdrant driver.
type Config struct {
	// Address is the host:port of the Qdrant gRPC endpoint.
	Address string

	// APIKey, when set, is sent as per-RPC metadata.
	APIKey string

	// UseTLS enables transport security.
	UseTLS bool

	// Dimensions is the number of dimensions of the embedding vectors.
	Dimensions uint

	// Model is the embedding model identifier; it versions the collection
	// name so vectors from different models are never mixed.
	Model string
}

// NewDriver connects to Qdrant and ensures the collection exists.
func NewDriver(ctx context.Context, c Config, logger *slog.Logger) (*Driver, error) {
	if c.Address == "" {
		return nil, fmt.Errorf("qdrant address is required")
	}
	if c.Dimensions == 0 {
		return nil, fmt.Errorf("embedding dimensions cannot be 0, must be configured")
	}
	if c.Model == "" {
		return nil, fmt.Errorf("embedding model identifier is required")
	}

	conn, err := grpc.NewClient(c.Address, dialOptions(c)...)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to qdrant: %v", vector.ErrConnection, err)
	}

	d := &Driver{
		conn:       conn,
		points:     pb.NewPointsClient(conn),
		collection: collectionName(c.Model, c.Dimensions),
		logger:     logger,
	}

	if err := d.ensureCollection(ctx, c.Dimensions); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info("qdrant vector driver initialized",
		"address", c.Address,
		"collection", d.collection,
		"dimensions", c.Dimensions,
	)

	return d, nil
}

func collectionName(model string, dimensions uint) string {
	tag := strings.NewReplacer("/", "-", " ", "-", "_", "-", ":", "-").Replace(strings.ToLower(model))
	return fmt.Sprintf("spool-abbreviations_%s-%d", tag, dimensions)
}

func (d *Driver) ensureCollection(ctx context.Context, dimensions uint) error {
	collections := pb.NewCollectionsClient(d.conn)

	_, err := collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: d.collection})
	if err == nil {
		return nil
	}

	_, err = collections.Create(ctx, &pb.CreateCollection{
		CollectionName: d.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dimensions),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: creating collection %s: %v", vector.ErrConnection, d.collection, err)
	}

	d.logger.Info("created qdrant collection", "collection", d.collection)
	return nil
}

// Upsert stores documents, replacing existing vectors for the same
// conversation. Conversation ids double as point ids.
func (d *Driver) Upsert(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(docs))
	for i, doc := range docs {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: doc.ConversationID}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: doc.Embedding},
				},
			},
			Payload: map[string]*pb.Value{
				"conversation_id": {Kind: &pb.Value_StringValue{StringValue: doc.ConversationID}},
			},
		}
	}

	_, err := d.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: d.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upserting points: %w", err)
	}

	d.logger.Debug("upserted documents to qdrant", "count", len(docs))

	return nil
}

// Query finds the topK conversations most similar to the embedding.
func (d *Driver) Query(ctx context.Context, embedding []float32, topK int) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	resp, err := d.points.Search(ctx, &pb.SearchPoints{
		CollectionName: d.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("searching points: %w", err)
	}

	var results []vector.QueryResult
	for _, pt := range resp.GetResult() {
		id := pt.GetPayload()["conversation_id"].GetStringValue()
		if id == "" {
			id = pt.GetId().GetUuid()
		}
		results = append(results, vector.QueryResult{
			Document: vector.Document{ConversationID: id},
			Score:    pt.GetScore(),
		})
	}

	return results, nil
}

// Delete removes documents by conversation id.
func (d *Driver) Delete(ctx context.Context, conversationIDs []string) error {
	if len(conversationIDs) == 0 {
		return nil
	}

	ids := make([]*pb.PointId, len(conversationIDs))
	for i, id := range conversationIDs {
		ids[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
	}

	_, err := d.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: d.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: ids},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting points: %w", err)
	}

	return nil
}

// Count reports the number of stored documents.
func (d *Driver) Count(ctx context.Context) (int, error) {
	exact := true
	resp, err := d.points.Count(ctx, &pb.CountPoints{
		CollectionName: d.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("counting points: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// Close releases the gRPC connection.
func (d *Driver) Close() error {
	return d.conn.Close()
}

func dialOptions(c Config) []grpc.DialOption {
	opts := make([]grpc.DialOption, 0, 2)
	if c.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(nil)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if strings.TrimSpace(c.APIKey) != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(apiKeyCredentials{
			apiKey:     c.APIKey,
			requireTLS: c.UseTLS,
		}))
	}
	return opts
}

type apiKeyCredentials struct {
	apiKey     string
	requireTLS bool
}

func (a apiKeyCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"api-key": a.apiKey}, nil
}

func (a apiKeyCredentials) RequireTransportSecurity() bool {
	return a.requireTLS
}
