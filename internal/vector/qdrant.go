package vector

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/hyperjump/callscope/internal/config"
	"github.com/hyperjump/callscope/internal/models"
	"github.com/hyperjump/callscope/pkg/utils"
)

// Payload keys stored on every Qdrant point.
const (
	fieldTranscriptID   = "transcript_id"
	fieldText           = "text"
	fieldSearchText     = "search_text"
	fieldEmbeddingModel = "embedding_model"
	fieldIndexedAt      = "indexed_at"
	fieldMetadata       = "metadata"
)

const (
	scrollPageSize  = 256
	getBatchSize    = 256
	upsertBatchSize = 256
)

var tracer = otel.Tracer("github.com/hyperjump/callscope/internal/vector")

// pointsAPI is the subset of pb.PointsClient the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
	Get(ctx context.Context, in *pb.GetPoints, opts ...grpc.CallOption) (*pb.GetResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient the store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	UpdateAliases(ctx context.Context, in *pb.ChangeAliases, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	ListAliases(ctx context.Context, in *pb.ListAliasesRequest, opts ...grpc.CallOption) (*pb.ListAliasesResponse, error)
}

// QdrantStore is a Store backed by a Qdrant collection over gRPC. Point ids are UUIDs
// derived from the transcript id; the transcript id itself lives in the payload.
//
// The configured collection name is an alias onto a versioned collection, which lets
// ReplaceAll fill a fresh collection and switch the alias in one step.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	timeout     time.Duration
	logger      *zap.Logger
}

// NewQdrantStore connects to Qdrant. The connection is lazy: an unreachable server
// surfaces on the first call, not here.
func NewQdrantStore(cfg config.QdrantConfig, collection string, logger *zap.Logger) (*QdrantStore, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	creds := insecure.NewCredentials()
	if cfg.UseTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if cfg.APIKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial qdrant %s: %w", addr, err)
	}
	s := newQdrantStoreWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection, cfg.Timeout, logger)
	s.conn = conn
	return s, nil
}

func newQdrantStoreWithClients(points pointsAPI, collections collectionsAPI, collection string, timeout time.Duration, logger *zap.Logger) *QdrantStore {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &QdrantStore{
		points:      points,
		collections: collections,
		collection:  collection,
		timeout:     timeout,
		logger:      utils.OrNop(logger),
	}
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// PointID maps a transcript id to its stable Qdrant point id.
func PointID(transcriptID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("callscope/transcript/"+transcriptID)).String()
}

func (q *QdrantStore) Backend() string    { return config.BackendQdrant }
func (q *QdrantStore) Collection() string { return q.collection }

func (q *QdrantStore) call(ctx context.Context, op string) (context.Context, func()) {
	ctx, span := tracer.Start(ctx, "qdrant."+op)
	span.SetAttributes(attribute.String("qdrant.collection", q.collection))
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	return ctx, func() {
		cancel()
		span.End()
	}
}

// wrap maps gRPC failures onto the store error taxonomy.
func (q *QdrantStore) wrap(op string, err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return &models.StoreUnavailableError{Store: "qdrant", Err: err}
	}
	return &models.ExternalServiceError{Service: "qdrant", Op: op, Err: err}
}

func (q *QdrantStore) exists(ctx context.Context) (bool, error) {
	ok, err := q.hasCollection(ctx, q.collection)
	if err != nil || ok {
		return ok, err
	}
	target, err := q.aliasTarget(ctx)
	return target != "", err
}

func (q *QdrantStore) hasCollection(ctx context.Context, name string) (bool, error) {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return false, err
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == name {
			return true, nil
		}
	}
	return false, nil
}

// aliasTarget returns the collection the alias points at, or "" if there is no alias.
func (q *QdrantStore) aliasTarget(ctx context.Context) (string, error) {
	resp, err := q.collections.ListAliases(ctx, &pb.ListAliasesRequest{})
	if err != nil {
		return "", err
	}
	for _, a := range resp.GetAliases() {
		if a.GetAliasName() == q.collection {
			return a.GetCollectionName(), nil
		}
	}
	return "", nil
}

func (q *QdrantStore) nextVersion() string {
	return fmt.Sprintf("%s_v%d", q.collection, time.Now().UnixNano())
}

func (q *QdrantStore) create(ctx context.Context, name string, dims int) error {
	_, err := q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	return err
}

func (q *QdrantStore) drop(ctx context.Context, name string) error {
	_, err := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name})
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

// pointAlias moves the alias onto name. Qdrant applies the actions of one request
// atomically. A plain collection that holds the alias name has to be deleted first.
func (q *QdrantStore) pointAlias(ctx context.Context, name string) (previous string, err error) {
	previous, err = q.aliasTarget(ctx)
	if err != nil {
		return "", err
	}
	var actions []*pb.AliasOperations
	if previous != "" {
		actions = append(actions, &pb.AliasOperations{Action: &pb.AliasOperations_DeleteAlias{
			DeleteAlias: &pb.DeleteAlias{AliasName: q.collection},
		}})
	} else if err := q.drop(ctx, q.collection); err != nil {
		return "", err
	}
	actions = append(actions, &pb.AliasOperations{Action: &pb.AliasOperations_CreateAlias{
		CreateAlias: &pb.CreateAlias{CollectionName: name, AliasName: q.collection},
	}})
	_, err = q.collections.UpdateAliases(ctx, &pb.ChangeAliases{Actions: actions})
	return previous, err
}

// EnsureCollection creates a cosine-distance collection behind the alias if neither
// exists.
func (q *QdrantStore) EnsureCollection(ctx context.Context, dims int) error {
	ctx, done := q.call(ctx, "ensure_collection")
	defer done()
	ok, err := q.exists(ctx)
	if err != nil {
		return q.wrap("list collections", err)
	}
	if ok {
		return nil
	}
	name := q.nextVersion()
	if err := q.create(ctx, name, dims); err != nil {
		return q.wrap("create collection", err)
	}
	if _, err := q.pointAlias(ctx, name); err != nil {
		return q.wrap("create alias", err)
	}
	q.logger.Info("Created qdrant collection",
		zap.String("collection", name),
		zap.String("alias", q.collection),
		zap.Int("dimensions", dims))
	return nil
}

// ReplaceAll fills a new versioned collection and then switches the alias to it. Until
// the switch, readers keep seeing the previous collection; on failure the new one is
// deleted and the alias is left alone.
func (q *QdrantStore) ReplaceAll(ctx context.Context, dims int, points []*models.IndexPoint) error {
	ctx, span := tracer.Start(ctx, "qdrant.replace_all")
	defer span.End()
	name := q.nextVersion()
	span.SetAttributes(attribute.String("qdrant.collection", q.collection), attribute.String("qdrant.version", name))

	if err := q.rpc(ctx, func(ctx context.Context) error { return q.create(ctx, name, dims) }); err != nil {
		return q.wrap("create collection", err)
	}
	for start := 0; start < len(points); start += upsertBatchSize {
		batch := points[start:min(start+upsertBatchSize, len(points))]
		if err := q.rpc(ctx, func(ctx context.Context) error { return q.upsertInto(ctx, name, batch) }); err != nil {
			q.discard(ctx, name)
			return q.wrap(fmt.Sprintf("upsert %d points", len(batch)), err)
		}
	}
	var previous string
	err := q.rpc(ctx, func(ctx context.Context) (err error) {
		previous, err = q.pointAlias(ctx, name)
		return err
	})
	if err != nil {
		q.discard(ctx, name)
		return q.wrap("switch alias", err)
	}
	if previous != "" {
		q.discard(ctx, previous)
	}
	q.logger.Info("Replaced qdrant collection",
		zap.String("alias", q.collection),
		zap.String("collection", name),
		zap.String("previous", previous),
		zap.Int("points", len(points)))
	return nil
}

// discard deletes a collection that is no longer reachable through the alias. A failure
// is logged and leaves an orphan collection.
func (q *QdrantStore) discard(ctx context.Context, name string) {
	err := q.rpc(context.WithoutCancel(ctx), func(ctx context.Context) error { return q.drop(ctx, name) })
	if err != nil {
		q.logger.Warn("Failed to delete qdrant collection", zap.String("collection", name), zap.Error(err))
	}
}

func (q *QdrantStore) rpc(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	return fn(ctx)
}

// Upsert writes points and waits until Qdrant has applied them, so they are visible to
// queries as soon as the call returns.
func (q *QdrantStore) Upsert(ctx context.Context, points []*models.IndexPoint) error {
	if len(points) == 0 {
		return nil
	}
	ctx, done := q.call(ctx, "upsert")
	defer done()
	if err := q.upsertInto(ctx, q.collection, points); err != nil {
		return q.wrap(fmt.Sprintf("upsert %d points", len(points)), err)
	}
	return nil
}

func (q *QdrantStore) upsertInto(ctx context.Context, collection string, points []*models.IndexPoint) error {
	structs := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		structs[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(p.ID)}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}},
			},
			Payload: encodePayload(p),
		}
	}
	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         structs,
	})
	return err
}

// QueryByVector asks Qdrant for twice topN neighbours so that equal scores at the cut
// can be re-ordered by id before truncating.
func (q *QdrantStore) QueryByVector(ctx context.Context, vector []float32, topN int) ([]models.ScoredID, error) {
	if topN <= 0 {
		return nil, nil
	}
	ctx, done := q.call(ctx, "search")
	defer done()
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(topN * 2),
		WithPayload:    includeFields(fieldTranscriptID),
	})
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, q.wrap("search", err)
	}
	hits := make([]models.ScoredID, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		id := r.GetPayload()[fieldTranscriptID].GetStringValue()
		if id == "" {
			continue
		}
		hits = append(hits, models.ScoredID{ID: id, Score: utils.ClampUnit(float64(r.GetScore()))})
	}
	models.SortScored(hits)
	if len(hits) > topN {
		hits = hits[:topN]
	}
	return hits, nil
}

// QueryByKeyword scrolls every point whose lower-cased search text contains term. The
// collection has no full-text index on search_text, so Qdrant applies the text match
// as a plain substring test.
func (q *QdrantStore) QueryByKeyword(ctx context.Context, term string, topN int) ([]string, error) {
	term = strings.ToLower(term)
	if topN <= 0 || term == "" {
		return nil, nil
	}
	ctx, done := q.call(ctx, "scroll")
	defer done()

	filter := &pb.Filter{Must: []*pb.Condition{{
		ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
			Key:   fieldSearchText,
			Match: &pb.Match{MatchValue: &pb.Match_Text{Text: term}},
		}},
	}}}
	limit := uint32(scrollPageSize)
	var ids []string
	var offset *pb.PointId
	for {
		resp, err := q.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: q.collection,
			Filter:         filter,
			Offset:         offset,
			Limit:          &limit,
			WithPayload:    includeFields(fieldTranscriptID),
		})
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		if err != nil {
			return nil, q.wrap("scroll", err)
		}
		for _, r := range resp.GetResult() {
			if id := r.GetPayload()[fieldTranscriptID].GetStringValue(); id != "" {
				ids = append(ids, id)
			}
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			break
		}
	}
	sort.Strings(ids)
	if len(ids) > topN {
		ids = ids[:topN]
	}
	return ids, nil
}

// GetPayload fetches the payload of one point.
func (q *QdrantStore) GetPayload(ctx context.Context, id string) (*models.Payload, error) {
	ctx, done := q.call(ctx, "get")
	defer done()
	resp, err := q.points.Get(ctx, &pb.GetPoints{
		CollectionName: q.collection,
		Ids:            []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(id)}}},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if status.Code(err) == codes.NotFound {
		return nil, &models.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, q.wrap("get", err)
	}
	if len(resp.GetResult()) == 0 {
		return nil, &models.NotFoundError{ID: id}
	}
	return decodePayload(resp.GetResult()[0].GetPayload()), nil
}

// ExistingIDs looks ids up in batches.
func (q *QdrantStore) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	found := make(map[string]bool)
	ctx, done := q.call(ctx, "existing_ids")
	defer done()
	for start := 0; start < len(ids); start += getBatchSize {
		batch := ids[start:min(start+getBatchSize, len(ids))]
		pids := make([]*pb.PointId, len(batch))
		for i, id := range batch {
			pids[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(id)}}
		}
		resp, err := q.points.Get(ctx, &pb.GetPoints{
			CollectionName: q.collection,
			Ids:            pids,
			WithPayload:    includeFields(fieldTranscriptID),
		})
		if status.Code(err) == codes.NotFound {
			return found, nil
		}
		if err != nil {
			return nil, q.wrap("get", err)
		}
		for _, r := range resp.GetResult() {
			if id := r.GetPayload()[fieldTranscriptID].GetStringValue(); id != "" {
				found[id] = true
			}
		}
	}
	return found, nil
}

// Count returns the exact number of points. A missing collection counts as empty.
func (q *QdrantStore) Count(ctx context.Context) (int, error) {
	return q.count(ctx, nil)
}

// CountOtherModels counts points whose embedding_model differs from model.
func (q *QdrantStore) CountOtherModels(ctx context.Context, model string) (int, error) {
	return q.count(ctx, &pb.Filter{MustNot: []*pb.Condition{fieldMatch(fieldEmbeddingModel, model)}})
}

func (q *QdrantStore) count(ctx context.Context, filter *pb.Filter) (int, error) {
	ctx, done := q.call(ctx, "count")
	defer done()
	exact := true
	resp, err := q.points.Count(ctx, &pb.CountPoints{
		CollectionName: q.collection,
		Filter:         filter,
		Exact:          &exact,
	})
	if status.Code(err) == codes.NotFound {
		return 0, nil
	}
	if err != nil {
		return 0, q.wrap("count", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// Health lists collections: unreachable is unavailable, a missing collection degraded.
func (q *QdrantStore) Health(ctx context.Context) (models.Health, error) {
	ctx, done := q.call(ctx, "health")
	defer done()
	ok, err := q.exists(ctx)
	if err != nil {
		return models.HealthUnavailable, &models.StoreUnavailableError{Store: "qdrant", Err: err}
	}
	if !ok {
		return models.HealthDegraded, nil
	}
	return models.HealthConnected, nil
}

// Close closes the gRPC connection.
func (q *QdrantStore) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

func includeFields(fields ...string) *pb.WithPayloadSelector {
	return &pb.WithPayloadSelector{
		SelectorOptions: &pb.WithPayloadSelector_Include{
			Include: &pb.PayloadIncludeSelector{Fields: fields},
		},
	}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func encodePayload(p *models.IndexPoint) map[string]*pb.Value {
	searchText := p.Payload.SearchText
	if searchText == "" {
		searchText = strings.ToLower(p.Payload.Text)
	}
	payload := map[string]*pb.Value{
		fieldTranscriptID:   stringValue(p.ID),
		fieldText:           stringValue(p.Payload.Text),
		fieldSearchText:     stringValue(searchText),
		fieldEmbeddingModel: stringValue(p.Payload.EmbeddingModel),
		fieldIndexedAt:      stringValue(p.Payload.IndexedAt.UTC().Format(time.RFC3339)),
	}
	if len(p.Payload.Metadata) > 0 {
		fields := make(map[string]*pb.Value, len(p.Payload.Metadata))
		for k, v := range p.Payload.Metadata {
			fields[k] = stringValue(v)
		}
		payload[fieldMetadata] = &pb.Value{Kind: &pb.Value_StructValue{StructValue: &pb.Struct{Fields: fields}}}
	}
	return payload
}

func decodePayload(values map[string]*pb.Value) *models.Payload {
	p := &models.Payload{
		TranscriptID:   values[fieldTranscriptID].GetStringValue(),
		Text:           values[fieldText].GetStringValue(),
		SearchText:     values[fieldSearchText].GetStringValue(),
		EmbeddingModel: values[fieldEmbeddingModel].GetStringValue(),
	}
	if ts, err := time.Parse(time.RFC3339, values[fieldIndexedAt].GetStringValue()); err == nil {
		p.IndexedAt = ts
	}
	if meta := values[fieldMetadata].GetStructValue(); meta != nil {
		p.Metadata = make(map[string]string, len(meta.GetFields()))
		for k, v := range meta.GetFields() {
			p.Metadata[k] = v.GetStringValue()
		}
	}
	return p
}

var _ Store = (*QdrantStore)(nil)
