package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/repository"
	"github.com/jwalitptl/caregem-api/pkg/circuitbreaker"
	"github.com/jwalitptl/caregem-api/pkg/errors"
	"github.com/jwalitptl/caregem-api/pkg/metrics"
)

const (
	// batchGetLimit is the BatchGetItem key limit.
	batchGetLimit       = 100
	maxUnprocessedTries = 5
	keyAttr             = "external_id"
	versionAttr         = "version"
)

// DynamoDBAPI is the subset of the DynamoDB client the store uses.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

type Config struct {
	Table        string
	HistoryTable string
	Timeout      time.Duration
	// RetryDelay is the base backoff between UnprocessedKeys rounds.
	RetryDelay time.Duration
}

type phiStore struct {
	db      DynamoDBAPI
	cfg     Config
	cb      *circuitbreaker.CircuitBreaker
	metrics *metrics.Metrics
}

func NewPHIStore(db DynamoDBAPI, cfg Config, m *metrics.Metrics) repository.PHIStore {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 50 * time.Millisecond
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &phiStore{
		db:  db,
		cfg: cfg,
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "phi-store",
			MaxFailures: 5,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
		}),
		metrics: m,
	}
}

// call runs fn under the store timeout and breaker and records metrics.
func (s *phiStore) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := s.cb.Execute(func() error { return fn(ctx) })
	s.metrics.KVLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	s.metrics.KVOperations.WithLabelValues(op, metrics.Status(err)).Inc()

	if err != nil {
		var appErr *errors.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return errors.Transient("phi store unavailable", fmt.Errorf("%s: %w", op, err))
	}
	return nil
}

func key(externalID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		keyAttr: &types.AttributeValueMemberS{Value: externalID},
	}
}

func (s *phiStore) Get(ctx context.Context, externalID string) (*model.PHI, error) {
	var out *dynamodb.GetItemOutput
	err := s.call(ctx, "get", func(ctx context.Context) error {
		var err error
		out, err = s.db.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(s.cfg.Table),
			Key:            key(externalID),
			ConsistentRead: aws.Bool(true),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil || len(out.Item) == 0 {
		return nil, errors.NotFound("phi", nil)
	}

	var phi model.PHI
	if err := attributevalue.UnmarshalMap(out.Item, &phi); err != nil {
		return nil, errors.Internal(fmt.Errorf("failed to decode phi: %w", err))
	}
	return &phi, nil
}

// GetMany fetches PHI for the given ids in chunks of at most 100 keys.
// Missing keys are omitted from the result.
func (s *phiStore) GetMany(ctx context.Context, externalIDs []string) (map[string]*model.PHI, error) {
	result := make(map[string]*model.PHI, len(externalIDs))
	ids := uniqueNonEmpty(externalIDs)

	for start := 0; start < len(ids); start += batchGetLimit {
		end := start + batchGetLimit
		if end > len(ids) {
			end = len(ids)
		}

		keys := make([]map[string]types.AttributeValue, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, key(id))
		}
		if err := s.batchGet(ctx, keys, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *phiStore) batchGet(ctx context.Context, keys []map[string]types.AttributeValue, into map[string]*model.PHI) error {
	request := map[string]types.KeysAndAttributes{
		s.cfg.Table: {Keys: keys, ConsistentRead: aws.Bool(true)},
	}

	for attempt := 0; len(request) > 0; attempt++ {
		if attempt >= maxUnprocessedTries {
			return errors.Transient("phi store throttled", fmt.Errorf("unprocessed keys after %d attempts", attempt))
		}
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Transient("phi store timeout", ctx.Err())
			case <-time.After(s.cfg.RetryDelay * time.Duration(1<<uint(attempt-1))):
			}
		}

		var out *dynamodb.BatchGetItemOutput
		err := s.call(ctx, "batch_get", func(ctx context.Context) error {
			var err error
			out, err = s.db.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
			return err
		})
		if err != nil {
			return err
		}

		for _, item := range out.Responses[s.cfg.Table] {
			var phi model.PHI
			if err := attributevalue.UnmarshalMap(item, &phi); err != nil {
				return errors.Internal(fmt.Errorf("failed to decode phi: %w", err))
			}
			into[phi.ExternalID] = &phi
		}
		request = out.UnprocessedKeys
	}
	return nil
}

func (s *phiStore) Put(ctx context.Context, phi *model.PHI) error {
	if phi == nil || phi.ExternalID == "" {
		return errors.BadRequest("phi requires an external id", nil)
	}
	item, err := attributevalue.MarshalMap(phi)
	if err != nil {
		return errors.Internal(fmt.Errorf("failed to encode phi: %w", err))
	}
	return s.call(ctx, "put", func(ctx context.Context) error {
		_, err := s.db.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.cfg.Table),
			Item:      item,
		})
		return err
	})
}

func (s *phiStore) Delete(ctx context.Context, externalID string) error {
	return s.call(ctx, "delete", func(ctx context.Context) error {
		_, err := s.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.cfg.Table),
			Key:       key(externalID),
		})
		return err
	})
}

func (s *phiStore) PutSnapshot(ctx context.Context, snap *model.PHISnapshot) error {
	item, err := attributevalue.MarshalMap(snap)
	if err != nil {
		return errors.Internal(fmt.Errorf("failed to encode snapshot: %w", err))
	}
	return s.call(ctx, "put_snapshot", func(ctx context.Context) error {
		_, err := s.db.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.cfg.HistoryTable),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(#v)"),
			ExpressionAttributeNames: map[string]string{
				"#v": versionAttr,
			},
		})
		var exists *types.ConditionalCheckFailedException
		if errors.As(err, &exists) {
			return errors.Conflict("", "snapshot version already written", err)
		}
		return err
	})
}

// Snapshots returns every snapshot of the external id. Versions sort as
// strings in the table, so callers order by the change log instead.
func (s *phiStore) Snapshots(ctx context.Context, externalID string) ([]*model.PHISnapshot, error) {
	var snaps []*model.PHISnapshot
	var startKey map[string]types.AttributeValue

	for {
		var out *dynamodb.QueryOutput
		err := s.call(ctx, "query_snapshots", func(ctx context.Context) error {
			var err error
			out, err = s.db.Query(ctx, &dynamodb.QueryInput{
				TableName:              aws.String(s.cfg.HistoryTable),
				KeyConditionExpression: aws.String("#k = :id"),
				ExpressionAttributeNames: map[string]string{
					"#k": keyAttr,
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":id": &types.AttributeValueMemberS{Value: externalID},
				},
				ExclusiveStartKey: startKey,
			})
			return err
		})
		if err != nil {
			return nil, err
		}

		for _, item := range out.Items {
			var snap model.PHISnapshot
			if err := attributevalue.UnmarshalMap(item, &snap); err != nil {
				return nil, errors.Internal(fmt.Errorf("failed to decode snapshot: %w", err))
			}
			snaps = append(snaps, &snap)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return snaps, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func uniqueNonEmpty(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
