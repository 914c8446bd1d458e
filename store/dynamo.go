package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jpillora/backoff"

	appconfig "storeflow/config"
	"storeflow/logger"
	"storeflow/models"
)

// maxBatchWriteItems is the DynamoDB BatchWriteItem fan-out ceiling.
const maxBatchWriteItems = 25

// ErrSeqAlreadyAssigned is returned by AssignSeq when the stored seq is no
// longer the sentinel, meaning a concurrent call resolved it first.
var ErrSeqAlreadyAssigned = errors.New("seq already assigned")

// dynamoAPI is the slice of the DynamoDB client consumed by Store.
type dynamoAPI interface {
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store adapts the DynamoDB tables backing orders and the three aggregate
// families. All counter mutations go through UpdateItem ADD so overlapping
// calls stay correct without caller-side locking.
type Store struct {
	client dynamoAPI
	tables appconfig.TablesConfig
	retry  appconfig.BatchRetryConfig
	log    *logger.Log
	now    func() time.Time
}

// New configures the AWS SDK and initializes the DynamoDB-backed store.
func New(ctx context.Context, cfg *appconfig.Config) (*Store, error) {
	log := logger.GetLogger()

	ddb := cfg.Storage.DynamoDB

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if ddb.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(ddb.Region))
	}
	if ddb.AccessKeyID != "" && ddb.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ddb.AccessKeyID, ddb.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("store").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if ddb.Endpoint != "" {
			o.BaseEndpoint = aws.String(ddb.Endpoint)
		}
	})

	log.WithComponent("store").WithFields(logger.Fields{
		"region":   ddb.Region,
		"endpoint": ddb.Endpoint,
		"orders":   ddb.Tables.Orders,
	}).Debug("dynamodb store initialized")

	return NewWithClient(client, cfg), nil
}

// NewWithClient builds a Store around an existing client. Used by tests to
// substitute a fake.
func NewWithClient(client dynamoAPI, cfg *appconfig.Config) *Store {
	return &Store{
		client: client,
		tables: cfg.Storage.DynamoDB.Tables,
		retry:  cfg.Intake.BatchRetry,
		log:    logger.GetLogger(),
		now:    time.Now,
	}
}

// PutOrders persists new order records in chunks of at most 25 items.
// Unprocessed remainders are re-submitted with exponential backoff; if items
// remain after the attempt budget the call fails hard.
func (s *Store) PutOrders(ctx context.Context, orders []models.OrderRecord) error {
	if len(orders) == 0 {
		return nil
	}

	requests := make([]types.WriteRequest, 0, len(orders))
	for _, ord := range orders {
		item, err := attributevalue.MarshalMap(ord)
		if err != nil {
			return fmt.Errorf("marshal order %s: %w", ord.OrderID, err)
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
	}

	for start := 0; start < len(requests); start += maxBatchWriteItems {
		end := start + maxBatchWriteItems
		if end > len(requests) {
			end = len(requests)
		}
		if err := s.writeChunk(ctx, requests[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// writeChunk submits one batch-write chunk and drains its unprocessed
// remainder until empty or the retry budget runs out.
func (s *Store) writeChunk(ctx context.Context, requests []types.WriteRequest) error {
	delay := &backoff.Backoff{
		Min:    s.retry.BaseDelay,
		Max:    s.retry.MaxDelay,
		Factor: 2,
		Jitter: true,
	}

	pending := requests
	for attempt := 1; ; attempt++ {
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{s.tables.Orders: pending},
		})
		if err != nil {
			return fmt.Errorf("batch write orders: %w", err)
		}

		remaining := out.UnprocessedItems[s.tables.Orders]
		if len(remaining) == 0 {
			return nil
		}
		if attempt >= s.retry.MaxAttempts {
			s.log.WithComponent("store").WithFields(logger.Fields{
				"unprocessed": len(remaining),
				"attempts":    attempt,
			}).Error("batch write drain budget exhausted")
			return fmt.Errorf("%d orders unprocessed after %d attempts", len(remaining), attempt)
		}

		s.log.WithComponent("store").WithFields(logger.Fields{
			"unprocessed": len(remaining),
			"attempt":     attempt,
		}).Warn("batch write returned unprocessed items, retrying")

		if err := sleep(ctx, delay.Duration()); err != nil {
			return err
		}
		pending = remaining
	}
}

// AssignSeq resolves a sentinel seq to a concrete store. The update is
// conditional on the stored seq still being the sentinel, so a record is
// resolved at most once even under concurrent calls.
func (s *Store) AssignSeq(ctx context.Context, id string, seq models.Seq) error {
	update := expression.
		Set(expression.Name("seq"), expression.Value(seq.Storage())).
		Set(expression.Name("updated_at"), expression.Value(s.timestamp()))
	cond := expression.Name("seq").Equal(expression.Value(string(models.SeqUnmapped)))

	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("build seq update expression: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tables.Orders),
		Key:                       map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrSeqAlreadyAssigned
		}
		return fmt.Errorf("assign seq for order %s: %w", id, err)
	}
	return nil
}

// FindOrders queries the order_id index and filters on order_time and
// payment_amount, draining pagination.
func (s *Store) FindOrders(ctx context.Context, orderID, orderTime string, amount float64) ([]models.OrderRecord, error) {
	keyCond := expression.Key("order_id").Equal(expression.Value(orderID))
	filter := expression.Name("order_time").Equal(expression.Value(orderTime)).
		And(expression.Name("payment_amount").Equal(expression.Value(amount)))

	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("build order query expression: %w", err)
	}

	var records []models.OrderRecord
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.tables.Orders),
			IndexName:                 aws.String(s.tables.OrderIDIndex),
			KeyConditionExpression:    expr.KeyCondition(),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("query orders by order_id %s: %w", orderID, err)
		}

		var page []models.OrderRecord
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal order page: %w", err)
		}
		records = append(records, page...)

		if len(out.LastEvaluatedKey) == 0 {
			return records, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// AddSeqStats applies a per-store delta. ADD initializes missing counters to
// zero, so the row is created lazily on first contribution.
func (s *Store) AddSeqStats(ctx context.Context, seq string, orders, customers int, lastDate string) error {
	update := expression.
		Add(expression.Name("order_count"), expression.Value(orders)).
		Add(expression.Name("customer_count"), expression.Value(customers)).
		Set(expression.Name("last_order_date"), expression.Value(lastDate)).
		Set(expression.Name("updated_at"), expression.Value(s.timestamp()))

	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return fmt.Errorf("build seq stats expression: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tables.SeqStats),
		Key:                       map[string]types.AttributeValue{"seq": &types.AttributeValueMemberS{Value: seq}},
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return fmt.Errorf("add seq stats for %s: %w", seq, err)
	}
	return nil
}

// AddDayStats applies a per-day delta. The seq set is accumulated through a
// string-set ADD, which unions with the stored set.
func (s *Store) AddDayStats(ctx context.Context, date string, orders int, seqs []string) error {
	update := "ADD order_count :n"
	values := map[string]types.AttributeValue{
		":n": &types.AttributeValueMemberN{Value: strconv.Itoa(orders)},
	}
	if len(seqs) > 0 {
		update = "ADD order_count :n, store_seqs :s"
		values[":s"] = &types.AttributeValueMemberSS{Value: seqs}
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tables.DailyStats),
		Key:                       map[string]types.AttributeValue{"order_date": &types.AttributeValueMemberS{Value: date}},
		UpdateExpression:          aws.String(update),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("add day stats for %s: %w", date, err)
	}
	return nil
}

// AddStoreDayStats applies a per-store-per-day delta.
func (s *Store) AddStoreDayStats(ctx context.Context, seq, date string, orders int) error {
	update := expression.Add(expression.Name("order_count"), expression.Value(orders))

	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return fmt.Errorf("build store day stats expression: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tables.StoreDailyStats),
		Key: map[string]types.AttributeValue{
			"seq":        &types.AttributeValueMemberS{Value: seq},
			"order_date": &types.AttributeValueMemberS{Value: date},
		},
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return fmt.Errorf("add store day stats for %s/%s: %w", seq, date, err)
	}
	return nil
}

// ScanStoreDays returns per-store-day rows with order activity inside the
// inclusive date range, draining pagination to the end.
func (s *Store) ScanStoreDays(ctx context.Context, from, to string) ([]models.StoreDayRow, error) {
	filter := expression.Name("order_date").Between(expression.Value(from), expression.Value(to)).
		And(expression.Name("order_count").GreaterThan(expression.Value(0)))

	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("build store day scan expression: %w", err)
	}

	var rows []models.StoreDayRow
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(s.tables.StoreDailyStats),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan store day stats: %w", err)
		}

		var page []models.StoreDayRow
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal store day page: %w", err)
		}
		rows = append(rows, page...)

		if len(out.LastEvaluatedKey) == 0 {
			return rows, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// ScanDays returns per-day rows inside the inclusive date range, draining
// pagination to the end.
func (s *Store) ScanDays(ctx context.Context, from, to string) ([]models.DayRow, error) {
	filter := expression.Name("order_date").Between(expression.Value(from), expression.Value(to))

	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("build day scan expression: %w", err)
	}

	var rows []models.DayRow
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(s.tables.DailyStats),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan daily stats: %w", err)
		}

		var page []models.DayRow
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal day page: %w", err)
		}
		rows = append(rows, page...)

		if len(out.LastEvaluatedKey) == 0 {
			return rows, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
