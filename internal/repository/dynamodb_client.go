package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"minutes-agent/internal/domain"
)

const (
	pkPrefix     = "MIN#"
	skRecord     = "RECORD"
	lineageIndex = "lineage-index"

	// Version claim items, one per (lineage, version).
	claimPKPrefix = "LIN#"
	claimSKPrefix = "V#"
)

var (
	// ErrNotFound is returned when no record matches the lookup.
	ErrNotFound = errors.New("repository: record not found")
	// ErrConditionFailed is returned when a conditional write lost a race:
	// the id or version was already taken, or the previous record no longer
	// carried the expected latest flag.
	ErrConditionFailed = errors.New("repository: condition failed")
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client stores MinutesRecords in a single DynamoDB table with a
// lineage-index GSI (rootId hash, version range). Next to each record it
// keeps a claim item PK=LIN#<rootId>, SK=V#<version> so no two records of a
// lineage share a version.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

func recordPK(id string) string {
	return pkPrefix + id
}

func recordKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: recordPK(id)},
		"SK": &types.AttributeValueMemberS{Value: skRecord},
	}
}

// InsertRecord writes a new record and claims its version. It never
// overwrites an existing id or version.
func (c *Client) InsertRecord(ctx context.Context, rec domain.MinutesRecord) error {
	items, err := c.insertItems(rec)
	if err != nil {
		return fmt.Errorf("repository: InsertRecord: %w", err)
	}
	if err := c.transact(ctx, items); err != nil {
		return fmt.Errorf("repository: InsertRecord: %w", err)
	}
	return nil
}

// AppendVersion writes rec, claims its version and clears the latest flag
// on prevID in one transaction. prevID must currently carry prevLatest;
// otherwise nothing is written and ErrConditionFailed is returned.
func (c *Client) AppendVersion(ctx context.Context, rec domain.MinutesRecord, prevID string, prevLatest bool, at time.Time) error {
	if prevID == "" {
		return errors.New("repository: AppendVersion: previous id is required")
	}
	items, err := c.insertItems(rec)
	if err != nil {
		return fmt.Errorf("repository: AppendVersion: %w", err)
	}

	var prev types.TransactWriteItem
	if prevLatest {
		prev.Update = &types.Update{
			TableName:           aws.String(c.tableName),
			Key:                 recordKey(prevID),
			UpdateExpression:    aws.String("SET isLatest = :false, updatedAt = :at"),
			ConditionExpression: aws.String("attribute_exists(PK) AND isLatest = :true"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":true":  &types.AttributeValueMemberBOOL{Value: true},
				":false": &types.AttributeValueMemberBOOL{Value: false},
				":at":    &types.AttributeValueMemberS{Value: formatTime(at)},
			},
		}
	} else {
		prev.ConditionCheck = &types.ConditionCheck{
			TableName:           aws.String(c.tableName),
			Key:                 recordKey(prevID),
			ConditionExpression: aws.String("attribute_exists(PK) AND (attribute_not_exists(isLatest) OR isLatest = :false)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":false": &types.AttributeValueMemberBOOL{Value: false},
			},
		}
	}

	if err := c.transact(ctx, append(items, prev)); err != nil {
		return fmt.Errorf("repository: AppendVersion: %w", err)
	}
	return nil
}

func (c *Client) insertItems(rec domain.MinutesRecord) ([]types.TransactWriteItem, error) {
	if rec.ID == "" {
		return nil, errors.New("id is required")
	}
	item, err := recordItem(rec)
	if err != nil {
		return nil, err
	}
	return []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			},
		},
		{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                claimItem(rec),
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			},
		},
	}, nil
}

func (c *Client) transact(ctx context.Context, items []types.TransactWriteItem) error {
	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	return mapConditionErr(err)
}

// GetRecord reads a record by id with strong consistency.
func (c *Client) GetRecord(ctx context.Context, id string) (domain.MinutesRecord, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            recordKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.MinutesRecord{}, fmt.Errorf("repository: GetRecord get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.MinutesRecord{}, ErrNotFound
	}
	rec, err := itemToRecord(out.Item)
	if err != nil {
		return domain.MinutesRecord{}, fmt.Errorf("repository: GetRecord unmarshal: %w", err)
	}
	return rec, nil
}

// ListLineage returns every record whose rootId is rootID, ascending by
// version. The root itself is included when it carries its own rootId.
func (c *Client) ListLineage(ctx context.Context, rootID string) ([]domain.MinutesRecord, error) {
	recs, err := c.queryLineage(ctx, rootID, false)
	if err != nil {
		return nil, fmt.Errorf("repository: ListLineage: %w", err)
	}
	return recs, nil
}

// FindLatest returns the record flagged isLatest in the lineage of rootID.
// The index is eventually consistent; if more than one record is flagged the
// highest version wins.
func (c *Client) FindLatest(ctx context.Context, rootID string) (domain.MinutesRecord, error) {
	recs, err := c.queryLineage(ctx, rootID, true)
	if err != nil {
		return domain.MinutesRecord{}, fmt.Errorf("repository: FindLatest: %w", err)
	}
	if len(recs) == 0 {
		return domain.MinutesRecord{}, ErrNotFound
	}
	return recs[len(recs)-1], nil
}

func (c *Client) queryLineage(ctx context.Context, rootID string, latestOnly bool) ([]domain.MinutesRecord, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(lineageIndex),
		KeyConditionExpression: aws.String("rootId = :root"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":root": &types.AttributeValueMemberS{Value: rootID},
		},
		ScanIndexForward: aws.Bool(true),
	}
	if latestOnly {
		in.FilterExpression = aws.String("isLatest = :latest")
		in.ExpressionAttributeValues[":latest"] = &types.AttributeValueMemberBOOL{Value: true}
	}

	var recs []domain.MinutesRecord
	p := dynamodb.NewQueryPaginator(c.api, in)
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		for _, item := range out.Items {
			rec, err := itemToRecord(item)
			if err != nil {
				return nil, fmt.Errorf("unmarshal: %w", err)
			}
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

// mapConditionErr turns a transaction cancelled by a failed condition, or by
// a competing transaction on the same items, into ErrConditionFailed.
func mapConditionErr(err error) error {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return err
	}
	for _, reason := range tce.CancellationReasons {
		switch aws.ToString(reason.Code) {
		case "ConditionalCheckFailed", "TransactionConflict":
			return ErrConditionFailed
		}
	}
	return err
}

func recordItem(rec domain.MinutesRecord) (map[string]types.AttributeValue, error) {
	doc, err := json.Marshal(rec.Minutes)
	if err != nil {
		return nil, fmt.Errorf("marshal minutes: %w", err)
	}
	rootID := rec.RootID
	if rootID == "" {
		rootID = rec.ID
	}
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: recordPK(rec.ID)},
		"SK":        &types.AttributeValueMemberS{Value: skRecord},
		"id":        &types.AttributeValueMemberS{Value: rec.ID},
		"ownerId":   &types.AttributeValueMemberS{Value: rec.OwnerID},
		"rootId":    &types.AttributeValueMemberS{Value: rootID},
		"version":   &types.AttributeValueMemberN{Value: strconv.Itoa(rec.EffectiveVersion())},
		"isLatest":  &types.AttributeValueMemberBOOL{Value: rec.IsLatest},
		"minutes":   &types.AttributeValueMemberS{Value: string(doc)},
		"createdAt": &types.AttributeValueMemberS{Value: formatTime(rec.CreatedAt)},
		"updatedAt": &types.AttributeValueMemberS{Value: formatTime(rec.UpdatedAt)},
	}
	if rec.ParentID != "" {
		item["parentId"] = &types.AttributeValueMemberS{Value: rec.ParentID}
	}
	return item, nil
}

func claimItem(rec domain.MinutesRecord) map[string]types.AttributeValue {
	rootID := rec.RootID
	if rootID == "" {
		rootID = rec.ID
	}
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: claimPKPrefix + rootID},
		"SK":        &types.AttributeValueMemberS{Value: claimSKPrefix + strconv.Itoa(rec.EffectiveVersion())},
		"id":        &types.AttributeValueMemberS{Value: rec.ID},
		"createdAt": &types.AttributeValueMemberS{Value: formatTime(rec.CreatedAt)},
	}
}

// itemToRecord converts a DynamoDB attribute map to a MinutesRecord.
func itemToRecord(item map[string]types.AttributeValue) (domain.MinutesRecord, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.MinutesRecord{}, err
	}
	owner, err := strAttr(item, "ownerId")
	if err != nil {
		return domain.MinutesRecord{}, err
	}
	doc, err := strAttr(item, "minutes")
	if err != nil {
		return domain.MinutesRecord{}, err
	}
	var minutes domain.MeetingMinutes
	if err := json.Unmarshal([]byte(doc), &minutes); err != nil {
		return domain.MinutesRecord{}, fmt.Errorf("repository: decode minutes: %w", err)
	}

	rootID, _ := strAttr(item, "rootId")     // absent on legacy items
	parentID, _ := strAttr(item, "parentId") // absent on roots
	version, err := intAttr(item, "version")
	if err != nil {
		version = 1
	}
	isLatest, _ := boolAttr(item, "isLatest")
	createdAt, _ := timeAttr(item, "createdAt")
	updatedAt, _ := timeAttr(item, "updatedAt")

	return domain.MinutesRecord{
		ID:        id,
		OwnerID:   owner,
		RootID:    rootID,
		ParentID:  parentID,
		Version:   version,
		IsLatest:  isLatest,
		Minutes:   minutes,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func boolAttr(item map[string]types.AttributeValue, key string) (bool, error) {
	v, ok := item[key]
	if !ok {
		return false, fmt.Errorf("repository: missing attribute %q", key)
	}
	b, ok := v.(*types.AttributeValueMemberBOOL)
	if !ok {
		return false, fmt.Errorf("repository: attribute %q is not a bool", key)
	}
	return b.Value, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t, nil
}
