// Package dynamostore implements store.Backend over Amazon DynamoDB.
//
// Every flush runs as one TransactWriteItems call: inserts are conditioned
// on the key being absent, updates and deletes on the stored token still
// matching. Reads are filtered scans ordered and paged in memory. Sequences
// are atomic counters in a dedicated table. Multi-flush scopes and stored
// routines are not supported.
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/innkeeper/store"
)

// maxTransactItems is the DynamoDB limit on actions per transaction.
const maxTransactItems = 100

// DB is a store.Backend over a DynamoDB client.
type DB struct {
	client Client
	config Config
	log    *slog.Logger
}

// New creates a new DB instance.
func New(client Client, config Config) *DB {
	config.validate()
	return &DB{client: client, config: config, log: config.Logger}
}

func (d *DB) table(name string) string { return d.config.TablePrefix + name }

// Capabilities implements store.Backend.
func (d *DB) Capabilities() store.Capabilities { return store.Capabilities{} }

// Select implements store.Executor. The filter runs server-side; ordering
// and paging are applied to the full result.
func (d *DB) Select(ctx context.Context, sel store.Select) ([]store.Row, error) {
	b := newExprBuilder()
	in := &dynamodb.ScanInput{
		TableName:      aws.String(d.table(sel.Table)),
		ConsistentRead: aws.Bool(true),
	}
	if len(sel.Columns) > 0 {
		in.ProjectionExpression = aws.String(b.projection(sel.Columns))
	}
	if sel.Where != nil {
		filter, err := b.cond(sel.Where)
		if err != nil {
			return nil, fmt.Errorf("select %s: %w", sel.Table, err)
		}
		in.FilterExpression = aws.String(filter)
	}
	in.ExpressionAttributeNames = b.attrNames()
	in.ExpressionAttributeValues = b.attrValues()
	d.log.Debug("scan", "table", sel.Table, "filter", aws.ToString(in.FilterExpression))

	var rows []store.Row
	paginator := dynamodb.NewScanPaginator(d.client, in)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("select %s: %w", sel.Table, err)
		}
		for _, item := range page.Items {
			row, err := decodeRow(item, sel.Columns)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
	}
	return window(sortRows(rows, sel.OrderBy), sel.Limit, sel.Offset), nil
}

func sortRows(rows []store.Row, orders []store.Order) []store.Row {
	if len(orders) == 0 {
		return rows
	}
	slices.SortStableFunc(rows, func(a, b store.Row) int {
		for _, o := range orders {
			c := store.CompareStored(a[o.Column], b[o.Column])
			if o.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
	return rows
}

func window(rows []store.Row, limit, offset int) []store.Row {
	if offset > 0 {
		rows = rows[min(offset, len(rows)):]
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// Count implements store.Executor.
func (d *DB) Count(ctx context.Context, table string, where store.Cond) (int64, error) {
	b := newExprBuilder()
	in := &dynamodb.ScanInput{
		TableName:      aws.String(d.table(table)),
		Select:         types.SelectCount,
		ConsistentRead: aws.Bool(true),
	}
	if where != nil {
		filter, err := b.cond(where)
		if err != nil {
			return 0, fmt.Errorf("count %s: %w", table, err)
		}
		in.FilterExpression = aws.String(filter)
	}
	in.ExpressionAttributeNames = b.attrNames()
	in.ExpressionAttributeValues = b.attrValues()

	var n int64
	paginator := dynamodb.NewScanPaginator(d.client, in)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("count %s: %w", table, err)
		}
		n += int64(page.Count)
	}
	return n, nil
}

// NextValue implements store.Executor by incrementing an atomic counter.
func (d *DB) NextValue(ctx context.Context, sequence string) (int64, error) {
	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.table(d.config.SequenceTable)),
		Key:                       sequenceKey(sequence),
		UpdateExpression:          aws.String("ADD #value :one"),
		ExpressionAttributeNames:  map[string]string{"#value": "value"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":one": &types.AttributeValueMemberN{Value: "1"}},
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("next value of %s: %w", sequence, err)
	}
	v, ok := out.Attributes["value"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("next value of %s: counter missing from response", sequence)
	}
	return strconv.ParseInt(v.Value, 10, 64)
}

// AdvanceSequence moves a counter to atLeast unless it is already past it.
func (d *DB) AdvanceSequence(ctx context.Context, sequence string, atLeast int64) error {
	n := &types.AttributeValueMemberN{Value: strconv.FormatInt(atLeast, 10)}
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.table(d.config.SequenceTable)),
		Key:                       sequenceKey(sequence),
		UpdateExpression:          aws.String("SET #value = :n"),
		ConditionExpression:       aws.String("attribute_not_exists(#value) OR #value < :n"),
		ExpressionAttributeNames:  map[string]string{"#value": "value"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":n": n},
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("advance %s: %w", sequence, err)
	}
	return nil
}

func sequenceKey(name string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"name": &types.AttributeValueMemberS{Value: name}}
}

// Begin implements store.Backend. The returned Tx applies its one batch as
// a single DynamoDB transaction; reads are not isolated.
func (d *DB) Begin(ctx context.Context) (store.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Tx{db: d}, nil
}

// Tx is the unit of one flush.
type Tx struct {
	db      *DB
	applied bool
}

// Select implements store.Executor.
func (t *Tx) Select(ctx context.Context, sel store.Select) ([]store.Row, error) {
	return t.db.Select(ctx, sel)
}

// Count implements store.Executor.
func (t *Tx) Count(ctx context.Context, table string, where store.Cond) (int64, error) {
	return t.db.Count(ctx, table, where)
}

// NextValue implements store.Executor. Counter increments are not undone
// by Rollback.
func (t *Tx) NextValue(ctx context.Context, sequence string) (int64, error) {
	return t.db.NextValue(ctx, sequence)
}

// Commit implements store.Tx; the batch is already durable.
func (t *Tx) Commit() error { return nil }

// Rollback implements store.Tx. Writes of an applied batch cannot be undone.
func (t *Tx) Rollback() error {
	if t.applied {
		t.db.log.Warn("rollback after applied batch; writes remain")
	}
	return nil
}

// action is one transact item and the write or check it came from.
type action struct {
	write  int
	check  *store.Check
	insert bool
}

// Apply implements store.Tx. Reference checks that need more than a key
// lookup in one table run as reads before the transaction. A write whose
// token no longer matches reports zero affected rows: an atomic batch stops
// there with nothing applied, otherwise the transaction is retried without
// the conflicting writes.
func (t *Tx) Apply(ctx context.Context, b store.Batch) ([]store.WriteResult, error) {
	if err := t.readChecks(ctx, b.Writes); err != nil {
		return nil, err
	}
	tokens := make([]store.Token, len(b.Writes))
	for i, w := range b.Writes {
		if w.Routine != nil {
			return nil, fmt.Errorf("%s %s: routines are not supported", w.Op, w.Kind)
		}
		if w.TokenColumn != "" && w.Op != store.OpDelete {
			id := uuid.New()
			tokens[i] = store.Token(id[:])
		}
	}

	results := make([]store.WriteResult, len(b.Writes))
	pending := make([]int, len(b.Writes))
	for i := range pending {
		pending[i] = i
	}
	for len(pending) > 0 {
		items, actions, err := t.transactItems(b.Writes, pending, tokens)
		if err != nil {
			return nil, err
		}
		if len(items) > maxTransactItems {
			return nil, fmt.Errorf("batch needs %d transaction actions, the limit is %d", len(items), maxTransactItems)
		}
		t.db.log.Debug("transact write", "actions", len(items))
		_, err = t.db.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
		if err == nil {
			for _, i := range pending {
				results[i] = store.WriteResult{Affected: 1, Token: tokens[i]}
			}
			t.applied = true
			return results, nil
		}

		conflicts, err := t.cancellation(b.Writes, actions, err)
		if err != nil {
			return nil, err
		}
		if b.Atomic {
			first := slices.Min(conflicts)
			for i := range first {
				results[i] = store.WriteResult{Affected: 1, Token: tokens[i]}
			}
			return results[:first+1], nil
		}
		pending = slices.DeleteFunc(pending, func(i int) bool { return slices.Contains(conflicts, i) })
	}
	return results, nil
}

// cancellation maps a cancelled transaction onto the writes it names.
// Failed key or reference conditions are integrity errors; failed token
// conditions are returned as conflicting write indexes.
func (t *Tx) cancellation(writes []store.Write, actions []action, err error) ([]int, error) {
	var txErr *types.TransactionCanceledException
	if !errors.As(err, &txErr) {
		return nil, fmt.Errorf("transact write: %w", err)
	}
	var conflicts []int
	for i, reason := range txErr.CancellationReasons {
		if aws.ToString(reason.Code) != "ConditionalCheckFailed" || i >= len(actions) {
			continue
		}
		a := actions[i]
		w := writes[a.write]
		switch {
		case a.check != nil:
			return nil, &store.IntegrityError{Kind: w.Kind, Key: w.FullKey(), Reason: a.check.Reason}
		case a.insert:
			return nil, &store.IntegrityError{Kind: w.Kind, Key: w.FullKey(), Reason: "duplicate key"}
		default:
			conflicts = append(conflicts, a.write)
		}
	}
	if len(conflicts) == 0 {
		return nil, fmt.Errorf("transact write: %w", err)
	}
	return conflicts, nil
}

// inTransaction reports whether c can be a ConditionCheck: an existence
// test by key in a single table.
func inTransaction(c store.Check) bool {
	return c.Exists && len(c.Tables) == 1
}

// readChecks evaluates the reference checks that cannot join the transaction.
func (t *Tx) readChecks(ctx context.Context, writes []store.Write) error {
	for _, w := range writes {
		for _, c := range w.Checks {
			if inTransaction(c) {
				continue
			}
			found, err := t.db.exists(ctx, c)
			if err != nil {
				return fmt.Errorf("check %s: %w", strings.Join(c.Tables, ", "), err)
			}
			if found != c.Exists {
				return &store.IntegrityError{Kind: w.Kind, Key: w.FullKey(), Reason: c.Reason}
			}
		}
	}
	return nil
}

// exists looks for a row whose column equals the check value in any of
// the check's tables.
func (d *DB) exists(ctx context.Context, c store.Check) (bool, error) {
	for _, table := range c.Tables {
		n, err := d.Count(ctx, table, store.ColumnCompare{Column: c.Column, Op: store.OpEq, Value: c.Value})
		if err != nil {
			return false, err
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (t *Tx) transactItems(writes []store.Write, pending []int, tokens []store.Token) ([]types.TransactWriteItem, []action, error) {
	var (
		items   []types.TransactWriteItem
		actions []action
	)
	for _, i := range pending {
		w := writes[i]
		for ci := range w.Checks {
			c := w.Checks[ci]
			if !inTransaction(c) {
				continue
			}
			item, err := t.conditionCheck(c)
			if err != nil {
				return nil, nil, err
			}
			items = append(items, item)
			actions = append(actions, action{write: i, check: &w.Checks[ci]})
		}
		item, err := t.writeItem(w, tokens[i])
		if err != nil {
			return nil, nil, err
		}
		items = append(items, item)
		actions = append(actions, action{write: i, insert: w.Op == store.OpInsert})
	}
	return items, actions, nil
}

func (t *Tx) conditionCheck(c store.Check) (types.TransactWriteItem, error) {
	key, err := encode(c.Value)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	return types.TransactWriteItem{
		ConditionCheck: &types.ConditionCheck{
			TableName:                aws.String(t.db.table(c.Tables[0])),
			Key:                      map[string]types.AttributeValue{c.Column: key},
			ConditionExpression:      aws.String("attribute_exists(#key)"),
			ExpressionAttributeNames: map[string]string{"#key": c.Column},
		},
	}, nil
}

// writeItem renders one write. Inserts require the key to be absent;
// updates and deletes require the row to exist with the expected token.
func (t *Tx) writeItem(w store.Write, token store.Token) (types.TransactWriteItem, error) {
	table := aws.String(t.db.table(w.Table))
	keyAV, err := encode(w.Key)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	key := map[string]types.AttributeValue{w.KeyColumn: keyAV}
	for _, m := range w.Match {
		if key[m.Column], err = encode(m.Value); err != nil {
			return types.TransactWriteItem{}, err
		}
	}

	b := newExprBuilder()
	cond := "attribute_exists(" + b.name(w.KeyColumn) + ")"
	if w.TokenColumn != "" && w.Op != store.OpInsert {
		cond += " AND " + b.name(w.TokenColumn) + " = " + b.raw(&types.AttributeValueMemberB{Value: w.Expected})
	}

	switch w.Op {
	case store.OpInsert:
		item, err := putItem(w, token)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		return types.TransactWriteItem{Put: &types.Put{
			TableName:                table,
			Item:                     item,
			ConditionExpression:      aws.String("attribute_not_exists(#key)"),
			ExpressionAttributeNames: map[string]string{"#key": w.KeyColumn},
		}}, nil

	case store.OpUpdate:
		sets := make([]string, 0, len(w.Values)+1)
		for _, v := range w.Values {
			val, err := b.value(v.Value)
			if err != nil {
				return types.TransactWriteItem{}, fmt.Errorf("%s %s: %w", w.Kind, v.Column, err)
			}
			sets = append(sets, b.name(v.Column)+" = "+val)
			if s, ok := v.Value.(string); ok && v.Fold {
				sets = append(sets, b.name(foldedName(v.Column))+" = "+b.raw(&types.AttributeValueMemberS{Value: strings.ToLower(s)}))
			}
		}
		if w.TokenColumn != "" {
			sets = append(sets, b.name(w.TokenColumn)+" = "+b.raw(&types.AttributeValueMemberB{Value: token}))
		}
		if len(sets) == 0 {
			return types.TransactWriteItem{ConditionCheck: &types.ConditionCheck{
				TableName:                 table,
				Key:                       key,
				ConditionExpression:       aws.String(cond),
				ExpressionAttributeNames:  b.attrNames(),
				ExpressionAttributeValues: b.attrValues(),
			}}, nil
		}
		return types.TransactWriteItem{Update: &types.Update{
			TableName:                 table,
			Key:                       key,
			UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
			ConditionExpression:       aws.String(cond),
			ExpressionAttributeNames:  b.attrNames(),
			ExpressionAttributeValues: b.attrValues(),
		}}, nil

	case store.OpDelete:
		return types.TransactWriteItem{Delete: &types.Delete{
			TableName:                 table,
			Key:                       key,
			ConditionExpression:       aws.String(cond),
			ExpressionAttributeNames:  b.attrNames(),
			ExpressionAttributeValues: b.attrValues(),
		}}, nil
	}
	return types.TransactWriteItem{}, fmt.Errorf("unsupported write op %s", w.Op)
}
