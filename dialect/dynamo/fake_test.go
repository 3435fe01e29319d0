package dynamo

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

type item = map[string]types.AttributeValue

// fakeDynamo is an in-memory DynamoDB understanding the expressions the
// dialect sends: SET/REMOVE updates, if_not_exists counters, equality and
// attribute_(not_)exists conditions joined by AND.
type fakeDynamo struct {
	mu       sync.Mutex
	tables   map[string]map[string]item
	pageSize int
	failures map[string]error

	calls        map[string]int
	lastUpdate   *dynamodb.UpdateItemInput
	transactions [][]types.TransactWriteItem
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{
		tables:   make(map[string]map[string]item),
		failures: make(map[string]error),
		calls:    make(map[string]int),
		pageSize: 100,
	}
}

// failNext makes the next call of op return err.
func (f *fakeDynamo) failNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

func (f *fakeDynamo) begin(op string) error {
	f.calls[op]++
	if err, ok := f.failures[op]; ok {
		delete(f.failures, op)
		return err
	}
	return nil
}

// raw returns a stored item, for assertions.
func (f *fakeDynamo) raw(table string, key item) item {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, _ := keyString(key)
	return f.tables[table][k]
}

func (f *fakeDynamo) count(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

func keyString(m item) (string, error) {
	if pk, ok := m[attrPK]; ok {
		if sk, ok := m[attrSK]; ok {
			return fmt.Sprintf("%v|%v", fromAttributeValue(pk), fromAttributeValue(sk)), nil
		}
	}
	if id, ok := m["_id"]; ok {
		return fmt.Sprintf("%v", fromAttributeValue(id)), nil
	}
	return "", &smithy.GenericAPIError{Code: "ValidationException", Message: "missing key attributes"}
}

func keyOf(it item) item {
	if _, ok := it[attrPK]; ok {
		return item{attrPK: it[attrPK], attrSK: it[attrSK]}
	}
	return item{"_id": it["_id"]}
}

func cloneItem(it item) item {
	c := make(item, len(it))
	for k, v := range it {
		c[k] = v
	}
	return c
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func validation(format string, args ...any) error {
	return &smithy.GenericAPIError{Code: "ValidationException", Message: fmt.Sprintf(format, args...), Fault: smithy.FaultClient}
}

// splitTopLevel splits on commas outside parentheses.
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		parts = append(parts, rest)
	}
	return parts
}

func resolvePath(expr string, names map[string]string) ([]string, error) {
	segments := strings.Split(strings.TrimSpace(expr), ".")
	for i, s := range segments {
		if strings.HasPrefix(s, "#") {
			n, ok := names[s]
			if !ok {
				return nil, validation("undefined attribute name %s", s)
			}
			segments[i] = n
		}
	}
	return segments, nil
}

func getPath(it item, path []string) (types.AttributeValue, bool) {
	current := it
	for i, seg := range path {
		v, ok := current[seg]
		if !ok {
			return nil, false
		}
		if i == len(path)-1 {
			return v, true
		}
		m, ok := v.(*types.AttributeValueMemberM)
		if !ok {
			return nil, false
		}
		current = m.Value
	}
	return nil, false
}

func setPath(it item, path []string, v types.AttributeValue) error {
	if len(path) == 1 {
		it[path[0]] = v
		return nil
	}
	m, ok := it[path[0]].(*types.AttributeValueMemberM)
	if !ok {
		return validation("the document path provided in the update expression is invalid for update")
	}
	inner := cloneItem(m.Value)
	if err := setPath(inner, path[1:], v); err != nil {
		return err
	}
	it[path[0]] = &types.AttributeValueMemberM{Value: inner}
	return nil
}

func removePath(it item, path []string) {
	if len(path) == 1 {
		delete(it, path[0])
		return
	}
	m, ok := it[path[0]].(*types.AttributeValueMemberM)
	if !ok {
		return
	}
	inner := cloneItem(m.Value)
	removePath(inner, path[1:])
	it[path[0]] = &types.AttributeValueMemberM{Value: inner}
}

func evalOperand(it item, expr string, names map[string]string, values map[string]types.AttributeValue) (types.AttributeValue, error) {
	expr = strings.TrimSpace(expr)
	if left, right, ok := strings.Cut(expr, " + "); ok {
		l, err := evalOperand(it, left, names, values)
		if err != nil {
			return nil, err
		}
		r, err := evalOperand(it, right, names, values)
		if err != nil {
			return nil, err
		}
		ln, lok := l.(*types.AttributeValueMemberN)
		rn, rok := r.(*types.AttributeValueMemberN)
		if !lok || !rok {
			return nil, validation("an operand in the update expression has an incorrect data type")
		}
		a, _ := strconv.ParseInt(ln.Value, 10, 64)
		b, _ := strconv.ParseInt(rn.Value, 10, 64)
		return numberValue(a + b), nil
	}
	if strings.HasPrefix(expr, "if_not_exists(") && strings.HasSuffix(expr, ")") {
		args := splitTopLevel(expr[len("if_not_exists(") : len(expr)-1])
		if len(args) != 2 {
			return nil, validation("bad if_not_exists: %s", expr)
		}
		path, err := resolvePath(args[0], names)
		if err != nil {
			return nil, err
		}
		if v, ok := getPath(it, path); ok {
			return v, nil
		}
		return evalOperand(it, args[1], names, values)
	}
	if strings.HasPrefix(expr, ":") {
		v, ok := values[expr]
		if !ok {
			return nil, validation("undefined attribute value %s", expr)
		}
		return v, nil
	}
	path, err := resolvePath(expr, names)
	if err != nil {
		return nil, err
	}
	v, ok := getPath(it, path)
	if !ok {
		return nil, validation("the provided expression refers to an attribute that does not exist in the item")
	}
	return v, nil
}

func evalCondition(it item, expr *string, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	if expr == nil || *expr == "" {
		return true, nil
	}
	for _, part := range strings.Split(*expr, " AND ") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "attribute_not_exists("):
			path, err := resolvePath(part[len("attribute_not_exists("):len(part)-1], names)
			if err != nil {
				return false, err
			}
			if _, ok := getPath(it, path); ok {
				return false, nil
			}
		case strings.HasPrefix(part, "attribute_exists("):
			path, err := resolvePath(part[len("attribute_exists("):len(part)-1], names)
			if err != nil {
				return false, err
			}
			if _, ok := getPath(it, path); !ok {
				return false, nil
			}
		default:
			lhs, rhs, ok := strings.Cut(part, " = ")
			if !ok {
				return false, validation("unsupported condition %q", part)
			}
			path, err := resolvePath(lhs, names)
			if err != nil {
				return false, err
			}
			want, ok := values[strings.TrimSpace(rhs)]
			if !ok {
				return false, validation("undefined attribute value %s", rhs)
			}
			got, ok := getPath(it, path)
			if !ok || !reflect.DeepEqual(fromAttributeValue(got), fromAttributeValue(want)) {
				return false, nil
			}
		}
	}
	return true, nil
}

func applyUpdate(it item, expr string, names map[string]string, values map[string]types.AttributeValue) (item, item, error) {
	updated := make(item)
	var setPart, removePart string
	if i := strings.Index(expr, "REMOVE "); i >= 0 {
		removePart = expr[i+len("REMOVE "):]
		expr = strings.TrimSpace(expr[:i])
	}
	if strings.HasPrefix(expr, "SET ") {
		setPart = expr[len("SET "):]
	}

	next := cloneItem(it)
	for _, assign := range splitTopLevel(setPart) {
		lhs, rhs, ok := strings.Cut(assign, " = ")
		if !ok {
			return nil, nil, validation("bad assignment %q", assign)
		}
		path, err := resolvePath(lhs, names)
		if err != nil {
			return nil, nil, err
		}
		v, err := evalOperand(it, rhs, names, values)
		if err != nil {
			return nil, nil, err
		}
		if err := setPath(next, path, v); err != nil {
			return nil, nil, err
		}
		updated[path[0]] = next[path[0]]
	}
	for _, p := range splitTopLevel(removePart) {
		path, err := resolvePath(p, names)
		if err != nil {
			return nil, nil, err
		}
		removePath(next, path)
	}
	return next, updated, nil
}

// store is the state a write works on: the live tables, or a transaction copy.
type store map[string]map[string]item

func (s store) get(table string, key item) (item, string, error) {
	k, err := keyString(key)
	if err != nil {
		return nil, "", err
	}
	return s[table][k], k, nil
}

func (s store) set(table, k string, it item) {
	if s[table] == nil {
		s[table] = make(map[string]item)
	}
	s[table][k] = it
}

func (s store) put(table string, it item, cond *string, names map[string]string, values map[string]types.AttributeValue) error {
	current, k, err := s.get(table, it)
	if err != nil {
		return err
	}
	ok, err := evalCondition(current, cond, names, values)
	if err != nil {
		return err
	}
	if !ok {
		return conditionFailed()
	}
	s.set(table, k, cloneItem(it))
	return nil
}

func (s store) update(table string, key item, expr, cond *string, names map[string]string, values map[string]types.AttributeValue) (item, error) {
	current, k, err := s.get(table, key)
	if err != nil {
		return nil, err
	}
	ok, err := evalCondition(current, cond, names, values)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	base := current
	if base == nil {
		base = cloneItem(key)
	}
	next, updated, err := applyUpdate(base, aws.ToString(expr), names, values)
	if err != nil {
		return nil, err
	}
	s.set(table, k, next)
	return updated, nil
}

func (s store) delete(table string, key item, cond *string, names map[string]string, values map[string]types.AttributeValue) error {
	current, k, err := s.get(table, key)
	if err != nil {
		return err
	}
	ok, err := evalCondition(current, cond, names, values)
	if err != nil {
		return err
	}
	if !ok {
		return conditionFailed()
	}
	delete(s[table], k)
	return nil
}

func (f *fakeDynamo) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetItem"); err != nil {
		return nil, err
	}
	it, _, err := store(f.tables).get(aws.ToString(params.TableName), params.Key)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: cloneItem(it)}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("PutItem"); err != nil {
		return nil, err
	}
	err := store(f.tables).put(aws.ToString(params.TableName), params.Item, params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("UpdateItem"); err != nil {
		return nil, err
	}
	f.lastUpdate = params
	updated, err := store(f.tables).update(aws.ToString(params.TableName), params.Key, params.UpdateExpression, params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	out := &dynamodb.UpdateItemOutput{}
	if params.ReturnValues == types.ReturnValueUpdatedNew {
		out.Attributes = updated
	}
	return out, nil
}

func (f *fakeDynamo) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("DeleteItem"); err != nil {
		return nil, err
	}
	err := store(f.tables).delete(aws.ToString(params.TableName), params.Key, params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

// page returns the items of a table matching the conditions, sorted by key
// and starting after the exclusive start key.
func (f *fakeDynamo) page(table string, conds []*string, names map[string]string, values map[string]types.AttributeValue, start item, limit *int32) ([]item, item, error) {
	keys := make([]string, 0, len(f.tables[table]))
	for k := range f.tables[table] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	after := ""
	if len(start) > 0 {
		k, err := keyString(start)
		if err != nil {
			return nil, nil, err
		}
		after = k
	}

	size := f.pageSize
	if limit != nil && int(*limit) < size {
		size = int(*limit)
	}

	var out []item
	for i, k := range keys {
		if after != "" && k <= after {
			continue
		}
		it := f.tables[table][k]
		match := true
		for _, c := range conds {
			ok, err := evalCondition(it, c, names, values)
			if err != nil {
				return nil, nil, err
			}
			match = match && ok
		}
		if match {
			out = append(out, cloneItem(it))
		}
		if len(out) == size && i < len(keys)-1 {
			return out, keyOf(it), nil
		}
	}
	return out, nil, nil
}

func (f *fakeDynamo) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("Query"); err != nil {
		return nil, err
	}
	items, last, err := f.page(aws.ToString(params.TableName), []*string{params.KeyConditionExpression, params.FilterExpression},
		params.ExpressionAttributeNames, params.ExpressionAttributeValues, params.ExclusiveStartKey, params.Limit)
	if err != nil {
		return nil, err
	}
	return &dynamodb.QueryOutput{Items: items, Count: int32(len(items)), LastEvaluatedKey: last}, nil
}

func (f *fakeDynamo) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("Scan"); err != nil {
		return nil, err
	}
	items, last, err := f.page(aws.ToString(params.TableName), []*string{params.FilterExpression},
		params.ExpressionAttributeNames, params.ExpressionAttributeValues, params.ExclusiveStartKey, params.Limit)
	if err != nil {
		return nil, err
	}
	return &dynamodb.ScanOutput{Items: items, Count: int32(len(items)), LastEvaluatedKey: last}, nil
}

func (f *fakeDynamo) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("TransactWriteItems"); err != nil {
		return nil, err
	}
	f.transactions = append(f.transactions, params.TransactItems)
	if len(params.TransactItems) > 100 {
		return nil, validation("member must have length less than or equal to 100")
	}

	work := make(store, len(f.tables))
	for t, items := range f.tables {
		work[t] = make(map[string]item, len(items))
		for k, v := range items {
			work[t][k] = v
		}
	}

	seen := make(map[string]bool)
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, w := range params.TransactItems {
		reasons[i] = types.CancellationReason{Code: aws.String("None")}

		var table string
		var key item
		var err error
		switch {
		case w.Put != nil:
			table, key = aws.ToString(w.Put.TableName), w.Put.Item
			err = work.put(table, w.Put.Item, w.Put.ConditionExpression, w.Put.ExpressionAttributeNames, w.Put.ExpressionAttributeValues)
		case w.Update != nil:
			table, key = aws.ToString(w.Update.TableName), w.Update.Key
			_, err = work.update(table, w.Update.Key, w.Update.UpdateExpression, w.Update.ConditionExpression, w.Update.ExpressionAttributeNames, w.Update.ExpressionAttributeValues)
		case w.Delete != nil:
			table, key = aws.ToString(w.Delete.TableName), w.Delete.Key
			err = work.delete(table, w.Delete.Key, w.Delete.ConditionExpression, w.Delete.ExpressionAttributeNames, w.Delete.ExpressionAttributeValues)
		default:
			return nil, validation("unsupported transaction item %d", i)
		}

		k, kerr := keyString(key)
		if kerr != nil {
			return nil, kerr
		}
		if seen[table+"/"+k] {
			return nil, validation("Transaction request cannot include multiple operations on one item")
		}
		seen[table+"/"+k] = true

		if err != nil {
			if _, ok := err.(*types.ConditionalCheckFailedException); !ok {
				return nil, err
			}
			reasons[i] = types.CancellationReason{Code: aws.String(reasonConditionalCheckFailed)}
			failed = true
		}
	}

	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}
	f.tables = work
	return &dynamodb.TransactWriteItemsOutput{}, nil
}
