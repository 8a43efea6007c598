package surreal

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

type Client struct {
	db *surrealdb.DB
}

// identifierRegex ensures that table names and fields only contain alphanumeric characters and underscores
var identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

func ValidateIdentifier(s string) error {
	if !identifierRegex.MatchString(s) {
		return fmt.Errorf("invalid identifier: %s", s)
	}
	return nil
}

// NormalizeHost adds the websocket scheme and rpc path to a bare host name.
func NormalizeHost(host string) string {
	if host == "" || strings.HasPrefix(host, "ws://") || strings.HasPrefix(host, "wss://") {
		return host
	}
	return "wss://" + host + "/rpc"
}

func NewClient(ctx context.Context, host, user, pass, namespace, database string) (*Client, error) {
	db, err := surrealdb.New(NormalizeHost(host))
	if err != nil {
		return nil, fmt.Errorf("failed to create surrealdb client: %w", err)
	}

	if _, err = db.SignIn(ctx, map[string]interface{}{
		"user": user,
		"pass": pass,
	}); err != nil {
		return nil, fmt.Errorf("failed to signin to surrealdb: %w", err)
	}

	if err = db.Use(ctx, namespace, database); err != nil {
		return nil, fmt.Errorf("failed to use surrealdb namespace/database: %w", err)
	}

	return &Client{db: db}, nil
}

func (c *Client) Close() {
	c.db.Close(context.Background())
}

// Query runs sql and returns the Result of the last statement.
func (c *Client) Query(ctx context.Context, sql string, vars map[string]interface{}) (interface{}, error) {
	if vars == nil {
		vars = map[string]interface{}{}
	}
	result, err := surrealdb.Query[interface{}](ctx, c.db, sql, vars)
	if err != nil {
		return nil, err
	}

	// Unwrap the result: *RawQueryResponse -> Result field
	rv := reflect.ValueOf(result)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}

	if rv.Kind() == reflect.Struct {
		resField := rv.FieldByName("Result")
		if resField.IsValid() {
			return resField.Interface(), nil
		}
	} else if rv.Kind() == reflect.Slice {
		if rv.Len() > 0 {
			lastElem := rv.Index(rv.Len() - 1)
			if lastElem.Kind() == reflect.Struct {
				if status := lastElem.FieldByName("Status"); status.IsValid() && status.Kind() == reflect.String && status.String() == "ERR" {
					return nil, fmt.Errorf("surrealdb query failed: %v", lastElem.FieldByName("Result").Interface())
				}
				resField := lastElem.FieldByName("Result")
				if resField.IsValid() {
					return resField.Interface(), nil
				}
			}
		}
	}

	return result, nil
}

// Rows runs sql and returns the rows of the last statement as maps.
func (c *Client) Rows(ctx context.Context, sql string, vars map[string]interface{}) ([]map[string]interface{}, error) {
	result, err := c.Query(ctx, sql, vars)
	if err != nil {
		return nil, err
	}
	raw, ok := result.([]interface{})
	if !ok {
		return nil, nil
	}
	rows := make([]map[string]interface{}, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]interface{}); ok {
			rows = append(rows, m)
		}
	}
	return rows, nil
}

// SelectWhere selects fields from table where every filter key equals its value.
func (c *Client) SelectWhere(ctx context.Context, table string, fields []string, filter map[string]interface{}) ([]map[string]interface{}, error) {
	if err := ValidateIdentifier(table); err != nil {
		return nil, err
	}
	for _, f := range fields {
		if err := ValidateIdentifier(f); err != nil {
			return nil, err
		}
	}

	whereClause, err := buildWhereClause(filter)
	if err != nil {
		return nil, err
	}

	projection := "*"
	if len(fields) > 0 {
		projection = strings.Join(fields, ", ")
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s;`, projection, table, whereClause)

	return c.Rows(ctx, query, filter)
}

func buildWhereClause(filter map[string]interface{}) (string, error) {
	if len(filter) == 0 {
		return "true", nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		// Validate filter keys
		if err := ValidateIdentifier(k); err != nil {
			return "", err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, len(keys))
	for i, k := range keys {
		clauses[i] = fmt.Sprintf("%s = $%s", k, k)
	}
	return strings.Join(clauses, " AND "), nil
}
