package weaviate

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"pdfsearch/internal/vector"
)

// idNamespace seeds the UUIDv5 object ids derived from chunk ids.
var idNamespace = uuid.MustParse("6f1c8a52-3d0e-4b7a-9c55-2f4e8d1b7a90")

// ObjectID maps a chunk id onto the deterministic object UUID Weaviate
// requires, so re-indexing a chunk overwrites the same object.
func ObjectID(chunkID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(idNamespace, []byte(chunkID)).String())
}

var filterProps = map[string]string{
	vector.KeyFileName: "fileName",
	vector.KeySource:   "source",
}

type Store struct {
	client    *weaviate.Client
	className string
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client, className: vector.DefaultClassName}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, schemaClient{client: s.client}, s.className)
}

func (s *Store) Upsert(ctx context.Context, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}

	objects := make([]*models.Object, len(records))
	for i, r := range records {
		objects[i] = &models.Object{
			Class: s.className,
			ID:    ObjectID(r.ID),
			Properties: map[string]interface{}{
				"text":       r.Text,
				"fileName":   r.FileName,
				"source":     r.Source,
				"chunkId":    r.ID,
				"chunkIndex": r.ChunkIndex,
			},
			Vector: models.C11yVector(r.Vector),
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("batch upsert: %w", err)
	}

	var failures []string
	for _, obj := range resp {
		if obj.Result == nil || obj.Result.Errors == nil {
			continue
		}
		for _, e := range obj.Result.Errors.Error {
			if e != nil {
				failures = append(failures, e.Message)
			}
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("batch upsert: %d object errors: %s", len(failures), strings.Join(failures, "; "))
	}
	return nil
}

func (s *Store) Query(ctx context.Context, vec []float32, topK int, filter vector.Filter) ([]vector.Match, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	fields := []graphql.Field{
		{Name: "text"},
		{Name: "fileName"},
		{Name: "source"},
		{Name: "chunkId"},
		{Name: "chunkIndex"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	query := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithNearVector(nearVector).
		WithLimit(topK).
		WithFields(fields...)
	if where := whereFor(filter); where != nil {
		query = query.WithWhere(where)
	}

	res, err := query.Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	var matches []vector.Match
	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return matches, nil
	}
	objects, ok := data[s.className].([]interface{})
	if !ok {
		return matches, nil
	}

	for _, o := range objects {
		props, ok := o.(map[string]interface{})
		if !ok {
			continue
		}
		m := vector.Match{}
		m.Text, _ = props["text"].(string)
		m.FileName, _ = props["fileName"].(string)
		m.Source, _ = props["source"].(string)
		m.ID, _ = props["chunkId"].(string)
		if idx, ok := props["chunkIndex"].(float64); ok {
			m.ChunkIndex = int(idx)
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if distance, ok := additional["distance"].(float64); ok {
				// cosine distance; similarity is its complement
				m.Score = float32(1 - distance)
			}
		}
		matches = append(matches, m)
	}

	return matches, nil
}

func (s *Store) DeleteByFileName(ctx context.Context, fileName string) error {
	return s.deleteWhere(ctx, filters.Where().
		WithPath([]string{"fileName"}).
		WithOperator(filters.Equal).
		WithValueText(fileName))
}

func (s *Store) DeleteStale(ctx context.Context, fileName string, keep int) error {
	return s.deleteWhere(ctx, filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"fileName"}).
				WithOperator(filters.Equal).
				WithValueText(fileName),
			filters.Where().
				WithPath([]string{"chunkIndex"}).
				WithOperator(filters.GreaterThanEqual).
				WithValueInt(int64(keep)),
		}))
}

func (s *Store) deleteWhere(ctx context.Context, where *filters.WhereBuilder) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(s.className).
		WithOutput("minimal").
		WithWhere(where).
		Do(ctx)
	return err
}

func (s *Store) CountRecords(ctx context.Context) (int, error) {
	meta := graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}

	res, err := s.client.GraphQL().Aggregate().
		WithClassName(s.className).
		WithFields(meta).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	agg, ok := res.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	groups, ok := agg[s.className].([]interface{})
	if !ok || len(groups) == 0 {
		return 0, nil
	}
	group, _ := groups[0].(map[string]interface{})
	m, _ := group["meta"].(map[string]interface{})
	count, _ := m["count"].(float64)
	return int(count), nil
}

func whereFor(filter vector.Filter) *filters.WhereBuilder {
	var operands []*filters.WhereBuilder
	for key, value := range filter {
		operands = append(operands, filters.Where().
			WithPath([]string{filterProps[key]}).
			WithOperator(filters.Equal).
			WithValueText(value))
	}
	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	default:
		return filters.Where().WithOperator(filters.And).WithOperands(operands)
	}
}
