package vector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

type MockSchemaClient struct {
	CreatedClass    *models.Class
	ExistingClass   *models.Class
	AddedProperties []*models.Property
	ExistsErr       error
}

func (m *MockSchemaClient) ClassExists(ctx context.Context, className string) (bool, error) {
	if m.ExistsErr != nil {
		return false, m.ExistsErr
	}
	return m.ExistingClass != nil, nil
}

func (m *MockSchemaClient) CreateClass(ctx context.Context, class *models.Class) error {
	m.CreatedClass = class
	return nil
}

func (m *MockSchemaClient) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return m.ExistingClass, nil
}

func (m *MockSchemaClient) AddProperty(ctx context.Context, className string, property *models.Property) error {
	m.AddedProperties = append(m.AddedProperties, property)
	return nil
}

func TestEnsureSchema_CreatesClass(t *testing.T) {
	client := &MockSchemaClient{}
	require.NoError(t, EnsureSchema(context.Background(), client))
	require.NotNil(t, client.CreatedClass)

	assert.Equal(t, ClassName, client.CreatedClass.Class)
	assert.Equal(t, "none", client.CreatedClass.Vectorizer)
	assert.Equal(t, map[string]interface{}{"distance": "cosine"}, client.CreatedClass.VectorIndexConfig)

	types := map[string]string{}
	for _, p := range client.CreatedClass.Properties {
		types[p.Name] = p.DataType[0]
	}
	assert.Equal(t, "boolean", types["isLatest"])
	assert.Equal(t, "date", types["crawledAt"])
	assert.Equal(t, "string", types["url"])
	assert.Equal(t, "int", types["charStart"])
}

func TestEnsureSchema_AddsMissingProperties(t *testing.T) {
	client := &MockSchemaClient{
		ExistingClass: &models.Class{
			Class: ClassName,
			Properties: []*models.Property{
				{Name: "content", DataType: []string{"text"}},
				{Name: "url", DataType: []string{"string"}},
			},
		},
	}
	require.NoError(t, EnsureSchema(context.Background(), client))
	assert.Nil(t, client.CreatedClass)

	added := map[string]bool{}
	for _, p := range client.AddedProperties {
		added[p.Name] = true
	}
	assert.True(t, added["isLatest"])
	assert.True(t, added["embeddingModel"])
	assert.False(t, added["content"])
	assert.Len(t, client.AddedProperties, len(properties())-2)
}

func TestEnsureSchema_PropagatesErrors(t *testing.T) {
	client := &MockSchemaClient{ExistsErr: errors.New("unreachable")}
	assert.Error(t, EnsureSchema(context.Background(), client))
}
