package vector

import (
	"context"

	"github.com/weaviate/weaviate/entities/models"
)

// ClassName is the Weaviate class holding every indexed chunk version.
const ClassName = "CitationChunk"

// SchemaClient is the subset of the Weaviate schema API the index needs.
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

func properties() []*models.Property {
	return []*models.Property{
		{Name: "chunkKey", DataType: []string{"string"}},
		{Name: "version", DataType: []string{"int"}},
		{Name: "url", DataType: []string{"string"}},
		{Name: "title", DataType: []string{"text"}},
		{Name: "section", DataType: []string{"text"}},
		{Name: "content", DataType: []string{"text"}},
		{Name: "charStart", DataType: []string{"int"}},
		{Name: "charEnd", DataType: []string{"int"}},
		{Name: "page", DataType: []string{"int"}},
		{Name: "seq", DataType: []string{"int"}},
		{Name: "contentType", DataType: []string{"string"}},
		{Name: "crawledAt", DataType: []string{"date"}},
		{Name: "isLatest", DataType: []string{"boolean"}},
		{Name: "embeddingModel", DataType: []string{"string"}},
	}
}

// EnsureSchema creates the chunk class with cosine distance, or adds any
// properties an older deployment is missing.
func EnsureSchema(ctx context.Context, client SchemaClient) error {
	exists, err := client.ClassExists(ctx, ClassName)
	if err != nil {
		return err
	}

	props := properties()
	if !exists {
		return client.CreateClass(ctx, &models.Class{
			Class:       ClassName,
			Description: "A versioned span of a crawled page or PDF",
			Vectorizer:  "none",
			VectorIndexConfig: map[string]interface{}{
				"distance": "cosine",
			},
			Properties: props,
		})
	}

	class, err := client.GetClass(ctx, ClassName)
	if err != nil {
		return err
	}

	existing := make(map[string]bool)
	for _, p := range class.Properties {
		existing[p.Name] = true
	}
	for _, p := range props {
		if !existing[p.Name] {
			if err := client.AddProperty(ctx, ClassName, p); err != nil {
				return err
			}
		}
	}
	return nil
}
