package stats

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockDocumentRepo struct{ mock.Mock }

func (m *MockDocumentRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int), args.Error(1)
}

type MockJobRepo struct{ mock.Mock }

func (m *MockJobRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockVectorStore struct{ mock.Mock }

func (m *MockVectorStore) CountLatest(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockModels struct{ mock.Mock }

func (m *MockModels) IndexedModel(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func TestService_Get_Table(t *testing.T) {
	tests := []struct {
		name       string
		setupMocks func(*MockDocumentRepo, *MockJobRepo, *MockVectorStore, *MockModels)
		wantErr    string
		want       *Stats
	}{
		{
			name: "Success",
			setupMocks: func(d *MockDocumentRepo, j *MockJobRepo, v *MockVectorStore, m *MockModels) {
				d.On("CountByStatus", mock.Anything).Return(map[string]int{"indexed": 12, "failed": 1}, nil)
				j.On("Count", mock.Anything).Return(1, nil)
				v.On("CountLatest", mock.Anything).Return(240, nil)
				m.On("IndexedModel", mock.Anything).Return("gemini-embedding-001", nil)
			},
			want: &Stats{
				Documents:      map[string]int{"indexed": 12, "failed": 1},
				LatestEntries:  240,
				FailedJobs:     1,
				EmbeddingModel: "gemini-embedding-001",
			},
		},
		{
			name: "Document Repo Error",
			setupMocks: func(d *MockDocumentRepo, j *MockJobRepo, v *MockVectorStore, m *MockModels) {
				d.On("CountByStatus", mock.Anything).Return(nil, errors.New("db error"))
			},
			wantErr: "count documents",
		},
		{
			name: "Job Repo Error",
			setupMocks: func(d *MockDocumentRepo, j *MockJobRepo, v *MockVectorStore, m *MockModels) {
				d.On("CountByStatus", mock.Anything).Return(map[string]int{}, nil)
				j.On("Count", mock.Anything).Return(0, errors.New("db error"))
			},
			wantErr: "count failed jobs",
		},
		{
			name: "Vector Store Error",
			setupMocks: func(d *MockDocumentRepo, j *MockJobRepo, v *MockVectorStore, m *MockModels) {
				d.On("CountByStatus", mock.Anything).Return(map[string]int{}, nil)
				j.On("Count", mock.Anything).Return(0, nil)
				v.On("CountLatest", mock.Anything).Return(0, errors.New("weaviate down"))
			},
			wantErr: "count index entries",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, j, v, m := new(MockDocumentRepo), new(MockJobRepo), new(MockVectorStore), new(MockModels)
			tt.setupMocks(d, j, v, m)

			got, err := NewService(d, j, v, m).Get(context.Background())
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
