package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"citadex/internal/crawler"
	"citadex/internal/domain"
	"citadex/internal/logger"
	"citadex/internal/worker"
)

type MockCrawler struct{ mock.Mock }

func (m *MockCrawler) Run(ctx context.Context, opts crawler.RunOptions) (domain.CrawlReport, error) {
	args := m.Called(ctx, opts)
	return args.Get(0).(domain.CrawlReport), args.Error(1)
}

type MockResolver struct{ mock.Mock }

func (m *MockResolver) Resolve(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func message(t *testing.T, task worker.IngestTask) *nsq.Message {
	body, err := json.Marshal(task)
	assert.NoError(t, err)
	return &nsq.Message{Body: body}
}

func TestIngestConsumer_HandleMessage(t *testing.T) {
	c := new(MockCrawler)
	r := new(MockResolver)
	consumer := worker.NewIngestConsumer(c, r, []string{"/filing"}, []string{"/es/"})

	want := crawler.RunOptions{
		Seeds:         []string{"https://www.irs.gov/filing/individuals"},
		MaxPages:      1,
		Concurrency:   1,
		AllowPDF:      true,
		AllowPrefixes: []string{"/filing"},
		BlockPrefixes: []string{"/es/"},
	}
	c.On("Run", mock.MatchedBy(func(ctx context.Context) bool {
		return logger.CorrelationID(ctx) == "corr-1"
	}), want).Return(domain.CrawlReport{Fetched: 1, Indexed: 1}, nil)
	r.On("Resolve", mock.Anything, "https://www.irs.gov/filing/individuals").Return(nil)

	err := consumer.HandleMessage(message(t, worker.IngestTask{URL: "https://www.irs.gov/filing/individuals", AllowPDF: true, CorrelationID: "corr-1"}))
	assert.NoError(t, err)
	c.AssertExpectations(t)
	r.AssertExpectations(t)
}

func TestIngestConsumer_ResolveErrorStillAcks(t *testing.T) {
	c := new(MockCrawler)
	c.On("Run", mock.Anything, mock.Anything).Return(domain.CrawlReport{Fetched: 1, Unchanged: 1}, nil)
	r := new(MockResolver)
	r.On("Resolve", mock.Anything, "https://www.irs.gov/x").Return(errors.New("db down"))

	err := worker.NewIngestConsumer(c, r, nil, nil).HandleMessage(message(t, worker.IngestTask{URL: "https://www.irs.gov/x"}))
	assert.NoError(t, err)
	r.AssertExpectations(t)
}

func TestIngestConsumer_FailedURLIsAcked(t *testing.T) {
	c := new(MockCrawler)
	c.On("Run", mock.Anything, mock.Anything).Return(domain.CrawlReport{
		Failed:   1,
		Failures: []domain.URLFailure{{URL: "https://www.irs.gov/x", Kind: "fetch", Error: "status 503"}},
	}, nil)

	r := new(MockResolver)
	err := worker.NewIngestConsumer(c, r, nil, nil).HandleMessage(message(t, worker.IngestTask{URL: "https://www.irs.gov/x"}))
	assert.NoError(t, err)
	r.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
}

func TestIngestConsumer_NothingIngestedKeepsJob(t *testing.T) {
	reports := map[string]domain.CrawlReport{
		"skipped":   {Skipped: 1},
		"off host":  {Fetched: 1, OffHost: 1, OffHostSample: []string{"https://example.com/x"}},
		"cancelled": {Cancelled: true},
		"duplicate": {Fetched: 1, Duplicates: 1},
	}
	for name, report := range reports {
		t.Run(name, func(t *testing.T) {
			c := new(MockCrawler)
			c.On("Run", mock.Anything, mock.Anything).Return(report, nil)
			r := new(MockResolver)

			err := worker.NewIngestConsumer(c, r, nil, nil).HandleMessage(message(t, worker.IngestTask{URL: "https://www.irs.gov/x"}))
			assert.NoError(t, err)
			r.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
		})
	}
}

func TestIngestConsumer_NotModifiedResolves(t *testing.T) {
	c := new(MockCrawler)
	c.On("Run", mock.Anything, mock.Anything).Return(domain.CrawlReport{Fetched: 1, NotModified: 1}, nil)
	r := new(MockResolver)
	r.On("Resolve", mock.Anything, "https://www.irs.gov/x").Return(nil)

	err := worker.NewIngestConsumer(c, r, nil, nil).HandleMessage(message(t, worker.IngestTask{URL: "https://www.irs.gov/x"}))
	assert.NoError(t, err)
	r.AssertExpectations(t)
}

func TestIngestConsumer_RunErrorRequeues(t *testing.T) {
	c := new(MockCrawler)
	c.On("Run", mock.Anything, mock.Anything).Return(domain.CrawlReport{}, errors.New("crawl: invalid seed"))

	err := worker.NewIngestConsumer(c, nil, nil, nil).HandleMessage(message(t, worker.IngestTask{URL: "https://www.irs.gov/x"}))
	assert.Error(t, err)
}

func TestIngestConsumer_PoisonPill(t *testing.T) {
	c := new(MockCrawler)
	consumer := worker.NewIngestConsumer(c, nil, nil, nil)

	assert.NoError(t, consumer.HandleMessage(&nsq.Message{Body: []byte("invalid json")}))
	assert.NoError(t, consumer.HandleMessage(&nsq.Message{Body: nil}))
	assert.NoError(t, consumer.HandleMessage(message(t, worker.IngestTask{})))
	c.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}
