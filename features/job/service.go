package job

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"citadex/internal/config"
	"citadex/internal/domain"
	"citadex/internal/worker"
)

var ErrPublishTimeout = errors.New("timeout waiting for NSQ publish")

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo           Repository
	pub            EventPublisher
	allowPDF       bool
	publishTimeout time.Duration
}

func NewService(repo Repository, pub EventPublisher, allowPDF bool) *Service {
	return &Service{repo: repo, pub: pub, allowPDF: allowPDF, publishTimeout: 5 * time.Second}
}

// RecordFailure stores a failed URL together with the task that re-ingests it.
func (s *Service) RecordFailure(ctx context.Context, url string, cause error) error {
	payload, err := json.Marshal(worker.IngestTask{URL: url, AllowPDF: s.allowPDF})
	if err != nil {
		return err
	}
	j := &Job{URL: url, Kind: domain.FailureKind(cause), Payload: payload, Error: cause.Error()}
	if err := s.repo.Save(ctx, j); err != nil {
		return err
	}
	slog.InfoContext(ctx, "failed url recorded", "url", url, "kind", j.Kind, "job_id", j.ID, "failures", j.Failures)
	return nil
}

func (s *Service) List(ctx context.Context) ([]Job, error) {
	return s.repo.List(ctx)
}

// Retry re-publishes the job's task. The job stays listed until a worker
// ingests the URL and calls Resolve; failing again bumps its count.
func (s *Service) Retry(ctx context.Context, id string) error {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.pub.Publish(config.TopicIngestURL, j.Payload)
	}()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-time.After(s.publishTimeout):
		return ErrPublishTimeout
	case <-ctx.Done():
		return ctx.Err()
	}

	slog.InfoContext(ctx, "failed job re-queued", "job_id", id, "url", j.URL, "failures", j.Failures)
	return nil
}

// Resolve clears the job of a URL that has since been ingested.
func (s *Service) Resolve(ctx context.Context, url string) error {
	removed, err := s.repo.DeleteByURL(ctx, url)
	if err != nil {
		return err
	}
	if removed {
		slog.InfoContext(ctx, "failed job resolved", "url", url)
	}
	return nil
}

// Drop discards a job without retrying it.
func (s *Service) Drop(ctx context.Context, id string) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
