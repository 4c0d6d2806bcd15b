package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/framelift/segmenter/internal/pipeline"
	"github.com/framelift/segmenter/pkg/models"
)

type sentMessage struct {
	queueURL string
	body     string
}

// fakeQueue records deletes and sends.
type fakeQueue struct {
	mu      sync.Mutex
	deletes int
	sends   []sentMessage
	sendErr error
}

func (q *fakeQueue) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{}, nil
}

func (q *fakeQueue) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deletes++
	return &sqs.DeleteMessageOutput{}, nil
}

func (q *fakeQueue) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sendErr != nil {
		return nil, q.sendErr
	}
	q.sends = append(q.sends, sentMessage{
		queueURL: aws.ToString(params.QueueUrl),
		body:     aws.ToString(params.MessageBody),
	})
	return &sqs.SendMessageOutput{}, nil
}

// fakeRunner is a canned pipeline.
type fakeRunner struct {
	result models.Result
	err    error
	emit   []models.Segment
	called bool
	gotJob models.Job
}

func (r *fakeRunner) Run(ctx context.Context, job models.Job, obs pipeline.Observer) (models.Result, error) {
	r.called = true
	r.gotJob = job
	if r.err != nil {
		obs.OnError(r.err)
		return nil, r.err
	}
	for _, seg := range r.emit {
		obs.OnSegment(seg)
	}
	obs.OnEnd(r.result)
	return r.result, nil
}

// fakeStatusStore records status transitions.
type fakeStatusStore struct {
	processing []string
	completed  []string
	failed     []string
	err        error
}

func (s *fakeStatusStore) MarkProcessing(ctx context.Context, jobID, sourceURI string) error {
	s.processing = append(s.processing, jobID)
	return s.err
}

func (s *fakeStatusStore) MarkCompleted(ctx context.Context, jobID string, segmentCount int) error {
	s.completed = append(s.completed, jobID)
	return s.err
}

func (s *fakeStatusStore) MarkFailed(ctx context.Context, jobID, errorMessage string) error {
	s.failed = append(s.failed, jobID)
	return s.err
}

func newTestConsumer(queue *fakeQueue, runner *fakeRunner, store StatusStore, dropFatal bool) *Consumer {
	return New(&Config{
		Queue:          queue,
		Pipeline:       runner,
		StatusStore:    store,
		JobsQueueURL:   "https://sqs.test/jobs",
		EventsQueueURL: "https://sqs.test/events",
		DropFatalJobs:  dropFatal,
		Logger:         slog.Default(),
	})
}

func jobMessage(t *testing.T, body string) types.Message {
	t.Helper()
	return types.Message{
		MessageId:     aws.String("m1"),
		ReceiptHandle: aws.String("rh1"),
		Body:          aws.String(body),
	}
}

func TestHandleMessageSuccessAcks(t *testing.T) {
	queue := &fakeQueue{}
	runner := &fakeRunner{result: models.Result{1: "s3://segments/movie/movie_1.jpg"}}
	c := newTestConsumer(queue, runner, nil, false)

	c.handleMessage(context.Background(), jobMessage(t, `{"id":"v1","uri":"https://host/movie.mp4"}`))

	if !runner.called {
		t.Fatal("pipeline never invoked")
	}
	if runner.gotJob.ID != "v1" || runner.gotJob.URI != "https://host/movie.mp4" {
		t.Errorf("job = %+v, want decoded fields", runner.gotJob)
	}
	if queue.deletes != 1 {
		t.Errorf("deletes = %d, want 1", queue.deletes)
	}
}

func TestHandleMessageTransientLeavesPending(t *testing.T) {
	queue := &fakeQueue{}
	runner := &fakeRunner{err: models.Transient(errors.New("store unavailable"))}
	c := newTestConsumer(queue, runner, nil, false)

	c.handleMessage(context.Background(), jobMessage(t, `{"id":"v1","uri":"https://host/movie.mp4"}`))

	if queue.deletes != 0 {
		t.Errorf("deletes = %d, want 0 (message left for redelivery)", queue.deletes)
	}
}

func TestHandleMessageFatalDefaultLeavesPending(t *testing.T) {
	queue := &fakeQueue{}
	runner := &fakeRunner{err: models.Fatal(errors.New("unexpected status 404"))}
	c := newTestConsumer(queue, runner, nil, false)

	c.handleMessage(context.Background(), jobMessage(t, `{"id":"v1","uri":"https://host/movie.mp4"}`))

	if queue.deletes != 0 {
		t.Errorf("deletes = %d, want 0 in reference behavior", queue.deletes)
	}
}

func TestHandleMessageFatalDropped(t *testing.T) {
	queue := &fakeQueue{}
	runner := &fakeRunner{err: models.Fatal(errors.New("unexpected status 404"))}
	c := newTestConsumer(queue, runner, nil, true)

	c.handleMessage(context.Background(), jobMessage(t, `{"id":"v1","uri":"https://host/movie.mp4"}`))

	if queue.deletes != 1 {
		t.Errorf("deletes = %d, want 1 with DropFatalJobs enabled", queue.deletes)
	}
}

func TestProcessMessageRejectsBadBodies(t *testing.T) {
	tests := []struct {
		name string
		body *string
	}{
		{"nil body", nil},
		{"invalid json", aws.String("{not json")},
		{"missing id", aws.String(`{"uri":"https://host/movie.mp4"}`)},
		{"missing uri", aws.String(`{"id":"v1"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := &fakeQueue{}
			runner := &fakeRunner{}
			c := newTestConsumer(queue, runner, nil, false)

			err := c.processMessage(context.Background(), types.Message{
				MessageId:     aws.String("m1"),
				ReceiptHandle: aws.String("rh1"),
				Body:          tt.body,
			})
			if err == nil {
				t.Fatal("processMessage() error = nil, want error")
			}
			if !errors.Is(err, models.ErrJobParseFailed) {
				t.Errorf("processMessage() error = %v, want ErrJobParseFailed", err)
			}
			if !models.IsFatal(err) {
				t.Errorf("parse failure classified transient, want fatal: %v", err)
			}
			if runner.called {
				t.Error("pipeline invoked for unparseable message")
			}
		})
	}
}

func TestSegmentEventPublishing(t *testing.T) {
	queue := &fakeQueue{}
	runner := &fakeRunner{
		result: models.Result{1: "s3://segments/movie/movie_1.jpg", 2: "s3://segments/movie/movie_2.jpg"},
		emit: []models.Segment{
			{Index: 1, URI: "s3://segments/movie/movie_1.jpg", FrameRate: 29.97},
			{Index: 2, URI: "s3://segments/movie/movie_2.jpg", FrameRate: 29.97},
		},
	}
	c := newTestConsumer(queue, runner, nil, false)

	c.handleMessage(context.Background(), jobMessage(t, `{"id":"v1","uri":"https://host/movie.mp4"}`))

	if len(queue.sends) != 2 {
		t.Fatalf("events published = %d, want 2", len(queue.sends))
	}
	for i, sent := range queue.sends {
		if sent.queueURL != "https://sqs.test/events" {
			t.Errorf("event %d queue = %q, want events queue", i, sent.queueURL)
		}

		var event models.SegmentEvent
		if err := json.Unmarshal([]byte(sent.body), &event); err != nil {
			t.Fatalf("event %d body is not valid JSON: %v", i, err)
		}
		if event.VideoID != "v1" {
			t.Errorf("event %d video_id = %q, want v1", i, event.VideoID)
		}
		if event.FPS != 29.97 {
			t.Errorf("event %d fps = %v, want 29.97", i, event.FPS)
		}
		want := runner.result[event.SegmentIdx]
		if event.SegmentURI != want {
			t.Errorf("event %d segment_uri = %q, want %q", i, event.SegmentURI, want)
		}
	}
}

func TestSegmentEventPublishFailureDoesNotFailJob(t *testing.T) {
	queue := &fakeQueue{sendErr: errors.New("events queue down")}
	runner := &fakeRunner{
		result: models.Result{1: "s3://segments/movie/movie_1.jpg"},
		emit:   []models.Segment{{Index: 1, URI: "s3://segments/movie/movie_1.jpg", FrameRate: 30}},
	}
	c := newTestConsumer(queue, runner, nil, false)

	c.handleMessage(context.Background(), jobMessage(t, `{"id":"v1","uri":"https://host/movie.mp4"}`))

	if queue.deletes != 1 {
		t.Errorf("deletes = %d, want 1 (publish is best-effort)", queue.deletes)
	}
}

func TestStatusStoreTransitions(t *testing.T) {
	t.Run("success marks completed", func(t *testing.T) {
		store := &fakeStatusStore{}
		runner := &fakeRunner{result: models.Result{}}
		c := newTestConsumer(&fakeQueue{}, runner, store, false)

		c.handleMessage(context.Background(), jobMessage(t, `{"id":"v1","uri":"https://host/movie.mp4"}`))

		if len(store.processing) != 1 || len(store.completed) != 1 || len(store.failed) != 0 {
			t.Errorf("transitions = %d/%d/%d, want 1 processing, 1 completed, 0 failed",
				len(store.processing), len(store.completed), len(store.failed))
		}
	})

	t.Run("failure marks failed", func(t *testing.T) {
		store := &fakeStatusStore{}
		runner := &fakeRunner{err: models.Transient(errors.New("boom"))}
		c := newTestConsumer(&fakeQueue{}, runner, store, false)

		c.handleMessage(context.Background(), jobMessage(t, `{"id":"v1","uri":"https://host/movie.mp4"}`))

		if len(store.failed) != 1 || len(store.completed) != 0 {
			t.Errorf("transitions = %d failed / %d completed, want 1/0", len(store.failed), len(store.completed))
		}
	})

	t.Run("store errors never change the ack decision", func(t *testing.T) {
		queue := &fakeQueue{}
		store := &fakeStatusStore{err: errors.New("dynamo down")}
		runner := &fakeRunner{result: models.Result{}}
		c := newTestConsumer(queue, runner, store, false)

		c.handleMessage(context.Background(), jobMessage(t, `{"id":"v1","uri":"https://host/movie.mp4"}`))

		if queue.deletes != 1 {
			t.Errorf("deletes = %d, want 1", queue.deletes)
		}
	})
}
