package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"rexe/internal/common/mq"
	"rexe/internal/common/storage"
	"rexe/internal/execute/sandbox/result"
	"rexe/internal/execute/sandbox/runner"
	"rexe/internal/submission/model"
)

type fakeRunner struct {
	requests []runner.Request
	result   result.Result
	err      error
}

func (f *fakeRunner) Execute(ctx context.Context, req runner.Request) (result.Result, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return result.Result{}, f.err
	}
	return f.result, nil
}

type fixture struct {
	queue  *mq.MemoryQueue
	store  *storage.JSONStore
	runner *fakeRunner
	worker *Worker
	cons   *mq.Consumer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewJSONStore(storage.NewMemoryStorage(), "rexe", false)
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	queue := mq.NewMemoryQueue(mq.MemoryQueueOptions{VisibilityTimeout: time.Minute})
	r := &fakeRunner{result: result.Result{Status: result.StatusSuccess, Output: "42\n"}}
	w, err := NewWorker(model.LanguageCpp, store, queue, r)
	if err != nil {
		t.Fatalf("new worker failed: %v", err)
	}
	cons, err := mq.NewConsumer(queue, mq.ConsumerConfig{
		Topic:          w.Topic(),
		Wait:           20 * time.Millisecond,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  time.Millisecond,
	}, w.Handle)
	if err != nil {
		t.Fatalf("new consumer failed: %v", err)
	}
	return &fixture{queue: queue, store: store, runner: r, worker: w, cons: cons}
}

func (f *fixture) submit(t *testing.T, username string, payload model.Payload) model.Key {
	t.Helper()
	ctx := context.Background()
	key := model.NewKey(username, payload)
	if err := f.store.PutJSON(ctx, key.RequestObject(), payload); err != nil {
		t.Fatalf("put payload failed: %v", err)
	}
	body, _ := model.WorkItem{SubmissionKey: key.String(), Fingerprint: payload.Fingerprint(), Username: username}.Encode()
	if err := f.queue.Enqueue(ctx, model.WorkTopic(payload.Language), key.DedupToken(time.Now()), body); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	return key
}

func samplePayload() model.Payload {
	return model.Payload{Code: "int main(){}", Input: "6 7", Filename: "a.cpp", Language: model.LanguageCpp, TimeLimit: 2, MemoryLimit: 64}
}

func TestWorkerProcessesSubmission(t *testing.T) {
	f := newFixture(t)
	payload := samplePayload()
	key := f.submit(t, "alice", payload)

	if got := f.cons.Cycle(context.Background()); got != mq.CycleProcessed {
		t.Fatalf("expected processed cycle, got %s", got)
	}

	if len(f.runner.requests) != 1 {
		t.Fatalf("expected one execution, got %d", len(f.runner.requests))
	}
	req := f.runner.requests[0]
	if req.Code != payload.Code || req.Input != payload.Input || req.TimeLimitSec != 2 || req.MemoryLimitMB != 64 {
		t.Fatalf("unexpected runner request %+v", req)
	}

	var stored result.Result
	if err := f.store.GetJSON(context.Background(), key.ResultObject(), &stored); err != nil {
		t.Fatalf("result not stored: %v", err)
	}
	if stored.Status != result.StatusSuccess || stored.Fingerprint != payload.Fingerprint() {
		t.Fatalf("unexpected stored result %+v", stored)
	}

	if f.queue.InFlight() != 0 || f.queue.Depth(f.worker.Topic()) != 0 {
		t.Fatalf("work message not deleted")
	}
	notice, err := f.queue.Receive(context.Background(), model.ResultTopic, 10*time.Millisecond, "check")
	if err != nil || notice == nil {
		t.Fatalf("expected completion notice, err=%v", err)
	}
	decoded, noticeKey, err := model.DecodeCompletionNotice(notice.Message.Body)
	if err != nil {
		t.Fatalf("decode notice failed: %v", err)
	}
	if noticeKey != key || decoded.Fingerprint != payload.Fingerprint() {
		t.Fatalf("unexpected notice %+v", decoded)
	}
}

func TestWorkerReportsQueuedFingerprintWhenPayloadChanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := samplePayload()
	key := f.submit(t, "alice", first)
	second := first
	second.Input = "1 2"
	if err := f.store.PutJSON(ctx, key.RequestObject(), second); err != nil {
		t.Fatalf("put payload failed: %v", err)
	}

	if got := f.cons.Cycle(ctx); got != mq.CycleProcessed {
		t.Fatalf("expected processed cycle, got %s", got)
	}
	notice, err := f.queue.Receive(ctx, model.ResultTopic, 10*time.Millisecond, "check")
	if err != nil || notice == nil {
		t.Fatalf("expected completion notice, err=%v", err)
	}
	decoded, _, err := model.DecodeCompletionNotice(notice.Message.Body)
	if err != nil {
		t.Fatalf("decode notice failed: %v", err)
	}
	if decoded.Fingerprint != second.Fingerprint() || decoded.QueuedFingerprint != first.Fingerprint() {
		t.Fatalf("unexpected notice %+v", decoded)
	}
}

func TestWorkerRunnerFailureLeavesMessage(t *testing.T) {
	f := newFixture(t)
	f.runner.err = errors.New("fork failed")
	key := f.submit(t, "alice", samplePayload())

	if got := f.cons.Cycle(context.Background()); got != mq.CycleAbandoned {
		t.Fatalf("expected abandoned cycle, got %s", got)
	}
	if len(f.runner.requests) != 2 {
		t.Fatalf("expected one retry, got %d executions", len(f.runner.requests))
	}
	if f.queue.InFlight() != 1 {
		t.Fatalf("message must stay pending for redelivery")
	}
	if f.queue.Depth(model.ResultTopic) != 0 {
		t.Fatalf("no notice may be published on failure")
	}
	var stored result.Result
	if err := f.store.GetJSON(context.Background(), key.ResultObject(), &stored); err == nil {
		t.Fatalf("no result may be stored on failure")
	}
}

func TestWorkerDropsMalformedItem(t *testing.T) {
	f := newFixture(t)
	if err := f.queue.Enqueue(context.Background(), f.worker.Topic(), "", []byte("{")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if got := f.cons.Cycle(context.Background()); got != mq.CycleProcessed {
		t.Fatalf("expected processed cycle, got %s", got)
	}
	if f.queue.InFlight() != 0 || len(f.runner.requests) != 0 {
		t.Fatalf("malformed item must be deleted without execution")
	}
}

func TestWorkerDropsItemWithoutPayload(t *testing.T) {
	f := newFixture(t)
	body, _ := model.WorkItem{SubmissionKey: "bob/gone.cpp/cpp", Fingerprint: "x", Username: "bob"}.Encode()
	if err := f.queue.Enqueue(context.Background(), f.worker.Topic(), "", body); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if got := f.cons.Cycle(context.Background()); got != mq.CycleProcessed {
		t.Fatalf("expected processed cycle, got %s", got)
	}
	if f.queue.InFlight() != 0 || len(f.runner.requests) != 0 {
		t.Fatalf("item without payload must be deleted without execution")
	}
}

func TestWorkerIdleCycle(t *testing.T) {
	f := newFixture(t)
	if got := f.cons.Cycle(context.Background()); got != mq.CycleIdle {
		t.Fatalf("expected idle cycle, got %s", got)
	}
}

func TestNewWorkerRejectsUnknownLanguage(t *testing.T) {
	store, _ := storage.NewJSONStore(storage.NewMemoryStorage(), "rexe", false)
	if _, err := NewWorker("go", store, mq.NewMemoryQueue(mq.MemoryQueueOptions{}), &fakeRunner{}); err == nil {
		t.Fatalf("expected error")
	}
}
