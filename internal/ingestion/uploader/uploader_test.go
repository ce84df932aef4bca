package uploader

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/dispatcher"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/objectstore"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/errors"
)

type fakeTrigger struct {
	mu    sync.Mutex
	tasks []dispatcher.Task
	err   error
	// status observed in the store when the trigger ran
	seen []model.Status
	st   store.Store
}

func (f *fakeTrigger) Mode() string { return "fake" }

func (f *fakeTrigger) Fire(ctx context.Context, task dispatcher.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	if f.st != nil {
		if e, err := f.st.Get(ctx, task.Kind, task.ID, store.Unrestricted); err == nil {
			f.seen = append(f.seen, e.Status)
		}
	}
	return f.err
}

type fakePages struct{ n int }

func (f fakePages) PageCount([]byte) (int, error) { return f.n, nil }

type failingCreate struct {
	*store.Memory
}

func (failingCreate) Create(context.Context, *model.Entity) error {
	return errors.New("database unavailable")
}

func pdfUpload(kind model.Kind) ingestion.Upload {
	data := []byte("%PDF-1.4\n" + strings.Repeat("x", 2048))
	return ingestion.Upload{
		Kind:        kind,
		OwnerID:     "u1",
		Filename:    "summons.pdf",
		ContentType: "application/pdf",
		Size:        int64(len(data)),
		Data:        data,
		Category:    "Party Info",
	}
}

func TestUploadStoresRecordsAndTriggers(t *testing.T) {
	st := store.NewMemory()
	objects := objectstore.NewMemory(time.Minute)
	tr := &fakeTrigger{st: st}
	svc := New(Config{}, st, objects, tr, fakePages{n: 2}, nil, nil)

	e, err := svc.Upload(context.Background(), pdfUpload(model.KindForm))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	svc.Wait()

	if e.Status != model.StatusProcessing || e.PageCount != 2 || e.Category != "Party Info" {
		t.Errorf("entity = %+v", e)
	}
	if !strings.HasPrefix(e.StorageKey, "forms/u1/") || !strings.HasSuffix(e.StorageKey, ".pdf") {
		t.Errorf("storage key = %q", e.StorageKey)
	}
	if _, err := objects.Get(context.Background(), e.StorageKey); err != nil {
		t.Errorf("object not stored: %v", err)
	}
	if len(tr.tasks) != 1 || tr.tasks[0].ID != e.ID || tr.tasks[0].Kind != model.KindForm || tr.tasks[0].OwnerID != "u1" {
		t.Fatalf("tasks = %+v", tr.tasks)
	}
	if len(tr.seen) != 1 || tr.seen[0] != model.StatusProcessing {
		t.Errorf("trigger observed %v, want processing", tr.seen)
	}
}

func TestUploadRejectsBeforeStorage(t *testing.T) {
	st := store.NewMemory()
	objects := objectstore.NewMemory(time.Minute)
	tr := &fakeTrigger{}
	svc := New(Config{}, st, objects, tr, nil, nil, nil)

	u := pdfUpload(model.KindDocument)
	u.ContentType = "text/plain"
	_, err := svc.Upload(context.Background(), u)
	if apperrors.HTTPStatusCode(err) != http.StatusBadRequest {
		t.Fatalf("err = %v", err)
	}
	svc.Wait()
	if objects.Len() != 0 || len(tr.tasks) != 0 {
		t.Errorf("objects = %d, tasks = %d", objects.Len(), len(tr.tasks))
	}
	docs, _ := st.List(context.Background(), model.KindDocument, store.Unrestricted, store.ListOptions{})
	if len(docs) != 0 {
		t.Errorf("documents = %d", len(docs))
	}
}

func TestUploadCleansUpWhenRecordFails(t *testing.T) {
	objects := objectstore.NewMemory(time.Minute)
	tr := &fakeTrigger{}
	svc := New(Config{}, failingCreate{store.NewMemory()}, objects, tr, nil, nil, nil)

	if _, err := svc.Upload(context.Background(), pdfUpload(model.KindDocument)); err == nil {
		t.Fatal("expected error")
	}
	svc.Wait()
	if objects.Len() != 0 {
		t.Errorf("stored object was not removed")
	}
	if len(tr.tasks) != 0 {
		t.Errorf("trigger fired for failed upload")
	}
}

func TestTriggerFailureDoesNotFailUpload(t *testing.T) {
	st := store.NewMemory()
	svc := New(Config{}, st, objectstore.NewMemory(time.Minute), &fakeTrigger{err: errors.New("broker down")}, nil, nil, nil)

	e, err := svc.Upload(context.Background(), pdfUpload(model.KindDocument))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	svc.Wait()
	got, _ := st.Get(context.Background(), model.KindDocument, e.ID, store.Unrestricted)
	if got.Status != model.StatusProcessing {
		t.Errorf("status = %s", got.Status)
	}
}

func TestTriggerOutlivesRequestContext(t *testing.T) {
	st := store.NewMemory()
	tr := &fakeTrigger{}
	svc := New(Config{}, st, objectstore.NewMemory(time.Minute), tr, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := svc.Upload(ctx, pdfUpload(model.KindDocument)); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	cancel()
	svc.Wait()
	if len(tr.tasks) != 1 {
		t.Errorf("tasks = %d", len(tr.tasks))
	}
}

func TestDeleteRemovesObject(t *testing.T) {
	st := store.NewMemory()
	objects := objectstore.NewMemory(time.Minute)
	svc := New(Config{}, st, objects, &fakeTrigger{}, nil, nil, nil)

	e, err := svc.Upload(context.Background(), pdfUpload(model.KindDocument))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	svc.Wait()

	if err := svc.Delete(context.Background(), model.KindDocument, e.ID, store.Scope{OwnerID: "other"}); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("foreign delete: %v", err)
	}
	if err := svc.Delete(context.Background(), model.KindDocument, e.ID, store.Scope{OwnerID: "u1"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if objects.Len() != 0 {
		t.Error("object not removed")
	}
}
