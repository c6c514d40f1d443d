package jobs_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonesrussell/fluentbot/internal/indexer"
	"github.com/jonesrussell/fluentbot/internal/models"
	"github.com/jonesrussell/fluentbot/internal/queue"
	"github.com/jonesrussell/fluentbot/internal/scraper"
)

type fakeSources struct {
	mu      sync.Mutex
	sources map[string]*models.Source
}

func newFakeSources(sources ...*models.Source) *fakeSources {
	f := &fakeSources{sources: make(map[string]*models.Source)}
	for _, s := range sources {
		f.sources[s.ID] = s
	}
	return f
}

func (f *fakeSources) GetByID(_ context.Context, id string) (*models.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sources[id]
	if !ok {
		return nil, errors.New("not found")
	}
	copied := *s
	return &copied, nil
}

func (f *fakeSources) TransitionStatus(_ context.Context, id string, to models.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sources[id]
	if !ok {
		return errors.New("not found")
	}
	if err := s.Status.ValidateTransition(to); err != nil {
		return err
	}
	s.Status = to
	return nil
}

func (f *fakeSources) MarkIndexed(_ context.Context, id string, lastRefresh time.Time, nextRefresh *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sources[id]
	if !ok {
		return errors.New("not found")
	}
	if err := s.Status.ValidateTransition(models.StatusIndexed); err != nil {
		return err
	}
	s.Status = models.StatusIndexed
	s.LastRefreshAt = &lastRefresh
	s.NextRefreshAt = nextRefresh
	return nil
}

func (f *fakeSources) UpdateTitle(_ context.Context, id, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sources[id]
	if !ok {
		return errors.New("not found")
	}
	s.Title = title
	return nil
}

func (f *fakeSources) MergeData(_ context.Context, id string, patch map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sources[id]
	if !ok {
		return errors.New("not found")
	}
	s.Data = s.Data.Merge(patch)
	return nil
}

func (f *fakeSources) get(id string) models.Source {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.sources[id]
}

type fakeDocuments struct {
	mu   sync.Mutex
	next int
	docs map[string]*models.Document
}

func newFakeDocuments() *fakeDocuments {
	return &fakeDocuments{docs: make(map[string]*models.Document)}
}

func (f *fakeDocuments) Create(_ context.Context, doc *models.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	doc.ID = fmt.Sprintf("doc-%d", f.next)
	copied := *doc
	f.docs[doc.ID] = &copied
	return nil
}

func (f *fakeDocuments) UpdateChunks(_ context.Context, id string, chunks int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return errors.New("not found")
	}
	doc.IndexedChunksCount = chunks
	return nil
}

func (f *fakeDocuments) CountPending(_ context.Context, sourceID string) (int, error) {
	return f.count(sourceID, func(d *models.Document) bool { return d.IndexedChunksCount == 0 }), nil
}

func (f *fakeDocuments) CountIndexed(_ context.Context, sourceID string) (int, error) {
	return f.count(sourceID, func(d *models.Document) bool { return d.IndexedChunksCount > 0 }), nil
}

func (f *fakeDocuments) count(sourceID string, match func(*models.Document) bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.docs {
		if d.SourceID == sourceID && match(d) {
			n++
		}
	}
	return n
}

func (f *fakeDocuments) all() []models.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Document, 0, len(f.docs))
	for _, d := range f.docs {
		out = append(out, *d)
	}
	return out
}

type fakeFetcher struct {
	pages  map[string]*scraper.Page
	failed map[string]error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: make(map[string]*scraper.Page), failed: make(map[string]error)}
}

func (f *fakeFetcher) page(url, title, content string) {
	f.pages[url] = &scraper.Page{URL: url, Title: title, Content: content}
}

func (f *fakeFetcher) fail(url string, err error) {
	f.failed[url] = err
}

func (f *fakeFetcher) Scrape(_ context.Context, pageURL string) (*scraper.Page, error) {
	if err, ok := f.failed[pageURL]; ok {
		return nil, err
	}
	if page, ok := f.pages[pageURL]; ok {
		copied := *page
		return &copied, nil
	}
	return nil, fmt.Errorf("no page for %s", pageURL)
}

type fakeIndexer struct {
	mu             sync.Mutex
	chunks         int
	indexErr       error
	indexed        []indexer.IndexRequest
	deletedDocs    []indexer.DeleteDocumentRequest
	deletedSources []indexer.DeleteSourceRequest
	deleteErr      error
}

func (f *fakeIndexer) Index(_ context.Context, req indexer.IndexRequest) (*indexer.IndexResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.indexErr != nil {
		return nil, f.indexErr
	}
	f.indexed = append(f.indexed, req)
	chunks := f.chunks
	if chunks == 0 {
		chunks = 3
	}
	return &indexer.IndexResult{Status: "success", Chunks: chunks}, nil
}

func (f *fakeIndexer) DeleteDocument(_ context.Context, req indexer.DeleteDocumentRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletedDocs = append(f.deletedDocs, req)
	return nil
}

func (f *fakeIndexer) DeleteSource(_ context.Context, req indexer.DeleteSourceRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletedSources = append(f.deletedSources, req)
	return nil
}

type fakeBlobs struct {
	blobs map[string][]byte
}

func (f *fakeBlobs) Read(_ context.Context, key string) ([]byte, error) {
	data, ok := f.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", key)
	}
	return data, nil
}

// fakeValidator accepts every URL except those listed as invalid.
type fakeValidator struct {
	invalid []string
}

func (f *fakeValidator) IsValid(_ context.Context, rawURL string) bool {
	for _, u := range f.invalid {
		if strings.EqualFold(u, rawURL) {
			return false
		}
	}
	return true
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []queue.Job
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, job queue.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return fmt.Sprintf("%d-0", len(f.jobs)), nil
}

// noDelay satisfies the limiter without sleeping.
type noDelay struct{}

func (noDelay) Wait(ctx context.Context) error { return ctx.Err() }

// countingLimiter records how often a run asked to be paced.
type countingLimiter struct{ waits int }

func (c *countingLimiter) Wait(ctx context.Context) error {
	c.waits++
	return ctx.Err()
}
