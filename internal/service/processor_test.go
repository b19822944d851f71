package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/chunker"
	"github.com/quarrylabs/quarry/internal/model"
	appErr "github.com/quarrylabs/quarry/internal/pkg/errors"
)

type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(op string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
}

func (l *opLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

type fakeDocStore struct {
	log  *opLog
	docs map[string]*model.Document
}

func (f *fakeDocStore) Get(ctx context.Context, docID string) (*model.Document, error) {
	doc, ok := f.docs[docID]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (f *fakeDocStore) MarkProcessing(ctx context.Context, docID string, mtime int64) error {
	doc, ok := f.docs[docID]
	if !ok {
		return appErr.ErrNotFound
	}
	doc.Status = model.DocumentStatusProcessing
	doc.ErrorMessage = ""
	doc.Mtime = mtime
	f.log.add("mark_processing")
	return nil
}

func (f *fakeDocStore) MarkIndexed(ctx context.Context, docID string, fragmentCount int, mtime int64) error {
	doc, ok := f.docs[docID]
	if !ok {
		return appErr.ErrNotFound
	}
	doc.Status = model.DocumentStatusIndexed
	doc.FragmentCount = fragmentCount
	doc.ErrorMessage = ""
	doc.Mtime = mtime
	f.log.add("mark_indexed")
	return nil
}

func (f *fakeDocStore) MarkFailed(ctx context.Context, docID, message string, mtime int64) error {
	doc, ok := f.docs[docID]
	if !ok {
		return appErr.ErrNotFound
	}
	if message == "" {
		message = "processing failed"
	}
	doc.Status = model.DocumentStatusFailed
	doc.ErrorMessage = message
	doc.Mtime = mtime
	f.log.add("mark_failed")
	return nil
}

type fakeFragmentStore struct {
	log       *opLog
	frags     map[string][]model.Fragment
	insertErr error
}

func (f *fakeFragmentStore) InsertBatch(ctx context.Context, frags []model.Fragment) error {
	f.log.add("insert_fragments")
	if f.insertErr != nil {
		return f.insertErr
	}
	for _, frag := range frags {
		f.frags[frag.DocumentID] = append(f.frags[frag.DocumentID], frag)
	}
	return nil
}

func (f *fakeFragmentStore) DeleteByDocument(ctx context.Context, documentID string) error {
	f.log.add("delete_fragments")
	delete(f.frags, documentID)
	return nil
}

func (f *fakeFragmentStore) CountByDocument(ctx context.Context, documentID string) (int64, error) {
	return int64(len(f.frags[documentID])), nil
}

func (f *fakeFragmentStore) CountByKnowledgeBase(ctx context.Context, kbID string) (int64, error) {
	var count int64
	for _, frags := range f.frags {
		for _, frag := range frags {
			if frag.KBID == kbID {
				count++
			}
		}
	}
	return count, nil
}

type fakeKBCounter struct {
	counts map[string]int64
}

func (f *fakeKBCounter) SetVectorCount(ctx context.Context, kbID string, count int64, mtime int64) error {
	f.counts[kbID] = count
	return nil
}

type fakeBlobStore struct {
	log   *opLog
	blobs map[string][]byte
}

func (f *fakeBlobStore) Save(ctx context.Context, key string, r io.Reader, size int64) error {
	return nil
}

func (f *fakeBlobStore) Download(ctx context.Context, key string) ([]byte, error) {
	f.log.add("download_blob")
	data, ok := f.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", key)
	}
	return data, nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, key string) error {
	delete(f.blobs, key)
	return nil
}

type fakeProcEmbedder struct {
	err   error
	dim   int
	calls int
}

func (f *fakeProcEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, 0, len(texts))
	for range texts {
		vec := make([]float32, f.dim)
		vec[0] = 1
		out = append(out, vec)
	}
	return out, nil
}

type processorFixture struct {
	log       *opLog
	docs      *fakeDocStore
	fragments *fakeFragmentStore
	kbs       *fakeKBCounter
	blobs     *fakeBlobStore
	embedder  *fakeProcEmbedder
	processor *Processor
}

func newProcessorFixture(t *testing.T, blob []byte) *processorFixture {
	t.Helper()
	log := &opLog{}
	docs := &fakeDocStore{
		log: log,
		docs: map[string]*model.Document{
			"doc1": {
				ID:           "doc1",
				KBID:         "kb1",
				TenantID:     "tenant1",
				FileName:     "notes.txt",
				DeclaredType: "text/plain",
				StorageKey:   "doc1.txt",
				Status:       model.DocumentStatusPending,
			},
		},
	}
	fragments := &fakeFragmentStore{log: log, frags: map[string][]model.Fragment{}}
	kbs := &fakeKBCounter{counts: map[string]int64{}}
	blobs := &fakeBlobStore{log: log, blobs: map[string][]byte{"doc1.txt": blob}}
	embedder := &fakeProcEmbedder{dim: 4}
	processor := NewProcessor(docs, fragments, kbs, blobs, embedder, chunker.Config{
		ChunkSize: 3,
		Overlap:   0,
		Separator: "\n",
	})
	return &processorFixture{
		log:       log,
		docs:      docs,
		fragments: fragments,
		kbs:       kbs,
		blobs:     blobs,
		embedder:  embedder,
		processor: processor,
	}
}

func TestProcessorIndexesDocument(t *testing.T) {
	fx := newProcessorFixture(t, []byte("a\nb\nc"))

	err := fx.processor.Process(context.Background(), "doc1")
	require.NoError(t, err)

	doc := fx.docs.docs["doc1"]
	require.Equal(t, model.DocumentStatusIndexed, doc.Status)
	require.Equal(t, 3, doc.FragmentCount)
	require.Empty(t, doc.ErrorMessage)

	frags := fx.fragments.frags["doc1"]
	require.Len(t, frags, 3)
	for i, frag := range frags {
		require.Equal(t, i, frag.ChunkIndex)
		require.Equal(t, "kb1", frag.KBID)
		require.Len(t, frag.Embedding, 4)
	}
	require.Equal(t, "a", frags[0].Content)
	require.Equal(t, "b", frags[1].Content)
	require.Equal(t, "c", frags[2].Content)

	require.EqualValues(t, 3, fx.kbs.counts["kb1"])
}

func TestProcessorMarksProcessingBeforeIO(t *testing.T) {
	fx := newProcessorFixture(t, []byte("a\nb\nc"))

	require.NoError(t, fx.processor.Process(context.Background(), "doc1"))

	ops := fx.log.list()
	require.Equal(t, "mark_processing", ops[0])
	require.Equal(t, "download_blob", ops[1])
}

func TestProcessorEmptyContentFails(t *testing.T) {
	fx := newProcessorFixture(t, []byte("   \n  \n"))

	err := fx.processor.Process(context.Background(), "doc1")
	require.ErrorIs(t, err, appErr.ErrParseFailure)

	doc := fx.docs.docs["doc1"]
	require.Equal(t, model.DocumentStatusFailed, doc.Status)
	require.Contains(t, doc.ErrorMessage, "no extractable text")
	require.NotContains(t, fx.log.list(), "insert_fragments")
}

func TestProcessorParseFailure(t *testing.T) {
	fx := newProcessorFixture(t, []byte{0xff, 0xfe, 0x01})

	err := fx.processor.Process(context.Background(), "doc1")
	require.ErrorIs(t, err, appErr.ErrParseFailure)

	doc := fx.docs.docs["doc1"]
	require.Equal(t, model.DocumentStatusFailed, doc.Status)
	require.NotEmpty(t, doc.ErrorMessage)
}

func TestProcessorEmbedFailureKeepsOldFragments(t *testing.T) {
	fx := newProcessorFixture(t, []byte("a\nb\nc"))
	fx.fragments.frags["doc1"] = []model.Fragment{
		{ID: "old", DocumentID: "doc1", KBID: "kb1", ChunkIndex: 0, Content: "previous run"},
	}
	fx.embedder.err = fmt.Errorf("provider unavailable")

	err := fx.processor.Process(context.Background(), "doc1")
	require.Error(t, err)

	doc := fx.docs.docs["doc1"]
	require.Equal(t, model.DocumentStatusFailed, doc.Status)
	require.NotEmpty(t, doc.ErrorMessage)

	require.Len(t, fx.fragments.frags["doc1"], 1, "old fragments must survive an embedding failure")
	require.NotContains(t, fx.log.list(), "delete_fragments")
}

func TestProcessorInsertFailure(t *testing.T) {
	fx := newProcessorFixture(t, []byte("a\nb\nc"))
	fx.fragments.insertErr = fmt.Errorf("connection reset")

	err := fx.processor.Process(context.Background(), "doc1")
	require.ErrorIs(t, err, appErr.ErrStorageFailure)

	doc := fx.docs.docs["doc1"]
	require.Equal(t, model.DocumentStatusFailed, doc.Status)
	require.Contains(t, doc.ErrorMessage, "insert")
}

func TestProcessorMissingDocument(t *testing.T) {
	fx := newProcessorFixture(t, nil)

	err := fx.processor.Process(context.Background(), "ghost")
	require.ErrorIs(t, err, appErr.ErrNotFound)
	require.Empty(t, fx.log.list())
}

func TestProcessorFailedDocumentAlwaysHasMessage(t *testing.T) {
	require.Equal(t, "processing failed", failureMessage(nil))
	require.NotEmpty(t, failureMessage(fmt.Errorf("boom")))
}
