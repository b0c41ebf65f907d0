package testutil

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"

	reportdomain "github.com/smallbiznis/surge/internal/report/domain"
	"github.com/smallbiznis/surge/internal/storage"
)

// FakeRenderer renders a record as "[TYPE]". Types listed in Fail return an
// error.
type FakeRenderer struct {
	mu    sync.Mutex
	Fail  map[reportdomain.ReportType]bool
	calls []reportdomain.ReportType
}

func (r *FakeRenderer) Render(ctx context.Context, record reportdomain.ReportRecord) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, record.Type)
	if r.Fail[record.Type] {
		return nil, errors.New("renderer unavailable")
	}
	return []byte("[" + string(record.Type) + "]"), nil
}

func (r *FakeRenderer) Calls() []reportdomain.ReportType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reportdomain.ReportType(nil), r.calls...)
}

// JoinMerger concatenates documents with "|" so tests can read page order
// back out of the stored packet.
type JoinMerger struct{}

func (JoinMerger) Merge(docs [][]byte) ([]byte, error) {
	return bytes.Join(docs, []byte("|")), nil
}

// Parts splits a JoinMerger document.
func Parts(doc []byte) []string {
	if len(doc) == 0 {
		return nil
	}
	return strings.Split(string(doc), "|")
}

// FailingStorage fails Put for keys containing any of FailKeys and Delete for
// keys containing any of FailDeletes.
type FailingStorage struct {
	storage.Storage

	mu          sync.Mutex
	FailKeys    []string
	FailDeletes []string
}

func (s *FailingStorage) Put(ctx context.Context, key string, data []byte) error {
	if s.fails(key) {
		return errors.New("disk full")
	}
	return s.Storage.Put(ctx, key, data)
}

func (s *FailingStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	fail := matchesAny(key, s.FailDeletes)
	s.mu.Unlock()
	if fail {
		return errors.New("delete refused")
	}
	return s.Storage.Delete(ctx, key)
}

func (s *FailingStorage) fails(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return matchesAny(key, s.FailKeys)
}

func matchesAny(key string, fragments []string) bool {
	for _, fragment := range fragments {
		if strings.Contains(key, fragment) {
			return true
		}
	}
	return false
}
