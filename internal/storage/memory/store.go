// Package memory is an in-process object store used in development mode and
// tests.
package memory

import (
	"bytes"
	"container/list"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"audiobridge/internal/domain"
)

type Store struct {
	mu      sync.RWMutex
	objects map[string]*object
	lru     *list.List

	maxBytes int64
	curBytes int64
	now      func() time.Time
}

type object struct {
	data        []byte
	mod         time.Time
	contentType string
	elem        *list.Element
}

type Option func(*Store)

// WithMaxBytes bounds the total stored bytes; the least recently read or
// written objects are evicted first.
func WithMaxBytes(max int64) Option {
	return func(s *Store) {
		if max > 0 {
			s.maxBytes = max
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		objects: make(map[string]*object),
		lru:     list.New(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List mirrors S3 ListObjectsV2 semantics: keys are returned in lexical
// order, and with a non-empty delimiter every key containing the delimiter
// after prefix is rolled up into a common prefix.
func (s *Store) List(ctx context.Context, prefix, delimiter string) (domain.ListResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ListResult{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	res := domain.ListResult{}
	seen := map[string]struct{}{}
	for _, key := range keys {
		rest := key[len(prefix):]
		if delimiter != "" {
			if i := strings.Index(rest, delimiter); i >= 0 {
				cp := prefix + rest[:i+len(delimiter)]
				if _, ok := seen[cp]; !ok {
					seen[cp] = struct{}{}
					res.Prefixes = append(res.Prefixes, cp)
				}
				continue
			}
		}
		obj := s.objects[key]
		res.Objects = append(res.Objects, domain.ObjectInfo{
			Key:          key,
			Size:         int64(len(obj.data)),
			LastModified: obj.mod,
			ContentType:  obj.contentType,
		})
	}
	return res, nil
}

func (s *Store) Head(ctx context.Context, key string) (domain.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return domain.ObjectInfo{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return domain.ObjectInfo{}, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}
	return domain.ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		LastModified: obj.mod,
		ContentType:  obj.contentType,
	}, nil
}

func (s *Store) Get(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		return nil, errors.New("negative offset")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}
	s.lru.MoveToFront(obj.elem)

	size := int64(len(obj.data))
	if offset > size {
		offset = size
	}
	end := size
	if length > 0 && offset+length < size {
		end = offset + length
	}
	// Objects are replaced wholesale on Put, so the slice is never mutated.
	return io.NopCloser(bytes.NewReader(obj.data[offset:end])), nil
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if body == nil {
		return errors.New("nil reader")
	}
	if key == "" {
		return errors.New("empty key")
	}
	var data []byte
	var err error
	if size >= 0 {
		data = make([]byte, size)
		_, err = io.ReadFull(body, data)
	} else {
		data, err = io.ReadAll(body)
	}
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.objects[key]; ok {
		s.curBytes -= int64(len(old.data))
		s.lru.Remove(old.elem)
	}
	obj := &object{data: data, mod: s.now(), contentType: contentType}
	obj.elem = s.lru.PushFront(key)
	s.objects[key] = obj
	s.curBytes += int64(len(data))
	s.evictLocked(key)
	return nil
}

// Len reports the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// evictLocked drops least recently used objects until the store fits,
// never evicting keep.
func (s *Store) evictLocked(keep string) {
	if s.maxBytes <= 0 {
		return
	}
	for s.curBytes > s.maxBytes {
		back := s.lru.Back()
		if back == nil {
			return
		}
		key := back.Value.(string)
		if key == keep {
			return
		}
		obj := s.objects[key]
		s.lru.Remove(back)
		delete(s.objects, key)
		s.curBytes -= int64(len(obj.data))
	}
}
