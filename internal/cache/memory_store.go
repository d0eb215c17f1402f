package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memEntry struct {
	key     string
	resp    *Response
	modTime time.Time
	pinned  bool
	prev    *memEntry
	next    *memEntry
}

// memBucket 是单个缓存桶的 LRU 链表。固定条目不计入 maxEntries，也不会被淘汰；
// 非固定条目超过 maxEntries 时淘汰最久未使用的一条。
type memBucket struct {
	items    map[string]*memEntry
	head     *memEntry
	tail     *memEntry
	unpinned int
}

// memoryStore 把所有桶保存在进程内存中，重启即丢失，适合测试与无盘部署。
type memoryStore struct {
	mu         sync.Mutex
	buckets    map[string]*memBucket
	maxEntries int
}

// NewMemoryStore 构建内存缓存，maxEntries 为单个桶的条目上限。
func NewMemoryStore(maxEntries int) Store {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &memoryStore{
		buckets:    make(map[string]*memBucket),
		maxEntries: maxEntries,
	}
}

func (s *memoryStore) Get(ctx context.Context, locator Locator) (*ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[locator.Bucket]
	if !ok {
		return nil, ErrNotFound
	}
	e, ok := b.items[locator.Path]
	if !ok {
		return nil, ErrNotFound
	}
	b.moveToFront(e)

	return &ReadResult{
		Entry: Entry{
			Locator:   locator,
			SizeBytes: int64(len(e.resp.Body)),
			ModTime:   e.modTime,
		},
		Response: e.resp.Clone(),
	}, nil
}

func (s *memoryStore) Put(ctx context.Context, locator Locator, resp *Response, opts PutOptions) (*Entry, error) {
	if err := validateBucketName(locator.Bucket); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now().UTC()
	}
	snapshot := resp.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.bucket(locator.Bucket)
	if e, ok := b.items[locator.Path]; ok {
		e.resp = snapshot
		e.modTime = modTime
		if opts.Pinned && !e.pinned {
			e.pinned = true
			b.unpinned--
		}
		b.moveToFront(e)
	} else {
		e := &memEntry{key: locator.Path, resp: snapshot, modTime: modTime, pinned: opts.Pinned}
		b.items[locator.Path] = e
		b.addToFront(e)
		if !e.pinned {
			b.unpinned++
		}
		if b.unpinned > s.maxEntries {
			b.evictOldest()
		}
	}

	return &Entry{
		Locator:   locator,
		SizeBytes: int64(len(snapshot.Body)),
		ModTime:   modTime,
	}, nil
}

func (s *memoryStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.buckets))
	for name := range s.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *memoryStore) Delete(ctx context.Context, bucket string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buckets[bucket]; !ok {
		return false, nil
	}
	delete(s.buckets, bucket)
	return true, nil
}

func (s *memoryStore) Ensure(ctx context.Context, bucket string) error {
	if err := validateBucketName(bucket); err != nil {
		return err
	}
	s.mu.Lock()
	s.bucket(bucket)
	s.mu.Unlock()
	return nil
}

// bucket 需在持有 s.mu 时调用。
func (s *memoryStore) bucket(name string) *memBucket {
	b, ok := s.buckets[name]
	if !ok {
		b = &memBucket{items: make(map[string]*memEntry)}
		s.buckets[name] = b
	}
	return b
}

func (b *memBucket) addToFront(e *memEntry) {
	e.prev = nil
	e.next = b.head
	if b.head != nil {
		b.head.prev = e
	}
	b.head = e
	if b.tail == nil {
		b.tail = e
	}
}

func (b *memBucket) moveToFront(e *memEntry) {
	if b.head == e {
		return
	}
	b.remove(e)
	b.addToFront(e)
}

func (b *memBucket) remove(e *memEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		b.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		b.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

// evictOldest 淘汰最久未使用的非固定条目。
func (b *memBucket) evictOldest() {
	for e := b.tail; e != nil; e = e.prev {
		if e.pinned {
			continue
		}
		b.remove(e)
		delete(b.items, e.key)
		b.unpinned--
		return
	}
}
