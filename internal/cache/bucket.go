package cache

import (
	"context"
	"errors"
	"strings"
)

// Bucket 是绑定到某个缓存桶名称的视图，对应 open(bucketName) 的返回值。
type Bucket struct {
	store Store
	name  string
}

// Open 打开（必要时创建）名为 name 的缓存桶。
func Open(ctx context.Context, store Store, name string) (*Bucket, error) {
	if err := validateBucketName(name); err != nil {
		return nil, err
	}
	if err := store.Ensure(ctx, name); err != nil {
		return nil, err
	}
	return &Bucket{store: store, name: name}, nil
}

// Name 返回缓存桶名称。
func (b *Bucket) Name() string {
	return b.name
}

// Match 返回 path 对应的缓存响应副本；未命中时返回 (nil, nil)。
func (b *Bucket) Match(ctx context.Context, path string) (*Response, error) {
	result, err := b.store.Get(ctx, Locator{Bucket: b.name, Path: path})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return result.Response, nil
}

// Put 以 resp 覆盖 path 对应的条目。
func (b *Bucket) Put(ctx context.Context, path string, resp *Response) (*Entry, error) {
	return b.store.Put(ctx, Locator{Bucket: b.name, Path: path}, resp, PutOptions{})
}

// Precache 写入安装阶段的清单资源，条目在桶被删除前不会被淘汰。
func (b *Bucket) Precache(ctx context.Context, path string, resp *Response) (*Entry, error) {
	return b.store.Put(ctx, Locator{Bucket: b.name, Path: path}, resp, PutOptions{Pinned: true})
}

func validateBucketName(name string) error {
	if strings.TrimSpace(name) == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return ErrInvalidBucket
	}
	return nil
}
