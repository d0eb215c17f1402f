package cache

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Store 负责管理全部缓存桶。磁盘布局遵循：
//
//	<StoragePath>/<Bucket>/<path>.entry    # 元数据行 + 正文
//
// 同一 Locator 的写入是整体替换，读方只会看到旧条目或新条目。
type Store interface {
	// Get 返回缓存条目的完整快照。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, locator Locator) (*ReadResult, error)

	// Put 覆盖写入一个条目，并产出新的 Entry 描述。
	Put(ctx context.Context, locator Locator, resp *Response, opts PutOptions) (*Entry, error)

	// Keys 列出当前存在的缓存桶名称（按字典序）。
	Keys(ctx context.Context) ([]string, error)

	// Delete 删除整个缓存桶，返回该桶此前是否存在。
	Delete(ctx context.Context, bucket string) (bool, error)

	// Ensure 在缓存桶不存在时创建它。
	Ensure(ctx context.Context, bucket string) error
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	ModTime time.Time
	// Pinned 标记预缓存条目：容量受限的驱动不得淘汰它，覆盖写入后仍保持固定。
	Pinned bool
}

// Locator 唯一定位一个缓存条目（Bucket + 相对路径），所有路径均为 URL 路径风格。
type Locator struct {
	Bucket string
	Path   string
}

// Response 是缓存中保存的响应快照，写入后不再修改。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Clone 深拷贝响应，调用方可以自由修改返回值而不影响缓存内容。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	return &Response{
		StatusCode: r.StatusCode,
		Header:     r.Header.Clone(),
		Body:       append([]byte(nil), r.Body...),
	}
}

// Entry 描述一个已落盘（或驻留内存）的条目。
type Entry struct {
	Locator   Locator `json:"locator"`
	FilePath  string  `json:"file_path,omitempty"`
	SizeBytes int64   `json:"size_bytes"`
	ModTime   time.Time
}

// ReadResult 组合 Entry 与响应快照。
type ReadResult struct {
	Entry    Entry
	Response *Response
}

var (
	// ErrNotFound 表示缓存条目不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidBucket 表示桶名称为空或包含路径分隔符。
	ErrInvalidBucket = errors.New("invalid cache bucket name")
)
