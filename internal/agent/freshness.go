package agent

import "net/http"

// IsNewer 比较缓存与网络响应的校验头，判断网络副本是否更新：
//   - 两者都没有 ETag、都有 Last-Modified 且不相等；或
//   - 两者都有 ETag 且不相等。
//
// 只有一方带 ETag 时视为未更新。
func IsNewer(cached, network http.Header) bool {
	cachedETag := cached.Get("Etag")
	networkETag := network.Get("Etag")
	cachedLastMod := cached.Get("Last-Modified")
	networkLastMod := network.Get("Last-Modified")

	if cachedETag == "" && networkETag == "" {
		return cachedLastMod != "" && networkLastMod != "" && cachedLastMod != networkLastMod
	}
	return cachedETag != "" && networkETag != "" && cachedETag != networkETag
}
