package camera

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

const objectURLScheme = "blob:"

// ObjectURLRegistry はストリームを指す一時的な再生用URLを管理する
type ObjectURLRegistry struct {
	objects map[string]Stream
	mu      sync.RWMutex
}

// NewObjectURLRegistry は新しいObjectURLRegistryを作成する
func NewObjectURLRegistry() *ObjectURLRegistry {
	return &ObjectURLRegistry{
		objects: make(map[string]Stream),
	}
}

// CreateObjectURL はストリームに対する一時URLを発行する
func (r *ObjectURLRegistry) CreateObjectURL(stream Stream) string {
	url := objectURLScheme + uuid.New().String()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[url] = stream
	return url
}

// RevokeObjectURL はURLを失効させる。未登録のURLは無視する
func (r *ObjectURLRegistry) RevokeObjectURL(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.objects, url)
}

// Resolve はURLが指すストリームを返す
func (r *ObjectURLRegistry) Resolve(url string) (Stream, bool) {
	if !strings.HasPrefix(url, objectURLScheme) {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	stream, ok := r.objects[url]
	return stream, ok
}

// Len は有効なURLの数を返す
func (r *ObjectURLRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}
