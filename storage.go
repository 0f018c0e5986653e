package printarr

import (
	"bytes"
	"encoding/json"
	"os"
	"sync"

	"github.com/golang/glog"
	"github.com/natefinch/atomic"
)

// UIStore is simple get/set string storage for serialized filters and
// minor UI toggles. failures are swallowed; callers fall back to defaults.
type UIStore interface {
	Get(key string) (string, bool)
	Set(key string, value string)
}

type MemoryUIStore struct {
	stateLock sync.Mutex
	values    map[string]string
}

func NewMemoryUIStore() *MemoryUIStore {
	return &MemoryUIStore{
		values: map[string]string{},
	}
}

func (self *MemoryUIStore) Get(key string) (string, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	value, ok := self.values[key]
	return value, ok
}

func (self *MemoryUIStore) Set(key string, value string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.values[key] = value
}

// FileUIStore persists to a single json file with atomic replaces,
// so a crashed write never corrupts previously saved state.
type FileUIStore struct {
	stateLock sync.Mutex
	path      string
	values    map[string]string
}

func NewFileUIStore(path string) *FileUIStore {
	values := map[string]string{}
	if b, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(b, &values); err != nil {
			glog.Infof("[u]ignore corrupt ui state %s = %s\n", path, err)
			values = map[string]string{}
		}
	}
	return &FileUIStore{
		path:   path,
		values: values,
	}
}

func (self *FileUIStore) Get(key string) (string, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	value, ok := self.values[key]
	return value, ok
}

func (self *FileUIStore) Set(key string, value string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.values[key] = value
	b, err := json.MarshalIndent(self.values, "", "  ")
	if err != nil {
		glog.Infof("[u]marshal ui state = %s\n", err)
		return
	}
	if err := atomic.WriteFile(self.path, bytes.NewReader(b)); err != nil {
		glog.Infof("[u]write ui state %s = %s\n", self.path, err)
	}
}

var _ UIStore = (*MemoryUIStore)(nil)
var _ UIStore = (*FileUIStore)(nil)
