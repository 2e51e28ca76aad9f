// Package history 维护一次会话的命令历史：追加、查看、清空，
// 以及跨会话的历史文件读写。流水线工序可能并发访问，内部带锁。
package history

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// DefaultLimit 默认保留的历史条数上限
const DefaultLimit = 1000

// History 命令历史
type History struct {
	mu      sync.Mutex
	fs      afero.Fs
	path    string
	entries []string
	limit   int
}

// New 创建只在内存里的历史，limit 非正时用默认上限
func New(limit int) *History {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &History{
		fs:      afero.NewMemMapFs(),
		entries: make([]string, 0, limit),
		limit:   limit,
	}
}

// NewFile 创建落盘历史并加载已有内容。文件不存在不算错误，
// 读失败也只当作从空历史开始。
func NewFile(fs afero.Fs, path string, limit int) *History {
	h := New(limit)
	h.fs = fs
	h.path = path
	_ = h.Load()
	return h
}

// Add 追加一条命令。空白命令和紧挨着的重复命令不记，
// 超出上限时丢最旧的。
func (h *History) Add(cmd string) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := len(h.entries); n > 0 && h.entries[n-1] == cmd {
		return
	}
	h.entries = append(h.entries, cmd)
	if len(h.entries) > h.limit {
		h.entries = h.entries[len(h.entries)-h.limit:]
	}
}

// List 按时间顺序返回全部历史的副本
func (h *History) List() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.entries))
	copy(out, h.entries)
	return out
}

// Size 当前条数
func (h *History) Size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Clear 清空历史
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = h.entries[:0]
}

// Load 从历史文件读入，一行一条。文件不存在返回 nil。
func (h *History) Load() error {
	if h.path == "" {
		return nil
	}
	if exists, err := afero.Exists(h.fs, h.path); err != nil || !exists {
		return err
	}
	data, err := afero.ReadFile(h.fs, h.path)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		h.entries = append(h.entries, line)
	}
	if len(h.entries) > h.limit {
		h.entries = h.entries[len(h.entries)-h.limit:]
	}
	return nil
}

// Save 把历史写回文件，没配置文件时什么都不做
func (h *History) Save() error {
	if h.path == "" {
		return nil
	}
	h.mu.Lock()
	content := strings.Join(h.entries, "\n")
	h.mu.Unlock()
	if dir := filepath.Dir(h.path); dir != "." {
		if err := h.fs.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return afero.WriteFile(h.fs, h.path, []byte(content+"\n"), 0o600)
}
