// Package trace 把会话事件按 JSON Lines 追加到跟踪文件里，
// 一行一个对象。POSISH_TRACE 指向文件时由 shell 打开。
// 录制失败不影响命令执行，所有方法对 nil 接收者也安全。
package trace

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Event 一条跟踪记录
type Event struct {
	TimestampMicros int64  `json:"ts_us"`
	Kind            string `json:"kind"`
	Text            string `json:"text,omitempty"`
	Status          int    `json:"status,omitempty"`
	DurationMicros  int64  `json:"dur_us,omitempty"`
}

// Recorder 往一个 io.Writer 追加事件。并发安全。
type Recorder struct {
	mu sync.Mutex
	w  io.Writer
	c  io.Closer
}

// New 基于已有的 writer 建录制器
func New(w io.Writer) *Recorder {
	return &Recorder{w: w}
}

// Open 打开（或续写）跟踪文件
func Open(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	return &Recorder{w: f, c: f}, nil
}

// FromEnv 按环境变量开跟踪，没设置时返回 nil 录制器
func FromEnv(key string) *Recorder {
	path := os.Getenv(key)
	if path == "" {
		return nil
	}
	r, err := Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "posish: trace: %v\n", err)
		return nil
	}
	return r
}

// Record 写一条事件，时间戳没填的补上当前时间
func (r *Recorder) Record(ev Event) error {
	if r == nil {
		return nil
	}
	if ev.TimestampMicros == 0 {
		ev.TimestampMicros = time.Now().UnixMicro()
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err = fmt.Fprintln(r.w, string(line))
	return err
}

// Command 记录一条顶层命令的文本、退出状态和耗时
func (r *Recorder) Command(text string, status int, d time.Duration) {
	_ = r.Record(Event{Kind: "command", Text: text, Status: status, DurationMicros: d.Microseconds()})
}

// Job 记录一条作业状态通报
func (r *Recorder) Job(line string) {
	_ = r.Record(Event{Kind: "job", Text: line})
}

// Signal 记录一次陷阱触发
func (r *Recorder) Signal(name string) {
	_ = r.Record(Event{Kind: "signal", Text: name})
}

// Close 关闭底层文件（有的话）
func (r *Recorder) Close() error {
	if r == nil || r.c == nil {
		return nil
	}
	return r.c.Close()
}
