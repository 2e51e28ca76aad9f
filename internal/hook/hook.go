// Package hook 在每条顶层命令前后发布事件。Go 侧钩子直接调用，
// Lua 脚本钩子经专属 goroutine 串行执行。钩子失败只往 stderr
// 报一行，永远不改变命令本身的结果。
package hook

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// PreCommand 一条顶层命令即将执行
type PreCommand struct {
	Text string
}

// PostCommand 一条顶层命令刚执行完
type PostCommand struct {
	Text     string
	Status   int
	Duration time.Duration
}

// PreFunc Go 侧的命令前钩子
type PreFunc func(PreCommand) error

// PostFunc Go 侧的命令后钩子
type PostFunc func(PostCommand) error

// Runner 钩子调度器
type Runner struct {
	mu   sync.Mutex
	pre  []PreFunc
	post []PostFunc
	lua  *luaHost
	errw io.Writer
}

// NewRunner 创建调度器，钩子错误写到 errw
func NewRunner(errw io.Writer) *Runner {
	if errw == nil {
		errw = io.Discard
	}
	return &Runner{errw: errw}
}

// OnPre 登记一个命令前钩子
func (r *Runner) OnPre(fn PreFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pre = append(r.pre, fn)
}

// OnPost 登记一个命令后钩子
func (r *Runner) OnPost(fn PostFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.post = append(r.post, fn)
}

// LoadScript 加载一个 Lua 钩子脚本。脚本里定义的全局函数
// pre_command(text) 和 post_command(text, status, duration_ms)
// 会在对应事件时被调用。
func (r *Runner) LoadScript(path string) error {
	r.mu.Lock()
	if r.lua == nil {
		r.lua = newLuaHost()
	}
	host := r.lua
	r.mu.Unlock()
	return host.loadScript(path)
}

// Pre 发布命令前事件
func (r *Runner) Pre(ev PreCommand) {
	r.mu.Lock()
	fns := append([]PreFunc(nil), r.pre...)
	host := r.lua
	r.mu.Unlock()
	for _, fn := range fns {
		r.report(fn(ev))
	}
	if host != nil {
		r.report(host.callPre(ev))
	}
}

// Post 发布命令后事件
func (r *Runner) Post(ev PostCommand) {
	r.mu.Lock()
	fns := append([]PostFunc(nil), r.post...)
	host := r.lua
	r.mu.Unlock()
	for _, fn := range fns {
		r.report(fn(ev))
	}
	if host != nil {
		r.report(host.callPost(ev))
	}
}

// Close 停掉 Lua 宿主
func (r *Runner) Close() {
	r.mu.Lock()
	host := r.lua
	r.mu.Unlock()
	if host != nil {
		host.close()
	}
}

func (r *Runner) report(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(r.errw, "posish: hook: %v\n", err)
}
