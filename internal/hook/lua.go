package hook

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// errHostClosed 宿主关闭后再投递调用时返回
var errHostClosed = errors.New("lua 宿主已关闭")

// luaCall 投给 Lua goroutine 的一次调用
type luaCall struct {
	fn     func(L *lua.LState) error
	result chan error
}

// luaHost 把所有 LState 操作串到一个 goroutine 上执行。
// gopher-lua 的 LState 不是并发安全的。
type luaHost struct {
	queue  chan *luaCall
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
}

func newLuaHost() *luaHost {
	h := &luaHost{
		queue: make(chan *luaCall, 16),
		done:  make(chan struct{}),
	}
	go h.run()
	return h
}

// run 是唯一接触 LState 的 goroutine
func (h *luaHost) run() {
	L := lua.NewState()
	defer L.Close()
	sandbox(L)
	for {
		select {
		case <-h.done:
			h.drain()
			return
		case call := <-h.queue:
			call.result <- h.safely(L, call.fn)
			close(call.result)
		}
	}
}

// safely 带 panic 回收地跑一次调用，脚本再怎么写也砸不掉 shell
func (h *luaHost) safely(L *lua.LState, fn func(*lua.LState) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			switch v := rec.(type) {
			case error:
				err = v
			default:
				err = fmt.Errorf("lua panic: %v", v)
			}
		}
	}()
	return fn(L)
}

func (h *luaHost) drain() {
	for {
		select {
		case call := <-h.queue:
			call.result <- errHostClosed
			close(call.result)
		default:
			return
		}
	}
}

// do 同步执行一次 LState 操作
func (h *luaHost) do(fn func(*lua.LState) error) error {
	if h.closed.Load() {
		return errHostClosed
	}
	call := &luaCall{fn: fn, result: make(chan error, 1)}
	select {
	case <-h.done:
		return errHostClosed
	case h.queue <- call:
	}
	return <-call.result
}

func (h *luaHost) close() {
	h.once.Do(func() {
		h.closed.Store(true)
		close(h.done)
	})
}

func (h *luaHost) loadScript(path string) error {
	return h.do(func(L *lua.LState) error { return L.DoFile(path) })
}

func (h *luaHost) callPre(ev PreCommand) error {
	return h.do(func(L *lua.LState) error {
		fn := L.GetGlobal("pre_command")
		if fn == lua.LNil {
			return nil
		}
		L.Push(fn)
		L.Push(lua.LString(ev.Text))
		return L.PCall(1, 0, nil)
	})
}

func (h *luaHost) callPost(ev PostCommand) error {
	return h.do(func(L *lua.LState) error {
		fn := L.GetGlobal("post_command")
		if fn == lua.LNil {
			return nil
		}
		L.Push(fn)
		L.Push(lua.LString(ev.Text))
		L.Push(lua.LNumber(ev.Status))
		L.Push(lua.LNumber(float64(ev.Duration.Milliseconds())))
		return L.PCall(3, 0, nil)
	})
}

// sandbox 收掉脚本动态加载任意代码的入口。脚本本身由 DoFile
// 从 Go 侧加载，不受影响。
func sandbox(L *lua.LState) {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}
}
