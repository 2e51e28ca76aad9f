package hook

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"
)

func TestGoHooksFireInOrder(t *testing.T) {
	r := NewRunner(io.Discard)
	var got []string
	r.OnPre(func(ev PreCommand) error {
		got = append(got, "pre1:"+ev.Text)
		return nil
	})
	r.OnPre(func(ev PreCommand) error {
		got = append(got, "pre2:"+ev.Text)
		return nil
	})
	r.OnPost(func(ev PostCommand) error {
		got = append(got, "post:"+ev.Text)
		return nil
	})

	r.Pre(PreCommand{Text: "echo hi"})
	r.Post(PostCommand{Text: "echo hi", Status: 0})

	want := []string{"pre1:echo hi", "pre2:echo hi", "post:echo hi"}
	if len(got) != len(want) {
		t.Fatalf("触发了 %d 个钩子, 期望 %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("第 %d 个 = %q, 期望 %q", i, got[i], want[i])
		}
	}
}

func TestHookFailureReportedNotFatal(t *testing.T) {
	var errw bytes.Buffer
	r := NewRunner(&errw)
	ran := false
	r.OnPre(func(PreCommand) error { return errors.New("坏了") })
	r.OnPre(func(PreCommand) error { ran = true; return nil })

	r.Pre(PreCommand{Text: "ls"})

	if !ran {
		t.Error("一个钩子失败不该拦住后面的钩子")
	}
	if !strings.Contains(errw.String(), "hook") || !strings.Contains(errw.String(), "坏了") {
		t.Errorf("错误输出 = %q, 缺少钩子失败的报告", errw.String())
	}
}

func TestLuaScriptHooks(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "hooks.lua")
	src := `
count = 0
last = ""
last_status = -1
function pre_command(text)
  count = count + 1
  last = text
end
function post_command(text, status, duration_ms)
  last_status = status
end
`
	if err := os.WriteFile(script, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewRunner(io.Discard)
	defer r.Close()
	if err := r.LoadScript(script); err != nil {
		t.Fatalf("LoadScript: %v", err)
	}

	r.Pre(PreCommand{Text: "echo hi"})
	r.Pre(PreCommand{Text: "pwd"})
	r.Post(PostCommand{Text: "pwd", Status: 7, Duration: 3 * time.Millisecond})

	var count, status int
	var last string
	err := r.lua.do(func(L *lua.LState) error {
		count = int(lua.LVAsNumber(L.GetGlobal("count")))
		last = lua.LVAsString(L.GetGlobal("last"))
		status = int(lua.LVAsNumber(L.GetGlobal("last_status")))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("pre_command 调了 %d 次, 期望 2", count)
	}
	if last != "pwd" {
		t.Errorf("last = %q, 期望 pwd", last)
	}
	if status != 7 {
		t.Errorf("post_command 收到 status = %d, 期望 7", status)
	}
}

func TestLuaErrorReportedNotFatal(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "bad.lua")
	src := `
function pre_command(text)
  error("脚本里炸了")
end
`
	if err := os.WriteFile(script, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	var errw bytes.Buffer
	r := NewRunner(&errw)
	defer r.Close()
	if err := r.LoadScript(script); err != nil {
		t.Fatalf("LoadScript: %v", err)
	}

	r.Pre(PreCommand{Text: "ls"})

	if !strings.Contains(errw.String(), "hook") {
		t.Errorf("错误输出 = %q, 期望有钩子失败的报告", errw.String())
	}
}

func TestSandboxBlocksDynamicLoading(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "sneaky.lua")
	src := `
function pre_command(text)
  dofile("/etc/profile")
end
`
	if err := os.WriteFile(script, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	var errw bytes.Buffer
	r := NewRunner(&errw)
	defer r.Close()
	if err := r.LoadScript(script); err != nil {
		t.Fatalf("LoadScript: %v", err)
	}

	r.Pre(PreCommand{Text: "ls"})

	if errw.Len() == 0 {
		t.Error("dofile 被收掉之后调用它应该报错")
	}
}

func TestScriptWithoutHookFunctions(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "empty.lua")
	if err := os.WriteFile(script, []byte("x = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var errw bytes.Buffer
	r := NewRunner(&errw)
	defer r.Close()
	if err := r.LoadScript(script); err != nil {
		t.Fatalf("LoadScript: %v", err)
	}

	r.Pre(PreCommand{Text: "ls"})
	r.Post(PostCommand{Text: "ls"})

	if errw.Len() != 0 {
		t.Errorf("脚本没定义钩子函数不算错, 却报了: %q", errw.String())
	}
}

func TestCloseStopsHost(t *testing.T) {
	r := NewRunner(io.Discard)
	dir := t.TempDir()
	script := filepath.Join(dir, "h.lua")
	if err := os.WriteFile(script, []byte("y = 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := r.LoadScript(script); err != nil {
		t.Fatal(err)
	}
	r.Close()
	if err := r.lua.do(func(*lua.LState) error { return nil }); err == nil {
		t.Error("关闭后的宿主还接活")
	}
}
