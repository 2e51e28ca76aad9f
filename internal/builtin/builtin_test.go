package builtin

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"posish/internal/job"
	"posish/internal/parser"
	"posish/internal/state"
)

// fakeShell 内建命令测试用的执行器替身。状态和作业表是真的，
// Eval 和 Run 只记录调用，PATH 查找走一张表。
type fakeShell struct {
	st          *state.State
	jobs        *job.Manager
	fs          afero.Fs
	paths       map[string]string
	evals       []string
	runs        [][]string
	evalFn      func(src string, io IO) Result
	hist        []string
	interactive bool
}

func newShell() *fakeShell {
	return &fakeShell{
		st:    state.New("posish", nil),
		jobs:  job.New(),
		fs:    afero.NewMemMapFs(),
		paths: map[string]string{},
	}
}

func (f *fakeShell) State() *state.State { return f.st }
func (f *fakeShell) Jobs() *job.Manager  { return f.jobs }
func (f *fakeShell) FS() afero.Fs        { return f.fs }

func (f *fakeShell) Eval(src string, io IO) Result {
	f.evals = append(f.evals, src)
	if f.evalFn != nil {
		return f.evalFn(src, io)
	}
	return Result{}
}

func (f *fakeShell) Run(argv []string, io IO) Result {
	f.runs = append(f.runs, argv)
	return Result{}
}

func (f *fakeShell) LookPath(name string) (string, error) {
	if path, ok := f.paths[name]; ok {
		f.st.HashSet(name, path)
		return path, nil
	}
	return "", fmt.Errorf("%s: 没找到", name)
}

func (f *fakeShell) Interactive() bool { return f.interactive }
func (f *fakeShell) History() []string { return f.hist }
func (f *fakeShell) ClearHistory()     { f.hist = nil }

// run 按名字执行内建命令，返回结果和两路输出
func run(t *testing.T, sh Shell, stdin string, argv ...string) (Result, string, string) {
	t.Helper()
	fn, ok := Lookup(argv[0])
	if !ok {
		t.Fatalf("内建命令 %s 没注册", argv[0])
	}
	var out, errOut bytes.Buffer
	res := fn(sh, argv, IO{In: strings.NewReader(stdin), Out: &out, Err: &errOut})
	return res, out.String(), errOut.String()
}

func TestLookupAndNames(t *testing.T) {
	for _, name := range []string{":", "true", "false", "cd", "pwd", "echo",
		"printf", "exit", "return", "break", "continue", "shift", "set",
		"unset", "export", "readonly", "local", "eval", ".", "source",
		"exec", "trap", "wait", "jobs", "fg", "bg", "kill", "alias",
		"unalias", "hash", "type", "command", "builtin", "test", "[",
		"umask", "read", "history", "help"} {
		if _, ok := Lookup(name); !ok {
			t.Errorf("内建命令 %s 没注册", name)
		}
	}
	if _, ok := Lookup("nosuch"); ok {
		t.Error("不存在的命令不该能查到")
	}
	if !sort.StringsAreSorted(Names()) {
		t.Error("Names() 应该排好序")
	}
}

func TestRegister(t *testing.T) {
	called := false
	Register("@probe", func(sh Shell, argv []string, io IO) Result {
		called = true
		return Result{Status: 3}
	})
	sh := newShell()
	res, _, _ := run(t, sh, "", "@probe")
	assert.True(t, called, "注册的命令应该被调用")
	assert.Equal(t, 3, res.Status)
}

func TestQuote(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", "''"},
		{"abc", "abc"},
		{"/usr/bin", "/usr/bin"},
		{"a b", "'a b'"},
		{"a=b", "'a=b'"},
		{"it's", `'it'\''s'`},
		{"a\nb", "'a\nb'"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, quote(c.in), "quote(%q)", c.in)
	}
}

func TestEcho(t *testing.T) {
	cases := []struct {
		argv []string
		want string
	}{
		{[]string{"echo", "hello"}, "hello\n"},
		{[]string{"echo", "hello", "world"}, "hello world\n"},
		{[]string{"echo"}, "\n"},
		{[]string{"echo", "-n", "hi"}, "hi"},
		{[]string{"echo", "-e", `a\tb`}, "a\tb\n"},
		{[]string{"echo", "-e", `hi\c`, "more"}, "hi"},
		{[]string{"echo", "-en", `x\n`}, "x\n"},
		{[]string{"echo", "-e", `\0101`}, "A\n"},
		{[]string{"echo", "-E", `a\tb`}, `a\tb` + "\n"},
		{[]string{"echo", "-x", "y"}, "-x y\n"},
		{[]string{"echo", "--", "a"}, "-- a\n"},
	}
	sh := newShell()
	for _, c := range cases {
		res, out, _ := run(t, sh, "", c.argv...)
		assert.Equal(t, 0, res.Status, "%v 的退出状态", c.argv)
		assert.Equal(t, c.want, out, "%v 的输出", c.argv)
	}
}

func TestPrintf(t *testing.T) {
	cases := []struct {
		argv   []string
		want   string
		status int
	}{
		{[]string{"printf", "%s\n", "hi"}, "hi\n", 0},
		{[]string{"printf", "%d-%d.", "3", "4"}, "3-4.", 0},
		{[]string{"printf", "%05d", "42"}, "00042", 0},
		{[]string{"printf", "%5.2f", "3.14159"}, " 3.14", 0},
		{[]string{"printf", "%x", "255"}, "ff", 0},
		{[]string{"printf", "%o", "8"}, "10", 0},
		{[]string{"printf", "%c", "abc"}, "a", 0},
		{[]string{"printf", "a%sb"}, "ab", 0},
		{[]string{"printf", "[%s]", "x", "y"}, "[x][y]", 0},
		{[]string{"printf", "%b", `x\ty`}, "x\ty", 0},
		{[]string{"printf", "%d", "'A"}, "65", 0},
		{[]string{"printf", `\101\n`}, "A\n", 0},
		{[]string{"printf", "100%%"}, "100%", 0},
		{[]string{"printf", "%d", "zz"}, "0", 1},
	}
	sh := newShell()
	for _, c := range cases {
		res, out, _ := run(t, sh, "", c.argv...)
		assert.Equal(t, c.status, res.Status, "%v 的退出状态", c.argv)
		assert.Equal(t, c.want, out, "%v 的输出", c.argv)
	}

	res, _, errOut := run(t, sh, "", "printf")
	assert.Equal(t, 2, res.Status, "缺格式串")
	assert.Contains(t, errOut, "缺少格式串")

	res, _, errOut = run(t, sh, "", "printf", "%q", "x")
	assert.Equal(t, 1, res.Status, "不认识的格式指令")
	assert.Contains(t, errOut, "没有这个格式指令")
}

func TestFlowCommands(t *testing.T) {
	sh := newShell()
	sh.st.SetStatus(5)

	res, _, _ := run(t, sh, "", "exit")
	assert.Equal(t, Result{Status: 5, Flow: FlowExit}, res, "裸 exit 用 $?")

	res, _, _ = run(t, sh, "", "exit", "3")
	assert.Equal(t, Result{Status: 3, Flow: FlowExit}, res)

	res, _, _ = run(t, sh, "", "exit", "300")
	assert.Equal(t, 300&0xff, res.Status, "退出状态折进一个字节")

	res, _, errOut := run(t, sh, "", "exit", "xyz")
	assert.Equal(t, Result{Status: 2, Flow: FlowExit}, res)
	assert.Contains(t, errOut, "需要数字参数")

	res, _, _ = run(t, sh, "", "return", "7")
	assert.Equal(t, Result{Status: 7, Flow: FlowReturn}, res)

	res, _, _ = run(t, sh, "", "return", "xyz")
	assert.Equal(t, Result{Status: 2}, res, "坏参数的 return 不带控制流")

	res, _, _ = run(t, sh, "", "break")
	assert.Equal(t, Result{Flow: FlowBreak, Depth: 1}, res)

	res, _, _ = run(t, sh, "", "break", "2")
	assert.Equal(t, Result{Flow: FlowBreak, Depth: 2}, res)

	res, _, _ = run(t, sh, "", "continue", "3")
	assert.Equal(t, Result{Flow: FlowContinue, Depth: 3}, res)

	res, _, _ = run(t, sh, "", "break", "0")
	assert.Equal(t, Result{Status: 1}, res, "层数至少是 1")
}

func TestShift(t *testing.T) {
	sh := newShell()
	sh.st.SetPositional([]string{"a", "b", "c"})

	res, _, _ := run(t, sh, "", "shift")
	require.Equal(t, 0, res.Status)
	assert.Equal(t, []string{"b", "c"}, sh.st.Positional())

	res, _, _ = run(t, sh, "", "shift", "2")
	require.Equal(t, 0, res.Status)
	assert.Empty(t, sh.st.Positional())

	res, _, errOut := run(t, sh, "", "shift", "5")
	assert.Equal(t, 1, res.Status, "移太多要报错")
	assert.Contains(t, errOut, "移不了那么多")
}

func TestSetFlags(t *testing.T) {
	sh := newShell()
	opts := sh.st.Options()

	run(t, sh, "", "set", "-e")
	assert.True(t, opts.ErrExit)
	run(t, sh, "", "set", "+e")
	assert.False(t, opts.ErrExit)

	run(t, sh, "", "set", "-ef")
	assert.True(t, opts.ErrExit && opts.NoGlob, "连写的开关")

	run(t, sh, "", "set", "-o", "pipefail")
	assert.True(t, opts.Pipefail)
	run(t, sh, "", "set", "+opipefail")
	assert.False(t, opts.Pipefail, "连写的 -o 选项名")

	res, _, errOut := run(t, sh, "", "set", "-Z")
	assert.Equal(t, 2, res.Status)
	assert.Contains(t, errOut, "没有这个选项")

	res, _, errOut = run(t, sh, "", "set", "-o", "nosuch")
	assert.Equal(t, 2, res.Status)
	assert.Contains(t, errOut, "没有这个选项")
}

func TestSetPositional(t *testing.T) {
	sh := newShell()

	run(t, sh, "", "set", "a", "b")
	assert.Equal(t, []string{"a", "b"}, sh.st.Positional())

	run(t, sh, "", "set", "-e", "--", "x")
	assert.Equal(t, []string{"x"}, sh.st.Positional())
	assert.True(t, sh.st.Options().ErrExit)

	run(t, sh, "", "set", "--")
	assert.Empty(t, sh.st.Positional(), "单独的 -- 清空位置参数")
}

func TestSetListings(t *testing.T) {
	sh := newShell()
	require.NoError(t, sh.st.Set("X123TEST", "v"))

	_, out, _ := run(t, sh, "", "set")
	assert.Contains(t, out, "X123TEST=v\n")

	run(t, sh, "", "set", "-o", "pipefail")
	_, out, _ = run(t, sh, "", "set", "-o")
	assert.Contains(t, out, "pipefail")
	assert.Contains(t, out, "on")

	_, out, _ = run(t, sh, "", "set", "+o")
	assert.Contains(t, out, "set -o pipefail\n")
	assert.Contains(t, out, "set +o errexit\n")
}

func TestExportReadonly(t *testing.T) {
	sh := newShell()

	res, _, _ := run(t, sh, "", "export", "FOO=bar")
	require.Equal(t, 0, res.Status)
	v, ok := sh.st.Lookup("FOO")
	require.True(t, ok)
	assert.True(t, v.Exported)
	assert.Equal(t, "bar", v.Value)

	_, out, _ := run(t, sh, "", "export")
	assert.Contains(t, out, "export FOO=bar\n")

	res, _, errOut := run(t, sh, "", "export", "1bad=x")
	assert.Equal(t, 1, res.Status)
	assert.Contains(t, errOut, "不是合法的变量名")

	res, _, _ = run(t, sh, "", "readonly", "RO=1")
	require.Equal(t, 0, res.Status)
	assert.Error(t, sh.st.Set("RO", "2"), "只读变量不能再赋值")

	_, out, _ = run(t, sh, "", "readonly")
	assert.Contains(t, out, "readonly RO=1\n")

	res, _, _ = run(t, sh, "", "export", "RO=2")
	assert.Equal(t, 1, res.Status, "对只读变量赋值要报错")

	res, _, _ = run(t, sh, "", "unset", "RO")
	assert.Equal(t, 1, res.Status, "只读变量不能撤销")
}

func TestUnset(t *testing.T) {
	sh := newShell()
	require.NoError(t, sh.st.Set("DOOMED", "x"))

	res, _, _ := run(t, sh, "", "unset", "DOOMED")
	require.Equal(t, 0, res.Status)
	_, ok := sh.st.Get("DOOMED")
	assert.False(t, ok)

	sh.st.DefineFunc(&parser.FunctionDef{Name: "gone"})
	run(t, sh, "", "unset", "-f", "gone")
	_, ok = sh.st.Func("gone")
	assert.False(t, ok, "unset -f 应该删函数")
}

func TestLocal(t *testing.T) {
	sh := newShell()

	res, _, errOut := run(t, sh, "", "local", "X=5")
	assert.Equal(t, 1, res.Status)
	assert.Contains(t, errOut, "只能在函数里用")

	frame := sh.st.PushFrame(nil)
	res, _, _ = run(t, sh, "", "local", "X=5")
	require.Equal(t, 0, res.Status)
	v, _ := sh.st.Get("X")
	assert.Equal(t, "5", v)
	sh.st.PopFrame(frame)

	_, ok := sh.st.Get("X")
	assert.False(t, ok, "函数返回后局部变量消失")
}

func TestCd(t *testing.T) {
	oldwd, err := os.Getwd()
	require.NoError(t, err)
	defer os.Chdir(oldwd)

	sh := newShell()
	dirA := t.TempDir()
	dirB := t.TempDir()

	res, _, _ := run(t, sh, "", "cd", dirA)
	require.Equal(t, 0, res.Status)
	pwd, _ := sh.st.Get("PWD")
	assert.Equal(t, dirA, pwd)

	res, _, _ = run(t, sh, "", "cd", dirB)
	require.Equal(t, 0, res.Status)
	old, _ := sh.st.Get("OLDPWD")
	assert.Equal(t, dirA, old)

	res, out, _ := run(t, sh, "", "cd", "-")
	require.Equal(t, 0, res.Status)
	assert.Equal(t, dirA+"\n", out, "cd - 要打印去处")
	pwd, _ = sh.st.Get("PWD")
	assert.Equal(t, dirA, pwd)

	res, _, errOut := run(t, sh, "", "cd", filepath.Join(dirA, "missing"))
	assert.Equal(t, 1, res.Status)
	assert.Contains(t, errOut, "进不去")

	home := t.TempDir()
	require.NoError(t, sh.st.Set("HOME", home))
	res, _, _ = run(t, sh, "", "cd")
	require.Equal(t, 0, res.Status)
	pwd, _ = sh.st.Get("PWD")
	assert.Equal(t, home, pwd, "裸 cd 回 HOME")
}

func TestCdCdpath(t *testing.T) {
	oldwd, err := os.Getwd()
	require.NoError(t, err)
	defer os.Chdir(oldwd)

	sh := newShell()
	base := t.TempDir()
	proj := filepath.Join(base, "proj")
	require.NoError(t, os.Mkdir(proj, 0o755))
	require.NoError(t, sh.st.Set("CDPATH", base))

	res, out, _ := run(t, sh, "", "cd", "proj")
	require.Equal(t, 0, res.Status)
	assert.Equal(t, proj+"\n", out, "CDPATH 命中要打印去处")
	pwd, _ := sh.st.Get("PWD")
	assert.Equal(t, proj, pwd)
}

func TestPwd(t *testing.T) {
	sh := newShell()
	require.NoError(t, sh.st.Set("PWD", "/somewhere/logical"))

	_, out, _ := run(t, sh, "", "pwd")
	assert.Equal(t, "/somewhere/logical\n", out, "默认打逻辑路径")

	wd, err := os.Getwd()
	require.NoError(t, err)
	_, out, _ = run(t, sh, "", "pwd", "-P")
	assert.Equal(t, wd+"\n", out, "-P 打物理路径")
}

func TestTestStrings(t *testing.T) {
	cases := []struct {
		argv   []string
		status int
	}{
		{[]string{"test"}, 1},
		{[]string{"test", "hello"}, 0},
		{[]string{"test", ""}, 1},
		{[]string{"test", "-z", ""}, 0},
		{[]string{"test", "-z", "x"}, 1},
		{[]string{"test", "-n", "x"}, 0},
		{[]string{"test", "-n", ""}, 1},
		{[]string{"test", "a", "=", "a"}, 0},
		{[]string{"test", "a", "=", "b"}, 1},
		{[]string{"test", "a", "!=", "a"}, 1},
		{[]string{"test", "3", "-gt", "2"}, 0},
		{[]string{"test", "2", "-le", "1"}, 1},
		{[]string{"test", "-5", "-lt", "0"}, 0},
		{[]string{"test", "7", "-eq", "7"}, 0},
		{[]string{"test", "7", "-ne", "7"}, 1},
		{[]string{"test", "!", "a", "=", "b"}, 0},
		{[]string{"test", "!", "!", "x"}, 0},
		{[]string{"test", "a", "-a", "b"}, 0},
		{[]string{"test", "a", "-a", ""}, 1},
		{[]string{"test", "", "-o", "x"}, 0},
		{[]string{"test", "", "-o", ""}, 1},
		{[]string{"test", "(", "a", "=", "b", ")"}, 1},
		{[]string{"test", "(", "x", ")"}, 0},
		{[]string{"test", "!", "(", "a", "=", "a", ")"}, 1},
		{[]string{"[", "x", "=", "x", "]"}, 0},
		{[]string{"[", "x", "=", "y", "]"}, 1},
	}
	sh := newShell()
	for _, c := range cases {
		res, _, _ := run(t, sh, "", c.argv...)
		assert.Equal(t, c.status, res.Status, "%v", c.argv)
	}
}

func TestTestErrors(t *testing.T) {
	sh := newShell()

	res, _, errOut := run(t, sh, "", "[", "x")
	assert.Equal(t, 2, res.Status)
	assert.Contains(t, errOut, "缺少配对的 ]")

	res, _, errOut = run(t, sh, "", "test", "5", "-eq", "abc")
	assert.Equal(t, 2, res.Status)
	assert.Contains(t, errOut, "要一个整数")

	res, _, errOut = run(t, sh, "", "test", "a", "b")
	assert.Equal(t, 2, res.Status)
	assert.Contains(t, errOut, "多出来的参数")

	res, _, errOut = run(t, sh, "", "test", "(", "x")
	assert.Equal(t, 2, res.Status)
	assert.Contains(t, errOut, "缺少配对的 )")
}

func TestTestFiles(t *testing.T) {
	sh := newShell()
	dir := t.TempDir()
	file := filepath.Join(dir, "data")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	cases := []struct {
		argv   []string
		status int
	}{
		{[]string{"test", "-e", file}, 0},
		{[]string{"test", "-f", file}, 0},
		{[]string{"test", "-d", dir}, 0},
		{[]string{"test", "-f", dir}, 1},
		{[]string{"test", "-d", file}, 1},
		{[]string{"test", "-s", file}, 0},
		{[]string{"test", "-e", filepath.Join(dir, "missing")}, 1},
		{[]string{"test", "-r", file}, 0},
		{[]string{"test", file, "-ef", file}, 0},
		{[]string{"test", file, "-nt", file}, 1},
	}
	for _, c := range cases {
		res, _, _ := run(t, sh, "", c.argv...)
		assert.Equal(t, c.status, res.Status, "%v", c.argv)
	}
}

func TestUmaskFormat(t *testing.T) {
	assert.Equal(t, "u=rwx,g=rx,o=rx", symbolicMask(0o022))
	assert.Equal(t, "u=rwx,g=,o=", symbolicMask(0o077))
	assert.Equal(t, "u=rwx,g=rwx,o=rwx", symbolicMask(0))
}

func TestUmaskParse(t *testing.T) {
	cases := []struct {
		in   string
		cur  int
		want int
	}{
		{"022", 0, 0o022},
		{"0777", 0, 0o777},
		{"u=rwx,g=rx,o=", 0, 0o027},
		{"+w", 0o077, 0o055},
		{"a-x", 0o022, 0o133},
	}
	for _, c := range cases {
		got, err := parseMask(c.in, c.cur)
		require.NoError(t, err, "parseMask(%q)", c.in)
		assert.Equal(t, c.want, got, "parseMask(%q)", c.in)
	}

	for _, bad := range []string{"8", "u?w", "u+q", "01777"} {
		_, err := parseMask(bad, 0)
		assert.Error(t, err, "parseMask(%q) 应该报错", bad)
	}
}

func TestUmaskCommand(t *testing.T) {
	old := unix.Umask(0o022)
	defer unix.Umask(old)

	sh := newShell()
	_, out, _ := run(t, sh, "", "umask")
	assert.Equal(t, "0022\n", out)

	_, out, _ = run(t, sh, "", "umask", "-S")
	assert.Equal(t, "u=rwx,g=rx,o=rx\n", out)

	res, _, _ := run(t, sh, "", "umask", "027")
	require.Equal(t, 0, res.Status)
	now := unix.Umask(0)
	unix.Umask(now)
	assert.Equal(t, 0o027, now, "掩码要真的改掉")
}

func TestRead(t *testing.T) {
	cases := []struct {
		in     string
		ifs    string
		argv   []string
		want   map[string]string
		status int
	}{
		{"alpha beta gamma\n", "", []string{"read", "x", "y"},
			map[string]string{"x": "alpha", "y": "beta gamma"}, 0},
		{"only\n", "", []string{"read", "x", "y"},
			map[string]string{"x": "only", "y": ""}, 0},
		{"  padded  \n", "", []string{"read", "x"},
			map[string]string{"x": "padded"}, 0},
		{"a:b:c\n", ":", []string{"read", "x", "y", "z"},
			map[string]string{"x": "a", "y": "b", "z": "c"}, 0},
		{"a::c\n", ":", []string{"read", "x", "y", "z"},
			map[string]string{"x": "a", "y": "", "z": "c"}, 0},
		{"one \\\ntwo\n", "", []string{"read"},
			map[string]string{"REPLY": "one two"}, 0},
		{`a\ b c` + "\n", "", []string{"read", "x", "y"},
			map[string]string{"x": "a b", "y": "c"}, 0},
		{`a\ b` + "\n", "", []string{"read", "-r", "x", "y"},
			map[string]string{"x": `a\`, "y": "b"}, 0},
		{"partial", "", []string{"read"},
			map[string]string{"REPLY": "partial"}, 1},
		{"", "", []string{"read"},
			map[string]string{"REPLY": ""}, 1},
	}
	for _, c := range cases {
		sh := newShell()
		if c.ifs != "" {
			require.NoError(t, sh.st.Set("IFS", c.ifs))
		}
		res, _, _ := run(t, sh, c.in, c.argv...)
		assert.Equal(t, c.status, res.Status, "read %q 的退出状态", c.in)
		for name, want := range c.want {
			got, _ := sh.st.Get(name)
			assert.Equal(t, want, got, "read %q 之后 %s 的值", c.in, name)
		}
	}
}

func TestReadErrors(t *testing.T) {
	sh := newShell()
	res, _, errOut := run(t, sh, "x\n", "read", "1bad")
	assert.Equal(t, 1, res.Status)
	assert.Contains(t, errOut, "不是合法的变量名")

	// 提示串只往终端打，测试里的输入不是终端
	res, _, errOut = run(t, sh, "x\n", "read", "-p", "? ", "v")
	assert.Equal(t, 0, res.Status)
	assert.Empty(t, errOut)
}

func TestAlias(t *testing.T) {
	sh := newShell()

	res, _, _ := run(t, sh, "", "alias", "ll=ls -l")
	require.Equal(t, 0, res.Status)
	v, ok := sh.st.Alias("ll")
	require.True(t, ok)
	assert.Equal(t, "ls -l", v)

	_, out, _ := run(t, sh, "", "alias", "ll")
	assert.Equal(t, "alias ll='ls -l'\n", out)

	_, out, _ = run(t, sh, "", "alias")
	assert.Contains(t, out, "alias ll='ls -l'\n")

	res, _, errOut := run(t, sh, "", "alias", "nosuch")
	assert.Equal(t, 1, res.Status)
	assert.Contains(t, errOut, "没有这个别名")

	res, _, _ = run(t, sh, "", "unalias", "ll")
	require.Equal(t, 0, res.Status)
	_, ok = sh.st.Alias("ll")
	assert.False(t, ok)

	res, _, _ = run(t, sh, "", "unalias", "ll")
	assert.Equal(t, 1, res.Status, "再删一次要报错")

	run(t, sh, "", "alias", "a=1")
	run(t, sh, "", "alias", "b=2")
	run(t, sh, "", "unalias", "-a")
	assert.Empty(t, sh.st.AliasNames(), "unalias -a 清掉全部别名")
}

func TestTrap(t *testing.T) {
	sh := newShell()

	res, _, _ := run(t, sh, "", "trap", "echo hi", "INT", "TERM")
	require.Equal(t, 0, res.Status)
	action, ok := sh.st.Trap("INT")
	require.True(t, ok)
	assert.Equal(t, "echo hi", action)
	_, ok = sh.st.Trap("TERM")
	assert.True(t, ok)

	run(t, sh, "", "trap", "-", "TERM")
	_, ok = sh.st.Trap("TERM")
	assert.False(t, ok, "trap - 恢复默认")

	// 老写法：trap 加一串信号值也是恢复默认
	run(t, sh, "", "trap", "2")
	_, ok = sh.st.Trap("INT")
	assert.False(t, ok)

	run(t, sh, "", "trap", "cleanup", "EXIT")
	action, ok = sh.st.Trap("EXIT")
	require.True(t, ok)
	assert.Equal(t, "cleanup", action)

	run(t, sh, "", "trap", "bye", "0")
	action, _ = sh.st.Trap("EXIT")
	assert.Equal(t, "bye", action, "信号 0 就是 EXIT")

	_, out, _ := run(t, sh, "", "trap")
	assert.Contains(t, out, "trap -- bye EXIT\n")

	res, _, errOut := run(t, sh, "", "trap", "x", "NOSUCH")
	assert.Equal(t, 1, res.Status)
	assert.Contains(t, errOut, "没有这个信号")

	res, _, errOut = run(t, sh, "", "trap", "")
	assert.Equal(t, 2, res.Status)
	assert.Contains(t, errOut, "缺少信号名")
}

func TestTypeResolution(t *testing.T) {
	sh := newShell()
	sh.paths["ls"] = "/bin/ls"
	sh.st.SetAlias("ll", "ls -l")
	sh.st.DefineFunc(&parser.FunctionDef{Name: "greet"})

	cases := []struct {
		name string
		want string
	}{
		{"ll", "ll 是 'ls -l' 的别名\n"},
		{"greet", "greet 是函数\n"},
		{"cd", "cd 是内建命令\n"},
		{"ls", "ls 是 /bin/ls\n"},
	}
	for _, c := range cases {
		res, out, _ := run(t, sh, "", "type", c.name)
		assert.Equal(t, 0, res.Status, "type %s", c.name)
		assert.Equal(t, c.want, out, "type %s", c.name)
	}

	res, _, errOut := run(t, sh, "", "type", "nosuch")
	assert.Equal(t, 1, res.Status)
	assert.Contains(t, errOut, "没找到")
}

func TestCommand(t *testing.T) {
	sh := newShell()
	sh.paths["ls"] = "/bin/ls"
	sh.st.SetAlias("ll", "ls -l")

	_, out, _ := run(t, sh, "", "command", "-v", "ls")
	assert.Equal(t, "/bin/ls\n", out)

	_, out, _ = run(t, sh, "", "command", "-v", "cd")
	assert.Equal(t, "cd\n", out)

	_, out, _ = run(t, sh, "", "command", "-v", "ll")
	assert.Equal(t, "alias ll='ls -l'\n", out)

	res, _, _ := run(t, sh, "", "command", "-v", "nosuch")
	assert.Equal(t, 1, res.Status)

	run(t, sh, "", "command", "echo", "hi")
	require.Len(t, sh.runs, 1)
	assert.Equal(t, []string{"echo", "hi"}, sh.runs[0])

	run(t, sh, "", "command", "--", "-v")
	require.Len(t, sh.runs, 2)
	assert.Equal(t, []string{"-v"}, sh.runs[1], "-- 后面的不再当选项")
}

func TestBuiltinCmd(t *testing.T) {
	sh := newShell()

	res, out, _ := run(t, sh, "", "builtin", "echo", "hi")
	assert.Equal(t, 0, res.Status)
	assert.Equal(t, "hi\n", out)

	res, _, errOut := run(t, sh, "", "builtin", "nosuch")
	assert.Equal(t, 1, res.Status)
	assert.Contains(t, errOut, "不是内建命令")
}

func TestHash(t *testing.T) {
	sh := newShell()
	sh.paths["ls"] = "/bin/ls"

	res, _, _ := run(t, sh, "", "hash", "ls")
	require.Equal(t, 0, res.Status)

	_, out, _ := run(t, sh, "", "hash")
	assert.Equal(t, "ls\t/bin/ls\n", out)

	run(t, sh, "", "hash", "-r")
	_, out, _ = run(t, sh, "", "hash")
	assert.Empty(t, out, "hash -r 之后缓存是空的")

	res, _, errOut := run(t, sh, "", "hash", "nosuch")
	assert.Equal(t, 1, res.Status)
	assert.Contains(t, errOut, "没找到")
}

func TestEval(t *testing.T) {
	sh := newShell()

	res, _, _ := run(t, sh, "", "eval", "echo", "hi")
	assert.Equal(t, 0, res.Status)
	require.Len(t, sh.evals, 1)
	assert.Equal(t, "echo hi", sh.evals[0], "参数拼成一段源码")

	run(t, sh, "", "eval", "", "")
	assert.Len(t, sh.evals, 1, "空源码不进解释器")
}

func TestDot(t *testing.T) {
	sh := newShell()
	require.NoError(t, afero.WriteFile(sh.fs, "/lib/tools.sh", []byte("x=1\n"), 0o644))
	require.NoError(t, sh.st.Set("PATH", "/lib"))

	res, _, _ := run(t, sh, "", ".", "tools.sh")
	require.Equal(t, 0, res.Status, "不带斜杠的名字在 PATH 里找")
	require.Len(t, sh.evals, 1)
	assert.Equal(t, "x=1\n", sh.evals[0])

	res, _, errOut := run(t, sh, "", ".", "nope.sh")
	assert.Equal(t, 1, res.Status)
	assert.Contains(t, errOut, "打不开")

	res, _, errOut = run(t, sh, "", ".")
	assert.Equal(t, 2, res.Status)
	assert.Contains(t, errOut, "缺少文件名")

	// 脚本里的 return 到 . 为止
	sh.evalFn = func(src string, io IO) Result {
		return Result{Status: 7, Flow: FlowReturn}
	}
	res, _, _ = run(t, sh, "", "source", "/lib/tools.sh")
	assert.Equal(t, Result{Status: 7}, res)
}

func TestExec(t *testing.T) {
	sh := newShell()

	res, _, _ := run(t, sh, "", "exec")
	assert.Equal(t, Result{}, res, "裸 exec 只让重定向生效")

	res, _, errOut := run(t, sh, "", "exec", "nosuch")
	assert.Equal(t, Result{Status: 127, Flow: FlowExit}, res, "非交互时替换失败退出")
	assert.Contains(t, errOut, "没找到")

	sh.interactive = true
	res, _, _ = run(t, sh, "", "exec", "nosuch")
	assert.Equal(t, Result{Status: 127}, res, "交互时替换失败不退出")
}

func TestKillList(t *testing.T) {
	sh := newShell()

	_, out, _ := run(t, sh, "", "kill", "-l")
	assert.True(t, strings.HasPrefix(out, "HUP INT"), "信号表从 HUP 开始: %q", out)
	assert.Contains(t, out, "TERM")

	_, out, _ = run(t, sh, "", "kill", "-l", "9")
	assert.Equal(t, "KILL\n", out)

	_, out, _ = run(t, sh, "", "kill", "-l", "143")
	assert.Equal(t, "TERM\n", out, "128+N 的退出状态翻回信号名")

	res, _, errOut := run(t, sh, "", "kill")
	assert.Equal(t, 2, res.Status)
	assert.Contains(t, errOut, "缺少目标")

	res, _, errOut = run(t, sh, "", "kill", "-s", "NOPE", "1")
	assert.Equal(t, 1, res.Status)
	assert.Contains(t, errOut, "没有这个信号")
}

func TestSignalByName(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"TERM", 15, true},
		{"term", 15, true},
		{"SIGTERM", 15, true},
		{"15", 15, true},
		{"KILL", 9, true},
		{"99", 0, false},
		{"NOPE", 0, false},
	}
	for _, c := range cases {
		sig, ok := signalByName(c.in)
		assert.Equal(t, c.ok, ok, "signalByName(%q)", c.in)
		if c.ok {
			assert.Equal(t, c.want, int(sig), "signalByName(%q)", c.in)
		}
	}
}

func TestJobsWithoutMonitor(t *testing.T) {
	sh := newShell()

	res, out, _ := run(t, sh, "", "jobs")
	assert.Equal(t, 0, res.Status)
	assert.Empty(t, out, "空作业表没输出")

	res, _, errOut := run(t, sh, "", "fg")
	assert.Equal(t, 1, res.Status)
	assert.Contains(t, errOut, "没开作业控制")

	res, _, errOut = run(t, sh, "", "bg")
	assert.Equal(t, 1, res.Status)
	assert.Contains(t, errOut, "没开作业控制")

	res, _, _ = run(t, sh, "", "wait")
	assert.Equal(t, 0, res.Status)

	res, _, _ = run(t, sh, "", "wait", "%1")
	assert.Equal(t, 127, res.Status, "等不存在的作业")
}

func TestHistoryCmd(t *testing.T) {
	sh := newShell()
	sh.hist = []string{"ls", "cd /tmp", "echo hi"}

	_, out, _ := run(t, sh, "", "history")
	assert.Equal(t, "    1  ls\n    2  cd /tmp\n    3  echo hi\n", out)

	_, out, _ = run(t, sh, "", "history", "2")
	assert.Equal(t, "    2  cd /tmp\n    3  echo hi\n", out, "尾部两条保留原编号")

	res, _, _ := run(t, sh, "", "history", "x")
	assert.Equal(t, 1, res.Status)

	run(t, sh, "", "history", "-c")
	assert.Empty(t, sh.hist)
	_, out, _ = run(t, sh, "", "history")
	assert.Empty(t, out)
}

func TestHelp(t *testing.T) {
	sh := newShell()
	_, out, _ := run(t, sh, "", "help")
	assert.Contains(t, out, "cd")
	assert.Contains(t, out, "printf")
}

func TestColonTrueFalse(t *testing.T) {
	sh := newShell()
	for name, want := range map[string]int{":": 0, "true": 0, "false": 1} {
		res, out, errOut := run(t, sh, "", name)
		assert.Equal(t, want, res.Status, "%s 的退出状态", name)
		assert.Empty(t, out, "%s 不该有输出", name)
		assert.Empty(t, errOut)
	}
}
