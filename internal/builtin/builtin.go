// Package builtin 实现内建命令。每个命令是一个 Func，通过窄接口
// Shell 访问 shell 状态和作业表，读写重定向之后的三路 IO，返回
// 退出状态和要向外层传播的控制流。执行器实现 Shell 接口，避免
// 包循环依赖。
package builtin

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"posish/internal/job"
	"posish/internal/state"
)

// IO 内建命令的三路输入输出，重定向已经由执行器接好
type IO struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// Flow 控制流类别
type Flow int

const (
	FlowNone Flow = iota
	FlowBreak
	FlowContinue
	FlowReturn
	FlowExit
	// FlowInt 未设陷阱的 SIGINT 展开到交互循环，丢弃本行剩余命令
	FlowInt
)

// Result 一次命令的结果。Flow 不为 FlowNone 时由外层的循环、
// 函数调用或顶层逐层消化，Depth 是 break/continue 要穿过的层数。
type Result struct {
	Status int
	Flow   Flow
	Depth  int
}

// Shell 内建命令能看到的 shell 能力
type Shell interface {
	// State 共享的 shell 状态
	State() *state.State
	// Jobs 作业管理器
	Jobs() *job.Manager
	// FS 脚本和文件访问用的文件系统
	FS() afero.Fs
	// Eval 在当前 shell 环境里解析执行一段源码，eval 和 . 用
	Eval(src string, io IO) Result
	// Run 跳过函数查找执行一条简单命令，command 前缀用
	Run(argv []string, io IO) Result
	// LookPath 在 PATH 里找外部命令，命中会进哈希缓存
	LookPath(name string) (string, error)
	// Interactive 是不是交互式会话
	Interactive() bool
	// History 当前会话的命令历史
	History() []string
	// ClearHistory 清空当前会话的命令历史
	ClearHistory()
}

// Func 内建命令函数类型。argv[0] 是命令自己的名字。
type Func func(sh Shell, argv []string, io IO) Result

var builtins map[string]Func

func init() {
	builtins = make(map[string]Func)
	builtins[":"] = colon
	builtins["true"] = truth
	builtins["false"] = falsity
	builtins["cd"] = cd
	builtins["pwd"] = pwd
	builtins["echo"] = echo
	builtins["printf"] = printfCmd
	builtins["exit"] = exitCmd
	builtins["return"] = returnCmd
	builtins["break"] = breakCmd
	builtins["continue"] = continueCmd
	builtins["shift"] = shift
	builtins["set"] = setCmd
	builtins["unset"] = unset
	builtins["export"] = export
	builtins["readonly"] = readonlyCmd
	builtins["local"] = local
	builtins["eval"] = eval
	builtins["."] = dot
	builtins["source"] = dot
	builtins["exec"] = execCmd
	builtins["trap"] = trap
	builtins["wait"] = wait
	builtins["jobs"] = jobsCmd
	builtins["fg"] = fg
	builtins["bg"] = bg
	builtins["kill"] = kill
	builtins["alias"] = alias
	builtins["unalias"] = unalias
	builtins["hash"] = hash
	builtins["type"] = typeCmd
	builtins["command"] = command
	builtins["builtin"] = builtinCmd
	builtins["test"] = testCmd
	builtins["["] = testCmd
	builtins["umask"] = umask
	builtins["read"] = read
	builtins["history"] = history
	builtins["help"] = help
}

// Register 注册内建命令，重名覆盖。协作包补充其余命令用。
func Register(name string, fn Func) {
	builtins[name] = fn
}

// Lookup 按名字找内建命令
func Lookup(name string) (Func, bool) {
	fn, ok := builtins[name]
	return fn, ok
}

// Names 全部内建命令名，排好序
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// errf 打印内建命令错误并返回给定状态
func errf(io IO, status int, format string, a ...interface{}) Result {
	fmt.Fprintf(io.Err, "posish: "+format+"\n", a...)
	return Result{Status: status}
}

// quote 单引号包裹，让输出能原样喂回 shell
func quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`&|;<>()*?[~#=") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// colon 冒号命令：展开参数，什么也不做
func colon(sh Shell, argv []string, io IO) Result {
	return Result{}
}

func truth(sh Shell, argv []string, io IO) Result {
	return Result{}
}

func falsity(sh Shell, argv []string, io IO) Result {
	return Result{Status: 1}
}

// help 列出全部内建命令
func help(sh Shell, argv []string, io IO) Result {
	fmt.Fprintln(io.Out, "下面这些命令由 shell 内部实现，help 显示本列表。")
	fmt.Fprintln(io.Out)
	names := Names()
	for i := 0; i < len(names); i += 6 {
		end := i + 6
		if end > len(names) {
			end = len(names)
		}
		fmt.Fprintf(io.Out, "  %s\n", strings.Join(names[i:end], "  "))
	}
	return Result{}
}
