// Package executor 把语法树跑起来。执行器持有 shell 状态和作业
// 管理器，逐节点求值，控制流（break、continue、return、exit 和
// 未设陷阱的中断）作为 builtin.Result 一层层向外传，任何地方都
// 不靠 panic 展开。顶层执行器独占信号注册；命令替换、子 shell
// 和管道工序用 subExecutor 派生的子执行环境，克隆状态、独立
// 作业表，不碰信号。
package executor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"posish/internal/builtin"
	"posish/internal/expand"
	"posish/internal/history"
	"posish/internal/hook"
	"posish/internal/job"
	"posish/internal/lexer"
	"posish/internal/parser"
	"posish/internal/state"
	"posish/internal/trace"
	"posish/pkg/platform"
)

// Executor 一个执行环境。顶层会话建一个，子环境由它派生。
type Executor struct {
	st   *state.State
	jobs *job.Manager
	fs   afero.Fs

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	interactive  bool
	noErrExit    bool // 条件上下文里抑制 set -e
	inTrap       bool // 陷阱动作执行中，不再消化新信号
	exited       bool
	exitTrapDone bool

	hist  *history.History
	hooks *hook.Runner
	rec   *trace.Recorder

	// 信号通路。系统层投递进 sigCh，forward goroutine 搬到
	// pending，命令边界上同步消化。子执行器这几个都是零值，
	// checkpoint 会直接跳过。
	sigCh      chan os.Signal
	pending    chan os.Signal
	watched    map[string]os.Signal
	ignored    map[string]os.Signal
	intWatched bool
	intTrapped atomic.Bool
	trapEpoch  uint64
}

// New 创建顶层执行器并接管 SIGINT 的投递。整个会话只建一个。
func New(st *state.State, jobs *job.Manager) *Executor {
	e := &Executor{
		st:      st,
		jobs:    jobs,
		fs:      afero.NewOsFs(),
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		sigCh:   make(chan os.Signal, 16),
		pending: make(chan os.Signal, 64),
		watched: make(map[string]os.Signal),
		ignored: make(map[string]os.Signal),
	}
	signal.Notify(e.sigCh, syscall.SIGINT)
	e.intWatched = true
	go e.forward()
	return e
}

// Close 注销信号转发，结束搬运 goroutine。只对顶层执行器有意义。
func (e *Executor) Close() {
	if e.sigCh != nil {
		signal.Stop(e.sigCh)
		close(e.sigCh)
		e.sigCh = nil
	}
}

// SetIO 替换三路标准输入输出
func (e *Executor) SetIO(in io.Reader, out, errw io.Writer) {
	e.stdin, e.stdout, e.stderr = in, out, errw
}

// SetFS 替换文件系统，测试里换内存盘用
func (e *Executor) SetFS(fs afero.Fs) { e.fs = fs }

// SetInteractive 标记交互式会话。影响未设陷阱 SIGINT 的消化方式
// 和作业通知的打印。
func (e *Executor) SetInteractive(on bool) { e.interactive = on }

// SetHistory 挂上命令历史
func (e *Executor) SetHistory(h *history.History) { e.hist = h }

// SetHooks 挂上命令钩子
func (e *Executor) SetHooks(r *hook.Runner) { e.hooks = r }

// SetRecorder 挂上执行跟踪
func (e *Executor) SetRecorder(r *trace.Recorder) { e.rec = r }

// State 实现 builtin.Shell
func (e *Executor) State() *state.State { return e.st }

// Jobs 实现 builtin.Shell
func (e *Executor) Jobs() *job.Manager { return e.jobs }

// FS 实现 builtin.Shell
func (e *Executor) FS() afero.Fs { return e.fs }

// Interactive 实现 builtin.Shell
func (e *Executor) Interactive() bool { return e.interactive }

// History 实现 builtin.Shell
func (e *Executor) History() []string {
	if e.hist == nil {
		return nil
	}
	return e.hist.List()
}

// ClearHistory 实现 builtin.Shell
func (e *Executor) ClearHistory() {
	if e.hist != nil {
		e.hist.Clear()
	}
}

// Exited 顶层有没有收到 exit
func (e *Executor) Exited() bool { return e.exited }

// Execute 顺序执行一段程序的各条顶层命令：发布钩子、记录历史
// 和跟踪，返回最后一条命令的退出状态。exit 之后的命令不再跑，
// 未设陷阱的 SIGINT 丢弃本段剩余命令。
func (e *Executor) Execute(prog *parser.Program) int {
	sio := builtin.IO{In: e.stdin, Out: e.stdout, Err: e.stderr}
	status := e.st.Status()
	for _, cmd := range prog.Commands {
		if e.exited {
			break
		}
		text := cmd.String()
		if e.hooks != nil {
			e.hooks.Pre(hook.PreCommand{Text: text})
		}
		start := time.Now()
		res := e.command(cmd, sio)
		elapsed := time.Since(start)
		status = res.Status
		if e.hooks != nil {
			e.hooks.Post(hook.PostCommand{Text: text, Status: res.Status, Duration: elapsed})
		}
		if e.hist != nil {
			e.hist.Add(text)
		}
		e.rec.Command(text, res.Status, elapsed)
		switch res.Flow {
		case builtin.FlowExit:
			e.exited = true
		case builtin.FlowInt:
			if !e.interactive {
				e.exited = true
			}
			return status
		}
		// 循环外的 break/continue、函数外的 return 到这儿静默吸收
	}
	return status
}

// Eval 实现 builtin.Shell：在当前执行环境里解析执行一段源码。
// 语法错误报告后按状态 2 返回，控制流原样透传给调用方。
func (e *Executor) Eval(src string, io builtin.IO) builtin.Result {
	toks, err := lexer.Tokenize(src)
	if err != nil {
		fmt.Fprintf(io.Err, "posish: %v\n", err)
		return builtin.Result{Status: 2}
	}
	prog, err := parser.NewWithAliases(toks, e.st).ParseProgram()
	if err != nil {
		fmt.Fprintf(io.Err, "posish: %v\n", err)
		return builtin.Result{Status: 2}
	}
	var res builtin.Result
	for _, cmd := range prog.Commands {
		res = e.command(cmd, io)
		if res.Flow != builtin.FlowNone {
			return res
		}
	}
	return res
}

// Run 实现 builtin.Shell：跳过函数查找跑一条简单命令
func (e *Executor) Run(argv []string, io builtin.IO) builtin.Result {
	if len(argv) == 0 {
		return builtin.Result{}
	}
	if fn, ok := builtin.Lookup(argv[0]); ok {
		return fn(e, argv, io)
	}
	path, err := e.LookPath(argv[0])
	if err != nil {
		return e.lookupFail(err, io)
	}
	return e.runProcess(path, argv, e.st.Environ(), nil, nil, strings.Join(argv, " "), io)
}

// command 执行一个命令节点。每个节点执行完都把退出状态写进 $?，
// 进入前先消化攒着的信号。
func (e *Executor) command(cmd parser.Command, io builtin.IO) builtin.Result {
	if e.st.Options().NoExec {
		return builtin.Result{}
	}
	if res := e.checkpoint(io); res.Flow != builtin.FlowNone {
		return res
	}
	var res builtin.Result
	switch c := cmd.(type) {
	case *parser.SimpleCommand:
		res = e.maybeErrExit(e.simple(c, io))
	case *parser.Pipeline:
		res = e.pipelineCmd(c, io)
		if !c.Negate {
			res = e.maybeErrExit(res)
		}
	case *parser.List:
		res = e.list(c, io)
	case *parser.IfClause:
		res = e.ifClause(c, io)
	case *parser.WhileClause:
		res = e.whileClause(c, io)
	case *parser.ForClause:
		res = e.forClause(c, io)
	case *parser.CaseClause:
		res = e.caseClause(c, io)
	case *parser.FunctionDef:
		e.st.DefineFunc(c)
	case *parser.Subshell:
		res = e.subshell(c, io)
	case *parser.Group:
		res = e.group(c, io)
	default:
		fmt.Fprintf(io.Err, "posish: 不认识的命令节点 %T\n", cmd)
		res = builtin.Result{Status: 2}
	}
	e.st.SetStatus(res.Status)
	return res
}

// maybeErrExit set -e 打开时把失败折成退出。条件上下文（if、
// while、until 的判断，&& 和 || 的左边，取反的管道）不受影响。
func (e *Executor) maybeErrExit(res builtin.Result) builtin.Result {
	if res.Status != 0 && res.Flow == builtin.FlowNone &&
		e.st.Options().ErrExit && !e.noErrExit {
		res.Flow = builtin.FlowExit
	}
	return res
}

// condition 在抑制 set -e 的前提下执行条件部分
func (e *Executor) condition(cmd parser.Command, io builtin.IO) builtin.Result {
	saved := e.noErrExit
	e.noErrExit = true
	res := e.command(cmd, io)
	e.noErrExit = saved
	return res
}

func (e *Executor) list(c *parser.List, io builtin.IO) builtin.Result {
	switch c.Op {
	case parser.ListAnd, parser.ListOr:
		left := e.condition(c.Left, io)
		if left.Flow != builtin.FlowNone {
			return left
		}
		if (left.Status == 0) != (c.Op == parser.ListAnd) {
			return left
		}
		return e.command(c.Right, io)
	case parser.ListBackground:
		res := e.background(c.Left, io)
		if res.Flow != builtin.FlowNone || c.Right == nil {
			return res
		}
		return e.command(c.Right, io)
	default: // ListSeq
		left := e.command(c.Left, io)
		if left.Flow != builtin.FlowNone || c.Right == nil {
			return left
		}
		return e.command(c.Right, io)
	}
}

func (e *Executor) ifClause(c *parser.IfClause, io builtin.IO) builtin.Result {
	return e.withRedirects(c.Redirects, io, func(io builtin.IO) builtin.Result {
		cond := e.condition(c.Cond, io)
		if cond.Flow != builtin.FlowNone {
			return cond
		}
		if cond.Status == 0 {
			return e.command(c.Then, io)
		}
		if c.Else != nil {
			return e.command(c.Else, io)
		}
		// 条件为假又没有 else 分支，整条 if 算成功
		return builtin.Result{}
	})
}

// loopFlow 循环层消化 break 和 continue。返回消化后的结果和
// 这一层要不要就此收尾；多层穿透的把层数减一继续外传。
func loopFlow(res builtin.Result) (builtin.Result, bool) {
	switch res.Flow {
	case builtin.FlowBreak:
		if res.Depth > 1 {
			res.Depth--
			return res, true
		}
		return builtin.Result{}, true
	case builtin.FlowContinue:
		if res.Depth > 1 {
			// 外面的循环层先按 break 穿出去，最后一层再转回 continue
			res.Depth--
			return res, true
		}
		return builtin.Result{Status: res.Status}, false
	case builtin.FlowNone:
		return res, false
	}
	// return、exit、中断继续往外传
	return res, true
}

func (e *Executor) whileClause(c *parser.WhileClause, io builtin.IO) builtin.Result {
	return e.withRedirects(c.Redirects, io, func(io builtin.IO) builtin.Result {
		bodyStatus := 0
		for {
			cond := e.condition(c.Cond, io)
			if cond.Flow != builtin.FlowNone {
				res, done := loopFlow(cond)
				if done {
					return res
				}
				bodyStatus = res.Status
				continue
			}
			if (cond.Status == 0) == c.Until {
				return builtin.Result{Status: bodyStatus}
			}
			body := e.command(c.Body, io)
			if body.Flow != builtin.FlowNone {
				res, done := loopFlow(body)
				if done {
					return res
				}
				bodyStatus = res.Status
				continue
			}
			bodyStatus = body.Status
		}
	})
}

func (e *Executor) forClause(c *parser.ForClause, io builtin.IO) builtin.Result {
	return e.withRedirects(c.Redirects, io, func(io builtin.IO) builtin.Result {
		var items []string
		if c.InGiven {
			exp := expand.New(e.st, e, e.fs)
			for _, w := range c.Words {
				fields, err := exp.Fields(w.Parts)
				if err != nil {
					return e.expandFail(err, io)
				}
				items = append(items, fields...)
			}
		} else {
			// 没有 in 列表时遍历位置参数
			items = append(items, e.st.Positional()...)
		}
		bodyStatus := 0
		for _, item := range items {
			if err := e.st.Set(c.Name, item); err != nil {
				fmt.Fprintf(io.Err, "posish: %s: %v\n", c.Name, err)
				return builtin.Result{Status: 1}
			}
			body := e.command(c.Body, io)
			if body.Flow != builtin.FlowNone {
				res, done := loopFlow(body)
				if done {
					return res
				}
				bodyStatus = res.Status
				continue
			}
			bodyStatus = body.Status
		}
		return builtin.Result{Status: bodyStatus}
	})
}

func (e *Executor) caseClause(c *parser.CaseClause, io builtin.IO) builtin.Result {
	return e.withRedirects(c.Redirects, io, func(io builtin.IO) builtin.Result {
		exp := expand.New(e.st, e, e.fs)
		subject, err := exp.One(c.Word.Parts)
		if err != nil {
			return e.expandFail(err, io)
		}
		for _, item := range c.Items {
			for _, pw := range item.Patterns {
				pat, err := exp.Pattern(pw.Parts)
				if err != nil {
					return e.expandFail(err, io)
				}
				if !expand.Match(pat, subject) {
					continue
				}
				if item.Body == nil {
					return builtin.Result{}
				}
				return e.command(item.Body, io)
			}
		}
		// 一个分支都没中也算成功
		return builtin.Result{}
	})
}

func (e *Executor) group(c *parser.Group, io builtin.IO) builtin.Result {
	return e.withRedirects(c.Redirects, io, func(io builtin.IO) builtin.Result {
		return e.command(c.Body, io)
	})
}

func (e *Executor) subshell(c *parser.Subshell, io builtin.IO) builtin.Result {
	return e.withRedirects(c.Redirects, io, func(io builtin.IO) builtin.Result {
		child := e.subExecutor(e.st.Clone())
		return child.subshellBody(c.Body, io)
	})
}

// subshellBody 在子执行环境里跑命令并触发它自己的 EXIT 陷阱。
// 子 shell 是独立进程的模拟，控制流不往外漏，只剩退出状态。
func (e *Executor) subshellBody(cmd parser.Command, io builtin.IO) builtin.Result {
	res := e.command(cmd, io)
	e.fireExitTrap(io)
	return builtin.Result{Status: res.Status}
}

// callFunction 调用 shell 函数。调用处的前缀赋值在函数期间可见，
// 重定向围着整个函数体生效；return 在这儿收掉，break 和 continue
// 不穿函数边界。
func (e *Executor) callFunction(def *parser.FunctionDef, inv *invocation, exp *expand.Expander, io builtin.IO) builtin.Result {
	restore := e.applyAssigns(inv.assigns, io)
	if restore == nil {
		return builtin.Result{Status: 1}
	}
	defer restore()
	return e.withRedirectIO(inv.redirects, exp, io, func(io builtin.IO) builtin.Result {
		frame := e.st.PushFrame(inv.argv[1:])
		defer e.st.PopFrame(frame)
		res := e.command(def.Body, io)
		switch res.Flow {
		case builtin.FlowReturn:
			res.Flow = builtin.FlowNone
		case builtin.FlowBreak, builtin.FlowContinue:
			res = builtin.Result{Status: res.Status}
		}
		return res
	})
}

// withRedirects 给复合命令围上重定向。没有重定向时零开销。
func (e *Executor) withRedirects(rds []*parser.Redirect, io builtin.IO, fn func(builtin.IO) builtin.Result) builtin.Result {
	if len(rds) == 0 {
		return fn(io)
	}
	exp := expand.New(e.st, e, e.fs)
	return e.withRedirectIO(rds, exp, io, fn)
}

func (e *Executor) withRedirectIO(rds []*parser.Redirect, exp *expand.Expander, io builtin.IO, fn func(builtin.IO) builtin.Result) builtin.Result {
	if len(rds) == 0 {
		return fn(io)
	}
	io2, cleanup, err := e.redirectIO(rds, exp, io)
	if err != nil {
		return e.redirectFail(err, io)
	}
	defer cleanup()
	return fn(io2)
}

// LookPath 实现 builtin.Shell：名字里有斜杠的直接判定，其余查
// 哈希缓存再走 PATH。找不到和不可执行分别映射 127、126。
func (e *Executor) LookPath(name string) (string, error) {
	if strings.ContainsRune(name, '/') {
		if err := platform.Executable(name); err != nil {
			return "", classifyLookupErr(name, err)
		}
		return name, nil
	}
	if path, ok := e.st.HashGet(name); ok {
		return path, nil
	}
	pathVar, _ := e.st.Get("PATH")
	sawNotExec := false
	for _, dir := range platform.SplitList(pathVar) {
		cand := filepath.Join(dir, name)
		err := platform.Executable(cand)
		if err == nil {
			e.st.HashSet(name, cand)
			return cand, nil
		}
		if errors.Is(err, os.ErrPermission) {
			sawNotExec = true
		}
	}
	if sawNotExec {
		return "", &ExecError{Kind: ErrNotExecutable, Name: name}
	}
	return "", &ExecError{Kind: ErrNotFound, Name: name}
}

func classifyLookupErr(name string, err error) error {
	if errors.Is(err, os.ErrPermission) {
		return &ExecError{Kind: ErrNotExecutable, Name: name, Err: err}
	}
	return &ExecError{Kind: ErrNotFound, Name: name, Err: err}
}

// expandFail 报告展开错误。展开失败整条命令作废，shell 继续。
func (e *Executor) expandFail(err error, io builtin.IO) builtin.Result {
	fmt.Fprintf(io.Err, "posish: %v\n", err)
	return builtin.Result{Status: 1}
}

func (e *Executor) redirectFail(err error, io builtin.IO) builtin.Result {
	fmt.Fprintf(io.Err, "posish: %v\n", err)
	return builtin.Result{Status: 1}
}

func (e *Executor) lookupFail(err error, io builtin.IO) builtin.Result {
	fmt.Fprintf(io.Err, "posish: %v\n", err)
	var ee *ExecError
	if errors.As(err, &ee) {
		return builtin.Result{Status: ee.ExitCode()}
	}
	return builtin.Result{Status: 127}
}

// spawnFail fork 失败。系统资源耗尽时非交互 shell 直接退出，
// 交互会话报告后继续收提示符。
func (e *Executor) spawnFail(name string, err error, io builtin.IO) builtin.Result {
	ee := &ExecError{Kind: ErrForkFailed, Name: name, Err: err}
	fmt.Fprintf(io.Err, "posish: %v\n", ee)
	res := builtin.Result{Status: ee.ExitCode()}
	if isResourceErr(err) && !e.interactive {
		res.Flow = builtin.FlowExit
	}
	return res
}

func isResourceErr(err error) bool {
	for _, target := range []syscall.Errno{
		syscall.EAGAIN, syscall.ENOMEM, syscall.EMFILE, syscall.ENFILE,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// mergeEnv 把前缀赋值叠到环境上，同名以赋值为准
func mergeEnv(base []string, pairs [][2]string) []string {
	if len(pairs) == 0 {
		return base
	}
	override := make(map[string]bool, len(pairs))
	for _, kv := range pairs {
		override[kv[0]] = true
	}
	out := make([]string, 0, len(base)+len(pairs))
	for _, entry := range base {
		if i := strings.IndexByte(entry, '='); i > 0 && override[entry[:i]] {
			continue
		}
		out = append(out, entry)
	}
	for _, kv := range pairs {
		out = append(out, kv[0]+"="+kv[1])
	}
	return out
}

// subExecutor 派生子执行环境：克隆来的状态、独立的作业表，不碰
// 信号注册也永远不接管终端。继承来的已设陷阱按子 shell 规矩
// 清掉（进了子环境之后自己设的不受影响）。
func (e *Executor) subExecutor(st *state.State) *Executor {
	st.ResetCaughtTraps()
	return &Executor{
		st:     st,
		jobs:   job.NewChild(),
		fs:     e.fs,
		stdin:  e.stdin,
		stdout: e.stdout,
		stderr: e.stderr,
		hist:   e.hist,
		rec:    e.rec,
	}
}
