package executor

import (
	"fmt"
	"strings"

	"posish/internal/builtin"
	"posish/internal/expand"
	"posish/internal/job"
	"posish/internal/lexer"
	"posish/internal/parser"
	"posish/internal/state"
)

// invocation 展开完成的一条简单命令
type invocation struct {
	argv      []string
	assigns   [][2]string // 展开后的前缀赋值
	redirects []*parser.Redirect
	node      *parser.SimpleCommand
}

func (e *Executor) simple(c *parser.SimpleCommand, io builtin.IO) builtin.Result {
	exp := expand.New(e.st, e, e.fs)
	inv, res, proceed := e.evalSimple(c, exp, io)
	if !proceed {
		return res
	}
	return e.dispatch(inv, exp, io)
}

// evalSimple 按 POSIX 顺序展开参数词和前缀赋值。没有参数词的
// 命令走纯赋值路径，proceed 为假时 res 就是最终结果。
func (e *Executor) evalSimple(c *parser.SimpleCommand, exp *expand.Expander, io builtin.IO) (*invocation, builtin.Result, bool) {
	var argv []string
	for _, w := range c.Args {
		fields, err := exp.Fields(w.Parts)
		if err != nil {
			return nil, e.expandFail(err, io), false
		}
		argv = append(argv, fields...)
	}
	if len(argv) == 0 {
		return nil, e.assignOnly(c, exp, io), false
	}
	inv := &invocation{argv: argv, redirects: c.Redirects, node: c}
	for _, a := range c.Assignments {
		var segs []lexer.Segment
		if a.Value != nil {
			segs = a.Value.Parts
		}
		val, err := exp.Assign(segs)
		if err != nil {
			return nil, e.expandFail(err, io), false
		}
		inv.assigns = append(inv.assigns, [2]string{a.Name, val})
	}
	if e.st.Options().XTrace {
		e.xtrace(inv, io)
	}
	return inv, builtin.Result{}, true
}

// assignOnly 只有赋值（可能带重定向）的命令。赋值留在当前环境；
// 重定向照样打开再关上，目标文件的创建和截断是可见的副作用。
// 退出状态取最后一次命令替换的，没有就是 0。
func (e *Executor) assignOnly(c *parser.SimpleCommand, exp *expand.Expander, io builtin.IO) builtin.Result {
	status := 0
	var traced []string
	for _, a := range c.Assignments {
		var segs []lexer.Segment
		if a.Value != nil {
			segs = a.Value.Parts
		}
		val, err := exp.Assign(segs)
		if err != nil {
			return e.expandFail(err, io)
		}
		traced = append(traced, a.Name+"="+val)
		if err := e.st.Set(a.Name, val); err != nil {
			fmt.Fprintf(io.Err, "posish: %s: %v\n", a.Name, err)
			status = 1
		}
	}
	if e.st.Options().XTrace && len(traced) > 0 {
		fmt.Fprintln(io.Err, "+ "+strings.Join(traced, " "))
	}
	if subst, ran := exp.TakeSubstStatus(); ran && status == 0 {
		status = subst
	}
	if len(c.Redirects) > 0 {
		_, cleanup, err := e.redirectIO(c.Redirects, exp, io)
		if err != nil {
			return e.redirectFail(err, io)
		}
		cleanup()
	}
	return builtin.Result{Status: status}
}

// xtrace -x 回显展开后的命令
func (e *Executor) xtrace(inv *invocation, io builtin.IO) {
	var sb strings.Builder
	sb.WriteString("+")
	for _, kv := range inv.assigns {
		sb.WriteString(" " + kv[0] + "=" + kv[1])
	}
	for _, a := range inv.argv {
		sb.WriteString(" " + a)
	}
	fmt.Fprintln(io.Err, sb.String())
}

// dispatch 按 POSIX 的查找顺序落实一条展开完的命令：
// 函数、内建、再到 PATH 上的外部程序。
func (e *Executor) dispatch(inv *invocation, exp *expand.Expander, io builtin.IO) builtin.Result {
	name := inv.argv[0]
	if def, ok := e.st.Func(name); ok {
		return e.callFunction(def, inv, exp, io)
	}
	if fn, ok := builtin.Lookup(name); ok {
		if name == "exec" {
			return e.execInvocation(fn, inv, exp, io)
		}
		return e.runBuiltin(fn, inv, exp, io)
	}
	path, err := e.LookPath(name)
	if err != nil {
		return e.lookupFail(err, io)
	}
	env := mergeEnv(e.st.Environ(), inv.assigns)
	return e.runProcess(path, inv.argv, env, inv.redirects, exp, inv.node.String(), io)
}

// runBuiltin 内建命令：前缀赋值临时生效并导出，重定向围着这条
// 命令，结束后都恢复原样。
func (e *Executor) runBuiltin(fn builtin.Func, inv *invocation, exp *expand.Expander, io builtin.IO) builtin.Result {
	restore := e.applyAssigns(inv.assigns, io)
	if restore == nil {
		return builtin.Result{Status: 1}
	}
	defer restore()
	return e.withRedirectIO(inv.redirects, exp, io, func(io builtin.IO) builtin.Result {
		return fn(e, inv.argv, io)
	})
}

// execInvocation exec 的赋值持久生效，重定向落在真实描述符上
// 留在原位。重定向失败按 POSIX 对特殊内建的要求，非交互退出。
func (e *Executor) execInvocation(fn builtin.Func, inv *invocation, exp *expand.Expander, io builtin.IO) builtin.Result {
	for _, kv := range inv.assigns {
		if err := e.st.Set(kv[0], kv[1]); err != nil {
			fmt.Fprintf(io.Err, "posish: %s: %v\n", kv[0], err)
			return builtin.Result{Status: 1}
		}
		e.st.Export(kv[0])
	}
	if err := e.applyPermanent(inv.redirects, exp); err != nil {
		fmt.Fprintf(io.Err, "posish: %v\n", err)
		res := builtin.Result{Status: 1}
		if !e.interactive {
			res.Flow = builtin.FlowExit
		}
		return res
	}
	return fn(e, inv.argv, io)
}

// applyAssigns 临时应用前缀赋值并导出，返回恢复现场的函数。
// 碰到只读变量报错返回 nil，已生效的部分会先撤销。
func (e *Executor) applyAssigns(assigns [][2]string, io builtin.IO) func() {
	if len(assigns) == 0 {
		return func() {}
	}
	type saved struct {
		name    string
		v       state.Var
		existed bool
	}
	var stack []saved
	undo := func() {
		for i := len(stack) - 1; i >= 0; i-- {
			s := stack[i]
			if s.existed {
				e.st.PutVar(s.name, s.v)
			} else {
				e.st.DropVar(s.name)
			}
		}
	}
	for _, kv := range assigns {
		prev, existed := e.st.Lookup(kv[0])
		if err := e.st.Set(kv[0], kv[1]); err != nil {
			fmt.Fprintf(io.Err, "posish: %s: %v\n", kv[0], err)
			undo()
			return nil
		}
		e.st.Export(kv[0])
		stack = append(stack, saved{kv[0], prev, existed})
	}
	return undo
}

// runProcess 前台跑一个外部命令并等它结束。重定向落在传给子进程
// 的描述符表上，非文件的外层 IO 通过管道搭桥。
func (e *Executor) runProcess(path string, argv, env []string, rds []*parser.Redirect, exp *expand.Expander, text string, io builtin.IO) builtin.Result {
	br := newBridge()
	base, err := e.stdioFiles(br, io)
	if err != nil {
		br.closeParent()
		br.wait()
		return e.redirectFail(err, io)
	}
	files, opens, err := e.redirectFiles(rds, exp, base)
	if err != nil {
		br.closeParent()
		br.wait()
		return e.redirectFail(err, io)
	}
	proc, err := e.jobs.Spawn(job.Spec{
		Path:       path,
		Argv:       argv,
		Env:        env,
		Files:      files,
		Foreground: true,
	})
	closeFiles(opens)
	br.closeParent()
	if err != nil {
		br.wait()
		return e.spawnFail(argv[0], err, io)
	}
	j := job.NewJob(proc.Pid, []int{proc.Pid}, text)
	status := e.jobs.RunForeground(j)
	br.wait()
	return builtin.Result{Status: status}
}
