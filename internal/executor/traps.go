package executor

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"posish/internal/builtin"
)

// checkpoint 命令边界的安全点：回收后台进程，必要时同步 trap 表，
// 消化攒下来的信号。陷阱动作执行中不重入，子执行环境直接跳过。
func (e *Executor) checkpoint(io builtin.IO) builtin.Result {
	e.jobs.Reap()
	if e.pending == nil || e.inTrap {
		return builtin.Result{}
	}
	e.syncTraps()
	for {
		select {
		case sig := <-e.pending:
			if res := e.fireTrap(sig, io); res.Flow != builtin.FlowNone {
				return res
			}
		default:
			return builtin.Result{}
		}
	}
}

// syncTraps 把 trap 表同步到系统层的信号注册。trap 内建只改表，
// Notify、Ignore 和 Reset 都集中在这儿做，靠纪元号判断有没有变化。
func (e *Executor) syncTraps() {
	epoch := e.st.TrapEpoch()
	if epoch == e.trapEpoch {
		return
	}
	e.trapEpoch = epoch

	wantCatch := make(map[string]bool)
	wantIgnore := make(map[string]bool)
	for _, name := range e.st.TrapSigs() {
		if name == "EXIT" || name == "INT" {
			continue
		}
		sig, ok := sigFromName(name)
		if !ok {
			continue
		}
		action, _ := e.st.Trap(name)
		if action == "" {
			// 忽略型陷阱压到系统层，之后 fork 的子进程跟着继承
			wantIgnore[name] = true
			if _, ok := e.ignored[name]; !ok {
				signal.Ignore(sig)
				e.ignored[name] = sig
			}
			delete(e.watched, name)
		} else {
			wantCatch[name] = true
			if _, ok := e.watched[name]; !ok {
				signal.Notify(e.sigCh, sig)
				e.watched[name] = sig
			}
			delete(e.ignored, name)
		}
	}
	for name, sig := range e.watched {
		if wantCatch[name] {
			continue
		}
		signal.Reset(sig)
		delete(e.watched, name)
		e.reIgnoreTTY(sig)
	}
	for name, sig := range e.ignored {
		if wantIgnore[name] {
			continue
		}
		signal.Reset(sig)
		delete(e.ignored, name)
		e.reIgnoreTTY(sig)
	}

	// SIGINT 的注册单独管：忽略型陷阱交给系统层，其余情况都要
	// 经过 sigCh，好让转发和陷阱路径二选一
	intAction, intSet := e.st.Trap("INT")
	if intSet && intAction == "" {
		if e.intWatched {
			signal.Ignore(syscall.SIGINT)
			e.intWatched = false
		}
		e.intTrapped.Store(false)
	} else {
		if !e.intWatched {
			signal.Notify(e.sigCh, syscall.SIGINT)
			e.intWatched = true
		}
		e.intTrapped.Store(intSet)
	}
}

// reIgnoreTTY 作业控制开着时，撤销陷阱的终端停止信号要回到忽略
// 状态，不然 tcsetpgrp 会把 shell 自己停住
func (e *Executor) reIgnoreTTY(sig os.Signal) {
	if !e.jobs.Monitor() {
		return
	}
	switch sig {
	case syscall.SIGTTOU, syscall.SIGTTIN, syscall.SIGTSTP:
		signal.Ignore(sig)
	}
}

// fireTrap 消化一个信号：设了陷阱跑动作并在前后保存恢复 $?，
// 忽略型略过。没设陷阱还能到这儿的只有 SIGINT——交互会话丢弃
// 当前这行剩下的命令，脚本按 130 终止。
func (e *Executor) fireTrap(sig os.Signal, io builtin.IO) builtin.Result {
	name := trapNameFor(sig)
	if name == "" {
		return builtin.Result{}
	}
	action, ok := e.st.Trap(name)
	if ok && action == "" {
		return builtin.Result{}
	}
	if ok {
		e.rec.Signal(name)
		prev := e.st.Status()
		e.inTrap = true
		res := e.Eval(action, io)
		e.inTrap = false
		if res.Flow != builtin.FlowNone {
			// 陷阱动作里的 exit/return 照常往外走
			return res
		}
		e.st.SetStatus(prev)
		return builtin.Result{}
	}
	if name == "INT" {
		e.rec.Signal(name)
		if e.interactive {
			return builtin.Result{Status: 130, Flow: builtin.FlowInt}
		}
		return builtin.Result{Status: 130, Flow: builtin.FlowExit}
	}
	return builtin.Result{}
}

// forward 信号搬运 goroutine。信号一般排进 pending 等命令边界
// 消化；前台作业跑着而 SIGINT 没设陷阱时直接转发给前台进程组，
// 等待中的外部命令才停得下来。
func (e *Executor) forward() {
	for sig := range e.sigCh {
		if sig == syscall.SIGINT && !e.intTrapped.Load() && e.jobs.ForegroundPgid() != 0 {
			e.jobs.ForwardSignal(sig)
			continue
		}
		select {
		case e.pending <- sig:
		default:
			// 队列满就丢，POSIX 本来也不保证信号不丢
		}
	}
}

// fireExitTrap 触发 EXIT 陷阱，每个执行环境整个生命周期只一次
func (e *Executor) fireExitTrap(io builtin.IO) {
	if e.exitTrapDone {
		return
	}
	e.exitTrapDone = true
	action, ok := e.st.Trap("EXIT")
	if !ok || action == "" {
		return
	}
	saved := e.inTrap
	e.inTrap = true
	e.Eval(action, io)
	e.inTrap = saved
}

// RunExitTrap 对外的 EXIT 陷阱入口，shell 收尾时调用
func (e *Executor) RunExitTrap() {
	e.fireExitTrap(builtin.IO{In: e.stdin, Out: e.stdout, Err: e.stderr})
}

// Interrupted 交互循环在提示符上吃到 Ctrl+C 之后调用：消化攒着的
// 信号，陷阱照常触发，未设陷阱的中断只把 $? 记成 130，不再有可丢
// 弃的命令。
func (e *Executor) Interrupted() {
	io := builtin.IO{In: e.stdin, Out: e.stdout, Err: e.stderr}
	if res := e.checkpoint(io); res.Flow == builtin.FlowInt {
		e.st.SetStatus(res.Status)
	}
}

// sigFromName 反查信号。trap 表里的键已经规范化成不带 SIG 前缀
// 的大写名，查不到时第二个返回值为假。
func sigFromName(name string) (syscall.Signal, bool) {
	sig := unix.SignalNum("SIG" + name)
	return sig, sig != 0
}

// trapNameFor 信号值到 trap 表键
func trapNameFor(sig os.Signal) string {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return ""
	}
	return strings.TrimPrefix(unix.SignalName(s), "SIG")
}
