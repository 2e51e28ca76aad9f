package builtin

import (
	"fmt"
	"strconv"
	"strings"
	"syscall"

	"github.com/pborman/getopt/v2"
	"golang.org/x/sys/unix"

	"posish/internal/job"
)

// jobsCmd 列出作业表。-l 在状态前加进程号，-p 只打进程组号。
// 已结束的作业报告完就出表。
func jobsCmd(sh Shell, argv []string, io IO) Result {
	opts := getopt.New()
	long := opts.Bool('l', "带上进程号")
	pgids := opts.Bool('p', "只打进程组号")
	if err := opts.Getopt(argv, nil); err != nil {
		return errf(io, 2, "jobs: %v", err)
	}
	m := sh.Jobs()
	m.Reap()
	for _, j := range m.Jobs() {
		switch {
		case *pgids:
			fmt.Fprintln(io.Out, j.Pgid)
		case *long:
			fmt.Fprintf(io.Out, "%s  %v\n", m.Line(j), j.Pids())
		default:
			fmt.Fprintln(io.Out, m.Line(j))
		}
		m.Acknowledge(j)
	}
	return Result{}
}

// findJob 解析 fg/bg/kill/wait 的作业参数，缺省用当前作业
func findJob(sh Shell, args []string, cmd string, io IO) (*job.Job, *Result) {
	m := sh.Jobs()
	if len(args) == 0 {
		j, ok := m.Current()
		if !ok {
			r := errf(io, 1, "%s: 现在没有作业", cmd)
			return nil, &r
		}
		return j, nil
	}
	j, ok := m.FindSpec(args[0])
	if !ok {
		r := errf(io, 1, "%s: %s: 没有这个作业", cmd, args[0])
		return nil, &r
	}
	return j, nil
}

// fg 把作业拉到前台等它跑完
func fg(sh Shell, argv []string, io IO) Result {
	if !sh.Jobs().Monitor() {
		return errf(io, 1, "fg: 没开作业控制")
	}
	j, res := findJob(sh, argv[1:], "fg", io)
	if res != nil {
		return *res
	}
	fmt.Fprintln(io.Err, j.Cmd)
	return Result{Status: sh.Jobs().Foreground(j)}
}

// bg 让停住的作业在后台继续
func bg(sh Shell, argv []string, io IO) Result {
	if !sh.Jobs().Monitor() {
		return errf(io, 1, "bg: 没开作业控制")
	}
	j, res := findJob(sh, argv[1:], "bg", io)
	if res != nil {
		return *res
	}
	sh.Jobs().Background(j)
	fmt.Fprintf(io.Err, "[%d] %s &\n", j.ID, j.Cmd)
	return Result{}
}

// wait 等作业结束。不带参数等全部作业，否则按作业描述符或进程号等。
func wait(sh Shell, argv []string, io IO) Result {
	m := sh.Jobs()
	args := argv[1:]
	if len(args) == 0 {
		for _, j := range m.Jobs() {
			m.WaitJob(j)
		}
		return Result{}
	}
	status := 0
	for _, arg := range args {
		var j *job.Job
		var ok bool
		if strings.HasPrefix(arg, "%") {
			j, ok = m.FindSpec(arg)
		} else if pid, err := strconv.Atoi(arg); err == nil {
			j, ok = m.FindByPid(pid)
		}
		if !ok {
			status = 127
			continue
		}
		status = m.WaitJob(j)
	}
	return Result{Status: status}
}

// kill 给作业或进程发信号。支持 -s NAME、-NAME、-N 三种写法，
// -l 列信号名。
func kill(sh Shell, argv []string, io IO) Result {
	args := argv[1:]
	sig := unix.SIGTERM

	if len(args) > 0 && args[0] == "-l" {
		return killList(args[1:], io)
	}
	if len(args) > 0 && strings.HasPrefix(args[0], "-") && args[0] != "--" {
		if args[0] == "-s" {
			if len(args) < 2 {
				return errf(io, 2, "kill: -s 后面要跟信号名")
			}
			s, ok := signalByName(args[1])
			if !ok {
				return errf(io, 1, "kill: %s: 没有这个信号", args[1])
			}
			sig = s
			args = args[2:]
		} else {
			s, ok := signalByName(args[0][1:])
			if !ok {
				return errf(io, 1, "kill: %s: 没有这个信号", args[0])
			}
			sig = s
			args = args[1:]
		}
	}
	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}
	if len(args) == 0 {
		return errf(io, 2, "kill: 缺少目标")
	}

	status := 0
	for _, arg := range args {
		if strings.HasPrefix(arg, "%") {
			j, ok := sh.Jobs().FindSpec(arg)
			if !ok {
				errf(io, 1, "kill: %s: 没有这个作业", arg)
				status = 1
				continue
			}
			if err := sh.Jobs().Kill(j, sig); err != nil {
				errf(io, 1, "kill: %v", err)
				status = 1
			}
			continue
		}
		pid, err := strconv.Atoi(arg)
		if err != nil {
			errf(io, 1, "kill: %s: 参数不对", arg)
			status = 1
			continue
		}
		if err := unix.Kill(pid, sig); err != nil {
			errf(io, 1, "kill: (%d): %v", pid, err)
			status = 1
		}
	}
	return Result{Status: status}
}

// killList 打印信号名。带参数时把信号值或 128+N 的退出状态翻成名字。
func killList(args []string, io IO) Result {
	if len(args) == 0 {
		var names []string
		for n := 1; n <= 31; n++ {
			name := unix.SignalName(syscall.Signal(n))
			if name == "" {
				continue
			}
			names = append(names, strings.TrimPrefix(name, "SIG"))
		}
		fmt.Fprintln(io.Out, strings.Join(names, " "))
		return Result{}
	}
	status := 0
	for _, arg := range args {
		n, err := strconv.Atoi(arg)
		if err != nil {
			errf(io, 1, "kill: %s: 参数不对", arg)
			status = 1
			continue
		}
		if n > 128 {
			n -= 128
		}
		name := unix.SignalName(syscall.Signal(n))
		if name == "" {
			errf(io, 1, "kill: %d: 没有这个信号", n)
			status = 1
			continue
		}
		fmt.Fprintln(io.Out, strings.TrimPrefix(name, "SIG"))
	}
	return Result{Status: status}
}

// signalByName 解析信号写法：名字可带可不带 SIG 前缀，数字按信号值
func signalByName(s string) (syscall.Signal, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		if name := unix.SignalName(syscall.Signal(n)); name != "" {
			return syscall.Signal(n), true
		}
		return 0, false
	}
	name := strings.ToUpper(s)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	if sig := unix.SignalNum(name); sig != 0 {
		return sig, true
	}
	return 0, false
}
