// Package job 实现进程组级别的作业控制：后台作业表、前台终端
// 交接以及 SIGCHLD 的两阶段回收。作业控制原语失败时只记录，
// 不让 shell 退出。
package job

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"
)

// Spec 一次进程启动的全部参数
type Spec struct {
	Path string
	Argv []string
	Env  []string
	Dir  string
	// Files 按 0、1、2 的顺序传给子进程的描述符
	Files []*os.File
	// Pgid 子进程加入的进程组，零表示自成一组
	Pgid int
	// Foreground 前台作业的成员，组长进程把终端交给该组
	Foreground bool
}

// Manager 作业管理器。作业表和编号由表锁保护，单个作业的状态字段
// 由作业自己的锁保护。
type Manager struct {
	mu       sync.Mutex
	jobs     map[int]*Job
	nextID   int
	current  int
	previous int

	monitor   bool
	tty       *os.File
	shellPgid int
	// fgPgid 被信号转发 goroutine 并发读取，走原子操作
	fgPgid atomic.Int32

	sigchld chan os.Signal
	stderr  io.Writer
}

// New 建一个空的作业管理器并开始收集 SIGCHLD 到达标志。
// 信号处理函数里只置标志，真正的回收放在安全点的 Reap 里做。
func New() *Manager {
	m := &Manager{
		jobs:    make(map[int]*Job),
		nextID:  1,
		sigchld: make(chan os.Signal, 1),
		stderr:  os.Stderr,
	}
	signal.Notify(m.sigchld, syscall.SIGCHLD)
	return m
}

// NewChild 子执行环境（命令替换、子 shell、流水线工序）用的管理器：
// 不监听 SIGCHLD 也永远不接管终端，外部命令按普通前台方式等待。
func NewChild() *Manager {
	return &Manager{
		jobs:   make(map[int]*Job),
		nextID: 1,
		stderr: os.Stderr,
	}
}

// SetOutput 改写通报和错误的输出目标
func (m *Manager) SetOutput(w io.Writer) {
	m.stderr = w
}

// Close 注销 SIGCHLD 监听，顶层管理器收尾时调用
func (m *Manager) Close() {
	if m.sigchld != nil {
		signal.Stop(m.sigchld)
	}
}

// EnableMonitor 打开作业控制：shell 自成进程组并接管控制终端。
// 终端停止信号改为忽略，之后 tcsetpgrp 才不会把 shell 自己停住。
func (m *Manager) EnableMonitor(tty *os.File) error {
	pid := unix.Getpid()
	if unix.Getpgrp() != pid {
		if err := unix.Setpgid(pid, pid); err != nil {
			return &JobError{Op: "setpgid", Err: err}
		}
	}
	signal.Ignore(syscall.SIGTTOU, syscall.SIGTTIN, syscall.SIGTSTP)
	m.tty = tty
	m.shellPgid = pid
	m.monitor = true
	m.takeTerminal()
	return nil
}

// Monitor 作业控制是否开着
func (m *Manager) Monitor() bool {
	return m.monitor
}

// SetMonitor 运行中切换作业控制。打开要求之前 EnableMonitor 成功过。
func (m *Manager) SetMonitor(on bool) {
	if on && m.tty == nil {
		return
	}
	m.monitor = on
}

// ForegroundPgid 当前前台进程组，shell 自己在前台时为零
func (m *Manager) ForegroundPgid() int {
	return int(m.fgPgid.Load())
}

// ForwardSignal 把送到 shell 的信号转发给前台进程组
func (m *Manager) ForwardSignal(sig os.Signal) {
	pgid := int(m.fgPgid.Load())
	if pgid == 0 {
		return
	}
	if s, ok := sig.(syscall.Signal); ok {
		_ = unix.Kill(-pgid, s)
	}
}

// Spawn 启动一个子进程。开着作业控制时子进程进入指定进程组，
// 前台组长通过 Ctty 在 exec 前就把终端拿到手，父子两侧都入组，
// 谁先跑都不丢窗口。
func (m *Manager) Spawn(s Spec) (*os.Process, error) {
	sys := &syscall.SysProcAttr{}
	if m.monitor {
		sys.Setpgid = true
		sys.Pgid = s.Pgid
		if s.Foreground && m.tty != nil {
			sys.Foreground = true
			sys.Ctty = int(m.tty.Fd())
		}
	} else if !s.Foreground {
		// 脚本里的后台作业也自成一组，键盘中断就打不到它们
		sys.Setpgid = true
		sys.Pgid = s.Pgid
	}
	proc, err := os.StartProcess(s.Path, s.Argv, &os.ProcAttr{
		Dir:   s.Dir,
		Env:   s.Env,
		Files: s.Files,
		Sys:   sys,
	})
	if err != nil {
		return nil, err
	}
	if sys.Setpgid {
		pgid := s.Pgid
		if pgid == 0 {
			pgid = proc.Pid
		}
		// 子进程已经 exec 过时会失败，这说明它自己入组成功了
		_ = unix.Setpgid(proc.Pid, pgid)
	}
	return proc, nil
}

// RunForeground 把作业放到前台等它结束或停住。停住的作业登进
// 作业表并立刻通报，退出状态按 128 加 SIGTSTP 折算。
func (m *Manager) RunForeground(j *Job) int {
	m.giveTerminal(j.Pgid)
	st := m.waitProcs(j)
	m.takeTerminal()
	if j.State() == Stopped {
		m.registerStopped(j)
		j.takeChanged()
		fmt.Fprintf(m.stderr, "\n%s\n", m.Line(j))
		return 128 + int(unix.SIGTSTP)
	}
	return st
}

// Foreground 把登记过的作业拉回前台，停住的先续跑。fg 内建用。
func (m *Manager) Foreground(j *Job) int {
	if j.done != nil {
		// goroutine 作业没有进程组，等它完就是了
		return m.WaitJob(j)
	}
	m.giveTerminal(j.Pgid)
	if j.State() == Stopped {
		if err := unix.Kill(-j.Pgid, unix.SIGCONT); err != nil {
			m.report("continue", err)
		}
		j.setRunning()
	}
	st := m.waitProcs(j)
	m.takeTerminal()
	if j.State() == Stopped {
		j.takeChanged()
		fmt.Fprintf(m.stderr, "\n%s\n", m.Line(j))
		return 128 + int(unix.SIGTSTP)
	}
	m.Remove(j)
	return st
}

// Background 让停住的作业在后台续跑。bg 内建用。
func (m *Manager) Background(j *Job) {
	if j.State() != Stopped || j.Pgid == 0 {
		return
	}
	if err := unix.Kill(-j.Pgid, unix.SIGCONT); err != nil {
		m.report("continue", err)
	}
	j.setRunning()
	j.takeChanged()
}

// AddBackground 登记一个后台作业并返回作业号
func (m *Manager) AddBackground(j *Job) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerLocked(j)
	return j.ID
}

// AddFunc 登记一个 goroutine 作业：没有进程的纯内建后台命令。
// run 在自己的 goroutine 里跑，结束时作业转为 Done。
func (m *Manager) AddFunc(cmd string, run func() int) *Job {
	j := &Job{Cmd: cmd, state: Running, done: make(chan struct{})}
	m.mu.Lock()
	m.registerLocked(j)
	m.mu.Unlock()
	go func() {
		j.finish(run())
	}()
	return j
}

// WaitJob 阻塞等到作业结束并把它移出作业表。作业中途停住时
// 留在表里，返回 128 加 SIGTSTP。
func (m *Manager) WaitJob(j *Job) int {
	if j.done != nil {
		<-j.done
		m.Remove(j)
		return j.ExitStatus()
	}
	st := m.waitProcs(j)
	if j.State() == Stopped {
		return 128 + int(unix.SIGTSTP)
	}
	m.Remove(j)
	return st
}

// Kill 给整个作业发信号。goroutine 作业没有进程组，发不了。
func (m *Manager) Kill(j *Job, sig syscall.Signal) error {
	if j.Pgid == 0 {
		return &JobError{Op: "kill", Err: fmt.Errorf("作业 %%%d 没有进程组", j.ID)}
	}
	if err := unix.Kill(-j.Pgid, sig); err != nil {
		return &JobError{Op: "kill", Err: err}
	}
	return nil
}

// Reap 非阻塞回收改变了状态的后台进程。只在命令边界这样的安全点
// 调用，信号处理函数本身不动作业表。
func (m *Manager) Reap() {
	if m.sigchld != nil {
		select {
		case <-m.sigchld:
		default:
		}
	}
	m.mu.Lock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	m.mu.Unlock()
	for _, j := range jobs {
		m.reapJob(j)
	}
}

// Notices 取走积压的状态通报，已结束的作业随之出表
func (m *Manager) Notices() []string {
	var out []string
	for _, j := range m.Jobs() {
		if !j.takeChanged() {
			continue
		}
		out = append(out, m.Line(j))
		if j.State() == Done {
			m.Remove(j)
		}
	}
	return out
}

// Acknowledge 作业状态已经另行报告过：清掉通报标记，结束的出表。
// jobs 内建列完表之后调用。
func (m *Manager) Acknowledge(j *Job) {
	j.takeChanged()
	if j.State() == Done {
		m.Remove(j)
	}
}

// Jobs 作业表里的全部作业，按作业号排序
func (m *Manager) Jobs() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// Find 按作业号找作业
func (m *Manager) Find(id int) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	return j, ok
}

// FindByPid 找包含指定进程的作业
func (m *Manager) FindByPid(pid int) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.HasPid(pid) {
			return j, true
		}
	}
	return nil, false
}

// Current 当前作业，即 %+ 指向的那个
func (m *Manager) Current() (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[m.current]
	return j, ok
}

// FindSpec 解析作业描述符：%N 按号，%+ 和 %% 当前作业，%- 上一个
// 作业，%str 按命令前缀，%?str 按命令子串。
func (m *Manager) FindSpec(spec string) (*Job, bool) {
	body := strings.TrimPrefix(spec, "%")
	m.mu.Lock()
	defer m.mu.Unlock()
	switch body {
	case "", "+", "%":
		j, ok := m.jobs[m.current]
		return j, ok
	case "-":
		j, ok := m.jobs[m.previous]
		return j, ok
	}
	if n, err := strconv.Atoi(body); err == nil {
		j, ok := m.jobs[n]
		return j, ok
	}
	match := func(j *Job) bool { return strings.HasPrefix(j.Cmd, body) }
	if strings.HasPrefix(body, "?") {
		sub := body[1:]
		match = func(j *Job) bool { return strings.Contains(j.Cmd, sub) }
	}
	for _, j := range m.jobs {
		if match(j) {
			return j, true
		}
	}
	return nil, false
}

// Remove 把作业移出作业表。表空了作业号从 1 重新数。
func (m *Manager) Remove(j *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.ID == 0 {
		return
	}
	delete(m.jobs, j.ID)
	if m.current == j.ID {
		m.current = m.previous
		m.previous = 0
	} else if m.previous == j.ID {
		m.previous = 0
	}
	if len(m.jobs) == 0 {
		m.nextID = 1
		m.current = 0
		m.previous = 0
	}
}

// Line 一行作业通报，格式同 jobs 内建的输出
func (m *Manager) Line(j *Job) string {
	m.mu.Lock()
	mark := ' '
	switch j.ID {
	case m.current:
		mark = '+'
	case m.previous:
		mark = '-'
	}
	m.mu.Unlock()
	cmd := j.Cmd
	if j.State() == Running {
		cmd += " &"
	}
	return fmt.Sprintf("[%d]%c  %-22s %s", j.ID, mark, j.StatusText(), cmd)
}

// registerLocked 持表锁登记作业，并把 %+ 让给新作业
func (m *Manager) registerLocked(j *Job) {
	j.ID = m.nextID
	m.nextID++
	m.jobs[j.ID] = j
	m.previous = m.current
	m.current = j.ID
}

// registerStopped 前台作业被停住时补登进作业表
func (m *Manager) registerStopped(j *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.ID == 0 {
		m.registerLocked(j)
		return
	}
	// fg 拉回来又停住的作业还在表里，只把 %+ 还给它
	m.previous = m.current
	m.current = j.ID
}

// waitProcs 依次阻塞等待作业里的每个进程，进程停住也算等到。
// 返回最后一个进程的退出状态。
func (m *Manager) waitProcs(j *Job) int {
	last := 0
	for _, p := range j.Procs {
		if p.done {
			last = p.exit
			continue
		}
		for {
			var ws unix.WaitStatus
			_, err := unix.Wait4(p.Pid, &ws, unix.WUNTRACED, nil)
			if err == unix.EINTR {
				continue
			}
			if err != nil {
				// 进程已经被收走，状态拿不回来了
				m.report("wait", err)
				p.done = true
				break
			}
			if ws.Stopped() {
				p.stopped = true
				break
			}
			p.done = true
			p.exit = exitStatus(ws)
			break
		}
		last = p.exit
	}
	j.refreshFromProcs()
	return last
}

// reapJob 非阻塞收一个作业的进程状态变化
func (m *Manager) reapJob(j *Job) {
	if len(j.Procs) == 0 {
		return
	}
	for _, p := range j.Procs {
		if p.done {
			continue
		}
		var ws unix.WaitStatus
		wpid, err := unix.Wait4(p.Pid, &ws, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			p.done = true
			continue
		}
		if wpid == 0 {
			continue
		}
		switch {
		case ws.Stopped():
			p.stopped = true
		case ws.Continued():
			p.stopped = false
		default:
			p.done = true
			p.exit = exitStatus(ws)
		}
	}
	j.refreshFromProcs()
}

// giveTerminal 把控制终端交给前台进程组
func (m *Manager) giveTerminal(pgid int) {
	m.fgPgid.Store(int32(pgid))
	if !m.monitor || m.tty == nil || pgid == 0 {
		return
	}
	if err := unix.IoctlSetPointerInt(int(m.tty.Fd()), unix.TIOCSPGRP, pgid); err != nil {
		m.report("tcsetpgrp", err)
	}
}

// takeTerminal 把控制终端拿回给 shell 自己
func (m *Manager) takeTerminal() {
	m.fgPgid.Store(0)
	if !m.monitor || m.tty == nil {
		return
	}
	if err := unix.IoctlSetPointerInt(int(m.tty.Fd()), unix.TIOCSPGRP, m.shellPgid); err != nil {
		m.report("tcsetpgrp", err)
	}
}

func (m *Manager) report(op string, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(m.stderr, "posish: %v\n", &JobError{Op: op, Err: err})
}

// exitStatus 把 wait 状态折算成 shell 退出状态，信号按 128 加信号值
func exitStatus(ws unix.WaitStatus) int {
	if ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ws.ExitStatus()
}
