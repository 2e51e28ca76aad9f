package job

import (
	"strconv"
	"sync"
)

// Status 作业状态
type Status int

const (
	Running Status = iota
	Stopped
	Done
)

func (s Status) String() string {
	switch s {
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	case Done:
		return "Done"
	}
	return "Unknown"
}

// Proc 作业里的一个进程。字段只在 shell 主执行流里更新。
type Proc struct {
	Pid     int
	done    bool
	stopped bool
	exit    int
}

// Job 一个作业：运行在同一进程组里的一条流水线，或一个纯内建
// 的后台复合命令（此时没有进程，Pgid 为零，done 在结束时关闭）。
type Job struct {
	ID    int
	Pgid  int
	Cmd   string
	Procs []*Proc

	mu      sync.Mutex
	state   Status
	exit    int
	changed bool
	done    chan struct{}
}

// NewJob 构造一个尚未登记的进程作业。流水线首个进程号充当进程组号。
func NewJob(pgid int, pids []int, cmd string) *Job {
	procs := make([]*Proc, len(pids))
	for i, pid := range pids {
		procs[i] = &Proc{Pid: pid}
	}
	return &Job{Pgid: pgid, Procs: procs, Cmd: cmd, state: Running}
}

// State 当前作业状态
func (j *Job) State() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// ExitStatus 作业整体的退出状态，即最后一个进程的退出状态
func (j *Job) ExitStatus() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.exit
}

// StatusText 人读的状态文字，非零退出带上状态码
func (j *Job) StatusText() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == Done && j.exit != 0 {
		return "Exit " + strconv.Itoa(j.exit)
	}
	return j.state.String()
}

// Pids 作业里全部进程号
func (j *Job) Pids() []int {
	pids := make([]int, len(j.Procs))
	for i, p := range j.Procs {
		pids[i] = p.Pid
	}
	return pids
}

// Statuses 每个进程的退出状态，按流水线顺序。pipefail 用。
func (j *Job) Statuses() []int {
	out := make([]int, len(j.Procs))
	for i, p := range j.Procs {
		out[i] = p.exit
	}
	return out
}

// HasPid 作业是否包含指定进程
func (j *Job) HasPid(pid int) bool {
	for _, p := range j.Procs {
		if p.Pid == pid {
			return true
		}
	}
	return false
}

func (j *Job) setState(s Status, exit int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = s
	j.exit = exit
}

// setRunning 续跑前清掉每个进程的停止标记
func (j *Job) setRunning() {
	for _, p := range j.Procs {
		p.stopped = false
	}
	j.mu.Lock()
	j.state = Running
	j.mu.Unlock()
}

// takeChanged 取走"状态变化待通报"标记
func (j *Job) takeChanged() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	c := j.changed
	j.changed = false
	return c
}

// refreshFromProcs 按进程状态推导作业状态。全部结束为 Done，
// 有进程停住为 Stopped，否则仍在运行。状态变化时做标记。
func (j *Job) refreshFromProcs() {
	if len(j.Procs) == 0 {
		return
	}
	allDone := true
	anyStopped := false
	for _, p := range j.Procs {
		if !p.done {
			allDone = false
			if p.stopped {
				anyStopped = true
			}
		}
	}
	next := Running
	exit := j.Procs[len(j.Procs)-1].exit
	switch {
	case allDone:
		next = Done
	case anyStopped:
		next = Stopped
	}
	j.mu.Lock()
	if j.state != next {
		j.state = next
		j.changed = true
	}
	if next == Done {
		j.exit = exit
	}
	j.mu.Unlock()
}

// finish 纯内建作业结束时由其 goroutine 上报
func (j *Job) finish(exit int) {
	j.mu.Lock()
	j.state = Done
	j.exit = exit
	j.changed = true
	j.mu.Unlock()
	close(j.done)
}
