package executor

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"posish/internal/builtin"
	"posish/internal/expand"
	"posish/internal/job"
	"posish/internal/parser"
)

// pipeStage 分类完的一道管道工序。内建、函数和复合命令在本进程
// 的 goroutine 里跑（run 非空），外部命令 fork 出去（ext 非空）。
// 每道工序的展开都在克隆状态上完成，工序之间互不可见。
type pipeStage struct {
	run    func(builtin.IO) builtin.Result
	ext    *extStage
	pid    int
	status int
}

// extStage 待启动的外部命令，展开在分类时已经做完
type extStage struct {
	path string
	argv []string
	env  []string
	rds  []*parser.Redirect
	exp  *expand.Expander
}

// pipelineCmd 执行管道节点。工序各自克隆状态，状态以最后一道
// 工序为准；整条管道内部不触发 set -e，由外层对结果统一判。
func (e *Executor) pipelineCmd(p *parser.Pipeline, io builtin.IO) builtin.Result {
	saved := e.noErrExit
	e.noErrExit = true
	var res builtin.Result
	if len(p.Stages) == 1 {
		res = e.command(p.Stages[0], io)
	} else {
		res = e.startPipeline(p.Stages, p.String(), false, io)
	}
	e.noErrExit = saved
	if p.Negate && res.Flow == builtin.FlowNone {
		if res.Status == 0 {
			res.Status = 1
		} else {
			res.Status = 0
		}
	}
	return res
}

// background 把一条命令放到后台。管道拆成工序一起进一个作业，
// 其余命令整个作为一道工序。
func (e *Executor) background(cmd parser.Command, io builtin.IO) builtin.Result {
	if p, ok := cmd.(*parser.Pipeline); ok && !p.Negate {
		return e.startPipeline(p.Stages, p.String(), true, io)
	}
	return e.startPipeline([]parser.Command{cmd}, cmd.String(), true, io)
}

// classifyStage 在克隆状态上展开一道工序并决定执行方式。展开的
// 副作用（命令替换等）在分类时就发生，按工序从左到右的顺序。
func (e *Executor) classifyStage(cmd parser.Command, io builtin.IO) *pipeStage {
	child := e.subExecutor(e.st.Clone())
	s := &pipeStage{}
	sc, ok := cmd.(*parser.SimpleCommand)
	if !ok {
		s.run = func(sio builtin.IO) builtin.Result {
			return child.subshellBody(cmd, sio)
		}
		return s
	}
	exp := expand.New(child.st, child, child.fs)
	inv, res, proceed := child.evalSimple(sc, exp, io)
	if !proceed {
		s.run = func(builtin.IO) builtin.Result { return res }
		return s
	}
	name := inv.argv[0]
	_, isFn := child.st.Func(name)
	_, isBi := builtin.Lookup(name)
	if isFn || isBi {
		s.run = func(sio builtin.IO) builtin.Result {
			return child.dispatch(inv, exp, sio)
		}
		return s
	}
	path, err := child.LookPath(name)
	if err != nil {
		lerr := err
		s.run = func(sio builtin.IO) builtin.Result {
			return child.lookupFail(lerr, sio)
		}
		return s
	}
	s.ext = &extStage{
		path: path,
		argv: inv.argv,
		env:  mergeEnv(child.st.Environ(), inv.assigns),
		rds:  inv.redirects,
		exp:  exp,
	}
	return s
}

// startPipeline 跑一组工序。全在进程内的后台管道登记成 goroutine
// 作业；其余情况由 runMixed 统一编排。
func (e *Executor) startPipeline(cmds []parser.Command, text string, bg bool, io builtin.IO) builtin.Result {
	if bg && !e.jobs.Monitor() {
		// 没有作业控制时后台命令不能抢标准输入
		io.In = strings.NewReader("")
	}
	stages := make([]*pipeStage, len(cmds))
	hasExt := false
	for i, c := range cmds {
		stages[i] = e.classifyStage(c, io)
		if stages[i].ext != nil {
			hasExt = true
		}
	}
	if !hasExt {
		if bg {
			bgIO := io
			// 选项快照一份，作业收尾时不回头读共享状态
			pipefail := e.st.Options().Pipefail
			j := e.jobs.AddFunc(text, func() int {
				runStagesInProcess(stages, bgIO)
				return pipeStatusWith(stages, pipefail)
			})
			// goroutine 作业没有进程号，$! 置零
			e.st.SetLastBgPid(0)
			if e.interactive {
				fmt.Fprintf(io.Err, "[%d]\n", j.ID)
			}
			return builtin.Result{}
		}
		runStagesInProcess(stages, io)
		return builtin.Result{Status: e.pipeStatus(stages)}
	}
	return e.runMixed(stages, text, bg, io)
}

// runStagesInProcess 纯进程内的管道：工序各自一个 goroutine，
// 相邻工序用真实管道相连，EOF 靠关闭写端传播。
func runStagesInProcess(stages []*pipeStage, sio builtin.IO) {
	n := len(stages)
	if n == 1 {
		stages[0].status = stages[0].run(sio).Status
		return
	}
	var wg sync.WaitGroup
	var linkR *os.File
	for i, s := range stages {
		stageIO := sio
		if i > 0 {
			stageIO.In = linkR
		}
		var rNext, w *os.File
		if i < n-1 {
			var err error
			rNext, w, err = os.Pipe()
			if err != nil {
				fmt.Fprintf(sio.Err, "posish: pipe: %v\n", err)
				if linkR != nil {
					linkR.Close()
				}
				for _, rest := range stages[i:] {
					rest.status = 1
				}
				break
			}
			stageIO.Out = w
		}
		wg.Add(1)
		go func(s *pipeStage, stageIO builtin.IO, rIn, wOut *os.File) {
			defer wg.Done()
			s.status = s.run(stageIO).Status
			if rIn != nil {
				rIn.Close()
			}
			if wOut != nil {
				wOut.Close()
			}
		}(s, stageIO, linkR, w)
		linkR = rNext
	}
	wg.Wait()
}

// runMixed 带外部命令的管道。外部工序加入同一个进程组（组长是
// 第一个成功启动的），进程内工序用 goroutine 顶上，边界处照常
// 用管道连接。前台时整组进前台，退出状态从作业里搬回工序表。
func (e *Executor) runMixed(stages []*pipeStage, text string, bg bool, io builtin.IO) builtin.Result {
	n := len(stages)
	br := newBridge()
	base, err := e.stdioFiles(br, io)
	if err != nil {
		br.closeParent()
		br.wait()
		return e.redirectFail(err, io)
	}
	var (
		wg    sync.WaitGroup
		pids  []int
		pgid  int
		fatal error
		linkR *os.File
	)
	for i, s := range stages {
		var rNext, w *os.File
		if i < n-1 {
			var perr error
			rNext, w, perr = os.Pipe()
			if perr != nil {
				fmt.Fprintf(io.Err, "posish: pipe: %v\n", perr)
				if linkR != nil {
					linkR.Close()
				}
				for _, rest := range stages[i:] {
					rest.status = 1
				}
				break
			}
		}
		if s.ext != nil {
			stBase := base
			if i > 0 {
				stBase[0] = linkR
			}
			if i < n-1 {
				stBase[1] = w
			}
			files, opens, rerr := e.redirectFiles(s.ext.rds, s.ext.exp, stBase)
			if rerr != nil {
				fmt.Fprintf(io.Err, "posish: %v\n", rerr)
				s.status = 1
			} else {
				proc, serr := e.jobs.Spawn(job.Spec{
					Path:       s.ext.path,
					Argv:       s.ext.argv,
					Env:        s.ext.env,
					Files:      files,
					Pgid:       pgid,
					Foreground: !bg,
				})
				closeFiles(opens)
				if serr != nil {
					fmt.Fprintf(io.Err, "posish: %v\n",
						&ExecError{Kind: ErrForkFailed, Name: s.ext.argv[0], Err: serr})
					s.status = 126
					if isResourceErr(serr) {
						fatal = serr
					}
				} else {
					s.pid = proc.Pid
					pids = append(pids, proc.Pid)
					if pgid == 0 {
						pgid = proc.Pid
					}
				}
			}
			// 父进程这边的管道端已经交接完毕
			if linkR != nil {
				linkR.Close()
			}
			if w != nil {
				w.Close()
			}
		} else {
			stageIO := io
			if i > 0 {
				stageIO.In = linkR
			}
			if i < n-1 {
				stageIO.Out = w
			}
			wg.Add(1)
			go func(s *pipeStage, stageIO builtin.IO, rIn, wOut *os.File) {
				defer wg.Done()
				s.status = s.run(stageIO).Status
				if rIn != nil {
					rIn.Close()
				}
				if wOut != nil {
					wOut.Close()
				}
			}(s, stageIO, linkR, w)
		}
		linkR = rNext
	}

	if bg {
		if len(pids) > 0 {
			j := job.NewJob(pgid, pids, text)
			id := e.jobs.AddBackground(j)
			e.st.SetLastBgPid(pids[len(pids)-1])
			if e.interactive {
				fmt.Fprintf(io.Err, "[%d] %d\n", id, pids[len(pids)-1])
			}
		} else {
			e.st.SetLastBgPid(0)
		}
		br.closeParent()
		var res builtin.Result
		if fatal != nil && !e.interactive {
			res = builtin.Result{Status: 126, Flow: builtin.FlowExit}
		}
		return res
	}

	var j *job.Job
	if len(pids) > 0 {
		j = job.NewJob(pgid, pids, text)
		st := e.jobs.RunForeground(j)
		if j.State() == job.Stopped {
			// 作业停住了：进程内工序还吊在管道上收不了场，整条
			// 管道的状态按停止信号折算
			br.closeParent()
			return builtin.Result{Status: st}
		}
	}
	wg.Wait()
	br.closeParent()
	br.wait()
	if j != nil {
		sts := j.Statuses()
		k := 0
		for _, s := range stages {
			if s.ext != nil && s.pid != 0 {
				if k < len(sts) {
					s.status = sts[k]
				}
				k++
			}
		}
	}
	res := builtin.Result{Status: e.pipeStatus(stages)}
	if fatal != nil && !e.interactive {
		res.Flow = builtin.FlowExit
	}
	return res
}

// pipeStatus 整条管道的退出状态：默认最后一道工序的，pipefail
// 打开时换成最靠右的非零状态。
func (e *Executor) pipeStatus(stages []*pipeStage) int {
	return pipeStatusWith(stages, e.st.Options().Pipefail)
}

func pipeStatusWith(stages []*pipeStage, pipefail bool) int {
	status := stages[len(stages)-1].status
	if pipefail {
		for _, s := range stages {
			if s.status != 0 {
				status = s.status
			}
		}
	}
	return status
}

// bridge 把非 *os.File 的外层读写端换成真实管道，复制 goroutine
// 负责搬运。*os.File 原样透传，不归桥管。
type bridge struct {
	parentEnds []*os.File
	done       []chan struct{}
}

func newBridge() *bridge { return &bridge{} }

// reader 给子进程一个能读到 r 内容的描述符
func (b *bridge) reader(r io.Reader) (*os.File, error) {
	if f, ok := r.(*os.File); ok {
		return f, nil
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	go func() {
		io.Copy(pw, r)
		pw.Close()
	}()
	b.parentEnds = append(b.parentEnds, pr)
	return pr, nil
}

// writer 给子进程一个写进 w 的描述符
func (b *bridge) writer(w io.Writer) (*os.File, error) {
	if f, ok := w.(*os.File); ok {
		return f, nil
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	ch := make(chan struct{})
	go func() {
		io.Copy(w, pr)
		pr.Close()
		close(ch)
	}()
	b.parentEnds = append(b.parentEnds, pw)
	b.done = append(b.done, ch)
	return pw, nil
}

// closeParent spawn 之后关掉父进程持有的桥端，EOF 才传得动
func (b *bridge) closeParent() {
	for _, f := range b.parentEnds {
		f.Close()
	}
	b.parentEnds = nil
}

// wait 等输出方向的搬运 goroutine 把数据刷完
func (b *bridge) wait() {
	for _, ch := range b.done {
		<-ch
	}
	b.done = nil
}

// stdioFiles 把外层三路 IO 变成能传给子进程的描述符。标准输出和
// 标准错误是同一个对象时共用一条桥，写入顺序才稳得住。
func (e *Executor) stdioFiles(br *bridge, sio builtin.IO) ([3]*os.File, error) {
	inF, err := br.reader(sio.In)
	if err != nil {
		return [3]*os.File{}, &ExecError{Kind: ErrRedirect, Name: "stdin", Err: err}
	}
	outF, err := br.writer(sio.Out)
	if err != nil {
		return [3]*os.File{}, &ExecError{Kind: ErrRedirect, Name: "stdout", Err: err}
	}
	errF := outF
	if sio.Err != sio.Out {
		errF, err = br.writer(sio.Err)
		if err != nil {
			return [3]*os.File{}, &ExecError{Kind: ErrRedirect, Name: "stderr", Err: err}
		}
	}
	return [3]*os.File{inF, outF, errF}, nil
}
