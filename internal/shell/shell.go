// Package shell 是引擎外面的那层皮：交互循环、脚本和 -c 字符串的
// 入口，连同提示符、续行、补全、历史和作业通报。解析执行本身全部
// 交给 executor，这里只负责把一行行输入凑成完整的源码送进去。
package shell

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/afero"
	"golang.org/x/term"

	"posish/internal/executor"
	"posish/internal/history"
	"posish/internal/hook"
	"posish/internal/job"
	"posish/internal/lexer"
	"posish/internal/parser"
	"posish/internal/state"
	"posish/internal/trace"
)

const (
	rcFile       = ".posishrc"
	histFile     = ".posish_history"
	hookFile     = ".posish_hooks.lua"
	traceEnv     = "POSISH_TRACE"
	historyLimit = 1000
	contPrompt   = "> "
)

// Config 一次会话的启动参数
type Config struct {
	Name        string   // $0
	Args        []string // 位置参数
	Interactive bool
	NoRC        bool     // 交互启动时跳过 ~/.posishrc
	HistoryFile string   // 为空时用 ~/.posish_history
	Options     []string // 启动就打开的 set -o 长名
}

// Shell 一次会话。状态、作业表和执行器各一份，交互时再挂上
// 历史、钩子和跟踪。
type Shell struct {
	cfg   Config
	st    *state.State
	jobs  *job.Manager
	exec  *executor.Executor
	hist  *history.History
	hooks *hook.Runner
	rec   *trace.Recorder
	fs    afero.Fs

	stdin  io.Reader
	stderr io.Writer
	rep    *Reporter
}

// New 组一次会话。交互模式下尝试接管终端打开作业控制，
// 再挂历史和 Lua 钩子；这些都失败得起，报告完照常启动。
func New(cfg Config) (*Shell, error) {
	if cfg.Name == "" {
		cfg.Name = "posish"
	}
	st := state.New(cfg.Name, cfg.Args)
	jobs := job.New()
	ex := executor.New(st, jobs)
	ex.SetInteractive(cfg.Interactive)
	st.Options().Interactive = cfg.Interactive

	s := &Shell{
		cfg:    cfg,
		st:     st,
		jobs:   jobs,
		exec:   ex,
		fs:     afero.NewOsFs(),
		stdin:  os.Stdin,
		stderr: os.Stderr,
		rep:    NewReporter(cfg.Name, os.Stderr),
	}

	for _, name := range cfg.Options {
		if !st.Options().SetNamed(name, true) {
			s.Close()
			return nil, fmt.Errorf("%s: 没有这个选项", name)
		}
	}

	if r := trace.FromEnv(traceEnv); r != nil {
		s.rec = r
		ex.SetRecorder(r)
	}

	if cfg.Interactive {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			if err := jobs.EnableMonitor(os.Stdin); err != nil {
				fmt.Fprintf(s.stderr, "posish: 作业控制没开起来: %v\n", err)
			} else {
				st.Options().Monitor = true
			}
		}
		s.hist = s.openHistory()
		ex.SetHistory(s.hist)
		s.hooks = s.openHooks()
		if s.hooks != nil {
			ex.SetHooks(s.hooks)
		}
	}
	return s, nil
}

// SetIO 重接三路标准流，脚本测试用
func (s *Shell) SetIO(in io.Reader, out, errw io.Writer) {
	s.stdin = in
	s.stderr = errw
	s.rep = NewReporter(s.cfg.Name, errw)
	s.exec.SetIO(in, out, errw)
	s.jobs.SetOutput(errw)
}

// Close 释放信号注册等资源，不触发 EXIT 陷阱
func (s *Shell) Close() {
	s.exec.Close()
	s.jobs.Close()
}

// Finish 会话收尾：触发 EXIT 陷阱，存历史，关钩子和跟踪，
// 返回应当带给操作系统的退出码。
func (s *Shell) Finish() int {
	s.exec.RunExitTrap()
	if s.hist != nil {
		if err := s.hist.Save(); err != nil {
			fmt.Fprintf(s.stderr, "posish: 历史没存上: %v\n", err)
		}
	}
	if s.hooks != nil {
		s.hooks.Close()
	}
	if s.rec != nil {
		s.rec.Close()
	}
	s.Close()
	return s.st.Status()
}

// RunString 执行一段源码，返回最后一条命令的退出状态
func (s *Shell) RunString(src string) int {
	return s.runSource(src, "")
}

// RunFile 执行脚本文件。打不开按找不到命令的惯例记 127。
func (s *Shell) RunFile(path string) int {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		fmt.Fprintf(s.stderr, "posish: %s: %v\n", path, err)
		s.st.SetStatus(127)
		return 127
	}
	return s.runSource(string(data), path)
}

// RunStdin 把标准输入整个当脚本跑
func (s *Shell) RunStdin() int {
	data, err := io.ReadAll(s.stdin)
	if err != nil {
		fmt.Fprintf(s.stderr, "posish: 标准输入读不了: %v\n", err)
		s.st.SetStatus(1)
		return 1
	}
	return s.RunString(string(data))
}

// runSource 一段源码从头跑到尾。语法错误带上来源报告，状态记 2。
func (s *Shell) runSource(src, origin string) int {
	if s.st.Options().Verbose {
		fmt.Fprintln(s.stderr, src)
	}
	toks, err := lexer.Tokenize(src)
	if err != nil {
		return s.sourceFail(origin, err)
	}
	prog, err := parser.NewWithAliases(toks, s.st).ParseProgram()
	if err != nil {
		return s.sourceFail(origin, err)
	}
	return s.exec.Execute(prog)
}

func (s *Shell) sourceFail(origin string, err error) int {
	s.rep.Report(origin, err)
	code := ExitCode(err)
	s.st.SetStatus(code)
	return code
}

// RunInteractive 交互主循环。readline 起不来（比如标准输入不是
// 终端）就退到行缓冲模式。返回值是会话最后的退出状态。
func (s *Shell) RunInteractive() int {
	if !s.cfg.NoRC {
		s.runRC()
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          s.prompt(),
		AutoComplete:    newCompleter(s),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return s.runPlain()
	}
	defer rl.Close()
	if s.hist != nil {
		for _, h := range s.hist.List() {
			_ = rl.SaveHistory(h)
		}
	}

	for !s.exec.Exited() {
		s.printNotices()
		rl.SetPrompt(s.prompt())
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			s.exec.Interrupted()
			continue
		}
		if err != nil {
			break
		}
		src, ok := s.collect(line, func() (string, error) {
			rl.SetPrompt(contPrompt)
			next, err := rl.Readline()
			if err == readline.ErrInterrupt {
				s.exec.Interrupted()
			}
			return next, err
		})
		if !ok || strings.TrimSpace(src) == "" {
			continue
		}
		_ = rl.SaveHistory(src)
		s.runSource(src, "")
	}
	return s.st.Status()
}

// runPlain 没有行编辑的交互循环，提示符照常打到标准错误
func (s *Shell) runPlain() int {
	sc := bufio.NewScanner(s.stdin)
	for !s.exec.Exited() {
		s.printNotices()
		fmt.Fprint(s.stderr, s.prompt())
		if !sc.Scan() {
			break
		}
		src, ok := s.collect(sc.Text(), func() (string, error) {
			fmt.Fprint(s.stderr, contPrompt)
			if !sc.Scan() {
				return "", io.EOF
			}
			return sc.Text(), nil
		})
		if !ok || strings.TrimSpace(src) == "" {
			continue
		}
		s.runSource(src, "")
	}
	return s.st.Status()
}

// collect 把一行凑成完整源码：结构没闭合或行尾挂着反斜杠就继续
// 读。读续行半途被打断时整段丢弃，第二个返回值为假。
func (s *Shell) collect(first string, more func() (string, error)) (string, bool) {
	src := first
	for s.needsMore(src) {
		next, err := more()
		if err != nil {
			return "", false
		}
		src += "\n" + next
	}
	return src, true
}

// needsMore 判断一段源码是不是还在等后续输入
func (s *Shell) needsMore(src string) bool {
	if trailingBackslash(src) {
		return true
	}
	toks, err := lexer.Tokenize(src)
	if err != nil {
		return lexer.Unterminated(err)
	}
	_, err = parser.NewWithAliases(toks, s.st).ParseProgram()
	return parser.ExpectsMore(err)
}

// trailingBackslash 行尾是不是奇数个反斜杠（续行符，而非转义的反斜杠）
func trailingBackslash(src string) bool {
	n := 0
	for i := len(src) - 1; i >= 0 && src[i] == '\\'; i-- {
		n++
	}
	return n%2 == 1
}

// printNotices 打出攒下来的作业状态变化，下一个提示符前看一眼
func (s *Shell) printNotices() {
	s.jobs.Reap()
	for _, line := range s.jobs.Notices() {
		fmt.Fprintln(s.stderr, line)
	}
}

// runRC 交互启动时跑 ~/.posishrc，文件不在就算了
func (s *Shell) runRC() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	path := filepath.Join(home, rcFile)
	if ok, _ := afero.Exists(s.fs, path); !ok {
		return
	}
	s.RunFile(path)
}

func (s *Shell) openHistory() *history.History {
	path := s.cfg.HistoryFile
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, histFile)
		}
	}
	if path == "" {
		return history.New(historyLimit)
	}
	h := history.NewFile(s.fs, path, historyLimit)
	_ = h.Load() // 第一次用还没有文件，不算错
	return h
}

func (s *Shell) openHooks() *hook.Runner {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	path := filepath.Join(home, hookFile)
	if ok, _ := afero.Exists(s.fs, path); !ok {
		return nil
	}
	r := hook.NewRunner(s.stderr)
	if err := r.LoadScript(path); err != nil {
		fmt.Fprintf(s.stderr, "posish: %s: %v\n", path, err)
		r.Close()
		return nil
	}
	return r
}
