package executor

import (
	"errors"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"posish/internal/builtin"
	"posish/internal/expand"
	"posish/internal/lexer"
	"posish/internal/parser"
)

var errBadFD = errors.New("坏的文件描述符")

// eofReader 被关掉的输入端，读到即 EOF
type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

// fdEntry 一个逻辑描述符的读写两端。两端都空表示已关闭。
type fdEntry struct {
	r io.Reader
	w io.Writer
}

// redirectIO 把重定向应用到进程内命令的三路 IO 上。描述符表只
// 在本条命令存续，高位描述符仅为后续 dup 引用服务。返回的清理
// 函数负责关掉这里新开的文件。
func (e *Executor) redirectIO(rds []*parser.Redirect, exp *expand.Expander, sio builtin.IO) (builtin.IO, func(), error) {
	slots := map[int]*fdEntry{
		0: {r: sio.In},
		1: {w: sio.Out},
		2: {w: sio.Err},
	}
	var opened []*os.File
	cleanup := func() { closeFiles(opened) }
	fail := func(err error) (builtin.IO, func(), error) {
		cleanup()
		return sio, nil, err
	}
	for _, rd := range rds {
		switch rd.Op {
		case lexer.RedirHeredoc, lexer.RedirHeredocDash:
			body, err := exp.Heredoc(rd.Body, rd.Quoted)
			if err != nil {
				return fail(err)
			}
			slots[rd.FD] = &fdEntry{r: strings.NewReader(body)}
		case lexer.RedirDupIn, lexer.RedirDupOut:
			target, err := exp.One(rd.Target.Parts)
			if err != nil {
				return fail(err)
			}
			if target == "-" {
				slots[rd.FD] = &fdEntry{}
				continue
			}
			n, aerr := strconv.Atoi(target)
			if aerr != nil {
				return fail(&ExecError{Kind: ErrRedirect, Name: target, Err: errBadFD})
			}
			src, ok := slots[n]
			if !ok || (src.r == nil && src.w == nil) {
				return fail(&ExecError{Kind: ErrRedirect, Name: target, Err: errBadFD})
			}
			slots[rd.FD] = &fdEntry{r: src.r, w: src.w}
		default:
			target, err := exp.One(rd.Target.Parts)
			if err != nil {
				return fail(err)
			}
			f, err := e.openTarget(target, rd.Op)
			if err != nil {
				return fail(err)
			}
			opened = append(opened, f)
			switch rd.Op {
			case lexer.RedirIn:
				slots[rd.FD] = &fdEntry{r: f}
			case lexer.RedirReadWrite:
				slots[rd.FD] = &fdEntry{r: f, w: f}
			default:
				slots[rd.FD] = &fdEntry{w: f}
			}
		}
	}
	out := sio
	if en := slots[0]; en.r != nil {
		out.In = en.r
	} else {
		out.In = eofReader{}
	}
	if en := slots[1]; en.w != nil {
		out.Out = en.w
	} else {
		out.Out = io.Discard
	}
	if en := slots[2]; en.w != nil {
		out.Err = en.w
	} else {
		out.Err = io.Discard
	}
	return out, cleanup, nil
}

// redirectFiles 把重定向铺到外部命令的描述符表上，base 是三路
// 标准描述符的起点。表里的 nil 在子进程中就是关着的描述符。
// 返回 spawn 之后父进程要关掉的新开文件；出错时自己收拾干净。
func (e *Executor) redirectFiles(rds []*parser.Redirect, exp *expand.Expander, base [3]*os.File) ([]*os.File, []*os.File, error) {
	table := []*os.File{base[0], base[1], base[2]}
	var opens []*os.File
	fail := func(err error) ([]*os.File, []*os.File, error) {
		closeFiles(opens)
		return nil, nil, err
	}
	for _, rd := range rds {
		switch rd.Op {
		case lexer.RedirHeredoc, lexer.RedirHeredocDash:
			body, err := exp.Heredoc(rd.Body, rd.Quoted)
			if err != nil {
				return fail(err)
			}
			pr, pw, perr := os.Pipe()
			if perr != nil {
				return fail(&ExecError{Kind: ErrRedirect, Name: "heredoc", Err: perr})
			}
			go func(w *os.File, s string) {
				w.WriteString(s)
				w.Close()
			}(pw, body)
			opens = append(opens, pr)
			table = setFD(table, rd.FD, pr)
		case lexer.RedirDupIn, lexer.RedirDupOut:
			target, err := exp.One(rd.Target.Parts)
			if err != nil {
				return fail(err)
			}
			if target == "-" {
				table = setFD(table, rd.FD, nil)
				continue
			}
			n, aerr := strconv.Atoi(target)
			if aerr != nil || n < 0 || n >= len(table) || table[n] == nil {
				return fail(&ExecError{Kind: ErrRedirect, Name: target, Err: errBadFD})
			}
			table = setFD(table, rd.FD, table[n])
		default:
			target, err := exp.One(rd.Target.Parts)
			if err != nil {
				return fail(err)
			}
			f, err := e.openTarget(target, rd.Op)
			if err != nil {
				return fail(err)
			}
			opens = append(opens, f)
			table = setFD(table, rd.FD, f)
		}
	}
	return table, opens, nil
}

func setFD(table []*os.File, fd int, f *os.File) []*os.File {
	for len(table) <= fd {
		table = append(table, nil)
	}
	table[fd] = f
	return table
}

// applyPermanent exec 的重定向直接落在本进程的真实描述符上，
// 命令结束后留在原位，后续命令和子进程都继承。
func (e *Executor) applyPermanent(rds []*parser.Redirect, exp *expand.Expander) error {
	for _, rd := range rds {
		switch rd.Op {
		case lexer.RedirHeredoc, lexer.RedirHeredocDash:
			body, err := exp.Heredoc(rd.Body, rd.Quoted)
			if err != nil {
				return err
			}
			pr, pw, perr := os.Pipe()
			if perr != nil {
				return &ExecError{Kind: ErrRedirect, Name: "heredoc", Err: perr}
			}
			go func(w *os.File, s string) {
				w.WriteString(s)
				w.Close()
			}(pw, body)
			if err := dupOnto(int(pr.Fd()), rd.FD); err != nil {
				pr.Close()
				return err
			}
			pr.Close()
		case lexer.RedirDupIn, lexer.RedirDupOut:
			target, err := exp.One(rd.Target.Parts)
			if err != nil {
				return err
			}
			if target == "-" {
				unix.Close(rd.FD)
				continue
			}
			n, aerr := strconv.Atoi(target)
			if aerr != nil {
				return &ExecError{Kind: ErrRedirect, Name: target, Err: errBadFD}
			}
			if err := dupOnto(n, rd.FD); err != nil {
				return err
			}
		default:
			target, err := exp.One(rd.Target.Parts)
			if err != nil {
				return err
			}
			f, err := e.openTarget(target, rd.Op)
			if err != nil {
				return err
			}
			if err := dupOnto(int(f.Fd()), rd.FD); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
	}
	return nil
}

// dupOnto dup2 语义。目标和来源相同时只清 close-on-exec，
// Go 打开的描述符默认带着这个标志，不清掉就传不给后继进程。
func dupOnto(src, dst int) error {
	if src == dst {
		if _, err := unix.FcntlInt(uintptr(dst), unix.F_SETFD, 0); err != nil {
			return &ExecError{Kind: ErrRedirect, Name: strconv.Itoa(dst), Err: err}
		}
		return nil
	}
	if err := unix.Dup2(src, dst); err != nil {
		return &ExecError{Kind: ErrRedirect, Name: strconv.Itoa(dst), Err: err}
	}
	return nil
}

// openTarget 按重定向算子打开目标。这里走真实文件系统而不是
// afero：描述符可能要传给子进程，必须是内核级的。权限给 0666，
// 进程的 umask 自会裁剪。
func (e *Executor) openTarget(target string, op lexer.RedirOp) (*os.File, error) {
	var flag int
	switch op {
	case lexer.RedirIn:
		flag = os.O_RDONLY
	case lexer.RedirOut:
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if e.st.Options().NoClobber {
			flag = os.O_WRONLY | os.O_CREATE | os.O_EXCL
		}
	case lexer.RedirClobber:
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case lexer.RedirAppend:
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	case lexer.RedirReadWrite:
		flag = os.O_RDWR | os.O_CREATE
	default:
		return nil, &ExecError{Kind: ErrRedirect, Name: target}
	}
	f, err := os.OpenFile(target, flag, 0o666)
	if err != nil {
		if op == lexer.RedirOut && e.st.Options().NoClobber && errors.Is(err, os.ErrExist) {
			return nil, &ExecError{Kind: ErrRedirect, Name: target, Err: errors.New("文件已存在（noclobber 生效）")}
		}
		return nil, &ExecError{Kind: ErrRedirect, Name: target, Err: underlying(err)}
	}
	return f, nil
}

// underlying 剥掉 PathError 的路径前缀，错误信息里路径已经有了
func underlying(err error) error {
	var pe *os.PathError
	if errors.As(err, &pe) {
		return pe.Err
	}
	return err
}

func closeFiles(files []*os.File) {
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
}
