package builtin

import (
	"os"
	"strconv"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// testCmd 实现 test 和 [ 两个名字。表达式按 POSIX 语法递归下降：
// -o 最松，-a 其次，然后是 ! 和括号，最底下是一元、二元判断。
// 文件判断直接走真实文件系统，access(2) 这种按当前用户权限问内核
// 的事 afero 给不了。
func testCmd(sh Shell, argv []string, io IO) Result {
	args := argv[1:]
	if argv[0] == "[" {
		if len(args) == 0 || args[len(args)-1] != "]" {
			return errf(io, 2, "[: 缺少配对的 ]")
		}
		args = args[:len(args)-1]
	}
	if len(args) == 0 {
		return Result{Status: 1}
	}
	t := &tester{args: args}
	ok := t.orExpr()
	if t.err != "" {
		return errf(io, 2, "test: %s", t.err)
	}
	if len(t.args) > 0 {
		return errf(io, 2, "test: %s: 多出来的参数", t.args[0])
	}
	if ok {
		return Result{}
	}
	return Result{Status: 1}
}

type tester struct {
	args []string
	err  string
}

func (t *tester) peek() (string, bool) {
	if len(t.args) == 0 {
		return "", false
	}
	return t.args[0], true
}

func (t *tester) next() (string, bool) {
	s, ok := t.peek()
	if ok {
		t.args = t.args[1:]
	}
	return s, ok
}

func (t *tester) orExpr() bool {
	v := t.andExpr()
	for t.err == "" {
		if s, ok := t.peek(); !ok || s != "-o" {
			break
		}
		t.next()
		w := t.andExpr()
		v = v || w
	}
	return v
}

func (t *tester) andExpr() bool {
	v := t.notExpr()
	for t.err == "" {
		if s, ok := t.peek(); !ok || s != "-a" {
			break
		}
		t.next()
		w := t.notExpr()
		v = v && w
	}
	return v
}

func (t *tester) notExpr() bool {
	if s, ok := t.peek(); ok && s == "!" {
		t.next()
		return !t.notExpr()
	}
	return t.primary()
}

func (t *tester) primary() bool {
	s, ok := t.next()
	if !ok {
		t.err = "表达式缺参数"
		return false
	}
	if s == "(" {
		v := t.orExpr()
		if t.err != "" {
			return false
		}
		if paren, ok := t.next(); !ok || paren != ")" {
			t.err = "缺少配对的 )"
			return false
		}
		return v
	}
	// 先看二元：下一个参数是不是认识的运算符。
	if op, ok := t.peek(); ok && isBinaryOp(op) {
		t.next()
		rhs, ok := t.next()
		if !ok {
			t.err = op + ": 缺右边的参数"
			return false
		}
		return t.binary(s, op, rhs)
	}
	if len(s) == 2 && s[0] == '-' {
		if arg, ok := t.peek(); ok {
			t.next()
			return t.unary(s, arg)
		}
	}
	// 单个字符串：非空为真。
	return s != ""
}

func isBinaryOp(op string) bool {
	switch op {
	case "=", "!=", "-eq", "-ne", "-gt", "-ge", "-lt", "-le", "-nt", "-ot", "-ef":
		return true
	}
	return false
}

func (t *tester) binary(lhs, op, rhs string) bool {
	switch op {
	case "=":
		return lhs == rhs
	case "!=":
		return lhs != rhs
	case "-nt":
		li, lerr := os.Stat(lhs)
		ri, rerr := os.Stat(rhs)
		return lerr == nil && rerr == nil && li.ModTime().After(ri.ModTime())
	case "-ot":
		li, lerr := os.Stat(lhs)
		ri, rerr := os.Stat(rhs)
		return lerr == nil && rerr == nil && li.ModTime().Before(ri.ModTime())
	case "-ef":
		var ls, rs unix.Stat_t
		if unix.Stat(lhs, &ls) != nil || unix.Stat(rhs, &rs) != nil {
			return false
		}
		return ls.Dev == rs.Dev && ls.Ino == rs.Ino
	}
	l, lok := t.integer(lhs)
	r, rok := t.integer(rhs)
	if !lok || !rok {
		return false
	}
	switch op {
	case "-eq":
		return l == r
	case "-ne":
		return l != r
	case "-gt":
		return l > r
	case "-ge":
		return l >= r
	case "-lt":
		return l < r
	case "-le":
		return l <= r
	}
	t.err = op + ": 不认识的运算符"
	return false
}

func (t *tester) unary(op, arg string) bool {
	switch op {
	case "-z":
		return arg == ""
	case "-n":
		return arg != ""
	case "-t":
		fd, ok := t.integer(arg)
		return ok && term.IsTerminal(int(fd))
	case "-e":
		_, err := os.Stat(arg)
		return err == nil
	case "-f":
		fi, err := os.Stat(arg)
		return err == nil && fi.Mode().IsRegular()
	case "-d":
		fi, err := os.Stat(arg)
		return err == nil && fi.IsDir()
	case "-s":
		fi, err := os.Stat(arg)
		return err == nil && fi.Size() > 0
	case "-L", "-h":
		fi, err := os.Lstat(arg)
		return err == nil && fi.Mode()&os.ModeSymlink != 0
	case "-b":
		fi, err := os.Stat(arg)
		return err == nil && fi.Mode()&os.ModeDevice != 0 && fi.Mode()&os.ModeCharDevice == 0
	case "-c":
		fi, err := os.Stat(arg)
		return err == nil && fi.Mode()&os.ModeCharDevice != 0
	case "-p":
		fi, err := os.Stat(arg)
		return err == nil && fi.Mode()&os.ModeNamedPipe != 0
	case "-S":
		fi, err := os.Stat(arg)
		return err == nil && fi.Mode()&os.ModeSocket != 0
	case "-g":
		fi, err := os.Stat(arg)
		return err == nil && fi.Mode()&os.ModeSetgid != 0
	case "-u":
		fi, err := os.Stat(arg)
		return err == nil && fi.Mode()&os.ModeSetuid != 0
	case "-k":
		fi, err := os.Stat(arg)
		return err == nil && fi.Mode()&os.ModeSticky != 0
	case "-r":
		return unix.Access(arg, unix.R_OK) == nil
	case "-w":
		return unix.Access(arg, unix.W_OK) == nil
	case "-x":
		return unix.Access(arg, unix.X_OK) == nil
	}
	t.err = op + ": 不认识的运算符"
	return false
}

func (t *tester) integer(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		t.err = s + ": 要一个整数"
		return 0, false
	}
	return n, true
}
