package builtin

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pborman/getopt/v2"
	"golang.org/x/sys/unix"
)

// umask 显示或修改文件权限掩码。读当前值只能先设成 0 再设回去，
// 内核没有只读的接口。
func umask(sh Shell, argv []string, io IO) Result {
	opts := getopt.New()
	symbolic := opts.Bool('S', "用符号形式显示")
	if err := opts.Getopt(argv, nil); err != nil {
		return errf(io, 2, "umask: %v", err)
	}
	args := opts.Args()

	cur := unix.Umask(0)
	unix.Umask(cur)

	if len(args) == 0 {
		if *symbolic {
			fmt.Fprintln(io.Out, symbolicMask(cur))
		} else {
			fmt.Fprintf(io.Out, "%04o\n", cur)
		}
		return Result{}
	}
	mask, err := parseMask(args[0], cur)
	if err != nil {
		return errf(io, 1, "umask: %v", err)
	}
	unix.Umask(mask)
	if *symbolic {
		fmt.Fprintln(io.Out, symbolicMask(mask))
	}
	return Result{}
}

// symbolicMask 把掩码按允许的权限展示，和 sh 的 umask -S 一个样子。
func symbolicMask(mask int) string {
	perm := ^mask & 0777
	part := func(shift uint) string {
		var b strings.Builder
		bits := perm >> shift
		if bits&4 != 0 {
			b.WriteByte('r')
		}
		if bits&2 != 0 {
			b.WriteByte('w')
		}
		if bits&1 != 0 {
			b.WriteByte('x')
		}
		return b.String()
	}
	return fmt.Sprintf("u=%s,g=%s,o=%s", part(6), part(3), part(0))
}

// parseMask 认八进制数字和 u+rwx 这种符号写法。符号写法操作的是
// 允许的权限，算完再取反变回掩码。
func parseMask(s string, cur int) (int, error) {
	if s != "" && s[0] >= '0' && s[0] <= '7' {
		n, err := strconv.ParseInt(s, 8, 32)
		if err != nil || n > 0777 {
			return 0, fmt.Errorf("%s: 不是八进制掩码", s)
		}
		return int(n), nil
	}
	perm := ^cur & 0777
	for _, clause := range strings.Split(s, ",") {
		who := 0
		i := 0
	scan:
		for ; i < len(clause); i++ {
			switch clause[i] {
			case 'u':
				who |= 0700
			case 'g':
				who |= 0070
			case 'o':
				who |= 0007
			case 'a':
				who |= 0777
			default:
				break scan
			}
		}
		if who == 0 {
			who = 0777
		}
		if i >= len(clause) {
			return 0, fmt.Errorf("%s: 缺少 + - = 操作符", s)
		}
		op := clause[i]
		if op != '+' && op != '-' && op != '=' {
			return 0, fmt.Errorf("%s: 认不出的操作符 %c", s, op)
		}
		bits := 0
		for _, c := range clause[i+1:] {
			switch c {
			case 'r':
				bits |= 0444
			case 'w':
				bits |= 0222
			case 'x':
				bits |= 0111
			default:
				return 0, fmt.Errorf("%s: 认不出的权限 %c", s, c)
			}
		}
		bits &= who
		switch op {
		case '+':
			perm |= bits
		case '-':
			perm &^= bits
		case '=':
			perm = perm&^who | bits
		}
	}
	return ^perm & 0777, nil
}
