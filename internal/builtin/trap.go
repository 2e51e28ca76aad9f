package builtin

import (
	"fmt"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// trap 设置信号处理动作。不带参数列出当前的 trap 表；动作是
// 空串表示忽略信号，横杠或者整个命令只有信号名时恢复默认。
// 执行器在命令边界同步 trap 表和系统层的信号注册。
func trap(sh Shell, argv []string, io IO) Result {
	st := sh.State()
	args := argv[1:]

	if len(args) == 0 {
		for _, sig := range st.TrapSigs() {
			if action, ok := st.Trap(sig); ok {
				fmt.Fprintf(io.Out, "trap -- %s %s\n", quote(action), sig)
			}
		}
		return Result{}
	}

	action := args[0]
	sigs := args[1:]
	reset := false
	if action == "-" {
		reset = true
	} else if isAllDigits(action) {
		// POSIX 老规矩：trap 1 2 把这些信号恢复默认
		reset = true
		sigs = args
	}
	if len(sigs) == 0 {
		return errf(io, 2, "trap: 缺少信号名")
	}

	status := 0
	for _, arg := range sigs {
		name, ok := trapSigName(arg)
		if !ok {
			errf(io, 1, "trap: %s: 没有这个信号", arg)
			status = 1
			continue
		}
		if reset {
			st.ClearTrap(name)
		} else {
			st.SetTrap(name, action)
		}
	}
	return Result{Status: status}
}

// trapSigName 把信号写法规整成 trap 表的键：大写、去 SIG 前缀，
// 0 和 EXIT 都归到 EXIT
func trapSigName(arg string) (string, bool) {
	if n, err := strconv.Atoi(arg); err == nil {
		if n == 0 {
			return "EXIT", true
		}
		name := unix.SignalName(syscall.Signal(n))
		if name == "" {
			return "", false
		}
		return strings.TrimPrefix(name, "SIG"), true
	}
	name := strings.ToUpper(arg)
	name = strings.TrimPrefix(name, "SIG")
	if name == "EXIT" {
		return "EXIT", true
	}
	if unix.SignalNum("SIG"+name) != 0 {
		return name, true
	}
	return "", false
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
