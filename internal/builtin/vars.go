package builtin

import (
	"fmt"
	"strings"

	"github.com/pborman/getopt/v2"

	"posish/internal/state"
)

// validName 判断字符串能不能当变量名
func validName(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// setCmd set 命令：单字母开关、set -o 长名开关、改写位置参数。
// 不带参数时列出全部变量。
func setCmd(sh Shell, argv []string, io IO) Result {
	st := sh.State()
	args := argv[1:]

	if len(args) == 0 {
		for _, name := range st.VarNames() {
			if v, ok := st.Get(name); ok {
				fmt.Fprintf(io.Out, "%s=%s\n", name, quote(v))
			}
		}
		return Result{}
	}

	opts := st.Options()
	i := 0
	explicitDash := false
	for ; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			i++
			explicitDash = true
			break
		}
		if len(arg) < 2 || (arg[0] != '-' && arg[0] != '+') {
			break
		}
		on := arg[0] == '-'
		body := arg[1:]
		for j := 0; j < len(body); j++ {
			c := body[j]
			if c != 'o' {
				if !opts.SetFlag(c, on) {
					return errf(io, 2, "set: %c%c: 没有这个选项", arg[0], c)
				}
				continue
			}
			// -o 的选项名可以连写也可以是下一个参数
			name := body[j+1:]
			j = len(body)
			if name == "" {
				if i+1 >= len(args) {
					printOptions(opts, io, on)
					continue
				}
				i++
				name = args[i]
			}
			if !opts.SetNamed(name, on) {
				return errf(io, 2, "set: %s: 没有这个选项", name)
			}
		}
	}
	// 作业控制开关要同步给作业管理器
	sh.Jobs().SetMonitor(opts.Monitor)

	if explicitDash || i < len(args) {
		st.SetPositional(append([]string{}, args[i:]...))
	}
	return Result{}
}

// printOptions 裸 set -o 列状态，set +o 列成能重放的命令
func printOptions(opts *state.Options, io IO, minus bool) {
	for _, entry := range opts.Listing() {
		if minus {
			onOff := "off"
			if entry.On {
				onOff = "on"
			}
			fmt.Fprintf(io.Out, "%-15s %s\n", entry.Name, onOff)
		} else {
			flag := "+o"
			if entry.On {
				flag = "-o"
			}
			fmt.Fprintf(io.Out, "set %s %s\n", flag, entry.Name)
		}
	}
}

// unset 撤销变量或函数
func unset(sh Shell, argv []string, io IO) Result {
	opts := getopt.New()
	funcs := opts.Bool('f', "撤销函数")
	opts.Bool('v', "撤销变量")
	if err := opts.Getopt(argv, nil); err != nil {
		return errf(io, 2, "unset: %v", err)
	}
	st := sh.State()
	status := 0
	for _, name := range opts.Args() {
		if *funcs {
			st.UnsetFunc(name)
			continue
		}
		if err := st.Unset(name); err != nil {
			errf(io, 1, "unset: %s: %v", name, err)
			status = 1
		}
	}
	return Result{Status: status}
}

// export 标记变量导出，可以顺便赋值。-p 列出全部导出变量。
func export(sh Shell, argv []string, io IO) Result {
	return exportOrReadonly(sh, argv, io, false)
}

// readonlyCmd 标记变量只读，之后赋值和撤销都会报错
func readonlyCmd(sh Shell, argv []string, io IO) Result {
	return exportOrReadonly(sh, argv, io, true)
}

func exportOrReadonly(sh Shell, argv []string, io IO, readonly bool) Result {
	cmd := "export"
	if readonly {
		cmd = "readonly"
	}
	st := sh.State()
	args := argv[1:]
	if len(args) > 0 && args[0] == "-p" {
		args = args[1:]
	}
	if len(args) == 0 {
		for _, name := range st.VarNames() {
			v, ok := st.Lookup(name)
			if !ok {
				continue
			}
			if readonly && v.ReadOnly {
				fmt.Fprintf(io.Out, "readonly %s=%s\n", name, quote(v.Value))
			} else if !readonly && v.Exported {
				fmt.Fprintf(io.Out, "export %s=%s\n", name, quote(v.Value))
			}
		}
		return Result{}
	}

	status := 0
	for _, arg := range args {
		name, value := arg, ""
		hasValue := false
		if eq := strings.IndexByte(arg, '='); eq >= 0 {
			name, value = arg[:eq], arg[eq+1:]
			hasValue = true
		}
		if !validName(name) {
			errf(io, 1, "%s: %s: 不是合法的变量名", cmd, name)
			status = 1
			continue
		}
		if hasValue {
			if err := st.Set(name, value); err != nil {
				errf(io, 1, "%s: %s: %v", cmd, name, err)
				status = 1
				continue
			}
		}
		if readonly {
			st.MarkReadOnly(name)
		} else if err := st.Export(name); err != nil {
			errf(io, 1, "%s: %s: %v", cmd, name, err)
			status = 1
		}
	}
	return Result{Status: status}
}

// local 在函数作用域里声明局部变量
func local(sh Shell, argv []string, io IO) Result {
	st := sh.State()
	if st.FuncDepth() == 0 {
		return errf(io, 1, "local: 只能在函数里用")
	}
	status := 0
	for _, arg := range argv[1:] {
		name, value := arg, ""
		if eq := strings.IndexByte(arg, '='); eq >= 0 {
			name, value = arg[:eq], arg[eq+1:]
		}
		if !validName(name) {
			errf(io, 1, "local: %s: 不是合法的变量名", name)
			status = 1
			continue
		}
		if err := st.SetLocal(name, value); err != nil {
			errf(io, 1, "local: %s: %v", name, err)
			status = 1
		}
	}
	return Result{Status: status}
}
