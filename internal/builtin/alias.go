package builtin

import "fmt"

// alias 设置或显示别名。没有参数时把全部别名列成能重放的命令。
func alias(sh Shell, argv []string, io IO) Result {
	st := sh.State()
	args := argv[1:]
	if len(args) == 0 {
		for _, name := range st.AliasNames() {
			if value, ok := st.Alias(name); ok {
				fmt.Fprintf(io.Out, "alias %s=%s\n", name, quote(value))
			}
		}
		return Result{}
	}
	status := 0
	for _, arg := range args {
		name, value, hasValue := arg, "", false
		for i := 0; i < len(arg); i++ {
			if arg[i] == '=' {
				name, value, hasValue = arg[:i], arg[i+1:], true
				break
			}
		}
		if hasValue {
			st.SetAlias(name, value)
			continue
		}
		if value, ok := st.Alias(name); ok {
			fmt.Fprintf(io.Out, "alias %s=%s\n", name, quote(value))
		} else {
			errf(io, 1, "alias: %s: 没有这个别名", name)
			status = 1
		}
	}
	return Result{Status: status}
}

// unalias 删掉别名，-a 全删
func unalias(sh Shell, argv []string, io IO) Result {
	st := sh.State()
	args := argv[1:]
	if len(args) == 0 {
		return errf(io, 2, "unalias: 缺少别名")
	}
	if args[0] == "-a" {
		for _, name := range st.AliasNames() {
			st.UnsetAlias(name)
		}
		return Result{}
	}
	status := 0
	for _, name := range args {
		if !st.UnsetAlias(name) {
			errf(io, 1, "unalias: %s: 没有这个别名", name)
			status = 1
		}
	}
	return Result{Status: status}
}
