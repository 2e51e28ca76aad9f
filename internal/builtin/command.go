package builtin

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pborman/getopt/v2"
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// command 绕过函数查找执行命令。-v 只打印命令会被解析成什么，
// -V 用整句话说明。
func command(sh Shell, argv []string, io IO) Result {
	args := argv[1:]
	describe, verbose := false, false
flags:
	for len(args) > 0 {
		switch args[0] {
		case "-v":
			describe = true
		case "-V":
			describe, verbose = true, true
		case "-p":
			// 标准 PATH 就是我们已经在用的 PATH
		case "--":
			args = args[1:]
			break flags
		default:
			break flags
		}
		args = args[1:]
	}
	if len(args) == 0 {
		return Result{}
	}
	if describe {
		status := 0
		for _, name := range args {
			if !printResolution(sh, name, io, verbose) {
				status = 1
			}
		}
		return Result{Status: status}
	}
	return sh.Run(args, io)
}

// builtinCmd 只在内建命令表里找并执行
func builtinCmd(sh Shell, argv []string, io IO) Result {
	if len(argv) < 2 {
		return Result{}
	}
	fn, ok := Lookup(argv[1])
	if !ok {
		return errf(io, 1, "builtin: %s: 不是内建命令", argv[1])
	}
	return fn(sh, argv[1:], io)
}

// typeCmd 报告每个名字会被解析成什么
func typeCmd(sh Shell, argv []string, io IO) Result {
	status := 0
	for _, name := range argv[1:] {
		if !printResolution(sh, name, io, true) {
			status = 1
		}
	}
	return Result{Status: status}
}

// printResolution 按别名、函数、内建、外部命令的次序报告解析结果。
// verbose 为假时只打印机器好认的那一段。
func printResolution(sh Shell, name string, io IO, verbose bool) bool {
	st := sh.State()
	if value, ok := st.Alias(name); ok {
		if verbose {
			fmt.Fprintf(io.Out, "%s 是 %s 的别名\n", name, quote(value))
		} else {
			fmt.Fprintf(io.Out, "alias %s=%s\n", name, quote(value))
		}
		return true
	}
	if _, ok := st.Func(name); ok {
		if verbose {
			fmt.Fprintf(io.Out, "%s 是函数\n", name)
		} else {
			fmt.Fprintln(io.Out, name)
		}
		return true
	}
	if _, ok := Lookup(name); ok {
		if verbose {
			fmt.Fprintf(io.Out, "%s 是内建命令\n", name)
		} else {
			fmt.Fprintln(io.Out, name)
		}
		return true
	}
	if path, err := sh.LookPath(name); err == nil {
		if verbose {
			fmt.Fprintf(io.Out, "%s 是 %s\n", name, path)
		} else {
			fmt.Fprintln(io.Out, path)
		}
		return true
	}
	if verbose {
		fmt.Fprintf(io.Err, "posish: type: %s: 没找到\n", name)
	}
	return false
}

// hash 管理 PATH 查找缓存。-r 清空，带名字就查一遍并缓存，
// 不带参数列出缓存内容。
func hash(sh Shell, argv []string, io IO) Result {
	opts := getopt.New()
	reset := opts.Bool('r', "清空缓存")
	if err := opts.Getopt(argv, nil); err != nil {
		return errf(io, 2, "hash: %v", err)
	}
	st := sh.State()
	if *reset {
		st.HashClear()
		return Result{}
	}
	args := opts.Args()
	if len(args) == 0 {
		entries := st.HashEntries()
		if len(entries) == 0 {
			return Result{}
		}
		names := make([]string, 0, len(entries))
		for name := range entries {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(io.Out, "%s\t%s\n", name, entries[name])
		}
		return Result{}
	}
	status := 0
	for _, name := range args {
		if _, err := sh.LookPath(name); err != nil {
			errf(io, 1, "hash: %s: 没找到", name)
			status = 1
		}
	}
	return Result{Status: status}
}

// eval 把参数拼成一段源码在当前环境里执行
func eval(sh Shell, argv []string, io IO) Result {
	src := strings.Join(argv[1:], " ")
	if strings.TrimSpace(src) == "" {
		return Result{}
	}
	return sh.Eval(src, io)
}

// dot 在当前环境里执行脚本文件。路径不带斜杠时先在 PATH 里找，
// 找不到再看当前目录。脚本里的 return 在这里收住。
func dot(sh Shell, argv []string, io IO) Result {
	if len(argv) < 2 {
		return errf(io, 2, "%s: 缺少文件名", argv[0])
	}
	path := argv[1]
	if !strings.ContainsRune(path, '/') {
		if found, ok := searchPath(sh, path); ok {
			path = found
		}
	}
	data, err := afero.ReadFile(sh.FS(), path)
	if err != nil {
		return errf(io, 1, "%s: %s: 打不开", argv[0], argv[1])
	}
	res := sh.Eval(string(data), io)
	if res.Flow == FlowReturn {
		return Result{Status: res.Status}
	}
	return res
}

// searchPath 在 PATH 各目录下找普通文件，. 命令用，可执行与否不论
func searchPath(sh Shell, name string) (string, bool) {
	pathVar, _ := sh.State().Get("PATH")
	for _, dir := range strings.Split(pathVar, ":") {
		if dir == "" {
			dir = "."
		}
		cand := dir + "/" + name
		if info, err := sh.FS().Stat(cand); err == nil && info.Mode().IsRegular() {
			return cand, true
		}
	}
	return "", false
}

// execCmd 用目标命令替换 shell 进程。没有参数时什么都不做，
// 执行器会把已经生效的重定向留在原位。替换失败时非交互的
// shell 直接退出。
func execCmd(sh Shell, argv []string, io IO) Result {
	if len(argv) < 2 {
		return Result{}
	}
	name := argv[1]
	path := name
	if !strings.ContainsRune(name, '/') {
		found, err := sh.LookPath(name)
		if err != nil {
			return execFail(sh, io, 127, "exec: %s: 没找到", name)
		}
		path = found
	}
	env := sh.State().Environ()
	if err := unix.Exec(path, argv[1:], env); err != nil {
		if os.IsPermission(err) {
			return execFail(sh, io, 126, "exec: %s: 没有执行权限", name)
		}
		return execFail(sh, io, 126, "exec: %s: %v", name, err)
	}
	return Result{}
}

func execFail(sh Shell, io IO, status int, format string, a ...interface{}) Result {
	res := errf(io, status, format, a...)
	if !sh.Interactive() {
		res.Flow = FlowExit
	}
	return res
}
