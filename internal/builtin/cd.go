package builtin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pborman/getopt/v2"
)

// cd 切换工作目录。裸 cd 回 HOME，cd - 回 OLDPWD 并打印，相对
// 路径先在 CDPATH 里找。PWD 按逻辑路径维护，-P 改用物理路径。
func cd(sh Shell, argv []string, io IO) Result {
	opts := getopt.New()
	opts.Bool('L', "按逻辑路径切换，默认")
	physical := opts.Bool('P', "按物理路径切换，解析符号链接")
	if err := opts.Getopt(argv, nil); err != nil {
		return errf(io, 2, "cd: %v", err)
	}
	args := opts.Args()
	st := sh.State()

	var target string
	printDir := false
	switch {
	case len(args) == 0:
		home, _ := st.Get("HOME")
		if home == "" {
			return errf(io, 1, "cd: HOME 没有设置")
		}
		target = home
	case args[0] == "-":
		old, _ := st.Get("OLDPWD")
		if old == "" {
			return errf(io, 1, "cd: OLDPWD 没有设置")
		}
		target = old
		printDir = true
	default:
		target = args[0]
	}

	dest := target
	if !filepath.IsAbs(target) && !strings.HasPrefix(target, "./") && !strings.HasPrefix(target, "../") && target != "." && target != ".." {
		if cdpath, _ := st.Get("CDPATH"); cdpath != "" {
			for _, dir := range strings.Split(cdpath, ":") {
				if dir == "" {
					dir = "."
				}
				cand := filepath.Join(dir, target)
				if info, err := os.Stat(cand); err == nil && info.IsDir() {
					dest = cand
					if dir != "." {
						printDir = true
					}
					break
				}
			}
		}
	}

	oldpwd, _ := st.Get("PWD")
	if oldpwd == "" {
		oldpwd, _ = os.Getwd()
	}

	if err := os.Chdir(dest); err != nil {
		return errf(io, 1, "cd: %s: 进不去", target)
	}

	var newpwd string
	if *physical {
		newpwd, _ = os.Getwd()
	} else if filepath.IsAbs(dest) {
		newpwd = filepath.Clean(dest)
	} else {
		newpwd = filepath.Clean(filepath.Join(oldpwd, dest))
	}
	if newpwd == "" {
		newpwd, _ = os.Getwd()
	}
	_ = st.Set("OLDPWD", oldpwd)
	_ = st.Set("PWD", newpwd)
	if printDir {
		fmt.Fprintln(io.Out, newpwd)
	}
	return Result{}
}

// pwd 打印工作目录，默认用 PWD 里维护的逻辑路径
func pwd(sh Shell, argv []string, io IO) Result {
	opts := getopt.New()
	opts.Bool('L', "打印逻辑路径，默认")
	physical := opts.Bool('P', "打印物理路径")
	if err := opts.Getopt(argv, nil); err != nil {
		return errf(io, 2, "pwd: %v", err)
	}
	if !*physical {
		if dir, _ := sh.State().Get("PWD"); dir != "" {
			fmt.Fprintln(io.Out, dir)
			return Result{}
		}
	}
	dir, err := os.Getwd()
	if err != nil {
		return errf(io, 1, "pwd: %v", err)
	}
	fmt.Fprintln(io.Out, dir)
	return Result{}
}
