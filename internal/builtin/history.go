package builtin

import (
	"fmt"
	"strconv"

	"github.com/pborman/getopt/v2"
)

// history 列出当前会话的命令历史，-c 清空。带个数字就只看最后几条，
// 编号还是按原来的算。
func history(sh Shell, argv []string, io IO) Result {
	opts := getopt.New()
	clear := opts.Bool('c', "清空历史")
	if err := opts.Getopt(argv, nil); err != nil {
		return errf(io, 2, "history: %v", err)
	}
	if *clear {
		sh.ClearHistory()
		return Result{}
	}
	lines := sh.History()
	first := 0
	if args := opts.Args(); len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return errf(io, 1, "history: %s: 要一个非负整数", args[0])
		}
		if n < len(lines) {
			first = len(lines) - n
		}
	}
	for i := first; i < len(lines); i++ {
		fmt.Fprintf(io.Out, "% 5d  %s\n", i+1, lines[i])
	}
	return Result{}
}
