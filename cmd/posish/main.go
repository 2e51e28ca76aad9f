package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"posish/internal/shell"
)

var (
	cmdString  string
	forceStdin bool
	forceTTY   bool
	noRC       bool
	setOptions []string
)

func main() {
	root := &cobra.Command{
		Use:   "posish [script [args...]]",
		Short: "POSIX 风格的命令解释器",
		Long: `posish 是一个 POSIX 风格的 shell：不带参数从终端进交互循环，
带脚本路径按脚本跑，-c 执行一串命令，-s 从标准输入读。`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runShell,
	}
	// 脚本自己的选项别被吃掉：第一个位置参数之后全部原样传下去
	root.Flags().SetInterspersed(false)
	root.Flags().StringVarP(&cmdString, "command", "c", "", "执行完这串命令就退出")
	root.Flags().BoolVarP(&forceStdin, "stdin", "s", false, "从标准输入读命令")
	root.Flags().BoolVarP(&forceTTY, "interactive", "i", false, "强制按交互会话处理")
	root.Flags().BoolVar(&noRC, "norc", false, "交互启动时跳过 ~/.posishrc")
	root.Flags().StringArrayVarP(&setOptions, "option", "o", nil, "启动就打开的 set -o 选项")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "posish: %v\n", err)
		os.Exit(2)
	}
}

func runShell(cmd *cobra.Command, args []string) error {
	name := "posish"
	script := ""
	var posArgs []string

	switch {
	case cmdString != "":
		// -c 后面的第一个参数顶 $0，剩下的是位置参数
		if len(args) > 0 {
			name = args[0]
			posArgs = args[1:]
		}
	case forceStdin || len(args) == 0:
		posArgs = args
	default:
		script = args[0]
		name = args[0]
		posArgs = args[1:]
	}

	interactive := forceTTY ||
		(cmdString == "" && script == "" && !forceStdin &&
			term.IsTerminal(int(os.Stdin.Fd())))

	sh, err := shell.New(shell.Config{
		Name:        name,
		Args:        posArgs,
		Interactive: interactive,
		NoRC:        noRC,
		Options:     setOptions,
	})
	if err != nil {
		return err
	}

	switch {
	case cmdString != "":
		sh.RunString(cmdString)
	case script != "":
		sh.RunFile(script)
	case interactive:
		sh.RunInteractive()
	default:
		sh.RunStdin()
	}
	os.Exit(sh.Finish())
	return nil
}
