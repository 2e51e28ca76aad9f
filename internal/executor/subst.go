package executor

import (
	"bytes"

	"posish/internal/builtin"
	"posish/internal/lexer"
	"posish/internal/parser"
)

// CommandOutput 实现 expand.Runner：在克隆状态的子执行环境里跑
// 一段命令替换，捕获标准输出。结尾换行的修剪归展开器管，这里
// 原样上交。语法错误按状态 2 报告给展开器。
func (e *Executor) CommandOutput(src string) (string, int, error) {
	toks, err := lexer.Tokenize(src)
	if err != nil {
		return "", 2, err
	}
	prog, err := parser.NewWithAliases(toks, e.st).ParseProgram()
	if err != nil {
		return "", 2, err
	}
	child := e.subExecutor(e.st.Clone())
	var buf bytes.Buffer
	sio := builtin.IO{In: e.stdin, Out: &buf, Err: e.stderr}
	status := 0
	for _, cmd := range prog.Commands {
		res := child.command(cmd, sio)
		status = res.Status
		if res.Flow != builtin.FlowNone {
			break
		}
	}
	child.fireExitTrap(sio)
	return buf.String(), status, nil
}
