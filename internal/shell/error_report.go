package shell

import (
	"errors"
	"fmt"
	"io"

	"posish/internal/executor"
	"posish/internal/lexer"
	"posish/internal/parser"
)

// Reporter 统一 CLI 层报错的样子：名字、来源、消息各就各位。
// 词法和语法错误的文本自带行号。
type Reporter struct {
	name string
	w    io.Writer
}

// NewReporter name 一般用 $0，报告写进 w
func NewReporter(name string, w io.Writer) *Reporter {
	if name == "" {
		name = "posish"
	}
	return &Reporter{name: name, w: w}
}

// Report 打一条错误。origin 是脚本路径，交互输入传空串。
func (r *Reporter) Report(origin string, err error) {
	if err == nil {
		return
	}
	if origin != "" {
		fmt.Fprintf(r.w, "%s: %s: %v\n", r.name, origin, err)
		return
	}
	fmt.Fprintf(r.w, "%s: %v\n", r.name, err)
}

// ExitCode 错误折算成退出状态：解析不过去是 2，执行错误按它
// 自己的惯例（127、126），其余算一般错误 1。
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var pe *parser.ParseError
	var le *lexer.LexError
	var ee *executor.ExecError
	switch {
	case errors.As(err, &pe), errors.As(err, &le):
		return 2
	case errors.As(err, &ee):
		return ee.ExitCode()
	}
	return 1
}
