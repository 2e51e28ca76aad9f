package lexer

import (
	"fmt"
)

// LexErrorKind 词法错误类型
type LexErrorKind int

const (
	ErrUnterminatedQuote     LexErrorKind = iota // 未闭合的引号
	ErrUnterminatedHeredoc                       // heredoc 未见到分隔符
	ErrUnterminatedExpansion                     // ${ / $( / $(( 未闭合
)

// LexError 表示词法分析错误。未闭合类错误在交互模式下提示续行，
// 脚本模式下按语法错误报告。
type LexError struct {
	Kind    LexErrorKind
	Message string
	Line    int
	Column  int
}

// Error 实现 error 接口
func (e *LexError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// Unterminated 判断错误是否因输入不完整导致，调用方读到续行后可重试
func Unterminated(err error) bool {
	le, ok := err.(*LexError)
	if !ok {
		return false
	}
	switch le.Kind {
	case ErrUnterminatedQuote, ErrUnterminatedHeredoc, ErrUnterminatedExpansion:
		return true
	}
	return false
}
