package parser

import (
	"errors"
	"fmt"

	"posish/internal/lexer"
)

// ParseErrorKind 解析错误类别
type ParseErrorKind int

const (
	ErrSyntax          ParseErrorKind = iota // 一般语法错误
	ErrUnexpectedToken                       // 意外的 token
	ErrUnexpectedEof                         // 输入在结构闭合前结束
)

// ParseError 表示解析错误。Construct 记录出错时正在解析的结构
// （如 "if"、"case"），交互模式据此决定是否继续读入。
type ParseError struct {
	Kind      ParseErrorKind
	Message   string
	Line      int
	Column    int
	Construct string
}

// Error 实现 error 接口
func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// ExpectsMore 判断错误是否由输入提前结束引起，
// 交互式 shell 用它决定显示续行提示符还是报错。
func ExpectsMore(err error) bool {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Kind == ErrUnexpectedEof
	}
	return false
}

func (p *Parser) syntaxErrorf(format string, args ...interface{}) *ParseError {
	return &ParseError{
		Kind:    ErrSyntax,
		Message: fmt.Sprintf(format, args...),
		Line:    p.cur.Line,
		Column:  p.cur.Column,
	}
}

// unexpected 根据当前 token 生成错误：EOF 产生 ErrUnexpectedEof
// 并注明等待闭合的结构，其余产生 ErrUnexpectedToken。
func (p *Parser) unexpected(construct, expecting string) *ParseError {
	if p.atEOF() {
		msg := "syntax error: unexpected end of file"
		if expecting != "" {
			msg += fmt.Sprintf(" (expecting %s)", expecting)
		}
		return &ParseError{
			Kind:      ErrUnexpectedEof,
			Message:   msg,
			Line:      p.cur.Line,
			Column:    p.cur.Column,
			Construct: construct,
		}
	}
	return &ParseError{
		Kind:      ErrUnexpectedToken,
		Message:   fmt.Sprintf("syntax error near unexpected token `%s'", tokenText(p.cur)),
		Line:      p.cur.Line,
		Column:    p.cur.Column,
		Construct: construct,
	}
}

// tokenText token 在错误信息里的显示文本
func tokenText(t lexer.Token) string {
	switch t.Kind {
	case lexer.NEWLINE:
		return "newline"
	case lexer.EOF:
		return "end of file"
	case lexer.WORD:
		return t.Text
	case lexer.REDIRECT:
		if t.Redir != nil {
			return t.Redir.Op.String()
		}
		return "redirect"
	default:
		return t.Kind.String()
	}
}
