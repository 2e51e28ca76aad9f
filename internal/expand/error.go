package expand

import "fmt"

// ExpandErrorKind 展开错误类别
type ExpandErrorKind int

const (
	// ErrBadSubstitution ${ } 内容不合法
	ErrBadSubstitution ExpandErrorKind = iota
	// ErrUnboundParam 引用了未设置的参数（set -u 或 ${VAR?} 形式）
	ErrUnboundParam
	// ErrArith 算术展开求值失败
	ErrArith
	// ErrSubstFailed 命令替换无法执行
	ErrSubstFailed
)

// ExpandError 展开阶段的错误
type ExpandError struct {
	Kind    ExpandErrorKind
	Name    string // 相关参数名，可为空
	Message string
}

func (e *ExpandError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s: %s", e.Name, e.Message)
	}
	return e.Message
}

func badSubst(text string) *ExpandError {
	return &ExpandError{Kind: ErrBadSubstitution, Message: fmt.Sprintf("${%s}: bad substitution", text)}
}

func arithErr(format string, args ...interface{}) *ExpandError {
	return &ExpandError{Kind: ErrArith, Message: fmt.Sprintf(format, args...)}
}
