package lexer

import "fmt"

// TokenKind 表示token的类型
type TokenKind int

const (
	ILLEGAL TokenKind = iota
	EOF
	NEWLINE

	// WORD 普通词，内部分段携带引号状态（见 Segment）
	WORD

	// 操作符
	AND       // &&
	OR        // ||
	PIPE      // |
	SEMICOLON // ;
	DSEMI     // ;;
	AMPERSAND // &
	LPAREN    // (
	RPAREN    // )

	// REDIRECT 重定向操作符，具体形式见 Token.Redir
	REDIRECT
)

// String 返回token类型的字符串表示
func (tk TokenKind) String() string {
	switch tk {
	case ILLEGAL:
		return "ILLEGAL"
	case EOF:
		return "EOF"
	case NEWLINE:
		return "NEWLINE"
	case WORD:
		return "WORD"
	case AND:
		return "&&"
	case OR:
		return "||"
	case PIPE:
		return "|"
	case SEMICOLON:
		return ";"
	case DSEMI:
		return ";;"
	case AMPERSAND:
		return "&"
	case LPAREN:
		return "("
	case RPAREN:
		return ")"
	case REDIRECT:
		return "REDIRECT"
	default:
		return fmt.Sprintf("TokenKind(%d)", int(tk))
	}
}

// QuoteKind 引号状态，决定展开阶段对分段的处理方式
type QuoteKind int

const (
	// QuoteNone 未被引号包围，参与全部展开
	QuoteNone QuoteKind = iota
	// QuoteSingle 单引号（或反斜杠转义），不做任何展开
	QuoteSingle
	// QuoteDouble 双引号，保留参数/命令/算术展开但禁止分词和路径展开
	QuoteDouble
)

// SegKind 词内分段类型
type SegKind int

const (
	// SegLiteral 字面文本，未引号的字面段可能含通配符
	SegLiteral SegKind = iota
	// SegParam 参数展开，Text 为 $ 后的内容（如 "HOME"、"1"、"VAR:-default"）
	SegParam
	// SegCommand 命令替换，Text 为 $( ) 或反引号内的命令文本
	SegCommand
	// SegArith 算术展开，Text 为 $(( )) 内的表达式文本
	SegArith
)

// Segment 词的一个分段。分段保持原始顺序，展开结果按位置拼接。
type Segment struct {
	Kind  SegKind
	Text  string
	Quote QuoteKind
}

// RedirOp 重定向操作符形式
type RedirOp int

const (
	RedirIn          RedirOp = iota // <
	RedirOut                        // >
	RedirAppend                     // >>
	RedirHeredoc                    // <<
	RedirHeredocDash                // <<-
	RedirDupIn                      // <&
	RedirDupOut                     // >&
	RedirClobber                    // >|
	RedirReadWrite                  // <>
)

// String 返回重定向操作符的原始写法
func (op RedirOp) String() string {
	switch op {
	case RedirIn:
		return "<"
	case RedirOut:
		return ">"
	case RedirAppend:
		return ">>"
	case RedirHeredoc:
		return "<<"
	case RedirHeredocDash:
		return "<<-"
	case RedirDupIn:
		return "<&"
	case RedirDupOut:
		return ">&"
	case RedirClobber:
		return ">|"
	case RedirReadWrite:
		return "<>"
	default:
		return fmt.Sprintf("RedirOp(%d)", int(op))
	}
}

// DefaultFD 返回该操作符省略 fd 时的默认文件描述符
func (op RedirOp) DefaultFD() int {
	switch op {
	case RedirIn, RedirHeredoc, RedirHeredocDash, RedirDupIn, RedirReadWrite:
		return 0
	default:
		return 1
	}
}

// Redirect 重定向词法信息。heredoc 的正文在所在行结束时收集进 Body。
type Redirect struct {
	FD     int
	Op     RedirOp
	Delim  string // heredoc 分隔符（已去引号）
	Quoted bool   // 分隔符带引号时正文不做展开
	Body   string // heredoc 正文
}

// Token 表示一个词法单元。Segs 仅对 WORD 有效，Redir 仅对 REDIRECT 有效。
type Token struct {
	Kind   TokenKind
	Text   string
	Quote  QuoteKind
	Segs   []Segment
	Redir  *Redirect
	Line   int
	Column int
}

// 保留字映射，只在命令位置生效
var reservedWords = map[string]bool{
	"if":    true,
	"then":  true,
	"else":  true,
	"elif":  true,
	"fi":    true,
	"do":    true,
	"done":  true,
	"while": true,
	"until": true,
	"for":   true,
	"case":  true,
	"esac":  true,
	"in":    true,
	"{":     true,
	"}":     true,
	"!":     true,
}

// IsReservedWord 检查文本是否为保留字
func IsReservedWord(s string) bool {
	return reservedWords[s]
}

// Reserved 当词可作为保留字（完全未引号的单个字面段）时返回其文本，
// 否则返回空串。保证 fi 与 "fi" 在命令位置的区别。
func (t Token) Reserved() string {
	if t.Kind != WORD || len(t.Segs) != 1 {
		return ""
	}
	seg := t.Segs[0]
	if seg.Kind != SegLiteral || seg.Quote != QuoteNone {
		return ""
	}
	if reservedWords[seg.Text] {
		return seg.Text
	}
	return ""
}

// LiteralText 返回各字面段拼接的文本（不做展开），以及该词是否全部由
// 字面段构成。heredoc 分隔符和 for 循环变量名等场合使用。
func (t Token) LiteralText() (string, bool) {
	text := ""
	for _, seg := range t.Segs {
		if seg.Kind != SegLiteral {
			return "", false
		}
		text += seg.Text
	}
	return text, true
}

// FullyQuoted 判断词的所有分段是否都处于引号内
func (t Token) FullyQuoted() bool {
	for _, seg := range t.Segs {
		if seg.Quote == QuoteNone {
			return false
		}
	}
	return len(t.Segs) > 0
}

// String 返回token的字符串表示
func (t Token) String() string {
	switch t.Kind {
	case WORD:
		return fmt.Sprintf("WORD(%s)", t.Text)
	case REDIRECT:
		if t.Redir != nil {
			return fmt.Sprintf("REDIRECT(%d%s)", t.Redir.FD, t.Redir.Op)
		}
		return "REDIRECT"
	default:
		return t.Kind.String()
	}
}
