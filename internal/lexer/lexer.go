// Package lexer 提供词法分析功能，按 POSIX 引号规则把输入切分为token序列
package lexer

import (
	"fmt"
	"strconv"
	"strings"
)

// Lexer 词法分析器
// 负责将输入的shell命令字符串分解为一系列token
type Lexer struct {
	input        string
	position     int  // 当前位置
	readPosition int  // 读取位置
	ch           byte // 当前字符
	line         int  // 当前行号
	column       int  // 当前列号
	pending      []*Redirect // 等待收集正文的 heredoc
}

// New 创建新的词法分析器
func New(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
	}
	l.readChar()
	return l
}

// Tokenize 对输入做完整的词法分析，最后一个token总是EOF
func Tokenize(input string) ([]Token, error) {
	return New(input).Tokenize()
}

// Tokenize 扫描全部输入并返回token序列
func (l *Lexer) Tokenize() ([]Token, error) {
	var tokens []Token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Kind == EOF {
			return tokens, nil
		}
	}
}

// readChar 读取下一个字符并更新行列位置
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.column = 0
	}
	if l.readPosition >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition++
	l.column++
}

// peekChar 查看下一个字符但不移动位置
func (l *Lexer) peekChar() byte {
	if l.readPosition >= len(l.input) {
		return 0
	}
	return l.input[l.readPosition]
}

// lexState 扫描现场，$(( 回退重扫时使用
type lexState struct {
	position     int
	readPosition int
	ch           byte
	line         int
	column       int
}

func (l *Lexer) save() lexState {
	return lexState{l.position, l.readPosition, l.ch, l.line, l.column}
}

func (l *Lexer) restore(s lexState) {
	l.position, l.readPosition, l.ch, l.line, l.column = s.position, s.readPosition, s.ch, s.line, s.column
}

// next 返回下一个词法单元
func (l *Lexer) next() (Token, error) {
	for {
		l.skipBlanks()
		if l.ch == '#' {
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
			continue
		}
		break
	}

	line, column := l.line, l.column
	switch l.ch {
	case 0:
		if len(l.pending) > 0 {
			d := l.pending[0]
			return Token{}, &LexError{Kind: ErrUnterminatedHeredoc, Line: line, Column: column,
				Message: fmt.Sprintf("here-document delimited by end-of-file (wanted `%s')", d.Delim)}
		}
		return Token{Kind: EOF, Line: line, Column: column}, nil
	case '\n':
		l.readChar()
		tok := Token{Kind: NEWLINE, Text: "\n", Line: line, Column: column}
		if err := l.collectHeredocs(); err != nil {
			return Token{}, err
		}
		return tok, nil
	case '|':
		if l.peekChar() == '|' {
			l.readChar()
			l.readChar()
			return Token{Kind: OR, Text: "||", Line: line, Column: column}, nil
		}
		l.readChar()
		return Token{Kind: PIPE, Text: "|", Line: line, Column: column}, nil
	case '&':
		if l.peekChar() == '&' {
			l.readChar()
			l.readChar()
			return Token{Kind: AND, Text: "&&", Line: line, Column: column}, nil
		}
		l.readChar()
		return Token{Kind: AMPERSAND, Text: "&", Line: line, Column: column}, nil
	case ';':
		if l.peekChar() == ';' {
			l.readChar()
			l.readChar()
			return Token{Kind: DSEMI, Text: ";;", Line: line, Column: column}, nil
		}
		l.readChar()
		return Token{Kind: SEMICOLON, Text: ";", Line: line, Column: column}, nil
	case '(':
		l.readChar()
		return Token{Kind: LPAREN, Text: "(", Line: line, Column: column}, nil
	case ')':
		l.readChar()
		return Token{Kind: RPAREN, Text: ")", Line: line, Column: column}, nil
	case '<', '>':
		return l.readRedirect(-1, line, column)
	}
	if isDigit(l.ch) {
		if fd, ok := l.peekRedirectFD(); ok {
			return l.readRedirect(fd, line, column)
		}
	}
	return l.readWord(line, column)
}

// peekRedirectFD 识别 2> 这类带 fd 前缀的重定向。fd 前缀只在数字
// 紧跟 < 或 > 且自身处于词首时生效，foo2>bar 的 2 不算。
func (l *Lexer) peekRedirectFD() (int, bool) {
	i := l.position
	for i < len(l.input) && isDigit(l.input[i]) {
		i++
	}
	if i >= len(l.input) {
		return 0, false
	}
	if l.input[i] != '<' && l.input[i] != '>' {
		return 0, false
	}
	fd, err := strconv.Atoi(l.input[l.position:i])
	if err != nil {
		return 0, false
	}
	return fd, true
}

// readRedirect 读取重定向操作符。heredoc 形式连同分隔符一起读取，
// 正文等到所在行结束时收集。
func (l *Lexer) readRedirect(fd int, line, column int) (Token, error) {
	start := l.position
	for isDigit(l.ch) {
		l.readChar()
	}
	var op RedirOp
	switch l.ch {
	case '<':
		op = RedirIn
		l.readChar()
		switch l.ch {
		case '<':
			op = RedirHeredoc
			l.readChar()
			if l.ch == '-' {
				op = RedirHeredocDash
				l.readChar()
			}
		case '&':
			op = RedirDupIn
			l.readChar()
		case '>':
			op = RedirReadWrite
			l.readChar()
		}
	case '>':
		op = RedirOut
		l.readChar()
		switch l.ch {
		case '>':
			op = RedirAppend
			l.readChar()
		case '&':
			op = RedirDupOut
			l.readChar()
		case '|':
			op = RedirClobber
			l.readChar()
		}
	}
	if fd < 0 {
		fd = op.DefaultFD()
	}
	red := &Redirect{FD: fd, Op: op}
	tok := Token{Kind: REDIRECT, Text: l.input[start:l.position], Redir: red, Line: line, Column: column}

	if op == RedirHeredoc || op == RedirHeredocDash {
		l.skipBlanks()
		if l.ch == 0 || l.ch == '\n' {
			// 分隔符缺失，留给语法分析报错
			return tok, nil
		}
		wline, wcol := l.line, l.column
		w, err := l.readWord(wline, wcol)
		if err != nil {
			return Token{}, err
		}
		for _, seg := range w.Segs {
			red.Delim += seg.Text
			if seg.Quote != QuoteNone {
				red.Quoted = true
			}
		}
		l.pending = append(l.pending, red)
	}
	return tok, nil
}

// readWord 读取一个词。引号、转义、$ 展开各自成段，相邻分段属于
// 同一个词，展开后按位置拼接。
func (l *Lexer) readWord(line, column int) (Token, error) {
	start := l.position
	segs, err := l.scanWordSegs(true)
	if err != nil {
		return Token{}, err
	}
	tok := Token{Kind: WORD, Text: l.input[start:l.position], Segs: segs, Line: line, Column: column}
	tok.Quote = wordQuote(segs)
	return tok, nil
}

// scanWordSegs 按未引号上下文扫描词的分段。stopAtEnd 为假时空白与
// 操作符不结束扫描，用于 ${ } 操作符右侧这类嵌入词。
func (l *Lexer) scanWordSegs(stopAtEnd bool) ([]Segment, error) {
	var segs []Segment
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			segs = append(segs, Segment{Kind: SegLiteral, Text: lit.String(), Quote: QuoteNone})
			lit.Reset()
		}
	}
	for l.ch != 0 {
		if stopAtEnd && l.atWordEnd() {
			break
		}
		switch l.ch {
		case '\'':
			flush()
			s, err := l.readSingleQuoted()
			if err != nil {
				return nil, err
			}
			segs = append(segs, Segment{Kind: SegLiteral, Text: s, Quote: QuoteSingle})
		case '"':
			flush()
			ds, err := l.readDoubleQuoted()
			if err != nil {
				return nil, err
			}
			segs = append(segs, ds...)
		case '\\':
			if l.peekChar() == '\n' {
				l.readChar()
				l.readChar()
				continue
			}
			flush()
			l.readChar()
			if l.ch == 0 {
				segs = append(segs, Segment{Kind: SegLiteral, Text: "\\", Quote: QuoteSingle})
				continue
			}
			segs = append(segs, Segment{Kind: SegLiteral, Text: string(l.ch), Quote: QuoteSingle})
			l.readChar()
		case '$':
			flush()
			seg, err := l.readDollar(QuoteNone)
			if err != nil {
				return nil, err
			}
			segs = append(segs, seg)
		case '`':
			flush()
			seg, err := l.readBackquote(QuoteNone)
			if err != nil {
				return nil, err
			}
			segs = append(segs, seg)
		default:
			lit.WriteByte(l.ch)
			l.readChar()
		}
	}
	flush()
	return segs, nil
}

func wordQuote(segs []Segment) QuoteKind {
	if len(segs) == 0 {
		return QuoteNone
	}
	q := segs[0].Quote
	for _, s := range segs[1:] {
		if s.Quote != q {
			return QuoteNone
		}
	}
	return q
}

// atWordEnd 判断当前字符是否结束一个词
func (l *Lexer) atWordEnd() bool {
	switch l.ch {
	case 0, ' ', '\t', '\r', '\n', '|', '&', ';', '(', ')', '<', '>':
		return true
	}
	return false
}

// readSingleQuoted 读取单引号内容，内部没有任何特殊字符
func (l *Lexer) readSingleQuoted() (string, error) {
	line, column := l.line, l.column
	l.readChar() // 跳过开引号
	start := l.position
	for l.ch != '\'' {
		if l.ch == 0 {
			return "", &LexError{Kind: ErrUnterminatedQuote, Line: line, Column: column,
				Message: "unexpected EOF while looking for matching `''"}
		}
		l.readChar()
	}
	s := l.input[start:l.position]
	l.readChar() // 跳过闭引号
	return s, nil
}

// readDoubleQuoted 读取双引号内容，$、` 与受限转义保持特殊含义
func (l *Lexer) readDoubleQuoted() ([]Segment, error) {
	line, column := l.line, l.column
	l.readChar() // 跳过开引号
	return l.scanDoubleBody('"', line, column)
}

// scanDoubleBody 按双引号规则扫描。term 为结束字符，heredoc 正文
// 传 0 表示扫到输入末尾且双引号无特殊含义。
func (l *Lexer) scanDoubleBody(term byte, line, column int) ([]Segment, error) {
	var segs []Segment
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			segs = append(segs, Segment{Kind: SegLiteral, Text: lit.String(), Quote: QuoteDouble})
			lit.Reset()
		}
	}
	for {
		if term != 0 && l.ch == term {
			l.readChar()
			break
		}
		if l.ch == 0 {
			if term != 0 {
				return nil, &LexError{Kind: ErrUnterminatedQuote, Line: line, Column: column,
					Message: "unexpected EOF while looking for matching `\"'"}
			}
			break
		}
		switch l.ch {
		case '\\':
			next := l.peekChar()
			switch {
			case next == '$' || next == '`' || next == '\\':
				l.readChar()
				lit.WriteByte(l.ch)
				l.readChar()
			case next == '"' && term == '"':
				l.readChar()
				lit.WriteByte(l.ch)
				l.readChar()
			case next == '\n':
				l.readChar()
				l.readChar()
			default:
				// 其余场合反斜杠保留字面含义
				lit.WriteByte('\\')
				l.readChar()
			}
		case '$':
			flush()
			seg, err := l.readDollar(QuoteDouble)
			if err != nil {
				return nil, err
			}
			segs = append(segs, seg)
		case '`':
			flush()
			seg, err := l.readBackquote(QuoteDouble)
			if err != nil {
				return nil, err
			}
			segs = append(segs, seg)
		default:
			lit.WriteByte(l.ch)
			l.readChar()
		}
	}
	flush()
	if len(segs) == 0 && term != 0 {
		// "" 展开为一个空参数而不是消失
		segs = append(segs, Segment{Kind: SegLiteral, Text: "", Quote: QuoteDouble})
	}
	return segs, nil
}

// readDollar 读取 $ 引导的展开。$ 后无可展开内容时按字面 $ 处理。
func (l *Lexer) readDollar(q QuoteKind) (Segment, error) {
	line, column := l.line, l.column
	l.readChar() // 跳过 $
	switch {
	case l.ch == '{':
		return l.readBraceParam(q, line, column)
	case l.ch == '(' && l.peekChar() == '(':
		seg, ok, err := l.readArith(q, line, column)
		if err != nil {
			return Segment{}, err
		}
		if ok {
			return seg, nil
		}
		// $(( 实为 $( ( 开头的命令替换，回退重扫
		return l.readParenCommand(q, line, column)
	case l.ch == '(':
		return l.readParenCommand(q, line, column)
	case isNameStart(l.ch):
		start := l.position
		for isNameChar(l.ch) {
			l.readChar()
		}
		return Segment{Kind: SegParam, Text: l.input[start:l.position], Quote: q}, nil
	case isDigit(l.ch):
		// $10 解析为 ${1}0
		s := string(l.ch)
		l.readChar()
		return Segment{Kind: SegParam, Text: s, Quote: q}, nil
	case l.ch == '@' || l.ch == '*' || l.ch == '#' || l.ch == '?' ||
		l.ch == '-' || l.ch == '$' || l.ch == '!':
		s := string(l.ch)
		l.readChar()
		return Segment{Kind: SegParam, Text: s, Quote: q}, nil
	default:
		return Segment{Kind: SegLiteral, Text: "$", Quote: q}, nil
	}
}

// readBraceParam 读取 ${ } 参数展开。Text 为大括号内的原始内容，
// 操作符形式由展开阶段解析。
func (l *Lexer) readBraceParam(q QuoteKind, line, column int) (Segment, error) {
	l.readChar() // 跳过 {
	var sb strings.Builder
	depth := 1
	for {
		switch {
		case l.ch == 0:
			return Segment{}, &LexError{Kind: ErrUnterminatedExpansion, Line: line, Column: column,
				Message: "unexpected EOF while looking for matching `}'"}
		case l.ch == '\\':
			sb.WriteByte(l.ch)
			l.readChar()
			if l.ch != 0 {
				sb.WriteByte(l.ch)
				l.readChar()
			}
		case l.ch == '\'' && q == QuoteNone:
			span, err := l.copySingleSpan(line, column)
			if err != nil {
				return Segment{}, err
			}
			sb.WriteString(span)
		case l.ch == '"':
			span, err := l.copyDoubleSpan(line, column)
			if err != nil {
				return Segment{}, err
			}
			sb.WriteString(span)
		case l.ch == '$' && l.peekChar() == '{':
			depth++
			sb.WriteString("${")
			l.readChar()
			l.readChar()
		case l.ch == '}':
			depth--
			if depth == 0 {
				l.readChar()
				return Segment{Kind: SegParam, Text: sb.String(), Quote: q}, nil
			}
			sb.WriteByte('}')
			l.readChar()
		default:
			sb.WriteByte(l.ch)
			l.readChar()
		}
	}
}

// readArith 扫描 $(( )) 算术展开。内容按单括号闭合（说明实际是
// 命令替换里套子 shell）时恢复现场并返回 ok=false。
func (l *Lexer) readArith(q QuoteKind, line, column int) (Segment, bool, error) {
	saved := l.save()
	l.readChar() // 第一个 (
	l.readChar() // 第二个 (
	var sb strings.Builder
	bal := 0
	for {
		switch {
		case l.ch == 0:
			return Segment{}, false, &LexError{Kind: ErrUnterminatedExpansion, Line: line, Column: column,
				Message: "unexpected EOF while looking for matching `))'"}
		case l.ch == '(':
			bal++
			sb.WriteByte('(')
			l.readChar()
		case l.ch == ')':
			if bal == 0 {
				if l.peekChar() == ')' {
					l.readChar()
					l.readChar()
					return Segment{Kind: SegArith, Text: sb.String(), Quote: q}, true, nil
				}
				l.restore(saved)
				return Segment{}, false, nil
			}
			bal--
			sb.WriteByte(')')
			l.readChar()
		default:
			sb.WriteByte(l.ch)
			l.readChar()
		}
	}
}

// readParenCommand 读取 $( ) 命令替换，嵌套括号与引号整段跳过
func (l *Lexer) readParenCommand(q QuoteKind, line, column int) (Segment, error) {
	l.readChar() // 跳过 (
	var sb strings.Builder
	depth := 1
	for {
		switch l.ch {
		case 0:
			return Segment{}, &LexError{Kind: ErrUnterminatedExpansion, Line: line, Column: column,
				Message: "unexpected EOF while looking for matching `)'"}
		case '\\':
			sb.WriteByte(l.ch)
			l.readChar()
			if l.ch != 0 {
				sb.WriteByte(l.ch)
				l.readChar()
			}
		case '\'':
			span, err := l.copySingleSpan(line, column)
			if err != nil {
				return Segment{}, err
			}
			sb.WriteString(span)
		case '"':
			span, err := l.copyDoubleSpan(line, column)
			if err != nil {
				return Segment{}, err
			}
			sb.WriteString(span)
		case '(':
			depth++
			sb.WriteByte('(')
			l.readChar()
		case ')':
			depth--
			if depth == 0 {
				l.readChar()
				return Segment{Kind: SegCommand, Text: sb.String(), Quote: q}, nil
			}
			sb.WriteByte(')')
			l.readChar()
		default:
			sb.WriteByte(l.ch)
			l.readChar()
		}
	}
}

// readBackquote 读取反引号命令替换，\$ \` \\ 三种转义在此层剥掉
func (l *Lexer) readBackquote(q QuoteKind) (Segment, error) {
	line, column := l.line, l.column
	l.readChar() // 跳过开反引号
	var sb strings.Builder
	for l.ch != '`' {
		if l.ch == 0 {
			return Segment{}, &LexError{Kind: ErrUnterminatedQuote, Line: line, Column: column,
				Message: "unexpected EOF while looking for matching ``'"}
		}
		if l.ch == '\\' {
			switch l.peekChar() {
			case '$', '`', '\\':
				l.readChar()
				sb.WriteByte(l.ch)
				l.readChar()
				continue
			}
		}
		sb.WriteByte(l.ch)
		l.readChar()
	}
	l.readChar() // 跳过闭反引号
	return Segment{Kind: SegCommand, Text: sb.String(), Quote: q}, nil
}

// copySingleSpan 原样复制一段单引号文本（含引号）
func (l *Lexer) copySingleSpan(line, column int) (string, error) {
	start := l.position
	l.readChar()
	for l.ch != '\'' {
		if l.ch == 0 {
			return "", &LexError{Kind: ErrUnterminatedQuote, Line: line, Column: column,
				Message: "unexpected EOF while looking for matching `''"}
		}
		l.readChar()
	}
	l.readChar()
	return l.input[start:l.position], nil
}

// copyDoubleSpan 原样复制一段双引号文本（含引号），转义成对跳过
func (l *Lexer) copyDoubleSpan(line, column int) (string, error) {
	start := l.position
	l.readChar()
	for l.ch != '"' {
		if l.ch == 0 {
			return "", &LexError{Kind: ErrUnterminatedQuote, Line: line, Column: column,
				Message: "unexpected EOF while looking for matching `\"'"}
		}
		if l.ch == '\\' && l.peekChar() != 0 {
			l.readChar()
		}
		l.readChar()
	}
	l.readChar()
	return l.input[start:l.position], nil
}

// skipBlanks 跳过空格、制表符与行继续符
func (l *Lexer) skipBlanks() {
	for {
		if l.ch == ' ' || l.ch == '\t' || l.ch == '\r' {
			l.readChar()
			continue
		}
		if l.ch == '\\' && l.peekChar() == '\n' {
			l.readChar()
			l.readChar()
			continue
		}
		return
	}
}

// collectHeredocs 在声明行的换行之后按声明顺序收集 heredoc 正文
func (l *Lexer) collectHeredocs() error {
	for _, doc := range l.pending {
		var body strings.Builder
		for {
			if l.ch == 0 {
				return &LexError{Kind: ErrUnterminatedHeredoc, Line: l.line, Column: l.column,
					Message: fmt.Sprintf("here-document delimited by end-of-file (wanted `%s')", doc.Delim)}
			}
			rawLine := l.readRawLine()
			check := strings.TrimSuffix(rawLine, "\n")
			if doc.Op == RedirHeredocDash {
				check = strings.TrimLeft(check, "\t")
			}
			if check == doc.Delim {
				break
			}
			if doc.Op == RedirHeredocDash {
				rawLine = strings.TrimLeft(rawLine, "\t")
			}
			body.WriteString(rawLine)
		}
		doc.Body = body.String()
	}
	l.pending = nil
	return nil
}

// readRawLine 原样读取一行（含换行符）
func (l *Lexer) readRawLine() string {
	start := l.position
	for l.ch != '\n' && l.ch != 0 {
		l.readChar()
	}
	if l.ch == '\n' {
		l.readChar()
	}
	return l.input[start:l.position]
}

// SegmentHeredoc 按未引号分隔符的 heredoc 规则扫描正文：
// $、` 与受限转义展开，双引号无特殊含义。
func SegmentHeredoc(body string) ([]Segment, error) {
	l := New(body)
	return l.scanDoubleBody(0, 1, 1)
}

// SegmentWord 把一段原始文本按词规则切分为分段，空白与操作符
// 不结束扫描。${ } 操作符右侧的词在展开阶段用它重新切分。
func SegmentWord(text string) ([]Segment, error) {
	return New(text).scanWordSegs(false)
}

func isNameStart(ch byte) bool {
	return ch == '_' || 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z'
}

func isNameChar(ch byte) bool {
	return isNameStart(ch) || isDigit(ch)
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}
