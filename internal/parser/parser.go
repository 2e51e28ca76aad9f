// Package parser 提供语法分析功能，将 token 序列解析为 POSIX shell 的抽象语法树
package parser

import (
	"strings"

	"posish/internal/lexer"
)

// AliasResolver 提供别名查询，由 shell 状态实现
type AliasResolver interface {
	Alias(name string) (string, bool)
}

// aliasMark 记录一段由别名替换产生的 token 范围，
// 范围内同名别名不再展开，防止自引用别名无限递归。
type aliasMark struct {
	name string
	end  int // token 下标，cur 越过后标记失效
}

// Parser 语法分析器
type Parser struct {
	tokens []lexer.Token
	pos    int
	cur    lexer.Token
	peek   lexer.Token

	aliases     AliasResolver
	aliasMarks  []aliasMark
	aliasArgPos int // 别名值以空白结尾时，此位置的词继续接受别名检查
}

// New 创建解析器
func New(tokens []lexer.Token) *Parser {
	if len(tokens) == 0 {
		tokens = []lexer.Token{{Kind: lexer.EOF, Line: 1, Column: 1}}
	}
	p := &Parser{tokens: tokens, aliasArgPos: -1}
	p.advance()
	p.advance()
	return p
}

// NewWithAliases 创建带别名展开的解析器
func NewWithAliases(tokens []lexer.Token, aliases AliasResolver) *Parser {
	p := New(tokens)
	p.aliases = aliases
	return p
}

// Parse 对输入完成词法和语法分析，返回整棵语法树
func Parse(input string) (*Program, error) {
	tokens, err := lexer.Tokenize(input)
	if err != nil {
		return nil, err
	}
	return New(tokens).ParseProgram()
}

// advance 移动到下一个token
func (p *Parser) advance() {
	p.cur = p.peek
	if p.pos < len(p.tokens) {
		p.peek = p.tokens[p.pos]
		p.pos++
	} else {
		p.peek = p.tokens[len(p.tokens)-1]
	}
}

func (p *Parser) atEOF() bool {
	return p.cur.Kind == lexer.EOF
}

func (p *Parser) skipNewlines() {
	for p.cur.Kind == lexer.NEWLINE {
		p.advance()
	}
}

// 这些保留字终结一个命令序列，不能开始新命令
var listEnders = map[string]bool{
	"then": true, "elif": true, "else": true, "fi": true,
	"do": true, "done": true, "esac": true, "in": true, "}": true,
}

// startsCommand 判断当前 token 能否作为一条命令的开头
func (p *Parser) startsCommand() bool {
	switch p.cur.Kind {
	case lexer.WORD:
		return !listEnders[p.cur.Reserved()]
	case lexer.LPAREN, lexer.REDIRECT:
		return true
	default:
		return false
	}
}

// ParseProgram 解析整个程序
func (p *Parser) ParseProgram() (*Program, error) {
	prog := &Program{}
	for {
		p.skipNewlines()
		if p.atEOF() {
			return prog, nil
		}
		cmd, err := p.parseList()
		if err != nil {
			return nil, err
		}
		prog.Commands = append(prog.Commands, cmd)
		// 一条完整命令之后只能是换行或输入结束
		if p.cur.Kind != lexer.NEWLINE && !p.atEOF() {
			return nil, p.unexpected("", "")
		}
	}
}

// parseList 解析由 ; 和 & 连接的命令序列，不跨越换行。
// & 只把它左侧的一条命令放入后台。
func (p *Parser) parseList() (Command, error) {
	left, err := p.parseAndOr()
	if err != nil {
		return nil, err
	}
	var op ListOp
	switch p.cur.Kind {
	case lexer.SEMICOLON:
		op = ListSeq
	case lexer.AMPERSAND:
		op = ListBackground
	default:
		return left, nil
	}
	p.advance()
	if !p.startsCommand() {
		if op == ListBackground {
			return &List{Left: left, Op: op}, nil
		}
		return left, nil
	}
	right, err := p.parseList()
	if err != nil {
		return nil, err
	}
	return &List{Left: left, Op: op, Right: right}, nil
}

// parseAndOr 解析 && 和 || 连接的管道序列，同级左结合
func (p *Parser) parseAndOr() (Command, error) {
	left, err := p.parsePipeline()
	if err != nil {
		return nil, err
	}
	for p.cur.Kind == lexer.AND || p.cur.Kind == lexer.OR {
		op := ListAnd
		if p.cur.Kind == lexer.OR {
			op = ListOr
		}
		p.advance()
		p.skipNewlines()
		right, err := p.parsePipeline()
		if err != nil {
			return nil, err
		}
		left = &List{Left: left, Op: op, Right: right}
	}
	return left, nil
}

// parsePipeline 解析管道，前导 ! 对整体退出状态取反
func (p *Parser) parsePipeline() (Command, error) {
	negate := false
	if p.cur.Reserved() == "!" {
		negate = true
		p.advance()
		if !p.startsCommand() {
			// ! 后面必须跟命令。这里不报 EOF 类错误，
			// 否则交互模式会误入续行提示。
			return nil, p.syntaxErrorf("syntax error: `!' without a command")
		}
	}
	first, err := p.parseCommand()
	if err != nil {
		return nil, err
	}
	stages := []Command{first}
	for p.cur.Kind == lexer.PIPE {
		p.advance()
		p.skipNewlines()
		stage, err := p.parseCommand()
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	if len(stages) == 1 && !negate {
		return first, nil
	}
	return &Pipeline{Stages: stages, Negate: negate}, nil
}

// parseCommand 解析一条命令：复合命令、函数定义或简单命令。
// 保留字的识别先于别名替换，替换出的 token 重新参与识别。
func (p *Parser) parseCommand() (Command, error) {
	switch p.cur.Kind {
	case lexer.WORD:
		if w := p.cur.Reserved(); w != "" {
			switch w {
			case "if":
				return p.parseIf()
			case "while":
				return p.parseWhile(false)
			case "until":
				return p.parseWhile(true)
			case "for":
				return p.parseFor()
			case "case":
				return p.parseCase()
			case "{":
				return p.parseGroup()
			default:
				return nil, p.unexpected("", "")
			}
		}
		if p.maybeExpandAlias() {
			return p.parseCommand()
		}
		if p.peek.Kind == lexer.LPAREN {
			if name, ok := p.cur.LiteralText(); ok && IsName(name) {
				return p.parseFunctionDef(name)
			}
		}
		return p.parseSimple()
	case lexer.LPAREN:
		return p.parseSubshell()
	case lexer.REDIRECT:
		return p.parseSimple()
	default:
		return nil, p.unexpected("", "")
	}
}

// parseSimple 解析简单命令：赋值前缀、参数词和重定向可任意交错
func (p *Parser) parseSimple() (Command, error) {
	cmd := &SimpleCommand{}
	seenWord := false
	for {
		if p.aliasArgPos >= 0 && p.pos-2 == p.aliasArgPos {
			p.aliasArgPos = -1
			if p.maybeExpandAlias() {
				continue
			}
		}
		switch p.cur.Kind {
		case lexer.REDIRECT:
			r, err := p.takeRedirect()
			if err != nil {
				return nil, err
			}
			cmd.Redirects = append(cmd.Redirects, r)
		case lexer.WORD:
			if !seenWord {
				if name, value, ok := splitAssignment(p.cur); ok {
					cmd.Assignments = append(cmd.Assignments, &Assignment{Name: name, Value: value})
					p.advance()
					continue
				}
			}
			cmd.Args = append(cmd.Args, wordOf(p.cur))
			seenWord = true
			p.advance()
		default:
			if len(cmd.Assignments) == 0 && len(cmd.Args) == 0 && len(cmd.Redirects) == 0 {
				return nil, p.unexpected("", "")
			}
			return cmd, nil
		}
	}
}

// takeRedirect 读取一个重定向。heredoc 的正文已由词法阶段收集，
// 其余形式紧跟的词作为目标。
func (p *Parser) takeRedirect() (*Redirect, error) {
	rd := p.cur.Redir
	r := &Redirect{FD: rd.FD, Op: rd.Op}
	switch rd.Op {
	case lexer.RedirHeredoc, lexer.RedirHeredocDash:
		p.advance()
		if rd.Delim == "" {
			return nil, p.unexpected("", "")
		}
		r.Body = rd.Body
		r.Quoted = rd.Quoted
	default:
		p.advance()
		if p.cur.Kind != lexer.WORD {
			return nil, p.unexpected("", "")
		}
		r.Target = wordOf(p.cur)
		p.advance()
	}
	return r, nil
}

// collectRedirects 收集复合命令之后的重定向序列
func (p *Parser) collectRedirects() ([]*Redirect, error) {
	var rds []*Redirect
	for p.cur.Kind == lexer.REDIRECT {
		r, err := p.takeRedirect()
		if err != nil {
			return nil, err
		}
		rds = append(rds, r)
	}
	return rds, nil
}

// maybeExpandAlias 尝试把当前词按别名替换为其值的 token 序列，
// 发生替换时返回 true。替换范围内的同名别名不再展开。
func (p *Parser) maybeExpandAlias() bool {
	if p.aliases == nil {
		return false
	}
	name, ok := aliasCandidate(p.cur)
	if !ok {
		return false
	}
	cur := p.pos - 2
	live := p.aliasMarks[:0]
	for _, m := range p.aliasMarks {
		if m.end > cur {
			live = append(live, m)
		}
	}
	p.aliasMarks = live
	for _, m := range p.aliasMarks {
		if m.name == name {
			return false
		}
	}
	value, ok := p.aliases.Alias(name)
	if !ok {
		return false
	}
	vals, err := lexer.Tokenize(value)
	if err != nil {
		return false
	}
	// 去掉词法器追加的 EOF 和值末尾的换行
	for len(vals) > 0 {
		k := vals[len(vals)-1].Kind
		if k != lexer.EOF && k != lexer.NEWLINE {
			break
		}
		vals = vals[:len(vals)-1]
	}
	p.splice(vals)
	p.aliasMarks = append(p.aliasMarks, aliasMark{name: name, end: cur + len(vals)})
	if endsInBlank(value) {
		p.aliasArgPos = cur + len(vals)
	}
	return true
}

// splice 用 vals 替换当前 token 并重新定位，已有的别名范围随之平移
func (p *Parser) splice(vals []lexer.Token) {
	i := p.pos - 2
	for k := range p.aliasMarks {
		if p.aliasMarks[k].end > i {
			p.aliasMarks[k].end += len(vals) - 1
		}
	}
	rest := append([]lexer.Token{}, p.tokens[i+1:]...)
	p.tokens = append(append(p.tokens[:i:i], vals...), rest...)
	p.pos = i
	p.advance()
	p.advance()
}

// aliasCandidate 别名只匹配完全未引号的单个字面词
func aliasCandidate(t lexer.Token) (string, bool) {
	if t.Kind != lexer.WORD || len(t.Segs) != 1 {
		return "", false
	}
	seg := t.Segs[0]
	if seg.Kind != lexer.SegLiteral || seg.Quote != lexer.QuoteNone || seg.Text == "" {
		return "", false
	}
	return seg.Text, true
}

func endsInBlank(s string) bool {
	if s == "" {
		return false
	}
	c := s[len(s)-1]
	return c == ' ' || c == '\t'
}

// splitAssignment 把 NAME=value 形式的词拆成名字和值。
// 名字必须在首个未引号的字面段中完整出现。
func splitAssignment(tok lexer.Token) (string, *Word, bool) {
	if len(tok.Segs) == 0 {
		return "", nil, false
	}
	first := tok.Segs[0]
	if first.Kind != lexer.SegLiteral || first.Quote != lexer.QuoteNone {
		return "", nil, false
	}
	eq := strings.IndexByte(first.Text, '=')
	if eq < 1 {
		return "", nil, false
	}
	name := first.Text[:eq]
	if !IsName(name) {
		return "", nil, false
	}
	var parts []lexer.Segment
	if rest := first.Text[eq+1:]; rest != "" {
		parts = append(parts, lexer.Segment{Kind: lexer.SegLiteral, Text: rest, Quote: lexer.QuoteNone})
	}
	parts = append(parts, tok.Segs[1:]...)
	text := ""
	if eq+1 < len(tok.Text) {
		text = tok.Text[eq+1:]
	}
	return name, &Word{Parts: parts, Text: text}, true
}

func wordOf(tok lexer.Token) *Word {
	return &Word{Parts: tok.Segs, Text: tok.Text}
}

// seq 把两段命令折叠成顺序列表
func seq(left, right Command) Command {
	if left == nil {
		return right
	}
	return &List{Left: left, Op: ListSeq, Right: right}
}

// IsName 判断 s 是否为合法的变量或函数名
func IsName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
