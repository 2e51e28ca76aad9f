package parser

import (
	"posish/internal/lexer"
)

// parseBody 解析复合结构内部的命令序列，在 terms 中的保留字处停下
// （不消费终结词）。输入提前结束时报告还在等待 closer。
func (p *Parser) parseBody(construct, closer string, terms ...string) (Command, error) {
	var body Command
	for {
		p.skipNewlines()
		if p.atEOF() {
			return nil, p.unexpected(construct, closer)
		}
		if w := p.cur.Reserved(); w != "" {
			for _, t := range terms {
				if w == t {
					if body == nil {
						return nil, p.unexpected(construct, closer)
					}
					return body, nil
				}
			}
		}
		cmd, err := p.parseList()
		if err != nil {
			return nil, err
		}
		body = seq(body, cmd)
		if p.cur.Kind != lexer.NEWLINE && !p.atEOF() && p.cur.Reserved() == "" {
			return nil, p.unexpected(construct, closer)
		}
	}
}

// parseIf 解析 if/elif/else 条件结构
func (p *Parser) parseIf() (Command, error) {
	clause, err := p.parseIfClause()
	if err != nil {
		return nil, err
	}
	rds, err := p.collectRedirects()
	if err != nil {
		return nil, err
	}
	clause.Redirects = rds
	return clause, nil
}

// parseIfClause 在 if 或 elif 处进入，elif 链解析为嵌套的 IfClause，
// 整条链共用最内层消费的 fi。
func (p *Parser) parseIfClause() (*IfClause, error) {
	p.advance()
	cond, err := p.parseBody("if", "`then'", "then")
	if err != nil {
		return nil, err
	}
	p.advance() // then
	thenBody, err := p.parseBody("if", "`fi'", "elif", "else", "fi")
	if err != nil {
		return nil, err
	}
	clause := &IfClause{Cond: cond, Then: thenBody}
	switch p.cur.Reserved() {
	case "elif":
		sub, err := p.parseIfClause()
		if err != nil {
			return nil, err
		}
		clause.Else = sub
	case "else":
		p.advance()
		elseBody, err := p.parseBody("if", "`fi'", "fi")
		if err != nil {
			return nil, err
		}
		clause.Else = elseBody
		p.advance() // fi
	default:
		p.advance() // fi
	}
	return clause, nil
}

// parseWhile 解析 while/until 循环
func (p *Parser) parseWhile(until bool) (Command, error) {
	kw := "while"
	if until {
		kw = "until"
	}
	p.advance()
	cond, err := p.parseBody(kw, "`do'", "do")
	if err != nil {
		return nil, err
	}
	p.advance() // do
	body, err := p.parseBody(kw, "`done'", "done")
	if err != nil {
		return nil, err
	}
	p.advance() // done
	rds, err := p.collectRedirects()
	if err != nil {
		return nil, err
	}
	return &WhileClause{Cond: cond, Body: body, Until: until, Redirects: rds}, nil
}

// parseFor 解析 for 循环，省略 in 子句时遍历位置参数
func (p *Parser) parseFor() (Command, error) {
	p.advance()
	if p.cur.Kind != lexer.WORD {
		return nil, p.unexpected("for", "")
	}
	name, ok := p.cur.LiteralText()
	if !ok || !IsName(name) {
		return nil, p.syntaxErrorf("`%s' is not a valid identifier", p.cur.Text)
	}
	clause := &ForClause{Name: name}
	p.advance()
	p.skipNewlines()
	if p.cur.Reserved() == "in" {
		clause.InGiven = true
		p.advance()
		for p.cur.Kind == lexer.WORD {
			clause.Words = append(clause.Words, wordOf(p.cur))
			p.advance()
		}
		if p.cur.Kind == lexer.SEMICOLON {
			p.advance()
		}
		p.skipNewlines()
	} else if p.cur.Kind == lexer.SEMICOLON {
		p.advance()
		p.skipNewlines()
	}
	if p.cur.Reserved() != "do" {
		return nil, p.unexpected("for", "`do'")
	}
	p.advance()
	body, err := p.parseBody("for", "`done'", "done")
	if err != nil {
		return nil, err
	}
	p.advance() // done
	rds, err := p.collectRedirects()
	if err != nil {
		return nil, err
	}
	clause.Body = body
	clause.Redirects = rds
	return clause, nil
}

// parseCase 解析 case 多路分支
func (p *Parser) parseCase() (Command, error) {
	p.advance()
	if p.cur.Kind != lexer.WORD {
		return nil, p.unexpected("case", "")
	}
	clause := &CaseClause{Word: wordOf(p.cur)}
	p.advance()
	p.skipNewlines()
	if p.cur.Reserved() != "in" {
		return nil, p.unexpected("case", "`in'")
	}
	p.advance()
	p.skipNewlines()
	for {
		if p.atEOF() {
			return nil, p.unexpected("case", "`esac'")
		}
		if p.cur.Reserved() == "esac" {
			p.advance()
			break
		}
		item, err := p.parseCaseItem()
		if err != nil {
			return nil, err
		}
		clause.Items = append(clause.Items, item)
	}
	rds, err := p.collectRedirects()
	if err != nil {
		return nil, err
	}
	clause.Redirects = rds
	return clause, nil
}

// parseCaseItem 解析一个分支：模式表、命令序列和 ;; 终结符。
// 最后一个分支允许省略 ;; 直接以 esac 收尾。
func (p *Parser) parseCaseItem() (*CaseItem, error) {
	if p.cur.Kind == lexer.LPAREN {
		p.advance()
	}
	item := &CaseItem{}
	for {
		if p.cur.Kind != lexer.WORD {
			return nil, p.unexpected("case", "`)'")
		}
		item.Patterns = append(item.Patterns, wordOf(p.cur))
		p.advance()
		if p.cur.Kind != lexer.PIPE {
			break
		}
		p.advance()
	}
	if p.cur.Kind != lexer.RPAREN {
		return nil, p.unexpected("case", "`)'")
	}
	p.advance()
	for {
		p.skipNewlines()
		if p.atEOF() {
			return nil, p.unexpected("case", "`;;'")
		}
		if p.cur.Kind == lexer.DSEMI {
			p.advance()
			p.skipNewlines()
			return item, nil
		}
		if p.cur.Reserved() == "esac" {
			return item, nil
		}
		cmd, err := p.parseList()
		if err != nil {
			return nil, err
		}
		item.Body = seq(item.Body, cmd)
		if p.cur.Kind != lexer.NEWLINE && p.cur.Kind != lexer.DSEMI &&
			!p.atEOF() && p.cur.Reserved() != "esac" {
			return nil, p.unexpected("case", "`;;'")
		}
	}
}

// parseSubshell 解析 ( list ) 子 shell
func (p *Parser) parseSubshell() (Command, error) {
	p.advance()
	var body Command
	for {
		p.skipNewlines()
		if p.atEOF() {
			return nil, p.unexpected("subshell", "`)'")
		}
		if p.cur.Kind == lexer.RPAREN {
			if body == nil {
				return nil, p.unexpected("subshell", "`)'")
			}
			break
		}
		cmd, err := p.parseList()
		if err != nil {
			return nil, err
		}
		body = seq(body, cmd)
		if p.cur.Kind != lexer.NEWLINE && p.cur.Kind != lexer.RPAREN && !p.atEOF() {
			return nil, p.unexpected("subshell", "`)'")
		}
	}
	p.advance() // )
	rds, err := p.collectRedirects()
	if err != nil {
		return nil, err
	}
	return &Subshell{Body: body, Redirects: rds}, nil
}

// parseGroup 解析 { list; } 命令组
func (p *Parser) parseGroup() (Command, error) {
	p.advance()
	body, err := p.parseBody("group", "`}'", "}")
	if err != nil {
		return nil, err
	}
	p.advance() // }
	rds, err := p.collectRedirects()
	if err != nil {
		return nil, err
	}
	return &Group{Body: body, Redirects: rds}, nil
}

// parseFunctionDef 解析 name() 形式的函数定义，函数体为单个命令
func (p *Parser) parseFunctionDef(name string) (Command, error) {
	p.advance() // name
	p.advance() // (
	if p.cur.Kind != lexer.RPAREN {
		return nil, p.unexpected("function", "`)'")
	}
	p.advance()
	p.skipNewlines()
	if p.atEOF() {
		return nil, p.unexpected("function", "")
	}
	body, err := p.parseCommand()
	if err != nil {
		return nil, err
	}
	return &FunctionDef{Name: name, Body: body}, nil
}
