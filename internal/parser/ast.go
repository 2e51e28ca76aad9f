package parser

import (
	"strconv"
	"strings"

	"posish/internal/lexer"
)

// Node AST节点接口
type Node interface {
	String() string
}

// Command 可执行的命令节点
type Command interface {
	Node
	commandNode()
}

// Program 程序根节点，按出现顺序保存各条完整命令
type Program struct {
	Commands []Command
}

func (p *Program) String() string {
	var parts []string
	for _, c := range p.Commands {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, "\n")
}

// Word 一个待展开的词，分段携带各自的引号状态
type Word struct {
	Parts []lexer.Segment
	Text  string // 原始文本，用于回显与错误信息
}

func (w *Word) String() string { return w.Text }

// Lit 当词完全由字面段构成时返回拼接结果
func (w *Word) Lit() (string, bool) {
	text := ""
	for _, seg := range w.Parts {
		if seg.Kind != lexer.SegLiteral {
			return "", false
		}
		text += seg.Text
	}
	return text, true
}

// Assignment NAME=value 形式的赋值
type Assignment struct {
	Name  string
	Value *Word
}

func (a *Assignment) String() string {
	if a.Value == nil {
		return a.Name + "="
	}
	return a.Name + "=" + a.Value.String()
}

// Redirect 重定向。heredoc 形式 Target 为空，正文在 Body 中。
type Redirect struct {
	FD     int
	Op     lexer.RedirOp
	Target *Word
	Body   string // heredoc 正文
	Quoted bool   // heredoc 分隔符被引号包围时正文不做展开
}

func (r *Redirect) String() string {
	out := ""
	if r.FD != r.Op.DefaultFD() {
		out = strconv.Itoa(r.FD)
	}
	out += r.Op.String()
	if r.Target != nil {
		out += r.Target.String()
	}
	return out
}

// SimpleCommand 简单命令：赋值前缀、参数词与重定向
type SimpleCommand struct {
	Assignments []*Assignment
	Args        []*Word
	Redirects   []*Redirect
}

func (c *SimpleCommand) commandNode() {}
func (c *SimpleCommand) String() string {
	var parts []string
	for _, a := range c.Assignments {
		parts = append(parts, a.String())
	}
	for _, w := range c.Args {
		parts = append(parts, w.String())
	}
	for _, r := range c.Redirects {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, " ")
}

// Pipeline 管道。Negate 为 ! 前缀，对整体退出状态取反。
type Pipeline struct {
	Stages []Command
	Negate bool
}

func (c *Pipeline) commandNode() {}
func (c *Pipeline) String() string {
	var parts []string
	for _, s := range c.Stages {
		parts = append(parts, s.String())
	}
	out := strings.Join(parts, " | ")
	if c.Negate {
		return "! " + out
	}
	return out
}

// ListOp 列表连接方式
type ListOp int

const (
	ListSeq        ListOp = iota // ;
	ListAnd                      // &&
	ListOr                       // ||
	ListBackground               // &
)

func (op ListOp) String() string {
	switch op {
	case ListAnd:
		return "&&"
	case ListOr:
		return "||"
	case ListBackground:
		return "&"
	default:
		return ";"
	}
}

// List 命令列表。Right 可为 nil（如尾随 & 或 ;）。
type List struct {
	Left  Command
	Op    ListOp
	Right Command
}

func (c *List) commandNode() {}
func (c *List) String() string {
	out := c.Left.String()
	switch c.Op {
	case ListBackground:
		out += " &"
		if c.Right != nil {
			out += " " + c.Right.String()
		}
	case ListAnd, ListOr:
		out += " " + c.Op.String() + " " + c.Right.String()
	default:
		out += ";"
		if c.Right != nil {
			out += " " + c.Right.String()
		}
	}
	return out
}

// IfClause if/then 分支。Else 可为 nil、另一个 *IfClause（elif 链）
// 或普通语句序列。
type IfClause struct {
	Cond      Command
	Then      Command
	Else      Command
	Redirects []*Redirect
}

func (c *IfClause) commandNode() {}
func (c *IfClause) String() string {
	out := "if " + c.Cond.String() + "; then " + c.Then.String()
	if elif, ok := c.Else.(*IfClause); ok {
		return out + "; el" + elif.String()
	}
	if c.Else != nil {
		out += "; else " + c.Else.String()
	}
	return out + "; fi"
}

// WhileClause while/until 循环，Until 翻转条件判断
type WhileClause struct {
	Cond      Command
	Body      Command
	Until     bool
	Redirects []*Redirect
}

func (c *WhileClause) commandNode() {}
func (c *WhileClause) String() string {
	kw := "while"
	if c.Until {
		kw = "until"
	}
	return kw + " " + c.Cond.String() + "; do " + c.Body.String() + "; done"
}

// ForClause for 循环。InGiven 为假表示省略 in 子句，遍历位置参数。
type ForClause struct {
	Name      string
	Words     []*Word
	InGiven   bool
	Body      Command
	Redirects []*Redirect
}

func (c *ForClause) commandNode() {}
func (c *ForClause) String() string {
	out := "for " + c.Name
	if c.InGiven {
		out += " in"
		for _, w := range c.Words {
			out += " " + w.String()
		}
	}
	return out + "; do " + c.Body.String() + "; done"
}

// CaseItem case 的一个分支，Body 可为 nil
type CaseItem struct {
	Patterns []*Word
	Body     Command
}

// CaseClause case 多路分支
type CaseClause struct {
	Word      *Word
	Items     []*CaseItem
	Redirects []*Redirect
}

func (c *CaseClause) commandNode() {}
func (c *CaseClause) String() string {
	out := "case " + c.Word.String() + " in"
	for _, item := range c.Items {
		var pats []string
		for _, p := range item.Patterns {
			pats = append(pats, p.String())
		}
		out += " " + strings.Join(pats, "|") + ")"
		if item.Body != nil {
			out += " " + item.Body.String()
		}
		out += ";;"
	}
	return out + " esac"
}

// FunctionDef 函数定义。函数体上的重定向在每次调用时生效，
// 记录在体节点自身上。
type FunctionDef struct {
	Name string
	Body Command
}

func (c *FunctionDef) commandNode() {}
func (c *FunctionDef) String() string {
	return c.Name + "() " + c.Body.String()
}

// Subshell ( list ) 子 shell
type Subshell struct {
	Body      Command
	Redirects []*Redirect
}

func (c *Subshell) commandNode() {}
func (c *Subshell) String() string {
	return "(" + c.Body.String() + ")"
}

// Group { list; } 当前环境中的分组
type Group struct {
	Body      Command
	Redirects []*Redirect
}

func (c *Group) commandNode() {}
func (c *Group) String() string {
	return "{ " + c.Body.String() + "; }"
}
