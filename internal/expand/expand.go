// Package expand 实现 POSIX 词展开：波浪号、参数、命令替换、算术、
// 字段切分、路径名展开与引号移除。输入是词法阶段产出的分段序列，
// 输出是传给命令的最终字段。
package expand

import (
	"os/user"
	"strings"

	"github.com/spf13/afero"

	"posish/internal/lexer"
	"posish/internal/state"
)

// Runner 执行命令替换，由执行器实现。返回命令的标准输出与退出状态。
type Runner interface {
	CommandOutput(src string) (string, int, error)
}

// Expander 词展开器。不做内部加锁，每条执行流使用自己的实例。
type Expander struct {
	st  *state.State
	run Runner
	fs  afero.Fs

	substStatus int // 最近一次命令替换的退出状态
	substRan    bool
	arithDepth  int
}

// New 创建展开器。run 为 nil 时命令替换会报错，
// fs 为 nil 时不做路径名展开。
func New(st *state.State, run Runner, fs afero.Fs) *Expander {
	return &Expander{st: st, run: run, fs: fs}
}

// piece 展开的中间产物。quoted 的文本不参与字段切分，其中的模式
// 字符在路径名展开时按字面处理；split 标记来自展开结果的文本，
// 未被引号保护时按 IFS 切分。
type piece struct {
	text   string
	quoted bool
	split  bool
	brk    bool // "$@" 相邻参数之间的强制字段边界
}

// field 组装完成的字段。pat 是引号保护字符经反斜杠转义后的形态，
// 供路径名展开使用。
type field struct {
	text string
	pat  string
}

// Fields 对一个词做全套展开，产出零或多个字段。
// 只含未引号空展开的词会整个消失。
func (e *Expander) Fields(segs []lexer.Segment) ([]string, error) {
	ps, err := e.pieces(segs, true)
	if err != nil {
		return nil, err
	}
	return e.globFields(e.assemble(ps)), nil
}

// One 单字段展开：重定向目标、case 主词这类场合，
// 不做字段切分与路径名展开。
func (e *Expander) One(segs []lexer.Segment) (string, error) {
	ps, err := e.pieces(segs, true)
	if err != nil {
		return "", err
	}
	return joinPieces(ps), nil
}

// Assign 展开赋值右侧的词。波浪号在词首与未引号冒号之后生效，
// 不做字段切分与路径名展开。
func (e *Expander) Assign(segs []lexer.Segment) (string, error) {
	var out []piece
	atColon := true // 词首等同于冒号之后
	for _, seg := range segs {
		if seg.Kind != lexer.SegLiteral || seg.Quote != lexer.QuoteNone {
			ps, err := e.pieces([]lexer.Segment{seg}, false)
			if err != nil {
				return "", err
			}
			out = append(out, ps...)
			atColon = false
			continue
		}
		text := seg.Text
		for len(text) > 0 {
			if atColon && text[0] == '~' {
				stop := strings.IndexAny(text, "/:")
				if stop < 0 {
					stop = len(text)
				}
				if dir, ok := e.homeDir(text[1:stop]); ok {
					out = append(out, piece{text: dir, quoted: true})
					text = text[stop:]
					atColon = false
					continue
				}
			}
			idx := strings.IndexByte(text, ':')
			if idx < 0 {
				out = append(out, piece{text: text})
				atColon = false
				break
			}
			out = append(out, piece{text: text[:idx+1]})
			text = text[idx+1:]
			atColon = true
		}
	}
	return joinPieces(out), nil
}

// Pattern 展开 case 模式。引号保护的字符转义后交给 Match，
// 展开结果里的模式字符保持生效。
func (e *Expander) Pattern(segs []lexer.Segment) (string, error) {
	ps, err := e.pieces(segs, true)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, p := range ps {
		if p.brk {
			sb.WriteByte(' ')
			continue
		}
		if p.quoted {
			sb.WriteString(escapePattern(p.text))
		} else {
			sb.WriteString(p.text)
		}
	}
	return sb.String(), nil
}

// Heredoc 展开 heredoc 正文。分隔符带引号时正文按字面返回。
func (e *Expander) Heredoc(body string, quoted bool) (string, error) {
	if quoted {
		return body, nil
	}
	segs, err := lexer.SegmentHeredoc(body)
	if err != nil {
		return "", &ExpandError{Kind: ErrBadSubstitution, Message: err.Error()}
	}
	ps, err := e.pieces(segs, false)
	if err != nil {
		return "", err
	}
	return joinPieces(ps), nil
}

// TakeSubstStatus 取走最近一次命令替换的退出状态。
// 纯赋值命令以它作为整条命令的状态。
func (e *Expander) TakeSubstStatus() (int, bool) {
	status, ran := e.substStatus, e.substRan
	e.substStatus, e.substRan = 0, false
	return status, ran
}

// pieces 把分段序列展开为中间产物序列。tilde 控制词首波浪号。
func (e *Expander) pieces(segs []lexer.Segment, tilde bool) ([]piece, error) {
	var out []piece
	for i, seg := range segs {
		switch seg.Kind {
		case lexer.SegLiteral:
			text := seg.Text
			if tilde && i == 0 && seg.Quote == lexer.QuoteNone {
				if dir, rest, ok := e.tildeSplit(text); ok {
					out = append(out, piece{text: dir, quoted: true})
					text = rest
				}
			}
			out = append(out, piece{text: text, quoted: seg.Quote != lexer.QuoteNone})
		case lexer.SegParam:
			ps, err := e.paramPieces(seg.Text, seg.Quote == lexer.QuoteDouble)
			if err != nil {
				return nil, err
			}
			out = append(out, ps...)
		case lexer.SegCommand:
			text, err := e.commandOutput(seg.Text)
			if err != nil {
				return nil, err
			}
			dq := seg.Quote == lexer.QuoteDouble
			out = append(out, piece{text: text, quoted: dq, split: !dq})
		case lexer.SegArith:
			text, err := e.arith(seg.Text)
			if err != nil {
				return nil, err
			}
			dq := seg.Quote == lexer.QuoteDouble
			out = append(out, piece{text: text, quoted: dq, split: !dq})
		}
	}
	return out, nil
}

// commandOutput 运行命令替换并去掉结尾的换行
func (e *Expander) commandOutput(src string) (string, error) {
	if e.run == nil {
		return "", &ExpandError{Kind: ErrSubstFailed, Message: "command substitution is not available here"}
	}
	out, status, err := e.run.CommandOutput(src)
	if err != nil {
		return "", err
	}
	e.substStatus, e.substRan = status, true
	return strings.TrimRight(out, "\n"), nil
}

// tildeSplit 切出词首的波浪号前缀，返回替换文本与剩余部分。
// 用户不存在时波浪号保持字面含义。
func (e *Expander) tildeSplit(text string) (string, string, bool) {
	if !strings.HasPrefix(text, "~") {
		return "", "", false
	}
	end := strings.IndexByte(text, '/')
	if end < 0 {
		end = len(text)
	}
	dir, ok := e.homeDir(text[1:end])
	if !ok {
		return "", "", false
	}
	return dir, text[end:], true
}

// homeDir 解析波浪号的用户主目录。空名优先取 HOME 变量。
func (e *Expander) homeDir(name string) (string, bool) {
	if name == "" {
		if home, ok := e.st.Get("HOME"); ok && home != "" {
			return home, true
		}
		u, err := user.Current()
		if err != nil {
			return "", false
		}
		return u.HomeDir, true
	}
	u, err := user.Lookup(name)
	if err != nil {
		return "", false
	}
	return u.HomeDir, true
}

// assemble 把中间产物组装成字段：引号保护的文本原样并入当前字段，
// 展开结果按 IFS 切分。空白分隔符成串合并，非空白分隔符每次出现
// 都结束一个字段。
func (e *Expander) assemble(ps []piece) []field {
	ifs := e.ifs()
	var fields []field
	var cur, pat strings.Builder
	started := false
	flush := func() {
		fields = append(fields, field{text: cur.String(), pat: pat.String()})
		cur.Reset()
		pat.Reset()
		started = false
	}
	finish := func() {
		if started {
			flush()
		}
	}
	for _, p := range ps {
		if p.brk {
			finish()
			continue
		}
		if !p.split || p.quoted || ifs == "" {
			if p.text == "" && !p.quoted {
				continue
			}
			started = true
			cur.WriteString(p.text)
			if p.quoted {
				pat.WriteString(escapePattern(p.text))
			} else {
				pat.WriteString(p.text)
			}
			continue
		}
		text := p.text
		i := 0
		for i < len(text) {
			c := text[i]
			switch {
			case isIFSSpace(ifs, c):
				j := i
				for j < len(text) && isIFSSpace(ifs, text[j]) {
					j++
				}
				if j < len(text) && isIFSBreak(ifs, text[j]) {
					// 空白包裹的非空白分隔符整体算一次分隔
					j++
					for j < len(text) && isIFSSpace(ifs, text[j]) {
						j++
					}
					i = j
					flush()
					continue
				}
				i = j
				finish()
			case isIFSBreak(ifs, c):
				i++
				for i < len(text) && isIFSSpace(ifs, text[i]) {
					i++
				}
				flush()
			default:
				started = true
				cur.WriteByte(c)
				pat.WriteByte(c)
				i++
			}
		}
	}
	finish()
	return fields
}

// globFields 对每个字段做路径名展开。没有匹配时保留原字段。
func (e *Expander) globFields(fs []field) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		if e.fs == nil || e.st.Options().NoGlob || !hasGlobChar(f.pat) {
			out = append(out, f.text)
			continue
		}
		matches := globPattern(e.fs, f.pat)
		if len(matches) == 0 {
			out = append(out, f.text)
			continue
		}
		out = append(out, matches...)
	}
	return out
}

// ifs 当前的字段分隔符集合，未设置时取默认值
func (e *Expander) ifs() string {
	ifs, set := e.st.Get("IFS")
	if !set {
		return " \t\n"
	}
	return ifs
}

// isIFSSpace IFS 中的空白分隔符
func isIFSSpace(ifs string, c byte) bool {
	return (c == ' ' || c == '\t' || c == '\n') && strings.IndexByte(ifs, c) >= 0
}

// isIFSBreak IFS 中的非空白分隔符
func isIFSBreak(ifs string, c byte) bool {
	if c == ' ' || c == '\t' || c == '\n' {
		return false
	}
	return strings.IndexByte(ifs, c) >= 0
}

// joinPieces 在不切分的场合把产物拼成单个字符串，
// "$@" 的参数之间用空格连接。
func joinPieces(ps []piece) string {
	var sb strings.Builder
	for _, p := range ps {
		if p.brk {
			sb.WriteByte(' ')
			continue
		}
		sb.WriteString(p.text)
	}
	return sb.String()
}
