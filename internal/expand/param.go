package expand

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"posish/internal/lexer"
)

// paramPieces 展开一个参数引用。text 是 $ 或 ${ } 内的原始内容，
// dq 表示该引用处于双引号内。
func (e *Expander) paramPieces(text string, dq bool) ([]piece, error) {
	name, op, word, err := splitParamExpr(text)
	if err != nil {
		return nil, err
	}

	if op == opLength {
		return []piece{{text: strconv.Itoa(e.paramLength(name)), quoted: dq, split: !dq}}, nil
	}
	if name == "@" || name == "*" {
		return e.listPieces(name, op, word, dq)
	}

	val, set := e.paramValue(name)
	switch op {
	case "":
		// ${VAR} 直接取值
		if !set && e.st.Options().NoUnset {
			return nil, &ExpandError{Kind: ErrUnboundParam, Name: name, Message: "parameter not set"}
		}
		return []piece{{text: val, quoted: dq, split: !dq}}, nil

	case "-", ":-":
		// ${VAR:-word} 未设置（带冒号时含空值）用 word 顶替
		if set && (op == "-" || val != "") {
			return []piece{{text: val, quoted: dq, split: !dq}}, nil
		}
		return e.wordPieces(word, dq)

	case "=", ":=":
		// ${VAR:=word} 未设置时把 word 赋给 VAR 再取值
		if set && (op == "=" || val != "") {
			return []piece{{text: val, quoted: dq, split: !dq}}, nil
		}
		if !isName(name) {
			return nil, badSubst(text)
		}
		assigned, err := e.wordString(word, dq)
		if err != nil {
			return nil, err
		}
		if err := e.st.Set(name, assigned); err != nil {
			return nil, &ExpandError{Kind: ErrBadSubstitution, Name: name, Message: err.Error()}
		}
		return []piece{{text: assigned, quoted: dq, split: !dq}}, nil

	case "?", ":?":
		// ${VAR:?word} 未设置时报错，word 作为错误消息
		if set && (op == "?" || val != "") {
			return []piece{{text: val, quoted: dq, split: !dq}}, nil
		}
		msg := "parameter null or not set"
		if word != "" {
			m, err := e.wordString(word, dq)
			if err != nil {
				return nil, err
			}
			msg = m
		}
		return nil, &ExpandError{Kind: ErrUnboundParam, Name: name, Message: msg}

	case "+", ":+":
		// ${VAR:+word} 已设置（带冒号时还要非空）才用 word
		if !set || (op == ":+" && val == "") {
			return []piece{{text: "", quoted: dq, split: !dq}}, nil
		}
		return e.wordPieces(word, dq)

	case "#", "##", "%", "%%":
		// ${VAR%pattern} 删除匹配的前缀或后缀
		if !set && e.st.Options().NoUnset {
			return nil, &ExpandError{Kind: ErrUnboundParam, Name: name, Message: "parameter not set"}
		}
		pat, err := e.wordPattern(word)
		if err != nil {
			return nil, err
		}
		return []piece{{text: stripPattern(val, pat, op), quoted: dq, split: !dq}}, nil
	}
	return nil, badSubst(text)
}

// opLength 标记 ${#VAR} 长度形式
const opLength = "#len"

// splitParamExpr 把 ${ } 的原始内容拆成名字、操作符与词
func splitParamExpr(text string) (name, op, word string, err error) {
	if text == "" {
		return "", "", "", badSubst(text)
	}
	// # 后还有内容时是长度形式，单独的 # 是参数个数
	if text[0] == '#' && len(text) > 1 {
		if rest := text[1:]; validParamName(rest) {
			return rest, opLength, "", nil
		}
	}
	n := nameSpan(text)
	if n == 0 {
		return "", "", "", badSubst(text)
	}
	name, rest := text[:n], text[n:]
	if rest == "" {
		return name, "", "", nil
	}
	switch {
	case rest[0] == ':' && len(rest) > 1 && strings.IndexByte("-=?+", rest[1]) >= 0:
		return name, rest[:2], rest[2:], nil
	case rest[0] == '-' || rest[0] == '=' || rest[0] == '?' || rest[0] == '+':
		return name, rest[:1], rest[1:], nil
	case strings.HasPrefix(rest, "##") || strings.HasPrefix(rest, "%%"):
		return name, rest[:2], rest[2:], nil
	case rest[0] == '#' || rest[0] == '%':
		return name, rest[:1], rest[1:], nil
	}
	return "", "", "", badSubst(text)
}

// nameSpan 名字部分的长度：变量名、数字串或单个特殊字符
func nameSpan(text string) int {
	c := text[0]
	switch c {
	case '@', '*', '#', '?', '-', '$', '!':
		return 1
	}
	if c >= '0' && c <= '9' {
		i := 1
		for i < len(text) && text[i] >= '0' && text[i] <= '9' {
			i++
		}
		return i
	}
	if !isNameStart(c) {
		return 0
	}
	i := 1
	for i < len(text) && isNameChar(text[i]) {
		i++
	}
	return i
}

func validParamName(s string) bool {
	return nameSpan(s) == len(s)
}

// paramValue 取参数值。名字可以是变量名、位置参数或特殊参数。
func (e *Expander) paramValue(name string) (string, bool) {
	switch name {
	case "?":
		return strconv.Itoa(e.st.Status()), true
	case "#":
		return strconv.Itoa(len(e.st.Positional())), true
	case "$":
		return strconv.Itoa(e.st.Pid()), true
	case "!":
		if pid := e.st.LastBgPid(); pid > 0 {
			return strconv.Itoa(pid), true
		}
		return "", false
	case "-":
		return e.st.Options().Flags(), true
	case "0":
		return e.st.Name(), true
	}
	if isDigits(name) {
		n, err := strconv.Atoi(name)
		if err != nil {
			return "", false
		}
		pos := e.st.Positional()
		if n >= 1 && n <= len(pos) {
			return pos[n-1], true
		}
		return "", false
	}
	return e.st.Get(name)
}

// paramLength ${#VAR} 的值：@ 与 * 是参数个数，其余按字符数
func (e *Expander) paramLength(name string) int {
	if name == "@" || name == "*" {
		return len(e.st.Positional())
	}
	val, _ := e.paramValue(name)
	return utf8.RuneCountInString(val)
}

// listPieces 展开 $@ 与 $*。双引号内 "$@" 每个参数独立成字段，
// "$*" 以 IFS 首字符连接成一个字段；未引号时两者都参与切分。
func (e *Expander) listPieces(name, op, word string, dq bool) ([]piece, error) {
	params := e.st.Positional()
	switch op {
	case "":
	case "-", ":-":
		if len(params) == 0 {
			return e.wordPieces(word, dq)
		}
	case "+", ":+":
		if len(params) == 0 {
			return nil, nil
		}
		return e.wordPieces(word, dq)
	default:
		return nil, badSubst(name + op + word)
	}
	if name == "*" {
		joined := strings.Join(params, e.listSep())
		if dq {
			return []piece{{text: joined, quoted: true}}, nil
		}
		return []piece{{text: joined, split: true}}, nil
	}
	if len(params) == 0 {
		return nil, nil
	}
	ps := make([]piece, 0, len(params)*2-1)
	for i, p := range params {
		if i > 0 {
			ps = append(ps, piece{brk: true})
		}
		ps = append(ps, piece{text: p, quoted: dq, split: !dq})
	}
	return ps, nil
}

// listSep $* 的连接符：IFS 的第一个字符，未设置时为空格
func (e *Expander) listSep() string {
	ifs, set := e.st.Get("IFS")
	if !set {
		return " "
	}
	if ifs == "" {
		return ""
	}
	r, _ := utf8.DecodeRuneInString(ifs)
	return string(r)
}

// wordPieces 展开操作符右侧的词。双引号里的 ${ } 其词按 heredoc
// 规则扫描，内部引号保持字面含义。
func (e *Expander) wordPieces(word string, dq bool) ([]piece, error) {
	if word == "" {
		return nil, nil
	}
	var segs []lexer.Segment
	var err error
	if dq {
		segs, err = lexer.SegmentHeredoc(word)
	} else {
		segs, err = lexer.SegmentWord(word)
	}
	if err != nil {
		return nil, &ExpandError{Kind: ErrBadSubstitution, Message: err.Error()}
	}
	return e.pieces(segs, !dq)
}

// wordString 展开操作符右侧的词并拼成单个字符串
func (e *Expander) wordString(word string, dq bool) (string, error) {
	ps, err := e.wordPieces(word, dq)
	if err != nil {
		return "", err
	}
	return joinPieces(ps), nil
}

// wordPattern 把操作符右侧的词展开成匹配模式。模式位置的词
// 无论外层是否有双引号都按词规则扫描，引号内的模式字符转义。
func (e *Expander) wordPattern(word string) (string, error) {
	segs, err := lexer.SegmentWord(word)
	if err != nil {
		return "", &ExpandError{Kind: ErrBadSubstitution, Message: err.Error()}
	}
	ps, err := e.pieces(segs, false)
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

// stripPattern 按 # ## % %% 规则删除 val 中匹配 pat 的前缀或后缀
func stripPattern(val, pat, op string) string {
	cuts := make([]int, 0, len(val)+1)
	for i := range val {
		cuts = append(cuts, i)
	}
	cuts = append(cuts, len(val))
	switch op {
	case "#": // 最短前缀
		for _, i := range cuts {
			if Match(pat, val[:i]) {
				return val[i:]
			}
		}
	case "##": // 最长前缀
		for k := len(cuts) - 1; k >= 0; k-- {
			if i := cuts[k]; Match(pat, val[:i]) {
				return val[i:]
			}
		}
	case "%": // 最短后缀
		for k := len(cuts) - 1; k >= 0; k-- {
			if i := cuts[k]; Match(pat, val[i:]) {
				return val[:i]
			}
		}
	case "%%": // 最长后缀
		for _, i := range cuts {
			if Match(pat, val[i:]) {
				return val[:i]
			}
		}
	}
	return val
}

func isName(s string) bool {
	if s == "" || !isNameStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isNameChar(s[i]) {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isNameStart(c byte) bool {
	return c == '_' || 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z'
}

func isNameChar(c byte) bool {
	return isNameStart(c) || '0' <= c && c <= '9'
}
