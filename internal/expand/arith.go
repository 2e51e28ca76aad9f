package expand

import (
	"strconv"
	"strings"

	"posish/internal/lexer"
)

// arith 展开 $(( )) 算术。内容先按双引号规则做参数与命令替换
// 展开，再对拼接结果求值。
func (e *Expander) arith(text string) (string, error) {
	segs, err := lexer.SegmentHeredoc(text)
	if err != nil {
		return "", arithErr("%s", err.Error())
	}
	ps, err := e.pieces(segs, false)
	if err != nil {
		return "", err
	}
	n, err := e.evalArith(joinPieces(ps))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n, 10), nil
}

// 变量值递归求值的深度上限
const maxArithDepth = 64

// evalArith 求值一个算术表达式。空表达式的值是零。
// 变量的值本身还可以是表达式，递归求值受深度上限保护。
func (e *Expander) evalArith(expr string) (int64, error) {
	if e.arithDepth >= maxArithDepth {
		return 0, arithErr("%s: expression recursion level exceeded", expr)
	}
	e.arithDepth++
	defer func() { e.arithDepth-- }()

	p := &arithParser{e: e, src: expr}
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0, nil
	}
	n, err := p.comma()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return 0, arithErr("%s: arithmetic syntax error", expr)
	}
	return n, nil
}

// arithParser 递归下降求值器，按 C 的优先级逐层解析。
// noeval 大于零时只解析不求值，供 ?: 与 && || 的短路分支使用。
type arithParser struct {
	e      *Expander
	src    string
	pos    int
	noeval int
}

func (p *arithParser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *arithParser) peekOp(op string) bool {
	return strings.HasPrefix(p.src[p.pos:], op)
}

func (p *arithParser) take(op string) bool {
	p.skipSpace()
	if p.peekOp(op) {
		p.pos += len(op)
		return true
	}
	return false
}

// comma 逗号表达式，值取最后一项
func (p *arithParser) comma() (int64, error) {
	n, err := p.assign()
	if err != nil {
		return 0, err
	}
	for p.take(",") {
		n, err = p.assign()
		if err != nil {
			return 0, err
		}
	}
	return n, nil
}

// assign 赋值表达式，右结合。当前位置不构成赋值时回退为条件表达式。
func (p *arithParser) assign() (int64, error) {
	save := p.pos
	p.skipSpace()
	if name := p.scanName(); name != "" {
		p.skipSpace()
		if op, width, ok := p.assignOp(); ok {
			p.pos += width
			rhs, err := p.assign()
			if err != nil {
				return 0, err
			}
			return p.applyAssign(name, op, rhs)
		}
	}
	p.pos = save
	return p.ternary()
}

// assignOp 识别当前位置的赋值操作符，返回除去等号的操作与总宽度
func (p *arithParser) assignOp() (string, int, bool) {
	rest := p.src[p.pos:]
	for _, op := range []string{"<<=", ">>=", "+=", "-=", "*=", "/=", "%=", "&=", "|=", "^="} {
		if strings.HasPrefix(rest, op) {
			return op[:len(op)-1], len(op), true
		}
	}
	if strings.HasPrefix(rest, "=") && !strings.HasPrefix(rest, "==") {
		return "", 1, true
	}
	return "", 0, false
}

// applyAssign 计算并写回变量。短路分支内不产生副作用。
func (p *arithParser) applyAssign(name, op string, rhs int64) (int64, error) {
	if p.noeval > 0 {
		return 0, nil
	}
	n := rhs
	if op != "" {
		cur, err := p.lookupVar(name)
		if err != nil {
			return 0, err
		}
		switch op {
		case "+":
			n = cur + rhs
		case "-":
			n = cur - rhs
		case "*":
			n = cur * rhs
		case "/", "%":
			if rhs == 0 {
				return 0, arithErr("division by zero")
			}
			if op == "/" {
				n = cur / rhs
			} else {
				n = cur % rhs
			}
		case "<<":
			n = cur << (uint64(rhs) & 63)
		case ">>":
			n = cur >> (uint64(rhs) & 63)
		case "&":
			n = cur & rhs
		case "|":
			n = cur | rhs
		case "^":
			n = cur ^ rhs
		}
	}
	if err := p.e.st.Set(name, strconv.FormatInt(n, 10)); err != nil {
		return 0, arithErr("%s: %s", name, err.Error())
	}
	return n, nil
}

// ternary 条件表达式，只求值被选中的分支
func (p *arithParser) ternary() (int64, error) {
	cond, err := p.lor()
	if err != nil {
		return 0, err
	}
	if !p.take("?") {
		return cond, nil
	}
	thenV, err := p.branch(cond != 0)
	if err != nil {
		return 0, err
	}
	if !p.take(":") {
		return 0, arithErr("`:' expected in conditional expression")
	}
	elseV, err := p.branch(cond == 0)
	if err != nil {
		return 0, err
	}
	if cond != 0 {
		return thenV, nil
	}
	return elseV, nil
}

// branch 解析条件分支，live 为假时只解析不求值
func (p *arithParser) branch(live bool) (int64, error) {
	if live {
		return p.assign()
	}
	p.noeval++
	n, err := p.assign()
	p.noeval--
	return n, err
}

// lor 逻辑或，左操作数非零时短路
func (p *arithParser) lor() (int64, error) {
	n, err := p.land()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if !p.peekOp("||") {
			return n, nil
		}
		p.pos += 2
		short := n != 0
		if short {
			p.noeval++
		}
		m, err := p.land()
		if short {
			p.noeval--
		}
		if err != nil {
			return 0, err
		}
		n = boolInt(n != 0 || m != 0)
	}
}

// land 逻辑与，左操作数为零时短路
func (p *arithParser) land() (int64, error) {
	n, err := p.bitor()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if !p.peekOp("&&") {
			return n, nil
		}
		p.pos += 2
		short := n == 0
		if short {
			p.noeval++
		}
		m, err := p.bitor()
		if short {
			p.noeval--
		}
		if err != nil {
			return 0, err
		}
		n = boolInt(n != 0 && m != 0)
	}
}

func (p *arithParser) bitor() (int64, error) {
	n, err := p.bitxor()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if !p.peekOp("|") || p.peekOp("||") || p.peekOp("|=") {
			return n, nil
		}
		p.pos++
		m, err := p.bitxor()
		if err != nil {
			return 0, err
		}
		n |= m
	}
}

func (p *arithParser) bitxor() (int64, error) {
	n, err := p.bitand()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if !p.peekOp("^") || p.peekOp("^=") {
			return n, nil
		}
		p.pos++
		m, err := p.bitand()
		if err != nil {
			return 0, err
		}
		n ^= m
	}
}

func (p *arithParser) bitand() (int64, error) {
	n, err := p.equality()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if !p.peekOp("&") || p.peekOp("&&") || p.peekOp("&=") {
			return n, nil
		}
		p.pos++
		m, err := p.equality()
		if err != nil {
			return 0, err
		}
		n &= m
	}
}

func (p *arithParser) equality() (int64, error) {
	n, err := p.relational()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		var eq bool
		switch {
		case p.peekOp("=="):
			eq = true
		case p.peekOp("!="):
			eq = false
		default:
			return n, nil
		}
		p.pos += 2
		m, err := p.relational()
		if err != nil {
			return 0, err
		}
		n = boolInt((n == m) == eq)
	}
}

func (p *arithParser) relational() (int64, error) {
	n, err := p.shift()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		var op string
		switch {
		case p.peekOp("<="):
			op = "<="
		case p.peekOp(">="):
			op = ">="
		case p.peekOp("<") && !p.peekOp("<<"):
			op = "<"
		case p.peekOp(">") && !p.peekOp(">>"):
			op = ">"
		default:
			return n, nil
		}
		p.pos += len(op)
		m, err := p.shift()
		if err != nil {
			return 0, err
		}
		switch op {
		case "<=":
			n = boolInt(n <= m)
		case ">=":
			n = boolInt(n >= m)
		case "<":
			n = boolInt(n < m)
		case ">":
			n = boolInt(n > m)
		}
	}
}

func (p *arithParser) shift() (int64, error) {
	n, err := p.additive()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		var left bool
		switch {
		case p.peekOp("<<") && !p.peekOp("<<="):
			left = true
		case p.peekOp(">>") && !p.peekOp(">>="):
			left = false
		default:
			return n, nil
		}
		p.pos += 2
		m, err := p.additive()
		if err != nil {
			return 0, err
		}
		// 位移计数按 64 取模，与机器语义一致
		if left {
			n <<= uint64(m) & 63
		} else {
			n >>= uint64(m) & 63
		}
	}
}

func (p *arithParser) additive() (int64, error) {
	n, err := p.multiplicative()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		var plus bool
		switch {
		case p.peekOp("+"):
			plus = true
		case p.peekOp("-"):
			plus = false
		default:
			return n, nil
		}
		p.pos++
		m, err := p.multiplicative()
		if err != nil {
			return 0, err
		}
		if plus {
			n += m
		} else {
			n -= m
		}
	}
}

func (p *arithParser) multiplicative() (int64, error) {
	n, err := p.unary()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return n, nil
		}
		op := p.src[p.pos]
		if op != '*' && op != '/' && op != '%' {
			return n, nil
		}
		p.pos++
		m, err := p.unary()
		if err != nil {
			return 0, err
		}
		switch op {
		case '*':
			n *= m
		case '/', '%':
			if m == 0 {
				if p.noeval > 0 {
					n = 0
					continue
				}
				return 0, arithErr("division by zero")
			}
			if op == '/' {
				n /= m
			} else {
				n %= m
			}
		}
	}
}

func (p *arithParser) unary() (int64, error) {
	p.skipSpace()
	if p.pos < len(p.src) {
		switch p.src[p.pos] {
		case '!':
			p.pos++
			n, err := p.unary()
			if err != nil {
				return 0, err
			}
			return boolInt(n == 0), nil
		case '~':
			p.pos++
			n, err := p.unary()
			if err != nil {
				return 0, err
			}
			return ^n, nil
		case '-':
			p.pos++
			n, err := p.unary()
			if err != nil {
				return 0, err
			}
			return -n, nil
		case '+':
			p.pos++
			return p.unary()
		}
	}
	return p.primary()
}

func (p *arithParser) primary() (int64, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0, arithErr("unexpected end of expression")
	}
	c := p.src[p.pos]
	switch {
	case c == '(':
		p.pos++
		n, err := p.comma()
		if err != nil {
			return 0, err
		}
		if !p.take(")") {
			return 0, arithErr("`)' expected")
		}
		return n, nil
	case c >= '0' && c <= '9':
		return p.scanNumber()
	case isNameStart(c):
		return p.lookupVar(p.scanName())
	}
	return 0, arithErr("unexpected character %q in expression", string(c))
}

// scanNumber 读取整数字面量，0 前缀八进制、0x 前缀十六进制
func (p *arithParser) scanNumber() (int64, error) {
	start := p.pos
	for p.pos < len(p.src) && isArithNumChar(p.src[p.pos]) {
		p.pos++
	}
	tok := p.src[start:p.pos]
	n, err := strconv.ParseInt(tok, 0, 64)
	if err != nil {
		return 0, arithErr("%s: invalid arithmetic number", tok)
	}
	return n, nil
}

func (p *arithParser) scanName() string {
	if p.pos >= len(p.src) || !isNameStart(p.src[p.pos]) {
		return ""
	}
	start := p.pos
	for p.pos < len(p.src) && isNameChar(p.src[p.pos]) {
		p.pos++
	}
	return p.src[start:p.pos]
}

// lookupVar 取变量的算术值。未设置按零，值本身是表达式时递归求值。
func (p *arithParser) lookupVar(name string) (int64, error) {
	if p.noeval > 0 {
		return 0, nil
	}
	val, ok := p.e.st.Get(name)
	if !ok {
		if p.e.st.Options().NoUnset {
			return 0, &ExpandError{Kind: ErrUnboundParam, Name: name, Message: "parameter not set"}
		}
		return 0, nil
	}
	if strings.TrimSpace(val) == "" {
		return 0, nil
	}
	return p.e.evalArith(val)
}

func isArithNumChar(c byte) bool {
	return '0' <= c && c <= '9' ||
		'a' <= c && c <= 'f' || 'A' <= c && c <= 'F' ||
		c == 'x' || c == 'X'
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
