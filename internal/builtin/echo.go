package builtin

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// echo 打印参数，空格分隔，结尾换行。-n 去掉换行，-e 打开反斜杠
// 转义，-E 关掉。选项只认开头连写的，认不出的整个当普通参数。
func echo(sh Shell, argv []string, io IO) Result {
	args := argv[1:]
	newline := true
	escapes := false
	for len(args) > 0 {
		flags, ok := echoFlags(args[0])
		if !ok {
			break
		}
		for _, c := range flags {
			switch c {
			case 'n':
				newline = false
			case 'e':
				escapes = true
			case 'E':
				escapes = false
			}
		}
		args = args[1:]
	}

	var b strings.Builder
	stopped := false
	for i, arg := range args {
		if i > 0 {
			b.WriteByte(' ')
		}
		if !escapes {
			b.WriteString(arg)
			continue
		}
		s, stop := expandEscapes(arg, true)
		b.WriteString(s)
		if stop {
			stopped = true
			break
		}
	}
	if newline && !stopped {
		b.WriteByte('\n')
	}
	fmt.Fprint(io.Out, b.String())
	return Result{}
}

// echoFlags 只由 n、e、E 组成的开关串才算 echo 的选项
func echoFlags(s string) (string, bool) {
	if len(s) < 2 || s[0] != '-' {
		return "", false
	}
	for _, c := range s[1:] {
		if c != 'n' && c != 'e' && c != 'E' {
			return "", false
		}
	}
	return s[1:], true
}

// expandEscapes 解释整个字符串里的反斜杠转义。zeroOctal 为真时
// 八进制写法要求 \0NNN（echo 和 %b 的规矩），否则是 \NNN。
// 第二个返回值表示碰到了 \c，要求丢弃后面的输出。
func expandEscapes(s string, zeroOctal bool) (string, bool) {
	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			i++
			continue
		}
		text, next, stop := decodeEscape(s, i+1, zeroOctal)
		if stop {
			return b.String(), true
		}
		b.WriteString(text)
		i = next
	}
	return b.String(), false
}

// decodeEscape 解一个转义序列，i 指向反斜杠后的第一个字符。
// 认不出的序列连反斜杠一起原样保留。
func decodeEscape(s string, i int, zeroOctal bool) (string, int, bool) {
	if i >= len(s) {
		return "\\", i, false
	}
	switch s[i] {
	case 'a':
		return "\a", i + 1, false
	case 'b':
		return "\b", i + 1, false
	case 'c':
		return "", i + 1, true
	case 'f':
		return "\f", i + 1, false
	case 'n':
		return "\n", i + 1, false
	case 'r':
		return "\r", i + 1, false
	case 't':
		return "\t", i + 1, false
	case 'v':
		return "\v", i + 1, false
	case '\\':
		return "\\", i + 1, false
	}
	start := i
	if zeroOctal {
		if s[i] != '0' {
			return "\\" + string(s[i]), i + 1, false
		}
		start = i + 1
	} else if s[i] < '0' || s[i] > '7' {
		return "\\" + string(s[i]), i + 1, false
	}
	end := start
	val := 0
	for end < len(s) && end-start < 3 && s[end] >= '0' && s[end] <= '7' {
		val = val*8 + int(s[end]-'0')
		end++
	}
	if end == start {
		// 孤零零的 \0
		return string(byte(0)), start, false
	}
	return string(byte(val)), end, false
}

// printfCmd 按 POSIX 规矩格式化打印。格式串反复使用直到参数耗尽，
// 坏参数按零值处理并把退出状态记成 1。
func printfCmd(sh Shell, argv []string, io IO) Result {
	if len(argv) < 2 {
		return errf(io, 2, "printf: 缺少格式串")
	}
	format := argv[1]
	args := argv[2:]
	status := 0
	idx := 0
	for {
		used, halt := printfPass(io, format, args, &idx, &status)
		if halt || used == 0 || idx >= len(args) {
			break
		}
	}
	return Result{Status: status}
}

// printfPass 过一遍格式串，返回这一遍消耗的参数个数和要不要就此打住
func printfPass(io IO, format string, args []string, idx *int, status *int) (int, bool) {
	used := 0
	next := func() string {
		if *idx < len(args) {
			s := args[*idx]
			*idx++
			used++
			return s
		}
		return ""
	}
	var b strings.Builder
	flush := func() { fmt.Fprint(io.Out, b.String()) }

	i := 0
	for i < len(format) {
		c := format[i]
		if c == '\\' {
			text, ni, stop := decodeEscape(format, i+1, false)
			if stop {
				flush()
				return used, true
			}
			b.WriteString(text)
			i = ni
			continue
		}
		if c != '%' {
			b.WriteByte(c)
			i++
			continue
		}
		if i+1 < len(format) && format[i+1] == '%' {
			b.WriteByte('%')
			i += 2
			continue
		}
		j := i + 1
		for j < len(format) && strings.IndexByte("-+ #0", format[j]) >= 0 {
			j++
		}
		for j < len(format) && format[j] >= '0' && format[j] <= '9' {
			j++
		}
		if j < len(format) && format[j] == '.' {
			j++
			for j < len(format) && format[j] >= '0' && format[j] <= '9' {
				j++
			}
		}
		if j >= len(format) {
			flush()
			errf(io, 1, "printf: %s: 格式指令不完整", format[i:])
			*status = 1
			return used, true
		}
		verb := format[j]
		spec := format[i : j+1]
		switch verb {
		case 'd', 'i':
			fmt.Fprintf(&b, withVerb(spec, 'd'), printfInt(io, next(), status))
		case 'u', 'o', 'x', 'X':
			v := verb
			if v == 'u' {
				v = 'd'
			}
			fmt.Fprintf(&b, withVerb(spec, v), uint64(printfInt(io, next(), status)))
		case 'c':
			arg := next()
			if arg != "" {
				r, _ := utf8.DecodeRuneInString(arg)
				fmt.Fprintf(&b, withVerb(spec, 'c'), r)
			}
		case 's':
			fmt.Fprintf(&b, spec, next())
		case 'b':
			text, stop := expandEscapes(next(), true)
			fmt.Fprintf(&b, withVerb(spec, 's'), text)
			if stop {
				flush()
				return used, true
			}
		case 'e', 'E', 'f', 'g', 'G':
			fmt.Fprintf(&b, spec, printfFloat(io, next(), status))
		default:
			flush()
			errf(io, 1, "printf: %%%c: 没有这个格式指令", verb)
			*status = 1
			return used, true
		}
		i = j + 1
	}
	flush()
	return used, false
}

// withVerb 换掉格式指令最后的动词字母
func withVerb(spec string, verb byte) string {
	return spec[:len(spec)-1] + string(verb)
}

// printfInt 解析整数参数。开头是单引号或双引号时取后面字符的码点。
func printfInt(io IO, s string, status *int) int64 {
	if s == "" {
		return 0
	}
	if s[0] == '\'' || s[0] == '"' {
		if len(s) > 1 {
			r, _ := utf8.DecodeRuneInString(s[1:])
			return int64(r)
		}
		return 0
	}
	n, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		errf(io, 1, "printf: %s: 不是数字", s)
		*status = 1
		return 0
	}
	return n
}

func printfFloat(io IO, s string, status *int) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		errf(io, 1, "printf: %s: 不是数字", s)
		*status = 1
		return 0
	}
	return f
}
