package builtin

import (
	"fmt"
	stdio "io"
	"os"
	"strings"

	"github.com/pborman/getopt/v2"
	"golang.org/x/term"
)

// read 从输入读一行，按 IFS 切给各个变量，最后一个变量拿剩下的
// 整段。-r 关掉反斜杠转义。一次只读一个字节，绝不越过行尾，
// 后面的命令还能接着读同一个输入。
func read(sh Shell, argv []string, io IO) Result {
	opts := getopt.New()
	raw := opts.Bool('r', "不把反斜杠当转义")
	prompt := opts.String('p', "", "终端输入前打印提示")
	if err := opts.Getopt(argv, nil); err != nil {
		return errf(io, 2, "read: %v", err)
	}
	vars := opts.Args()
	if len(vars) == 0 {
		vars = []string{"REPLY"}
	}
	for _, name := range vars {
		if !validName(name) {
			return errf(io, 1, "read: %s: 不是合法的变量名", name)
		}
	}
	if *prompt != "" {
		if f, ok := io.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			fmt.Fprint(io.Err, *prompt)
		}
	}

	text, escaped, eof, err := readLine(io.In, !*raw)
	if err != nil {
		return errf(io, 1, "read: %v", err)
	}

	ifs := " \t\n"
	if v, ok := sh.State().Get("IFS"); ok {
		ifs = v
	}
	fields := splitRead(text, escaped, ifs, len(vars))

	st := sh.State()
	status := 0
	for i, name := range vars {
		value := ""
		if i < len(fields) {
			value = fields[i]
		}
		if err := st.Set(name, value); err != nil {
			errf(io, 1, "read: %s: %v", name, err)
			status = 1
		}
	}
	if eof {
		status = 1
	}
	return Result{Status: status}
}

// readLine 一个字节一个字节读到换行或 EOF。escapes 打开时反斜杠
// 换行是续行，反斜杠加别的字符把那个字符标成转义过的。
func readLine(r stdio.Reader, escapes bool) (string, []bool, bool, error) {
	var text []byte
	var escaped []bool
	buf := make([]byte, 1)
	esc := false
	for {
		n, err := r.Read(buf)
		if n == 0 {
			if err != nil && err != stdio.EOF {
				return string(text), escaped, true, err
			}
			return string(text), escaped, true, nil
		}
		c := buf[0]
		if esc {
			esc = false
			if c == '\n' {
				continue
			}
			text = append(text, c)
			escaped = append(escaped, true)
			continue
		}
		if escapes && c == '\\' {
			esc = true
			continue
		}
		if c == '\n' {
			return string(text), escaped, false, nil
		}
		text = append(text, c)
		escaped = append(escaped, false)
	}
}

// splitRead 把读到的行按 IFS 切成至多 nvars 个字段。前 nvars-1 个
// 按正常切分规则来，最后一个拿剩下的整段，只修剪结尾的 IFS 空白。
// 转义过的字节永远不当分隔符。
func splitRead(text string, escaped []bool, ifs string, nvars int) []string {
	isSep := func(i int) bool {
		return !escaped[i] && strings.IndexByte(ifs, text[i]) >= 0
	}
	isWs := func(i int) bool {
		c := text[i]
		return isSep(i) && (c == ' ' || c == '\t' || c == '\n')
	}

	i := 0
	for i < len(text) && isWs(i) {
		i++
	}
	var fields []string
	for len(fields) < nvars-1 && i < len(text) {
		start := i
		for i < len(text) && !isSep(i) {
			i++
		}
		fields = append(fields, text[start:i])
		for i < len(text) && isWs(i) {
			i++
		}
		if i < len(text) && isSep(i) && !isWs(i) {
			i++
			for i < len(text) && isWs(i) {
				i++
			}
		}
	}
	if i < len(text) {
		end := len(text)
		for end > i && isWs(end-1) {
			end--
		}
		fields = append(fields, text[i:end])
	}
	return fields
}
