package shell

import (
	"os"
	"sort"
	"strings"

	shlex "github.com/anmitsu/go-shlex"
	"github.com/spf13/afero"

	"posish/internal/builtin"
	"posish/pkg/platform"
)

// completer readline 的补全回调。词首补命令名，$ 开头补变量，
// 其余位置按路径补文件。
type completer struct {
	sh *Shell
}

func newCompleter(s *Shell) *completer { return &completer{sh: s} }

// Do 实现 readline.AutoCompleter：返回候选词去掉已输入前缀的
// 剩余部分，以及前缀的长度（按 rune 算）。
func (c *completer) Do(line []rune, pos int) ([][]rune, int) {
	head := string(line[:pos])
	atBlank := head == "" || strings.HasSuffix(head, " ") || strings.HasSuffix(head, "\t")

	cur := ""
	if !atBlank {
		cur = head
		if i := strings.LastIndexAny(cur, " \t"); i >= 0 {
			cur = cur[i+1:]
		}
	}

	// 引号没闭合时 shlex 切不动，退到按空白切，只为数词的位置
	words, err := shlex.Split(head, true)
	if err != nil {
		words = strings.Fields(head)
	}
	firstWord := len(words) == 0 || (len(words) == 1 && !atBlank)

	var cands []string
	switch {
	case strings.HasPrefix(cur, "$"):
		cands = c.variables(cur)
	case firstWord && !strings.ContainsRune(cur, '/'):
		cands = c.commands(cur)
	default:
		cands = c.files(cur)
	}
	return suffixes(cands, cur)
}

// commands 内建、别名、函数加 PATH 里的可执行项
func (c *completer) commands(prefix string) []string {
	var out []string
	add := func(name string) {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name+" ")
		}
	}
	for _, name := range builtin.Names() {
		add(name)
	}
	for _, name := range c.sh.st.AliasNames() {
		add(name)
	}
	for _, name := range c.sh.st.FuncNames() {
		add(name)
	}
	pathVar, _ := c.sh.st.Get("PATH")
	for _, dir := range platform.SplitList(pathVar) {
		entries, err := afero.ReadDir(c.sh.fs, dir)
		if err != nil {
			continue
		}
		for _, fi := range entries {
			if fi.IsDir() {
				continue
			}
			add(fi.Name())
		}
	}
	return out
}

// variables 按 $NAME 或 ${NAME} 的写法补变量名
func (c *completer) variables(prefix string) []string {
	braced := strings.HasPrefix(prefix, "${")
	var out []string
	for _, name := range c.sh.st.VarNames() {
		tok := "$" + name
		if braced {
			tok = "${" + name + "}"
		}
		if strings.HasPrefix(tok, prefix) {
			out = append(out, tok+" ")
		}
	}
	return out
}

// files 按前缀列目录项。目录候选带斜杠结尾好接着往下补，
// 前缀没打点时跳过隐藏文件。
func (c *completer) files(prefix string) []string {
	dirPart, base := "", prefix
	if i := strings.LastIndexByte(prefix, '/'); i >= 0 {
		dirPart, base = prefix[:i+1], prefix[i+1:]
	}
	listDir := dirPart
	switch {
	case listDir == "":
		listDir = "."
	case listDir == "~" || strings.HasPrefix(listDir, "~/"):
		if home, err := os.UserHomeDir(); err == nil {
			listDir = home + strings.TrimPrefix(listDir, "~")
		}
	}
	entries, err := afero.ReadDir(c.sh.fs, listDir)
	if err != nil {
		return nil
	}
	var out []string
	for _, fi := range entries {
		name := fi.Name()
		if !strings.HasPrefix(name, base) {
			continue
		}
		if strings.HasPrefix(name, ".") && !strings.HasPrefix(base, ".") {
			continue
		}
		cand := dirPart + name
		if fi.IsDir() {
			cand += "/"
		} else {
			cand += " "
		}
		out = append(out, cand)
	}
	return out
}

// suffixes 候选词排序去重，换算成 readline 的返回形式
func suffixes(cands []string, prefix string) ([][]rune, int) {
	sort.Strings(cands)
	var out [][]rune
	last := ""
	for _, cand := range cands {
		if cand == last || len(cand) < len(prefix) {
			continue
		}
		last = cand
		out = append(out, []rune(cand[len(prefix):]))
	}
	return out, len([]rune(prefix))
}
