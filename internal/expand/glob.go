package expand

import (
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// Match 报告 s 是否整体匹配 shell 模式 pat。支持 * ? 与 [ ] 字符类，
// 反斜杠转义下一个字符为字面含义。
func Match(pat, s string) bool {
	return matchRunes([]rune(pat), []rune(s))
}

func matchRunes(pat, s []rune) bool {
	for len(pat) > 0 {
		switch pat[0] {
		case '*':
			for len(pat) > 0 && pat[0] == '*' {
				pat = pat[1:]
			}
			if len(pat) == 0 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if matchRunes(pat, s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(s) == 0 {
				return false
			}
			pat, s = pat[1:], s[1:]
		case '[':
			end := classEnd(pat)
			if end < 0 {
				// 未闭合的 [ 按字面左括号匹配
				if len(s) == 0 || s[0] != '[' {
					return false
				}
				pat, s = pat[1:], s[1:]
				continue
			}
			if len(s) == 0 || !classMatch(pat[1:end], s[0]) {
				return false
			}
			pat, s = pat[end+1:], s[1:]
		case '\\':
			if len(pat) >= 2 {
				if len(s) == 0 || s[0] != pat[1] {
					return false
				}
				pat, s = pat[2:], s[1:]
				continue
			}
			if len(s) == 0 || s[0] != '\\' {
				return false
			}
			pat, s = pat[1:], s[1:]
		default:
			if len(s) == 0 || s[0] != pat[0] {
				return false
			}
			pat, s = pat[1:], s[1:]
		}
	}
	return len(s) == 0
}

// classEnd 找出 [ ] 字符类的闭括号下标，未闭合返回 -1。
// 取反标记后与首位的 ] 是字面字符。
func classEnd(pat []rune) int {
	i := 1
	if i < len(pat) && (pat[i] == '!' || pat[i] == '^') {
		i++
	}
	if i < len(pat) && pat[i] == ']' {
		i++
	}
	for i < len(pat) && pat[i] != ']' {
		if pat[i] == '\\' && i+1 < len(pat) {
			i++
		}
		i++
	}
	if i >= len(pat) {
		return -1
	}
	return i
}

// classMatch 字符 c 是否落在字符类里，支持区间与取反
func classMatch(set []rune, c rune) bool {
	neg := false
	if len(set) > 0 && (set[0] == '!' || set[0] == '^') {
		neg = true
		set = set[1:]
	}
	match := false
	for i := 0; i < len(set); i++ {
		lo := set[i]
		if lo == '\\' && i+1 < len(set) {
			i++
			lo = set[i]
		}
		if i+2 < len(set) && set[i+1] == '-' {
			hi := set[i+2]
			if hi == '\\' && i+3 < len(set) {
				i++
				hi = set[i+2]
			}
			i += 2
			if lo <= c && c <= hi {
				match = true
			}
			continue
		}
		if c == lo {
			match = true
		}
	}
	return match != neg
}

// globPattern 在文件系统上展开模式，返回排序后的匹配路径。
// 模式按斜杠切成组件，逐层读目录匹配。
func globPattern(fs afero.Fs, pat string) []string {
	trailingSlash := strings.HasSuffix(pat, "/")
	comps := strings.Split(pat, "/")
	prefixes := []string{""}
	if comps[0] == "" {
		prefixes = []string{"/"}
		comps = comps[1:]
	}
	for _, comp := range comps {
		if comp == "" {
			continue
		}
		var next []string
		if !hasGlobChar(comp) {
			lit := unescapePattern(comp)
			for _, p := range prefixes {
				cand := joinPath(p, lit)
				if _, err := fs.Stat(cand); err == nil {
					next = append(next, cand)
				}
			}
		} else {
			for _, p := range prefixes {
				dir := p
				if dir == "" {
					dir = "."
				}
				infos, err := afero.ReadDir(fs, dir)
				if err != nil {
					continue
				}
				for _, fi := range infos {
					name := fi.Name()
					// 点开头的名字只被字面点匹配
					if strings.HasPrefix(name, ".") && !literalDotPrefix(comp) {
						continue
					}
					if Match(comp, name) {
						next = append(next, joinPath(p, name))
					}
				}
			}
		}
		prefixes = next
		if len(prefixes) == 0 {
			return nil
		}
	}
	if trailingSlash {
		var dirs []string
		for _, p := range prefixes {
			if fi, err := fs.Stat(p); err == nil && fi.IsDir() {
				dirs = append(dirs, p+"/")
			}
		}
		prefixes = dirs
	}
	sort.Strings(prefixes)
	return prefixes
}

func literalDotPrefix(comp string) bool {
	return strings.HasPrefix(comp, ".") || strings.HasPrefix(comp, `\.`)
}

func joinPath(prefix, name string) string {
	switch {
	case prefix == "":
		return name
	case strings.HasSuffix(prefix, "/"):
		return prefix + name
	default:
		return prefix + "/" + name
	}
}

// hasGlobChar 模式是否含有未转义的通配字符
func hasGlobChar(pat string) bool {
	for i := 0; i < len(pat); i++ {
		switch pat[i] {
		case '\\':
			i++
		case '*', '?', '[':
			return true
		}
	}
	return false
}

// escapePattern 反斜杠转义模式元字符，引号保护的文本匹配时按字面处理
func escapePattern(s string) string {
	if !strings.ContainsAny(s, `*?[\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

// unescapePattern 去掉模式转义，还原字面文本
func unescapePattern(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}
