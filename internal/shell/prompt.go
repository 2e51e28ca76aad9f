package shell

import (
	"os"
	"strings"

	"github.com/fatih/color"

	"posish/pkg/platform"
)

var (
	promptUser = color.New(color.FgGreen, color.Bold)
	promptDir  = color.New(color.FgBlue)
	promptFail = color.New(color.FgRed)
)

// prompt 合成主提示符：user@host 加缩写的工作目录，上一条命令
// 失败时结尾带红色状态码。不是终端时 color 包自己会关掉染色。
func (s *Shell) prompt() string {
	user, _ := s.st.Get("USER")
	if user == "" {
		user = "posish"
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	wd, err := os.Getwd()
	if err != nil {
		wd = "?"
	}

	var b strings.Builder
	b.WriteString(promptUser.Sprintf("%s@%s", user, host))
	b.WriteByte(':')
	b.WriteString(promptDir.Sprint(platform.AbbreviateHome(wd)))
	if status := s.st.Status(); status != 0 {
		b.WriteString(promptFail.Sprintf(" [%d]", status))
	}
	b.WriteString("$ ")
	return b.String()
}
