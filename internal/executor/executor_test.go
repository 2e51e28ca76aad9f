package executor

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/spf13/afero"

	"posish/internal/builtin"
	"posish/internal/job"
	"posish/internal/lexer"
	"posish/internal/parser"
	"posish/internal/state"
)

func mustParse(t *testing.T, src string) *parser.Program {
	t.Helper()
	toks, err := lexer.Tokenize(src)
	if err != nil {
		t.Fatal(err)
	}
	prog, err := parser.New(toks).ParseProgram()
	if err != nil {
		t.Fatal(err)
	}
	return prog
}

// newTestExec 建一个带独立状态和作业表的顶层执行器，测试收尾时注销信号
func newTestExec(t *testing.T) *Executor {
	t.Helper()
	st := state.New("posish", nil)
	e := New(st, job.NewChild())
	t.Cleanup(e.Close)
	return e
}

// runIn 用给定的标准输入执行一段源码，收集两路输出
func runIn(e *Executor, stdin, src string) (string, string, builtin.Result) {
	var out, errOut bytes.Buffer
	res := e.Eval(src, builtin.IO{In: strings.NewReader(stdin), Out: &out, Err: &errOut})
	return out.String(), errOut.String(), res
}

func run(e *Executor, src string) (string, string, builtin.Result) {
	return runIn(e, "", src)
}

func needSh(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("没有 /bin/sh，跳过")
	}
}

func TestScriptOutput(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		want   string
		status int
	}{
		{"简单命令", `echo hello world`, "hello world\n", 0},
		{"变量展开", `x=abc; echo "${x}def"`, "abcdef\n", 0},
		{"上一条退出状态", `false; echo $?; true; echo $?`, "1\n0\n", 0},
		{"算术展开", `i=3; echo $((i*2+1))`, "7\n", 0},
		{"字符串长度", `v=hello; echo ${#v}`, "5\n", 0},
		{"缺省值展开", `echo ${not_set_zz:-fallback}`, "fallback\n", 0},
		{"注释截断", `echo one # two`, "one\n", 0},
		{"if分支", `if false; then echo a; elif true; then echo b; else echo c; fi`, "b\n", 0},
		{"if无else条件为假", `if false; then echo a; fi; echo $?`, "0\n", 0},
		{"while循环", `i=0; while [ $i -lt 3 ]; do echo $i; i=$((i+1)); done`, "0\n1\n2\n", 0},
		{"until循环", `i=0; until [ $i -ge 2 ]; do echo $i; i=$((i+1)); done`, "0\n1\n", 0},
		{"for列表", `for x in a b c; do echo $x; done`, "a\nb\nc\n", 0},
		{"for省略in遍历位置参数", `set -- p q; for v do echo $v; done`, "p\nq\n", 0},
		{"case匹配前缀", `case hello in h*) echo yes;; *) echo no;; esac`, "yes\n", 0},
		{"case无匹配算成功", `case zz in a) echo a;; esac; echo $?`, "0\n", 0},
		{"case字符类", `case b3 in [aeiou]?) echo v;; [b-d]?) echo c;; esac`, "c\n", 0},
		{"break跳出", `for i in 1 2 3; do if [ $i = 2 ]; then break; fi; echo $i; done`, "1\n", 0},
		{"continue跳过", `for i in 1 2 3; do if [ $i = 2 ]; then continue; fi; echo $i; done`, "1\n3\n", 0},
		{"break带层数", `for i in 1 2; do for j in a b; do break 2; done; echo $i; done; echo after`, "after\n", 0},
		{"continue带层数", `for i in 1 2; do for j in a b; do echo $i$j; continue 2; done; echo never; done`, "1a\n2a\n", 0},
		{"函数调用", `greet() { echo "hi $1"; }; greet bob`, "hi bob\n", 0},
		{"return截断函数", `f() { return 7; echo no; }; f; echo $?`, "7\n", 0},
		{"local局部变量", `x=global; f() { local x=inner; echo $x; }; f; echo $x`, "inner\nglobal\n", 0},
		{"break不穿函数", `f() { break; }; for i in 1 2; do f; echo $i; done`, "1\n2\n", 0},
		{"函数嵌套", `inner() { echo in; }; outer() { inner; echo out; }; outer`, "in\nout\n", 0},
		{"与或列表", `true && echo a || echo b; false && echo c || echo d`, "a\nd\n", 0},
		{"子shell隔离变量", `x=1; (x=2; echo $x); echo $x`, "2\n1\n", 0},
		{"花括号组共享变量", `x=1; { x=2; }; echo $x`, "2\n", 0},
		{"子shell折叠退出码", `(exit 260); echo $?`, "4\n", 0},
		{"命令替换", `echo "got $(echo inner)"`, "got inner\n", 0},
		{"命令替换去尾换行", `printf '[%s]' "$(printf 'a\n\n')"`, "[a]", 0},
		{"替换失败留状态", `x=$(false); echo $?`, "1\n", 0},
		{"管道取反", `! false; echo $?; ! true; echo $?`, "0\n1\n", 0},
		{"管道传数据", `echo abc | { read line; echo "got $line"; }`, "got abc\n", 0},
		{"管道进while", "printf 'a\\nb\\n' | while read l; do echo \"<$l>\"; done", "<a>\n<b>\n", 0},
		{"管道状态取末级", `true | false; echo $?; false | true; echo $?`, "1\n0\n", 0},
		{"pipefail取右起第一个失败", `set -o pipefail; false | true; echo $?`, "1\n", 0},
		{"IFS切分展开", `IFS=:; v=a:b:c; f() { echo $#; }; f $v`, "3\n", 0},
		{"星号按IFS拼接", `IFS=-; f() { echo "$*"; }; f a b c`, "a-b-c\n", 0},
		{"位置参数", `set -- one two three; echo $# $1 $3`, "3 one three\n", 0},
		{"shift移位", `set -- a b c; shift 2; echo $1`, "c\n", 0},
		{"脚本名", `echo $0`, "posish\n", 0},
		{"双引号保空格", `x='a  b'; printf '%s\n' "$x" $x`, "a  b\na\nb\n", 0},
		{"波浪号展开", `HOME=/home/tester; echo ~/bin`, "/home/tester/bin\n", 0},
		{"noglob保字面", `set -f; echo *.never_match_zz`, "*.never_match_zz\n", 0},
		{"eval内建", `cmd='echo evald'; eval $cmd`, "evald\n", 0},
		{"unset撤销变量", `x=1; unset x; echo ${x:-gone}`, "gone\n", 0},
		{"序列取最后状态", `echo only; false`, "only\n", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestExec(t)
			out, errOut, res := run(e, tt.src)
			if out != tt.want {
				t.Errorf("输出 %q，期望 %q（stderr: %q）", out, tt.want, errOut)
			}
			if res.Status != tt.status {
				t.Errorf("退出状态 %d，期望 %d", res.Status, tt.status)
			}
		})
	}
}

func TestExpansionOrderBeforeGlob(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	e := newTestExec(t)
	if err := e.st.Set("d", dir); err != nil {
		t.Fatal(err)
	}
	out, _, _ := run(e, `echo $d/*.txt`)
	want := fmt.Sprintf("%s/a.txt %s/b.txt\n", dir, dir)
	if out != want {
		t.Errorf("变量先展开再通配，输出 %q，期望 %q", out, want)
	}
}

func TestExitFlow(t *testing.T) {
	e := newTestExec(t)
	out, _, res := run(e, `echo before; exit 5; echo after`)
	if out != "before\n" {
		t.Errorf("exit 之后还有输出：%q", out)
	}
	if res.Flow != builtin.FlowExit || res.Status != 5 {
		t.Errorf("结果 %+v，期望 FlowExit 状态 5", res)
	}

	e2 := newTestExec(t)
	_, _, res2 := run(e2, `eval 'exit 3'`)
	if res2.Flow != builtin.FlowExit || res2.Status != 3 {
		t.Errorf("eval 里的 exit 结果 %+v，期望 FlowExit 状态 3", res2)
	}
}

func TestReadonlyAssignment(t *testing.T) {
	e := newTestExec(t)
	out, errOut, _ := run(e, `readonly r=1; r=2; echo $?; echo $r`)
	if out != "1\n1\n" {
		t.Errorf("输出 %q，期望 %q", out, "1\n1\n")
	}
	if !strings.Contains(errOut, "r") {
		t.Errorf("stderr 没报只读变量名：%q", errOut)
	}
}

func TestPrefixAssignments(t *testing.T) {
	// 前缀赋值只对这一条命令可见
	e := newTestExec(t)
	out, _, _ := run(e, `f() { echo "$V"; }; V=tmp f; echo "[$V]"`)
	if out != "tmp\n[]\n" {
		t.Errorf("输出 %q，期望 %q", out, "tmp\n[]\n")
	}

	// 纯赋值命令没有前缀一说，直接落进状态
	e2 := newTestExec(t)
	out2, _, _ := run(e2, `V=keep; echo $V`)
	if out2 != "keep\n" {
		t.Errorf("输出 %q，期望 %q", out2, "keep\n")
	}
}

func TestAliasExpansion(t *testing.T) {
	e := newTestExec(t)
	// 别名在解析阶段替换，得分两次送进去
	run(e, `alias greet='echo hey'`)
	out, _, _ := run(e, `greet there`)
	if out != "hey there\n" {
		t.Errorf("别名展开输出 %q，期望 %q", out, "hey there\n")
	}
}

func TestErrExit(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
		exit bool
	}{
		{"失败即退出", `set -e; false; echo unreachable`, "", true},
		{"if条件豁免", `set -e; if false; then echo a; fi; echo ok`, "ok\n", false},
		{"或列表左边豁免", `set -e; false || echo rescued; echo after`, "rescued\nafter\n", false},
		{"取反豁免", `set -e; ! true; echo after`, "after\n", false},
		{"管道末级失败退出", `set -e; true | false; echo no`, "", true},
		{"管道末级成功不退出", `set -e; false | true; echo ok`, "ok\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestExec(t)
			out, _, res := run(e, tt.src)
			if out != tt.want {
				t.Errorf("输出 %q，期望 %q", out, tt.want)
			}
			if got := res.Flow == builtin.FlowExit; got != tt.exit {
				t.Errorf("FlowExit=%v，期望 %v", got, tt.exit)
			}
		})
	}
}

func TestNounsetContinues(t *testing.T) {
	e := newTestExec(t)
	out, errOut, _ := run(e, `set -u; echo $undefined_zz; echo after`)
	if out != "after\n" {
		t.Errorf("输出 %q，期望展开失败后继续执行", out)
	}
	if !strings.Contains(errOut, "undefined_zz") {
		t.Errorf("stderr 没报未定义变量名：%q", errOut)
	}
}

func TestNoExec(t *testing.T) {
	e := newTestExec(t)
	out, _, _ := run(e, `echo before; set -n; echo after`)
	if out != "before\n" {
		t.Errorf("set -n 之后不该再执行，输出 %q", out)
	}
}

func TestXTrace(t *testing.T) {
	e := newTestExec(t)
	out, errOut, _ := run(e, "set -x\necho hi\nx=1")
	if out != "hi\n" {
		t.Errorf("输出 %q，期望 %q", out, "hi\n")
	}
	if !strings.Contains(errOut, "+ echo hi\n") {
		t.Errorf("跟踪里没有命令行：%q", errOut)
	}
	if !strings.Contains(errOut, "+ x=1\n") {
		t.Errorf("跟踪里没有赋值行：%q", errOut)
	}
}

func TestExternalCommands(t *testing.T) {
	needSh(t)
	t.Run("退出状态", func(t *testing.T) {
		e := newTestExec(t)
		_, _, res := run(e, `sh -c 'exit 7'`)
		if res.Status != 7 {
			t.Errorf("退出状态 %d，期望 7", res.Status)
		}
	})
	t.Run("标准输出", func(t *testing.T) {
		e := newTestExec(t)
		out, _, _ := run(e, `sh -c 'echo from-sh'`)
		if out != "from-sh\n" {
			t.Errorf("输出 %q，期望 %q", out, "from-sh\n")
		}
	})
	t.Run("信号退出折成128加N", func(t *testing.T) {
		e := newTestExec(t)
		_, _, res := run(e, `sh -c 'kill -9 $$'`)
		if res.Status != 137 {
			t.Errorf("退出状态 %d，期望 137", res.Status)
		}
	})
	t.Run("前缀赋值进环境", func(t *testing.T) {
		e := newTestExec(t)
		out, _, _ := run(e, `X=fromenv sh -c 'echo $X'`)
		if out != "fromenv\n" {
			t.Errorf("输出 %q，期望 %q", out, "fromenv\n")
		}
	})
	t.Run("export进环境", func(t *testing.T) {
		e := newTestExec(t)
		out, _, _ := run(e, `export E=exported; sh -c 'echo $E'`)
		if out != "exported\n" {
			t.Errorf("输出 %q，期望 %q", out, "exported\n")
		}
	})
	t.Run("标准输入透传", func(t *testing.T) {
		e := newTestExec(t)
		out, _, _ := runIn(e, "piped-line\n", `sh -c 'read x; echo "got $x"'`)
		if out != "got piped-line\n" {
			t.Errorf("输出 %q，期望 %q", out, "got piped-line\n")
		}
	})
}

func TestCommandNotFound(t *testing.T) {
	e := newTestExec(t)
	out, errOut, res := run(e, `definitely_not_a_command_zz`)
	if res.Status != 127 {
		t.Errorf("退出状态 %d，期望 127", res.Status)
	}
	if out != "" {
		t.Errorf("不该有标准输出：%q", out)
	}
	if !strings.Contains(errOut, "命令未找到") {
		t.Errorf("stderr %q 没有未找到的报错", errOut)
	}

	e2 := newTestExec(t)
	_, _, res2 := run(e2, `/nonexistent/path/zz`)
	if res2.Status != 127 {
		t.Errorf("带斜杠的缺失路径退出状态 %d，期望 127", res2.Status)
	}
}

func TestCommandNotExecutable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plainfile")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := newTestExec(t)
	_, errOut, res := run(e, path)
	if res.Status != 126 {
		t.Errorf("退出状态 %d，期望 126", res.Status)
	}
	if !strings.Contains(errOut, "没有执行权限") {
		t.Errorf("stderr %q 没有权限报错", errOut)
	}
}

func TestPipelineMixedStages(t *testing.T) {
	needSh(t)
	t.Run("内建喂外部", func(t *testing.T) {
		e := newTestExec(t)
		out, _, _ := run(e, `echo data | sh -c 'read line; echo "LINE=$line"'`)
		if out != "LINE=data\n" {
			t.Errorf("输出 %q，期望 %q", out, "LINE=data\n")
		}
	})
	t.Run("外部喂内建", func(t *testing.T) {
		e := newTestExec(t)
		out, _, _ := run(e, `sh -c 'echo out' | { read l; echo "read=$l"; }`)
		if out != "read=out\n" {
			t.Errorf("输出 %q，期望 %q", out, "read=out\n")
		}
	})
	t.Run("外部管道状态", func(t *testing.T) {
		e := newTestExec(t)
		_, _, res := run(e, `sh -c 'exit 3' | sh -c 'exit 0'`)
		if res.Status != 0 {
			t.Errorf("退出状态 %d，期望末级的 0", res.Status)
		}
		_, _, res = run(e, `sh -c 'exit 0' | sh -c 'exit 4'`)
		if res.Status != 4 {
			t.Errorf("退出状态 %d，期望末级的 4", res.Status)
		}
	})
}

func TestRedirects(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "out.txt")

	t.Run("覆盖写", func(t *testing.T) {
		e := newTestExec(t)
		run(e, fmt.Sprintf(`echo first > %s; echo second > %s`, f, f))
		data, err := os.ReadFile(f)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "second\n" {
			t.Errorf("文件内容 %q，期望 %q", data, "second\n")
		}
	})
	t.Run("追加写", func(t *testing.T) {
		e := newTestExec(t)
		run(e, fmt.Sprintf(`echo a > %s; echo b >> %s`, f, f))
		data, _ := os.ReadFile(f)
		if string(data) != "a\nb\n" {
			t.Errorf("文件内容 %q，期望 %q", data, "a\nb\n")
		}
	})
	t.Run("输入重定向", func(t *testing.T) {
		in := filepath.Join(dir, "in.txt")
		if err := os.WriteFile(in, []byte("inline\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		e := newTestExec(t)
		out, _, _ := run(e, fmt.Sprintf(`read x < %s; echo "got $x"`, in))
		if out != "got inline\n" {
			t.Errorf("输出 %q，期望 %q", out, "got inline\n")
		}
	})
	t.Run("here文档", func(t *testing.T) {
		e := newTestExec(t)
		out, _, _ := run(e, "read v <<EOF\nheredoc line\nEOF\necho \"v=$v\"")
		if out != "v=heredoc line\n" {
			t.Errorf("输出 %q，期望 %q", out, "v=heredoc line\n")
		}
	})
	t.Run("错误并进标准输出", func(t *testing.T) {
		target := filepath.Join(dir, "both.txt")
		e := newTestExec(t)
		run(e, fmt.Sprintf(`f() { echo out; echo err >&2; }; f > %s 2>&1`, target))
		data, _ := os.ReadFile(target)
		if string(data) != "out\nerr\n" {
			t.Errorf("文件内容 %q，期望 %q", data, "out\nerr\n")
		}
	})
	t.Run("复合命令整体重定向", func(t *testing.T) {
		target := filepath.Join(dir, "loop.txt")
		e := newTestExec(t)
		run(e, fmt.Sprintf(`for i in 1 2; do echo $i; done > %s`, target))
		data, _ := os.ReadFile(target)
		if string(data) != "1\n2\n" {
			t.Errorf("文件内容 %q，期望 %q", data, "1\n2\n")
		}
	})
	t.Run("重定向失败状态1", func(t *testing.T) {
		e := newTestExec(t)
		out, errOut, _ := run(e, `read x < /nonexistent/zz/path; echo $?`)
		if out != "1\n" {
			t.Errorf("输出 %q，期望重定向失败后状态 1", out)
		}
		if !strings.Contains(errOut, "posish: ") {
			t.Errorf("stderr %q 没带前缀报错", errOut)
		}
	})
	t.Run("noclobber挡覆盖", func(t *testing.T) {
		guard := filepath.Join(dir, "guard.txt")
		if err := os.WriteFile(guard, []byte("old\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		e := newTestExec(t)
		out, errOut, _ := run(e, fmt.Sprintf(`set -C; echo new > %s; echo $?`, guard))
		if out != "1\n" {
			t.Errorf("输出 %q，期望被挡下后状态 1", out)
		}
		if !strings.Contains(errOut, "noclobber") {
			t.Errorf("stderr %q 没提 noclobber", errOut)
		}
		data, _ := os.ReadFile(guard)
		if string(data) != "old\n" {
			t.Errorf("文件被覆盖成 %q", data)
		}
		// >| 强制覆盖不受影响
		run(e, fmt.Sprintf(`echo forced >| %s`, guard))
		data, _ = os.ReadFile(guard)
		if string(data) != "forced\n" {
			t.Errorf("强制覆盖后内容 %q，期望 %q", data, "forced\n")
		}
	})
}

func TestBackgroundJobs(t *testing.T) {
	t.Run("内建组后台", func(t *testing.T) {
		e := newTestExec(t)
		out, _, _ := run(e, `{ echo bgout; } & wait; echo fg`)
		if out != "bgout\nfg\n" {
			t.Errorf("输出 %q，期望 %q", out, "bgout\nfg\n")
		}
	})
	t.Run("外部后台等回状态", func(t *testing.T) {
		needSh(t)
		e := newTestExec(t)
		out, _, _ := run(e, `sh -c 'exit 5' & wait $!; echo $?`)
		if out != "5\n" {
			t.Errorf("输出 %q，期望后台退出状态 5", out)
		}
	})
	t.Run("wait未知pid", func(t *testing.T) {
		e := newTestExec(t)
		_, _, res := run(e, `wait 99999999`)
		if res.Status != 127 {
			t.Errorf("退出状态 %d，期望 127", res.Status)
		}
	})
}

func TestTrapFirePreservesStatus(t *testing.T) {
	e := newTestExec(t)
	e.st.SetTrap("USR1", "true")
	e.st.SetStatus(7)
	var out, errOut bytes.Buffer
	res := e.fireTrap(syscall.SIGUSR1, builtin.IO{In: strings.NewReader(""), Out: &out, Err: &errOut})
	if res.Flow != builtin.FlowNone {
		t.Errorf("结果 %+v，期望没有控制流", res)
	}
	if e.st.Status() != 7 {
		t.Errorf("陷阱动作之后 $? 是 %d，期望还原成 7", e.st.Status())
	}
}

func TestTrapFireUntrappedInt(t *testing.T) {
	io := builtin.IO{In: strings.NewReader(""), Out: &bytes.Buffer{}, Err: &bytes.Buffer{}}

	e := newTestExec(t)
	res := e.fireTrap(syscall.SIGINT, io)
	if res.Flow != builtin.FlowExit || res.Status != 130 {
		t.Errorf("脚本模式结果 %+v，期望 FlowExit 状态 130", res)
	}

	e2 := newTestExec(t)
	e2.SetInteractive(true)
	res2 := e2.fireTrap(syscall.SIGINT, io)
	if res2.Flow != builtin.FlowInt || res2.Status != 130 {
		t.Errorf("交互模式结果 %+v，期望 FlowInt 状态 130", res2)
	}
}

func TestCheckpointDrainsPending(t *testing.T) {
	e := newTestExec(t)
	e.st.SetTrap("USR1", "echo trapped")
	e.pending <- syscall.SIGUSR1
	var out, errOut bytes.Buffer
	res := e.checkpoint(builtin.IO{In: strings.NewReader(""), Out: &out, Err: &errOut})
	if res.Flow != builtin.FlowNone {
		t.Errorf("结果 %+v，期望没有控制流", res)
	}
	if out.String() != "trapped\n" {
		t.Errorf("陷阱动作输出 %q，期望 %q", out.String(), "trapped\n")
	}
}

func TestTrapSignalDelivery(t *testing.T) {
	e := newTestExec(t)
	out, _, _ := run(e, `trap 'hit=1' USR1; kill -USR1 $$; while [ -z "$hit" ]; do :; done; echo caught`)
	if out != "caught\n" {
		t.Errorf("输出 %q，期望陷阱置位后打出 caught", out)
	}
}

func TestTrapIgnoreSignal(t *testing.T) {
	e := newTestExec(t)
	out, _, _ := run(e, `trap '' USR2; kill -USR2 $$; echo alive`)
	if out != "alive\n" {
		t.Errorf("输出 %q，期望忽略信号后还活着", out)
	}
}

func TestTrapResetRestoresDefault(t *testing.T) {
	// 同步发生在下一条命令的边界上，补个冒号踩一脚
	e := newTestExec(t)
	run(e, `trap '' USR1; :`)
	if len(e.ignored) != 1 {
		t.Fatalf("忽略表有 %d 项，期望 1", len(e.ignored))
	}
	run(e, `trap - USR1; :`)
	if len(e.ignored) != 0 {
		t.Errorf("清掉陷阱之后忽略表还剩 %d 项", len(e.ignored))
	}
	if len(e.watched) != 0 {
		t.Errorf("清掉陷阱之后监视表还剩 %d 项", len(e.watched))
	}
}

func TestExitTrap(t *testing.T) {
	t.Run("子shell退出时触发", func(t *testing.T) {
		e := newTestExec(t)
		out, _, _ := run(e, `(trap 'echo bye' EXIT; echo body)`)
		if out != "body\nbye\n" {
			t.Errorf("输出 %q，期望 %q", out, "body\nbye\n")
		}
	})
	t.Run("只触发一次", func(t *testing.T) {
		e := newTestExec(t)
		e.st.SetTrap("EXIT", "echo finishing")
		var out bytes.Buffer
		io := builtin.IO{In: strings.NewReader(""), Out: &out, Err: &out}
		e.fireExitTrap(io)
		e.fireExitTrap(io)
		if out.String() != "finishing\n" {
			t.Errorf("输出 %q，期望只有一次 finishing", out.String())
		}
	})
}

func TestSubshellDropsCaughtTraps(t *testing.T) {
	e := newTestExec(t)
	out, _, _ := run(e, `trap 'echo top' EXIT; (trap; echo inner)`)
	// 捕获型陷阱不进子 shell，子环境里 trap 应当列不出 EXIT
	if out != "inner\n" {
		t.Errorf("输出 %q，期望子 shell 里没有继承的陷阱", out)
	}
}

func TestCommandSubstStderrGoesThrough(t *testing.T) {
	e := newTestExec(t)
	var out, errOut bytes.Buffer
	e.SetIO(strings.NewReader(""), &out, &errOut)
	res := e.Eval(`x=$(echo visible >&2); echo done`, builtin.IO{In: strings.NewReader(""), Out: &out, Err: &errOut})
	if res.Status != 0 {
		t.Fatalf("退出状态 %d", res.Status)
	}
	if out.String() != "done\n" {
		t.Errorf("标准输出 %q，期望 %q", out.String(), "done\n")
	}
	if errOut.String() != "visible\n" {
		t.Errorf("标准错误 %q，期望替换里的输出透出来", errOut.String())
	}
}

func TestDotSourcing(t *testing.T) {
	fs := afero.NewMemMapFs()
	lib := "sourced=yes\nsay() { echo from-lib; }\n"
	if err := afero.WriteFile(fs, "/lib.sh", []byte(lib), 0o644); err != nil {
		t.Fatal(err)
	}
	e := newTestExec(t)
	e.SetFS(fs)
	out, _, _ := run(e, `. /lib.sh; say; echo $sourced`)
	if out != "from-lib\nyes\n" {
		t.Errorf("输出 %q，期望 %q", out, "from-lib\nyes\n")
	}
}

func TestSyntaxErrorStatus(t *testing.T) {
	tests := []string{
		"if true; then",
		"done",
		"fi",
		"echo (",
	}
	for _, src := range tests {
		e := newTestExec(t)
		_, errOut, res := run(e, src)
		if res.Status != 2 {
			t.Errorf("%q 退出状态 %d，期望 2", src, res.Status)
		}
		if !strings.HasPrefix(errOut, "posish: ") {
			t.Errorf("%q 的报错 %q 没带前缀", src, errOut)
		}
	}
}

func TestExecuteStopsAfterExit(t *testing.T) {
	e := newTestExec(t)
	var out bytes.Buffer
	e.SetIO(strings.NewReader(""), &out, &out)
	prog := mustParse(t, "echo one\nexit 9\necho two")
	status := e.Execute(prog)
	if status != 9 {
		t.Errorf("Execute 返回 %d，期望 9", status)
	}
	if !e.Exited() {
		t.Error("exit 之后 Exited 应当为真")
	}
	if out.String() != "one\n" {
		t.Errorf("输出 %q，期望 exit 之后不再执行", out.String())
	}
	// 已退出的执行器不再接命令
	prog2 := mustParse(t, "echo three")
	e.Execute(prog2)
	if out.String() != "one\n" {
		t.Errorf("退出后又有输出：%q", out.String())
	}
}
