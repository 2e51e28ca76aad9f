package state

// Options shell 运行选项，对应 set 命令的各个开关
type Options struct {
	ErrExit     bool // -e 命令失败即退出
	NoUnset     bool // -u 展开未定义变量报错
	XTrace      bool // -x 执行前回显展开后的命令
	Verbose     bool // -v 读取时回显输入
	NoGlob      bool // -f 关闭路径名展开
	NoExec      bool // -n 只解析不执行
	NoClobber   bool // -C 禁止 > 覆盖已有文件
	AllExport   bool // -a 新赋值自动导出
	Monitor     bool // -m 作业控制
	Pipefail    bool // 管道状态取最后一个失败阶段
	Interactive bool // 交互模式，不通过 set 修改
}

type optionDef struct {
	letter byte // 0 表示没有单字母形式
	name   string
	field  func(*Options) *bool
}

// 次序决定 set -o 的输出顺序
var optionDefs = []optionDef{
	{'a', "allexport", func(o *Options) *bool { return &o.AllExport }},
	{'e', "errexit", func(o *Options) *bool { return &o.ErrExit }},
	{'m', "monitor", func(o *Options) *bool { return &o.Monitor }},
	{'C', "noclobber", func(o *Options) *bool { return &o.NoClobber }},
	{'n', "noexec", func(o *Options) *bool { return &o.NoExec }},
	{'f', "noglob", func(o *Options) *bool { return &o.NoGlob }},
	{'u', "nounset", func(o *Options) *bool { return &o.NoUnset }},
	{0, "pipefail", func(o *Options) *bool { return &o.Pipefail }},
	{'v', "verbose", func(o *Options) *bool { return &o.Verbose }},
	{'x', "xtrace", func(o *Options) *bool { return &o.XTrace }},
}

// SetFlag 按单字母开关设置选项，未知字母返回 false
func (o *Options) SetFlag(letter byte, on bool) bool {
	for _, def := range optionDefs {
		if def.letter == letter {
			*def.field(o) = on
			return true
		}
	}
	return false
}

// SetNamed 按 set -o 的长名设置选项，未知名字返回 false
func (o *Options) SetNamed(name string, on bool) bool {
	for _, def := range optionDefs {
		if def.name == name {
			*def.field(o) = on
			return true
		}
	}
	return false
}

// Flags 当前打开的单字母选项集合，$- 使用
func (o *Options) Flags() string {
	var out []byte
	for _, def := range optionDefs {
		if def.letter != 0 && *def.field(o) {
			out = append(out, def.letter)
		}
	}
	if o.Interactive {
		out = append(out, 'i')
	}
	return string(out)
}

// OptionStatus set -o 列表的一行
type OptionStatus struct {
	Name string
	On   bool
}

// Listing 选项开关状态的有序列表
func (o *Options) Listing() []OptionStatus {
	out := make([]OptionStatus, 0, len(optionDefs))
	for _, def := range optionDefs {
		out = append(out, OptionStatus{Name: def.name, On: *def.field(o)})
	}
	return out
}
