// Package state 维护一次 shell 会话的全部可变状态：变量、函数、
// 别名、陷阱、位置参数和选项。执行器和内置命令都通过它读写。
package state

import (
	"errors"
	"os"
	"sort"
	"strconv"
	"strings"

	"posish/internal/parser"
)

// ErrReadOnly 对只读变量赋值或撤销时返回
var ErrReadOnly = errors.New("readonly variable")

// Var 一个变量及其属性
type Var struct {
	Value    string
	Exported bool
	ReadOnly bool
}

// Frame 记录一次函数调用需要恢复的现场
type Frame struct {
	positional []string
	locals     map[string]Var
}

// State shell 会话状态
type State struct {
	vars   map[string]Var
	locals []map[string]Var // 函数调用的局部变量层，后进先出

	funcs     map[string]*parser.FunctionDef
	aliases   map[string]string
	traps     map[string]string
	trapEpoch uint64

	name       string // $0
	positional []string

	pid        int
	lastStatus int
	lastBgPid  int

	opts Options

	hash map[string]string // 命令名到完整路径的查找缓存
}

// New 创建会话状态，name 作为 $0，继承当前进程的环境变量
func New(name string, args []string) *State {
	st := &State{
		vars:       make(map[string]Var),
		funcs:      make(map[string]*parser.FunctionDef),
		aliases:    make(map[string]string),
		traps:      make(map[string]string),
		hash:       make(map[string]string),
		name:       name,
		positional: args,
		pid:        os.Getpid(),
	}
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			st.vars[kv[:i]] = Var{Value: kv[i+1:], Exported: true}
		}
	}
	if wd, err := os.Getwd(); err == nil {
		st.vars["PWD"] = Var{Value: wd, Exported: true}
	}
	st.vars["PPID"] = Var{Value: strconv.Itoa(os.Getppid())}
	return st
}

// Get 查找变量的值，局部层优先
func (st *State) Get(name string) (string, bool) {
	for i := len(st.locals) - 1; i >= 0; i-- {
		if v, ok := st.locals[i][name]; ok {
			return v.Value, true
		}
	}
	if v, ok := st.vars[name]; ok {
		return v.Value, true
	}
	return "", false
}

// Set 给变量赋值。变量已声明为局部时写入局部层，否则写入全局。
func (st *State) Set(name, value string) error {
	for i := len(st.locals) - 1; i >= 0; i-- {
		if v, ok := st.locals[i][name]; ok {
			if v.ReadOnly {
				return ErrReadOnly
			}
			v.Value = value
			if st.opts.AllExport {
				v.Exported = true
			}
			st.locals[i][name] = v
			return nil
		}
	}
	v := st.vars[name]
	if v.ReadOnly {
		return ErrReadOnly
	}
	v.Value = value
	if st.opts.AllExport {
		v.Exported = true
	}
	st.vars[name] = v
	return nil
}

// SetLocal 在最内层函数作用域声明局部变量。
// 没有活动的函数调用时退化为全局赋值。
func (st *State) SetLocal(name, value string) error {
	if len(st.locals) == 0 {
		return st.Set(name, value)
	}
	top := st.locals[len(st.locals)-1]
	v := top[name]
	if v.ReadOnly {
		return ErrReadOnly
	}
	v.Value = value
	top[name] = v
	return nil
}

// Unset 撤销变量，从最内层找起只删除一处
func (st *State) Unset(name string) error {
	for i := len(st.locals) - 1; i >= 0; i-- {
		if v, ok := st.locals[i][name]; ok {
			if v.ReadOnly {
				return ErrReadOnly
			}
			delete(st.locals[i], name)
			return nil
		}
	}
	if v, ok := st.vars[name]; ok {
		if v.ReadOnly {
			return ErrReadOnly
		}
		delete(st.vars, name)
	}
	return nil
}

// Export 标记变量为导出，变量不存在时以空值创建
func (st *State) Export(name string) error {
	for i := len(st.locals) - 1; i >= 0; i-- {
		if v, ok := st.locals[i][name]; ok {
			v.Exported = true
			st.locals[i][name] = v
			return nil
		}
	}
	v := st.vars[name]
	v.Exported = true
	st.vars[name] = v
	return nil
}

// MarkReadOnly 标记变量为只读，变量不存在时以空值创建
func (st *State) MarkReadOnly(name string) {
	for i := len(st.locals) - 1; i >= 0; i-- {
		if v, ok := st.locals[i][name]; ok {
			v.ReadOnly = true
			st.locals[i][name] = v
			return
		}
	}
	v := st.vars[name]
	v.ReadOnly = true
	st.vars[name] = v
}

// Lookup 返回变量及其属性，export/readonly 的列表输出使用
func (st *State) Lookup(name string) (Var, bool) {
	for i := len(st.locals) - 1; i >= 0; i-- {
		if v, ok := st.locals[i][name]; ok {
			return v, true
		}
	}
	v, ok := st.vars[name]
	return v, ok
}

// PutVar 不经只读检查原样写回一个变量条目。命令前缀赋值
// （VAR=v cmd）结束后恢复现场用，与 Lookup 配对。
func (st *State) PutVar(name string, v Var) {
	for i := len(st.locals) - 1; i >= 0; i-- {
		if _, ok := st.locals[i][name]; ok {
			st.locals[i][name] = v
			return
		}
	}
	st.vars[name] = v
}

// DropVar 不经只读检查删除变量，恢复"原本不存在"的现场用
func (st *State) DropVar(name string) {
	for i := len(st.locals) - 1; i >= 0; i-- {
		if _, ok := st.locals[i][name]; ok {
			delete(st.locals[i], name)
			return
		}
	}
	delete(st.vars, name)
}

// Environ 导出变量的 KEY=value 列表，传给外部命令。
// 局部层的同名导出变量覆盖全局。
func (st *State) Environ() []string {
	merged := make(map[string]string)
	for name, v := range st.vars {
		if v.Exported {
			merged[name] = v.Value
		}
	}
	for _, layer := range st.locals {
		for name, v := range layer {
			if v.Exported {
				merged[name] = v.Value
			}
		}
	}
	out := make([]string, 0, len(merged))
	for name, value := range merged {
		out = append(out, name+"="+value)
	}
	sort.Strings(out)
	return out
}

// VarNames 已定义变量名的有序列表
func (st *State) VarNames() []string {
	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, layer := range st.locals {
		for name := range layer {
			add(name)
		}
	}
	for name := range st.vars {
		add(name)
	}
	sort.Strings(names)
	return names
}

// PushFrame 进入函数调用：压入局部变量层并替换位置参数
func (st *State) PushFrame(args []string) *Frame {
	f := &Frame{positional: st.positional, locals: make(map[string]Var)}
	st.locals = append(st.locals, f.locals)
	st.positional = args
	return f
}

// PopFrame 离开函数调用，恢复位置参数并丢弃最内层局部变量。
// 调用方保证与 PushFrame 严格配对。
func (st *State) PopFrame(f *Frame) {
	st.positional = f.positional
	if len(st.locals) > 0 {
		st.locals = st.locals[:len(st.locals)-1]
	}
}

// Funcs

// DefineFunc 定义或覆盖函数
func (st *State) DefineFunc(def *parser.FunctionDef) {
	st.funcs[def.Name] = def
}

// FuncDepth 当前函数调用深度，local 只在深度大于零时合法
func (st *State) FuncDepth() int {
	return len(st.locals)
}

// FuncNames 已定义函数名的有序列表
func (st *State) FuncNames() []string {
	names := make([]string, 0, len(st.funcs))
	for name := range st.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Func 查找函数定义
func (st *State) Func(name string) (*parser.FunctionDef, bool) {
	def, ok := st.funcs[name]
	return def, ok
}

// UnsetFunc 删除函数定义
func (st *State) UnsetFunc(name string) {
	delete(st.funcs, name)
}

// Aliases

// SetAlias 定义别名
func (st *State) SetAlias(name, value string) {
	st.aliases[name] = value
}

// Alias 查询别名，实现 parser.AliasResolver
func (st *State) Alias(name string) (string, bool) {
	v, ok := st.aliases[name]
	return v, ok
}

// UnsetAlias 删除别名，存在时返回 true
func (st *State) UnsetAlias(name string) bool {
	if _, ok := st.aliases[name]; !ok {
		return false
	}
	delete(st.aliases, name)
	return true
}

// AliasNames 已定义别名的有序列表
func (st *State) AliasNames() []string {
	names := make([]string, 0, len(st.aliases))
	for name := range st.aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Traps

// SetTrap 设置信号陷阱动作，空动作表示忽略该信号
func (st *State) SetTrap(sig, action string) {
	st.traps[sig] = action
	st.trapEpoch++
}

// ClearTrap 恢复信号的默认处理
func (st *State) ClearTrap(sig string) {
	delete(st.traps, sig)
	st.trapEpoch++
}

// Trap 查询陷阱动作
func (st *State) Trap(sig string) (string, bool) {
	action, ok := st.traps[sig]
	return action, ok
}

// TrapSigs 已设置陷阱的信号名有序列表
func (st *State) TrapSigs() []string {
	sigs := make([]string, 0, len(st.traps))
	for sig := range st.traps {
		sigs = append(sigs, sig)
	}
	sort.Strings(sigs)
	return sigs
}

// ResetCaughtTraps 丢弃捕获型陷阱，保留忽略型。子 shell 进入时调用。
func (st *State) ResetCaughtTraps() {
	for sig, action := range st.traps {
		if action != "" {
			delete(st.traps, sig)
		}
	}
	st.trapEpoch++
}

// TrapEpoch 陷阱表的修改代数。执行器据此判断是否需要
// 重新同步操作系统层的信号登记。
func (st *State) TrapEpoch() uint64 { return st.trapEpoch }

// Positional parameters and specials

// Name $0 的值
func (st *State) Name() string { return st.name }

// Positional 当前位置参数
func (st *State) Positional() []string { return st.positional }

// SetPositional 整体替换位置参数（set -- 形式）
func (st *State) SetPositional(args []string) { st.positional = args }

// Shift 丢弃前 n 个位置参数，个数不足时不动作并返回 false
func (st *State) Shift(n int) bool {
	if n < 0 || n > len(st.positional) {
		return false
	}
	st.positional = st.positional[n:]
	return true
}

// Status 上一条命令的退出状态 $?
func (st *State) Status() int { return st.lastStatus }

// SetStatus 记录退出状态
func (st *State) SetStatus(code int) { st.lastStatus = code }

// LastBgPid 最近一个后台作业的进程号 $!
func (st *State) LastBgPid() int { return st.lastBgPid }

// SetLastBgPid 记录后台进程号
func (st *State) SetLastBgPid(pid int) { st.lastBgPid = pid }

// Pid 本 shell 进程号 $$
func (st *State) Pid() int { return st.pid }

// Options 当前选项集
func (st *State) Options() *Options { return &st.opts }

// Command hash

// HashSet 记录命令的查找结果
func (st *State) HashSet(name, path string) {
	st.hash[name] = path
}

// HashGet 查询缓存的命令路径
func (st *State) HashGet(name string) (string, bool) {
	p, ok := st.hash[name]
	return p, ok
}

// HashDelete 移除单条缓存
func (st *State) HashDelete(name string) {
	delete(st.hash, name)
}

// HashClear 清空查找缓存
func (st *State) HashClear() {
	st.hash = make(map[string]string)
}

// HashEntries 缓存内容的有序副本，hash 内置命令展示用
func (st *State) HashEntries() map[string]string {
	out := make(map[string]string, len(st.hash))
	for k, v := range st.hash {
		out[k] = v
	}
	return out
}

// Clone 复制一份独立状态给子 shell 或管道内的在进程阶段使用，
// 之后两边的修改互不可见。
func (st *State) Clone() *State {
	dup := &State{
		vars:       make(map[string]Var, len(st.vars)),
		funcs:      make(map[string]*parser.FunctionDef, len(st.funcs)),
		aliases:    make(map[string]string, len(st.aliases)),
		traps:      make(map[string]string, len(st.traps)),
		hash:       make(map[string]string, len(st.hash)),
		name:       st.name,
		positional: append([]string(nil), st.positional...),
		pid:        st.pid,
		lastStatus: st.lastStatus,
		lastBgPid:  st.lastBgPid,
		opts:       st.opts,
	}
	for k, v := range st.vars {
		dup.vars[k] = v
	}
	for i := range st.locals {
		layer := make(map[string]Var, len(st.locals[i]))
		for k, v := range st.locals[i] {
			layer[k] = v
		}
		dup.locals = append(dup.locals, layer)
	}
	for k, v := range st.funcs {
		dup.funcs[k] = v
	}
	for k, v := range st.aliases {
		dup.aliases[k] = v
	}
	for k, v := range st.traps {
		dup.traps[k] = v
	}
	for k, v := range st.hash {
		dup.hash[k] = v
	}
	return dup
}
