package executor

// ExecErrorKind 区分命令没能跑起来的原因
type ExecErrorKind int

const (
	ErrNotFound      ExecErrorKind = iota // 找不到命令
	ErrNotExecutable                      // 文件在但没有执行权限
	ErrForkFailed                         // 进程起不来
	ErrRedirect                           // 重定向目标打不开
)

// ExecError 表示一条命令在真正执行前就失败了。
// Name 是命令名或重定向目标，Err 是底层系统错误，可能为空。
type ExecError struct {
	Kind ExecErrorKind
	Name string
	Err  error
}

// Error 实现 error 接口
func (e *ExecError) Error() string {
	switch e.Kind {
	case ErrNotFound:
		return e.Name + ": 命令未找到"
	case ErrNotExecutable:
		return e.Name + ": 没有执行权限"
	case ErrForkFailed:
		if e.Err != nil {
			return e.Name + ": 进程启动失败: " + e.Err.Error()
		}
		return e.Name + ": 进程启动失败"
	case ErrRedirect:
		if e.Err != nil {
			return e.Name + ": " + e.Err.Error()
		}
		return e.Name + ": 重定向失败"
	}
	return e.Name + ": 执行失败"
}

func (e *ExecError) Unwrap() error { return e.Err }

// ExitCode 按 shell 的惯例折算退出状态：
// 找不到是 127，不可执行是 126，其余按一般错误算 1。
func (e *ExecError) ExitCode() int {
	switch e.Kind {
	case ErrNotFound:
		return 127
	case ErrNotExecutable, ErrForkFailed:
		return 126
	}
	return 1
}
