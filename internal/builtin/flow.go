package builtin

import "strconv"

// exitCmd 退出 shell。没有参数时用当前的 $?。
func exitCmd(sh Shell, argv []string, io IO) Result {
	status := sh.State().Status()
	if len(argv) > 1 {
		n, err := strconv.Atoi(argv[1])
		if err != nil {
			errf(io, 2, "exit: %s: 需要数字参数", argv[1])
			return Result{Status: 2, Flow: FlowExit}
		}
		status = n & 0xff
	}
	return Result{Status: status, Flow: FlowExit}
}

// returnCmd 从函数或 . 脚本返回。没有参数时用当前的 $?。
func returnCmd(sh Shell, argv []string, io IO) Result {
	status := sh.State().Status()
	if len(argv) > 1 {
		n, err := strconv.Atoi(argv[1])
		if err != nil {
			return errf(io, 2, "return: %s: 需要数字参数", argv[1])
		}
		status = n & 0xff
	}
	return Result{Status: status, Flow: FlowReturn}
}

// breakCmd 跳出 n 层循环。在循环外面由顶层静默消化。
func breakCmd(sh Shell, argv []string, io IO) Result {
	n, res := loopCount(argv, io)
	if res != nil {
		return *res
	}
	return Result{Flow: FlowBreak, Depth: n}
}

// continueCmd 继续第 n 层外的循环
func continueCmd(sh Shell, argv []string, io IO) Result {
	n, res := loopCount(argv, io)
	if res != nil {
		return *res
	}
	return Result{Flow: FlowContinue, Depth: n}
}

// loopCount 解析 break/continue 的层数参数，缺省为 1
func loopCount(argv []string, io IO) (int, *Result) {
	if len(argv) < 2 {
		return 1, nil
	}
	n, err := strconv.Atoi(argv[1])
	if err != nil || n < 1 {
		r := errf(io, 1, "%s: %s: 循环层数不对", argv[0], argv[1])
		return 0, &r
	}
	return n, nil
}

// shift 把位置参数左移 n 个，缺省移一个
func shift(sh Shell, argv []string, io IO) Result {
	n := 1
	if len(argv) > 1 {
		parsed, err := strconv.Atoi(argv[1])
		if err != nil || parsed < 0 {
			return errf(io, 1, "shift: %s: 需要数字参数", argv[1])
		}
		n = parsed
	}
	if !sh.State().Shift(n) {
		return errf(io, 1, "shift: 移不了那么多")
	}
	return Result{}
}
