package job

import "fmt"

// JobError 作业控制原语的失败，外面一层记录后继续跑
type JobError struct {
	Op  string
	Err error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job control: %s: %v", e.Op, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}
