// Package platform 封装 POSIX 系统层的路径和权限判断
package platform

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// SplitList 按冒号拆开 PATH 一类的列表。POSIX 规定空成员
// 表示当前目录，这里直接替换成 "." 省得调用方各自处理。
func SplitList(pathVar string) []string {
	if pathVar == "" {
		return []string{"."}
	}
	dirs := strings.Split(pathVar, ":")
	for i, d := range dirs {
		if d == "" {
			dirs[i] = "."
		}
	}
	return dirs
}

// Executable 判断路径是不是可执行的普通文件。普通文件但没有
// 执行权限、或者目标是目录，返回包了 EACCES 的 *os.PathError，
// 调用方用 errors.Is(err, os.ErrPermission) 区分 126 和 127。
func Executable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return &os.PathError{Op: "exec", Path: path, Err: syscall.EACCES}
	}
	if err := unix.Access(path, unix.X_OK); err != nil {
		return &os.PathError{Op: "exec", Path: path, Err: err}
	}
	return nil
}

// AbbreviateHome 把家目录前缀缩成 ~，提示符显示用
func AbbreviateHome(dir string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" || home == "/" {
		return dir
	}
	if dir == home {
		return "~"
	}
	if rest, ok := strings.CutPrefix(dir, home+string(filepath.Separator)); ok {
		return "~" + string(filepath.Separator) + rest
	}
	return dir
}
