package patch

import (
	"errors"
	"fmt"

	"github.com/qs3c/docgen_server/internal/model"
)

var (
	// ErrConflict 分支或 PR 已存在
	ErrConflict = errors.New("branch or pull request already exists")
	// ErrNoChanges 生成结果没有产生任何文件修改
	ErrNoChanges = errors.New("no documentation changes produced")
	// ErrUnsupportedHost 托管平台没有可用的 PR 客户端
	ErrUnsupportedHost = errors.New("pull request creation is not supported for this host")
)

// Error 带分类的补丁阶段错误
type Error struct {
	Kind string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf 返回错误分类，未分类的错误视为 fatal
func KindOf(err error) string {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	if errors.Is(err, ErrConflict) {
		return model.ErrorKindConflict
	}
	return model.ErrorKindFatal
}

func IsTransient(err error) bool {
	return KindOf(err) == model.ErrorKindTransient
}

func conflict(op string, err error) error {
	return &Error{Kind: model.ErrorKindConflict, Op: op, Err: fmt.Errorf("%w: %v", ErrConflict, err)}
}

func transient(op string, err error) error {
	return &Error{Kind: model.ErrorKindTransient, Op: op, Err: err}
}

func fatal(op string, err error) error {
	return &Error{Kind: model.ErrorKindFatal, Op: op, Err: err}
}
