package worker

import (
	"fmt"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/queue"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/uws"
)

// ErrorKind classifies a backend failure for transit through the queue.
type ErrorKind string

const (
	KindFatal     ErrorKind = "fatal"
	KindTransient ErrorKind = "transient"
	KindUsage     ErrorKind = "usage"
)

// WorkerError is a classified failure raised by a compute function. Detail
// may carry a multi-line traceback for operator triage.
type WorkerError struct {
	Kind    ErrorKind
	Code    uws.ErrorCode
	Message string
	Detail  string
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func Fatal(code uws.ErrorCode, message, detail string) *WorkerError {
	return &WorkerError{Kind: KindFatal, Code: code, Message: message, Detail: detail}
}

func Transient(code uws.ErrorCode, message, detail string) *WorkerError {
	return &WorkerError{Kind: KindTransient, Code: code, Message: message, Detail: detail}
}

func Usage(message, detail string) *WorkerError {
	return &WorkerError{Kind: KindUsage, Code: uws.CodeUsageError, Message: message, Detail: detail}
}

// classifyError turns any compute failure into a serializable TaskError.
// Unclassified errors become transient with the error's type and text as
// detail.
func classifyError(err error) *queue.TaskError {
	if we, ok := err.(*WorkerError); ok {
		errType := string(uws.ErrorTypeTransient)
		switch we.Kind {
		case KindFatal, KindUsage:
			errType = string(uws.ErrorTypeFatal)
		}
		return &queue.TaskError{
			Type:    errType,
			Code:    string(we.Code),
			Message: we.Message,
			Detail:  we.Detail,
		}
	}
	return &queue.TaskError{
		Type:    string(uws.ErrorTypeTransient),
		Code:    string(uws.CodeError),
		Message: "backend task failed",
		Detail:  fmt.Sprintf("%T: %s", err, err.Error()),
	}
}
