package dispatch

import "github.com/tokmz/courier/pkg/errors"

var (
	// ErrAlreadyResponded 同一个 Exchange 重复发送响应
	ErrAlreadyResponded = errors.New(3001, errors.KindValidation, "dispatch: exchange already responded", 409)
	// ErrForeignExchange Exchange 不属于当前 Dispatcher
	ErrForeignExchange = errors.New(3002, errors.KindValidation, "dispatch: exchange belongs to another dispatcher", 400)
	// ErrNilMessage 响应为空
	ErrNilMessage = errors.New(3003, errors.KindValidation, "dispatch: nil exchange or message", 400)
	// ErrClosed Dispatcher 已关闭，未写出的响应全部失败
	ErrClosed = errors.New(3004, errors.KindTransfer, "dispatch: dispatcher closed")
	// ErrSubmit 传输层拒绝响应
	ErrSubmit = errors.New(3005, errors.KindTransfer, "dispatch: transport rejected response")
)
