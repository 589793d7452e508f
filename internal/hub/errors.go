package hub

import "errors"

// 错误分级：
// - ErrPersistence：持久化失败，submit 原子失败，序列号不外泄
// - ErrUnknownConversation/ErrNotParticipant：API 边界拒绝，不进入序列器
// - ErrConnClosed/ErrSendBufferFull：单连接瞬时 IO 问题，仅拆除该连接
// 重复回执与重复反应不是错误，调用处按 no-op 处理。
var (
	ErrPersistence         = errors.New("persistence failed")
	ErrUnknownConversation = errors.New("unknown conversation")
	ErrNotParticipant      = errors.New("not a participant")
	ErrMessageNotFound     = errors.New("message not found")
	ErrNotSender           = errors.New("only the sender may do this")
	ErrConnClosed          = errors.New("connection closed")
	ErrSendBufferFull      = errors.New("send buffer full")
)
