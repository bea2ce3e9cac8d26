package vault

import (
	"time"

	"github.com/google/uuid"

	"github.com/MikuraDev/Mikura/internal/fhe"
)

// Event 的种类。
const (
	EventStaked    = "staked"
	EventBorrowed  = "borrowed"
	EventRepaid    = "repaid"
	EventWithdrawn = "withdrawn"
)

// Event 是一次状态变迁的日志记录。
// Transferred 是本次实际划转金额的句柄，NewTotal 是变迁后该账户
// 对应总额（质押额或借款额）的句柄。两者都是密文引用，
// 旁观者只能得知变迁发生过，读不出任何金额。
type Event struct {
	Seq         uint64     `json:"seq"`
	Kind        string     `json:"kind"`
	Account     uuid.UUID  `json:"account"`
	Transferred fhe.Handle `json:"transferred"`
	NewTotal    fhe.Handle `json:"newTotal"`
	TimeStamp   int64      `json:"timestamp"` //unix时间戳
}

// Events 返回事件日志的副本，按提交顺序排列。
func (l *Ledger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// EventsSince 返回序号大于 seq 的事件，供增量落盘使用。
func (l *Ledger) EventsSince(seq uint64) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}

// RestoreEvents 直接写入事件日志。服务端重启时重放落盘状态用。
func (l *Ledger) RestoreEvents(events []Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append([]Event{}, events...)
	l.seq = 0
	for _, ev := range events {
		if ev.Seq > l.seq {
			l.seq = ev.Seq
		}
	}
}

// appendEvent 在持锁状态下提交一条事件。
func (l *Ledger) appendEvent(kind string, account uuid.UUID, transferred, newTotal fhe.Handle) {
	l.seq++
	l.events = append(l.events, Event{
		Seq:         l.seq,
		Kind:        kind,
		Account:     account,
		Transferred: transferred,
		NewTotal:    newTotal,
		TimeStamp:   time.Now().Unix(),
	})
}
