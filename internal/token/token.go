// 包 token 实现了机密代币账本。
//
// 账本只保存余额密文的句柄，转账金额同样以句柄形式进出。
// 转账不会因为余额不足而失败：实际划转的金额是请求金额与
// 发送方余额的较小者，调用方必须以返回的句柄为准记账。
package token

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikuraDev/Mikura/internal/fhe"
)

var (
	// ErrUnknownAccount 表示转账一方没有在引擎中登记。
	ErrUnknownAccount = errors.New("token: account not registered with engine")

	// ErrNotOperator 表示调用方不持有余额所有者的有效授权。
	ErrNotOperator = errors.New("token: caller is not an operator for owner")

	// ErrSupplyCap 表示增发会使累计发行量越过引擎的编码上界。
	ErrSupplyCap = errors.New("token: total supply would exceed amount cap")
)

type operatorKey struct {
	owner   uuid.UUID
	spender uuid.UUID
}

// Token 是机密代币账本。
type Token struct {
	mu  sync.Mutex
	eng *fhe.Engine

	balances map[uuid.UUID]fhe.Handle
	// owner+spender 到授权过期时间（unix 秒）的映射
	operators map[operatorKey]int64
	// 公开的累计发行量。发行量封顶保证任何余额都在编码范围内。
	minted uint64
}

// New 创建空账本。
func New(eng *fhe.Engine) (*Token, error) {
	if eng == nil {
		return nil, errors.New("token: nil engine")
	}
	return &Token{
		eng:       eng,
		balances:  make(map[uuid.UUID]fhe.Handle),
		operators: make(map[operatorKey]int64),
	}, nil
}

// BalanceHandle 返回账户余额密文的句柄。没有余额记录的账户解析为零句柄。
func (t *Token) BalanceHandle(acct uuid.UUID) fhe.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[acct]
}

// Minted 返回公开的累计发行量。
func (t *Token) Minted() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.minted
}

// Mint 为账户增发明文金额的代币，返回新的余额句柄。
// 增发金额是公开的，只有余额保持加密。
func (t *Token) Mint(to uuid.UUID, amount uint64) (fhe.Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.eng.IsRegistered(to) {
		return fhe.Handle{}, ErrUnknownAccount
	}
	if amount > fhe.MaxAmount || t.minted > fhe.MaxAmount-amount {
		return fhe.Handle{}, ErrSupplyCap
	}

	newBalance, err := t.eng.Add(t.balances[to], t.eng.AsConstant(amount))
	if err != nil {
		return fhe.Handle{}, err
	}
	if err := t.eng.Allow(newBalance, to); err != nil {
		return fhe.Handle{}, err
	}

	t.balances[to] = newBalance
	t.minted += amount
	return newBalance, nil
}

// --- 授权部分 ---

// SetOperator 允许 spender 在 until（unix 秒）之前代表 owner 转出余额。
// 把 until 设为过去的时间即撤销授权。
func (t *Token) SetOperator(owner, spender uuid.UUID, until int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.operators[operatorKey{owner: owner, spender: spender}] = until
}

// IsOperator 报告 spender 当前是否持有 owner 的有效授权。
func (t *Token) IsOperator(owner, spender uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isOperatorLocked(owner, spender)
}

func (t *Token) isOperatorLocked(owner, spender uuid.UUID) bool {
	if owner == spender {
		return true
	}
	until, ok := t.operators[operatorKey{owner: owner, spender: spender}]
	return ok && time.Now().Unix() <= until
}

// --- 转账部分 ---

// ConfidentialTransfer 把 from 的余额划转给 to，返回实际划转金额的句柄。
// 实际金额是请求金额与 from 余额的较小者，调用方必须以返回值记账。
func (t *Token) ConfidentialTransfer(from, to uuid.UUID, amount fhe.Handle) (fhe.Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transferLocked(from, from, to, amount)
}

// ConfidentialTransferFrom 由 spender 代表 from 发起划转。
// spender 必须持有 from 的有效授权，否则返回 ErrNotOperator。
func (t *Token) ConfidentialTransferFrom(spender, from, to uuid.UUID, amount fhe.Handle) (fhe.Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.isOperatorLocked(from, spender) {
		return fhe.Handle{}, ErrNotOperator
	}
	return t.transferLocked(spender, from, to, amount)
}

func (t *Token) transferLocked(spender, from, to uuid.UUID, amount fhe.Handle) (fhe.Handle, error) {
	if !t.eng.IsRegistered(from) || !t.eng.IsRegistered(to) {
		return fhe.Handle{}, ErrUnknownAccount
	}

	fromBalance := t.balances[from]

	// 划转金额收敛到发送方余额，转账本身不暴露余额是否足额
	actual, err := t.eng.Min(amount, fromBalance)
	if err != nil {
		return fhe.Handle{}, err
	}
	newFrom, err := t.eng.Sub(fromBalance, actual)
	if err != nil {
		return fhe.Handle{}, err
	}
	newTo, err := t.eng.Add(t.balances[to], actual)
	if err != nil {
		return fhe.Handle{}, err
	}

	for _, grant := range []struct {
		h  fhe.Handle
		id uuid.UUID
	}{
		{actual, from},
		{actual, to},
		{actual, spender},
		{newFrom, from},
		{newTo, to},
	} {
		if err := t.eng.Allow(grant.h, grant.id); err != nil {
			return fhe.Handle{}, err
		}
	}

	t.balances[from] = newFrom
	t.balances[to] = newTo
	return actual, nil
}

// --- 恢复部分 ---

// Balances 返回当前余额句柄表的副本，供落盘持久化使用。
func (t *Token) Balances() map[uuid.UUID]fhe.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[uuid.UUID]fhe.Handle, len(t.balances))
	for acct, h := range t.balances {
		out[acct] = h
	}
	return out
}

// RestoreBalance 直接写入余额句柄。服务端重启时重放落盘状态用。
func (t *Token) RestoreBalance(acct uuid.UUID, h fhe.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[acct] = h
}

// RestoreOperator 直接写入授权记录。
func (t *Token) RestoreOperator(owner, spender uuid.UUID, until int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.operators[operatorKey{owner: owner, spender: spender}] = until
}

// RestoreMinted 直接写入累计发行量。
func (t *Token) RestoreMinted(v uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.minted = v
}
