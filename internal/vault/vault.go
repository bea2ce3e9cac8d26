// 包 vault 实现了机密借贷金库的账本。
//
// 账本为每个账户维护质押额和借款额两条密文余额，
// 并实现质押、借款、还款、取回四种状态变迁。
// 不变量（借款不超过质押、余额非负）全部在密文域内用
// min/trySub/select 这类全函数收敛出来，过程中不在任何
// 秘密值上做明文分支；越额请求静默收敛而不报错，
// 只有证明验证失败和代币划转失败是硬错误。
package vault

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/MikuraDev/Mikura/internal/fhe"
)

var (
	// ErrZeroAddress 表示构造时收到了空的协作方引用。
	ErrZeroAddress = errors.New("vault: zero address for collaborator")

	// ErrTransferFailed 表示代币划转阶段失败，本次变迁已回滚。
	ErrTransferFailed = errors.New("vault: token transfer failed")
)

// Engine 是账本需要的加密算术引擎能力。
type Engine interface {
	FromExternal(ext *fhe.ExternalCiphertext) (fhe.Handle, error)
	Add(a, b fhe.Handle) (fhe.Handle, error)
	Sub(a, b fhe.Handle) (fhe.Handle, error)
	TrySub(a, b fhe.Handle) (fhe.Handle, error)
	Min(a, b fhe.Handle) (fhe.Handle, error)
	Le(a, b fhe.Handle) (fhe.Handle, error)
	Select(cond, a, b fhe.Handle) (fhe.Handle, error)
	Allow(h fhe.Handle, principal uuid.UUID) error
	RegisterComputeParty(id uuid.UUID)
}

// Token 是账本需要的机密代币能力。
// 划转返回实际划转金额的句柄，账本只认返回值，不认请求值。
type Token interface {
	ConfidentialTransfer(from, to uuid.UUID, amount fhe.Handle) (fhe.Handle, error)
	ConfidentialTransferFrom(spender, from, to uuid.UUID, amount fhe.Handle) (fhe.Handle, error)
}

// Ledger 是金库账本。所有变迁串行执行。
type Ledger struct {
	mu sync.Mutex

	// 金库在引擎和代币账本中的主体标识
	id  uuid.UUID
	eng Engine
	tok Token

	staked   map[uuid.UUID]fhe.Handle
	borrowed map[uuid.UUID]fhe.Handle

	events []Event
	seq    uint64
}

// NewLedger 创建金库账本并在引擎中登记金库自身的主体。
// 任一协作方为空时返回 ErrZeroAddress。
func NewLedger(eng Engine, tok Token) (*Ledger, error) {
	return NewLedgerWithID(eng, tok, uuid.New())
}

// NewLedgerWithID 以既有的主体标识创建金库账本。
// 服务端重启后恢复落盘状态时，金库标识必须和授权记录里的一致。
func NewLedgerWithID(eng Engine, tok Token, id uuid.UUID) (*Ledger, error) {
	if eng == nil || tok == nil {
		return nil, ErrZeroAddress
	}
	l := &Ledger{
		id:       id,
		eng:      eng,
		tok:      tok,
		staked:   make(map[uuid.UUID]fhe.Handle),
		borrowed: make(map[uuid.UUID]fhe.Handle),
	}
	eng.RegisterComputeParty(l.id)
	return l, nil
}

// ID 返回金库的主体标识。
func (l *Ledger) ID() uuid.UUID {
	return l.id
}

// --- 读取部分 ---

// StakedBalance 返回账户质押额密文的句柄。
// 没有记录的账户解析为零句柄，任何人都可以调用，
// 但返回的句柄只有被授权过的主体能够披露。
func (l *Ledger) StakedBalance(account uuid.UUID) fhe.Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.staked[account]
}

// BorrowedBalance 返回账户借款额密文的句柄。
func (l *Ledger) BorrowedBalance(account uuid.UUID) fhe.Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.borrowed[account]
}

// --- 变迁部分 ---

// Stake 质押。验证外部输入后把代币划入金库托管，
// 把实际到账的金额累加进账户的质押额。
// 返回实际划转金额和新质押额两个句柄。
func (l *Ledger) Stake(account uuid.UUID, ext *fhe.ExternalCiphertext) (transferred, newStaked fhe.Handle, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	amount, err := l.verifyInput(account, ext)
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}

	// 入账方向的划转先行，质押额只认实际到账的金额
	transferred, err = l.tok.ConfidentialTransferFrom(l.id, account, l.id, amount)
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, errors.Wrap(ErrTransferFailed, err.Error())
	}

	newStaked, err = l.eng.Add(l.staked[account], transferred)
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}

	prior, hadPrior := l.staked[account]
	l.staked[account] = newStaked
	if err := l.grant(account, newStaked, transferred); err != nil {
		l.restore(l.staked, account, prior, hadPrior)
		return fhe.Handle{}, fhe.Handle{}, err
	}

	l.appendEvent(EventStaked, account, transferred, newStaked)
	return transferred, newStaked, nil
}

// Borrow 借款。候选借款额不超过质押额时放行请求的金额，
// 否则静默放行零。放行与否由密文域内的 select 决定，
// 账本自己也不知道本次借到了多少。
// 返回实际划转金额和新借款额两个句柄。
func (l *Ledger) Borrow(account uuid.UUID, ext *fhe.ExternalCiphertext) (transferred, newBorrowed fhe.Handle, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	requested, err := l.verifyInput(account, ext)
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}

	currentStaked := l.staked[account]
	currentBorrowed := l.borrowed[account]

	candidate, err := l.eng.Add(currentBorrowed, requested)
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}
	// 比较结果本身是密文，只能交给 select 消费，不能明文分支
	canBorrow, err := l.eng.Le(candidate, currentStaked)
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}
	approved, err := l.eng.Select(canBorrow, requested, fhe.Zero())
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}
	newBorrowed, err = l.eng.Select(canBorrow, candidate, currentBorrowed)
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}

	// 出账方向：先落账再划转，恶意代币重入时看到的已经是新状态
	prior, hadPrior := l.borrowed[account]
	l.borrowed[account] = newBorrowed
	if err := l.grant(account, newBorrowed); err != nil {
		l.restore(l.borrowed, account, prior, hadPrior)
		return fhe.Handle{}, fhe.Handle{}, err
	}

	transferred, err = l.tok.ConfidentialTransfer(l.id, account, approved)
	if err != nil {
		l.restore(l.borrowed, account, prior, hadPrior)
		return fhe.Handle{}, fhe.Handle{}, errors.Wrap(ErrTransferFailed, err.Error())
	}
	if err := l.grant(account, transferred); err != nil {
		l.restore(l.borrowed, account, prior, hadPrior)
		return fhe.Handle{}, fhe.Handle{}, err
	}

	l.appendEvent(EventBorrowed, account, transferred, newBorrowed)
	return transferred, newBorrowed, nil
}

// Repay 还款。还款额收敛到未偿借款，多还的部分不会被收走，
// 也不会把借款额减成负数。
// 返回实际划转金额和新借款额两个句柄。
func (l *Ledger) Repay(account uuid.UUID, ext *fhe.ExternalCiphertext) (transferred, newBorrowed fhe.Handle, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	requested, err := l.verifyInput(account, ext)
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}

	currentBorrowed := l.borrowed[account]

	repayAmount, err := l.eng.Min(requested, currentBorrowed)
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}
	// 安全：repayAmount 不超过 currentBorrowed，减法不会回绕
	newBorrowed, err = l.eng.Sub(currentBorrowed, repayAmount)
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}

	prior, hadPrior := l.borrowed[account]
	l.borrowed[account] = newBorrowed
	if err := l.grant(account, newBorrowed); err != nil {
		l.restore(l.borrowed, account, prior, hadPrior)
		return fhe.Handle{}, fhe.Handle{}, err
	}

	transferred, err = l.tok.ConfidentialTransferFrom(l.id, account, l.id, repayAmount)
	if err != nil {
		l.restore(l.borrowed, account, prior, hadPrior)
		return fhe.Handle{}, fhe.Handle{}, errors.Wrap(ErrTransferFailed, err.Error())
	}
	if err := l.grant(account, transferred); err != nil {
		l.restore(l.borrowed, account, prior, hadPrior)
		return fhe.Handle{}, fhe.Handle{}, err
	}

	l.appendEvent(EventRepaid, account, transferred, newBorrowed)
	return transferred, newBorrowed, nil
}

// Withdraw 取回。可取回的金额是质押额减去未偿借款的差，
// 请求收敛到这个差值，保证取回后借款仍有足额抵押。
// 返回实际划转金额和新质押额两个句柄。
func (l *Ledger) Withdraw(account uuid.UUID, ext *fhe.ExternalCiphertext) (transferred, newStaked fhe.Handle, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	requested, err := l.verifyInput(account, ext)
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}

	currentStaked := l.staked[account]
	currentBorrowed := l.borrowed[account]

	// 不变量保证借款不超过质押，这里仍用收敛减法兜底
	available, err := l.eng.TrySub(currentStaked, currentBorrowed)
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}
	withdrawAmount, err := l.eng.Min(requested, available)
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}
	newStaked, err = l.eng.Sub(currentStaked, withdrawAmount)
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}

	prior, hadPrior := l.staked[account]
	l.staked[account] = newStaked
	if err := l.grant(account, newStaked); err != nil {
		l.restore(l.staked, account, prior, hadPrior)
		return fhe.Handle{}, fhe.Handle{}, err
	}

	transferred, err = l.tok.ConfidentialTransfer(l.id, account, withdrawAmount)
	if err != nil {
		l.restore(l.staked, account, prior, hadPrior)
		return fhe.Handle{}, fhe.Handle{}, errors.Wrap(ErrTransferFailed, err.Error())
	}
	if err := l.grant(account, transferred); err != nil {
		l.restore(l.staked, account, prior, hadPrior)
		return fhe.Handle{}, fhe.Handle{}, err
	}

	l.appendEvent(EventWithdrawn, account, transferred, newStaked)
	return transferred, newStaked, nil
}

// --- 恢复部分 ---

// RestoreBalances 直接写入账户的两条余额句柄。
// 服务端重启时重放落盘状态用。
func (l *Ledger) RestoreBalances(account uuid.UUID, staked, borrowed fhe.Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.staked[account] = staked
	l.borrowed[account] = borrowed
}

// --- Helper Func 部分 ---

// verifyInput 验证外部输入并物化为内部句柄。
// 输入声称的账户必须与变迁的发起账户一致。
func (l *Ledger) verifyInput(account uuid.UUID, ext *fhe.ExternalCiphertext) (fhe.Handle, error) {
	if ext == nil || ext.Account != account {
		return fhe.Handle{}, fhe.ErrInvalidProof
	}
	return l.eng.FromExternal(ext)
}

// grant 把变迁产生的句柄授权给账户和金库自身。
// 漏掉授权会让句柄对账户永久不可用，这一步是变迁契约的一部分。
func (l *Ledger) grant(account uuid.UUID, hs ...fhe.Handle) error {
	for _, h := range hs {
		if err := l.eng.Allow(h, account); err != nil {
			return err
		}
		if err := l.eng.Allow(h, l.id); err != nil {
			return err
		}
	}
	return nil
}

// restore 把余额条目恢复到变迁前的状态。
func (l *Ledger) restore(m map[uuid.UUID]fhe.Handle, account uuid.UUID, prior fhe.Handle, had bool) {
	if had {
		m[account] = prior
	} else {
		delete(m, account)
	}
}
