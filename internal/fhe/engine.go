package fhe

import (
	"crypto/ecdsa"
	"math/bits"
	"sync"

	"github.com/google/uuid"
	"github.com/tuneinsight/lattigo/v4/ckks"
	"github.com/tuneinsight/lattigo/v4/rlwe"

	"github.com/MikuraDev/Mikura/internal/key"
	"github.com/MikuraDev/Mikura/internal/misc"
)

// MaxAmount 是单个金额或余额允许的最大值。
// 这是 CKKS 单槽编码在当前参数下可以无损往返的范围上界，
// 代币的总发行量也受它约束，因此任何余额都不会越过这条线。
const MaxAmount uint64 = 100_000_000

// slot 是密封存储中的一个条目。
type slot struct {
	value uint64
	kind  byte
}

// registration 记录一个主体登记的公钥。
type registration struct {
	ckksPub  *rlwe.PublicKey
	ecdsaPub *ecdsa.PublicKey
}

// Engine 是进程内的加密算术引擎。
// 它持有方案私钥，是整个系统中唯一接触明文值的组件；
// 金库和代币只通过句柄引用值，从不在明文上计算或分支。
type Engine struct {
	mu sync.RWMutex

	params ckks.Parameters
	// 引擎自身的密钥链。外部输入加密到这条链的公钥上。
	keys    key.CKKSKeyChain
	encoder ckks.Encoder

	store      map[Handle]slot
	acl        map[Handle]map[uuid.UUID]struct{}
	principals map[uuid.UUID]registration
}

// NewEngine 以新生成的密钥链创建引擎。
func NewEngine() *Engine {
	return NewEngineWithKeys(key.GenerateCKKSKeyChain(uuid.New()))
}

// NewEngineWithKeys 以给定密钥链创建引擎。
// 服务端重启后用落盘的密钥链恢复，保证旧的密封数据仍可解开。
func NewEngineWithKeys(keys key.CKKSKeyChain) *Engine {
	params := misc.GetCKKSParams()
	return &Engine{
		params:     params,
		keys:       keys,
		encoder:    ckks.NewEncoder(params),
		store:      make(map[Handle]slot),
		acl:        make(map[Handle]map[uuid.UUID]struct{}),
		principals: make(map[uuid.UUID]registration),
	}
}

// PublicKey 返回引擎的 CKKS 公钥。外部输入必须加密到这把公钥上。
func (e *Engine) PublicKey() *rlwe.PublicKey {
	return e.keys.CKKSPublicKey
}

// Keys 返回引擎的完整密钥链，供服务端落盘。
func (e *Engine) Keys() key.CKKSKeyChain {
	return e.keys
}

// --- 主体登记部分 ---

// RegisterPrincipal 登记一个主体及其公钥。
// ckksPub 用于接收余额披露，ecdsaPub 用于验证外部输入签名；
// 纯计算方（比如金库合约本身）两者都可以为 nil。
func (e *Engine) RegisterPrincipal(id uuid.UUID, ckksPub *rlwe.PublicKey, ecdsaPub *ecdsa.PublicKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.principals[id] = registration{ckksPub: ckksPub, ecdsaPub: ecdsaPub}
}

// RegisterComputeParty 登记一个只参与计算、不接收披露的主体，
// 比如金库合约自身。
func (e *Engine) RegisterComputeParty(id uuid.UUID) {
	e.RegisterPrincipal(id, nil, nil)
}

// IsRegistered 报告主体是否已经登记。
func (e *Engine) IsRegistered(id uuid.UUID) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.principals[id]
	return ok
}

// --- 存储部分 ---

// lookup 解引用句柄。全零句柄固定解出金额零。
// 调用方必须已经持有锁。
func (e *Engine) lookup(h Handle) (slot, error) {
	if h.IsZero() {
		return slot{value: 0, kind: KindUint64}, nil
	}
	s, ok := e.store[h]
	if !ok {
		return slot{}, ErrUnknownHandle
	}
	return s, nil
}

// issue 把新值写入密封存储并签发句柄。
// 调用方必须已经持有锁。
func (e *Engine) issue(value uint64, kind byte) Handle {
	h := newHandle(kind)
	e.store[h] = slot{value: value, kind: kind}
	return h
}

// amountOperands 解出一对金额操作数。
func (e *Engine) amountOperands(a, b Handle) (x, y uint64, err error) {
	sa, err := e.lookup(a)
	if err != nil {
		return 0, 0, err
	}
	sb, err := e.lookup(b)
	if err != nil {
		return 0, 0, err
	}
	if sa.kind != KindUint64 || sb.kind != KindUint64 {
		return 0, 0, ErrKindMismatch
	}
	return sa.value, sb.value, nil
}

// --- 同态运算部分 ---
//
// 下面的运算全部用掩码算术实现，过程中不在明文值上分支，
// 和真正的同态后端保持同一套行为约定。

// Add 签发 a+b 的新句柄。结果按 64 位回绕。
func (e *Engine) Add(a, b Handle) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	x, y, err := e.amountOperands(a, b)
	if err != nil {
		return Handle{}, err
	}
	sum, _ := bits.Add64(x, y, 0)
	return e.issue(sum, KindUint64), nil
}

// Sub 签发 a-b 的新句柄。结果按 64 位回绕，
// 调用方需要自行保证 a >= b，不确定时应当改用 TrySub。
func (e *Engine) Sub(a, b Handle) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	x, y, err := e.amountOperands(a, b)
	if err != nil {
		return Handle{}, err
	}
	diff, _ := bits.Sub64(x, y, 0)
	return e.issue(diff, KindUint64), nil
}

// TrySub 签发 a-b 的新句柄，差为负时收敛到零。
func (e *Engine) TrySub(a, b Handle) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	x, y, err := e.amountOperands(a, b)
	if err != nil {
		return Handle{}, err
	}
	diff, borrow := bits.Sub64(x, y, 0)
	diff &^= -borrow
	return e.issue(diff, KindUint64), nil
}

// Le 比较 a <= b，签发一个布尔句柄。
func (e *Engine) Le(a, b Handle) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	x, y, err := e.amountOperands(a, b)
	if err != nil {
		return Handle{}, err
	}
	// b-a 不产生借位等价于 a <= b
	_, borrow := bits.Sub64(y, x, 0)
	return e.issue(1-borrow, KindBool), nil
}

// Min 签发 a 和 b 中较小者的新句柄。
func (e *Engine) Min(a, b Handle) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	x, y, err := e.amountOperands(a, b)
	if err != nil {
		return Handle{}, err
	}
	_, borrow := bits.Sub64(y, x, 0)
	mask := -borrow
	return e.issue((y & mask) | (x &^ mask), KindUint64), nil
}

// Select 依布尔句柄在两个金额句柄间选择：cond 为真取 a，否则取 b。
func (e *Engine) Select(cond, a, b Handle) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sc, err := e.lookup(cond)
	if err != nil {
		return Handle{}, err
	}
	if sc.kind != KindBool {
		return Handle{}, ErrKindMismatch
	}
	x, y, err := e.amountOperands(a, b)
	if err != nil {
		return Handle{}, err
	}
	mask := -(sc.value & 1)
	return e.issue((x&mask)|(y&^mask), KindUint64), nil
}

// AsConstant 为公开常量签发金额句柄。
func (e *Engine) AsConstant(v uint64) Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.issue(v, KindUint64)
}

// --- 授权部分 ---

// Allow 把密文的访问能力授予主体。授权只增不减。
func (e *Engine) Allow(h Handle, principal uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.lookup(h); err != nil {
		return err
	}
	// 零句柄对所有主体开放
	if h.IsZero() {
		return nil
	}
	grants, ok := e.acl[h]
	if !ok {
		grants = make(map[uuid.UUID]struct{})
		e.acl[h] = grants
	}
	grants[principal] = struct{}{}
	return nil
}

// IsAllowed 报告主体是否持有密文的访问授权。
func (e *Engine) IsAllowed(h Handle, principal uuid.UUID) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isAllowedLocked(h, principal)
}

func (e *Engine) isAllowedLocked(h Handle, principal uuid.UUID) bool {
	if h.IsZero() {
		return true
	}
	_, ok := e.acl[h][principal]
	return ok
}

// Grants 返回密文当前的授权主体列表，供落盘持久化使用。
func (e *Engine) Grants(h Handle) []uuid.UUID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(e.acl[h]))
	for id := range e.acl[h] {
		out = append(out, id)
	}
	return out
}
