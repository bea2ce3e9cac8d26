package misc

import "math"

// RoundAmount 把解码得到的浮点数还原为整数金额。
// CKKS 是近似算术，解码结果带有微小噪声，四舍五入即可消除。
func RoundAmount(v float64) uint64 {
	r := math.Round(v)
	if r < 0 {
		return 0
	}
	return uint64(r)
}
