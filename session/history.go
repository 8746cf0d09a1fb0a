package session

// Verdict 序列号检查结果
type Verdict uint8

const (
	Fresh     Verdict = iota // 比已见过的都新
	Reordered                // 在窗口内、迟到但未见过
	Duplicate                // 已见过
	Stale                    // 落在窗口之外，无法判断，按过期丢弃
)

func (v Verdict) String() string {
	switch v {
	case Fresh:
		return "fresh"
	case Reordered:
		return "reordered"
	case Duplicate:
		return "duplicate"
	case Stale:
		return "stale"
	}
	return "unknown"
}

// Accepted 新包或窗口内的乱序包可以处理
func (v Verdict) Accepted() bool { return v == Fresh || v == Reordered }

// History 有界的已收序列号环，用于去重与乱序识别（不保证顺序交付）
// 序列号按 uint32 回绕比较
type History struct {
	seqs    []uint32
	used    []bool
	highest uint32
	started bool
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = 64
	}
	return &History{seqs: make([]uint32, size), used: make([]bool, size)}
}

func (h *History) Size() int { return len(h.seqs) }

// Observe 判定并记录一个序列号
func (h *History) Observe(seq uint32) Verdict {
	if !h.started {
		h.started = true
		h.highest = seq
		h.record(seq)
		return Fresh
	}
	d := int32(seq - h.highest)
	switch {
	case d > 0:
		h.highest = seq
		h.record(seq)
		return Fresh
	case d == 0:
		return Duplicate
	case -int64(d) >= int64(len(h.seqs)):
		return Stale
	}
	slot := seq % uint32(len(h.seqs))
	if h.used[slot] && h.seqs[slot] == seq {
		return Duplicate
	}
	h.record(seq)
	return Reordered
}

func (h *History) record(seq uint32) {
	slot := seq % uint32(len(h.seqs))
	h.seqs[slot] = seq
	h.used[slot] = true
}
