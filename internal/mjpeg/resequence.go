package mjpeg

import "slices"

// resequencer releases results strictly in pairing order.
type resequencer struct {
	next    uint64
	pending map[uint64]EncodeResult
}

func newResequencer() *resequencer {
	return &resequencer{pending: make(map[uint64]EncodeResult)}
}

// push stores res and returns every result that is now in order.
func (r *resequencer) push(res EncodeResult) []EncodeResult {
	r.pending[res.Sequence] = res
	var out []EncodeResult
	for {
		next, ok := r.pending[r.next]
		if !ok {
			return out
		}
		delete(r.pending, r.next)
		out = append(out, next)
		r.next++
	}
}

// flush returns whatever is still held, lowest sequence first. It is only
// non-empty when a sequence number never arrived.
func (r *resequencer) flush() []EncodeResult {
	keys := make([]uint64, 0, len(r.pending))
	for k := range r.pending {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]EncodeResult, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.pending[k])
		delete(r.pending, k)
	}
	return out
}
