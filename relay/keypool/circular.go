package keypool

import (
	"math/rand"
	"sync"
	"time"

	"github.com/Laisky/errors/v2"
)

// Scheduling algorithms for key selection inside one provider.
const (
	ScheduleRoundRobin    = "round_robin"
	ScheduleRandom        = "random"
	ScheduleWeighted      = "weighted"
	ScheduleFixedPriority = "fixed_priority"
	ScheduleSmart         = "smart"
)

// ErrAllRateLimited is returned by Next when every usable key is cooling
// down or over its windows. The dispatcher skips the provider on this error.
var ErrAllRateLimited = errors.New("all keys are rate limited")

type item struct {
	key      string
	weight   int
	disabled bool

	coolingUntil time.Time
	// requestLog tracks issue timestamps per resolved limit scope so each
	// window is enforced independently.
	requestLog map[string][]time.Time
}

// CircularList hands out keys for one provider. All methods are safe for
// concurrent use.
type CircularList struct {
	mu       sync.Mutex
	items    []*item
	index    int
	lastIdx  int
	limits   ScopedLimits
	schedule string

	now func() time.Time
}

// NewCircularList builds a list from keys in priority order. disabled marks
// keys loaded in the present-but-disabled form.
func NewCircularList(keys []string, disabled []bool, limits ScopedLimits, schedule string) *CircularList {
	l := &CircularList{
		items:    make([]*item, 0, len(keys)),
		limits:   limits,
		schedule: schedule,
		lastIdx:  -1,
		now:      time.Now,
	}
	if l.schedule == "" {
		l.schedule = ScheduleRoundRobin
	}
	for i, key := range keys {
		it := &item{key: key, weight: 1, requestLog: make(map[string][]time.Time)}
		if i < len(disabled) && disabled[i] {
			it.disabled = true
		}
		l.items = append(l.items, it)
	}
	return l
}

// SetWeights assigns selection weights for the weighted schedule. Keys
// absent from weights keep weight 1.
func (l *CircularList) SetWeights(weights map[string]int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, it := range l.items {
		if w, ok := weights[it.key]; ok && w > 0 {
			it.weight = w
		}
	}
}

// Len returns the number of keys, disabled ones included.
func (l *CircularList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Next returns the next usable key for model and counts the grant against
// its rate-limit windows. Returns ErrAllRateLimited when nothing is usable.
func (l *CircularList) Next(model string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.items)
	if n == 0 {
		return "", errors.New("no keys configured")
	}

	switch l.schedule {
	case ScheduleRandom:
		return l.nextRandomLocked(model)
	case ScheduleWeighted:
		return l.nextWeightedLocked(model)
	case ScheduleFixedPriority:
		return l.nextFromLocked(0, model, false)
	default: // round_robin and smart rotate the cursor
		return l.nextFromLocked(l.index, model, true)
	}
}

func (l *CircularList) nextWeightedLocked(model string) (string, error) {
	var usable []int
	total := 0
	for idx, it := range l.items {
		if l.usableLocked(idx, model) {
			usable = append(usable, idx)
			total += it.weight
		}
	}
	if len(usable) == 0 {
		return "", errors.WithStack(ErrAllRateLimited)
	}
	pick := rand.Intn(total)
	for _, idx := range usable {
		pick -= l.items[idx].weight
		if pick < 0 {
			l.recordLocked(idx, model)
			l.lastIdx = idx
			return l.items[idx].key, nil
		}
	}
	// Cursor-stable fallback, unreachable unless weights mutate mid-pick.
	idx := usable[len(usable)-1]
	l.recordLocked(idx, model)
	l.lastIdx = idx
	return l.items[idx].key, nil
}

func (l *CircularList) nextFromLocked(start int, model string, advance bool) (string, error) {
	n := len(l.items)
	for offset := 0; offset < n; offset++ {
		idx := (start + offset) % n
		if l.usableLocked(idx, model) {
			l.recordLocked(idx, model)
			l.lastIdx = idx
			if advance {
				l.index = (idx + 1) % n
			}
			return l.items[idx].key, nil
		}
	}
	return "", errors.WithStack(ErrAllRateLimited)
}

func (l *CircularList) nextRandomLocked(model string) (string, error) {
	var usable []int
	for idx := range l.items {
		if l.usableLocked(idx, model) {
			usable = append(usable, idx)
		}
	}
	if len(usable) == 0 {
		return "", errors.WithStack(ErrAllRateLimited)
	}
	idx := usable[rand.Intn(len(usable))]
	l.recordLocked(idx, model)
	l.lastIdx = idx
	return l.items[idx].key, nil
}

// AfterNextCurrent returns the key handed out by the most recent Next
// without advancing the cursor. Before any Next it returns the first key.
func (l *CircularList) AfterNextCurrent() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) == 0 {
		return ""
	}
	if l.lastIdx < 0 {
		return l.items[0].key
	}
	return l.items[l.lastIdx].key
}

// SetCooling excludes key from rotation for d. A non-positive duration
// clears the cooldown.
func (l *CircularList) SetCooling(key string, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, it := range l.items {
		if it.key != key {
			continue
		}
		if d <= 0 {
			it.coolingUntil = time.Time{}
		} else {
			it.coolingUntil = l.now().Add(d)
		}
		return
	}
}

// IsAllRateLimited reports whether Next(model) would fail right now.
func (l *CircularList) IsAllRateLimited(model string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for idx := range l.items {
		if l.usableLocked(idx, model) {
			return false
		}
	}
	return true
}

// PopLastRequestLog removes the most recent grant of key for model's scope.
// Errors exempt from cooldown also should not burn rate-limit budget.
func (l *CircularList) PopLastRequestLog(key, model string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, it := range l.items {
		if it.key != key {
			continue
		}
		scope := l.scopeForLocked(model)
		log := it.requestLog[scope]
		if len(log) > 0 {
			it.requestLog[scope] = log[:len(log)-1]
		}
		return
	}
}

// Reorder moves the named keys to the front of the list in the given
// order. Keys not named keep their relative order after them; names not
// in the list are ignored.
func (l *CircularList) Reorder(ordered []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	byKey := make(map[string]*item, len(l.items))
	for _, it := range l.items {
		byKey[it.key] = it
	}
	next := make([]*item, 0, len(l.items))
	taken := make(map[string]bool, len(ordered))
	for _, key := range ordered {
		if it, ok := byKey[key]; ok && !taken[key] {
			next = append(next, it)
			taken[key] = true
		}
	}
	for _, it := range l.items {
		if !taken[it.key] {
			next = append(next, it)
		}
	}
	l.items = next
	l.index = 0
	l.lastIdx = -1
}

// TransposeRegroup interleaves a ranked key list in blocks: the keys are
// laid out into rows of blockSize and read back column by column. With
// fewer keys than one block the input is returned unchanged.
func TransposeRegroup(keys []string, blockSize int) []string {
	if blockSize <= 0 || len(keys) <= blockSize {
		return keys
	}
	rows := (len(keys) + blockSize - 1) / blockSize
	out := make([]string, 0, len(keys))
	for col := 0; col < blockSize; col++ {
		for row := 0; row < rows; row++ {
			idx := row*blockSize + col
			if idx < len(keys) {
				out = append(out, keys[idx])
			}
		}
	}
	return out
}

// SetDisabled toggles a key without rebuilding the list.
func (l *CircularList) SetDisabled(key string, disabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, it := range l.items {
		if it.key == key {
			it.disabled = disabled
			return
		}
	}
}

// Keys returns the keys in priority order along with their disabled flags.
func (l *CircularList) Keys() (keys []string, disabled []bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, it := range l.items {
		keys = append(keys, it.key)
		disabled = append(disabled, it.disabled)
	}
	return keys, disabled
}

func (l *CircularList) usableLocked(idx int, model string) bool {
	it := l.items[idx]
	if it.disabled {
		return false
	}
	now := l.now()
	if now.Before(it.coolingUntil) {
		return false
	}

	scope, limits := l.limits.ResolveScope(model)
	if len(limits) == 0 {
		return true
	}
	log := l.pruneLocked(it, scope, limits, now)
	for _, limit := range limits {
		count := 0
		cutoff := now.Add(-limit.Window)
		for i := len(log) - 1; i >= 0; i-- {
			if log[i].After(cutoff) {
				count++
			} else {
				break
			}
		}
		if count >= limit.Count {
			return false
		}
	}
	return true
}

func (l *CircularList) recordLocked(idx int, model string) {
	scope, limits := l.limits.ResolveScope(model)
	if len(limits) == 0 {
		return
	}
	it := l.items[idx]
	it.requestLog[scope] = append(it.requestLog[scope], l.now())
}

// pruneLocked drops timestamps older than the widest window so logs stay
// bounded.
func (l *CircularList) pruneLocked(it *item, scope string, limits []Limit, now time.Time) []time.Time {
	var widest time.Duration
	for _, limit := range limits {
		if limit.Window > widest {
			widest = limit.Window
		}
	}
	log := it.requestLog[scope]
	cutoff := now.Add(-widest)
	firstLive := len(log)
	for i, ts := range log {
		if ts.After(cutoff) {
			firstLive = i
			break
		}
	}
	if firstLive > 0 {
		log = append([]time.Time(nil), log[firstLive:]...)
		it.requestLog[scope] = log
	}
	return log
}

func (l *CircularList) scopeForLocked(model string) string {
	scope, _ := l.limits.ResolveScope(model)
	return scope
}
