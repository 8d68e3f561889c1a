package sim

import "sync"

// Operation names accepted by FailNext.
const (
	OpTransfer     = "transfer"
	OpTransferFrom = "transferFrom"
	OpDeposit      = "deposit"
	OpWithdraw     = "withdraw"
	OpStake        = "stake"
	OpUnstake      = "unstake"
	OpClaim        = "claim"
	OpSwap         = "swap"
)

// faults queues one-shot errors per operation.
type faults struct {
	mu   sync.Mutex
	next map[string][]error
}

// FailNext makes the next call of op return err. Calls queue in order.
func (f *faults) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.next == nil {
		f.next = make(map[string][]error)
	}
	f.next[op] = append(f.next[op], err)
}

func (f *faults) take(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	queue := f.next[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	f.next[op] = queue[1:]
	return err
}
