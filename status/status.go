package status

//PoolState lifecycle state of a worker pool
type PoolState string

const (
	//RUNNING pool accepts and executes work
	RUNNING PoolState = "RUNNING"
	//DRAINING pool no longer accepts work and is finishing queued and in-flight work
	DRAINING PoolState = "DRAINING"
	//STOPPED pool has terminated, abandoned work was cancelled
	STOPPED PoolState = "STOPPED"
)

var states = map[PoolState]int{
	RUNNING:  0,
	DRAINING: 1,
	STOPPED:  2,
}

//Accepting whether a pool in this state takes new work
func (s PoolState) Accepting() bool {
	return s == RUNNING
}

//Terminal whether this state is final
func (s PoolState) Terminal() bool {
	return s == STOPPED
}

//And merge two states, the more advanced one wins
func (s PoolState) And(other PoolState) PoolState {
	i1, ok1 := states[s]
	i2, ok2 := states[other]
	if ok1 && ok2 {
		if i1 > i2 {
			return s
		}
		return other
	} else if ok1 {
		return s
	}
	return other
}
