package policy

import "context"

// memState is an in-memory StateReader/Journal for policy tests.
type memState struct {
	authTimes map[string]int64
	frozen    map[string]bool
	expiries  map[string]int64
	tvl       map[string]uint64
	indexed   []string
}

func newMemState() *memState {
	return &memState{
		authTimes: map[string]int64{},
		frozen:    map[string]bool{},
		expiries:  map[string]int64{},
		tvl:       map[string]uint64{},
	}
}

func (s *memState) AuthorizationTime(_ context.Context, hash string) (int64, error) {
	return s.authTimes[hash], nil
}

func (s *memState) FreezeRecord(_ context.Context, hash string) (bool, int64, error) {
	return s.frozen[hash], s.expiries[hash], nil
}

func (s *memState) TVL(_ context.Context, token string) (uint64, error) {
	return s.tvl[token], nil
}

func (s *memState) SetAuthorizationTime(_ context.Context, hash string, ts int64) error {
	if _, ok := s.authTimes[hash]; !ok {
		s.authTimes[hash] = ts
	}
	return nil
}

func (s *memState) SetFreeze(_ context.Context, hash string, frozen bool, expiry, _ int64) error {
	s.frozen[hash] = frozen
	s.expiries[hash] = expiry
	return nil
}

func (s *memState) IndexPayment(_ context.Context, hash, _, _ string, _ int64) error {
	s.indexed = append(s.indexed, hash)
	return nil
}

func testEnv(now int64) (*Env, *memState) {
	st := newMemState()
	return &Env{Now: now, State: st, Journal: st}, st
}
