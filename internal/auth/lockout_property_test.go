package auth

import (
	"errors"
	"testing"

	"pgregory.net/rapid"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/principal/entity"
)

// TestLockoutStateMachine drives random sequences of right and wrong
// passwords through Login and compares the store against a reference model.
func TestLockoutStateMachine(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t)
		threshold := f.svc.Tracker().Threshold()
		attemptsOK := rapid.SliceOfN(rapid.Bool(), 1, 15).Draw(rt, "correct")

		count, locked := 0, false
		for i, correct := range attemptsOK {
			pw := badPass
			if correct {
				pw = goodPass
			}
			_, err := f.login(entity.KindMember, memberKey, pw)

			var want error
			switch {
			case locked:
				want = apperr.ErrAccountLocked
			case correct:
				count = 0
			default:
				count++
				locked = count >= threshold
				want = apperr.ErrInvalidPassword
			}
			if want == nil && err != nil {
				rt.Fatalf("step %d: unexpected error %v", i, err)
			}
			if want != nil && !errors.Is(err, want) {
				rt.Fatalf("step %d: got %v, want %v", i, err, want)
			}

			cur := f.state(t, f.member)
			if cur.FailureCount != count || cur.Locked != locked {
				rt.Fatalf("step %d: store (%d,%v) model (%d,%v)", i, cur.FailureCount, cur.Locked, count, locked)
			}
		}
		if got := len(f.store.Attempts(entity.KindMember, f.member.ID)); got != len(attemptsOK) {
			rt.Fatalf("attempt records %d, calls %d", got, len(attemptsOK))
		}
	})
}
