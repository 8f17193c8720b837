package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type RetryTestSuite struct {
	suite.Suite
}

func TestRetrySuite(t *testing.T) {
	suite.Run(t, new(RetryTestSuite))
}

func (suite *RetryTestSuite) TestSucceedsFirstAttempt() {
	calls := 0
	policy := Policy{MaxAttempts: 3, Interval: time.Millisecond}

	err := policy.Do(context.Background(), func() error {
		calls++
		return nil
	})

	suite.NoError(err)
	suite.Equal(1, calls)
}

func (suite *RetryTestSuite) TestExhaustsAttempts() {
	calls := 0
	policy := Policy{MaxAttempts: 3, Interval: time.Millisecond}

	err := policy.Do(context.Background(), func() error {
		calls++
		return fmt.Errorf("attempt %d failed", calls)
	})

	suite.Error(err)
	suite.Equal(3, calls)
	suite.Contains(err.Error(), "attempt 3 failed")
}

func (suite *RetryTestSuite) TestBeforeRetryHook() {
	var hookAttempts []int

	var hookErrs []error

	calls := 0
	policy := Policy{
		MaxAttempts: 3,
		Interval:    time.Millisecond,
		BeforeRetry: func(attempt int, err error) {
			hookAttempts = append(hookAttempts, attempt)
			hookErrs = append(hookErrs, err)
		},
	}

	err := policy.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("fail %d", calls)
		}
		return nil
	})

	suite.NoError(err)
	// hook runs before the second and third attempts, carrying the prior error
	suite.Equal([]int{2, 3}, hookAttempts)
	suite.Require().Len(hookErrs, 2)
	suite.EqualError(hookErrs[0], "fail 1")
	suite.EqualError(hookErrs[1], "fail 2")
}

func (suite *RetryTestSuite) TestContextCancellation() {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	policy := Policy{MaxAttempts: 5, Interval: 50 * time.Millisecond}

	err := policy.Do(ctx, func() error {
		calls++
		cancel()
		return fmt.Errorf("always fails")
	})

	suite.Error(err)
	suite.Equal(1, calls)
}

func (suite *RetryTestSuite) TestZeroAttemptsTreatedAsOne() {
	calls := 0
	policy := Policy{}

	_ = policy.Do(context.Background(), func() error {
		calls++
		return fmt.Errorf("nope")
	})

	suite.Equal(1, calls)
}
