package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ErrorTestSuite struct {
	suite.Suite
}

func TestErrorSuite(t *testing.T) {
	suite.Run(t, new(ErrorTestSuite))
}

func (suite *ErrorTestSuite) TestNewAndFormat() {
	err := New(ErrCodeNotHeld, "symbol not held")
	suite.Equal("[502] symbol not held", err.Error())
}

func (suite *ErrorTestSuite) TestWrapPreservesCause() {
	cause := fmt.Errorf("socket closed")
	err := Wrap(ErrCodeLinkDown, "broker link lost", cause)

	suite.Equal("[302] broker link lost: socket closed", err.Error())
	suite.Equal(cause, err.Unwrap())
	suite.True(Is(err, cause))
}

func (suite *ErrorTestSuite) TestGetCode() {
	tests := []struct {
		name     string
		err      error
		expected ErrorCode
	}{
		{name: "typed error", err: New(ErrCodeOrderFailed, "boom"), expected: ErrCodeOrderFailed},
		{name: "wrapped typed error", err: fmt.Errorf("outer: %w", New(ErrCodeQueryFailed, "q")), expected: ErrCodeQueryFailed},
		{name: "plain error", err: fmt.Errorf("plain"), expected: ErrCodeUnknown},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			suite.Equal(tc.expected, GetCode(tc.err))
		})
	}
}

func (suite *ErrorTestSuite) TestIsConnection() {
	suite.True(IsConnection(New(ErrCodeConnectFailed, "c")))
	suite.True(IsConnection(New(ErrCodeLinkDown, "d")))
	suite.False(IsConnection(New(ErrCodeNotHeld, "n")))
	suite.False(IsConnection(New(ErrCodeSignatureInvalid, "s")))
	suite.False(IsConnection(fmt.Errorf("plain")))
}
