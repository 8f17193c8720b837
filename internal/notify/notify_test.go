package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/quantbridge/quantbridge/internal/logger"
)

type NotifyTestSuite struct {
	suite.Suite
}

func TestNotifySuite(t *testing.T) {
	suite.Run(t, new(NotifyTestSuite))
}

func (suite *NotifyTestSuite) TestWebhookSendsSignedRequest() {
	const secret = "robot-secret"

	var gotQuery url.Values

	var gotBody textMessage

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		suite.NoError(json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"errcode":0,"errmsg":"ok"}`)
	}))
	defer srv.Close()

	fixed := time.UnixMilli(1700000000000)
	w := NewWebhook(srv.URL, "token-1", secret, logger.NewTestLogger())
	w.now = func() time.Time { return fixed }

	w.Send(context.Background(), "order placed")

	suite.Equal("token-1", gotQuery.Get("access_token"))
	suite.Equal("1700000000000", gotQuery.Get("timestamp"))

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("1700000000000\n" + secret))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	suite.Equal(expected, gotQuery.Get("sign"))

	suite.Equal("text", gotBody.MsgType)
	suite.Equal("order placed", gotBody.Text.Content)
}

func (suite *NotifyTestSuite) TestWebhookSwallowsServerErrors() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, "t", "s", logger.NewTestLogger())

	// must not panic or propagate
	w.Send(context.Background(), "ignored")
}

func (suite *NotifyTestSuite) TestNop() {
	Nop{}.Send(context.Background(), "dropped")
}
