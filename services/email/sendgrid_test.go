package emailsvc

import (
	"bytes"
	"net/http"
	"net/mail"
	"testing"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/eduanalytics/core"
	testutil "github.com/trezcool/eduanalytics/tests"
)

type fakeClient struct {
	sent []*sgmail.SGMailV3
	res  *rest.Response
	err  error
}

func (c *fakeClient) Send(email *sgmail.SGMailV3) (*rest.Response, error) {
	c.sent = append(c.sent, email)
	return c.res, c.err
}

func newTestSendgridService(client sendClient) *sendgridService {
	conf := core.NewTestConfig()
	from := conf.DefaultFromAddress()
	return &sendgridService{
		client:     client,
		from:       sgmail.NewEmail(from.Name, from.Address),
		subjPrefix: "[" + conf.AppName + "] ",
		env:        conf.Env,
		logger:     testutil.NewLogger(),
	}
}

func reportMessage() core.EmailMessage {
	return core.EmailMessage{
		To:          []mail.Address{{Name: "Admin", Address: "admin@test.edu"}},
		Subject:     "Upload report: marks.csv (success)",
		TextContent: "Failed rows: 1",
		Attachments: []core.Attachment{{Content: bytes.NewBufferString("cm93"), ContentType: "text/csv", Filename: "errors.csv"}},
		Category:    "ingestion-report",
		Args:        map[string]string{"run_id": "42"},
	}
}

func TestSendgridService_prepare(t *testing.T) {
	svc := newTestSendgridService(nil)
	m := svc.prepare(reportMessage())

	require.Len(t, m.Personalizations, 1)
	assert.Equal(t, "[EduAnalytics] Upload report: marks.csv (success)", m.Personalizations[0].Subject)
	require.Len(t, m.Personalizations[0].To, 1)
	assert.Equal(t, "admin@test.edu", m.Personalizations[0].To[0].Address)

	require.Len(t, m.Content, 1, "empty html content is left out")
	assert.Equal(t, "text/plain", m.Content[0].Type)

	require.Len(t, m.Attachments, 1)
	assert.Equal(t, "cm93", m.Attachments[0].Content)
	assert.Equal(t, "attachment", m.Attachments[0].Disposition)

	assert.Equal(t, []string{"TEST", "ingestion-report"}, m.Categories)
	assert.Equal(t, map[string]string{"run_id": "42"}, m.CustomArgs)
}

func TestSendgridService_send(t *testing.T) {
	tests := []struct {
		name    string
		client  *fakeClient
		wantErr bool
	}{
		{name: "accepted", client: &fakeClient{res: &rest.Response{StatusCode: http.StatusAccepted}}},
		{name: "rejected", client: &fakeClient{res: &rest.Response{StatusCode: http.StatusBadRequest, Body: "bad"}}, wantErr: true},
		{name: "unreachable", client: &fakeClient{err: errors.New("dial tcp: timeout")}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newTestSendgridService(tt.client).send(reportMessage())
			assert.Equal(t, tt.wantErr, err != nil, err)
			assert.Len(t, tt.client.sent, 1)
		})
	}
}
