package tests

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	echoapi "github.com/trezcool/eduanalytics/apps/api/echo"
	"github.com/trezcool/eduanalytics/core"
	"github.com/trezcool/eduanalytics/core/academics"
	"github.com/trezcool/eduanalytics/core/ingest"
	"github.com/trezcool/eduanalytics/core/portal"
	"github.com/trezcool/eduanalytics/core/user"
	emailsvc "github.com/trezcool/eduanalytics/services/email"
	inmemdb "github.com/trezcool/eduanalytics/storage/database/inmem"
	testutil "github.com/trezcool/eduanalytics/tests"
)

var (
	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errForbidden    = httpErr{Error: "permission denied"}
	errNotFound     = httpErr{Error: "not found"}
)

type fixture struct {
	conf       *core.Config
	app        *echoapi.Server
	db         *inmemdb.DB
	store      *inmemdb.AcademicsStore
	usrRepo    user.Repository
	portalRepo *inmemdb.PortalRepository
}

func setup(t *testing.T) fixture {
	conf := core.NewTestConfig()
	validate, translator := testutil.NewValidator()
	logger := testutil.NewLogger()
	core.ParseEmailTemplates(conf, logger)

	// set up DB & repos
	db := inmemdb.New()
	store := inmemdb.NewAcademicsStore(db)
	usrRepo := inmemdb.NewUserRepository(db)
	portalRepo := inmemdb.NewPortalRepository()

	// set up services
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	emailsvc.ClearSentMessages()

	// set up server
	app := echoapi.NewServer(conf, nil /* shutdown */, &echoapi.Deps{
		Logger:       logger,
		Translator:   translator,
		UserSvc:      user.NewService(usrRepo, validate),
		AcademicsSvc: academics.NewService(store, validate),
		Ingestion:    ingest.NewPipeline(store, validate, translator, mailSvc, logger),
		PortalSvc:    portal.NewService(portalRepo, validate),
	})

	return fixture{conf: conf, app: app, db: db, store: store, usrRepo: usrRepo, portalRepo: portalRepo}
}

func (f fixture) userToken(t *testing.T, usr user.User) string {
	token, err := echoapi.GenerateToken(f.conf, echoapi.NewUserClaims(f.conf, usr))
	if err != nil {
		t.Fatalf("userToken() failed: %v", err)
	}
	return token
}

func (f fixture) studentToken(t *testing.T, st academics.Student) string {
	token, err := echoapi.GenerateToken(f.conf, echoapi.NewStudentClaims(f.conf, st))
	if err != nil {
		t.Fatalf("studentToken() failed: %v", err)
	}
	return token
}

// portalToken issues a token like the external auth service does.
func (f fixture) portalToken(t *testing.T, id, name, role string) string {
	claims := echoapi.NewUserClaims(f.conf, user.User{Name: name, Role: role})
	claims.Subject = id
	token, err := echoapi.GenerateToken(f.conf, claims)
	if err != nil {
		t.Fatalf("portalToken() failed: %v", err)
	}
	return token
}

func (f fixture) run(t *testing.T, tests []httpTest) {
	for _, tt := range tests {
		if tt.method == "" {
			tt.method = http.MethodGet
		}
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			f.app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

// withMethodPath sets the method and path of the tests that do not set theirs.
func withMethodPath(method, path string, tests []httpTest) []httpTest {
	for i := range tests {
		if tests[i].method == "" {
			tests[i].method = method
		}
		if tests[i].path == "" {
			tests[i].path = path
		}
	}
	return tests
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newUploadRequest(t *testing.T, path, token, filename, content string) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("newUploadRequest() failed: %v", err)
		}
		_, _ = part.Write([]byte(content))
	}
	if err := w.Close(); err != nil {
		t.Fatalf("newUploadRequest() failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, httptest.NewRecorder()
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

// checkCodeAndData compares the response with tt; a nil wantData only checks the code.
func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode() failed: %v; body %s", err, rec.Body.String())
	}
}
