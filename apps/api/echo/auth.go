package echoapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/eduanalytics/core"
	"github.com/trezcool/eduanalytics/core/academics"
	"github.com/trezcool/eduanalytics/core/portal"
	"github.com/trezcool/eduanalytics/core/user"
)

// RoleStudent is the role of the tokens issued to students.
const RoleStudent = "student"

const contextTokenKey = "userToken"

var signingMethod = jwt.SigningMethodHS256

// Claims represents the authorization claims transmitted via a JWT.
// The subject is the id of a staff user or of a student, depending on Role.
type Claims struct {
	jwt.StandardClaims
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
}

func newClaims(conf *core.Config, subject, name, email, role string) *Claims {
	now := time.Now()
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    conf.AppName,
			Subject:   subject,
			ExpiresAt: now.Add(conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		Name:  name,
		Email: email,
		Role:  role,
	}
}

func NewUserClaims(conf *core.Config, usr user.User) *Claims {
	return newClaims(conf, strconv.Itoa(usr.ID), usr.Name, usr.Email, usr.Role)
}

func NewStudentClaims(conf *core.Config, st academics.Student) *Claims {
	return newClaims(conf, strconv.Itoa(st.ID), st.Name, st.Email, RoleStudent)
}

// GenerateToken generates a signed JWT token string representing the Claims.
func GenerateToken(conf *core.Config, claims *Claims) (string, error) {
	token := jwt.NewWithClaims(signingMethod, claims)
	ss, err := token.SignedString([]byte(conf.SecretKey))
	return ss, errors.Wrap(err, "signing token")
}

func jwtMiddleware(conf *core.Config) echo.MiddlewareFunc {
	return middleware.JWTWithConfig(middleware.JWTConfig{
		SigningKey:    []byte(conf.SecretKey),
		SigningMethod: signingMethod.Alg(),
		ContextKey:    contextTokenKey,
		Claims:        new(Claims),
	})
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(contextTokenKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

// subjectID returns the numeric subject of the context claims.
func subjectID(ctx echo.Context) (int, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return 0, err
	}
	id, err := strconv.Atoi(claims.Subject)
	if err != nil {
		return 0, errUnauthorized
	}
	return id, nil
}

func contextIdentity(ctx echo.Context) (portal.Identity, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return portal.Identity{}, err
	}
	return portal.Identity{ID: claims.Subject, Name: claims.Name, Role: claims.Role}, nil
}

type authApi struct {
	conf         *core.Config
	userSvc      *user.Service
	academicsSvc *academics.Service
}

func registerAuthAPI(g *echo.Group, conf *core.Config, userSvc *user.Service, academicsSvc *academics.Service) {
	api := authApi{conf: conf, userSvc: userSvc, academicsSvc: academicsSvc}

	ag := g.Group("/auth")
	ag.POST("/login", api.login)
	ag.POST("/student-login", api.studentLogin)
}

func (api *authApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	usr, err := api.userSvc.Authenticate(ctx.Request().Context(), data.Email, data.Password)
	if err != nil {
		return err
	}
	token, err := GenerateToken(api.conf, NewUserClaims(api.conf, usr))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token, Role: usr.Role})
}

func (api *authApi) studentLogin(ctx echo.Context) error {
	var data StudentLoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StudentLoginRequest")
	}
	st, err := api.academicsSvc.AuthenticateStudent(ctx.Request().Context(), data.RegisterNo, data.DateOfBirth)
	if err != nil {
		return err
	}
	token, err := GenerateToken(api.conf, NewStudentClaims(api.conf, st))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token, Role: RoleStudent})
}

type (
	LoginRequest struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	StudentLoginRequest struct {
		RegisterNo  string `json:"register_no"`
		DateOfBirth string `json:"date_of_birth"`
	}

	LoginResponse struct {
		Token string `json:"token"`
		Role  string `json:"role"`
	}
)
