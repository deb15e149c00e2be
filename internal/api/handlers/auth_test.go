package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/codeclash/backend/internal/config"
)

func authTestConfig() *config.Config {
	return &config.Config{JWTSecret: "test-secret", TokenExpiryHours: 24}
}

func postJSON(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func userColumns() []string {
	return []string{"id", "username", "rating", "wins", "losses", "total_matches", "created_at"}
}

func TestRegisterCreatesAccount(t *testing.T) {
	db, mock := newHandlerMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WithArgs(sqlmock.AnyArg(), "alice", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(userColumns()).
			AddRow("u1", "alice", 1000, 0, 0, 0, time.Now()))

	router := gin.New()
	router.POST("/register", Register(db, authTestConfig()))
	w := postJSON(router, "/register", `{"username":"alice","password":"password123"}`)

	require.Equal(t, http.StatusCreated, w.Code)
	var body struct {
		Token string `json:"token"`
		User  struct {
			ID       string `json:"id"`
			Username string `json:"username"`
			Rating   int    `json:"rating"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.Token)
	require.Equal(t, "alice", body.User.Username)
	require.Equal(t, 1000, body.User.Rating)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterRejectsBadUsername(t *testing.T) {
	db, _ := newHandlerMock(t)
	router := gin.New()
	router.POST("/register", Register(db, authTestConfig()))

	for _, username := range []string{"ab", "has space", "way_too_long_for_the_limit_xx", "emoji🙂"} {
		w := postJSON(router, "/register", `{"username":"`+username+`","password":"password123"}`)
		require.Equal(t, http.StatusBadRequest, w.Code, "username %q", username)
	}
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	db, _ := newHandlerMock(t)
	router := gin.New()
	router.POST("/register", Register(db, authTestConfig()))

	w := postJSON(router, "/register", `{"username":"alice","password":"short"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	db, mock := newHandlerMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WithArgs(sqlmock.AnyArg(), "alice", sqlmock.AnyArg()).
		WillReturnError(errors.New(`pq: duplicate key value violates unique constraint "users_username_key"`))

	router := gin.New()
	router.POST("/register", Register(db, authTestConfig()))
	w := postJSON(router, "/register", `{"username":"alice","password":"password123"}`)

	require.Equal(t, http.StatusConflict, w.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func loginColumns() []string {
	return []string{"id", "username", "password_hash", "rating", "wins", "losses", "total_matches", "created_at"}
}

func TestLoginSuccess(t *testing.T) {
	db, mock := newHandlerMock(t)

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE username = $1")).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(loginColumns()).
			AddRow("u1", "alice", string(hash), 1200, 3, 1, 4, time.Now()))

	router := gin.New()
	router.POST("/login", Login(db, authTestConfig()))
	w := postJSON(router, "/login", `{"username":"alice","password":"password123"}`)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.Token)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoginWrongPassword(t *testing.T) {
	db, mock := newHandlerMock(t)

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE username = $1")).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(loginColumns()).
			AddRow("u1", "alice", string(hash), 1200, 3, 1, 4, time.Now()))

	router := gin.New()
	router.POST("/login", Login(db, authTestConfig()))
	w := postJSON(router, "/login", `{"username":"alice","password":"nope-nope"}`)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoginUnknownUser(t *testing.T) {
	db, mock := newHandlerMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE username = $1")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(loginColumns()))

	router := gin.New()
	router.POST("/login", Login(db, authTestConfig()))
	w := postJSON(router, "/login", `{"username":"ghost","password":"password123"}`)

	// Indistinguishable from a wrong password.
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}
