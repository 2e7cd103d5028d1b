package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"animehub/internal/db"
	"animehub/internal/service"
	"animehub/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func TestNewSessionToken(t *testing.T) {
	tok1 := NewSessionToken()
	tok2 := NewSessionToken()

	if tok1 == tok2 {
		t.Error("NewSessionToken() should produce unique tokens")
	}
	if _, err := uuid.Parse(tok1); err != nil {
		t.Errorf("NewSessionToken() = %q, not a uuid: %v", tok1, err)
	}
}

func TestNewRoomToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok := NewRoomToken()
		if !strings.HasPrefix(tok, "party-") {
			t.Fatalf("NewRoomToken() = %q, missing party- prefix", tok)
		}
		if tok != strings.ToLower(tok) {
			t.Fatalf("NewRoomToken() = %q, want lower case", tok)
		}
		if len(tok) != len("party-")+26 {
			t.Fatalf("NewRoomToken() = %q, unexpected length", tok)
		}
		if seen[tok] {
			t.Fatalf("NewRoomToken() repeated %q", tok)
		}
		seen[tok] = true
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{"header", "Bearer abc", "", "abc"},
		{"lower case scheme", "bearer abc", "", "abc"},
		{"header wins over query", "Bearer abc", "xyz", "abc"},
		{"query fallback", "", "xyz", "xyz"},
		{"other scheme", "Basic abc", "", ""},
		{"scheme only", "Bearer ", "", ""},
		{"nothing", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			r := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := BearerToken(r); got != tt.want {
				t.Errorf("BearerToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gdb, err := db.Connect("sqlite://" + filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	sessions := service.NewSessionService(store.New(gdb), time.Hour, NewSessionToken)
	id, err := sessions.CreateOrRefresh(context.Background(), "alice", "", "")
	if err != nil {
		t.Fatal(err)
	}

	r := gin.New()
	r.GET("/me", SessionMiddleware(sessions), func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil || CurrentToken(c) != id.Token {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, user.Username)
	})

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantBody string
	}{
		{"valid", "Bearer " + id.Token, http.StatusOK, "alice"},
		{"missing", "", http.StatusUnauthorized, "missing bearer token"},
		{"unknown", "Bearer nope", http.StatusUnauthorized, "invalid session"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want to contain %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestCurrentUser_Missing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if CurrentUser(c) != nil {
		t.Error("CurrentUser() on empty context should be nil")
	}
	if CurrentToken(c) != "" {
		t.Error("CurrentToken() on empty context should be empty")
	}
}
