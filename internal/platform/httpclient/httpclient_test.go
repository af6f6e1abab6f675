package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

type echoReq struct {
	Name string `json:"name"`
}

type echoResp struct {
	Greeting string `json:"greeting"`
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	e := echo.New()
	e.POST("/hello", func(c echo.Context) error {
		if ct := c.Request().Header.Get("Content-Type"); ct != "application/json" {
			return c.String(http.StatusUnsupportedMediaType, ct)
		}
		var in echoReq
		if err := c.Bind(&in); err != nil {
			return err
		}
		return c.JSON(http.StatusOK, echoResp{Greeting: "hi " + in.Name})
	})
	e.POST("/fail", func(c echo.Context) error {
		return c.String(http.StatusBadGateway, "upstream down")
	})
	e.POST("/slow", func(c echo.Context) error {
		time.Sleep(500 * time.Millisecond)
		return c.NoContent(http.StatusOK)
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func TestPostJSON(t *testing.T) {
	srv := newServer(t)
	c := New(time.Second)

	var out echoResp
	if err := c.PostJSON(context.Background(), srv.URL+"/hello", echoReq{Name: "bot"}, &out); err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if out.Greeting != "hi bot" {
		t.Errorf("greeting = %q", out.Greeting)
	}
}

func TestPostJSON_Status(t *testing.T) {
	srv := newServer(t)
	err := New(time.Second).PostJSON(context.Background(), srv.URL+"/fail", echoReq{}, nil)

	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadGateway {
		t.Fatalf("expected StatusError 502, got %v", err)
	}
	if !errors.Is(err, ErrStatus) || !strings.Contains(se.Body, "upstream down") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPostJSON_Deadline(t *testing.T) {
	srv := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := New(time.Minute).PostJSON(ctx, srv.URL+"/slow", echoReq{}, nil); err == nil {
		t.Fatal("expected deadline error")
	}
}

func TestPostJSON_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := New(0).PostJSON(ctx, "http://127.0.0.1:1/x", echoReq{}, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRedactURL(t *testing.T) {
	got := redactURL("https://api.telegram.org/bot123:secret/sendMessage")
	if got != "https://api.telegram.org" {
		t.Errorf("redactURL = %q", got)
	}
}
