package handlers

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestGetUserIDFromContext(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name string
		val  any
		set  bool
		want int64
		ok   bool
	}{
		{name: "missing"},
		{name: "int64", val: int64(42), set: true, want: 42, ok: true},
		{name: "float from claims", val: float64(7), set: true, want: 7, ok: true},
		{name: "zero", val: int64(0), set: true},
		{name: "wrong type", val: "42", set: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			if tc.set {
				c.Set("user_id", tc.val)
			}
			got, ok := getUserID(c)
			if got != tc.want || ok != tc.ok {
				t.Fatalf("getUserID = %d, %v; want %d, %v", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestQueryInt(t *testing.T) {
	if n := queryInt("", 30); n != 30 {
		t.Fatalf("empty = %d", n)
	}
	if n := queryInt("x", 30); n != 30 {
		t.Fatalf("garbage = %d", n)
	}
	if n := queryInt("5", 30); n != 5 {
		t.Fatalf("5 = %d", n)
	}
}
