package pagination

import (
	"errors"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestParsePageSize(t *testing.T) {
	opts := Options{DefaultPageSize: 20, MaxPageSize: 100}

	cases := []struct {
		name    string
		query   string
		want    int
		wantErr error
	}{
		{name: "default when omitted", query: "", want: 20},
		{name: "explicit value", query: "pageSize=35", want: 35},
		{name: "clamped to max", query: "pageSize=500", want: 100},
		{name: "not a number", query: "pageSize=abc", wantErr: ErrInvalidPageSize},
		{name: "zero", query: "pageSize=0", wantErr: ErrInvalidPageSize},
		{name: "negative", query: "pageSize=-5", wantErr: ErrInvalidPageSize},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			values, err := url.ParseQuery(tc.query)
			if err != nil {
				t.Fatalf("parse query: %v", err)
			}
			params, err := Parse(values, opts)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if params.PageSize != tc.want {
				t.Fatalf("expected page size %d, got %d", tc.want, params.PageSize)
			}
		})
	}
}

func TestParseDefaultsWithoutOptions(t *testing.T) {
	params, err := Parse(nil, Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d, got %d", DefaultPageSize, params.PageSize)
	}
	if params.PageToken != "" {
		t.Fatalf("expected empty token, got %q", params.PageToken)
	}
}

func TestParseAcceptsRoundTrippedToken(t *testing.T) {
	type orderCursor struct {
		ID        string    `json:"id"`
		CreatedAt time.Time `json:"createdAt"`
	}

	issued := orderCursor{
		ID:        "order-42",
		CreatedAt: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
	token, err := EncodeCursor(issued)
	if err != nil {
		t.Fatalf("EncodeCursor: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/v1/orders?pageSize=10&pageToken="+url.QueryEscape(token), nil)
	params, err := FromRequest(req, Options{DefaultPageSize: 20, MaxPageSize: 100})
	if err != nil {
		t.Fatalf("FromRequest: %v", err)
	}
	if params.PageToken != token {
		t.Fatalf("expected token to pass through, got %q", params.PageToken)
	}

	var decoded orderCursor
	if err := DecodeCursor(params.PageToken, &decoded); err != nil {
		t.Fatalf("DecodeCursor: %v", err)
	}
	if decoded.ID != issued.ID || !decoded.CreatedAt.Equal(issued.CreatedAt) {
		t.Fatalf("cursor did not round trip: %+v", decoded)
	}
}

func TestParseRejectsMalformedToken(t *testing.T) {
	cases := []struct {
		name  string
		token string
	}{
		{name: "not base64", token: "!!not-base64!!"},
		{name: "base64 but not json", token: "bm90LWpzb24"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			values := url.Values{"pageToken": []string{tc.token}}
			_, err := Parse(values, Options{})
			if !errors.Is(err, ErrInvalidPageToken) {
				t.Fatalf("expected ErrInvalidPageToken, got %v", err)
			}
		})
	}
}

func TestDecodeCursorRejectsEmptyToken(t *testing.T) {
	var cursor struct{}
	if err := DecodeCursor("", &cursor); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken for empty token, got %v", err)
	}
	if err := DecodeCursor("   ", &cursor); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken for blank token, got %v", err)
	}
}
