package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeGeocoder struct {
	place Place
	err   error
	calls int
}

func (f *fakeGeocoder) Reverse(ctx context.Context, lat, lon float64) (Place, error) {
	f.calls++
	return f.place, f.err
}

func TestChain(t *testing.T) {
	seattle := Place{City: "Seattle", Country: "United States"}
	tests := []struct {
		name       string
		first      *fakeGeocoder
		second     *fakeGeocoder
		want       Place
		wantErr    error
		wantSecond int
	}{
		{"first succeeds", &fakeGeocoder{place: seattle}, &fakeGeocoder{}, seattle, nil, 0},
		{"falls through on error", &fakeGeocoder{err: errors.New("quota")}, &fakeGeocoder{place: seattle}, seattle, nil, 1},
		{"not found is final", &fakeGeocoder{err: ErrNotFound}, &fakeGeocoder{place: seattle}, Place{}, ErrNotFound, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Chain{tt.first, tt.second}.Reverse(context.Background(), 47.6, -122.3)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Reverse() error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("Reverse() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Reverse() = %+v, want %+v", got, tt.want)
			}
			if tt.second.calls != tt.wantSecond {
				t.Errorf("second backend calls = %d, want %d", tt.second.calls, tt.wantSecond)
			}
		})
	}

	if _, err := (Chain{}).Reverse(context.Background(), 0, 0); err == nil {
		t.Error("empty chain should fail")
	}
	_, err := Chain{&fakeGeocoder{err: errors.New("a")}, &fakeGeocoder{err: errors.New("b")}}.Reverse(context.Background(), 0, 0)
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("all-failed chain error = %v", err)
	}
}

func TestNominatim_Reverse(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    Place
		wantErr error
		anyErr  bool
	}{
		{name: "city", status: 200, body: `{"address":{"city":"Seattle","country":"United States"}}`, want: Place{"Seattle", "United States"}},
		{name: "town fallback", status: 200, body: `{"address":{"town":"Leavenworth","county":"Chelan County","country":"United States"}}`, want: Place{"Leavenworth", "United States"}},
		{name: "county fallback", status: 200, body: `{"address":{"county":"Chelan County","country":"United States"}}`, want: Place{"Chelan County", "United States"}},
		{name: "ocean", status: 200, body: `{"error":"Unable to geocode"}`, wantErr: ErrNotFound},
		{name: "no city", status: 200, body: `{"address":{"country":"Antarctica"}}`, wantErr: ErrNotFound},
		{name: "server error", status: 503, body: ``, anyErr: true},
		{name: "bad json", status: 200, body: `{`, anyErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotQuery, gotUA string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotQuery = r.URL.RawQuery
				gotUA = r.Header.Get("User-Agent")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			n := NewNominatim(srv.URL, "test-agent", time.Second)
			got, err := n.Reverse(context.Background(), 47.6062, -122.3321)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Reverse() error = %v, want %v", err, tt.wantErr)
				}
			case tt.anyErr:
				if err == nil || errors.Is(err, ErrNotFound) {
					t.Fatalf("Reverse() error = %v, want backend error", err)
				}
			default:
				if err != nil {
					t.Fatalf("Reverse() error = %v", err)
				}
				if got != tt.want {
					t.Errorf("Reverse() = %+v, want %+v", got, tt.want)
				}
			}
			if gotUA != "test-agent" {
				t.Errorf("User-Agent = %q", gotUA)
			}
			if gotQuery == "" {
				t.Error("expected lat/lon query parameters")
			}
		})
	}
}

func TestNominatim_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := NewNominatim(srv.URL, "", time.Minute).Reverse(ctx, 1, 1); err == nil {
		t.Fatal("Reverse() should fail when the context expires")
	}
}
