package history

import (
	"fmt"
	"testing"
	"time"

	"github.com/kjstillabower/msn-weather-service/internal/models"
)

func newTestStore(t *testing.T, maxSessions, limit int) *Store {
	t.Helper()
	s, err := New(maxSessions, limit)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	})
	return s
}

func cities(list []models.RecentSearch) []string {
	out := make([]string, len(list))
	for i, r := range list {
		out[i] = r.Location.City
	}
	return out
}

func TestStore_NewestFirstAndCapped(t *testing.T) {
	s := newTestStore(t, 10, 3)
	for _, c := range []string{"A", "B", "C", "D"} {
		s.Add("sess", models.NewCityLocation(c, "X"))
	}
	got := cities(s.List("sess"))
	want := []string{"D", "C", "B"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("List() = %v, want %v", got, want)
	}
}

func TestStore_DuplicateMovesToFront(t *testing.T) {
	s := newTestStore(t, 10, 10)
	s.Add("sess", models.NewCityLocation("Seattle", "USA"))
	s.Add("sess", models.NewCityLocation("London", "UK"))
	s.Add("sess", models.NewCityLocation("seattle", "usa"))

	list := s.List("sess")
	if got := cities(list); fmt.Sprint(got) != "[seattle London]" {
		t.Errorf("List() = %v, want [seattle London]", got)
	}
	if !list[0].SearchedAt.After(list[1].SearchedAt) {
		t.Error("front entry should carry the newest timestamp")
	}
}

func TestStore_CoordinatesDeduplicated(t *testing.T) {
	s := newTestStore(t, 10, 10)
	s.Add("sess", models.NewCoordinateLocation(47.60621, -122.33207))
	s.Add("sess", models.NewCoordinateLocation(47.60619, -122.33211).WithPlace("Seattle", "USA"))
	if n := len(s.List("sess")); n != 1 {
		t.Errorf("len(List()) = %d, want 1", n)
	}
}

func TestStore_SessionsIsolatedAndClear(t *testing.T) {
	s := newTestStore(t, 10, 10)
	s.Add("a", models.NewCityLocation("Paris", "France"))
	s.Add("b", models.NewCityLocation("Rome", "Italy"))

	s.Clear("a")
	if got := s.List("a"); len(got) != 0 || got == nil {
		t.Errorf("List(a) after Clear = %v, want empty non-nil", got)
	}
	if got := cities(s.List("b")); fmt.Sprint(got) != "[Rome]" {
		t.Errorf("List(b) = %v, want [Rome]", got)
	}
}

func TestStore_EmptySessionIgnored(t *testing.T) {
	s := newTestStore(t, 10, 10)
	s.Add("", models.NewCityLocation("Paris", "France"))
	if s.Sessions() != 0 {
		t.Errorf("Sessions() = %d, want 0", s.Sessions())
	}
}

func TestStore_MaxSessions(t *testing.T) {
	s := newTestStore(t, 2, 10)
	s.Add("a", models.NewCityLocation("A", "X"))
	s.Add("b", models.NewCityLocation("B", "X"))
	s.Add("c", models.NewCityLocation("C", "X"))
	if s.Sessions() != 2 {
		t.Errorf("Sessions() = %d, want 2", s.Sessions())
	}
	if len(s.List("a")) != 0 {
		t.Error("oldest session should have been dropped")
	}
}

func TestStore_ListReturnsCopy(t *testing.T) {
	s := newTestStore(t, 10, 10)
	s.Add("sess", models.NewCityLocation("Oslo", "Norway"))
	list := s.List("sess")
	list[0].Location.City = "mutated"
	if s.List("sess")[0].Location.City != "Oslo" {
		t.Error("List() must not expose internal state")
	}
}
