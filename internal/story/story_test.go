package story

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilterMatchesNameOrDescriptionCaseInsensitive(t *testing.T) {
	stories := []Story{
		{ID: "1", Name: "Budi", Description: "Sunset at Kuta"},
		{ID: "2", Name: "Sari", Description: "morning coffee"},
		{ID: "3", Name: "Kutani", Description: "rain"},
	}
	got := Filter(stories, "  KUTA ")
	require.Len(t, got, 2)
	require.Equal(t, "1", got[0].ID)
	require.Equal(t, "3", got[1].ID)
	require.Len(t, Filter(stories, ""), 3)
}

func TestCloneDoesNotShareCoordinates(t *testing.T) {
	lat, lon := -6.2, 106.8
	s := Story{ID: "1", Lat: &lat, Lon: &lon}
	c := s.Clone()
	*c.Lat = 0
	require.Equal(t, -6.2, *s.Lat)
	require.True(t, c.HasLocation())
	require.False(t, Story{ID: "2", Lat: &lat}.HasLocation())
}

func TestValidateRequiresID(t *testing.T) {
	require.ErrorIs(t, Story{Name: "x"}.Validate(), ErrInvalidEntity)
	require.NoError(t, Story{ID: "a"}.Validate())
}

func TestRejectedErrorClassification(t *testing.T) {
	err := fmt.Errorf("post story: %w", &RejectedError{StatusCode: 401, Message: "Missing authentication"})
	require.ErrorIs(t, err, ErrRejected)
	require.ErrorIs(t, err, ErrUnauthenticated)
	require.False(t, errors.Is(err, ErrUnreachable))
	require.Equal(t, "Missing authentication", Message(err))

	bad := &RejectedError{StatusCode: 400, Message: "\"photo\" is required"}
	require.False(t, errors.Is(bad, ErrUnauthenticated))
	require.Equal(t, "\"photo\" is required", Message(bad))
}

func TestUnreachableErrorUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := &UnreachableError{Op: "list stories", Err: cause}
	require.ErrorIs(t, err, ErrUnreachable)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "list stories")
}
