package detect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocation(t *testing.T) {
	want := []string{"front bumper", "rear left door", "right fender", "roof", "left mirror", "unknown"}
	for n := 0; n < 24; n++ {
		require.Equal(t, want[n%6], Location(n))
	}
	require.Equal(t, "right fender", Location(10000))
}

func TestMessage(t *testing.T) {
	require.Contains(t, strings.ToLower(Message("Scratch")), "scratch")
	require.Contains(t, Message("Dent"), "impact")
	require.Contains(t, Message("Dent"), "Deformation")
	require.Equal(t, "No obvious visual damage detected in the provided image.", Message("None"))

	for _, label := range []string{"crack", "scratch", "", "glass shatter"} {
		require.Equal(t, "Detection completed.", Message(label))
	}
}

func TestCompose(t *testing.T) {
	resp := Compose(Classification{Index: 1, Label: "Dent", Confidence: 0.8123}, "roof")
	require.Equal(t, Response{
		DamageType: "Dent",
		Location:   "roof",
		Confidence: 0.8123,
		Message:    "Deformation detected likely caused by an impact.",
	}, resp)
}
