package subscriber

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicFromSubject(t *testing.T) {
	subject := "hfp.v2.journey.ongoing.vp.tram.0040.00416.1006.1.Arabia.19:25.1230109.3.60;24.19.73.64"
	want := "/hfp/v2/journey/ongoing/vp/tram/0040/00416/1006/1/Arabia/19:25/1230109/3/60;24/19/73/64"

	assert.Equal(t, want, TopicFromSubject(subject))
}
